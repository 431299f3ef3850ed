// Package codec implements the CATS payload codec registry: bytes (raw),
// scheme (structured documents) and files (file bundles), selected by an
// 8-bit id per action.
/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package codec

import (
	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/headers"
)

// Options carries the negotiated per-connection state a codec may need
// (the document scheme for the scheme codec); kept separate from
// transport.Conn to avoid a dependency cycle between codec and transport.
type Options struct {
	Scheme SchemeCoder
}

// SchemeCoder is the minimal surface codec.SchemeCodec needs from a
// scheme.Scheme, so this package does not import package scheme directly
// (scheme is a leaf the connection negotiates and hands down as Options).
type SchemeCoder interface {
	Loads(buf []byte) (any, error)
	Dumps(data any) ([]byte, error)
}

// Form is the single validation-back-end contract the core calls: a model
// instance that knows how to load itself from a decoded document and dump
// itself back to one. The scheme codec dumps Form values through this
// interface before serializing; handlers load inbound documents into their
// own Form types.
type Form interface {
	Load(data any) error
	Dump() (any, error)
}

// Codec encodes/decodes a payload value, possibly mutating headers
// (files sets headers["Files"]); encode may return either an in-memory
// []byte or a file path (string) for large/file payloads.
type Codec interface {
	TypeID() uint8
	TypeName() string
	Encode(data any, h headers.Headers, opts Options) (any, error)
	Decode(buf any, h headers.Headers, opts Options) (any, error)
}

// Registered codec ids.
const (
	Bytes   uint8 = 0
	Scheme  uint8 = 1
	FilesID uint8 = 2
)

var registryOrder = []uint8{Bytes, Scheme, FilesID}
var registry = map[uint8]Codec{}

func register(c Codec) { registry[c.TypeID()] = c }

func init() {
	register(bytesCodec{})
	register(schemeCodec{})
	register(NewFileCodec())
}

// Find resolves a codec by id.
func Find(id uint8) (Codec, bool) {
	c, ok := registry[id]
	return c, ok
}

// Name returns the codec's wire name, or "unknown" if id is unregistered.
func Name(id uint8) string {
	if c, ok := registry[id]; ok {
		return c.TypeName()
	}
	return "unknown"
}

// EncodeAny tries each registered codec in registration order and returns
// the first that accepts data.
func EncodeAny(data any, h headers.Headers, opts Options) (any, uint8, error) {
	for _, id := range registryOrder {
		c := registry[id]
		encoded, err := c.Encode(data, h, opts)
		if err == nil {
			return encoded, id, nil
		}
		if !catserr.Is(err, catserr.KindInvalidCodec) {
			return nil, 0, err
		}
	}
	return nil, 0, catserr.Newf(catserr.KindCodecError, "no codec accepted data of type %T", data)
}

// Decode decodes buf with the codec named by id.
func Decode(id uint8, buf any, h headers.Headers, opts Options) (any, error) {
	c, ok := registry[id]
	if !ok {
		return nil, catserr.Newf(catserr.KindInvalidCodec, "codec with id %d not found", id)
	}
	return c.Decode(buf, h, opts)
}
