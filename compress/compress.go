// Package compress implements the CATS compressor registry: dummy, gzip
// and zlib (with an Adler32 + length header contract), selected by an
// 8-bit id per action and negotiated at connection setup.
/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package compress

import (
	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/headers"
)

// proposeThreshold is the payload-size cutoff below which dummy (identity)
// is always used regardless of the negotiated default.
const proposeThreshold = 4096

// Compressor transforms payload bytes, optionally annotating headers
// (zlib sets Adler32 on compress and verifies it on decompress).
type Compressor interface {
	TypeID() uint8
	TypeName() string
	Compress(data []byte, h headers.Headers) ([]byte, error)
	Decompress(data []byte, h headers.Headers) ([]byte, error)
}

var registry = map[uint8]Compressor{}
var byName = map[string]Compressor{}

func register(c Compressor) {
	registry[c.TypeID()] = c
	byName[c.TypeName()] = c
}

func init() {
	register(dummyCompressor{})
	register(gzipCompressor{})
	register(zlibCompressor{})
}

// Find resolves a compressor by id.
func Find(id uint8) (Compressor, bool) {
	c, ok := registry[id]
	return c, ok
}

// FindByName resolves a compressor by its negotiated wire name.
func FindByName(name string) (Compressor, bool) {
	c, ok := byName[name]
	return c, ok
}

// Propose picks the compressor for a payload of the given length, given
// the connection's negotiated default: length <= 4096 always gets dummy;
// larger payloads get the default (typically zlib). def may be nil, in
// which case large payloads also fall back to dummy.
func Propose(length int, def Compressor) Compressor {
	if length <= proposeThreshold || def == nil {
		return registry[0]
	}
	return def
}

// CompressAny proposes a compressor for data and applies it, returning the
// transformed bytes and the chosen type id.
func CompressAny(data []byte, h headers.Headers, def Compressor) ([]byte, uint8, error) {
	c := Propose(len(data), def)
	out, err := c.Compress(data, h)
	if err != nil {
		return nil, 0, err
	}
	return out, c.TypeID(), nil
}

// DecompressByID decompresses data with the compressor named by id,
// failing with ErrInvalidCompressor if id is unregistered.
func DecompressByID(id uint8, data []byte, h headers.Headers) ([]byte, error) {
	c, ok := registry[id]
	if !ok {
		return nil, catserr.Newf(catserr.KindInvalidCompressor, "unknown compressor id %d", id)
	}
	return c.Decompress(data, h)
}
