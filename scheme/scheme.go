// Package scheme implements the document serializers CATS negotiates at
// connection setup (for the Statement exchange and for the "scheme"
// codec's payloads): JSON, YAML and MsgPack, selected by name during the
// ClientStatement exchange.
/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package scheme

import "github.com/cifrazia/cats-go/catserr"

// Scheme serializes/deserializes arbitrary JSON-like documents: nil, bool,
// numbers, strings, slices and maps.
type Scheme interface {
	TypeID() uint8
	TypeName() string
	Loads(buf []byte) (any, error)
	Dumps(data any) ([]byte, error)
}

var registry = map[string]Scheme{}

func register(s Scheme) { registry[s.TypeName()] = s }

// Find resolves a scheme by its negotiated wire name ("json", "yaml",
// "msgpack"); the second return is false for an unknown name.
func Find(name string) (Scheme, bool) {
	s, ok := registry[name]
	return s, ok
}

// FindStrict is Find but returns a MalformedData-kinded error on a miss,
// for callers that must fail the statement exchange rather than fall
// back.
func FindStrict(name string) (Scheme, error) {
	s, ok := registry[name]
	if !ok {
		return nil, catserr.Newf(catserr.KindMalformedData, "unknown scheme %q", name)
	}
	return s, nil
}

func init() {
	register(jsonScheme{})
	register(yamlScheme{})
	register(msgpackScheme{})
}
