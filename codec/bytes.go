/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package codec

import (
	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/headers"
)

// bytesCodec passes []byte through unchanged; it rejects anything else.
type bytesCodec struct{}

func (bytesCodec) TypeID() uint8    { return Bytes }
func (bytesCodec) TypeName() string { return "bytes" }

func (bytesCodec) Encode(data any, _ headers.Headers, _ Options) (any, error) {
	switch b := data.(type) {
	case []byte:
		return b, nil
	default:
		return nil, catserr.Newf(catserr.KindInvalidCodec, "bytes codec cannot encode %T", data)
	}
}

func (bytesCodec) Decode(buf any, _ headers.Headers, _ Options) (any, error) {
	b, ok := buf.([]byte)
	if !ok {
		return nil, catserr.Newf(catserr.KindInvalidCodec, "bytes codec cannot decode %T", buf)
	}
	return b, nil
}
