/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package codec

import (
	"reflect"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/headers"
)

// isDocument reports whether v is one of the document shapes the scheme
// accepts: null, bool, numeric, string, list or mapping. Raw bytes belong
// to the bytes codec. Every string, slice and map counts as a document,
// file paths and collections of *FileInfo included; of the files codec's
// inputs only a bare *FileInfo is rejected here.
func isDocument(v any) bool {
	if v == nil {
		return true
	}
	switch v.(type) {
	case []byte:
		return false
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	}
	switch reflect.TypeOf(v).Kind() {
	case reflect.Slice, reflect.Array, reflect.Map:
		return true
	default:
		return false
	}
}

// schemeCodec dumps/loads structured documents (nil, bool, numeric,
// string, slice, map) through the connection's negotiated scheme. It
// rejects raw []byte -- that belongs to the bytes codec.
type schemeCodec struct{}

func (schemeCodec) TypeID() uint8    { return Scheme }
func (schemeCodec) TypeName() string { return "scheme" }

func (schemeCodec) Encode(data any, _ headers.Headers, opts Options) (any, error) {
	if form, ok := data.(Form); ok {
		dumped, err := form.Dump()
		if err != nil {
			return nil, catserr.Wrap(catserr.KindMalformedData, err, "form dump failed")
		}
		data = dumped
	}
	if !isDocument(data) {
		return nil, catserr.Newf(catserr.KindInvalidCodec, "scheme codec cannot encode %T", data)
	}
	if opts.Scheme == nil {
		return nil, catserr.New(catserr.KindCodecError, "no scheme negotiated for this connection")
	}
	buf, err := opts.Scheme.Dumps(data)
	if err != nil {
		return nil, catserr.Wrap(catserr.KindCodecError, err, "failed to encode scheme payload")
	}
	return buf, nil
}

func (schemeCodec) Decode(buf any, _ headers.Headers, opts Options) (any, error) {
	b, ok := buf.([]byte)
	if !ok {
		return nil, catserr.Newf(catserr.KindInvalidCodec, "scheme codec cannot decode %T", buf)
	}
	if len(b) == 0 {
		return map[string]any{}, nil
	}
	if opts.Scheme == nil {
		return nil, catserr.New(catserr.KindCodecError, "no scheme negotiated for this connection")
	}
	data, err := opts.Scheme.Loads(b)
	if err != nil {
		return nil, catserr.Wrap(catserr.KindCodecError, err, "failed to decode scheme payload")
	}
	return data, nil
}
