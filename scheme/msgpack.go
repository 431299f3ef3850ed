/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package scheme

import (
	"github.com/hashicorp/go-msgpack/codec"

	"github.com/cifrazia/cats-go/catserr"
)

var mpHandle = &codec.MsgpackHandle{}

type msgpackScheme struct{}

func (msgpackScheme) TypeID() uint8    { return 0 }
func (msgpackScheme) TypeName() string { return "msgpack" }

func (msgpackScheme) Loads(buf []byte) (any, error) {
	var data any
	dec := codec.NewDecoderBytes(buf, mpHandle)
	if err := dec.Decode(&data); err != nil {
		return nil, catserr.Wrap(catserr.KindMalformedData, err, "failed to parse MsgPack")
	}
	return data, nil
}

func (msgpackScheme) Dumps(data any) ([]byte, error) {
	var buf []byte
	enc := codec.NewEncoderBytes(&buf, mpHandle)
	if err := enc.Encode(data); err != nil {
		return nil, catserr.Wrap(catserr.KindMalformedData, err, "failed to dump MsgPack")
	}
	return buf, nil
}
