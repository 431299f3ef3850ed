/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package compress

import "github.com/cifrazia/cats-go/headers"

// dummyCompressor is the identity transform used for small payloads and
// whenever no compressor is proposed.
type dummyCompressor struct{}

func (dummyCompressor) TypeID() uint8    { return 0 }
func (dummyCompressor) TypeName() string { return "dummy" }

func (dummyCompressor) Compress(data []byte, _ headers.Headers) ([]byte, error) {
	return data, nil
}

func (dummyCompressor) Decompress(data []byte, _ headers.Headers) ([]byte, error) {
	return data, nil
}
