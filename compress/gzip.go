/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package compress

import (
	"bytes"
	"compress/gzip"
	"io"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/headers"
)

// gzipCompressor is standard gzip at level 6.
type gzipCompressor struct{}

func (gzipCompressor) TypeID() uint8    { return 1 }
func (gzipCompressor) TypeName() string { return "gzip" }

func (gzipCompressor) Compress(data []byte, _ headers.Headers) ([]byte, error) {
	var buf bytes.Buffer
	w, err := gzip.NewWriterLevel(&buf, 6)
	if err != nil {
		return nil, catserr.Wrap(catserr.KindCompressorError, err, "failed to init gzip writer")
	}
	if _, err := w.Write(data); err != nil {
		return nil, catserr.Wrap(catserr.KindCompressorError, err, "failed to gzip compress")
	}
	if err := w.Close(); err != nil {
		return nil, catserr.Wrap(catserr.KindCompressorError, err, "failed to flush gzip writer")
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decompress(data []byte, _ headers.Headers) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, catserr.Wrap(catserr.KindCompressorError, err, "failed to decompress data as gzip")
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, catserr.Wrap(catserr.KindCompressorError, err, "failed to decompress data as gzip")
	}
	return out, nil
}
