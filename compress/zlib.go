/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package compress

import (
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"hash/adler32"
	"io"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/headers"
)

// zlibCompressor is zlib level 6 with a 4-byte big-endian original-length
// prefix; compression sets headers["Adler32"], decompression verifies
// both the length and the checksum.
type zlibCompressor struct{}

func (zlibCompressor) TypeID() uint8    { return 2 }
func (zlibCompressor) TypeName() string { return "zlib" }

func (zlibCompressor) Compress(data []byte, h headers.Headers) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, 6)
	if err != nil {
		return nil, catserr.Wrap(catserr.KindCompressorError, err, "failed to init zlib writer")
	}
	if _, err := w.Write(data); err != nil {
		return nil, catserr.Wrap(catserr.KindCompressorError, err, "failed to zlib compress")
	}
	if err := w.Close(); err != nil {
		return nil, catserr.Wrap(catserr.KindCompressorError, err, "failed to flush zlib writer")
	}

	h.Set(headers.Adler32, int64(adler32.Checksum(data)))

	out := make([]byte, 4+buf.Len())
	binary.BigEndian.PutUint32(out[:4], uint32(len(data)))
	copy(out[4:], buf.Bytes())
	return out, nil
}

func (zlibCompressor) Decompress(data []byte, h headers.Headers) ([]byte, error) {
	if len(data) < 4 {
		return nil, catserr.New(catserr.KindCompressorError, "zlib payload shorter than length prefix")
	}
	wantLen := binary.BigEndian.Uint32(data[:4])

	r, err := zlib.NewReader(bytes.NewReader(data[4:]))
	if err != nil {
		return nil, catserr.Wrap(catserr.KindCompressorError, err, "failed to decompress data as zlib")
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, catserr.Wrap(catserr.KindCompressorError, err, "failed to decompress data as zlib")
	}

	if uint32(len(out)) != wantLen {
		return nil, catserr.New(catserr.KindCompressorError, "broken data received: length mismatch")
	}

	if v, ok := h.Get(headers.Adler32); ok {
		want := toUint32(v)
		if adler32.Checksum(out) != want {
			return nil, catserr.New(catserr.KindCompressorError, "broken data received: checksum mismatch")
		}
	}

	return out, nil
}

func toUint32(v any) uint32 {
	switch n := v.(type) {
	case int:
		return uint32(n)
	case int64:
		return uint32(n)
	case float64:
		return uint32(n)
	default:
		return 0
	}
}
