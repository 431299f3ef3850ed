/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package transport

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"context"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/codec"
	"github.com/cifrazia/cats-go/headers"
)

// StreamProducer is anything a stream send can pull re-chunked bytes from:
// the common case is an *os.File or any io.Reader wrapping one, but a
// network pipe or generator-backed reader works the same way.
type StreamProducer = io.Reader

// SendStream writes a Stream action, re-chunking data's output into
// cfg.StreamChunkSize pieces and compressing each chunk independently.
// The stream head carries no data_len -- a headers_len-prefixed block is
// followed by length-prefixed chunks, terminated by a zero-length chunk.
// Unlike Request/Respond, headers are fixed at stream-open time: they are
// written before any chunk is compressed, so the Adler32 value zlib sets
// per chunk never reaches the peer and stream chunks are checked only
// against zlib's length prefix.
func (c *Conn) SendStream(ctx context.Context, handlerID, messageID uint16, data StreamProducer, dataType uint8, h headers.Headers, forceCompressor *uint8) error {
	if h == nil {
		h = headers.Headers{}
	}

	comp := resolveCompressor(forceCompressor, 0, c.cfg.DefaultCompressor)
	headerBytes := headers.Encode(h)

	// The Offset/Skip header instructs this sender to drop the initial N
	// bytes of the producer's output before chunking.
	skip := h.Offset()
	if skip == 0 {
		skip = h.Skip()
	}
	if skip > 0 {
		if _, err := io.CopyN(io.Discard, data, int64(skip)); err != nil && err != io.EOF {
			return catserr.Wrap(catserr.KindCodecError, err, "failed to skip stream prefix")
		}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	head := make([]byte, 1+14)
	head[0] = byte(ActionStream)
	binary.BigEndian.PutUint16(head[1:3], handlerID)
	binary.BigEndian.PutUint16(head[3:5], messageID)
	binary.BigEndian.PutUint64(head[5:13], uint64(nowMillis()))
	head[13] = dataType
	head[14] = comp.TypeID()
	if err := c.rawWrite(ctx, head); err != nil {
		return err
	}

	hlBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(hlBuf, uint32(len(headerBytes)))
	if err := c.rawWrite(ctx, hlBuf); err != nil {
		return err
	}
	if err := c.rawWrite(ctx, headerBytes); err != nil {
		return err
	}

	chunkSize := c.cfg.StreamChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultStreamChunkSize
	}
	raw := make([]byte, chunkSize)
	for {
		n, rerr := io.ReadFull(data, raw)
		if n > 0 {
			plain := raw[:n]
			compressed, cerr := comp.Compress(plain, h)
			if cerr != nil {
				return cerr
			}
			if err := c.rate.Wait(ctx, len(compressed)); err != nil {
				return err
			}
			lenBuf := make([]byte, 4)
			binary.BigEndian.PutUint32(lenBuf, uint32(len(compressed)))
			if err := c.rawWrite(ctx, lenBuf); err != nil {
				return err
			}
			if err := c.rawWrite(ctx, compressed); err != nil {
				return err
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			break
		}
		if rerr != nil {
			return catserr.Wrap(catserr.KindCodecError, rerr, "failed to read stream producer")
		}
	}

	terminator := make([]byte, 4)
	return c.rawWrite(ctx, terminator)
}

// SendStreamValue is SendStream's convenience wrapper for an already
// in-memory or codec-encodable value: it runs the value through
// codec.EncodeAny, then re-chunks whatever codec.EncodeAny returned
// ([]byte or a file path) into a StreamProducer.
func (c *Conn) SendStreamValue(ctx context.Context, handlerID, messageID uint16, value any, h headers.Headers, forceCompressor *uint8) error {
	if h == nil {
		h = headers.Headers{}
	}
	encoded, codecID, err := codec.EncodeAny(value, h, codec.Options{Scheme: c.cfg.Scheme})
	if err != nil {
		return err
	}
	reader, closer, err := streamReaderFor(encoded)
	if err != nil {
		return err
	}
	if closer != nil {
		defer closer.Close()
	}
	return c.SendStream(ctx, handlerID, messageID, reader, codecID, h, forceCompressor)
}

func streamReaderFor(encoded any) (io.Reader, io.Closer, error) {
	switch v := encoded.(type) {
	case []byte:
		return bytes.NewReader(v), nil, nil
	case string:
		f, err := os.Open(v)
		if err != nil {
			return nil, nil, catserr.Wrap(catserr.KindCodecError, err, "failed to open payload file for streaming")
		}
		return f, f, nil
	default:
		return nil, nil, catserr.Newf(catserr.KindCodecError, "unsupported encoded payload representation %T", encoded)
	}
}
