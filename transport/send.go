/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package transport

import (
	"encoding/binary"
	"io"
	"os"

	"context"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/codec"
	"github.com/cifrazia/cats-go/compress"
	"github.com/cifrazia/cats-go/headers"
)

const maxWriteChunk = 1 << 24 // 16 MiB, matches codec/files.go's copy chunk size

func (c *Conn) encodePayload(data any, h headers.Headers, forceCodec *uint8) (any, uint8, error) {
	opts := codec.Options{Scheme: c.cfg.Scheme}
	if forceCodec != nil {
		cd, ok := codec.Find(*forceCodec)
		if !ok {
			return nil, 0, catserr.Newf(catserr.KindInvalidCodec, "unknown codec id %d", *forceCodec)
		}
		encoded, err := cd.Encode(data, h, opts)
		return encoded, *forceCodec, err
	}
	return codec.EncodeAny(data, h, opts)
}

// compressPayload skips the first skip bytes of the encoded payload, then
// compresses, returning either in-memory bytes or -- for an
// identity-compressed file-backed payload -- the untouched file path, so
// large file sends never require a full in-memory copy. The skip value
// comes from the peer's request headers on the response path (Respond); a
// request being sent carries its Offset/Skip headers untouched for the
// responder to honor.
func (c *Conn) compressPayload(encoded any, h headers.Headers, forceCompressor *uint8, skip int) (buf []byte, path string, compressorID uint8, err error) {
	switch v := encoded.(type) {
	case []byte:
		if skip > 0 {
			if skip >= len(v) {
				v = v[:0]
			} else {
				v = v[skip:]
			}
		}
		comp := resolveCompressor(forceCompressor, len(v), c.cfg.DefaultCompressor)
		out, err := comp.Compress(v, h)
		return out, "", comp.TypeID(), err
	case string:
		st, statErr := os.Stat(v)
		if statErr != nil {
			return nil, "", 0, catserr.Wrap(catserr.KindCodecError, statErr, "failed to stat payload file")
		}
		comp := resolveCompressor(forceCompressor, int(st.Size()), c.cfg.DefaultCompressor)
		if comp.TypeName() == "dummy" && skip == 0 {
			return nil, v, comp.TypeID(), nil
		}
		raw, rerr := os.ReadFile(v)
		if rerr != nil {
			return nil, "", 0, catserr.Wrap(catserr.KindCodecError, rerr, "failed to read payload file")
		}
		if skip > 0 {
			if skip >= len(raw) {
				raw = raw[:0]
			} else {
				raw = raw[skip:]
			}
		}
		out, cerr := comp.Compress(raw, h)
		return out, "", comp.TypeID(), cerr
	default:
		return nil, "", 0, catserr.Newf(catserr.KindCodecError, "unsupported encoded payload representation %T", encoded)
	}
}

func resolveCompressor(forced *uint8, length int, def compress.Compressor) compress.Compressor {
	if forced != nil {
		if comp, ok := compress.Find(*forced); ok {
			return comp
		}
	}
	return compress.Propose(length, def)
}

func payloadLen(buf []byte, path string) int64 {
	if path != "" {
		if st, err := os.Stat(path); err == nil {
			return st.Size()
		}
		return 0
	}
	return int64(len(buf))
}

func (c *Conn) writePayloadBody(ctx context.Context, buf []byte, path string) error {
	if path == "" {
		if err := c.rate.Wait(ctx, len(buf)); err != nil {
			return err
		}
		return c.rawWrite(ctx, buf)
	}
	f, err := os.Open(path)
	if err != nil {
		return catserr.Wrap(catserr.KindCodecError, err, "failed to open payload file for send")
	}
	defer f.Close()
	chunk := make([]byte, maxWriteChunk)
	for {
		n, rerr := f.Read(chunk)
		if n > 0 {
			if err := c.rate.Wait(ctx, n); err != nil {
				return err
			}
			if err := c.rawWrite(ctx, chunk[:n]); err != nil {
				return err
			}
		}
		if rerr == io.EOF {
			return nil
		}
		if rerr != nil {
			return catserr.Wrap(catserr.KindCodecError, rerr, "failed to read payload file for send")
		}
	}
}

// sendRequestFrame is the send path for the Request/Response action:
// encode -> compress -> acquire write lock -> emit type, head,
// headers+sentinel, body.
func (c *Conn) sendRequestFrame(ctx context.Context, handlerID, messageID uint16, sendTime int64, data any, h headers.Headers, forceCodec, forceCompressor *uint8, skip int) error {
	if h == nil {
		h = headers.Headers{}
	}
	encoded, codecID, err := c.encodePayload(data, h, forceCodec)
	if err != nil {
		return err
	}
	buf, path, compressorID, err := c.compressPayload(encoded, h, forceCompressor, skip)
	if err != nil {
		return err
	}

	headerBytes := headers.Encode(h)
	dataLen := int64(len(headerBytes)) + 2 + payloadLen(buf, path)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	head := make([]byte, 1+18+len(headerBytes)+2)
	head[0] = byte(ActionRequest)
	binary.BigEndian.PutUint16(head[1:3], handlerID)
	binary.BigEndian.PutUint16(head[3:5], messageID)
	binary.BigEndian.PutUint64(head[5:13], uint64(sendTime))
	head[13] = codecID
	head[14] = compressorID
	binary.BigEndian.PutUint32(head[15:19], uint32(dataLen))
	copy(head[19:], headerBytes)
	head[19+len(headerBytes)] = 0
	head[19+len(headerBytes)+1] = 0

	if err := c.rawWrite(ctx, head); err != nil {
		return err
	}
	return c.writePayloadBody(ctx, buf, path)
}

// sendInputFrame is sendRequestFrame's twin for the InputAction variant,
// whose head omits handler_id.
func (c *Conn) sendInputFrame(ctx context.Context, messageID uint16, data any, h headers.Headers) error {
	if h == nil {
		h = headers.Headers{}
	}
	encoded, codecID, err := c.encodePayload(data, h, nil)
	if err != nil {
		return err
	}
	buf, path, compressorID, err := c.compressPayload(encoded, h, nil, 0)
	if err != nil {
		return err
	}

	headerBytes := headers.Encode(h)
	dataLen := int64(len(headerBytes)) + 2 + payloadLen(buf, path)

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	head := make([]byte, 1+8+len(headerBytes)+2)
	head[0] = byte(ActionInput)
	binary.BigEndian.PutUint16(head[1:3], messageID)
	head[3] = codecID
	head[4] = compressorID
	binary.BigEndian.PutUint32(head[5:9], uint32(dataLen))
	copy(head[9:], headerBytes)
	head[9+len(headerBytes)] = 0
	head[9+len(headerBytes)+1] = 0

	if err := c.rawWrite(ctx, head); err != nil {
		return err
	}
	return c.writePayloadBody(ctx, buf, path)
}

func (c *Conn) sendCancelInput(ctx context.Context, messageID uint16) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	buf := make([]byte, 3)
	buf[0] = byte(ActionCancelInput)
	binary.BigEndian.PutUint16(buf[1:], messageID)
	return c.rawWrite(ctx, buf)
}

// SendDownloadSpeed tells the peer to cap its outbound pacing to speed
// bytes/sec (0 disables pacing).
func (c *Conn) SendDownloadSpeed(ctx context.Context, speed uint32) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	buf := make([]byte, 5)
	buf[0] = byte(ActionDownloadSpeed)
	binary.BigEndian.PutUint32(buf[1:], speed)
	return c.rawWrite(ctx, buf)
}
