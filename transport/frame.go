/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"os"

	"golang.org/x/sync/semaphore"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/codec"
	"github.com/cifrazia/cats-go/compress"
	"github.com/cifrazia/cats-go/headers"
	"github.com/cifrazia/cats-go/internal/nlog"
	"github.com/cifrazia/cats-go/internal/tempfile"
)

// fileRecvSem bounds how many recv_data calls across the whole process may
// be spilling chunks to a temp file at once, so a burst of large concurrent
// file uploads can't exhaust file descriptors or disk I/O bandwidth.
var fileRecvSem = semaphore.NewWeighted(64)

var headerSentinel = [2]byte{0x00, 0x00}

// RecvLoop drives the read side of the connection: one tick per action.
// The read lock is held only while bytes are actually being consumed off
// the wire; once an action's payload is fully read, the
// lock is released and -- for Request/Stream/Input -- the rest of the
// pipeline (decompress, decode, dispatch) runs on its own goroutine so a
// handler that blocks (e.g. on Conn.Ask awaiting the peer) never stalls
// the read loop from picking up the next action, including the very
// InputAction reply that handler is waiting for.
func (c *Conn) RecvLoop(ctx context.Context) error {
	for {
		err := c.tick(ctx)
		if err == nil {
			select {
			case <-c.closeCh:
				c.mu.Lock()
				reason := c.closeErr
				c.mu.Unlock()
				return reason
			default:
				continue
			}
		}
		if !isFatal(err) {
			nlog.Warningf("transport: conn %s: recoverable tick error: %v", c.RemoteAddr(), err)
			continue
		}
		c.CloseWithError(err)
		return err
	}
}

func isFatal(err error) bool {
	if err == nil {
		return false
	}
	if kind, ok := catserr.KindOf(err); ok {
		return kind.Fatal()
	}
	return true // plain I/O errors (EOF, reset, deadline) are always fatal
}

func (c *Conn) tick(ctx context.Context) error {
	c.readMu.Lock()

	typeByte, err := c.rawRead(ctx, 1)
	if err != nil {
		c.readMu.Unlock()
		return err
	}
	t := ActionType(typeByte[0])
	c.Stats.AddAction(t)

	switch t {
	case ActionPing:
		sendTime, err := c.readPingBody(ctx)
		c.readMu.Unlock()
		if err != nil {
			return err
		}
		_ = sendTime
		return c.writePing(ctx, nowMillis())

	case ActionDownloadSpeed:
		err := c.readDownloadSpeedBody(ctx)
		c.readMu.Unlock()
		return err

	case ActionCancelInput:
		err := c.readCancelInputBody(ctx)
		c.readMu.Unlock()
		return err

	case ActionRequest:
		msg, payload, err := c.readRequestAction(ctx)
		c.readMu.Unlock()
		if err != nil {
			return err
		}
		go c.finishMessage(msg, payload)
		return nil

	case ActionInput:
		msg, payload, err := c.readInputActionBody(ctx)
		c.readMu.Unlock()
		if err != nil {
			return err
		}
		go c.finishMessage(msg, payload)
		return nil

	case ActionStream:
		msg, payload, err := c.readStreamAction(ctx)
		c.readMu.Unlock()
		if err != nil {
			return err
		}
		go c.finishStreamMessage(msg, payload)
		return nil

	default:
		c.readMu.Unlock()
		return catserr.Newf(catserr.KindProtocolViolation, "unknown action type %#02x", typeByte[0])
	}
}

func (c *Conn) readPingBody(ctx context.Context) (int64, error) {
	buf, err := c.rawRead(ctx, 8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf)), nil
}

func (c *Conn) writePing(ctx context.Context, sendTime int64) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	buf := make([]byte, 9)
	buf[0] = byte(ActionPing)
	binary.BigEndian.PutUint64(buf[1:], uint64(sendTime))
	return c.rawWrite(ctx, buf)
}

func (c *Conn) readDownloadSpeedBody(ctx context.Context) error {
	buf, err := c.rawRead(ctx, 4)
	if err != nil {
		return err
	}
	v := int64(binary.BigEndian.Uint32(buf))
	if v != 0 && (v < 1024 || v > 33_554_432) {
		return catserr.Newf(catserr.KindProtocolViolation, "unsupported download speed %d", v)
	}
	c.SetDownloadSpeed(v)
	return nil
}

func (c *Conn) readCancelInputBody(ctx context.Context) error {
	buf, err := c.rawRead(ctx, 2)
	if err != nil {
		return err
	}
	id := binary.BigEndian.Uint16(buf)
	c.pendingInputMu.Lock()
	p, ok := c.pendingInput[id]
	if ok {
		delete(c.pendingInput, id)
	}
	c.pendingInputMu.Unlock()
	if !ok {
		return nil
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	c.ids.Release(id)
	p.ch <- nil // nil signals InputCancelled to Ask's waiter
	close(p.ch)
	return nil
}

// readHeadersUntilSentinel consumes bytes one at a time up to budget,
// looking for the 0x00 0x00 terminator, and returns the header payload
// (excluding the terminator) plus the total bytes consumed including it.
func (c *Conn) readHeadersUntilSentinel(ctx context.Context, budget int64) ([]byte, int64, error) {
	var buf bytes.Buffer
	var consumed int64
	var last [2]byte
	for consumed < budget {
		b, err := c.rawRead(ctx, 1)
		if err != nil {
			return nil, 0, err
		}
		consumed++
		last[0], last[1] = last[1], b[0]
		if last == headerSentinel {
			out := buf.Bytes()
			if len(out) >= 1 {
				out = out[:len(out)-1] // drop the first sentinel byte, appended before we knew it was one
			}
			return out, consumed, nil
		}
		buf.WriteByte(b[0])
	}
	return nil, 0, catserr.New(catserr.KindProtocolViolation, "headers terminator not found within data_len budget")
}

// recvPayload reads length bytes in <=16 MiB chunks, buffering in memory
// unless dataType is the files codec, in which case it always streams to a
// fresh temp file regardless of size.
func (c *Conn) recvPayload(ctx context.Context, length int64, dataType uint8) (any, error) {
	if dataType == codec.FilesID {
		if err := fileRecvSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		defer fileRecvSem.Release(1)

		path, err := tempfile.Make()
		if err != nil {
			return nil, catserr.Wrap(catserr.KindCodecError, err, "failed to allocate payload temp file")
		}
		f, err := os.OpenFile(path, os.O_WRONLY, 0o600)
		if err != nil {
			return nil, catserr.Wrap(catserr.KindCodecError, err, "failed to open payload temp file")
		}
		defer f.Close()
		remaining := length
		for remaining > 0 {
			n := remaining
			if n > MaxReadChunk {
				n = MaxReadChunk
			}
			chunk, err := c.rawRead(ctx, int(n))
			if err != nil {
				return nil, err
			}
			if _, err := f.Write(chunk); err != nil {
				return nil, catserr.Wrap(catserr.KindCodecError, err, "failed to write payload temp file")
			}
			remaining -= n
		}
		return path, nil
	}

	buf := make([]byte, 0, length)
	remaining := length
	for remaining > 0 {
		n := remaining
		if n > MaxReadChunk {
			n = MaxReadChunk
		}
		chunk, err := c.rawRead(ctx, int(n))
		if err != nil {
			return nil, err
		}
		buf = append(buf, chunk...)
		remaining -= n
	}
	return buf, nil
}

// decompressPayload applies the negotiated compressor to an in-memory
// buffer, or -- for a file-backed payload -- to the whole file contents
// unless the compressor is the identity (dummy), in which case the path is
// returned unchanged without ever reading the file. A compressed
// file-backed payload is therefore bounded by available memory.
func (c *Conn) decompressPayload(payload any, compressorID uint8, h headers.Headers) (any, error) {
	comp, ok := compress.Find(compressorID)
	if !ok {
		return nil, catserr.Newf(catserr.KindInvalidCompressor, "unknown compressor id %d", compressorID)
	}
	switch p := payload.(type) {
	case []byte:
		return comp.Decompress(p, h)
	case string:
		if comp.TypeName() == "dummy" {
			return p, nil
		}
		raw, err := os.ReadFile(p)
		if err != nil {
			return nil, catserr.Wrap(catserr.KindCompressorError, err, "failed to read payload temp file")
		}
		out, err := comp.Decompress(raw, h)
		if err != nil {
			return nil, err
		}
		newPath, err := tempfile.Make()
		if err != nil {
			return nil, catserr.Wrap(catserr.KindCodecError, err, "failed to allocate decompressed temp file")
		}
		if err := os.WriteFile(newPath, out, 0o600); err != nil {
			return nil, catserr.Wrap(catserr.KindCodecError, err, "failed to write decompressed temp file")
		}
		_ = os.Remove(p)
		return newPath, nil
	default:
		return nil, catserr.Newf(catserr.KindCodecError, "unsupported payload representation %T", payload)
	}
}

// finishMessage decompresses+decodes the raw payload and delivers it: to
// a pending recv future, to a pending input, or to the Dispatcher.
// Codec/compressor failures are recoverable --
// they're attached to the Message as Err rather than closing the
// connection. Runs off the read-loop goroutine (see RecvLoop).
func (c *Conn) finishMessage(msg *Message, rawPayload any) {
	decompressed, err := c.decompressPayload(rawPayload, msg.Compressor, msg.Headers)
	if err != nil {
		msg.Err = err
		c.deliver(msg)
		return
	}
	data, err := codec.Decode(msg.DataType, decompressed, msg.Headers, codec.Options{Scheme: c.cfg.Scheme})
	if err != nil {
		msg.Err = err
		c.deliver(msg)
		return
	}
	msg.Data = data
	c.deliver(msg)
}

// finishStreamMessage is finishMessage's twin for streams: chunks were
// already decompressed individually while being read (compression applies
// per-chunk in streams), so only the final codec decode remains.
func (c *Conn) finishStreamMessage(msg *Message, aggregated any) {
	data, err := codec.Decode(msg.DataType, aggregated, msg.Headers, codec.Options{Scheme: c.cfg.Scheme})
	if err != nil {
		msg.Err = err
	} else {
		msg.Data = data
	}
	c.deliver(msg)
}

func (c *Conn) deliver(msg *Message) {
	msg.conn = c

	if msg.Type != ActionInput {
		c.pendingRecvMu.Lock()
		ch, ok := c.pendingRecv[msg.MessageID]
		if ok {
			delete(c.pendingRecv, msg.MessageID)
		}
		c.pendingRecvMu.Unlock()
		if ok {
			c.ids.Release(msg.MessageID)
			ch <- msg
			close(ch)
			return
		}
	} else {
		c.pendingInputMu.Lock()
		p, ok := c.pendingInput[msg.MessageID]
		if ok {
			delete(c.pendingInput, msg.MessageID)
		}
		c.pendingInputMu.Unlock()
		if ok {
			if p.timer != nil {
				p.timer.Stop()
			}
			c.ids.Release(msg.MessageID)
			p.ch <- msg
			close(p.ch)
			return
		}
	}

	if msg.Type == ActionRequest || msg.Type == ActionStream {
		if err := c.ids.PreserveExclusive(msg.MessageID); err != nil {
			nlog.Errorf("transport: conn %s: %v", c.RemoteAddr(), err)
			c.CloseWithError(err)
			return
		}
	}

	if c.Dispatcher != nil {
		c.Dispatcher.Dispatch(c, msg)
	} else {
		nlog.Warningf("transport: conn %s: dropped unsolicited %s message_id=%#04x (no dispatcher)", c.RemoteAddr(), msg.Type, msg.MessageID)
	}
}

func (c *Conn) readRequestAction(ctx context.Context) (*Message, any, error) {
	head, err := c.rawRead(ctx, 18)
	if err != nil {
		return nil, nil, err
	}
	handlerID := binary.BigEndian.Uint16(head[0:2])
	messageID := binary.BigEndian.Uint16(head[2:4])
	sendTime := int64(binary.BigEndian.Uint64(head[4:12]))
	dataType := head[12]
	compressor := head[13]
	dataLen := int64(binary.BigEndian.Uint32(head[14:18]))

	headerBytes, consumed, err := c.readHeadersUntilSentinel(ctx, dataLen)
	if err != nil {
		return nil, nil, err
	}
	payloadLen := dataLen - consumed
	if payloadLen < 0 {
		return nil, nil, catserr.New(catserr.KindProtocolViolation, "data_len shorter than headers block")
	}
	if payloadLen > c.cfg.MaxPlainPayload && dataType != codec.FilesID {
		return nil, nil, catserr.Newf(catserr.KindProtocolViolation, "payload length %d exceeds in-memory cap", payloadLen)
	}

	hdrs := headers.Decode(headerBytes)
	msg := &Message{
		Type: ActionRequest, MessageID: messageID, HandlerID: handlerID,
		SendTime: sendTime, DataType: dataType, Compressor: compressor, Headers: hdrs,
	}

	payload, err := c.recvPayload(ctx, payloadLen, dataType)
	if err != nil {
		return nil, nil, err // I/O failure mid-read is always fatal
	}
	return msg, payload, nil
}

func (c *Conn) readInputActionBody(ctx context.Context) (*Message, any, error) {
	head, err := c.rawRead(ctx, 8)
	if err != nil {
		return nil, nil, err
	}
	messageID := binary.BigEndian.Uint16(head[0:2])
	dataType := head[2]
	compressor := head[3]
	dataLen := int64(binary.BigEndian.Uint32(head[4:8]))

	headerBytes, consumed, err := c.readHeadersUntilSentinel(ctx, dataLen)
	if err != nil {
		return nil, nil, err
	}
	payloadLen := dataLen - consumed
	if payloadLen < 0 {
		return nil, nil, catserr.New(catserr.KindProtocolViolation, "data_len shorter than headers block")
	}
	if payloadLen > c.cfg.MaxPlainPayload && dataType != codec.FilesID {
		return nil, nil, catserr.Newf(catserr.KindProtocolViolation, "payload length %d exceeds in-memory cap", payloadLen)
	}

	hdrs := headers.Decode(headerBytes)
	msg := &Message{
		Type: ActionInput, MessageID: messageID,
		DataType: dataType, Compressor: compressor, Headers: hdrs,
	}

	payload, err := c.recvPayload(ctx, payloadLen, dataType)
	if err != nil {
		return nil, nil, err
	}
	return msg, payload, nil
}

func (c *Conn) readStreamAction(ctx context.Context) (*Message, any, error) {
	head, err := c.rawRead(ctx, 14)
	if err != nil {
		return nil, nil, err
	}
	handlerID := binary.BigEndian.Uint16(head[0:2])
	messageID := binary.BigEndian.Uint16(head[2:4])
	sendTime := int64(binary.BigEndian.Uint64(head[4:12]))
	dataType := head[12]
	compressor := head[13]

	hlBuf, err := c.rawRead(ctx, 4)
	if err != nil {
		return nil, nil, err
	}
	headersLen := binary.BigEndian.Uint32(hlBuf)
	headerBytes, err := c.rawRead(ctx, int(headersLen))
	if err != nil {
		return nil, nil, err
	}
	hdrs := headers.Decode(headerBytes)

	msg := &Message{
		Type: ActionStream, MessageID: messageID, HandlerID: handlerID,
		SendTime: sendTime, DataType: dataType, Compressor: compressor, Headers: hdrs,
	}

	var memBuf bytes.Buffer
	var file *os.File
	var filePath string
	var total int64

	flushToFile := func() error {
		if file != nil {
			return nil
		}
		p, err := tempfile.Make()
		if err != nil {
			return catserr.Wrap(catserr.KindCodecError, err, "failed to allocate stream temp file")
		}
		f, err := os.OpenFile(p, os.O_WRONLY, 0o600)
		if err != nil {
			return catserr.Wrap(catserr.KindCodecError, err, "failed to open stream temp file")
		}
		if memBuf.Len() > 0 {
			if _, err := f.Write(memBuf.Bytes()); err != nil {
				f.Close()
				return catserr.Wrap(catserr.KindCodecError, err, "failed to spill stream buffer to temp file")
			}
			memBuf.Reset()
		}
		file, filePath = f, p
		return nil
	}

	for {
		lenBuf, err := c.rawRead(ctx, 4)
		if err != nil {
			if file != nil {
				file.Close()
			}
			return nil, nil, err
		}
		chunkLen := binary.BigEndian.Uint32(lenBuf)
		if chunkLen == 0 {
			break
		}
		raw, err := c.rawRead(ctx, int(chunkLen))
		if err != nil {
			if file != nil {
				file.Close()
			}
			return nil, nil, err
		}
		plain, derr := decompressChunk(compressor, raw, hdrs)
		if derr != nil {
			if file != nil {
				file.Close()
			}
			msg.Err = derr
			return msg, nil, nil
		}
		total += int64(len(plain))
		if chunkLen > MaxReadChunk || total > c.cfg.MaxPlainPayload {
			if err := flushToFile(); err != nil {
				return nil, nil, err
			}
		}
		if file != nil {
			if _, err := file.Write(plain); err != nil {
				file.Close()
				return nil, nil, catserr.Wrap(catserr.KindCodecError, err, "failed to write stream temp file")
			}
		} else {
			memBuf.Write(plain)
		}
	}
	if file != nil {
		file.Close()
	}

	if total > c.cfg.MaxPlainPayload && dataType != codec.FilesID {
		if file != nil {
			os.Remove(filePath)
		}
		return nil, nil, catserr.Newf(catserr.KindProtocolViolation, "stream payload %d exceeds in-memory cap", total)
	}

	if file != nil {
		return msg, filePath, nil
	}
	return msg, append([]byte(nil), memBuf.Bytes()...), nil
}

func decompressChunk(compressorID uint8, raw []byte, h headers.Headers) ([]byte, error) {
	comp, ok := compress.Find(compressorID)
	if !ok {
		return nil, catserr.Newf(catserr.KindInvalidCompressor, "unknown compressor id %d", compressorID)
	}
	return comp.Decompress(raw, h)
}

// DrainPayload discards length bytes without decoding them, so the
// connection stays framed. The read lock has already been released by the
// time Dispatch runs, so this re-acquires it for the duration of the
// drain. Nothing in this module calls it: server guard failures
// (Rules.Check) happen after the transport has received the whole payload.
func (c *Conn) DrainPayload(ctx context.Context, length int64) error {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	remaining := length
	for remaining > 0 {
		n := remaining
		if n > MaxReadChunk {
			n = MaxReadChunk
		}
		if _, err := c.rawRead(ctx, int(n)); err != nil {
			return err
		}
		remaining -= n
	}
	return nil
}
