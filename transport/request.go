/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package transport

import (
	"context"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/headers"
)

// Request sends a Request action to handlerID under a freshly allocated
// client-side message_id and awaits the matching response. Any side may
// call it; the common caller is client.Client.
func (c *Conn) Request(ctx context.Context, handlerID uint16, data any, h headers.Headers) (*Message, error) {
	id := c.ids.AllocateClient()
	c.ids.Preserve(id)
	ch := make(chan *Message, 1)
	c.pendingRecvMu.Lock()
	c.pendingRecv[id] = ch
	c.pendingRecvMu.Unlock()

	if err := c.sendRequestFrame(ctx, handlerID, id, nowMillis(), data, h, nil, nil, 0); err != nil {
		c.forgetPendingRecv(id)
		return nil, err
	}

	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, catserr.New(catserr.KindStreamClosed, "connection closed while awaiting response")
		}
		return msg, nil
	case <-ctx.Done():
		c.forgetPendingRecv(id)
		return nil, ctx.Err()
	case <-c.closeCh:
		return nil, catserr.New(catserr.KindStreamClosed, "connection closed while awaiting response")
	}
}

// ExpectReply registers a pending recv future for id so a caller that
// frames its own action (e.g. a stream send awaiting a response) can still
// use the demux path Request uses internally. The caller must have
// reserved id already.
func (c *Conn) ExpectReply(id uint16) (<-chan *Message, error) {
	if c.Closed() {
		return nil, catserr.New(catserr.KindStreamClosed, "connection closed")
	}
	ch := make(chan *Message, 1)
	c.pendingRecvMu.Lock()
	if _, exists := c.pendingRecv[id]; exists {
		c.pendingRecvMu.Unlock()
		return nil, catserr.Newf(catserr.KindProtocolViolation, "message_id %#04x already awaiting a reply", id)
	}
	c.pendingRecv[id] = ch
	c.pendingRecvMu.Unlock()
	return ch, nil
}

// ForgetReply unregisters a pending recv future registered via ExpectReply
// and releases its id.
func (c *Conn) ForgetReply(id uint16) { c.forgetPendingRecv(id) }

func (c *Conn) forgetPendingRecv(id uint16) {
	c.pendingRecvMu.Lock()
	delete(c.pendingRecv, id)
	c.pendingRecvMu.Unlock()
	c.ids.Release(id)
}

// Respond sends a Request-shaped response action back to the peer for an
// inbound request msg, stamping handler_id, message_id and Offset from
// the request. The request's Offset (or its newer
// Skip analogue) instructs this responder to omit the first N bytes of the
// encoded response payload.
func (c *Conn) Respond(ctx context.Context, req *Message, data any, h headers.Headers) error {
	if h == nil {
		h = headers.Headers{}
	}
	skip := req.Headers.Offset()
	if skip == 0 {
		skip = req.Headers.Skip()
	}
	if skip > 0 {
		h.SetOffset(skip)
	}
	return c.sendRequestFrame(ctx, req.HandlerID, req.MessageID, nowMillis(), data, h, nil, nil, skip)
}

// Broadcast sends a fire-and-forget Request action with a server-range
// message_id and no pending recv registration. Returns the allocated
// message_id.
func (c *Conn) Broadcast(ctx context.Context, handlerID uint16, data any, h headers.Headers) (uint16, error) {
	id := c.ids.AllocateBroadcast()
	if err := c.sendRequestFrame(ctx, handlerID, id, nowMillis(), data, h, nil, nil, 0); err != nil {
		return 0, err
	}
	return id, nil
}

// Ping sends a Ping action carrying the current time; the peer replies
// with its own Ping, which arrives back through RecvLoop's handlePing
// (there is no pending-table registration for pings -- callers observing
// RTT should time the round trip externally, e.g. the client's ping loop).
func (c *Conn) Ping(ctx context.Context) error {
	return c.writePing(ctx, nowMillis())
}
