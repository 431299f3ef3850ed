/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package transport

import (
	"context"
	"time"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/headers"
)

// AskOptions tunes one Ask call.
type AskOptions struct {
	// Timeout overrides cfg.InputTimeout for this ask; 0 keeps the default.
	Timeout time.Duration
	// BypassLimit exempts this ask from input_limit eviction, both as the
	// new entry being added and as a candidate for eviction itself.
	BypassLimit bool
}

// Ask sends an InputAction tied to the message_id of the request currently
// being handled and blocks for the peer's reply; further progress on that
// request suspends until the peer replies or the input is
// cancelled/times out. The
// InputAction's message_id is req.MessageID, not a freshly allocated one --
// that's what lets the peer address CancelInput/reply back at the right
// pending entry.
func (c *Conn) Ask(ctx context.Context, req *Message, data any, h headers.Headers, opts AskOptions) (*Message, error) {
	id := req.MessageID

	if !opts.BypassLimit {
		c.evictOldestInputIfOverLimit()
	}

	ch := make(chan *Message, 1)
	c.pendingInputMu.Lock()
	if _, exists := c.pendingInput[id]; exists {
		c.pendingInputMu.Unlock()
		return nil, catserr.Newf(catserr.KindProtocolViolation, "message_id %#04x already has a pending input", id)
	}
	p := &pendingInput{ch: ch, bypass: opts.BypassLimit, created: time.Now()}
	c.pendingInput[id] = p
	c.pendingInputMu.Unlock()

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.cfg.InputTimeout
	}
	if timeout > 0 {
		p.timer = time.AfterFunc(timeout, func() { c.timeoutPendingInput(id) })
	}

	if err := c.sendInputFrame(ctx, id, data, h); err != nil {
		c.forgetPendingInput(id)
		return nil, err
	}

	select {
	case msg, ok := <-ch:
		if !ok || msg == nil {
			return nil, catserr.New(catserr.KindInputCancelled, "input was cancelled")
		}
		return msg, nil
	case <-ctx.Done():
		c.forgetPendingInput(id)
		return nil, ctx.Err()
	case <-c.closeCh:
		return nil, catserr.New(catserr.KindStreamClosed, "connection closed while awaiting input")
	}
}

// Reply answers a pending InputAction on the peer identified by messageID,
// the mirror of Ask's send: same action type, same message_id, addressed
// back at whichever side is holding that id in its pendingInput table.
func (c *Conn) Reply(ctx context.Context, messageID uint16, data any, h headers.Headers) error {
	return c.sendInputFrame(ctx, messageID, data, h)
}

// CancelInput tells the peer to give up on the InputAction it sent under
// messageID. The asking side's Ask call
// unblocks with catserr.KindInputCancelled once the cancellation frame arrives
// back (see readCancelInputBody); this method is for the replying side to
// proactively abandon an ask it decided not to answer.
func (c *Conn) CancelInput(ctx context.Context, messageID uint16) error {
	return c.sendCancelInput(ctx, messageID)
}

func (c *Conn) forgetPendingInput(id uint16) {
	c.pendingInputMu.Lock()
	p, ok := c.pendingInput[id]
	if ok {
		delete(c.pendingInput, id)
	}
	c.pendingInputMu.Unlock()
	if !ok {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	c.ids.Release(id)
}

func (c *Conn) timeoutPendingInput(id uint16) {
	c.pendingInputMu.Lock()
	p, ok := c.pendingInput[id]
	if ok {
		delete(c.pendingInput, id)
	}
	c.pendingInputMu.Unlock()
	if !ok {
		return
	}
	c.ids.Release(id)
	select {
	case p.ch <- nil:
	default:
	}
	close(p.ch)
	// Best-effort: let the peer know this side gave up waiting.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.sendCancelInput(ctx, id)
	}()
}

// evictOldestInputIfOverLimit drops the oldest non-bypass pending input
// once the non-bypass count exceeds cfg.InputLimit; bypass asks neither
// count toward the limit nor get evicted.
func (c *Conn) evictOldestInputIfOverLimit() {
	limit := c.cfg.InputLimit
	if limit <= 0 {
		return
	}
	c.pendingInputMu.Lock()
	var oldestID uint16
	var oldestAt time.Time
	count := 0
	found := false
	for id, p := range c.pendingInput {
		if p.bypass {
			continue
		}
		count++
		if !found || p.created.Before(oldestAt) {
			oldestID, oldestAt, found = id, p.created, true
		}
	}
	var evicted *pendingInput
	if count >= limit && found {
		evicted = c.pendingInput[oldestID]
		delete(c.pendingInput, oldestID)
	}
	c.pendingInputMu.Unlock()

	if evicted == nil {
		return
	}
	if evicted.timer != nil {
		evicted.timer.Stop()
	}
	c.ids.Release(oldestID)
	select {
	case evicted.ch <- nil:
	default:
	}
	close(evicted.ch)
}
