// Package client implements the CATS connecting side: the outstanding
// request table lives in transport.Conn; this package adds broadcast
// subscriptions, unsolicited-input delivery, and the periodic ping loop.
/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package client

import (
	"context"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/teris-io/shortid"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/headers"
	"github.com/cifrazia/cats-go/internal/nlog"
	"github.com/cifrazia/cats-go/transport"
)

// Callback receives one server-push broadcast message. Callbacks run on
// their own goroutine per delivery; a blocking callback delays nothing but
// itself.
type Callback func(ctx context.Context, msg *transport.Message)

// Input is an unsolicited server question delivered to the application,
// which must either Reply or Cancel it.
type Input struct {
	Msg  *transport.Message
	conn *transport.Conn
}

// Reply answers the server's question, echoing the InputAction's
// message_id.
func (in *Input) Reply(ctx context.Context, data any, h headers.Headers) error {
	return in.conn.Reply(ctx, in.Msg.MessageID, data, h)
}

// Cancel tells the server to give up on this question.
func (in *Input) Cancel(ctx context.Context) error {
	return in.conn.CancelInput(ctx, in.Msg.MessageID)
}

// InputHandler receives unsolicited InputActions.
type InputHandler func(ctx context.Context, in *Input)

// Options configures Connect.
type Options struct {
	Config     *transport.Config
	APIVersion int
	// OnInput receives server questions; nil cancels them immediately.
	OnInput InputHandler
	// TLS, if set, stacks TLS under the byte stream before the CATS init
	// sequence runs.
	TLS *tls.Config
	// PingInterval overrides the default idle_timeout/2 keepalive cadence;
	// negative disables the ping loop.
	PingInterval time.Duration
}

// Client is one CATS client connection plus its subscription table.
type Client struct {
	Conn *transport.Conn

	onInput InputHandler

	subsMu sync.Mutex
	subs   map[uint16]map[string]Callback

	pingStop chan struct{}
	pingOnce sync.Once
}

// Connect dials addr, runs the init sequence (protocol version, statements,
// optional handshake) and starts the RecvLoop and ping loop.
func Connect(ctx context.Context, addr string, opts Options) (*Client, error) {
	var nc net.Conn
	var err error
	if opts.TLS != nil {
		nc, err = (&tls.Dialer{Config: opts.TLS}).DialContext(ctx, "tcp", addr)
	} else {
		var d net.Dialer
		nc, err = d.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, catserr.Wrap(catserr.KindStreamClosed, err, "dial failed")
	}
	return Wrap(ctx, nc, opts)
}

// Wrap runs the client-side init sequence over an already-established
// net.Conn (tests use net.Pipe here) and starts the loops.
func Wrap(ctx context.Context, nc net.Conn, opts Options) (*Client, error) {
	cl := &Client{
		onInput:  opts.OnInput,
		subs:     make(map[uint16]map[string]Callback),
		pingStop: make(chan struct{}),
	}
	conn, err := transport.Dial(ctx, nc, transport.DialOptions{
		Config:     opts.Config,
		APIVersion: opts.APIVersion,
		Dispatcher: transport.DispatcherFunc(cl.dispatch),
	})
	if err != nil {
		return nil, err
	}
	cl.Conn = conn

	go func() {
		_ = conn.RecvLoop(context.Background())
		cl.stopPing()
	}()

	interval := opts.PingInterval
	if interval == 0 && conn.Config().IdleTimeout > 0 {
		interval = conn.Config().IdleTimeout / 2
	}
	if interval > 0 {
		go cl.pingLoop(interval)
	}
	return cl, nil
}

func (cl *Client) pingLoop(interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := cl.Conn.Ping(ctx)
			cancel()
			if err != nil {
				nlog.Warningf("client: ping failed: %v", err)
				return
			}
		case <-cl.pingStop:
			return
		case <-cl.Conn.Done():
			return
		}
	}
}

func (cl *Client) stopPing() {
	cl.pingOnce.Do(func() { close(cl.pingStop) })
}

// Send issues a Request to handlerID and awaits the matching response.
func (cl *Client) Send(ctx context.Context, handlerID uint16, data any, h headers.Headers) (*transport.Message, error) {
	return cl.Conn.Request(ctx, handlerID, data, h)
}

// SendStream opens a Stream action toward handlerID, re-chunking value per
// the connection's configured chunk size, and awaits the response.
func (cl *Client) SendStream(ctx context.Context, handlerID uint16, value any, h headers.Headers) (*transport.Message, error) {
	id := cl.Conn.IDs().AllocateClient()
	cl.Conn.IDs().Preserve(id)
	ch, err := cl.Conn.ExpectReply(id)
	if err != nil {
		cl.Conn.IDs().Release(id)
		return nil, err
	}
	if err := cl.Conn.SendStreamValue(ctx, handlerID, id, value, h, nil); err != nil {
		cl.Conn.ForgetReply(id)
		return nil, err
	}
	select {
	case msg, ok := <-ch:
		if !ok {
			return nil, catserr.New(catserr.KindStreamClosed, "connection closed while awaiting response")
		}
		return msg, nil
	case <-ctx.Done():
		cl.Conn.ForgetReply(id)
		return nil, ctx.Err()
	case <-cl.Conn.Done():
		return nil, catserr.New(catserr.KindStreamClosed, "connection closed while awaiting response")
	}
}

// Subscribe registers cb for server-push broadcasts carrying handlerID and
// returns the subscription id for Unsubscribe.
func (cl *Client) Subscribe(handlerID uint16, cb Callback) string {
	subID, err := shortid.Generate()
	if err != nil {
		// shortid only fails on a broken generator config; fall back to a
		// timestamp so Subscribe itself never fails.
		subID = time.Now().Format("20060102150405.000000000")
	}
	cl.subsMu.Lock()
	if cl.subs[handlerID] == nil {
		cl.subs[handlerID] = make(map[string]Callback)
	}
	cl.subs[handlerID][subID] = cb
	cl.subsMu.Unlock()
	return subID
}

// Unsubscribe removes one subscription; unknown ids are a no-op.
func (cl *Client) Unsubscribe(handlerID uint16, subID string) {
	cl.subsMu.Lock()
	if m := cl.subs[handlerID]; m != nil {
		delete(m, subID)
		if len(m) == 0 {
			delete(cl.subs, handlerID)
		}
	}
	cl.subsMu.Unlock()
}

// dispatch is the client side's transport.Dispatcher: broadcasts go to
// subscribed callbacks, unsolicited inputs to the OnInput handler, and
// anything else -- a reply with no pending recv and no subscription -- is
// logged and dropped.
func (cl *Client) dispatch(c *transport.Conn, msg *transport.Message) {
	switch {
	case msg.Type == transport.ActionInput:
		in := &Input{Msg: msg, conn: c}
		if cl.onInput == nil {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = in.Cancel(ctx)
			return
		}
		cl.onInput(context.Background(), in)

	case msg.IsBroadcast():
		defer c.IDs().Release(msg.MessageID)
		cl.subsMu.Lock()
		cbs := make([]Callback, 0, len(cl.subs[msg.HandlerID]))
		for _, cb := range cl.subs[msg.HandlerID] {
			cbs = append(cbs, cb)
		}
		cl.subsMu.Unlock()
		if len(cbs) == 0 {
			nlog.Infof("client: broadcast handler_id=%d message_id=%#04x with no subscription dropped", msg.HandlerID, msg.MessageID)
			return
		}
		for _, cb := range cbs {
			go cb(context.Background(), msg)
		}

	default:
		c.IDs().Release(msg.MessageID)
		nlog.Warningf("client: unexpected %s message_id=%#04x dropped", msg.Type, msg.MessageID)
	}
}

// Close shuts the connection down gracefully.
func (cl *Client) Close() error {
	cl.stopPing()
	return cl.Conn.Close()
}
