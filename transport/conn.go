/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/compress"
	"github.com/cifrazia/cats-go/internal/breadcrumb"
	"github.com/cifrazia/cats-go/internal/nlog"
	"github.com/cifrazia/cats-go/ratelimit"
)

// pendingInput is the asking side's bookkeeping for one outstanding
// InputAction.
type pendingInput struct {
	ch      chan *Message
	timer   *time.Timer
	bypass  bool
	created time.Time
}

// Conn is the per-socket connection state: wire
// version, negotiated scheme/compressors, identity, pending tables, the
// read/write locks and the idle timer. Exactly one goroutine drives
// recvLoop; any number of goroutines may call the Send*/Ask methods, which
// serialize themselves on writeMu.
type Conn struct {
	netConn net.Conn
	br      *bufio.Reader

	cfg    *Config
	IsServer bool

	readMu  sync.Mutex
	writeMu sync.Mutex

	ids *idSet

	ProtocolVersion uint32
	APIVersion      int
	TimeDelta       time.Duration // server_time - local_time, client side only

	downSpeed int64
	rate      *ratelimit.Delay

	mu       sync.Mutex
	identity any
	closed   bool
	closeCh  chan struct{}
	closeErr error

	idleTimer *time.Timer

	pendingRecvMu sync.Mutex
	pendingRecv   map[uint16]chan *Message

	pendingInputMu sync.Mutex
	pendingInput   map[uint16]*pendingInput

	Dispatcher Dispatcher
	Scope      *breadcrumb.Scope
	Stats      *Stats
}

// NewConn wraps an already-accepted/-dialed net.Conn. isServer selects
// which message-id range this side allocates from.
func NewConn(nc net.Conn, cfg *Config, isServer bool, dispatcher Dispatcher) *Conn {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := &Conn{
		netConn:     nc,
		br:          bufio.NewReaderSize(nc, 64<<10),
		cfg:         cfg,
		IsServer:    isServer,
		ids:         newIDSet(),
		downSpeed:   cfg.InitialDownSpeed,
		rate:        ratelimit.New(cfg.InitialDownSpeed),
		closeCh:     make(chan struct{}),
		pendingRecv: make(map[uint16]chan *Message),
		pendingInput: make(map[uint16]*pendingInput),
		Dispatcher:  dispatcher,
		Scope:       breadcrumb.NewScope(32),
		Stats:       NewStats(),
	}
	if cfg.IdleTimeout > 0 {
		c.idleTimer = time.AfterFunc(cfg.IdleTimeout, c.onIdleTimeout)
	}
	return c
}

func (c *Conn) onIdleTimeout() {
	nlog.Warningf("transport: conn %s idle for %s, closing", c.RemoteAddr(), c.cfg.IdleTimeout)
	c.CloseWithError(catserr.New(catserr.KindTimeout, "idle timeout"))
}

func (c *Conn) resetIdle() {
	if c.idleTimer != nil {
		c.idleTimer.Reset(c.cfg.IdleTimeout)
	}
}

// RemoteAddr returns the underlying socket's peer address.
func (c *Conn) RemoteAddr() net.Addr { return c.netConn.RemoteAddr() }

// Identity returns the signed-in identity, or nil if not signed in.
func (c *Conn) Identity() any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.identity
}

// SetIdentity records the signed-in identity (or clears it with nil),
// tagging the breadcrumb scope to match.
func (c *Conn) SetIdentity(identity any) {
	c.mu.Lock()
	c.identity = identity
	c.mu.Unlock()
	if identity == nil {
		c.Scope.SetUser(nil)
	} else if m, ok := identity.(map[string]any); ok {
		c.Scope.SetUser(m)
	} else {
		c.Scope.SetUser(map[string]any{"identity": identity})
	}
}

// DownloadSpeed returns the current outbound pacing cap in bytes/sec (0 =
// unlimited).
func (c *Conn) DownloadSpeed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.downSpeed
}

// SetDownloadSpeed applies a new pacing cap: 0 (unlimited) or a value in
// [1024, 33_554_432], enforced by the caller.
func (c *Conn) SetDownloadSpeed(speed int64) {
	c.mu.Lock()
	c.downSpeed = speed
	c.mu.Unlock()
	c.rate.SetSpeed(speed)
}

// DefaultCompressor returns the connection's negotiated default compressor.
func (c *Conn) DefaultCompressor() compress.Compressor { return c.cfg.DefaultCompressor }

// Config returns the connection's negotiated configuration.
func (c *Conn) Config() *Config { return c.cfg }

// IDs exposes the message-id reservation table for packages that need to
// allocate/reserve on behalf of the connection (server dispatch, client
// send).
func (c *Conn) IDs() *idSet { return c.ids }

// Closed reports whether the connection has been closed.
func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Done returns a channel closed when the connection closes.
func (c *Conn) Done() <-chan struct{} { return c.closeCh }

// Close closes the connection cleanly (no error recorded).
func (c *Conn) Close() error { return c.CloseWithError(nil) }

// CloseWithError closes the underlying socket, cancels the idle timer,
// fails every pending input and pending recv future, and records reason
// for later inspection.
func (c *Conn) CloseWithError(reason error) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.closeErr = reason
	c.mu.Unlock()

	if c.idleTimer != nil {
		c.idleTimer.Stop()
	}
	close(c.closeCh)

	cancelErr := reason
	if cancelErr == nil {
		cancelErr = catserr.New(catserr.KindStreamClosed, "connection closed")
	}

	c.pendingRecvMu.Lock()
	for id, ch := range c.pendingRecv {
		close(ch)
		delete(c.pendingRecv, id)
	}
	c.pendingRecvMu.Unlock()

	c.pendingInputMu.Lock()
	for id, p := range c.pendingInput {
		if p.timer != nil {
			p.timer.Stop()
		}
		close(p.ch)
		delete(c.pendingInput, id)
	}
	c.pendingInputMu.Unlock()

	c.Scope.Add("close", map[string]any{"reason": errString(reason)})
	if reason != nil {
		nlog.Warningf("transport: conn %s closed: %v", c.RemoteAddr(), reason)
	}
	return c.netConn.Close()
}

func errString(err error) string {
	if err == nil {
		return "graceful"
	}
	return err.Error()
}

// Read and Write satisfy handshake.Stream so *Conn can be handed directly
// to a Handshake's Validate/Send without an adapter type.
func (c *Conn) Read(ctx context.Context, n int) ([]byte, error) { return c.rawRead(ctx, n) }
func (c *Conn) Write(ctx context.Context, buf []byte) error    { return c.rawWrite(ctx, buf) }

// rawRead reads exactly n bytes, honoring ctx's deadline if set, and
// resets the idle timer on success.
func (c *Conn) rawRead(ctx context.Context, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = c.netConn.SetReadDeadline(dl)
	} else {
		_ = c.netConn.SetReadDeadline(time.Time{})
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		return nil, err
	}
	c.resetIdle()
	c.Stats.AddBytesIn(int64(n))
	return buf, nil
}

// rawWrite writes buf in full, honoring ctx's deadline if set, and resets
// the idle timer on success. Callers hold writeMu across a whole framed
// action so it lands on the wire atomically.
func (c *Conn) rawWrite(ctx context.Context, buf []byte) error {
	if len(buf) == 0 {
		return nil
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = c.netConn.SetWriteDeadline(dl)
	} else {
		_ = c.netConn.SetWriteDeadline(time.Time{})
	}
	if _, err := c.netConn.Write(buf); err != nil {
		return err
	}
	c.resetIdle()
	c.Stats.AddBytesOut(int64(len(buf)))
	return nil
}
