/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package server

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/headers"
	"github.com/cifrazia/cats-go/internal/housekeep"
	"github.com/cifrazia/cats-go/internal/nlog"
	"github.com/cifrazia/cats-go/internal/tempfile"
	"github.com/cifrazia/cats-go/transport"
)

// Runtime owns the process-wide collections -- the channel table, the
// running server list, background housekeeping -- as fields on an
// explicit handle passed into both server and connection, rather than as
// package-level singletons.
type Runtime struct {
	Channels *Channels
	HK       *housekeep.Keeper

	mu      sync.Mutex
	servers []*Server
}

// NewRuntime builds a runtime handle with its housekeeper running: stale
// temp files left by crashed in-flight actions are swept hourly.
func NewRuntime() *Runtime {
	rt := &Runtime{Channels: NewChannels(), HK: housekeep.New()}
	go rt.HK.Run()
	rt.HK.Reg("tempfile-sweep", func() time.Duration {
		tempfile.Sweep(24 * time.Hour)
		return time.Hour
	}, time.Hour)
	return rt
}

// Stop terminates the runtime's background housekeeping.
func (rt *Runtime) Stop() { rt.HK.Stop() }

func (rt *Runtime) register(s *Server) {
	rt.mu.Lock()
	rt.servers = append(rt.servers, s)
	rt.mu.Unlock()
}

func (rt *Runtime) unregister(s *Server) {
	rt.mu.Lock()
	for i, srv := range rt.servers {
		if srv == s {
			rt.servers = append(rt.servers[:i], rt.servers[i+1:]...)
			break
		}
	}
	rt.mu.Unlock()
}

// Servers returns a snapshot of the running server instances.
func (rt *Runtime) Servers() []*Server {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	return append([]*Server(nil), rt.servers...)
}

// Broadcast dispatches concurrently to all member connections of the
// named channel across all running server instances. The channel table
// is runtime-wide, so a single fan-out covers every instance's members.
func (rt *Runtime) Broadcast(ctx context.Context, channel string, handlerID uint16, data any, h headers.Headers) error {
	return rt.Channels.broadcast(ctx, channel, handlerID, data, h, nil)
}

// BroadcastIf is Broadcast's conditional variant: cond(server, conn) gates
// each member. A member connection not owned by any running server (already
// shutting down) is skipped.
func (rt *Runtime) BroadcastIf(ctx context.Context, channel string, handlerID uint16, data any, h headers.Headers, cond func(*Server, *transport.Conn) bool) error {
	return rt.Channels.broadcast(ctx, channel, handlerID, data, h, func(c *transport.Conn) bool {
		for _, s := range rt.Servers() {
			if s.owns(c) {
				return cond(s, c)
			}
		}
		return false
	})
}

// Server accepts CATS connections and drives handler dispatch over them.
type Server struct {
	Api     *Api
	Runtime *Runtime

	cfg        *transport.Config
	middleware []Middleware
	auth       Auth

	mu        sync.Mutex
	listeners []net.Listener
	conns     map[*transport.Conn]struct{}
	closed    bool
}

// Options configures a Server.
type Options struct {
	Config *transport.Config
	// Middleware runs first-is-outermost around every handler invocation;
	// ErrorToResponse is always applied outside the whole list.
	Middleware []Middleware
	// Auth is the sign-in back-end, or nil if this server never signs
	// connections in.
	Auth Auth
}

// New builds a Server registered on rt.
func New(rt *Runtime, api *Api, opts Options) *Server {
	if rt == nil {
		rt = NewRuntime()
	}
	cfg := opts.Config
	if cfg == nil {
		cfg = transport.DefaultConfig()
	}
	s := &Server{
		Api:        api,
		Runtime:    rt,
		cfg:        cfg,
		middleware: opts.Middleware,
		auth:       opts.Auth,
		conns:      make(map[*transport.Conn]struct{}),
	}
	rt.register(s)
	return s
}

func (s *Server) owns(c *transport.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conns[c]
	return ok
}

// Conns returns a snapshot of the currently live connections.
func (s *Server) Conns() []*transport.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*transport.Conn, 0, len(s.conns))
	for c := range s.conns {
		out = append(out, c)
	}
	return out
}

// Serve accepts connections from ln until ln is closed or ctx is done. Each
// accepted socket runs the init sequence and then its RecvLoop on its own
// goroutine.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return catserr.New(catserr.KindStreamClosed, "server is shut down")
	}
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()

	for {
		nc, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			s.mu.Lock()
			closed := s.closed
			s.mu.Unlock()
			if closed {
				return nil
			}
			return err
		}
		go s.handleConn(ctx, nc)
	}
}

func (s *Server) handleConn(ctx context.Context, nc net.Conn) {
	c, err := transport.Accept(ctx, nc, transport.AcceptOptions{
		Config:     s.cfg,
		Dispatcher: transport.DispatcherFunc(s.dispatch),
	})
	if err != nil {
		nlog.Warningf("server: init from %s failed: %v", nc.RemoteAddr(), err)
		return
	}
	nlog.Infof("server: conn %s up, api=%d scheme=%s", c.RemoteAddr(), c.APIVersion, c.Config().Scheme.TypeName())

	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()

	err = c.RecvLoop(ctx)

	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	s.Runtime.Channels.RemoveConn(c)
	if err != nil && !catserr.Is(err, catserr.KindStreamClosed) {
		nlog.Infof("server: conn %s down: %v", c.RemoteAddr(), err)
	}
}

// dispatch is the transport.Dispatcher for every server-side connection:
// resolves the handler, applies its rules, runs the middleware chain, and
// frames the reply. Runs on the per-message goroutine the
// transport layer spawned, so a handler blocking in Ask never stalls the
// read loop.
func (s *Server) dispatch(c *transport.Conn, msg *transport.Message) {
	ctx := context.Background()

	switch msg.Type {
	case transport.ActionRequest, transport.ActionStream:
	case transport.ActionInput:
		// An InputAction with no pending entry on this side: log and drop.
		nlog.Warningf("server: conn %s: unsolicited input message_id=%#04x dropped", c.RemoteAddr(), msg.MessageID)
		return
	default:
		nlog.Warningf("server: conn %s: unexpected %s action in dispatch", c.RemoteAddr(), msg.Type)
		return
	}
	defer c.IDs().Release(msg.MessageID)

	item, err := s.Api.Resolve(msg.HandlerID, c.APIVersion)
	if err != nil {
		// Handler-not-found is a protocol failure, fatal to the connection.
		c.Scope.Add("dispatch", map[string]any{"handler_id": msg.HandlerID, "error": err.Error()})
		c.CloseWithError(err)
		return
	}
	c.Scope.Add("dispatch", map[string]any{"handler": item.Name, "message_id": msg.MessageID})

	inner := func(ctx context.Context, c *transport.Conn, msg *transport.Message) (*Response, error) {
		if msg.Err != nil {
			return nil, msg.Err // payload decompress/decode failure, recoverable
		}
		if err := item.Rules.Check(c, msg); err != nil {
			return nil, err
		}
		data, h, err := item.Fn(ctx, c, msg)
		if err != nil {
			return nil, err
		}
		return &Response{Data: data, Headers: h}, nil
	}

	chain := composeChain(append([]Middleware{ErrorToResponse}, s.middleware...), inner)
	resp, err := chain(ctx, c, msg)
	if err != nil {
		c.CloseWithError(err)
		return
	}
	if resp == nil {
		return // handler chose not to respond
	}
	if err := c.Respond(ctx, msg, resp.Data, resp.Headers); err != nil {
		nlog.Errorf("server: conn %s: failed to send response for %s: %v", c.RemoteAddr(), item.Name, err)
		c.CloseWithError(err)
	}
}

// SignIn runs the configured auth back-end for c and, on success, records
// the identity on the connection, auto-attaches it to its model channels,
// and arms the ttl expiry.
func (s *Server) SignIn(ctx context.Context, c *transport.Conn, credentials any) (Identity, error) {
	if s.auth == nil {
		return nil, catserr.New(catserr.KindAuthError, "no auth back-end configured")
	}
	ident, _, ttl, err := s.auth.SignIn(ctx, credentials)
	if err != nil {
		return nil, catserr.Wrap(catserr.KindAuthError, err, "sign-in failed")
	}
	c.SetIdentity(ident)
	s.Runtime.Channels.Attach(ModelChannel(ident.ModelName()), c)
	s.Runtime.Channels.Attach(EntityChannel(ident.ModelName(), ident.ID()), c)
	if ttl > 0 {
		time.AfterFunc(ttl, func() {
			if !c.Closed() && c.Identity() == ident {
				nlog.Infof("server: conn %s: sign-in ttl expired", c.RemoteAddr())
				s.SignOut(c)
			}
		})
	}
	return ident, nil
}

// SignOut clears c's identity and detaches its model channels, reversing
// SignIn.
func (s *Server) SignOut(c *transport.Conn) {
	ident, _ := c.Identity().(Identity)
	c.SetIdentity(nil)
	if ident != nil {
		s.Runtime.Channels.Detach(ModelChannel(ident.ModelName()), c)
		s.Runtime.Channels.Detach(EntityChannel(ident.ModelName(), ident.ID()), c)
	}
}

// Shutdown closes all listeners and live connections and unregisters the
// server from its runtime.
func (s *Server) Shutdown() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	listeners := s.listeners
	conns := make([]*transport.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	for _, ln := range listeners {
		_ = ln.Close()
	}
	for _, c := range conns {
		_ = c.Close()
	}
	s.Runtime.unregister(s)
}
