/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package transport

import (
	"context"
	"encoding/binary"
	"net"
	"time"

	"github.com/cifrazia/cats-go/catserr"
)

// DialOptions configures the connecting (client) side's init sequence.
type DialOptions struct {
	Config     *Config
	Dispatcher Dispatcher
	APIVersion int
}

// Dial opens nc as a CATS connection from the connecting side: exchanges
// protocol_version, sends the ClientStatement, reads the ServerStatement,
// then runs the configured Handshake if one is set. The returned Conn has not yet started its
// RecvLoop -- callers do that once Dial returns successfully.
func Dial(ctx context.Context, nc net.Conn, opts DialOptions) (*Conn, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	c := NewConn(nc, cfg, false, opts.Dispatcher)

	if err := proposeProtocolVersion(ctx, c); err != nil {
		c.CloseWithError(err)
		return nil, err
	}

	stmt := ClientStatement{
		API:                opts.APIVersion,
		ClientTime:         nowMillis(),
		SchemeFormat:       cfg.Scheme.TypeName(),
		Compressors:        cfg.CompressorNames(),
		DefaultCompression: cfg.DefaultCompressor.TypeName(),
	}
	raw, err := encodeStatement(stmt)
	if err != nil {
		c.CloseWithError(err)
		return nil, err
	}
	if err := writeLengthPrefixed(ctx, c, raw); err != nil {
		c.CloseWithError(err)
		return nil, err
	}

	srvRaw, err := readLengthPrefixed(ctx, c)
	if err != nil {
		c.CloseWithError(err)
		return nil, err
	}
	srvStmt, err := decodeServerStatement(srvRaw)
	if err != nil {
		c.CloseWithError(err)
		return nil, err
	}
	c.APIVersion = opts.APIVersion
	c.TimeDelta = time.Duration(srvStmt.ServerTime-stmt.ClientTime) * time.Millisecond

	if cfg.Handshake != nil {
		if err := cfg.Handshake.Send(ctx, c, c.TimeDelta); err != nil {
			c.CloseWithError(err)
			return nil, err
		}
	}

	return c, nil
}

// AcceptOptions configures the accepting (server) side's init sequence.
type AcceptOptions struct {
	Config     *Config
	Dispatcher Dispatcher
}

// Accept mirrors Dial for the listening side: reads protocol_version,
// reads the ClientStatement and applies its negotiated scheme/compressors
// to the connection's Config, replies with a ServerStatement, then runs
// the handshake if configured.
func Accept(ctx context.Context, nc net.Conn, opts AcceptOptions) (*Conn, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = DefaultConfig()
	}
	// The per-connection Config must not be shared/mutated across
	// connections once SetScheme/SetCompressorsByName run below.
	connCfg := *cfg
	c := NewConn(nc, &connCfg, true, opts.Dispatcher)

	if err := ackProtocolVersion(ctx, c); err != nil {
		c.CloseWithError(err)
		return nil, err
	}

	clientRaw, err := readLengthPrefixed(ctx, c)
	if err != nil {
		c.CloseWithError(err)
		return nil, err
	}
	clientStmt, err := decodeClientStatement(clientRaw)
	if err != nil {
		c.CloseWithError(err)
		return nil, err
	}
	c.APIVersion = clientStmt.API
	if err := connCfg.SetSchemeByName(clientStmt.SchemeFormat); err != nil {
		c.CloseWithError(err)
		return nil, err
	}
	connCfg.SetCompressorsByName(clientStmt.Compressors, clientStmt.DefaultCompression)

	serverTime := nowMillis()
	c.TimeDelta = time.Duration(clientStmt.ClientTime-serverTime) * time.Millisecond

	srvRaw, err := encodeStatement(ServerStatement{ServerTime: serverTime})
	if err != nil {
		c.CloseWithError(err)
		return nil, err
	}
	if err := writeLengthPrefixed(ctx, c, srvRaw); err != nil {
		c.CloseWithError(err)
		return nil, err
	}

	if connCfg.Handshake != nil {
		if err := connCfg.Handshake.Validate(ctx, c); err != nil {
			c.CloseWithError(err)
			return nil, err
		}
	}

	return c, nil
}

// proposeProtocolVersion is the connecting side's half of the version
// exchange: write a 4-byte proposal, then read the peer's 4-byte reply -- all zero
// means "ok", anything else is the peer's max supported version and both
// sides close.
func proposeProtocolVersion(ctx context.Context, c *Conn) error {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, ProtocolVersion)
	if err := c.rawWrite(ctx, out); err != nil {
		return err
	}
	in, err := c.rawRead(ctx, 4)
	if err != nil {
		return err
	}
	if reply := binary.BigEndian.Uint32(in); reply != 0 {
		return catserr.Newf(catserr.KindProtocolViolation, "peer rejected protocol_version %d, supports up to %d", ProtocolVersion, reply)
	}
	c.ProtocolVersion = ProtocolVersion
	return nil
}

// ackProtocolVersion is the accepting side's half: read the proposal, and
// reply with 4 zero bytes if it matches this module's ProtocolVersion, or
// its own max version (for the proposer to observe) otherwise, then close.
func ackProtocolVersion(ctx context.Context, c *Conn) error {
	in, err := c.rawRead(ctx, 4)
	if err != nil {
		return err
	}
	proposed := binary.BigEndian.Uint32(in)

	out := make([]byte, 4)
	if proposed != ProtocolVersion {
		binary.BigEndian.PutUint32(out, ProtocolVersion)
		_ = c.rawWrite(ctx, out) // best effort; we're closing either way
		return catserr.Newf(catserr.KindProtocolViolation, "unsupported protocol_version %d (this module speaks %d)", proposed, ProtocolVersion)
	}
	if err := c.rawWrite(ctx, out); err != nil { // four zero bytes: ok
		return err
	}
	c.ProtocolVersion = ProtocolVersion
	return nil
}
