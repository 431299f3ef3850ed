// Package transport implements the CATS wire protocol core: framing, the
// per-action state machines, message-id bookkeeping, and the per-connection
// send/receive engine.
/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package transport

import (
	"time"

	"github.com/cifrazia/cats-go/compress"
	"github.com/cifrazia/cats-go/handshake"
	"github.com/cifrazia/cats-go/scheme"
)

// ProtocolVersion is the only wire version this module speaks; the v1
// wire (64-byte hex handshakes, per-payload Offset-only skips) is not
// reproduced.
const ProtocolVersion uint32 = 2

// Size limits.
const (
	// DefaultMaxPlainPayload is the in-memory cap for a single-shot
	// non-files payload.
	DefaultMaxPlainPayload = 32 << 20
	// MaxReadChunk bounds a single payload read off the wire.
	MaxReadChunk = 16 << 20
	// DefaultStreamChunkSize is the chunk size a sender re-chunks a stream
	// producer's output into before framing, absent caller override.
	DefaultStreamChunkSize = 1 << 20

	// DefaultIdleTimeout and DefaultInputTimeout are the stock lifecycle
	// timeouts; both can be overridden per connection.
	DefaultIdleTimeout  = 90 * time.Second
	DefaultInputTimeout = 30 * time.Second
	DefaultInputLimit   = 16
)

// Config is the per-connection negotiable configuration, built with
// functional options rather than package-level flags -- the CLI layer
// (cmd/catsd, cmd/catsc) is the only place that touches flag.FlagSet.
type Config struct {
	IdleTimeout  time.Duration
	InputTimeout time.Duration
	InputLimit   int

	MaxPlainPayload  int64
	StreamChunkSize  int
	InitialDownSpeed int64 // bytes/sec, 0 = unlimited

	Scheme             scheme.Scheme
	AllowedCompressors []compress.Compressor
	DefaultCompressor  compress.Compressor

	Handshake handshake.Handshake

	Debug bool
}

// Option mutates a Config being built.
type Option func(*Config)

// DefaultConfig returns the stock configuration: JSON
// scheme, dummy+gzip+zlib all allowed with zlib default, a 90s idle
// timeout and a 32 MiB in-memory payload cap.
func DefaultConfig() *Config {
	dummy, _ := compress.Find(0)
	gzip, _ := compress.Find(1)
	zlib, _ := compress.Find(2)
	json, _ := scheme.Find("json")
	return &Config{
		IdleTimeout:        DefaultIdleTimeout,
		InputTimeout:       DefaultInputTimeout,
		InputLimit:         DefaultInputLimit,
		MaxPlainPayload:    DefaultMaxPlainPayload,
		StreamChunkSize:    DefaultStreamChunkSize,
		Scheme:             json,
		AllowedCompressors: []compress.Compressor{dummy, gzip, zlib},
		DefaultCompressor:  zlib,
	}
}

// New builds a Config from DefaultConfig with opts applied in order.
func New(opts ...Option) *Config {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

func WithIdleTimeout(d time.Duration) Option  { return func(c *Config) { c.IdleTimeout = d } }
func WithInputTimeout(d time.Duration) Option { return func(c *Config) { c.InputTimeout = d } }
func WithInputLimit(n int) Option             { return func(c *Config) { c.InputLimit = n } }
func WithMaxPlainPayload(n int64) Option      { return func(c *Config) { c.MaxPlainPayload = n } }
func WithStreamChunkSize(n int) Option        { return func(c *Config) { c.StreamChunkSize = n } }
func WithScheme(s scheme.Scheme) Option       { return func(c *Config) { c.Scheme = s } }
func WithHandshake(h handshake.Handshake) Option {
	return func(c *Config) { c.Handshake = h }
}
func WithDebug(enabled bool) Option { return func(c *Config) { c.Debug = enabled } }

// WithCompressors sets the allowed set and the negotiated default.
func WithCompressors(allowed []compress.Compressor, def compress.Compressor) Option {
	return func(c *Config) {
		c.AllowedCompressors = allowed
		c.DefaultCompressor = def
	}
}

// CompressorNames returns the wire names of the allowed compressors, in
// order, for the ClientStatement.
func (c *Config) CompressorNames() []string {
	names := make([]string, len(c.AllowedCompressors))
	for i, comp := range c.AllowedCompressors {
		names[i] = comp.TypeName()
	}
	return names
}

// SetCompressorsByName applies a ClientStatement's compressors[] and
// default_compression fields, resolving names back to Compressor values;
// unknown names are skipped.
func (c *Config) SetCompressorsByName(names []string, def string) {
	allowed := make([]compress.Compressor, 0, len(names))
	for _, n := range names {
		if comp, ok := compress.FindByName(n); ok {
			allowed = append(allowed, comp)
		}
	}
	if len(allowed) > 0 {
		c.AllowedCompressors = allowed
	}
	if comp, ok := compress.FindByName(def); ok {
		c.DefaultCompressor = comp
	}
}

// SetSchemeByName applies a ClientStatement's scheme_format field.
func (c *Config) SetSchemeByName(name string) error {
	s, err := scheme.FindStrict(name)
	if err != nil {
		return err
	}
	c.Scheme = s
	return nil
}
