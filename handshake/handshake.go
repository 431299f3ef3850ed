// Package handshake implements the optional CATS post-statement
// authentication gate: a SHA-256 time handshake where both sides derive a
// shared digest from a secret key and the current time rounded to a 10
// second tick, tolerating clock skew within a configurable window.
/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package handshake

import (
	"bytes"
	"context"
	"crypto/sha256"
	"strconv"
	"time"

	"github.com/cifrazia/cats-go/catserr"
)

// Stream is the minimal read/write surface a handshake needs from a
// connection; transport.Conn satisfies it.
type Stream interface {
	Read(ctx context.Context, n int) ([]byte, error)
	Write(ctx context.Context, buf []byte) error
}

// Handshake is the pluggable contract: Validate is called by the accepting
// side right after the statement exchange, Send by the connecting side.
type Handshake interface {
	Validate(ctx context.Context, s Stream) error
	Send(ctx context.Context, s Stream, timeDelta time.Duration) error
}

// SHA256Time is the canonical handshake: raw 32-byte digests over the
// shared secret and a 10-second time tick. ValidWindow widens the set of
// timestamps the validating side accepts, to absorb clock drift between
// peers; the older 64-byte ASCII-hex form is not reproduced.
type SHA256Time struct {
	SecretKey   []byte
	ValidWindow int // in units of 10s ticks either side of "now"; default 1
	Timeout     time.Duration
}

// New builds a SHA256Time handshake with the stock
// defaults (window=1, timeout=5s).
func New(secretKey []byte) *SHA256Time {
	return &SHA256Time{SecretKey: secretKey, ValidWindow: 1, Timeout: 5 * time.Second}
}

func (h *SHA256Time) window() int {
	if h.ValidWindow <= 0 {
		return 1
	}
	return h.ValidWindow
}

// candidates returns every valid digest for the 10s tick nearest t, plus
// ValidWindow ticks on either side.
func (h *SHA256Time) candidates(t time.Time) [][32]byte {
	tick := int64(roundNearest10(t.Unix()))
	w := h.window()
	out := make([][32]byte, 0, 2*w+1)
	for i := -w; i <= w; i++ {
		out = append(out, h.digest(tick+int64(i)*10))
	}
	return out
}

func (h *SHA256Time) digest(ts int64) [32]byte {
	buf := append(append([]byte{}, h.SecretKey...), []byte(strconv.FormatInt(ts, 10))...)
	return sha256.Sum256(buf)
}

func roundNearest10(unix int64) int64 {
	return (unix + 5) / 10 * 10
}

// Validate reads 32 bytes and checks membership in the current candidate
// set; on success it writes 0x01, on failure or timeout it writes 0x00
// (best effort) and returns a HandshakeFailure error.
func (h *SHA256Time) Validate(ctx context.Context, s Stream) error {
	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	digest, err := s.Read(ctx, 32)
	if err != nil {
		return catserr.Wrap(catserr.KindHandshakeFailure, err, "failed to read handshake digest")
	}

	for _, c := range h.candidates(time.Now()) {
		if bytes.Equal(digest, c[:]) {
			if werr := s.Write(ctx, []byte{0x01}); werr != nil {
				return catserr.Wrap(catserr.KindHandshakeFailure, werr, "failed to ack handshake")
			}
			return nil
		}
	}

	_ = s.Write(ctx, []byte{0x00})
	return catserr.New(catserr.KindHandshakeFailure, "invalid handshake digest")
}

// Send writes one candidate digest centered on timeDelta-adjusted now,
// then awaits the single ACK byte.
func (h *SHA256Time) Send(ctx context.Context, s Stream, timeDelta time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, h.Timeout)
	defer cancel()

	now := time.Now().Add(timeDelta)
	tick := roundNearest10(now.Unix())
	digest := h.digest(tick)

	if err := s.Write(ctx, digest[:]); err != nil {
		return catserr.Wrap(catserr.KindHandshakeFailure, err, "failed to write handshake digest")
	}

	ack, err := s.Read(ctx, 1)
	if err != nil {
		return catserr.Wrap(catserr.KindHandshakeFailure, err, "failed to read handshake ack")
	}
	if len(ack) != 1 || ack[0] != 0x01 {
		return catserr.New(catserr.KindHandshakeFailure, "peer rejected handshake")
	}
	return nil
}
