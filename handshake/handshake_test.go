/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package handshake

import (
	"context"
	"testing"
	"time"
)

// chanStream is an in-memory Stream half: reads pull from in, writes push
// to out.
type chanStream struct {
	in  chan byte
	out chan byte
}

func newStreamPair() (a, b *chanStream) {
	x := make(chan byte, 256)
	y := make(chan byte, 256)
	return &chanStream{in: x, out: y}, &chanStream{in: y, out: x}
}

func (s *chanStream) Read(ctx context.Context, n int) ([]byte, error) {
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		select {
		case b := <-s.in:
			buf[i] = b
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return buf, nil
}

func (s *chanStream) Write(ctx context.Context, buf []byte) error {
	for _, b := range buf {
		select {
		case s.out <- b:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func TestHandshakeSucceedsWithSharedSecret(t *testing.T) {
	sender, validator := newStreamPair()
	h := New([]byte("secret"))

	errCh := make(chan error, 1)
	go func() { errCh <- h.Validate(context.Background(), validator) }()

	if err := h.Send(context.Background(), sender, 0); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestHandshakeToleratesClockSkewWithinWindow(t *testing.T) {
	sender, validator := newStreamPair()
	h := New([]byte("secret"))

	errCh := make(chan error, 1)
	go func() { errCh <- h.Validate(context.Background(), validator) }()

	// A 10s delta lands exactly one tick away: still inside window=1.
	if err := h.Send(context.Background(), sender, 10*time.Second); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestHandshakeRejectsWrongSecret(t *testing.T) {
	sender, validator := newStreamPair()

	errCh := make(chan error, 1)
	go func() { errCh <- New([]byte("right")).Validate(context.Background(), validator) }()

	if err := New([]byte("wrong")).Send(context.Background(), sender, 0); err == nil {
		t.Fatal("send should observe the rejection ack")
	}
	if err := <-errCh; err == nil {
		t.Fatal("validate should reject a wrong-secret digest")
	}
}

func TestHandshakeValidateTimesOut(t *testing.T) {
	_, validator := newStreamPair()
	h := New([]byte("secret"))
	h.Timeout = 50 * time.Millisecond

	if err := h.Validate(context.Background(), validator); err == nil {
		t.Fatal("validate should time out with no digest arriving")
	}
}
