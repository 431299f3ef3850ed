// Package ratelimit implements the CATS "Delay" rate limiter: a stateful
// token-bucket substitute that paces outbound chunk writes to a configured
// bytes/second ceiling, carrying surplus across calls so bursts are
// amortized rather than sliced uniformly.
/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Delay paces successive Wait(n) calls to at most Speed bytes/second. A
// Speed of zero disables pacing entirely. Safe for concurrent use,
// although CATS only ever drives one from the connection's single writer.
type Delay struct {
	mu    sync.Mutex
	speed int64 // bytes/second; 0 disables sleeping
	start time.Time
	sent  float64

	now func() time.Time // overridable for tests
}

// New returns a Delay paced at speed bytes/second (0 disables pacing).
func New(speed int64) *Delay {
	return &Delay{speed: speed, start: time.Now(), now: time.Now}
}

// Speed returns the currently configured bytes/second ceiling.
func (d *Delay) Speed() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speed
}

// SetSpeed updates the ceiling; takes effect on the next Wait call, so a
// mid-stream change (via a DownloadSpeed action) affects only subsequent
// chunks.
func (d *Delay) SetSpeed(speed int64) {
	d.mu.Lock()
	d.speed = speed
	d.mu.Unlock()
}

// Wait blocks long enough to keep the rolling rate at or below Speed,
// given that length more bytes are about to be sent. A zero-length call
// is always a no-op.
func (d *Delay) Wait(ctx context.Context, length int) error {
	d.mu.Lock()
	speed := d.speed
	if speed <= 0 || length <= 0 {
		d.mu.Unlock()
		return nil
	}

	n := d.now()
	secondsPassed := n.Sub(d.start).Seconds() + 0.01
	d.start = n
	d.sent = maxFloat(0, float64(length)+d.sent-float64(speed)*secondsPassed)
	sleepFor := d.sent / float64(speed)
	d.mu.Unlock()

	if sleepFor <= 0 {
		return nil
	}

	t := time.NewTimer(time.Duration(sleepFor * float64(time.Second)))
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
