/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package ratelimit_test

import (
	"context"
	"testing"
	"time"

	"github.com/cifrazia/cats-go/ratelimit"
)

func TestZeroSpeedNeverSleeps(t *testing.T) {
	d := ratelimit.New(0)
	start := time.Now()
	for i := 0; i < 10; i++ {
		if err := d.Wait(context.Background(), 1<<20); err != nil {
			t.Fatalf("wait: %v", err)
		}
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("zero speed should never sleep")
	}
}

func TestZeroLengthIsNoOp(t *testing.T) {
	d := ratelimit.New(1024)
	start := time.Now()
	if err := d.Wait(context.Background(), 0); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Fatal("zero length call should not sleep")
	}
}

func TestSustainedStreamRespectsRate(t *testing.T) {
	const speed = 10_000 // bytes/sec
	const total = 25_000 // bytes
	const chunk = 2_500

	d := ratelimit.New(speed)
	start := time.Now()
	sent := 0
	for sent < total {
		if err := d.Wait(context.Background(), chunk); err != nil {
			t.Fatalf("wait: %v", err)
		}
		sent += chunk
	}
	elapsed := time.Since(start)
	minExpected := time.Duration(float64(total)/float64(speed)*float64(time.Second)) - 200*time.Millisecond
	if elapsed < minExpected {
		t.Fatalf("sustained stream finished too fast: %v < %v", elapsed, minExpected)
	}
}

func TestSetSpeedUpdatesSpeed(t *testing.T) {
	d := ratelimit.New(1024)
	d.SetSpeed(0)
	if d.Speed() != 0 {
		t.Fatalf("expected speed 0, got %d", d.Speed())
	}
}
