/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package transport_test

import (
	"context"
	"crypto/rand"
	"testing"
	"time"

	"github.com/cifrazia/cats-go/transport"
)

// TestDownloadSpeedPacesEcho paces an echo round trip: a 100 KiB payload
// with a 100 000 B/s cap on the responder lands in roughly a second; with
// the cap removed it is near-instant.
func TestDownloadSpeedPacesEcho(t *testing.T) {
	if testing.Short() {
		t.Skip("timing test")
	}

	echo := transport.DispatcherFunc(func(c *transport.Conn, msg *transport.Message) {
		if err := c.Respond(context.Background(), msg, msg.Data, nil); err != nil {
			t.Errorf("respond: %v", err)
		}
	})

	client, server := newLoopback(nil, echo)
	defer client.Close()
	defer server.Close()

	go server.RecvLoop(context.Background())
	go client.RecvLoop(context.Background())

	payload := make([]byte, 100<<10)
	_, _ = rand.Read(payload) // incompressible, so pacing sees the full size

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.SendDownloadSpeed(ctx, 100_000); err != nil {
		t.Fatalf("set download speed: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let the control frame apply

	start := time.Now()
	resp, err := client.Request(ctx, 1, payload, nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	elapsed := time.Since(start)
	if len(resp.Data.([]byte)) != len(payload) {
		t.Fatalf("echo size mismatch: %d", len(resp.Data.([]byte)))
	}
	if elapsed < 500*time.Millisecond || elapsed > 2500*time.Millisecond {
		t.Fatalf("paced echo took %s, want roughly 1s", elapsed)
	}

	if err := client.SendDownloadSpeed(ctx, 0); err != nil {
		t.Fatalf("clear download speed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	start = time.Now()
	if _, err := client.Request(ctx, 1, payload, nil); err != nil {
		t.Fatalf("unpaced request: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("unpaced echo took %s", elapsed)
	}
}
