/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/cifrazia/cats-go/headers"
	"github.com/cifrazia/cats-go/transport"
)

func TestRequestResponseRoundTrip(t *testing.T) {
	done := make(chan struct{})
	dispatcher := transport.DispatcherFunc(func(c *transport.Conn, msg *transport.Message) {
		h := headers.Headers{}
		if err := c.Respond(context.Background(), msg, "pong", h); err != nil {
			t.Errorf("respond: %v", err)
		}
		close(done)
	})

	client, server := newLoopback(nil, dispatcher)
	defer client.Close()
	defer server.Close()

	go server.RecvLoop(context.Background())
	go client.RecvLoop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Request(ctx, 1, "ping", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.Data != "pong" {
		t.Fatalf("expected pong, got %v", resp.Data)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("handler never ran")
	}
}

// TestDuplicateReplyIsDropped pins at-most-once fulfilment: exactly one
// response fulfils a request's recv future; a duplicate reply for the
// same message_id is dropped from the request path (it is handed to the
// fallback dispatcher instead) and the connection stays usable.
func TestDuplicateReplyIsDropped(t *testing.T) {
	dispatcher := transport.DispatcherFunc(func(c *transport.Conn, msg *transport.Message) {
		for i := 0; i < 2; i++ {
			if err := c.Respond(context.Background(), msg, "pong", nil); err != nil {
				t.Errorf("respond %d: %v", i, err)
			}
		}
	})

	dropped := make(chan *transport.Message, 2)
	clientDispatch := transport.DispatcherFunc(func(c *transport.Conn, msg *transport.Message) {
		dropped <- msg
	})

	client, server := newLoopback(clientDispatch, dispatcher)
	defer client.Close()
	defer server.Close()

	go server.RecvLoop(context.Background())
	go client.RecvLoop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := client.Request(ctx, 1, "ping", nil)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if resp.Data != "pong" {
		t.Fatalf("expected pong, got %v", resp.Data)
	}

	// The duplicate lands in the fallback dispatcher, not a recv future.
	select {
	case <-dropped:
	case <-time.After(time.Second):
		t.Fatal("duplicate reply never surfaced to the fallback dispatcher")
	}

	// Connection still healthy afterwards.
	if _, err := client.Request(ctx, 1, "again", nil); err != nil {
		t.Fatalf("follow-up request: %v", err)
	}
}

func TestPingPong(t *testing.T) {
	client, server := newLoopback(nil, transport.DispatcherFunc(func(*transport.Conn, *transport.Message) {}))
	defer client.Close()
	defer server.Close()

	go server.RecvLoop(context.Background())
	go client.RecvLoop(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := client.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
	time.Sleep(50 * time.Millisecond) // let the pong round-trip land
}
