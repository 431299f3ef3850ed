/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package client

import (
	"context"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cifrazia/cats-go/transport"
)

// pipeServer runs the accepting side of a loopback pair, returning the
// server conn once init completes.
func pipeServer(t *testing.T, nc net.Conn, dispatch transport.Dispatcher) <-chan *transport.Conn {
	t.Helper()
	out := make(chan *transport.Conn, 1)
	go func() {
		c, err := transport.Accept(context.Background(), nc, transport.AcceptOptions{
			Config:     transport.New(transport.WithIdleTimeout(0)),
			Dispatcher: dispatch,
		})
		if err != nil {
			t.Errorf("accept: %v", err)
			close(out)
			return
		}
		go c.RecvLoop(context.Background())
		out <- c
	}()
	return out
}

func newClientPair(t *testing.T, onInput InputHandler) (*Client, *transport.Conn) {
	t.Helper()
	a, b := net.Pipe()
	serverCh := pipeServer(t, b, nil)

	cl, err := Wrap(context.Background(), a, Options{
		Config:       transport.New(transport.WithIdleTimeout(0)),
		APIVersion:   1,
		OnInput:      onInput,
		PingInterval: -1,
	})
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}
	srv := <-serverCh
	if srv == nil {
		t.Fatal("server init failed")
	}
	t.Cleanup(func() { cl.Close(); srv.Close() })
	return cl, srv
}

func TestSubscriptionReceivesBroadcast(t *testing.T) {
	cl, srv := newClientPair(t, nil)

	got := make(chan *transport.Message, 1)
	cl.Subscribe(7, func(_ context.Context, msg *transport.Message) { got <- msg })

	if _, err := srv.Broadcast(context.Background(), 7, []byte("news"), nil); err != nil {
		t.Fatalf("broadcast: %v", err)
	}

	select {
	case msg := <-got:
		if string(msg.Data.([]byte)) != "news" {
			t.Fatalf("unexpected payload %v", msg.Data)
		}
		if !msg.IsBroadcast() {
			t.Fatalf("message_id %#04x not in broadcast range", msg.MessageID)
		}
	case <-time.After(time.Second):
		t.Fatal("broadcast never delivered")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	cl, srv := newClientPair(t, nil)

	var delivered int32
	subID := cl.Subscribe(7, func(context.Context, *transport.Message) {
		atomic.AddInt32(&delivered, 1)
	})
	cl.Unsubscribe(7, subID)

	if _, err := srv.Broadcast(context.Background(), 7, []byte("x"), nil); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	time.Sleep(200 * time.Millisecond)
	if n := atomic.LoadInt32(&delivered); n != 0 {
		t.Fatalf("callback ran %d times after unsubscribe", n)
	}
}

func TestBroadcastFansOutToAllSubscribers(t *testing.T) {
	cl, srv := newClientPair(t, nil)

	var delivered int32
	for i := 0; i < 3; i++ {
		cl.Subscribe(7, func(context.Context, *transport.Message) {
			atomic.AddInt32(&delivered, 1)
		})
	}
	if _, err := srv.Broadcast(context.Background(), 7, []byte("x"), nil); err != nil {
		t.Fatalf("broadcast: %v", err)
	}
	deadline := time.Now().Add(time.Second)
	for atomic.LoadInt32(&delivered) != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("delivered %d of 3", atomic.LoadInt32(&delivered))
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestNilInputHandlerCancelsAsk(t *testing.T) {
	cl, srv := newClientPair(t, nil) // no OnInput: asks are auto-cancelled
	_ = cl

	req := &transport.Message{Type: transport.ActionRequest, MessageID: 0x0042}
	_, err := srv.Ask(context.Background(), req, "anyone there?", nil, transport.AskOptions{Timeout: 2 * time.Second})
	if err == nil {
		t.Fatal("ask should fail when the client auto-cancels")
	}
}
