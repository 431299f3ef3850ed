/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package transport_test

import (
	"context"
	"net"

	"github.com/cifrazia/cats-go/transport"
)

// newLoopback wires a client/server pair over net.Pipe and runs the init
// sequence on both sides, panicking on failure -- acceptable in test-only
// helper code since a failed handshake here always indicates a broken test
// fixture, not a case under test.
func newLoopback(clientDispatch, serverDispatch transport.Dispatcher) (client, server *transport.Conn) {
	a, b := net.Pipe()

	type result struct {
		c   *transport.Conn
		err error
	}
	clientCh := make(chan result, 1)
	serverCh := make(chan result, 1)

	go func() {
		c, err := transport.Accept(context.Background(), b, transport.AcceptOptions{Dispatcher: serverDispatch})
		serverCh <- result{c, err}
	}()
	go func() {
		c, err := transport.Dial(context.Background(), a, transport.DialOptions{Dispatcher: clientDispatch})
		clientCh <- result{c, err}
	}()

	cr := <-clientCh
	sr := <-serverCh
	if cr.err != nil {
		panic(cr.err)
	}
	if sr.err != nil {
		panic(sr.err)
	}
	return cr.c, sr.c
}
