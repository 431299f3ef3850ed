/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package server

import (
	"net"
	"testing"

	"github.com/cifrazia/cats-go/transport"
)

// testConn builds a Conn over a dangling pipe end -- enough for code that
// only touches connection state (identity, config), with no wire traffic.
func testConn(t *testing.T, identity any) *transport.Conn {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() { a.Close(); b.Close() })
	c := transport.NewConn(a, transport.New(transport.WithIdleTimeout(0)), true, nil)
	if identity != nil {
		c.SetIdentity(identity)
	}
	return c
}
