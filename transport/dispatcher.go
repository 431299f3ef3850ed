/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package transport

// Dispatcher is the single hand-off point from the wire engine to
// application-level code: invoked for every inbound Request/Stream/Input
// action that did not fulfil a pending recv future or a pending input.
// The server package implements it with
// handler-registry dispatch; the client package implements it with
// subscription-broadcast demux and unsolicited-input delivery.
type Dispatcher interface {
	Dispatch(c *Conn, msg *Message)
}

// DispatcherFunc adapts a plain function to Dispatcher.
type DispatcherFunc func(c *Conn, msg *Message)

func (f DispatcherFunc) Dispatch(c *Conn, msg *Message) { f(c, msg) }
