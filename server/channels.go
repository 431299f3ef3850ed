/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package server

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/cifrazia/cats-go/headers"
	"github.com/cifrazia/cats-go/internal/nlog"
	"github.com/cifrazia/cats-go/transport"
)

// Channels is the server-wide channel table: name -> ordered member list,
// insertion order preserved, membership idempotent. Mutated from
// accept/close paths and explicit attach/detach only; the mutex makes
// those paths safe under Go's preemptive scheduler.
type Channels struct {
	mu sync.Mutex
	m  map[string][]*transport.Conn
}

// NewChannels builds an empty channel table.
func NewChannels() *Channels {
	return &Channels{m: make(map[string][]*transport.Conn)}
}

// Attach adds c to the named channel; attaching an existing member is a
// no-op.
func (ch *Channels) Attach(name string, c *transport.Conn) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for _, member := range ch.m[name] {
		if member == c {
			return
		}
	}
	ch.m[name] = append(ch.m[name], c)
}

// Detach removes c from the named channel.
func (ch *Channels) Detach(name string, c *transport.Conn) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	members := ch.m[name]
	for i, member := range members {
		if member == c {
			ch.m[name] = append(members[:i], members[i+1:]...)
			if len(ch.m[name]) == 0 {
				delete(ch.m, name)
			}
			return
		}
	}
}

// Clear empties the named channel.
func (ch *Channels) Clear(name string) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	delete(ch.m, name)
}

// RemoveConn detaches c from every channel it is a member of -- the close
// path's counterpart to the strong references the table holds, so a
// departed connection never lingers in a member list.
func (ch *Channels) RemoveConn(c *transport.Conn) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for name, members := range ch.m {
		for i, member := range members {
			if member == c {
				ch.m[name] = append(members[:i], members[i+1:]...)
				if len(ch.m[name]) == 0 {
					delete(ch.m, name)
				}
				break
			}
		}
	}
}

// Members returns a snapshot of the named channel's member list.
func (ch *Channels) Members(name string) []*transport.Conn {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return append([]*transport.Conn(nil), ch.m[name]...)
}

// broadcast fans a Request action with a server-range message_id out to
// every member passing cond (nil = all), concurrently via an errgroup so
// a slow member cannot stall delivery to the rest; there is no
// cross-member delivery order.
// Individual member failures are logged and do not fail the broadcast.
func (ch *Channels) broadcast(ctx context.Context, name string, handlerID uint16, data any, h headers.Headers, cond func(*transport.Conn) bool) error {
	members := ch.Members(name)
	var g errgroup.Group
	for _, member := range members {
		member := member
		if cond != nil && !cond(member) {
			continue
		}
		g.Go(func() error {
			if _, err := member.Broadcast(ctx, handlerID, data, h); err != nil {
				nlog.Warningf("server: broadcast %q to %s failed: %v", name, member.RemoteAddr(), err)
			}
			return nil
		})
	}
	return g.Wait()
}
