/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package transport

import (
	"math/rand"
	"sync"
	"time"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/cifrazia/cats-go/catserr"
)

// Message-id ranges: client-originated ids live in the low half,
// server broadcast ids in the high half.
const (
	ClientIDMin uint16 = 0x0000
	ClientIDMax uint16 = 0x7FFF
	ServerIDMin uint16 = 0x8000
	ServerIDMax uint16 = 0xFFFF
)

// idSet tracks reserved message ids for one connection. A cuckoo filter
// (domain stack: github.com/seiflotfy/cuckoofilter) sits in front of the
// exact map as a fast "definitely free" pre-check so the common allocation
// path on a busy connection skips the mutex-guarded map lookup entirely;
// the map remains the source of truth for membership and for the blocking
// preserve/release semantics.
type idSet struct {
	mu       sync.Mutex
	cond     *sync.Cond
	reserved map[uint16]struct{}
	filter   *cuckoo.Filter
	rng      *rand.Rand
}

func newIDSet() *idSet {
	s := &idSet{
		reserved: make(map[uint16]struct{}),
		filter:   cuckoo.NewFilter(1024),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())), //nolint:gosec // ids are not security tokens
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

func idKey(id uint16) []byte { return []byte{byte(id >> 8), byte(id)} }

// Preserve reserves id, blocking while it is currently held by another
// interaction, and holds it until Release. A peer attempting to reserve an id that
// the *local* interaction just registered for its own outbound request
// races only with itself and never blocks in practice; the wait exists for
// the case of a duplicate inbound reservation arriving mid-flight.
func (s *idSet) Preserve(id uint16) {
	s.mu.Lock()
	for {
		if _, held := s.reserved[id]; !held {
			break
		}
		s.cond.Wait()
	}
	s.reserved[id] = struct{}{}
	s.filter.InsertUnique(idKey(id))
	s.mu.Unlock()
}

// PreserveExclusive reserves id, returning a ProtocolViolation error
// instead of blocking if it is already held -- used for ids arriving from
// the peer on the wire, where a duplicate reservation is a protocol error
// rather than a legitimate race.
func (s *idSet) PreserveExclusive(id uint16) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, held := s.reserved[id]; held {
		return catserr.Newf(catserr.KindProtocolViolation, "message_id %#04x already reserved", id)
	}
	s.reserved[id] = struct{}{}
	s.filter.InsertUnique(idKey(id))
	return nil
}

// Release frees id and wakes any goroutine blocked in Preserve.
func (s *idSet) Release(id uint16) {
	s.mu.Lock()
	delete(s.reserved, id)
	s.filter.Delete(idKey(id))
	s.cond.Broadcast()
	s.mu.Unlock()
}

// Held reports whether id is currently reserved, consulting the cuckoo
// filter first: a filter miss means "definitely free" and skips the map
// lookup; a filter hit falls through to the exact check since the filter
// itself may false-positive.
func (s *idSet) Held(id uint16) bool {
	if !s.filter.Lookup(idKey(id)) {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.reserved[id]
	return ok
}

func (s *idSet) allocate(min, max uint16) uint16 {
	span := uint32(max-min) + 1
	for {
		s.mu.Lock()
		id := min + uint16(s.rng.Uint32()%span)
		s.mu.Unlock()
		if !s.Held(id) {
			return id
		}
	}
}

// AllocateClient draws a random unused id in [0x0000, 0x7FFF].
func (s *idSet) AllocateClient() uint16 { return s.allocate(ClientIDMin, ClientIDMax) }

// AllocateBroadcast draws a random unused id in [0x8000, 0xFFFF].
func (s *idSet) AllocateBroadcast() uint16 { return s.allocate(ServerIDMin, ServerIDMax) }
