// Package housekeep provides a mechanism for registering cleanup functions
// which are invoked at specified intervals: temp-file sweeps, cache expiry,
// and similar background chores. A callback returns the interval until its
// next invocation; returning Unregister removes it.
/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package housekeep

import (
	"container/heap"
	"sync"
	"time"

	"github.com/cifrazia/cats-go/internal/nlog"
)

// Unregister, returned from a CleanupFunc, removes the callback.
const Unregister = time.Duration(-1)

// CleanupFunc runs one chore and returns the delay until its next run.
type CleanupFunc func() time.Duration

type entry struct {
	name string
	fn   CleanupFunc
	at   time.Time
	idx  int
}

type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].at.Before(h[j].at) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].idx, h[j].idx = i, j }
func (h *entryHeap) Push(x any)         { e := x.(*entry); e.idx = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Keeper schedules registered cleanup callbacks on one goroutine. Owned by
// whoever constructs it rather than process-global, so tests and embedders
// can run isolated instances.
type Keeper struct {
	mu      sync.Mutex
	entries entryHeap
	byName  map[string]*entry
	wake    chan struct{}
	stop    chan struct{}
	stopped sync.Once
}

// New builds a Keeper; callers start it with go k.Run().
func New() *Keeper {
	return &Keeper{
		byName: make(map[string]*entry),
		wake:   make(chan struct{}, 1),
		stop:   make(chan struct{}),
	}
}

// Reg registers fn under name to first run after initial. Re-registering a
// name reschedules it.
func (k *Keeper) Reg(name string, fn CleanupFunc, initial time.Duration) {
	k.mu.Lock()
	if old, ok := k.byName[name]; ok {
		heap.Remove(&k.entries, old.idx)
	}
	e := &entry{name: name, fn: fn, at: time.Now().Add(initial)}
	k.byName[name] = e
	heap.Push(&k.entries, e)
	k.mu.Unlock()
	k.poke()
}

// Unreg removes the named callback.
func (k *Keeper) Unreg(name string) {
	k.mu.Lock()
	if e, ok := k.byName[name]; ok {
		heap.Remove(&k.entries, e.idx)
		delete(k.byName, name)
	}
	k.mu.Unlock()
	k.poke()
}

func (k *Keeper) poke() {
	select {
	case k.wake <- struct{}{}:
	default:
	}
}

// Run dispatches callbacks until Stop is called.
func (k *Keeper) Run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()
	for {
		k.mu.Lock()
		var next time.Duration
		if len(k.entries) == 0 {
			next = time.Hour
		} else {
			next = time.Until(k.entries[0].at)
		}
		k.mu.Unlock()

		if next > 0 {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(next)
			select {
			case <-timer.C:
			case <-k.wake:
				continue
			case <-k.stop:
				return
			}
		}

		k.mu.Lock()
		if len(k.entries) == 0 || k.entries[0].at.After(time.Now()) {
			k.mu.Unlock()
			continue
		}
		e := k.entries[0]
		k.mu.Unlock()

		interval := safeRun(e)

		k.mu.Lock()
		// The entry may have been Unreg'd or rescheduled while running.
		if cur, ok := k.byName[e.name]; ok && cur == e {
			if interval == Unregister {
				heap.Remove(&k.entries, e.idx)
				delete(k.byName, e.name)
			} else {
				e.at = time.Now().Add(interval)
				heap.Fix(&k.entries, e.idx)
			}
		}
		k.mu.Unlock()
	}
}

func safeRun(e *entry) (interval time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			nlog.Errorf("housekeep: %q panicked: %v", e.name, r)
			interval = time.Minute
		}
	}()
	return e.fn()
}

// Stop terminates Run.
func (k *Keeper) Stop() {
	k.stopped.Do(func() { close(k.stop) })
}
