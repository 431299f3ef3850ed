// Package breadcrumb keeps a small rolling history of connection-lifecycle
// events (sign-in/out, dispatches, close reason) for post-mortem logging,
// without shipping events anywhere off-process.
/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package breadcrumb

import (
	"fmt"
	"sync"
	"time"
)

// Crumb is a single recorded event.
type Crumb struct {
	At      time.Time
	Message string
	Data    map[string]any
}

// Scope is a bounded, mutex-guarded ring of Crumbs plus a current "user"
// (identity) tag, kept in-process with no external sink.
type Scope struct {
	mu     sync.Mutex
	crumbs []Crumb
	cap    int
	user   map[string]any
}

// NewScope returns a Scope retaining at most capacity crumbs.
func NewScope(capacity int) *Scope {
	if capacity <= 0 {
		capacity = 32
	}
	return &Scope{cap: capacity}
}

// Add records a breadcrumb, evicting the oldest entry once full.
func (s *Scope) Add(message string, data map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.crumbs) >= s.cap {
		s.crumbs = s.crumbs[1:]
	}
	s.crumbs = append(s.crumbs, Crumb{At: time.Now(), Message: message, Data: data})
}

// SetUser tags the scope with the currently signed-in identity, or clears
// it when passed nil.
func (s *Scope) SetUser(user map[string]any) {
	s.mu.Lock()
	s.user = user
	s.mu.Unlock()
}

// Dump renders the scope for inclusion in an error log line.
func (s *Scope) Dump() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := fmt.Sprintf("user=%v trail=[", s.user)
	for i, c := range s.crumbs {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%s@%s", c.Message, c.At.Format(time.RFC3339))
	}
	return out + "]"
}
