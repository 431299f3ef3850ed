// Package server implements the CATS handler registry, declarative guard
// rules, middleware chain, channel broadcast and the per-connection accept
// loop.
/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package server

import (
	"context"
	"sort"

	"golang.org/x/sync/singleflight"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/headers"
	"github.com/cifrazia/cats-go/transport"
)

// HandlerFunc is the application code a handler registration runs once its
// rules have passed. It returns the response payload (and
// optional headers to merge into the reply), or an error that the
// middleware chain's default error handler translates to a status.
type HandlerFunc func(ctx context.Context, c *transport.Conn, msg *transport.Message) (data any, h headers.Headers, err error)

// HandlerItem is one versioned registration for a handler id.
// Version == EndVersion == 0 is the unversioned wildcard; EndVersion == 0
// with Version > 0 is an open-ended [Version, ∞) range.
type HandlerItem struct {
	ID         uint16
	Name       string
	Version    int
	EndVersion int
	Rules      Rules
	Fn         HandlerFunc
}

func (h *HandlerItem) isWildcard() bool { return h.Version == 0 && h.EndVersion == 0 }

func (h *HandlerItem) endOrMax() int {
	if h.EndVersion == 0 {
		return int(^uint(0) >> 1)
	}
	return h.EndVersion
}

func (h *HandlerItem) matches(apiVersion int) bool {
	if h.isWildcard() {
		return true
	}
	return apiVersion >= h.Version && apiVersion <= h.endOrMax()
}

// Api is the server-wide handler registry: items grouped by id, each
// group's versioned entries kept sorted and non-overlapping.
type Api struct {
	items map[uint16][]*HandlerItem
	group singleflight.Group
}

// NewApi builds an empty registry.
func NewApi() *Api { return &Api{items: make(map[uint16][]*HandlerItem)} }

// Register adds item to the registry, failing if it would create an
// overlapping version range or a duplicate wildcard for the same id.
func (a *Api) Register(item *HandlerItem) error {
	existing := a.items[item.ID]
	for _, e := range existing {
		if e.isWildcard() || item.isWildcard() {
			return catserr.Newf(catserr.KindProtocolViolation, "handler %d: wildcard registration cannot coexist with versioned ones", item.ID)
		}
		if item.Version <= e.endOrMax() && item.endOrMax() >= e.Version {
			return catserr.Newf(catserr.KindProtocolViolation, "handler %d: version range [%d,%d] overlaps [%d,%d]", item.ID, item.Version, item.EndVersion, e.Version, e.EndVersion)
		}
	}
	a.items[item.ID] = append(existing, item)
	sort.Slice(a.items[item.ID], func(i, j int) bool {
		return a.items[item.ID][i].Version < a.items[item.ID][j].Version
	})
	return nil
}

// Resolve finds the first registered item for handlerID whose version
// range contains apiVersion; no match is a protocol
// failure. Concurrent resolutions of the same (id, apiVersion) pair are
// collapsed via singleflight into one walk of the version list; results
// are not cached, so a later call walks the list again.
func (a *Api) Resolve(handlerID uint16, apiVersion int) (*HandlerItem, error) {
	key := resolveKey(handlerID, apiVersion)
	v, err, _ := a.group.Do(key, func() (any, error) {
		for _, item := range a.items[handlerID] {
			if item.matches(apiVersion) {
				return item, nil
			}
		}
		return nil, catserr.Newf(catserr.KindProtocolViolation, "no handler %d registered for api version %d", handlerID, apiVersion)
	})
	if err != nil {
		return nil, err
	}
	return v.(*HandlerItem), nil
}

func resolveKey(handlerID uint16, apiVersion int) string {
	buf := make([]byte, 0, 16)
	buf = appendUint(buf, uint64(handlerID))
	buf = append(buf, ':')
	buf = appendUint(buf, uint64(apiVersion))
	return string(buf)
}

func appendUint(buf []byte, n uint64) []byte {
	if n == 0 {
		return append(buf, '0')
	}
	var tmp [20]byte
	i := len(tmp)
	for n > 0 {
		i--
		tmp[i] = byte('0' + n%10)
		n /= 10
	}
	return append(buf, tmp[i:]...)
}
