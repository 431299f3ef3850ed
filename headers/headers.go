// Package headers implements the CATS headers envelope: a case-insensitive
// mapping from header name to JSON-serializable value with deterministic
// key normalization.
/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package headers

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
)

// Reserved header names, normalized.
const (
	Status  = "Status"
	Offset  = "Offset"
	Skip    = "Skip"
	Files   = "Files"
	Adler32 = "Adler32"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Headers is a normalized string-keyed map. Zero value is usable.
type Headers map[string]any

// New builds a Headers from a plain map, normalizing every key.
func New(src map[string]any) Headers {
	h := make(Headers, len(src))
	for k, v := range src {
		h[Key(k)] = v
	}
	return h
}

// Key normalizes a header name: replace spaces with hyphens, then
// title-case each hyphen-separated segment -- "offset" -> "Offset",
// "adler32" -> "Adler32", "x foo-bar" -> "X-Foo-Bar".
func Key(key string) string {
	key = strings.ReplaceAll(key, " ", "-")
	parts := strings.Split(key, "-")
	for i, p := range parts {
		if p == "" {
			continue
		}
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return strings.Join(parts, "-")
}

// Get returns the normalized value and whether it was present.
func (h Headers) Get(key string) (any, bool) {
	v, ok := h[Key(key)]
	return v, ok
}

// GetDefault returns the value for key, or def if absent.
func (h Headers) GetDefault(key string, def any) any {
	if v, ok := h.Get(key); ok {
		return v
	}
	return def
}

// Set stores value under the normalized key.
func (h Headers) Set(key string, value any) { h[Key(key)] = value }

// Del removes the normalized key.
func (h Headers) Del(key string) { delete(h, Key(key)) }

// Has reports membership of the normalized key.
func (h Headers) Has(key string) bool {
	_, ok := h[Key(key)]
	return ok
}

// Update merges src into h, normalizing every key; non-string keys cannot
// occur in Go's map[string]any, so this only applies the rename.
func (h Headers) Update(src map[string]any) {
	for k, v := range src {
		h[Key(k)] = v
	}
}

// Status returns the Status header, defaulting to 200.
func (h Headers) Status() int {
	v, ok := h.Get(Status)
	if !ok {
		return 200
	}
	return toInt(v, 200)
}

// SetStatus sets the Status header.
func (h Headers) SetStatus(code int) { h.Set(Status, code) }

// Offset returns the Offset header, defaulting to 0.
func (h Headers) Offset() int { return toInt(h.GetDefault(Offset, 0), 0) }

// SetOffset sets the Offset header.
func (h Headers) SetOffset(n int) { h.Set(Offset, n) }

// Skip returns the Skip header, defaulting to 0.
func (h Headers) Skip() int { return toInt(h.GetDefault(Skip, 0), 0) }

// SetSkip sets the Skip header.
func (h Headers) SetSkip(n int) { h.Set(Skip, n) }

func toInt(v any, def int) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	default:
		return def
	}
}

// Encode serializes h for the wire. The headers envelope is always JSON
// regardless of the connection's document scheme -- JSON text never
// contains the raw 0x00 0x00 terminator that delimits the envelope; only
// the payload scheme is negotiable.
func Encode(h Headers) []byte {
	if h == nil {
		h = Headers{}
	}
	buf, err := json.Marshal(map[string]any(h))
	if err != nil {
		// Encoding a JSON-serializable map cannot fail in practice; fall
		// back to an empty envelope rather than propagate.
		return []byte("{}")
	}
	return buf
}

// Decode parses a headers envelope. A decoding failure yields an empty
// Headers instead of propagating -- malformed headers are treated as
// absent.
func Decode(buf []byte) Headers {
	if len(buf) == 0 {
		return Headers{}
	}
	raw := map[string]any{}
	if err := json.Unmarshal(buf, &raw); err != nil {
		return Headers{}
	}
	return New(raw)
}
