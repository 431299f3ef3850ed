/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package headers_test

import (
	"testing"

	"github.com/cifrazia/cats-go/headers"
)

func TestKeyNormalization(t *testing.T) {
	cases := map[string]string{
		"foo":      "Foo",
		"offset":   "Offset",
		"adler32":  "Adler32",
		"x foo":    "X-Foo",
		"api key":  "Api-Key",
		"Api-Key":  "Api-Key",
		"already":  "Already",
	}
	for in, want := range cases {
		if got := headers.Key(in); got != want {
			t.Errorf("Key(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewExposesNormalizedKeys(t *testing.T) {
	h := headers.New(map[string]any{"foo": 1, "offset": 2})
	if v, ok := h.Get("Foo"); !ok || v.(int) != 1 {
		t.Fatalf("expected Foo=1, got %v ok=%v", v, ok)
	}
	if v, ok := h.Get("Offset"); !ok || v.(int) != 2 {
		t.Fatalf("expected Offset=2, got %v ok=%v", v, ok)
	}
}

func TestValidateRejectsNegativeOffset(t *testing.T) {
	h := headers.New(map[string]any{"offset": -1})
	if err := headers.Validate(h); err == nil {
		t.Fatal("expected error for negative Offset")
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	h := headers.New(map[string]any{"status": 200, "offset": 5})
	buf := headers.Encode(h)
	got := headers.Decode(buf)
	if got.Status() != 200 {
		t.Fatalf("status round trip: got %d", got.Status())
	}
	if got.Offset() != 5 {
		t.Fatalf("offset round trip: got %d", got.Offset())
	}
}

func TestDecodeMalformedYieldsEmpty(t *testing.T) {
	got := headers.Decode([]byte("not json"))
	if len(got) != 0 {
		t.Fatalf("expected empty headers, got %v", got)
	}
}

func TestDefaults(t *testing.T) {
	h := headers.Headers{}
	if h.Status() != 200 {
		t.Fatalf("default status should be 200, got %d", h.Status())
	}
	if h.Offset() != 0 {
		t.Fatalf("default offset should be 0, got %d", h.Offset())
	}
	if h.Skip() != 0 {
		t.Fatalf("default skip should be 0, got %d", h.Skip())
	}
}
