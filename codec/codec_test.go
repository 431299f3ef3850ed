/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package codec

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/cifrazia/cats-go/headers"
	"github.com/cifrazia/cats-go/scheme"
)

func jsonOpts(t *testing.T) Options {
	t.Helper()
	s, ok := scheme.Find("json")
	if !ok {
		t.Fatal("json scheme missing")
	}
	return Options{Scheme: s}
}

func TestEncodeAnyPicksBytesForRawBytes(t *testing.T) {
	encoded, id, err := EncodeAny([]byte{1, 2, 3}, headers.Headers{}, jsonOpts(t))
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if id != Bytes {
		t.Fatalf("expected bytes codec, got %d", id)
	}
	if !bytes.Equal(encoded.([]byte), []byte{1, 2, 3}) {
		t.Fatal("bytes codec must pass through")
	}
}

func TestEncodeAnyPicksSchemeForDocuments(t *testing.T) {
	for _, data := range []any{nil, true, 3.5, "text", []any{1, 2}, map[string]any{"a": 1}} {
		_, id, err := EncodeAny(data, headers.Headers{}, jsonOpts(t))
		if err != nil {
			t.Fatalf("%T: %v", data, err)
		}
		if id != Scheme {
			t.Fatalf("%T: expected scheme codec, got %d", data, id)
		}
	}
}

type signUpForm struct{ name string }

func (f *signUpForm) Load(data any) error { return nil }
func (f *signUpForm) Dump() (any, error)  { return map[string]any{"name": f.name}, nil }

func TestSchemeCodecDumpsForms(t *testing.T) {
	opts := jsonOpts(t)
	encoded, id, err := EncodeAny(&signUpForm{name: "adam"}, headers.Headers{}, opts)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if id != Scheme {
		t.Fatalf("expected scheme codec, got %d", id)
	}
	decoded, err := Decode(Scheme, encoded, headers.Headers{}, opts)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m, ok := decoded.(map[string]any)
	if !ok || m["name"] != "adam" {
		t.Fatalf("form did not round trip: %v", decoded)
	}
}

func TestSchemeDecodeEmptyYieldsEmptyMapping(t *testing.T) {
	decoded, err := Decode(Scheme, []byte{}, headers.Headers{}, jsonOpts(t))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	m, ok := decoded.(map[string]any)
	if !ok || len(m) != 0 {
		t.Fatalf("expected empty mapping, got %v", decoded)
	}
}

func TestFilesRoundTrip(t *testing.T) {
	dir := t.TempDir()
	pathA := filepath.Join(dir, "a.txt")
	pathB := filepath.Join(dir, "b.txt")
	if err := os.WriteFile(pathA, []byte("alpha"), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pathB, []byte("bravo-bravo"), 0o600); err != nil {
		t.Fatal(err)
	}

	h := headers.Headers{}
	encoded, err := NewFileCodec().Encode([]string{pathA, pathB}, h, Options{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !h.Has("Files") {
		t.Fatal("encode must set the Files header")
	}

	decoded, err := NewFileCodec().Decode(encoded, h, Options{})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	files, ok := decoded.(Files)
	if !ok {
		t.Fatalf("expected Files, got %T", decoded)
	}
	defer files.Close()

	wants := map[string]string{"a.txt": "alpha", "b.txt": "bravo-bravo"}
	if len(files) != len(wants) {
		t.Fatalf("expected %d files, got %d", len(wants), len(files))
	}
	for key, want := range wants {
		info, ok := files[key]
		if !ok {
			t.Fatalf("missing file %q", key)
		}
		body, err := os.ReadFile(info.Path)
		if err != nil {
			t.Fatalf("read %q: %v", key, err)
		}
		if string(body) != want {
			t.Fatalf("%q: got %q want %q", key, body, want)
		}
	}
}

func TestFilesDecodeShortInputFails(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "a.txt")
	if err := os.WriteFile(path, []byte("full contents"), 0o600); err != nil {
		t.Fatal(err)
	}
	h := headers.Headers{}
	if _, err := NewFileCodec().Encode(path, h, Options{}); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := NewFileCodec().Decode([]byte("short"), h, Options{}); err == nil {
		t.Fatal("short input must fail against the Files header")
	}
}
