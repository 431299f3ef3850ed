// Package catsfile implements the optional on-disk .cats artifact: a fixed
// Meta struct followed by an action's compiled byte sequence. It is a local
// cache format, not a protocol feature -- nothing in the wire engine depends
// on it, and a cache directory may be dropped and rebuilt at will.
/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package catsfile

import (
	"encoding/binary"
	"os"
	"time"

	"github.com/cifrazia/cats-go/catserr"
)

// MetaVersion is the current .cats Meta layout version.
const MetaVersion uint32 = 2

// metaSize is the fixed on-disk Meta length: version(4) + created_at(8) +
// expired_at(8) + compressor(1) + times_used(4).
const metaSize = 25

// Meta is the fixed header every .cats file starts with.
type Meta struct {
	Version    uint32
	CreatedAt  uint64 // unix seconds
	ExpiredAt  uint64 // unix seconds; 0 = never
	Compressor uint8
	TimesUsed  uint32
}

// Expired reports whether the entry's ttl has passed.
func (m *Meta) Expired(now time.Time) bool {
	return m.ExpiredAt != 0 && uint64(now.Unix()) >= m.ExpiredAt
}

func (m *Meta) marshal() []byte {
	buf := make([]byte, metaSize)
	binary.BigEndian.PutUint32(buf[0:4], m.Version)
	binary.BigEndian.PutUint64(buf[4:12], m.CreatedAt)
	binary.BigEndian.PutUint64(buf[12:20], m.ExpiredAt)
	buf[20] = m.Compressor
	binary.BigEndian.PutUint32(buf[21:25], m.TimesUsed)
	return buf
}

func unmarshalMeta(buf []byte) (Meta, error) {
	if len(buf) < metaSize {
		return Meta{}, catserr.Newf(catserr.KindMalformedData, "cats file meta truncated: %d bytes", len(buf))
	}
	m := Meta{
		Version:    binary.BigEndian.Uint32(buf[0:4]),
		CreatedAt:  binary.BigEndian.Uint64(buf[4:12]),
		ExpiredAt:  binary.BigEndian.Uint64(buf[12:20]),
		Compressor: buf[20],
		TimesUsed:  binary.BigEndian.Uint32(buf[21:25]),
	}
	if m.Version != MetaVersion {
		return Meta{}, catserr.Newf(catserr.KindMalformedData, "unsupported cats file version %d", m.Version)
	}
	return m, nil
}

// Save writes a .cats file at path: Meta followed by the compiled action
// bytes.
func Save(path string, meta Meta, compiled []byte) error {
	meta.Version = MetaVersion
	if meta.CreatedAt == 0 {
		meta.CreatedAt = uint64(time.Now().Unix())
	}
	buf := append(meta.marshal(), compiled...)
	if err := os.WriteFile(path, buf, 0o600); err != nil {
		return catserr.Wrap(catserr.KindCodecError, err, "failed to write cats file")
	}
	return nil
}

// Load reads a .cats file and increments its times_used counter in place.
func Load(path string) (Meta, []byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Meta{}, nil, catserr.Wrap(catserr.KindCodecError, err, "failed to read cats file")
	}
	meta, err := unmarshalMeta(raw)
	if err != nil {
		return Meta{}, nil, err
	}
	compiled := raw[metaSize:]

	meta.TimesUsed++
	f, err := os.OpenFile(path, os.O_WRONLY, 0o600)
	if err != nil {
		return Meta{}, nil, catserr.Wrap(catserr.KindCodecError, err, "failed to reopen cats file")
	}
	defer f.Close()
	counter := make([]byte, 4)
	binary.BigEndian.PutUint32(counter, meta.TimesUsed)
	if _, err := f.WriteAt(counter, 21); err != nil {
		return Meta{}, nil, catserr.Wrap(catserr.KindCodecError, err, "failed to bump times_used")
	}
	return meta, compiled, nil
}
