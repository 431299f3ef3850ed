/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package catsfile

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/teris-io/shortid"
	"github.com/tidwall/buntdb"

	"github.com/cifrazia/cats-go/catserr"
	"github.com/cifrazia/cats-go/internal/nlog"
)

// Store is a content-addressed cache of compiled actions: .cats files in a
// directory plus a buntdb index mapping content key -> file path and expiry,
// so a lookup or an expiry sweep never walks the directory. The .cats files
// themselves remain the flat Meta-prefixed format -- the index only records
// which entries exist.
type Store struct {
	dir string
	db  *buntdb.DB
}

const indexTTLKey = "exp:" // secondary index prefix for expiry ordering

// OpenStore opens (or creates) a cache directory and its index.
func OpenStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, catserr.Wrap(catserr.KindCodecError, err, "failed to create cache dir")
	}
	db, err := buntdb.Open(filepath.Join(dir, "index.db"))
	if err != nil {
		return nil, catserr.Wrap(catserr.KindCodecError, err, "failed to open cache index")
	}
	if err := db.CreateIndex("expiry", indexTTLKey+"*", buntdb.IndexInt); err != nil && err != buntdb.ErrIndexExists {
		db.Close()
		return nil, catserr.Wrap(catserr.KindCodecError, err, "failed to create expiry index")
	}
	return &Store{dir: dir, db: db}, nil
}

// Close closes the index; cached files stay on disk.
func (s *Store) Close() error { return s.db.Close() }

// Key derives the cache key for a compiled payload.
func Key(compiled []byte) string {
	return strconv.FormatUint(xxhash.Checksum64(compiled), 16)
}

// Put stores compiled under its content key with the given compressor id and
// ttl (0 = never expires), returning the key. An existing entry for the
// same content is overwritten.
func (s *Store) Put(compiled []byte, compressor uint8, ttl time.Duration) (string, error) {
	key := Key(compiled)
	id, err := shortid.Generate()
	if err != nil {
		id = key
	}
	path := filepath.Join(s.dir, id+".cats")

	meta := Meta{
		CreatedAt:  uint64(time.Now().Unix()),
		Compressor: compressor,
	}
	if ttl > 0 {
		meta.ExpiredAt = uint64(time.Now().Add(ttl).Unix())
	}
	if err := Save(path, meta, compiled); err != nil {
		return "", err
	}

	err = s.db.Update(func(tx *buntdb.Tx) error {
		if old, err := tx.Get("key:" + key); err == nil {
			_ = os.Remove(old)
		}
		if _, _, err := tx.Set("key:"+key, path, nil); err != nil {
			return err
		}
		_, _, err := tx.Set(indexTTLKey+key, strconv.FormatUint(meta.ExpiredAt, 10), nil)
		return err
	})
	if err != nil {
		_ = os.Remove(path)
		return "", catserr.Wrap(catserr.KindCodecError, err, "failed to index cache entry")
	}
	return key, nil
}

// Get loads the cached compiled bytes for key, bumping the entry's
// times_used. Expired or missing entries report ok=false.
func (s *Store) Get(key string) (compiled []byte, meta Meta, ok bool) {
	var path string
	err := s.db.View(func(tx *buntdb.Tx) error {
		p, err := tx.Get("key:" + key)
		path = p
		return err
	})
	if err != nil {
		return nil, Meta{}, false
	}
	meta, compiled, err = Load(path)
	if err != nil {
		nlog.Warningf("catsfile: dropping unreadable cache entry %s: %v", path, err)
		s.remove(key, path)
		return nil, Meta{}, false
	}
	if meta.Expired(time.Now()) {
		s.remove(key, path)
		return nil, Meta{}, false
	}
	return compiled, meta, true
}

func (s *Store) remove(key, path string) {
	_ = os.Remove(path)
	_ = s.db.Update(func(tx *buntdb.Tx) error {
		_, _ = tx.Delete("key:" + key)
		_, _ = tx.Delete(indexTTLKey + key)
		return nil
	})
}

// Sweep deletes every expired entry, walking only the index. Returns the
// number of entries removed.
func (s *Store) Sweep() int {
	now := uint64(time.Now().Unix())
	type victim struct{ key, path string }
	var victims []victim

	_ = s.db.View(func(tx *buntdb.Tx) error {
		return tx.Ascend("expiry", func(k, v string) bool {
			exp, err := strconv.ParseUint(v, 10, 64)
			if err != nil || exp == 0 || exp > now {
				return true
			}
			key := k[len(indexTTLKey):]
			path, err := tx.Get("key:" + key)
			if err == nil {
				victims = append(victims, victim{key, path})
			}
			return true
		})
	})

	for _, v := range victims {
		s.remove(v.key, v.path)
	}
	if len(victims) > 0 {
		nlog.Infof("catsfile: swept %d expired cache entries", len(victims))
	}
	return len(victims)
}
