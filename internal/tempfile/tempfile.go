// Package tempfile is the single on-disk temp-file allocation collaborator
// the CATS core calls through: Make() -> path. Scoped ownership and the
// startup sweep of stale leftovers live here too, so the core never leaks
// a descriptor or an orphaned file.
/*
 * Copyright (c) 2024, Cifrazia. All rights reserved.
 */
package tempfile

import (
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/OneOfOne/xxhash"
	"github.com/karrick/godirwalk"

	"github.com/cifrazia/cats-go/internal/nlog"
)

var (
	dir     = os.TempDir()
	counter uint64
)

// SetDir overrides the directory Make() allocates into; used by tests and
// by server configuration to keep CATS scratch files off the system tmp.
func SetDir(path string) { dir = path }

// Make allocates a fresh, empty temp file and returns its path. The caller
// owns the returned path: it is never deleted by this package except via
// Sweep.
func Make() (string, error) {
	n := atomic.AddUint64(&counter, 1)
	seed := uint64(time.Now().UnixNano())
	sum := xxhash.Checksum64S([]byte{byte(n), byte(n >> 8), byte(n >> 16)}, seed)
	name := filepath.Join(dir, "cats-"+itoa(sum)+"-"+itoa(n)+".tmp")
	f, err := os.OpenFile(name, os.O_CREATE|os.O_EXCL|os.O_RDWR, 0o600)
	if err != nil {
		return "", err
	}
	return name, f.Close()
}

// Handle owns a temp file and deletes it exactly once, whether the action
// that allocated it finished normally, failed, or the connection closed --
// never relying on garbage-collector finalizer timing.
type Handle struct {
	Path string
	done uint32
}

// NewHandle wraps an already-allocated path for scoped cleanup.
func NewHandle(path string) *Handle { return &Handle{Path: path} }

// Close deletes the underlying file; safe to call more than once.
func (h *Handle) Close() error {
	if !atomic.CompareAndSwapUint32(&h.done, 0, 1) {
		return nil
	}
	return os.Remove(h.Path)
}

// Sweep walks dir and removes CATS scratch files older than maxAge to
// clear crash leftovers -- an explicit directory walk rather than relying
// on OS tmp-reaper cron jobs that may not be configured. server.NewRuntime
// runs it hourly through the housekeeper, the first time one hour after
// the runtime starts.
func Sweep(maxAge time.Duration) {
	cutoff := time.Now().Add(-maxAge)
	err := godirwalk.Walk(dir, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de.IsDir() || !de.IsRegular() {
				return nil
			}
			if !isCatsScratch(filepath.Base(path)) {
				return nil
			}
			info, err := os.Stat(path)
			if err != nil {
				return nil
			}
			if info.ModTime().Before(cutoff) {
				if err := os.Remove(path); err != nil {
					nlog.Warningf("tempfile: sweep failed to remove %s: %v", path, err)
				}
			}
			return nil
		},
	})
	if err != nil {
		nlog.Warningf("tempfile: sweep of %s failed: %v", dir, err)
	}
}

func isCatsScratch(name string) bool {
	return len(name) > 5 && name[:5] == "cats-"
}

func itoa(v uint64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}
