// Package atomicfile provides the crash-safe write pattern every JSON-backed
// store in this module uses: write to a temp file in the destination
// directory, then rename over the target, with a cross-process advisory
// lock held for the duration so two processes never interleave a
// read-modify-write cycle against the same workspace file.
package atomicfile

import (
	"context"
	"os"
	"path/filepath"

	"time"

	"github.com/gofrs/flock"
	"github.com/squadcore/core/internal/squaderr"
)

const defaultRetryInterval = 25 * time.Millisecond

// Write atomically replaces path's contents with data: MkdirAll the parent,
// write to a temp file, close, then rename over path. The temp file is
// removed on every failure branch so a failed write never leaves a stray .tmp-*
// file with stale contents that a later reader could mistake for data.
func Write(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return squaderr.IOFailure("mkdir "+dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return squaderr.IOFailure("create temp for "+path, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return squaderr.IOFailure("write "+path, err)
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return squaderr.IOFailure("chmod "+path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return squaderr.IOFailure("close temp for "+path, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return squaderr.IOFailure("rename into "+path, err)
	}

	return nil
}

// Lock is an advisory, cross-process file lock guarding a workspace
// resource (e.g. the work-state JSON file) so that concurrent squadcore
// processes sharing a workspace do not race a read-modify-write cycle.
// It is a thin wrapper around gofrs/flock; the teacher's own filestore
// never needed this because its entries are single-writer-per-key, but the
// work-state and signal stores here are read-modify-written as a whole
// file under optimistic-locking semantics.
type Lock struct {
	fl *flock.Flock
}

// NewLock returns a Lock backed by a sibling ".lock" file next to path.
func NewLock(path string) *Lock {
	return &Lock{fl: flock.New(path + ".lock")}
}

// WithLock acquires the lock for the duration of fn, blocking until ctx is
// done or the lock is acquired.
func (l *Lock) WithLock(ctx context.Context, fn func() error) error {
	ok, err := l.fl.TryLockContext(ctx, defaultRetryInterval)
	if err != nil {
		return squaderr.IOFailure("acquire lock", err)
	}
	if !ok {
		return squaderr.ErrTimeout
	}
	defer l.fl.Unlock()

	return fn()
}
