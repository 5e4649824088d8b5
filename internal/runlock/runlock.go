// Package runlock keeps two b52 runs from hammering the same target at once
// by holding an advisory lock file for the duration of a run.
package runlock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// ErrLocked is returned when another process holds the lock.
var ErrLocked = errors.New("runlock: another run holds the lock")

// Lock is a held run lock. A nil *Lock is valid and releases nothing.
type Lock struct {
	f *flock.Flock
}

// Acquire takes the lock at path without blocking. An empty path disables
// locking and returns a nil Lock.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o770); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	f := flock.New(path)
	ok, err := f.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}
	return &Lock{f: f}, nil
}

// Path returns the lock file path, or "" for a nil Lock.
func (l *Lock) Path() string {
	if l == nil || l.f == nil {
		return ""
	}
	return l.f.Path()
}

// Release unlocks the file. The file itself is left in place.
func (l *Lock) Release() error {
	if l == nil || l.f == nil {
		return nil
	}
	return l.f.Unlock()
}
