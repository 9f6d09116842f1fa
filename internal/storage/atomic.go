// Package storage provides crash-safe file primitives: atomic
// write-temp-then-rename, used by the pipeline's JSON and rewritten CSV
// artifacts, and a directory-based exclusive lock, used around progress
// JSON writes.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gabrielcampos/portfolioesg/internal/domain"
)

// AtomicWriteFile writes data to path by creating a temp file in the same
// directory, fsyncing it, then renaming it over the destination. This
// guarantees readers never observe a partially written file.
func AtomicWriteFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return &domain.IOError{Path: path, Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-")
	if err != nil {
		return &domain.IOError{Path: path, Err: err}
	}
	tmpName := tmp.Name()

	cleanup := func(err error) error {
		tmp.Close()
		os.Remove(tmpName)
		return &domain.IOError{Path: path, Err: err}
	}

	if _, err := tmp.Write(data); err != nil {
		return cleanup(err)
	}
	if err := tmp.Sync(); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		return cleanup(err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		return cleanup(err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return cleanup(err)
	}
	return nil
}

// DirLock is an exclusive cross-process lock implemented via mkdir, used
// to guard concurrent updates to shared progress JSON files.
type DirLock struct {
	path string
}

// NewDirLock returns a lock backed by a lock directory next to target.
func NewDirLock(target string) *DirLock {
	return &DirLock{path: target + ".lock"}
}

// Acquire blocks (with polling) until the lock directory can be created or
// timeout elapses.
func (l *DirLock) Acquire(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		err := os.Mkdir(l.path, 0o755)
		if err == nil {
			return nil
		}
		if !os.IsExist(err) {
			return fmt.Errorf("acquire lock %s: %w", l.path, err)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("acquire lock %s: timed out", l.path)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Release removes the lock directory.
func (l *DirLock) Release() error {
	return os.Remove(l.path)
}
