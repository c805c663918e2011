// Package mailbox is the durable store shared by producers and the
// consolidation side. Every change goes through Commit, which applies
// optimistic concurrency with bounded retry on top of a Store backend.
package mailbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ErrConflict means the local base is stale: another writer published first.
var ErrConflict = errors.New("store conflict: base is stale")

// Store is a shared, versioned file area with a local materialized view.
// Paths passed to Publish and ModTime are slash-separated and relative to Root.
type Store interface {
	// Root is the local directory holding the materialized view.
	Root() string
	// Sync brings the view to the latest published state, discarding any
	// unpublished local change.
	Sync(ctx context.Context) error
	// Publish makes the local state of paths visible to every other party.
	// It returns ErrConflict when the view was not based on the latest state.
	Publish(ctx context.Context, msg string, paths ...string) error
	// ModTime returns when path was last published, or the zero time when
	// that is unknown.
	ModTime(ctx context.Context, path string) (time.Time, error)
}

// ExhaustedError is returned when every attempt of a Commit hit a conflict.
type ExhaustedError struct {
	Attempts int
	Message  string
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("commit %q: gave up after %d attempts: %v", e.Message, e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// WriteFileAtomic writes data to a temp file beside path, syncs it, and
// renames it into place, creating parent directories as needed.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-"+filepath.Base(path)+"-*")
	if err != nil {
		return fmt.Errorf("create temp for %s: %w", path, err)
	}
	name := tmp.Name()
	defer os.Remove(name)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		return fmt.Errorf("chmod %s: %w", path, err)
	}
	if err := os.Rename(name, path); err != nil {
		return fmt.Errorf("rename into %s: %w", path, err)
	}
	return nil
}
