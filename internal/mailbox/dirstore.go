package mailbox

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DirStore is a plain local directory. Publishing is immediate and ModTime
// is the file modification time. It backs local mode and tests.
type DirStore struct {
	root string

	// ConflictHook, when set, is asked before each publish; returning true
	// rejects the publish with ErrConflict.
	ConflictHook func(paths []string) bool

	mu        sync.Mutex
	published [][]string
}

// NewDirStore returns a store rooted at dir, creating it if needed.
func NewDirStore(dir string) (*DirStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", dir, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &DirStore{root: abs}, nil
}

func (d *DirStore) Root() string { return d.root }

func (d *DirStore) Sync(context.Context) error { return nil }

func (d *DirStore) Publish(_ context.Context, _ string, paths ...string) error {
	if d.ConflictHook != nil && d.ConflictHook(paths) {
		return ErrConflict
	}
	d.mu.Lock()
	d.published = append(d.published, append([]string(nil), paths...))
	d.mu.Unlock()
	return nil
}

func (d *DirStore) ModTime(_ context.Context, path string) (time.Time, error) {
	info, err := os.Stat(filepath.Join(d.root, filepath.FromSlash(path)))
	if errors.Is(err, fs.ErrNotExist) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return info.ModTime(), nil
}

// Published returns the path sets of every accepted publish, oldest first.
func (d *DirStore) Published() [][]string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([][]string(nil), d.published...)
}
