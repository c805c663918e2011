package merge

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// move is one planned copy into the archive.
type move struct {
	cand Candidate
	id   Identity
	dest string // archive-relative, slash-separated
}

// plan is the full set of decisions for a pass, made before any write.
type plan struct {
	moves      []move
	rejected   []Rejection
	superseded int
}

// copyFile copies src to dst through a temp file in dst's directory,
// preserving src's modification time. It returns false when dst already
// holds identical content and nothing was written.
func copyFile(src, dst string) (bool, error) {
	data, err := os.ReadFile(src)
	if err != nil {
		return false, fmt.Errorf("read source: %w", err)
	}
	info, err := os.Stat(src)
	if err != nil {
		return false, fmt.Errorf("stat source: %w", err)
	}
	existing, err := os.ReadFile(dst)
	switch {
	case err == nil && bytes.Equal(existing, data):
		return false, nil
	case err != nil && !errors.Is(err, fs.ErrNotExist):
		return false, fmt.Errorf("read destination: %w", err)
	}

	dir := filepath.Dir(dst)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false, fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".merge-*")
	if err != nil {
		return false, fmt.Errorf("create temp: %w", err)
	}
	name := tmp.Name()
	defer os.Remove(name)
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return false, fmt.Errorf("write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return false, fmt.Errorf("sync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return false, fmt.Errorf("close temp: %w", err)
	}
	if err := os.Chmod(name, 0o644); err != nil {
		return false, fmt.Errorf("chmod temp: %w", err)
	}
	if err := os.Chtimes(name, info.ModTime(), info.ModTime()); err != nil {
		return false, fmt.Errorf("preserve mtime: %w", err)
	}
	if err := os.Rename(name, dst); err != nil {
		return false, fmt.Errorf("rename into place: %w", err)
	}
	return true, nil
}
