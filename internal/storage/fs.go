package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// blobDir keeps file contents on disk, one file per id.
type blobDir struct {
	root string // absolute path
}

func newBlobDir(root string) (*blobDir, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("storage: resolve root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir root: %w", err)
	}
	return &blobDir{root: abs}, nil
}

// safePath maps an id to a path under root and rejects ids that would
// escape it.
func (b *blobDir) safePath(id string) (string, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return "", fmt.Errorf("storage: invalid blob id %q", id)
	}
	abs := filepath.Join(b.root, id)
	if !strings.HasPrefix(abs, b.root+string(os.PathSeparator)) {
		return "", fmt.Errorf("storage: blob id escapes root: %s", id)
	}
	return abs, nil
}

func (b *blobDir) read(id string) ([]byte, error) {
	abs, err := b.safePath(id)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("storage: read blob %s: %w", id, err)
	}
	return data, nil
}

// write atomically replaces a blob: tmp file, fsync, rename.
func (b *blobDir) write(id string, content []byte) error {
	abs, err := b.safePath(id)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(b.root, ".oohmap-tmp-*")
	if err != nil {
		return fmt.Errorf("storage: create temp: %w", err)
	}
	tmpName := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(content); err != nil {
		return fmt.Errorf("storage: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		return fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("storage: close temp: %w", err)
	}
	if err := os.Rename(tmpName, abs); err != nil {
		return fmt.Errorf("storage: rename: %w", err)
	}
	success = true
	return nil
}
