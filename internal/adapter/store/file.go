package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"imgsearch/internal/port"
)

// FileSnapshotter keeps the snapshot in a single local file. Writes go to a
// temporary file in the same directory which is synced and renamed over the
// target, so readers see either the old or the new snapshot.
type FileSnapshotter struct {
	path string
}

var _ port.Snapshotter = (*FileSnapshotter)(nil)

func NewFileSnapshotter(path string) *FileSnapshotter {
	return &FileSnapshotter{path: path}
}

func (f *FileSnapshotter) Location() string {
	return f.path
}

func (f *FileSnapshotter) Read(_ context.Context) ([]byte, error) {
	return os.ReadFile(f.path)
}

func (f *FileSnapshotter) Write(_ context.Context, data []byte) error {
	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create snapshot directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, f.path)
}
