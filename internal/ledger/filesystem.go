package ledger

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// FileSystemBlobs stores ledger objects as files under a root directory:
//
//	<root>/
//	  collections/<collection>.json
//	  items/<collection>/<token>.json
//	  txs/<collection>/<tx>.json
type FileSystemBlobs struct {
	root string
}

// NewFileSystemBlobs creates the root directory if needed.
func NewFileSystemBlobs(root string) (*FileSystemBlobs, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create ledger root: %w", err)
	}
	return &FileSystemBlobs{root: root}, nil
}

func (f *FileSystemBlobs) path(key string) string {
	return filepath.Join(f.root, filepath.FromSlash(key))
}

// Put writes data atomically (temp file + rename).
func (f *FileSystemBlobs) Put(_ context.Context, key string, data []byte) error {
	destPath := f.path(key)
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return fmt.Errorf("failed to write data: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	success = true
	return nil
}

func (f *FileSystemBlobs) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(f.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errBlobNotFound
		}
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}
	return data, nil
}

func (f *FileSystemBlobs) Exists(_ context.Context, key string) (bool, error) {
	_, err := os.Stat(f.path(key))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", key, err)
}

var _ Blobs = (*FileSystemBlobs)(nil)
