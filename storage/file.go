package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const (
	filePerm = 0o640
	dirPerm  = 0o750
)

// rename is swapped out in tests to simulate a crash before the final step.
var rename = os.Rename

// FileBackend keeps the document in a single local file.
type FileBackend struct {
	path string
}

// NewFileBackend creates a backend for the file at path.
func NewFileBackend(path string) *FileBackend {
	return &FileBackend{path: path}
}

// Location returns the file path.
func (b *FileBackend) Location() string {
	return b.path
}

// Ensure creates the parent directory with owner-only permissions.
func (b *FileBackend) Ensure(_ context.Context) error {
	if err := os.MkdirAll(filepath.Dir(b.path), dirPerm); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}
	return nil
}

// Read returns the file contents.
func (b *FileBackend) Read(_ context.Context) ([]byte, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return nil, fmt.Errorf("read from local storage: %w", err)
	}
	return data, nil
}

// Write replaces the file via a temp file in the same directory and a rename,
// so readers never observe a partial document.
func (b *FileBackend) Write(_ context.Context, data []byte) error {
	return writeFileAtomic(b.path, data, filePerm)
}

func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Chmod(perm); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
