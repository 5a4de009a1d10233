package checkpoint

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// FileStore keeps one plain-text offset file per bucket in a directory.
type FileStore struct {
	dir string
}

// NewFileStore creates the state directory if it does not exist.
func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the offset file used for bucket.
func (s *FileStore) Path(bucket string) string {
	return filepath.Join(s.dir, fmt.Sprintf("offset.%s.txt", bucket))
}

// Load reads the saved key for bucket.
func (s *FileStore) Load(_ context.Context, bucket string) (string, error) {
	data, err := os.ReadFile(s.Path(bucket))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read offset for %s: %w", bucket, err)
	}
	return string(data), nil
}

// Save replaces the saved key for bucket. The write goes through a temp file
// and a rename so a crash never leaves a truncated key behind.
func (s *FileStore) Save(_ context.Context, bucket, key string) error {
	tmp, err := os.CreateTemp(s.dir, fmt.Sprintf(".offset.%s.*", bucket))
	if err != nil {
		return fmt.Errorf("failed to save offset for %s: %w", bucket, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(key); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to save offset for %s: %w", bucket, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to save offset for %s: %w", bucket, err)
	}
	if err := os.Rename(tmp.Name(), s.Path(bucket)); err != nil {
		return fmt.Errorf("failed to save offset for %s: %w", bucket, err)
	}
	return nil
}
