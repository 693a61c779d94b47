package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// FileStore saves fallback uploads to disk under a base directory.
type FileStore struct {
	basePath string
}

// NewFileStore creates the base directory if missing.
func NewFileStore(basePath string) (*FileStore, error) {
	if strings.TrimSpace(basePath) == "" {
		return nil, fmt.Errorf("storage base path is required")
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &FileStore{basePath: basePath}, nil
}

// Save writes bytes under the base directory and returns the relative path
// used as the stored file reference.
func (f *FileStore) Save(name string, r io.Reader) (string, error) {
	name = safeFilename(name)
	target := filepath.Join(f.basePath, name)
	out, err := os.Create(target)
	if err != nil {
		return "", fmt.Errorf("create file: %w", err)
	}
	defer out.Close()
	if _, err := io.Copy(out, r); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}
	return name, nil
}

// Resolve maps a stored relative reference back to an absolute path inside
// the base directory. References escaping the base directory are rejected.
func (f *FileStore) Resolve(ref string) (string, error) {
	ref = safeFilename(ref)
	if ref == "" {
		return "", fmt.Errorf("empty file reference")
	}
	return filepath.Join(f.basePath, ref), nil
}

func safeFilename(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, string(os.PathSeparator), "_")
	if name == "." || name == ".." {
		return ""
	}
	return name
}
