// Package fsutil provides the filesystem collaborator used by connection
// sessions: directory-ensuring writes, recursive listing, and content
// hashing, behind an interface that tests can swap for an in-memory mock.
package fsutil

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// FileSystem is an abstraction over the filesystem operations the session
// handlers need. All paths are absolute.
type FileSystem interface {
	// EnsureDir creates a directory and all parent directories
	EnsureDir(ctx context.Context, path string) error
	// ReadFile reads the entire file
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// WriteFile writes data to a file, creating parent directories as needed
	WriteFile(ctx context.Context, path string, data []byte) error
	// Delete removes a file
	Delete(ctx context.Context, path string) error
	// ListFilesRecursive returns every regular file under root, as paths
	// relative to root
	ListFilesRecursive(ctx context.Context, root string) ([]string, error)
}

// ContentHash returns the hex MD5 digest of data. This is the hash the sync
// protocol exchanges for file checks and the build ignore set, so it has to
// match what the remote client computes.
func ContentHash(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}

// ResolveWithin joins a client-supplied relative path onto root and verifies
// the result stays inside root. Paths escaping the root are an error.
func ResolveWithin(root, rel string) (string, error) {
	cleaned := filepath.Clean(filepath.Join(root, filepath.FromSlash(rel)))
	if cleaned != root && !strings.HasPrefix(cleaned, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes project root", rel)
	}
	return cleaned, nil
}

// OSFS implements FileSystem against the real filesystem.
type OSFS struct{}

// NewOSFS creates an OS-backed filesystem.
func NewOSFS() *OSFS {
	return &OSFS{}
}

func (o *OSFS) EnsureDir(ctx context.Context, path string) error {
	return os.MkdirAll(path, 0755)
}

func (o *OSFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (o *OSFS) WriteFile(ctx context.Context, path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

func (o *OSFS) Delete(ctx context.Context, path string) error {
	return os.Remove(path)
}

func (o *OSFS) ListFilesRecursive(ctx context.Context, root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// MockFS is an in-memory filesystem for testing.
type MockFS struct {
	mu    sync.RWMutex
	files map[string][]byte
	dirs  map[string]bool
}

// NewMockFS creates an empty in-memory filesystem.
func NewMockFS() *MockFS {
	return &MockFS{
		files: make(map[string][]byte),
		dirs:  make(map[string]bool),
	}
}

func (m *MockFS) EnsureDir(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.markDirs(path)
	return nil
}

func (m *MockFS) ReadFile(ctx context.Context, path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.files[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

func (m *MockFS) WriteFile(ctx context.Context, path string, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(data))
	copy(stored, data)
	m.files[path] = stored
	m.markDirs(filepath.Dir(path))
	return nil
}

func (m *MockFS) Delete(ctx context.Context, path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.files[path]; !ok {
		return os.ErrNotExist
	}
	delete(m.files, path)
	return nil
}

func (m *MockFS) ListFilesRecursive(ctx context.Context, root string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	prefix := root + string(filepath.Separator)
	var files []string
	for path := range m.files {
		if strings.HasPrefix(path, prefix) {
			files = append(files, filepath.ToSlash(strings.TrimPrefix(path, prefix)))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Exists reports whether a file or directory is present (test helper).
func (m *MockFS) Exists(path string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.files[path]; ok {
		return true
	}
	return m.dirs[path]
}

func (m *MockFS) markDirs(dir string) {
	for dir != "." && dir != "/" && dir != "" {
		m.dirs[dir] = true
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
}
