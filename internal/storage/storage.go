// Package storage persists session snapshots as JSON files, one file per
// key, written atomically under a file lock.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrNotFound = errors.New("not found")
)

// Storage is a directory of JSON documents addressed by key paths.
type Storage struct {
	basePath string
	mu       sync.Mutex
	locks    map[string]*FileLock
}

// New creates a Storage rooted at basePath.
func New(basePath string) *Storage {
	return &Storage{
		basePath: basePath,
		locks:    make(map[string]*FileLock),
	}
}

// Dir returns the root directory.
func (s *Storage) Dir() string { return s.basePath }

func (s *Storage) file(key []string) string {
	return filepath.Join(append([]string{s.basePath}, key...)...) + ".json"
}

func (s *Storage) dir(key []string) string {
	return filepath.Join(append([]string{s.basePath}, key...)...)
}

// Get decodes the document at key into v.
func (s *Storage) Get(ctx context.Context, key []string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(s.file(key))
	if err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("read %s: %w", strings.Join(key, "/"), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode %s: %w", strings.Join(key, "/"), err)
	}
	return nil
}

// Put writes v at key, replacing the previous document atomically.
func (s *Storage) Put(ctx context.Context, key []string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.file(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directory: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", strings.Join(key, "/"), err)
	}

	lock := s.lockFor(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", strings.Join(key, "/"), err)
	}
	defer lock.Unlock()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", tmp, err)
	}
	return nil
}

// Delete removes the document at key. Missing documents are not an error.
func (s *Storage) Delete(ctx context.Context, key []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.file(key)

	lock := s.lockFor(path)
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock %s: %w", strings.Join(key, "/"), err)
	}
	defer lock.Unlock()

	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", strings.Join(key, "/"), err)
	}
	return nil
}

// Scan calls fn for every document directly under prefix, in directory
// order. Unreadable files are skipped.
func (s *Storage) Scan(ctx context.Context, prefix []string, fn func(name string, data json.RawMessage) error) error {
	entries, err := os.ReadDir(s.dir(prefix))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read directory: %w", err)
	}

	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(s.dir(prefix), name))
		if err != nil {
			continue
		}
		if err := fn(strings.TrimSuffix(name, ".json"), data); err != nil {
			return err
		}
	}
	return nil
}

// List returns the names of the documents and subdirectories under prefix.
func (s *Storage) List(ctx context.Context, prefix []string) ([]string, error) {
	entries, err := os.ReadDir(s.dir(prefix))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read directory: %w", err)
	}
	var names []string
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case entry.IsDir():
			names = append(names, name)
		case strings.HasSuffix(name, ".json"):
			names = append(names, strings.TrimSuffix(name, ".json"))
		}
	}
	return names, nil
}

func (s *Storage) lockFor(path string) *FileLock {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[path]
	if !ok {
		lock = NewFileLock(path)
		s.locks[path] = lock
	}
	return lock
}
