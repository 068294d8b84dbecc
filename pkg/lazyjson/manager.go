// Package lazyjson provides a lazy-loading manager for a single JSON file.
// It tracks whether the in-memory value differs from disk and writes
// atomically (temp file + rename) when saving.
package lazyjson

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type manager[T any] struct {
	path   string
	data   *T
	loaded bool
	dirty  bool
	mu     sync.RWMutex
	opts   *options[T]
}

// Manager is a handle on a JSON-backed value of type T.
type Manager[T any] = *manager[T]

type options[T any] struct {
	indent       string
	defaultValue func() *T
}

// New creates a new Manager for the given file path. Nothing is read until
// the first Get or Modify.
func New[T any](path string, opts ...Option[T]) Manager[T] {
	mgr := &manager[T]{
		path: path,
		opts: &options[T]{
			indent: "  ",
		},
	}
	for _, opt := range opts {
		opt(mgr.opts)
	}
	return mgr
}

// Get returns the current value, loading it on first use.
func (m *manager[T]) Get() (*T, error) {
	m.mu.RLock()
	if m.loaded {
		defer m.mu.RUnlock()
		return m.data, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return m.data, nil
	}
	return m.data, m.loadLocked()
}

// Save writes the value to disk if it differs from the file, which includes
// a value created from defaults because the file was missing.
func (m *manager[T]) Save() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.dirty {
		return nil
	}
	if !m.loaded {
		return errors.New("cannot save: data not loaded")
	}
	return m.saveLocked()
}

func (m *manager[T]) loadLocked() error {
	data, err := os.ReadFile(m.path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("failed to read %s: %w", m.path, err)
		}
		if m.opts.defaultValue != nil {
			m.data = m.opts.defaultValue()
		} else {
			m.data = new(T)
		}
		m.loaded = true
		m.dirty = true
		return nil
	}

	// Start from defaults so fields absent from the file keep their default.
	result := new(T)
	if m.opts.defaultValue != nil {
		result = m.opts.defaultValue()
	}
	if err := json.Unmarshal(data, result); err != nil {
		return fmt.Errorf("failed to parse %s: %w", m.path, err)
	}

	m.data = result
	m.loaded = true
	m.dirty = false
	return nil
}

func (m *manager[T]) saveLocked() error {
	var data []byte
	var err error
	if m.opts.indent != "" {
		data, err = json.MarshalIndent(m.data, "", m.opts.indent)
	} else {
		data, err = json.Marshal(m.data)
	}
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(filepath.Dir(m.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := m.path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempFile, m.path); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	m.dirty = false
	return nil
}
