// Package prefs persists user preferences and the proving backend token.
package prefs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Prefs are the user-adjustable settings that survive a restart.
type Prefs struct {
	ForceSimulation bool   `json:"forceSimulation"`
	SoundEnabled    bool   `json:"soundEnabled"`
	Variant         string `json:"variant,omitempty"`
}

// Defaults returns the settings of a fresh install.
func Defaults() Prefs {
	return Prefs{SoundEnabled: true}
}

// File stores Prefs as JSON.
type File struct {
	path string

	mu  sync.RWMutex
	cur Prefs
}

// New returns defaults backed by path without reading it. The file is
// overwritten on the first Update.
func New(path string) *File {
	return &File{path: path, cur: Defaults()}
}

// Open loads the preferences at path. A missing file yields Defaults.
func Open(path string) (*File, error) {
	f := New(path)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return f, nil
		}
		return nil, fmt.Errorf("prefs: read %s: %w", path, err)
	}
	if len(raw) == 0 {
		return f, nil
	}
	if err := json.Unmarshal(raw, &f.cur); err != nil {
		return nil, fmt.Errorf("prefs: decode %s: %w", path, err)
	}
	return f, nil
}

// Get returns a copy of the current settings.
func (f *File) Get() Prefs {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.cur
}

// ForceSimulation reports whether proof runs must skip the backend.
func (f *File) ForceSimulation() bool {
	return f.Get().ForceSimulation
}

// Update applies fn and writes the result. On a write failure the
// in-memory settings are left unchanged.
func (f *File) Update(fn func(*Prefs)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	next := f.cur
	fn(&next)
	if err := f.writeLocked(next); err != nil {
		return err
	}
	f.cur = next
	return nil
}

func (f *File) writeLocked(p Prefs) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("prefs: mkdir: %w", err)
	}
	raw, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return fmt.Errorf("prefs: encode: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("prefs: write: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("prefs: replace: %w", err)
	}
	return nil
}
