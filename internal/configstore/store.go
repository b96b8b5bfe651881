// Package configstore persists configuration states in the Kconfig
// ".config" format and computes differences between states.
package configstore

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/vk/kbuildgo/internal/kconfig"
)

// Store reads and writes one .config file.
type Store struct {
	path    string
	version string
}

// New returns a store for path. version is recorded in the file header.
func New(path, version string) *Store {
	return &Store{path: path, version: version}
}

// Path returns the file location.
func (s *Store) Path() string { return s.path }

// Load reads the stored state. The boolean is false when no file exists.
func (s *Store) Load() (*kconfig.State, bool, error) {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to open configuration: %w", err)
	}
	defer f.Close()

	state, err := Parse(f)
	if err != nil {
		return nil, false, fmt.Errorf("%s: %w", s.path, err)
	}
	return state, true, nil
}

// Save writes state atomically: a reader sees either the previous file or
// the complete new one.
func (s *Store) Save(state *kconfig.State) error {
	var buf bytes.Buffer
	if err := Write(&buf, state, s.version); err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create configuration directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary configuration: %w", err)
	}
	tempPath := tmp.Name()
	defer os.Remove(tempPath)

	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write configuration to temporary file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync configuration: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary configuration: %w", err)
	}
	if err := os.Chmod(tempPath, 0o644); err != nil {
		return fmt.Errorf("failed to set configuration permissions: %w", err)
	}

	// Atomically replace the configuration file
	if err := os.Rename(tempPath, s.path); err != nil {
		return fmt.Errorf("failed to replace configuration file: %w", err)
	}
	return nil
}

// Diff returns the sorted names whose value or presence differs between a
// and b, builtins included. A nil state is treated as empty.
func Diff(a, b *kconfig.State) []string {
	if a == nil {
		a = kconfig.NewState(nil, nil, nil)
	}
	if b == nil {
		b = kconfig.NewState(nil, nil, nil)
	}
	if a.Hash() == b.Hash() {
		return nil
	}

	changed := make(map[string]bool)
	for _, n := range a.Names() {
		ea, _ := a.Lookup(n)
		if eb, ok := b.Lookup(n); !ok || !ea.Equal(eb) {
			changed[n] = true
		}
	}
	for _, n := range b.Names() {
		if _, ok := a.Lookup(n); !ok {
			changed[n] = true
		}
	}
	ba, bb := a.Builtins(), b.Builtins()
	for n, v := range ba {
		if w, ok := bb[n]; !ok || v != w {
			changed[n] = true
		}
	}
	for n := range bb {
		if _, ok := ba[n]; !ok {
			changed[n] = true
		}
	}

	names := make([]string, 0, len(changed))
	for n := range changed {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
