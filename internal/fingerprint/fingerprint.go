// Package fingerprint computes the digests that decide whether a build unit
// is stale.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
)

// Mode selects how file digests are computed.
type Mode string

const (
	// ModeContent hashes file contents.
	ModeContent Mode = "content"
	// ModeMtime digests modification time and size only.
	ModeMtime Mode = "mtime"
)

// Missing is the digest recorded for a file that does not exist.
const Missing = "missing"

// ParseMode validates a mode name; "" selects ModeContent.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeContent:
		return ModeContent, nil
	case ModeMtime:
		return ModeMtime, nil
	}
	return "", fmt.Errorf("unknown fingerprint mode %q (want %q or %q)", s, ModeContent, ModeMtime)
}

// Hasher digests files. Digests are memoized per path for the lifetime of
// the hasher, which should not outlive one build.
type Hasher struct {
	mode Mode
	root string

	mu   sync.Mutex
	memo map[string]string
}

// NewHasher returns a hasher resolving relative paths against root.
func NewHasher(mode Mode, root string) *Hasher {
	return &Hasher{mode: mode, root: root, memo: make(map[string]string)}
}

// Mode returns the digest mode.
func (h *Hasher) Mode() Mode { return h.mode }

// Resolve maps a path relative to the source root to a file path.
func (h *Hasher) Resolve(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(h.root, filepath.FromSlash(path))
}

// File digests a file, memoizing the result. A missing file is an error
// wrapping os.ErrNotExist.
func (h *Hasher) File(path string) (string, error) {
	p := h.Resolve(path)
	h.mu.Lock()
	d, ok := h.memo[p]
	h.mu.Unlock()
	if ok {
		return d, nil
	}

	d, err := h.digest(p)
	if err != nil {
		return "", err
	}
	h.mu.Lock()
	h.memo[p] = d
	h.mu.Unlock()
	return d, nil
}

// FileOrMissing is File with a missing file reported as Missing.
func (h *Hasher) FileOrMissing(path string) (string, error) {
	d, err := h.File(path)
	if errors.Is(err, os.ErrNotExist) {
		return Missing, nil
	}
	return d, err
}

// Artifact digests a build output without memoizing it, since outputs
// change during the build.
func (h *Hasher) Artifact(path string) (string, error) {
	d, err := h.digest(path)
	if errors.Is(err, os.ErrNotExist) {
		return Missing, nil
	}
	return d, err
}

// Forget drops a memoized digest, e.g. after the file was regenerated.
func (h *Hasher) Forget(path string) {
	h.mu.Lock()
	delete(h.memo, h.Resolve(path))
	h.mu.Unlock()
}

func (h *Hasher) digest(p string) (string, error) {
	if h.mode == ModeMtime {
		info, err := os.Stat(p)
		if err != nil {
			return "", err
		}
		if info.IsDir() {
			return "", fmt.Errorf("%s is a directory", p)
		}
		return fmt.Sprintf("mtime:%d:%d", info.ModTime().UnixNano(), info.Size()), nil
	}

	f, err := os.Open(p)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sum := sha256.New()
	if _, err := io.Copy(sum, f); err != nil {
		return "", fmt.Errorf("hashing %s: %w", p, err)
	}
	return "sha256:" + hex.EncodeToString(sum.Sum(nil)), nil
}

// FileDigest pairs a path with its digest.
type FileDigest struct {
	Path   string `json:"path"`
	Digest string `json:"digest"`
}

// Signature is every input that can change a unit's artifact.
type Signature struct {
	Kind    string       `json:"kind"`
	Unit    string       `json:"unit"`
	Output  string       `json:"output"`
	Context string       `json:"context"`
	Config  string       `json:"config"`
	Command string       `json:"command"`
	Inputs  []FileDigest `json:"inputs"`
	// Implicit holds inputs discovered by the previous compilation.
	Implicit []FileDigest `json:"implicit,omitempty"`
	// Deps maps each dependency to its fingerprint.
	Deps []FileDigest `json:"deps,omitempty"`
}

// Sum returns the hex sha256 of the signature. Implicit and Deps are
// sorted first so that discovery order does not matter.
func (s Signature) Sum() (string, error) {
	s.Implicit = sortedDigests(s.Implicit)
	s.Deps = sortedDigests(s.Deps)
	data, err := json.Marshal(s)
	if err != nil {
		return "", fmt.Errorf("failed to marshal signature: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

func sortedDigests(in []FileDigest) []FileDigest {
	if len(in) == 0 {
		return nil
	}
	out := append([]FileDigest(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}
