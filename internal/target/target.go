// Package target holds the per-invocation build parameters: architecture,
// toolchain prefix, output root and parallelism.
package target

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Environment variable names read by ParamsFromEnv.
const (
	EnvArch         = "ARCH"
	EnvCrossCompile = "CROSS_COMPILE"
	EnvOutput       = "KBUILD_OUTPUT"
	EnvJobs         = "JOBS"
)

// Params is the mutable input used to construct a Context.
type Params struct {
	Arch            string
	ToolchainPrefix string
	OutputRoot      string
	Parallelism     int
}

// Context is an immutable set of target parameters. The zero value is not
// valid; use New.
type Context struct {
	arch            string
	toolchainPrefix string
	outputRoot      string
	parallelism     int
}

// New validates p, fills defaults and returns a Context. An empty Arch
// defaults to the host architecture, an empty OutputRoot to "build", and a
// non-positive Parallelism to the number of CPUs.
func New(p Params) (Context, error) {
	if p.Arch == "" {
		p.Arch = HostArch()
	}
	if strings.ContainsAny(p.Arch, " \t\n/") {
		return Context{}, fmt.Errorf("invalid architecture %q", p.Arch)
	}
	if p.OutputRoot == "" {
		p.OutputRoot = "build"
	}
	abs, err := filepath.Abs(p.OutputRoot)
	if err != nil {
		return Context{}, fmt.Errorf("resolving output root %q: %w", p.OutputRoot, err)
	}
	if p.Parallelism <= 0 {
		p.Parallelism = runtime.NumCPU()
	}
	return Context{
		arch:            p.Arch,
		toolchainPrefix: p.ToolchainPrefix,
		outputRoot:      abs,
		parallelism:     p.Parallelism,
	}, nil
}

func (c Context) Arch() string            { return c.arch }
func (c Context) ToolchainPrefix() string { return c.toolchainPrefix }
func (c Context) OutputRoot() string      { return c.outputRoot }
func (c Context) Parallelism() int        { return c.parallelism }

// Params returns the values the context was built from.
func (c Context) Params() Params {
	return Params{
		Arch:            c.arch,
		ToolchainPrefix: c.toolchainPrefix,
		OutputRoot:      c.outputRoot,
		Parallelism:     c.parallelism,
	}
}

// Equal compares every field, parallelism included.
func (c Context) Equal(o Context) bool {
	return c == o
}

// Hash digests the fields that can change an artifact. Parallelism only
// changes scheduling and is left out.
func (c Context) Hash() string {
	h := sha256.New()
	fmt.Fprintf(h, "arch=%s\x00prefix=%s\x00output=%s\x00", c.arch, c.toolchainPrefix, c.outputRoot)
	return hex.EncodeToString(h.Sum(nil))
}

// ArtifactPath maps a unit identity to its location under the output root.
func (c Context) ArtifactPath(unit string) string {
	return filepath.Join(c.outputRoot, filepath.FromSlash(unit))
}

func (c Context) String() string {
	return fmt.Sprintf("arch=%s prefix=%q output=%s jobs=%d", c.arch, c.toolchainPrefix, c.outputRoot, c.parallelism)
}

// ParamsFromEnv reads target parameters from the environment through lookup
// (normally os.LookupEnv). Unset or unparsable values are left zero.
func ParamsFromEnv(lookup func(string) (string, bool)) Params {
	var p Params
	if v, ok := lookup(EnvArch); ok {
		p.Arch = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvCrossCompile); ok {
		p.ToolchainPrefix = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvOutput); ok {
		p.OutputRoot = strings.TrimSpace(v)
	}
	if v, ok := lookup(EnvJobs); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			p.Parallelism = n
		}
	}
	return p
}

// LoadEnvFile loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set keep their value.
func LoadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// Merge returns p with every zero field replaced by the one from fallback.
func (p Params) Merge(fallback Params) Params {
	if p.Arch == "" {
		p.Arch = fallback.Arch
	}
	if p.ToolchainPrefix == "" {
		p.ToolchainPrefix = fallback.ToolchainPrefix
	}
	if p.OutputRoot == "" {
		p.OutputRoot = fallback.OutputRoot
	}
	if p.Parallelism <= 0 {
		p.Parallelism = fallback.Parallelism
	}
	return p
}

// HostArch maps runtime.GOARCH to the names used by kernel-style trees.
func HostArch() string {
	switch runtime.GOARCH {
	case "amd64":
		return "x86_64"
	case "386":
		return "x86"
	default:
		return runtime.GOARCH
	}
}
