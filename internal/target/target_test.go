package target

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustNew(t *testing.T, p Params) Context {
	t.Helper()
	c, err := New(p)
	require.NoError(t, err)
	return c
}

func TestNew(t *testing.T) {
	t.Run("defaults are filled", func(t *testing.T) {
		c := mustNew(t, Params{})
		assert.Equal(t, HostArch(), c.Arch())
		assert.True(t, filepath.IsAbs(c.OutputRoot()))
		assert.Equal(t, "build", filepath.Base(c.OutputRoot()))
		assert.Positive(t, c.Parallelism())
	})

	t.Run("invalid arch is rejected", func(t *testing.T) {
		_, err := New(Params{Arch: "arm 64"})
		assert.ErrorContains(t, err, "invalid architecture")
	})
}

func TestEqualAndHash(t *testing.T) {
	dir := t.TempDir()
	base := Params{Arch: "arm64", ToolchainPrefix: "aarch64-linux-gnu-", OutputRoot: dir, Parallelism: 4}

	a := mustNew(t, base)
	b := mustNew(t, base)
	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Hash(), b.Hash())

	testCases := []struct {
		name         string
		mutate       func(p *Params)
		hashMustDiff bool
	}{
		{"arch", func(p *Params) { p.Arch = "riscv" }, true},
		{"prefix", func(p *Params) { p.ToolchainPrefix = "" }, true},
		{"output root", func(p *Params) { p.OutputRoot = filepath.Join(dir, "other") }, true},
		{"parallelism", func(p *Params) { p.Parallelism = 16 }, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := base
			tc.mutate(&p)
			c := mustNew(t, p)
			assert.False(t, a.Equal(c), "every field takes part in equality")
			if tc.hashMustDiff {
				assert.NotEqual(t, a.Hash(), c.Hash())
			} else {
				assert.Equal(t, a.Hash(), c.Hash())
			}
		})
	}
}

func TestArtifactPath(t *testing.T) {
	dir := t.TempDir()
	c := mustNew(t, Params{Arch: "x86_64", OutputRoot: dir, Parallelism: 1})
	assert.Equal(t, filepath.Join(dir, "drivers", "net", "e1000.o"), c.ArtifactPath("drivers/net/e1000.o"))
}

func TestParamsFromEnv(t *testing.T) {
	env := map[string]string{
		EnvArch:         "arm64",
		EnvCrossCompile: "aarch64-linux-gnu-",
		EnvOutput:       "/tmp/out",
		EnvJobs:         "8",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}
	p := ParamsFromEnv(lookup)
	assert.Equal(t, Params{Arch: "arm64", ToolchainPrefix: "aarch64-linux-gnu-", OutputRoot: "/tmp/out", Parallelism: 8}, p)

	env[EnvJobs] = "many"
	assert.Equal(t, 0, ParamsFromEnv(lookup).Parallelism)
}

func TestMerge(t *testing.T) {
	flags := Params{Arch: "riscv"}
	env := Params{Arch: "arm64", ToolchainPrefix: "x-", Parallelism: 2}
	got := flags.Merge(env)
	assert.Equal(t, Params{Arch: "riscv", ToolchainPrefix: "x-", Parallelism: 2}, got)
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "target.env")
	require.NoError(t, os.WriteFile(path, []byte("KBUILDGO_TEST_ARCH=mips\n"), 0o644))
	t.Cleanup(func() { os.Unsetenv("KBUILDGO_TEST_ARCH") })

	require.NoError(t, LoadEnvFile(path))
	assert.Equal(t, "mips", os.Getenv("KBUILDGO_TEST_ARCH"))

	assert.Error(t, LoadEnvFile(filepath.Join(t.TempDir(), "missing.env")))
}
