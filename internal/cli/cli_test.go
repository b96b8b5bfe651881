package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/kbuildgo/internal/app"
	"github.com/vk/kbuildgo/internal/engine"
	"github.com/vk/kbuildgo/internal/kconfig"
	"github.com/vk/kbuildgo/internal/testutil"
	"github.com/vk/kbuildgo/internal/unitgraph"
)

const declarations = `
symbol "NET" {
  type   = bool
  prompt = "Networking support"
  default { value = y }
}

symbol "NR_CPUS" {
  type   = int
  prompt = "Maximum number of CPUs"
  range  = [1, 64]
  default { value = 8 }
}

unit "object" "init/main.o" {
  inputs = ["init/main.c"]
  uses   = [NR_CPUS]
}

unit "object" "net/core.o" {
  inputs = ["net/core.c"]
  when   = NET
}

unit "image" "vmlinux" {}
`

type harness struct {
	root string
	cc   *testutil.FakeCompiler
	out  *testutil.SafeBuffer
	logs *testutil.SafeBuffer
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		root: t.TempDir(),
		cc:   testutil.NewFakeCompiler(),
		out:  &testutil.SafeBuffer{},
		logs: &testutil.SafeBuffer{},
	}
	testutil.WriteTree(t, h.root, map[string]string{
		"Kbuild.hcl":  declarations,
		"init/main.c": "int main;\n",
		"net/core.c":  "int core;\n",
	})
	return h
}

func (h *harness) run(args ...string) error {
	rt := Runtime{
		Out:        h.out,
		Err:        h.logs,
		LookupEnv:  func(string) (string, bool) { return "", false },
		AppOptions: []app.Option{app.WithCompiler(h.cc)},
	}
	return Execute(context.Background(), rt, append([]string{"-C", h.root}, args...))
}

func TestExecute_ConfigThenBuild(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run("config", "--set", "CONFIG_NR_CPUS=4"))
	assert.Contains(t, h.out.String(), "NR_CPUS")
	data, err := os.ReadFile(filepath.Join(h.root, ".config"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "CONFIG_NR_CPUS=4\n")

	require.NoError(t, h.run("build"))
	assert.Len(t, h.cc.Calls(), 3)
	assert.FileExists(t, filepath.Join(h.root, "build", "vmlinux"))

	h.cc.Reset()
	require.NoError(t, h.run("build"))
	assert.Empty(t, h.cc.Calls())
	assert.Contains(t, h.out.String(), "3 up-to-date")
}

func TestExecute_BuildTargetsAndDryRun(t *testing.T) {
	h := newHarness(t)

	require.NoError(t, h.run("build", "--dry-run"))
	assert.Empty(t, h.cc.Calls())

	require.NoError(t, h.run("build", "net/core.o"))
	assert.Equal(t, []string{"net/core.o"}, h.cc.Calls())
}

func TestExecute_ExitCodes(t *testing.T) {
	t.Run("inconsistent configuration", func(t *testing.T) {
		h := newHarness(t)
		err := h.run("config", "--set", "WIFI=y")
		assert.Equal(t, ExitInconsistent, ExitCodeFor(err))
	})

	t.Run("unit failure", func(t *testing.T) {
		h := newHarness(t)
		h.cc.Fail("net/core.o", "core.c:1: error")
		err := h.run("build")
		assert.Equal(t, ExitBuildFailed, ExitCodeFor(err))
		assert.Contains(t, h.out.String(), "core.c:1: error")
	})

	t.Run("graph cycle", func(t *testing.T) {
		h := newHarness(t)
		testutil.WriteTree(t, h.root, map[string]string{
			"Kbuild.hcl": `
unit "object" "a.o" { deps = ["b.o"] }
unit "object" "b.o" { deps = ["a.o"] }
`,
		})
		err := h.run("build")
		assert.Equal(t, ExitGraphCycle, ExitCodeFor(err))
	})

	t.Run("unknown flag", func(t *testing.T) {
		h := newHarness(t)
		err := h.run("build", "--bogus")
		assert.Equal(t, ExitUsage, ExitCodeFor(err))
		assert.ErrorContains(t, err, "--bogus")
	})

	t.Run("invalid log format", func(t *testing.T) {
		h := newHarness(t)
		err := h.run("--log-format", "xml", "build")
		assert.Equal(t, ExitUsage, ExitCodeFor(err))
	})

	t.Run("invalid fingerprint mode", func(t *testing.T) {
		h := newHarness(t)
		err := h.run("--fingerprint", "checksum", "build")
		assert.Equal(t, ExitUsage, ExitCodeFor(err))
		assert.ErrorContains(t, err, "unknown fingerprint mode")
	})

	t.Run("missing command", func(t *testing.T) {
		h := newHarness(t)
		assert.Equal(t, ExitUsage, ExitCodeFor(h.run()))
	})
}

func TestExecute_Help(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run("--help"))
	assert.Contains(t, h.out.String(), "Usage: kbuildgo")
	assert.Contains(t, h.out.String(), "build")
}

func TestExecute_GraphDiffClean(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.run("config"))
	saved := filepath.Join(t.TempDir(), "saved.config")
	data, err := os.ReadFile(filepath.Join(h.root, ".config"))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(saved, data, 0o644))

	require.NoError(t, h.run("config", "--set", "NET=n"))
	before := len(h.out.String())
	require.NoError(t, h.run("diff", saved, filepath.Join(h.root, ".config")))
	assert.Equal(t, "NET\n", h.out.String()[before:])

	before = len(h.out.String())
	require.NoError(t, h.run("graph", "--format", "dot"))
	assert.Contains(t, h.out.String()[before:], "digraph units {")
	assert.NotContains(t, h.out.String()[before:], "net/core.o")

	require.NoError(t, h.run("build"))
	require.NoError(t, h.run("clean"))
	assert.Contains(t, h.out.String(), "Removed ")
	assert.NoFileExists(t, filepath.Join(h.root, "build", "vmlinux"))
}

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitOK},
		{"exit error", &ExitError{Code: 7, Message: "custom"}, 7},
		{"inconsistent", fmt.Errorf("configure: %w", &kconfig.InconsistentConfigError{Symbols: []string{"A"}}), ExitInconsistent},
		{"cycle", &unitgraph.GraphCycleError{Cycle: []string{"a.o", "b.o", "a.o"}}, ExitGraphCycle},
		{"build failed", &engine.BuildFailedError{Failed: []*engine.UnitBuildError{{Unit: "a.o"}}}, ExitBuildFailed},
		{"other", errors.New("disk on fire"), ExitUnexpected},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ExitCodeFor(tc.err))
		})
	}
}
