package toolchain

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/kbuildgo/internal/ctxlog"
	"github.com/vk/kbuildgo/internal/model"
)

func testCtx() context.Context {
	return ctxlog.Discard(context.Background())
}

func TestExec_Command(t *testing.T) {
	e, err := NewExec(nil)
	require.NoError(t, err)

	testCases := []struct {
		name string
		inv  Invocation
		want string
	}{
		{
			name: "object",
			inv: Invocation{
				Unit:    "net/e1000.o",
				Kind:    model.KindObject,
				Output:  "/out/net/e1000.o",
				Inputs:  []string{"/src/net/e1000.c", "/src/net/ring.c"},
				Flags:   []string{"-O2", "-Wall"},
				Config:  map[string]string{"NR_CPUS": "64", "E1000": "m", "DEBUG": ""},
				Prefix:  "aarch64-linux-gnu-",
				Depfile: "/out/net/.e1000.o.d",
			},
			want: "aarch64-linux-gnu-gcc -O2 -Wall -DCONFIG_E1000=m -DCONFIG_NR_CPUS=64 -MD -MF /out/net/.e1000.o.d -c -o /out/net/e1000.o /src/net/e1000.c /src/net/ring.c",
		},
		{
			name: "archive",
			inv: Invocation{
				Kind:   model.KindArchive,
				Output: "/out/net/built-in.a",
				Deps:   []string{"/out/net/e1000.o"},
			},
			want: "rm -f /out/net/built-in.a && ar rcs /out/net/built-in.a /out/net/e1000.o",
		},
		{
			name: "quoted paths and string values",
			inv: Invocation{
				Kind:    model.KindObject,
				Output:  "/out/my dir/a.o",
				Inputs:  []string{"/src/my dir/a.c", "/src/it's.c"},
				Config:  map[string]string{"CMDLINE": `"console=ttyS0  quiet"`},
				Depfile: "/out/my dir/.a.o.d",
			},
			want: `gcc '-DCONFIG_CMDLINE="console=ttyS0  quiet"' -MD -MF '/out/my dir/.a.o.d' -c -o '/out/my dir/a.o' '/src/my dir/a.c' '/src/it'\''s.c'`,
		},
		{
			name: "image without deps",
			inv:  Invocation{Kind: model.KindImage, Output: "/out/vmlinux", Prefix: "x-"},
			want: "x-ld -o /out/vmlinux",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := e.Command(tc.inv)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestShellQuote(t *testing.T) {
	testCases := []struct {
		in, want string
	}{
		{in: "/out/net/e1000.o", want: "/out/net/e1000.o"},
		{in: "-DCONFIG_NR_CPUS=64", want: "-DCONFIG_NR_CPUS=64"},
		{in: "", want: "''"},
		{in: "a b", want: "'a b'"},
		{in: "$(rm -rf /)", want: "'$(rm -rf /)'"},
		{in: "it's", want: `'it'\''s'`},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, ShellQuote(tc.in), tc.in)
	}
}

func TestSqueezeSpaces(t *testing.T) {
	assert.Equal(t, "a b c", squeezeSpaces("  a \t b\n\nc  "))
	assert.Equal(t, `a 'x  y' "p  q" b`, squeezeSpaces(`a  'x  y'   "p  q"  b`))
	assert.Equal(t, `a "x \"  y" b`, squeezeSpaces(`a "x \"  y"  b`))
}

func TestExec_CompileQuotedPaths(t *testing.T) {
	src := filepath.Join(t.TempDir(), "my src")
	out := filepath.Join(t.TempDir(), "my out")
	require.NoError(t, os.MkdirAll(src, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a b.c"), []byte("int a;\n"), 0o644))

	e, err := NewExec(map[model.UnitKind]string{
		model.KindObject: `cat ${join(" ", inputs)} > ${output} && printf '%s\n' ${join(" ", defines)} >> ${output}`,
	})
	require.NoError(t, err)

	inv := Invocation{
		Unit:   "a.o",
		Kind:   model.KindObject,
		Output: filepath.Join(out, "a.o"),
		Inputs: []string{filepath.Join(src, "a b.c")},
		Config: map[string]string{"CMDLINE": `"quiet  splash"`, "SMP": "y"},
		Dir:    src,
	}
	res, err := e.Compile(testCtx(), inv)
	require.NoError(t, err, res.Diagnostic)

	data, err := os.ReadFile(inv.Output)
	require.NoError(t, err)
	assert.Equal(t, "int a;\n-DCONFIG_CMDLINE=\"quiet  splash\"\n-DCONFIG_SMP=y\n", string(data))
}

func TestNewExec_Errors(t *testing.T) {
	_, err := NewExec(map[model.UnitKind]string{model.KindObject: "cc ${"})
	assert.ErrorContains(t, err, "parsing object command template")

	_, err = NewExec(map[model.UnitKind]string{"library": "cc"})
	assert.ErrorContains(t, err, `unknown unit kind "library"`)

	e, err := NewExec(map[model.UnitKind]string{model.KindObject: "cc ${nosuch}"})
	require.NoError(t, err)
	_, err = e.Command(Invocation{Unit: "a.o", Kind: model.KindObject})
	assert.ErrorContains(t, err, "rendering command for a.o")
}

func TestExec_Compile(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(src, "include"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "a.c"), []byte("int a;\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(src, "include", "a.h"), []byte("#define A\n"), 0o644))

	e, err := NewExec(map[model.UnitKind]string{
		model.KindObject: `cat ${join(" ", inputs)} > ${output} && printf '%s: %s include/a.h\n' ${output} ${join(" ", inputs)} > ${depfile}`,
	})
	require.NoError(t, err)

	inv := Invocation{
		Unit:    "sub/a.o",
		Kind:    model.KindObject,
		Output:  filepath.Join(out, "sub", "a.o"),
		Inputs:  []string{filepath.Join(src, "a.c")},
		Depfile: filepath.Join(out, "sub", ".a.o.d"),
		Dir:     src,
	}
	res, err := e.Compile(testCtx(), inv)
	require.NoError(t, err, res.Diagnostic)
	assert.Equal(t, []string{"include/a.h"}, res.Discovered, "explicit inputs are not reported as discovered")

	data, err := os.ReadFile(inv.Output)
	require.NoError(t, err)
	assert.Equal(t, "int a;\n", string(data))
}

func TestExec_CompileFailure(t *testing.T) {
	e, err := NewExec(map[model.UnitKind]string{
		model.KindObject: `echo "a.c:1: error: expected ';'" >&2; exit 1`,
	})
	require.NoError(t, err)

	res, err := e.Compile(testCtx(), Invocation{
		Unit:   "a.o",
		Kind:   model.KindObject,
		Output: filepath.Join(t.TempDir(), "a.o"),
		Dir:    t.TempDir(),
	})
	assert.ErrorContains(t, err, "command failed")
	assert.Contains(t, res.Diagnostic, "error: expected ';'")
}

func TestParseDepFile(t *testing.T) {
	testCases := []struct {
		name    string
		input   string
		want    []string
		wantErr string
	}{
		{
			name:  "continuation lines",
			input: "out/a.o: a.c \\\n include/a.h \\\n  include/b.h\n",
			want:  []string{"a.c", "include/a.h", "include/b.h"},
		},
		{
			name:  "escaped space and duplicates",
			input: `a.o: my\ file.h a.c my\ file.h` + "\n",
			want:  []string{"my file.h", "a.c"},
		},
		{
			name:  "phony rules are ignored",
			input: "a.o: a.c a.h\n\na.h:\n",
			want:  []string{"a.c", "a.h"},
		},
		{
			name:  "empty",
			input: "",
			want:  nil,
		},
		{
			name:    "no colon",
			input:   "a.o a.c\n",
			wantErr: "malformed depfile rule",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDepFile(strings.NewReader(tc.input))
			if tc.wantErr != "" {
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestWriteDepFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.d")
	deps := []string{"a.c", "include/with space.h"}
	require.NoError(t, WriteDepFile(path, "a.o", deps))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	got, err := ParseDepFile(f)
	require.NoError(t, err)
	assert.Equal(t, deps, got)
}
