package kconfig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEntry(t *testing.T) {
	testCases := []struct {
		name    string
		kind    Kind
		raw     string
		want    string
		wantSet bool
		wantErr string
	}{
		{name: "bool y", kind: KindBool, raw: "y", want: "y", wantSet: true},
		{name: "bool n", kind: KindBool, raw: "n", want: ""},
		{name: "bool m", kind: KindBool, raw: "m", wantErr: "cannot be set to m"},
		{name: "tristate m", kind: KindTristate, raw: " m ", want: "m", wantSet: true},
		{name: "tristate junk", kind: KindTristate, raw: "yes", wantErr: "invalid tristate value"},
		{name: "quoted string", kind: KindString, raw: `"a \"b\" \\c"`, want: `"a \"b\" \\c"`, wantSet: true},
		{name: "bare string", kind: KindString, raw: "console", want: `"console"`, wantSet: true},
		{name: "empty string is set", kind: KindString, raw: `""`, want: `""`, wantSet: true},
		{name: "bad quoting", kind: KindString, raw: `"a"b"`, wantErr: "unescaped quote"},
		{name: "int", kind: KindInt, raw: "-12", want: "-12", wantSet: true},
		{name: "int empty", kind: KindInt, raw: "", want: ""},
		{name: "int junk", kind: KindInt, raw: "0x10", wantErr: "invalid int value"},
		{name: "hex", kind: KindHex, raw: "0xFF", want: "0xff", wantSet: true},
		{name: "hex without prefix", kind: KindHex, raw: "ff", want: "0xff", wantSet: true},
		{name: "hex junk", kind: KindHex, raw: "0xZZ", wantErr: "invalid hex value"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := ParseEntry(tc.kind, tc.raw)
			if tc.wantErr != "" {
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, e.String())
			assert.Equal(t, tc.wantSet, e.IsSet())
		})
	}
}

func TestEntryConvert(t *testing.T) {
	e, err := TristateEntry(KindTristate, Yes).convert(KindBool)
	require.NoError(t, err)
	assert.Equal(t, KindBool, e.Kind)
	assert.Equal(t, Yes, e.Tristate())

	e, err = StringEntry("0x40").convert(KindHex)
	require.NoError(t, err)
	n, ok := e.Int()
	require.True(t, ok)
	assert.Equal(t, int64(64), n)

	e, err = IntEntry(7).convert(KindString)
	require.NoError(t, err)
	assert.Equal(t, `"7"`, e.String())

	_, err = StringEntry("hello").convert(KindInt)
	assert.Error(t, err)
}

func TestStateHash(t *testing.T) {
	base := map[string]Entry{
		"NET":     TristateEntry(KindBool, Yes),
		"CMDLINE": StringEntry("quiet"),
		"NR_CPUS": IntEntry(4),
	}
	a := NewState(base, nil, map[string]string{BuiltinArch: "arm64"})
	b := NewState(base, map[string]Kind{"NET": KindBool}, map[string]string{BuiltinArch: "arm64"})
	assert.Equal(t, a.Hash(), b.Hash(), "kinds do not take part in the hash")

	base["NR_CPUS"] = IntEntry(8)
	c := NewState(base, nil, map[string]string{BuiltinArch: "arm64"})
	assert.NotEqual(t, a.Hash(), c.Hash())

	v, _ := a.Lookup("NR_CPUS")
	assert.Equal(t, "4", v.String(), "the state copies its input map")

	loaded := NewState(map[string]Entry{"NET": TristateEntry(KindTristate, Yes), "CMDLINE": StringEntry("quiet"), "NR_CPUS": IntEntry(4)}, nil, map[string]string{BuiltinArch: "arm64"})
	assert.True(t, a.Equal(loaded), "a bool and a tristate with the same value hash alike")
}

func TestStateSliceHash(t *testing.T) {
	s := NewState(map[string]Entry{
		"A": TristateEntry(KindBool, Yes),
		"B": StringEntry("x"),
	}, nil, map[string]string{BuiltinArch: "arm64"})

	assert.Equal(t, s.SliceHash([]string{"A", "B"}), s.SliceHash([]string{"B", "A", "A"}))
	assert.NotEqual(t, s.SliceHash([]string{"A"}), s.SliceHash([]string{"A", "C"}), "absent names are marked")

	other := NewState(map[string]Entry{
		"A": TristateEntry(KindBool, Yes),
		"B": StringEntry("y"),
	}, nil, map[string]string{BuiltinArch: "arm64"})
	assert.Equal(t, s.SliceHash([]string{"A"}), other.SliceHash([]string{"A"}), "unrelated symbols do not leak in")
	assert.NotEqual(t, s.SliceHash([]string{"B"}), other.SliceHash([]string{"B"}))
	assert.NotEqual(t, s.SliceHash([]string{BuiltinArch}), NewState(nil, nil, map[string]string{BuiltinArch: "x86"}).SliceHash([]string{BuiltinArch}))
}

func TestStateEval(t *testing.T) {
	s := NewState(map[string]Entry{
		"NET":     TristateEntry(KindTristate, Mod),
		"NR_CPUS": IntEntry(8),
		"PHYS":    HexEntry(0x1000),
	}, map[string]Kind{"NET": KindTristate, "NR_CPUS": KindInt, "PHYS": KindHex, "USB": KindTristate}, map[string]string{BuiltinArch: "arm64"})

	testCases := []struct {
		expr    string
		want    Tristate
		wantErr string
	}{
		{expr: "NET", want: Mod},
		{expr: "NET && USB", want: No},
		{expr: "NET || USB", want: Mod},
		{expr: "!USB", want: Yes},
		{expr: "USB == n", want: Yes},
		{expr: "NET >= m", want: Yes},
		{expr: "NET > m", want: No},
		{expr: "NR_CPUS > 4 && NR_CPUS <= 8", want: Yes},
		{expr: "PHYS == 4096", want: Yes},
		{expr: `ARCH == "arm64"`, want: Yes},
		{expr: `ARCH != "arm64"`, want: No},
		{expr: "true", want: Yes},
		{expr: "false || NET", want: Mod},
		{expr: `upper(ARCH) == "ARM64"`, want: Yes},
		{expr: "NR_CPUS", want: Yes},
		{expr: "MISSING", wantErr: "undeclared symbol"},
	}
	for _, tc := range testCases {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := s.Eval(parseExpr(t, tc.expr))
			if tc.wantErr != "" {
				assert.ErrorContains(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	got, err := s.Eval(nil)
	require.NoError(t, err)
	assert.Equal(t, Yes, got, "a missing expression is always true")
}

func TestRefs(t *testing.T) {
	assert.Nil(t, Refs(nil))
	assert.Equal(t, []string{"A", "ARCH", "B"}, Refs(parseExpr(t, `B && (A || ARCH == "x") && B`)))
}

func TestSymbolRefs(t *testing.T) {
	assert.Equal(t, []string{"A", "NET"}, SymbolRefs(parseExpr(t, `NET != n && (A || y)`)))
	assert.Nil(t, SymbolRefs(parseExpr(t, `y`)))
}
