package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDeclarations(t *testing.T) {
	t.Run("links choice members", func(t *testing.T) {
		gzip := &Symbol{Name: "KERNEL_GZIP", Type: TypeBool}
		xz := &Symbol{Name: "KERNEL_XZ", Type: TypeBool}
		d, err := NewDeclarations([]*Symbol{gzip, xz}, []*Choice{{Name: "COMPRESSION", Members: []string{"KERNEL_GZIP", "KERNEL_XZ"}}})
		require.NoError(t, err)

		got, ok := d.Symbol("KERNEL_XZ")
		require.True(t, ok)
		assert.Equal(t, "COMPRESSION", got.Choice)
		assert.True(t, got.HasPrompt())

		_, ok = d.Choice("COMPRESSION")
		assert.True(t, ok)
	})

	testCases := []struct {
		name    string
		symbols []*Symbol
		choices []*Choice
		wantErr string
	}{
		{
			name:    "duplicate symbol",
			symbols: []*Symbol{{Name: "A"}, {Name: "A"}},
			wantErr: `symbol "A" declared twice`,
		},
		{
			name:    "duplicate choice",
			symbols: []*Symbol{{Name: "A"}},
			choices: []*Choice{{Name: "C"}, {Name: "C"}},
			wantErr: `choice "C" declared twice`,
		},
		{
			name:    "undeclared member",
			choices: []*Choice{{Name: "C", Members: []string{"X"}}},
			wantErr: "undeclared member",
		},
		{
			name:    "member of two choices",
			symbols: []*Symbol{{Name: "A"}},
			choices: []*Choice{{Name: "C1", Members: []string{"A"}}, {Name: "C2", Members: []string{"A"}}},
			wantErr: "member of both",
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewDeclarations(tc.symbols, tc.choices)
			assert.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestNewIndex(t *testing.T) {
	idx, err := NewIndex([]*Unit{{Kind: KindObject, Name: "a.o"}, {Kind: KindImage, Name: "vmlinux"}})
	require.NoError(t, err)
	u, ok := idx.Unit("vmlinux")
	require.True(t, ok)
	assert.Equal(t, KindImage, u.Kind)

	_, err = NewIndex([]*Unit{{Name: "a.o"}, {Name: "a.o"}})
	assert.ErrorContains(t, err, "declared twice")
}

func TestRangeContains(t *testing.T) {
	var unbounded *Range
	assert.True(t, unbounded.Contains(-5))

	r := &Range{Min: 1, Max: 8}
	assert.True(t, r.Contains(1))
	assert.True(t, r.Contains(8))
	assert.False(t, r.Contains(0))
	assert.False(t, r.Contains(9))
}

func TestKindsValid(t *testing.T) {
	assert.True(t, TypeHex.Valid())
	assert.False(t, SymbolType("float").Valid())
	assert.True(t, KindArchive.Valid())
	assert.False(t, UnitKind("library").Valid())
}
