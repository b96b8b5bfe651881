package kconfig

import (
	"fmt"

	"github.com/vk/kbuildgo/internal/model"
)

// Tristate is the three-valued logic used by configuration expressions.
// The numeric order n < m < y is significant: && is min, || is max.
type Tristate int8

const (
	No Tristate = iota
	Mod
	Yes
)

func (t Tristate) String() string {
	switch t {
	case No:
		return "n"
	case Mod:
		return "m"
	case Yes:
		return "y"
	}
	return fmt.Sprintf("Tristate(%d)", int8(t))
}

// ParseTristate accepts "n", "m" and "y".
func ParseTristate(s string) (Tristate, bool) {
	switch s {
	case "n":
		return No, true
	case "m":
		return Mod, true
	case "y":
		return Yes, true
	}
	return No, false
}

func minTri(a, b Tristate) Tristate {
	if a < b {
		return a
	}
	return b
}

func maxTri(a, b Tristate) Tristate {
	if a > b {
		return a
	}
	return b
}

// Kind is the value kind of a state entry.
type Kind uint8

const (
	KindBool Kind = iota + 1
	KindTristate
	KindString
	KindInt
	KindHex
)

// KindOf maps a declared symbol type to its value kind.
func KindOf(t model.SymbolType) Kind {
	switch t {
	case model.TypeBool:
		return KindBool
	case model.TypeTristate:
		return KindTristate
	case model.TypeString:
		return KindString
	case model.TypeInt:
		return KindInt
	case model.TypeHex:
		return KindHex
	}
	return 0
}

// IsLogic reports whether values of this kind are tristates.
func (k Kind) IsLogic() bool {
	return k == KindBool || k == KindTristate
}

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindTristate:
		return "tristate"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindHex:
		return "hex"
	}
	return "unknown"
}
