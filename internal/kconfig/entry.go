package kconfig

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/zclconf/go-cty/cty"
)

// Entry is one symbol value inside a State. Logic kinds hold a cty.String
// "n", "m" or "y"; strings and hex numbers hold a cty.String; ints hold a
// cty.Number. A null Value means the symbol is explicitly not set.
type Entry struct {
	Kind  Kind
	Value cty.Value
}

// TristateEntry returns a logic entry of kind k.
func TristateEntry(k Kind, t Tristate) Entry {
	return Entry{Kind: k, Value: cty.StringVal(t.String())}
}

// StringEntry returns a string entry.
func StringEntry(s string) Entry {
	return Entry{Kind: KindString, Value: cty.StringVal(s)}
}

// IntEntry returns an int entry.
func IntEntry(n int64) Entry {
	return Entry{Kind: KindInt, Value: cty.NumberIntVal(n)}
}

// HexEntry returns a hex entry normalised to lowercase 0x form.
func HexEntry(n int64) Entry {
	return Entry{Kind: KindHex, Value: cty.StringVal(fmt.Sprintf("0x%x", n))}
}

// zeroEntry is the value a symbol takes when it is not visible.
func zeroEntry(k Kind) Entry {
	switch k {
	case KindBool, KindTristate:
		return TristateEntry(k, No)
	case KindInt:
		return Entry{Kind: k, Value: cty.NullVal(cty.Number)}
	default:
		return Entry{Kind: k, Value: cty.NullVal(cty.String)}
	}
}

// IsSet reports whether the entry would be written as an assignment rather
// than as a "not set" comment.
func (e Entry) IsSet() bool {
	if e.Value.IsNull() || !e.Value.IsKnown() {
		return false
	}
	if e.Kind.IsLogic() {
		return e.Value.AsString() != "n"
	}
	return true
}

// Tristate interprets the entry in a logic context. Non-logic kinds are y
// when set and non-empty.
func (e Entry) Tristate() Tristate {
	if e.Value.IsNull() || !e.Value.IsKnown() {
		return No
	}
	if e.Kind.IsLogic() {
		t, _ := ParseTristate(e.Value.AsString())
		return t
	}
	if e.Value.Type() == cty.String && e.Value.AsString() == "" {
		return No
	}
	return Yes
}

// Int returns the numeric value of int and hex entries.
func (e Entry) Int() (int64, bool) {
	if e.Value.IsNull() {
		return 0, false
	}
	switch e.Kind {
	case KindInt:
		n, acc := e.Value.AsBigFloat().Int64()
		return n, acc == big.Exact
	case KindHex:
		n, err := strconv.ParseInt(e.Value.AsString(), 0, 64)
		return n, err == nil
	}
	return 0, false
}

// String renders the value the way it appears on the right-hand side of a
// .config assignment. Unset entries render as "".
func (e Entry) String() string {
	if !e.IsSet() {
		return ""
	}
	switch e.Kind {
	case KindString:
		return quote(e.Value.AsString())
	case KindInt:
		return e.Value.AsBigFloat().Text('f', -1)
	default:
		return e.Value.AsString()
	}
}

// Equal reports whether two entries render identically. Kind is ignored
// so that a bool loaded from disk equals the same bool after resolution.
func (e Entry) Equal(o Entry) bool {
	return e.IsSet() == o.IsSet() && e.String() == o.String()
}

// ParseEntry converts raw text into an entry of kind k. Quoted text is
// unescaped; for strings both quoted and bare forms are accepted. An empty
// raw value for int and hex means not set.
func ParseEntry(k Kind, raw string) (Entry, error) {
	raw = strings.TrimSpace(raw)
	switch k {
	case KindBool, KindTristate:
		t, ok := ParseTristate(raw)
		if !ok {
			return Entry{}, fmt.Errorf("invalid %s value %q", k, raw)
		}
		if k == KindBool && t == Mod {
			return Entry{}, fmt.Errorf("bool symbol cannot be set to m")
		}
		return TristateEntry(k, t), nil
	case KindString:
		if len(raw) >= 2 && raw[0] == '"' && raw[len(raw)-1] == '"' {
			s, err := unquote(raw)
			if err != nil {
				return Entry{}, err
			}
			return StringEntry(s), nil
		}
		return StringEntry(raw), nil
	case KindInt:
		if raw == "" {
			return zeroEntry(k), nil
		}
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Entry{}, fmt.Errorf("invalid int value %q", raw)
		}
		return IntEntry(n), nil
	case KindHex:
		if raw == "" {
			return zeroEntry(k), nil
		}
		digits := strings.TrimPrefix(strings.TrimPrefix(raw, "0x"), "0X")
		n, err := strconv.ParseInt(digits, 16, 64)
		if err != nil {
			return Entry{}, fmt.Errorf("invalid hex value %q", raw)
		}
		return HexEntry(n), nil
	}
	return Entry{}, fmt.Errorf("unknown kind %d", k)
}

// convert re-types an entry, e.g. a prior state read from disk without
// declarations, into kind k.
func (e Entry) convert(k Kind) (Entry, error) {
	if e.Kind == k {
		return e, nil
	}
	if !e.IsSet() {
		return zeroEntry(k), nil
	}
	raw := e.String()
	if e.Kind == KindString {
		raw = e.Value.AsString()
	}
	return ParseEntry(k, raw)
}

// quote renders s on a single line. Besides quotes and backslashes, line
// breaks and tabs are escaped so the value survives a .config round trip.
func quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			b.WriteByte('\\')
			b.WriteRune(r)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func unquote(s string) (string, error) {
	if len(s) < 2 || s[0] != '"' || s[len(s)-1] != '"' {
		return "", fmt.Errorf("unterminated string %q", s)
	}
	inner := s[1 : len(s)-1]
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c == '\\' {
			i++
			if i == len(inner) {
				return "", fmt.Errorf("dangling escape in %q", s)
			}
			switch c = inner[i]; c {
			case 'n':
				c = '\n'
			case 'r':
				c = '\r'
			case 't':
				c = '\t'
			}
		} else if c == '"' {
			return "", fmt.Errorf("unescaped quote in %q", s)
		}
		b.WriteByte(c)
	}
	return b.String(), nil
}
