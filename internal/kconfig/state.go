package kconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"maps"
	"sort"

	"github.com/hashicorp/hcl/v2"
)

// State is an immutable snapshot of resolved symbol values. Symbols whose
// depends-on is not met are absent. A State produced by Resolve also knows
// the kind of every declared symbol, so absent symbols still evaluate to
// their unset value inside expressions.
type State struct {
	entries  map[string]Entry
	kinds    map[string]Kind
	builtins map[string]string
	hash     string
}

// NewState copies its arguments into a new State. kinds may be nil, in
// which case unknown names evaluate as n.
func NewState(entries map[string]Entry, kinds map[string]Kind, builtins map[string]string) *State {
	s := &State{
		entries:  maps.Clone(entries),
		kinds:    maps.Clone(kinds),
		builtins: maps.Clone(builtins),
	}
	if s.entries == nil {
		s.entries = map[string]Entry{}
	}
	if s.builtins == nil {
		s.builtins = map[string]string{}
	}
	s.hash = s.computeHash()
	return s
}

// Lookup returns the entry for a present symbol.
func (s *State) Lookup(name string) (Entry, bool) {
	e, ok := s.entries[name]
	return e, ok
}

// Tristate returns the logic value of a symbol; absent symbols are n.
func (s *State) Tristate(name string) Tristate {
	if e, ok := s.entries[name]; ok {
		return e.Tristate()
	}
	return No
}

// Names returns the present symbol names in lexical order.
func (s *State) Names() []string {
	names := make([]string, 0, len(s.entries))
	for n := range s.entries {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of present symbols.
func (s *State) Len() int { return len(s.entries) }

// Builtin returns a builtin constant such as ARCH.
func (s *State) Builtin(name string) (string, bool) {
	v, ok := s.builtins[name]
	return v, ok
}

// Builtins returns a copy of the builtin constants.
func (s *State) Builtins() map[string]string {
	return maps.Clone(s.builtins)
}

// Hash is a content digest over present values and builtins.
func (s *State) Hash() string { return s.hash }

// Equal reports whether both states hold the same values.
func (s *State) Equal(o *State) bool {
	return s.hash == o.hash
}

// SliceHash digests the values of the named symbols only. Absent and
// unknown names contribute an explicit marker, so a symbol appearing or
// disappearing changes the digest.
func (s *State) SliceHash(names []string) string {
	sorted := append([]string(nil), names...)
	sort.Strings(sorted)
	h := sha256.New()
	prev := ""
	for i, n := range sorted {
		if i > 0 && n == prev {
			continue
		}
		prev = n
		if e, ok := s.entries[n]; ok {
			fmt.Fprintf(h, "%s=%s\n", n, e.String())
		} else if b, ok := s.builtins[n]; ok {
			fmt.Fprintf(h, "@%s=%s\n", n, b)
		} else {
			fmt.Fprintf(h, "%s!\n", n)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Eval evaluates a logic expression against the state.
func (s *State) Eval(expr hcl.Expression) (Tristate, error) {
	return evalTri(expr, s)
}

func (s *State) lookup(name string) (Entry, bool) {
	if e, ok := s.entries[name]; ok {
		return e, true
	}
	if s.kinds == nil {
		return TristateEntry(KindTristate, No), true
	}
	if k, ok := s.kinds[name]; ok {
		return zeroEntry(k), true
	}
	return Entry{}, false
}

func (s *State) builtin(name string) (string, bool) {
	return s.Builtin(name)
}

func (s *State) computeHash() string {
	h := sha256.New()
	s.writeCanonical(h)
	return hex.EncodeToString(h.Sum(nil))
}

func (s *State) writeCanonical(w io.Writer) {
	for _, n := range s.Names() {
		e := s.entries[n]
		if e.IsSet() {
			fmt.Fprintf(w, "%s=%s\n", n, e.String())
		} else {
			fmt.Fprintf(w, "%s is not set\n", n)
		}
	}
	names := make([]string, 0, len(s.builtins))
	for n := range s.builtins {
		names = append(names, n)
	}
	sort.Strings(names)
	for _, n := range names {
		fmt.Fprintf(w, "@%s=%s\n", n, s.builtins[n])
	}
}
