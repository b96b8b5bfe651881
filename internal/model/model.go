package model

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
)

// Model is the unified representation of every declaration file in a tree.
type Model struct {
	Declarations *Declarations
	Index        *Index
	// Files lists the declaration files that were read, in load order.
	Files []string
}

// SymbolType is the value kind of a configuration symbol.
type SymbolType string

const (
	TypeBool     SymbolType = "bool"
	TypeTristate SymbolType = "tristate"
	TypeString   SymbolType = "string"
	TypeInt      SymbolType = "int"
	TypeHex      SymbolType = "hex"
)

// Valid reports whether t is a known symbol type.
func (t SymbolType) Valid() bool {
	switch t {
	case TypeBool, TypeTristate, TypeString, TypeInt, TypeHex:
		return true
	}
	return false
}

// Symbol is the format-agnostic representation of a `symbol` block.
type Symbol struct {
	Name   string
	Type   SymbolType
	Prompt string
	Help   string
	// DependsOn gates visibility; nil means always visible.
	DependsOn hcl.Expression
	// Defaults are tried in declaration order.
	Defaults []*Default
	Selects  []*Select
	Range    *Range
	// Modules marks the symbol that enables `m` for tristates.
	Modules bool
	// Choice is the owning choice group, if any. Set by NewDeclarations.
	Choice    string
	DeclRange hcl.Range
}

// HasPrompt reports whether users may assign the symbol directly.
func (s *Symbol) HasPrompt() bool {
	return s.Prompt != "" || s.Choice != ""
}

// Default is one `default` block. When is nil for unconditional defaults.
type Default struct {
	Value hcl.Expression
	When  hcl.Expression
}

// Select is one `select "TARGET"` block.
type Select struct {
	Target string
	When   hcl.Expression
}

// Range bounds an int or hex symbol, both ends inclusive.
type Range struct {
	Min, Max int64
}

// Contains reports whether v lies within the range.
func (r *Range) Contains(v int64) bool {
	return r == nil || (v >= r.Min && v <= r.Max)
}

// Choice is the format-agnostic representation of a `choice` block.
type Choice struct {
	Name      string
	Prompt    string
	DependsOn hcl.Expression
	Members   []string
	// Defaults name a member through a bare traversal in Value.
	Defaults  []*Default
	DeclRange hcl.Range
}

// Declarations is the ordered set of symbols and choices. Order is
// significant: resolution visits symbols in declaration order.
type Declarations struct {
	Symbols []*Symbol
	Choices []*Choice

	symbols map[string]*Symbol
	choices map[string]*Choice
}

// NewDeclarations indexes symbols and choices, rejecting duplicate names and
// linking choice members back to their group.
func NewDeclarations(symbols []*Symbol, choices []*Choice) (*Declarations, error) {
	d := &Declarations{
		Symbols: symbols,
		Choices: choices,
		symbols: make(map[string]*Symbol, len(symbols)),
		choices: make(map[string]*Choice, len(choices)),
	}
	for _, s := range symbols {
		if prev, ok := d.symbols[s.Name]; ok {
			return nil, fmt.Errorf("symbol %q declared twice (%s and %s)", s.Name, prev.DeclRange, s.DeclRange)
		}
		d.symbols[s.Name] = s
	}
	for _, c := range choices {
		if _, ok := d.choices[c.Name]; ok {
			return nil, fmt.Errorf("choice %q declared twice", c.Name)
		}
		d.choices[c.Name] = c
		for _, m := range c.Members {
			sym, ok := d.symbols[m]
			if !ok {
				return nil, fmt.Errorf("choice %q lists undeclared member %q", c.Name, m)
			}
			if sym.Choice != "" && sym.Choice != c.Name {
				return nil, fmt.Errorf("symbol %q is a member of both choice %q and %q", m, sym.Choice, c.Name)
			}
			sym.Choice = c.Name
		}
	}
	return d, nil
}

// Symbol looks a symbol up by name.
func (d *Declarations) Symbol(name string) (*Symbol, bool) {
	s, ok := d.symbols[name]
	return s, ok
}

// Choice looks a choice group up by name.
func (d *Declarations) Choice(name string) (*Choice, bool) {
	c, ok := d.choices[name]
	return c, ok
}

// UnitKind is the kind of a build unit.
type UnitKind string

const (
	KindObject  UnitKind = "object"
	KindArchive UnitKind = "archive"
	KindModule  UnitKind = "module"
	KindImage   UnitKind = "image"
)

// Valid reports whether k is a known unit kind.
func (k UnitKind) Valid() bool {
	switch k {
	case KindObject, KindArchive, KindModule, KindImage:
		return true
	}
	return false
}

// Unit is the format-agnostic representation of a `unit` block. Name is
// the output path relative to the output root and doubles as the identity.
type Unit struct {
	Kind UnitKind
	Name string
	// Inputs are source paths relative to the source root.
	Inputs []string
	// Deps are the identities of units this one consumes.
	Deps []string
	// When is the activation predicate; nil means always active.
	When hcl.Expression
	// Uses lists symbols whose values reach the command line without
	// affecting activation.
	Uses      []string
	Flags     []string
	DeclRange hcl.Range
}

// Index is the static declaration index of build units.
type Index struct {
	Units []*Unit

	units map[string]*Unit
}

// NewIndex indexes units by identity, rejecting duplicates.
func NewIndex(units []*Unit) (*Index, error) {
	idx := &Index{Units: units, units: make(map[string]*Unit, len(units))}
	for _, u := range units {
		if prev, ok := idx.units[u.Name]; ok {
			return nil, fmt.Errorf("unit %q declared twice (%s and %s)", u.Name, prev.DeclRange, u.DeclRange)
		}
		idx.units[u.Name] = u
	}
	return idx, nil
}

// Unit looks a unit up by identity.
func (i *Index) Unit(name string) (*Unit, bool) {
	u, ok := i.units[name]
	return u, ok
}
