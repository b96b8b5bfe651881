// This file contains the gohcl schema structs for declaration files.

package hcl_adapter

import "github.com/hashicorp/hcl/v2"

// fileRoot is a struct used to decode all possible top-level blocks from any file.
type fileRoot struct {
	Symbols []*symbolBlock `hcl:"symbol,block"`
	Choices []*choiceBlock `hcl:"choice,block"`
	Units   []*unitBlock   `hcl:"unit,block"`
}

// symbolBlock is `symbol "NAME" { ... }`.
type symbolBlock struct {
	Name      string          `hcl:"name,label"`
	Type      hcl.Expression  `hcl:"type"`
	Prompt    *string         `hcl:"prompt,optional"`
	Help      *string         `hcl:"help,optional"`
	DependsOn hcl.Expression  `hcl:"depends_on,optional"`
	Modules   *bool           `hcl:"modules,optional"`
	Range     hcl.Expression  `hcl:"range,optional"`
	Defaults  []*defaultBlock `hcl:"default,block"`
	Selects   []*selectBlock  `hcl:"select,block"`
	DeclRange hcl.Range       `hcl:",def_range"`
}

// defaultBlock is `default { value = EXPR  when = EXPR }`.
type defaultBlock struct {
	Value hcl.Expression `hcl:"value"`
	When  hcl.Expression `hcl:"when,optional"`
}

// selectBlock is `select "TARGET" { when = EXPR }`.
type selectBlock struct {
	Target string         `hcl:"target,label"`
	When   hcl.Expression `hcl:"when,optional"`
}

// choiceBlock is `choice "NAME" { members = [A, B] ... }`.
type choiceBlock struct {
	Name      string          `hcl:"name,label"`
	Prompt    *string         `hcl:"prompt,optional"`
	DependsOn hcl.Expression  `hcl:"depends_on,optional"`
	Members   hcl.Expression  `hcl:"members"`
	Defaults  []*defaultBlock `hcl:"default,block"`
	DeclRange hcl.Range       `hcl:",def_range"`
}

// unitBlock is `unit "KIND" "OUTPUT" { ... }`. Paths are relative to the
// directory of the declaring file unless they start with "/".
type unitBlock struct {
	Kind      string         `hcl:"kind,label"`
	Name      string         `hcl:"name,label"`
	Inputs    []string       `hcl:"inputs,optional"`
	Deps      []string       `hcl:"deps,optional"`
	When      hcl.Expression `hcl:"when,optional"`
	Uses      hcl.Expression `hcl:"uses,optional"`
	Flags     []string       `hcl:"flags,optional"`
	DeclRange hcl.Range      `hcl:",def_range"`
}
