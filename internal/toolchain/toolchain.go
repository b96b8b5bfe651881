// Package toolchain invokes the external compiler, archiver and linker for
// build units.
package toolchain

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/kbuildgo/internal/ctxlog"
	"github.com/vk/kbuildgo/internal/kconfig"
	"github.com/vk/kbuildgo/internal/model"
	"github.com/zclconf/go-cty/cty"
)

// Invocation describes one unit build.
type Invocation struct {
	Unit string
	Kind model.UnitKind
	// Output is the absolute artifact path.
	Output string
	// Inputs are absolute source paths.
	Inputs []string
	// Deps are the absolute artifact paths of the consumed units.
	Deps  []string
	Flags []string
	// Config holds the rendered values of the unit's relevant symbols.
	Config map[string]string
	Arch   string
	Prefix string
	// Depfile is where an object compilation should write discovered
	// dependencies.
	Depfile string
	// Dir is the working directory, normally the source root.
	Dir string
}

// Result is what a finished invocation reports.
type Result struct {
	// Discovered lists implicit inputs read from the depfile.
	Discovered []string
	// Diagnostic is the combined compiler output.
	Diagnostic string
}

// Compiler builds units. Implementations must be safe for concurrent use.
type Compiler interface {
	// Command renders the command line; it takes part in the fingerprint.
	Command(inv Invocation) (string, error)
	Compile(ctx context.Context, inv Invocation) (Result, error)
}

// DefaultTemplates are the command templates per unit kind.
var DefaultTemplates = map[model.UnitKind]string{
	model.KindObject:  `${prefix}gcc ${join(" ", flags)} ${join(" ", defines)} -MD -MF ${depfile} -c -o ${output} ${join(" ", inputs)}`,
	model.KindArchive: `rm -f ${output} && ${prefix}ar rcs ${output} ${join(" ", deps)}`,
	model.KindModule:  `${prefix}ld -r -o ${output} ${join(" ", deps)}`,
	model.KindImage:   `${prefix}ld -o ${output} ${join(" ", deps)}`,
}

// Exec runs HCL command templates through "sh -c".
type Exec struct {
	templates map[model.UnitKind]hcl.Expression
	shell     string
}

// NewExec parses templates, falling back to DefaultTemplates for kinds
// that have none.
func NewExec(templates map[model.UnitKind]string) (*Exec, error) {
	e := &Exec{templates: make(map[model.UnitKind]hcl.Expression), shell: "sh"}
	for kind, def := range DefaultTemplates {
		src := def
		if t, ok := templates[kind]; ok && t != "" {
			src = t
		}
		expr, diags := hclsyntax.ParseTemplate([]byte(src), "command."+string(kind), hcl.InitialPos)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parsing %s command template: %w", kind, diags)
		}
		e.templates[kind] = expr
	}
	for kind := range templates {
		if !kind.Valid() {
			return nil, fmt.Errorf("command template for unknown unit kind %q", kind)
		}
	}
	return e, nil
}

// Command renders the command line for inv.
func (e *Exec) Command(inv Invocation) (string, error) {
	expr, ok := e.templates[inv.Kind]
	if !ok {
		return "", fmt.Errorf("no command template for unit kind %q", inv.Kind)
	}
	val, diags := expr.Value(&hcl.EvalContext{
		Variables: templateVars(inv),
		Functions: kconfig.Functions,
	})
	if diags.HasErrors() {
		return "", fmt.Errorf("rendering command for %s: %w", inv.Unit, diags)
	}
	if val.IsNull() || !val.Type().Equals(cty.String) {
		return "", fmt.Errorf("rendering command for %s: template did not produce a string", inv.Unit)
	}
	return squeezeSpaces(val.AsString()), nil
}

// squeezeSpaces collapses whitespace runs outside shell quotes into single
// spaces and trims both ends.
func squeezeSpaces(s string) string {
	var b strings.Builder
	var quote rune
	space, escaped := false, false
	for _, r := range s {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && quote != '\'':
			escaped = true
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '\'' || r == '"':
			quote = r
		case r == ' ' || r == '\t' || r == '\n' || r == '\r':
			space = true
			continue
		}
		if space && b.Len() > 0 {
			b.WriteByte(' ')
		}
		space = false
		b.WriteRune(r)
	}
	return b.String()
}

// ShellQuote returns s as a single "sh" word. Words made of characters the
// shell treats literally are returned unchanged.
func ShellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool { return !shellSafe(r) }) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func shellSafe(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	return strings.ContainsRune("_-+=/.,:@%", r)
}

// Compile runs the command for inv and collects implicit inputs from its
// depfile.
func (e *Exec) Compile(ctx context.Context, inv Invocation) (Result, error) {
	logger := ctxlog.FromContext(ctx)
	cmdline, err := e.Command(inv)
	if err != nil {
		return Result{}, err
	}
	if err := os.MkdirAll(filepath.Dir(inv.Output), 0o755); err != nil {
		return Result{}, fmt.Errorf("creating output directory: %w", err)
	}

	logger.Debug("Invoking toolchain.", "command", cmdline)
	cmd := exec.CommandContext(ctx, e.shell, "-c", cmdline)
	cmd.Dir = inv.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	runErr := cmd.Run()
	res := Result{Diagnostic: out.String()}
	if runErr != nil {
		return res, fmt.Errorf("command failed: %w", runErr)
	}

	if inv.Depfile != "" {
		discovered, err := readDepFile(inv)
		if err != nil {
			return res, err
		}
		res.Discovered = discovered
	}
	return res, nil
}

// readDepFile returns the prerequisites that are not explicit inputs,
// relative to inv.Dir when they lie below it. A missing depfile is not an
// error.
func readDepFile(inv Invocation) ([]string, error) {
	f, err := os.Open(inv.Depfile)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading depfile: %w", err)
	}
	defer f.Close()

	prereqs, err := ParseDepFile(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", inv.Depfile, err)
	}
	explicit := make(map[string]bool, len(inv.Inputs))
	for _, in := range inv.Inputs {
		explicit[filepath.Clean(in)] = true
	}
	var discovered []string
	for _, p := range prereqs {
		abs := p
		if !filepath.IsAbs(abs) {
			abs = filepath.Join(inv.Dir, p)
		}
		abs = filepath.Clean(abs)
		if explicit[abs] {
			continue
		}
		if rel, err := filepath.Rel(inv.Dir, abs); err == nil && !strings.HasPrefix(rel, "..") {
			discovered = append(discovered, filepath.ToSlash(rel))
		} else {
			discovered = append(discovered, abs)
		}
	}
	sort.Strings(discovered)
	return discovered, nil
}

// templateVars exposes inv to command templates. Paths, flags and defines
// are shell-quoted; config values and the remaining scalars are raw.
func templateVars(inv Invocation) map[string]cty.Value {
	names := make([]string, 0, len(inv.Config))
	for n := range inv.Config {
		names = append(names, n)
	}
	sort.Strings(names)
	config := make(map[string]cty.Value, len(names))
	var defines []string
	for _, n := range names {
		v := inv.Config[n]
		config[n] = cty.StringVal(v)
		if v != "" {
			defines = append(defines, ShellQuote("-DCONFIG_"+n+"="+v))
		}
	}

	configVal := cty.MapValEmpty(cty.String)
	if len(config) > 0 {
		configVal = cty.MapVal(config)
	}

	return map[string]cty.Value{
		"unit":    cty.StringVal(inv.Unit),
		"kind":    cty.StringVal(string(inv.Kind)),
		"output":  cty.StringVal(ShellQuote(inv.Output)),
		"inputs":  stringList(inv.Inputs),
		"deps":    stringList(inv.Deps),
		"flags":   stringList(inv.Flags),
		"defines": stringList(defines),
		"config":  configVal,
		"arch":    cty.StringVal(inv.Arch),
		"prefix":  cty.StringVal(inv.Prefix),
		"depfile": cty.StringVal(ShellQuote(inv.Depfile)),
	}
}

func stringList(items []string) cty.Value {
	if len(items) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	vals := make([]cty.Value, len(items))
	for i, s := range items {
		vals[i] = cty.StringVal(ShellQuote(s))
	}
	return cty.ListVal(vals)
}
