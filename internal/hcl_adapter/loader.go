package hcl_adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/kbuildgo/internal/ctxlog"
	"github.com/vk/kbuildgo/internal/model"
)

// Loader is the HCL-specific implementation of the model.Loader interface.
type Loader struct {
	sourceRoot string
}

// NewLoader creates a new HCL declaration loader. Unit paths are made
// relative to sourceRoot.
func NewLoader(sourceRoot string) *Loader {
	return &Loader{sourceRoot: sourceRoot}
}

// Load parses every .hcl file under the given paths. Files are read in
// lexical order, which fixes declaration order across runs.
func (l *Loader) Load(ctx context.Context, paths ...string) (*model.Model, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	hclFiles, err := l.findAllHCLFiles(paths)
	if err != nil {
		return nil, err
	}
	logger.Debug("Discovered HCL files.", "count", len(hclFiles))

	root, err := filepath.Abs(l.sourceRoot)
	if err != nil {
		return nil, fmt.Errorf("resolving source root: %w", err)
	}

	parser := hclparse.NewParser()
	var (
		symbols []*model.Symbol
		choices []*model.Choice
		units   []*model.Unit
	)

	for _, file := range hclFiles {
		hclFile, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, diagsError("parse", file, diags)
		}

		var fileRoot fileRoot
		diags = gohcl.DecodeBody(hclFile.Body, nil, &fileRoot)
		if diags.HasErrors() {
			return nil, diagsError("decode", file, diags)
		}

		dir := unitDir(root, file)
		for _, s := range fileRoot.Symbols {
			sym, err := l.translateSymbol(ctx, s)
			if err != nil {
				return nil, err
			}
			symbols = append(symbols, sym)
		}
		for _, c := range fileRoot.Choices {
			choice, err := l.translateChoice(ctx, c)
			if err != nil {
				return nil, err
			}
			choices = append(choices, choice)
		}
		for _, u := range fileRoot.Units {
			unit, err := l.translateUnit(ctx, u, dir)
			if err != nil {
				return nil, err
			}
			units = append(units, unit)
		}
	}

	decls, err := model.NewDeclarations(symbols, choices)
	if err != nil {
		return nil, err
	}
	index, err := model.NewIndex(units)
	if err != nil {
		return nil, err
	}

	logger.Debug("HCL loading complete.", "symbols", len(symbols), "choices", len(choices), "units", len(units))
	return &model.Model{Declarations: decls, Index: index, Files: hclFiles}, nil
}

// unitDir returns the slash-separated directory of file relative to root,
// or "" when the file lies outside it.
func unitDir(root, file string) string {
	abs, err := filepath.Abs(filepath.Dir(file))
	if err != nil {
		return ""
	}
	rel, err := filepath.Rel(root, abs)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return ""
	}
	return filepath.ToSlash(rel)
}

// findAllHCLFiles walks all given paths and returns a sorted list of all .hcl files found.
func (l *Loader) findAllHCLFiles(paths []string) ([]string, error) {
	var allFiles []string
	seen := make(map[string]struct{})

	add := func(p string) {
		if _, wasSeen := seen[p]; !wasSeen {
			allFiles = append(allFiles, p)
			seen[p] = struct{}{}
		}
	}

	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue // It's not an error if a configured path doesn't exist.
			}
			return nil, fmt.Errorf("error accessing path %s: %w", path, err)
		}

		if info.IsDir() {
			err := filepath.Walk(path, func(p string, info os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if !info.IsDir() && filepath.Ext(p) == ".hcl" {
					add(p)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
		} else if filepath.Ext(path) == ".hcl" {
			add(path)
		}
	}
	sort.Strings(allFiles)
	return allFiles, nil
}
