package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/vk/kbuildgo/internal/configstore"
	"github.com/vk/kbuildgo/internal/ctxlog"
	"github.com/vk/kbuildgo/internal/kconfig"
	"github.com/vk/kbuildgo/internal/model"
	"github.com/vk/kbuildgo/internal/unitgraph"
)

// ConfigureRequest describes a configuration update.
type ConfigureRequest struct {
	// Set holds NAME=VALUE assignments; a CONFIG_ prefix is accepted.
	Set []string
	// Unset drops the user value of the named symbols so their defaults
	// apply again; a CONFIG_ prefix is accepted.
	Unset []string
	// Defconfig starts from an empty configuration plus the assignments in
	// this .config fragment instead of the current configuration.
	Defconfig string
}

// ConfigureResult reports the outcome of Configure.
type ConfigureResult struct {
	State *kconfig.State
	// Changed lists symbols whose value differs from the previous file.
	Changed []string
	Path    string
}

// Configure resolves the declarations with the requested assignments and
// writes the resulting configuration. Nothing is written when resolution
// fails.
func (a *App) Configure(ctx context.Context, req ConfigureRequest) (*ConfigureResult, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	logger := ctxlog.FromContext(ctx)

	m, err := a.loadModel(ctx, false)
	if err != nil {
		return nil, err
	}

	previous, _, err := a.store.Load()
	if err != nil {
		return nil, err
	}

	delta := kconfig.Delta{}
	prior := previous
	if req.Defconfig != "" {
		fragment, err := configstore.LoadDelta(req.Defconfig)
		if err != nil {
			return nil, err
		}
		delta = delta.Merge(fragment)
		prior = nil
		logger.Info("Starting from defconfig.", "path", req.Defconfig, "assignments", len(fragment))
	}
	for _, s := range req.Set {
		name, value, err := kconfig.ParseAssignment(s)
		if err != nil {
			return nil, err
		}
		delta[name] = value
	}
	if len(req.Unset) > 0 {
		names := make([]string, len(req.Unset))
		for i, name := range req.Unset {
			names[i] = strings.TrimPrefix(strings.TrimSpace(name), "CONFIG_")
			delete(delta, names[i])
		}
		prior = without(prior, names)
	}

	state, err := kconfig.Resolve(ctx, prior, delta, m.Declarations, kconfig.WithArch(a.target.Arch()))
	if err != nil {
		return nil, err
	}
	if err := kconfig.Verify(state, m.Declarations); err != nil {
		return nil, err
	}
	if err := a.store.Save(state); err != nil {
		return nil, err
	}

	changed := configstore.Diff(previous, state)
	logger.Info("Configuration written.", "path", a.store.Path(), "symbols", state.Len(), "changed", len(changed))
	return &ConfigureResult{State: state, Changed: changed, Path: a.store.Path()}, nil
}

// loadModel parses the declaration files once; reload forces a fresh parse
// and a new graph builder.
func (a *App) loadModel(ctx context.Context, reload bool) (*model.Model, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.model != nil && !reload {
		return a.model, nil
	}

	m, err := a.loader.Load(ctx, a.config.Declarations...)
	if err != nil {
		return nil, fmt.Errorf("failed to load declarations: %w", err)
	}
	if len(m.Files) == 0 {
		return nil, fmt.Errorf("no declaration files found in %v", a.config.Declarations)
	}
	a.model = m
	a.builder = unitgraph.NewBuilder(m.Index)
	return m, nil
}

// loadState returns the configuration to build with. A missing file is
// created from defaults; a file that predates the current declarations is
// re-resolved and rewritten, like olddefconfig.
func (a *App) loadState(ctx context.Context, m *model.Model) (*kconfig.State, error) {
	logger := ctxlog.FromContext(ctx)

	prior, found, err := a.store.Load()
	if err != nil {
		return nil, err
	}
	if !found {
		logger.Info("No configuration found; using defaults.", "path", a.store.Path())
	}

	state, err := kconfig.Resolve(ctx, prior, nil, m.Declarations, kconfig.WithArch(a.target.Arch()))
	if err != nil {
		return nil, err
	}
	if err := kconfig.Verify(state, m.Declarations); err != nil {
		return nil, err
	}
	if !found || !state.Equal(prior) {
		if found {
			logger.Info("Configuration updated for current declarations.", "changed", configstore.Diff(prior, state))
		}
		if err := a.store.Save(state); err != nil {
			return nil, err
		}
	}
	return state, nil
}

// without returns s minus the named symbols.
func without(s *kconfig.State, names []string) *kconfig.State {
	if s == nil {
		return nil
	}
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	entries := make(map[string]kconfig.Entry, s.Len())
	for _, n := range s.Names() {
		if drop[n] {
			continue
		}
		e, _ := s.Lookup(n)
		entries[n] = e
	}
	return kconfig.NewState(entries, nil, s.Builtins())
}
