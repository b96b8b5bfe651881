package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/vk/kbuildgo/internal/ctxlog"
	"github.com/vk/kbuildgo/internal/engine"
	"github.com/vk/kbuildgo/internal/fpcache"
	"github.com/vk/kbuildgo/internal/report"
	"github.com/vk/kbuildgo/internal/unitgraph"
)

const (
	cacheFile  = ".kbuild-cache.db"
	reportFile = "build-report.yaml"
)

// BuildRequest selects what to build.
type BuildRequest struct {
	// Targets names units to build with their dependencies; empty or "all"
	// means the image plus every module.
	Targets []string
	DryRun  bool
}

// Build brings the requested targets up to date. The summary is written to
// the output writer and the YAML report to the configured report path. The
// report is returned even when the build fails.
func (a *App) Build(ctx context.Context, req BuildRequest) (*engine.Report, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	logger := ctxlog.FromContext(ctx)

	g, err := a.graph(ctx)
	if err != nil {
		return nil, err
	}
	sub, err := g.Subgraph(req.Targets)
	if err != nil {
		return nil, err
	}
	logger.Debug("Build graph selected.", "units", sub.Len(), "active", g.Len())

	cache, err := a.openCache(ctx)
	if err != nil {
		return nil, err
	}

	rep, buildErr := engine.Build(ctx, sub, cache, engine.Options{
		Parallelism: a.target.Parallelism(),
		Compiler:    a.compiler,
		Mode:        a.config.Mode,
		SourceRoot:  a.config.SourceRoot,
		DryRun:      req.DryRun,
		Observers:   a.observers,
	})
	if rep == nil {
		return nil, buildErr
	}
	a.recorder.SetCacheEntries(cache.Len())

	report.WriteSummary(a.outW, rep, a.config.Verbose)
	if err := report.SaveYAML(a.reportPath(), rep); err != nil {
		logger.Warn("Failed to write build report.", "error", err)
	}
	return rep, buildErr
}

// Graph writes the active unit graph in dot or text format.
func (a *App) Graph(ctx context.Context, w io.Writer, format string) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	g, err := a.graph(ctx)
	if err != nil {
		return err
	}
	switch format {
	case "dot":
		return g.WriteDot(w)
	case "text", "":
		return g.WriteText(w)
	}
	return fmt.Errorf("unknown graph format %q", format)
}

// Clean removes every declared unit's artifact and depfile, the build
// report and the fingerprint cache. It returns the number of files
// removed.
func (a *App) Clean(ctx context.Context) (int, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	logger := ctxlog.FromContext(ctx)

	m, err := a.loadModel(ctx, false)
	if err != nil {
		return 0, err
	}

	a.mu.Lock()
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			logger.Warn("Failed to close fingerprint cache.", "error", err)
		}
		a.cache = nil
	}
	a.mu.Unlock()

	var paths []string
	for _, u := range m.Index.Units {
		out := a.target.ArtifactPath(u.Name)
		paths = append(paths, out, filepath.Join(filepath.Dir(out), "."+filepath.Base(out)+".d"))
	}
	db := a.cachePath()
	paths = append(paths, db, db+"-wal", db+"-shm", a.reportPath())

	removed := 0
	var errs []error
	for _, p := range paths {
		err := os.Remove(p)
		switch {
		case err == nil:
			removed++
			logger.Debug("Removed file.", "path", p)
		case !errors.Is(err, os.ErrNotExist):
			errs = append(errs, err)
		}
	}
	logger.Info("Clean finished.", "removed", removed)
	return removed, errors.Join(errs...)
}

// graph loads declarations and configuration and returns the active unit
// graph, reusing the previous shape when nothing activation-relevant
// changed.
func (a *App) graph(ctx context.Context) (*unitgraph.Graph, error) {
	m, err := a.loadModel(ctx, false)
	if err != nil {
		return nil, err
	}
	state, err := a.loadState(ctx, m)
	if err != nil {
		return nil, err
	}
	a.mu.Lock()
	builder := a.builder
	a.mu.Unlock()

	g, rebuilt, err := builder.Update(ctx, state, a.target)
	if err != nil {
		return nil, err
	}
	ctxlog.FromContext(ctx).Debug("Unit graph ready.", "units", g.Len(), "reconstructed", rebuilt)
	return g, nil
}

func (a *App) openCache(ctx context.Context) (*fpcache.Cache, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache != nil {
		return a.cache, nil
	}
	if err := os.MkdirAll(a.target.OutputRoot(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}
	c, err := fpcache.OpenOrReset(ctx, a.cachePath())
	if err != nil {
		return nil, err
	}
	a.cache = c
	return c, nil
}

func (a *App) cachePath() string {
	return filepath.Join(a.target.OutputRoot(), cacheFile)
}

func (a *App) reportPath() string {
	if a.config.ReportPath != "" {
		return a.config.ReportPath
	}
	return filepath.Join(a.target.OutputRoot(), reportFile)
}
