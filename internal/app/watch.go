package app

import (
	"context"
	"errors"
	"path/filepath"
	"time"

	"github.com/vk/kbuildgo/internal/ctxlog"
	"github.com/vk/kbuildgo/internal/engine"
	"github.com/vk/kbuildgo/internal/watch"
)

// WatchDebounce is the quiet period before a rebuild starts.
var WatchDebounce = 300 * time.Millisecond

// Watch builds once, then rebuilds whenever declarations, sources or the
// configuration file change, until ctx is cancelled. Once watching, every
// error is logged and the next change triggers another attempt.
func (a *App) Watch(ctx context.Context, req BuildRequest) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	logger := ctxlog.FromContext(ctx)

	if _, err := a.Build(ctx, req); err != nil && !recoverable(err) {
		return err
	}

	roots := append([]string{a.config.SourceRoot, a.config.ConfigPath}, a.config.Declarations...)
	w, err := watch.New(roots, []string{a.target.OutputRoot()}, WatchDebounce)
	if err != nil {
		return err
	}
	logger.Info("Watching for changes.", "roots", len(roots))

	return w.Run(ctx, func(ctx context.Context, paths []string) error {
		if declarationsChanged(paths) {
			logger.Info("Declarations changed; reloading.")
			if _, err := a.loadModel(ctx, true); err != nil {
				return err
			}
		}
		_, err := a.Build(ctx, req)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})
}

func declarationsChanged(paths []string) bool {
	for _, p := range paths {
		if filepath.Ext(p) == ".hcl" {
			return true
		}
	}
	return false
}

// recoverable reports whether a failed first build should still start
// watching.
func recoverable(err error) bool {
	var failed *engine.BuildFailedError
	return errors.As(err, &failed)
}
