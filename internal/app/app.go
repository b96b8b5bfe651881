package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/vk/kbuildgo/internal/configstore"
	"github.com/vk/kbuildgo/internal/ctxlog"
	"github.com/vk/kbuildgo/internal/engine"
	"github.com/vk/kbuildgo/internal/events"
	"github.com/vk/kbuildgo/internal/fpcache"
	"github.com/vk/kbuildgo/internal/hcl_adapter"
	"github.com/vk/kbuildgo/internal/metrics"
	"github.com/vk/kbuildgo/internal/model"
	"github.com/vk/kbuildgo/internal/target"
	"github.com/vk/kbuildgo/internal/toolchain"
	"github.com/vk/kbuildgo/internal/unitgraph"
)

// Version is written into generated configuration files.
var Version = "dev"

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	ctx    context.Context
	outW   io.Writer
	logger *slog.Logger
	config *Config

	target   target.Context
	store    *configstore.Store
	loader   model.Loader
	compiler toolchain.Compiler

	registry   *prom.Registry
	recorder   metrics.Recorder
	httpServer *http.Server
	statusAddr string
	observers  []engine.Observer
	emitter    *events.SocketEmitter

	mu      sync.Mutex
	model   *model.Model
	builder *unitgraph.Builder
	cache   *fpcache.Cache
}

// Option customizes an App.
type Option func(*App)

// WithCompiler replaces the command-template compiler.
func WithCompiler(c toolchain.Compiler) Option {
	return func(a *App) { a.compiler = c }
}

// WithLoader replaces the HCL declaration loader.
func WithLoader(l model.Loader) Option {
	return func(a *App) { a.loader = l }
}

// WithObserver adds an engine observer to every build.
func WithObserver(o engine.Observer) Option {
	return func(a *App) { a.observers = append(a.observers, o) }
}

// NewApp is the constructor for the main application. Human-readable
// results go to outW and logs to logW. Close releases what NewApp starts.
func NewApp(outW, logW io.Writer, cfg *Config, opts ...Option) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, logW)
	ctx := ctxlog.WithLogger(context.Background(), logger)
	logger.Debug("Logger configured successfully.")

	tc, err := target.New(cfg.Target)
	if err != nil {
		return nil, err
	}
	logger.Debug("Target context resolved.", "target", tc.String())

	a := &App{
		ctx:      ctx,
		outW:     outW,
		logger:   logger,
		config:   cfg,
		target:   tc,
		store:    configstore.New(cfg.ConfigPath, Version),
		registry: prom.NewRegistry(),
		recorder: metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(a)
	}

	if a.loader == nil {
		a.loader = hcl_adapter.NewLoader(cfg.SourceRoot)
	}
	if a.compiler == nil {
		exec, err := toolchain.NewExec(cfg.Commands)
		if err != nil {
			return nil, err
		}
		a.compiler = exec
	}

	if cfg.StatusPort > 0 {
		a.recorder = metrics.NewPrometheusRecorder(a.registry)
		if a.statusAddr, err = a.startStatusServer(cfg.StatusPort); err != nil {
			return nil, err
		}
	}
	a.observers = append(a.observers, metrics.NewObserver(a.recorder))

	if cfg.EventsURL != "" {
		sock, err := events.Dial(ctx, events.DialOptions{URL: cfg.EventsURL, Namespace: cfg.EventsNamespace})
		if err != nil {
			logger.Warn("Build events disabled.", "error", err)
		} else {
			a.emitter = &events.SocketEmitter{Socket: sock}
			a.observers = append(a.observers, events.NewReporter(a.emitter))
		}
	}

	return a, nil
}

// Target returns the resolved target context.
func (a *App) Target() target.Context { return a.target }

// Close stops the status server, disconnects the event stream and closes
// the fingerprint cache.
func (a *App) Close() error {
	var errs []error
	if err := a.closeStatusServer(); err != nil {
		errs = append(errs, err)
	}
	if a.emitter != nil {
		a.emitter.Close()
		a.emitter = nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("closing fingerprint cache: %w", err))
		}
		a.cache = nil
	}
	return errors.Join(errs...)
}
