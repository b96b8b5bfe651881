package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/alecthomas/kong"
	"github.com/vk/kbuildgo/internal/app"
	"github.com/vk/kbuildgo/internal/fingerprint"
	"github.com/vk/kbuildgo/internal/model"
	"github.com/vk/kbuildgo/internal/target"
)

// Globals are the flags shared by every command.
type Globals struct {
	SourceRoot   string            `name:"source-root" short:"C" help:"Root of the source tree." type:"path"`
	Declarations []string          `name:"decl" help:"Declaration file or directory; repeatable." type:"path"`
	ConfigFile   string            `name:"config" help:"Configuration file (default <source-root>/.config)." type:"path"`
	Project      string            `name:"project" help:"Project file (default <source-root>/kbuild.yaml)." type:"path"`
	EnvFile      string            `name:"env-file" help:"Dotenv file providing ARCH, CROSS_COMPILE, KBUILD_OUTPUT and JOBS." type:"path"`
	Arch         string            `name:"arch" help:"Target architecture."`
	CrossCompile string            `name:"cross-compile" help:"Toolchain prefix, e.g. aarch64-linux-gnu-."`
	Output       string            `name:"output" short:"O" help:"Output root for artifacts." type:"path"`
	Jobs         int               `name:"jobs" short:"j" help:"Maximum concurrent compiler invocations."`
	Fingerprint  string            `name:"fingerprint" help:"Fingerprint mode: content or mtime."`
	Commands     map[string]string `name:"command" help:"Command template for a unit kind, KIND=TEMPLATE; repeatable." mapsep:"none"`
	Report       string            `name:"report" help:"Where to write the YAML build report." type:"path"`

	LogFormat       string `name:"log-format" help:"Log output format." enum:"text,json" default:"text"`
	LogLevel        string `name:"log-level" help:"Logging level." enum:"debug,info,warn,error" default:"info"`
	StatusPort      int    `name:"status-port" help:"Port for the /health and /metrics server. 0 is disabled."`
	EventsURL       string `name:"events-url" help:"socket.io endpoint receiving build events."`
	EventsNamespace string `name:"events-namespace" help:"socket.io namespace for build events."`
	Verbose         bool   `name:"verbose" short:"v" help:"List up-to-date units in the build summary."`
}

// CLI is the root command-line model.
type CLI struct {
	Globals

	Version kong.VersionFlag `name:"version" help:"Show version and exit."`

	Config ConfigCmd `cmd:"" help:"Resolve and update the configuration."`
	Build  BuildCmd  `cmd:"" help:"Incrementally build the active units."`
	Diff   DiffCmd   `cmd:"" help:"List symbols that differ between two configuration files."`
	Graph  GraphCmd  `cmd:"" help:"Print the active unit graph."`
	Watch  WatchCmd  `cmd:"" help:"Rebuild whenever sources, declarations or the configuration change."`
	Clean  CleanCmd  `cmd:"" help:"Remove artifacts and the fingerprint cache."`
}

// Runtime carries the process-level collaborators commands run against.
type Runtime struct {
	Out io.Writer
	Err io.Writer
	// LookupEnv reads the environment; nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)
	// AppOptions are passed to every App the commands create.
	AppOptions []app.Option
}

// exitCode is panicked by kong's exit hook so that --help and --version
// return from Execute instead of terminating the process.
type exitCode int

// Execute parses args and runs the selected command.
func Execute(ctx context.Context, rt Runtime, args []string) (err error) {
	slog.Debug("CLI parser started.")
	var c CLI
	parser, err := kong.New(&c,
		kong.Name("kbuildgo"),
		kong.Description("A configuration-gated incremental build orchestrator."),
		kong.Writers(rt.Out, rt.Err),
		kong.Exit(func(code int) { panic(exitCode(code)) }),
		kong.Vars{"version": app.Version},
	)
	if err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			code, ok := r.(exitCode)
			if !ok {
				panic(r)
			}
			if code != ExitOK {
				err = &ExitError{Code: int(code)}
			}
		}
	}()

	kctx, err := parser.Parse(args)
	if err != nil {
		return &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.", "command", kctx.Command())

	kctx.BindTo(ctx, (*context.Context)(nil))
	return kctx.Run(&c.Globals, &rt)
}

// appConfig translates the global flags into an app.Config.
func (g *Globals) appConfig(rt *Runtime) app.Config {
	var commands map[model.UnitKind]string
	if len(g.Commands) > 0 {
		commands = make(map[model.UnitKind]string, len(g.Commands))
		for kind, tmpl := range g.Commands {
			commands[model.UnitKind(kind)] = tmpl
		}
	}
	return app.Config{
		ProjectFile:  g.Project,
		SourceRoot:   g.SourceRoot,
		Declarations: g.Declarations,
		ConfigPath:   g.ConfigFile,
		EnvFile:      g.EnvFile,
		Target: target.Params{
			Arch:            g.Arch,
			ToolchainPrefix: g.CrossCompile,
			OutputRoot:      g.Output,
			Parallelism:     g.Jobs,
		},
		Mode:            fingerprint.Mode(g.Fingerprint),
		Commands:        commands,
		ReportPath:      g.Report,
		LogFormat:       g.LogFormat,
		LogLevel:        g.LogLevel,
		StatusPort:      g.StatusPort,
		EventsURL:       g.EventsURL,
		EventsNamespace: g.EventsNamespace,
		Verbose:         g.Verbose,
		LookupEnv:       rt.LookupEnv,
	}
}

// open validates the configuration and constructs the App. Configuration
// problems are usage errors.
func (g *Globals) open(rt *Runtime) (*app.App, error) {
	cfg, err := app.NewConfig(g.appConfig(rt))
	if err != nil {
		return nil, &ExitError{Code: ExitUsage, Message: err.Error()}
	}
	a, err := app.NewApp(rt.Out, rt.Err, cfg, rt.AppOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to start: %w", err)
	}
	return a, nil
}
