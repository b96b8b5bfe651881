package app

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/kbuildgo/internal/fingerprint"
	"github.com/vk/kbuildgo/internal/model"
	"github.com/vk/kbuildgo/internal/target"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	// ProjectFile names kbuild.yaml explicitly; when empty the default is
	// used if it exists in the source root.
	ProjectFile  string
	SourceRoot   string
	Declarations []string // hcl files or directories
	ConfigPath   string   // .config
	EnvFile      string

	Target   target.Params
	Mode     fingerprint.Mode
	Commands map[model.UnitKind]string
	// ReportPath receives the YAML build report; defaults to
	// <output>/build-report.yaml.
	ReportPath string

	LogFormat       string
	LogLevel        string
	StatusPort      int
	EventsURL       string
	EventsNamespace string
	Verbose         bool

	// LookupEnv reads the environment; nil means os.LookupEnv.
	LookupEnv func(string) (string, bool)
}

// NewConfig validates cfg and fills every unset field, in order of
// precedence, from the environment, the project file and built-in defaults.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogFormat != "text" && cfg.LogFormat != "json" {
		return nil, errors.New("invalid log-format: must be 'text' or 'json'")
	}
	if _, ok := parseLevel(cfg.LogLevel); !ok {
		return nil, errors.New("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.StatusPort < 0 {
		return nil, fmt.Errorf("invalid status port %d", cfg.StatusPort)
	}

	if cfg.EnvFile != "" {
		if err := target.LoadEnvFile(cfg.EnvFile); err != nil {
			return nil, err
		}
	}
	lookup := cfg.LookupEnv
	if lookup == nil {
		lookup = os.LookupEnv
	}

	projectPath, required := cfg.ProjectFile, true
	if projectPath == "" {
		root := cfg.SourceRoot
		if root == "" {
			root = "."
		}
		projectPath, required = filepath.Join(root, DefaultProjectFile), false
	}
	pf, err := LoadProjectFile(projectPath, required)
	if err != nil {
		return nil, err
	}
	if pf == nil {
		pf = &ProjectFile{dir: "."}
	}

	if cfg.SourceRoot == "" {
		cfg.SourceRoot = pf.path(pf.SourceRoot)
	}
	if cfg.SourceRoot == "" {
		cfg.SourceRoot = pf.dir
	}
	if cfg.SourceRoot, err = filepath.Abs(cfg.SourceRoot); err != nil {
		return nil, fmt.Errorf("resolving source root: %w", err)
	}

	if len(cfg.Declarations) == 0 {
		for _, d := range pf.Declarations {
			cfg.Declarations = append(cfg.Declarations, pf.path(d))
		}
	}
	if len(cfg.Declarations) == 0 {
		cfg.Declarations = []string{cfg.SourceRoot}
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = pf.path(pf.Config)
	}
	if cfg.ConfigPath == "" {
		cfg.ConfigPath = filepath.Join(cfg.SourceRoot, ".config")
	}

	project := target.Params{
		Arch:            pf.Arch,
		ToolchainPrefix: pf.CrossCompile,
		OutputRoot:      pf.path(pf.Output),
		Parallelism:     pf.Jobs,
	}
	cfg.Target = cfg.Target.Merge(target.ParamsFromEnv(lookup)).Merge(project)
	if cfg.Target.OutputRoot == "" {
		cfg.Target.OutputRoot = filepath.Join(cfg.SourceRoot, "build")
	}

	if cfg.Mode == "" {
		cfg.Mode = fingerprint.Mode(pf.Fingerprint)
	}
	if cfg.Mode, err = fingerprint.ParseMode(string(cfg.Mode)); err != nil {
		return nil, err
	}

	commands := make(map[model.UnitKind]string)
	for kind, tmpl := range pf.Commands {
		commands[model.UnitKind(kind)] = tmpl
	}
	for kind, tmpl := range cfg.Commands {
		commands[kind] = tmpl
	}
	for kind := range commands {
		if !kind.Valid() {
			return nil, fmt.Errorf("command template for unknown unit kind %q", kind)
		}
	}
	cfg.Commands = commands

	if cfg.ReportPath == "" {
		cfg.ReportPath = pf.path(pf.Report)
	}
	if cfg.EventsURL == "" {
		cfg.EventsURL = pf.Events.URL
	}
	if cfg.EventsNamespace == "" {
		cfg.EventsNamespace = pf.Events.Namespace
	}
	if cfg.EventsNamespace == "" {
		cfg.EventsNamespace = "/"
	}

	return &cfg, nil
}
