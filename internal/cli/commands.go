package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/vk/kbuildgo/internal/app"
)

// ConfigCmd implements the 'config' command.
type ConfigCmd struct {
	Set       []string `name:"set" short:"s" help:"Assign a symbol, SYM=VALUE; repeatable." sep:"none"`
	Unset     []string `name:"unset" help:"Drop a symbol's stored value so it falls back to its default; repeatable."`
	Defconfig string   `name:"defconfig" help:"Start from this defconfig instead of the stored configuration." type:"existingfile"`
}

func (c *ConfigCmd) Run(ctx context.Context, g *Globals, rt *Runtime) (err error) {
	a, err := g.open(rt)
	if err != nil {
		return err
	}
	defer closeApp(a, &err)

	res, err := a.Configure(ctx, app.ConfigureRequest{Set: c.Set, Unset: c.Unset, Defconfig: c.Defconfig})
	if err != nil {
		return err
	}
	if len(res.Changed) == 0 {
		fmt.Fprintf(rt.Out, "Configuration unchanged: %s\n", res.Path)
		return nil
	}
	fmt.Fprintf(rt.Out, "Configuration written to %s (%d symbol(s) changed)\n", res.Path, len(res.Changed))
	for _, name := range res.Changed {
		fmt.Fprintf(rt.Out, "  %s\n", name)
	}
	return nil
}

// BuildCmd implements the 'build' command.
type BuildCmd struct {
	Targets []string `arg:"" optional:"" help:"Units to build with their dependencies (default: all)."`
	DryRun  bool     `name:"dry-run" short:"n" help:"Report what would be rebuilt without invoking the compiler."`
}

func (c *BuildCmd) Run(ctx context.Context, g *Globals, rt *Runtime) (err error) {
	a, err := g.open(rt)
	if err != nil {
		return err
	}
	defer closeApp(a, &err)

	_, err = a.Build(ctx, app.BuildRequest{Targets: c.Targets, DryRun: c.DryRun})
	return err
}

// DiffCmd implements the 'diff' command.
type DiffCmd struct {
	Old string `arg:"" help:"Configuration file to compare from." type:"path"`
	New string `arg:"" help:"Configuration file to compare to." type:"path"`
}

func (c *DiffCmd) Run(rt *Runtime) error {
	changed, err := app.Diff(c.Old, c.New)
	if err != nil {
		return err
	}
	for _, name := range changed {
		fmt.Fprintln(rt.Out, name)
	}
	return nil
}

// GraphCmd implements the 'graph' command.
type GraphCmd struct {
	Format string `name:"format" help:"Output format." enum:"text,dot" default:"text"`
}

func (c *GraphCmd) Run(ctx context.Context, g *Globals, rt *Runtime) (err error) {
	a, err := g.open(rt)
	if err != nil {
		return err
	}
	defer closeApp(a, &err)
	return a.Graph(ctx, rt.Out, c.Format)
}

// WatchCmd implements the 'watch' command.
type WatchCmd struct {
	Targets []string `arg:"" optional:"" help:"Units to rebuild on change (default: all)."`
}

func (c *WatchCmd) Run(ctx context.Context, g *Globals, rt *Runtime) (err error) {
	a, err := g.open(rt)
	if err != nil {
		return err
	}
	defer closeApp(a, &err)
	return a.Watch(ctx, app.BuildRequest{Targets: c.Targets})
}

// CleanCmd implements the 'clean' command.
type CleanCmd struct{}

func (c *CleanCmd) Run(ctx context.Context, g *Globals, rt *Runtime) (err error) {
	a, err := g.open(rt)
	if err != nil {
		return err
	}
	defer closeApp(a, &err)

	n, err := a.Clean(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(rt.Out, "Removed %d file(s).\n", n)
	return nil
}

// closeApp releases the App, keeping the command's own error if it has one.
func closeApp(a *app.App, err *error) {
	if cerr := a.Close(); cerr != nil {
		if *err == nil {
			*err = cerr
			return
		}
		slog.Warn("Failed to shut down cleanly.", "error", cerr)
	}
}
