package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/vk/kbuildgo/internal/engine"
)

var statusOrder = []engine.Status{
	engine.Built, engine.WouldBuild, engine.UpToDate, engine.Failed, engine.Blocked, engine.Cancelled,
}

// WriteSummary prints a human-readable summary of r. Up-to-date units are
// listed only when verbose is set.
func WriteSummary(w io.Writer, r *engine.Report, verbose bool) {
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	yellow := color.New(color.FgYellow).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()

	paint := map[engine.Status]func(...any) string{
		engine.Built:      green,
		engine.WouldBuild: yellow,
		engine.UpToDate:   gray,
		engine.Failed:     red,
		engine.Blocked:    yellow,
		engine.Cancelled:  yellow,
	}

	title := "Build"
	if r.DryRun {
		title = "Dry run"
	}
	fmt.Fprintf(w, "%s %s\n", cyan(title), gray(r.BuildID))

	for _, u := range r.Units {
		if u.Status == engine.UpToDate && !verbose {
			continue
		}
		line := fmt.Sprintf("  %-11s %s", u.Status, u.Unit)
		if u.Reason != "" {
			line += " (" + u.Reason + ")"
		}
		fmt.Fprintln(w, paint[u.Status](line))
		if u.Err != nil && u.Err.Diagnostic != "" {
			for _, l := range strings.Split(strings.TrimRight(u.Err.Diagnostic, "\n"), "\n") {
				fmt.Fprintf(w, "      %s\n", l)
			}
		}
	}

	var parts []string
	for _, s := range statusOrder {
		if n := r.Count(s); n > 0 {
			parts = append(parts, paint[s](fmt.Sprintf("%d %s", n, s)))
		}
	}
	if len(parts) == 0 {
		parts = append(parts, gray("nothing to do"))
	}
	fmt.Fprintf(w, "%s in %s, %d invocation(s)\n",
		strings.Join(parts, ", "), r.Duration().Round(time.Millisecond), r.Invocations)
}
