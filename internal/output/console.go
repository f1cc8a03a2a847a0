// Package output renders load test progress and results to the
// console, and exports the final metrics report as JSON.
package output

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/wesleyorama2/riposte/internal/loadtest"
	"github.com/wesleyorama2/riposte/internal/loadtest/metrics"
)

// ColorScheme defines the colors used for console elements.
type ColorScheme struct {
	Title     *color.Color
	Rule      *color.Color
	Label     *color.Color
	Value     *color.Color
	Good      *color.Color
	Warn      *color.Color
	Bad       *color.Color
	Highlight *color.Color
}

// DefaultColorScheme returns the default color scheme.
func DefaultColorScheme() *ColorScheme {
	return &ColorScheme{
		Title:     color.New(color.FgCyan, color.Bold),
		Rule:      color.New(color.FgCyan),
		Label:     color.New(color.FgYellow),
		Value:     color.New(color.FgWhite),
		Good:      color.New(color.FgGreen, color.Bold),
		Warn:      color.New(color.FgYellow, color.Bold),
		Bad:       color.New(color.FgRed, color.Bold),
		Highlight: color.New(color.FgMagenta, color.Bold),
	}
}

// NoColorScheme returns a scheme with all colors disabled.
func NoColorScheme() *ColorScheme {
	scheme := DefaultColorScheme()
	scheme.Title.DisableColor()
	scheme.Rule.DisableColor()
	scheme.Label.DisableColor()
	scheme.Value.DisableColor()
	scheme.Good.DisableColor()
	scheme.Warn.DisableColor()
	scheme.Bad.DisableColor()
	scheme.Highlight.DisableColor()
	return scheme
}

// stepOrder is the workflow order used when printing the per-step table.
var stepOrder = []string{
	string(loadtest.StepAcquire),
	string(loadtest.StepUpload),
	string(loadtest.StepVerify),
	string(loadtest.StepCreateJob),
	string(loadtest.StepPoll),
	string(loadtest.StepRetrieve),
	string(loadtest.StepRetrieveErrors),
}

// Console writes human-readable progress and summary output.
type Console struct {
	writer io.Writer
	scheme *ColorScheme
	isTTY  bool
	quiet  bool

	mu sync.Mutex
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer  io.Writer
	NoColor bool
	Quiet   bool
}

// NewConsole creates a console output handler. Colors are disabled
// automatically when the writer is not a terminal.
func NewConsole(cfg ConsoleConfig) *Console {
	if cfg.Writer == nil {
		cfg.Writer = os.Stdout
	}

	tty := isTerminal(cfg.Writer)
	scheme := DefaultColorScheme()
	if cfg.NoColor || !tty {
		scheme = NoColorScheme()
	}

	return &Console{
		writer: cfg.Writer,
		scheme: scheme,
		isTTY:  tty,
		quiet:  cfg.Quiet,
	}
}

// isTerminal checks if the writer is a terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// PrintHeader prints the run header.
func (c *Console) PrintHeader(name, host string, users int) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rule := strings.Repeat("─", 60)
	c.writeln(c.scheme.Rule.Sprint(rule))
	c.writeln(c.scheme.Title.Sprint(name))
	c.writeln(fmt.Sprintf("%s %s", c.scheme.Label.Sprint("Host: "), host))
	c.writeln(fmt.Sprintf("%s %d", c.scheme.Label.Sprint("Users:"), users))
	c.writeln(c.scheme.Rule.Sprint(rule))
}

// PrintProgress prints a one-line status update from a snapshot.
func (c *Console) PrintProgress(snap *metrics.Snapshot) {
	if c.quiet || snap == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	errColor := c.scheme.Good
	if snap.ErrorRate > 0.01 {
		errColor = c.scheme.Warn
	}
	if snap.ErrorRate > 0.05 {
		errColor = c.scheme.Bad
	}

	c.writeln(fmt.Sprintf("[%8s] VUs: %d/%d | Reqs: %d | RPS: %.1f | Errors: %s | P95: %s",
		formatDuration(snap.Elapsed),
		snap.ActiveVUs, snap.SpawnedVUs,
		snap.TotalRequests,
		snap.RPS,
		errColor.Sprintf("%d (%.1f%%)", snap.FailedRequests, snap.ErrorRate*100),
		formatDurationShort(snap.Latency.P95)))
}

// PrintSummary prints the final run summary: totals, the per-step
// latency table and the verdict.
func (c *Console) PrintSummary(result *loadtest.RunResult) {
	if c.quiet {
		if result.Verdict.Passed {
			c.writeln(c.scheme.Good.Sprint("PASSED"))
		} else {
			c.writeln(c.scheme.Bad.Sprint("FAILED"))
		}
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	status := c.scheme.Good.Sprint("Passed ✓")
	if !result.Verdict.Passed {
		status = c.scheme.Bad.Sprint("Failed ✗")
	}

	rule := strings.Repeat("─", 60)
	c.writeln("")
	c.writeln(c.scheme.Rule.Sprint(rule))
	c.writeln(fmt.Sprintf("%s - %s", c.scheme.Title.Sprint(result.Name), status))
	c.writeln(c.scheme.Rule.Sprint(rule))
	c.writeln("")

	snap := result.Metrics
	c.writeln(fmt.Sprintf("Duration:      %s", formatDuration(result.Duration)))
	c.writeln(fmt.Sprintf("Total Reqs:    %d", snap.TotalRequests))

	successRate := 1.0 - snap.ErrorRate
	successColor := c.scheme.Good
	if successRate < 0.99 {
		successColor = c.scheme.Warn
	}
	if successRate < 0.95 {
		successColor = c.scheme.Bad
	}
	c.writeln(fmt.Sprintf("Success Rate:  %s", successColor.Sprintf("%.1f%%", successRate*100)))
	c.writeln("")

	c.printStepTable(snap)
	c.printVerdict(result.Verdict)
}

func (c *Console) printStepTable(snap *metrics.Snapshot) {
	c.writeln(c.scheme.Title.Sprint("Per-step latency:"))
	c.writeln(fmt.Sprintf("  %-16s %8s %8s %10s %10s %10s %10s",
		"STEP", "COUNT", "FAILS", "P50", "P95", "P99", "MAX"))

	for _, step := range orderedSteps(snap.Steps) {
		stats := snap.Steps[step]
		c.writeln(fmt.Sprintf("  %-16s %8d %8d %10s %10s %10s %10s",
			step,
			stats.Count,
			stats.Failures,
			formatDurationShort(stats.P50),
			formatDurationShort(stats.P95),
			formatDurationShort(stats.P99),
			formatDurationShort(stats.Max)))
	}
	c.writeln("")
}

func (c *Console) printVerdict(v loadtest.Verdict) {
	c.writeln(c.scheme.Title.Sprint("Thresholds:"))
	if v.Passed {
		c.writeln(fmt.Sprintf("  %s all thresholds met", c.scheme.Good.Sprint("✓")))
		return
	}
	for _, violation := range v.Violations {
		c.writeln(fmt.Sprintf("  %s %s", c.scheme.Bad.Sprint("✗"), violation.Message))
	}
}

// orderedSteps returns step names in workflow order, with any
// unexpected names sorted at the end.
func orderedSteps(steps map[string]metrics.LatencyStats) []string {
	var ordered []string
	seen := make(map[string]bool)
	for _, step := range stepOrder {
		if _, ok := steps[step]; ok {
			ordered = append(ordered, step)
			seen[step] = true
		}
	}

	var extra []string
	for step := range steps {
		if !seen[step] {
			extra = append(extra, step)
		}
	}
	sort.Strings(extra)
	return append(ordered, extra...)
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	m := int(d.Minutes())
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dm%02ds", m, s)
}

// formatDurationShort formats a duration in a compact format.
func formatDurationShort(d time.Duration) string {
	if d < time.Microsecond {
		return "0ms"
	}
	if d < time.Millisecond {
		return fmt.Sprintf("%dµs", d.Microseconds())
	}
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	return fmt.Sprintf("%.2fs", d.Seconds())
}
