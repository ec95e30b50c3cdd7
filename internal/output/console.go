// Package output renders run progress and reports for the console and
// for machine consumers.
package output

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/wesleyorama2/steadyrate/internal/engine"
	"github.com/wesleyorama2/steadyrate/internal/metrics"
)

// ANSI escape codes for the live display
const (
	cursorUp  = "\033[%dA"
	clearLine = "\033[2K"

	ruleWidth      = 56
	boxHorizontal  = "━"
	progressFilled = "█"
	progressEmpty  = "░"
)

// LiveStats contains real-time statistics for display.
type LiveStats struct {
	Progress float64 // 0.0 to 1.0
	Elapsed  time.Duration
	Phase    metrics.Phase

	ActiveWorkers int
	MaxWorkers    int

	Iterations int64
	Failed     int64
	ErrorRate  float64
	Dropped    int64
	Rate       float64 // completed iterations per second

	LatencyP95 time.Duration
	LatencyAvg time.Duration
}

// Source is a running engine as seen by the live display.
type Source interface {
	Progress() float64
	ActiveWorkers() int
	Aggregator() *metrics.Aggregator
}

// Console manages console output during and after a run.
type Console struct {
	writer io.Writer
	colors *ColorScheme
	isTTY  bool
	quiet  bool

	mu          sync.Mutex
	linesOutput int
}

// ConsoleConfig contains configuration for Console.
type ConsoleConfig struct {
	Writer      io.Writer
	Quiet       bool
	NoColor     bool
	ForceColors bool
	ForceTTY    bool
}

// NewConsole creates a console writer. Colors are used only on a terminal
// unless forced.
func NewConsole(config ConsoleConfig) *Console {
	if config.Writer == nil {
		config.Writer = os.Stdout
	}

	isTTY := config.ForceTTY || isTerminal(config.Writer)

	var colors *ColorScheme
	switch {
	case config.NoColor:
		colors = NoColorScheme()
	case config.ForceColors || (isTTY && supportsColors()):
		colors = ForcedColorScheme()
	default:
		colors = NoColorScheme()
	}

	return &Console{
		writer: config.Writer,
		colors: colors,
		isTTY:  isTTY,
		quiet:  config.Quiet,
	}
}

// IsTTY returns whether the output is a terminal.
func (c *Console) IsTTY() bool {
	return c.isTTY
}

// PrintHeader prints the run header.
func (c *Console) PrintHeader(name string, sc engine.ScenarioSummary) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rule := c.colors.Rule.Sprint(strings.Repeat(boxHorizontal, ruleWidth))
	c.writeln(rule)
	c.writeln(c.colors.Title.Sprintf("%s - Running", name))
	c.writeln(rule)
	c.writeln(fmt.Sprintf("Rate:      %s per %s for %s",
		c.colors.Value.Sprint(formatFloat(sc.Rate)), sc.TimeUnit, formatDuration(sc.Duration)))
	c.writeln(fmt.Sprintf("Workers:   %d pre-allocated, %d max (%s overflow)",
		sc.PreAllocatedVUs, sc.MaxVUs, sc.Overflow))
	c.writeln(fmt.Sprintf("Seed:      %d", sc.Seed))
	c.writeln("")
}

// Watch renders progress every interval until ctx is done. On a terminal
// the display is redrawn in place; otherwise one line is printed per update.
func (c *Console) Watch(ctx context.Context, src Source, maxWorkers int, interval time.Duration) {
	if c.quiet {
		return
	}
	if interval <= 0 {
		interval = time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			agg := src.Aggregator()
			stats := StatsFromSnapshot(agg.Snapshot(), agg.Phase(), src.Progress(), src.ActiveWorkers(), maxWorkers)
			if c.isTTY {
				c.Update(stats)
			} else {
				c.PrintProgress(stats)
			}
		}
	}
}

// Update redraws the live display.
func (c *Console) Update(stats *LiveStats) {
	if c.quiet || !c.isTTY {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.clearLive()
	lines := c.renderLiveStats(stats)
	c.linesOutput = len(lines)
	for _, line := range lines {
		c.writeln(line)
	}
}

// PrintProgress prints a one-line status update. Used when output is not a
// terminal (piped to a file or CI).
func (c *Console) PrintProgress(stats *LiveStats) {
	if c.quiet {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.writeln(fmt.Sprintf("[%s] %s %.0f%% | workers: %d | iterations: %d | rate: %.1f/s | errors: %d (%.1f%%) | dropped: %d | p95: %s",
		formatDuration(stats.Elapsed),
		stats.Phase,
		stats.Progress*100,
		stats.ActiveWorkers,
		stats.Iterations,
		stats.Rate,
		stats.Failed,
		stats.ErrorRate*100,
		stats.Dropped,
		formatDurationShort(stats.LatencyP95)))
}

func (c *Console) renderLiveStats(stats *LiveStats) []string {
	bar := renderProgressBar(stats.Progress, 40)
	errColor := c.colors.rate(stats.ErrorRate)

	return []string{
		fmt.Sprintf("Progress: %s %s | %s",
			c.colors.Pass.Sprint(bar),
			c.colors.Title.Sprintf("%.0f%%", stats.Progress*100),
			c.colors.Dim.Sprint(formatDuration(stats.Elapsed))),
		fmt.Sprintf("Phase:    %s", c.colors.Highlight.Sprint(stats.Phase)),
		fmt.Sprintf("Workers:  %s / %d   Iterations: %s   Rate: %s/s",
			c.colors.Value.Sprint(stats.ActiveWorkers), stats.MaxWorkers,
			c.colors.Value.Sprint(formatNumber(stats.Iterations)),
			c.colors.Value.Sprintf("%.1f", stats.Rate)),
		fmt.Sprintf("Errors:   %s (%s)   Dropped: %s",
			errColor.Sprint(stats.Failed),
			errColor.Sprintf("%.1f%%", stats.ErrorRate*100),
			c.colors.Value.Sprint(stats.Dropped)),
		fmt.Sprintf("Latency:  p95 %s   avg %s",
			c.colors.Value.Sprint(formatDurationShort(stats.LatencyP95)),
			c.colors.Value.Sprint(formatDurationShort(stats.LatencyAvg))),
	}
}

// clearLive erases the live display. Caller holds mu.
func (c *Console) clearLive() {
	if !c.isTTY || c.linesOutput == 0 {
		return
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	for i := 0; i < c.linesOutput; i++ {
		c.write(clearLine + "\n")
	}
	c.write(fmt.Sprintf(cursorUp, c.linesOutput))
	c.linesOutput = 0
}

// PrintSummary prints the final report.
func (c *Console) PrintSummary(r *engine.Report) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.quiet {
		c.writeln(c.verdict(r))
		return
	}

	c.clearLive()

	rule := c.colors.Rule.Sprint(strings.Repeat(boxHorizontal, ruleWidth))
	c.writeln("")
	c.writeln(rule)
	c.writeln(fmt.Sprintf("%s - %s", c.colors.Title.Sprint(r.Name), c.verdict(r)))
	c.writeln(rule)
	c.writeln("")

	c.writeln(fmt.Sprintf("Status:        %s (%s)", r.Status, r.StopReason))
	c.writeln(fmt.Sprintf("Duration:      %s", c.colors.Value.Sprint(formatDuration(r.Duration))))
	if r.Error != "" {
		c.writeln(fmt.Sprintf("Error:         %s", c.colors.Fail.Sprint(r.Error)))
	}

	ex := r.Executor
	c.writeln(fmt.Sprintf("Ticks:         %d planned, %d issued, %d dropped, %d unissued",
		ex.Planned, ex.Emitted, ex.Dropped, ex.Unissued))
	c.writeln(fmt.Sprintf("Workers:       peak %d, max lag %s", ex.PeakWorkers, formatDurationShort(ex.MaxLag)))

	if m := r.Metrics; m != nil {
		c.printMetrics(m)
	}

	if len(r.Thresholds) > 0 {
		c.writeln(c.colors.Label.Sprint("Thresholds:"))
		for _, t := range r.Thresholds {
			icon := c.colors.SuccessIcon()
			if !t.Passed {
				icon = c.colors.ErrorIcon()
			}
			line := fmt.Sprintf("  %s %s %s (actual: %s)", icon, t.Metric, t.Expression, t.Display)
			if t.NoData {
				line = fmt.Sprintf("  %s %s %s (no data)", icon, t.Metric, t.Expression)
			}
			c.writeln(line)
		}
		c.writeln("")
	}

	if r.AbortedBy != nil {
		c.writeln(fmt.Sprintf("%s stopped early: %s %s", c.colors.WarningIcon(), r.AbortedBy.Metric, r.AbortedBy.Message))
		c.writeln("")
	}
}

func (c *Console) printMetrics(m *metrics.Snapshot) {
	errColor := c.colors.rate(m.ErrorRate)
	c.writeln(fmt.Sprintf("Iterations:    %s (%.1f/s)", c.colors.Value.Sprint(formatNumber(m.Iterations)), m.IterationRate()))
	c.writeln(fmt.Sprintf("Failed:        %s (%s)", errColor.Sprint(formatNumber(m.Failed)), errColor.Sprintf("%.2f%%", m.ErrorRate*100)))
	if m.Interrupted > 0 {
		c.writeln(fmt.Sprintf("Interrupted:   %d", m.Interrupted))
	}
	if m.Dropped > 0 {
		c.writeln(fmt.Sprintf("Dropped:       %s %s", c.colors.Warn.Sprint(m.Dropped), formatCounts(m.DroppedBy)))
	}
	if m.TransportErrors > 0 {
		c.writeln(fmt.Sprintf("Transport:     %d %s", m.TransportErrors, formatCounts(m.ErrorsByKind)))
	}
	c.writeln("")

	c.writeln(c.colors.Label.Sprint("Latency Distribution:"))
	c.writeln(fmt.Sprintf("  Min:       %s", formatDurationShort(m.Latency.Min)))
	c.writeln(fmt.Sprintf("  Avg:       %s", formatDurationShort(m.Latency.Mean)))
	c.writeln(fmt.Sprintf("  P50:       %s", formatDurationShort(m.Latency.P50)))
	c.writeln(fmt.Sprintf("  P90:       %s", formatDurationShort(m.Latency.P90)))
	c.writeln(fmt.Sprintf("  P95:       %s", formatDurationShort(m.Latency.P95)))
	c.writeln(fmt.Sprintf("  P99:       %s", formatDurationShort(m.Latency.P99)))
	c.writeln(fmt.Sprintf("  Max:       %s", formatDurationShort(m.Latency.Max)))
	c.writeln("")

	if len(m.Operations) > 0 {
		c.writeln(c.colors.Label.Sprint("Operations:"))
		names := make([]string, 0, len(m.Operations))
		for name := range m.Operations {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			op := m.Operations[name]
			c.writeln(fmt.Sprintf("  %-12s %8d iterations  %6.2f%% failed  p95 %s",
				name, op.Iterations, op.ErrorRate*100, formatDurationShort(op.Latency.P95)))
		}
		c.writeln("")
	}

	if len(m.Checks) > 0 {
		c.writeln(c.colors.Label.Sprint("Checks:"))
		names := make([]string, 0, len(m.Checks))
		for name := range m.Checks {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			ch := m.Checks[name]
			icon := c.colors.SuccessIcon()
			if ch.Fails > 0 {
				icon = c.colors.ErrorIcon()
			}
			c.writeln(fmt.Sprintf("  %s %s: %d passed, %d failed", icon, name, ch.Passes, ch.Fails))
		}
		c.writeln("")
	}
}

func (c *Console) verdict(r *engine.Report) string {
	switch r.Verdict {
	case engine.VerdictPass:
		if r.Status == engine.StatusInterrupted {
			return c.colors.Warn.Sprint("PASS (interrupted)")
		}
		return c.colors.Pass.Sprint("PASS ✓")
	case engine.VerdictFail:
		return c.colors.Fail.Sprint("FAIL ✗")
	default:
		return c.colors.Fail.Sprint("ABORTED")
	}
}

func (c *Console) write(s string) {
	fmt.Fprint(c.writer, s)
}

func (c *Console) writeln(s string) {
	fmt.Fprintln(c.writer, s)
}

// StatsFromSnapshot creates LiveStats from a metrics snapshot.
func StatsFromSnapshot(snap *metrics.Snapshot, phase metrics.Phase, progress float64, activeWorkers, maxWorkers int) *LiveStats {
	stats := &LiveStats{
		Progress:      progress,
		Phase:         phase,
		ActiveWorkers: activeWorkers,
		MaxWorkers:    maxWorkers,
	}
	if snap == nil {
		return stats
	}

	stats.Elapsed = snap.Elapsed
	stats.Iterations = snap.Iterations
	stats.Failed = snap.Failed
	stats.ErrorRate = snap.ErrorRate
	stats.Dropped = snap.Dropped
	stats.Rate = snap.IterationRate()
	stats.LatencyP95 = snap.Latency.P95
	stats.LatencyAvg = snap.Latency.Mean
	return stats
}

func renderProgressBar(progress float64, width int) string {
	if progress < 0 {
		progress = 0
	}
	if progress > 1 {
		progress = 1
	}

	filled := int(progress * float64(width))
	return "[" + strings.Repeat(progressFilled, filled) + strings.Repeat(progressEmpty, width-filled) + "]"
}

// formatCounts renders a count map as "(a: 1, b: 2)" with sorted keys.
func formatCounts[K ~string](counts map[K]int64) string {
	if len(counts) == 0 {
		return ""
	}
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, string(k))
	}
	sort.Strings(keys)

	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s: %d", k, counts[K(k)])
	}
	return "(" + strings.Join(parts, ", ") + ")"
}

func formatFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// formatDuration formats a duration in a human-readable format.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		m := int(d.Minutes())
		s := int(d.Seconds()) % 60
		return fmt.Sprintf("%dm %02ds", m, s)
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%dh %02dm %02ds", h, m, s)
}

// formatDurationShort formats a latency.
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
	if d < time.Minute {
		return fmt.Sprintf("%.2fs", d.Seconds())
	}
	return fmt.Sprintf("%.1fm", d.Minutes())
}

// formatNumber formats a number with thousands separators.
func formatNumber(n int64) string {
	str := fmt.Sprintf("%d", n)
	if n < 0 || len(str) <= 3 {
		return str
	}

	var result strings.Builder
	offset := len(str) % 3
	if offset > 0 {
		result.WriteString(str[:offset])
	}
	for i := offset; i < len(str); i += 3 {
		if result.Len() > 0 {
			result.WriteString(",")
		}
		result.WriteString(str[i : i+3])
	}
	return result.String()
}
