package output

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/wesleyorama2/steadyrate/internal/engine"
	"github.com/wesleyorama2/steadyrate/internal/metrics"
	"github.com/wesleyorama2/steadyrate/internal/threshold"
)

func sampleReport() *engine.Report {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &engine.Report{
		Name:       "wallet",
		Status:     engine.StatusCompleted,
		StopReason: engine.StopDuration,
		Verdict:    engine.VerdictFail,
		StartTime:  start,
		EndTime:    start.Add(10 * time.Second),
		Duration:   10 * time.Second,
		Scenario: engine.ScenarioSummary{
			Rate: 100, TimeUnit: time.Second, Duration: 10 * time.Second,
			PreAllocatedVUs: 2, MaxVUs: 4, Seed: 7,
		},
		Metrics: &metrics.Snapshot{
			Iterations: 1000,
			Succeeded:  950,
			Failed:     50,
			ErrorRate:  0.05,
			Dropped:    3,
			DroppedBy:  map[metrics.DropReason]int64{metrics.DropQueueFull: 3},
			Latency:    metrics.LatencyStats{Min: time.Millisecond, P95: 40 * time.Millisecond, Max: 90 * time.Millisecond},
			Operations: map[string]metrics.OperationStats{
				"deposit": {Name: "deposit", Iterations: 600, Failed: 30, ErrorRate: 0.05},
				"balance": {Name: "balance", Iterations: 400, Failed: 20, ErrorRate: 0.05},
			},
			Checks:  map[string]metrics.CheckStats{"status 200": {Name: "status 200", Passes: 950, Fails: 50}},
			Elapsed: 10 * time.Second,
		},
		Thresholds: []threshold.Result{
			{Metric: "http_req_duration", Expression: "p(95)<500", Passed: true, Display: "40ms"},
			{Metric: "http_req_failed", Expression: "rate<=0", Passed: false, Display: "5.00%", Message: "rate is 5.00%, want <= 0.00%"},
		},
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{500 * time.Millisecond, "500ms"},
		{1 * time.Second, "1.0s"},
		{1*time.Minute + 30*time.Second, "1m 30s"},
		{1*time.Hour + 2*time.Minute + 3*time.Second, "1h 02m 03s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := formatDuration(tt.duration)
			if result != tt.expected {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.duration, result, tt.expected)
			}
		})
	}
}

func TestFormatDurationShort(t *testing.T) {
	tests := []struct {
		duration time.Duration
		expected string
	}{
		{0, "0ms"},
		{500 * time.Microsecond, "500µs"},
		{50 * time.Millisecond, "50ms"},
		{1500 * time.Millisecond, "1.50s"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := formatDurationShort(tt.duration)
			if result != tt.expected {
				t.Errorf("formatDurationShort(%v) = %q, want %q", tt.duration, result, tt.expected)
			}
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		number   int64
		expected string
	}{
		{0, "0"},
		{100, "100"},
		{1000, "1,000"},
		{12345, "12,345"},
		{1234567, "1,234,567"},
		{-1500, "-1500"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := formatNumber(tt.number)
			if result != tt.expected {
				t.Errorf("formatNumber(%d) = %q, want %q", tt.number, result, tt.expected)
			}
		})
	}
}

func TestFormatCounts(t *testing.T) {
	got := formatCounts(map[string]int64{"timeout": 2, "connection_refused": 1})
	if got != "(connection_refused: 1, timeout: 2)" {
		t.Errorf("formatCounts = %q", got)
	}
	if formatCounts(map[string]int64{}) != "" {
		t.Error("formatCounts of empty map should be empty")
	}
}

func TestRenderProgressBar(t *testing.T) {
	if got := renderProgressBar(0.5, 10); got != "[█████░░░░░]" {
		t.Errorf("renderProgressBar(0.5) = %q", got)
	}
	if got := renderProgressBar(2, 4); got != "[████]" {
		t.Errorf("renderProgressBar(2) = %q", got)
	}
	if got := renderProgressBar(-1, 4); got != "[░░░░]" {
		t.Errorf("renderProgressBar(-1) = %q", got)
	}
}

func TestPrintSummary(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, NoColor: true})
	c.PrintSummary(sampleReport())

	out := buf.String()
	for _, want := range []string{
		"wallet - FAIL ✗",
		"Status:        completed (duration)",
		"Iterations:    1,000 (100.0/s)",
		"Failed:        50 (5.00%)",
		"Dropped:       3 (queue_full: 3)",
		"P95:       40ms",
		"✓ http_req_duration p(95)<500 (actual: 40ms)",
		"✗ http_req_failed rate<=0 (actual: 5.00%)",
		"✗ status 200: 950 passed, 50 failed",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q\n%s", want, out)
		}
	}
	if strings.Index(out, "balance") > strings.Index(out, "deposit") {
		t.Error("operations should be sorted by name")
	}
	if strings.Contains(out, "\033[") {
		t.Error("summary should not contain ANSI codes without colors")
	}
}

func TestPrintSummary_Verdicts(t *testing.T) {
	tests := []struct {
		name    string
		status  engine.Status
		verdict engine.Verdict
		want    string
	}{
		{"pass", engine.StatusCompleted, engine.VerdictPass, "PASS ✓"},
		{"interrupted pass", engine.StatusInterrupted, engine.VerdictPass, "PASS (interrupted)"},
		{"fail", engine.StatusCompleted, engine.VerdictFail, "FAIL ✗"},
		{"aborted", engine.StatusAborted, engine.VerdictNone, "ABORTED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := sampleReport()
			r.Status = tt.status
			r.Verdict = tt.verdict

			var buf bytes.Buffer
			NewConsole(ConsoleConfig{Writer: &buf, NoColor: true, Quiet: true}).PrintSummary(r)
			if got := strings.TrimSpace(buf.String()); got != tt.want {
				t.Errorf("quiet summary = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestPrintSummary_Aborted(t *testing.T) {
	r := sampleReport()
	r.Status = engine.StatusAborted
	r.StopReason = engine.StopDrainTimeout
	r.Verdict = engine.VerdictNone
	r.Error = "drain timeout: 2 iterations still in flight after 30s"
	r.Thresholds = nil

	var buf bytes.Buffer
	NewConsole(ConsoleConfig{Writer: &buf, NoColor: true}).PrintSummary(r)

	out := buf.String()
	if !strings.Contains(out, "aborted (drain_timeout)") {
		t.Errorf("summary missing status:\n%s", out)
	}
	if !strings.Contains(out, "Error:         drain timeout") {
		t.Errorf("summary missing error:\n%s", out)
	}
	if strings.Contains(out, "Thresholds:") {
		t.Error("aborted run without thresholds should not list thresholds")
	}
}

func TestForceColors(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, ForceColors: true})
	c.PrintSummary(sampleReport())

	if !strings.Contains(buf.String(), "\033[") {
		t.Error("forced colors should emit ANSI codes")
	}
}

func TestNonTTYWriterHasNoColors(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf})
	if c.IsTTY() {
		t.Fatal("a buffer is not a terminal")
	}
	c.PrintHeader("wallet", sampleReport().Scenario)

	out := buf.String()
	if strings.Contains(out, "\033[") {
		t.Error("non-TTY output should not contain ANSI codes")
	}
	if !strings.Contains(out, "Rate:      100 per 1s for 10.0s") {
		t.Errorf("header missing rate:\n%s", out)
	}
}

func TestUpdate(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf, ForceTTY: true, NoColor: true})

	stats := &LiveStats{Progress: 0.25, Phase: metrics.PhaseRunning, ActiveWorkers: 3, MaxWorkers: 4, Iterations: 1234}
	c.Update(stats)
	first := buf.Len()
	if !strings.Contains(buf.String(), "Iterations: 1,234") {
		t.Errorf("live display missing iterations:\n%s", buf.String())
	}

	c.Update(stats)
	if !strings.Contains(buf.String()[first:], "\033[5A") {
		t.Error("second update should move the cursor up over the previous display")
	}
}

func TestPrintProgress(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(ConsoleConfig{Writer: &buf})

	snap := &metrics.Snapshot{Iterations: 50, Failed: 5, ErrorRate: 0.1, Elapsed: 2 * time.Second, Latency: metrics.LatencyStats{P95: 12 * time.Millisecond}}
	c.PrintProgress(StatsFromSnapshot(snap, metrics.PhaseRunning, 0.5, 2, 4))

	want := "[2.0s] running 50% | workers: 2 | iterations: 50 | rate: 25.0/s | errors: 5 (10.0%) | dropped: 0 | p95: 12ms"
	if got := strings.TrimSpace(buf.String()); got != want {
		t.Errorf("PrintProgress = %q, want %q", got, want)
	}
}

func TestStatsFromSnapshot_Nil(t *testing.T) {
	stats := StatsFromSnapshot(nil, metrics.PhaseWarming, 0, 1, 4)
	if stats.Phase != metrics.PhaseWarming || stats.MaxWorkers != 4 || stats.Iterations != 0 {
		t.Errorf("unexpected stats %+v", stats)
	}
}
