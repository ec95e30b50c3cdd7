package engine

import (
	"time"

	"github.com/wesleyorama2/steadyrate/internal/executor"
	"github.com/wesleyorama2/steadyrate/internal/metrics"
	"github.com/wesleyorama2/steadyrate/internal/threshold"
)

// Status describes how a run ended.
type Status string

const (
	// StatusCompleted means the schedule ran to its end and drained.
	StatusCompleted Status = "completed"

	// StatusInterrupted means the run was stopped early, by a signal or by
	// an abortOnFail threshold. A verdict is still computed.
	StatusInterrupted Status = "interrupted"

	// StatusAborted means the drain grace period expired. No verdict exists.
	StatusAborted Status = "aborted"
)

// StopReason names what ended the run.
type StopReason string

const (
	StopDuration       StopReason = "duration"
	StopCancelled      StopReason = "cancelled"
	StopThresholdAbort StopReason = "threshold_abort"
	StopDrainTimeout   StopReason = "drain_timeout"
)

// Verdict is the overall run outcome.
type Verdict string

const (
	VerdictPass Verdict = "PASS"
	VerdictFail Verdict = "FAIL"

	// VerdictNone is reported for aborted runs.
	VerdictNone Verdict = "NONE"
)

// ScenarioSummary echoes the effective load profile.
type ScenarioSummary struct {
	Rate            float64                 `json:"rate"`
	TimeUnit        time.Duration           `json:"timeUnit"`
	Duration        time.Duration           `json:"duration"`
	PreAllocatedVUs int                     `json:"preAllocatedVUs"`
	MaxVUs          int                     `json:"maxVUs"`
	Overflow        executor.OverflowPolicy `json:"overflow"`
	GracefulStop    time.Duration           `json:"gracefulStop"`
	Seed            int64                   `json:"seed"`
	Workload        map[string]float64      `json:"workload"`
}

// Report is the result of a run and the only output consumed by renderers.
type Report struct {
	Name       string     `json:"name"`
	Status     Status     `json:"status"`
	StopReason StopReason `json:"stopReason"`
	Verdict    Verdict    `json:"verdict"`

	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`

	Scenario ScenarioSummary   `json:"scenario"`
	Executor executor.Stats    `json:"executor"`
	Metrics  *metrics.Snapshot `json:"metrics"`

	Thresholds       []threshold.Result `json:"thresholds,omitempty"`
	FailedThresholds []threshold.Result `json:"failedThresholds,omitempty"`

	// AbortedBy is the threshold that stopped the run early, if any.
	AbortedBy *threshold.Result `json:"abortedBy,omitempty"`

	Phases []metrics.PhaseChange `json:"phases"`

	// Error describes the fatal error of an aborted run.
	Error string `json:"error,omitempty"`
}

// Passed reports whether the run produced a PASS verdict.
func (r *Report) Passed() bool {
	return r.Verdict == VerdictPass
}

// Exit codes returned by the CLI.
const (
	ExitPass        = 0
	ExitFail        = 1
	ExitConfigError = 2
	ExitAborted     = 3
)

// ExitCode maps the report to a process exit code. An interrupted run that
// would otherwise pass is not reported as a pass.
func (r *Report) ExitCode() int {
	switch {
	case r.Status == StatusAborted:
		return ExitAborted
	case r.Verdict == VerdictFail:
		return ExitFail
	case r.Status == StatusInterrupted:
		return ExitAborted
	default:
		return ExitPass
	}
}
