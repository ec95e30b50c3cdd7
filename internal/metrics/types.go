package metrics

import "time"

// Phase represents a phase of the run lifecycle.
type Phase string

const (
	// PhaseInit is the state before anything has been allocated.
	PhaseInit Phase = "init"

	// PhaseWarming is pre-allocating workers.
	PhaseWarming Phase = "warming"

	// PhaseRunning is the scheduler emitting ticks.
	PhaseRunning Phase = "running"

	// PhaseDraining is waiting for in-flight iterations after the schedule ended.
	PhaseDraining Phase = "draining"

	// PhaseEvaluating is the final threshold check.
	PhaseEvaluating Phase = "evaluating"

	// PhaseDone means a verdict was computed.
	PhaseDone Phase = "done"

	// PhaseAborted means the drain grace period expired and no verdict exists.
	PhaseAborted Phase = "aborted"
)

// PhaseChange records when a phase transition occurred.
type PhaseChange struct {
	Phase      Phase     `json:"phase"`
	Timestamp  time.Time `json:"timestamp"`
	Iterations int64     `json:"iterations"`
}

// CheckResult is the outcome of one named assertion.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// IterationResult is the outcome of one workload iteration.
//
// Created by a worker, immutable once produced, consumed by the Aggregator.
type IterationResult struct {
	Seq         int64         `json:"seq"`
	WorkerID    int           `json:"workerId"`
	Operation   string        `json:"operation"`
	ScheduledAt time.Time     `json:"scheduledAt"`
	StartedAt   time.Time     `json:"startedAt"`
	QueueWait   time.Duration `json:"queueWait"` // StartedAt - ScheduledAt
	Latency     time.Duration `json:"latency"`
	StatusCode  int           `json:"statusCode"`
	Bytes       int64         `json:"bytes"`
	Checks      []CheckResult `json:"checks,omitempty"`

	// Failed is true when the request errored or the status was unexpected.
	Failed bool `json:"failed"`

	// Err is set when the request could not be completed (TransportError).
	Err error `json:"-"`

	// ErrKind classifies Err (timeout, connection_refused, ...).
	ErrKind string `json:"errKind,omitempty"`

	// Interrupted is set when the run was cancelled while the iteration was
	// in flight. Interrupted iterations are counted apart from errors.
	Interrupted bool `json:"interrupted,omitempty"`
}

// DropReason explains why a tick never reached a worker.
type DropReason string

const (
	// DropQueueFull means every worker was busy and the bounded queue was full.
	DropQueueFull DropReason = "queue_full"

	// DropNoIdleWorker means the drop policy found no idle worker.
	DropNoIdleWorker DropReason = "no_idle_worker"
)

// LatencyStats contains latency statistics.
type LatencyStats struct {
	Min    time.Duration `json:"min"`
	Max    time.Duration `json:"max"`
	Mean   time.Duration `json:"mean"`
	StdDev time.Duration `json:"stdDev"`
	P50    time.Duration `json:"p50"`
	P90    time.Duration `json:"p90"`
	P95    time.Duration `json:"p95"`
	P99    time.Duration `json:"p99"`
	Count  int64         `json:"count"`

	// Extra holds the configured additional percentiles.
	Extra map[float64]time.Duration `json:"-"`
}

// Percentile returns the p-th percentile if it was computed.
func (l LatencyStats) Percentile(p float64) (time.Duration, bool) {
	switch p {
	case 50:
		return l.P50, true
	case 90:
		return l.P90, true
	case 95:
		return l.P95, true
	case 99:
		return l.P99, true
	}
	d, ok := l.Extra[p]
	return d, ok
}

// CheckStats counts passes and failures of one named check.
type CheckStats struct {
	Name   string `json:"name"`
	Passes int64  `json:"passes"`
	Fails  int64  `json:"fails"`
}

// Rate returns the pass fraction (0 when the check never ran).
func (c CheckStats) Rate() float64 {
	total := c.Passes + c.Fails
	if total == 0 {
		return 0
	}
	return float64(c.Passes) / float64(total)
}

// OperationStats is the per-operation breakdown.
type OperationStats struct {
	Name       string       `json:"name"`
	Iterations int64        `json:"iterations"`
	Failed     int64        `json:"failed"`
	ErrorRate  float64      `json:"errorRate"`
	Latency    LatencyStats `json:"latency"`
}

// Snapshot is a consistent point-in-time view of the aggregated metrics.
//
// No iteration is ever partially counted in a snapshot.
type Snapshot struct {
	// Iterations counts completed (non-interrupted) iterations.
	Iterations int64 `json:"iterations"`

	// Succeeded + Failed == Iterations
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`

	// TransportErrors is the subset of Failed that never got a response.
	TransportErrors int64            `json:"transportErrors"`
	ErrorsByKind    map[string]int64 `json:"errorsByKind,omitempty"`
	StatusCodes     map[int]int64    `json:"statusCodes,omitempty"`

	Interrupted int64                `json:"interrupted"`
	Dropped     int64                `json:"dropped"`
	DroppedBy   map[DropReason]int64 `json:"droppedBy,omitempty"`

	// ErrorRate = Failed / Iterations
	ErrorRate float64 `json:"errorRate"`

	Bytes     int64        `json:"bytes"`
	Latency   LatencyStats `json:"latency"`
	QueueWait LatencyStats `json:"queueWait"`

	Checks     map[string]CheckStats     `json:"checks,omitempty"`
	Operations map[string]OperationStats `json:"operations,omitempty"`

	// Elapsed is the running time the rates are computed over.
	Elapsed time.Duration `json:"elapsed"`
}

// IterationRate returns completed iterations per second over Elapsed.
func (s *Snapshot) IterationRate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Iterations) / s.Elapsed.Seconds()
}

// DroppedRate returns dropped ticks per second over Elapsed.
func (s *Snapshot) DroppedRate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Dropped) / s.Elapsed.Seconds()
}

// CheckRate returns the pass fraction over all checks, or of the named
// check when name is not empty.
func (s *Snapshot) CheckRate(name string) (float64, bool) {
	if name != "" {
		c, ok := s.Checks[name]
		if !ok {
			return 0, false
		}
		return c.Rate(), true
	}

	var passes, total int64
	for _, c := range s.Checks {
		passes += c.Passes
		total += c.Passes + c.Fails
	}
	if total == 0 {
		return 0, false
	}
	return float64(passes) / float64(total), true
}
