// Package metrics aggregates iteration results into run-level statistics.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// Observer receives every recorded result after it has been aggregated.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveIteration(res *IterationResult)
	ObserveDrop(reason DropReason)
	ObservePhase(phase Phase)
	ObserveActiveWorkers(n int)
}

// Aggregator collects iteration results using HDR histograms.
//
// Key properties:
//   - HDR histograms give fixed-memory percentiles regardless of iteration count
//   - One short critical section per Record keeps snapshots consistent
//   - Accumulation is commutative, so completion order does not matter
//
// # Thread Safety
//
// Record, RecordDropped and Snapshot are safe for concurrent use.
type Aggregator struct {
	config AggregatorConfig

	mu sync.Mutex

	// Guarded by mu
	latencyHist     *hdrhistogram.Histogram
	queueWaitHist   *hdrhistogram.Histogram
	iterations      int64
	failed          int64
	transportErrors int64
	interrupted     int64
	bytes           int64
	errorsByKind    map[string]int64
	statusCodes     map[int]int64
	checks          map[string]*CheckStats
	operations      map[string]*operationState

	// Drops never touch an iteration, so they stay lock-free.
	droppedQueueFull atomic.Int64
	droppedNoIdle    atomic.Int64

	activeWorkers atomic.Int32

	// Phase tracking
	phaseMu      sync.RWMutex
	currentPhase Phase
	phaseHistory []PhaseChange

	// Timing
	timeMu    sync.RWMutex
	startTime time.Time
	endTime   time.Time

	observers []Observer
}

type operationState struct {
	hist       *hdrhistogram.Histogram
	iterations int64
	failed     int64
}

// AggregatorConfig contains configuration for the aggregator.
type AggregatorConfig struct {
	// HistogramMin is the minimum recordable value in microseconds (default: 1)
	HistogramMin int64

	// HistogramMax is the maximum recordable value in microseconds (default: 1 hour)
	HistogramMax int64

	// HistogramSigFigs is the number of significant figures (default: 3)
	HistogramSigFigs int

	// Percentiles lists extra percentiles (e.g. 99.9) reported in
	// LatencyStats.Extra besides the fixed p50/p90/p95/p99.
	Percentiles []float64
}

// DefaultAggregatorConfig returns the default configuration.
func DefaultAggregatorConfig() AggregatorConfig {
	return AggregatorConfig{
		HistogramMin:     1,
		HistogramMax:     3600000000, // 1 hour in microseconds
		HistogramSigFigs: 3,
	}
}

// NewAggregator creates an aggregator with the default configuration.
func NewAggregator(observers ...Observer) *Aggregator {
	return NewAggregatorWithConfig(DefaultAggregatorConfig(), observers...)
}

// NewAggregatorWithConfig creates an aggregator with a custom configuration.
func NewAggregatorWithConfig(config AggregatorConfig, observers ...Observer) *Aggregator {
	if config.HistogramMin <= 0 {
		config.HistogramMin = 1
	}
	if config.HistogramMax <= config.HistogramMin {
		config.HistogramMax = DefaultAggregatorConfig().HistogramMax
	}
	if config.HistogramSigFigs <= 0 || config.HistogramSigFigs > 5 {
		config.HistogramSigFigs = 3
	}

	return &Aggregator{
		config:        config,
		latencyHist:   config.newHistogram(),
		queueWaitHist: config.newHistogram(),
		errorsByKind:  make(map[string]int64),
		statusCodes:   make(map[int]int64),
		checks:        make(map[string]*CheckStats),
		operations:    make(map[string]*operationState),
		currentPhase:  PhaseInit,
		phaseHistory:  make([]PhaseChange, 0, 8),
		observers:     observers,
	}
}

func (c AggregatorConfig) newHistogram() *hdrhistogram.Histogram {
	return hdrhistogram.New(c.HistogramMin, c.HistogramMax, c.HistogramSigFigs)
}

// clamp converts a duration to microseconds within the histogram range.
func (a *Aggregator) clamp(d time.Duration) int64 {
	v := d.Microseconds()
	if v < a.config.HistogramMin {
		v = a.config.HistogramMin
	}
	if v > a.config.HistogramMax {
		v = a.config.HistogramMax
	}
	return v
}

// Record adds one iteration result.
//
// Interrupted iterations only bump the interrupted counter: their outcome
// says nothing about the target. Latency is recorded only for iterations that
// received a response.
func (a *Aggregator) Record(res IterationResult) {
	a.mu.Lock()
	if res.Interrupted {
		a.interrupted++
		a.mu.Unlock()
		a.notifyIteration(&res)
		return
	}

	a.iterations++
	a.bytes += res.Bytes
	if res.Failed {
		a.failed++
	}
	if res.Err != nil {
		a.transportErrors++
		kind := res.ErrKind
		if kind == "" {
			kind = "other"
		}
		a.errorsByKind[kind]++
	} else {
		a.statusCodes[res.StatusCode]++
		a.latencyHist.RecordValue(a.clamp(res.Latency))
	}

	if res.QueueWait >= 0 {
		a.queueWaitHist.RecordValue(a.clamp(res.QueueWait))
	}

	for _, c := range res.Checks {
		stats, ok := a.checks[c.Name]
		if !ok {
			stats = &CheckStats{Name: c.Name}
			a.checks[c.Name] = stats
		}
		if c.Passed {
			stats.Passes++
		} else {
			stats.Fails++
		}
	}

	if res.Operation != "" {
		op, ok := a.operations[res.Operation]
		if !ok {
			op = &operationState{hist: a.config.newHistogram()}
			a.operations[res.Operation] = op
		}
		op.iterations++
		if res.Failed {
			op.failed++
		}
		if res.Err == nil {
			op.hist.RecordValue(a.clamp(res.Latency))
		}
	}
	a.mu.Unlock()

	a.notifyIteration(&res)
}

func (a *Aggregator) notifyIteration(res *IterationResult) {
	for _, o := range a.observers {
		o.ObserveIteration(res)
	}
}

// RecordDropped counts a tick that never reached a worker (OverloadDrop).
func (a *Aggregator) RecordDropped(reason DropReason) {
	switch reason {
	case DropNoIdleWorker:
		a.droppedNoIdle.Add(1)
	default:
		a.droppedQueueFull.Add(1)
	}
	for _, o := range a.observers {
		o.ObserveDrop(reason)
	}
}

// SetActiveWorkers updates the current worker count.
func (a *Aggregator) SetActiveWorkers(n int) {
	a.activeWorkers.Store(int32(n))
	for _, o := range a.observers {
		o.ObserveActiveWorkers(n)
	}
}

// ActiveWorkers returns the current worker count.
func (a *Aggregator) ActiveWorkers() int {
	return int(a.activeWorkers.Load())
}

// SetPhase records a lifecycle transition.
func (a *Aggregator) SetPhase(phase Phase) {
	a.phaseMu.Lock()
	if a.currentPhase == phase {
		a.phaseMu.Unlock()
		return
	}
	a.currentPhase = phase

	a.mu.Lock()
	iterations := a.iterations
	a.mu.Unlock()

	a.phaseHistory = append(a.phaseHistory, PhaseChange{
		Phase:      phase,
		Timestamp:  time.Now(),
		Iterations: iterations,
	})
	a.phaseMu.Unlock()

	for _, o := range a.observers {
		o.ObservePhase(phase)
	}
}

// Phase returns the current lifecycle phase.
func (a *Aggregator) Phase() Phase {
	a.phaseMu.RLock()
	defer a.phaseMu.RUnlock()
	return a.currentPhase
}

// PhaseHistory returns a copy of all phase transitions.
func (a *Aggregator) PhaseHistory() []PhaseChange {
	a.phaseMu.RLock()
	defer a.phaseMu.RUnlock()

	result := make([]PhaseChange, len(a.phaseHistory))
	copy(result, a.phaseHistory)
	return result
}

// Start marks the beginning of the measured window.
func (a *Aggregator) Start(t time.Time) {
	a.timeMu.Lock()
	defer a.timeMu.Unlock()
	a.startTime = t
	a.endTime = time.Time{}
}

// Stop freezes the measured window so later snapshots report a stable Elapsed.
func (a *Aggregator) Stop(t time.Time) {
	a.timeMu.Lock()
	defer a.timeMu.Unlock()
	if a.endTime.IsZero() {
		a.endTime = t
	}
}

// elapsed returns the measured window ending at the earlier of at and the
// Stop time.
func (a *Aggregator) elapsed(at time.Time) time.Duration {
	a.timeMu.RLock()
	defer a.timeMu.RUnlock()

	switch {
	case a.startTime.IsZero():
		return 0
	case !a.endTime.IsZero() && a.endTime.Before(at):
		return a.endTime.Sub(a.startTime)
	case at.Before(a.startTime):
		return 0
	default:
		return at.Sub(a.startTime)
	}
}

// Snapshot returns a consistent point-in-time view of all metrics, with the
// window ending now. Before Stop, Elapsed and the rates derived from it grow
// between calls; use SnapshotAt to fix the window end.
func (a *Aggregator) Snapshot() *Snapshot {
	return a.SnapshotAt(time.Now())
}

// SnapshotAt is Snapshot with the window ending at the given time (or at the
// Stop time, if earlier). Repeated calls with the same time and no new
// records return equal snapshots.
//
// The critical section copies counters and reads percentiles from the HDR
// histograms, whose cost is bounded by bucket count, not by iteration count.
func (a *Aggregator) SnapshotAt(at time.Time) *Snapshot {
	elapsed := a.elapsed(at)

	a.mu.Lock()
	snap := &Snapshot{
		Iterations:      a.iterations,
		Failed:          a.failed,
		Succeeded:       a.iterations - a.failed,
		TransportErrors: a.transportErrors,
		Interrupted:     a.interrupted,
		Bytes:           a.bytes,
		Latency:         latencyStats(a.latencyHist, a.config.Percentiles),
		QueueWait:       latencyStats(a.queueWaitHist, nil),
		ErrorsByKind:    make(map[string]int64, len(a.errorsByKind)),
		StatusCodes:     make(map[int]int64, len(a.statusCodes)),
		Checks:          make(map[string]CheckStats, len(a.checks)),
		Operations:      make(map[string]OperationStats, len(a.operations)),
		Elapsed:         elapsed,
	}
	for k, v := range a.errorsByKind {
		snap.ErrorsByKind[k] = v
	}
	for k, v := range a.statusCodes {
		snap.StatusCodes[k] = v
	}
	for k, v := range a.checks {
		snap.Checks[k] = *v
	}
	for name, op := range a.operations {
		stats := OperationStats{
			Name:       name,
			Iterations: op.iterations,
			Failed:     op.failed,
			Latency:    latencyStats(op.hist, a.config.Percentiles),
		}
		if op.iterations > 0 {
			stats.ErrorRate = float64(op.failed) / float64(op.iterations)
		}
		snap.Operations[name] = stats
	}
	a.mu.Unlock()

	if snap.Iterations > 0 {
		snap.ErrorRate = float64(snap.Failed) / float64(snap.Iterations)
	}

	queueFull := a.droppedQueueFull.Load()
	noIdle := a.droppedNoIdle.Load()
	snap.Dropped = queueFull + noIdle
	if snap.Dropped > 0 {
		snap.DroppedBy = make(map[DropReason]int64, 2)
		if queueFull > 0 {
			snap.DroppedBy[DropQueueFull] = queueFull
		}
		if noIdle > 0 {
			snap.DroppedBy[DropNoIdleWorker] = noIdle
		}
	}

	return snap
}

// latencyStats reads a histogram. Caller must hold the lock guarding hist.
func latencyStats(hist *hdrhistogram.Histogram, extra []float64) LatencyStats {
	if hist.TotalCount() == 0 {
		return LatencyStats{}
	}
	stats := LatencyStats{
		Min:    time.Duration(hist.Min()) * time.Microsecond,
		Max:    time.Duration(hist.Max()) * time.Microsecond,
		Mean:   time.Duration(hist.Mean() * float64(time.Microsecond)),
		StdDev: time.Duration(hist.StdDev() * float64(time.Microsecond)),
		P50:    time.Duration(hist.ValueAtQuantile(50)) * time.Microsecond,
		P90:    time.Duration(hist.ValueAtQuantile(90)) * time.Microsecond,
		P95:    time.Duration(hist.ValueAtQuantile(95)) * time.Microsecond,
		P99:    time.Duration(hist.ValueAtQuantile(99)) * time.Microsecond,
		Count:  hist.TotalCount(),
	}
	if len(extra) > 0 {
		stats.Extra = make(map[float64]time.Duration, len(extra))
		for _, p := range extra {
			stats.Extra[p] = time.Duration(hist.ValueAtQuantile(p)) * time.Microsecond
		}
	}
	return stats
}
