// Package engine orchestrates a run: it wires the target client, workload
// generator, worker pool and aggregator, drives the run lifecycle and
// produces the Report.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/steadyrate/internal/executor"
	"github.com/wesleyorama2/steadyrate/internal/http"
	"github.com/wesleyorama2/steadyrate/internal/metrics"
	"github.com/wesleyorama2/steadyrate/internal/threshold"
	"github.com/wesleyorama2/steadyrate/internal/vu"
	"github.com/wesleyorama2/steadyrate/internal/workload"
)

// errThresholdAbort is the cancellation cause of an abortOnFail stop.
var errThresholdAbort = errors.New("threshold crossed with abortOnFail")

// Engine runs one scenario. An Engine is single-use.
//
// Example usage:
//
//	cfg, _ := config.LoadConfig("wallet.yaml")
//	scenario, _ := config.ToScenario(cfg)
//	eng, _ := engine.New(scenario)
//	report, err := eng.Run(ctx)
//	fmt.Println(report.Verdict)
type Engine struct {
	scenario  *Scenario
	log       *logrus.Entry
	observers []metrics.Observer
	target    vu.Executor
	client    *http.Client

	aggregator *metrics.Aggregator
	executor   *executor.ArrivalRate
	seed       int64

	mu      sync.Mutex
	started bool

	abortMu   sync.Mutex
	abortedBy *threshold.Result
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. Defaults to the logrus standard logger.
func WithLogger(log *logrus.Entry) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithObservers registers live metric observers (e.g. Prometheus).
func WithObservers(observers ...metrics.Observer) Option {
	return func(e *Engine) {
		e.observers = append(e.observers, observers...)
	}
}

// WithTarget replaces the HTTP client used to execute requests.
func WithTarget(target vu.Executor) Option {
	return func(e *Engine) {
		e.target = target
	}
}

// New validates the scenario and builds the engine.
func New(scenario *Scenario, opts ...Option) (*Engine, error) {
	if err := scenario.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{scenario: scenario}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logrus.NewEntry(logrus.StandardLogger())
	}
	e.log = e.log.WithField("scenario", scenario.Name)

	if e.target == nil {
		client, err := newClient(scenario.Client)
		if err != nil {
			return nil, fmt.Errorf("target client: %w", err)
		}
		e.client = client
		e.target = client
	}

	e.seed = scenario.Seed
	if e.seed == 0 {
		e.seed = time.Now().UnixNano()
	}

	aggCfg := metrics.DefaultAggregatorConfig()
	aggCfg.Percentiles = threshold.Percentiles(scenario.Thresholds)
	e.aggregator = metrics.NewAggregatorWithConfig(aggCfg, e.observers...)

	vuCfg := &vu.Config{
		Generator: workload.NewGenerator(scenario.Workload, scenario.Vars),
		Client:    e.target,
		Expected:  scenario.Expected,
		Seed:      e.seed,
		Logger:    e.log.WithField("component", "vu"),
	}
	exec, err := executor.NewArrivalRate(scenario.Executor, func(id int) executor.Runner {
		return vu.New(id, vuCfg)
	}, e.log.WithField("component", "executor"))
	if err != nil {
		return nil, err
	}
	e.executor = exec

	return e, nil
}

func newClient(s ClientSettings) (*http.Client, error) {
	opts := []http.ClientOption{
		http.WithBaseURL(s.BaseURL),
		http.WithHTTP2(s.HTTP2),
		http.WithInsecureSkipVerify(s.InsecureSkipVerify),
	}
	if s.Timeout > 0 {
		opts = append(opts, http.WithTimeout(s.Timeout))
	}
	if s.UserAgent != "" {
		opts = append(opts, http.WithUserAgent(s.UserAgent))
	}
	if s.MaxConnsPerHost > 0 {
		opts = append(opts, http.WithMaxConnsPerHost(s.MaxConnsPerHost))
	}
	if s.MaxIdleConnsPerHost > 0 {
		opts = append(opts, http.WithMaxIdleConnsPerHost(s.MaxIdleConnsPerHost))
	}
	for k, v := range s.Headers {
		opts = append(opts, http.WithHeader(k, v))
	}
	return http.NewClient(opts...)
}

// Aggregator returns the live aggregator. Snapshots may be taken during Run.
func (e *Engine) Aggregator() *metrics.Aggregator {
	return e.aggregator
}

// Progress returns the fraction of the schedule emitted so far.
func (e *Engine) Progress() float64 {
	return e.executor.Progress()
}

// ActiveWorkers returns the current worker count.
func (e *Engine) ActiveWorkers() int {
	return e.executor.ActiveWorkers()
}

// Run executes the scenario and returns its report.
//
// Lifecycle: init, warming, running, draining, evaluating, done. If the
// drain grace period expires the run is aborted: the report has status
// aborted, verdict NONE, and the *executor.DrainTimeoutError is returned.
// Cancelling ctx interrupts the run; a verdict is still computed over what
// completed.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	e.mu.Lock()
	if e.started {
		e.mu.Unlock()
		return nil, errors.New("engine: Run called twice")
	}
	e.started = true
	e.mu.Unlock()

	if e.client != nil {
		defer e.client.CloseIdleConnections()
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	start := time.Now()
	e.aggregator.Start(start)
	e.log.WithFields(logrus.Fields{
		"rate":     e.scenario.Executor.Rate,
		"duration": e.scenario.Executor.Duration,
		"maxVUs":   e.executor.Config().MaxVUs,
		"seed":     e.seed,
	}).Info("run starting")

	monitorDone := e.monitor(runCtx, cancel)
	stats, runErr := e.executor.Run(runCtx, e.aggregator)
	// Cancellation during the drain leaves stats.Cancelled unset.
	cause := context.Cause(runCtx)
	cancel(nil)
	<-monitorDone

	end := time.Now()
	e.aggregator.Stop(end)

	report := &Report{
		Name:      e.scenario.Name,
		StartTime: start,
		EndTime:   end,
		Duration:  end.Sub(start),
		Scenario:  e.Summary(),
		Executor:  stats,
	}

	if runErr != nil {
		e.aggregator.SetPhase(metrics.PhaseAborted)
		report.Status = StatusAborted
		report.StopReason = StopDrainTimeout
		report.Verdict = VerdictNone
		report.Error = runErr.Error()
		report.Metrics = e.aggregator.Snapshot()
		report.Phases = e.aggregator.PhaseHistory()
		e.log.WithError(runErr).Error("run aborted")
		return report, runErr
	}

	e.aggregator.SetPhase(metrics.PhaseEvaluating)
	snap := e.aggregator.Snapshot()
	verdict := threshold.Evaluate(e.scenario.Thresholds, snap)
	e.aggregator.SetPhase(metrics.PhaseDone)

	report.Metrics = snap
	report.Thresholds = verdict.Results
	report.FailedThresholds = verdict.Failed()
	report.Phases = e.aggregator.PhaseHistory()
	report.Verdict = VerdictPass
	if !verdict.Passed {
		report.Verdict = VerdictFail
	}

	switch {
	case errors.Is(cause, errThresholdAbort):
		report.Status = StatusInterrupted
		report.StopReason = StopThresholdAbort
		report.Verdict = VerdictFail
		e.abortMu.Lock()
		report.AbortedBy = e.abortedBy
		e.abortMu.Unlock()
	case stats.Cancelled || cause != nil:
		report.Status = StatusInterrupted
		report.StopReason = StopCancelled
	default:
		report.Status = StatusCompleted
		report.StopReason = StopDuration
	}

	e.log.WithFields(logrus.Fields{
		"status":     report.Status,
		"verdict":    report.Verdict,
		"iterations": snap.Iterations,
		"dropped":    snap.Dropped,
		"errorRate":  snap.ErrorRate,
		"p95":        snap.Latency.P95,
	}).Info("run finished")

	return report, nil
}

// monitor evaluates abortOnFail thresholds every ThresholdInterval and
// cancels the run with errThresholdAbort on the first failure. Results
// without samples never abort.
func (e *Engine) monitor(ctx context.Context, cancel context.CancelCauseFunc) <-chan struct{} {
	done := make(chan struct{})
	thresholds := e.scenario.abortThresholds()
	if len(thresholds) == 0 {
		close(done)
		return done
	}

	interval := e.scenario.ThresholdInterval
	if interval <= 0 {
		interval = DefaultThresholdInterval
	}
	start := time.Now()

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			now := time.Now()
			elapsed := now.Sub(start)
			var due []*threshold.Threshold
			for _, t := range thresholds {
				if elapsed >= t.DelayAbortEval {
					due = append(due, t)
				}
			}
			if len(due) == 0 {
				continue
			}

			for _, r := range threshold.Evaluate(due, e.aggregator.SnapshotAt(now)).Results {
				if r.Passed || r.NoData {
					continue
				}
				e.log.WithFields(logrus.Fields{
					"threshold": r.Metric,
					"expr":      r.Expression,
					"observed":  r.Display,
				}).Warn("threshold failed, aborting run")
				e.abortMu.Lock()
				e.abortedBy = &r
				e.abortMu.Unlock()
				cancel(errThresholdAbort)
				return
			}
		}
	}()
	return done
}

// Summary returns the effective load profile, including the resolved seed.
func (e *Engine) Summary() ScenarioSummary {
	cfg := e.executor.Config()
	return ScenarioSummary{
		Rate:            cfg.Rate,
		TimeUnit:        cfg.TimeUnit,
		Duration:        cfg.Duration,
		PreAllocatedVUs: cfg.PreAllocatedVUs,
		MaxVUs:          cfg.MaxVUs,
		Overflow:        cfg.Overflow,
		GracefulStop:    cfg.GracefulStop,
		Seed:            e.seed,
		Workload:        e.scenario.Workload.Probabilities(),
	}
}
