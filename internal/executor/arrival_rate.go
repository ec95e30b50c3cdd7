package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/steadyrate/internal/metrics"
	"github.com/wesleyorama2/steadyrate/internal/rate"
)

// dropLogInterval rate-limits the "dropping ticks" warning.
const dropLogInterval = time.Second

// ArrivalRate maintains a fixed iteration rate (open model).
//
// Unlike VU-based executors where throughput depends on response time,
// the arrival-rate executor starts iterations on an evenly spaced schedule
// regardless of how long each one takes. A slow target therefore shows up
// as latency, queue wait and dropped ticks, never as a silently lower rate.
//
// Example:
//
//	scenario:
//	  executor: constant-arrival-rate
//	  rate: 1000             # 1000 iterations per timeUnit
//	  timeUnit: 1s
//	  duration: 1m
//	  preAllocatedVUs: 10    # Start with 10 workers
//	  maxVUs: 50             # Grow to 50 if they are all busy
type ArrivalRate struct {
	config  Config
	factory RunnerFactory
	log     *logrus.Entry

	pacer *rate.Pacer

	mu   sync.Mutex
	pool *Pool

	startTime   time.Time
	scheduleEnd time.Time
	running     atomic.Bool

	accepted  atomic.Int64
	dropped   atomic.Int64
	completed atomic.Int64

	lastDropLog      time.Time
	droppedAtLastLog int64
}

// NewArrivalRate validates the configuration and creates the executor.
func NewArrivalRate(config Config, factory RunnerFactory, log *logrus.Entry) (*ArrivalRate, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if factory == nil {
		return nil, fmt.Errorf("executor: runner factory is required")
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	return &ArrivalRate{
		config:  config,
		factory: factory,
		log:     log,
		pacer:   rate.NewPacer(config.Rate, config.TimeUnit, config.Duration),
	}, nil
}

// Type returns the executor type.
func (e *ArrivalRate) Type() Type {
	return TypeConstantArrivalRate
}

// Config returns the effective configuration.
func (e *ArrivalRate) Config() Config {
	return e.config
}

// Planned returns the number of ticks in the schedule.
func (e *ArrivalRate) Planned() int64 {
	return e.pacer.Planned()
}

// Run executes the whole schedule and blocks until every accepted tick has
// produced a result.
//
// Lifecycle: warming (pre-allocate workers), running (emit ticks),
// draining (wait for accepted ticks). Cancelling ctx stops emission and
// interrupts in-flight iterations. If draining outlives GracefulStop the
// remaining iterations are cancelled and a *DrainTimeoutError is returned.
func (e *ArrivalRate) Run(ctx context.Context, sink Sink) (Stats, error) {
	phases, _ := sink.(PhaseSetter)
	setPhase := func(p metrics.Phase) {
		if phases != nil {
			phases.SetPhase(p)
		}
	}

	setPhase(metrics.PhaseWarming)

	iterCtx, cancelIterations := context.WithCancel(ctx)
	defer cancelIterations()

	pool := NewPool(iterCtx, e.config.MaxVUs, e.config.QueueDepth, e.config.Overflow, e.factory, e.log)
	if gauge, ok := sink.(WorkerGauge); ok {
		pool.SetGauge(gauge)
	}
	e.mu.Lock()
	e.pool = pool
	e.mu.Unlock()

	warmed := pool.Warm(e.config.PreAllocatedVUs)
	e.log.WithFields(logrus.Fields{
		"workers":  warmed,
		"maxVUs":   e.config.MaxVUs,
		"overflow": e.config.Overflow,
		"planned":  e.pacer.Planned(),
		"period":   e.pacer.Period(),
	}).Info("workers warmed")

	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for res := range pool.Results() {
			sink.Record(res)
			e.completed.Add(1)
		}
	}()

	setPhase(metrics.PhaseRunning)
	e.running.Store(true)
	start := time.Now()
	e.mu.Lock()
	e.startTime = start
	e.lastDropLog = start
	e.mu.Unlock()
	e.pacer.Start(start)

	cancelled := e.schedule(ctx, pool, sink)

	scheduleEnd := time.Now()
	e.mu.Lock()
	e.scheduleEnd = scheduleEnd
	e.mu.Unlock()
	e.logDrops(true)

	setPhase(metrics.PhaseDraining)
	pool.Close()

	var runErr error
	grace := time.NewTimer(e.config.GracefulStop)
	select {
	case <-pool.Done():
		grace.Stop()
	case <-grace.C:
		inFlight := pool.InFlight() + pool.Pending()
		e.log.WithFields(logrus.Fields{
			"grace":    e.config.GracefulStop,
			"inFlight": inFlight,
		}).Error("drain grace period expired, cancelling in-flight iterations")
		cancelIterations()
		<-pool.Done()
		runErr = &DrainTimeoutError{Grace: e.config.GracefulStop, InFlight: inFlight}
	}
	<-collected
	e.running.Store(false)

	stats := e.Stats()
	stats.EndTime = time.Now()
	stats.Cancelled = cancelled
	stats.DrainTime = stats.EndTime.Sub(scheduleEnd)
	return stats, runErr
}

// schedule emits ticks until the schedule is exhausted or ctx ends. It
// reports whether ctx ended it.
func (e *ArrivalRate) schedule(ctx context.Context, pool *Pool, sink Sink) bool {
	for {
		tick, ok, err := e.pacer.Wait(ctx)
		if err != nil {
			return true
		}
		if !ok {
			return false
		}

		accepted, reason, err := pool.Dispatch(ctx, tick)
		if err != nil {
			return true
		}
		if accepted {
			e.accepted.Add(1)
			continue
		}

		e.dropped.Add(1)
		sink.RecordDropped(reason)
		e.logDrops(false)
	}
}

// logDrops emits at most one warning per dropLogInterval summarizing the
// ticks dropped since the previous one.
func (e *ArrivalRate) logDrops(force bool) {
	dropped := e.dropped.Load()

	e.mu.Lock()
	defer e.mu.Unlock()
	since := dropped - e.droppedAtLastLog
	if since == 0 || (!force && time.Since(e.lastDropLog) < dropLogInterval) {
		return
	}
	e.lastDropLog = time.Now()
	e.droppedAtLastLog = dropped

	e.log.WithFields(logrus.Fields{
		"dropped": since,
		"total":   dropped,
		"workers": e.pool.Workers(),
		"maxVUs":  e.config.MaxVUs,
	}).Warn("dropping ticks: all workers busy")
}

// Progress returns schedule progress in [0, 1].
func (e *ArrivalRate) Progress() float64 {
	planned := e.pacer.Planned()
	if planned == 0 {
		return 0
	}
	p := float64(e.pacer.Stats().Reserved) / float64(planned)
	if p > 1 {
		p = 1
	}
	return p
}

// ActiveWorkers returns the current worker count.
func (e *ArrivalRate) ActiveWorkers() int {
	e.mu.Lock()
	pool := e.pool
	e.mu.Unlock()
	if pool == nil {
		return 0
	}
	return pool.Workers()
}

// Stats returns executor statistics. Safe to call during Run.
func (e *ArrivalRate) Stats() Stats {
	pacerStats := e.pacer.Stats()

	e.mu.Lock()
	pool := e.pool
	stats := Stats{
		StartTime:   e.startTime,
		ScheduleEnd: e.scheduleEnd,
	}
	e.mu.Unlock()

	stats.Planned = pacerStats.Planned
	stats.Emitted = pacerStats.Issued
	stats.Accepted = e.accepted.Load()
	stats.Dropped = e.dropped.Load()
	stats.Completed = e.completed.Load()
	stats.MaxLag = pacerStats.MaxLag
	if !e.running.Load() {
		stats.Unissued = stats.Planned - stats.Accepted - stats.Dropped
	}
	if pool != nil {
		stats.PeakWorkers = pool.Peak()
	}
	return stats
}
