// Package vu runs workload iterations: generate, execute, check.
package vu

import (
	"context"
	"errors"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/steadyrate/internal/http"
	"github.com/wesleyorama2/steadyrate/internal/metrics"
	"github.com/wesleyorama2/steadyrate/internal/rate"
	"github.com/wesleyorama2/steadyrate/internal/workload"
)

// Executor performs one request against the target.
type Executor interface {
	Execute(ctx context.Context, req *http.Request) (*http.Response, error)
}

// VUState represents the lifecycle state of a Virtual User.
type VUState int32

const (
	// VUStateIdle indicates the VU is waiting for a tick.
	VUStateIdle VUState = iota
	// VUStateRunning indicates the VU is executing an iteration.
	VUStateRunning
	// VUStateStopped indicates the VU has exited.
	VUStateStopped
)

func (s VUState) String() string {
	switch s {
	case VUStateIdle:
		return "idle"
	case VUStateRunning:
		return "running"
	case VUStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config is shared by every VU of a run.
type Config struct {
	Generator *workload.Generator
	Client    Executor
	Expected  StatusSet

	// Seed is combined with the VU id to seed each VU's random source.
	Seed int64

	Logger *logrus.Entry
}

// VirtualUser executes one iteration per tick.
//
// Each VU has its own:
// - random source (seeded with Seed+ID, so runs are reproducible)
// - iteration counter
// - lifecycle state
//
// A VU is owned by exactly one worker goroutine.
type VirtualUser struct {
	ID int

	cfg      *Config
	rng      *rand.Rand
	log      *logrus.Entry
	expected StatusSet

	state     atomic.Int32
	iteration atomic.Int64
}

// New creates a virtual user.
func New(id int, cfg *Config) *VirtualUser {
	log := cfg.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	expected := cfg.Expected
	if len(expected) == 0 {
		expected = DefaultStatusSet()
	}
	return &VirtualUser{
		ID:       id,
		cfg:      cfg,
		rng:      rand.New(rand.NewSource(cfg.Seed + int64(id))),
		log:      log.WithField("vu", id),
		expected: expected,
	}
}

// State returns the current VU state.
func (v *VirtualUser) State() VUState {
	return VUState(v.state.Load())
}

// Iterations returns how many iterations this VU has started.
func (v *VirtualUser) Iterations() int64 {
	return v.iteration.Load()
}

// Stop marks the VU as stopped.
func (v *VirtualUser) Stop() {
	v.state.Store(int32(VUStateStopped))
}

// RunIteration executes the iteration for tick and reports its outcome.
//
// It never returns an error: transport failures, unexpected statuses and
// cancellation are all captured in the result.
func (v *VirtualUser) RunIteration(ctx context.Context, tick rate.Tick) metrics.IterationResult {
	v.state.Store(int32(VUStateRunning))
	defer v.state.Store(int32(VUStateIdle))
	v.iteration.Add(1)

	started := time.Now()
	wait := started.Sub(tick.At)
	if wait < 0 {
		wait = 0
	}

	req := v.cfg.Generator.Next(v.rng)
	variant := &v.cfg.Generator.Spec().Variants[req.Variant]

	res := metrics.IterationResult{
		Seq:         tick.Seq,
		WorkerID:    v.ID,
		Operation:   req.Operation,
		ScheduledAt: tick.At,
		StartedAt:   started,
		QueueWait:   wait,
	}

	if err := ctx.Err(); err != nil {
		res.Interrupted = true
		res.Err = err
		return res
	}

	httpReq := &http.Request{
		Method:  req.Method,
		URL:     req.URL,
		Headers: req.Headers,
		Body:    []byte(req.Body),
	}

	resp, err := v.cfg.Client.Execute(ctx, httpReq)
	if err != nil {
		res.Latency = time.Since(started)
		res.Err = err

		var terr *http.TransportError
		if errors.As(err, &terr) {
			res.ErrKind = terr.Kind
		} else {
			res.ErrKind = http.KindOther
		}
		if ctx.Err() != nil {
			res.Interrupted = true
			return res
		}

		res.Failed = true
		v.log.WithError(err).WithFields(logrus.Fields{
			"seq":       tick.Seq,
			"operation": req.Operation,
			"kind":      res.ErrKind,
		}).Debug("request failed")
		return res
	}

	res.Latency = resp.Latency
	res.StatusCode = resp.StatusCode
	res.Bytes = resp.Bytes
	res.Failed = !v.expected.Contains(resp.StatusCode)

	if len(variant.Checks) > 0 {
		res.Checks = make([]metrics.CheckResult, len(variant.Checks))
		for i, c := range variant.Checks {
			res.Checks[i] = metrics.CheckResult{Name: c.Name, Passed: c.Evaluate(resp)}
		}
	}

	if res.Failed {
		v.log.WithFields(logrus.Fields{
			"seq":       tick.Seq,
			"operation": req.Operation,
			"status":    resp.StatusCode,
		}).Debug("unexpected status")
	}
	return res
}
