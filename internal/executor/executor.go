// Package executor drives the open-model load: an arrival-rate scheduler
// feeding ticks to a bounded worker pool.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wesleyorama2/steadyrate/internal/metrics"
	"github.com/wesleyorama2/steadyrate/internal/rate"
)

// Type identifies the type of executor.
type Type string

// TypeConstantArrivalRate maintains a fixed iteration rate.
const TypeConstantArrivalRate Type = "constant-arrival-rate"

// Runner executes one iteration per tick. Each worker owns one Runner.
type Runner interface {
	RunIteration(ctx context.Context, tick rate.Tick) metrics.IterationResult
}

// RunnerFactory creates the Runner of a new worker.
type RunnerFactory func(workerID int) Runner

// Sink receives the outcome of every tick.
//
// Record is called from a single collector goroutine. RecordDropped is
// called from the scheduler goroutine.
type Sink interface {
	Record(res metrics.IterationResult)
	RecordDropped(reason metrics.DropReason)
}

// PhaseSetter is implemented by sinks that track the run lifecycle.
type PhaseSetter interface {
	SetPhase(phase metrics.Phase)
}

// WorkerGauge is implemented by sinks that track the pool size.
type WorkerGauge interface {
	SetActiveWorkers(n int)
}

// Config contains configuration for the arrival-rate executor.
type Config struct {
	// Rate is the number of iterations started per TimeUnit
	Rate     float64       `json:"rate" yaml:"rate"`
	TimeUnit time.Duration `json:"timeUnit" yaml:"timeUnit"`
	Duration time.Duration `json:"duration" yaml:"duration"`

	PreAllocatedVUs int `json:"preAllocatedVUs" yaml:"preAllocatedVUs"`
	MaxVUs          int `json:"maxVUs" yaml:"maxVUs"`

	// Overflow decides what happens to a tick when no worker can take it
	Overflow OverflowPolicy `json:"overflow" yaml:"overflow"`

	// QueueDepth bounds the pending-tick queue (default MaxVUs)
	QueueDepth int `json:"queueDepth" yaml:"queueDepth"`

	// GracefulStop bounds how long in-flight iterations may drain
	GracefulStop time.Duration `json:"gracefulStop" yaml:"gracefulStop"`
}

// DefaultGracefulStop is used when GracefulStop is zero.
const DefaultGracefulStop = 30 * time.Second

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.TimeUnit <= 0 {
		c.TimeUnit = time.Second
	}
	if c.PreAllocatedVUs <= 0 {
		c.PreAllocatedVUs = 1
	}
	if c.MaxVUs <= 0 {
		c.MaxVUs = c.PreAllocatedVUs
	}
	if c.Overflow == "" {
		c.Overflow = OverflowQueue
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = c.MaxVUs
	}
	if c.GracefulStop <= 0 {
		c.GracefulStop = DefaultGracefulStop
	}
}

// Validate validates the executor configuration.
func (c *Config) Validate() error {
	if c.Rate <= 0 {
		return &ValidationError{Field: "rate", Message: "rate must be > 0"}
	}
	if c.Duration <= 0 {
		return &ValidationError{Field: "duration", Message: "duration must be > 0"}
	}
	if c.TimeUnit <= 0 {
		return &ValidationError{Field: "timeUnit", Message: "timeUnit must be > 0"}
	}
	if c.PreAllocatedVUs < 1 {
		return &ValidationError{Field: "preAllocatedVUs", Message: "preAllocatedVUs must be >= 1"}
	}
	if c.MaxVUs < c.PreAllocatedVUs {
		return &ValidationError{Field: "maxVUs", Message: "maxVUs must be >= preAllocatedVUs"}
	}
	if _, err := ParseOverflowPolicy(string(c.Overflow)); err != nil {
		return &ValidationError{Field: "overflow", Message: err.Error()}
	}
	if c.QueueDepth < 0 {
		return &ValidationError{Field: "queueDepth", Message: "queueDepth must be >= 0"}
	}
	return nil
}

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("executor config error: %s: %s", e.Field, e.Message)
}

// ErrDrainTimeout is matched by errors.Is on a *DrainTimeoutError.
var ErrDrainTimeout = errors.New("drain timeout")

// DrainTimeoutError means in-flight iterations outlived the grace period and
// were cancelled. The run has no verdict.
type DrainTimeoutError struct {
	Grace    time.Duration
	InFlight int
}

func (e *DrainTimeoutError) Error() string {
	return fmt.Sprintf("drain timeout: %d iterations still in flight after %s grace period", e.InFlight, e.Grace)
}

// Is reports whether target is ErrDrainTimeout.
func (e *DrainTimeoutError) Is(target error) bool {
	return target == ErrDrainTimeout
}

// Stats contains executor statistics.
type Stats struct {
	StartTime time.Time `json:"startTime"`

	// ScheduleEnd is when tick emission stopped
	ScheduleEnd time.Time `json:"scheduleEnd"`
	EndTime     time.Time `json:"endTime"`

	// Planned is the number of ticks in the schedule
	Planned int64 `json:"planned"`

	// Emitted counts ticks the pacer handed out
	Emitted int64 `json:"emitted"`

	// Accepted counts ticks that reached a worker or the queue
	Accepted int64 `json:"accepted"`

	// Dropped counts ticks rejected by the overflow policy
	Dropped int64 `json:"dropped"`

	// Unissued counts planned ticks never emitted (cancellation, or the
	// schedule window closing while the scheduler was behind)
	Unissued int64 `json:"unissued"`

	// Completed counts results delivered to the sink
	Completed int64 `json:"completed"`

	PeakWorkers int           `json:"peakWorkers"`
	MaxLag      time.Duration `json:"maxLag"`
	Cancelled   bool          `json:"cancelled"`
	DrainTime   time.Duration `json:"drainTime"`
}
