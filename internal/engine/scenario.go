package engine

import (
	"errors"
	"fmt"
	"time"

	"github.com/wesleyorama2/steadyrate/internal/executor"
	"github.com/wesleyorama2/steadyrate/internal/threshold"
	"github.com/wesleyorama2/steadyrate/internal/vu"
	"github.com/wesleyorama2/steadyrate/internal/workload"
)

// DefaultThresholdInterval is how often abortOnFail thresholds are checked.
const DefaultThresholdInterval = time.Second

// ClientSettings configures the target HTTP client.
type ClientSettings struct {
	BaseURL             string
	Timeout             time.Duration
	UserAgent           string
	Headers             map[string]string
	MaxConnsPerHost     int
	MaxIdleConnsPerHost int
	InsecureSkipVerify  bool
	HTTP2               bool
}

// Scenario is the immutable runtime form of a test configuration. It is
// shared read-only by every worker for the lifetime of a run.
type Scenario struct {
	Name     string
	Executor executor.Config
	Workload *workload.Spec

	// Vars resolves {{name}} placeholders (baseUrl, entityId, variables).
	Vars map[string]string

	// Expected is the set of statuses counted as success (default 200-399).
	Expected vu.StatusSet

	// Seed seeds every worker's random source. Equal seeds give equal
	// request sequences per worker.
	Seed int64

	Client     ClientSettings
	Thresholds []*threshold.Threshold

	// ThresholdInterval is the mid-run evaluation period for abortOnFail
	// thresholds.
	ThresholdInterval time.Duration
}

// Validate reports the first problem that would prevent a run.
func (s *Scenario) Validate() error {
	if s == nil {
		return errors.New("scenario is nil")
	}
	if s.Workload == nil || len(s.Workload.Variants) == 0 {
		return errors.New("scenario has no workload")
	}
	cfg := s.Executor
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("scenario %q: %w", s.Name, err)
	}
	return nil
}

// abortThresholds returns the thresholds checked during the run.
func (s *Scenario) abortThresholds() []*threshold.Threshold {
	var out []*threshold.Threshold
	for _, t := range s.Thresholds {
		if t.AbortOnFail {
			out = append(out, t)
		}
	}
	return out
}
