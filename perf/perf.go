package perf

import (
	"context"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/wesleyorama2/steadyrate/internal/config"
	"github.com/wesleyorama2/steadyrate/internal/engine"
	"github.com/wesleyorama2/steadyrate/internal/metrics"
	"github.com/wesleyorama2/steadyrate/internal/output"
)

// Configuration types.
type (
	Config         = config.TestConfig
	Settings       = config.GlobalSettings
	ScenarioConfig = config.ScenarioConfig
	VariantConfig  = config.VariantConfig
	AmountConfig   = config.AmountConfig
	CheckConfig    = config.CheckConfig
	Thresholds     = config.ThresholdsConfig
	ThresholdEntry = config.ThresholdEntry
)

// Result types.
type (
	Report   = engine.Report
	Snapshot = metrics.Snapshot
	Observer = metrics.Observer
)

// Run outcomes.
const (
	StatusCompleted   = engine.StatusCompleted
	StatusInterrupted = engine.StatusInterrupted
	StatusAborted     = engine.StatusAborted

	VerdictPass = engine.VerdictPass
	VerdictFail = engine.VerdictFail
	VerdictNone = engine.VerdictNone
)

// LoadConfig loads a YAML or JSON configuration file.
func LoadConfig(path string) (*Config, error) {
	return config.LoadConfig(path)
}

// ParseConfig parses configuration data; path selects the format by
// extension and may be empty for YAML.
func ParseConfig(data []byte, path string) (*Config, error) {
	return config.ParseConfig(data, path)
}

// Validate applies defaults and validates the configuration. The error is a
// *config.ValidationErrors listing every problem.
func Validate(cfg *Config) error {
	_, err := config.ToScenario(cfg)
	return err
}

type runOptions struct {
	logger    *logrus.Logger
	observers []metrics.Observer
}

// Option configures Run.
type Option func(*runOptions)

// WithLogger sets the logger. By default nothing is logged.
func WithLogger(logger *logrus.Logger) Option {
	return func(o *runOptions) {
		o.logger = logger
	}
}

// WithObservers registers live metric observers.
func WithObservers(observers ...Observer) Option {
	return func(o *runOptions) {
		o.observers = append(o.observers, observers...)
	}
}

// Run validates cfg and runs it to completion or until ctx is cancelled.
//
// A configuration error returns a nil report. A drain timeout returns both
// the aborted report and the error.
func Run(ctx context.Context, cfg *Config, opts ...Option) (*Report, error) {
	o := &runOptions{}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = logrus.New()
		o.logger.SetOutput(io.Discard)
	}

	scenario, err := config.ToScenario(cfg)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(scenario,
		engine.WithLogger(o.logger.WithField("component", "engine")),
		engine.WithObservers(o.observers...))
	if err != nil {
		return nil, err
	}
	return eng.Run(ctx)
}

// NewPrometheusObserver creates an observer exporting live run metrics.
func NewPrometheusObserver(constLabels prometheus.Labels) *metrics.PrometheusObserver {
	return metrics.NewPrometheusObserver(constLabels)
}

// WriteReport writes the report as "text", "json", "yaml" or "junit".
func WriteReport(w io.Writer, format string, r *Report) error {
	f, err := output.ParseFormat(format)
	if err != nil {
		return err
	}
	return output.WriteReport(w, f, r)
}
