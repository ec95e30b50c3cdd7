package config

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/wesleyorama2/steadyrate/internal/check"
	"github.com/wesleyorama2/steadyrate/internal/engine"
	"github.com/wesleyorama2/steadyrate/internal/executor"
	"github.com/wesleyorama2/steadyrate/internal/threshold"
	"github.com/wesleyorama2/steadyrate/internal/vu"
	"github.com/wesleyorama2/steadyrate/internal/workload"
)

// ToScenario applies defaults, validates the configuration and converts it
// to the immutable runtime scenario.
func ToScenario(cfg *TestConfig) (*engine.Scenario, error) {
	ApplyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	execCfg, err := executorConfig(cfg.Scenario)
	if err != nil {
		return nil, err
	}

	defs, err := definitions(cfg.Workload)
	if err != nil {
		return nil, err
	}
	spec, err := workload.Compile(defs)
	if err != nil {
		return nil, &ValidationErrors{Errors: []*ValidationError{{Field: "workload", Message: err.Error()}}}
	}

	expected, err := vu.ParseStatusSet(cfg.Settings.ExpectedStatuses)
	if err != nil {
		return nil, err
	}

	thresholds, err := parseThresholds(cfg.Thresholds)
	if err != nil {
		return nil, err
	}

	return &engine.Scenario{
		Name:     cfg.Name,
		Executor: execCfg,
		Workload: spec,
		Vars:     Variables(cfg),
		Expected: expected,
		Seed:     cfg.Scenario.Seed,
		Client: engine.ClientSettings{
			BaseURL:             cfg.Settings.BaseURL,
			Timeout:             cfg.Settings.Timeout.GetDuration(DefaultTimeout),
			UserAgent:           cfg.Settings.UserAgent,
			Headers:             cfg.Settings.Headers,
			MaxConnsPerHost:     cfg.Settings.MaxConnectionsPerHost,
			MaxIdleConnsPerHost: cfg.Settings.MaxIdleConnsPerHost,
			InsecureSkipVerify:  cfg.Settings.InsecureSkipVerify,
			HTTP2:               cfg.Settings.HTTP2,
		},
		Thresholds:        thresholds,
		ThresholdInterval: cfg.Options.ThresholdInterval.GetDuration(DefaultThresholdInterval),
	}, nil
}

// Variables returns the placeholder values of a run: the configured
// variables plus baseUrl and entityId. A "{{uuid}}" entity id is resolved
// here, once per run.
func Variables(cfg *TestConfig) map[string]string {
	vars := make(map[string]string, len(cfg.Variables)+2)
	for k, v := range cfg.Variables {
		vars[k] = v
	}
	if cfg.Settings.BaseURL != "" {
		vars["baseUrl"] = strings.TrimRight(cfg.Settings.BaseURL, "/")
	}
	if cfg.Scenario != nil && cfg.Scenario.EntityID != "" {
		if strings.Contains(cfg.Scenario.EntityID, "{{uuid}}") {
			cfg.Scenario.EntityID = strings.ReplaceAll(cfg.Scenario.EntityID, "{{uuid}}", uuid.NewString())
		}
		vars["entityId"] = cfg.Scenario.EntityID
	}
	return vars
}

func executorConfig(sc *ScenarioConfig) (executor.Config, error) {
	timeUnit, err := ParseDurationString(sc.TimeUnit)
	if err != nil {
		return executor.Config{}, fmt.Errorf("invalid timeUnit: %w", err)
	}
	duration, err := ParseDurationString(sc.Duration)
	if err != nil {
		return executor.Config{}, fmt.Errorf("invalid duration: %w", err)
	}
	gracefulStop, err := ParseDurationString(sc.GracefulStop)
	if err != nil {
		return executor.Config{}, fmt.Errorf("invalid gracefulStop: %w", err)
	}
	overflow, err := executor.ParseOverflowPolicy(sc.Overflow)
	if err != nil {
		return executor.Config{}, err
	}

	return executor.Config{
		Rate:            sc.Rate,
		TimeUnit:        timeUnit,
		Duration:        duration,
		PreAllocatedVUs: sc.PreAllocatedVUs,
		MaxVUs:          sc.MaxVUs,
		Overflow:        overflow,
		QueueDepth:      sc.QueueDepth,
		GracefulStop:    gracefulStop,
	}, nil
}

func definitions(variants []VariantConfig) ([]workload.Definition, error) {
	defs := make([]workload.Definition, 0, len(variants))
	for _, v := range variants {
		d := workload.Definition{
			Name:    v.Name,
			Weight:  v.Weight,
			Method:  v.Method,
			URL:     v.URL,
			Headers: v.Headers,
			Body:    v.Body,
			Amount:  v.Amount.toAmount(),
		}
		for _, c := range v.Checks {
			compiled, err := check.Compile(c.definition())
			if err != nil {
				return nil, err
			}
			d.Checks = append(d.Checks, compiled)
		}
		if len(v.Variants) > 0 {
			children, err := definitions(v.Variants)
			if err != nil {
				return nil, err
			}
			d.Children = children
		}
		defs = append(defs, d)
	}
	return defs, nil
}

func (a *AmountConfig) toAmount() *workload.Amount {
	if a == nil {
		return nil
	}
	if a.Value != nil {
		v := a.Value.Decimal
		return &workload.Amount{Value: &v}
	}
	scale := DefaultAmountScale
	if a.Scale != nil {
		scale = *a.Scale
	}
	return &workload.Amount{Min: a.Min.Decimal, Max: a.Max.Decimal, Scale: scale}
}

func (c CheckConfig) definition() check.Definition {
	return check.Definition{
		Name:      c.Name,
		Type:      check.Type(strings.ToLower(c.Type)),
		Condition: check.Condition(strings.ToLower(c.Condition)),
		Path:      c.Path,
		Value:     c.Value,
	}
}

func parseThresholds(t ThresholdsConfig) ([]*threshold.Threshold, error) {
	var out []*threshold.Threshold
	for _, metric := range sortedMetrics(t) {
		for _, e := range t[metric] {
			th, err := threshold.Parse(metric, e.Threshold)
			if err != nil {
				return nil, err
			}
			th.AbortOnFail = e.AbortOnFail
			th.DelayAbortEval = e.DelayAbortEval.GetDuration(0)
			out = append(out, th)
		}
	}
	return out, nil
}
