package config

import (
	"fmt"
	"math"
	"net/url"
	"sort"
	"strings"

	"github.com/wesleyorama2/steadyrate/internal/check"
	"github.com/wesleyorama2/steadyrate/internal/executor"
	"github.com/wesleyorama2/steadyrate/internal/threshold"
	"github.com/wesleyorama2/steadyrate/internal/vu"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation error: %s", e.Message)
}

// ValidationErrors is a collection of validation errors. It is the error
// returned for any configuration that must not start a run.
type ValidationErrors struct {
	Errors []*ValidationError
}

func (e *ValidationErrors) Error() string {
	if len(e.Errors) == 0 {
		return "no validation errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e.Errors)))
	for i, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// Add adds an error to the collection.
func (e *ValidationErrors) Add(field, message string) {
	e.Errors = append(e.Errors, &ValidationError{Field: field, Message: message})
}

// HasErrors returns true if there are any errors.
func (e *ValidationErrors) HasErrors() bool {
	return len(e.Errors) > 0
}

// Validate validates the entire test configuration. Call ApplyDefaults
// first so omitted fields are not reported.
//
// Returns nil if valid, or a *ValidationErrors containing every problem.
func (c *TestConfig) Validate() error {
	errs := &ValidationErrors{}

	validateSettings(&c.Settings, errs)

	if c.Scenario == nil {
		errs.Add("scenario", "scenario is required")
	} else {
		validateScenario(c.Scenario, errs)
	}

	if len(c.Workload) == 0 {
		errs.Add("workload", "at least one variant is required")
	} else {
		validateVariants("workload", c.Workload, errs)
	}

	validateThresholds(c.Thresholds, errs)

	if errs.HasErrors() {
		return errs
	}
	return nil
}

func validateSettings(s *GlobalSettings, errs *ValidationErrors) {
	if s.BaseURL != "" {
		u, err := url.Parse(s.BaseURL)
		if err != nil {
			errs.Add("settings.baseUrl", fmt.Sprintf("invalid URL: %v", err))
		} else if u.Scheme != "http" && u.Scheme != "https" {
			errs.Add("settings.baseUrl", "scheme must be http or https")
		}
	}
	if s.Timeout < 0 {
		errs.Add("settings.timeout", "cannot be negative")
	}
	if s.MaxConnectionsPerHost < 0 {
		errs.Add("settings.maxConnectionsPerHost", "cannot be negative")
	}
	if s.MaxIdleConnsPerHost < 0 {
		errs.Add("settings.maxIdleConnsPerHost", "cannot be negative")
	}
	if _, err := vu.ParseStatusSet(s.ExpectedStatuses); err != nil {
		errs.Add("settings.expectedStatuses", err.Error())
	}
}

func validateScenario(sc *ScenarioConfig, errs *ValidationErrors) {
	const prefix = "scenario"

	if sc.Executor != string(executor.TypeConstantArrivalRate) {
		errs.Add(prefix+".executor", fmt.Sprintf("unknown executor type: %s (only %s is supported)", sc.Executor, executor.TypeConstantArrivalRate))
	}
	if sc.Rate <= 0 || math.IsNaN(sc.Rate) || math.IsInf(sc.Rate, 0) {
		errs.Add(prefix+".rate", "rate must be greater than 0")
	}

	if d, err := ParseDurationString(sc.TimeUnit); err != nil {
		errs.Add(prefix+".timeUnit", err.Error())
	} else if d <= 0 {
		errs.Add(prefix+".timeUnit", "timeUnit must be greater than 0")
	}
	if d, err := ParseDurationString(sc.Duration); err != nil {
		errs.Add(prefix+".duration", err.Error())
	} else if d <= 0 {
		errs.Add(prefix+".duration", "duration is required and must be greater than 0")
	}
	if d, err := ParseDurationString(sc.GracefulStop); err != nil {
		errs.Add(prefix+".gracefulStop", err.Error())
	} else if d < 0 {
		errs.Add(prefix+".gracefulStop", "cannot be negative")
	}

	if sc.PreAllocatedVUs < 1 {
		errs.Add(prefix+".preAllocatedVUs", "preAllocatedVUs must be at least 1")
	}
	if sc.MaxVUs < sc.PreAllocatedVUs {
		errs.Add(prefix+".maxVUs", "maxVUs must be >= preAllocatedVUs")
	}
	if _, err := executor.ParseOverflowPolicy(sc.Overflow); err != nil {
		errs.Add(prefix+".overflow", err.Error())
	}
	if sc.QueueDepth < 0 {
		errs.Add(prefix+".queueDepth", "cannot be negative")
	}
}

func validateVariants(prefix string, variants []VariantConfig, errs *ValidationErrors) {
	sum := 0.0
	for i := range variants {
		v := &variants[i]
		field := fmt.Sprintf("%s[%d]", prefix, i)

		if v.Name == "" {
			errs.Add(field+".name", "name is required")
		}
		if v.Weight < 0 || math.IsNaN(v.Weight) {
			errs.Add(field+".weight", "weight must not be negative")
		}
		sum += v.Weight

		if v.Amount != nil {
			validateAmount(field+".amount", v.Amount, errs)
		}
		for j, c := range v.Checks {
			if _, err := check.Compile(c.definition()); err != nil {
				errs.Add(fmt.Sprintf("%s.checks[%d]", field, j), err.Error())
			}
		}
		if len(v.Variants) > 0 {
			validateVariants(field+".variants", v.Variants, errs)
		}
	}

	if math.Abs(sum-1.0) > 1e-6 {
		errs.Add(prefix, fmt.Sprintf("weights sum to %g, must sum to 1.0", sum))
	}
}

func validateAmount(field string, a *AmountConfig, errs *ValidationErrors) {
	switch {
	case a.Value != nil && (a.Min != nil || a.Max != nil):
		errs.Add(field, "set either value or min/max, not both")
	case a.Value == nil && (a.Min == nil || a.Max == nil):
		errs.Add(field, "value or both min and max are required")
	case a.Value == nil && a.Min.GreaterThan(a.Max.Decimal):
		errs.Add(field, "min must be <= max")
	}
	if a.Scale != nil && (*a.Scale < 0 || *a.Scale > 18) {
		errs.Add(field+".scale", "scale must be between 0 and 18")
	}
}

func validateThresholds(t ThresholdsConfig, errs *ValidationErrors) {
	for _, metric := range sortedMetrics(t) {
		for i, e := range t[metric] {
			if _, err := threshold.Parse(metric, e.Threshold); err != nil {
				errs.Add(fmt.Sprintf("thresholds.%s[%d]", metric, i), err.Error())
			}
			if e.DelayAbortEval < 0 {
				errs.Add(fmt.Sprintf("thresholds.%s[%d].delayAbortEval", metric, i), "cannot be negative")
			}
		}
	}
}

// sortedMetrics returns the threshold metrics in a stable order.
func sortedMetrics(t ThresholdsConfig) []string {
	metrics := make([]string, 0, len(t))
	for metric := range t {
		metrics = append(metrics, metric)
	}
	sort.Strings(metrics)
	return metrics
}
