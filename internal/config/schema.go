// Package config parses and validates steadyrate test configurations.
package config

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// TestConfig is the root configuration of a run.
//
// Example YAML:
//
//	name: wallet
//	settings:
//	  baseUrl: http://localhost:8080
//	scenario:
//	  executor: constant-arrival-rate
//	  rate: 1000
//	  timeUnit: 1s
//	  duration: 1m
//	  preAllocatedVUs: 1
//	  maxVUs: 1
//	  entityId: "{{uuid}}"
//	workload:
//	  - name: balance
//	    weight: 0.5
//	    url: "{{baseUrl}}/api/v1/wallets/{{entityId}}"
//	  - name: mutation
//	    weight: 0.5
//	    method: POST
//	    url: "{{baseUrl}}/api/v1/wallet"
//	    amount: {value: 100}
//	    variants:
//	      - {name: deposit, weight: 0.7, body: '{"walletId":"{{entityId}}","operationType":"DEPOSIT","amount":{{amount}}}'}
//	      - {name: withdraw, weight: 0.3, body: '{"walletId":"{{entityId}}","operationType":"WITHDRAW","amount":{{amount}}}'}
//	thresholds:
//	  http_req_failed: ["rate<=0.00"]
//	  http_req_duration: ["p(95)<500"]
type TestConfig struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	Settings  GlobalSettings    `json:"settings,omitempty" yaml:"settings,omitempty"`
	Variables map[string]string `json:"variables,omitempty" yaml:"variables,omitempty"`

	Scenario *ScenarioConfig `json:"scenario" yaml:"scenario"`
	Workload []VariantConfig `json:"workload" yaml:"workload"`

	// Thresholds maps a metric (optionally with a tag selector) to its
	// pass/fail predicates.
	Thresholds ThresholdsConfig `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`

	Options *ExecutionOptions `json:"options,omitempty" yaml:"options,omitempty"`
}

// GlobalSettings contains target client settings.
type GlobalSettings struct {
	BaseURL string `json:"baseUrl,omitempty" yaml:"baseUrl,omitempty"`

	// Timeout is the per-request timeout
	Timeout Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`

	UserAgent string            `json:"userAgent,omitempty" yaml:"userAgent,omitempty"`
	Headers   map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`

	// MaxConnectionsPerHost limits connections per host (0 = unlimited)
	MaxConnectionsPerHost int `json:"maxConnectionsPerHost,omitempty" yaml:"maxConnectionsPerHost,omitempty"`
	MaxIdleConnsPerHost   int `json:"maxIdleConnsPerHost,omitempty" yaml:"maxIdleConnsPerHost,omitempty"`

	InsecureSkipVerify bool `json:"insecureSkipVerify,omitempty" yaml:"insecureSkipVerify,omitempty"`

	// HTTP2 forces HTTP/2 on TLS targets
	HTTP2 bool `json:"http2,omitempty" yaml:"http2,omitempty"`

	// ExpectedStatuses lists the statuses counted as success: codes
	// ("204"), ranges ("200-299") or classes ("2xx"). Default 200-399.
	ExpectedStatuses []string `json:"expectedStatuses,omitempty" yaml:"expectedStatuses,omitempty"`
}

// ScenarioConfig defines the load profile.
type ScenarioConfig struct {
	// Executor is the load model; only "constant-arrival-rate" is supported
	Executor string `json:"executor" yaml:"executor"`

	// Rate is iterations started per TimeUnit
	Rate     float64 `json:"rate" yaml:"rate"`
	TimeUnit string  `json:"timeUnit,omitempty" yaml:"timeUnit,omitempty"`

	// Duration is how long ticks are emitted (e.g., "30s", "1m")
	Duration string `json:"duration" yaml:"duration"`

	PreAllocatedVUs int `json:"preAllocatedVUs,omitempty" yaml:"preAllocatedVUs,omitempty"`
	MaxVUs          int `json:"maxVUs,omitempty" yaml:"maxVUs,omitempty"`

	// GracefulStop bounds the drain after the schedule ends
	GracefulStop string `json:"gracefulStop,omitempty" yaml:"gracefulStop,omitempty"`

	// Overflow is "queue", "block" or "drop"
	Overflow   string `json:"overflow,omitempty" yaml:"overflow,omitempty"`
	QueueDepth int    `json:"queueDepth,omitempty" yaml:"queueDepth,omitempty"`

	// Seed makes the request mix reproducible (0 = random)
	Seed int64 `json:"seed,omitempty" yaml:"seed,omitempty"`

	// EntityID is the fixed entity (e.g. wallet id) used by every iteration.
	// "{{uuid}}" is resolved once when the scenario is built.
	EntityID string `json:"entityId,omitempty" yaml:"entityId,omitempty"`
}

// VariantConfig is one entry of the workload mix. A variant with nested
// variants is a group; children inherit any field they leave empty.
type VariantConfig struct {
	Name     string            `json:"name" yaml:"name"`
	Weight   float64           `json:"weight" yaml:"weight"`
	Method   string            `json:"method,omitempty" yaml:"method,omitempty"`
	URL      string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers  map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Body     string            `json:"body,omitempty" yaml:"body,omitempty"`
	Amount   *AmountConfig     `json:"amount,omitempty" yaml:"amount,omitempty"`
	Checks   []CheckConfig     `json:"checks,omitempty" yaml:"checks,omitempty"`
	Variants []VariantConfig   `json:"variants,omitempty" yaml:"variants,omitempty"`
}

// AmountConfig is either a fixed Value or a Min/Max range.
type AmountConfig struct {
	Value *Decimal `json:"value,omitempty" yaml:"value,omitempty"`
	Min   *Decimal `json:"min,omitempty" yaml:"min,omitempty"`
	Max   *Decimal `json:"max,omitempty" yaml:"max,omitempty"`

	// Scale is the number of fractional digits of ranged amounts (default 2)
	Scale *int32 `json:"scale,omitempty" yaml:"scale,omitempty"`
}

// CheckConfig defines a named response assertion.
type CheckConfig struct {
	Name string `json:"name,omitempty" yaml:"name,omitempty"`

	// Type is "status", "body", "header", "jsonpath", "jsonschema" or "duration"
	Type string `json:"type" yaml:"type"`

	// Condition is "eq", "ne", "gt", "lt", "gte", "lte", "contains", "matches" or "exists"
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`

	// Path is the header name or JSONPath
	Path  string `json:"path,omitempty" yaml:"path,omitempty"`
	Value string `json:"value,omitempty" yaml:"value,omitempty"`
}

// ThresholdsConfig maps metric names to threshold entries.
type ThresholdsConfig map[string][]ThresholdEntry

// ThresholdEntry is a threshold expression with its abort options. It
// decodes from a bare string ("p(95)<500") or an object.
type ThresholdEntry struct {
	Threshold      string   `json:"threshold" yaml:"threshold"`
	AbortOnFail    bool     `json:"abortOnFail,omitempty" yaml:"abortOnFail,omitempty"`
	DelayAbortEval Duration `json:"delayAbortEval,omitempty" yaml:"delayAbortEval,omitempty"`
}

type thresholdEntryFields ThresholdEntry

// UnmarshalJSON implements json.Unmarshaler.
func (t *ThresholdEntry) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*t = ThresholdEntry{Threshold: s}
		return nil
	}
	var f thresholdEntryFields
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	*t = ThresholdEntry(f)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (t *ThresholdEntry) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		*t = ThresholdEntry{Threshold: node.Value}
		return nil
	}
	var f thresholdEntryFields
	if err := node.Decode(&f); err != nil {
		return err
	}
	*t = ThresholdEntry(f)
	return nil
}

// MarshalJSON writes entries without options as bare strings.
func (t ThresholdEntry) MarshalJSON() ([]byte, error) {
	if !t.AbortOnFail && t.DelayAbortEval == 0 {
		return json.Marshal(t.Threshold)
	}
	return json.Marshal(thresholdEntryFields(t))
}

// ExecutionOptions controls run behavior.
type ExecutionOptions struct {
	// ThresholdInterval is how often abortOnFail thresholds are evaluated
	ThresholdInterval Duration `json:"thresholdInterval,omitempty" yaml:"thresholdInterval,omitempty"`
}

// Duration is a time.Duration that can be unmarshaled from JSON/YAML strings.
type Duration time.Duration

// GetDuration returns the duration or a default if zero.
func (d Duration) GetDuration(defaultValue time.Duration) time.Duration {
	if d == 0 {
		return defaultValue
	}
	return time.Duration(d)
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + time.Duration(d).String() + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*d = 0
		return nil
	}
	dur, err := ParseDurationString(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Value == "" {
		*d = 0
		return nil
	}
	dur, err := ParseDurationString(node.Value)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// String returns the duration as a string.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// Decimal is an exact decimal that decodes from a YAML/JSON number or
// string and keeps the scale it was written with ("12.50").
type Decimal struct {
	decimal.Decimal
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Decimal) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: decimal must be a scalar", node.Line)
	}
	v, err := decimal.NewFromString(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: invalid decimal %q", node.Line, node.Value)
	}
	d.Decimal = v
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Decimal) MarshalYAML() (interface{}, error) {
	return d.Decimal.String(), nil
}
