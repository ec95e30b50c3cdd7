// Package threshold parses pass/fail predicates over run metrics and
// evaluates them against a metrics snapshot.
package threshold

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Metric names a metric thresholds can be declared on.
type Metric string

const (
	MetricReqDuration Metric = "http_req_duration"
	MetricReqFailed   Metric = "http_req_failed"
	MetricErrorRate   Metric = "error_rate"
	MetricReqs        Metric = "http_reqs"
	MetricIterations  Metric = "iterations"
	MetricDropped     Metric = "dropped_iterations"
	MetricChecks      Metric = "checks"
)

// Aggregation is the statistic of a metric a threshold compares.
type Aggregation string

const (
	AggAvg        Aggregation = "avg"
	AggMin        Aggregation = "min"
	AggMax        Aggregation = "max"
	AggMed        Aggregation = "med"
	AggPercentile Aggregation = "p"
	AggRate       Aggregation = "rate"
	AggCount      Aggregation = "count"
)

// Operator is a comparison operator.
type Operator string

const (
	OpLT Operator = "<"
	OpLE Operator = "<="
	OpGT Operator = ">"
	OpGE Operator = ">="
	OpEQ Operator = "=="
	OpNE Operator = "!="
)

// Selector narrows a metric to one tag value, e.g. {operation:deposit}.
type Selector struct {
	Key   string
	Value string
}

func (s Selector) String() string {
	if s.Key == "" {
		return ""
	}
	return "{" + s.Key + ":" + s.Value + "}"
}

// Threshold is one parsed predicate. Immutable once parsed.
type Threshold struct {
	Metric      Metric
	Selector    Selector
	Expression  string
	Aggregation Aggregation

	// Percentile is set when Aggregation is AggPercentile (e.g. 95, 99.9).
	Percentile float64

	Operator Operator

	// Value is in milliseconds for http_req_duration and unitless otherwise.
	Value float64

	// AbortOnFail stops the run early when the threshold fails mid-run.
	AbortOnFail bool

	// DelayAbortEval postpones mid-run evaluation after the start.
	DelayAbortEval time.Duration
}

// Name returns the metric with its selector, as written in configuration.
func (t *Threshold) Name() string {
	return string(t.Metric) + t.Selector.String()
}

// ParseError reports an unparsable threshold.
type ParseError struct {
	Metric     string
	Expression string
	Reason     string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("threshold %s %q: %s", e.Metric, e.Expression, e.Reason)
}

var (
	exprPattern       = regexp.MustCompile(`^([\w().]*)\s*([<>=!]+)\s*(.+)$`)
	percentilePattern = regexp.MustCompile(`^p\(?(\d+(?:\.\d+)?)\)?$`)
	metricPattern     = regexp.MustCompile(`^(\w+)(?:\{\s*(\w+)\s*:\s*([^}]*?)\s*\})?$`)
)

// allowed lists the aggregations and selector keys each metric supports.
var allowed = map[Metric]struct {
	aggs     []Aggregation
	selector string
}{
	MetricReqDuration: {[]Aggregation{AggAvg, AggMin, AggMax, AggMed, AggPercentile}, "operation"},
	MetricReqFailed:   {[]Aggregation{AggRate}, "operation"},
	MetricErrorRate:   {[]Aggregation{AggRate}, "operation"},
	MetricReqs:        {[]Aggregation{AggCount, AggRate}, "operation"},
	MetricIterations:  {[]Aggregation{AggCount, AggRate}, "operation"},
	MetricDropped:     {[]Aggregation{AggCount, AggRate}, "reason"},
	MetricChecks:      {[]Aggregation{AggRate}, "check"},
}

// Parse parses an expression such as "p(95)<500" for the given metric.
//
// metric may carry a tag selector: "http_req_duration{operation:deposit}".
// Metrics with a single aggregation accept the expression without it, so
// "error_rate" accepts both "rate<=0" and "<=0".
func Parse(metric, expr string) (*Threshold, error) {
	fail := func(format string, args ...any) error {
		return &ParseError{Metric: metric, Expression: expr, Reason: fmt.Sprintf(format, args...)}
	}

	m := metricPattern.FindStringSubmatch(strings.TrimSpace(metric))
	if m == nil {
		return nil, fail("invalid metric name")
	}
	t := &Threshold{
		Metric:     Metric(m[1]),
		Selector:   Selector{Key: m[2], Value: m[3]},
		Expression: strings.TrimSpace(expr),
	}
	rules, ok := allowed[t.Metric]
	if !ok {
		return nil, fail("unknown metric %q", m[1])
	}
	if t.Selector.Key != "" && t.Selector.Key != rules.selector {
		return nil, fail("%s supports the %q tag, not %q", t.Metric, rules.selector, t.Selector.Key)
	}

	parts := exprPattern.FindStringSubmatch(t.Expression)
	if parts == nil {
		return nil, fail("expected <aggregation> <operator> <value>")
	}
	agg, op, value := parts[1], Operator(parts[2]), strings.TrimSpace(parts[3])

	switch {
	case agg == "" || agg == string(t.Metric):
		if len(rules.aggs) != 1 {
			return nil, fail("aggregation is required for %s", t.Metric)
		}
		t.Aggregation = rules.aggs[0]
	case percentilePattern.MatchString(agg):
		p, _ := strconv.ParseFloat(percentilePattern.FindStringSubmatch(agg)[1], 64)
		if p <= 0 || p > 100 {
			return nil, fail("percentile %g out of range (0, 100]", p)
		}
		t.Aggregation = AggPercentile
		t.Percentile = p
	default:
		t.Aggregation = Aggregation(agg)
	}
	if !supports(rules.aggs, t.Aggregation) {
		return nil, fail("%s does not support %q", t.Metric, agg)
	}

	switch op {
	case OpLT, OpLE, OpGT, OpGE, OpEQ, OpNE:
		t.Operator = op
	case "=":
		t.Operator = OpEQ
	default:
		return nil, fail("unknown operator %q", op)
	}

	v, err := parseValue(t.Metric, value)
	if err != nil {
		return nil, fail("%v", err)
	}
	t.Value = v
	return t, nil
}

// MustParse is like Parse but panics on error.
func MustParse(metric, expr string) *Threshold {
	t, err := Parse(metric, expr)
	if err != nil {
		panic(err)
	}
	return t
}

func supports(aggs []Aggregation, a Aggregation) bool {
	for _, s := range aggs {
		if s == a {
			return true
		}
	}
	return false
}

// parseValue reads durations as milliseconds; bare numbers on
// http_req_duration are already milliseconds. Rates accept a percentage.
func parseValue(metric Metric, s string) (float64, error) {
	if metric == MetricReqDuration {
		if ms, err := strconv.ParseFloat(s, 64); err == nil {
			return ms, nil
		}
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return float64(d) / float64(time.Millisecond), nil
	}

	if pct, ok := strings.CutSuffix(s, "%"); ok {
		v, err := strconv.ParseFloat(strings.TrimSpace(pct), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid percentage %q", s)
		}
		return v / 100, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid number %q", s)
	}
	return v, nil
}
