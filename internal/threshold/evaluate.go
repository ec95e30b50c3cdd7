package threshold

import (
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/wesleyorama2/steadyrate/internal/metrics"
)

// Result is the outcome of one threshold.
type Result struct {
	Metric     string  `json:"metric"`
	Expression string  `json:"expression"`
	Passed     bool    `json:"passed"`
	Observed   float64 `json:"observed"`
	Expected   float64 `json:"expected"`

	// Display is the observed value formatted in the metric's unit.
	Display string `json:"display"`

	// NoData is set when the metric had no samples to compare.
	NoData bool `json:"noData,omitempty"`

	Message string `json:"message,omitempty"`

	threshold *Threshold
}

// Threshold returns the threshold the result was computed for.
func (r Result) Threshold() *Threshold {
	return r.threshold
}

// Verdict is the overall outcome: the AND of all results.
type Verdict struct {
	Passed  bool     `json:"passed"`
	Results []Result `json:"results"`
}

func (v Verdict) String() string {
	if v.Passed {
		return "PASS"
	}
	return "FAIL"
}

// Failed returns the failing results in declaration order.
func (v Verdict) Failed() []Result {
	var out []Result
	for _, r := range v.Results {
		if !r.Passed {
			out = append(out, r)
		}
	}
	return out
}

// Evaluate checks every threshold against snap. It does not modify snap and
// returns the same verdict for the same inputs. No thresholds is a PASS.
func Evaluate(thresholds []*Threshold, snap *metrics.Snapshot) Verdict {
	v := Verdict{Passed: true, Results: make([]Result, 0, len(thresholds))}
	for _, t := range thresholds {
		r := evaluate(t, snap)
		v.Results = append(v.Results, r)
		v.Passed = v.Passed && r.Passed
	}
	return v
}

func evaluate(t *Threshold, snap *metrics.Snapshot) Result {
	r := Result{
		Metric:     t.Name(),
		Expression: t.Expression,
		Expected:   t.Value,
		threshold:  t,
	}

	observed, ok := observe(t, snap)
	if !ok {
		r.NoData = true
		r.Display = "n/a"
		r.Message = fmt.Sprintf("%s has no samples", t.Name())
		return r
	}

	r.Observed = observed
	r.Display = format(t, observed)
	r.Passed = compare(observed, t.Operator, t.Value)
	if !r.Passed {
		r.Message = fmt.Sprintf("%s is %s, want %s %s", label(t), r.Display, t.Operator, format(t, t.Value))
	}
	return r
}

// observe reads the value a threshold compares from the snapshot.
func observe(t *Threshold, snap *metrics.Snapshot) (float64, bool) {
	if snap == nil {
		return 0, false
	}

	switch t.Metric {
	case MetricReqDuration:
		latency := snap.Latency
		if t.Selector.Key != "" {
			op, ok := snap.Operations[t.Selector.Value]
			if !ok {
				return 0, false
			}
			latency = op.Latency
		}
		if latency.Count == 0 {
			return 0, false
		}
		return durationStat(t, latency)

	case MetricReqFailed, MetricErrorRate:
		if t.Selector.Key != "" {
			op, ok := snap.Operations[t.Selector.Value]
			if !ok || op.Iterations == 0 {
				return 0, false
			}
			return op.ErrorRate, true
		}
		if snap.Iterations == 0 {
			return 0, false
		}
		return snap.ErrorRate, true

	case MetricReqs, MetricIterations:
		count := snap.Iterations
		if t.Selector.Key != "" {
			count = snap.Operations[t.Selector.Value].Iterations
		}
		return countStat(t, count, snap.Elapsed), true

	case MetricDropped:
		count := snap.Dropped
		if t.Selector.Key != "" {
			count = snap.DroppedBy[metrics.DropReason(t.Selector.Value)]
		}
		return countStat(t, count, snap.Elapsed), true

	case MetricChecks:
		return snap.CheckRate(t.Selector.Value)
	}
	return 0, false
}

func durationStat(t *Threshold, l metrics.LatencyStats) (float64, bool) {
	var d time.Duration
	switch t.Aggregation {
	case AggAvg:
		d = l.Mean
	case AggMin:
		d = l.Min
	case AggMax:
		d = l.Max
	case AggMed:
		d = l.P50
	case AggPercentile:
		if t.Percentile == 100 {
			d = l.Max
			break
		}
		v, ok := l.Percentile(t.Percentile)
		if !ok {
			return 0, false
		}
		d = v
	default:
		return 0, false
	}
	return float64(d) / float64(time.Millisecond), true
}

func countStat(t *Threshold, count int64, elapsed time.Duration) float64 {
	if t.Aggregation == AggRate {
		if elapsed <= 0 {
			return 0
		}
		return float64(count) / elapsed.Seconds()
	}
	return float64(count)
}

func compare(actual float64, op Operator, want float64) bool {
	switch op {
	case OpLT:
		return actual < want
	case OpLE:
		return actual <= want
	case OpGT:
		return actual > want
	case OpGE:
		return actual >= want
	case OpEQ:
		return actual == want
	case OpNE:
		return actual != want
	}
	return false
}

func label(t *Threshold) string {
	if t.Aggregation == AggPercentile {
		return "p(" + strconv.FormatFloat(t.Percentile, 'f', -1, 64) + ")"
	}
	return string(t.Aggregation)
}

func format(t *Threshold, v float64) string {
	switch {
	case t.Metric == MetricReqDuration:
		d := time.Duration(v * float64(time.Millisecond))
		return d.Round(roundTo(d)).String()
	case t.Aggregation == AggCount:
		return strconv.FormatFloat(v, 'f', 0, 64)
	case t.Aggregation == AggRate && (t.Metric == MetricReqs || t.Metric == MetricIterations || t.Metric == MetricDropped):
		return strconv.FormatFloat(v, 'f', 2, 64) + "/s"
	default:
		return strconv.FormatFloat(math.Round(v*10000)/100, 'f', 2, 64) + "%"
	}
}

func roundTo(d time.Duration) time.Duration {
	switch {
	case d >= time.Second:
		return time.Millisecond
	case d >= time.Millisecond:
		return 10 * time.Microsecond
	default:
		return time.Microsecond
	}
}

// Percentiles returns the latency percentiles the thresholds need beyond
// the ones every snapshot carries.
func Percentiles(thresholds []*Threshold) []float64 {
	seen := map[float64]bool{50: true, 90: true, 95: true, 99: true, 100: true}
	var out []float64
	for _, t := range thresholds {
		if t.Aggregation == AggPercentile && !seen[t.Percentile] {
			seen[t.Percentile] = true
			out = append(out, t.Percentile)
		}
	}
	return out
}
