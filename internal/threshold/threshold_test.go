package threshold

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/steadyrate/internal/metrics"
)

func TestParse(t *testing.T) {
	tests := []struct {
		metric     string
		expr       string
		agg        Aggregation
		percentile float64
		op         Operator
		value      float64
		selector   Selector
	}{
		{"http_req_duration", "p(95)<500", AggPercentile, 95, OpLT, 500, Selector{}},
		{"http_req_duration", "p95 < 500ms", AggPercentile, 95, OpLT, 500, Selector{}},
		{"http_req_duration", "p(99.9)<=1.5s", AggPercentile, 99.9, OpLE, 1500, Selector{}},
		{"http_req_duration", "avg<200", AggAvg, 0, OpLT, 200, Selector{}},
		{"http_req_duration", "med < 100ms", AggMed, 0, OpLT, 100, Selector{}},
		{"http_req_duration{operation:deposit}", "max<2s", AggMax, 0, OpLT, 2000, Selector{"operation", "deposit"}},
		{"http_req_failed", "rate<=0.00", AggRate, 0, OpLE, 0, Selector{}},
		{"http_req_failed", "rate<1%", AggRate, 0, OpLT, 0.01, Selector{}},
		{"error_rate", "<=0", AggRate, 0, OpLE, 0, Selector{}},
		{"error_rate", "error_rate<=0", AggRate, 0, OpLE, 0, Selector{}},
		{"http_reqs", "count>=1000", AggCount, 0, OpGE, 1000, Selector{}},
		{"iterations", "rate > 900", AggRate, 0, OpGT, 900, Selector{}},
		{"dropped_iterations", "count==0", AggCount, 0, OpEQ, 0, Selector{}},
		{"dropped_iterations{reason:queue_full}", "count=0", AggCount, 0, OpEQ, 0, Selector{"reason", "queue_full"}},
		{"checks{check:status is 200}", "rate>0.99", AggRate, 0, OpGT, 0.99, Selector{"check", "status is 200"}},
	}

	for _, tt := range tests {
		t.Run(tt.metric+" "+tt.expr, func(t *testing.T) {
			th, err := Parse(tt.metric, tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.agg, th.Aggregation)
			assert.Equal(t, tt.percentile, th.Percentile)
			assert.Equal(t, tt.op, th.Operator)
			assert.InDelta(t, tt.value, th.Value, 1e-9)
			assert.Equal(t, tt.selector, th.Selector)
		})
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		metric string
		expr   string
		want   string
	}{
		{"latency", "p95<500", "unknown metric"},
		{"http_req_duration", "p95", "expected <aggregation>"},
		{"http_req_duration", "<500", "aggregation is required"},
		{"http_req_duration", "rate<0.1", "does not support"},
		{"http_req_duration", "p(0)<500", "out of range"},
		{"http_req_duration", "p95=<500", "unknown operator"},
		{"http_req_duration", "p95<fast", "invalid duration"},
		{"http_req_failed", "rate<low", "invalid number"},
		{"http_reqs", "p95<1", "does not support"},
		{"checks{operation:x}", "rate>0.9", `supports the "check" tag`},
	}

	for _, tt := range tests {
		t.Run(tt.metric+" "+tt.expr, func(t *testing.T) {
			_, err := Parse(tt.metric, tt.expr)
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

// runSnapshot mirrors 1000 iterations over one second at 50ms latency.
func runSnapshot(failed int64) *metrics.Snapshot {
	return &metrics.Snapshot{
		Iterations: 1000,
		Succeeded:  1000 - failed,
		Failed:     failed,
		ErrorRate:  float64(failed) / 1000,
		Latency: metrics.LatencyStats{
			Min: 48 * time.Millisecond, Max: 61 * time.Millisecond, Mean: 50 * time.Millisecond,
			P50: 50 * time.Millisecond, P90: 52 * time.Millisecond, P95: 53 * time.Millisecond, P99: 57 * time.Millisecond,
			Count: 1000,
		},
		Checks: map[string]metrics.CheckStats{
			"status is 200": {Name: "status is 200", Passes: 1000 - failed, Fails: failed},
		},
		Operations: map[string]metrics.OperationStats{
			"deposit": {Name: "deposit", Iterations: 350, Failed: failed, ErrorRate: float64(failed) / 350,
				Latency: metrics.LatencyStats{P95: 80 * time.Millisecond, Count: 350}},
		},
		Elapsed: time.Second,
	}
}

func slaThresholds() []*Threshold {
	return []*Threshold{
		MustParse("error_rate", "rate<=0"),
		MustParse("http_req_duration", "p(95)<500"),
	}
}

func TestEvaluate_AllSucceedPasses(t *testing.T) {
	v := Evaluate(slaThresholds(), runSnapshot(0))

	assert.True(t, v.Passed)
	assert.Equal(t, "PASS", v.String())
	require.Len(t, v.Results, 2)
	assert.Equal(t, 0.0, v.Results[0].Observed)
	assert.Equal(t, "0.00%", v.Results[0].Display)
	assert.InDelta(t, 53.0, v.Results[1].Observed, 1e-9)
	assert.Equal(t, "53ms", v.Results[1].Display)
	assert.Empty(t, v.Failed())
}

func TestEvaluate_FivePercentErrorsFails(t *testing.T) {
	v := Evaluate(slaThresholds(), runSnapshot(50))

	assert.False(t, v.Passed)
	assert.Equal(t, "FAIL", v.String())

	failed := v.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, "error_rate", failed[0].Metric)
	assert.InDelta(t, 0.05, failed[0].Observed, 1e-9)
	assert.Equal(t, "5.00%", failed[0].Display)
	assert.Equal(t, "rate is 5.00%, want <= 0.00%", failed[0].Message)
	assert.True(t, v.Results[1].Passed, "latency threshold is unaffected")
}

func TestEvaluate_IsDeterministic(t *testing.T) {
	snap := runSnapshot(50)
	ths := slaThresholds()

	first := Evaluate(ths, snap)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Evaluate(ths, snap))
	}
	assert.Equal(t, int64(1000), snap.Iterations, "snapshot is untouched")
}

func TestEvaluate_NoThresholdsPasses(t *testing.T) {
	v := Evaluate(nil, runSnapshot(500))
	assert.True(t, v.Passed)
	assert.Empty(t, v.Results)
}

func TestEvaluate_Metrics(t *testing.T) {
	snap := runSnapshot(10)
	snap.Dropped = 3
	snap.DroppedBy = map[metrics.DropReason]int64{metrics.DropQueueFull: 3}
	snap.Latency.Extra = map[float64]time.Duration{99.9: 60 * time.Millisecond}

	tests := []struct {
		metric   string
		expr     string
		passed   bool
		observed float64
	}{
		{"http_req_duration", "avg<=50ms", true, 50},
		{"http_req_duration", "min>50", false, 48},
		{"http_req_duration", "max<1s", true, 61},
		{"http_req_duration", "med==50", true, 50},
		{"http_req_duration", "p(99.9)<60", false, 60},
		{"http_req_duration", "p(100)<=61", true, 61},
		{"http_req_duration{operation:deposit}", "p95<50", false, 80},
		{"http_req_failed", "rate<0.02", true, 0.01},
		{"http_req_failed{operation:deposit}", "rate<0.02", false, 10.0 / 350},
		{"http_reqs", "count>=1000", true, 1000},
		{"http_reqs", "rate>999", true, 1000},
		{"iterations{operation:deposit}", "count==350", true, 350},
		{"dropped_iterations", "count==0", false, 3},
		{"dropped_iterations{reason:no_idle_worker}", "count==0", true, 0},
		{"checks", "rate>0.995", false, 0.99},
		{"checks{check:status is 200}", "rate>=0.99", true, 0.99},
	}

	for _, tt := range tests {
		t.Run(tt.metric+" "+tt.expr, func(t *testing.T) {
			r := Evaluate([]*Threshold{MustParse(tt.metric, tt.expr)}, snap).Results[0]
			assert.Equal(t, tt.passed, r.Passed, r.Message)
			assert.InDelta(t, tt.observed, r.Observed, 1e-9)
			assert.False(t, r.NoData)
		})
	}
}

func TestEvaluate_NoDataFails(t *testing.T) {
	empty := &metrics.Snapshot{Elapsed: time.Second}

	tests := []struct{ metric, expr string }{
		{"http_req_duration", "p95<500"},
		{"error_rate", "<=0"},
		{"checks", "rate>0.9"},
		{"http_req_duration{operation:missing}", "p95<500"},
	}
	for _, tt := range tests {
		t.Run(tt.metric, func(t *testing.T) {
			r := Evaluate([]*Threshold{MustParse(tt.metric, tt.expr)}, empty).Results[0]
			assert.False(t, r.Passed)
			assert.True(t, r.NoData)
			assert.Equal(t, "n/a", r.Display)
		})
	}

	r := Evaluate([]*Threshold{MustParse("dropped_iterations", "count==0")}, empty).Results[0]
	assert.True(t, r.Passed, "counts are defined without samples")
}

func TestPercentiles(t *testing.T) {
	ths := []*Threshold{
		MustParse("http_req_duration", "p95<500"),
		MustParse("http_req_duration", "p(99.9)<900"),
		MustParse("http_req_duration{operation:deposit}", "p(99.9)<900"),
		MustParse("http_req_duration", "p(75)<300"),
	}
	assert.Equal(t, []float64{99.9, 75}, Percentiles(ths))
}
