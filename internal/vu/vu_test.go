package vu

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wesleyorama2/steadyrate/internal/check"
	httpclient "github.com/wesleyorama2/steadyrate/internal/http"
	"github.com/wesleyorama2/steadyrate/internal/logging"
	"github.com/wesleyorama2/steadyrate/internal/rate"
	"github.com/wesleyorama2/steadyrate/internal/workload"
)

func newConfig(t *testing.T, baseURL string, defs []workload.Definition) *Config {
	t.Helper()
	spec, err := workload.Compile(defs)
	require.NoError(t, err)
	client, err := httpclient.NewClient(httpclient.WithTimeout(2 * time.Second))
	require.NoError(t, err)
	return &Config{
		Generator: workload.NewGenerator(spec, map[string]string{"baseUrl": baseURL, "entityId": "w1"}),
		Client:    client,
		Seed:      1,
		Logger:    logging.Component(logging.Discard(), "vu"),
	}
}

func TestVirtualUser_RunIteration_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/wallets/w1", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"walletId":"w1","balance":"100"}`))
	}))
	defer server.Close()

	cfg := newConfig(t, server.URL, []workload.Definition{{
		Name:   "balance",
		Weight: 1,
		URL:    "{{baseUrl}}/api/v1/wallets/{{entityId}}",
		Checks: []*check.Check{
			check.MustCompile(check.Definition{Name: "GET status 200", Type: check.TypeStatus, Value: "200"}),
			check.MustCompile(check.Definition{Name: "has balance", Type: check.TypeJSONPath, Path: "$.balance", Condition: check.CondExists}),
		},
	}})

	v := New(3, cfg)
	tick := rate.Tick{Seq: 42, At: time.Now().Add(-5 * time.Millisecond)}
	res := v.RunIteration(context.Background(), tick)

	assert.Equal(t, int64(42), res.Seq)
	assert.Equal(t, 3, res.WorkerID)
	assert.Equal(t, "balance", res.Operation)
	assert.Equal(t, 200, res.StatusCode)
	assert.False(t, res.Failed)
	assert.NoError(t, res.Err)
	assert.False(t, res.Interrupted)
	assert.Greater(t, res.Latency, time.Duration(0))
	assert.GreaterOrEqual(t, res.QueueWait, 5*time.Millisecond)
	assert.Positive(t, res.Bytes)
	require.Len(t, res.Checks, 2)
	assert.True(t, res.Checks[0].Passed)
	assert.True(t, res.Checks[1].Passed)
	assert.Equal(t, int64(1), v.Iterations())
	assert.Equal(t, VUStateIdle, v.State())
}

func TestVirtualUser_UnexpectedStatusIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	cfg := newConfig(t, server.URL, []workload.Definition{{
		Name: "deposit", Weight: 1, Method: "POST", URL: "{{baseUrl}}/api/v1/wallet",
		Checks: []*check.Check{check.MustCompile(check.Definition{Name: "POST status 200", Type: check.TypeStatus, Value: "200"})},
	}})

	res := New(0, cfg).RunIteration(context.Background(), rate.Tick{At: time.Now()})
	assert.True(t, res.Failed)
	assert.NoError(t, res.Err, "an HTTP error status is not a transport error")
	assert.Equal(t, 500, res.StatusCode)
	assert.False(t, res.Checks[0].Passed)
}

func TestVirtualUser_ExpectedStatusesOverrideDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	cfg := newConfig(t, server.URL, []workload.Definition{{Name: "lookup", Weight: 1, URL: "{{baseUrl}}/x"}})
	set, err := ParseStatusSet([]string{"200-299", "404"})
	require.NoError(t, err)
	cfg.Expected = set

	res := New(0, cfg).RunIteration(context.Background(), rate.Tick{At: time.Now()})
	assert.False(t, res.Failed)
}

func TestVirtualUser_TransportError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	cfg := newConfig(t, url, []workload.Definition{{Name: "balance", Weight: 1, URL: "{{baseUrl}}/x"}})
	res := New(0, cfg).RunIteration(context.Background(), rate.Tick{At: time.Now()})

	assert.True(t, res.Failed)
	assert.Error(t, res.Err)
	assert.Equal(t, httpclient.KindConnectionRefused, res.ErrKind)
	assert.False(t, res.Interrupted)
	assert.Zero(t, res.StatusCode)
}

func TestVirtualUser_CancelledIterationIsInterrupted(t *testing.T) {
	var started atomic.Bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started.Store(true)
		<-r.Context().Done()
	}))
	defer server.Close()

	cfg := newConfig(t, server.URL, []workload.Definition{{Name: "slow", Weight: 1, URL: "{{baseUrl}}/slow"}})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(30 * time.Millisecond)
		cancel()
	}()

	res := New(0, cfg).RunIteration(ctx, rate.Tick{At: time.Now()})
	assert.True(t, res.Interrupted)
	assert.False(t, res.Failed, "interrupted iterations are not failures")
	assert.True(t, started.Load())

	// Already-cancelled context: no request is sent.
	res = New(1, cfg).RunIteration(ctx, rate.Tick{At: time.Now()})
	assert.True(t, res.Interrupted)
}

func TestVirtualUser_SeededMixIsReproducible(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	defs := []workload.Definition{
		{Name: "a", Weight: 0.5, URL: "{{baseUrl}}/a"},
		{Name: "b", Weight: 0.5, URL: "{{baseUrl}}/b"},
	}
	first := New(7, newConfig(t, server.URL, defs))
	second := New(7, newConfig(t, server.URL, defs))

	for i := 0; i < 20; i++ {
		tick := rate.Tick{Seq: int64(i), At: time.Now()}
		a := first.RunIteration(context.Background(), tick)
		b := second.RunIteration(context.Background(), tick)
		require.Equal(t, a.Operation, b.Operation, "iteration %d", i)
	}
}

func TestParseStatusSet(t *testing.T) {
	tests := []struct {
		in      []string
		code    int
		want    bool
		wantErr bool
	}{
		{nil, 200, true, false},
		{nil, 302, true, false},
		{nil, 404, false, false},
		{[]string{"2xx"}, 204, true, false},
		{[]string{"2xx"}, 301, false, false},
		{[]string{"200", "404"}, 404, true, false},
		{[]string{"200-204"}, 205, false, false},
		{[]string{"abc"}, 0, false, true},
		{[]string{"500-400"}, 0, false, true},
		{[]string{"9xx"}, 0, false, true},
	}

	for _, tt := range tests {
		set, err := ParseStatusSet(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseStatusSet(%v) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && set.Contains(tt.code) != tt.want {
			t.Errorf("ParseStatusSet(%v).Contains(%d) = %v, want %v", tt.in, tt.code, !tt.want, tt.want)
		}
	}
}
