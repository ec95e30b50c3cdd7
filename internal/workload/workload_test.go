package workload

import (
	"math"
	"math/rand"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// walletMix is the 50% balance / 50% mutation (70/30 deposit/withdraw) mix.
func walletMix() []Definition {
	hundred := decimal.NewFromInt(100)
	return []Definition{
		{
			Name:   "balance",
			Weight: 0.5,
			Method: "GET",
			URL:    "{{baseUrl}}/api/v1/wallets/{{entityId}}",
		},
		{
			Name:    "mutation",
			Weight:  0.5,
			Method:  "POST",
			URL:     "{{baseUrl}}/api/v1/wallet",
			Headers: map[string]string{"Content-Type": "application/json"},
			Amount:  &Amount{Value: &hundred},
			Children: []Definition{
				{Name: "deposit", Weight: 0.7, Body: `{"walletId":"{{entityId}}","operationType":"DEPOSIT","amount":{{amount}}}`},
				{Name: "withdraw", Weight: 0.3, Body: `{"walletId":"{{entityId}}","operationType":"WITHDRAW","amount":{{amount}}}`},
			},
		},
	}
}

type fixedSource []float64

func (f *fixedSource) Float64() float64 {
	v := (*f)[0]
	*f = (*f)[1:]
	return v
}

func TestCompile_FlattensNestedGroups(t *testing.T) {
	spec, err := Compile(walletMix())
	require.NoError(t, err)
	require.Len(t, spec.Variants, 3)

	probs := spec.Probabilities()
	assert.InDelta(t, 0.5, probs["balance"], 1e-12)
	assert.InDelta(t, 0.35, probs["deposit"], 1e-12)
	assert.InDelta(t, 0.15, probs["withdraw"], 1e-12)

	deposit := spec.Variants[1]
	assert.Equal(t, "POST", deposit.Method, "children inherit the group method")
	assert.Equal(t, "{{baseUrl}}/api/v1/wallet", deposit.URL)
	assert.Equal(t, "application/json", deposit.Headers["Content-Type"])
	assert.NotNil(t, deposit.Amount)
}

func TestCompile_Validation(t *testing.T) {
	tests := []struct {
		name    string
		defs    []Definition
		wantErr string
	}{
		{
			name:    "empty",
			defs:    nil,
			wantErr: "at least one variant",
		},
		{
			name: "weights do not sum to one",
			defs: []Definition{
				{Name: "a", Weight: 0.5, URL: "/a"},
				{Name: "b", Weight: 0.4, URL: "/b"},
			},
			wantErr: "must sum to 1.0",
		},
		{
			name: "negative weight",
			defs: []Definition{
				{Name: "a", Weight: 1.5, URL: "/a"},
				{Name: "b", Weight: -0.5, URL: "/b"},
			},
			wantErr: "must not be negative",
		},
		{
			name: "group weights checked",
			defs: []Definition{
				{Name: "g", Weight: 1, URL: "/g", Children: []Definition{
					{Name: "x", Weight: 0.6},
					{Name: "y", Weight: 0.6},
				}},
			},
			wantErr: `group "g"`,
		},
		{
			name: "missing url",
			defs: []Definition{
				{Name: "a", Weight: 1},
			},
			wantErr: "url is required",
		},
		{
			name: "duplicate names",
			defs: []Definition{
				{Name: "a", Weight: 0.5, URL: "/a"},
				{Name: "g", Weight: 0.5, URL: "/g", Children: []Definition{
					{Name: "a", Weight: 1},
				}},
			},
			wantErr: "duplicate variant name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(tt.defs)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCompile_DropsZeroWeightVariants(t *testing.T) {
	spec, err := Compile([]Definition{
		{Name: "never", Weight: 0, URL: "/never"},
		{Name: "always", Weight: 1, URL: "/always"},
	})
	require.NoError(t, err)
	require.Len(t, spec.Variants, 1)

	for _, draw := range []float64{0, 0.25, 0.999999, 1} {
		assert.Equal(t, "always", spec.Variants[spec.Select(draw)].Name)
	}
}

func TestSpec_SelectBoundaryGoesToLowerIndex(t *testing.T) {
	spec, err := Compile([]Definition{
		{Name: "a", Weight: 0.5, URL: "/a"},
		{Name: "b", Weight: 0.5, URL: "/b"},
	})
	require.NoError(t, err)

	assert.Equal(t, 0, spec.Select(0))
	assert.Equal(t, 0, spec.Select(0.5), "draw on the boundary belongs to the lower range")
	assert.Equal(t, 1, spec.Select(math.Nextafter(0.5, 1)))
	assert.Equal(t, 1, spec.Select(1))
}

func TestGenerator_MixConvergesToWeights(t *testing.T) {
	spec, err := Compile([]Definition{
		{Name: "a", Weight: 0.5, URL: "/a"},
		{Name: "b", Weight: 0.5, URL: "/b"},
	})
	require.NoError(t, err)
	gen := NewGenerator(spec, nil)

	src := rand.New(rand.NewSource(42))
	counts := map[string]int{}
	const draws = 10000
	for i := 0; i < draws; i++ {
		counts[gen.Next(src).Operation]++
	}

	for _, name := range []string{"a", "b"} {
		share := float64(counts[name]) / draws
		assert.InDelta(t, 0.5, share, 0.02, "share of %s", name)
	}
}

func TestGenerator_WalletMixShares(t *testing.T) {
	spec, err := Compile(walletMix())
	require.NoError(t, err)
	gen := NewGenerator(spec, map[string]string{"baseUrl": "http://x", "entityId": "w1"})

	src := rand.New(rand.NewSource(7))
	counts := map[string]int{}
	const draws = 20000
	for i := 0; i < draws; i++ {
		counts[gen.Next(src).Operation]++
	}

	assert.InDelta(t, 0.50, float64(counts["balance"])/draws, 0.02)
	assert.InDelta(t, 0.35, float64(counts["deposit"])/draws, 0.02)
	assert.InDelta(t, 0.15, float64(counts["withdraw"])/draws, 0.02)
}

func TestGenerator_DeterministicForSameSeed(t *testing.T) {
	spec, err := Compile(walletMix())
	require.NoError(t, err)
	gen := NewGenerator(spec, map[string]string{"baseUrl": "http://x", "entityId": "w1"})

	a := rand.New(rand.NewSource(99))
	b := rand.New(rand.NewSource(99))
	for i := 0; i < 500; i++ {
		ra, rb := gen.Next(a), gen.Next(b)
		require.Equal(t, ra.Operation, rb.Operation, "request %d", i)
		require.Equal(t, ra.Body, rb.Body, "request %d", i)
	}
}

func TestGenerator_ResolvesPlaceholders(t *testing.T) {
	spec, err := Compile(walletMix())
	require.NoError(t, err)
	gen := NewGenerator(spec, map[string]string{
		"baseUrl":  "http://localhost:8080",
		"entityId": "c9c5c5e0-7b3a-4e3a-9b3d-3d9b2e3d3d9b",
	})

	// 0.6 lands in deposit's range (0.5, 0.85].
	src := fixedSource{0.6}
	req := gen.Next(&src)

	assert.Equal(t, "deposit", req.Operation)
	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "http://localhost:8080/api/v1/wallet", req.URL)
	assert.Equal(t, `{"walletId":"c9c5c5e0-7b3a-4e3a-9b3d-3d9b2e3d3d9b","operationType":"DEPOSIT","amount":100}`, req.Body)
	require.NotNil(t, req.Amount)
	assert.True(t, req.Amount.Equal(decimal.NewFromInt(100)))
	assert.Empty(t, src, "fixed amount must not consume a draw")

	src = fixedSource{0.1}
	req = gen.Next(&src)
	assert.Equal(t, "balance", req.Operation)
	assert.Equal(t, "http://localhost:8080/api/v1/wallets/c9c5c5e0-7b3a-4e3a-9b3d-3d9b2e3d3d9b", req.URL)
	assert.Empty(t, req.Body)
}

func TestGenerator_RangedAmountUsesSecondDraw(t *testing.T) {
	spec, err := Compile([]Definition{{
		Name:   "deposit",
		Weight: 1,
		Method: "POST",
		URL:    "/wallet",
		Body:   `{"amount":{{amount}}}`,
		Amount: &Amount{Min: decimal.NewFromInt(10), Max: decimal.NewFromInt(20), Scale: 2},
	}})
	require.NoError(t, err)
	gen := NewGenerator(spec, nil)

	src := fixedSource{0.3, 0.25}
	req := gen.Next(&src)

	assert.Empty(t, src)
	assert.Equal(t, `{"amount":12.50}`, req.Body)
	assert.Equal(t, "12.5", req.Amount.String())

	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 1000; i++ {
		r := gen.Next(rng)
		assert.True(t, r.Amount.GreaterThanOrEqual(decimal.NewFromInt(10)))
		assert.True(t, r.Amount.LessThanOrEqual(decimal.NewFromInt(20)))
	}
}

func TestGenerator_FixedAmountKeepsScale(t *testing.T) {
	v := decimal.RequireFromString("12.50")
	spec, err := Compile([]Definition{{
		Name: "deposit", Weight: 1, URL: "/w?amount={{amount}}",
		Amount: &Amount{Value: &v},
	}})
	require.NoError(t, err)

	src := fixedSource{0.5}
	req := NewGenerator(spec, nil).Next(&src)
	assert.Equal(t, "/w?amount=12.50", req.URL)
}

func TestGenerator_FreshUUIDPerRequest(t *testing.T) {
	spec, err := Compile([]Definition{{
		Name:    "create",
		Weight:  1,
		Method:  "POST",
		URL:     "/wallets/{{uuid}}",
		Headers: map[string]string{"Idempotency-Key": "{{uuid}}"},
		Body:    `{"op":"{{operation}}","user":"{{user}}"}`,
	}})
	require.NoError(t, err)
	gen := NewGenerator(spec, map[string]string{"user": "alice"})

	rng := rand.New(rand.NewSource(3))
	first := gen.Next(rng)
	second := gen.Next(rng)

	id := strings.TrimPrefix(first.URL, "/wallets/")
	_, err = uuid.Parse(id)
	require.NoError(t, err)
	assert.Equal(t, id, first.Headers["Idempotency-Key"], "one uuid per request")
	assert.NotEqual(t, first.URL, second.URL)
	assert.Equal(t, `{"op":"create","user":"alice"}`, first.Body)
}
