package workload

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Source yields uniform draws in [0, 1). *math/rand.Rand satisfies it.
type Source interface {
	Float64() float64
}

// Request is one materialized request, ready for the target client.
type Request struct {
	// Variant is the index into Spec.Variants.
	Variant   int
	Operation string
	Method    string
	URL       string
	Headers   map[string]string
	Body      string
	Amount    *decimal.Decimal
}

// Generator turns draws into requests. It holds no mutable state, so one
// Generator may serve every worker as long as each has its own Source.
type Generator struct {
	spec      *Spec
	templates []template
}

type template struct {
	url     string
	headers map[string]string
	body    string
	dynamic bool // contains {{uuid}} or {{amount}}
}

// NewGenerator resolves the static placeholders of every variant once.
//
// vars supplies {{name}} substitutions (baseUrl, entityId and the configured
// variables). {{operation}} resolves to the variant name. {{amount}} and
// {{uuid}} are resolved per request.
func NewGenerator(spec *Spec, vars map[string]string) *Generator {
	g := &Generator{
		spec:      spec,
		templates: make([]template, len(spec.Variants)),
	}

	for i, v := range spec.Variants {
		pairs := make([]string, 0, 2*len(vars)+2)
		for k, val := range vars {
			pairs = append(pairs, "{{"+k+"}}", val)
		}
		pairs = append(pairs, "{{operation}}", v.Name)
		r := strings.NewReplacer(pairs...)

		t := template{
			url:  r.Replace(v.URL),
			body: r.Replace(v.Body),
		}
		if len(v.Headers) > 0 {
			t.headers = make(map[string]string, len(v.Headers))
			for k, val := range v.Headers {
				t.headers[k] = r.Replace(val)
			}
		}
		t.dynamic = hasDynamic(t.url) || hasDynamic(t.body)
		for _, val := range t.headers {
			t.dynamic = t.dynamic || hasDynamic(val)
		}
		g.templates[i] = t
	}
	return g
}

func hasDynamic(s string) bool {
	return strings.Contains(s, "{{uuid}}") || strings.Contains(s, "{{amount}}")
}

// Spec returns the compiled workload.
func (g *Generator) Spec() *Spec {
	return g.spec
}

// Next draws one variant and materializes its request.
//
// Exactly one draw selects the variant; a second draw is taken only when
// the variant has a ranged amount.
func (g *Generator) Next(src Source) Request {
	idx := g.spec.Select(src.Float64())
	v := &g.spec.Variants[idx]
	t := &g.templates[idx]

	req := Request{
		Variant:   idx,
		Operation: v.Name,
		Method:    v.Method,
		URL:       t.url,
		Headers:   t.headers,
		Body:      t.body,
	}

	var amountText string
	if v.Amount != nil {
		amount, text := v.Amount.materialize(src)
		req.Amount = &amount
		amountText = text
	}

	if t.dynamic {
		pairs := []string{"{{amount}}", amountText}
		if strings.Contains(t.url, "{{uuid}}") || strings.Contains(t.body, "{{uuid}}") || headersContain(t.headers, "{{uuid}}") {
			pairs = append(pairs, "{{uuid}}", uuid.NewString())
		}
		r := strings.NewReplacer(pairs...)
		req.URL = r.Replace(req.URL)
		req.Body = r.Replace(req.Body)
		if len(t.headers) > 0 {
			req.Headers = make(map[string]string, len(t.headers))
			for k, val := range t.headers {
				req.Headers[k] = r.Replace(val)
			}
		}
	}

	return req
}

func headersContain(headers map[string]string, s string) bool {
	for _, v := range headers {
		if strings.Contains(v, s) {
			return true
		}
	}
	return false
}

// materialize returns the amount and its textual form.
func (a *Amount) materialize(src Source) (decimal.Decimal, string) {
	if a.Value != nil {
		return *a.Value, formatFixed(*a.Value)
	}

	draw := decimal.NewFromFloat(src.Float64())
	v := a.Min.Add(a.Max.Sub(a.Min).Mul(draw)).Truncate(a.Scale)
	if v.LessThan(a.Min) {
		v = a.Min
	}
	return v, v.StringFixed(a.Scale)
}

// formatFixed keeps the scale the amount was written with ("12.50").
func formatFixed(d decimal.Decimal) string {
	if exp := d.Exponent(); exp < 0 {
		return d.StringFixed(-exp)
	}
	return d.String()
}
