// Package workload compiles the weighted operation mix and turns random
// draws into concrete requests.
package workload

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/wesleyorama2/steadyrate/internal/check"
)

// weightTolerance is the slack allowed when weights at one level are summed.
const weightTolerance = 1e-6

// Definition is one entry of the workload mix as configured.
//
// A Definition with Children is a group: its Weight is split among the
// children, which inherit any request field they leave empty.
type Definition struct {
	Name     string
	Weight   float64
	Method   string
	URL      string
	Headers  map[string]string
	Body     string
	Amount   *Amount
	Checks   []*check.Check
	Children []Definition
}

// Amount describes the decimal amount substituted for {{amount}}.
//
// Either Value is set (fixed amount) or Min/Max describe a uniform range
// rounded to Scale fractional digits.
type Amount struct {
	Value *decimal.Decimal
	Min   decimal.Decimal
	Max   decimal.Decimal
	Scale int32
}

// Ranged reports whether the amount needs a random draw.
func (a *Amount) Ranged() bool {
	return a != nil && a.Value == nil
}

// Variant is one leaf of the flattened mix.
type Variant struct {
	Name        string
	Probability float64
	Method      string
	URL         string
	Headers     map[string]string
	Body        string
	Amount      *Amount
	Checks      []*check.Check
}

// Spec is the compiled, read-only workload. Safe for concurrent use.
type Spec struct {
	Variants []Variant

	// cumulative[i] is the inclusive upper bound of variant i's draw range.
	cumulative []float64
}

// Compile validates the weights at every level and flattens groups into a
// single list of leaf variants with absolute probabilities.
func Compile(defs []Definition) (*Spec, error) {
	if len(defs) == 0 {
		return nil, errors.New("workload must contain at least one variant")
	}

	var variants []Variant
	if err := flatten(defs, 1.0, Variant{}, "", &variants); err != nil {
		return nil, err
	}
	if len(variants) == 0 {
		return nil, errors.New("workload has no variant with a positive weight")
	}

	seen := make(map[string]bool, len(variants))
	for _, v := range variants {
		if seen[v.Name] {
			return nil, fmt.Errorf("duplicate variant name %q", v.Name)
		}
		seen[v.Name] = true
	}

	spec := &Spec{
		Variants:   variants,
		cumulative: make([]float64, len(variants)),
	}
	sum := 0.0
	for i, v := range variants {
		sum += v.Probability
		spec.cumulative[i] = sum
	}
	// Pin the last bound so a draw of 1.0 (or float noise) always lands.
	spec.cumulative[len(variants)-1] = 1.0

	return spec, nil
}

func flatten(defs []Definition, scale float64, parent Variant, path string, out *[]Variant) error {
	total := 0.0
	for _, d := range defs {
		name := d.Name
		if path != "" {
			name = path + "." + d.Name
		}
		if d.Name == "" {
			return fmt.Errorf("variant under %q has no name", path)
		}
		if d.Weight < 0 || math.IsNaN(d.Weight) {
			return fmt.Errorf("variant %q: weight must not be negative", name)
		}
		total += d.Weight
	}
	if math.Abs(total-1.0) > weightTolerance {
		where := "workload"
		if path != "" {
			where = fmt.Sprintf("group %q", path)
		}
		return fmt.Errorf("%s: weights sum to %g, must sum to 1.0", where, total)
	}

	for _, d := range defs {
		if d.Weight == 0 {
			continue
		}
		v := inherit(parent, d)
		v.Probability = scale * d.Weight

		if len(d.Children) > 0 {
			label := d.Name
			if path != "" {
				label = path + "." + d.Name
			}
			if err := flatten(d.Children, v.Probability, v, label, out); err != nil {
				return err
			}
			continue
		}

		if v.Method == "" {
			v.Method = "GET"
		}
		if v.URL == "" {
			return fmt.Errorf("variant %q: url is required", d.Name)
		}
		*out = append(*out, v)
	}
	return nil
}

// inherit fills the child's empty fields from its group.
func inherit(parent Variant, d Definition) Variant {
	v := Variant{
		Name:   d.Name,
		Method: strings.ToUpper(d.Method),
		URL:    d.URL,
		Body:   d.Body,
		Amount: d.Amount,
	}
	if v.Method == "" {
		v.Method = parent.Method
	}
	if v.URL == "" {
		v.URL = parent.URL
	}
	if v.Body == "" {
		v.Body = parent.Body
	}
	if v.Amount == nil {
		v.Amount = parent.Amount
	}

	if len(parent.Headers)+len(d.Headers) > 0 {
		v.Headers = make(map[string]string, len(parent.Headers)+len(d.Headers))
		for k, val := range parent.Headers {
			v.Headers[k] = val
		}
		for k, val := range d.Headers {
			v.Headers[k] = val
		}
	}

	v.Checks = append(append([]*check.Check(nil), parent.Checks...), d.Checks...)
	return v
}

// Select maps a draw in [0, 1] to a variant index.
//
// Variant i owns (c[i-1], c[i]] and the first owns [0, c[0]], so a draw
// exactly on a boundary falls into the lower-indexed range.
func (s *Spec) Select(draw float64) int {
	i := sort.SearchFloat64s(s.cumulative, draw)
	if i >= len(s.cumulative) {
		i = len(s.cumulative) - 1
	}
	return i
}

// Probabilities returns the flattened probability of every variant by name.
func (s *Spec) Probabilities() map[string]float64 {
	out := make(map[string]float64, len(s.Variants))
	for _, v := range s.Variants {
		out[v.Name] = v.Probability
	}
	return out
}
