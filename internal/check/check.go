// Package check implements named per-response assertions.
package check

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/steadyrate/internal/http"
	"github.com/wesleyorama2/steadyrate/pkg/jsonpath"
	"github.com/wesleyorama2/steadyrate/pkg/jsonschema"
)

// Type identifies what part of a response a check inspects.
type Type string

const (
	TypeStatus     Type = "status"
	TypeBody       Type = "body"
	TypeHeader     Type = "header"
	TypeJSONPath   Type = "jsonpath"
	TypeJSONSchema Type = "jsonschema"
	TypeDuration   Type = "duration"
)

// Condition is the comparison applied to the inspected value.
type Condition string

const (
	CondEq       Condition = "eq"
	CondNe       Condition = "ne"
	CondGt       Condition = "gt"
	CondLt       Condition = "lt"
	CondGte      Condition = "gte"
	CondLte      Condition = "lte"
	CondContains Condition = "contains"
	CondMatches  Condition = "matches"
	CondExists   Condition = "exists"
)

// Definition is the configured form of a check.
type Definition struct {
	Name      string
	Type      Type
	Condition Condition
	Path      string
	Value     string
}

// Check is a compiled assertion. Safe for concurrent use.
type Check struct {
	Name      string
	Type      Type
	Condition Condition
	Path      string
	Value     string

	number   float64
	duration time.Duration
	pattern  *regexp.Regexp
	jsonPath jsonpath.Path
	schema   *jsonschema.Schema
}

// Compile validates a definition and precompiles regexes, paths and schemas.
func Compile(def Definition) (*Check, error) {
	c := &Check{
		Name:      def.Name,
		Type:      def.Type,
		Condition: def.Condition,
		Path:      def.Path,
		Value:     def.Value,
	}
	if c.Condition == "" {
		c.Condition = CondEq
	}
	if c.Name == "" {
		c.Name = defaultName(c)
	}

	switch c.Type {
	case TypeStatus:
		if !c.Condition.numeric() && c.Condition != CondMatches {
			return nil, fmt.Errorf("check %q: condition %s not supported for status", c.Name, c.Condition)
		}
	case TypeBody:
		switch c.Condition {
		case CondEq, CondNe, CondContains, CondMatches:
		default:
			return nil, fmt.Errorf("check %q: condition %s not supported for body", c.Name, c.Condition)
		}
	case TypeHeader:
		if c.Path == "" {
			return nil, fmt.Errorf("check %q: header name (path) is required", c.Name)
		}
	case TypeJSONPath:
		p, err := jsonpath.Compile(c.Path)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", c.Name, err)
		}
		c.jsonPath = p
	case TypeJSONSchema:
		s, err := jsonschema.Compile(c.Value)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", c.Name, err)
		}
		c.schema = s
		return c, nil
	case TypeDuration:
		d, err := parseDuration(c.Value)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", c.Name, err)
		}
		if !c.Condition.numeric() {
			return nil, fmt.Errorf("check %q: condition %s not supported for duration", c.Name, c.Condition)
		}
		c.duration = d
		return c, nil
	default:
		return nil, fmt.Errorf("check %q: unknown type %q", c.Name, c.Type)
	}

	switch c.Condition {
	case CondMatches:
		re, err := regexp.Compile(c.Value)
		if err != nil {
			return nil, fmt.Errorf("check %q: invalid pattern: %w", c.Name, err)
		}
		c.pattern = re
	case CondGt, CondLt, CondGte, CondLte:
		n, err := strconv.ParseFloat(c.Value, 64)
		if err != nil {
			return nil, fmt.Errorf("check %q: %s needs a number, got %q", c.Name, c.Condition, c.Value)
		}
		c.number = n
	case CondEq, CondNe, CondContains, CondExists:
		if c.Type == TypeStatus {
			if _, err := strconv.Atoi(c.Value); err != nil {
				return nil, fmt.Errorf("check %q: status must be an integer, got %q", c.Name, c.Value)
			}
		}
	default:
		return nil, fmt.Errorf("check %q: unknown condition %q", c.Name, c.Condition)
	}

	return c, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(def Definition) *Check {
	c, err := Compile(def)
	if err != nil {
		panic(err)
	}
	return c
}

func (c Condition) numeric() bool {
	switch c {
	case CondEq, CondNe, CondGt, CondLt, CondGte, CondLte:
		return true
	}
	return false
}

func defaultName(c *Check) string {
	switch c.Type {
	case TypeStatus:
		return fmt.Sprintf("status %s %s", c.Condition, c.Value)
	case TypeHeader, TypeJSONPath:
		return fmt.Sprintf("%s %s %s %s", c.Type, c.Path, c.Condition, c.Value)
	default:
		return fmt.Sprintf("%s %s %s", c.Type, c.Condition, c.Value)
	}
}

// parseDuration accepts Go durations or bare milliseconds.
func parseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if ms, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(ms * float64(time.Millisecond)), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return d, nil
}

// Evaluate applies the check to a response.
func (c *Check) Evaluate(resp *http.Response) bool {
	if resp == nil {
		return false
	}

	switch c.Type {
	case TypeStatus:
		if c.Condition == CondMatches {
			return c.pattern.MatchString(strconv.Itoa(resp.StatusCode))
		}
		return c.compareNumber(float64(resp.StatusCode), c.Value)
	case TypeBody:
		return c.compareString(resp.BodyString(), false)
	case TypeHeader:
		values := resp.Headers.Values(c.Path)
		if c.Condition == CondExists {
			return c.expectExists(len(values) > 0)
		}
		if len(values) == 0 {
			return c.Condition == CondNe
		}
		return c.compareString(values[0], true)
	case TypeJSONPath:
		value, ok := c.jsonPath.Lookup(resp.Body)
		if c.Condition == CondExists {
			return c.expectExists(ok)
		}
		if !ok {
			return c.Condition == CondNe
		}
		return c.compareString(value, true)
	case TypeJSONSchema:
		return c.schema.Valid(resp.Body)
	case TypeDuration:
		return compareOrdered(resp.Latency, c.duration, c.Condition)
	}
	return false
}

// expectExists handles "exists" with an optional "false" value.
func (c *Check) expectExists(present bool) bool {
	want := true
	if v, err := strconv.ParseBool(c.Value); err == nil {
		want = v
	}
	return present == want
}

func (c *Check) compareString(actual string, numericIfPossible bool) bool {
	switch c.Condition {
	case CondContains:
		return strings.Contains(actual, c.Value)
	case CondMatches:
		return c.pattern.MatchString(actual)
	case CondEq:
		if numericIfPossible && numbersEqual(actual, c.Value) {
			return true
		}
		return actual == c.Value
	case CondNe:
		if numericIfPossible && numbersEqual(actual, c.Value) {
			return false
		}
		return actual != c.Value
	case CondGt, CondLt, CondGte, CondLte:
		n, err := strconv.ParseFloat(actual, 64)
		if err != nil {
			return false
		}
		return compareOrdered(n, c.number, c.Condition)
	case CondExists:
		return true
	}
	return false
}

func (c *Check) compareNumber(actual float64, expected string) bool {
	want, err := strconv.ParseFloat(expected, 64)
	if err != nil {
		return false
	}
	return compareOrdered(actual, want, c.Condition)
}

// numbersEqual treats "100" and "100.00" as equal.
func numbersEqual(a, b string) bool {
	x, errA := strconv.ParseFloat(a, 64)
	y, errB := strconv.ParseFloat(b, 64)
	return errA == nil && errB == nil && x == y
}

func compareOrdered[T ~int64 | ~float64](actual, want T, cond Condition) bool {
	switch cond {
	case CondEq:
		return actual == want
	case CondNe:
		return actual != want
	case CondGt:
		return actual > want
	case CondLt:
		return actual < want
	case CondGte:
		return actual >= want
	case CondLte:
		return actual <= want
	}
	return false
}
