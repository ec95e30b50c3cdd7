package vu

import (
	"fmt"
	"strconv"
	"strings"
)

// StatusRange is an inclusive range of HTTP status codes.
type StatusRange struct {
	Min int
	Max int
}

// StatusSet is the set of status codes that count as success.
type StatusSet []StatusRange

// DefaultStatusSet accepts 2xx and 3xx.
func DefaultStatusSet() StatusSet {
	return StatusSet{{Min: 200, Max: 399}}
}

// ParseStatusSet parses entries like "200", "201-204" or "2xx".
func ParseStatusSet(entries []string) (StatusSet, error) {
	if len(entries) == 0 {
		return DefaultStatusSet(), nil
	}

	set := make(StatusSet, 0, len(entries))
	for _, entry := range entries {
		r, err := parseStatusRange(strings.TrimSpace(entry))
		if err != nil {
			return nil, err
		}
		set = append(set, r)
	}
	return set, nil
}

func parseStatusRange(s string) (StatusRange, error) {
	if len(s) == 3 && strings.HasSuffix(strings.ToLower(s), "xx") {
		class, err := strconv.Atoi(s[:1])
		if err != nil || class < 1 || class > 5 {
			return StatusRange{}, fmt.Errorf("invalid status class %q", s)
		}
		return StatusRange{Min: class * 100, Max: class*100 + 99}, nil
	}

	lo, hi, isRange := strings.Cut(s, "-")
	from, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return StatusRange{}, fmt.Errorf("invalid status %q", s)
	}
	to := from
	if isRange {
		if to, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
			return StatusRange{}, fmt.Errorf("invalid status range %q", s)
		}
	}
	if from < 100 || to > 599 || from > to {
		return StatusRange{}, fmt.Errorf("status range %q out of bounds", s)
	}
	return StatusRange{Min: from, Max: to}, nil
}

// Contains reports whether code is expected.
func (s StatusSet) Contains(code int) bool {
	for _, r := range s {
		if code >= r.Min && code <= r.Max {
			return true
		}
	}
	return false
}

func (s StatusSet) String() string {
	parts := make([]string, len(s))
	for i, r := range s {
		if r.Min == r.Max {
			parts[i] = strconv.Itoa(r.Min)
		} else {
			parts[i] = fmt.Sprintf("%d-%d", r.Min, r.Max)
		}
	}
	return strings.Join(parts, ",")
}
