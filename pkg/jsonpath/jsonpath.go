// Package jsonpath evaluates a JSONPath subset ($.a.b[0].c) against JSON
// documents using gjson.
package jsonpath

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// Path is a compiled JSONPath expression. Safe for concurrent use.
type Path struct {
	raw   string
	gpath string
}

// Compile converts a JSONPath expression to its gjson form.
func Compile(path string) (Path, error) {
	if strings.TrimSpace(path) == "" {
		return Path{}, errors.New("empty JSONPath expression")
	}
	return Path{raw: path, gpath: convertToGjsonPath(path)}, nil
}

// MustCompile is like Compile but panics on error.
func MustCompile(path string) Path {
	p, err := Compile(path)
	if err != nil {
		panic(err)
	}
	return p
}

// String returns the original expression.
func (p Path) String() string {
	return p.raw
}

// Lookup returns the value at the path. Strings are returned unquoted,
// null as "null", objects and arrays as raw JSON.
func (p Path) Lookup(body []byte) (string, bool) {
	if len(body) == 0 {
		return "", false
	}
	result := gjson.GetBytes(body, p.gpath)
	if !result.Exists() {
		return "", false
	}
	if result.Type == gjson.Null {
		return "null", true
	}
	return result.String(), true
}

// Exists reports whether the path resolves to a value (null included).
func (p Path) Exists(body []byte) bool {
	_, ok := p.Lookup(body)
	return ok
}

// Extract is a one-shot Compile + Lookup.
func Extract(body []byte, path string) (string, bool) {
	p, err := Compile(path)
	if err != nil {
		return "", false
	}
	return p.Lookup(body)
}

// convertToGjsonPath converts $.users[0]['name'] to users.0.name.
func convertToGjsonPath(path string) string {
	path = strings.TrimPrefix(strings.TrimSpace(path), "$")
	path = strings.TrimPrefix(path, ".")
	if path == "" {
		return "@this"
	}

	var b strings.Builder
	for i := 0; i < len(path); i++ {
		switch c := path[i]; c {
		case '[':
			end := strings.IndexByte(path[i:], ']')
			if end < 0 {
				b.WriteString(path[i:])
				return b.String()
			}
			key := strings.Trim(path[i+1:i+end], `'"`)
			if b.Len() > 0 {
				b.WriteByte('.')
			}
			b.WriteString(key)
			i += end
		case '.':
			if b.Len() > 0 {
				b.WriteByte('.')
			}
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}
