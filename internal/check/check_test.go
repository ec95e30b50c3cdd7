package check

import (
	"net/http"
	"testing"
	"time"

	httpclient "github.com/wesleyorama2/steadyrate/internal/http"
)

func response(status int, body string, headers map[string]string, latency time.Duration) *httpclient.Response {
	h := http.Header{}
	for k, v := range headers {
		h.Set(k, v)
	}
	return &httpclient.Response{
		StatusCode: status,
		Headers:    h,
		Body:       []byte(body),
		Latency:    latency,
	}
}

func TestCompile_Errors(t *testing.T) {
	tests := []struct {
		name string
		def  Definition
	}{
		{"unknown type", Definition{Type: "cookie", Value: "x"}},
		{"unknown condition", Definition{Type: TypeHeader, Path: "X", Condition: "like", Value: "x"}},
		{"status not integer", Definition{Type: TypeStatus, Value: "ok"}},
		{"status contains", Definition{Type: TypeStatus, Condition: CondContains, Value: "2"}},
		{"header without name", Definition{Type: TypeHeader, Value: "x"}},
		{"bad regex", Definition{Type: TypeBody, Condition: CondMatches, Value: "("}},
		{"gt needs number", Definition{Type: TypeJSONPath, Path: "$.a", Condition: CondGt, Value: "abc"}},
		{"bad schema", Definition{Type: TypeJSONSchema, Value: "{"}},
		{"bad duration", Definition{Type: TypeDuration, Condition: CondLt, Value: "soon"}},
		{"body gt", Definition{Type: TypeBody, Condition: CondGt, Value: "1"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Compile(tt.def); err == nil {
				t.Errorf("Compile(%+v) error = nil, want error", tt.def)
			}
		})
	}
}

func TestCheck_Evaluate(t *testing.T) {
	balance := response(200, `{"walletId":"w1","balance":"1200.50","ops":[1,2]}`,
		map[string]string{"Content-Type": "application/json; charset=utf-8"}, 120*time.Millisecond)

	tests := []struct {
		name string
		def  Definition
		resp *httpclient.Response
		want bool
	}{
		{"GET status 200", Definition{Type: TypeStatus, Value: "200"}, balance, true},
		{"status ne", Definition{Type: TypeStatus, Condition: CondNe, Value: "200"}, balance, false},
		{"status lt 400", Definition{Type: TypeStatus, Condition: CondLt, Value: "400"}, balance, true},
		{"status matches 2xx", Definition{Type: TypeStatus, Condition: CondMatches, Value: "^2"}, balance, true},
		{"status on 500", Definition{Type: TypeStatus, Value: "200"}, response(500, "", nil, 0), false},
		{"body contains", Definition{Type: TypeBody, Condition: CondContains, Value: "balance"}, balance, true},
		{"body matches", Definition{Type: TypeBody, Condition: CondMatches, Value: `"walletId":"w\d"`}, balance, true},
		{"header contains", Definition{Type: TypeHeader, Path: "Content-Type", Condition: CondContains, Value: "json"}, balance, true},
		{"header exists", Definition{Type: TypeHeader, Path: "Content-Type", Condition: CondExists}, balance, true},
		{"header absent", Definition{Type: TypeHeader, Path: "X-Trace", Condition: CondExists, Value: "false"}, balance, true},
		{"header missing eq", Definition{Type: TypeHeader, Path: "X-Trace", Value: "1"}, balance, false},
		{"jsonpath eq", Definition{Type: TypeJSONPath, Path: "$.walletId", Value: "w1"}, balance, true},
		{"jsonpath numeric eq", Definition{Type: TypeJSONPath, Path: "$.balance", Value: "1200.5"}, balance, true},
		{"jsonpath gte", Definition{Type: TypeJSONPath, Path: "$.balance", Condition: CondGte, Value: "1000"}, balance, true},
		{"jsonpath lt", Definition{Type: TypeJSONPath, Path: "$.balance", Condition: CondLt, Value: "1000"}, balance, false},
		{"jsonpath exists", Definition{Type: TypeJSONPath, Path: "$.ops[1]", Condition: CondExists}, balance, true},
		{"jsonpath missing", Definition{Type: TypeJSONPath, Path: "$.owner", Condition: CondExists}, balance, false},
		{"jsonpath missing ne", Definition{Type: TypeJSONPath, Path: "$.owner", Condition: CondNe, Value: "x"}, balance, true},
		{"schema", Definition{Type: TypeJSONSchema, Value: `{"type":"object","required":["walletId"]}`}, balance, true},
		{"schema fails", Definition{Type: TypeJSONSchema, Value: `{"type":"object","required":["owner"]}`}, balance, false},
		{"duration lt bare ms", Definition{Type: TypeDuration, Condition: CondLt, Value: "500"}, balance, true},
		{"duration lt go", Definition{Type: TypeDuration, Condition: CondLt, Value: "100ms"}, balance, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := MustCompile(tt.def)
			if got := c.Evaluate(tt.resp); got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCheck_NilResponseFails(t *testing.T) {
	c := MustCompile(Definition{Name: "POST status 200", Type: TypeStatus, Value: "200"})
	if c.Evaluate(nil) {
		t.Error("Evaluate(nil) = true, want false")
	}
}

func TestCompile_DefaultName(t *testing.T) {
	c := MustCompile(Definition{Type: TypeStatus, Value: "200"})
	if c.Name != "status eq 200" {
		t.Errorf("Name = %q, want %q", c.Name, "status eq 200")
	}
	named := MustCompile(Definition{Name: "GET status 200", Type: TypeStatus, Value: "200"})
	if named.Name != "GET status 200" {
		t.Errorf("Name = %q", named.Name)
	}
}
