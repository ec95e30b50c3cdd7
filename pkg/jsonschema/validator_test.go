package jsonschema

import (
	"errors"
	"strings"
	"testing"
)

const balanceSchema = `{
	"type": "object",
	"required": ["walletId", "balance"],
	"properties": {
		"walletId": {"type": "string", "minLength": 1},
		"balance": {"type": "string", "pattern": "^-?[0-9]+(\\.[0-9]+)?$"}
	}
}`

func TestCompile_InvalidSchema(t *testing.T) {
	if _, err := Compile(`{"type": 12}`); err == nil {
		t.Error("Compile() should reject an invalid schema")
	}
	if _, err := Compile(`not json`); err == nil {
		t.Error("Compile() should reject malformed JSON")
	}
}

func TestSchema_Validate(t *testing.T) {
	schema, err := Compile(balanceSchema)
	if err != nil {
		t.Fatalf("Compile() error = %v", err)
	}

	tests := []struct {
		name      string
		body      string
		wantValid bool
		wantInErr string
	}{
		{"valid", `{"walletId":"w1","balance":"100.50"}`, true, ""},
		{"missing balance", `{"walletId":"w1"}`, false, "balance"},
		{"bad balance format", `{"walletId":"w1","balance":"lots"}`, false, "/balance"},
		{"empty id", `{"walletId":"","balance":"1"}`, false, "/walletId"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := schema.Validate([]byte(tt.body))
			if (err == nil) != tt.wantValid {
				t.Fatalf("Validate() error = %v, wantValid %v", err, tt.wantValid)
			}
			if tt.wantValid {
				return
			}
			var verrs ValidationErrors
			if !errors.As(err, &verrs) || len(verrs) == 0 {
				t.Fatalf("Validate() error = %T, want ValidationErrors", err)
			}
			if !strings.Contains(err.Error(), tt.wantInErr) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.wantInErr)
			}
		})
	}
}

func TestSchema_InvalidJSONBody(t *testing.T) {
	schema, err := Compile(balanceSchema)
	if err != nil {
		t.Fatal(err)
	}
	err = schema.Validate([]byte("{"))
	if err == nil || !strings.Contains(err.Error(), "invalid JSON") {
		t.Errorf("Validate() error = %v, want invalid JSON", err)
	}
	if schema.Valid([]byte("{")) {
		t.Error("Valid() = true for malformed body")
	}
}
