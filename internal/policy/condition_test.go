package policy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCondition(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		wantNil bool
	}{
		{name: "empty raw means unconditional", raw: "", wantNil: true},
		{name: "null raw means unconditional", raw: "null", wantNil: true},
		{name: "simple eq", raw: `{"attr":"principal.role","op":"eq","value":"doctor"}`},
		{name: "in with values", raw: `{"attr":"resource.encounter","op":"in","values":["open","closed"]}`},
		{name: "nested all", raw: `{"all":[{"attr":"same_service","op":"eq","value":"true"},{"attr":"env.work_hours","op":"eq","value":"true"}]}`},
		{name: "not", raw: `{"not":{"attr":"principal.on_duty","op":"eq","value":"false"}}`},
		{name: "unknown op", raw: `{"attr":"x","op":"matches","value":"y"}`, wantErr: true},
		{name: "in without values", raw: `{"attr":"x","op":"in"}`, wantErr: true},
		{name: "empty object", raw: `{}`, wantErr: true},
		{name: "both leaf and all", raw: `{"attr":"x","op":"eq","all":[{"attr":"y","op":"eq"}]}`, wantErr: true},
		{name: "invalid json", raw: `{`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := ParseCondition(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			if tt.wantNil {
				assert.Nil(t, cond)
			} else {
				assert.NotNil(t, cond)
			}
		})
	}
}

func TestConditionEval(t *testing.T) {
	attrs := map[string]string{
		"principal.role":     "doctor",
		"principal.on_duty":  "true",
		"resource.encounter": "open",
		"env.hour":           "14",
		"same_service":       "false",
	}

	tests := []struct {
		name string
		raw  string
		want bool
	}{
		{"eq match", `{"attr":"principal.role","op":"eq","value":"doctor"}`, true},
		{"eq mismatch", `{"attr":"principal.role","op":"eq","value":"nurse"}`, false},
		{"ne", `{"attr":"principal.role","op":"ne","value":"nurse"}`, true},
		{"in hit", `{"attr":"resource.encounter","op":"in","values":["open","pending"]}`, true},
		{"in miss", `{"attr":"resource.encounter","op":"in","values":["closed"]}`, false},
		{"gt numeric", `{"attr":"env.hour","op":"gt","value":"9"}`, true},
		{"lt numeric", `{"attr":"env.hour","op":"lt","value":"9"}`, false},
		{"contains", `{"attr":"principal.role","op":"contains","value":"doc"}`, true},
		{"all true", `{"all":[{"attr":"principal.role","op":"eq","value":"doctor"},{"attr":"principal.on_duty","op":"eq","value":"true"}]}`, true},
		{"all one false", `{"all":[{"attr":"principal.role","op":"eq","value":"doctor"},{"attr":"same_service","op":"eq","value":"true"}]}`, false},
		{"any", `{"any":[{"attr":"same_service","op":"eq","value":"true"},{"attr":"principal.on_duty","op":"eq","value":"true"}]}`, true},
		{"not", `{"not":{"attr":"same_service","op":"eq","value":"true"}}`, true},
		{"unknown attr compares empty", `{"attr":"does.not.exist","op":"eq","value":""}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cond, err := ParseCondition(json.RawMessage(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, cond.Eval(attrs))
		})
	}
}

func TestCompareNumericFallsBackToLexicographic(t *testing.T) {
	assert.Equal(t, 1, compareNumeric("10", "9"))
	assert.Equal(t, -1, compareNumeric("abc", "abd"))
	assert.Equal(t, 0, compareNumeric("3.0", "3"))
}
