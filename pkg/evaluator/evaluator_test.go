package evaluator

import (
	"testing"
)

func TestValidateWhitelist(t *testing.T) {
	e := New(nil)

	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"empty", "", false},
		{"equality on answers.get", "answers.get('q_cat') == 'other'", false},
		{"default argument", "answers.get('q_num', 0) > 5", false},
		{"boolean keywords", "answers.get('a') == 'x' and not (answers.get('b') == 'y')", false},
		{"membership", "answers.get('color') in ['red', 'green']", false},
		{"arithmetic", "int(answers.get('a', 0)) + 2 * 3 % 4 >= 1", false},
		{"python literals", "True", false},
		{"str cast", "str(answers.get('n')) == '42'", false},
		{"len builtin", "len(answers.get('tags', [])) > 0", false},
		{"direct data access", "data.priority == 'high'", false},
		{"syntax error", "answers.get(", true},
		{"disallowed builtin", "now() > 1", true},
		{"disallowed member", "answers.get('a').foo == 1", true},
		{"environment access", "env.SECRET == 'x'", true},
		{"lambda", "all([1,2], {# > 0})", true},
		{"ternary", "answers.get('a') ? 1 : 2", true},
		{"map literal", "{'a': 1}", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Validate(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate(%q) error = %v, wantErr %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}

func TestEvalBool(t *testing.T) {
	e := New(nil)
	answers := map[string]any{
		"q_cat":    "other",
		"q_num":    float64(7),
		"priority": "high",
		"flag":     true,
	}

	tests := []struct {
		name string
		expr string
		want bool
	}{
		{"empty is true", "", true},
		{"match", "answers.get('q_cat') == 'other'", true},
		{"no match", "answers.get('q_cat') == 'main'", false},
		{"missing key with default", "answers.get('absent', 'fallback') == 'fallback'", true},
		{"missing key is nil", "answers.get('absent') == 'x'", false},
		{"numeric comparison", "answers.get('q_num') > 5", true},
		{"python True literal", "True", true},
		{"boolean answer", "answers.get('flag')", true},
		{"and short circuit", "answers.get('q_cat') == 'other' and answers.get('q_num') > 5", true},
		{"or", "answers.get('q_cat') == 'main' or answers.get('priority') == 'high'", true},
		{"in operator", "answers.get('priority') in ['high', 'critical']", true},
		{"data alias", "data.priority == 'high'", true},
		{"runtime type error is false", "answers.get('q_cat') + 1 > 2", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.EvalBool(tt.expr, answers); got != tt.want {
				t.Errorf("EvalBool(%q) = %v, want %v", tt.expr, got, tt.want)
			}
		})
	}
}

func TestEvalCalculated(t *testing.T) {
	e := New(nil)
	answers := map[string]any{"a": float64(3), "b": float64(4)}

	out, err := e.Eval("int(answers.get('a', 0)) * int(answers.get('b', 0))", answers)
	if err != nil {
		t.Fatalf("Eval returned error: %v", err)
	}
	n, ok := ToInt64(out)
	if !ok || n != 12 {
		t.Errorf("expected 12, got %v", out)
	}
}

func TestFlatten(t *testing.T) {
	data := map[string]any{
		"sec_a": map[string]any{"q1": "x", "q2": float64(2)},
		"sec_rep": []any{
			map[string]any{"q3": "first"},
			map[string]any{"q3": "second", "q4": true},
		},
	}

	flat := Flatten(data)
	if flat["q1"] != "x" {
		t.Errorf("q1 = %v", flat["q1"])
	}
	if flat["q2"] != float64(2) {
		t.Errorf("q2 = %v", flat["q2"])
	}
	// Last repeat instance wins.
	if flat["q3"] != "second" {
		t.Errorf("q3 = %v, want second", flat["q3"])
	}
	if flat["q4"] != true {
		t.Errorf("q4 = %v", flat["q4"])
	}
}

func TestToBool(t *testing.T) {
	truthy := []any{true, "true", "1", "yes", "on", 1, 2.5}
	for _, v := range truthy {
		if !ToBool(v) {
			t.Errorf("ToBool(%v) = false, want true", v)
		}
	}
	falsy := []any{nil, false, "false", "0", "no", "off", 0, 0.0, "garbage"}
	for _, v := range falsy {
		if ToBool(v) {
			t.Errorf("ToBool(%v) = true, want false", v)
		}
	}
}
