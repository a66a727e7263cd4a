package cel

import (
	"strings"
	"testing"
)

func TestNewEvaluator(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}
	if eval == nil {
		t.Fatal("NewEvaluator() returned nil")
	}
}

func TestCompile_ValidExpression(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	prg, err := eval.Compile(`tool == "read_file"`)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if prg == nil {
		t.Fatal("Compile() returned nil program")
	}
}

func TestCompile_InvalidExpression(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	_, err = eval.Compile(`this is not valid CEL !!!`)
	if err == nil {
		t.Fatal("Compile() expected error for invalid expression, got nil")
	}
}

func TestEval_TrueCondition(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	result, err := eval.Eval(`tool == "read_file"`, "read_file", "fs-server", nil)
	if err != nil {
		t.Fatalf("Eval() error: %v", err)
	}
	if !result {
		t.Error("expected true, got false")
	}
}

func TestEval_FalseCondition(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	result, err := eval.Eval(`tool == "write_file"`, "read_file", "fs-server", nil)
	if err != nil {
		t.Fatalf("Eval() error: %v", err)
	}
	if result {
		t.Error("expected false, got true")
	}
}

func TestEval_ArgsAccess(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	result, err := eval.Eval(`args["path"] == "/etc/passwd"`, "read_file", "fs-server", []byte(`{"path":"/etc/passwd"}`))
	if err != nil {
		t.Fatalf("Eval() error: %v", err)
	}
	if !result {
		t.Error("expected true, got false")
	}
}

func TestEval_ServerAndCombinedCondition(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	result, err := eval.Eval(`server == "fs-server" && tool.startsWith("write")`, "write_file", "fs-server", nil)
	if err != nil {
		t.Fatalf("Eval() error: %v", err)
	}
	if !result {
		t.Error("expected true, got false")
	}
}

func TestEval_MalformedArgsBecomesEmptyMap(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	result, err := eval.Eval(`size(args) == 0`, "read_file", "fs-server", []byte(`not json`))
	if err != nil {
		t.Fatalf("Eval() error: %v", err)
	}
	if !result {
		t.Error("expected malformed args to decode as an empty map")
	}
}

func TestEval_ProgramIsMemoized(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	const cond = `tool == "read_file"`
	if _, err := eval.Eval(cond, "read_file", "fs-server", nil); err != nil {
		t.Fatalf("Eval() error: %v", err)
	}
	if len(eval.programs) != 1 {
		t.Fatalf("expected 1 cached program, got %d", len(eval.programs))
	}

	if _, err := eval.Eval(cond, "write_file", "fs-server", nil); err != nil {
		t.Fatalf("Eval() error: %v", err)
	}
	if len(eval.programs) != 1 {
		t.Errorf("expected cache to stay at 1 entry for a repeated condition, got %d", len(eval.programs))
	}
}

func TestValidateExpression_MaxLength(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	expr := `tool == "` + strings.Repeat("a", 1024-10) + `"`
	if len(expr) > 1024 {
		t.Fatalf("test setup: expr length %d > 1024", len(expr))
	}
	if _, err := eval.Compile(expr); err != nil {
		t.Errorf("expression at limit should be valid, got: %v", err)
	}

	if _, err := eval.Compile(expr + "x"); err == nil {
		t.Error("expression over limit should be rejected")
	}
}

func TestValidateNesting(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{"no_nesting", "true", false},
		{"single_level", "(true)", false},
		{"50_levels", strings.Repeat("(", 50) + "true" + strings.Repeat(")", 50), false},
		{"51_levels", strings.Repeat("(", 51) + "true" + strings.Repeat(")", 51), true},
		{"100_levels", strings.Repeat("(", 100) + "true" + strings.Repeat(")", 100), true},
		{"interleaved_types", "([{true}])", false},
		{"empty_string", "", false},
		{"only_openers", strings.Repeat("(", 60), true},
		{"deep_square_brackets", strings.Repeat("[", 51) + strings.Repeat("]", 51), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateNesting(tt.expr)
			if tt.wantErr && err == nil {
				t.Errorf("validateNesting(%q) expected error, got nil", tt.name)
			}
			if !tt.wantErr && err != nil {
				t.Errorf("validateNesting(%q) unexpected error: %v", tt.name, err)
			}
		})
	}
}

func TestCompile_NestingDepthRejected(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	expr := strings.Repeat("(", 60) + "true" + strings.Repeat(")", 60)
	_, err = eval.Compile(expr)
	if err == nil {
		t.Fatal("expected error for 60 levels of nesting, got nil")
	}
	if !strings.Contains(err.Error(), "nesting too deep") {
		t.Errorf("error %q should contain 'nesting too deep'", err.Error())
	}
}

func TestCompile_EmptyExpression(t *testing.T) {
	eval, err := NewEvaluator()
	if err != nil {
		t.Fatalf("NewEvaluator() error: %v", err)
	}

	if _, err := eval.Compile(""); err == nil {
		t.Fatal("expected error for empty expression, got nil")
	}
}
