package calc

import (
	"errors"
	"testing"
)

func TestEval(t *testing.T) {
	tests := []struct {
		expr string
		want string
	}{
		{"2 + 2", "4"},
		{"157 * 23", "3611"},
		{"10 * 5", "50"},
		{"5 + 3", "8"},
		{"7 / 2", "3.5"},
		{"-7 % 3", "2"},
		{"7 % -3", "-2"},
		{"2 ** 10", "1024"},
		{"2 ** 64", "18446744073709551616"},
		{"10 ** 15 + 1", "1000000000000001"},
		{"10 ** 22", "1e+22"},
		{"2 ** 3 ** 2", "512"},
		{"-2 ** 2", "-4"},
		{"2 ** -1", "0.5"},
		{"(1 + 2) * (3 + 4)", "21"},
		{"1.5e3 + .5", "1500.5"},
		{"--3", "3"},
		{"+4", "4"},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			v, err := Eval(tt.expr)
			if err != nil {
				t.Fatalf("Unexpected error %s", err)
			}
			if actual := Format(v); actual != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, actual)
			}
		})
	}
}

func TestEvalRejectsNames(t *testing.T) {
	for _, expr := range []string{
		"__import__('os')",
		"open('x')",
		"os.system('ls')",
		"abs(-1)",
		"x + 1",
		"2abc",
		"1 .real",
		"(1).__class__",
		"[1, 2]",
		"1 if 1 else 2",
		"pi",
	} {
		t.Run(expr, func(t *testing.T) {
			_, err := Eval(expr)
			if !errors.Is(err, ErrDisallowed) {
				t.Errorf("Expected ErrDisallowed, got %v", err)
			}
		})
	}
}

func TestEvalErrors(t *testing.T) {
	tests := []struct {
		expr string
		want error
	}{
		{"", ErrSyntax},
		{"1 +", ErrSyntax},
		{"(1 + 2", ErrSyntax},
		{"1 2", ErrSyntax},
		{"1 // 2", ErrSyntax},
		{"1 / 0", ErrDivisionByZero},
		{"5 % 0", ErrDivisionByZero},
		{"10 ** 400", ErrSyntax},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			_, err := Eval(tt.expr)
			if !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestEvalDepthLimit(t *testing.T) {
	expr := ""
	for range maxDepth + 5 {
		expr += "("
	}
	expr += "1"
	for range maxDepth + 5 {
		expr += ")"
	}
	if _, err := Eval(expr); !errors.Is(err, ErrSyntax) {
		t.Errorf("Expected ErrSyntax for deep nesting, got %v", err)
	}
}
