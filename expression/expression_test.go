package expression

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/liamcoop/rtc/rtcerr"
)

func TestEvaluateNestedBranch(t *testing.T) {
	// 2 + 3 * 4
	tree := NewBranch(Add, NewConstant(2), NewBranch(Multiply, NewConstant(3), NewConstant(4)))

	got, err := Evaluate(tree, nil)
	if err != nil {
		t.Fatalf("Evaluate() failed: %v", err)
	}
	if got != 14 {
		t.Errorf("Evaluate() = %v, want 14", got)
	}
}

func TestEvaluateDivideByZero(t *testing.T) {
	tree := NewBranch(Divide, NewConstant(1), NewConstant(0))

	_, err := Evaluate(tree, nil)
	var arith *rtcerr.ArithmeticError
	if !errors.As(err, &arith) {
		t.Fatalf("expected ArithmeticError, got %v", err)
	}
	if arith.Op != "/" || arith.Left != 1 || arith.Right != 0 {
		t.Errorf("unexpected error details: %+v", arith)
	}
}

func TestEvaluateOverflowIsArithmeticError(t *testing.T) {
	tree := NewBranch(Multiply, NewConstant(1e308), NewConstant(10))

	_, err := Evaluate(tree, nil)
	var arith *rtcerr.ArithmeticError
	if !errors.As(err, &arith) {
		t.Fatalf("expected ArithmeticError for overflow, got %v", err)
	}
}

func TestEvaluateUnresolvedParameter(t *testing.T) {
	tree := NewBranch(Add, NewParameter("WaterLevel"), NewConstant(1))

	_, err := Evaluate(tree, Bindings{"Discharge": 3})
	var unresolved *rtcerr.UnresolvedReferenceError
	if !errors.As(err, &unresolved) {
		t.Fatalf("expected UnresolvedReferenceError, got %v", err)
	}
	if unresolved.Reference != "WaterLevel" {
		t.Errorf("Reference = %q, want WaterLevel", unresolved.Reference)
	}
}

func TestEvaluateOperators(t *testing.T) {
	bindings := Bindings{"a": 6, "b": 4}

	tests := []struct {
		op   Operator
		want float64
	}{
		{Add, 10},
		{Subtract, 2},
		{Multiply, 24},
		{Divide, 1.5},
		{Min, 4},
		{Max, 6},
	}

	for _, tt := range tests {
		t.Run(tt.op.Symbol(), func(t *testing.T) {
			got, err := Evaluate(NewBranch(tt.op, NewParameter("a"), NewParameter("b")), bindings)
			if err != nil {
				t.Fatalf("Evaluate() failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("Evaluate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEqualIsStructural(t *testing.T) {
	build := func() Node {
		return NewBranch(Max, NewParameter("x"), NewBranch(Subtract, NewConstant(1), NewConstant(2)))
	}

	if !Equal(build(), build()) {
		t.Error("independently built identical trees should be equal")
	}

	swapped := NewBranch(Max, NewBranch(Subtract, NewConstant(1), NewConstant(2)), NewParameter("x"))
	if Equal(build(), swapped) {
		t.Error("operand order must be significant")
	}

	otherOp := NewBranch(Min, NewParameter("x"), NewBranch(Subtract, NewConstant(1), NewConstant(2)))
	if Equal(build(), otherOp) {
		t.Error("operator must be significant")
	}

	if Equal(NewConstant(1), NewParameter("1")) {
		t.Error("constant and parameter must not be equal")
	}

	if !Equal(nil, nil) || Equal(nil, NewConstant(0)) {
		t.Error("nil handling is wrong")
	}
}

func TestReferences(t *testing.T) {
	tree := MustParse(`a + max(b, a) * 2`)

	want := []string{"a", "b", "a"}
	if diff := cmp.Diff(want, References(tree)); diff != "" {
		t.Errorf("References() mismatch (-want +got):\n%s", diff)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		text string
		want Node
	}{
		{
			name: "precedence",
			text: "2 + 3 * 4",
			want: NewBranch(Add, NewConstant(2), NewBranch(Multiply, NewConstant(3), NewConstant(4))),
		},
		{
			name: "min max calls",
			text: "min(WaterLevel, 2.5) - max(1, x)",
			want: NewBranch(Subtract,
				NewBranch(Min, NewParameter("WaterLevel"), NewConstant(2.5)),
				NewBranch(Max, NewConstant(1), NewParameter("x"))),
		},
		{
			name: "quoted reference",
			text: `"[Input]group/level" / 2`,
			want: NewBranch(Divide, NewParameter("[Input]group/level"), NewConstant(2)),
		},
		{
			name: "negative literal",
			text: "-1.5 * a",
			want: NewBranch(Multiply, NewConstant(-1.5), NewParameter("a")),
		},
		{
			name: "negated parameter",
			text: "-a",
			want: NewBranch(Subtract, NewConstant(0), NewParameter("a")),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.text)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.text, err)
			}
			if !Equal(got, tt.want) {
				t.Errorf("Parse(%q) = %s, want %s", tt.text, String(got), String(tt.want))
			}
		})
	}
}

func TestParseRejectsUnsupportedConstructs(t *testing.T) {
	inputs := []string{
		"a > 1",
		"a.b",
		"size(a)",
		"[1, 2]",
		"true",
		"a +",
		"min(a, b, c)",
	}

	for _, text := range inputs {
		if _, err := Parse(text); err == nil {
			t.Errorf("Parse(%q) should fail", text)
		}
	}
}

func TestStringParsesBack(t *testing.T) {
	trees := []Node{
		NewBranch(Multiply, NewBranch(Add, NewConstant(1), NewConstant(2)), NewConstant(3)),
		NewBranch(Subtract, NewConstant(10), NewBranch(Subtract, NewConstant(4), NewConstant(3))),
		NewBranch(Max, NewParameter("[Output]g/Gate1"), NewConstant(0.25)),
		NewBranch(Divide, NewParameter("level"), NewConstant(-2)),
	}

	for _, tree := range trees {
		text := String(tree)
		back, err := Parse(text)
		if err != nil {
			t.Fatalf("Parse(String()) failed for %q: %v", text, err)
		}
		if !Equal(tree, back) {
			t.Errorf("round trip through %q changed the tree: got %s", text, String(back))
		}
	}
}

func TestParseOperator(t *testing.T) {
	for _, op := range []Operator{Add, Subtract, Multiply, Divide, Min, Max} {
		got, err := ParseOperator(op.Symbol())
		if err != nil || got != op {
			t.Errorf("ParseOperator(%q) = %v, %v", op.Symbol(), got, err)
		}
	}
	if _, err := ParseOperator("%"); err == nil {
		t.Error("ParseOperator(%) should fail")
	}
}

func TestDepth(t *testing.T) {
	if got := Depth(MustParse("a + (b * (c - 1))")); got != 4 {
		t.Errorf("Depth() = %d, want 4", got)
	}
	if got := Depth(NewConstant(1)); got != 1 {
		t.Errorf("Depth(leaf) = %d, want 1", got)
	}
}
