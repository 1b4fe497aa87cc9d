package expression

import (
	"fmt"
	"math"

	"github.com/liamcoop/rtc/rtcerr"
)

// Bindings maps parameter references to their current values
type Bindings map[string]float64

// Evaluate computes the value of n.
//
// A Parameter without a binding fails with *rtcerr.UnresolvedReferenceError.
// Division by zero, and any other operation without a finite result, fails
// with *rtcerr.ArithmeticError instead of producing NaN or an infinity.
func Evaluate(n Node, bindings Bindings) (float64, error) {
	switch x := n.(type) {
	case nil:
		return 0, fmt.Errorf("cannot evaluate empty expression")
	case Constant:
		return x.Value, nil
	case Parameter:
		v, ok := bindings[x.Reference]
		if !ok {
			return 0, &rtcerr.UnresolvedReferenceError{Reference: x.Reference}
		}
		return v, nil
	case Branch:
		left, err := Evaluate(x.Left, bindings)
		if err != nil {
			return 0, err
		}
		right, err := Evaluate(x.Right, bindings)
		if err != nil {
			return 0, err
		}
		return Apply(x.Operator, left, right)
	default:
		panic(fmt.Sprintf("expression: unexpected node type %T", n))
	}
}

// Apply applies op to two operands
func Apply(op Operator, left, right float64) (float64, error) {
	var v float64
	switch op {
	case Add:
		v = left + right
	case Subtract:
		v = left - right
	case Multiply:
		v = left * right
	case Divide:
		if right == 0 {
			return 0, &rtcerr.ArithmeticError{Op: op.Symbol(), Left: left, Right: right}
		}
		v = left / right
	case Min:
		v = math.Min(left, right)
	case Max:
		v = math.Max(left, right)
	default:
		return 0, fmt.Errorf("unknown operator %v", op)
	}

	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, &rtcerr.ArithmeticError{Op: op.Symbol(), Left: left, Right: right}
	}
	return v, nil
}
