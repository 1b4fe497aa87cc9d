package expression

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	celast "github.com/google/cel-go/common/ast"
	"github.com/google/cel-go/common/operators"
)

var parserEnv = sync.OnceValues(func() (*cel.Env, error) {
	env, err := cel.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return env, nil
})

var binaryOperators = map[string]Operator{
	operators.Add:      Add,
	operators.Subtract: Subtract,
	operators.Multiply: Multiply,
	operators.Divide:   Divide,
	"min":              Min,
	"max":              Max,
}

// Parse builds an expression tree from infix text such as
//
//	2 + 3 * WaterLevel
//	max("[Input]g/level", 1.5) / 2
//
// The text is parsed with the CEL grammar and then restricted to the
// operators of this package. Identifiers and string literals become
// parameters, numbers become constants.
func Parse(text string) (Node, error) {
	env, err := parserEnv()
	if err != nil {
		return nil, err
	}

	parsed, issues := env.Parse(text)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("parse error: %w", issues.Err())
	}

	return fromCEL(parsed.NativeRep().Expr())
}

// MustParse is like Parse but panics on error
func MustParse(text string) Node {
	n, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return n
}

func fromCEL(e celast.Expr) (Node, error) {
	switch e.Kind() {
	case celast.LiteralKind:
		return literal(e)
	case celast.IdentKind:
		return Parameter{Reference: e.AsIdent()}, nil
	case celast.CallKind:
		call := e.AsCall()
		if call.IsMemberFunction() {
			return nil, fmt.Errorf("unsupported member call %s", call.FunctionName())
		}
		args := call.Args()

		if call.FunctionName() == operators.Negate && len(args) == 1 {
			inner, err := fromCEL(args[0])
			if err != nil {
				return nil, err
			}
			if c, ok := inner.(Constant); ok {
				return Constant{Value: -c.Value}, nil
			}
			return Branch{Operator: Subtract, Left: Constant{Value: 0}, Right: inner}, nil
		}

		op, ok := binaryOperators[call.FunctionName()]
		if !ok {
			return nil, fmt.Errorf("unsupported operator or function %s", call.FunctionName())
		}
		if len(args) != 2 {
			return nil, fmt.Errorf("%s expects 2 operands, got %d", op.Symbol(), len(args))
		}
		left, err := fromCEL(args[0])
		if err != nil {
			return nil, err
		}
		right, err := fromCEL(args[1])
		if err != nil {
			return nil, err
		}
		return Branch{Operator: op, Left: left, Right: right}, nil
	default:
		return nil, fmt.Errorf("unsupported expression construct (kind %d)", e.Kind())
	}
}

func literal(e celast.Expr) (Node, error) {
	switch v := e.AsLiteral().Value().(type) {
	case float64:
		return Constant{Value: v}, nil
	case int64:
		return Constant{Value: float64(v)}, nil
	case uint64:
		return Constant{Value: float64(v)}, nil
	case string:
		return Parameter{Reference: v}, nil
	default:
		return nil, fmt.Errorf("unsupported literal of type %T", v)
	}
}
