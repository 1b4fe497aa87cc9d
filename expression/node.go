// Package expression implements the recursive expression trees used by
// conditions, rules and named mathematical expressions of a control group.
//
// A tree is built from three node kinds: Constant, Parameter and Branch.
// Nodes are values; a tree never changes after it has been built.
package expression

import (
	"fmt"
	"strings"
)

// Operator is the arithmetic operator of a Branch
type Operator int

const (
	Add Operator = iota
	Subtract
	Multiply
	Divide
	Min
	Max
)

var operatorSymbols = [...]string{
	Add:      "+",
	Subtract: "-",
	Multiply: "*",
	Divide:   "/",
	Min:      "min",
	Max:      "max",
}

// Symbol returns the wire symbol of the operator
func (o Operator) Symbol() string {
	if o < Add || o > Max {
		return fmt.Sprintf("Operator(%d)", int(o))
	}
	return operatorSymbols[o]
}

func (o Operator) String() string {
	return o.Symbol()
}

// ParseOperator converts a wire symbol such as "+" or "min" to an Operator
func ParseOperator(symbol string) (Operator, error) {
	s := strings.TrimSpace(symbol)
	for op, sym := range operatorSymbols {
		if strings.EqualFold(s, sym) {
			return Operator(op), nil
		}
	}
	return 0, fmt.Errorf("unknown mathematical operator %q", symbol)
}

// Node is one node of an expression tree. The set of implementations is
// closed: Constant, Parameter and Branch.
type Node interface {
	node()
}

// Constant is a literal operand
type Constant struct {
	Value float64
}

// Parameter refers to a named input, output or expression result
type Parameter struct {
	Reference string
}

// Branch applies Operator to the values of Left and Right
type Branch struct {
	Operator Operator
	Left     Node
	Right    Node
}

func (Constant) node()  {}
func (Parameter) node() {}
func (Branch) node()    {}

// NewConstant returns a constant leaf
func NewConstant(v float64) Node { return Constant{Value: v} }

// NewParameter returns a parameter leaf referring to ref
func NewParameter(ref string) Node { return Parameter{Reference: ref} }

// NewBranch returns a binary node
func NewBranch(op Operator, left, right Node) Node {
	return Branch{Operator: op, Left: left, Right: right}
}

// IsLeaf reports whether n is a Constant or a Parameter
func IsLeaf(n Node) bool {
	switch n.(type) {
	case Constant, Parameter:
		return true
	default:
		return false
	}
}

// Equal reports whether a and b are structurally equal: same node kinds,
// same operators, same operand order and equal leaves.
func Equal(a, b Node) bool {
	switch x := a.(type) {
	case nil:
		return b == nil
	case Constant:
		y, ok := b.(Constant)
		return ok && x.Value == y.Value
	case Parameter:
		y, ok := b.(Parameter)
		return ok && x.Reference == y.Reference
	case Branch:
		y, ok := b.(Branch)
		return ok && x.Operator == y.Operator && Equal(x.Left, y.Left) && Equal(x.Right, y.Right)
	default:
		panic(fmt.Sprintf("expression: unexpected node type %T", a))
	}
}

// Walk visits n and its descendants depth first, left before right.
// Returning false from fn stops the descent below the current node.
func Walk(n Node, fn func(Node) bool) {
	if n == nil || !fn(n) {
		return
	}
	if b, ok := n.(Branch); ok {
		Walk(b.Left, fn)
		Walk(b.Right, fn)
	}
}

// References returns the parameter references of n in depth-first order,
// including duplicates.
func References(n Node) []string {
	var refs []string
	Walk(n, func(n Node) bool {
		if p, ok := n.(Parameter); ok {
			refs = append(refs, p.Reference)
		}
		return true
	})
	return refs
}

// Depth returns the number of levels of the tree, 0 for a nil node
func Depth(n Node) int {
	b, ok := n.(Branch)
	if !ok {
		if n == nil {
			return 0
		}
		return 1
	}
	return 1 + max(Depth(b.Left), Depth(b.Right))
}
