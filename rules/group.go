package rules

import (
	"fmt"
	"slices"

	"github.com/liamcoop/rtc/expression"
	"github.com/liamcoop/rtc/rtcerr"
)

// SignalKind tells what a reference inside a group resolves to
type SignalKind int

const (
	SignalUnresolved SignalKind = iota
	SignalInput
	SignalExpression
	SignalOutput
)

func (k SignalKind) String() string {
	switch k {
	case SignalInput:
		return "input"
	case SignalExpression:
		return "expression"
	case SignalOutput:
		return "output"
	default:
		return "unresolved"
	}
}

// ControlGroup is a named bundle of inputs, outputs, conditions, rules and
// expressions. Names are unique within each category and every collection
// keeps insertion order.
//
// Components refer to each other by name; references are resolved when the
// group is validated or serialized. A ControlGroup is not safe for
// concurrent mutation.
type ControlGroup struct {
	Name string

	inputs      []*Input
	outputs     []*Output
	conditions  []Condition
	rules       []Rule
	expressions []*MathematicalExpression
}

// NewControlGroup creates an empty group
func NewControlGroup(name string) *ControlGroup {
	return &ControlGroup{Name: name}
}

func (g *ControlGroup) checkName(kind, name string, exists bool) error {
	if err := ValidateName(name); err != nil {
		return fmt.Errorf("invalid %s name: %w", kind, err)
	}
	if exists {
		return &rtcerr.DuplicateNameError{Kind: kind, Group: g.Name, Name: name}
	}
	return nil
}

// AddInput appends an input
func (g *ControlGroup) AddInput(in *Input) error {
	if in == nil {
		return fmt.Errorf("input cannot be nil")
	}
	_, exists := g.Input(in.Name)
	if err := g.checkName("input", in.Name, exists); err != nil {
		return err
	}
	g.inputs = append(g.inputs, in)
	return nil
}

// AddOutput appends an output
func (g *ControlGroup) AddOutput(out *Output) error {
	if out == nil {
		return fmt.Errorf("output cannot be nil")
	}
	_, exists := g.Output(out.Name)
	if err := g.checkName("output", out.Name, exists); err != nil {
		return err
	}
	g.outputs = append(g.outputs, out)
	return nil
}

// AddCondition appends a condition
func (g *ControlGroup) AddCondition(c Condition) error {
	if c == nil {
		return fmt.Errorf("condition cannot be nil")
	}
	_, exists := g.Condition(c.ConditionName())
	if err := g.checkName("condition", c.ConditionName(), exists); err != nil {
		return err
	}
	g.conditions = append(g.conditions, c)
	return nil
}

// AddRule appends a rule
func (g *ControlGroup) AddRule(r Rule) error {
	if r == nil {
		return fmt.Errorf("rule cannot be nil")
	}
	_, exists := g.Rule(r.RuleName())
	if err := g.checkName("rule", r.RuleName(), exists); err != nil {
		return err
	}
	g.rules = append(g.rules, r)
	return nil
}

// AddExpression appends a named expression
func (g *ControlGroup) AddExpression(e *MathematicalExpression) error {
	if e == nil {
		return fmt.Errorf("expression cannot be nil")
	}
	_, exists := g.Expression(e.Name)
	if err := g.checkName("expression", e.Name, exists); err != nil {
		return err
	}
	g.expressions = append(g.expressions, e)
	return nil
}

func (g *ControlGroup) Inputs() []*Input                       { return slices.Clone(g.inputs) }
func (g *ControlGroup) Outputs() []*Output                     { return slices.Clone(g.outputs) }
func (g *ControlGroup) Conditions() []Condition                { return slices.Clone(g.conditions) }
func (g *ControlGroup) Rules() []Rule                          { return slices.Clone(g.rules) }
func (g *ControlGroup) Expressions() []*MathematicalExpression { return slices.Clone(g.expressions) }

// IsEmpty reports whether the group has no components at all
func (g *ControlGroup) IsEmpty() bool {
	return len(g.inputs) == 0 && len(g.outputs) == 0 && len(g.conditions) == 0 &&
		len(g.rules) == 0 && len(g.expressions) == 0
}

// Input finds an input by name
func (g *ControlGroup) Input(name string) (*Input, bool) {
	i := slices.IndexFunc(g.inputs, func(x *Input) bool { return x.Name == name })
	if i < 0 {
		return nil, false
	}
	return g.inputs[i], true
}

// Output finds an output by name
func (g *ControlGroup) Output(name string) (*Output, bool) {
	i := slices.IndexFunc(g.outputs, func(x *Output) bool { return x.Name == name })
	if i < 0 {
		return nil, false
	}
	return g.outputs[i], true
}

// Condition finds a condition by name
func (g *ControlGroup) Condition(name string) (Condition, bool) {
	i := slices.IndexFunc(g.conditions, func(x Condition) bool { return x.ConditionName() == name })
	if i < 0 {
		return nil, false
	}
	return g.conditions[i], true
}

// Rule finds a rule by name
func (g *ControlGroup) Rule(name string) (Rule, bool) {
	i := slices.IndexFunc(g.rules, func(x Rule) bool { return x.RuleName() == name })
	if i < 0 {
		return nil, false
	}
	return g.rules[i], true
}

// Expression finds a named expression
func (g *ControlGroup) Expression(name string) (*MathematicalExpression, bool) {
	i := slices.IndexFunc(g.expressions, func(x *MathematicalExpression) bool { return x.Name == name })
	if i < 0 {
		return nil, false
	}
	return g.expressions[i], true
}

// RemoveInput removes an input and reports whether it existed
func (g *ControlGroup) RemoveInput(name string) bool {
	n := len(g.inputs)
	g.inputs = slices.DeleteFunc(g.inputs, func(x *Input) bool { return x.Name == name })
	return len(g.inputs) != n
}

// RemoveOutput removes an output and reports whether it existed
func (g *ControlGroup) RemoveOutput(name string) bool {
	n := len(g.outputs)
	g.outputs = slices.DeleteFunc(g.outputs, func(x *Output) bool { return x.Name == name })
	return len(g.outputs) != n
}

// RemoveCondition removes a condition and reports whether it existed.
// Rules gated by it keep the dangling name until it is removed from them.
func (g *ControlGroup) RemoveCondition(name string) bool {
	n := len(g.conditions)
	g.conditions = slices.DeleteFunc(g.conditions, func(x Condition) bool { return x.ConditionName() == name })
	return len(g.conditions) != n
}

// RemoveRule removes a rule and reports whether it existed
func (g *ControlGroup) RemoveRule(name string) bool {
	n := len(g.rules)
	g.rules = slices.DeleteFunc(g.rules, func(x Rule) bool { return x.RuleName() == name })
	return len(g.rules) != n
}

// RemoveExpression removes a named expression and reports whether it existed
func (g *ControlGroup) RemoveExpression(name string) bool {
	n := len(g.expressions)
	g.expressions = slices.DeleteFunc(g.expressions, func(x *MathematicalExpression) bool { return x.Name == name })
	return len(g.expressions) != n
}

// Resolve reports what ref names inside the group. Inputs take precedence
// over expressions, expressions over outputs.
func (g *ControlGroup) Resolve(ref string) SignalKind {
	if _, ok := g.Input(ref); ok {
		return SignalInput
	}
	if _, ok := g.Expression(ref); ok {
		return SignalExpression
	}
	if _, ok := g.Output(ref); ok {
		return SignalOutput
	}
	return SignalUnresolved
}

// GatedRules returns the rules gated by the named condition, in rule order
func (g *ControlGroup) GatedRules(condition string) []Rule {
	var out []Rule
	for _, r := range g.rules {
		if slices.Contains(r.base().Conditions, condition) {
			out = append(out, r)
		}
	}
	return out
}

// Equal reports whether g and o are structurally equal. Runtime state of
// rules and conditions is ignored.
func (g *ControlGroup) Equal(o *ControlGroup) bool {
	if g == nil || o == nil {
		return g == o
	}
	if g.Name != o.Name {
		return false
	}

	if !slices.EqualFunc(g.inputs, o.inputs, func(a, b *Input) bool { return *a == *b }) {
		return false
	}
	if !slices.EqualFunc(g.outputs, o.outputs, func(a, b *Output) bool { return *a == *b }) {
		return false
	}
	if !slices.EqualFunc(g.conditions, o.conditions, func(a, b Condition) bool { return a.equal(b) }) {
		return false
	}
	if !slices.EqualFunc(g.rules, o.rules, func(a, b Rule) bool { return a.equal(b) }) {
		return false
	}
	return slices.EqualFunc(g.expressions, o.expressions, func(a, b *MathematicalExpression) bool {
		return a.Name == b.Name && expression.Equal(a.Root, b.Root)
	})
}

// Diff returns a short description of the first difference between g and
// o, or an empty string when they are equal
func (g *ControlGroup) Diff(o *ControlGroup) string {
	switch {
	case g.Equal(o):
		return ""
	case g == nil || o == nil:
		return "one group is nil"
	case g.Name != o.Name:
		return fmt.Sprintf("name %q != %q", g.Name, o.Name)
	}

	if len(g.inputs) != len(o.inputs) {
		return fmt.Sprintf("%d inputs != %d inputs", len(g.inputs), len(o.inputs))
	}
	for i := range g.inputs {
		if *g.inputs[i] != *o.inputs[i] {
			return fmt.Sprintf("input %d: %+v != %+v", i, *g.inputs[i], *o.inputs[i])
		}
	}
	if len(g.outputs) != len(o.outputs) {
		return fmt.Sprintf("%d outputs != %d outputs", len(g.outputs), len(o.outputs))
	}
	for i := range g.outputs {
		if *g.outputs[i] != *o.outputs[i] {
			return fmt.Sprintf("output %d: %+v != %+v", i, *g.outputs[i], *o.outputs[i])
		}
	}
	if len(g.conditions) != len(o.conditions) {
		return fmt.Sprintf("%d conditions != %d conditions", len(g.conditions), len(o.conditions))
	}
	for i := range g.conditions {
		if !g.conditions[i].equal(o.conditions[i]) {
			return fmt.Sprintf("condition %d: %s %+v != %s %+v", i,
				g.conditions[i].Kind(), g.conditions[i], o.conditions[i].Kind(), o.conditions[i])
		}
	}
	if len(g.rules) != len(o.rules) {
		return fmt.Sprintf("%d rules != %d rules", len(g.rules), len(o.rules))
	}
	for i := range g.rules {
		if !g.rules[i].equal(o.rules[i]) {
			return fmt.Sprintf("rule %d: %s %+v != %s %+v", i,
				g.rules[i].Kind(), g.rules[i], o.rules[i].Kind(), o.rules[i])
		}
	}
	return "expressions differ"
}
