package rules

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/liamcoop/rtc/expression"
)

// Engine evaluates one control group at caller-supplied instants. It owns
// the Active/Inactive state of every rule and the current value of every
// output. Engine is safe for concurrent use; steps are serialized.
type Engine struct {
	group  *ControlGroup
	order  []*MathematicalExpression // dependency order
	active map[string]bool           // rule name -> active in the previous step
	values map[string]float64        // output name -> current value
	mu     sync.Mutex
}

// RuleResult is the outcome of one rule in one step
type RuleResult struct {
	Rule    string  `json:"rule"`
	Kind    string  `json:"kind"`
	Output  string  `json:"output"`
	Active  bool    `json:"active"`
	Applied bool    `json:"applied"`
	Value   float64 `json:"value,omitempty"`
	Error   error   `json:"-"`
}

// StepResult is the outcome of one step. Failures of individual
// expressions, conditions or rules are collected in Errors and do not stop
// the rest of the step.
type StepResult struct {
	Time        time.Time          `json:"time"`
	Expressions map[string]float64 `json:"expressions"`
	Conditions  map[string]bool    `json:"conditions"`
	Rules       []RuleResult       `json:"rules"`
	Outputs     map[string]float64 `json:"outputs"`
	Errors      []error            `json:"-"`
}

// NewEngine creates an engine for group. Outputs start at their initial
// values and every rule starts inactive. Groups whose expressions depend on
// their own results are rejected.
func NewEngine(group *ControlGroup) (*Engine, error) {
	if group == nil {
		return nil, fmt.Errorf("control group cannot be nil")
	}
	if cycles := group.expressionCycles(); len(cycles) > 0 {
		return nil, fmt.Errorf("control group %s: expressions %v depend on their own results", group.Name, cycles)
	}

	en := &Engine{
		group:  group,
		order:  group.expressionOrder(),
		active: make(map[string]bool),
		values: make(map[string]float64),
	}
	en.resetLocked()
	return en, nil
}

// Group returns the control group driven by the engine
func (en *Engine) Group() *ControlGroup {
	return en.group
}

// Step evaluates named expressions, then conditions, then rules. A rule is
// active when all its gating conditions are true. When a rule turns
// inactive its state is reset; while active its output is applied.
//
// Inputs take precedence over expressions, and expressions over outputs,
// when names collide.
func (en *Engine) Step(t time.Time, inputs expression.Bindings) *StepResult {
	en.mu.Lock()
	defer en.mu.Unlock()

	result := &StepResult{
		Time:        t,
		Expressions: make(map[string]float64),
		Conditions:  make(map[string]bool),
		Outputs:     make(map[string]float64),
	}

	bindings := maps.Clone(en.values)
	if bindings == nil {
		bindings = make(expression.Bindings)
	}
	maps.Copy(bindings, inputs)

	for _, e := range en.order {
		v, err := expression.Evaluate(e.Root, bindings)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("expression %s: %w", e.Name, err))
			continue
		}
		result.Expressions[e.Name] = v
		if _, isInput := inputs[e.Name]; !isInput {
			bindings[e.Name] = v
		}
	}

	for _, c := range en.group.conditions {
		ok, err := c.Evaluate(Evaluation{Time: t, Bindings: bindings})
		if err != nil {
			result.Errors = append(result.Errors, err)
			ok = false
		}
		result.Conditions[c.ConditionName()] = ok
	}

	for _, r := range en.group.rules {
		rr := RuleResult{Rule: r.RuleName(), Kind: r.Kind().String(), Output: r.OutputName()}

		active := true
		for _, c := range r.base().Conditions {
			ok, found := result.Conditions[c]
			if !found {
				err := fmt.Errorf("rule %s: gating condition %s does not exist", r.RuleName(), c)
				result.Errors = append(result.Errors, err)
				rr.Error = err
			}
			active = active && ok
		}

		if !active {
			if en.active[r.RuleName()] {
				r.Reset()
			}
			en.active[r.RuleName()] = false
			result.Rules = append(result.Rules, rr)
			continue
		}

		rr.Active = true
		en.active[r.RuleName()] = true
		v, err := r.ComputeOutput(Evaluation{Time: t, Bindings: bindings, Current: en.values[r.OutputName()]})
		if err != nil {
			rr.Error = err
			result.Errors = append(result.Errors, err)
		} else {
			rr.Applied = true
			rr.Value = v
			en.values[r.OutputName()] = v
		}
		result.Rules = append(result.Rules, rr)
	}

	maps.Copy(result.Outputs, en.values)
	return result
}

// IsActive reports whether the named rule was active in the last step
func (en *Engine) IsActive(rule string) bool {
	en.mu.Lock()
	defer en.mu.Unlock()
	return en.active[rule]
}

// Outputs returns a copy of the current output values
func (en *Engine) Outputs() map[string]float64 {
	en.mu.Lock()
	defer en.mu.Unlock()
	return maps.Clone(en.values)
}

// Reset returns every rule to inactive, clears rule and condition state and
// restores output initial values
func (en *Engine) Reset() {
	en.mu.Lock()
	defer en.mu.Unlock()
	en.resetLocked()
}

func (en *Engine) resetLocked() {
	clear(en.active)
	clear(en.values)
	for _, o := range en.group.outputs {
		en.values[o.Name] = o.InitialValue
	}
	for _, r := range en.group.rules {
		r.Reset()
	}
	for _, c := range en.group.conditions {
		c.Reset()
	}
}

// expressionOrder sorts named expressions so that every expression comes
// after the expressions it references. The group must be free of cycles.
func (g *ControlGroup) expressionOrder() []*MathematicalExpression {
	var order []*MathematicalExpression
	placed := make(map[string]bool)

	var visit func(e *MathematicalExpression)
	visit = func(e *MathematicalExpression) {
		if placed[e.Name] {
			return
		}
		placed[e.Name] = true
		for _, ref := range uniqueReferences(e.Root) {
			if g.Resolve(ref) != SignalExpression {
				continue
			}
			if dep, ok := g.Expression(ref); ok {
				visit(dep)
			}
		}
		order = append(order, e)
	}

	for _, e := range g.expressions {
		visit(e)
	}
	return order
}
