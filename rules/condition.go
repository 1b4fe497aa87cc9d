package rules

import (
	"fmt"

	"github.com/liamcoop/rtc/expression"
	"github.com/liamcoop/rtc/timeseries"
)

// ConditionKind identifies a condition variant
type ConditionKind int

const (
	StandardConditionKind ConditionKind = iota
	DirectionalConditionKind
	TimeConditionKind
)

func (k ConditionKind) String() string {
	switch k {
	case StandardConditionKind:
		return "StandardCondition"
	case DirectionalConditionKind:
		return "DirectionalCondition"
	case TimeConditionKind:
		return "TimeCondition"
	default:
		return fmt.Sprintf("ConditionKind(%d)", int(k))
	}
}

// Condition produces the boolean gating decision for rules. The variants
// are StandardCondition, DirectionalCondition and TimeCondition.
type Condition interface {
	ConditionName() string
	Kind() ConditionKind

	// Evaluate returns the gating decision for one step
	Evaluate(ev Evaluation) (bool, error)

	// References returns the names of signals the condition reads
	References() []string

	// Reset clears state kept between evaluations
	Reset()

	equal(Condition) bool
}

// ReferenceMode selects whether a condition reads the value of the current
// step (Implicit) or the value at the start of the step (Explicit).
type ReferenceMode int

const (
	Implicit ReferenceMode = iota
	Explicit
)

func (m ReferenceMode) String() string {
	if m == Explicit {
		return "EXPLICIT"
	}
	return "IMPLICIT"
}

// ParseReferenceMode accepts IMPLICIT, EXPLICIT or an empty string
func ParseReferenceMode(s string) (ReferenceMode, error) {
	switch s {
	case "", "IMPLICIT":
		return Implicit, nil
	case "EXPLICIT":
		return Explicit, nil
	default:
		return Implicit, fmt.Errorf("unknown reference mode %q", s)
	}
}

// StandardCondition compares a signal against a threshold. The threshold
// is a constant or a reference to another signal or expression.
type StandardCondition struct {
	Name      string
	Input     string
	Operator  RelationalOperator
	Threshold expression.Node
	Reference ReferenceMode
}

func (c *StandardCondition) ConditionName() string { return c.Name }
func (c *StandardCondition) Kind() ConditionKind   { return StandardConditionKind }
func (c *StandardCondition) Reset()                {}

func (c *StandardCondition) Evaluate(ev Evaluation) (bool, error) {
	subject := "condition " + c.Name
	x, err := ev.lookup(subject, c.Input)
	if err != nil {
		return false, err
	}
	threshold, err := expression.Evaluate(c.Threshold, ev.Bindings)
	if err != nil {
		return false, fmt.Errorf("%s: threshold: %w", subject, err)
	}
	return c.Operator.Compare(x, threshold), nil
}

func (c *StandardCondition) References() []string {
	return append([]string{c.Input}, expression.References(c.Threshold)...)
}

func (c *StandardCondition) equal(o Condition) bool {
	x, ok := o.(*StandardCondition)
	return ok && c.Name == x.Name && c.Input == x.Input && c.Operator == x.Operator &&
		c.Reference == x.Reference && expression.Equal(c.Threshold, x.Threshold)
}

// DirectionalCondition tracks the direction in which a signal moves. It
// compares the current value with the value of the previous evaluation;
// Greater means rising and Less means falling. The first evaluation has no
// previous value and is false.
type DirectionalCondition struct {
	Name     string
	Input    string
	Operator RelationalOperator

	previous    float64
	hasPrevious bool
}

func (c *DirectionalCondition) ConditionName() string { return c.Name }
func (c *DirectionalCondition) Kind() ConditionKind   { return DirectionalConditionKind }
func (c *DirectionalCondition) References() []string  { return []string{c.Input} }

func (c *DirectionalCondition) Evaluate(ev Evaluation) (bool, error) {
	x, err := ev.lookup("condition "+c.Name, c.Input)
	if err != nil {
		return false, err
	}
	defer func() {
		c.previous = x
		c.hasPrevious = true
	}()

	if !c.hasPrevious {
		return false, nil
	}
	return c.Operator.Compare(x, c.previous), nil
}

func (c *DirectionalCondition) Reset() {
	c.previous = 0
	c.hasPrevious = false
}

func (c *DirectionalCondition) equal(o Condition) bool {
	x, ok := o.(*DirectionalCondition)
	return ok && c.Name == x.Name && c.Input == x.Input && c.Operator == x.Operator
}

// TimeCondition is true while its boolean schedule is true at the
// simulation time
type TimeCondition struct {
	Name          string
	Series        *timeseries.Series
	Extrapolation timeseries.Extrapolation
}

func (c *TimeCondition) ConditionName() string { return c.Name }
func (c *TimeCondition) Kind() ConditionKind   { return TimeConditionKind }
func (c *TimeCondition) References() []string  { return nil }
func (c *TimeCondition) Reset()                {}

func (c *TimeCondition) Evaluate(ev Evaluation) (bool, error) {
	if c.Series == nil || c.Series.Len() == 0 {
		return false, fmt.Errorf("condition %s: time series is empty", c.Name)
	}
	return c.Series.BoolAt(ev.Time, c.Extrapolation), nil
}

func (c *TimeCondition) equal(o Condition) bool {
	x, ok := o.(*TimeCondition)
	return ok && c.Name == x.Name && c.Extrapolation == x.Extrapolation && c.Series.Equal(x.Series)
}
