package rules

import (
	"fmt"
	"slices"
	"sort"

	"github.com/liamcoop/rtc/expression"
	"github.com/liamcoop/rtc/timeseries"
)

// RuleKind identifies a rule variant
type RuleKind int

const (
	FactorRuleKind RuleKind = iota
	HydraulicRuleKind
	IntervalRuleKind
	PIDRuleKind
	RelativeTimeRuleKind
	TimeRuleKind
)

func (k RuleKind) String() string {
	switch k {
	case FactorRuleKind:
		return "FactorRule"
	case HydraulicRuleKind:
		return "HydraulicRule"
	case IntervalRuleKind:
		return "IntervalRule"
	case PIDRuleKind:
		return "PIDRule"
	case RelativeTimeRuleKind:
		return "RelativeTimeRule"
	case TimeRuleKind:
		return "TimeRule"
	default:
		return fmt.Sprintf("RuleKind(%d)", int(k))
	}
}

// Rule computes the value of one output while its gating conditions hold.
// The variants are FactorRule, HydraulicRule, IntervalRule, PIDRule,
// RelativeTimeRule and TimeRule.
type Rule interface {
	RuleName() string
	OutputName() string
	GatingConditions() []string
	Kind() RuleKind

	// ComputeOutput returns the output value for one step while the rule
	// is active
	ComputeOutput(ev Evaluation) (float64, error)

	// References returns the names of signals the rule reads, excluding
	// its output and gating conditions
	References() []string

	// Reset clears state kept while the rule is active
	Reset()

	base() *RuleBase
	equal(Rule) bool
}

// RuleBase holds the fields shared by all rule variants
type RuleBase struct {
	Name   string
	Output string

	// Conditions names the gating conditions. The rule is active only while
	// all of them are true; a rule without conditions is always active.
	Conditions []string
}

func (b *RuleBase) RuleName() string           { return b.Name }
func (b *RuleBase) OutputName() string         { return b.Output }
func (b *RuleBase) GatingConditions() []string { return slices.Clone(b.Conditions) }
func (b *RuleBase) base() *RuleBase            { return b }

// AddCondition appends a gating condition unless it is already present
func (b *RuleBase) AddCondition(name string) {
	if !slices.Contains(b.Conditions, name) {
		b.Conditions = append(b.Conditions, name)
	}
}

// gating conditions compare as sets: all of them must hold, so order
// carries no meaning
func (b *RuleBase) equalBase(o *RuleBase) bool {
	if b.Name != o.Name || b.Output != o.Output {
		return false
	}
	x, y := slices.Clone(b.Conditions), slices.Clone(o.Conditions)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(slices.Compact(x), slices.Compact(y))
}

// FactorRule scales one signal by a constant or expression-derived factor
type FactorRule struct {
	RuleBase
	Input  string
	Factor expression.Node
}

func (r *FactorRule) Kind() RuleKind { return FactorRuleKind }
func (r *FactorRule) Reset()         {}

func (r *FactorRule) ComputeOutput(ev Evaluation) (float64, error) {
	subject := "rule " + r.Name
	x, err := ev.lookup(subject, r.Input)
	if err != nil {
		return 0, err
	}
	factor, err := expression.Evaluate(r.Factor, ev.Bindings)
	if err != nil {
		return 0, fmt.Errorf("%s: factor: %w", subject, err)
	}
	return expression.Apply(expression.Multiply, x, factor)
}

func (r *FactorRule) References() []string {
	return append([]string{r.Input}, expression.References(r.Factor)...)
}

func (r *FactorRule) equal(o Rule) bool {
	x, ok := o.(*FactorRule)
	return ok && r.equalBase(&x.RuleBase) && r.Input == x.Input && expression.Equal(r.Factor, x.Factor)
}

// LookupPoint is one record of a lookup table
type LookupPoint struct {
	X float64
	Y float64
}

// HydraulicRule looks the output up in a table keyed by a hydraulic state
// variable. With a positive TimeLag the input is read as it was TimeLag
// steps earlier.
type HydraulicRule struct {
	RuleBase
	Input         string
	Table         []LookupPoint
	Interpolation timeseries.Interpolation
	TimeLag       int

	history []float64
}

func (r *HydraulicRule) Kind() RuleKind       { return HydraulicRuleKind }
func (r *HydraulicRule) References() []string { return []string{r.Input} }
func (r *HydraulicRule) Reset()               { r.history = nil }

func (r *HydraulicRule) ComputeOutput(ev Evaluation) (float64, error) {
	x, err := ev.lookup("rule "+r.Name, r.Input)
	if err != nil {
		return 0, err
	}
	if len(r.Table) == 0 {
		return 0, fmt.Errorf("rule %s: lookup table is empty", r.Name)
	}

	if r.TimeLag > 0 {
		r.history = append(r.history, x)
		if len(r.history) > r.TimeLag+1 {
			r.history = r.history[1:]
		}
		x = r.history[0]
	}

	return lookup(r.Table, x, r.Interpolation), nil
}

func (r *HydraulicRule) equal(o Rule) bool {
	x, ok := o.(*HydraulicRule)
	return ok && r.equalBase(&x.RuleBase) && r.Input == x.Input &&
		r.Interpolation == x.Interpolation && r.TimeLag == x.TimeLag &&
		slices.Equal(r.Table, x.Table)
}

// lookup interpolates table at x; outside the table the nearest record
// is held
func lookup(table []LookupPoint, x float64, interp timeseries.Interpolation) float64 {
	n := len(table)
	if x <= table[0].X {
		return table[0].Y
	}
	if x >= table[n-1].X {
		return table[n-1].Y
	}

	// first record with X > x
	i := sort.Search(n, func(i int) bool { return table[i].X > x })
	lo, hi := table[i-1], table[i]
	if interp == timeseries.Block || hi.X == lo.X {
		return lo.Y
	}
	return lo.Y + (x-lo.X)/(hi.X-lo.X)*(hi.Y-lo.Y)
}

// TimeRule follows an absolute schedule
type TimeRule struct {
	RuleBase
	Series        *timeseries.Series
	Interpolation timeseries.Interpolation
	Extrapolation timeseries.Extrapolation
}

func (r *TimeRule) Kind() RuleKind       { return TimeRuleKind }
func (r *TimeRule) References() []string { return nil }
func (r *TimeRule) Reset()               {}

func (r *TimeRule) ComputeOutput(ev Evaluation) (float64, error) {
	if r.Series == nil {
		return 0, fmt.Errorf("rule %s: time series is missing", r.Name)
	}
	v, ok := r.Series.ValueAt(ev.Time, r.Interpolation, r.Extrapolation)
	if !ok {
		return 0, fmt.Errorf("rule %s: time series is empty", r.Name)
	}
	return v, nil
}

func (r *TimeRule) equal(o Rule) bool {
	x, ok := o.(*TimeRule)
	return ok && r.equalBase(&x.RuleBase) && r.Interpolation == x.Interpolation &&
		r.Extrapolation == x.Extrapolation && r.Series.Equal(x.Series)
}
