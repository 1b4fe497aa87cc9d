package rules

import (
	"cmp"
	"errors"
	"fmt"
	"slices"

	"github.com/liamcoop/rtc/expression"
	"github.com/liamcoop/rtc/rtcerr"
)

// IssueKind classifies a validation issue
type IssueKind int

const (
	IssueUnresolvedReference IssueKind = iota
	IssueCycle
	IssueInvalidConfiguration
)

func (k IssueKind) String() string {
	switch k {
	case IssueUnresolvedReference:
		return "unresolved-reference"
	case IssueCycle:
		return "cycle"
	default:
		return "invalid-configuration"
	}
}

// Issue is one finding of Validate. Subject is the name of the component
// that holds the problem; Reference is the offending name, if any.
type Issue struct {
	Kind        IssueKind
	SubjectKind string
	Subject     string
	Reference   string
	Message     string
}

// Err converts the issue into an error. Unresolved references become
// *rtcerr.UnresolvedReferenceError.
func (i Issue) Err() error {
	if i.Kind == IssueUnresolvedReference {
		return &rtcerr.UnresolvedReferenceError{Subject: i.SubjectKind + " " + i.Subject, Reference: i.Reference}
	}
	return fmt.Errorf("%s %s: %s", i.SubjectKind, i.Subject, i.Message)
}

func (i Issue) String() string {
	return i.Err().Error()
}

// Report is the result of validating one control group. An empty report
// means the group is consistent.
type Report struct {
	Group  string
	Issues []Issue
}

// OK reports whether the report has no issues
func (r Report) OK() bool {
	return len(r.Issues) == 0
}

// Err joins all issues into a single error, or returns nil
func (r Report) Err() error {
	if r.OK() {
		return nil
	}
	errs := make([]error, len(r.Issues))
	for i, issue := range r.Issues {
		errs[i] = issue.Err()
	}
	return fmt.Errorf("control group %s: %w", r.Group, errors.Join(errs...))
}

type validator struct {
	g      *ControlGroup
	report Report
}

func (v *validator) add(kind IssueKind, subjectKind, subject, ref, msg string) {
	v.report.Issues = append(v.report.Issues, Issue{
		Kind:        kind,
		SubjectKind: subjectKind,
		Subject:     subject,
		Reference:   ref,
		Message:     msg,
	})
}

func (v *validator) signal(subjectKind, subject, ref string) {
	if v.g.Resolve(ref) == SignalUnresolved {
		v.add(IssueUnresolvedReference, subjectKind, subject, ref, "reference does not resolve within the group")
	}
}

// Validate checks that every reference of every rule, condition and
// expression resolves within the group. It produces one issue per
// unresolved reference and never fails; further issues report expression
// cycles and unusable rule configuration.
func (g *ControlGroup) Validate() Report {
	v := &validator{g: g, report: Report{Group: g.Name}}

	for _, r := range g.rules {
		name := r.RuleName()
		if _, ok := g.Output(r.OutputName()); !ok {
			v.add(IssueUnresolvedReference, "rule", name, r.OutputName(), "output does not exist")
		}
		for _, c := range r.base().Conditions {
			if _, ok := g.Condition(c); !ok {
				v.add(IssueUnresolvedReference, "rule", name, c, "gating condition does not exist")
			}
		}
		for _, ref := range r.References() {
			v.signal("rule", name, ref)
		}
		v.ruleConfiguration(r)
	}

	for _, c := range g.conditions {
		for _, ref := range c.References() {
			v.signal("condition", c.ConditionName(), ref)
		}
		switch x := c.(type) {
		case *StandardCondition:
			if x.Threshold == nil {
				v.add(IssueInvalidConfiguration, "condition", x.Name, "", "threshold is missing")
			}
		case *TimeCondition:
			if x.Series == nil || x.Series.Len() == 0 {
				v.add(IssueInvalidConfiguration, "condition", x.Name, "", "time series is empty")
			}
		}
	}

	for _, e := range g.expressions {
		if e.Root == nil {
			v.add(IssueInvalidConfiguration, "expression", e.Name, "", "expression is empty")
			continue
		}
		for _, ref := range uniqueReferences(e.Root) {
			v.signal("expression", e.Name, ref)
		}
	}
	for _, name := range g.expressionCycles() {
		v.add(IssueCycle, "expression", name, name, "expression depends on its own result")
	}

	return v.report
}

func (v *validator) ruleConfiguration(r Rule) {
	name := r.RuleName()
	switch x := r.(type) {
	case *FactorRule:
		if x.Factor == nil {
			v.add(IssueInvalidConfiguration, "rule", name, "", "factor is missing")
		}
	case *HydraulicRule:
		if len(x.Table) == 0 {
			v.add(IssueInvalidConfiguration, "rule", name, "", "lookup table is empty")
		} else if !slices.IsSortedFunc(x.Table, func(a, b LookupPoint) int { return cmp.Compare(a.X, b.X) }) {
			v.add(IssueInvalidConfiguration, "rule", name, "", "lookup table is not sorted by x")
		}
		if x.TimeLag < 0 {
			v.add(IssueInvalidConfiguration, "rule", name, "", "time lag cannot be negative")
		}
	case *IntervalRule:
		v.setPoint(name, x.SetPoint)
	case *PIDRule:
		v.setPoint(name, x.SetPoint)
	case *RelativeTimeRule:
		if len(x.Table) == 0 {
			v.add(IssueInvalidConfiguration, "rule", name, "", "control table is empty")
		} else if !slices.IsSortedFunc(x.Table, func(a, b TimePoint) int { return cmp.Compare(a.Offset, b.Offset) }) {
			v.add(IssueInvalidConfiguration, "rule", name, "", "control table is not sorted by time")
		}
	case *TimeRule:
		if x.Series == nil || x.Series.Len() == 0 {
			v.add(IssueInvalidConfiguration, "rule", name, "", "time series is empty")
		}
	}
}

func (v *validator) setPoint(rule string, sp SetPoint) {
	if sp.Kind == SetPointSeries && (sp.Series == nil || sp.Series.Len() == 0) {
		v.add(IssueInvalidConfiguration, "rule", rule, "", "setpoint series is empty")
	}
}

// expressionCycles returns the names of expressions that reach themselves
// through references to other expressions, in group order
func (g *ControlGroup) expressionCycles() []string {
	var cyclic []string
	for _, e := range g.expressions {
		if g.reaches(e.Name, e.Name, map[string]bool{}) {
			cyclic = append(cyclic, e.Name)
		}
	}
	return cyclic
}

func (g *ControlGroup) reaches(from, target string, seen map[string]bool) bool {
	e, ok := g.Expression(from)
	if !ok || seen[from] {
		return false
	}
	seen[from] = true
	for _, ref := range uniqueReferences(e.Root) {
		if g.Resolve(ref) != SignalExpression {
			continue
		}
		if ref == target || g.reaches(ref, target, seen) {
			return true
		}
	}
	return false
}

func uniqueReferences(n expression.Node) []string {
	refs := expression.References(n)
	var out []string
	for _, r := range refs {
		if !slices.Contains(out, r) {
			out = append(out, r)
		}
	}
	return out
}
