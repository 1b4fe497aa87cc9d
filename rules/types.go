package rules

import (
	"fmt"
	"strings"
	"time"

	"github.com/liamcoop/rtc/expression"
	"github.com/liamcoop/rtc/rtcerr"
	"github.com/liamcoop/rtc/timeseries"
)

// Input is a signal observed from the hydraulic model
type Input struct {
	Name     string
	Location string
	Quantity string
	Unit     string
}

// Output is a signal written back to a hydraulic structure
type Output struct {
	Name         string
	Location     string
	Quantity     string
	Unit         string
	InitialValue float64
}

// MathematicalExpression is a named, reusable expression tree
type MathematicalExpression struct {
	Name string
	Root expression.Node
}

// Evaluation carries everything a condition or rule reads in one step
type Evaluation struct {
	Time     time.Time
	Bindings expression.Bindings

	// Current is the value of the rule's output before this step
	Current float64
}

func (ev Evaluation) lookup(subject, ref string) (float64, error) {
	v, ok := ev.Bindings[ref]
	if !ok {
		return 0, &rtcerr.UnresolvedReferenceError{Subject: subject, Reference: ref}
	}
	return v, nil
}

// RelationalOperator compares a signal with a threshold
type RelationalOperator int

const (
	Equal RelationalOperator = iota
	Unequal
	Greater
	GreaterEqual
	Less
	LessEqual
)

var relationalNames = [...]string{
	Equal:        "Equal",
	Unequal:      "Unequal",
	Greater:      "Greater",
	GreaterEqual: "GreaterEqual",
	Less:         "Less",
	LessEqual:    "LessEqual",
}

func (o RelationalOperator) String() string {
	if o < Equal || o > LessEqual {
		return fmt.Sprintf("RelationalOperator(%d)", int(o))
	}
	return relationalNames[o]
}

// ParseRelationalOperator converts a wire name such as "Greater"
func ParseRelationalOperator(s string) (RelationalOperator, error) {
	for op, name := range relationalNames {
		if name == s {
			return RelationalOperator(op), nil
		}
	}
	return 0, fmt.Errorf("unknown relational operator %q", s)
}

// Compare applies the operator to x and y
func (o RelationalOperator) Compare(x, y float64) bool {
	switch o {
	case Equal:
		return x == y
	case Unequal:
		return x != y
	case Greater:
		return x > y
	case GreaterEqual:
		return x >= y
	case Less:
		return x < y
	case LessEqual:
		return x <= y
	default:
		return false
	}
}

// SetPointKind is the source of a controller setpoint
type SetPointKind int

const (
	SetPointConstant SetPointKind = iota
	SetPointSignal
	SetPointSeries
)

// SetPoint is the target value of a PID or interval controller. It is a
// constant, another signal of the group, or a time series.
type SetPoint struct {
	Kind          SetPointKind
	Value         float64
	Signal        string
	Series        *timeseries.Series
	Interpolation timeseries.Interpolation
	Extrapolation timeseries.Extrapolation
}

// ConstantSetPoint returns a fixed setpoint
func ConstantSetPoint(v float64) SetPoint {
	return SetPoint{Kind: SetPointConstant, Value: v}
}

// SignalSetPoint returns a setpoint read from another signal
func SignalSetPoint(name string) SetPoint {
	return SetPoint{Kind: SetPointSignal, Signal: name}
}

// SeriesSetPoint returns a scheduled setpoint
func SeriesSetPoint(s *timeseries.Series, interp timeseries.Interpolation) SetPoint {
	return SetPoint{Kind: SetPointSeries, Series: s, Interpolation: interp}
}

// At returns the setpoint value for ev
func (sp SetPoint) At(subject string, ev Evaluation) (float64, error) {
	switch sp.Kind {
	case SetPointConstant:
		return sp.Value, nil
	case SetPointSignal:
		return ev.lookup(subject, sp.Signal)
	case SetPointSeries:
		if sp.Series == nil {
			return 0, fmt.Errorf("%s: setpoint series is missing", subject)
		}
		v, ok := sp.Series.ValueAt(ev.Time, sp.Interpolation, sp.Extrapolation)
		if !ok {
			return 0, fmt.Errorf("%s: setpoint series is empty", subject)
		}
		return v, nil
	default:
		return 0, fmt.Errorf("%s: unknown setpoint kind %d", subject, sp.Kind)
	}
}

func (sp SetPoint) equal(o SetPoint) bool {
	if sp.Kind != o.Kind {
		return false
	}
	switch sp.Kind {
	case SetPointConstant:
		return sp.Value == o.Value
	case SetPointSignal:
		return sp.Signal == o.Signal
	default:
		return sp.Interpolation == o.Interpolation &&
			sp.Extrapolation == o.Extrapolation &&
			sp.Series.Equal(o.Series)
	}
}

// ValidateName checks a group or component name. Names become part of
// slash separated identifiers in the exchange format.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("name %q has leading or trailing whitespace", name)
	}
	if strings.ContainsAny(name, "/\n\r\t") {
		return fmt.Errorf("name %q cannot contain '/' or control characters", name)
	}
	if strings.HasPrefix(name, "[") {
		return fmt.Errorf("name %q cannot start with '['", name)
	}
	if len(name) > 200 {
		return fmt.Errorf("name length %d exceeds maximum of 200 characters", len(name))
	}
	return nil
}
