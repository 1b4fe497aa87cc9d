package rules

import (
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/liamcoop/rtc/timeseries"
)

// PIDRule is a proportional-integral-derivative controller in positional
// form. The integral, previous error and previous output are kept while the
// rule stays active and cleared by Reset.
type PIDRule struct {
	RuleBase
	Input    string
	SetPoint SetPoint

	Kp float64
	Ki float64
	Kd float64

	// The output is clamped to [SettingMin, SettingMax] when SettingMax is
	// greater than SettingMin.
	SettingMin float64
	SettingMax float64

	// SettingMaxSpeed limits the change of the output per second; 0 disables it
	SettingMaxSpeed float64

	state pidState
}

type pidState struct {
	running    bool
	integral   float64
	prevError  float64
	prevOutput float64
	prevTime   time.Time
}

func (r *PIDRule) Kind() RuleKind { return PIDRuleKind }
func (r *PIDRule) Reset()         { r.state = pidState{} }

func (r *PIDRule) References() []string {
	if r.SetPoint.Kind == SetPointSignal {
		return []string{r.Input, r.SetPoint.Signal}
	}
	return []string{r.Input}
}

// Integral returns the accumulated integral term
func (r *PIDRule) Integral() float64 { return r.state.integral }

func (r *PIDRule) ComputeOutput(ev Evaluation) (float64, error) {
	subject := "rule " + r.Name
	x, err := ev.lookup(subject, r.Input)
	if err != nil {
		return 0, err
	}
	sp, err := r.SetPoint.At(subject, ev)
	if err != nil {
		return 0, err
	}
	e := sp - x

	var dt float64
	if r.state.running {
		dt = ev.Time.Sub(r.state.prevTime).Seconds()
		if dt <= 0 {
			return 0, fmt.Errorf("%s: time %s is not after previous step %s", subject,
				ev.Time.Format(time.RFC3339), r.state.prevTime.Format(time.RFC3339))
		}
	}

	integral := r.state.integral + e*dt
	var derivative float64
	if dt > 0 {
		derivative = (e - r.state.prevError) / dt
	}

	u := r.Kp*e + r.Ki*integral + r.Kd*derivative
	clamped := false
	if r.SettingMax > r.SettingMin {
		if u > r.SettingMax {
			u, clamped = r.SettingMax, true
		} else if u < r.SettingMin {
			u, clamped = r.SettingMin, true
		}
	}
	if r.SettingMaxSpeed > 0 && dt > 0 {
		limit := r.SettingMaxSpeed * dt
		u = math.Max(r.state.prevOutput-limit, math.Min(r.state.prevOutput+limit, u))
	}
	if math.IsNaN(u) || math.IsInf(u, 0) {
		return 0, fmt.Errorf("%s: controller output is not finite", subject)
	}

	// anti-windup: the integral does not grow while the output is saturated
	if !clamped {
		r.state.integral = integral
	}
	r.state.running = true
	r.state.prevError = e
	r.state.prevOutput = u
	r.state.prevTime = ev.Time
	return u, nil
}

func (r *PIDRule) equal(o Rule) bool {
	x, ok := o.(*PIDRule)
	return ok && r.equalBase(&x.RuleBase) && r.Input == x.Input && r.SetPoint.equal(x.SetPoint) &&
		r.Kp == x.Kp && r.Ki == x.Ki && r.Kd == x.Kd &&
		r.SettingMin == x.SettingMin && r.SettingMax == x.SettingMax &&
		r.SettingMaxSpeed == x.SettingMaxSpeed
}

// DeadbandType selects how the interval deadband is interpreted
type DeadbandType int

const (
	// DeadbandAbsolute is a fixed distance around the setpoint
	DeadbandAbsolute DeadbandType = iota
	// DeadbandRelative is a percentage of the setpoint
	DeadbandRelative
)

// IntervalRule switches between two settings when the input leaves a
// deadband around the setpoint. Inside the deadband the previous setting is
// retained. MaxStep limits the change of the output per step; 0 disables it.
type IntervalRule struct {
	RuleBase
	Input        string
	SetPoint     SetPoint
	SettingBelow float64
	SettingAbove float64
	MaxStep      float64
	Deadband     float64
	DeadbandType DeadbandType

	state intervalState
}

type intervalState struct {
	running bool
	last    float64
}

func (r *IntervalRule) Kind() RuleKind { return IntervalRuleKind }
func (r *IntervalRule) Reset()         { r.state = intervalState{} }

func (r *IntervalRule) References() []string {
	if r.SetPoint.Kind == SetPointSignal {
		return []string{r.Input, r.SetPoint.Signal}
	}
	return []string{r.Input}
}

func (r *IntervalRule) ComputeOutput(ev Evaluation) (float64, error) {
	subject := "rule " + r.Name
	x, err := ev.lookup(subject, r.Input)
	if err != nil {
		return 0, err
	}
	sp, err := r.SetPoint.At(subject, ev)
	if err != nil {
		return 0, err
	}

	band := r.Deadband
	if r.DeadbandType == DeadbandRelative {
		band = math.Abs(sp) * r.Deadband / 100
	}

	previous := ev.Current
	if r.state.running {
		previous = r.state.last
	}

	target := previous
	switch {
	case x < sp-band:
		target = r.SettingBelow
	case x > sp+band:
		target = r.SettingAbove
	}

	if r.MaxStep > 0 {
		target = math.Max(previous-r.MaxStep, math.Min(previous+r.MaxStep, target))
	}

	r.state = intervalState{running: true, last: target}
	return target, nil
}

func (r *IntervalRule) equal(o Rule) bool {
	x, ok := o.(*IntervalRule)
	return ok && r.equalBase(&x.RuleBase) && r.Input == x.Input && r.SetPoint.equal(x.SetPoint) &&
		r.SettingBelow == x.SettingBelow && r.SettingAbove == x.SettingAbove &&
		r.MaxStep == x.MaxStep && r.Deadband == x.Deadband && r.DeadbandType == x.DeadbandType
}

// TimePoint is one record of a relative time table
type TimePoint struct {
	Offset time.Duration
	Value  float64
}

// RelativeTimeRule follows a table indexed by the time elapsed since the
// rule became active. With FromValue the table is entered at the offset
// whose value matches the output at activation. A positive MaximumPeriod
// restarts the timer once it has elapsed.
type RelativeTimeRule struct {
	RuleBase
	Table         []TimePoint
	FromValue     bool
	MaximumPeriod time.Duration
	Interpolation timeseries.Interpolation

	running bool
	started time.Time
	shift   time.Duration
}

func (r *RelativeTimeRule) Kind() RuleKind       { return RelativeTimeRuleKind }
func (r *RelativeTimeRule) References() []string { return nil }

func (r *RelativeTimeRule) Reset() {
	r.running = false
	r.started = time.Time{}
	r.shift = 0
}

// Activated reports when the current active period began
func (r *RelativeTimeRule) Activated() (time.Time, bool) {
	return r.started, r.running
}

func (r *RelativeTimeRule) ComputeOutput(ev Evaluation) (float64, error) {
	if len(r.Table) == 0 {
		return 0, fmt.Errorf("rule %s: control table is empty", r.Name)
	}
	if !r.running {
		r.running = true
		r.started = ev.Time
		r.shift = 0
		if r.FromValue {
			r.shift = r.offsetOf(ev.Current)
		}
	}

	elapsed := ev.Time.Sub(r.started) + r.shift
	if r.MaximumPeriod > 0 && elapsed >= r.MaximumPeriod {
		elapsed %= r.MaximumPeriod
	}
	return r.valueAt(elapsed), nil
}

func (r *RelativeTimeRule) valueAt(elapsed time.Duration) float64 {
	table := make([]LookupPoint, len(r.Table))
	for i, p := range r.Table {
		table[i] = LookupPoint{X: p.Offset.Seconds(), Y: p.Value}
	}
	return lookup(table, elapsed.Seconds(), r.Interpolation)
}

// offsetOf finds the first table position whose value equals v
func (r *RelativeTimeRule) offsetOf(v float64) time.Duration {
	for i := 0; i+1 < len(r.Table); i++ {
		a, b := r.Table[i], r.Table[i+1]
		if a.Value == v {
			return a.Offset
		}
		lo, hi := math.Min(a.Value, b.Value), math.Max(a.Value, b.Value)
		if v < lo || v > hi {
			continue
		}
		if r.Interpolation == timeseries.Block {
			return b.Offset
		}
		frac := (v - a.Value) / (b.Value - a.Value)
		return a.Offset + time.Duration(frac*float64(b.Offset-a.Offset))
	}
	if n := len(r.Table); n > 0 && r.Table[n-1].Value == v {
		return r.Table[n-1].Offset
	}
	return 0
}

func (r *RelativeTimeRule) equal(o Rule) bool {
	x, ok := o.(*RelativeTimeRule)
	return ok && r.equalBase(&x.RuleBase) && r.FromValue == x.FromValue &&
		r.MaximumPeriod == x.MaximumPeriod && r.Interpolation == x.Interpolation &&
		slices.Equal(r.Table, x.Table)
}
