package rtcxml

import (
	"encoding/xml"
	"fmt"
	"maps"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/liamcoop/rtc/expression"
	"github.com/liamcoop/rtc/pixml"
	"github.com/liamcoop/rtc/rtcerr"
	"github.com/liamcoop/rtc/rules"
	"github.com/liamcoop/rtc/timeseries"
)

type decoder struct {
	codec *Codec
	diags Diagnostics

	groups map[string]*rules.ControlGroup
	order  []string

	pi      *pixml.Document
	imports map[string]piSeries
	initial map[string]float64
	delays  map[string]string

	// gates maps a rule id to the conditions on the path of triggers
	// leading to its first reference
	gates   map[string][]string
	decoded map[string]bool
}

// DecodeBundle decodes control groups from in-memory documents. A missing
// or unparsable tools configuration is an error; everything else is
// reported as a diagnostic and skipped.
func (c *Codec) DecodeBundle(b *Bundle) ([]*rules.ControlGroup, Diagnostics, error) {
	if b == nil || b.ToolsConfig == nil {
		return nil, nil, fmt.Errorf("%s: %w", ToolsConfigFile, rtcerr.ErrNotFound)
	}

	var tools toolsConfig
	if err := xml.Unmarshal(b.ToolsConfig, &tools); err != nil {
		return nil, nil, rtcerr.Malformed(ToolsConfigFile, err)
	}

	d := &decoder{
		codec:   c,
		groups:  make(map[string]*rules.ControlGroup),
		imports: make(map[string]piSeries),
		initial: make(map[string]float64),
		delays:  make(map[string]string),
		gates:   make(map[string][]string),
		decoded: make(map[string]bool),
	}
	d.validate(ToolsConfigFile, b.ToolsConfig)

	var state treeVectorFile
	if d.load(StateFile, b.State, &state) {
		d.state(&state)
	}
	if b.TimeSeries == nil {
		d.warn(TimeSeriesFile, "", fmt.Errorf("document is missing: %w", rtcerr.ErrNotFound))
	} else if doc, err := pixml.Unmarshal(b.TimeSeries); err != nil {
		d.fail(TimeSeriesFile, "", err)
	} else {
		d.validate(TimeSeriesFile, b.TimeSeries)
		d.pi = doc
	}
	var data dataConfig
	if d.load(DataConfigFile, b.DataConfig, &data) {
		d.dataConfig(&data)
	}

	d.tools(&tools)

	out := make([]*rules.ControlGroup, 0, len(d.order))
	for _, name := range d.order {
		if g := d.groups[name]; !g.IsEmpty() {
			out = append(out, g)
		}
	}
	c.logger.Debug("decoded control configuration", "groups", len(out), "diagnostics", len(d.diags))
	return out, d.diags, nil
}

func (d *decoder) report(sev Severity, document, subject string, err error) {
	diag := Diagnostic{Severity: sev, Document: document, Subject: subject, Err: err}
	d.diags = append(d.diags, diag)
	d.codec.emit(diag)
}

func (d *decoder) warn(document, subject string, err error) {
	d.report(SeverityWarning, document, subject, err)
}

func (d *decoder) fail(document, subject string, err error) {
	d.report(SeverityError, document, subject, err)
}

func (d *decoder) unknown(document, subject string, els []element) {
	for _, el := range els {
		d.warn(document, subject, fmt.Errorf("%w <%s>", ErrUnknownElement, el.XMLName.Local))
	}
}

// load unmarshals an optional document into v and validates it. It
// reports whether v holds a decoded document.
func (d *decoder) load(document string, data []byte, v any) bool {
	if data == nil {
		d.warn(document, "", fmt.Errorf("document is missing: %w", rtcerr.ErrNotFound))
		return false
	}
	if err := xml.Unmarshal(data, v); err != nil {
		d.fail(document, "", rtcerr.Malformed(document, err))
		return false
	}
	d.validate(document, data)
	return true
}

func (d *decoder) validate(document string, data []byte) {
	violations, err := validateDocument(document, data)
	if err != nil {
		d.fail(document, "", err)
		return
	}
	for _, v := range violations {
		d.fail(document, v.Field, v)
	}
}

// group returns the group called name, creating it on first use
func (d *decoder) group(name string) *rules.ControlGroup {
	g, ok := d.groups[name]
	if !ok {
		g = rules.NewControlGroup(name)
		d.groups[name] = g
		d.order = append(d.order, name)
	}
	return g
}

func (d *decoder) state(f *treeVectorFile) {
	if f.TreeVector == nil {
		return
	}
	for _, leaf := range f.TreeVector.Leaves {
		v, err := expression.ParseNumber(leaf.Vector)
		if err != nil {
			d.fail(StateFile, leaf.ID, rtcerr.Malformedf(StateFile, "initial value %q: %w", leaf.Vector, err))
			continue
		}
		d.initial[leaf.ID] = v
	}
}

func (d *decoder) dataConfig(data *dataConfig) {
	d.unknown(DataConfigFile, "", data.Unknown)

	for _, ts := range data.ExportSeries.Series {
		i, ok := parseID(ts.ID)
		if !ok {
			d.fail(DataConfigFile, ts.ID, rtcerr.Malformedf(DataConfigFile, "invalid series id %q", ts.ID))
			continue
		}
		g := d.group(i.Group)
		if i.Tag != tagOutput {
			continue
		}
		if ts.OpenMI == nil {
			d.fail(DataConfigFile, ts.ID, rtcerr.Malformedf(DataConfigFile, "output %s has no exchange item", ts.ID))
			continue
		}
		out := &rules.Output{
			Name:         i.Name,
			Location:     ts.OpenMI.ElementID,
			Quantity:     ts.OpenMI.QuantityID,
			Unit:         ts.OpenMI.Unit,
			InitialValue: d.initial[ts.ID],
		}
		if err := g.AddOutput(out); err != nil {
			d.fail(DataConfigFile, ts.ID, err)
		}
	}

	for _, ts := range data.ImportSeries.Series {
		i, ok := parseID(ts.ID)
		if !ok {
			d.fail(DataConfigFile, ts.ID, rtcerr.Malformedf(DataConfigFile, "invalid series id %q", ts.ID))
			continue
		}
		g := d.group(i.Group)
		switch {
		case i.Tag == tagInput && ts.OpenMI != nil:
			in := &rules.Input{
				Name:     i.Name,
				Location: ts.OpenMI.ElementID,
				Quantity: ts.OpenMI.QuantityID,
				Unit:     ts.OpenMI.Unit,
			}
			if err := g.AddInput(in); err != nil {
				d.fail(DataConfigFile, ts.ID, err)
			}
		case ts.PISeries != nil:
			d.imports[ts.ID] = *ts.PISeries
		default:
			d.fail(DataConfigFile, ts.ID, rtcerr.Malformedf(DataConfigFile, "import series %s has no source", ts.ID))
		}
	}
}

// series looks up the schedule declared for seriesID
func (d *decoder) series(seriesID string, kind timeseries.Kind) (*timeseries.Series, timeseries.Interpolation, timeseries.Extrapolation, error) {
	entry, ok := d.imports[seriesID]
	if !ok {
		return nil, 0, 0, fmt.Errorf("series %s is not declared in %s: %w", seriesID, DataConfigFile, rtcerr.ErrNotFound)
	}
	if d.pi == nil {
		return nil, 0, 0, fmt.Errorf("series %s: %s: %w", seriesID, TimeSeriesFile, rtcerr.ErrNotFound)
	}
	el, ok := d.pi.Find(entry.LocationID, entry.ParameterID)
	if !ok {
		return nil, 0, 0, fmt.Errorf("series %s/%s in %s: %w", entry.LocationID, entry.ParameterID, TimeSeriesFile, rtcerr.ErrNotFound)
	}
	s, err := pixml.Decode(el, kind)
	if err != nil {
		return nil, 0, 0, err
	}

	interp, ext := timeseries.Linear, timeseries.Constant
	if entry.InterpolationOption != "" {
		if interp, err = timeseries.ParseInterpolation(entry.InterpolationOption); err != nil {
			return nil, 0, 0, err
		}
	}
	if entry.ExtrapolationOption != "" {
		if ext, err = timeseries.ParseExtrapolation(entry.ExtrapolationOption); err != nil {
			return nil, 0, 0, err
		}
	}
	return s, interp, ext, nil
}

func (d *decoder) tools(tools *toolsConfig) {
	d.unknown(ToolsConfigFile, "", tools.Unknown)

	var ruleEls []ruleElement
	if tools.Rules != nil {
		ruleEls = tools.Rules.Rules
	}
	for _, el := range ruleEls {
		if i, ok := parseID(el.id()); ok {
			d.group(i.Group)
		}
	}

	if tools.Components != nil {
		for _, c := range tools.Components.Components {
			d.unknown(ToolsConfigFile, "component", c.Unknown)
			if c.UnitDelay != nil {
				d.delays[c.UnitDelay.ID] = c.UnitDelay.Input.X
			}
		}
	}

	// expressions and gates must be known before rules are built
	if tools.Triggers != nil {
		exprs := make(map[string]*expressionElement)
		var roots []*expressionElement
		d.collectTriggers(tools.Triggers.Triggers, nil, false, exprs, &roots)
		d.expressions(exprs, roots)
	}

	for _, el := range ruleEls {
		d.rule(el)
	}

	for _, ref := range slices.Sorted(maps.Keys(d.gates)) {
		if !d.decoded[ref] {
			d.fail(ToolsConfigFile, ref, &rtcerr.UnresolvedReferenceError{Subject: "trigger", Reference: ref})
		}
	}
}

// collectTriggers walks a trigger list. Standard triggers become
// conditions; a rule reference records the conditions on the path to it
// as its gates. Sibling triggers activate a rule independently, which gates
// cannot express, so only the first reference to a rule counts and later
// ones are reported, as are references under a false branch.
func (d *decoder) collectTriggers(list []trigger, path []string, negated bool, exprs map[string]*expressionElement, roots *[]*expressionElement) {
	for _, t := range list {
		d.unknown(ToolsConfigFile, "trigger", t.Unknown)

		if t.Expression != nil {
			el := t.Expression
			if _, dup := exprs[el.ID]; dup {
				d.fail(ToolsConfigFile, el.ID, &rtcerr.DuplicateNameError{Kind: "expression", Name: el.ID})
			} else {
				exprs[el.ID] = el
				if i, ok := parseID(el.ID); ok && !strings.Contains(i.Name, "/") {
					*roots = append(*roots, el)
				}
			}
		}

		if t.RuleReference != "" {
			ref := strings.TrimSpace(t.RuleReference)
			_, seen := d.gates[ref]
			switch {
			case negated:
				d.warn(ToolsConfigFile, ref, fmt.Errorf("%w: rule reference in a false branch", ErrUnsupported))
			case seen:
				d.warn(ToolsConfigFile, ref, fmt.Errorf("%w: rule referenced by more than one trigger, only the first is kept", ErrUnsupported))
			default:
				d.gates[ref] = slices.Clone(path)
			}
		}

		if st := t.Standard; st != nil {
			name := d.standard(st)
			if st.True != nil {
				next := path
				if name != "" {
					next = append(slices.Clone(path), name)
				}
				d.collectTriggers(st.True.Triggers, next, negated, exprs, roots)
			}
			if st.False != nil {
				d.collectTriggers(st.False.Triggers, path, true, exprs, roots)
			}
		}
	}
}

// standard decodes the condition of a standard trigger into its group and
// returns the condition name, or "" when the id is unusable
func (d *decoder) standard(st *standardElement) string {
	i, ok := parseID(st.ID)
	if !ok {
		d.fail(ToolsConfigFile, st.ID, rtcerr.Malformedf(ToolsConfigFile, "invalid condition id %q", st.ID))
		return ""
	}
	g := d.group(i.Group)

	c, err := d.condition(i, st)
	if err != nil {
		d.fail(ToolsConfigFile, st.ID, err)
		return i.Name
	}
	if err := g.AddCondition(c); err != nil {
		d.fail(ToolsConfigFile, st.ID, err)
	}
	return i.Name
}

func (d *decoder) condition(i id, st *standardElement) (rules.Condition, error) {
	cond := st.Condition
	op, err := rules.ParseRelationalOperator(strings.TrimSpace(cond.RelationalOperator))
	if err != nil {
		return nil, rtcerr.Malformed(ToolsConfigFile, err)
	}
	x1 := strings.TrimSpace(cond.X1Series.Value)

	switch i.Tag {
	case tagStandardCondition:
		ref, err := rules.ParseReferenceMode(cond.X1Series.Ref)
		if err != nil {
			return nil, rtcerr.Malformed(ToolsConfigFile, err)
		}
		var threshold expression.Node
		if cond.X2Series != nil {
			threshold = expression.NewParameter(signalName(i.Group, strings.TrimSpace(cond.X2Series.Value)))
		} else {
			v, err := expression.ParseNumber(cond.X2Value)
			if err != nil {
				return nil, rtcerr.Malformedf(ToolsConfigFile, "threshold %q: %w", cond.X2Value, err)
			}
			threshold = expression.NewConstant(v)
		}
		return &rules.StandardCondition{
			Name:      i.Name,
			Input:     signalName(i.Group, x1),
			Operator:  op,
			Threshold: threshold,
			Reference: ref,
		}, nil

	case tagDirectionalCondition:
		if cond.X2Series == nil || strings.TrimSpace(cond.X2Series.Value) != x1+"-1" {
			return nil, rtcerr.Malformedf(ToolsConfigFile, "directional condition must compare %s with %s-1", x1, x1)
		}
		return &rules.DirectionalCondition{Name: i.Name, Input: signalName(i.Group, x1), Operator: op}, nil

	case tagTimeCondition:
		s, _, ext, err := d.series(x1, timeseries.Boolean)
		if err != nil {
			return nil, err
		}
		return &rules.TimeCondition{Name: i.Name, Series: s, Extrapolation: ext}, nil

	default:
		return nil, fmt.Errorf("%w: condition type %q", ErrUnsupported, i.Tag)
	}
}

// expressions rebuilds one tree per root expression. Numbered sub
// expressions are inlined into the tree that reads them.
func (d *decoder) expressions(exprs map[string]*expressionElement, roots []*expressionElement) {
	used := make(map[string]bool)
	for _, el := range roots {
		i, _ := parseID(el.ID)
		root, err := d.expressionNode(i.Group, el, exprs, used, 0)
		if err != nil {
			d.fail(ToolsConfigFile, el.ID, err)
			continue
		}
		if err := d.group(i.Group).AddExpression(&rules.MathematicalExpression{Name: i.Name, Root: root}); err != nil {
			d.fail(ToolsConfigFile, el.ID, err)
		}
	}
	for _, exprID := range slices.Sorted(maps.Keys(exprs)) {
		if i, ok := parseID(exprID); !ok {
			d.fail(ToolsConfigFile, exprID, rtcerr.Malformedf(ToolsConfigFile, "invalid expression id %q", exprID))
		} else if strings.Contains(i.Name, "/") && !used[exprID] {
			d.warn(ToolsConfigFile, exprID, fmt.Errorf("%w: sub expression is not read by any expression", ErrUnsupported))
		}
	}
}

func (d *decoder) expressionNode(group string, el *expressionElement, exprs map[string]*expressionElement, used map[string]bool, depth int) (expression.Node, error) {
	if depth > len(exprs) {
		return nil, rtcerr.Malformedf(ToolsConfigFile, "expression %s is cyclic", el.ID)
	}
	operand := func(value string, series *seriesRef) (expression.Node, error) {
		if series == nil {
			v, err := expression.ParseNumber(value)
			if err != nil {
				return nil, rtcerr.Malformedf(ToolsConfigFile, "expression %s: operand %q: %w", el.ID, value, err)
			}
			return expression.NewConstant(v), nil
		}
		ref := strings.TrimSpace(series.Value)
		if sub, ok := exprs[ref]; ok {
			if i, _ := parseID(ref); strings.Contains(i.Name, "/") {
				used[ref] = true
				return d.expressionNode(group, sub, exprs, used, depth+1)
			}
		}
		return expression.NewParameter(signalName(group, ref)), nil
	}

	x1, err := operand(el.X1Value, el.X1Series)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(el.MathematicalOperator) == "" {
		return x1, nil
	}
	op, err := expression.ParseOperator(el.MathematicalOperator)
	if err != nil {
		return nil, rtcerr.Malformed(ToolsConfigFile, err)
	}
	x2, err := operand(el.X2Value, el.X2Series)
	if err != nil {
		return nil, err
	}
	return expression.NewBranch(op, x1, x2), nil
}

func (r ruleElement) id() string {
	switch {
	case r.PID != nil:
		return r.PID.ID
	case r.Interval != nil:
		return r.Interval.ID
	case r.LookupTable != nil:
		return r.LookupTable.ID
	case r.TimeRelative != nil:
		return r.TimeRelative.ID
	case r.TimeAbsolute != nil:
		return r.TimeAbsolute.ID
	case r.Factor != nil:
		return r.Factor.ID
	default:
		return ""
	}
}

// numbers parses a run of numeric fields and keeps the first error
type numbers struct {
	err error
}

func (n *numbers) parse(field, s string) float64 {
	if n.err != nil {
		return 0
	}
	v, err := expression.ParseNumber(s)
	if err != nil {
		n.err = rtcerr.Malformedf(ToolsConfigFile, "%s %q: %w", field, s, err)
	}
	return v
}

func (d *decoder) rule(el ruleElement) {
	d.unknown(ToolsConfigFile, "rule", el.Unknown)
	ruleID := el.id()
	if ruleID == "" {
		if len(el.Unknown) == 0 {
			d.fail(ToolsConfigFile, "rule", rtcerr.Malformedf(ToolsConfigFile, "rule has no content"))
		}
		return
	}
	i, ok := parseID(ruleID)
	if !ok {
		d.fail(ToolsConfigFile, ruleID, rtcerr.Malformedf(ToolsConfigFile, "invalid rule id %q", ruleID))
		return
	}
	d.decoded[ruleID] = true

	r, err := d.buildRule(i, el)
	if err != nil {
		d.fail(ToolsConfigFile, ruleID, err)
		return
	}
	if err := d.group(i.Group).AddRule(r); err != nil {
		d.fail(ToolsConfigFile, ruleID, err)
	}
}

func (d *decoder) buildRule(i id, el ruleElement) (rules.Rule, error) {
	base := func(y string) rules.RuleBase {
		return rules.RuleBase{
			Name:       i.Name,
			Output:     signalName(i.Group, strings.TrimSpace(y)),
			Conditions: slices.Clone(d.gates[i.String()]),
		}
	}
	input := func(x string) string { return signalName(i.Group, strings.TrimSpace(x)) }
	var n numbers

	switch {
	case el.Factor != nil:
		x := el.Factor
		r := &rules.FactorRule{RuleBase: base(x.Output.Y), Input: input(x.Input.X)}
		switch {
		case x.FactorSeries != "":
			r.Factor = expression.NewParameter(input(x.FactorSeries))
		case x.Factor != "":
			r.Factor = expression.NewConstant(n.parse("factor", x.Factor))
		default:
			return nil, rtcerr.Malformedf(ToolsConfigFile, "factor rule has no factor")
		}
		return r, n.err

	case el.LookupTable != nil:
		x := el.LookupTable
		interp, err := timeseries.ParseInterpolation(strings.TrimSpace(x.InterpolationOption))
		if err != nil {
			return nil, rtcerr.Malformed(ToolsConfigFile, err)
		}
		r := &rules.HydraulicRule{RuleBase: base(x.Output.Y), Interpolation: interp}
		for _, rec := range x.Table.Records {
			r.Table = append(r.Table, rules.LookupPoint{X: n.parse("x", rec.X), Y: n.parse("y", rec.Y)})
		}
		src := strings.TrimSpace(x.Input.X.Value)
		if ref, ok := parseID(src); ok && ref.Tag == tagDelayed {
			vector, index, err := delayedIndex(ref.Name)
			if err != nil {
				return nil, rtcerr.Malformed(ToolsConfigFile, err)
			}
			vectorID := makeID(tagDelayed, ref.Group, vector)
			delayed, ok := d.delays[vectorID]
			if !ok {
				return nil, &rtcerr.UnresolvedReferenceError{Subject: "rule " + i.Name, Reference: vectorID}
			}
			src = strings.TrimSpace(delayed)
			r.TimeLag = index + 1
		}
		r.Input = input(src)
		return r, n.err

	case el.Interval != nil:
		x := el.Interval
		r := &rules.IntervalRule{
			RuleBase:     base(x.Output.Y),
			Input:        input(x.Input.X),
			SettingBelow: n.parse("settingBelow", x.SettingBelow),
			SettingAbove: n.parse("settingAbove", x.SettingAbove),
			MaxStep:      n.parse("settingMaxStep", x.SettingMaxStep),
		}
		if x.DeadbandSetpointRelative != "" {
			r.DeadbandType = rules.DeadbandRelative
			r.Deadband = n.parse("deadbandSetpointRelative", x.DeadbandSetpointRelative)
		} else {
			r.Deadband = n.parse("deadbandSetpointAbsolute", x.DeadbandSetpointAbsolute)
		}
		sp, err := d.setPoint(i, x.Input.SetpointValue, x.Input.Setpoint, &n)
		if err != nil {
			return nil, err
		}
		r.SetPoint = sp
		return r, n.err

	case el.PID != nil:
		x := el.PID
		r := &rules.PIDRule{
			RuleBase:        base(x.Output.Y),
			Input:           input(x.Input.X),
			Kp:              n.parse("kp", x.Kp),
			Ki:              n.parse("ki", x.Ki),
			Kd:              n.parse("kd", x.Kd),
			SettingMin:      n.parse("settingMin", x.SettingMin),
			SettingMax:      n.parse("settingMax", x.SettingMax),
			SettingMaxSpeed: n.parse("settingMaxSpeed", x.SettingMaxSpeed),
		}
		sp, err := d.setPoint(i, x.Input.SetpointValue, x.Input.SetpointSeries, &n)
		if err != nil {
			return nil, err
		}
		r.SetPoint = sp
		return r, n.err

	case el.TimeRelative != nil:
		x := el.TimeRelative
		interp, err := timeseries.ParseInterpolation(strings.TrimSpace(x.InterpolationOption))
		if err != nil {
			return nil, rtcerr.Malformed(ToolsConfigFile, err)
		}
		r := &rules.RelativeTimeRule{
			RuleBase:      base(x.Output.Y),
			FromValue:     strings.TrimSpace(x.ValueOption) == valueRelative,
			MaximumPeriod: seconds(n.parse("maximumPeriod", x.MaximumPeriod)),
			Interpolation: interp,
		}
		for _, rec := range x.ControlTable.Records {
			r.Table = append(r.Table, rules.TimePoint{Offset: seconds(n.parse("time", rec.Time)), Value: n.parse("value", rec.Value)})
		}
		return r, n.err

	case el.TimeAbsolute != nil:
		x := el.TimeAbsolute
		s, interp, ext, err := d.series(strings.TrimSpace(x.Input.X), timeseries.Numeric)
		if err != nil {
			return nil, err
		}
		return &rules.TimeRule{RuleBase: base(x.Output.Y), Series: s, Interpolation: interp, Extrapolation: ext}, nil
	}
	return nil, fmt.Errorf("%w: rule %s", ErrUnsupported, i)
}

// setPoint decodes a constant setpoint value or a setpoint reference. A
// reference tagged SP names a scheduled setpoint; anything else is a signal.
func (d *decoder) setPoint(i id, value, ref string, n *numbers) (rules.SetPoint, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return rules.ConstantSetPoint(n.parse("setpointValue", value)), nil
	}
	if sp, ok := parseID(ref); ok && sp.Tag == tagSetPoint {
		s, interp, ext, err := d.series(ref, timeseries.Numeric)
		if err != nil {
			return rules.SetPoint{}, fmt.Errorf("setpoint: %w", err)
		}
		out := rules.SeriesSetPoint(s, interp)
		out.Extrapolation = ext
		return out, nil
	}
	return rules.SignalSetPoint(signalName(i.Group, ref)), nil
}

func seconds(v float64) time.Duration {
	return time.Duration(math.Round(v * float64(time.Second)))
}
