package rtcxml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"

	"github.com/liamcoop/rtc/expression"
	"github.com/liamcoop/rtc/pixml"
	"github.com/liamcoop/rtc/rtcerr"
	"github.com/liamcoop/rtc/rules"
	"github.com/liamcoop/rtc/timeseries"
)

const (
	refImplicit       = "IMPLICIT"
	pidMode           = "PIDVEL"
	relativeTimeMode  = "RETAINVALUEWHENINACTIVE"
	valueAbsolute     = "ABSOLUTE"
	valueRelative     = "RELATIVE"
	parameterSeries   = "TimeSeries"
	parameterSetPoint = "SP"
)

type encoder struct {
	tools      toolsConfig
	data       dataConfig
	series     *pixml.Document
	state      treeVectorFile
	components []component
	rules      []ruleElement
	exprs      []trigger
	standards  []trigger
}

// EncodeBundle renders groups as exchange documents. Every generated
// document is checked against its schema before it is returned. The time
// series document is nil when no component carries a series.
func (c *Codec) EncodeBundle(groups []*rules.ControlGroup) (*Bundle, error) {
	e := &encoder{series: pixml.NewDocument()}
	e.tools.General = general{Description: "RTC Model", PoolRoutingScheme: "Theta", Theta: "0.5"}
	e.data.ImportSeries.PITimeSeriesFile = &piTimeSeriesFile{TimeSeriesFile: TimeSeriesFile, UseBinFile: "false"}
	e.data.ExportSeries.PITimeSeriesFile = &piTimeSeriesFile{TimeSeriesFile: timeSeriesExportFile, UseBinFile: "false"}

	seen := make(map[string]bool)
	for _, g := range groups {
		if g == nil || g.IsEmpty() {
			continue
		}
		if err := rules.ValidateName(g.Name); err != nil {
			return nil, fmt.Errorf("invalid control group name: %w", err)
		}
		if seen[g.Name] {
			return nil, &rtcerr.DuplicateNameError{Kind: "control group", Name: g.Name}
		}
		seen[g.Name] = true

		if err := e.group(g); err != nil {
			return nil, fmt.Errorf("control group %s: %w", g.Name, err)
		}
	}

	if len(e.components) > 0 {
		e.tools.Components = &componentList{Components: e.components}
	}
	if len(e.rules) > 0 {
		e.tools.Rules = &ruleList{Rules: e.rules}
	}
	if triggers := append(e.exprs, e.standards...); len(triggers) > 0 {
		e.tools.Triggers = &triggerList{Triggers: triggers}
	}

	var b Bundle
	var err error
	if b.ToolsConfig, err = marshal(&e.tools); err != nil {
		return nil, err
	}
	if b.DataConfig, err = marshal(&e.data); err != nil {
		return nil, err
	}
	if b.State, err = marshal(&e.state); err != nil {
		return nil, err
	}
	if len(e.series.Series) > 0 {
		if b.TimeSeries, err = pixml.Marshal(e.series); err != nil {
			return nil, err
		}
	}

	if err := selfValidate(&b); err != nil {
		return nil, err
	}
	c.logger.Debug("encoded control configuration", "groups", len(seen), "rules", len(e.rules))
	return &b, nil
}

func (e *encoder) group(g *rules.ControlGroup) error {
	for _, in := range g.Inputs() {
		e.data.ImportSeries.Series = append(e.data.ImportSeries.Series, dataSeries{
			ID:     makeID(tagInput, g.Name, in.Name),
			OpenMI: &exchangeItem{ElementID: in.Location, QuantityID: in.Quantity, Unit: in.Unit},
		})
	}

	for _, out := range g.Outputs() {
		outID := makeID(tagOutput, g.Name, out.Name)
		e.data.ExportSeries.Series = append(e.data.ExportSeries.Series, dataSeries{
			ID:     outID,
			OpenMI: &exchangeItem{ElementID: out.Location, QuantityID: out.Quantity, Unit: out.Unit},
		})
		if e.state.TreeVector == nil {
			e.state.TreeVector = &treeVector{}
		}
		e.state.TreeVector.Leaves = append(e.state.TreeVector.Leaves, treeVectorLeaf{
			ID:     outID,
			Vector: expression.FormatNumber(out.InitialValue),
		})
	}

	for _, r := range g.Rules() {
		for _, c := range r.GatingConditions() {
			if _, ok := g.Condition(c); !ok {
				return &rtcerr.UnresolvedReferenceError{Subject: "rule " + r.RuleName(), Reference: c}
			}
		}
		el, err := e.rule(g, r)
		if err != nil {
			return fmt.Errorf("rule %s: %w", r.RuleName(), err)
		}
		e.rules = append(e.rules, el)
	}

	for _, ex := range g.Expressions() {
		if err := e.expression(g, ex); err != nil {
			return fmt.Errorf("expression %s: %w", ex.Name, err)
		}
	}

	layout, err := layoutGates(g)
	if err != nil {
		return err
	}
	standards := make(map[string]*standardElement)
	for _, c := range g.Conditions() {
		st, err := e.condition(g, c)
		if err != nil {
			return fmt.Errorf("condition %s: %w", c.ConditionName(), err)
		}
		standards[c.ConditionName()] = st
	}
	for _, c := range g.Conditions() {
		name := c.ConditionName()
		st := standards[name]
		for _, r := range layout.rules[name] {
			st.True.Triggers = append(st.True.Triggers, trigger{RuleReference: ruleID(g, r)})
		}
		for _, child := range layout.children[name] {
			st.True.Triggers = append(st.True.Triggers, trigger{Standard: standards[child]})
		}
		if layout.parent[name] == "" {
			e.standards = append(e.standards, trigger{Standard: st})
		}
	}
	return nil
}

func ruleID(g *rules.ControlGroup, r rules.Rule) string {
	return makeID(ruleTag(r.Kind()), g.Name, r.RuleName())
}

func (e *encoder) rule(g *rules.ControlGroup, r rules.Rule) (ruleElement, error) {
	rid := ruleID(g, r)
	num := expression.FormatNumber
	output := outputID(g, r.OutputName())

	switch x := r.(type) {
	case *rules.FactorRule:
		el := &factorElement{ID: rid, Input: xInput{X: signalID(g, x.Input)}, Output: yOutput{Y: output}}
		switch f := x.Factor.(type) {
		case expression.Constant:
			el.Factor = num(f.Value)
		case expression.Parameter:
			el.FactorSeries = signalID(g, f.Reference)
		default:
			return ruleElement{}, fmt.Errorf("factor must be a constant or a reference, got %q", expression.String(x.Factor))
		}
		return ruleElement{Factor: el}, nil

	case *rules.HydraulicRule:
		if x.TimeLag < 0 {
			return ruleElement{}, fmt.Errorf("time lag cannot be negative")
		}
		el := &lookupTableElement{
			ID:                  rid,
			InterpolationOption: x.Interpolation.String(),
			ExtrapolationOption: timeseries.Constant.String(),
			Output:              yOutput{Y: output},
		}
		for _, p := range x.Table {
			el.Table.Records = append(el.Table.Records, tableRecord{X: num(p.X), Y: num(p.Y)})
		}
		input := signalID(g, x.Input)
		if x.TimeLag > 0 {
			vector := makeID(tagDelayed, g.Name, x.Name)
			delay := &unitDelay{ID: vector, Input: xInput{X: input}}
			delay.Output.YVector = vector
			e.components = append(e.components, component{UnitDelay: delay})
			input = fmt.Sprintf("%s[%d]", vector, x.TimeLag-1)
		}
		el.Input.X = seriesRef{Ref: refImplicit, Value: input}
		return ruleElement{LookupTable: el}, nil

	case *rules.IntervalRule:
		el := &intervalElement{
			ID:             rid,
			SettingBelow:   num(x.SettingBelow),
			SettingAbove:   num(x.SettingAbove),
			SettingMaxStep: num(x.MaxStep),
		}
		if x.DeadbandType == rules.DeadbandRelative {
			el.DeadbandSetpointRelative = num(x.Deadband)
		} else {
			el.DeadbandSetpointAbsolute = num(x.Deadband)
		}
		el.Input.X = signalID(g, x.Input)
		value, series, err := e.setPoint(g, x.Name, x.Input, x.SetPoint)
		if err != nil {
			return ruleElement{}, err
		}
		el.Input.SetpointValue, el.Input.Setpoint = value, series
		el.Output.Y = output
		el.Output.Status = rid
		e.exportSeries(rid)
		return ruleElement{Interval: el}, nil

	case *rules.PIDRule:
		el := &pidElement{
			ID:              rid,
			Mode:            pidMode,
			SettingMin:      num(x.SettingMin),
			SettingMax:      num(x.SettingMax),
			SettingMaxSpeed: num(x.SettingMaxSpeed),
			Kp:              num(x.Kp),
			Ki:              num(x.Ki),
			Kd:              num(x.Kd),
		}
		el.Input.X = signalID(g, x.Input)
		value, series, err := e.setPoint(g, x.Name, x.Input, x.SetPoint)
		if err != nil {
			return ruleElement{}, err
		}
		el.Input.SetpointValue, el.Input.SetpointSeries = value, series
		el.Output.Y = output
		el.Output.IntegralPart = makeID(tagIntegralPart, g.Name, x.Name)
		el.Output.DifferentialPart = makeID(tagDifferentialPart, g.Name, x.Name)
		e.exportSeries(el.Output.IntegralPart, el.Output.DifferentialPart)
		return ruleElement{PID: el}, nil

	case *rules.RelativeTimeRule:
		el := &timeRelativeElement{
			ID:                  rid,
			Mode:                relativeTimeMode,
			ValueOption:         valueAbsolute,
			MaximumPeriod:       num(x.MaximumPeriod.Seconds()),
			InterpolationOption: x.Interpolation.String(),
		}
		if x.FromValue {
			el.ValueOption = valueRelative
		}
		for _, p := range x.Table {
			el.ControlTable.Records = append(el.ControlTable.Records, timeRecord{Time: num(p.Offset.Seconds()), Value: num(p.Value)})
		}
		el.Output.Y = output
		el.Output.TimeActive = rid
		e.exportSeries(rid)
		return ruleElement{TimeRelative: el}, nil

	case *rules.TimeRule:
		if err := e.importSeries(rid, parameterSeries, x.Series, x.Interpolation, x.Extrapolation, stationOf(g, x.Output)...); err != nil {
			return ruleElement{}, err
		}
		return ruleElement{TimeAbsolute: &timeAbsoluteElement{ID: rid, Input: xInput{X: rid}, Output: yOutput{Y: output}}}, nil

	default:
		return ruleElement{}, fmt.Errorf("unsupported rule type %T", r)
	}
}

// setPoint returns either the constant value or the series id of sp. A
// setpoint series carries the station and unit of the controlled input.
func (e *encoder) setPoint(g *rules.ControlGroup, rule, input string, sp rules.SetPoint) (string, string, error) {
	switch sp.Kind {
	case rules.SetPointConstant:
		return expression.FormatNumber(sp.Value), "", nil
	case rules.SetPointSignal:
		return "", signalID(g, sp.Signal), nil
	case rules.SetPointSeries:
		spID := makeID(tagSetPoint, g.Name, rule)
		if err := e.importSeries(spID, parameterSetPoint, sp.Series, sp.Interpolation, sp.Extrapolation, stationOf(g, input)...); err != nil {
			return "", "", fmt.Errorf("setpoint: %w", err)
		}
		return "", spID, nil
	default:
		return "", "", fmt.Errorf("unknown setpoint kind %d", sp.Kind)
	}
}

func (e *encoder) importSeries(seriesID, parameter string, s *timeseries.Series, interp timeseries.Interpolation, ext timeseries.Extrapolation, opts ...pixml.HeaderOption) error {
	if s == nil {
		return fmt.Errorf("time series is missing")
	}
	el, err := pixml.Encode(s, seriesID, parameter, opts...)
	if err != nil {
		return fmt.Errorf("time series %s: %w", seriesID, err)
	}
	e.series.Series = append(e.series.Series, el)
	e.data.ImportSeries.Series = append(e.data.ImportSeries.Series, dataSeries{
		ID: seriesID,
		PISeries: &piSeries{
			LocationID:          seriesID,
			ParameterID:         parameter,
			InterpolationOption: interp.String(),
			ExtrapolationOption: ext.String(),
		},
	})
	return nil
}

// stationOf returns the station name and units of the output, or failing
// that the input, called name.
func stationOf(g *rules.ControlGroup, name string) []pixml.HeaderOption {
	if out, ok := g.Output(name); ok {
		return []pixml.HeaderOption{pixml.WithStationName(out.Location), pixml.WithUnits(out.Unit)}
	}
	if in, ok := g.Input(name); ok {
		return []pixml.HeaderOption{pixml.WithStationName(in.Location), pixml.WithUnits(in.Unit)}
	}
	return nil
}

func (e *encoder) exportSeries(ids ...string) {
	for _, id := range ids {
		e.data.ExportSeries.Series = append(e.data.ExportSeries.Series, dataSeries{ID: id})
	}
}

// expression writes one trigger per branch of the tree. Inner branches get
// numbered ids below the expression id and precede the triggers that read
// them; the root trigger carries the expression id itself.
func (e *encoder) expression(g *rules.ControlGroup, ex *rules.MathematicalExpression) error {
	rootID := makeID("", g.Name, ex.Name)
	next := 0

	var emit func(b expression.Branch, id string) error
	operand := func(n expression.Node) (string, *seriesRef, error) {
		switch v := n.(type) {
		case expression.Constant:
			return expression.FormatNumber(v.Value), nil, nil
		case expression.Parameter:
			return "", &seriesRef{Ref: refImplicit, Value: signalID(g, v.Reference)}, nil
		case expression.Branch:
			next++
			sub := fmt.Sprintf("%s/%d", rootID, next)
			if err := emit(v, sub); err != nil {
				return "", nil, err
			}
			return "", &seriesRef{Ref: refImplicit, Value: sub}, nil
		default:
			return "", nil, fmt.Errorf("expression tree has an empty node")
		}
	}
	emit = func(b expression.Branch, id string) error {
		el := &expressionElement{ID: id, Y: id, MathematicalOperator: b.Operator.Symbol()}
		var err error
		if el.X1Value, el.X1Series, err = operand(b.Left); err != nil {
			return err
		}
		if el.X2Value, el.X2Series, err = operand(b.Right); err != nil {
			return err
		}
		e.exprs = append(e.exprs, trigger{Expression: el})
		return nil
	}

	if b, ok := ex.Root.(expression.Branch); ok {
		return emit(b, rootID)
	}
	el := &expressionElement{ID: rootID, Y: rootID}
	var err error
	if el.X1Value, el.X1Series, err = operand(ex.Root); err != nil {
		return err
	}
	e.exprs = append(e.exprs, trigger{Expression: el})
	return nil
}

func (e *encoder) condition(g *rules.ControlGroup, c rules.Condition) (*standardElement, error) {
	cid := makeID(conditionTag(c.Kind()), g.Name, c.ConditionName())
	st := &standardElement{ID: cid}

	switch x := c.(type) {
	case *rules.StandardCondition:
		st.Condition.X1Series = seriesRef{Ref: x.Reference.String(), Value: signalID(g, x.Input)}
		st.Condition.RelationalOperator = x.Operator.String()
		switch th := x.Threshold.(type) {
		case expression.Constant:
			st.Condition.X2Value = expression.FormatNumber(th.Value)
		case expression.Parameter:
			st.Condition.X2Series = &seriesRef{Ref: refImplicit, Value: signalID(g, th.Reference)}
		default:
			return nil, fmt.Errorf("threshold must be a constant or a reference, got %q", expression.String(x.Threshold))
		}

	case *rules.DirectionalCondition:
		x1 := signalID(g, x.Input)
		st.Condition.X1Series = seriesRef{Ref: refImplicit, Value: x1}
		st.Condition.RelationalOperator = x.Operator.String()
		st.Condition.X2Series = &seriesRef{Ref: refImplicit, Value: x1 + "-1"}

	case *rules.TimeCondition:
		// boolean series are written inverted, so "true" reads back as 0
		st.Condition.X1Series = seriesRef{Ref: refImplicit, Value: cid}
		st.Condition.RelationalOperator = rules.Equal.String()
		st.Condition.X2Value = "0"
		if err := e.importSeries(cid, parameterSeries, x.Series, timeseries.Block, x.Extrapolation); err != nil {
			return nil, err
		}

	default:
		return nil, fmt.Errorf("unsupported condition type %T", c)
	}

	st.True = &triggerList{}
	st.Output.Status = makeID(tagStatus, g.Name, c.ConditionName())
	e.exportSeries(st.Output.Status)
	return st, nil
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("failed to encode xml: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

func selfValidate(b *Bundle) error {
	docs := []struct {
		name string
		data []byte
	}{
		{ToolsConfigFile, b.ToolsConfig},
		{DataConfigFile, b.DataConfig},
		{TimeSeriesFile, b.TimeSeries},
		{StateFile, b.State},
	}
	for _, d := range docs {
		if d.data == nil {
			continue
		}
		violations, err := validateDocument(d.name, d.data)
		if err != nil {
			return err
		}
		if len(violations) > 0 {
			errs := make([]error, len(violations))
			for i, v := range violations {
				errs[i] = v
			}
			return fmt.Errorf("generated %s is invalid: %w", d.name, errors.Join(errs...))
		}
	}
	return nil
}
