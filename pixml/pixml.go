// Package pixml converts time series to and from the PI-XML exchange format.
//
// Dates are written as yyyy-MM-dd and times as HH:mm:ss in UTC. Numbers use
// strconv, so output is byte-identical whatever the process locale is.
// Boolean series use the inverted convention of the external tool: true is
// written as "0" and false as "1". That inversion is confined to this package.
package pixml

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/liamcoop/rtc/rtcerr"
	"github.com/liamcoop/rtc/timeseries"
)

// Namespace is the PI time series namespace
const Namespace = "http://www.wldelft.nl/fews/PI"

const (
	// DefaultMissingValue is written to the missVal header field
	DefaultMissingValue = "-999.0"
	// NaNMissingValue replaces DefaultMissingValue for series holding -999
	NaNMissingValue = "NaN"

	defaultMissing = -999.0

	dateLayout = "2006-01-02"
	timeLayout = "15:04:05"

	boolTrue  = "0"
	boolFalse = "1"
)

// Document is a <TimeSeries> document holding any number of series
type Document struct {
	XMLName  xml.Name  `xml:"http://www.wldelft.nl/fews/PI TimeSeries"`
	Version  string    `xml:"version,attr"`
	TimeZone string    `xml:"timeZone"`
	Series   []*Series `xml:"series"`
}

// Series is one <series> element
type Series struct {
	Header Header  `xml:"header"`
	Events []Event `xml:"event"`
}

// Header is the <header> of a series
type Header struct {
	Type        string   `xml:"type"`
	LocationID  string   `xml:"locationId"`
	ParameterID string   `xml:"parameterId"`
	TimeStep    TimeStep `xml:"timeStep"`
	StartDate   DateTime `xml:"startDate"`
	EndDate     DateTime `xml:"endDate"`
	MissVal     string   `xml:"missVal"`
	StationName string   `xml:"stationName"`
	Units       string   `xml:"units"`
}

// TimeStep is the <timeStep> header element
type TimeStep struct {
	Unit       string `xml:"unit,attr"`
	Multiplier string `xml:"multiplier,attr,omitempty"`
	Divider    string `xml:"divider,attr,omitempty"`
}

// DateTime is a date/time attribute pair
type DateTime struct {
	Date string `xml:"date,attr"`
	Time string `xml:"time,attr"`
}

// Event is one <event> of a series
type Event struct {
	Date  string `xml:"date,attr"`
	Time  string `xml:"time,attr"`
	Value string `xml:"value,attr"`
}

var stepUnits = []struct {
	name string
	size time.Duration
}{
	{"week", 7 * 24 * time.Hour},
	{"day", 24 * time.Hour},
	{"hour", time.Hour},
	{"minute", time.Minute},
	{"second", time.Second},
}

// NewDocument returns an empty document
func NewDocument() *Document {
	return &Document{Version: "1.2", TimeZone: "0.0"}
}

// HeaderOption sets an optional header field of an encoded series
type HeaderOption func(*Header)

// WithStationName sets the stationName header field
func WithStationName(name string) HeaderOption {
	return func(h *Header) { h.StationName = name }
}

// WithUnits sets the units header field
func WithUnits(units string) HeaderOption {
	return func(h *Header) { h.Units = units }
}

// Encode converts s into a <series> element. The header start and end
// dates are the first and last timestamps of s. The missing value is
// DefaultMissingValue unless a point holds it, in which case NaN is used;
// series never hold NaN.
func Encode(s *timeseries.Series, locationID, parameterID string, opts ...HeaderOption) (*Series, error) {
	if s == nil || s.Len() == 0 {
		return nil, fmt.Errorf("series %s/%s: %w", locationID, parameterID, rtcerr.ErrEmptySeries)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("series %s/%s: %w", locationID, parameterID, err)
	}

	step, err := encodeTimeStep(s.Step)
	if err != nil {
		return nil, fmt.Errorf("series %s/%s: %w", locationID, parameterID, err)
	}

	out := &Series{
		Header: Header{
			Type:        "instantaneous",
			LocationID:  locationID,
			ParameterID: parameterID,
			TimeStep:    step,
			StartDate:   formatDateTime(s.Start()),
			EndDate:     formatDateTime(s.End()),
			MissVal:     missingValue(s),
		},
		Events: make([]Event, 0, s.Len()),
	}
	for _, opt := range opts {
		opt(&out.Header)
	}

	for _, p := range s.Points {
		if p.Time.Nanosecond() != 0 {
			return nil, fmt.Errorf("series %s/%s: time %s has sub-second precision", locationID, parameterID, p.Time.Format(time.RFC3339Nano))
		}
		dt := formatDateTime(p.Time)
		out.Events = append(out.Events, Event{
			Date:  dt.Date,
			Time:  dt.Time,
			Value: formatValue(s.Kind, p.Value),
		})
	}

	return out, nil
}

// Decode converts a <series> element back into a series of the given kind.
// Events carrying the missing value are skipped.
func Decode(el *Series, kind timeseries.Kind) (*timeseries.Series, error) {
	if el == nil {
		return nil, rtcerr.Malformedf("", "series element is nil")
	}
	id := el.Header.LocationID + "/" + el.Header.ParameterID

	step, err := decodeTimeStep(el.Header.TimeStep)
	if err != nil {
		return nil, rtcerr.Malformedf("", "series %s: %w", id, err)
	}

	missVal, hasMissVal := parseMissingValue(el.Header.MissVal)

	s := timeseries.New(kind, step)
	for i, ev := range el.Events {
		t, err := parseDateTime(ev.Date, ev.Time)
		if err != nil {
			return nil, rtcerr.Malformedf("", "series %s event %d: %w", id, i, err)
		}

		if kind == timeseries.Boolean {
			b, err := parseBool(ev.Value)
			if err != nil {
				return nil, rtcerr.Malformedf("", "series %s event %d: %w", id, i, err)
			}
			err = s.AddBool(t, b)
			if err != nil {
				return nil, rtcerr.Malformedf("", "series %s event %d: %w", id, i, err)
			}
			continue
		}

		v, err := strconv.ParseFloat(strings.TrimSpace(ev.Value), 64)
		if err != nil {
			return nil, rtcerr.Malformedf("", "series %s event %d: invalid value %q", id, i, ev.Value)
		}
		if hasMissVal && (v == missVal || math.IsNaN(v) && math.IsNaN(missVal)) {
			continue
		}
		if err := s.Add(t, v); err != nil {
			return nil, rtcerr.Malformedf("", "series %s event %d: %w", id, i, err)
		}
	}

	return s, nil
}

// Marshal renders doc as an indented XML document with declaration
func Marshal(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)

	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return nil, fmt.Errorf("failed to encode time series document: %w", err)
	}
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Unmarshal parses a <TimeSeries> document
func Unmarshal(data []byte) (*Document, error) {
	var doc Document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, rtcerr.Malformed("", err)
	}
	return &doc, nil
}

// Find returns the series with the given location and parameter ids
func (d *Document) Find(locationID, parameterID string) (*Series, bool) {
	for _, s := range d.Series {
		if s.Header.LocationID == locationID && (parameterID == "" || s.Header.ParameterID == parameterID) {
			return s, true
		}
	}
	return nil, false
}

func formatDateTime(t time.Time) DateTime {
	u := t.UTC()
	return DateTime{Date: u.Format(dateLayout), Time: u.Format(timeLayout)}
}

func parseDateTime(date, clock string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout+" "+timeLayout, strings.TrimSpace(date)+" "+strings.TrimSpace(clock), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date/time %q %q", date, clock)
	}
	return t, nil
}

func formatValue(kind timeseries.Kind, v float64) string {
	if kind == timeseries.Boolean {
		if v != 0 {
			return boolTrue
		}
		return boolFalse
	}
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func parseBool(s string) (bool, error) {
	switch strings.TrimSpace(s) {
	case boolTrue:
		return true, nil
	case boolFalse:
		return false, nil
	default:
		return false, fmt.Errorf("invalid boolean value %q, expected %q or %q", s, boolTrue, boolFalse)
	}
}

func missingValue(s *timeseries.Series) string {
	if s.Kind == timeseries.Numeric {
		for _, p := range s.Points {
			if p.Value == defaultMissing {
				return NaNMissingValue
			}
		}
	}
	return DefaultMissingValue
}

func parseMissingValue(s string) (float64, bool) {
	if strings.TrimSpace(s) == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	return v, err == nil
}

// encodeTimeStep picks the largest unit that divides step exactly
func encodeTimeStep(step time.Duration) (TimeStep, error) {
	if step <= 0 {
		return TimeStep{Unit: "nonequidistant"}, nil
	}
	if step%time.Second != 0 {
		return TimeStep{}, fmt.Errorf("time step %s is not a whole number of seconds", step)
	}
	for _, u := range stepUnits {
		if step%u.size == 0 {
			return TimeStep{
				Unit:       u.name,
				Multiplier: strconv.FormatInt(int64(step/u.size), 10),
				Divider:    "1",
			}, nil
		}
	}
	return TimeStep{}, fmt.Errorf("unreachable time step %s", step)
}

func decodeTimeStep(ts TimeStep) (time.Duration, error) {
	if ts.Unit == "nonequidistant" {
		return 0, nil
	}

	var size time.Duration
	for _, u := range stepUnits {
		if u.name == ts.Unit {
			size = u.size
		}
	}
	if size == 0 {
		return 0, fmt.Errorf("unknown time step unit %q", ts.Unit)
	}

	multiplier, divider := int64(1), int64(1)
	var err error
	if ts.Multiplier != "" {
		if multiplier, err = strconv.ParseInt(ts.Multiplier, 10, 64); err != nil || multiplier <= 0 {
			return 0, fmt.Errorf("invalid time step multiplier %q", ts.Multiplier)
		}
	}
	if ts.Divider != "" {
		if divider, err = strconv.ParseInt(ts.Divider, 10, 64); err != nil || divider <= 0 {
			return 0, fmt.Errorf("invalid time step divider %q", ts.Divider)
		}
	}
	return size * time.Duration(multiplier) / time.Duration(divider), nil
}
