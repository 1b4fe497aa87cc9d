// Package timeseries holds the time-indexed values used by time rules, time
// conditions and setpoint schedules.
package timeseries

import (
	"fmt"
	"math"
	"sort"
	"time"
)

// Kind is the value type of a series
type Kind int

const (
	Numeric Kind = iota
	Boolean
)

func (k Kind) String() string {
	if k == Boolean {
		return "boolean"
	}
	return "numeric"
}

// Interpolation selects how values between two points are derived
type Interpolation int

const (
	Linear Interpolation = iota
	Block
)

func (i Interpolation) String() string {
	if i == Block {
		return "BLOCK"
	}
	return "LINEAR"
}

// ParseInterpolation accepts the wire names LINEAR and BLOCK
func ParseInterpolation(s string) (Interpolation, error) {
	switch s {
	case "LINEAR":
		return Linear, nil
	case "BLOCK":
		return Block, nil
	default:
		return Linear, fmt.Errorf("unknown interpolation option %q", s)
	}
}

// Extrapolation selects how values after the last point are derived
type Extrapolation int

const (
	Constant Extrapolation = iota
	Periodic
)

func (e Extrapolation) String() string {
	if e == Periodic {
		return "PERIODIC"
	}
	return "BLOCK"
}

// ParseExtrapolation accepts the wire names BLOCK and PERIODIC
func ParseExtrapolation(s string) (Extrapolation, error) {
	switch s {
	case "BLOCK":
		return Constant, nil
	case "PERIODIC":
		return Periodic, nil
	default:
		return Constant, fmt.Errorf("unknown extrapolation option %q", s)
	}
}

// Point is one (time, value) pair. Boolean series store 1 for true and 0
// for false.
type Point struct {
	Time  time.Time
	Value float64
}

// Series is a strictly time-ordered sequence of points with a fixed time
// step. A zero Step marks a non-equidistant series.
type Series struct {
	Kind   Kind
	Step   time.Duration
	Points []Point
}

// New creates an empty series
func New(kind Kind, step time.Duration) *Series {
	return &Series{Kind: kind, Step: step}
}

// Len returns the number of points
func (s *Series) Len() int {
	return len(s.Points)
}

// Start returns the time of the first point, or the zero time
func (s *Series) Start() time.Time {
	if len(s.Points) == 0 {
		return time.Time{}
	}
	return s.Points[0].Time
}

// End returns the time of the last point, or the zero time
func (s *Series) End() time.Time {
	if len(s.Points) == 0 {
		return time.Time{}
	}
	return s.Points[len(s.Points)-1].Time
}

// Add inserts a numeric point, keeping the series ordered. A second point
// at an existing time is rejected.
func (s *Series) Add(t time.Time, v float64) error {
	if s.Kind == Boolean && v != 0 && v != 1 {
		return fmt.Errorf("boolean series accepts only 0 and 1, got %v", v)
	}
	if math.IsNaN(v) {
		return fmt.Errorf("value at %s is NaN", t.Format(time.RFC3339))
	}

	i := sort.Search(len(s.Points), func(i int) bool { return !s.Points[i].Time.Before(t) })
	if i < len(s.Points) && s.Points[i].Time.Equal(t) {
		return fmt.Errorf("series already has a value at %s", t.Format(time.RFC3339))
	}

	s.Points = append(s.Points, Point{})
	copy(s.Points[i+1:], s.Points[i:])
	s.Points[i] = Point{Time: t, Value: v}
	return nil
}

// AddBool inserts a boolean point
func (s *Series) AddBool(t time.Time, b bool) error {
	if s.Kind != Boolean {
		return fmt.Errorf("cannot add a boolean value to a %s series", s.Kind)
	}
	return s.Add(t, boolValue(b))
}

// Values returns the values in time order
func (s *Series) Values() []float64 {
	out := make([]float64, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value
	}
	return out
}

// Bools returns the values of a boolean series in time order
func (s *Series) Bools() []bool {
	out := make([]bool, len(s.Points))
	for i, p := range s.Points {
		out[i] = p.Value != 0
	}
	return out
}

// Validate checks the ordering invariant. Series built through Add always
// satisfy it; series assembled by hand may not.
func (s *Series) Validate() error {
	for i := 1; i < len(s.Points); i++ {
		if !s.Points[i-1].Time.Before(s.Points[i].Time) {
			return fmt.Errorf("point %d at %s is not after point %d", i, s.Points[i].Time.Format(time.RFC3339), i-1)
		}
	}
	return nil
}

// Equal reports whether both series have the same kind, step and points
func (s *Series) Equal(o *Series) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Kind != o.Kind || s.Step != o.Step || len(s.Points) != len(o.Points) {
		return false
	}
	for i := range s.Points {
		if !s.Points[i].Time.Equal(o.Points[i].Time) || s.Points[i].Value != o.Points[i].Value {
			return false
		}
	}
	return true
}

// Clone returns a deep copy
func (s *Series) Clone() *Series {
	if s == nil {
		return nil
	}
	c := &Series{Kind: s.Kind, Step: s.Step, Points: make([]Point, len(s.Points))}
	copy(c.Points, s.Points)
	return c
}

// ValueAt returns the value at t. Before the first point the first value is
// held; after the last point ext decides. An empty series has no value.
func (s *Series) ValueAt(t time.Time, interp Interpolation, ext Extrapolation) (float64, bool) {
	n := len(s.Points)
	if n == 0 {
		return 0, false
	}

	first, last := s.Points[0], s.Points[n-1]
	if !t.After(first.Time) {
		return first.Value, true
	}
	if t.After(last.Time) {
		if ext == Constant || n == 1 {
			return last.Value, true
		}
		period := last.Time.Sub(first.Time)
		t = first.Time.Add(t.Sub(first.Time) % period)
	}

	// first index with Time > t
	i := sort.Search(n, func(i int) bool { return s.Points[i].Time.After(t) })
	if i == n {
		return last.Value, true
	}
	prev, next := s.Points[i-1], s.Points[i]
	if interp == Block || prev.Time.Equal(t) || s.Kind == Boolean {
		return prev.Value, true
	}
	frac := float64(t.Sub(prev.Time)) / float64(next.Time.Sub(prev.Time))
	return prev.Value + frac*(next.Value-prev.Value), true
}

// BoolAt is ValueAt for boolean series with block interpolation
func (s *Series) BoolAt(t time.Time, ext Extrapolation) bool {
	v, ok := s.ValueAt(t, Block, ext)
	return ok && v != 0
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
