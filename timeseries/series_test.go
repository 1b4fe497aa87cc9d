package timeseries

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var t0 = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

func hours(h int) time.Time {
	return t0.Add(time.Duration(h) * time.Hour)
}

func TestAddKeepsOrder(t *testing.T) {
	s := New(Numeric, time.Hour)
	for _, h := range []int{2, 0, 1} {
		if err := s.Add(hours(h), float64(h*10)); err != nil {
			t.Fatalf("Add() failed: %v", err)
		}
	}

	if diff := cmp.Diff([]float64{0, 10, 20}, s.Values()); diff != "" {
		t.Errorf("Values() mismatch (-want +got):\n%s", diff)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Validate() failed: %v", err)
	}
	if !s.Start().Equal(hours(0)) || !s.End().Equal(hours(2)) {
		t.Errorf("Start/End = %v/%v", s.Start(), s.End())
	}
}

func TestAddRejectsDuplicateTime(t *testing.T) {
	s := New(Numeric, time.Hour)
	if err := s.Add(hours(1), 1); err != nil {
		t.Fatalf("Add() failed: %v", err)
	}
	if err := s.Add(hours(1), 2); err == nil {
		t.Error("Add() should reject a second value at the same time")
	}
	if s.Len() != 1 {
		t.Errorf("Len() = %d, want 1", s.Len())
	}
}

func TestBooleanSeries(t *testing.T) {
	s := New(Boolean, time.Hour)
	for i, b := range []bool{true, false, true} {
		if err := s.AddBool(hours(i), b); err != nil {
			t.Fatalf("AddBool() failed: %v", err)
		}
	}

	if diff := cmp.Diff([]bool{true, false, true}, s.Bools()); diff != "" {
		t.Errorf("Bools() mismatch (-want +got):\n%s", diff)
	}
	if err := s.Add(hours(5), 0.5); err == nil {
		t.Error("boolean series should reject 0.5")
	}
	if err := New(Numeric, 0).AddBool(t0, true); err == nil {
		t.Error("numeric series should reject AddBool")
	}
}

func TestValueAt(t *testing.T) {
	s := New(Numeric, time.Hour)
	_ = s.Add(hours(0), 0)
	_ = s.Add(hours(2), 10)
	_ = s.Add(hours(4), 20)

	tests := []struct {
		name   string
		at     time.Time
		interp Interpolation
		ext    Extrapolation
		want   float64
	}{
		{"before start holds first", hours(-3), Linear, Constant, 0},
		{"on point", hours(2), Linear, Constant, 10},
		{"linear between", hours(1), Linear, Constant, 5},
		{"block between", hours(3), Block, Constant, 10},
		{"after end constant", hours(9), Linear, Constant, 20},
		{"after end periodic", hours(5), Linear, Periodic, 5},
		{"periodic wraps to start", hours(8), Block, Periodic, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := s.ValueAt(tt.at, tt.interp, tt.ext)
			if !ok {
				t.Fatal("ValueAt() returned no value")
			}
			if got != tt.want {
				t.Errorf("ValueAt() = %v, want %v", got, tt.want)
			}
		})
	}

	if _, ok := New(Numeric, 0).ValueAt(t0, Linear, Constant); ok {
		t.Error("empty series should have no value")
	}
}

func TestEqualAndClone(t *testing.T) {
	a := New(Numeric, time.Minute)
	_ = a.Add(t0, 1.25)
	b := a.Clone()

	if !a.Equal(b) {
		t.Error("clone should be equal")
	}

	_ = b.Add(t0.Add(time.Minute), 2)
	if a.Equal(b) {
		t.Error("modified clone should differ")
	}
	if a.Len() != 1 {
		t.Error("clone must not share points with the original")
	}

	local := New(Numeric, time.Minute)
	_ = local.Add(t0.In(time.FixedZone("CET", 3600)), 1.25)
	if !a.Equal(local) {
		t.Error("equality should compare instants, not locations")
	}
}

func TestParseOptions(t *testing.T) {
	if i, err := ParseInterpolation("BLOCK"); err != nil || i != Block {
		t.Errorf("ParseInterpolation(BLOCK) = %v, %v", i, err)
	}
	if e, err := ParseExtrapolation("PERIODIC"); err != nil || e != Periodic {
		t.Errorf("ParseExtrapolation(PERIODIC) = %v, %v", e, err)
	}
	if _, err := ParseInterpolation("CUBIC"); err == nil {
		t.Error("ParseInterpolation(CUBIC) should fail")
	}
	if Block.String() != "BLOCK" || Periodic.String() != "PERIODIC" || Constant.String() != "BLOCK" {
		t.Error("wire names are wrong")
	}
}
