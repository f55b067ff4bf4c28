package flightlog

import (
	"errors"
	"testing"
)

func testFlight() *Flight {
	return &Flight{
		ID: "160315-A1B2C3-1",
		Samples: []Sample{
			{Time: 0, Altitude: 1500, Speed: 100, DistToEnd: 20},
			{Time: 10, Altitude: 1200, Speed: 98, DistToEnd: 19},
			{Time: 20, Altitude: 900, Speed: 99.5, DistToEnd: 18},
			{Time: 30, Altitude: 700, Speed: 101, DistToEnd: 17},
			{Time: 40, Altitude: 500, Speed: 90, DistToEnd: 16},
		},
	}
}

func TestValidate(t *testing.T) {
	if err := testFlight().Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	f := testFlight()
	f.Samples = nil
	if err := f.Validate(); !errors.Is(err, ErrEmptyFlight) {
		t.Errorf("expected ErrEmptyFlight, got %v", err)
	}

	f = testFlight()
	f.ID = ""
	if err := f.Validate(); err == nil {
		t.Errorf("expected error for missing id")
	}

	f = testFlight()
	f.Samples[2].Time = 5
	if err := f.Validate(); err == nil {
		t.Errorf("expected error for out of order samples")
	}
}

func TestVerticalProfile(t *testing.T) {
	f := testFlight()
	pts := f.VerticalProfile(DefaultMinAltitude)
	if len(pts) != len(f.Samples) {
		t.Fatalf("got %d points, expected %d", len(pts), len(f.Samples))
	}
	if pts[0].Altitude != 1000 || pts[0].Distance != 20 {
		t.Errorf("first point = %+v, expected 1000m above the final sample at 20km", pts[0])
	}
	if last := pts[len(pts)-1]; last.Altitude != 0 {
		t.Errorf("last point altitude = %v, expected 0", last.Altitude)
	}

	// ends too high
	if pts := f.VerticalProfile(500); pts != nil {
		t.Errorf("expected flight ending at 500m to be excluded with minAlt 500, got %v", pts)
	}
	if pts := (&Flight{ID: "x"}).VerticalProfile(DefaultMinAltitude); pts != nil {
		t.Errorf("expected nil for empty flight")
	}
}

func TestVelocityProfile(t *testing.T) {
	vp := testFlight().VelocityProfile()
	// 99.5 >= 98+1 and 101 >= 99.5+1 are both dropped
	expected := []SpeedSample{{20, 100}, {19, 98}, {16, 90}}
	if len(vp) != len(expected) {
		t.Fatalf("got %v, expected %v", vp, expected)
	}
	for i := range vp {
		if vp[i] != expected[i] {
			t.Errorf("[%d] = %+v, expected %+v", i, vp[i], expected[i])
		}
	}

	ov := testFlight().Overlay(DefaultMinAltitude)
	if ov.ID != "160315-A1B2C3-1" || len(ov.Vertical) != 5 || len(ov.Velocity) != 3 {
		t.Errorf("unexpected overlay %+v", ov)
	}
}
