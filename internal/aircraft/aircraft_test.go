package aircraft

import (
	"errors"
	"math"
	"testing"

	"github.com/fabianr-su/ApproachMDPproject/internal/physics"
)

// denseAtmosphere reports a density at altitude that differs from sea level so
// that tests can tell which one the model reads.
type denseAtmosphere struct {
	physics.ISA
	queried []float64
}

func (d *denseAtmosphere) Density(alt float64) float64 {
	d.queried = append(d.queried, alt)
	return d.ISA.Density(alt)
}

func TestCoefficients(t *testing.T) {
	ac := B737()
	isa := physics.NewISA()
	v := 100.0

	area := 35.0 * 35.0 / 9.45
	cL := physics.G * 55000 / (0.5 * 1.225 * v * v * area)
	if got := ac.LiftCoefficient(v, isa); math.Abs(got-cL) > 1e-12 {
		t.Errorf("cL = %v, expected %v", got, cL)
	}

	for config, cDp := range DefaultParasiteDrag[:4] {
		cD := cDp + cL*cL/(math.Pi*0.8*9.45)
		if got := ac.DragCoefficient(v, config, isa); math.Abs(got-cD) > 1e-12 {
			t.Errorf("config %d: cD = %v, expected %v", config, got, cD)
		}
		D := 0.5 * 1.225 * v * v * cD * area
		if got := ac.Drag(v, config, isa); math.Abs(got-D) > 1e-6 {
			t.Errorf("config %d: D = %v, expected %v", config, got, D)
		}
	}
}

func TestUsesSeaLevelDensity(t *testing.T) {
	atm := &denseAtmosphere{}
	B737().Drag(120, 0, atm)
	if len(atm.queried) == 0 {
		t.Fatalf("atmosphere not queried")
	}
	for _, alt := range atm.queried {
		if alt != 0 {
			t.Errorf("aerodynamic model queried density at %v m; only sea level expected", alt)
		}
	}
}

func TestDragIgnoresTemperatureDeviation(t *testing.T) {
	ac := B737()
	isa := physics.NewISA()
	for _, dT := range []float64{-20, 15} {
		atm := physics.NewOffsetISA(dT)
		if got, expected := ac.Drag(110, 1, atm), ac.Drag(110, 1, isa); got != expected {
			t.Errorf("ISA%+g: drag = %v, expected %v", dT, got, expected)
		}
	}
}

func TestDragIncreasesWithFlaps(t *testing.T) {
	ac := B737()
	isa := physics.NewISA()
	for c := 1; c <= ac.MaxConfig(); c++ {
		if ac.Drag(80, c, isa) <= ac.Drag(80, c-1, isa) {
			t.Errorf("drag in config %d should exceed config %d", c, c-1)
		}
	}
}

func TestNewValidation(t *testing.T) {
	for _, tc := range []struct {
		name     string
		mass     float64
		eta      float64
		min, max []float64
	}{
		{"zero mass", 0, 0.3, []float64{90}, []float64{150}},
		{"bad eta", 1000, 1.5, []float64{90}, []float64{150}},
		{"length mismatch", 1000, 0.3, []float64{90, 80}, []float64{150}},
		{"empty", 1000, 0.3, nil, nil},
		{"min above max", 1000, 0.3, []float64{160}, []float64{150}},
		{"too many configs", 1000, 0.3, []float64{1, 1, 1, 1, 1, 1}, []float64{2, 2, 2, 2, 2, 2}},
	} {
		if _, err := New(tc.name, tc.mass, tc.eta, 0.1, tc.min, tc.max); err == nil {
			t.Errorf("%s: expected validation error", tc.name)
		}
	}

	min := []float64{90, 80}
	ac, err := New("custom", 1000, 0.3, 0.1, min, []float64{150, 120})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	min[0] = 1
	if ac.MinSpeed[0] != 90 {
		t.Errorf("aircraft must not alias caller's speed slice")
	}
	if ac.MaxConfig() != 1 {
		t.Errorf("MaxConfig = %d, expected 1", ac.MaxConfig())
	}
}

func TestLookup(t *testing.T) {
	ac, err := Lookup("B747")
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if ac.Mass != 350000 || ac.MaxConfig() != 3 {
		t.Errorf("unexpected b747 profile: %+v", ac)
	}
	if _, err := Lookup("a380"); !errors.Is(err, ErrUnknownAircraft) {
		t.Errorf("expected ErrUnknownAircraft, got %v", err)
	}
	if names := ProfileNames(); len(names) != 2 || names[0] != "b737" {
		t.Errorf("ProfileNames = %v", names)
	}
}
