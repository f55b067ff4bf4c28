package mdp

import (
	"encoding/json"
	"errors"
	"math"
	"slices"
	"testing"

	"github.com/fabianr-su/ApproachMDPproject/internal/aircraft"
	"github.com/fabianr-su/ApproachMDPproject/internal/physics"
)

var testFAF = FAF{Altitude: 1000, Speed: 70, Config: 3}

func newTestMDP(t *testing.T, params Params) *ApproachMDP {
	t.Helper()
	m, err := New(physics.NewISA(), aircraft.B737(), State{Altitude: 11000, Speed: 105, Config: 0, Distance: 250000},
		testFAF, params, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestNewValidation(t *testing.T) {
	isa := physics.NewISA()
	ac := aircraft.B737()
	good := State{Altitude: 3000, Speed: 100, Distance: 10000}

	if _, err := New(isa, ac, good, FAF{Altitude: 1000, Speed: 70, Config: 4}, DefaultParams(1), nil); !errors.Is(err, ErrInvalidState) {
		t.Errorf("FAF config beyond aircraft: expected ErrInvalidState, got %v", err)
	}
	if _, err := New(isa, ac, State{Altitude: 3000, Speed: 0, Distance: 1000}, testFAF, DefaultParams(1), nil); !errors.Is(err, ErrInvalidState) {
		t.Errorf("zero speed: expected ErrInvalidState, got %v", err)
	}
	p := DefaultParams(1)
	p.StepDistance = 0
	if _, err := New(isa, ac, good, testFAF, p, nil); err == nil {
		t.Errorf("zero step distance should be rejected")
	}
	p = DefaultParams(1)
	p.ManeuverCost = map[Action]float64{Extend: -1}
	if _, err := New(isa, ac, good, testFAF, p, nil); err == nil {
		t.Errorf("negative maneuver cost should be rejected")
	}
	if _, err := New(nil, ac, good, testFAF, DefaultParams(1), nil); err == nil {
		t.Errorf("nil atmosphere should be rejected")
	}
}

func TestBasics(t *testing.T) {
	m := newTestMDP(t, DefaultParams(1))
	if m.Discount() != 1 {
		t.Errorf("discount = %v", m.Discount())
	}
	if s := m.StartState(); s != (State{11000, 105, 0, 250000}) {
		t.Errorf("start state = %v", s)
	}
	if !m.IsTerminal(State{1000, 70, 3, 0}) {
		t.Errorf("FAF state should be terminal")
	}
	if m.IsTerminal(State{1000, 70, 2, 0}) {
		t.Errorf("config mismatch should not be terminal")
	}
}

func TestActions(t *testing.T) {
	m := newTestMDP(t, DefaultParams(1))
	// b737: min 90 80 70 65, max 150 115 100 90

	for _, tc := range []struct {
		s        State
		expected []Action
	}{
		// clean at 100: extend (<=115), decel (>=95), accel (<=145), descend
		{State{3000, 100, 0, 5000}, []Action{Climb, Level, Extend, Descend, Decel, Accel}},
		// clean at 120: too fast to extend
		{State{3000, 120, 0, 5000}, []Action{Climb, Level, Descend, Decel, Accel}},
		// clean at 92: cannot decel below 90+5
		{State{3000, 92, 0, 5000}, []Action{Climb, Level, Extend, Descend, Accel}},
		// config 1 at 85: retract needs >= 90, decel exactly at 80+5
		{State{3000, 85, 1, 5000}, []Action{Climb, Level, Extend, Descend, Decel, Accel}},
		// max config at 70: no extend, retract needs >= 70
		{State{3000, 70, 3, 5000}, []Action{Climb, Level, Retract, Descend, Decel, Accel}},
		// too low to descend
		{State{50, 100, 0, 5000}, []Action{Climb, Level, Extend, Decel, Accel}},
		// exactly at the accel boundary: 145 <= 150-5
		{State{3000, 145, 0, 5000}, []Action{Climb, Level, Descend, Decel, Accel}},
	} {
		if got := m.Actions(tc.s); !slices.Equal(got, tc.expected) {
			t.Errorf("Actions(%v) = %v, expected %v", tc.s, got, tc.expected)
		}
	}
}

func TestTransitionShapes(t *testing.T) {
	m := newTestMDP(t, DefaultParams(1))
	s := State{3000, 100, 1, 5000}

	for _, tc := range []struct {
		a      Action
		states []State
		probs  []float64
	}{
		{Climb, []State{{2950, 100, 1, 4000}, {2960, 100, 1, 4000}, {2940, 100, 1, 4000}}, []float64{0.8, 0.1, 0.1}},
		{Descend, []State{{2950, 100, 1, 4000}, {2951, 100, 1, 4000}, {2949, 100, 1, 4000}}, []float64{0.8, 0.1, 0.1}},
		{Accel, []State{{3000, 105, 1, 4000}, {3000, 106, 1, 4000}, {3000, 104, 1, 4000}}, []float64{0.8, 0.1, 0.1}},
		{Decel, []State{{3000, 95, 1, 4000}, {3000, 96, 1, 4000}, {3000, 94, 1, 4000}}, []float64{0.8, 0.1, 0.1}},
		{Extend, []State{{3000, 100, 2, 4000}, {3000, 100, 1, 4000}}, []float64{0.95, 0.05}},
		{Retract, []State{{3000, 100, 0, 4000}, {3000, 100, 1, 4000}}, []float64{0.95, 0.05}},
		{Level, []State{{3000, 100, 1, 4000}}, []float64{1}},
		{Action(42), []State{{3000, 100, 1, 4000}}, []float64{1}},
	} {
		out := m.SuccAndProbReward(s, tc.a)
		if len(out) != len(tc.states) {
			t.Fatalf("%s: got %d outcomes, expected %d", tc.a, len(out), len(tc.states))
		}
		for i := range out {
			if out[i].State != tc.states[i] || out[i].Prob != tc.probs[i] {
				t.Errorf("%s outcome %d: got %v p=%v, expected %v p=%v", tc.a, i, out[i].State, out[i].Prob,
					tc.states[i], tc.probs[i])
			}
			if out[i].Reward != out[0].Reward {
				t.Errorf("%s: reward differs across outcomes", tc.a)
			}
		}
		if tc.a.Valid() && out[0].Reward != -m.Cost(s, tc.a) {
			t.Errorf("%s: reward %v is not the negated cost %v", tc.a, out[0].Reward, m.Cost(s, tc.a))
		}
	}
}

func TestProbabilitiesSumToOne(t *testing.T) {
	m, err := New(physics.NewISA(), aircraft.B737(), State{Altitude: 2000, Speed: 100, Config: 0, Distance: 6000},
		testFAF, DefaultParams(1), nil)
	if err != nil {
		t.Fatal(err)
	}

	visited := map[State]bool{}
	queue := []State{m.StartState()}
	for len(queue) > 0 && len(visited) < 20000 {
		s := queue[0]
		queue = queue[1:]
		if visited[s] {
			continue
		}
		visited[s] = true

		for _, a := range m.Actions(s) {
			out := m.SuccAndProbReward(s, a)
			if m.IsTerminal(s) {
				if len(out) != 0 {
					t.Fatalf("terminal state %v has successors", s)
				}
				continue
			}
			sum := 0.0
			for _, o := range out {
				sum += o.Prob
				if o.State.Distance >= s.Distance && s.Distance > 0 {
					t.Fatalf("distance did not decrease: %v -> %v", s, o.State)
				}
				queue = append(queue, o.State)
			}
			if math.Abs(sum-1) > 1e-12 {
				t.Errorf("%v %s: probabilities sum to %v", s, a, sum)
			}
		}
	}
	if len(visited) < 100 {
		t.Errorf("only visited %d states", len(visited))
	}
}

func TestTerminalAndOvershoot(t *testing.T) {
	m := newTestMDP(t, DefaultParams(1))

	for _, a := range AllActions {
		if out := m.SuccAndProbReward(testFAF.State(), a); len(out) != 0 {
			t.Errorf("%s from terminal: expected no outcomes, got %v", a, out)
		}
	}
	if _, ok := m.Primary(testFAF.State(), Level); ok {
		t.Errorf("Primary from terminal should report false")
	}

	for _, s := range []State{
		{1000, 70, 2, 0},
		{1050, 75, 3, -1000},
		{1000, 70, 3, -500},
	} {
		for _, a := range AllActions {
			out := m.SuccAndProbReward(s, a)
			if len(out) != 1 || out[0].Prob != 1 || out[0].State != testFAF.State() {
				t.Fatalf("%v %s: expected single terminal outcome, got %v", s, a, out)
			}
			if expected := -DefaultPenalty().Cost(s, testFAF); out[0].Reward != expected {
				t.Errorf("%v: reward %v, expected %v", s, out[0].Reward, expected)
			}
		}
	}

	// one configuration off costs more than flying a whole approach
	s := State{1000, 70, 2, 0}
	out := m.SuccAndProbReward(s, Level)
	if -out[0].Reward < 1e8 {
		t.Errorf("config mismatch penalty too small: %v", -out[0].Reward)
	}
	if p := DefaultPenalty().Cost(State{1001, 70, 3, 0}, testFAF); p != 1e11 {
		t.Errorf("1m altitude miss penalty = %v, expected 1e11", p)
	}
}

func TestCost(t *testing.T) {
	m := newTestMDP(t, DefaultParams(1))
	isa := physics.NewISA()
	ac := aircraft.B737()

	s := State{3000, 100, 0, 5000}
	tas := 100 * math.Sqrt(isa.Density(0)/isa.Density(3000))
	edd := 1000 * math.Sqrt(isa.Density(3000)/isa.Density(0))
	ereq := edd * ac.Drag(100, 0, isa)
	expected := math.Max(ereq/0.33/43e6, ac.IdleBurnRate*1000/tas)
	if got := m.Cost(s, Level); math.Abs(got-expected) > 1e-12 {
		t.Errorf("level cost = %v, expected %v", got, expected)
	}

	if m.Cost(s, Climb) <= m.Cost(s, Level) {
		t.Errorf("climbing should cost more than level flight")
	}
	if m.Cost(s, Accel) <= m.Cost(s, Level) {
		t.Errorf("accelerating should cost more than level flight")
	}
	if m.Cost(s, Extend) != m.Cost(s, Level) {
		t.Errorf("extending has no energy term of its own")
	}
}

func TestCostIdleFloor(t *testing.T) {
	for _, ac := range []*aircraft.Aircraft{aircraft.B737(), aircraft.B747()} {
		m, err := New(physics.NewISA(), ac, State{3000, 100, 0, 5000}, testFAF, DefaultParams(1), nil)
		if err != nil {
			t.Fatal(err)
		}
		for alt := 100.0; alt <= 15000; alt += 700 {
			for c := 0; c <= ac.MaxConfig(); c++ {
				for v := ac.MinSpeed[c]; v <= ac.MaxSpeed[c]; v += 5 {
					s := State{alt, v, c, 5000}
					floor := ac.IdleBurnRate * 1000 / m.TrueAirspeed(s)
					for _, a := range AllActions {
						if cost := m.Cost(s, a); cost < floor || cost < 0 {
							t.Errorf("%s %v %s: cost %v below idle floor %v", ac.Name, s, a, cost, floor)
						}
					}
				}
			}
		}
	}
}

func TestManeuverCost(t *testing.T) {
	p := DefaultParams(1)
	p.ManeuverCost = map[Action]float64{Extend: 10}
	m := newTestMDP(t, p)
	base := newTestMDP(t, DefaultParams(1))
	s := State{3000, 100, 0, 5000}
	if d := m.Cost(s, Extend) - base.Cost(s, Extend); math.Abs(d-10) > 1e-9 {
		t.Errorf("maneuver cost not applied: diff %v", d)
	}
	if m.Cost(s, Level) != base.Cost(s, Level) {
		t.Errorf("maneuver cost leaked into level")
	}
}

func TestPrimary(t *testing.T) {
	m := newTestMDP(t, DefaultParams(1))
	s := State{3000, 100, 1, 5000}
	for _, a := range AllActions {
		o, ok := m.Primary(s, a)
		if !ok {
			t.Fatalf("%s: no primary outcome", a)
		}
		if o != m.SuccAndProbReward(s, a)[0] {
			t.Errorf("%s: primary %v is not the first outcome", a, o)
		}
	}
}

func TestStepSizers(t *testing.T) {
	isa := physics.NewISA()
	ac := aircraft.B737()
	s := State{3000, 100, 0, 5000}

	ps := NewPhysicsSteps(isa, ac, 1000)
	decel, descend := ps.DecelStep(s), ps.DescendStep(s)
	if decel <= 0 || decel != math.Trunc(decel) {
		t.Errorf("physics decel step %v should be a positive whole number", decel)
	}
	if descend <= 0 || descend != math.Trunc(descend) {
		t.Errorf("physics descend step %v should be a positive whole number", descend)
	}

	p := DefaultParams(1)
	p.Steps = ps
	m := newTestMDP(t, p)
	out := m.SuccAndProbReward(s, Descend)
	if out[0].State.Altitude != 3000-descend {
		t.Errorf("descend with physics steps went to %v, expected %v", out[0].State.Altitude, 3000-descend)
	}
	out = m.SuccAndProbReward(s, Decel)
	if out[0].State.Speed != 100-decel {
		t.Errorf("decel with physics steps went to %v, expected %v", out[0].State.Speed, 100-decel)
	}

	fixed := newTestMDP(t, DefaultParams(2))
	out = fixed.SuccAndProbReward(s, Decel)
	if out[0].State.Speed != 90 || out[0].State.Distance != 3000 {
		t.Errorf("scaled fixed steps: got %v", out[0].State)
	}
}

func TestActionText(t *testing.T) {
	for _, a := range AllActions {
		b, err := json.Marshal(a)
		if err != nil {
			t.Fatal(err)
		}
		var back Action
		if err := json.Unmarshal(b, &back); err != nil || back != a {
			t.Errorf("%s: round trip gave %v, %v", a, back, err)
		}
	}
	if _, err := ParseAction("loop"); err == nil {
		t.Errorf("expected error for unknown action")
	}
	if _, err := json.Marshal(Action(99)); err == nil {
		t.Errorf("expected error marshalling invalid action")
	}
}
