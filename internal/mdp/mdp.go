package mdp

import (
	"errors"
	"fmt"
	"math"

	"github.com/fabianr-su/ApproachMDPproject/internal/aircraft"
	"github.com/fabianr-su/ApproachMDPproject/internal/physics"
	"github.com/fabianr-su/ApproachMDPproject/pkg/logger"
)

// ErrInvalidState is returned when an initial or target state is outside
// the aircraft's envelope
var ErrInvalidState = errors.New("invalid state")

// Transition probabilities
const (
	PrimaryProb     = 0.8  // climb, descend, accel, decel
	JitterProb      = 0.1  // each side
	FlapSuccessProb = 0.95 // extend, retract
	FlapFailureProb = 0.05
)

// Penalty weights the mismatch with the FAF target when the FAF is reached
// (or passed) in the wrong state. The magnitudes are calibration values;
// they only need to keep an overshoot more expensive than any in-bound
// sequence of manoeuvres.
type Penalty struct {
	AltSpeedWeight float64 `json:"alt_speed_weight" toml:"alt_speed_weight"` // per (m)^2 and (m/s)^2
	ConfigWeight   float64 `json:"config_weight" toml:"config_weight"`       // per configuration step
}

// DefaultPenalty returns the standard overshoot penalty weights
func DefaultPenalty() Penalty {
	return Penalty{AltSpeedWeight: 1e4 * 1e7, ConfigWeight: 1e8}
}

// Cost returns the penalty for arriving at the FAF in state s
func (p Penalty) Cost(s State, faf FAF) float64 {
	da, dv := s.Altitude-faf.Altitude, s.Speed-faf.Speed
	dc := math.Abs(float64(s.Config - faf.Config))
	return p.AltSpeedWeight*(da*da+dv*dv) + p.ConfigWeight*dc
}

// Params holds the discretisation of the approach
type Params struct {
	StepDistance  float64 // m flown per step
	ClimbStep     float64 // m per climb (and per descend for FixedSteps)
	SpeedStep     float64 // m/s per accel (and per decel for FixedSteps)
	FuelEnergy    float64 // J/kg
	ClimbJitter   float64 // m
	DescendJitter float64 // m
	SpeedJitter   float64 // m/s
	Penalty       Penalty

	// ManeuverCost is added to the fuel cost of an action. Zero unless set.
	ManeuverCost map[Action]float64

	// Steps overrides the decel/descend step sizes; nil means FixedSteps
	// with SpeedStep and ClimbStep.
	Steps StepSizer
}

// DefaultParams returns the standard discretisation with all step sizes
// multiplied by scale.
func DefaultParams(scale float64) Params {
	return Params{
		StepDistance:  1000 * scale,
		ClimbStep:     50 * scale,
		SpeedStep:     5 * scale,
		FuelEnergy:    43e6,
		ClimbJitter:   10,
		DescendJitter: 1,
		SpeedJitter:   1,
		Penalty:       DefaultPenalty(),
	}
}

func (p Params) validate() error {
	if p.StepDistance <= 0 || p.ClimbStep <= 0 || p.SpeedStep <= 0 {
		return fmt.Errorf("step sizes must be positive (distance %f, climb %f, speed %f)",
			p.StepDistance, p.ClimbStep, p.SpeedStep)
	}
	if p.FuelEnergy <= 0 {
		return fmt.Errorf("fuel energy density must be positive: %f", p.FuelEnergy)
	}
	if p.ClimbJitter < 0 || p.DescendJitter < 0 || p.SpeedJitter < 0 {
		return fmt.Errorf("jitter must be non-negative")
	}
	if p.Penalty.AltSpeedWeight <= 0 || p.Penalty.ConfigWeight <= 0 {
		return fmt.Errorf("penalty weights must be positive")
	}
	for a, c := range p.ManeuverCost {
		if c < 0 {
			return fmt.Errorf("maneuver cost for %s must be non-negative: %f", a, c)
		}
	}
	return nil
}

// ApproachMDP describes the fuel-optimal approach as a Markov decision
// process. It generates transitions and rewards; it never holds a policy.
// Once created it is read-only and safe for concurrent use.
type ApproachMDP struct {
	atm     physics.Atmosphere
	ac      *aircraft.Aircraft
	initial State
	faf     FAF
	params  Params
	steps   StepSizer
	logger  *logger.Logger
}

// New creates an approach MDP for the given aircraft flying from initial
// to the FAF.
func New(atm physics.Atmosphere, ac *aircraft.Aircraft, initial State, faf FAF, params Params, log *logger.Logger) (*ApproachMDP, error) {
	if atm == nil {
		return nil, fmt.Errorf("atmosphere is required")
	}
	if ac == nil {
		return nil, fmt.Errorf("aircraft is required")
	}
	if err := ac.Validate(); err != nil {
		return nil, err
	}
	if err := params.validate(); err != nil {
		return nil, err
	}
	if faf.Config < 0 || faf.Config > ac.MaxConfig() {
		return nil, fmt.Errorf("%w: FAF config %d outside 0..%d", ErrInvalidState, faf.Config, ac.MaxConfig())
	}
	if faf.Speed <= 0 || faf.Altitude < 0 {
		return nil, fmt.Errorf("%w: FAF %+v", ErrInvalidState, faf)
	}
	if initial.Config < 0 || initial.Config > ac.MaxConfig() {
		return nil, fmt.Errorf("%w: initial config %d outside 0..%d", ErrInvalidState, initial.Config, ac.MaxConfig())
	}
	if initial.Speed <= 0 || initial.Altitude <= 0 || initial.Distance < 0 {
		return nil, fmt.Errorf("%w: initial %s", ErrInvalidState, initial)
	}
	if log == nil {
		log = logger.NewNop()
	}

	steps := params.Steps
	if steps == nil {
		steps = FixedSteps{Decel: params.SpeedStep, Descend: params.ClimbStep}
	}

	return &ApproachMDP{
		atm:     atm,
		ac:      ac,
		initial: initial,
		faf:     faf,
		params:  params,
		steps:   steps,
		logger:  log.Named("mdp"),
	}, nil
}

func (m *ApproachMDP) Atmosphere() physics.Atmosphere { return m.atm }
func (m *ApproachMDP) Aircraft() *aircraft.Aircraft   { return m.ac }
func (m *ApproachMDP) FAF() FAF                       { return m.faf }
func (m *ApproachMDP) Params() Params                 { return m.params }

// StartState returns the initial state of the approach
func (m *ApproachMDP) StartState() State {
	return m.initial
}

// Discount is 1: the problem is episodic and fuel costs the same
// everywhere along the approach.
func (m *ApproachMDP) Discount() float64 {
	return 1
}

// IsTerminal reports whether s is the FAF state
func (m *ApproachMDP) IsTerminal(s State) bool {
	return s == m.faf.State()
}

// TrueAirspeed returns the TAS for the state's EAS and altitude
func (m *ApproachMDP) TrueAirspeed(s State) float64 {
	return physics.TrueAirspeed(m.atm, s.Speed, s.Altitude)
}

// Actions returns the actions that are legal in s. Every rule is evaluated
// on its own, so several manoeuvres are usually available.
func (m *ApproachMDP) Actions(s State) []Action {
	ac := m.ac
	actions := []Action{Climb, Level}
	if s.Config > 0 && s.Speed >= ac.MinSpeed[s.Config-1] {
		actions = append(actions, Retract)
	}
	if s.Config < ac.MaxConfig() && s.Speed <= ac.MaxSpeed[s.Config+1] {
		actions = append(actions, Extend)
	}
	if s.Altitude > m.steps.DescendStep(s) {
		actions = append(actions, Descend)
	}
	if s.Speed >= ac.MinSpeed[s.Config]+m.steps.DecelStep(s) {
		actions = append(actions, Decel)
	}
	if s.Speed <= ac.MaxSpeed[s.Config]-m.params.SpeedStep {
		actions = append(actions, Accel)
	}
	return actions
}

// Cost returns the fuel in kg burned flying one step from s with action a.
// It is never below the idle consumption for the time the step takes.
func (m *ApproachMDP) Cost(s State, a Action) float64 {
	tas := m.TrueAirspeed(s)
	edd := physics.EquivalentDistance(m.atm, m.params.StepDistance, s.Altitude)

	altAfter, tasAfter := s.Altitude, tas
	switch a {
	case Climb:
		altAfter += m.params.ClimbStep
	case Descend:
		altAfter -= m.steps.DescendStep(s)
	case Accel:
		tasAfter += m.params.SpeedStep
	case Decel:
		tasAfter -= m.steps.DecelStep(s)
	}

	mass := m.ac.Mass
	ereq := mass*physics.G*(altAfter-s.Altitude) +
		edd*m.ac.Drag(s.Speed, s.Config, m.atm) +
		0.5*mass*(tasAfter*tasAfter-tas*tas)

	idle := m.ac.IdleBurnRate * m.params.StepDistance / tas
	fuel := math.Max(ereq/m.ac.Efficiency/m.params.FuelEnergy, idle)

	if m.logger.DebugEnabled() {
		m.logger.Debug("Fuel required",
			logger.String("state", s.String()),
			logger.String("action", a.String()),
			logger.Float64("energy_j", ereq),
			logger.Float64("fuel_kg", fuel))
	}

	return fuel + m.params.ManeuverCost[a]
}

// SuccAndProbReward returns the possible successors of taking a in s. The
// result is empty if s is the terminal state. All outcomes share the same
// reward, the negated cost; only the resulting state is random.
func (m *ApproachMDP) SuccAndProbReward(s State, a Action) []Outcome {
	if m.IsTerminal(s) {
		return nil
	}

	// At or past the FAF: the episode ends regardless of the action, with
	// a penalty for any mismatch with the target.
	if s.Distance <= 0 {
		return []Outcome{{State: m.faf.State(), Prob: 1, Reward: -m.params.Penalty.Cost(s, m.faf)}}
	}

	reward := -m.Cost(s, a)
	next := s
	next.Distance -= m.params.StepDistance

	// jitter returns the primary outcome followed by one perturbation on
	// either side of it.
	jitter := func(primary State, set func(*State, float64), delta float64) []Outcome {
		hi, lo := primary, primary
		set(&hi, delta)
		set(&lo, -delta)
		return []Outcome{
			{State: primary, Prob: PrimaryProb, Reward: reward},
			{State: hi, Prob: JitterProb, Reward: reward},
			{State: lo, Prob: JitterProb, Reward: reward},
		}
	}
	altitude := func(s *State, d float64) { s.Altitude += d }
	speed := func(s *State, d float64) { s.Speed += d }

	switch a {
	case Climb:
		// The climb transition moves the aircraft down by a climb step.
		next.Altitude -= m.params.ClimbStep
		return jitter(next, altitude, m.params.ClimbJitter)

	case Descend:
		next.Altitude -= m.steps.DescendStep(s)
		return jitter(next, altitude, m.params.DescendJitter)

	case Accel:
		next.Speed += m.params.SpeedStep
		return jitter(next, speed, m.params.SpeedJitter)

	case Decel:
		next.Speed -= m.steps.DecelStep(s)
		return jitter(next, speed, m.params.SpeedJitter)

	case Extend, Retract:
		moved := next
		if a == Extend {
			moved.Config++
		} else {
			moved.Config--
		}
		return []Outcome{
			{State: moved, Prob: FlapSuccessProb, Reward: reward},
			{State: next, Prob: FlapFailureProb, Reward: reward},
		}

	default:
		return []Outcome{{State: next, Prob: 1, Reward: reward}}
	}
}

// Primary returns the most likely outcome of taking a in s; false if s is
// terminal.
func (m *ApproachMDP) Primary(s State, a Action) (Outcome, bool) {
	outcomes := m.SuccAndProbReward(s, a)
	if len(outcomes) == 0 {
		return Outcome{}, false
	}
	best := outcomes[0]
	for _, o := range outcomes[1:] {
		if o.Prob > best.Prob {
			best = o
		}
	}
	return best, true
}
