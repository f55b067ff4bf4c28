package mdp

import (
	"math"

	"github.com/fabianr-su/ApproachMDPproject/internal/aircraft"
	"github.com/fabianr-su/ApproachMDPproject/internal/physics"
)

// StepSizer decides how much speed a decel and how much altitude a descend
// removes from a given state.
type StepSizer interface {
	DecelStep(s State) float64
	DescendStep(s State) float64
}

// FixedSteps returns constant step sizes regardless of state. This is the
// default: state-dependent steps blow up the reachable state space.
type FixedSteps struct {
	Decel   float64 // m/s
	Descend float64 // m
}

func (f FixedSteps) DecelStep(State) float64   { return f.Decel }
func (f FixedSteps) DescendStep(State) float64 { return f.Descend }

// PhysicsSteps derives the step sizes from flying one segment at idle
// thrust: the drag work over the equivalent air distance is taken out of
// kinetic energy (decel) or potential energy (descend). Results are
// truncated to whole m/s and m to keep the state space on a grid.
type PhysicsSteps struct {
	Atmosphere   physics.Atmosphere
	Aircraft     *aircraft.Aircraft
	StepDistance float64 // m
}

// NewPhysicsSteps creates an idle-thrust step sizer
func NewPhysicsSteps(atm physics.Atmosphere, ac *aircraft.Aircraft, stepDistance float64) PhysicsSteps {
	return PhysicsSteps{Atmosphere: atm, Aircraft: ac, StepDistance: stepDistance}
}

func (p PhysicsSteps) dragWork(s State) float64 {
	edd := physics.EquivalentDistance(p.Atmosphere, p.StepDistance, s.Altitude)
	return p.Aircraft.Drag(s.Speed, s.Config, p.Atmosphere) * edd
}

func (p PhysicsSteps) DecelStep(s State) float64 {
	v := s.Speed
	after := math.Sqrt(math.Max(v*v-2*p.dragWork(s)/p.Aircraft.Mass, 0))
	return math.Trunc(v - after)
}

func (p PhysicsSteps) DescendStep(s State) float64 {
	return math.Trunc(p.dragWork(s) / p.Aircraft.Mass / physics.G)
}
