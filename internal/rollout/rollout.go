package rollout

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/fabianr-su/ApproachMDPproject/internal/mdp"
	"github.com/fabianr-su/ApproachMDPproject/internal/physics"
	"github.com/fabianr-su/ApproachMDPproject/pkg/logger"
)

// Phase groups the states of a trajectory for rendering
type Phase string

const (
	PhaseLevel   Phase = "level" // constant speed: everything but accel/decel
	PhaseDecel   Phase = "decel"
	PhaseAccel   Phase = "accel"
	PhaseExtend  Phase = "extend"  // flap extension markers
	PhaseRetract Phase = "retract" // flap retraction markers
)

// Phases lists every phase in rendering order
var Phases = []Phase{PhaseLevel, PhaseDecel, PhaseAccel, PhaseExtend, PhaseRetract}

// speedPhase returns the line bucket for an action
func speedPhase(a mdp.Action) Phase {
	switch a {
	case mdp.Decel:
		return PhaseDecel
	case mdp.Accel:
		return PhaseAccel
	default:
		return PhaseLevel
	}
}

// Point is a vertical profile sample
type Point struct {
	Distance float64 `json:"distance_km"`
	Altitude float64 `json:"altitude_m"`
}

// SpeedPoint is a velocity profile sample
type SpeedPoint struct {
	Distance float64 `json:"distance_km"`
	EAS      float64 `json:"eas"`
	TAS      float64 `json:"tas"`
	Mach     float64 `json:"mach"`
}

// Step is a single decision along the trajectory
type Step struct {
	State  mdp.State  `json:"state"`
	Action mdp.Action `json:"action"`
	Fuel   float64    `json:"fuel_kg"`
}

// Trajectory is the most likely path through the MDP under a policy
type Trajectory struct {
	Start        mdp.State         `json:"start"`    // as requested
	Resolved     mdp.State         `json:"resolved"` // where the rollout actually began
	Perturbation Perturbation      `json:"perturbation"`
	Final        mdp.State         `json:"final"`
	FuelUsed     float64           `json:"fuel_used_kg"`
	Steps        []Step            `json:"steps"`
	Traces       map[Phase][]Point `json:"traces"`
	Speed        []SpeedPoint      `json:"speed"`
}

func (t *Trajectory) record(s mdp.State, a mdp.Action) {
	p := Point{Distance: s.Distance / 1000, Altitude: s.Altitude}
	switch a {
	case mdp.Extend:
		t.Traces[PhaseExtend] = append(t.Traces[PhaseExtend], p)
	case mdp.Retract:
		t.Traces[PhaseRetract] = append(t.Traces[PhaseRetract], p)
	}
	ph := speedPhase(a)
	t.Traces[ph] = append(t.Traces[ph], p)
}

func (t *Trajectory) recordSpeed(m *mdp.ApproachMDP, s mdp.State) {
	tas := m.TrueAirspeed(s)
	t.Speed = append(t.Speed, SpeedPoint{
		Distance: s.Distance / 1000,
		EAS:      s.Speed,
		TAS:      tas,
		Mach:     physics.Mach(m.Atmosphere(), tas, s.Altitude),
	})
}

// Rollout replays policies through an approach MDP
type Rollout struct {
	mdp    *mdp.ApproachMDP
	logger *logger.Logger
}

// New creates a rollout runner for the given MDP
func New(m *mdp.ApproachMDP, log *logger.Logger) *Rollout {
	if log == nil {
		log = logger.NewNop()
	}
	return &Rollout{mdp: m, logger: log.Named("rollout")}
}

// MDP returns the process being replayed
func (r *Rollout) MDP() *mdp.ApproachMDP {
	return r.mdp
}

// Run follows the policy from start, always taking the most likely outcome
// of each transition, until the FAF is reached or passed. If start has no
// policy entry a nearby state is used instead; ErrNoNearbyPolicy is
// returned if there is none. If a state reached later has no entry, the
// trajectory flown so far is returned together with ErrPolicyGap.
func (r *Rollout) Run(p Policy, start mdp.State) (*Trajectory, error) {
	s, offset, err := ResolveStart(p, start)
	if err != nil {
		r.logger.Warn("Could not find similar initial state", logger.String("start", start.String()))
		return nil, err
	}
	if s != start {
		r.logger.Info("No policy for initial state, starting from nearby state",
			logger.String("start", start.String()),
			logger.String("resolved", s.String()))
	}

	t := &Trajectory{
		Start:        start,
		Resolved:     s,
		Perturbation: offset,
		Traces:       make(map[Phase][]Point),
	}

	action, _ := p.Action(s)
	for s.Distance > 0 {
		prev := action
		next, ok := p.Action(s)
		if !ok {
			// Keep what was flown so far; the gap state closes the trace.
			t.recordSpeed(r.mdp, s)
			t.record(s, prev)
			t.Final = s
			r.logger.Warn("Policy has no action for reached state",
				logger.String("state", s.String()),
				logger.Int("steps", len(t.Steps)))
			return t, fmt.Errorf("%w: %s", ErrPolicyGap, s)
		}
		action = next

		t.recordSpeed(r.mdp, s)
		t.record(s, action)

		// Close the previous segment at this state so the rendered lines
		// join up.
		if prev != action {
			r.logger.Debug("Change in action",
				logger.String("from", prev.String()),
				logger.String("to", action.String()),
				logger.Float64("distance", s.Distance))
			ph := speedPhase(prev)
			t.Traces[ph] = append(t.Traces[ph], Point{Distance: s.Distance / 1000, Altitude: s.Altitude})
		}

		out, ok := r.mdp.Primary(s, action)
		if !ok {
			break
		}
		t.Steps = append(t.Steps, Step{State: s, Action: action, Fuel: -out.Reward})
		t.FuelUsed -= out.Reward
		s = out.State
	}

	t.recordSpeed(r.mdp, s)
	t.record(s, action)
	t.Final = s

	r.logger.Debug("Rollout complete",
		logger.String("final", s.String()),
		logger.Int("steps", len(t.Steps)),
		logger.Float64("fuel_kg", t.FuelUsed))

	return t, nil
}

// Result is the outcome of one rollout of a batch
type Result struct {
	Start      mdp.State   `json:"start"`
	Trajectory *Trajectory `json:"trajectory,omitempty"`
	Err        error       `json:"-"`
}

// Batch runs independent rollouts from each start state using up to
// workers goroutines. Results are returned in the order of starts; a
// failed rollout is reported in its Result and does not stop the others.
func (r *Rollout) Batch(ctx context.Context, p Policy, starts []mdp.State, workers int) ([]Result, error) {
	if workers <= 0 {
		workers = 1
	}
	results := make([]Result, len(starts))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, start := range starts {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			traj, err := r.Run(p, start)
			results[i] = Result{Start: start, Trajectory: traj, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
