package rollout

import (
	"errors"
	"fmt"
	"math"

	"github.com/fabianr-su/ApproachMDPproject/internal/mdp"
)

var (
	// ErrNoNearbyPolicy means neither the start state nor any state in its
	// neighbourhood has a policy entry. The rollout cannot be rendered.
	ErrNoNearbyPolicy = errors.New("no policy found near start state")

	// ErrPolicyGap means the policy has no action for a state reached
	// during the rollout
	ErrPolicyGap = errors.New("policy has no action for state")
)

// Policy maps states to actions. Only point lookups are performed.
type Policy interface {
	Action(s mdp.State) (mdp.Action, bool)
}

// MapPolicy is a policy backed by a lookup table
type MapPolicy map[mdp.State]mdp.Action

func (p MapPolicy) Action(s mdp.State) (mdp.Action, bool) {
	a, ok := p[s]
	return a, ok
}

// PolicyFunc adapts a function to the Policy interface
type PolicyFunc func(s mdp.State) (mdp.Action, bool)

func (f PolicyFunc) Action(s mdp.State) (mdp.Action, bool) {
	return f(s)
}

// Perturbation describes how a start state was moved to find a policy entry
type Perturbation struct {
	Altitude float64 `json:"altitude"` // m
	Speed    float64 `json:"speed"`    // m/s
}

// ResolveStart returns s if the policy covers it. Otherwise it searches
// outwards, trying altitude +i, altitude -i, speed +i and speed -i for
// i = 1, 2, ... up to the larger of |altitude| and |speed|.
func ResolveStart(p Policy, s mdp.State) (mdp.State, Perturbation, error) {
	if _, ok := p.Action(s); ok {
		return s, Perturbation{}, nil
	}

	limit := math.Max(math.Abs(s.Altitude), math.Abs(s.Speed))
	for i := 1.0; i <= limit; i++ {
		for _, d := range []Perturbation{{Altitude: i}, {Altitude: -i}, {Speed: i}, {Speed: -i}} {
			try := s
			try.Altitude += d.Altitude
			try.Speed += d.Speed
			if _, ok := p.Action(try); ok {
				return try, d, nil
			}
		}
	}
	return s, Perturbation{}, fmt.Errorf("%w: %s", ErrNoNearbyPolicy, s)
}
