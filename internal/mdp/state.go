package mdp

import (
	"fmt"
)

// State is a point of the discretised approach. It is a comparable value
// and can be used directly as a map key.
type State struct {
	Altitude float64 `json:"altitude" toml:"altitude"` // m above threshold
	Speed    float64 `json:"speed" toml:"speed"`       // EAS, m/s
	Config   int     `json:"config" toml:"config"`     // flap setting, 0 = clean
	Distance float64 `json:"distance" toml:"distance"` // m remaining to the FAF
}

func (s State) String() string {
	return fmt.Sprintf("alt=%.0fm eas=%.0fm/s config=%d dist=%.1fkm", s.Altitude, s.Speed, s.Config, s.Distance/1000)
}

// FAF is the target state at the final approach fix. Distance is
// implicitly zero.
type FAF struct {
	Altitude float64 `json:"altitude" toml:"altitude"`
	Speed    float64 `json:"speed" toml:"speed"`
	Config   int     `json:"config" toml:"config"`
}

// State returns the terminal state of the approach
func (f FAF) State() State {
	return State{Altitude: f.Altitude, Speed: f.Speed, Config: f.Config}
}

// Outcome is one possible result of taking an action
type Outcome struct {
	State  State   `json:"state"`
	Prob   float64 `json:"prob"`
	Reward float64 `json:"reward"`
}

// Action is one of the discrete manoeuvres available to the aircraft
type Action uint8

const (
	Climb Action = iota
	Descend
	Level
	Accel
	Decel
	Extend
	Retract

	NumActions = iota
)

var actionNames = [NumActions]string{
	Climb:   "climb",
	Descend: "descend",
	Level:   "level",
	Accel:   "accel",
	Decel:   "decel",
	Extend:  "extend",
	Retract: "retract",
}

// AllActions lists every action in declaration order
var AllActions = []Action{Climb, Descend, Level, Accel, Decel, Extend, Retract}

func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf("action(%d)", uint8(a))
}

// Valid reports whether a is one of the defined actions
func (a Action) Valid() bool {
	return int(a) < NumActions
}

// ParseAction converts an action name into an Action
func ParseAction(s string) (Action, error) {
	for i, name := range actionNames {
		if name == s {
			return Action(i), nil
		}
	}
	return 0, fmt.Errorf("unknown action %q", s)
}

func (a Action) MarshalText() ([]byte, error) {
	if !a.Valid() {
		return nil, fmt.Errorf("invalid action %d", uint8(a))
	}
	return []byte(a.String()), nil
}

func (a *Action) UnmarshalText(b []byte) error {
	act, err := ParseAction(string(b))
	if err != nil {
		return err
	}
	*a = act
	return nil
}
