package aircraft

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/fabianr-su/ApproachMDPproject/internal/physics"
)

// Default wing geometry and drag polar (Boeing 737-800)
const (
	DefaultWingSpan    = 35.0 // m
	DefaultAspectRatio = 9.45
	DefaultOswald      = 0.8
)

// DefaultParasiteDrag holds the zero-lift drag coefficient per configuration
var DefaultParasiteDrag = []float64{0.0165, 0.018, 0.02, 0.023, 0.03}

// ErrUnknownAircraft is returned by Lookup for names without a profile
var ErrUnknownAircraft = errors.New("unknown aircraft")

// Aircraft is the immutable aerodynamic and fuel model of an airframe.
// Speeds are equivalent airspeeds in m/s, indexed by configuration.
type Aircraft struct {
	Name         string    `json:"name"`
	Mass         float64   `json:"mass"`           // kg
	Efficiency   float64   `json:"efficiency"`     // net propulsive efficiency, 0-1
	IdleBurnRate float64   `json:"idle_burn_rate"` // kg/s at idle thrust
	MinSpeed     []float64 `json:"min_speed"`
	MaxSpeed     []float64 `json:"max_speed"`
	WingSpan     float64   `json:"wing_span"` // m
	AspectRatio  float64   `json:"aspect_ratio"`
	ParasiteDrag []float64 `json:"parasite_drag"`
	Oswald       float64   `json:"oswald"`
}

// New creates an aircraft with the default wing geometry and validates it
func New(name string, mass, efficiency, idleBurnRate float64, minSpeed, maxSpeed []float64) (*Aircraft, error) {
	ac := &Aircraft{
		Name:         name,
		Mass:         mass,
		Efficiency:   efficiency,
		IdleBurnRate: idleBurnRate,
		MinSpeed:     append([]float64(nil), minSpeed...),
		MaxSpeed:     append([]float64(nil), maxSpeed...),
		WingSpan:     DefaultWingSpan,
		AspectRatio:  DefaultAspectRatio,
		ParasiteDrag: append([]float64(nil), DefaultParasiteDrag...),
		Oswald:       DefaultOswald,
	}
	if err := ac.Validate(); err != nil {
		return nil, err
	}
	return ac, nil
}

// Validate checks that the model parameters are physically meaningful
func (a *Aircraft) Validate() error {
	if a.Mass <= 0 {
		return fmt.Errorf("aircraft %s: mass must be positive: %f", a.Name, a.Mass)
	}
	if a.Efficiency <= 0 || a.Efficiency > 1 {
		return fmt.Errorf("aircraft %s: efficiency must be in (0, 1]: %f", a.Name, a.Efficiency)
	}
	if a.IdleBurnRate < 0 {
		return fmt.Errorf("aircraft %s: idle burn rate must be non-negative: %f", a.Name, a.IdleBurnRate)
	}
	if len(a.MinSpeed) == 0 || len(a.MinSpeed) != len(a.MaxSpeed) {
		return fmt.Errorf("aircraft %s: min/max speed lists must be non-empty and of equal length (%d vs %d)",
			a.Name, len(a.MinSpeed), len(a.MaxSpeed))
	}
	for c := range a.MinSpeed {
		if a.MinSpeed[c] <= 0 || a.MinSpeed[c] >= a.MaxSpeed[c] {
			return fmt.Errorf("aircraft %s: config %d: need 0 < min speed < max speed (%f, %f)",
				a.Name, c, a.MinSpeed[c], a.MaxSpeed[c])
		}
	}
	if len(a.ParasiteDrag) < len(a.MinSpeed) {
		return fmt.Errorf("aircraft %s: parasite drag table covers %d configs, need %d",
			a.Name, len(a.ParasiteDrag), len(a.MinSpeed))
	}
	if a.WingSpan <= 0 || a.AspectRatio <= 0 || a.Oswald <= 0 {
		return fmt.Errorf("aircraft %s: wing geometry must be positive", a.Name)
	}
	return nil
}

// MaxConfig returns the highest configuration index
func (a *Aircraft) MaxConfig() int {
	return len(a.MinSpeed) - 1
}

// WingArea returns the reference area b^2/AR in m^2
func (a *Aircraft) WingArea() float64 {
	return a.WingSpan * a.WingSpan / a.AspectRatio
}

// LiftCoefficient returns the lift coefficient for level flight at the given
// equivalent airspeed. Since speed is EAS, sea level density is used.
// speed must be non-zero.
func (a *Aircraft) LiftCoefficient(speed float64, atm physics.Atmosphere) float64 {
	return physics.G * a.Mass / (0.5 * physics.ReferenceDensity(atm) * speed * speed * a.WingArea())
}

// DragCoefficient returns cD = cDp[config] + cL^2/(pi·e·AR)
func (a *Aircraft) DragCoefficient(speed float64, config int, atm physics.Atmosphere) float64 {
	cL := a.LiftCoefficient(speed, atm)
	return a.ParasiteDrag[config] + cL*cL/(math.Pi*a.Oswald*a.AspectRatio)
}

// Drag returns the drag force in N
func (a *Aircraft) Drag(speed float64, config int, atm physics.Atmosphere) float64 {
	cD := a.DragCoefficient(speed, config, atm)
	return 0.5 * physics.ReferenceDensity(atm) * speed * speed * cD * a.WingArea()
}

///////////////////////////////////////////////////////////////////////////
// Profiles

var profiles = map[string]func() *Aircraft{
	"b737": B737,
	"b747": B747,
}

func mustNew(name string, mass, efficiency, idleBurnRate float64, minSpeed, maxSpeed []float64) *Aircraft {
	ac, err := New(name, mass, efficiency, idleBurnRate, minSpeed, maxSpeed)
	if err != nil {
		panic(err)
	}
	return ac
}

// B737 returns a Boeing 737-800 class model
func B737() *Aircraft {
	return mustNew("b737", 55000, 0.33, 600.0/3600,
		[]float64{90, 80, 70, 65}, []float64{150, 115, 100, 90})
}

// B747 returns a Boeing 747 class model
func B747() *Aircraft {
	return mustNew("b747", 350000, 0.33, 1500.0/3600,
		[]float64{100, 90, 80, 70}, []float64{150, 130, 110, 90})
}

// Lookup returns the built-in profile with the given (case-insensitive) name
func Lookup(name string) (*Aircraft, error) {
	if f, ok := profiles[strings.ToLower(name)]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("%w: %q (known: %s)", ErrUnknownAircraft, name, strings.Join(ProfileNames(), ", "))
}

// ProfileNames returns the names of the built-in profiles, sorted
func ProfileNames() []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
