package physics

import (
	"math"
)

// Constants
const (
	P0     = 101325.0  // Standard sea level pressure (Pa)
	T0     = 288.15    // Standard sea level temperature (K)
	Rho0   = 1.225     // Standard sea level density (kg/m^3)
	Rgas   = 8.31432   // Universal gas constant (N·m/(mol·K))
	M      = 0.0289644 // Molar mass of dry air (kg/mol)
	G      = 9.80665   // Gravity (m/s^2)
	L      = -0.0065   // Temperature lapse rate (K/m) in troposphere
	Gamma  = 1.4       // Adiabatic index
	Rspec  = 287.058   // Specific gas constant for dry air (J/(kg·K))
	MaxAlt = 20000.0   // Highest altitude the model is valid for (m)

	// ISA layer boundary
	TropopauseAltM = 11000.0
)

// Atmosphere is the query interface other components use to reach the
// atmosphere model. All altitudes are in meters.
type Atmosphere interface {
	Temperature(alt float64) float64 // K
	Pressure(alt float64) float64    // Pa
	Density(alt float64) float64     // kg/m^3
}

// ISA implements the International Standard Atmosphere up to MaxAlt.
type ISA struct{}

// NewISA returns the standard atmosphere
func NewISA() ISA {
	return ISA{}
}

// exponent of the tropospheric pressure power law, g·M/(R·L)
const powerExp = G * M / Rgas / L

// Temperature returns the temperature in Kelvin; held constant above the
// tropopause.
func (ISA) Temperature(alt float64) float64 {
	if alt > TropopauseAltM {
		alt = TropopauseAltM
	}
	return T0 + L*alt
}

// Pressure returns static pressure in Pa
func (a ISA) Pressure(alt float64) float64 {
	if alt > TropopauseAltM {
		pt := a.Pressure(TropopauseAltM)
		return pt * math.Exp(-G*M*(alt-TropopauseAltM)/Rgas/a.Temperature(alt))
	}
	// P = P0 * (T0/(T0+L*h))^(g*M/(R*L))
	return P0 * math.Pow(T0/(T0+L*alt), powerExp)
}

// Density returns air density in kg/m^3
func (a ISA) Density(alt float64) float64 {
	if alt > TropopauseAltM {
		rhot := a.Density(TropopauseAltM)
		return rhot * math.Exp(-G*M*(alt-TropopauseAltM)/Rgas/a.Temperature(alt))
	}
	return Rho0 * math.Pow(1-L*alt/T0, 1+powerExp)
}

// TemperatureAt evaluates Temperature at each altitude, in order
func (a ISA) TemperatureAt(alts []float64) []float64 {
	return Map(alts, a.Temperature)
}

// PressureAt evaluates Pressure at each altitude, in order
func (a ISA) PressureAt(alts []float64) []float64 {
	return Map(alts, a.Pressure)
}

// DensityAt evaluates Density at each altitude, in order
func (a ISA) DensityAt(alts []float64) []float64 {
	return Map(alts, a.Density)
}

// OffsetISA is the standard atmosphere with every temperature shifted by
// DeltaT. Pressure still follows the standard pressure altitude; density is
// the ISA density scaled by the ratio of ISA to shifted temperature.
type OffsetISA struct {
	ISA
	DeltaT float64 // K
}

// NewOffsetISA returns ISA+deltaT. NewOffsetISA(0) behaves exactly as ISA.
func NewOffsetISA(deltaT float64) OffsetISA {
	return OffsetISA{DeltaT: deltaT}
}

// Temperature returns the shifted temperature in Kelvin
func (a OffsetISA) Temperature(alt float64) float64 {
	return a.ISA.Temperature(alt) + a.DeltaT
}

// Density returns air density in kg/m^3
func (a OffsetISA) Density(alt float64) float64 {
	if a.DeltaT == 0 {
		return a.ISA.Density(alt)
	}
	return a.ISA.Density(alt) * a.ISA.Temperature(alt) / a.Temperature(alt)
}

// Standard returns the unshifted atmosphere
func (a OffsetISA) Standard() Atmosphere {
	return a.ISA
}

// TemperatureAt evaluates Temperature at each altitude, in order
func (a OffsetISA) TemperatureAt(alts []float64) []float64 {
	return Map(alts, a.Temperature)
}

// DensityAt evaluates Density at each altitude, in order
func (a OffsetISA) DensityAt(alts []float64) []float64 {
	return Map(alts, a.Density)
}

// Map applies f elementwise, returning a slice of the same length.
func Map(alts []float64, f func(float64) float64) []float64 {
	out := make([]float64, len(alts))
	for i, alt := range alts {
		out[i] = f(alt)
	}
	return out
}

// ------------------------------------------------------------------------------------------------
// AIRSPEED
// ------------------------------------------------------------------------------------------------

// Standardizer is implemented by atmospheres derived from a standard day
type Standardizer interface {
	Standard() Atmosphere
}

// ReferenceDensity returns the sea level density equivalent airspeed is
// defined against. For a shifted atmosphere that is the standard day's.
func ReferenceDensity(atm Atmosphere) float64 {
	if s, ok := atm.(Standardizer); ok {
		atm = s.Standard()
	}
	return atm.Density(0)
}

// TrueAirspeed converts equivalent airspeed (m/s) at the given altitude to
// true airspeed: TAS = EAS * sqrt(rho0/rho(alt))
func TrueAirspeed(atm Atmosphere, eas, alt float64) float64 {
	return eas * math.Sqrt(ReferenceDensity(atm)/atm.Density(alt))
}

// EquivalentDistance converts a distance flown at altitude to the equivalent
// air distance at sea level density: d * sqrt(rho(alt)/rho0)
func EquivalentDistance(atm Atmosphere, d, alt float64) float64 {
	return d * math.Sqrt(atm.Density(alt)/ReferenceDensity(atm))
}

// SoundSpeed returns the speed of sound in m/s for a given temperature in Kelvin
func SoundSpeed(tempK float64) float64 {
	if tempK <= 0 {
		return 0
	}
	return math.Sqrt(Gamma * Rspec * tempK)
}

// Mach returns the Mach number for a true airspeed (m/s) at the given altitude
func Mach(atm Atmosphere, tas, alt float64) float64 {
	a := SoundSpeed(atm.Temperature(alt))
	if a == 0 {
		return 0
	}
	return tas / a
}
