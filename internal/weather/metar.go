package weather

import (
	"regexp"
	"strconv"

	"github.com/fabianr-su/ApproachMDPproject/internal/physics"
)

var (
	// RMK T-group: T s ttt s ddd (s=sign 0=pos,1=neg; ttt=temp*10)
	reTGroup = regexp.MustCompile(`\sRMK\s.*\bT([01])(\d{3})[01]\d{3}\b`)
	// Temperature/dewpoint group: " 22/10", " M03/M05", " 00/M01", " 12/"
	reStandard = regexp.MustCompile(`\s(M)?(\d{2})/(?:M?\d{2})?(?:\s|$)`)
)

// ParseTemperature extracts the temperature in Celsius from a raw METAR.
// The tenths-precision remarks group wins over the main group.
func ParseTemperature(raw string) (float64, bool) {
	if m := reTGroup.FindStringSubmatch(raw); len(m) == 3 {
		val, err := strconv.ParseFloat(m[2], 64)
		if err == nil {
			val /= 10
			if m[1] == "1" {
				val = -val
			}
			return val, true
		}
	}

	if m := reStandard.FindStringSubmatch(raw); len(m) == 3 {
		val, err := strconv.ParseFloat(m[2], 64)
		if err == nil {
			if m[1] == "M" {
				val = -val
			}
			return val, true
		}
	}

	return 0, false
}

// Temperature returns the observed temperature in Celsius, preferring the
// decoded field over the raw report
func (m *METARResponse) Temperature() (float64, bool) {
	if m.Temp != nil {
		return *m.Temp, true
	}
	return ParseTemperature(m.RawOb)
}

// ISADeviation returns how much warmer (K) the observed temperature is than
// the standard atmosphere at the station elevation
func ISADeviation(tempC, elevationM float64) float64 {
	return tempC + 273.15 - physics.NewISA().Temperature(elevationM)
}
