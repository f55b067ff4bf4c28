package flightlog

import (
	"errors"
	"fmt"

	"github.com/fabianr-su/ApproachMDPproject/internal/rollout"
)

// DefaultMinAltitude is the highest final altitude (m) for which a flight is
// considered to have reached the threshold and is drawn on vertical overlays
const DefaultMinAltitude = 1000

var ErrEmptyFlight = errors.New("flight has no samples")

// Sample is one recorded position of a flight. Units are already converted
// to the ones used by the model.
type Sample struct {
	Time      float64 `json:"time"`        // s
	Lat       float64 `json:"lat"`         // deg
	Lon       float64 `json:"lon"`         // deg
	Altitude  float64 `json:"altitude_m"`  // m
	Speed     float64 `json:"speed"`       // m/s
	DistToEnd float64 `json:"dist_to_end"` // km
}

// Flight is one recorded approach segment, ordered in time
type Flight struct {
	ID      string   `json:"id"`
	Samples []Sample `json:"samples"`
}

func (f *Flight) String() string {
	if len(f.Samples) == 0 {
		return fmt.Sprintf("Flight %s: no samples", f.ID)
	}
	s, e := f.Samples[0], f.Samples[len(f.Samples)-1]
	return fmt.Sprintf("Flight %s: %d samples, %.1fkm -> %.1fkm, %.0fm -> %.0fm",
		f.ID, len(f.Samples), s.DistToEnd, e.DistToEnd, s.Altitude, e.Altitude)
}

// Validate checks the flight can be drawn
func (f *Flight) Validate() error {
	if f.ID == "" {
		return fmt.Errorf("flight id is required")
	}
	if len(f.Samples) == 0 {
		return fmt.Errorf("%s: %w", f.ID, ErrEmptyFlight)
	}
	for i := 1; i < len(f.Samples); i++ {
		if f.Samples[i].Time < f.Samples[i-1].Time {
			return fmt.Errorf("%s: sample %d is earlier than sample %d", f.ID, i, i-1)
		}
	}
	return nil
}

// VerticalProfile returns the altitude of every sample relative to the last
// one, against distance to the threshold. Flights that end at or above
// minAlt never got close to the runway; nil is returned for them.
func (f *Flight) VerticalProfile(minAlt float64) []rollout.Point {
	if len(f.Samples) == 0 {
		return nil
	}
	last := f.Samples[len(f.Samples)-1].Altitude
	if last >= minAlt {
		return nil
	}
	pts := make([]rollout.Point, len(f.Samples))
	for i, s := range f.Samples {
		pts[i] = rollout.Point{Distance: s.DistToEnd, Altitude: s.Altitude - last}
	}
	return pts
}

// SpeedSample is a velocity profile point
type SpeedSample struct {
	Distance float64 `json:"distance_km"`
	Speed    float64 `json:"speed"`
}

// VelocityProfile returns speed against distance to the threshold. Samples
// where the speed jumped up by 1 m/s or more since the previous sample are
// treated as noise and dropped.
func (f *Flight) VelocityProfile() []SpeedSample {
	var out []SpeedSample
	for i, s := range f.Samples {
		if i == 0 || s.Speed < f.Samples[i-1].Speed+1 {
			out = append(out, SpeedSample{Distance: s.DistToEnd, Speed: s.Speed})
		}
	}
	return out
}

// Overlay is what gets drawn for a flight on top of a rollout
type Overlay struct {
	ID       string          `json:"id"`
	Vertical []rollout.Point `json:"vertical,omitempty"`
	Velocity []SpeedSample   `json:"velocity"`
}

// Overlay builds both profiles for the flight
func (f *Flight) Overlay(minAlt float64) Overlay {
	return Overlay{
		ID:       f.ID,
		Vertical: f.VerticalProfile(minAlt),
		Velocity: f.VelocityProfile(),
	}
}
