package weather

import (
	"fmt"
	"time"
)

// Config selects the METAR station whose temperature sets the ISA deviation
type Config struct {
	Enabled               bool    `toml:"enabled"`
	Station               string  `toml:"station"`             // ICAO code, e.g. "EDDF"
	ElevationM            float64 `toml:"elevation_m"`         // used when the report carries no elevation
	APIBaseURL            string  `toml:"api_base_url"`        // AviationWeather.gov data API
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds"`
	MaxRetries            int     `toml:"max_retries"`
}

// DefaultConfig returns the default METAR configuration
func DefaultConfig() Config {
	return Config{
		APIBaseURL:            "https://aviationweather.gov/api/data",
		RequestTimeoutSeconds: 10,
		MaxRetries:            2,
	}
}

// ApplyDefaults fills unset fields from DefaultConfig
func (c *Config) ApplyDefaults() {
	d := DefaultConfig()
	if c.APIBaseURL == "" {
		c.APIBaseURL = d.APIBaseURL
	}
	if c.RequestTimeoutSeconds == 0 {
		c.RequestTimeoutSeconds = d.RequestTimeoutSeconds
	}
}

// Validate validates an enabled configuration
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Station == "" {
		return fmt.Errorf("station cannot be empty when METAR is enabled")
	}
	if c.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("request_timeout_seconds must be greater than 0")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be 0 or greater")
	}
	if c.APIBaseURL == "" {
		return fmt.Errorf("api_base_url cannot be empty")
	}
	return nil
}

// METARResponse is one observation returned by
// {APIBaseURL}/metar?ids={STATION}&format=json
type METARResponse struct {
	ICAOID     string   `json:"icaoId"`
	ReportTime string   `json:"reportTime"`
	Temp       *float64 `json:"temp"` // °C, absent in some reports
	Dewpoint   *float64 `json:"dewp"`
	Altimeter  float64  `json:"altim"` // hPa
	Elevation  *float64 `json:"elev"`  // m
	RawOb      string   `json:"rawOb"`
}

// Observation is the atmosphere derived from a METAR
type Observation struct {
	Station      string    `json:"station"`
	TemperatureC float64   `json:"temperature_c"`
	ElevationM   float64   `json:"elevation_m"`
	ISADeviation float64   `json:"isa_deviation"` // K
	Raw          string    `json:"raw"`
	FetchedAt    time.Time `json:"fetched_at"`
}
