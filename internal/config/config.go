package config

import (
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/fabianr-su/ApproachMDPproject/internal/aircraft"
	"github.com/fabianr-su/ApproachMDPproject/internal/mdp"
	"github.com/fabianr-su/ApproachMDPproject/internal/physics"
	"github.com/fabianr-su/ApproachMDPproject/internal/weather"
	"github.com/fabianr-su/ApproachMDPproject/pkg/logger"
)

// Config represents the main application configuration structure
// containing all configuration sections
type Config struct {
	Server   ServerConfig   `toml:"server"`   // HTTP server settings
	Logging  LoggingConfig  `toml:"logging"`  // Application logging settings
	Storage  StorageConfig  `toml:"storage"`  // Data persistence settings
	Aircraft AircraftConfig `toml:"aircraft"` // Airframe flown in the approach
	Scenario ScenarioConfig `toml:"scenario"` // Initial state, FAF and discretisation
	Penalty  mdp.Penalty    `toml:"penalty"`  // Overshoot penalty weights
	Rollout  RolloutConfig  `toml:"rollout"`  // Policy rollout settings

	Atmosphere AtmosphereConfig `toml:"atmosphere"` // Non-standard day settings
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port               int      `toml:"port"`                  // HTTP port for the server
	Host               string   `toml:"host"`                  // Host address to bind to
	CORSAllowedOrigins []string `toml:"cors_allowed_origins"`  // Origins allowed for CORS requests (use ["*"] for all origins)
	ReadTimeoutSecs    int      `toml:"read_timeout_seconds"`  // Maximum duration for reading the entire request
	WriteTimeoutSecs   int      `toml:"write_timeout_seconds"` // Maximum duration for writing the response
	IdleTimeoutSecs    int      `toml:"idle_timeout_seconds"`  // Maximum keep-alive idle time
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `toml:"level"`        // Log level: "debug", "info", "warn", or "error"
	Format     string `toml:"format"`       // Log format: "json" (structured) or "console" (human-readable)
	File       string `toml:"file"`         // Optional rotating log file
	MaxSizeMB  int    `toml:"max_size_mb"`  // Rotate after this size
	MaxBackups int    `toml:"max_backups"`  // Rotated files to keep
	MaxAgeDays int    `toml:"max_age_days"` // Days to keep rotated files
}

// StorageConfig contains data persistence configuration
type StorageConfig struct {
	SQLitePath string `toml:"sqlite_path"` // Database file for policies, flights and rollout history
	PolicyDir  string `toml:"policy_dir"`  // Directory of .msgpack.zst policy files imported at startup
}

// AircraftConfig selects a built-in profile or describes a custom airframe.
// Custom fields are only used when Profile is empty.
type AircraftConfig struct {
	Profile string `toml:"profile"` // "b737" or "b747"

	Name              string    `toml:"name"`
	MassKg            float64   `toml:"mass_kg"`
	Efficiency        float64   `toml:"efficiency"`
	IdleBurnKgPerHour float64   `toml:"idle_burn_kg_per_hour"`
	MinSpeed          []float64 `toml:"min_speed"` // m/s, one per configuration
	MaxSpeed          []float64 `toml:"max_speed"` // m/s, one per configuration
	ParasiteDrag      []float64 `toml:"parasite_drag"`
	WingSpan          float64   `toml:"wing_span"`
	AspectRatio       float64   `toml:"aspect_ratio"`
	Oswald            float64   `toml:"oswald"`
}

// ScenarioConfig describes the approach being optimised
type ScenarioConfig struct {
	Initial      mdp.State          `toml:"initial"`
	FAF          mdp.FAF            `toml:"faf"`
	StepScale    float64            `toml:"step_scale"`    // multiplies every step size
	StepStrategy string             `toml:"step_strategy"` // "fixed" or "physics"
	ManeuverCost map[string]float64 `toml:"maneuver_cost"` // extra kg of fuel per action
}

// RolloutConfig contains rollout evaluation settings
type RolloutConfig struct {
	Workers       int    `toml:"workers"`        // Goroutines used for batch rollouts
	CacheSize     int    `toml:"cache_size"`     // Rollout results kept in memory
	CacheTTLMins  int    `toml:"cache_ttl_mins"` // Minutes a cached rollout stays valid
	DefaultPolicy string `toml:"default_policy"` // Policy used when a request names none
	HistoryLimit  int    `toml:"history_limit"`  // Maximum rollouts returned by the history endpoint
}

// AtmosphereConfig shifts the standard atmosphere by a temperature
// deviation, either fixed or taken from a METAR at startup
type AtmosphereConfig struct {
	ISADeviation float64        `toml:"isa_deviation"` // K added to every ISA temperature
	METAR        weather.Config `toml:"metar"`         // overrides isa_deviation when enabled
}

// Load loads the configuration from the specified file path
func Load(path string) (*Config, error) {
	var config Config

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file not found: %s", path)
	}

	if _, err := toml.DecodeFile(path, &config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	return &config, nil
}

// LoadWithFallback loads the configuration by checking multiple locations in order of preference
func LoadWithFallback(preferredPath string) (*Config, error) {
	searchPaths := []string{
		preferredPath,
		"configs/config.toml",
		"config.toml",
	}

	uniquePaths := make([]string, 0, len(searchPaths))
	seen := make(map[string]bool)
	for _, path := range searchPaths {
		if path != "" && !seen[path] {
			uniquePaths = append(uniquePaths, path)
			seen[path] = true
		}
	}

	var lastErr error
	for _, path := range uniquePaths {
		if _, err := os.Stat(path); err == nil {
			config, err := Load(path)
			if err != nil {
				lastErr = fmt.Errorf("failed to load config from %s: %w", path, err)
				continue
			}
			return config, nil
		}
		lastErr = fmt.Errorf("config file not found: %s", path)
	}

	return nil, fmt.Errorf("config file not found in any of the expected locations: %v. Last error: %w", uniquePaths, lastErr)
}

// Validate fills in defaults and validates the configuration
func (c *Config) Validate() error {
	// Server
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Server.ReadTimeoutSecs == 0 {
		c.Server.ReadTimeoutSecs = 30
	}
	if c.Server.WriteTimeoutSecs == 0 {
		c.Server.WriteTimeoutSecs = 60
	}
	if c.Server.IdleTimeoutSecs == 0 {
		c.Server.IdleTimeoutSecs = 120
	}

	// Logging
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	switch c.Logging.Format {
	case "":
		c.Logging.Format = "console"
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	// Storage
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = "data/approach.db"
	}

	// Aircraft
	if c.Aircraft.Profile == "" && c.Aircraft.MassKg == 0 {
		c.Aircraft.Profile = "b737"
	}
	if _, err := c.BuildAircraft(); err != nil {
		return fmt.Errorf("invalid aircraft: %w", err)
	}

	// Scenario, defaulting to a cruise descent into a 1000m FAF
	if c.Scenario.Initial == (mdp.State{}) {
		c.Scenario.Initial = mdp.State{Altitude: 11000, Speed: 105, Config: 0, Distance: 250000}
	}
	if c.Scenario.FAF == (mdp.FAF{}) {
		c.Scenario.FAF = mdp.FAF{Altitude: 1000, Speed: 70, Config: 3}
	}
	if c.Scenario.StepScale == 0 {
		c.Scenario.StepScale = 1
	}
	if c.Scenario.StepScale < 0 {
		return fmt.Errorf("step_scale must be positive: %f", c.Scenario.StepScale)
	}
	switch c.Scenario.StepStrategy {
	case "":
		c.Scenario.StepStrategy = "fixed"
	case "fixed", "physics":
	default:
		return fmt.Errorf("invalid step_strategy: %s (must be 'fixed' or 'physics')", c.Scenario.StepStrategy)
	}
	for name := range c.Scenario.ManeuverCost {
		if _, err := mdp.ParseAction(name); err != nil {
			return fmt.Errorf("maneuver_cost: %w", err)
		}
	}

	// Penalty
	def := mdp.DefaultPenalty()
	if c.Penalty.AltSpeedWeight == 0 {
		c.Penalty.AltSpeedWeight = def.AltSpeedWeight
	}
	if c.Penalty.ConfigWeight == 0 {
		c.Penalty.ConfigWeight = def.ConfigWeight
	}

	// Atmosphere
	if err := c.SetISADeviation(c.Atmosphere.ISADeviation); err != nil {
		return err
	}
	c.Atmosphere.METAR.ApplyDefaults()
	if err := c.Atmosphere.METAR.Validate(); err != nil {
		return fmt.Errorf("invalid metar config: %w", err)
	}

	// Rollout
	if c.Rollout.Workers <= 0 {
		c.Rollout.Workers = 4
	}
	if c.Rollout.CacheSize <= 0 {
		c.Rollout.CacheSize = 256
	}
	if c.Rollout.CacheTTLMins <= 0 {
		c.Rollout.CacheTTLMins = 60
	}
	if c.Rollout.HistoryLimit <= 0 {
		c.Rollout.HistoryLimit = 100
	}

	// Scenario states need the aircraft; BuildMDP does the full check
	if _, err := c.BuildMDP(nil); err != nil {
		return fmt.Errorf("invalid scenario: %w", err)
	}

	return nil
}

// LoggerConfig returns the settings for logger.New
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:      c.Logging.Level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
	}
}

// BuildAircraft returns the configured airframe
func (c *Config) BuildAircraft() (*aircraft.Aircraft, error) {
	a := c.Aircraft
	if a.Profile != "" {
		return aircraft.Lookup(a.Profile)
	}

	name := a.Name
	if name == "" {
		name = "custom"
	}
	ac, err := aircraft.New(strings.ToLower(name), a.MassKg, a.Efficiency, a.IdleBurnKgPerHour/3600, a.MinSpeed, a.MaxSpeed)
	if err != nil {
		return nil, err
	}

	// Geometry overrides; New has already applied the defaults
	if len(a.ParasiteDrag) > 0 {
		ac.ParasiteDrag = append([]float64(nil), a.ParasiteDrag...)
	}
	if a.WingSpan > 0 {
		ac.WingSpan = a.WingSpan
	}
	if a.AspectRatio > 0 {
		ac.AspectRatio = a.AspectRatio
	}
	if a.Oswald > 0 {
		ac.Oswald = a.Oswald
	}
	if err := ac.Validate(); err != nil {
		return nil, err
	}
	return ac, nil
}

// BuildParams returns the MDP discretisation for the given airframe
func (c *Config) BuildParams(atm physics.Atmosphere, ac *aircraft.Aircraft) (mdp.Params, error) {
	scale := c.Scenario.StepScale
	if scale == 0 {
		scale = 1
	}
	p := mdp.DefaultParams(scale)
	if c.Penalty.AltSpeedWeight != 0 {
		p.Penalty.AltSpeedWeight = c.Penalty.AltSpeedWeight
	}
	if c.Penalty.ConfigWeight != 0 {
		p.Penalty.ConfigWeight = c.Penalty.ConfigWeight
	}

	if len(c.Scenario.ManeuverCost) > 0 {
		p.ManeuverCost = make(map[mdp.Action]float64, len(c.Scenario.ManeuverCost))
		for name, cost := range c.Scenario.ManeuverCost {
			a, err := mdp.ParseAction(name)
			if err != nil {
				return mdp.Params{}, err
			}
			p.ManeuverCost[a] = cost
		}
	}

	if c.Scenario.StepStrategy == "physics" {
		p.Steps = mdp.NewPhysicsSteps(atm, ac, p.StepDistance)
	}
	return p, nil
}

// maxISADeviation bounds the temperature deviation in K
const maxISADeviation = 50.0

// SetISADeviation sets the atmosphere temperature deviation, rejecting
// values outside ±maxISADeviation
func (c *Config) SetISADeviation(dT float64) error {
	if !(math.Abs(dT) <= maxISADeviation) {
		return fmt.Errorf("isa_deviation out of range: %f (limit ±%g K)", dT, maxISADeviation)
	}
	c.Atmosphere.ISADeviation = dT
	return nil
}

// BuildAtmosphere returns the configured atmosphere
func (c *Config) BuildAtmosphere() physics.Atmosphere {
	return physics.NewOffsetISA(c.Atmosphere.ISADeviation)
}

// BuildMDP assembles the approach MDP described by the configuration
func (c *Config) BuildMDP(log *logger.Logger) (*mdp.ApproachMDP, error) {
	ac, err := c.BuildAircraft()
	if err != nil {
		return nil, err
	}
	atm := c.BuildAtmosphere()
	params, err := c.BuildParams(atm, ac)
	if err != nil {
		return nil, err
	}
	return mdp.New(atm, ac, c.Scenario.Initial, c.Scenario.FAF, params, log)
}
