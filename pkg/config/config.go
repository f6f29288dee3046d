// Package config provides YAML-based configuration loading for meshdrone.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the simulation
	AppName string `mapstructure:"app_name"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Sim describes the simulated topology
	Sim SimConfig `mapstructure:"sim"`

	// Trace controls the event trace written by the controller
	Trace TraceConfig `mapstructure:"trace"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// SimConfig describes the nodes of a simulation. Links are undirected: an
// edge listed on either side connects both nodes.
// Example YAML:
//
//	sim:
//	  seed: 7
//	  drones:
//	    - id: 1
//	      pdr: 5
//	      neighbors: [2, 3]
//	  clients:
//	    - id: 10
//	      neighbors: [1]
type SimConfig struct {
	// Seed for the per-drone drop simulators; 0 picks one from the clock
	Seed uint64 `mapstructure:"seed"`
	// FloodTTLMS bounds how long drones remember flood ids; 0 = forever
	FloodTTLMS int            `mapstructure:"flood_ttl_ms"`
	Drones     []DroneConfig  `mapstructure:"drones"`
	Clients    []ClientConfig `mapstructure:"clients"`
}

// DroneConfig describes one drone.
type DroneConfig struct {
	ID        uint8   `mapstructure:"id"`
	PDR       float64 `mapstructure:"pdr"`
	Neighbors []uint8 `mapstructure:"neighbors"`
}

// ClientConfig describes a traffic endpoint attached to drones.
type ClientConfig struct {
	ID        uint8   `mapstructure:"id"`
	Neighbors []uint8 `mapstructure:"neighbors"`
}

// TraceConfig controls the binary event trace.
type TraceConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
	// Format: json, cbor or proto
	Format string `mapstructure:"format"`
}

// Default returns a Config populated with sensible defaults: a diamond of
// four drones between two clients.
func Default() *Config {
	return &Config{
		AppName: "meshsim",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/meshsim.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Sim: SimConfig{
			Seed: 1,
			Drones: []DroneConfig{
				{ID: 1, Neighbors: []uint8{2, 3}},
				{ID: 2, Neighbors: []uint8{4}},
				{ID: 3, Neighbors: []uint8{4}},
				{ID: 4},
			},
			Clients: []ClientConfig{
				{ID: 10, Neighbors: []uint8{1}},
				{ID: 20, Neighbors: []uint8{4}},
			},
		},
		Trace: TraceConfig{Enable: false, Path: "meshsim.trace", Format: "cbor"},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix MESHDRONE and `.`/`-` are replaced with `_`.
// Example: MESHDRONE_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("MESHDRONE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("sim.seed", cfg.Sim.Seed)
	v.SetDefault("sim.flood_ttl_ms", cfg.Sim.FloodTTLMS)
	v.SetDefault("sim.drones", cfg.Sim.Drones)
	v.SetDefault("sim.clients", cfg.Sim.Clients)
	v.SetDefault("trace.enable", cfg.Trace.Enable)
	v.SetDefault("trace.path", cfg.Trace.Path)
	v.SetDefault("trace.format", cfg.Trace.Format)

	// Choose config file
	if path == "" {
		if envPath := os.Getenv("MESHDRONE_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("meshsim")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".meshdrone"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var viperConfigFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &viperConfigFileNotFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}

	switch strings.ToLower(strings.TrimSpace(c.Trace.Format)) {
	case "", "json", "cbor", "proto", "protobuf":
	default:
		return fmt.Errorf("invalid trace.format: %q", c.Trace.Format)
	}
	if c.Trace.Enable && strings.TrimSpace(c.Trace.Path) == "" {
		return errors.New("trace.path is required when trace is enabled")
	}
	if c.Sim.FloodTTLMS < 0 {
		return fmt.Errorf("invalid sim.flood_ttl_ms: %d", c.Sim.FloodTTLMS)
	}
	return c.Sim.validate()
}

func (s *SimConfig) validate() error {
	if len(s.Drones) == 0 {
		return errors.New("sim.drones: at least one drone is required")
	}
	ids := make(map[uint8]string, len(s.Drones)+len(s.Clients))
	for _, d := range s.Drones {
		if _, dup := ids[d.ID]; dup {
			return fmt.Errorf("sim: duplicate node id %d", d.ID)
		}
		ids[d.ID] = "drone"
		if d.PDR < 0 || d.PDR > 100 {
			return fmt.Errorf("sim.drones[%d]: pdr %v outside [0, 100]", d.ID, d.PDR)
		}
	}
	for _, cl := range s.Clients {
		if _, dup := ids[cl.ID]; dup {
			return fmt.Errorf("sim: duplicate node id %d", cl.ID)
		}
		ids[cl.ID] = "client"
	}
	check := func(owner uint8, nbs []uint8) error {
		for _, nb := range nbs {
			kind, ok := ids[nb]
			switch {
			case !ok:
				return fmt.Errorf("sim: node %d lists unknown neighbor %d", owner, nb)
			case nb == owner:
				return fmt.Errorf("sim: node %d lists itself as neighbor", owner)
			case kind == "client" && ids[owner] == "client":
				return fmt.Errorf("sim: clients %d and %d cannot be linked directly", owner, nb)
			}
		}
		return nil
	}
	for _, d := range s.Drones {
		if err := check(d.ID, d.Neighbors); err != nil {
			return err
		}
	}
	for _, cl := range s.Clients {
		if err := check(cl.ID, cl.Neighbors); err != nil {
			return err
		}
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
