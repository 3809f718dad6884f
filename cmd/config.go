package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/inference-sim/sim-replay/sim"
	"github.com/inference-sim/sim-replay/sim/cache"
)

// envPrefix namespaces environment overrides, e.g. REPLAY_CACHE_FILE or
// REPLAY_MODEL_WIDTH.
const envPrefix = "REPLAY_"

// RunConfig is the full configuration of a run. Sources are applied in
// order: defaults, YAML file, environment, then flags set on the command line.
type RunConfig struct {
	Model        sim.Config `yaml:"model" envPrefix:"MODEL_"`
	CacheFile    string     `yaml:"cache_file" env:"CACHE_FILE"`
	Replay       bool       `yaml:"replay" env:"ENABLED"`
	Verbose      bool       `yaml:"verbose" env:"VERBOSE"`
	Backend      string     `yaml:"backend" env:"BACKEND"`
	MaxSteps     int        `yaml:"max_steps" env:"MAX_STEPS"`
	UntilStopped bool       `yaml:"until_stopped" env:"UNTIL_STOPPED"`
	MetricsFile  string     `yaml:"metrics_file" env:"METRICS_FILE"`
}

// DefaultRunConfig returns a recording run of the default model, capped at
// 100 steps.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Model:     sim.DefaultConfig(),
		CacheFile: "schelling.cache",
		Backend:   cache.DefaultBackend,
		MaxSteps:  100,
	}
}

// Validate rejects configurations that cannot run.
func (c RunConfig) Validate() error {
	if c.CacheFile == "" {
		return fmt.Errorf("cache_file must not be empty")
	}
	if !cache.IsValidBackend(c.Backend) {
		return fmt.Errorf("unknown backend %q; valid backends: %v", c.Backend, cache.BackendNames())
	}
	if c.MaxSteps < 0 {
		return fmt.Errorf("max_steps must be non-negative, got %d", c.MaxSteps)
	}
	if c.MaxSteps == 0 && !c.UntilStopped {
		return fmt.Errorf("max_steps must be positive unless until_stopped is set")
	}
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	return nil
}

// loadRunConfig layers the YAML file at path (optional) and the environment
// over the defaults. A nil environ reads the process environment.
func loadRunConfig(path string, environ map[string]string) (RunConfig, error) {
	cfg := DefaultRunConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("reading config: %w", err)
		}
		// Strict field checking: typos must cause errors.
		decoder := yaml.NewDecoder(bytes.NewReader(data))
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return cfg, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix, Environment: environ}); err != nil {
		return cfg, fmt.Errorf("reading environment: %w", err)
	}
	return cfg, nil
}

var (
	// CLI flags for the run itself
	configPath   string // YAML config file
	logLevel     string // Log verbosity level
	cacheFile    string // Cache file to record to or replay from
	replay       bool   // Replay instead of simulating
	verbose      bool   // Log controller diagnostics and every step
	backend      string // Storage format for new recordings
	maxSteps     int    // Step budget
	untilStopped bool   // Stop as soon as the model stops running
	metricsFile  string // Prometheus text output

	// CLI flags for the Schelling model
	width      int     // Grid width
	height     int     // Grid height
	density    float64 // Probability that a cell starts occupied
	minorityPC float64 // Probability that an agent is of the minority type
	homophily  int     // Similar neighbors needed to be happy
	radius     int     // Neighborhood radius
	seed       int64   // Random seed
)

// addRunFlags registers the run flags with defaults taken from
// DefaultRunConfig. Registering resets the bound variables to those defaults.
func addRunFlags(cmd *cobra.Command) {
	d := DefaultRunConfig()
	cmd.Flags().StringVar(&configPath, "config", "", "YAML config file")
	cmd.Flags().StringVar(&logLevel, "log", "warn", "Log level (trace, debug, info, warn, error, fatal, panic)")

	// Cache
	cmd.Flags().StringVar(&cacheFile, "cache-file", d.CacheFile, "Cache file to record to or replay from")
	cmd.Flags().BoolVar(&replay, "replay", d.Replay, "Replay from the cache file instead of simulating (falls back to recording if there is no usable cache)")
	cmd.Flags().BoolVar(&verbose, "verbose", d.Verbose, "Log controller construction, restore diagnostics and every step")
	cmd.Flags().StringVar(&backend, "backend", d.Backend, fmt.Sprintf("Storage format for new recordings %v", cache.BackendNames()))
	cmd.Flags().IntVar(&maxSteps, "max-steps", d.MaxSteps, "Maximum number of steps (0 = unlimited, requires --until-stopped)")
	cmd.Flags().BoolVar(&untilStopped, "until-stopped", d.UntilStopped, "Stop as soon as the model stops running")
	cmd.Flags().StringVar(&metricsFile, "metrics-file", d.MetricsFile, "Write Prometheus metrics in text format to this file")

	// Model
	cmd.Flags().IntVar(&width, "width", d.Model.Width, "Grid width")
	cmd.Flags().IntVar(&height, "height", d.Model.Height, "Grid height")
	cmd.Flags().Float64Var(&density, "density", d.Model.Density, "Probability that a cell starts occupied")
	cmd.Flags().Float64Var(&minorityPC, "minority-pc", d.Model.MinorityPC, "Probability that an agent is of the minority type")
	cmd.Flags().IntVar(&homophily, "homophily", d.Model.Homophily, "Similar neighbors an agent needs to be happy")
	cmd.Flags().IntVar(&radius, "radius", d.Model.Radius, "Neighborhood radius")
	cmd.Flags().Int64Var(&seed, "seed", d.Model.Seed, "Random seed")
}

// applyFlagOverrides copies every flag the user set explicitly onto cfg.
func applyFlagOverrides(cmd *cobra.Command, cfg *RunConfig) {
	f := cmd.Flags()
	if f.Changed("cache-file") {
		cfg.CacheFile = cacheFile
	}
	if f.Changed("replay") {
		cfg.Replay = replay
	}
	if f.Changed("verbose") {
		cfg.Verbose = verbose
	}
	if f.Changed("backend") {
		cfg.Backend = backend
	}
	if f.Changed("max-steps") {
		cfg.MaxSteps = maxSteps
	}
	if f.Changed("until-stopped") {
		cfg.UntilStopped = untilStopped
	}
	if f.Changed("metrics-file") {
		cfg.MetricsFile = metricsFile
	}

	if f.Changed("width") {
		cfg.Model.Width = width
	}
	if f.Changed("height") {
		cfg.Model.Height = height
	}
	if f.Changed("density") {
		cfg.Model.Density = density
	}
	if f.Changed("minority-pc") {
		cfg.Model.MinorityPC = minorityPC
	}
	if f.Changed("homophily") {
		cfg.Model.Homophily = homophily
	}
	if f.Changed("radius") {
		cfg.Model.Radius = radius
	}
	if f.Changed("seed") {
		cfg.Model.Seed = seed
	}
}

// resolveRunConfig builds the effective configuration for cmd.
func resolveRunConfig(cmd *cobra.Command, environ map[string]string) (RunConfig, error) {
	cfg, err := loadRunConfig(configPath, environ)
	if err != nil {
		return cfg, err
	}
	applyFlagOverrides(cmd, &cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}
