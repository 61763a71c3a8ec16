package sim

import (
	"fmt"

	"github.com/spf13/viper"
)

// RewardWeights are the tunable coefficients of the per-tick reward.
// The defaults reproduce the documented demo constants; they are
// configuration, not semantics.
type RewardWeights struct {
	Wait      float64 `mapstructure:"wait" yaml:"wait"`
	Overcrowd float64 `mapstructure:"overcrowd" yaml:"overcrowd"`
	Distance  float64 `mapstructure:"distance" yaml:"distance"`
	Replan    float64 `mapstructure:"replan" yaml:"replan"`
}

// Multipliers are the canonical edge-speed multipliers per disruption type.
// Lower means slower; 0 means impassable. Surge scales rider arrival rates
// at stops instead of edge costs.
type Multipliers struct {
	Crash float64 `mapstructure:"crash" yaml:"crash"`
	Icy   float64 `mapstructure:"icy" yaml:"icy"`
	Jam   float64 `mapstructure:"jam" yaml:"jam"`
	Surge float64 `mapstructure:"surge" yaml:"surge"`
}

// Config holds every tunable of the engine. Zero values are filled in by
// DefaultConfig; LoadConfig overlays a YAML file and environment variables
// via Viper.
type Config struct {
	GridSize    int `mapstructure:"grid_size" yaml:"grid_size"`
	NumStops    int `mapstructure:"num_stops" yaml:"num_stops"`
	NumBuses    int `mapstructure:"num_buses" yaml:"num_buses"`
	BusCapacity int `mapstructure:"bus_capacity" yaml:"bus_capacity"`

	// TickSeconds is the simulated duration of one tick.
	TickSeconds float64 `mapstructure:"tick_seconds" yaml:"tick_seconds"`
	// MaxHorizon truncates an episode after this many ticks.
	MaxHorizon int64 `mapstructure:"max_horizon" yaml:"max_horizon"`

	// BaseRate is the nominal rider arrival rate per stop per tick, before
	// time-of-day, location, and surge factors.
	BaseRate float64 `mapstructure:"base_rate" yaml:"base_rate"`
	// MaxWaitTicks is the explicit abandonment policy: a rider queued
	// longer than this leaves the system and is counted as abandoned.
	// 0 disables abandonment.
	MaxWaitTicks int64 `mapstructure:"max_wait_ticks" yaml:"max_wait_ticks"`

	// OvercrowdThreshold is the load fraction above which a bus counts as
	// overcrowded.
	OvercrowdThreshold float64 `mapstructure:"overcrowd_threshold" yaml:"overcrowd_threshold"`
	// SkipThreshold is the queue length below which SKIP_LOW_DEMAND drops
	// the next scheduled stop.
	SkipThreshold int `mapstructure:"skip_threshold" yaml:"skip_threshold"`
	// HoldTicks is the departure delay applied by SHORT_HOLD.
	HoldTicks int64 `mapstructure:"hold_ticks" yaml:"hold_ticks"`
	// RouteStops is the number of stops on each bus's cyclic route.
	RouteStops int `mapstructure:"route_stops" yaml:"route_stops"`

	Reward      RewardWeights `mapstructure:"reward" yaml:"reward"`
	Multipliers Multipliers   `mapstructure:"multipliers" yaml:"multipliers"`
}

// DefaultConfig returns the configuration of the original comparison demo:
// a 20x20 grid, 32 stops, 6 buses of capacity 50, and the documented reward
// weights and disruption multipliers.
func DefaultConfig() Config {
	return Config{
		GridSize:           20,
		NumStops:           32,
		NumBuses:           6,
		BusCapacity:        50,
		TickSeconds:        1.0,
		MaxHorizon:         3600,
		BaseRate:           0.05,
		MaxWaitTicks:       1800,
		OvercrowdThreshold: 0.8,
		SkipThreshold:      5,
		HoldTicks:          1,
		RouteStops:         8,
		Reward: RewardWeights{
			Wait:      -1.0,
			Overcrowd: -2.0,
			Distance:  -0.1,
			Replan:    -0.05,
		},
		Multipliers: Multipliers{
			Crash: 0.3,
			Icy:   0.6,
			Jam:   0.7,
			Surge: 3.0,
		},
	}
}

// LoadConfig reads a YAML config file (optional) plus TRANSITSIM_* env
// overrides into a Config, starting from DefaultConfig. Each call uses its
// own Viper instance so one load's settings never leak into the next.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return cfg, fmt.Errorf("reading config %s: %w", path, err)
		}
	}
	v.SetEnvPrefix("TRANSITSIM")
	v.AutomaticEnv()

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations the engine cannot run.
func (c Config) Validate() error {
	if c.GridSize < 2 {
		return fmt.Errorf("grid_size must be >= 2, got %d", c.GridSize)
	}
	if c.NumStops < 1 || c.NumStops > c.GridSize*c.GridSize {
		return fmt.Errorf("num_stops must be in [1, %d], got %d", c.GridSize*c.GridSize, c.NumStops)
	}
	if c.NumBuses < 1 {
		return fmt.Errorf("num_buses must be >= 1, got %d", c.NumBuses)
	}
	if c.BusCapacity < 1 {
		return fmt.Errorf("bus_capacity must be >= 1, got %d", c.BusCapacity)
	}
	if c.TickSeconds <= 0 {
		return fmt.Errorf("tick_seconds must be > 0, got %v", c.TickSeconds)
	}
	if c.MaxHorizon < 1 {
		return fmt.Errorf("max_horizon must be >= 1, got %d", c.MaxHorizon)
	}
	if c.BaseRate < 0 {
		return fmt.Errorf("base_rate must be >= 0, got %v", c.BaseRate)
	}
	if c.OvercrowdThreshold <= 0 || c.OvercrowdThreshold > 1 {
		return fmt.Errorf("overcrowd_threshold must be in (0, 1], got %v", c.OvercrowdThreshold)
	}
	for name, m := range map[string]float64{
		"crash": c.Multipliers.Crash,
		"icy":   c.Multipliers.Icy,
		"jam":   c.Multipliers.Jam,
	} {
		if m <= 0 || m > 1 {
			return fmt.Errorf("multipliers.%s must be in (0, 1], got %v", name, m)
		}
	}
	if c.Multipliers.Surge < 1 {
		return fmt.Errorf("multipliers.surge must be >= 1, got %v", c.Multipliers.Surge)
	}
	return nil
}
