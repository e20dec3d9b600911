package sound

import (
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/chriscow/soundmix/pkg/mix"
	"github.com/chriscow/soundmix/pkg/pcm"
	"github.com/chriscow/soundmix/pkg/tier"
)

// Default category names.
const (
	CategorySimSpecific   = "sim-specific"
	CategoryUserInterface = "user-interface"
)

// Config configures a Manager. Start from DefaultConfig and override fields.
type Config struct {
	// Categories lists the bus names created by Initialize. Names must be unique.
	Categories []string `yaml:"categories"`

	// CategoryVolumes sets the initial volume of named buses. Missing entries
	// default to 1.
	CategoryVolumes map[string]float64 `yaml:"category_volumes,omitempty"`

	MasterVolume float64 `yaml:"master_volume"`

	// ReverbLevel is the wet share of the output. The dry share is 1 - ReverbLevel.
	ReverbLevel float64 `yaml:"reverb_level"`

	// Tier is the initial sonification tier. It is applied by Initialize unless
	// SetTier was called first.
	Tier tier.Level `yaml:"tier"`

	// RampTime is how long volume and reverb changes take.
	RampTime time.Duration `yaml:"ramp_time"`

	// EnableRampTime is how long a source or the master output takes to fade
	// when it is enabled or disabled.
	EnableRampTime time.Duration `yaml:"enable_ramp_time"`

	Limiter mix.LimiterConfig `yaml:"limiter"`
	Reverb  mix.ReverbConfig  `yaml:"reverb"`

	// MeterPeriod is the window of each peak snapshot; MeterDepth is how many
	// unread snapshots are kept.
	MeterPeriod time.Duration `yaml:"meter_period"`
	MeterDepth  int           `yaml:"meter_depth"`

	// Strict turns usage errors into panics. Use it in tests and debug builds.
	Strict bool `yaml:"strict"`
}

// DefaultConfig returns the configuration used by simulations that do not
// override anything.
func DefaultConfig() Config {
	return Config{
		Categories:     []string{CategorySimSpecific, CategoryUserInterface},
		MasterVolume:   1,
		ReverbLevel:    0.02,
		Tier:           tier.Basic,
		RampTime:       100 * time.Millisecond,
		EnableRampTime: 50 * time.Millisecond,
		Limiter:        mix.DefaultLimiterConfig(),
		Reverb:         mix.DefaultReverbConfig(),
		MeterPeriod:    50 * time.Millisecond,
		MeterDepth:     16,
	}
}

// Validate checks the configuration. Every error wraps ErrConfig.
func (c Config) Validate() error {
	seen := make(map[string]bool, len(c.Categories))
	for _, name := range c.Categories {
		if name == "" {
			return fmt.Errorf("%w: empty category name", ErrConfig)
		}
		if seen[name] {
			return fmt.Errorf("%w: duplicate category %q", ErrConfig, name)
		}
		seen[name] = true
	}
	for name, v := range c.CategoryVolumes {
		if !seen[name] {
			return fmt.Errorf("%w: volume for unknown category %q", ErrConfig, name)
		}
		if !inUnit(v) {
			return fmt.Errorf("%w: category %q volume %g outside [0, 1]", ErrConfig, name, v)
		}
	}

	if !inUnit(c.MasterVolume) {
		return fmt.Errorf("%w: master volume %g outside [0, 1]", ErrConfig, c.MasterVolume)
	}
	if !inUnit(c.ReverbLevel) {
		return fmt.Errorf("%w: reverb level %g outside [0, 1]", ErrConfig, c.ReverbLevel)
	}
	if !c.Tier.Valid() {
		return fmt.Errorf("%w: unknown tier %d", ErrConfig, c.Tier)
	}
	if c.RampTime < 0 || c.EnableRampTime < 0 {
		return fmt.Errorf("%w: ramp times must not be negative", ErrConfig)
	}
	if c.MeterPeriod <= 0 {
		return fmt.Errorf("%w: meter period must be positive", ErrConfig)
	}
	if c.MeterDepth < 1 {
		return fmt.Errorf("%w: meter depth must be at least 1", ErrConfig)
	}
	if err := c.Limiter.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := c.Reverb.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}

// LoadConfig reads a YAML file over DefaultConfig and validates the result.
// Durations are written as strings such as "100ms".
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("%w: parse %s: %w", ErrConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func inUnit(v float64) bool {
	return v >= 0 && v <= 1
}

// clampUnit limits v to [0, 1]. NaN becomes 0.
func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return pcm.Clamp(v, 0, 1)
}
