package mix

import (
	"fmt"
	"math"
	"time"
)

// LimiterConfig configures the dynamics stage in front of the output device.
type LimiterConfig struct {
	// Threshold in dBFS above which gain reduction starts.
	Threshold float64 `yaml:"threshold"`
	// Knee width in dB over which the curve softens around the threshold.
	Knee float64 `yaml:"knee"`
	// Ratio of input dB to output dB above the threshold.
	Ratio float64 `yaml:"ratio"`
	// Attack is the time to apply gain reduction. Zero reacts within one sample.
	Attack time.Duration `yaml:"attack"`
	// Release is the time to recover after the level drops.
	Release time.Duration `yaml:"release"`
	// Ceiling is the absolute sample value the output is clipped to.
	Ceiling float64 `yaml:"ceiling"`
}

// DefaultLimiterConfig returns the limiter used on the master bus.
func DefaultLimiterConfig() LimiterConfig {
	return LimiterConfig{
		Threshold: -6,
		Knee:      5,
		Ratio:     12,
		Attack:    0,
		Release:   250 * time.Millisecond,
		Ceiling:   1,
	}
}

// Validate checks the configuration for values the limiter cannot use.
func (c LimiterConfig) Validate() error {
	if c.Threshold > 0 {
		return fmt.Errorf("limiter threshold must be <= 0 dBFS, got %g", c.Threshold)
	}
	if c.Knee < 0 {
		return fmt.Errorf("limiter knee must be >= 0, got %g", c.Knee)
	}
	if c.Ratio < 1 {
		return fmt.Errorf("limiter ratio must be >= 1, got %g", c.Ratio)
	}
	if c.Attack < 0 || c.Release < 0 {
		return fmt.Errorf("limiter attack and release must be >= 0")
	}
	if c.Ceiling <= 0 {
		return fmt.Errorf("limiter ceiling must be > 0, got %g", c.Ceiling)
	}
	return nil
}

// Limiter is a soft-knee compressor with a high ratio, followed by a hard clip
// at the ceiling. Both channels share one gain envelope so the stereo image holds.
type Limiter struct {
	in  Node
	cfg LimiterConfig

	// envelope is the smoothed gain reduction in dB (<= 0)
	envelope float64
	rate     int
	attack   float64
	release  float64
}

// NewLimiter wraps in.
func NewLimiter(in Node, cfg LimiterConfig) *Limiter {
	return &Limiter{in: in, cfg: cfg}
}

func coefficient(d time.Duration, sampleRate int) float64 {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	return math.Exp(-1 / (d.Seconds() * float64(sampleRate)))
}

// reduction returns the static gain change in dB for an input level in dB.
func (l *Limiter) reduction(x float64) float64 {
	t, w, r := l.cfg.Threshold, l.cfg.Knee, l.cfg.Ratio
	over := x - t
	slope := 1/r - 1

	switch {
	case 2*over < -w:
		return 0
	case w > 0 && 2*math.Abs(over) <= w:
		k := over + w/2
		return slope * k * k / (2 * w)
	default:
		return slope * over
	}
}

// Render pulls the input and applies gain reduction.
func (l *Limiter) Render(dst [][2]float64, c Cycle) {
	l.in.Render(dst, c)

	if l.rate != c.SampleRate {
		l.rate = c.SampleRate
		l.attack = coefficient(l.cfg.Attack, c.SampleRate)
		l.release = coefficient(l.cfg.Release, c.SampleRate)
	}

	ceiling := l.cfg.Ceiling
	for i := range dst {
		peak := math.Max(math.Abs(dst[i][0]), math.Abs(dst[i][1]))

		target := 0.0
		if peak > 0 {
			target = l.reduction(20 * math.Log10(peak))
		}

		coef := l.release
		if target < l.envelope {
			coef = l.attack
		}
		l.envelope = coef*l.envelope + (1-coef)*target

		g := math.Pow(10, l.envelope/20)
		dst[i][0] = clip(dst[i][0]*g, ceiling)
		dst[i][1] = clip(dst[i][1]*g, ceiling)
	}
}

// Reduction returns the current gain reduction in dB.
func (l *Limiter) Reduction() float64 {
	return l.envelope
}

func clip(v, ceiling float64) float64 {
	if v > ceiling {
		return ceiling
	}
	if v < -ceiling {
		return -ceiling
	}
	return v
}
