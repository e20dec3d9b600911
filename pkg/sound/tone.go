package sound

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/chriscow/soundmix/pkg/mix"
	"github.com/chriscow/soundmix/pkg/pcm"
)

// Waveform is the shape of a Tone's oscillator.
type Waveform int

const (
	Sine Waveform = iota
	Square
	Triangle
	Sawtooth
)

var waveformNames = [...]string{"sine", "square", "triangle", "sawtooth"}

func (w Waveform) String() string {
	if w < 0 || int(w) >= len(waveformNames) {
		return fmt.Sprintf("Waveform(%d)", int(w))
	}
	return waveformNames[w]
}

// ParseWaveform parses a waveform name.
func ParseWaveform(s string) (Waveform, error) {
	for i, name := range waveformNames {
		if strings.EqualFold(s, name) {
			return Waveform(i), nil
		}
	}
	return 0, fmt.Errorf("unknown waveform %q", s)
}

// ToneConfig configures a Tone.
type ToneConfig struct {
	Waveform             Waveform `yaml:"waveform"`
	Frequency            float64  `yaml:"frequency"`
	InitialOutputLevel   float64  `yaml:"initial_output_level"`
	InitiateWhenDisabled bool     `yaml:"initiate_when_disabled"`
}

// DefaultToneConfig returns a 440 Hz sine.
func DefaultToneConfig() ToneConfig {
	return ToneConfig{Waveform: Sine, Frequency: 440, InitialOutputLevel: 1}
}

// Validate checks the configuration. Every error wraps ErrConfig.
func (c ToneConfig) Validate() error {
	if c.Waveform < Sine || c.Waveform > Sawtooth {
		return fmt.Errorf("%w: unknown waveform %d", ErrConfig, c.Waveform)
	}
	if !(c.Frequency > 0) || math.IsInf(c.Frequency, 0) {
		return fmt.Errorf("%w: frequency %g must be positive", ErrConfig, c.Frequency)
	}
	if !inUnit(c.InitialOutputLevel) {
		return fmt.Errorf("%w: initial output level %g outside [0, 1]", ErrConfig, c.InitialOutputLevel)
	}
	return nil
}

// Tone is a continuous oscillator. It is gated like a looping clip: becoming
// disabled stops it.
type Tone struct {
	Base

	wave Waveform
	freq *mix.Ramp

	mu      sync.Mutex
	playing bool
	phase   float64
	buf     []float64

	delay   time.Duration
	wait    int
	started bool

	fade        time.Duration
	fadePending bool
	fading      bool
	fadeGain    float64
	fadeStep    float64
}

var _ Generator = (*Tone)(nil)

// NewTone creates a stopped oscillator.
func NewTone(cfg ToneConfig) (*Tone, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	t := &Tone{wave: cfg.Waveform, freq: mix.NewRamp(cfg.Frequency), fadeGain: 1}
	t.init(&toneOsc{t}, cfg.InitialOutputLevel, cfg.InitiateWhenDisabled)
	t.onDisabled = t.Stop
	t.onDispose = t.Stop
	return t, nil
}

// Play implements Playable. Playing a tone that is already playing does nothing.
func (t *Tone) Play() { t.PlayDelayed(0) }

// PlayDelayed starts the oscillator after d. A tone that is already playing
// keeps playing; a fade-out in progress is cancelled.
func (t *Tone) PlayDelayed(d time.Duration) {
	if !t.canPlay() {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.playing {
		t.fadePending = false
		t.fading = false
		t.fadeGain = 1
		t.fadeStep = 0
		return
	}
	t.resetLocked()
	t.playing = true
	t.delay = d
}

// Stop implements Playable.
func (t *Tone) Stop() { t.StopWithFade(0) }

// StopWithFade fades the oscillator out over d and then stops it. A tone
// still waiting out its start delay stops at once.
func (t *Tone) StopWithFade(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.playing {
		return
	}
	if d <= 0 || !t.started || t.wait > 0 {
		t.resetLocked()
		return
	}
	t.fade = d
	t.fadePending = true
}

func (t *Tone) resetLocked() {
	t.playing = false
	t.delay = 0
	t.wait = 0
	t.started = false
	t.fadePending = false
	t.fading = false
	t.fadeGain = 1
	t.fadeStep = 0
}

// IsPlaying reports whether the oscillator is running.
func (t *Tone) IsPlaying() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.playing
}

// Frequency returns the last frequency set.
func (t *Tone) Frequency() float64 { return t.freq.Target() }

// SetFrequency glides to hz over d.
func (t *Tone) SetFrequency(hz float64, d time.Duration) error {
	if !(hz > 0) || math.IsInf(hz, 0) {
		return fmt.Errorf("%w: frequency %g", ErrInvalidRate, hz)
	}
	t.freq.Set(hz, d)
	return nil
}

type toneOsc struct {
	t *Tone
}

func (o *toneOsc) Render(dst [][2]float64, c mix.Cycle) {
	t := o.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.playing || c.SampleRate <= 0 {
		pcm.Clear(dst)
		return
	}

	if !t.started {
		t.started = true
		t.wait = c.Frames(t.delay)
	}
	if t.fadePending {
		t.fadePending = false
		k := c.Frames(t.fade)
		if k <= 0 {
			t.resetLocked()
			pcm.Clear(dst)
			return
		}
		t.fading = true
		t.fadeStep = t.fadeGain / float64(k)
	}

	if cap(t.buf) < len(dst) {
		t.buf = make([]float64, len(dst))
	}
	freqs := t.buf[:len(dst)]
	t.freq.Fill(freqs, c.SampleRate)

	for i, f := range freqs {
		if t.wait > 0 {
			t.wait--
			dst[i] = [2]float64{}
			continue
		}

		g := 1.0
		if t.fading {
			t.fadeGain -= t.fadeStep
			if t.fadeGain <= 0 {
				t.resetLocked()
				pcm.Clear(dst[i:])
				return
			}
			g = t.fadeGain
		}

		s := g * sample(t.wave, t.phase)
		dst[i] = [2]float64{s, s}
		t.phase += f / float64(c.SampleRate)
		t.phase -= math.Floor(t.phase)
	}
}

// sample evaluates w at phase in [0, 1).
func sample(w Waveform, phase float64) float64 {
	switch w {
	case Square:
		if phase < 0.5 {
			return 1
		}
		return -1
	case Triangle:
		return 1 - 4*math.Abs(phase-0.5)
	case Sawtooth:
		return 2*phase - 1
	default:
		return math.Sin(2 * math.Pi * phase)
	}
}
