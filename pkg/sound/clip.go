package sound

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/chriscow/soundmix/pkg/asset"
	"github.com/chriscow/soundmix/pkg/gate"
	"github.com/chriscow/soundmix/pkg/mix"
	"github.com/chriscow/soundmix/pkg/pcm"
)

// trimThreshold is the absolute sample value below which TrimSilence treats
// the start and end of a buffer as silent.
const trimThreshold = 1e-3

// ClipConfig configures a Clip.
type ClipConfig struct {
	// Loop plays the buffer continuously until stopped.
	Loop bool `yaml:"loop"`

	// TrimSilence loops only the part of the buffer between the first and last
	// audible samples. Requires Loop.
	TrimSilence bool `yaml:"trim_silence"`

	// LoopStart and LoopEnd bound the looped region. A zero LoopEnd means the
	// end of the buffer. Requires Loop.
	LoopStart time.Duration `yaml:"loop_start"`
	LoopEnd   time.Duration `yaml:"loop_end"`

	InitialPlaybackRate float64 `yaml:"initial_playback_rate"`
	InitialOutputLevel  float64 `yaml:"initial_output_level"`

	// RateChangesAffectPlayingSounds applies SetPlaybackRate to voices already
	// playing, not only to new ones.
	RateChangesAffectPlayingSounds bool `yaml:"rate_changes_affect_playing_sounds"`

	// InitiateWhenDisabled starts playback even while the clip is disabled.
	// The sound is silent until the clip is enabled again.
	InitiateWhenDisabled bool `yaml:"initiate_when_disabled"`
}

// DefaultClipConfig returns the configuration for a one-shot clip.
func DefaultClipConfig() ClipConfig {
	return ClipConfig{
		InitialPlaybackRate:            1,
		InitialOutputLevel:             1,
		RateChangesAffectPlayingSounds: true,
	}
}

// Validate reports conflicting options. Every error wraps ErrConfig.
func (c ClipConfig) Validate() error {
	switch {
	case c.TrimSilence && !c.Loop:
		return fmt.Errorf("%w: trim silence requires loop", ErrConfig)
	case (c.LoopStart != 0 || c.LoopEnd != 0) && !c.Loop:
		return fmt.Errorf("%w: loop bounds require loop", ErrConfig)
	case c.TrimSilence && (c.LoopStart != 0 || c.LoopEnd != 0):
		return fmt.Errorf("%w: trim silence and loop bounds are exclusive", ErrConfig)
	case c.LoopStart < 0 || c.LoopEnd < 0:
		return fmt.Errorf("%w: negative loop bound", ErrConfig)
	case c.LoopEnd != 0 && c.LoopEnd <= c.LoopStart:
		return fmt.Errorf("%w: loop end %v not after loop start %v", ErrConfig, c.LoopEnd, c.LoopStart)
	case !(c.InitialPlaybackRate > 0):
		return fmt.Errorf("%w: initial playback rate %g must be positive", ErrConfig, c.InitialPlaybackRate)
	case !inUnit(c.InitialOutputLevel):
		return fmt.Errorf("%w: initial output level %g outside [0, 1]", ErrConfig, c.InitialOutputLevel)
	}
	return nil
}

type voice struct {
	pos  float64
	rate float64
	loop bool

	delay   time.Duration
	wait    int
	started bool

	fade        time.Duration
	fadePending bool
	fading      bool
	fadeGain    float64
	fadeStep    float64
}

// Clip plays a decoded buffer, either as one-shots or as a loop. The buffer
// may arrive after the clip is created; one-shots requested before then are
// dropped, and a loop requested before then starts when the buffer arrives.
type Clip struct {
	Base

	cfg    ClipConfig
	handle *asset.Handle
	ready  *gate.Subscription

	mu          sync.Mutex
	buf         *pcm.Buffer
	loopStart   float64
	loopEnd     float64
	rate        float64
	voices      []*voice
	pendingLoop bool
	pendingWait time.Duration
}

var _ Generator = (*Clip)(nil)

// NewClip creates a clip playing the buffer behind h.
func NewClip(h *asset.Handle, cfg ClipConfig) (*Clip, error) {
	if h == nil {
		return nil, fmt.Errorf("%w: nil asset handle", ErrConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Clip{cfg: cfg, handle: h, rate: cfg.InitialPlaybackRate}
	c.init(&clipVoices{c}, cfg.InitialOutputLevel, cfg.InitiateWhenDisabled)
	c.onDisabled = c.stopLoops
	c.onDispose = c.release
	c.ready = h.OnReady(c.setBuffer)
	return c, nil
}

// Name returns the asset name.
func (c *Clip) Name() string { return c.handle.Name() }

// Loop reports whether the clip loops.
func (c *Clip) Loop() bool { return c.cfg.Loop }

// Loaded reports whether the buffer has arrived.
func (c *Clip) Loaded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf != nil
}

func (c *Clip) setBuffer(b *pcm.Buffer) {
	if c.Disposed() {
		return
	}

	c.mu.Lock()
	c.buf = b
	c.loopStart, c.loopEnd = c.bounds(b)
	start, wait := c.pendingLoop, c.pendingWait
	c.pendingLoop = false
	c.mu.Unlock()

	if start {
		c.PlayDelayed(wait)
	}
}

func (c *Clip) bounds(b *pcm.Buffer) (float64, float64) {
	n := b.Len()
	start, end := 0, n
	switch {
	case c.cfg.TrimSilence:
		if s, e := b.Bounds(trimThreshold); e > s {
			start, end = s, e
		}
	case c.cfg.Loop:
		s := min(mix.FramesFor(c.cfg.LoopStart, b.SampleRate), n)
		e := n
		if c.cfg.LoopEnd > 0 {
			e = min(mix.FramesFor(c.cfg.LoopEnd, b.SampleRate), n)
		}
		if e > s {
			start, end = s, e
		}
	}
	return float64(start), float64(end)
}

// Play implements Playable.
func (c *Clip) Play() { c.PlayDelayed(0) }

// PlayDelayed starts playback after d. When the clip is disabled, and was
// not configured to initiate while disabled, it does nothing. A looping clip
// that is already playing is left alone, except that a fade-out in progress is
// cancelled and the loop returns to full level.
func (c *Clip) PlayDelayed(d time.Duration) {
	if !c.canPlay() {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buf == nil {
		if c.cfg.Loop {
			c.pendingLoop = true
			c.pendingWait = d
		}
		return
	}
	if c.buf.Len() == 0 {
		return
	}
	if c.cfg.Loop && len(c.voices) > 0 {
		for _, v := range c.voices {
			v.fadePending = false
			v.fading = false
			v.fadeGain = 1
			v.fadeStep = 0
		}
		return
	}

	v := &voice{rate: c.rate, loop: c.cfg.Loop, delay: d, fadeGain: 1}
	if v.loop {
		v.pos = c.loopStart
	}
	c.voices = append(c.voices, v)
}

// Stop implements Playable.
func (c *Clip) Stop() { c.StopWithFade(0) }

// StopWithFade fades every voice out over d and then stops it. It never fails.
func (c *Clip) StopWithFade(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pendingLoop = false
	if d <= 0 {
		clear(c.voices)
		c.voices = c.voices[:0]
		return
	}
	for _, v := range c.voices {
		v.fade = d
		v.fadePending = true
	}
}

func (c *Clip) stopLoops() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pendingLoop = false
	live := c.voices[:0]
	for _, v := range c.voices {
		if !v.loop {
			live = append(live, v)
		}
	}
	clear(c.voices[len(live):])
	c.voices = live
}

// IsPlaying reports whether any voice is active.
func (c *Clip) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.voices) > 0
}

// Voices returns the number of active voices.
func (c *Clip) Voices() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.voices)
}

// PlaybackRate returns the rate used for new voices.
func (c *Clip) PlaybackRate() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}

// SetPlaybackRate changes the speed and pitch of playback. 1 is the recorded
// speed, 2 is an octave up.
func (c *Clip) SetPlaybackRate(rate float64) error {
	if !(rate > 0) || math.IsInf(rate, 0) {
		return fmt.Errorf("%w: %g", ErrInvalidRate, rate)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.rate = rate
	if c.cfg.RateChangesAffectPlayingSounds {
		for _, v := range c.voices {
			v.rate = rate
		}
	}
	return nil
}

func (c *Clip) release() {
	c.ready.Release()

	c.mu.Lock()
	c.voices = nil
	c.pendingLoop = false
	c.mu.Unlock()
}

// clipVoices renders the clip's voices into the graph.
type clipVoices struct {
	c *Clip
}

func (n *clipVoices) Render(dst [][2]float64, cy mix.Cycle) {
	pcm.Clear(dst)

	c := n.c
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.buf == nil || len(c.voices) == 0 || cy.SampleRate <= 0 {
		return
	}

	step := float64(c.buf.SampleRate) / float64(cy.SampleRate)
	live := c.voices[:0]
	for _, v := range c.voices {
		if c.renderVoice(v, dst, cy, step) {
			live = append(live, v)
		}
	}
	clear(c.voices[len(live):])
	c.voices = live
}

// renderVoice mixes v into dst and reports whether it is still playing.
func (c *Clip) renderVoice(v *voice, dst [][2]float64, cy mix.Cycle, step float64) bool {
	frames := c.buf.Frames
	n := len(frames)
	if n == 0 {
		return false
	}

	if !v.started {
		v.started = true
		v.wait = cy.Frames(v.delay)
	}
	if v.fadePending {
		v.fadePending = false
		k := cy.Frames(v.fade)
		if k <= 0 {
			return false
		}
		v.fading = true
		v.fadeStep = v.fadeGain / float64(k)
	}

	start, end := c.loopStart, c.loopEnd
	for i := range dst {
		if v.wait > 0 {
			v.wait--
			continue
		}

		if v.loop && v.pos >= end {
			v.pos = start + math.Mod(v.pos-start, end-start)
		}
		idx := int(v.pos)
		if idx >= n {
			return false
		}

		next := idx + 1
		if v.loop && float64(next) >= end {
			next = int(start)
		}
		a := frames[idx]
		var b [2]float64
		if next < n {
			b = frames[next]
		}

		g := 1.0
		if v.fading {
			v.fadeGain -= v.fadeStep
			if v.fadeGain <= 0 {
				return false
			}
			g = v.fadeGain
		}

		frac := v.pos - float64(idx)
		dst[i][0] += g * (a[0] + (b[0]-a[0])*frac)
		dst[i][1] += g * (a[1] + (b[1]-a[1])*frac)
		v.pos += v.rate * step
	}
	return true
}
