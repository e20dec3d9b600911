package mix

import (
	"sync"
	"time"
)

// Ramp is a parameter that moves linearly to a new target over a fixed time.
//
// Setting a new target while a ramp is in flight replaces it, starting from
// wherever the value currently is. The sample count of a ramp is resolved at the
// first render after Set, because the sample rate belongs to the device.
type Ramp struct {
	mu        sync.Mutex
	current   float64
	target    float64
	step      float64
	remaining int

	pending    bool
	pendingDur time.Duration
}

// NewRamp creates a ramp resting at v.
func NewRamp(v float64) *Ramp {
	return &Ramp{current: v, target: v}
}

// Set moves the value to target over d. A non-positive d jumps immediately.
func (r *Ramp) Set(target float64, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.target = target
	if d <= 0 {
		r.current = target
		r.remaining = 0
		r.pending = false
		return
	}
	r.pending = true
	r.pendingDur = d
}

// Target returns the value most recently passed to Set.
func (r *Ramp) Target() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.target
}

// Current returns the value the ramp has reached.
func (r *Ramp) Current() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// Settled reports whether the ramp has reached its target.
func (r *Ramp) Settled() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.pending && r.remaining == 0
}

// Fill writes the next len(dst) values of the ramp at sampleRate.
func (r *Ramp) Fill(dst []float64, sampleRate int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.pending {
		r.pending = false
		n := FramesFor(r.pendingDur, sampleRate)
		if n <= 0 {
			r.current = r.target
			r.remaining = 0
		} else {
			r.remaining = n
			r.step = (r.target - r.current) / float64(n)
		}
	}

	for i := range dst {
		if r.remaining > 0 {
			r.current += r.step
			r.remaining--
			if r.remaining == 0 {
				r.current = r.target
			}
		}
		dst[i] = r.current
	}
}

// Gain scales its input by a ramped level.
type Gain struct {
	in    Node
	level *Ramp
	buf   []float64
}

// NewGain wraps in with an initial level.
func NewGain(in Node, level float64) *Gain {
	return &Gain{in: in, level: NewRamp(level)}
}

// SetGain ramps the level to v over d.
func (g *Gain) SetGain(v float64, d time.Duration) {
	g.level.Set(v, d)
}

// Gain returns the last level set, not the live ramp position.
func (g *Gain) Gain() float64 {
	return g.level.Target()
}

// Current returns the live ramp position.
func (g *Gain) Current() float64 {
	return g.level.Current()
}

// Render pulls the input and applies the gain.
func (g *Gain) Render(dst [][2]float64, c Cycle) {
	g.in.Render(dst, c)

	if cap(g.buf) < len(dst) {
		g.buf = make([]float64, len(dst))
	}
	levels := g.buf[:len(dst)]
	g.level.Fill(levels, c.SampleRate)

	for i, v := range levels {
		dst[i][0] *= v
		dst[i][1] *= v
	}
}
