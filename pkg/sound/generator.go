package sound

import (
	"sync"
	"time"

	"github.com/chriscow/soundmix/pkg/gate"
	"github.com/chriscow/soundmix/pkg/mix"
)

// Generator is a sound source that can be registered with a Manager. Types
// satisfy it by embedding Base.
type Generator interface {
	Playable

	// Output is the node the manager connects to a bus.
	Output() mix.Node

	base() *Base
}

type attachedGate struct {
	g   gate.Gate
	sub *gate.Subscription
}

// Base carries the enablement state shared by every sound source: the gates
// attached to it, a local toggle, and the resulting effective-enabled value.
// The signal from the source's voices passes an enable gain, which fades with
// the effective-enabled value, and then the output level gain.
type Base struct {
	mu       sync.Mutex
	gates    []attachedGate
	local    bool
	disposed bool

	// dirty marks a gate change not yet published; publishing is held by the
	// one goroutine publishing at a time.
	dirty      bool
	publishing bool

	initiateWhenDisabled bool
	enableRamp           time.Duration

	enabled *gate.Property[bool]
	enable  *mix.Gain
	level   *mix.Gain

	// onDisabled runs outside the lock on every true-to-false transition.
	onDisabled func()
	onDispose  func()
}

func (b *Base) init(voices mix.Node, level float64, initiateWhenDisabled bool) {
	b.local = true
	b.initiateWhenDisabled = initiateWhenDisabled
	b.enabled = gate.NewProperty(true)
	b.enable = mix.NewGain(voices, 1)
	b.level = mix.NewGain(b.enable, clampUnit(level))
}

func (b *Base) base() *Base { return b }

// Output implements Generator.
func (b *Base) Output() mix.Node { return b.level }

// Enabled is the effective-enabled gate: the local toggle AND every attached gate.
func (b *Base) Enabled() gate.Gate { return b.enabled }

// IsEnabled returns the current effective-enabled value.
func (b *Base) IsEnabled() bool { return b.enabled.Value() }

// LocalEnabled returns the local toggle.
func (b *Base) LocalEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.local
}

// SetLocalEnabled sets the local toggle, which is combined with the attached gates.
func (b *Base) SetLocalEnabled(v bool) {
	b.mu.Lock()
	b.local = v
	b.mu.Unlock()
	b.recompute()
}

// InitiateWhenDisabled reports whether Play starts sound while disabled.
func (b *Base) InitiateWhenDisabled() bool { return b.initiateWhenDisabled }

// SetEnableRampTime sets how long the source fades when its effective-enabled
// value changes. The manager sets this on registration.
func (b *Base) SetEnableRampTime(d time.Duration) {
	b.mu.Lock()
	b.enableRamp = d
	b.mu.Unlock()
}

// AddGate attaches g. Adding a gate that is already attached does nothing.
func (b *Base) AddGate(g gate.Gate) {
	if g == nil {
		return
	}

	b.mu.Lock()
	if b.disposed || b.indexLocked(g) >= 0 {
		b.mu.Unlock()
		return
	}
	b.gates = append(b.gates, attachedGate{g: g})
	b.mu.Unlock()

	// Subscribe outside the lock; the listener itself takes it.
	sub := g.OnChange(b.recompute)

	b.mu.Lock()
	if i := b.indexLocked(g); i >= 0 && b.gates[i].sub == nil {
		b.gates[i].sub = sub
		sub = nil
	}
	b.mu.Unlock()

	// Removed or disposed while subscribing.
	sub.Release()
	b.recompute()
}

// RemoveGate detaches g and reports whether it was attached.
func (b *Base) RemoveGate(g gate.Gate) bool {
	b.mu.Lock()
	i := b.indexLocked(g)
	if i < 0 {
		b.mu.Unlock()
		return false
	}
	sub := b.gates[i].sub
	b.gates = append(b.gates[:i], b.gates[i+1:]...)
	b.mu.Unlock()

	sub.Release()
	b.recompute()
	return true
}

// HasGate reports whether g is attached.
func (b *Base) HasGate(g gate.Gate) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.indexLocked(g) >= 0
}

// GateCount returns the number of attached gates.
func (b *Base) GateCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.gates)
}

func (b *Base) indexLocked(g gate.Gate) int {
	for i, a := range b.gates {
		if a.g == g {
			return i
		}
	}
	return -1
}

// recompute derives effective-enabled from the current gate values. The value
// is computed under the lock and published outside it, so listeners may call
// back into the source. One goroutine publishes at a time; changes that arrive
// meanwhile are picked up by its loop, so the last value published is always
// the current one.
func (b *Base) recompute() {
	b.mu.Lock()
	b.dirty = true
	if b.publishing {
		b.mu.Unlock()
		return
	}
	b.publishing = true
	for b.dirty {
		b.dirty = false
		v := b.local
		for _, a := range b.gates {
			if !v {
				break
			}
			v = a.g.Value()
		}
		ramp := b.enableRamp
		b.mu.Unlock()

		b.publish(v, ramp)

		b.mu.Lock()
	}
	b.publishing = false
	b.mu.Unlock()
}

func (b *Base) publish(v bool, ramp time.Duration) {
	if v == b.enabled.Value() {
		return
	}

	if v {
		b.enable.SetGain(1, ramp)
	} else {
		b.enable.SetGain(0, ramp)
	}
	b.enabled.Set(v)

	if !v && !b.initiateWhenDisabled && b.onDisabled != nil {
		b.onDisabled()
	}
}

// canPlay reports whether a play request should start sound.
func (b *Base) canPlay() bool {
	b.mu.Lock()
	disposed := b.disposed
	b.mu.Unlock()
	return !disposed && (b.enabled.Value() || b.initiateWhenDisabled)
}

// OutputLevel returns the last level set.
func (b *Base) OutputLevel() float64 { return b.level.Gain() }

// SetOutputLevel ramps the source's gain to level over d. Levels outside [0, 1]
// are clamped.
func (b *Base) SetOutputLevel(level float64, d time.Duration) {
	b.level.SetGain(clampUnit(level), d)
}

// Dispose detaches every gate and releases the source's pending work. A
// disposed source never plays again.
func (b *Base) Dispose() {
	b.mu.Lock()
	if b.disposed {
		b.mu.Unlock()
		return
	}
	b.disposed = true
	gates := b.gates
	b.gates = nil
	b.mu.Unlock()

	for _, a := range gates {
		a.sub.Release()
	}
	if b.onDispose != nil {
		b.onDispose()
	}
}

// Disposed reports whether Dispose has been called.
func (b *Base) Disposed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disposed
}
