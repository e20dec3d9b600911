package sound

import (
	"time"

	"github.com/chriscow/soundmix/pkg/mix"
)

// Bus is a named volume control shared by every source in a category. All of
// its sources share one gain stage.
type Bus struct {
	name string
	ramp time.Duration

	in   *mix.Sum
	gain *mix.Gain
	out  *mix.Fanout
}

func newBus(name string, volume float64, ramp time.Duration) *Bus {
	in := mix.NewSum()
	gain := mix.NewGain(in, clampUnit(volume))
	return &Bus{name: name, ramp: ramp, in: in, gain: gain, out: mix.NewFanout(gain)}
}

// Name returns the category name.
func (b *Bus) Name() string { return b.name }

// Volume returns the last volume set. It is not read back from the graph.
func (b *Bus) Volume() float64 { return b.gain.Gain() }

// SetVolume ramps the bus to level, clamped to [0, 1].
func (b *Bus) SetVolume(level float64) {
	b.gain.SetGain(clampUnit(level), b.ramp)
}

// Sources returns the number of sources connected to the bus.
func (b *Bus) Sources() int { return b.in.Len() }
