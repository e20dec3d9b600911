package mix

import (
	"math"
	"time"
)

// PeakSnapshot is one completed measurement window of the output level.
type PeakSnapshot struct {
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
	// Frame is the device frame at which the window closed.
	Frame uint64 `json:"frame"`
}

// Meter passes audio through unchanged while tracking the peak level. Every
// period it posts a PeakSnapshot on a bounded channel. When the reader falls
// behind, the oldest snapshot is discarded so the render goroutine never blocks.
type Meter struct {
	in     Node
	period time.Duration
	ch     chan PeakSnapshot

	peak    [2]float64
	counted int
}

// NewMeter wraps in. depth is the channel capacity (at least 1).
func NewMeter(in Node, period time.Duration, depth int) *Meter {
	if depth < 1 {
		depth = 1
	}
	return &Meter{in: in, period: period, ch: make(chan PeakSnapshot, depth)}
}

// Snapshots returns the channel on which completed measurements are posted.
func (m *Meter) Snapshots() <-chan PeakSnapshot {
	return m.ch
}

// Render pulls the input and updates the peak window.
func (m *Meter) Render(dst [][2]float64, c Cycle) {
	m.in.Render(dst, c)

	window := c.Frames(m.period)
	if window <= 0 {
		return
	}

	for i, f := range dst {
		m.peak[0] = math.Max(m.peak[0], math.Abs(f[0]))
		m.peak[1] = math.Max(m.peak[1], math.Abs(f[1]))
		m.counted++
		if m.counted >= window {
			m.post(PeakSnapshot{Left: m.peak[0], Right: m.peak[1], Frame: c.Frame + uint64(i) + 1})
			m.peak = [2]float64{}
			m.counted = 0
		}
	}
}

func (m *Meter) post(s PeakSnapshot) {
	for {
		select {
		case m.ch <- s:
			return
		default:
		}
		select {
		case <-m.ch:
		default:
		}
	}
}
