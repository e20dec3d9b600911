package mix

import "sync"

// Fanout lets one input feed several downstream nodes. The input is rendered
// once per cycle and the result is replayed to every reader.
type Fanout struct {
	in Node

	mu    sync.Mutex
	frame uint64
	valid bool
	cache [][2]float64
}

// NewFanout wraps in.
func NewFanout(in Node) *Fanout {
	return &Fanout{in: in}
}

// Render copies the cached block for c, rendering the input first if needed.
func (f *Fanout) Render(dst [][2]float64, c Cycle) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.valid || f.frame != c.Frame || len(f.cache) != len(dst) {
		if cap(f.cache) < len(dst) {
			f.cache = make([][2]float64, len(dst))
		}
		f.cache = f.cache[:len(dst)]
		f.in.Render(f.cache, c)
		f.frame = c.Frame
		f.valid = true
	}
	copy(dst, f.cache)
}
