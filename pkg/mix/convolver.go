package mix

import (
	"fmt"
	"sync"

	"github.com/chriscow/soundmix/pkg/pcm"
)

// Convolver applies a stereo impulse response to its input using uniformly
// partitioned overlap-save convolution. The impulse response is cut into blocks
// of BlockSize frames so that long reverb tails cost one FFT pair per block
// rather than one multiply per tap per sample.
//
// Output lags input by BlockSize frames.
type Convolver struct {
	in    Node
	block int
	plan  *fftPlan

	mu     sync.Mutex
	ir     [2][][]complex128
	fdl    [2][][]complex128
	head   int
	window [2][]float64
	out    [2][]float64
	pos    int
	acc    []complex128
}

// NewConvolver creates a convolver with the given block size, which must be a
// power of two. ir may be nil, in which case the output is silent until
// SetImpulse is called.
func NewConvolver(in Node, blockSize int, ir *pcm.Buffer) (*Convolver, error) {
	if blockSize < 2 || blockSize&(blockSize-1) != 0 {
		return nil, fmt.Errorf("convolver block size must be a power of two, got %d", blockSize)
	}

	c := &Convolver{
		in:    in,
		block: blockSize,
		plan:  newFFTPlan(2 * blockSize),
		acc:   make([]complex128, 2*blockSize),
	}
	for ch := 0; ch < 2; ch++ {
		c.window[ch] = make([]float64, 2*blockSize)
		c.out[ch] = make([]float64, blockSize)
	}
	c.SetImpulse(ir)
	return c, nil
}

// Latency returns the delay, in frames, between input and output.
func (c *Convolver) Latency() int {
	return c.block
}

// SetImpulse replaces the impulse response. History is cleared when the number
// of partitions changes.
func (c *Convolver) SetImpulse(ir *pcm.Buffer) {
	var parts [2][][]complex128
	n := ir.Len()
	count := (n + c.block - 1) / c.block

	for ch := 0; ch < 2; ch++ {
		parts[ch] = make([][]complex128, count)
		for p := 0; p < count; p++ {
			seg := make([]complex128, 2*c.block)
			for k := 0; k < c.block; k++ {
				i := p*c.block + k
				if i >= n {
					break
				}
				seg[k] = complex(ir.Frames[i][ch], 0)
			}
			c.plan.forward(seg)
			parts[ch][p] = seg
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.fdl[0]) != count {
		for ch := 0; ch < 2; ch++ {
			c.fdl[ch] = make([][]complex128, count)
			for p := range c.fdl[ch] {
				c.fdl[ch][p] = make([]complex128, 2*c.block)
			}
		}
		c.head = 0
	}
	c.ir = parts
}

// Render pulls the input and writes the convolved signal.
func (c *Convolver) Render(dst [][2]float64, cy Cycle) {
	c.in.Render(dst, cy)

	c.mu.Lock()
	defer c.mu.Unlock()

	b := c.block
	for i := range dst {
		for ch := 0; ch < 2; ch++ {
			c.window[ch][b+c.pos] = dst[i][ch]
			dst[i][ch] = c.out[ch][c.pos]
		}
		c.pos++
		if c.pos == b {
			c.process()
			c.pos = 0
		}
	}
}

// process convolves the block that just filled the second half of the window.
func (c *Convolver) process() {
	b := c.block
	count := len(c.ir[0])

	for ch := 0; ch < 2; ch++ {
		if count == 0 {
			clear(c.out[ch])
			copy(c.window[ch][:b], c.window[ch][b:])
			continue
		}

		x := c.fdl[ch][c.head]
		for k, v := range c.window[ch] {
			x[k] = complex(v, 0)
		}
		c.plan.forward(x)

		clear(c.acc)
		for p := 0; p < count; p++ {
			spectrum := c.fdl[ch][(c.head-p+count)%count]
			h := c.ir[ch][p]
			for k := range c.acc {
				c.acc[k] += spectrum[k] * h[k]
			}
		}
		c.plan.inverse(c.acc)

		for k := 0; k < b; k++ {
			c.out[ch][k] = real(c.acc[b+k])
		}
		copy(c.window[ch][:b], c.window[ch][b:])
	}

	if count > 0 {
		c.head = (c.head + 1) % count
	}
}
