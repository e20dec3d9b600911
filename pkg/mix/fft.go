package mix

import (
	"math"
	"math/bits"
)

// fftPlan holds the twiddle factors and bit-reversal table for one transform size.
type fftPlan struct {
	n       int
	twiddle []complex128
	reverse []int
}

func newFFTPlan(n int) *fftPlan {
	if n < 2 || n&(n-1) != 0 {
		panic("fft size must be a power of two")
	}

	p := &fftPlan{
		n:       n,
		twiddle: make([]complex128, n/2),
		reverse: make([]int, n),
	}
	for k := range p.twiddle {
		s, c := math.Sincos(-2 * math.Pi * float64(k) / float64(n))
		p.twiddle[k] = complex(c, s)
	}
	shift := bits.UintSize - bits.Len(uint(n-1))
	for i := range p.reverse {
		p.reverse[i] = int(bits.Reverse(uint(i)) >> shift)
	}
	return p
}

// forward transforms x in place.
func (p *fftPlan) forward(x []complex128) {
	p.transform(x, false)
}

// inverse transforms x in place, including the 1/n scale.
func (p *fftPlan) inverse(x []complex128) {
	p.transform(x, true)
	scale := complex(1/float64(p.n), 0)
	for i := range x {
		x[i] *= scale
	}
}

func (p *fftPlan) transform(x []complex128, inverse bool) {
	n := p.n
	for i, j := range p.reverse {
		if i < j {
			x[i], x[j] = x[j], x[i]
		}
	}

	for size := 2; size <= n; size <<= 1 {
		half := size / 2
		stride := n / size
		for start := 0; start < n; start += size {
			for k := 0; k < half; k++ {
				w := p.twiddle[k*stride]
				if inverse {
					w = complex(real(w), -imag(w))
				}
				a := x[start+k]
				b := w * x[start+k+half]
				x[start+k] = a + b
				x[start+k+half] = a - b
			}
		}
	}
}
