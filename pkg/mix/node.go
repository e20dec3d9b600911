// Package mix implements the pull-model audio graph behind the mix manager.
//
// Every stage is a Node. The output device asks the last node for a block of
// frames, and each node pulls from its inputs in turn. Rendering happens on one
// goroutine (the device's); control calls such as Connect or SetGain may arrive
// from any goroutine and only hold a node's lock briefly.
package mix

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/chriscow/soundmix/pkg/pcm"
)

var (
	// ErrConnected is returned when connecting a node that is already an input.
	ErrConnected = errors.New("node already connected")
	// ErrNotConnected is returned when disconnecting a node that is not an input.
	ErrNotConnected = errors.New("node not connected")
)

// Cycle identifies one render pass.
type Cycle struct {
	// SampleRate of the device pulling the graph.
	SampleRate int
	// Frame is the index of the first frame of this pass since the device started.
	Frame uint64
}

// Frames converts d to a frame count at the cycle's sample rate.
func (c Cycle) Frames(d time.Duration) int {
	return FramesFor(d, c.SampleRate)
}

// FramesFor converts d to a frame count at sampleRate.
func FramesFor(d time.Duration, sampleRate int) int {
	if d <= 0 || sampleRate <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * float64(sampleRate)))
}

// Node produces audio. Render must fill all of dst, overwriting what is there.
// Nodes are compared by identity when connected, so implementations should be
// pointer types.
type Node interface {
	Render(dst [][2]float64, c Cycle)
}

type silence struct{}

func (silence) Render(dst [][2]float64, _ Cycle) { pcm.Clear(dst) }

// Silence renders zeros.
var Silence Node = silence{}

// Sum mixes any number of inputs by addition.
type Sum struct {
	mu      sync.Mutex
	inputs  []Node
	scratch [][2]float64
}

// NewSum creates a Sum with the given initial inputs.
func NewSum(inputs ...Node) *Sum {
	s := &Sum{}
	for _, in := range inputs {
		_ = s.Connect(in)
	}
	return s
}

// Connect adds n as an input. Inputs are summed in connection order.
func (s *Sum) Connect(n Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range s.inputs {
		if in == n {
			return ErrConnected
		}
	}
	// copy-on-write so a render in progress keeps its own snapshot
	inputs := make([]Node, len(s.inputs), len(s.inputs)+1)
	copy(inputs, s.inputs)
	s.inputs = append(inputs, n)
	return nil
}

// Disconnect removes n from the inputs.
func (s *Sum) Disconnect(n Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, in := range s.inputs {
		if in == n {
			inputs := make([]Node, 0, len(s.inputs)-1)
			inputs = append(inputs, s.inputs[:i]...)
			s.inputs = append(inputs, s.inputs[i+1:]...)
			return nil
		}
	}
	return ErrNotConnected
}

// Connected reports whether n is an input.
func (s *Sum) Connected(n Node) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, in := range s.inputs {
		if in == n {
			return true
		}
	}
	return false
}

// Len returns the number of inputs.
func (s *Sum) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inputs)
}

// Render mixes all inputs into dst.
func (s *Sum) Render(dst [][2]float64, c Cycle) {
	s.mu.Lock()
	inputs := s.inputs
	s.mu.Unlock()

	pcm.Clear(dst)
	if len(inputs) == 0 {
		return
	}

	if cap(s.scratch) < len(dst) {
		s.scratch = make([][2]float64, len(dst))
	}
	scratch := s.scratch[:len(dst)]

	for _, in := range inputs {
		in.Render(scratch, c)
		for i := range dst {
			dst[i][0] += scratch[i][0]
			dst[i][1] += scratch[i][1]
		}
	}
}
