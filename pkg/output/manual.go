package output

import (
	"errors"
	"sync"

	"github.com/chriscow/soundmix/pkg/gate"
)

// ErrResumeRefused is returned by Manual.Resume while resumes are blocked.
var ErrResumeRefused = errors.New("resume refused by device")

// Manual is a device driven by its caller. It renders only when Pull is called,
// which makes it the device for tests and offline rendering. Its state can be
// forced with SetState to simulate platform interruptions.
type Manual struct {
	rate  int
	state *gate.Property[State]

	mu          sync.Mutex
	renderer    Renderer
	resumeCalls int
	refuse      bool
}

var _ Device = (*Manual)(nil)

// NewManual creates a suspended manual device.
func NewManual(sampleRate int) *Manual {
	return &Manual{rate: sampleRate, state: gate.NewProperty(Suspended)}
}

// SampleRate implements Device.
func (m *Manual) SampleRate() int { return m.rate }

// Start implements Device. The device becomes Running unless resumes are refused.
func (m *Manual) Start(r Renderer) error {
	m.mu.Lock()
	if m.renderer != nil {
		m.mu.Unlock()
		return errors.New("device already started")
	}
	m.renderer = r
	refuse := m.refuse
	m.mu.Unlock()

	if !refuse {
		m.state.Set(Running)
	}
	return nil
}

// State implements Device.
func (m *Manual) State() State { return m.state.Value() }

// Resume implements Device. It is counted so tests can observe recovery attempts.
func (m *Manual) Resume() error {
	m.mu.Lock()
	m.resumeCalls++
	refuse := m.refuse
	m.mu.Unlock()

	if m.state.Value() == Closed {
		return errors.New("device closed")
	}
	if refuse {
		return ErrResumeRefused
	}
	m.state.Set(Running)
	return nil
}

// Suspend implements Device.
func (m *Manual) Suspend() error {
	if m.state.Value() == Closed {
		return errors.New("device closed")
	}
	m.state.Set(Suspended)
	return nil
}

// OnStateChange implements Device. Listeners run synchronously on the goroutine
// that changed the state.
func (m *Manual) OnStateChange(fn func(State)) *gate.Subscription {
	return m.state.Observe(fn)
}

// Close implements Device.
func (m *Manual) Close() error {
	m.state.Set(Closed)
	return nil
}

// SetState forces the state, as a platform interruption would.
func (m *Manual) SetState(s State) {
	m.state.Set(s)
}

// RefuseResume makes Resume fail, as platforms do before the first user gesture.
func (m *Manual) RefuseResume(refuse bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.refuse = refuse
}

// ResumeCalls returns how many times Resume was called.
func (m *Manual) ResumeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resumeCalls
}

// Listeners returns the number of state observers.
func (m *Manual) Listeners() int {
	return m.state.Listeners()
}

// Pull renders n frames. A device that is not Running produces silence without
// consulting the renderer.
func (m *Manual) Pull(n int) [][2]float64 {
	dst := make([][2]float64, n)

	m.mu.Lock()
	r := m.renderer
	m.mu.Unlock()

	if r == nil || m.state.Value() != Running {
		return dst
	}
	r.Render(dst)
	return dst
}
