// Package output defines the audio output device boundary.
//
// A Device owns the physical (or virtual) output and pulls audio from a
// Renderer on its own goroutine. Devices may leave the Running state for reasons
// outside the program's control, such as an OS audio interruption or a platform
// that refuses playback until the first user gesture. Callers watch for that
// through OnStateChange and ask for a Resume.
package output

import (
	"fmt"

	"github.com/chriscow/soundmix/pkg/gate"
)

// State is the lifecycle state of an output device.
type State int

const (
	// Suspended devices are not pulling audio. Resume may bring them back.
	Suspended State = iota
	// Running devices are pulling audio.
	Running
	// Interrupted devices were stopped by the platform.
	Interrupted
	// Closed devices are finished and cannot be resumed.
	Closed
)

func (s State) String() string {
	switch s {
	case Suspended:
		return "suspended"
	case Running:
		return "running"
	case Interrupted:
		return "interrupted"
	case Closed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Renderer produces the next block of output frames. Render is called from the
// device goroutine only.
type Renderer interface {
	Render(dst [][2]float64)
}

// Device is an audio output.
type Device interface {
	// SampleRate is the rate at which the device pulls frames.
	SampleRate() int

	// Start begins pulling audio from r. It may be called once.
	Start(r Renderer) error

	// State returns the current state.
	State() State

	// Resume asks the device to start pulling audio again.
	Resume() error

	// Suspend stops pulling audio without releasing the device.
	Suspend() error

	// OnStateChange registers fn to be called after each state change. fn may run
	// on any goroutine, so it should read State() rather than trust ordering.
	OnStateChange(fn func(State)) *gate.Subscription

	// Close releases the device.
	Close() error
}
