// Package wavfile is an output device that captures the mix into a 16-bit
// stereo WAV file instead of playing it. It renders only when asked, so it is
// used for offline renders and regression captures.
package wavfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/chriscow/soundmix/pkg/gate"
	"github.com/chriscow/soundmix/pkg/output"
	"github.com/chriscow/soundmix/pkg/pcm"
	"github.com/chriscow/soundmix/pkg/plugin"
)

const (
	bitDepth = 16
	// wavPCM is the WAVE_FORMAT_PCM format tag
	wavPCM = 1
	// blockFrames is the size of each render pass during Capture.
	blockFrames = 1024
)

// Device writes rendered frames to a WAV stream.
type Device struct {
	rate  int
	state *gate.Property[output.State]

	mu       sync.Mutex
	enc      *wav.Encoder
	closer   io.Closer
	renderer output.Renderer
	frames   [][2]float64
	ints     []int
	written  int
}

var _ output.Device = (*Device)(nil)

// Create opens path for writing.
func Create(path string, sampleRate int) (*Device, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav file: %w", err)
	}
	return New(f, sampleRate), nil
}

// New writes to ws. If ws is also an io.Closer it is closed by Close.
func New(ws io.WriteSeeker, sampleRate int) *Device {
	d := &Device{
		rate:   sampleRate,
		state:  gate.NewProperty(output.Suspended),
		enc:    wav.NewEncoder(ws, sampleRate, bitDepth, 2, wavPCM),
		frames: make([][2]float64, blockFrames),
	}
	if c, ok := ws.(io.Closer); ok {
		d.closer = c
	}
	return d
}

// SampleRate implements output.Device.
func (d *Device) SampleRate() int { return d.rate }

// Start implements output.Device.
func (d *Device) Start(r output.Renderer) error {
	d.mu.Lock()
	if d.renderer != nil {
		d.mu.Unlock()
		return errors.New("device already started")
	}
	d.renderer = r
	d.mu.Unlock()

	d.state.Set(output.Running)
	return nil
}

// State implements output.Device.
func (d *Device) State() output.State { return d.state.Value() }

// Resume implements output.Device.
func (d *Device) Resume() error {
	if d.state.Value() == output.Closed {
		return errors.New("device closed")
	}
	d.state.Set(output.Running)
	return nil
}

// Suspend implements output.Device.
func (d *Device) Suspend() error {
	if d.state.Value() == output.Closed {
		return errors.New("device closed")
	}
	d.state.Set(output.Suspended)
	return nil
}

// OnStateChange implements output.Device.
func (d *Device) OnStateChange(fn func(output.State)) *gate.Subscription {
	return d.state.Observe(fn)
}

// Capture renders dur of audio into the file. While the device is not Running
// silence is written, matching what a listener would hear.
func (d *Device) Capture(dur time.Duration) error {
	total := int(dur.Seconds() * float64(d.rate))

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.enc == nil {
		return errors.New("device closed")
	}

	for total > 0 {
		n := min(total, blockFrames)
		frames := d.frames[:n]
		if d.renderer != nil && d.state.Value() == output.Running {
			d.renderer.Render(frames)
		} else {
			pcm.Clear(frames)
		}

		d.ints = pcm.AppendInts(d.ints[:0], frames, bitDepth)
		buf := &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 2, SampleRate: d.rate},
			Data:           d.ints,
			SourceBitDepth: bitDepth,
		}
		if err := d.enc.Write(buf); err != nil {
			return fmt.Errorf("write wav frames: %w", err)
		}
		d.written += n
		total -= n
	}
	return nil
}

// Written returns the number of frames captured.
func (d *Device) Written() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.written
}

// Close finalizes the WAV header and closes the file.
func (d *Device) Close() error {
	d.mu.Lock()
	enc, closer := d.enc, d.closer
	d.enc, d.closer = nil, nil
	d.mu.Unlock()

	var err error
	if enc != nil {
		err = enc.Close()
	}
	if closer != nil {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}
	d.state.Set(output.Closed)
	return err
}

func newDevice(cfg map[string]any) (any, error) {
	path, err := plugin.String(cfg, "path", "")
	if err != nil {
		return nil, err
	}
	if path == "" {
		return nil, errors.New("wav device needs a path")
	}
	rate, err := plugin.Int(cfg, "sample_rate", pcm.DefaultSampleRate)
	if err != nil {
		return nil, err
	}
	return Create(path, rate)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindDevice,
		Name:        "wav",
		Factory:     newDevice,
		Description: "Offline capture to a 16-bit stereo WAV file",
		Config: map[string]any{
			"path":        "output file (required)",
			"sample_rate": pcm.DefaultSampleRate,
		},
	})
}
