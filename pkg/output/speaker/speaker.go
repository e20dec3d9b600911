// Package speaker is the output device for the system's default audio output,
// backed by github.com/ebitengine/oto/v3.
package speaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/chriscow/soundmix/pkg/gate"
	"github.com/chriscow/soundmix/pkg/output"
	"github.com/chriscow/soundmix/pkg/pcm"
	"github.com/chriscow/soundmix/pkg/plugin"
)

// Config holds speaker settings.
type Config struct {
	SampleRate int `yaml:"sample_rate"`
	// BufferSize is the latency oto keeps queued. Zero lets the platform decide.
	BufferSize time.Duration `yaml:"buffer_size"`
	// HealthInterval is how often the context is checked for platform errors.
	HealthInterval time.Duration `yaml:"health_interval"`
}

// DefaultConfig returns the speaker defaults.
func DefaultConfig() Config {
	return Config{
		SampleRate:     pcm.DefaultSampleRate,
		BufferSize:     40 * time.Millisecond,
		HealthInterval: 500 * time.Millisecond,
	}
}

// Speaker plays the rendered mix on the default output.
// oto allows only one context per process, so only one Speaker may exist.
type Speaker struct {
	cfg    Config
	logger *slog.Logger

	ctx   *oto.Context
	state *gate.Property[output.State]

	mu      sync.Mutex
	player  *oto.Player
	reader  *reader
	ready   bool
	started bool

	cancel context.CancelFunc
	done   chan struct{}
}

var _ output.Device = (*Speaker)(nil)

// New opens the default output. The device reports Suspended until the platform
// signals it is ready and Start has been called.
func New(cfg Config, logger *slog.Logger) (*Speaker, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", cfg.SampleRate)
	}

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: 2,
		Format:       oto.FormatFloat32LE,
		BufferSize:   cfg.BufferSize,
	})
	if err != nil {
		return nil, fmt.Errorf("open audio context: %w", err)
	}

	watchCtx, cancel := context.WithCancel(context.Background())
	s := &Speaker{
		cfg:    cfg,
		logger: logger.With("device", "speaker"),
		ctx:    ctx,
		state:  gate.NewProperty(output.Suspended),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go s.watch(watchCtx, ready)
	return s, nil
}

// watch waits for the platform to become ready, then polls the context error,
// since oto reports failures only through Err.
func (s *Speaker) watch(ctx context.Context, ready chan struct{}) {
	defer close(s.done)

	select {
	case <-ready:
	case <-ctx.Done():
		return
	}

	s.mu.Lock()
	s.ready = true
	started := s.started
	s.mu.Unlock()

	s.logger.Debug("audio context ready")
	if started {
		s.state.Set(output.Running)
	}

	interval := s.cfg.HealthInterval
	if interval <= 0 {
		interval = DefaultConfig().HealthInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ctx.Err(); err != nil && s.state.Value() != output.Interrupted {
				s.logger.Warn("audio context error", "error", err)
				s.state.Set(output.Interrupted)
			}
		}
	}
}

// SampleRate implements output.Device.
func (s *Speaker) SampleRate() int { return s.cfg.SampleRate }

// Start implements output.Device.
func (s *Speaker) Start(r output.Renderer) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return errors.New("speaker already started")
	}
	s.started = true
	s.reader = &reader{renderer: r}
	s.player = s.ctx.NewPlayer(s.reader)
	s.player.Play()
	ready := s.ready
	s.mu.Unlock()

	if ready {
		s.state.Set(output.Running)
	}
	return nil
}

// State implements output.Device.
func (s *Speaker) State() output.State { return s.state.Value() }

// Resume implements output.Device.
func (s *Speaker) Resume() error {
	s.mu.Lock()
	ready := s.ready
	s.mu.Unlock()

	if s.state.Value() == output.Closed {
		return errors.New("speaker closed")
	}
	if !ready {
		return errors.New("audio context not ready")
	}
	if err := s.ctx.Resume(); err != nil {
		return fmt.Errorf("resume audio context: %w", err)
	}
	s.state.Set(output.Running)
	return nil
}

// Suspend implements output.Device.
func (s *Speaker) Suspend() error {
	if err := s.ctx.Suspend(); err != nil {
		return fmt.Errorf("suspend audio context: %w", err)
	}
	s.state.Set(output.Suspended)
	return nil
}

// OnStateChange implements output.Device. Listeners may run on the watch goroutine.
func (s *Speaker) OnStateChange(fn func(output.State)) *gate.Subscription {
	return s.state.Observe(fn)
}

// Close implements output.Device.
func (s *Speaker) Close() error {
	s.cancel()
	<-s.done

	s.mu.Lock()
	p := s.player
	s.player = nil
	s.mu.Unlock()

	var err error
	if p != nil {
		err = p.Close()
	}
	s.state.Set(output.Closed)
	return err
}

// reader adapts a Renderer to the io.Reader oto pulls from.
type reader struct {
	renderer output.Renderer
	frames   [][2]float64
}

func (r *reader) Read(p []byte) (int, error) {
	n := len(p) / pcm.BytesPerFrameFloat32
	if n == 0 {
		return 0, nil
	}
	if cap(r.frames) < n {
		r.frames = make([][2]float64, n)
	}
	frames := r.frames[:n]
	r.renderer.Render(frames)
	return pcm.PutFloat32LE(p, frames), nil
}

func newSpeaker(cfg map[string]any) (any, error) {
	c := DefaultConfig()
	var err error
	if c.SampleRate, err = plugin.Int(cfg, "sample_rate", c.SampleRate); err != nil {
		return nil, err
	}
	if c.BufferSize, err = plugin.Duration(cfg, "buffer_size", c.BufferSize); err != nil {
		return nil, err
	}
	return New(c, nil)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindDevice,
		Name:        "speaker",
		Factory:     newSpeaker,
		Description: "Default system audio output (oto)",
		Config: map[string]any{
			"sample_rate": pcm.DefaultSampleRate,
			"buffer_size": "40ms",
		},
	})
}
