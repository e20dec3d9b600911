package main

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/chriscow/soundmix/pkg/asset"
	"github.com/chriscow/soundmix/pkg/gate"
	"github.com/chriscow/soundmix/pkg/output"
	"github.com/chriscow/soundmix/pkg/plugin"
	"github.com/chriscow/soundmix/pkg/sound"
	"github.com/chriscow/soundmix/pkg/tier"
)

// session is an initialized manager plus the loader feeding it.
type session struct {
	m      *sound.Manager
	loader *asset.Loader
	logger *slog.Logger

	sources []source
}

type source interface {
	sound.Generator
	Dispose()
}

func newSession(cfg sound.Config, dev output.Device, logger *slog.Logger) (*session, error) {
	loaderCfg := asset.DefaultConfig()
	loaderCfg.SampleRate = dev.SampleRate()
	loader, err := asset.NewLoader(loaderCfg, plugin.Default, logger)
	if err != nil {
		return nil, err
	}

	m := sound.NewManager(logger)
	if err := m.Initialize(gate.Const(true), gate.Const(true), dev, cfg); err != nil {
		return nil, err
	}
	return &session{m: m, loader: loader, logger: logger}, nil
}

type clipOptions struct {
	loop     bool
	category string
	tier     tier.Level
	level    float64
	rate     float64
}

func (o clipOptions) register() sound.RegisterOptions {
	return sound.RegisterOptions{Tier: o.tier, Category: o.category}
}

// addClip decodes h and registers a clip for it. It blocks until the buffer is
// ready so a one-shot played right after is not dropped.
func (s *session) addClip(ctx context.Context, h *asset.Handle, o clipOptions) (*sound.Clip, error) {
	select {
	case <-h.Done():
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if err := h.Err(); err != nil {
		s.logger.Warn("playing silence in place of undecodable asset", "name", h.Name(), "error", err)
	}

	cfg := sound.DefaultClipConfig()
	cfg.Loop = o.loop
	cfg.InitialOutputLevel = o.level
	cfg.InitialPlaybackRate = o.rate
	c, err := sound.NewClip(h, cfg)
	if err != nil {
		return nil, err
	}
	if err := s.m.Register(c, o.register()); err != nil {
		c.Dispose()
		return nil, err
	}
	s.sources = append(s.sources, c)
	return c, nil
}

func (s *session) addTone(wave sound.Waveform, freq float64, o clipOptions) (*sound.Tone, error) {
	cfg := sound.DefaultToneConfig()
	cfg.Waveform = wave
	cfg.Frequency = freq
	cfg.InitialOutputLevel = o.level
	t, err := sound.NewTone(cfg)
	if err != nil {
		return nil, err
	}
	if err := s.m.Register(t, o.register()); err != nil {
		t.Dispose()
		return nil, err
	}
	s.sources = append(s.sources, t)
	return t, nil
}

// load starts decoding files and speech prompts in order.
func (s *session) load(ctx context.Context, files []string, say string, synth string) ([]*asset.Handle, error) {
	var handles []*asset.Handle
	for _, f := range files {
		handles = append(handles, s.loader.Load(ctx, f))
	}
	if say != "" {
		sy, err := plugin.Build[asset.Synthesizer](plugin.Default, plugin.KindSynth, synth, nil)
		if err != nil {
			return nil, err
		}
		handles = append(handles, s.loader.Speak(ctx, sy, say))
	}
	return handles, nil
}

func (s *session) close() {
	for _, g := range s.sources {
		if err := s.m.Unregister(g); err != nil {
			s.logger.Debug("unregister", "error", err)
		}
		g.Dispose()
	}
	s.loader.Wait()
	if err := s.m.Close(); err != nil {
		s.logger.Warn("close output", "error", err)
	}
}

// openDevice builds an output device from the plugin registry.
func openDevice(name string, rate int) (output.Device, error) {
	return plugin.Build[output.Device](plugin.Default, plugin.KindDevice, name, map[string]any{"sample_rate": rate})
}

// parseParams turns key=value arguments into command data. Numbers and
// booleans are converted, everything else is kept as a string.
func parseParams(args []string) (map[string]any, error) {
	data := make(map[string]any, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", a)
		}
		data[k] = parseValue(v)
	}
	return data, nil
}

func parseValue(v string) any {
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(v); err == nil {
		return b
	}
	return v
}

// waitOrDone blocks for d, or until ctx is done when d is zero.
func waitOrDone(ctx context.Context, d time.Duration) {
	if d <= 0 {
		<-ctx.Done()
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}
