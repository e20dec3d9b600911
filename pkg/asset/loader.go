package asset

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/chriscow/soundmix/pkg/pcm"
	"github.com/chriscow/soundmix/pkg/plugin"
)

// Decoder turns an encoded audio stream into a buffer at the stream's own rate.
type Decoder interface {
	Decode(r io.Reader) (*pcm.Buffer, error)
}

// Synthesizer produces encoded speech for text. ext names the container of the
// returned stream (for example ".mp3") so a decoder can be chosen for it.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (rc io.ReadCloser, ext string, err error)
}

// Config configures a Loader.
type Config struct {
	// SampleRate is the rate every buffer is converted to.
	SampleRate int `yaml:"sample_rate"`
	// Quality is the beep resampling quality, 1 (linear) to 64.
	Quality int `yaml:"quality"`
}

// DefaultConfig returns the loader defaults.
func DefaultConfig() Config {
	return Config{SampleRate: pcm.DefaultSampleRate, Quality: 4}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("asset sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Quality < 1 || c.Quality > 64 {
		return fmt.Errorf("asset resample quality must be in [1, 64], got %d", c.Quality)
	}
	return nil
}

// Loader decodes audio in the background.
type Loader struct {
	cfg      Config
	registry *plugin.Registry
	logger   *slog.Logger

	wg sync.WaitGroup
}

// NewLoader creates a loader. Decoders are looked up in registry by file
// extension; a nil registry means plugin.Default.
func NewLoader(cfg Config, registry *plugin.Registry, logger *slog.Logger) (*Loader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		registry = plugin.Default
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Loader{cfg: cfg, registry: registry, logger: logger.With("component", "asset")}, nil
}

// SampleRate returns the rate buffers are converted to.
func (l *Loader) SampleRate() int { return l.cfg.SampleRate }

// Load decodes the file at path.
func (l *Loader) Load(ctx context.Context, path string) *Handle {
	return l.start(ctx, path, func() (io.ReadCloser, string, error) {
		f, err := os.Open(path)
		if err != nil {
			return nil, "", err
		}
		return f, filepath.Ext(path), nil
	})
}

// LoadBytes decodes data. The extension of name selects the decoder; without
// one the container is sniffed from the data.
func (l *Loader) LoadBytes(ctx context.Context, name string, data []byte) *Handle {
	return l.start(ctx, name, func() (io.ReadCloser, string, error) {
		ext := filepath.Ext(name)
		if ext == "" {
			ext = sniff(data)
		}
		return io.NopCloser(bytes.NewReader(data)), ext, nil
	})
}

// Speak synthesizes text with synth and decodes the result.
func (l *Loader) Speak(ctx context.Context, synth Synthesizer, text string) *Handle {
	return l.start(ctx, "speech", func() (io.ReadCloser, string, error) {
		return synth.Synthesize(ctx, text)
	})
}

// Wait blocks until every load started so far has resolved.
func (l *Loader) Wait() {
	l.wg.Wait()
}

func (l *Loader) start(ctx context.Context, name string, open func() (io.ReadCloser, string, error)) *Handle {
	h := newHandle(name)

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()

		b, err := l.load(ctx, open)
		if err != nil {
			l.logger.Error("failed to decode audio, substituting silence", "asset", name, "error", err)
			h.resolve(pcm.Silent(l.cfg.SampleRate), err)
			return
		}
		l.logger.Debug("decoded audio", "asset", name, "frames", b.Len(), "duration", b.Duration())
		h.resolve(b, nil)
	}()

	return h
}

func (l *Loader) load(ctx context.Context, open func() (io.ReadCloser, string, error)) (b *pcm.Buffer, err error) {
	// a misbehaving decoder must not take the process down
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("decoder panic: %v", r)
		}
	}()

	rc, ext, err := open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if ext == "" {
		return nil, ErrUnknownFormat
	}
	p, ok := l.registry.ForExtension(plugin.KindDecoder, ext)
	if !ok {
		return nil, fmt.Errorf("no decoder for %q", ext)
	}
	dec, err := plugin.Build[Decoder](l.registry, plugin.KindDecoder, p.Name, nil)
	if err != nil {
		return nil, err
	}

	b, err = dec.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.Name, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return Resample(b, l.cfg.SampleRate, l.cfg.Quality)
}

// ErrUnknownFormat is returned by sniff-based loads for unrecognized data.
var ErrUnknownFormat = errors.New("unknown audio format")

// sniff guesses a container extension from the first bytes of data.
func sniff(data []byte) string {
	switch {
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return ".wav"
	case len(data) >= 3 && string(data[:3]) == "ID3":
		return ".mp3"
	case len(data) >= 2 && data[0] == 0xff && data[1]&0xe0 == 0xe0:
		return ".mp3"
	default:
		return ""
	}
}
