package sound

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/soundmix/pkg/asset"
	"github.com/chriscow/soundmix/pkg/pcm"
)

func TestClipConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*ClipConfig)
		ok     bool
	}{
		{"default", func(*ClipConfig) {}, true},
		{"loop with trim", func(c *ClipConfig) { c.Loop, c.TrimSilence = true, true }, true},
		{"trim without loop", func(c *ClipConfig) { c.TrimSilence = true }, false},
		{"bounds without loop", func(c *ClipConfig) { c.LoopEnd = time.Second }, false},
		{"bounds with loop", func(c *ClipConfig) { c.Loop, c.LoopStart, c.LoopEnd = true, 10*time.Millisecond, time.Second }, true},
		{"end before start", func(c *ClipConfig) { c.Loop, c.LoopStart, c.LoopEnd = true, time.Second, time.Millisecond }, false},
		{"trim with bounds", func(c *ClipConfig) { c.Loop, c.TrimSilence, c.LoopEnd = true, true, time.Second }, false},
		{"zero rate", func(c *ClipConfig) { c.InitialPlaybackRate = 0 }, false},
		{"nan rate", func(c *ClipConfig) { c.InitialPlaybackRate = math.NaN() }, false},
		{"loud", func(c *ClipConfig) { c.InitialOutputLevel = 1.5 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			is := is.New(t)

			cfg := DefaultClipConfig()
			tt.modify(&cfg)
			_, err := NewClip(asset.Ready("x", pcm.Silent(testRate)), cfg)
			if tt.ok {
				is.NoErr(err)
				return
			}
			is.True(errors.Is(err, ErrConfig)) // conflicts are reported at construction
		})
	}
}

func TestClip_RendersBuffer(t *testing.T) {
	is := is.New(t)

	c := newClip(t, DefaultClipConfig())
	is.True(c.Loaded())

	out := render(c.Output(), 128)
	is.Equal(pcm.Peak(out), 0.0) // nothing until played

	c.Play()
	out = render(c.Output(), 128)
	is.Equal(out[0], [2]float64{0.25, 0.25})
	is.Equal(out[127], [2]float64{0.25, 0.25})

	c.Play()
	out = render(c.Output(), 128)
	is.Equal(out[10][0], 0.5) // two voices sum
}

func TestClip_OneShotEnds(t *testing.T) {
	is := is.New(t)

	c, err := NewClip(asset.Ready("short", constBuffer(t, 0.5, 100)), DefaultClipConfig())
	is.NoErr(err)
	defer c.Dispose()

	c.Play()
	out := render(c.Output(), 256)
	is.Equal(out[99][0], 0.5)
	is.Equal(out[100][0], 0.0)
	is.True(!c.IsPlaying()) // the voice was retired
}

func TestClip_LoopWrapsAndPlaysOnce(t *testing.T) {
	is := is.New(t)

	frames := [][2]float64{{0.1, 0.1}, {0.2, 0.2}, {0.3, 0.3}}
	b, err := pcm.NewBuffer(testRate, frames)
	is.NoErr(err)
	c, err := NewClip(asset.Ready("loop", b), loopConfig())
	is.NoErr(err)
	defer c.Dispose()

	c.Play()
	c.Play() // already looping
	is.Equal(c.Voices(), 1)

	out := render(c.Output(), 7)
	want := []float64{0.1, 0.2, 0.3, 0.1, 0.2, 0.3, 0.1}
	for i, w := range want {
		is.True(math.Abs(out[i][0]-w) < 1e-12) // loop wraps to the start
	}
	is.True(c.IsPlaying())

	c.Stop()
	is.True(!c.IsPlaying())
}

func TestClip_TrimSilenceBoundsLoop(t *testing.T) {
	is := is.New(t)

	frames := [][2]float64{{}, {}, {0.4, 0.4}, {0.6, 0.6}, {}, {}}
	b, err := pcm.NewBuffer(testRate, frames)
	is.NoErr(err)

	cfg := loopConfig()
	cfg.TrimSilence = true
	c, err := NewClip(asset.Ready("trim", b), cfg)
	is.NoErr(err)
	defer c.Dispose()

	c.Play()
	out := render(c.Output(), 4)
	is.Equal(out[0][0], 0.4) // leading silence skipped
	is.Equal(out[1][0], 0.6)
	is.Equal(out[2][0], 0.4) // trailing silence skipped
}

func TestClip_RateConversion(t *testing.T) {
	is := is.New(t)

	frames := [][2]float64{{0, 0}, {1, 1}, {0, 0}, {1, 1}}
	b, err := pcm.NewBuffer(testRate/2, frames)
	is.NoErr(err)
	c, err := NewClip(asset.Ready("half", b), DefaultClipConfig())
	is.NoErr(err)
	defer c.Dispose()

	c.Play()
	out := render(c.Output(), 4)
	is.Equal(out[0][0], 0.0)
	is.Equal(out[1][0], 0.5) // interpolated between source frames
	is.Equal(out[2][0], 1.0)
}

func TestClip_SetPlaybackRate(t *testing.T) {
	is := is.New(t)

	c := newClip(t, DefaultClipConfig())
	is.True(errors.Is(c.SetPlaybackRate(0), ErrInvalidRate))
	is.True(errors.Is(c.SetPlaybackRate(-1), ErrInvalidRate))
	is.True(errors.Is(c.SetPlaybackRate(math.NaN()), ErrInvalidRate))
	is.Equal(c.PlaybackRate(), 1.0) // rejected rates leave the rate alone

	c.Play()
	is.NoErr(c.SetPlaybackRate(2))
	is.Equal(c.voices[0].rate, 2.0) // playing voices follow by default

	cfg := DefaultClipConfig()
	cfg.RateChangesAffectPlayingSounds = false
	fixed := newClip(t, cfg)
	fixed.Play()
	is.NoErr(fixed.SetPlaybackRate(2))
	is.Equal(fixed.voices[0].rate, 1.0) // only new voices use the new rate
}

func TestClip_PlayDelayed(t *testing.T) {
	is := is.New(t)

	c := newClip(t, DefaultClipConfig())
	c.PlayDelayed(time.Millisecond) // 48 frames

	out := render(c.Output(), 96)
	is.Equal(out[47][0], 0.0)
	is.Equal(out[48][0], 0.25)
}

func TestClip_StopWithFade(t *testing.T) {
	is := is.New(t)

	c := newClip(t, loopConfig())
	c.Play()
	c.StopWithFade(time.Millisecond)
	is.True(c.IsPlaying()) // fading, not yet stopped

	out := render(c.Output(), 96)
	is.True(out[0][0] > out[20][0]) // decreasing
	is.Equal(out[60][0], 0.0)
	is.True(!c.IsPlaying())
}

func TestClip_PlayCancelsLoopFade(t *testing.T) {
	is := is.New(t)

	c := newClip(t, loopConfig())
	c.Play()
	c.StopWithFade(time.Millisecond)
	c.Play()
	is.Equal(c.Voices(), 1) // still one loop voice

	render(c.Output(), 96)
	out := render(c.Output(), 96)
	is.True(c.IsPlaying())     // fade was cancelled
	is.Equal(out[95][0], 0.25) // back at full level
}

func TestClip_PlayCancelsLoopFadeMidway(t *testing.T) {
	is := is.New(t)

	c := newClip(t, loopConfig())
	c.Play()
	c.StopWithFade(time.Millisecond)
	render(c.Output(), 24) // halfway through the fade
	c.Play()

	out := render(c.Output(), 96)
	is.True(c.IsPlaying())     // fade was cancelled
	is.Equal(out[95][0], 0.25) // back at full level
}

// gatedSynth blocks until released and then returns bytes that do not decode.
type gatedSynth struct {
	release chan struct{}
}

func (s gatedSynth) Synthesize(ctx context.Context, _ string) (io.ReadCloser, string, error) {
	<-s.release
	return io.NopCloser(bytes.NewReader([]byte("not audio"))), ".wav", nil
}

func newLoader(t *testing.T) *asset.Loader {
	t.Helper()
	cfg := asset.DefaultConfig()
	cfg.SampleRate = testRate
	l, err := asset.NewLoader(cfg, nil, discard())
	if err != nil {
		t.Fatalf("NewLoader: %v", err)
	}
	return l
}

func TestClip_LoopRequestedBeforeBufferStartsOnArrival(t *testing.T) {
	is := is.New(t)

	synth := gatedSynth{release: make(chan struct{})}
	l := newLoader(t)
	h := l.Speak(context.Background(), synth, "pending")

	c, err := NewClip(h, loopConfig())
	is.NoErr(err)
	defer c.Dispose()

	c.Play()
	is.True(!c.IsPlaying()) // nothing to play yet
	is.True(c.pendingLoop)

	close(synth.release)
	l.Wait()
	<-h.Done()

	is.True(c.Loaded())
	is.True(!c.pendingLoop) // the request was consumed
	is.True(!c.IsPlaying()) // the decode failed, so the loop has nothing to play
}

func TestClip_DecodeAfterDisposeIsDiscarded(t *testing.T) {
	is := is.New(t)

	synth := gatedSynth{release: make(chan struct{})}
	l := newLoader(t)
	h := l.Speak(context.Background(), synth, "late")

	c, err := NewClip(h, loopConfig())
	is.NoErr(err)
	c.Play()
	c.Dispose()

	close(synth.release)
	l.Wait()
	<-h.Done()

	is.True(!c.Loaded())    // the late buffer never reached the clip
	is.True(!c.IsPlaying()) // and the queued loop did not start
}

func TestClip_FailedDecodePlaysSilence(t *testing.T) {
	is := is.New(t)

	l := newLoader(t)
	h := l.LoadBytes(context.Background(), "broken.wav", []byte("garbage"))
	l.Wait()
	is.True(h.Err() != nil)

	c, err := NewClip(h, DefaultClipConfig())
	is.NoErr(err)
	defer c.Dispose()

	c.Play() // must not panic
	c.PlayDelayed(time.Second)
	out := render(c.Output(), 64)
	is.Equal(pcm.Peak(out), 0.0)
	c.Stop()
}
