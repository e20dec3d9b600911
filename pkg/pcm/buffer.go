// Package pcm holds decoded audio in the form the mixer consumes: stereo
// float64 frames in the range [-1, 1] at a known sample rate.
package pcm

import (
	"fmt"
	"math"
	"time"
)

// DefaultSampleRate is used when no output device dictates a rate.
const DefaultSampleRate = 48000

// Buffer is a decoded, ready-to-play block of audio.
// Frames are stereo; mono sources are duplicated into both channels.
// A Buffer is immutable once handed to a sound source.
type Buffer struct {
	SampleRate int
	Frames     [][2]float64
}

// Silent returns a zero-length buffer. It is substituted for audio that failed to
// decode so that playback calls remain safe no-ops.
func Silent(sampleRate int) *Buffer {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	return &Buffer{SampleRate: sampleRate}
}

// NewBuffer wraps frames recorded at sampleRate.
func NewBuffer(sampleRate int, frames [][2]float64) (*Buffer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	return &Buffer{SampleRate: sampleRate, Frames: frames}, nil
}

// FromInterleaved converts interleaved float samples with the given channel count.
// Channels beyond the second are dropped; mono is duplicated.
func FromInterleaved(samples []float64, channels, sampleRate int) (*Buffer, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}

	n := len(samples) / channels
	frames := make([][2]float64, n)
	for i := 0; i < n; i++ {
		l := samples[i*channels]
		r := l
		if channels > 1 {
			r = samples[i*channels+1]
		}
		frames[i] = [2]float64{l, r}
	}

	return &Buffer{SampleRate: sampleRate, Frames: frames}, nil
}

// Len returns the number of frames.
func (b *Buffer) Len() int {
	if b == nil {
		return 0
	}
	return len(b.Frames)
}

// IsSilent reports whether the buffer holds no audio.
func (b *Buffer) IsSilent() bool {
	return b.Len() == 0
}

// Duration returns the playing time of the buffer at its own sample rate.
func (b *Buffer) Duration() time.Duration {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(b.Frames)) / float64(b.SampleRate) * float64(time.Second))
}

// Peak returns the largest absolute sample value.
func (b *Buffer) Peak() float64 {
	if b == nil {
		return 0
	}
	return Peak(b.Frames)
}

// Peak returns the largest absolute sample value in frames.
func Peak(frames [][2]float64) float64 {
	var peak float64
	for _, f := range frames {
		peak = math.Max(peak, math.Max(math.Abs(f[0]), math.Abs(f[1])))
	}
	return peak
}

// Bounds returns the index of the first frame and one past the last frame whose
// amplitude exceeds threshold. For all-quiet buffers it returns 0, 0.
func (b *Buffer) Bounds(threshold float64) (start, end int) {
	if b == nil {
		return 0, 0
	}

	loud := func(f [2]float64) bool {
		return math.Abs(f[0]) > threshold || math.Abs(f[1]) > threshold
	}

	start = -1
	for i, f := range b.Frames {
		if loud(f) {
			start = i
			break
		}
	}
	if start < 0 {
		return 0, 0
	}

	end = len(b.Frames)
	for i := len(b.Frames) - 1; i >= start; i-- {
		if loud(b.Frames[i]) {
			end = i + 1
			break
		}
	}
	return start, end
}

// Clear zeroes frames in place.
func Clear(frames [][2]float64) {
	for i := range frames {
		frames[i] = [2]float64{}
	}
}

// Clamp limits v to [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
