package asset

import (
	"github.com/gopxl/beep/v2"

	"github.com/chriscow/soundmix/pkg/pcm"
)

// streamer plays a pcm buffer as a beep.Streamer.
type streamer struct {
	frames [][2]float64
	pos    int
}

func (s *streamer) Stream(samples [][2]float64) (int, bool) {
	if s.pos >= len(s.frames) {
		return 0, false
	}
	n := copy(samples, s.frames[s.pos:])
	s.pos += n
	return n, true
}

func (s *streamer) Err() error { return nil }

// Resample converts b to rate using beep's resampler. Buffers already at rate,
// and silent buffers, are returned with only the rate adjusted.
func Resample(b *pcm.Buffer, rate, quality int) (*pcm.Buffer, error) {
	if b.SampleRate == rate {
		return b, nil
	}
	if b.IsSilent() {
		return pcm.Silent(rate), nil
	}

	format := beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: 2, Precision: 2}
	out := beep.NewBuffer(format)
	out.Append(beep.Resample(quality, beep.SampleRate(b.SampleRate), format.SampleRate, &streamer{frames: b.Frames}))

	frames := make([][2]float64, out.Len())
	s := out.Streamer(0, out.Len())
	for filled := 0; filled < len(frames); {
		n, ok := s.Stream(frames[filled:])
		if !ok {
			frames = frames[:filled]
			break
		}
		filled += n
	}
	if err := s.Err(); err != nil {
		return nil, err
	}

	return pcm.NewBuffer(rate, frames)
}
