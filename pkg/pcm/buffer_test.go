package pcm

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestSilent(t *testing.T) {
	is := is.New(t)

	b := Silent(0)
	is.Equal(b.SampleRate, DefaultSampleRate) // zero rate falls back to the default
	is.True(b.IsSilent())
	is.Equal(b.Duration(), time.Duration(0))

	var nilBuf *Buffer
	is.Equal(nilBuf.Len(), 0) // nil buffers are treated as silence
}

func TestFromInterleaved(t *testing.T) {
	tests := []struct {
		name     string
		samples  []float64
		channels int
		want     [][2]float64
	}{
		{"mono duplicated", []float64{0.5, -0.5}, 1, [][2]float64{{0.5, 0.5}, {-0.5, -0.5}}},
		{"stereo", []float64{0.1, 0.2, 0.3, 0.4}, 2, [][2]float64{{0.1, 0.2}, {0.3, 0.4}}},
		{"extra channels dropped", []float64{0.1, 0.2, 0.9, 0.3, 0.4, 0.9}, 3, [][2]float64{{0.1, 0.2}, {0.3, 0.4}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := FromInterleaved(tt.samples, tt.channels, 8000)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(b.Frames) != len(tt.want) {
				t.Fatalf("expected %d frames, got %d", len(tt.want), len(b.Frames))
			}
			for i := range tt.want {
				if b.Frames[i] != tt.want[i] {
					t.Errorf("frame %d: expected %v, got %v", i, tt.want[i], b.Frames[i])
				}
			}
		})
	}

	if _, err := FromInterleaved(nil, 0, 8000); err == nil {
		t.Error("expected error for zero channels")
	}
}

func TestBuffer_DurationAndPeak(t *testing.T) {
	is := is.New(t)

	frames := make([][2]float64, 4800)
	frames[100] = [2]float64{-0.75, 0.25}
	b, err := NewBuffer(48000, frames)
	is.NoErr(err)

	is.Equal(b.Duration(), 100*time.Millisecond)
	is.Equal(b.Peak(), 0.75)
}

func TestBuffer_Bounds(t *testing.T) {
	is := is.New(t)

	frames := make([][2]float64, 10)
	frames[3] = [2]float64{0.2, 0}
	frames[6] = [2]float64{0, -0.3}
	b := &Buffer{SampleRate: 10, Frames: frames}

	start, end := b.Bounds(0.01)
	is.Equal(start, 3)
	is.Equal(end, 7)

	start, end = Silent(10).Bounds(0.01)
	is.Equal(start, 0)
	is.Equal(end, 0)
}

func TestPutFloat32LE(t *testing.T) {
	is := is.New(t)

	dst := make([]byte, 16)
	n := PutFloat32LE(dst, [][2]float64{{0.5, -0.25}, {1, 0}})
	is.Equal(n, 16)
	is.Equal(math.Float32frombits(binary.LittleEndian.Uint32(dst[0:])), float32(0.5))
	is.Equal(math.Float32frombits(binary.LittleEndian.Uint32(dst[4:])), float32(-0.25))
	is.Equal(math.Float32frombits(binary.LittleEndian.Uint32(dst[8:])), float32(1))
}

func TestInt16Conversions(t *testing.T) {
	is := is.New(t)

	is.Equal(Int16(1), int16(32767))
	is.Equal(Int16(-1), int16(-32768))
	is.Equal(Int16(2), int16(32767)) // clipped
	is.Equal(Float64FromInt16(-32768), -1.0)
	is.Equal(Float64FromInt16(32767), 1.0)

	ints := AppendInts(nil, [][2]float64{{1, -1}}, 16)
	is.Equal(ints, []int{32767, -32767})
}
