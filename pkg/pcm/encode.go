package pcm

import (
	"encoding/binary"
	"math"
)

// BytesPerFrameFloat32 is the size of one stereo float32 frame.
const BytesPerFrameFloat32 = 8

// PutFloat32LE writes frames as interleaved little-endian float32 samples and
// returns the number of bytes written. dst must hold len(frames)*8 bytes.
func PutFloat32LE(dst []byte, frames [][2]float64) int {
	n := 0
	for _, f := range frames {
		binary.LittleEndian.PutUint32(dst[n:], math.Float32bits(float32(f[0])))
		binary.LittleEndian.PutUint32(dst[n+4:], math.Float32bits(float32(f[1])))
		n += BytesPerFrameFloat32
	}
	return n
}

// Int16 converts a sample in [-1, 1] to a signed 16-bit value with clipping.
func Int16(v float64) int16 {
	v = Clamp(v, -1, 1)
	if v < 0 {
		return int16(v * 32768)
	}
	return int16(v * 32767)
}

// Float64FromInt16 converts a signed 16-bit sample to [-1, 1].
func Float64FromInt16(v int16) float64 {
	if v < 0 {
		return float64(v) / 32768
	}
	return float64(v) / 32767
}

// AppendInts appends frames as interleaved integers scaled for bitDepth, the
// layout used by github.com/go-audio/audio IntBuffers.
func AppendInts(dst []int, frames [][2]float64, bitDepth int) []int {
	scale := float64(int(1)<<(bitDepth-1)) - 1
	for _, f := range frames {
		dst = append(dst,
			int(math.Round(Clamp(f[0], -1, 1)*scale)),
			int(math.Round(Clamp(f[1], -1, 1)*scale)))
	}
	return dst
}
