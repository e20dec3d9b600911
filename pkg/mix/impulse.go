package mix

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/chriscow/soundmix/pkg/pcm"
)

// ReverbConfig configures the reverb return path.
type ReverbConfig struct {
	// BlockSize is the convolution partition size in frames (power of two).
	BlockSize int `yaml:"block_size"`
	// Duration is the length of the generated impulse response. The tail decays
	// by 60 dB over this time.
	Duration time.Duration `yaml:"duration"`
	// Seed makes the generated impulse response reproducible.
	Seed uint64 `yaml:"seed"`
	// ImpulseFile optionally names a WAV or MP3 impulse response to use instead
	// of the generated one.
	ImpulseFile string `yaml:"impulse_file"`
}

// DefaultReverbConfig returns a short room reverb.
func DefaultReverbConfig() ReverbConfig {
	return ReverbConfig{
		BlockSize: 512,
		Duration:  2 * time.Second,
		Seed:      1,
	}
}

// Validate checks the configuration.
func (c ReverbConfig) Validate() error {
	if c.BlockSize < 2 || c.BlockSize&(c.BlockSize-1) != 0 {
		return fmt.Errorf("reverb block size must be a power of two, got %d", c.BlockSize)
	}
	if c.Duration <= 0 && c.ImpulseFile == "" {
		return fmt.Errorf("reverb duration must be positive")
	}
	return nil
}

// GenerateImpulse builds a stereo impulse response of exponentially decaying
// noise. Each channel uses independent noise so the tail is decorrelated, and
// each is scaled to unit energy.
func GenerateImpulse(cfg ReverbConfig, sampleRate int) *pcm.Buffer {
	n := FramesFor(cfg.Duration, sampleRate)
	if n <= 0 {
		return pcm.Silent(sampleRate)
	}

	rng := rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15))
	frames := make([][2]float64, n)

	// -60 dB at the end of the buffer
	decay := math.Log(1000) / float64(n)
	var energy [2]float64
	for i := range frames {
		env := math.Exp(-decay * float64(i))
		for ch := 0; ch < 2; ch++ {
			v := (rng.Float64()*2 - 1) * env
			frames[i][ch] = v
			energy[ch] += v * v
		}
	}

	for ch := 0; ch < 2; ch++ {
		if energy[ch] == 0 {
			continue
		}
		scale := 1 / math.Sqrt(energy[ch])
		for i := range frames {
			frames[i][ch] *= scale
		}
	}

	return &pcm.Buffer{SampleRate: sampleRate, Frames: frames}
}
