package asset

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"

	"github.com/chriscow/soundmix/pkg/pcm"
	"github.com/chriscow/soundmix/pkg/plugin"
)

// WAVDecoder decodes RIFF/WAVE PCM with github.com/go-audio/wav.
type WAVDecoder struct{}

// Decode implements Decoder. The whole stream is buffered because the WAV
// decoder needs to seek.
func (WAVDecoder) Decode(r io.Reader) (*pcm.Buffer, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.New("not a valid wav file")
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, err
	}

	depth := int(dec.BitDepth)
	if buf.SourceBitDepth > 0 {
		depth = buf.SourceBitDepth
	}
	if depth <= 0 || depth > 32 {
		return nil, fmt.Errorf("unsupported bit depth %d", depth)
	}

	// 8-bit WAV is unsigned, everything wider is signed
	offset, scale := 0.0, float64(int64(1)<<(depth-1))
	if depth == 8 {
		offset = -128
		scale = 128
	}

	samples := make([]float64, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = (float64(v) + offset) / scale
	}

	return pcm.FromInterleaved(samples, int(dec.NumChans), int(dec.SampleRate))
}

// MP3Decoder decodes MPEG-1/2 layer III with github.com/hajimehoshi/go-mp3.
type MP3Decoder struct{}

// Decode implements Decoder. go-mp3 always produces 16-bit little-endian
// stereo, even for mono sources.
func (MP3Decoder) Decode(r io.Reader) (*pcm.Buffer, error) {
	dec, err := mp3.NewDecoder(r)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(dec)
	if err != nil {
		return nil, err
	}

	frames := make([][2]float64, len(data)/4)
	for i := range frames {
		l := int16(uint16(data[4*i]) | uint16(data[4*i+1])<<8)
		r := int16(uint16(data[4*i+2]) | uint16(data[4*i+3])<<8)
		frames[i] = [2]float64{pcm.Float64FromInt16(l), pcm.Float64FromInt16(r)}
	}

	return pcm.NewBuffer(dec.SampleRate(), frames)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindDecoder,
		Name:        "wav",
		Factory:     func(map[string]any) (any, error) { return Decoder(WAVDecoder{}), nil },
		Description: "RIFF/WAVE PCM decoder (go-audio/wav)",
		Extensions:  []string{".wav", ".wave"},
	})
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindDecoder,
		Name:        "mp3",
		Factory:     func(map[string]any) (any, error) { return Decoder(MP3Decoder{}), nil },
		Description: "MPEG layer III decoder (go-mp3)",
		Extensions:  []string{".mp3"},
	})
}
