package wavfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/matryer/is"

	"github.com/chriscow/soundmix/pkg/output"
)

type half struct{}

func (half) Render(dst [][2]float64) {
	for i := range dst {
		dst[i] = [2]float64{0.5, -0.5}
	}
}

func TestCapture(t *testing.T) {
	is := is.New(t)

	path := filepath.Join(t.TempDir(), "out.wav")
	d, err := Create(path, 8000)
	is.NoErr(err)

	is.NoErr(d.Start(half{}))
	is.Equal(d.State(), output.Running)
	is.NoErr(d.Capture(250 * time.Millisecond))
	is.Equal(d.Written(), 2000)
	is.NoErr(d.Close())
	is.Equal(d.State(), output.Closed)

	f, err := os.Open(path)
	is.NoErr(err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	is.True(dec.IsValidFile())
	is.Equal(int(dec.SampleRate), 8000)
	is.Equal(int(dec.NumChans), 2)

	buf, err := dec.FullPCMBuffer()
	is.NoErr(err)
	is.Equal(len(buf.Data), 4000)
	is.Equal(buf.Data[0], 16384)  // 0.5 of full scale
	is.Equal(buf.Data[1], -16384) // right channel inverted
}

func TestCapture_SuspendedWritesSilence(t *testing.T) {
	is := is.New(t)

	path := filepath.Join(t.TempDir(), "quiet.wav")
	d, err := Create(path, 8000)
	is.NoErr(err)
	is.NoErr(d.Start(half{}))
	is.NoErr(d.Suspend())
	is.NoErr(d.Capture(10 * time.Millisecond))
	is.NoErr(d.Close())

	f, err := os.Open(path)
	is.NoErr(err)
	defer f.Close()

	buf, err := wav.NewDecoder(f).FullPCMBuffer()
	is.NoErr(err)
	for _, v := range buf.Data {
		is.Equal(v, 0) // suspended device captures silence
	}

	is.True(d.Capture(time.Millisecond) != nil) // closed devices refuse to capture
}
