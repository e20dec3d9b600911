package plugin

import (
	"testing"
	"time"

	"github.com/matryer/is"
)

func TestOptions(t *testing.T) {
	is := is.New(t)

	cfg := map[string]any{
		"rate":   float64(44100),
		"frac":   1.5,
		"path":   "out.wav",
		"buffer": "40ms",
		"bad":    []int{1},
	}

	n, err := Int(cfg, "rate", 0)
	is.NoErr(err)
	is.Equal(n, 44100) // JSON numbers arrive as float64

	n, err = Int(cfg, "missing", 7)
	is.NoErr(err)
	is.Equal(n, 7)

	_, err = Int(cfg, "frac", 0)
	is.True(err != nil)

	s, err := String(cfg, "path", "")
	is.NoErr(err)
	is.Equal(s, "out.wav")

	_, err = String(cfg, "bad", "")
	is.True(err != nil)

	d, err := Duration(cfg, "buffer", 0)
	is.NoErr(err)
	is.Equal(d, 40*time.Millisecond)

	d, err = Duration(nil, "buffer", time.Second)
	is.NoErr(err)
	is.Equal(d, time.Second)
}
