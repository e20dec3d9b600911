package sound

import (
	"errors"
	"math"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/soundmix/pkg/asset"
)

func TestSharedPlayers(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	initialize(t, m, testConfig())

	shared := NewSharedPlayers(m)
	h := asset.Ready("click", constBuffer(t, 0.1, 100))
	is.NoErr(shared.Define("click", h, DefaultClipConfig(), RegisterOptions{Category: CategoryUserInterface}))
	is.True(errors.Is(shared.Define("click", h, DefaultClipConfig(), RegisterOptions{}), ErrAlreadyRegistered))

	bad := DefaultClipConfig()
	bad.TrimSilence = true
	is.True(errors.Is(shared.Define("broken", h, bad, RegisterOptions{}), ErrConfig))

	is.Equal(m.Sources(), 0) // nothing is created until it is used

	p := shared.Get("click")
	is.True(p != NoSound)
	is.True(shared.Get("click") == p) // the same player every time
	is.Equal(m.Sources(), 1)

	is.True(shared.Get("missing") == NoSound)
	shared.Get("missing").Play() // always safe

	shared.Dispose()
	is.Equal(m.Sources(), 0)
	is.True(p.(*Clip).Disposed())
}

func TestSharedPlayers_UnknownCategory(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	initialize(t, m, testConfig())

	shared := NewSharedPlayers(m)
	is.NoErr(shared.Define("x", asset.Ready("x", constBuffer(t, 0.1, 10)), DefaultClipConfig(), RegisterOptions{Category: "nope"}))
	is.True(shared.Get("x") == NoSound) // registration failed
}

func TestSelectionRate(t *testing.T) {
	is := is.New(t)

	is.Equal(SelectionRate(0), 1.0)
	is.True(math.Abs(SelectionRate(6)-2) < 1e-12)   // six whole steps make an octave
	is.True(math.Abs(SelectionRate(-6)-0.5) < 1e-12) // and down
}

func TestMultiSelection(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	initialize(t, m, testConfig())

	sel := NewMultiSelection(m, asset.Ready("pick", constBuffer(t, 0.1, 100)), RegisterOptions{}, 0.7)
	p0 := sel.Player(0)
	p3 := sel.Player(3)
	is.True(sel.Player(3) == p3)
	is.Equal(m.Sources(), 2)

	is.Equal(p0.(*Clip).PlaybackRate(), 1.0)
	is.Equal(p3.(*Clip).PlaybackRate(), SelectionRate(3))
	is.Equal(p3.(*Clip).OutputLevel(), 0.7)

	sel.Dispose()
	is.Equal(m.Sources(), 0)
}
