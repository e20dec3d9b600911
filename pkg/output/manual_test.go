package output

import (
	"testing"

	"github.com/matryer/is"
)

type fill struct{ v float64 }

func (f *fill) Render(dst [][2]float64) {
	for i := range dst {
		dst[i] = [2]float64{f.v, f.v}
	}
}

func TestManual_Lifecycle(t *testing.T) {
	is := is.New(t)

	d := NewManual(8000)
	is.Equal(d.State(), Suspended)
	is.Equal(d.Pull(2), [][2]float64{{0, 0}, {0, 0}}) // not started

	var seen []State
	sub := d.OnStateChange(func(s State) { seen = append(seen, s) })
	defer sub.Release()

	is.NoErr(d.Start(&fill{v: 0.5}))
	is.True(d.Start(&fill{}) != nil) // second start is rejected
	is.Equal(d.Pull(1)[0], [2]float64{0.5, 0.5})

	d.SetState(Interrupted)
	is.Equal(d.Pull(1)[0], [2]float64{}) // interrupted devices do not render

	is.NoErr(d.Resume())
	is.Equal(d.ResumeCalls(), 1)
	is.Equal(seen, []State{Running, Interrupted, Running})
}

func TestManual_RefuseResume(t *testing.T) {
	is := is.New(t)

	d := NewManual(8000)
	d.RefuseResume(true)
	is.NoErr(d.Start(&fill{}))
	is.Equal(d.State(), Suspended) // start cannot run until resumes are allowed

	is.Equal(d.Resume(), ErrResumeRefused)
	d.RefuseResume(false)
	is.NoErr(d.Resume())
	is.Equal(d.State(), Running)

	is.NoErr(d.Close())
	is.True(d.Resume() != nil) // closed devices stay closed
}

func TestState_String(t *testing.T) {
	is := is.New(t)
	is.Equal(Running.String(), "running")
	is.Equal(State(9).String(), "state(9)")
}
