package sound

import (
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/soundmix/pkg/gate"
	"github.com/chriscow/soundmix/pkg/output"
	"github.com/chriscow/soundmix/pkg/tier"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig has no ramps and no reverb so levels can be checked exactly.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ReverbLevel = 0
	cfg.RampTime = 0
	cfg.EnableRampTime = 0
	cfg.MeterPeriod = 10 * time.Millisecond
	cfg.Reverb.Duration = 10 * time.Millisecond
	return cfg
}

func initialize(t *testing.T, m *Manager, cfg Config) *output.Manual {
	t.Helper()
	dev := output.NewManual(testRate)
	if err := m.Initialize(nil, nil, dev, cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { m.Close() })
	return dev
}

func mustPanic(t *testing.T, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic")
		}
	}()
	fn()
}

func near(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestManager_InitializeOnce(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	is.Equal(m.State(), Uninitialized)
	initialize(t, m, testConfig())
	is.Equal(m.State(), Initialized)
	is.Equal(m.Categories(), []string{CategorySimSpecific, CategoryUserInterface})

	err := m.Initialize(nil, nil, output.NewManual(testRate), testConfig())
	is.True(errors.Is(err, ErrAlreadyInitialized))

	bad := testConfig()
	bad.MasterVolume = 2
	err = m.Initialize(nil, nil, nil, bad)
	is.True(errors.Is(err, ErrAlreadyInitialized)) // reported before the arguments are checked
	is.True(!errors.Is(err, ErrConfig))

	strict := testConfig()
	strict.Strict = true
	mustPanic(t, func() { m.Initialize(nil, nil, output.NewManual(testRate), strict) })
}

func TestManager_InitializeRejectsBadConfig(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	cfg := testConfig()
	cfg.MasterVolume = 2
	err := m.Initialize(nil, nil, output.NewManual(testRate), cfg)
	is.True(errors.Is(err, ErrConfig))
	is.Equal(m.State(), Uninitialized) // a failed call does not consume initialization

	is.True(errors.Is(m.Initialize(nil, nil, nil, testConfig()), ErrConfig))
}

func TestManager_PendingRegistrationsReplayInOrder(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	hidden := gate.Const(false)

	var order []string
	clips := map[string]*Clip{}
	for _, name := range []string{"a", "b", "c"} {
		c := newClip(t, DefaultClipConfig())
		clips[name] = c
		c.Enabled().OnChange(func() { order = append(order, name) })
		is.NoErr(m.Register(c, RegisterOptions{Category: CategoryUserInterface, Visibility: hidden}))
		is.True(m.HasSource(c)) // queued registrations count
	}
	is.Equal(m.Sources(), 0) // nothing connected yet
	is.Equal(m.Status().Pending, 3)

	initialize(t, m, testConfig())

	is.Equal(order, []string{"a", "b", "c"}) // connected in registration order
	is.Equal(m.Sources(), 3)
	is.Equal(m.Status().Pending, 0)
	bus, ok := m.Bus(CategoryUserInterface)
	is.True(ok)
	is.Equal(bus.Sources(), 3)

	late := newClip(t, DefaultClipConfig())
	is.NoErr(m.Register(late, RegisterOptions{Category: CategoryUserInterface, Visibility: hidden}))
	for _, c := range clips {
		is.Equal(c.GateCount(), late.GateCount()) // same gating as a late registration
		is.Equal(c.IsEnabled(), late.IsEnabled())
	}
}

func TestManager_DuplicateRegistration(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	c := newClip(t, DefaultClipConfig())
	is.NoErr(m.Register(c, RegisterOptions{}))
	is.True(errors.Is(m.Register(c, RegisterOptions{}), ErrAlreadyRegistered)) // while queued

	initialize(t, m, testConfig())
	is.True(errors.Is(m.Register(c, RegisterOptions{}), ErrAlreadyRegistered)) // and once connected
	is.Equal(m.direct.Len(), 1)                                                // a single connection
	is.Equal(c.GateCount(), 1)

	strict := NewManager(discard())
	cfg := testConfig()
	cfg.Strict = true
	initialize(t, strict, cfg)
	s := newClip(t, DefaultClipConfig())
	is.NoErr(strict.Register(s, RegisterOptions{}))
	mustPanic(t, func() { strict.Register(s, RegisterOptions{}) })
}

func TestManager_RegisterUnknownCategory(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	initialize(t, m, testConfig())

	c := newClip(t, DefaultClipConfig())
	err := m.Register(c, RegisterOptions{Category: "nope"})
	is.True(errors.Is(err, ErrUnknownCategory))
	is.True(!m.HasSource(c))
}

func TestManager_Unregister(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	visible := gate.NewProperty(true)
	initialize(t, m, testConfig())

	c := newClip(t, DefaultClipConfig())
	is.NoErr(m.Register(c, RegisterOptions{Tier: tier.Extra, Category: CategorySimSpecific, Visibility: visible}))
	bus, _ := m.Bus(CategorySimSpecific)
	is.Equal(bus.Sources(), 1)
	is.Equal(c.GateCount(), 3) // audible, tier and visibility
	is.Equal(visible.Listeners(), 1)

	is.NoErr(m.Unregister(c))
	is.True(!m.HasSource(c))
	is.Equal(bus.Sources(), 0)       // disconnected from its bus
	is.Equal(c.GateCount(), 0)       // gates detached
	is.Equal(visible.Listeners(), 0) // and their subscriptions released

	is.True(errors.Is(m.Unregister(c), ErrNotRegistered))
	is.True(errors.Is(m.Unregister(newClip(t, DefaultClipConfig())), ErrNotRegistered))
}

func TestManager_UnregisterBeforeInitialize(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	c := newClip(t, DefaultClipConfig())
	is.NoErr(m.Register(c, RegisterOptions{}))

	err := m.Unregister(c)
	is.True(errors.Is(err, ErrNotInitialized)) // reported, not fatal
	is.True(!IsUsage(err))

	is.True(m.HasSource(c)) // the call is ignored
	is.Equal(m.Status().Pending, 1)

	initialize(t, m, testConfig())
	is.True(m.HasSource(c)) // the queued registration was replayed
	is.Equal(m.Sources(), 1)
	is.NoErr(m.Unregister(c))
}

func TestManager_DisposedBeforeInitializeIsNotConnected(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	c := newClip(t, DefaultClipConfig())
	is.NoErr(m.Register(c, RegisterOptions{}))
	c.Dispose()

	initialize(t, m, testConfig())
	is.True(!m.HasSource(c))
	is.Equal(m.Sources(), 0)
}

func TestManager_SettersBeforeInitialize(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	is.True(errors.Is(m.SetMasterVolume(0.5), ErrNotInitialized))
	is.True(errors.Is(m.SetCategoryVolume(CategorySimSpecific, 0.5), ErrNotInitialized))
	is.True(errors.Is(m.SetReverbLevel(0.5), ErrNotInitialized))
	is.Equal(m.MasterVolume(), 1.0)

	// plain properties work at any time
	m.SetEnabled(false)
	is.True(!m.IsEnabled())
	is.NoErr(m.SetTier(tier.Extra))
	is.Equal(m.Tier(), tier.Extra)
	is.True(m.Peaks() == nil)
	is.True(!m.Audible().Value())
}

func TestManager_SettersClamp(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	initialize(t, m, testConfig())

	is.NoErr(m.SetMasterVolume(1.5))
	is.Equal(m.MasterVolume(), 1.0)
	is.NoErr(m.SetMasterVolume(-2))
	is.Equal(m.MasterVolume(), 0.0)
	is.NoErr(m.SetMasterVolume(math.NaN()))
	is.Equal(m.MasterVolume(), 0.0)

	is.NoErr(m.SetCategoryVolume(CategoryUserInterface, 7))
	v, err := m.CategoryVolume(CategoryUserInterface)
	is.NoErr(err)
	is.Equal(v, 1.0)
	is.True(errors.Is(m.SetCategoryVolume("nope", 0.5), ErrUnknownCategory))
	_, err = m.CategoryVolume("nope")
	is.True(errors.Is(err, ErrUnknownCategory))

	for _, r := range []float64{-1, 0, 0.3, 0.75, 1, 3} {
		is.NoErr(m.SetReverbLevel(r))
		is.True(near(m.ReverbLevel()+m.DryLevel(), 1)) // dry is always 1 - reverb
		is.True(m.ReverbLevel() >= 0 && m.ReverbLevel() <= 1)
	}
}

func TestManager_StrictOutOfRangePanics(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	cfg := testConfig()
	cfg.Strict = true
	initialize(t, m, cfg)

	is.NoErr(m.SetMasterVolume(0.5))
	mustPanic(t, func() { m.SetMasterVolume(2) })
	mustPanic(t, func() { m.SetReverbLevel(-1) })
	is.Equal(m.MasterVolume(), 0.5) // the manager stays usable
	is.NoErr(m.SetReverbLevel(0.1))
}

func TestManager_ExtraTierScenario(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	a := newClip(t, loopConfig())
	is.NoErr(m.Register(a, RegisterOptions{Tier: tier.Extra}))
	is.True(a.IsEnabled()) // no gates until initialization

	cfg := testConfig()
	cfg.Tier = tier.Basic
	initialize(t, m, cfg)
	is.True(!a.IsEnabled()) // the tier gate blocks it

	a.Play()
	is.True(!a.IsPlaying())

	is.NoErr(m.SetTier(tier.Extra))
	is.True(a.IsEnabled())
	a.Play()
	is.True(a.IsPlaying())

	is.NoErr(m.SetTier(tier.Basic))
	is.True(!a.IsPlaying()) // loops stop when the tier drops

	basic := newClip(t, DefaultClipConfig())
	is.NoErr(m.Register(basic, RegisterOptions{Tier: tier.Basic}))
	is.True(basic.IsEnabled()) // basic sources ignore the tier
	is.Equal(basic.GateCount(), 1)
}

func TestManager_TierSetBeforeInitializeWins(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	is.NoErr(m.SetTier(tier.Extra))
	cfg := testConfig()
	cfg.Tier = tier.Basic
	initialize(t, m, cfg)
	is.Equal(m.Tier(), tier.Extra)
}

func TestManager_AudibleGate(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	visible := gate.NewProperty(true)
	active := gate.NewProperty(true)
	dev := output.NewManual(testRate)
	is.NoErr(m.Initialize(visible, active, dev, testConfig()))
	defer m.Close()

	c := newClip(t, DefaultClipConfig())
	is.NoErr(m.Register(c, RegisterOptions{}))
	is.True(c.IsEnabled())

	visible.Set(false)
	is.True(!c.IsEnabled())
	is.True(!m.Audible().Value())
	visible.Set(true)
	active.Set(false)
	is.True(!c.IsEnabled())
	active.Set(true)
	m.SetEnabled(false)
	is.True(!c.IsEnabled())
	m.SetEnabled(true)
	is.True(c.IsEnabled())
	is.True(m.Status().Audible)
}

func TestManager_AudibleGainFollowsConcurrentToggles(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	visible := gate.NewProperty(true)
	is.NoErr(m.Initialize(visible, nil, output.NewManual(testRate), testConfig()))
	defer m.Close()

	var wg sync.WaitGroup
	toggle := func(set func(bool)) {
		defer wg.Done()
		for i := range 500 {
			set(i%2 == 1) // ends true
		}
	}
	wg.Add(2)
	go toggle(m.SetEnabled)
	go toggle(visible.Set)
	wg.Wait()

	is.True(m.Audible().Value())
	is.Equal(m.audibleGain.Gain(), 1.0) // gain matches the final audible value
}

func TestManager_RendersThroughBuses(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	dev := initialize(t, m, testConfig())

	c := newClip(t, DefaultClipConfig())
	is.NoErr(m.Register(c, RegisterOptions{Category: CategoryUserInterface}))

	out := dev.Pull(64)
	is.Equal(out[10][0], 0.0) // nothing playing

	c.Play()
	out = dev.Pull(64)
	is.True(near(out[10][0], 0.25))
	is.True(near(out[10][1], 0.25))

	is.NoErr(m.SetCategoryVolume(CategoryUserInterface, 0.5))
	out = dev.Pull(64)
	is.True(near(out[10][0], 0.125))

	is.NoErr(m.SetMasterVolume(0.5))
	out = dev.Pull(64)
	is.True(near(out[10][0], 0.0625))

	m.SetEnabled(false)
	out = dev.Pull(64)
	is.Equal(out[10][0], 0.0) // master mute
}

func TestManager_DisabledOneShotIsSilent(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	dev := initialize(t, m, testConfig())

	c := newClip(t, DefaultClipConfig())
	is.NoErr(m.Register(c, RegisterOptions{}))
	c.SetLocalEnabled(false)

	c.Play() // no error, no sound
	is.Equal(c.Voices(), 0)
	out := dev.Pull(64)
	is.Equal(out[10][0], 0.0)
}

func TestManager_RecoversSuspendedDevice(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	dev := initialize(t, m, testConfig())
	is.Equal(dev.State(), output.Running)
	is.Equal(dev.Listeners(), 1) // only the permanent watcher

	dev.SetState(output.Suspended)

	is.Equal(dev.State(), output.Running) // resumed right away
	is.Equal(dev.ResumeCalls(), 1)
	is.True(!m.Recovering())
	is.Equal(dev.Listeners(), 1) // the attempt released its listener

	dev.SetState(output.Interrupted)
	is.Equal(dev.State(), output.Running) // and recovers again next time
	is.Equal(dev.ResumeCalls(), 2)
}

func TestManager_RecoveryWaitsForGesture(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	dev := output.NewManual(testRate)
	dev.RefuseResume(true) // like a platform that needs a user gesture
	is.NoErr(m.Initialize(nil, nil, dev, testConfig()))
	defer m.Close()

	is.Equal(dev.State(), output.Suspended)
	is.True(m.Recovering())
	is.Equal(dev.ResumeCalls(), 1)
	is.Equal(dev.Listeners(), 2) // watcher and attempt

	dev.SetState(output.Interrupted)
	is.Equal(dev.ResumeCalls(), 2) // state changes retry

	dev.RefuseResume(false)
	m.NotifyUserGesture()
	is.Equal(dev.State(), output.Running)
	is.True(!m.Recovering())
	is.Equal(dev.Listeners(), 1)

	m.NotifyUserGesture() // nothing to do
	is.Equal(dev.ResumeCalls(), 3)
}

func TestManager_Peaks(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	dev := initialize(t, m, testConfig())

	c := newClip(t, loopConfig())
	is.NoErr(m.Register(c, RegisterOptions{}))
	c.Play()
	dev.Pull(960) // two 10ms windows

	peaks := m.Peaks()
	for i := 0; i < 2; i++ {
		select {
		case p := <-peaks:
			is.True(near(p.Left, 0.25))
			is.Equal(p.Frame, uint64(480*(i+1)))
		default:
			t.Fatalf("missing snapshot %d", i)
		}
	}
}

func TestManager_StatusAndClose(t *testing.T) {
	is := is.New(t)

	m := NewManager(discard())
	dev := output.NewManual(testRate)
	is.NoErr(m.Initialize(nil, nil, dev, testConfig()))
	is.NoErr(m.Register(newClip(t, DefaultClipConfig()), RegisterOptions{}))

	s := m.Status()
	is.Equal(s.State, Initialized)
	is.Equal(s.Sources, 1)
	is.Equal(s.Device, "running")
	is.Equal(s.Categories[CategorySimSpecific], 1.0)

	is.NoErr(m.Close())
	is.NoErr(m.Close()) // idempotent
	is.Equal(dev.State(), output.Closed)
	is.Equal(dev.Listeners(), 0)
}
