// Package sound routes, gates and mixes the sound sources of a simulation.
//
// A Manager owns one output graph:
//
//	[bus | direct] -> fanout -> dry sum ---------> dry gain (1-r) --+
//	                        \-> reverb convolver -> wet gain (r) ----+-> master -> audible -> limiter -> meter -> device
//
// Sources (Clip, Tone) are registered with the manager, which connects them to
// a category bus and attaches the gates that decide whether they are heard.
// Registrations made before Initialize are queued and replayed in order.
package sound

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chriscow/soundmix/pkg/asset"
	"github.com/chriscow/soundmix/pkg/gate"
	"github.com/chriscow/soundmix/pkg/mix"
	"github.com/chriscow/soundmix/pkg/output"
	"github.com/chriscow/soundmix/pkg/pcm"
	"github.com/chriscow/soundmix/pkg/tier"
)

// State is the initialization state of a Manager. It only moves forward.
type State int32

const (
	Uninitialized State = iota
	Initializing
	Initialized
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Initializing:
		return "initializing"
	case Initialized:
		return "initialized"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for _, v := range []State{Uninitialized, Initializing, Initialized} {
		if string(b) == v.String() {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown manager state %q", b)
}

// RegisterOptions describe how a source is connected and gated.
type RegisterOptions struct {
	// Tier is the sonification tier of the source. Extra sources are only heard
	// while the manager's tier is Extra.
	Tier tier.Level

	// Category names the bus to connect to. Empty connects the source directly
	// to the dry and reverb paths.
	Category string

	// Visibility is an optional gate, typically true while the view that owns
	// the sound is displayed.
	Visibility gate.Gate
}

type pendingRegistration struct {
	g    Generator
	opts RegisterOptions
}

type registration struct {
	// mu serializes connecting and disconnecting one source.
	mu     sync.Mutex
	g      Generator
	target *mix.Sum
	gates  []gate.Gate
	ramp   time.Duration
}

// Manager is the process-wide mixing context. Create one at startup with
// NewManager and pass it to everything that makes sound.
//
// Listeners on gates and on a source's Enabled gate run synchronously and must
// not call back into the Manager.
type Manager struct {
	logger *slog.Logger

	enabled *gate.Property[bool]
	policy  *tier.Policy
	extra   *gate.Derived[bool]

	mu       sync.Mutex
	state    State
	cfg      Config
	tierSet  bool
	closed   bool
	pending  []pendingRegistration
	sources  map[Generator]*registration
	buses    map[string]*Bus
	busOrder []string
	subs     []*gate.Subscription

	direct      *mix.Sum
	reverb      *mix.Convolver
	wet         *mix.Gain
	dry         *mix.Gain
	master      *mix.Gain
	audibleGain *mix.Gain
	limiter     *mix.Limiter
	meter       *mix.Meter
	audible     *gate.Derived[bool]
	dev         output.Device

	rate  int
	out   atomic.Pointer[mix.Meter]
	frame atomic.Uint64

	rec recovery
}

var _ output.Renderer = (*Manager)(nil)

// NewManager creates an uninitialized manager. A nil logger uses slog.Default.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "sound")

	policy := tier.NewPolicy(tier.Basic)
	m := &Manager{
		logger:  logger,
		enabled: gate.NewProperty(true),
		policy:  policy,
		extra:   policy.Gate(tier.Extra),
		cfg:     DefaultConfig(),
		sources: make(map[Generator]*registration),
		buses:   make(map[string]*Bus),
	}
	m.rec.logger = logger
	return m
}

// usage logs a usage error and returns it. In strict mode it panics instead.
func (m *Manager) usage(strict bool, err error) error {
	m.logger.Error("sound usage error", "error", err)
	if strict {
		panic(err)
	}
	return err
}

func (m *Manager) notInitialized(op string) error {
	m.logger.Warn("sound manager not initialized", "op", op)
	return ErrNotInitialized
}

// level clamps v to [0, 1]. Out of range values are usage errors in strict
// mode and are clamped quietly otherwise.
func (m *Manager) level(op string, v float64, strict bool) float64 {
	if inUnit(v) {
		return v
	}
	if strict {
		m.usage(true, fmt.Errorf("%w: %s %g", ErrOutOfRange, op, v))
	}
	m.logger.Debug("clamping level", "op", op, "level", v)
	return clampUnit(v)
}

func unitBool(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// State returns the initialization state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Initialize builds the output graph, connects every queued source and starts
// dev. visible and active are the simulation-wide gate inputs; nil means
// always true. It may only be called once.
func (m *Manager) Initialize(visible, active gate.Gate, dev output.Device, cfg Config) error {
	m.mu.Lock()
	if m.state != Uninitialized {
		strict := m.cfg.Strict || cfg.Strict
		m.mu.Unlock()
		return m.usage(strict, ErrAlreadyInitialized)
	}
	m.mu.Unlock()

	if dev == nil {
		return m.usage(cfg.Strict, fmt.Errorf("%w: nil output device", ErrConfig))
	}
	if err := cfg.Validate(); err != nil {
		return m.usage(cfg.Strict, err)
	}
	if visible == nil {
		visible = gate.Const(true)
	}
	if active == nil {
		active = gate.Const(true)
	}

	// Checked again: another caller may have initialized meanwhile.
	m.mu.Lock()
	if m.state != Uninitialized {
		strict := m.cfg.Strict || cfg.Strict
		m.mu.Unlock()
		return m.usage(strict, ErrAlreadyInitialized)
	}
	if err := m.buildLocked(visible, active, dev, cfg); err != nil {
		m.mu.Unlock()
		return m.usage(cfg.Strict, err)
	}
	m.state = Initializing
	m.cfg = cfg
	applyTier := !m.tierSet
	audible, audibleGain := m.audible, m.audibleGain
	m.mu.Unlock()

	m.logger.Info("initializing sound manager",
		"sample_rate", dev.SampleRate(),
		"categories", cfg.Categories,
		"tier", cfg.Tier,
	)

	// Notifications from different goroutines may arrive out of order, so the
	// gain follows the current value rather than the notified one.
	var audibleMu sync.Mutex
	m.track(audible.OnChange(func() {
		audibleMu.Lock()
		defer audibleMu.Unlock()
		audibleGain.SetGain(unitBool(audible.Value()), cfg.EnableRampTime)
	}))

	if applyTier {
		m.policy.SetLevel(cfg.Tier)
	}
	if cfg.Reverb.ImpulseFile != "" {
		m.loadImpulse(cfg.Reverb.ImpulseFile, dev.SampleRate())
	}

	// Replay queued registrations. Registrations arriving meanwhile are
	// appended to the queue and replayed here too.
	replayed := 0
	for {
		m.mu.Lock()
		if len(m.pending) == 0 {
			m.state = Initialized
			m.mu.Unlock()
			break
		}
		p := m.pending[0]
		m.pending = m.pending[1:]
		if p.g.base().Disposed() {
			m.mu.Unlock()
			continue
		}
		reg, err := m.addLocked(p.g, p.opts)
		if reg != nil {
			reg.mu.Lock()
		}
		m.mu.Unlock()

		if err != nil {
			m.logger.Error("dropping queued sound source", "error", err)
			continue
		}
		m.connect(reg)
		reg.mu.Unlock()
		replayed++
	}
	if replayed > 0 {
		m.logger.Debug("connected queued sound sources", "count", replayed)
	}

	if err := dev.Start(m); err != nil {
		m.logger.Warn("audio output did not start", "error", err)
	}
	m.rec.watch(dev)
	return nil
}

func (m *Manager) buildLocked(visible, active gate.Gate, dev output.Device, cfg Config) error {
	rate := dev.SampleRate()
	if rate <= 0 {
		return fmt.Errorf("%w: device sample rate %d", ErrConfig, rate)
	}

	direct := mix.NewSum()
	directOut := mix.NewFanout(direct)
	drySum := mix.NewSum(directOut)
	wetSum := mix.NewSum(directOut)

	buses := make(map[string]*Bus, len(cfg.Categories))
	for _, name := range cfg.Categories {
		volume := 1.0
		if v, ok := cfg.CategoryVolumes[name]; ok {
			volume = v
		}
		b := newBus(name, volume, cfg.RampTime)
		buses[name] = b
		if err := drySum.Connect(b.out); err != nil {
			return err
		}
		if err := wetSum.Connect(b.out); err != nil {
			return err
		}
	}

	reverb, err := mix.NewConvolver(wetSum, cfg.Reverb.BlockSize, mix.GenerateImpulse(cfg.Reverb, rate))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}

	m.direct = direct
	m.buses = buses
	m.busOrder = append([]string(nil), cfg.Categories...)
	m.reverb = reverb
	m.wet = mix.NewGain(reverb, cfg.ReverbLevel)
	m.dry = mix.NewGain(drySum, 1-cfg.ReverbLevel)
	m.master = mix.NewGain(mix.NewSum(m.wet, m.dry), cfg.MasterVolume)

	m.audible = gate.And(m.enabled, visible, active)
	m.audibleGain = mix.NewGain(m.master, unitBool(m.audible.Value()))
	m.limiter = mix.NewLimiter(m.audibleGain, cfg.Limiter)
	m.meter = mix.NewMeter(m.limiter, cfg.MeterPeriod, cfg.MeterDepth)

	m.dev = dev
	m.rate = rate
	m.out.Store(m.meter)
	return nil
}

// loadImpulse swaps in an impulse response from a file once it is decoded.
// Until then, and if it fails to decode, the generated one stays in place.
func (m *Manager) loadImpulse(path string, rate int) {
	cfg := asset.DefaultConfig()
	cfg.SampleRate = rate
	loader, err := asset.NewLoader(cfg, nil, m.logger)
	if err != nil {
		m.logger.Warn("cannot load impulse response", "path", path, "error", err)
		return
	}

	h := loader.Load(context.Background(), path)
	m.track(h.OnReady(func(b *pcm.Buffer) {
		if b.IsSilent() {
			return
		}
		m.reverb.SetImpulse(b)
		m.logger.Info("loaded impulse response", "path", path, "duration", b.Duration())
	}))
}

func (m *Manager) track(sub *gate.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		sub.Release()
		return
	}
	m.subs = append(m.subs, sub)
}

// Register adds g to the mix. Before Initialize the registration is queued.
// Registering a source twice is a usage error.
func (m *Manager) Register(g Generator, opts RegisterOptions) error {
	m.mu.Lock()
	strict := m.cfg.Strict
	if g == nil {
		m.mu.Unlock()
		return m.usage(strict, fmt.Errorf("%w: nil sound source", ErrConfig))
	}
	if !opts.Tier.Valid() {
		m.mu.Unlock()
		return m.usage(strict, fmt.Errorf("%w: unknown tier %d", ErrConfig, opts.Tier))
	}
	if _, ok := m.sources[g]; ok || m.pendingIndexLocked(g) >= 0 {
		m.mu.Unlock()
		return m.usage(strict, ErrAlreadyRegistered)
	}

	if m.state != Initialized {
		m.pending = append(m.pending, pendingRegistration{g: g, opts: opts})
		m.mu.Unlock()
		return nil
	}

	reg, err := m.addLocked(g, opts)
	if err != nil {
		m.mu.Unlock()
		return m.usage(strict, err)
	}
	reg.mu.Lock()
	m.mu.Unlock()

	m.connect(reg)
	reg.mu.Unlock()
	return nil
}

// addLocked records g in the registry and decides its target and gates.
func (m *Manager) addLocked(g Generator, opts RegisterOptions) (*registration, error) {
	target := m.direct
	if opts.Category != "" {
		b, ok := m.buses[opts.Category]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCategory, opts.Category)
		}
		target = b.in
	}

	gates := []gate.Gate{m.audible}
	if opts.Tier == tier.Extra {
		gates = append(gates, m.extra)
	}
	if opts.Visibility != nil {
		gates = append(gates, opts.Visibility)
	}

	reg := &registration{g: g, target: target, gates: gates, ramp: m.cfg.EnableRampTime}
	m.sources[g] = reg
	return reg, nil
}

// connect attaches the gates and then connects the output, so a source that
// starts out disabled never leaks a fade into the mix.
func (m *Manager) connect(reg *registration) {
	b := reg.g.base()
	b.SetEnableRampTime(0)
	for _, g := range reg.gates {
		b.AddGate(g)
	}
	b.SetEnableRampTime(reg.ramp)

	if err := reg.target.Connect(reg.g.Output()); err != nil {
		m.logger.Error("connect sound source", "error", err)
	}
}

func (m *Manager) pendingIndexLocked(g Generator) int {
	for i, p := range m.pending {
		if p.g == g {
			return i
		}
	}
	return -1
}

// Unregister disconnects g from the mix and detaches the gates the manager
// attached. The caller still owns g and should Dispose it. Before Initialize
// the call is logged as a warning, returns ErrNotInitialized and is otherwise
// ignored: a queued registration of g stays queued. Disposing g before
// Initialize keeps it from being connected.
func (m *Manager) Unregister(g Generator) error {
	m.mu.Lock()
	if m.state == Uninitialized {
		m.mu.Unlock()
		return m.notInitialized("unregister")
	}

	reg, ok := m.sources[g]
	if !ok {
		if i := m.pendingIndexLocked(g); i >= 0 {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			m.mu.Unlock()
			return nil
		}
		strict := m.cfg.Strict
		m.mu.Unlock()
		return m.usage(strict, ErrNotRegistered)
	}
	delete(m.sources, g)
	m.mu.Unlock()

	reg.mu.Lock()
	defer reg.mu.Unlock()

	if err := reg.target.Disconnect(g.Output()); err != nil {
		m.logger.Error("disconnect sound source", "error", err)
	}
	b := g.base()
	for _, gt := range reg.gates {
		b.RemoveGate(gt)
	}
	return nil
}

// HasSource reports whether g is registered, including registrations queued
// before Initialize.
func (m *Manager) HasSource(g Generator) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sources[g]
	return ok || m.pendingIndexLocked(g) >= 0
}

// Sources returns the number of connected sources.
func (m *Manager) Sources() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sources)
}

// Categories returns the configured bus names in order. It is empty before
// Initialize.
func (m *Manager) Categories() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.busOrder...)
}

// Bus returns the bus for a category.
func (m *Manager) Bus(name string) (*Bus, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buses[name]
	return b, ok
}

// SetMasterVolume ramps the master gain to level.
func (m *Manager) SetMasterVolume(level float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Uninitialized {
		return m.notInitialized("set master volume")
	}
	m.master.SetGain(m.level("master volume", level, m.cfg.Strict), m.cfg.RampTime)
	return nil
}

// MasterVolume returns the last master volume set.
func (m *Manager) MasterVolume() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.master == nil {
		return m.cfg.MasterVolume
	}
	return m.master.Gain()
}

// SetCategoryVolume ramps one bus to level.
func (m *Manager) SetCategoryVolume(name string, level float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Uninitialized {
		return m.notInitialized("set category volume")
	}
	b, ok := m.buses[name]
	if !ok {
		return m.usage(m.cfg.Strict, fmt.Errorf("%w: %q", ErrUnknownCategory, name))
	}
	b.SetVolume(m.level("category volume", level, m.cfg.Strict))
	return nil
}

// CategoryVolume returns the last volume set on a bus.
func (m *Manager) CategoryVolume(name string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Uninitialized {
		return 0, ErrNotInitialized
	}
	b, ok := m.buses[name]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownCategory, name)
	}
	return b.Volume(), nil
}

// SetReverbLevel sets the wet share of the output to level and the dry share
// to 1 - level. Both ramp together so their sum stays 1.
func (m *Manager) SetReverbLevel(level float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == Uninitialized {
		return m.notInitialized("set reverb level")
	}
	r := m.level("reverb level", level, m.cfg.Strict)
	m.wet.SetGain(r, m.cfg.RampTime)
	m.dry.SetGain(1-r, m.cfg.RampTime)
	return nil
}

// ReverbLevel returns the last reverb level set.
func (m *Manager) ReverbLevel() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.wet == nil {
		return m.cfg.ReverbLevel
	}
	return m.wet.Gain()
}

// DryLevel returns the dry share, always 1 - ReverbLevel.
func (m *Manager) DryLevel() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.dry == nil {
		return 1 - m.cfg.ReverbLevel
	}
	return m.dry.Gain()
}

// SetEnabled turns all sound on or off. It may be called at any time.
func (m *Manager) SetEnabled(v bool) { m.enabled.Set(v) }

// Enabled is the master enabled property.
func (m *Manager) Enabled() gate.Gate { return m.enabled }

// IsEnabled returns the master enabled value.
func (m *Manager) IsEnabled() bool { return m.enabled.Value() }

// Audible is true while sound is enabled and the simulation is visible and
// active. Before Initialize it is always false.
func (m *Manager) Audible() gate.Gate {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.audible == nil {
		return gate.Const(false)
	}
	return m.audible
}

// SetTier changes the sonification tier. It may be called at any time; a tier
// set before Initialize takes precedence over Config.Tier.
func (m *Manager) SetTier(l tier.Level) error {
	m.mu.Lock()
	if !l.Valid() {
		strict := m.cfg.Strict
		m.mu.Unlock()
		return m.usage(strict, fmt.Errorf("%w: unknown tier %d", ErrConfig, l))
	}
	m.tierSet = true
	m.mu.Unlock()

	m.policy.SetLevel(l)
	return nil
}

// Tier returns the sonification tier.
func (m *Manager) Tier() tier.Level { return m.policy.Level() }

// Policy exposes the tier policy for components that derive their own gates.
func (m *Manager) Policy() *tier.Policy { return m.policy }

// Render fills dst with the next block of the mix. Output devices call it
// from their own goroutine. Before Initialize it renders silence.
func (m *Manager) Render(dst [][2]float64) {
	out := m.out.Load()
	if out == nil {
		pcm.Clear(dst)
		return
	}
	n := uint64(len(dst))
	start := m.frame.Add(n) - n
	out.Render(dst, mix.Cycle{SampleRate: m.rate, Frame: start})
}

// Peaks returns the channel of output level snapshots. It is nil before
// Initialize.
func (m *Manager) Peaks() <-chan mix.PeakSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.meter == nil {
		return nil
	}
	return m.meter.Snapshots()
}

// Reduction returns the limiter's current gain reduction in dB.
func (m *Manager) Reduction() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.limiter == nil {
		return 0
	}
	return m.limiter.Reduction()
}

// Device returns the output device, or nil before Initialize.
func (m *Manager) Device() output.Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dev
}

// Status is a point-in-time summary of the manager.
type Status struct {
	State        State              `json:"state"`
	Enabled      bool               `json:"enabled"`
	Audible      bool               `json:"audible"`
	Tier         tier.Level         `json:"tier"`
	MasterVolume float64            `json:"master_volume"`
	ReverbLevel  float64            `json:"reverb_level"`
	Categories   map[string]float64 `json:"categories,omitempty"`
	Sources      int                `json:"sources"`
	Pending      int                `json:"pending"`
	Device       string             `json:"device,omitempty"`
	Recovering   bool               `json:"recovering"`
}

// Status returns a summary of the manager.
func (m *Manager) Status() Status {
	m.mu.Lock()
	s := Status{
		State:        m.state,
		Enabled:      m.enabled.Value(),
		Tier:         m.policy.Level(),
		MasterVolume: m.cfg.MasterVolume,
		ReverbLevel:  m.cfg.ReverbLevel,
		Sources:      len(m.sources),
		Pending:      len(m.pending),
	}
	if m.audible != nil {
		s.Audible = m.audible.Value()
		s.MasterVolume = m.master.Gain()
		s.ReverbLevel = m.wet.Gain()
		s.Categories = make(map[string]float64, len(m.buses))
		for name, b := range m.buses {
			s.Categories[name] = b.Volume()
		}
	}
	if m.dev != nil {
		s.Device = m.dev.State().String()
	}
	m.mu.Unlock()

	s.Recovering = m.rec.recovering()
	return s
}

// Close stops device recovery, releases the manager's subscriptions and closes
// the output device. Registered sources are left to their owners.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	subs := m.subs
	m.subs = nil
	audible, dev := m.audible, m.dev
	m.mu.Unlock()

	m.rec.stop()
	for _, sub := range subs {
		sub.Release()
	}
	if audible != nil {
		audible.Dispose()
	}
	m.extra.Dispose()

	if dev == nil {
		return nil
	}
	return dev.Close()
}
