package sound

import (
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/chriscow/soundmix/pkg/asset"
)

type sharedDef struct {
	handle *asset.Handle
	cfg    ClipConfig
	opts   RegisterOptions
}

// SharedPlayers hands out clips that many components play in common, such as
// button clicks. Each clip is created and registered the first time it is
// requested.
type SharedPlayers struct {
	m      *Manager
	logger *slog.Logger

	mu      sync.Mutex
	defs    map[string]sharedDef
	players map[string]*Clip
}

// NewSharedPlayers creates an empty set bound to m.
func NewSharedPlayers(m *Manager) *SharedPlayers {
	return &SharedPlayers{
		m:       m,
		logger:  m.logger,
		defs:    make(map[string]sharedDef),
		players: make(map[string]*Clip),
	}
}

// Define declares a shared clip. Defining a name twice is an error.
func (s *SharedPlayers) Define(name string, h *asset.Handle, cfg ClipConfig, opts RegisterOptions) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.defs[name]; ok {
		return fmt.Errorf("%w: shared player %q", ErrAlreadyRegistered, name)
	}
	s.defs[name] = sharedDef{handle: h, cfg: cfg, opts: opts}
	return nil
}

// Get returns the shared player for name, creating it on first use. Unknown
// names and players that fail to register give NoSound.
func (s *SharedPlayers) Get(name string) Playable {
	s.mu.Lock()
	if c, ok := s.players[name]; ok {
		s.mu.Unlock()
		return c
	}
	def, ok := s.defs[name]
	if !ok {
		s.mu.Unlock()
		s.logger.Warn("unknown shared sound player", "name", name)
		return NoSound
	}

	c, err := NewClip(def.handle, def.cfg)
	if err != nil {
		s.mu.Unlock()
		s.logger.Error("create shared sound player", "name", name, "error", err)
		return NoSound
	}
	s.players[name] = c
	s.mu.Unlock()

	if err := s.m.Register(c, def.opts); err != nil {
		s.mu.Lock()
		delete(s.players, name)
		s.mu.Unlock()
		c.Dispose()
		return NoSound
	}
	return c
}

// Dispose unregisters and disposes every player created so far.
func (s *SharedPlayers) Dispose() {
	s.mu.Lock()
	players := s.players
	s.players = make(map[string]*Clip)
	s.mu.Unlock()

	for _, c := range players {
		if s.m.HasSource(c) {
			_ = s.m.Unregister(c)
		}
		c.Dispose()
	}
}

// SelectionStep is the pitch interval, in semitones, between neighbouring
// selections of a MultiSelection.
const SelectionStep = 2

// MultiSelection plays one sound at a pitch that depends on which of several
// items was selected, so each choice in a group is recognizable by ear.
type MultiSelection struct {
	m      *Manager
	handle *asset.Handle
	opts   RegisterOptions
	level  float64

	mu      sync.Mutex
	players map[int]*Clip
}

// NewMultiSelection creates the selection players for h. They are created
// and registered on first use.
func NewMultiSelection(m *Manager, h *asset.Handle, opts RegisterOptions, level float64) *MultiSelection {
	return &MultiSelection{
		m:       m,
		handle:  h,
		opts:    opts,
		level:   clampUnit(level),
		players: make(map[int]*Clip),
	}
}

// SelectionRate returns the playback rate for the selection at index.
// Index 0 plays at the recorded pitch.
func SelectionRate(index int) float64 {
	return math.Pow(2, float64(index*SelectionStep)/12)
}

// Player returns the player for the item at index.
func (s *MultiSelection) Player(index int) Playable {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.players[index]; ok {
		return c
	}

	cfg := DefaultClipConfig()
	cfg.InitialPlaybackRate = SelectionRate(index)
	cfg.InitialOutputLevel = s.level
	c, err := NewClip(s.handle, cfg)
	if err != nil {
		s.m.logger.Error("create selection sound player", "index", index, "error", err)
		return NoSound
	}
	if err := s.m.Register(c, s.opts); err != nil {
		c.Dispose()
		return NoSound
	}
	s.players[index] = c
	return c
}

// Dispose unregisters and disposes every player created so far.
func (s *MultiSelection) Dispose() {
	s.mu.Lock()
	players := s.players
	s.players = make(map[int]*Clip)
	s.mu.Unlock()

	for _, c := range players {
		if s.m.HasSource(c) {
			_ = s.m.Unregister(c)
		}
		c.Dispose()
	}
}
