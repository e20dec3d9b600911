// Package tier implements the two-level sonification policy.
//
// Every sound declares a Level. The simulation holds one global Level. A sound
// is audible under this policy only when the global level is at or above the
// sound's declared level, so Basic sounds are always allowed and Extra sounds
// only when the simulation is set to Extra.
package tier

import (
	"fmt"
	"strings"

	"github.com/chriscow/soundmix/pkg/gate"
)

// Level is a sonification tier.
type Level int

const (
	// Basic sounds are part of the core sound design.
	Basic Level = iota
	// Extra sounds are additional sonification that users opt into.
	Extra
)

// String returns the lower-case name of the level.
func (l Level) String() string {
	switch l {
	case Basic:
		return "basic"
	case Extra:
		return "extra"
	default:
		return fmt.Sprintf("tier(%d)", int(l))
	}
}

// Valid reports whether l is one of the defined levels.
func (l Level) Valid() bool {
	return l == Basic || l == Extra
}

// Parse converts "basic" or "extra" (case-insensitive) to a Level.
func Parse(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "basic":
		return Basic, nil
	case "extra":
		return Extra, nil
	default:
		return Basic, fmt.Errorf("unknown sonification tier %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("invalid sonification tier %d", int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler so levels can be read from
// YAML and JSON configuration.
func (l *Level) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Policy holds the simulation-wide level and hands out gates comparing it to a
// sound's declared level.
type Policy struct {
	level *gate.Property[Level]
}

// NewPolicy creates a Policy with the given global level.
func NewPolicy(initial Level) *Policy {
	return &Policy{level: gate.NewProperty(initial)}
}

// Level returns the global level.
func (p *Policy) Level() Level {
	return p.level.Value()
}

// SetLevel changes the global level. Gates handed out by Gate update synchronously.
func (p *Policy) SetLevel(l Level) {
	p.level.Set(l)
}

// Property exposes the global level for observers.
func (p *Policy) Property() gate.Readable[Level] {
	return p.level
}

// Allows reports whether a sound declared at l is audible under the current global level.
func (p *Policy) Allows(l Level) bool {
	return p.level.Value() >= l
}

// Gate returns a gate that is true while a sound declared at l is allowed. The
// caller owns the returned gate and must Dispose it when done.
func (p *Policy) Gate(l Level) *gate.Derived[bool] {
	return gate.Map[Level](p.level, func(global Level) bool { return global >= l })
}
