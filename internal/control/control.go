// Package control is the JSON command protocol used to adjust a running mix
// from outside the process. The console websocket and the LiveKit data channel
// both speak it.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/chriscow/soundmix/pkg/sound"
	"github.com/chriscow/soundmix/pkg/tier"
)

// Command types
const (
	TypePing              = "ping"
	TypePong              = "pong"
	TypeStatus            = "status"
	TypeSetMasterVolume   = "setMasterVolume"
	TypeSetCategoryVolume = "setCategoryVolume"
	TypeSetReverbLevel    = "setReverbLevel"
	TypeSetEnabled        = "setEnabled"
	TypeSetTier           = "setTier"
	TypeGesture           = "gesture"
	TypeError             = "error"
	TypePeak              = "peak"
)

// ErrUnknownCommand is returned for a command type this package does not handle.
var ErrUnknownCommand = errors.New("unknown command")

// Command is a request from a client.
type Command struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// Reply is sent back for every command, and is also used for pushed messages
// such as peak snapshots.
type Reply struct {
	Type  string `json:"type"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
}

// Mixer is the part of sound.Manager a client may drive.
type Mixer interface {
	SetMasterVolume(level float64) error
	SetCategoryVolume(name string, level float64) error
	SetReverbLevel(level float64) error
	SetEnabled(v bool)
	SetTier(l tier.Level) error
	NotifyUserGesture()
	Status() sound.Status
}

var _ Mixer = (*sound.Manager)(nil)

// Decode parses one JSON command.
func Decode(data []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("decode command: %w", err)
	}
	if cmd.Type == "" {
		return cmd, errors.New("decode command: missing type")
	}
	return cmd, nil
}

// Apply runs cmd against m. Every setter replies with the resulting status.
func Apply(m Mixer, cmd Command) (Reply, error) {
	var err error

	switch cmd.Type {
	case TypePing:
		return Reply{Type: TypePong, Data: cmd.Data}, nil

	case TypeStatus:

	case TypeSetMasterVolume:
		var level float64
		if level, err = number(cmd.Data, "level"); err == nil {
			err = m.SetMasterVolume(level)
		}

	case TypeSetCategoryVolume:
		var (
			name  string
			level float64
		)
		if name, err = text(cmd.Data, "category"); err == nil {
			if level, err = number(cmd.Data, "level"); err == nil {
				err = m.SetCategoryVolume(name, level)
			}
		}

	case TypeSetReverbLevel:
		var level float64
		if level, err = number(cmd.Data, "level"); err == nil {
			err = m.SetReverbLevel(level)
		}

	case TypeSetEnabled:
		var v bool
		if v, err = boolean(cmd.Data, "enabled"); err == nil {
			m.SetEnabled(v)
		}

	case TypeSetTier:
		var (
			s string
			l tier.Level
		)
		if s, err = text(cmd.Data, "tier"); err == nil {
			if l, err = tier.Parse(s); err == nil {
				err = m.SetTier(l)
			}
		}

	case TypeGesture:
		m.NotifyUserGesture()

	default:
		err = fmt.Errorf("%w: %q", ErrUnknownCommand, cmd.Type)
	}

	if err != nil {
		return Reply{Type: TypeError, Error: err.Error()}, err
	}
	return Reply{Type: TypeStatus, Data: m.Status()}, nil
}

// Handle decodes and applies one raw command and returns the encoded reply.
// Failures are reported in the reply and logged.
func Handle(m Mixer, data []byte, logger *slog.Logger) []byte {
	cmd, err := Decode(data)
	var reply Reply
	if err != nil {
		reply = Reply{Type: TypeError, Error: err.Error()}
	} else {
		reply, err = Apply(m, cmd)
	}
	if err != nil {
		logger.Warn("control command failed", "type", cmd.Type, "error", err)
	}

	out, err := json.Marshal(reply)
	if err != nil {
		logger.Error("encode control reply", "error", err)
		out, _ = json.Marshal(Reply{Type: TypeError, Error: "encode reply"})
	}
	return out
}

func number(data map[string]any, key string) (float64, error) {
	switch v := data[key].(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case nil:
		return 0, fmt.Errorf("missing %q", key)
	default:
		return 0, fmt.Errorf("%q must be a number, got %T", key, v)
	}
}

func text(data map[string]any, key string) (string, error) {
	switch v := data[key].(type) {
	case string:
		return v, nil
	case nil:
		return "", fmt.Errorf("missing %q", key)
	default:
		return "", fmt.Errorf("%q must be a string, got %T", key, v)
	}
}

func boolean(data map[string]any, key string) (bool, error) {
	switch v := data[key].(type) {
	case bool:
		return v, nil
	case nil:
		return false, fmt.Errorf("missing %q", key)
	default:
		return false, fmt.Errorf("%q must be a boolean, got %T", key, v)
	}
}
