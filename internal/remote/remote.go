// Package remote lets participants of a LiveKit room drive the mix. Control
// commands arrive on the room's data channel and replies are sent back to the
// sender; peak snapshots are published to everyone as lossy packets.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go"
	"github.com/pion/webrtc/v3"

	"github.com/chriscow/soundmix/internal/control"
	"github.com/chriscow/soundmix/pkg/mix"
)

// Config describes how to join the control room.
type Config struct {
	URL      string `yaml:"url"`
	Room     string `yaml:"room"`
	Identity string `yaml:"identity"`

	// Token is used as is when set. Otherwise one is minted from the API key
	// and secret.
	Token     string        `yaml:"token"`
	APIKey    string        `yaml:"api_key"`
	APISecret string        `yaml:"api_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`

	// QueueSize bounds the commands waiting to be applied.
	QueueSize int `yaml:"queue_size"`
}

// DefaultConfig returns a config with everything but the server and
// credentials filled in.
func DefaultConfig() Config {
	return Config{
		Room:      "soundmix",
		Identity:  "soundmix",
		TokenTTL:  time.Hour,
		QueueSize: 32,
	}
}

// Validate reports missing or inconsistent fields.
func (c Config) Validate() error {
	if c.URL == "" {
		return errors.New("URL is required")
	}
	if c.Room == "" {
		return errors.New("room name is required")
	}
	if c.Token == "" {
		if c.APIKey == "" || c.APISecret == "" {
			return errors.New("token or API key and secret are required")
		}
		if c.Identity == "" {
			return errors.New("identity is required to mint a token")
		}
		if c.TokenTTL <= 0 {
			return fmt.Errorf("token TTL must be positive, got %v", c.TokenTTL)
		}
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue size must be at least 1, got %d", c.QueueSize)
	}
	return nil
}

// AccessToken returns the configured token or mints a room-join token.
func (c Config) AccessToken() (string, error) {
	if c.Token != "" {
		return c.Token, nil
	}

	at := auth.NewAccessToken(c.APIKey, c.APISecret)
	at.AddGrant(&auth.VideoGrant{RoomJoin: true, Room: c.Room}).
		SetIdentity(c.Identity).
		SetValidFor(c.TokenTTL)

	token, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("mint access token: %w", err)
	}
	return token, nil
}

type message struct {
	data   []byte
	sender string
}

type publishFunc func(data []byte, kind livekit.DataPacket_Kind, dest []string) error

// Controller applies commands received in a LiveKit room to a mixer.
type Controller struct {
	cfg    Config
	mixer  control.Mixer
	logger *slog.Logger
	in     chan message

	mu        sync.Mutex
	room      *lksdk.Room
	publish   publishFunc
	connected bool
}

// New validates cfg and returns an unconnected controller.
func New(cfg Config, mixer control.Mixer, logger *slog.Logger) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("remote config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:    cfg,
		mixer:  mixer,
		logger: logger.With("component", "remote", "room", cfg.Room),
		in:     make(chan message, cfg.QueueSize),
	}, nil
}

// Connect joins the room.
func (c *Controller) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return errors.New("room is already connected")
	}

	token, err := c.cfg.AccessToken()
	if err != nil {
		return err
	}

	callback := &lksdk.RoomCallback{
		OnParticipantConnected:    c.onParticipantConnected,
		OnParticipantDisconnected: c.onParticipantDisconnected,
		OnDisconnected:            c.onDisconnected,
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: c.onTrackSubscribed,
			OnDataReceived:    c.onDataReceived,
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(c.cfg.URL, token, callback)
	if err != nil {
		return fmt.Errorf("failed to connect to room: %w", err)
	}

	c.room = room
	c.publish = room.LocalParticipant.PublishData
	c.connected = true

	c.logger.Info("connected to LiveKit room", slog.String("url", c.cfg.URL))
	return nil
}

// IsConnected reports whether the controller is in the room.
func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Run applies queued commands and publishes peaks until ctx is done, then
// leaves the room. peaks may be nil.
func (c *Controller) Run(ctx context.Context, peaks <-chan mix.PeakSnapshot) error {
	defer c.Disconnect()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-c.in:
			c.handle(msg)
		case p, ok := <-peaks:
			if !ok {
				peaks = nil
				continue
			}
			c.publishPeak(p)
		}
	}
}

// Disconnect leaves the room. It is safe to call more than once.
func (c *Controller) Disconnect() {
	c.mu.Lock()
	room := c.room
	c.room, c.publish, c.connected = nil, nil, false
	c.mu.Unlock()

	if room != nil {
		room.Disconnect()
		c.logger.Info("disconnected from LiveKit room")
	}
}

func (c *Controller) handle(msg message) {
	reply := control.Handle(c.mixer, msg.data, c.logger)
	if err := c.send(reply, livekit.DataPacket_RELIABLE, []string{msg.sender}); err != nil {
		c.logger.Warn("failed to publish reply",
			slog.String("participant", msg.sender),
			slog.String("error", err.Error()))
	}
}

func (c *Controller) publishPeak(p mix.PeakSnapshot) {
	data, err := json.Marshal(control.Reply{Type: control.TypePeak, Data: p})
	if err != nil {
		c.logger.Error("encode peak", slog.String("error", err.Error()))
		return
	}
	if err := c.send(data, livekit.DataPacket_LOSSY, nil); err != nil {
		c.logger.Debug("failed to publish peak", slog.String("error", err.Error()))
	}
}

func (c *Controller) send(data []byte, kind livekit.DataPacket_Kind, dest []string) error {
	c.mu.Lock()
	publish := c.publish
	c.mu.Unlock()

	if publish == nil {
		return errors.New("room not connected")
	}
	return publish(data, kind, dest)
}

func (c *Controller) enqueue(data []byte, sender string) {
	select {
	case c.in <- message{data: data, sender: sender}:
	default:
		c.logger.Warn("command queue is full, dropping command", slog.String("participant", sender))
	}
}

// Event handlers

func (c *Controller) onDataReceived(data []byte, participant *lksdk.RemoteParticipant) {
	c.enqueue(data, participant.SID())
}

func (c *Controller) onParticipantConnected(participant *lksdk.RemoteParticipant) {
	c.logger.Info("participant connected",
		slog.String("identity", participant.Identity()),
		slog.String("sid", participant.SID()))
}

func (c *Controller) onParticipantDisconnected(participant *lksdk.RemoteParticipant) {
	c.logger.Info("participant disconnected",
		slog.String("identity", participant.Identity()),
		slog.String("sid", participant.SID()))
}

// The controller only listens to data; subscribed media is ignored.
func (c *Controller) onTrackSubscribed(track *webrtc.TrackRemote, publication *lksdk.RemoteTrackPublication, participant *lksdk.RemoteParticipant) {
	c.logger.Debug("ignoring subscribed track",
		slog.String("participant", participant.Identity()),
		slog.String("track_sid", publication.SID()),
		slog.String("codec", track.Codec().MimeType))
}

func (c *Controller) onDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
	c.logger.Warn("room connection lost")
}
