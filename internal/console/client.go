package console

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chriscow/soundmix/internal/control"
)

// ErrNotConnected is returned by client calls made before Connect.
var ErrNotConnected = errors.New("not connected")

const maxBackoff = 10 * time.Second

// Client is a console connection to a Server.
type Client struct {
	url    string
	token  string
	logger *slog.Logger

	mu   sync.Mutex
	conn *websocket.Conn

	backoffAttempt int
}

// NewClient creates a client for the console at serverURL (ws:// or wss://).
func NewClient(serverURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{url: serverURL, token: token, logger: logger}
}

// Connect dials the console.
func (c *Client) Connect(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if c.token != "" {
		q := u.Query()
		q.Set("token", c.token)
		u.RawQuery = q.Encode()
	}

	c.logger.Debug("connecting to console", slog.String("url", c.url))

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = 10 * time.Second

	conn, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("console connected", slog.String("url", c.url))
	return nil
}

func (c *Client) current() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil, ErrNotConnected
	}
	return c.conn, nil
}

// Send writes one command.
func (c *Client) Send(cmd control.Command) error {
	conn, err := c.current()
	if err != nil {
		return err
	}

	c.logger.Debug("sending command", slog.String("type", cmd.Type))
	if err := conn.WriteJSON(cmd); err != nil {
		return fmt.Errorf("failed to write command: %w", err)
	}
	return nil
}

// Read blocks for the next reply or pushed message.
func (c *Client) Read() (control.Reply, error) {
	var reply control.Reply

	conn, err := c.current()
	if err != nil {
		return reply, err
	}
	if err := conn.ReadJSON(&reply); err != nil {
		return reply, fmt.Errorf("failed to read reply: %w", err)
	}
	return reply, nil
}

// Do sends cmd and returns the first reply that is not a peak message.
func (c *Client) Do(cmd control.Command) (control.Reply, error) {
	if err := c.Send(cmd); err != nil {
		return control.Reply{}, err
	}
	for {
		reply, err := c.Read()
		if err != nil || reply.Type != control.TypePeak {
			return reply, err
		}
	}
}

// Close closes the connection. It is safe to call on a closed client.
func (c *Client) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return conn.Close()
}

// Watch connects and passes every message to fn until ctx is done,
// reconnecting with exponential backoff when the connection drops.
func (c *Client) Watch(ctx context.Context, fn func(control.Reply)) error {
	for {
		if ctx.Err() != nil {
			return c.Close()
		}

		if err := c.watchOnce(ctx, fn); err != nil && ctx.Err() == nil {
			c.logger.Error("console connection failed", slog.String("error", err.Error()))
			if err := c.backoffDelay(ctx); err != nil {
				c.Close()
				return err
			}
		}
	}
}

func (c *Client) watchOnce(ctx context.Context, fn func(control.Reply)) error {
	if err := c.Connect(ctx); err != nil {
		return err
	}
	c.backoffAttempt = 0

	// ReadJSON does not take a context; closing the connection unblocks it.
	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()
	defer c.Close()

	for {
		reply, err := c.Read()
		if err != nil {
			return err
		}
		fn(reply)
	}
}

// backoffDelay waits 1s, 2s, 4s, 8s, then 10s between attempts.
func (c *Client) backoffDelay(ctx context.Context) error {
	c.backoffAttempt++
	delay := min(time.Second<<min(c.backoffAttempt-1, 4), maxBackoff)

	c.logger.Info("reconnecting with backoff",
		slog.Int("attempt", c.backoffAttempt),
		slog.Duration("delay", delay))

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
