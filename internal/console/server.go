// Package console serves the control protocol over a websocket and streams
// output peak levels to every connected client.
package console

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chriscow/soundmix/internal/control"
	"github.com/chriscow/soundmix/pkg/mix"
)

const (
	writeTimeout = 5 * time.Second
	outBuffer    = 64
)

// Server accepts console connections. Each connection sends control commands
// and receives replies plus a stream of peak messages.
type Server struct {
	mixer    control.Mixer
	token    string
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	ws  *websocket.Conn
	out chan control.Reply
}

// NewServer creates a server driving mixer. A non-empty token must be passed
// by clients as the token query parameter.
func NewServer(mixer control.Mixer, token string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		mixer:   mixer,
		token:   token,
		logger:  logger.With("component", "console"),
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.token != "" && subtle.ConstantTimeCompare([]byte(r.URL.Query().Get("token")), []byte(s.token)) != 1 {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{ws: ws, out: make(chan control.Reply, outBuffer)}
	s.add(c)
	s.logger.Info("console connected", slog.String("remote", r.RemoteAddr))

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.writeReplies(c)
	}()

	s.readCommands(c)

	s.remove(c)
	close(c.out)
	<-done
	ws.Close()
	s.logger.Info("console disconnected", slog.String("remote", r.RemoteAddr))
}

func (s *Server) readCommands(c *client) {
	for {
		var cmd control.Command
		if err := c.ws.ReadJSON(&cmd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("console read ended", slog.String("error", err.Error()))
			}
			return
		}

		s.logger.Debug("console command", slog.String("type", cmd.Type))
		reply, err := control.Apply(s.mixer, cmd)
		if err != nil {
			s.logger.Warn("console command failed", slog.String("type", cmd.Type), slog.String("error", err.Error()))
		}
		// Replies are never dropped; a slow client slows its own reads.
		c.out <- reply
	}
}

func (s *Server) writeReplies(c *client) {
	for reply := range c.out {
		c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := c.ws.WriteJSON(reply); err != nil {
			s.logger.Debug("console write failed", slog.String("error", err.Error()))
			// Drain so the reader and broadcaster never block on a dead client.
			for range c.out {
			}
			return
		}
	}
}

func (s *Server) add(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c] = struct{}{}
}

func (s *Server) remove(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, c)
}

// Clients returns the number of connected consoles.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Broadcast forwards peak snapshots to every client until ctx is done or
// peaks is closed. Clients that fall behind miss snapshots.
func (s *Server) Broadcast(ctx context.Context, peaks <-chan mix.PeakSnapshot) {
	for {
		select {
		case <-ctx.Done():
			return
		case p, ok := <-peaks:
			if !ok {
				return
			}
			s.send(control.Reply{Type: control.TypePeak, Data: p})
		}
	}
}

func (s *Server) send(reply control.Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		select {
		case c.out <- reply:
		default:
		}
	}
}
