package console

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/matryer/is"

	"github.com/chriscow/soundmix/internal/control"
	"github.com/chriscow/soundmix/pkg/mix"
	"github.com/chriscow/soundmix/pkg/output"
	"github.com/chriscow/soundmix/pkg/sound"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newServer(t *testing.T, token string) (*Server, *sound.Manager, string) {
	t.Helper()

	m := sound.NewManager(discard())
	cfg := sound.DefaultConfig()
	cfg.RampTime = 0
	if err := m.Initialize(nil, nil, output.NewManual(48000), cfg); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { m.Close() })

	s := NewServer(m, token, discard())
	srv := httptest.NewServer(s)
	t.Cleanup(srv.Close)
	return s, m, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url, token string) *Client {
	t.Helper()

	c := NewClient(url, token, discard())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestConsole_CommandRoundTrip(t *testing.T) {
	is := is.New(t)
	_, m, url := newServer(t, "")
	c := dial(t, url, "")

	reply, err := c.Do(control.Command{Type: control.TypeSetMasterVolume, Data: map[string]any{"level": 0.25}})
	is.NoErr(err)
	is.Equal(reply.Type, control.TypeStatus)
	is.Equal(m.MasterVolume(), 0.25)

	status, ok := reply.Data.(map[string]any)
	is.True(ok)                             // status arrives as a JSON object
	is.Equal(status["master_volume"], 0.25) // and reflects the change

	reply, err = c.Do(control.Command{Type: "bogus"})
	is.NoErr(err)
	is.Equal(reply.Type, control.TypeError)
	is.True(strings.Contains(reply.Error, "unknown command"))
}

func TestConsole_RejectsBadToken(t *testing.T) {
	is := is.New(t)
	_, _, url := newServer(t, "secret")

	c := NewClient(url, "wrong", discard())
	err := c.Connect(context.Background())
	is.True(err != nil) // handshake refused

	ok := dial(t, url, "secret")
	reply, err := ok.Do(control.Command{Type: control.TypePing})
	is.NoErr(err)
	is.Equal(reply.Type, control.TypePong)
}

func TestConsole_BroadcastsPeaks(t *testing.T) {
	is := is.New(t)
	s, _, url := newServer(t, "")
	c := dial(t, url, "")

	// a round trip guarantees the server has registered the client
	_, err := c.Do(control.Command{Type: control.TypePing})
	is.NoErr(err)
	is.Equal(s.Clients(), 1)

	peaks := make(chan mix.PeakSnapshot, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go s.Broadcast(ctx, peaks)

	peaks <- mix.PeakSnapshot{Left: 0.5, Right: 0.25, Frame: 480}

	reply, err := c.Read()
	is.NoErr(err)
	is.Equal(reply.Type, control.TypePeak)
	data := reply.Data.(map[string]any)
	is.Equal(data["left"], 0.5)
	is.Equal(data["frame"], 480.0)
}

func TestClient_NotConnected(t *testing.T) {
	is := is.New(t)

	c := NewClient("ws://127.0.0.1:1", "", discard())
	is.Equal(c.Send(control.Command{Type: control.TypePing}), ErrNotConnected)
	_, err := c.Read()
	is.Equal(err, ErrNotConnected)
	is.NoErr(c.Close()) // closing an unconnected client is a no-op
}

func TestClient_WatchStopsWithContext(t *testing.T) {
	is := is.New(t)
	s, _, url := newServer(t, "")

	peaks := make(chan mix.PeakSnapshot)
	bctx, bcancel := context.WithCancel(context.Background())
	defer bcancel()
	go s.Broadcast(bctx, peaks)

	got := make(chan control.Reply, 1)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	c := NewClient(url, "", discard())
	go func() {
		done <- c.Watch(ctx, func(r control.Reply) {
			select {
			case got <- r:
			default:
			}
		})
	}()

	deadline := time.Now().Add(5 * time.Second)
	for s.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	is.Equal(s.Clients(), 1) // watcher connected

	peaks <- mix.PeakSnapshot{Left: 1}
	select {
	case r := <-got:
		is.Equal(r.Type, control.TypePeak)
	case <-time.After(5 * time.Second):
		t.Fatal("no peak delivered")
	}

	cancel()
	select {
	case err := <-done:
		is.NoErr(err) // a cancelled watch ends cleanly
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return")
	}
}
