package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/matryer/is"

	"github.com/chriscow/soundmix/pkg/plugin"
)

func TestNewSpeech_Configuration(t *testing.T) {
	is := is.New(t)

	_, err := NewSpeech(Config{}, nil)
	is.True(err != nil) // API key is required

	_, err = NewSpeech(Config{APIKey: "k", Speed: 9}, nil)
	is.True(err != nil) // speed out of range

	s, err := NewSpeech(Config{APIKey: "k"}, nil)
	is.NoErr(err)
	is.Equal(s.model, "tts-1")
	is.Equal(s.voice, "alloy")
}

func TestSpeech_Synthesize(t *testing.T) {
	is := is.New(t)

	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("ID3fake"))
	}))
	defer srv.Close()

	s, err := NewSpeech(Config{APIKey: "k", Voice: "nova", BaseURL: srv.URL}, nil)
	is.NoErr(err)

	rc, ext, err := s.Synthesize(context.Background(), "ball dropped")
	is.NoErr(err)
	defer rc.Close()

	body, err := io.ReadAll(rc)
	is.NoErr(err)
	is.Equal(string(body), "ID3fake")
	is.Equal(ext, ".mp3")
	is.Equal(got["input"], "ball dropped")
	is.Equal(got["voice"], "nova")
	is.Equal(got["response_format"], "mp3")

	_, _, err = s.Synthesize(context.Background(), "")
	is.True(err != nil) // empty text is rejected
}

func TestPluginRegistered(t *testing.T) {
	is := is.New(t)

	t.Setenv("OPENAI_API_KEY", "from-env")
	synth, err := plugin.Build[*Speech](plugin.Default, plugin.KindSynth, "openai", map[string]any{"voice": "echo"})
	is.NoErr(err)
	is.Equal(synth.voice, "echo")
}
