// Package openai provides a speech synthesizer backed by the OpenAI
// text-to-speech API. Synthesized speech is requested as MP3 and decoded by the
// asset loader like any other clip.
package openai

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Config holds configuration for the OpenAI speech synthesizer.
type Config struct {
	APIKey  string  `json:"api_key" yaml:"api_key"`
	Model   string  `json:"model" yaml:"model"` // Default: tts-1
	Voice   string  `json:"voice" yaml:"voice"` // Default: alloy
	Speed   float64 `json:"speed" yaml:"speed"` // 0.25 to 4.0, 0 means the API default
	BaseURL string  `json:"base_url" yaml:"base_url"`
}

// Speech synthesizes spoken prompts.
type Speech struct {
	client *openai.Client
	model  string
	voice  string
	speed  float64
	logger *slog.Logger
}

// NewSpeech creates a synthesizer.
func NewSpeech(cfg Config, logger *slog.Logger) (*Speech, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}
	if cfg.Speed != 0 && (cfg.Speed < 0.25 || cfg.Speed > 4) {
		return nil, fmt.Errorf("speech speed must be between 0.25 and 4, got %g", cfg.Speed)
	}
	if logger == nil {
		logger = slog.Default()
	}

	model := cfg.Model
	if model == "" {
		model = string(openai.TTSModel1)
	}
	voice := cfg.Voice
	if voice == "" {
		voice = string(openai.VoiceAlloy)
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}

	return &Speech{
		client: openai.NewClientWithConfig(clientCfg),
		model:  model,
		voice:  voice,
		speed:  cfg.Speed,
		logger: logger.With("synth", "openai"),
	}, nil
}

// Synthesize requests MP3 speech for text. The caller closes the stream.
func (s *Speech) Synthesize(ctx context.Context, text string) (io.ReadCloser, string, error) {
	if text == "" {
		return nil, "", fmt.Errorf("nothing to synthesize")
	}

	start := time.Now()
	req := openai.CreateSpeechRequest{
		Model:          openai.SpeechModel(s.model),
		Input:          text,
		Voice:          openai.SpeechVoice(s.voice),
		ResponseFormat: openai.SpeechResponseFormatMp3,
	}
	if s.speed > 0 {
		req.Speed = s.speed
	}

	resp, err := s.client.CreateSpeech(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("create speech: %w", err)
	}

	s.logger.Debug("speech synthesized", "model", s.model, "voice", s.voice, "elapsed", time.Since(start))
	return resp, ".mp3", nil
}
