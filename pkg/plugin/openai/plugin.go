package openai

import (
	"os"

	"github.com/chriscow/soundmix/pkg/plugin"
)

// newSpeech is the factory function for the OpenAI synthesizer.
func newSpeech(cfg map[string]any) (any, error) {
	config := Config{}

	// Get API key from config or environment
	if apiKey, ok := cfg["api_key"].(string); ok {
		config.APIKey = apiKey
	} else {
		config.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if model, ok := cfg["model"].(string); ok {
		config.Model = model
	}
	if voice, ok := cfg["voice"].(string); ok {
		config.Voice = voice
	}
	if speed, ok := cfg["speed"].(float64); ok {
		config.Speed = speed
	}
	if baseURL, ok := cfg["base_url"].(string); ok {
		config.BaseURL = baseURL
	}

	return NewSpeech(config, nil)
}

func init() {
	plugin.RegisterWithMetadata(&plugin.Plugin{
		Kind:        plugin.KindSynth,
		Name:        "openai",
		Factory:     newSpeech,
		Description: "OpenAI text-to-speech for spoken prompts",
		Config: map[string]any{
			"api_key": "OpenAI API key (or set OPENAI_API_KEY env var)",
			"model":   "tts-1",
			"voice":   "alloy",
			"speed":   1.0,
		},
	})
}
