package providers

import (
	"fmt"

	"github.com/harunnryd/kata/pkg/adapters/stt"
	"github.com/harunnryd/kata/pkg/adapters/tts"
	"github.com/harunnryd/kata/pkg/configutil"
	"github.com/harunnryd/kata/pkg/providers/deepgram"
	"github.com/harunnryd/kata/pkg/providers/elevenlabs"
	"github.com/harunnryd/kata/pkg/providers/mock"
	"github.com/harunnryd/kata/pkg/providers/piper"
	"github.com/harunnryd/kata/pkg/providers/whisper"
	"github.com/harunnryd/kata/pkg/registry"
)

// settingsSchemas lists the keys each provider accepts in endpoint
// settings. Validation runs before decoding so a typoed key fails at
// construction instead of silently falling back to a default. Mock is a
// scripted fake; its fields are set in code, not from config.
var settingsSchemas = map[string]configutil.Schema{
	"whisper":    {Optional: []string{"language", "temperature", "timeout"}},
	"deepgram":   {Optional: []string{"model", "language", "sample_rate", "smart_format"}},
	"piper":      {Optional: []string{"voice", "timeout"}},
	"elevenlabs": {Optional: []string{"voice_id", "model_id", "stability", "similarity"}},
	"mock":       {AllowUnknown: true},
}

func validateSettings(ep registry.Endpoint) error {
	schema, ok := settingsSchemas[ep.Provider]
	if !ok {
		return nil
	}
	if err := configutil.ValidateSettings(ep.Settings, schema); err != nil {
		return fmt.Errorf("%s settings: %w", ep.Provider, err)
	}
	return nil
}

// NewTranscriber builds the recognition adapter for a resolved endpoint.
// Endpoint settings are validated against the provider's schema, then
// decoded into the vendor's own config struct, so unknown keys surface at
// construction time rather than mid-call.
func NewTranscriber(ep registry.Endpoint) (stt.Transcriber, error) {
	if err := validateSettings(ep); err != nil {
		return nil, err
	}
	switch ep.Provider {
	case "whisper":
		cfg := whisper.Config{BaseURL: ep.BaseURL}
		if err := configutil.DecodeSettings(ep.Settings, &cfg); err != nil {
			return nil, fmt.Errorf("whisper settings: %w", err)
		}
		return whisper.New(cfg), nil
	case "deepgram":
		cfg := deepgram.Config{APIKey: ep.APIKey, SampleRate: ep.SampleRate}
		if err := configutil.DecodeSettings(ep.Settings, &cfg); err != nil {
			return nil, fmt.Errorf("deepgram settings: %w", err)
		}
		return deepgram.New(cfg), nil
	case "mock":
		cfg := mock.STTConfig{}
		if err := configutil.DecodeSettings(ep.Settings, &cfg); err != nil {
			return nil, fmt.Errorf("mock settings: %w", err)
		}
		return mock.NewSTT(cfg), nil
	}
	return nil, fmt.Errorf("no stt adapter for provider %q", ep.Provider)
}

// NewSynthesizer builds the synthesis adapter for a resolved endpoint.
func NewSynthesizer(ep registry.Endpoint) (tts.Synthesizer, error) {
	if err := validateSettings(ep); err != nil {
		return nil, err
	}
	switch ep.Provider {
	case "piper":
		cfg := piper.Config{BaseURL: ep.BaseURL}
		if err := configutil.DecodeSettings(ep.Settings, &cfg); err != nil {
			return nil, fmt.Errorf("piper settings: %w", err)
		}
		return piper.New(cfg), nil
	case "elevenlabs":
		cfg := elevenlabs.Config{APIKey: ep.APIKey}
		if err := configutil.DecodeSettings(ep.Settings, &cfg); err != nil {
			return nil, fmt.Errorf("elevenlabs settings: %w", err)
		}
		return elevenlabs.New(cfg), nil
	case "mock":
		cfg := mock.TTSConfig{}
		if err := configutil.DecodeSettings(ep.Settings, &cfg); err != nil {
			return nil, fmt.Errorf("mock settings: %w", err)
		}
		return mock.NewTTS(cfg), nil
	}
	return nil, fmt.Errorf("no tts adapter for provider %q", ep.Provider)
}
