package providers

import (
	"strings"
	"testing"

	"github.com/harunnryd/kata/pkg/registry"
)

func TestTranscriberRejectsMisspelledSetting(t *testing.T) {
	ep := registry.Endpoint{
		Role:     registry.RoleSTT,
		Provider: "whisper",
		BaseURL:  "http://localhost:8080",
		Settings: map[string]any{"language": "en", "temperture": 0.2},
	}
	_, err := NewTranscriber(ep)
	if err == nil {
		t.Fatalf("misspelled setting must fail construction")
	}
	if !strings.Contains(err.Error(), "temperture") {
		t.Fatalf("error does not name the offending key: %v", err)
	}
}

func TestTranscriberAcceptsKnownSettings(t *testing.T) {
	ep := registry.Endpoint{
		Role:     registry.RoleSTT,
		Provider: "deepgram",
		APIKey:   "key",
		Settings: map[string]any{"model": "nova-2", "smart_format": true},
	}
	if _, err := NewTranscriber(ep); err != nil {
		t.Fatalf("known settings rejected: %v", err)
	}
}

func TestSynthesizerRejectsMisspelledSetting(t *testing.T) {
	ep := registry.Endpoint{
		Role:     registry.RoleTTS,
		Provider: "elevenlabs",
		APIKey:   "key",
		Settings: map[string]any{"voiceid": "abc", "stabilty": 0.4},
	}
	// voiceid matches voice_id under key normalization; only the
	// misspelled key may be reported.
	_, err := NewSynthesizer(ep)
	if err == nil {
		t.Fatalf("misspelled setting must fail construction")
	}
	if !strings.Contains(err.Error(), "stabilty") || strings.Contains(err.Error(), "voiceid") {
		t.Fatalf("wrong keys reported: %v", err)
	}
}

func TestMockSettingsAreNotSchemaChecked(t *testing.T) {
	ep := registry.Endpoint{
		Role:     registry.RoleSTT,
		Provider: "mock",
		Settings: map[string]any{"transcript": "hello", "failfirst": 1},
	}
	if _, err := NewTranscriber(ep); err != nil {
		t.Fatalf("mock settings rejected: %v", err)
	}
}
