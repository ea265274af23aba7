package registry

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/harunnryd/kata/pkg/codec"
)

// Role separates recognition endpoints from synthesis endpoints.
type Role string

const (
	RoleSTT Role = "stt"
	RoleTTS Role = "tts"
)

// Endpoint is an immutable descriptor of one configured speech service. It
// is resolved once when the registry is constructed; nothing re-derives
// provider identity at call time.
type Endpoint struct {
	Role     Role
	Provider string
	BaseURL  string
	APIKey   string
	// Formats is the endpoint's declared support, in the endpoint's own
	// preference order. Dispatch transcodes per endpoint to the first
	// format both sides understand.
	Formats []codec.Format
	// SampleRate the provider expects for raw payloads; 0 means any.
	SampleRate int
	// Settings carries provider-specific knobs (voice, model, ...).
	Settings map[string]any
}

// Label identifies the endpoint in logs and failure reports.
func (e Endpoint) Label() string {
	return fmt.Sprintf("%s/%s(%s)", e.Role, e.Provider, e.BaseURL)
}

// Supports reports whether the endpoint declared the format.
func (e Endpoint) Supports(f codec.Format) bool {
	for _, have := range e.Formats {
		if have == f {
			return true
		}
	}
	return false
}

// hostProviders maps well-known API hosts to provider identities. The table
// is consulted once at registry construction when the config omits an
// explicit provider name.
var hostProviders = map[string]string{
	"api.deepgram.com":     "deepgram",
	"api.elevenlabs.io":    "elevenlabs",
	"api.us.elevenlabs.io": "elevenlabs",
}

// pathProviders resolves local inference servers by their route shape.
var pathProviders = []struct {
	fragment string
	provider string
}{
	{"/inference", "whisper"},
	{"/tts", "piper"},
}

// InferProvider resolves a provider identity from a base address. Explicit
// configuration always wins; this only backs unlabeled endpoints.
func InferProvider(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse endpoint url %q: %w", baseURL, err)
	}
	host := strings.ToLower(u.Hostname())
	if p, ok := hostProviders[host]; ok {
		return p, nil
	}
	for _, pp := range pathProviders {
		if strings.Contains(u.Path, pp.fragment) {
			return pp.provider, nil
		}
	}
	return "", fmt.Errorf("cannot infer provider for %q, set provider explicitly", baseURL)
}
