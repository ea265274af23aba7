package registry

import (
	"fmt"
	"sync"

	"github.com/harunnryd/kata/pkg/codec"
)

// Registry holds the ordered endpoint lists for each role. Order is the
// failover order; the first endpoint is always tried first. The lists are
// immutable after construction; Refresh swaps the whole registry between
// turns rather than mutating in place.
type Registry struct {
	mu  sync.RWMutex
	stt []Endpoint
	tts []Endpoint
}

// Spec is the raw, config-shaped description of one endpoint before
// resolution.
type Spec struct {
	Role       Role
	Provider   string
	BaseURL    string
	APIKey     string
	Formats    []string
	SampleRate int
	Settings   map[string]any
}

// New resolves specs into an immutable registry. Provider identity comes
// from the spec when given, otherwise from the static host/path table.
// Formats default to the provider's conventional wire format when omitted.
func New(specs []Spec) (*Registry, error) {
	r := &Registry{}
	for i, sp := range specs {
		ep, err := resolve(sp)
		if err != nil {
			return nil, fmt.Errorf("endpoint %d: %w", i, err)
		}
		switch ep.Role {
		case RoleSTT:
			r.stt = append(r.stt, ep)
		case RoleTTS:
			r.tts = append(r.tts, ep)
		default:
			return nil, fmt.Errorf("endpoint %d: unknown role %q", i, sp.Role)
		}
	}
	return r, nil
}

func resolve(sp Spec) (Endpoint, error) {
	if sp.BaseURL == "" {
		return Endpoint{}, fmt.Errorf("url is required")
	}
	provider := sp.Provider
	if provider == "" {
		inferred, err := InferProvider(sp.BaseURL)
		if err != nil {
			return Endpoint{}, err
		}
		provider = inferred
	}
	formats := make([]codec.Format, 0, len(sp.Formats))
	for _, f := range sp.Formats {
		ff := codec.Format(f)
		if !codec.Known(ff) {
			return Endpoint{}, fmt.Errorf("unknown format %q", f)
		}
		formats = append(formats, ff)
	}
	if len(formats) == 0 {
		formats = defaultFormats(provider)
	}
	return Endpoint{
		Role:       sp.Role,
		Provider:   provider,
		BaseURL:    sp.BaseURL,
		APIKey:     sp.APIKey,
		Formats:    formats,
		SampleRate: sp.SampleRate,
		Settings:   sp.Settings,
	}, nil
}

// defaultFormats is each provider's conventional wire format preference.
func defaultFormats(provider string) []codec.Format {
	switch provider {
	case "whisper":
		return []codec.Format{codec.FormatWAV}
	case "deepgram":
		return []codec.Format{codec.FormatWAV, codec.FormatPCM16}
	case "piper":
		return []codec.Format{codec.FormatWAV}
	case "elevenlabs":
		return []codec.Format{codec.FormatPCM16, codec.FormatMP3}
	default:
		return []codec.Format{codec.FormatWAV}
	}
}

// Endpoints returns the failover-ordered list for a role. Callers must not
// mutate the returned slice.
func (r *Registry) Endpoints(role Role) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch role {
	case RoleSTT:
		return r.stt
	case RoleTTS:
		return r.tts
	}
	return nil
}

// Refresh replaces both endpoint lists. It only takes effect for turns that
// start after the call; in-flight dispatches keep the list they snapshotted.
func (r *Registry) Refresh(specs []Spec) error {
	next, err := New(specs)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.stt = next.stt
	r.tts = next.tts
	r.mu.Unlock()
	return nil
}
