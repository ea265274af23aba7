package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/kata/pkg/adapters/stt"
	"github.com/harunnryd/kata/pkg/codec"
)

// STTConfig scripts a fake recognizer for tests and dry runs.
type STTConfig struct {
	Transcript string
	// Err, when set, fails every call.
	Err error
	// FailFirst fails the first N calls before succeeding, for exercising
	// failover ordering.
	FailFirst int
	FailWith  error
	// Delay simulates provider latency.
	Delay func(ctx context.Context) error
}

type Transcriber struct {
	cfg STTConfig

	mu    sync.Mutex
	calls int
	// last payload/format received, for assertions.
	lastPayload []byte
	lastFormat  codec.Format
}

func NewSTT(cfg STTConfig) *Transcriber {
	if cfg.Transcript == "" && cfg.Err == nil {
		cfg.Transcript = "mock transcript"
	}
	return &Transcriber{cfg: cfg}
}

func (t *Transcriber) Name() string { return "mock_stt" }

func (t *Transcriber) Transcribe(ctx context.Context, payload []byte, format codec.Format) (stt.Transcript, error) {
	if t.cfg.Delay != nil {
		if err := t.cfg.Delay(ctx); err != nil {
			return stt.Transcript{}, err
		}
	}
	t.mu.Lock()
	t.calls++
	calls := t.calls
	t.lastPayload = append([]byte(nil), payload...)
	t.lastFormat = format
	t.mu.Unlock()

	if t.cfg.Err != nil {
		return stt.Transcript{}, t.cfg.Err
	}
	if calls <= t.cfg.FailFirst {
		return stt.Transcript{}, t.cfg.FailWith
	}
	return stt.Transcript{Text: t.cfg.Transcript, Confidence: 0.99}, nil
}

func (t *Transcriber) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}

func (t *Transcriber) LastFormat() codec.Format {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastFormat
}

func (t *Transcriber) LastPayload() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastPayload
}

var _ stt.Transcriber = (*Transcriber)(nil)
