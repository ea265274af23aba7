package tts

import (
	"context"

	"github.com/harunnryd/kata/pkg/codec"
)

// Synthesizer defines the contract for any TTS vendor implementation.
type Synthesizer interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Synthesize starts converting text to audio. The returned stream
	// yields encoded chunks as the vendor produces them; vendors that can
	// only return a complete clip yield it as a single chunk.
	Synthesize(ctx context.Context, req Request) (Stream, error)
}

// Request describes one synthesis call.
type Request struct {
	Text   string
	Voice  string
	Format codec.Format
	// SampleRate of the requested output; 0 lets the vendor pick.
	SampleRate int
}

// Stream yields encoded audio incrementally. Next returns io.EOF after the
// final chunk. Close is idempotent and releases the vendor connection.
type Stream interface {
	Format() codec.Format
	SampleRate() int
	Next(ctx context.Context) ([]byte, error)
	Close() error
}

// Config contains vendor-agnostic TTS configuration.
type Config struct {
	SampleRate int
	Channels   int
}
