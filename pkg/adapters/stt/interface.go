package stt

import (
	"context"

	"github.com/harunnryd/kata/pkg/codec"
)

// Transcriber defines the contract for any STT vendor implementation. One
// call transcribes one complete utterance; failover across vendors is the
// dispatcher's job, not the adapter's.
type Transcriber interface {
	// Name returns adapter name for logging/metrics.
	Name() string
	// Transcribe converts one encoded utterance into text. The payload is
	// already in a format the adapter declared support for.
	Transcribe(ctx context.Context, payload []byte, format codec.Format) (Transcript, error)
}

// Transcript is the result of one recognition call. Empty text with a nil
// error means the service heard nothing intelligible.
type Transcript struct {
	Text       string
	Language   string
	Confidence float64
}

// Config contains vendor-agnostic STT configuration.
type Config struct {
	SampleRate int
	Language   string
}
