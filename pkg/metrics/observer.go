package metrics

import "time"

// Event is one structured measurement. Timing metrics the engine is required
// to expose (time-to-first-audio, recording duration, per-endpoint dispatch
// latency) all flow through this type so callers can query them instead of
// scraping logs.
type Event struct {
	Name   string
	Time   time.Time
	Value  float64
	Tags   map[string]string
	Fields map[string]any
}

// Well-known event names.
const (
	EventTimeToFirstAudio  = "tts_first_audio"
	EventPlaybackComplete  = "playback_complete"
	EventPlaybackUnderrun  = "playback_underrun"
	EventRecordingDuration = "recording_duration"
	EventDispatchAttempt   = "dispatch_attempt"
	EventDispatchLatency   = "dispatch_latency"
)

type Observer interface {
	RecordEvent(ev Event)
}

type Flusher interface {
	Flush() error
}

type NoopObserver struct{}

func (NoopObserver) RecordEvent(Event) {}

// Record is a nil-safe helper for optional observers.
func Record(obs Observer, ev Event) {
	if obs == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	obs.RecordEvent(ev)
}
