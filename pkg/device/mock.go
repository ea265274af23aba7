package device

import (
	"context"
	"sync"
	"time"

	"github.com/harunnryd/kata/pkg/audio"
	"github.com/harunnryd/kata/pkg/errorsx"
)

// ScriptedSource replays a fixed sequence of chunks, optionally pacing them
// at real time. After the script is exhausted it keeps yielding silence so a
// recorder sees open-ended ambient input, unless FailAfter is set.
type ScriptedSource struct {
	rate     int
	chunkDur time.Duration
	realtime bool

	mu       sync.Mutex
	script   []audio.Chunk
	pos      int
	started  bool
	failWith error
	// FailAfter > 0 makes Read return failWith once pos reaches it.
	failAfter int
}

func NewScriptedSource(rate int, chunkDur time.Duration, script []audio.Chunk) *ScriptedSource {
	return &ScriptedSource{rate: rate, chunkDur: chunkDur, script: script}
}

func (s *ScriptedSource) SetRealtime(v bool) { s.realtime = v }

func (s *ScriptedSource) FailAfter(n int, err error) {
	s.mu.Lock()
	s.failAfter = n
	s.failWith = err
	s.mu.Unlock()
}

func (s *ScriptedSource) Rate() int                    { return s.rate }
func (s *ScriptedSource) ChunkDuration() time.Duration { return s.chunkDur }

func (s *ScriptedSource) Start(ctx context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *ScriptedSource) Read(ctx context.Context) (audio.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return audio.Chunk{}, errorsx.Wrap(err, errorsx.ReasonCancelled)
	}
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return audio.Chunk{}, errorsx.Errorf(errorsx.ReasonDeviceRead, "source not started")
	}
	if s.failWith != nil && s.failAfter > 0 && s.pos >= s.failAfter {
		err := s.failWith
		s.mu.Unlock()
		return audio.Chunk{}, err
	}
	var c audio.Chunk
	if s.pos < len(s.script) {
		c = s.script[s.pos]
	} else {
		samples := int(s.chunkDur.Seconds() * float64(s.rate))
		c = audio.NewChunk(make([]byte, samples*2), s.rate, 1)
	}
	s.pos++
	s.mu.Unlock()

	if s.realtime {
		select {
		case <-time.After(s.chunkDur):
		case <-ctx.Done():
			return audio.Chunk{}, errorsx.Wrap(ctx.Err(), errorsx.ReasonCancelled)
		}
	}
	return c, nil
}

func (s *ScriptedSource) Close() error {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

// CaptureSink records every write with its timestamp for assertions.
type CaptureSink struct {
	rate int

	mu      sync.Mutex
	chunks  []audio.Chunk
	stamps  []time.Time
	drained bool
	started bool
	// WriteDelay simulates a slow device.
	WriteDelay time.Duration
	failWith   error
}

func NewCaptureSink(rate int) *CaptureSink {
	return &CaptureSink{rate: rate}
}

func (s *CaptureSink) FailWith(err error) {
	s.mu.Lock()
	s.failWith = err
	s.mu.Unlock()
}

func (s *CaptureSink) Rate() int { return s.rate }

func (s *CaptureSink) Start(ctx context.Context) error {
	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	return nil
}

func (s *CaptureSink) Write(ctx context.Context, c audio.Chunk) error {
	if err := ctx.Err(); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCancelled)
	}
	if s.WriteDelay > 0 {
		time.Sleep(s.WriteDelay)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return errorsx.Errorf(errorsx.ReasonDeviceWrite, "sink not started")
	}
	if s.failWith != nil {
		return s.failWith
	}
	s.chunks = append(s.chunks, c)
	s.stamps = append(s.stamps, time.Now())
	return nil
}

func (s *CaptureSink) Drain() error {
	s.mu.Lock()
	s.drained = true
	s.mu.Unlock()
	return nil
}

func (s *CaptureSink) Close() error {
	s.mu.Lock()
	s.started = false
	s.mu.Unlock()
	return nil
}

func (s *CaptureSink) Chunks() []audio.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audio.Chunk(nil), s.chunks...)
}

func (s *CaptureSink) Stamps() []time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Time(nil), s.stamps...)
}

func (s *CaptureSink) Drained() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drained
}

// Written returns total PCM bytes handed to the sink.
func (s *CaptureSink) Written() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, c := range s.chunks {
		n += len(c.RawPayload())
	}
	return n
}

// FirstWrite returns the timestamp of the first chunk, or zero.
func (s *CaptureSink) FirstWrite() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stamps) == 0 {
		return time.Time{}
	}
	return s.stamps[0]
}

var (
	_ Source = (*ScriptedSource)(nil)
	_ Sink   = (*CaptureSink)(nil)
)
