package tts

import (
	"context"
	"io"
	"sync"

	"github.com/harunnryd/kata/pkg/codec"
)

// ClipStream wraps one complete encoded clip as a single-chunk Stream, for
// vendors that render the whole utterance before responding.
type ClipStream struct {
	clip   []byte
	format codec.Format
	rate   int
	done   bool
}

func NewClipStream(clip []byte, format codec.Format, sampleRate int) *ClipStream {
	return &ClipStream{clip: clip, format: format, rate: sampleRate}
}

func (c *ClipStream) Format() codec.Format { return c.format }
func (c *ClipStream) SampleRate() int      { return c.rate }

func (c *ClipStream) Next(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if c.done || len(c.clip) == 0 {
		return nil, io.EOF
	}
	c.done = true
	return c.clip, nil
}

func (c *ClipStream) Close() error { return nil }

// ChanStream adapts a producer goroutine into a Stream. The producer pushes
// chunks, then calls Finish exactly once with its terminal error (nil for a
// clean end of stream).
type ChanStream struct {
	ch     chan []byte
	format codec.Format
	rate   int

	mu        sync.Mutex
	err       error
	closed    chan struct{}
	once      sync.Once
	closeOnce sync.Once
}

func NewChanStream(format codec.Format, sampleRate, buffer int) *ChanStream {
	if buffer <= 0 {
		buffer = 64
	}
	return &ChanStream{
		ch:     make(chan []byte, buffer),
		format: format,
		rate:   sampleRate,
		closed: make(chan struct{}),
	}
}

func (s *ChanStream) Format() codec.Format { return s.format }
func (s *ChanStream) SampleRate() int      { return s.rate }

// Push delivers one chunk; it returns false once the consumer has closed.
func (s *ChanStream) Push(chunk []byte) bool {
	select {
	case s.ch <- chunk:
		return true
	case <-s.closed:
		return false
	}
}

// Finish ends the stream. err is what Next reports after the queued chunks
// drain; nil means a clean EOF.
func (s *ChanStream) Finish(err error) {
	s.once.Do(func() {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.ch)
	})
}

func (s *ChanStream) Next(ctx context.Context) ([]byte, error) {
	select {
	case chunk, ok := <-s.ch:
		if !ok {
			s.mu.Lock()
			defer s.mu.Unlock()
			if s.err != nil {
				return nil, s.err
			}
			return nil, io.EOF
		}
		return chunk, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Closed reports whether the consumer abandoned the stream; producers use it
// to stop early.
func (s *ChanStream) Closed() <-chan struct{} { return s.closed }

func (s *ChanStream) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

var (
	_ Stream = (*ClipStream)(nil)
	_ Stream = (*ChanStream)(nil)
)
