package playback

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/kata/pkg/audio"
	"github.com/harunnryd/kata/pkg/device"
	"github.com/harunnryd/kata/pkg/errorsx"
	"github.com/harunnryd/kata/pkg/logging"
	"github.com/harunnryd/kata/pkg/metrics"
)

// ChunkSource yields decoded PCM chunks incrementally; the full audio need
// not exist yet. Next returns io.EOF after the final chunk.
type ChunkSource interface {
	Next(ctx context.Context) (audio.Chunk, error)
}

// Config tunes one playback session.
type Config struct {
	// BufferThreshold is how much audio must be queued before the first
	// write to the sink; it absorbs producer jitter without a noticeable
	// start delay.
	BufferThreshold time.Duration
	// MaxStarvation is how long the consumer tolerates an empty queue
	// before declaring a fatal underrun.
	MaxStarvation time.Duration
	QueueCapacity int
}

func (c Config) withDefaults() Config {
	if c.BufferThreshold <= 0 {
		c.BufferThreshold = 160 * time.Millisecond
	}
	if c.MaxStarvation <= 0 {
		c.MaxStarvation = 2 * time.Second
	}
	if c.QueueCapacity <= 0 {
		c.QueueCapacity = 64
	}
	return c
}

// Streamer feeds a sink from an incremental source through a bounded queue:
// one producer goroutine pulling chunks, one consumer goroutine draining to
// the device, chunk ownership handed off through the channel.
type Streamer struct {
	cfg    Config
	obs    metrics.Observer
	logger *slog.Logger
}

func NewStreamer(cfg Config, obs metrics.Observer) *Streamer {
	return &Streamer{
		cfg:    cfg.withDefaults(),
		obs:    obs,
		logger: logging.NewComponentLogger(slog.Default(), "playback"),
	}
}

// Handle tracks one in-flight playback session.
type Handle struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	err       error
	firstAt   time.Time
	startedAt time.Time
	cancelled bool
}

// Cancel immediately stops the consumer and discards queued chunks. It is a
// normal terminal state, not an error.
func (h *Handle) Cancel() {
	h.mu.Lock()
	h.cancelled = true
	h.mu.Unlock()
	h.cancel()
}

// Wait blocks until the session drains, fails, or is cancelled.
func (h *Handle) Wait() error {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancelled {
		return nil
	}
	return h.err
}

// Done exposes the completion channel for select loops.
func (h *Handle) Done() <-chan struct{} { return h.done }

// TimeToFirstAudio reports latency from stream start to the first chunk
// handed to the sink. ok is false if no audio was ever emitted.
func (h *Handle) TimeToFirstAudio() (time.Duration, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.firstAt.IsZero() {
		return 0, false
	}
	return h.firstAt.Sub(h.startedAt), true
}

// Stream starts a playback session. The sink must already be acquired by the
// caller; it is started here and drained/closed on every exit path.
func (s *Streamer) Stream(ctx context.Context, sink device.Sink, src ChunkSource) (*Handle, error) {
	if err := sink.Start(ctx); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonDeviceOpen)
	}

	sctx, cancel := context.WithCancel(ctx)
	h := &Handle{
		id:        uuid.NewString(),
		cancel:    cancel,
		done:      make(chan struct{}),
		startedAt: time.Now(),
	}

	queue := make(chan audio.Chunk, s.cfg.QueueCapacity)
	prodErr := make(chan error, 1)

	go s.produce(sctx, src, queue, prodErr)
	go s.consume(sctx, h, sink, queue, prodErr)

	s.logger.Info("playback session started",
		slog.String("session_id", h.id),
		slog.Duration("buffer_threshold", s.cfg.BufferThreshold))
	return h, nil
}

func (s *Streamer) produce(ctx context.Context, src ChunkSource, queue chan<- audio.Chunk, prodErr chan<- error) {
	defer close(queue)
	for {
		chunk, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				prodErr <- nil
			} else if ctx.Err() != nil {
				prodErr <- errorsx.Wrap(ctx.Err(), errorsx.ReasonCancelled)
			} else {
				prodErr <- err
			}
			return
		}
		if chunk.Empty() {
			continue
		}
		select {
		case queue <- chunk:
		case <-ctx.Done():
			prodErr <- errorsx.Wrap(ctx.Err(), errorsx.ReasonCancelled)
			return
		}
	}
}

func (s *Streamer) consume(ctx context.Context, h *Handle, sink device.Sink, queue <-chan audio.Chunk, prodErr <-chan error) {
	var finalErr error
	defer func() {
		if ctx.Err() == nil && finalErr == nil {
			_ = sink.Drain()
		}
		// The session context must end with the consumer on every exit
		// path, or a producer blocked in Next or on a full queue never
		// returns.
		h.cancel()
		_ = sink.Close()
		h.mu.Lock()
		if finalErr != nil && !h.cancelled {
			h.err = finalErr
		}
		h.mu.Unlock()
		close(h.done)
	}()

	// Pre-buffer until the threshold is queued or the producer finishes;
	// when the whole clip is shorter than the threshold everything plays
	// immediately.
	var pending []audio.Chunk
	var buffered time.Duration
	queueOpen := true
	for buffered < s.cfg.BufferThreshold && queueOpen {
		select {
		case c, ok := <-queue:
			if !ok {
				queueOpen = false
				break
			}
			pending = append(pending, c)
			buffered += c.Duration()
		case <-ctx.Done():
			finalErr = errorsx.Wrap(ctx.Err(), errorsx.ReasonCancelled)
			return
		}
	}

	write := func(c audio.Chunk) bool {
		if err := sink.Write(ctx, c); err != nil {
			finalErr = err
			return false
		}
		h.mu.Lock()
		if h.firstAt.IsZero() {
			h.firstAt = time.Now()
			ttfa := h.firstAt.Sub(h.startedAt)
			h.mu.Unlock()
			s.logger.Info("first audio emitted",
				slog.String("session_id", h.id),
				slog.Duration("ttfa", ttfa))
			metrics.Record(s.obs, metrics.Event{
				Name:  metrics.EventTimeToFirstAudio,
				Value: ttfa.Seconds(),
				Tags:  map[string]string{"session_id": h.id},
			})
			return true
		}
		h.mu.Unlock()
		return true
	}

	for _, c := range pending {
		if ctx.Err() != nil {
			finalErr = errorsx.Wrap(ctx.Err(), errorsx.ReasonCancelled)
			return
		}
		if !write(c) {
			return
		}
	}
	pending = nil

	starve := time.NewTimer(s.cfg.MaxStarvation)
	defer starve.Stop()
	for queueOpen {
		select {
		case c, ok := <-queue:
			if !ok {
				queueOpen = false
				break
			}
			if !write(c) {
				return
			}
			// Any delivered chunk resets the starvation window; an empty
			// queue is temporary starvation, not end of stream.
			if !starve.Stop() {
				select {
				case <-starve.C:
				default:
				}
			}
			starve.Reset(s.cfg.MaxStarvation)
		case <-starve.C:
			finalErr = errorsx.Errorf(errorsx.ReasonUnderrun,
				"playback starved for %s", s.cfg.MaxStarvation)
			metrics.Record(s.obs, metrics.Event{
				Name: metrics.EventPlaybackUnderrun,
				Tags: map[string]string{"session_id": h.id},
			})
			return
		case <-ctx.Done():
			finalErr = errorsx.Wrap(ctx.Err(), errorsx.ReasonCancelled)
			return
		}
	}

	if err := <-prodErr; err != nil && ctx.Err() == nil {
		finalErr = err
		return
	}
	s.logger.Info("playback session drained",
		slog.String("session_id", h.id))
	metrics.Record(s.obs, metrics.Event{
		Name: metrics.EventPlaybackComplete,
		Tags: map[string]string{"session_id": h.id},
	})
}

// BufferedSource adapts a fully-decoded buffer into a ChunkSource, the
// fallback for containers that cannot be decoded incrementally. Next is
// not safe for concurrent use; a source belongs to a single consumer.
type BufferedSource struct {
	chunks []audio.Chunk
	pos    int
}

func NewBufferedSource(buf *audio.Buffer, chunkDur time.Duration) *BufferedSource {
	if chunkDur <= 0 {
		chunkDur = 20 * time.Millisecond
	}
	return &BufferedSource{chunks: buf.Chunks(chunkDur)}
}

func (b *BufferedSource) Next(ctx context.Context) (audio.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return audio.Chunk{}, err
	}
	if b.pos >= len(b.chunks) {
		return audio.Chunk{}, io.EOF
	}
	c := b.chunks[b.pos]
	b.pos++
	return c, nil
}

// ChannelSource adapts a channel of chunks into a ChunkSource; closing the
// channel ends the stream.
type ChannelSource struct {
	Ch <-chan audio.Chunk
}

func (c ChannelSource) Next(ctx context.Context) (audio.Chunk, error) {
	select {
	case chunk, ok := <-c.Ch:
		if !ok {
			return audio.Chunk{}, io.EOF
		}
		return chunk, nil
	case <-ctx.Done():
		return audio.Chunk{}, ctx.Err()
	}
}
