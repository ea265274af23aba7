package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/harunnryd/kata/pkg/adapters/stt"
	"github.com/harunnryd/kata/pkg/adapters/tts"
	"github.com/harunnryd/kata/pkg/audio"
	"github.com/harunnryd/kata/pkg/codec"
	"github.com/harunnryd/kata/pkg/errorsx"
	"github.com/harunnryd/kata/pkg/logging"
	"github.com/harunnryd/kata/pkg/metrics"
	"github.com/harunnryd/kata/pkg/playback"
	"github.com/harunnryd/kata/pkg/providers"
	"github.com/harunnryd/kata/pkg/registry"
	"github.com/harunnryd/kata/pkg/resilience"
)

// ErrorClass buckets attempt failures for failover decisions and reports.
type ErrorClass string

const (
	ClassOK           ErrorClass = "ok"
	ClassRefused      ErrorClass = "refused"
	ClassTimeout      ErrorClass = "timeout"
	ClassUnauthorized ErrorClass = "unauthorized"
	ClassRateLimited  ErrorClass = "rate_limited"
	ClassStatus       ErrorClass = "status"
	ClassOther        ErrorClass = "other"
)

// Attempt records one endpoint try within a dispatch, including endpoints
// skipped via the unreachable cache. A full failover report always carries
// one attempt per configured endpoint.
type Attempt struct {
	Endpoint string
	Provider string
	Class    ErrorClass
	Err      error
	Skipped  bool
	Latency  time.Duration
}

// ExhaustedError reports that every configured endpoint failed.
type ExhaustedError struct {
	Role     registry.Role
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		parts = append(parts, fmt.Sprintf("%s=%s", a.Provider, a.Class))
	}
	return fmt.Sprintf("all %s endpoints exhausted (%d attempts: %s)",
		e.Role, len(e.Attempts), strings.Join(parts, ", "))
}

// Config tunes the failover dispatcher.
type Config struct {
	// AttemptTimeout bounds each endpoint try; for synthesis it covers the
	// connection plus the first audio chunk.
	AttemptTimeout time.Duration
	// BreakerThreshold and BreakerCooldown configure the per-endpoint rate
	// limit breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration
	// RateLimitRetry re-runs a throttled attempt on the same endpoint before
	// the breaker and failover get involved.
	RateLimitRetry resilience.RetryPolicy

	// STTFactory and TTSFactory build adapters from endpoints; tests swap
	// them for scripted fakes.
	STTFactory func(registry.Endpoint) (stt.Transcriber, error)
	TTSFactory func(registry.Endpoint) (tts.Synthesizer, error)
}

func (c Config) withDefaults() Config {
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.RateLimitRetry.MaxRetries <= 0 {
		c.RateLimitRetry = resilience.NewRetryPolicy(1, 200*time.Millisecond)
	}
	if c.STTFactory == nil {
		c.STTFactory = providers.NewTranscriber
	}
	if c.TTSFactory == nil {
		c.TTSFactory = providers.NewSynthesizer
	}
	return c
}

// Dispatcher walks an ordered endpoint list until one answers. It never
// retries across vendors after a clean no-speech answer, and it remembers
// unreachable endpoints for the remainder of the turn so repeated dispatches
// do not pay the same connection timeout twice.
type Dispatcher struct {
	cfg    Config
	obs    metrics.Observer
	logger *slog.Logger

	mu          sync.Mutex
	unreachable map[string]ErrorClass
	breakers    map[string]*resilience.CircuitBreaker
}

func New(cfg Config, obs metrics.Observer) *Dispatcher {
	return &Dispatcher{
		cfg:         cfg.withDefaults(),
		obs:         obs,
		logger:      logging.NewComponentLogger(slog.Default(), "dispatch"),
		unreachable: make(map[string]ErrorClass),
		breakers:    make(map[string]*resilience.CircuitBreaker),
	}
}

// ResetTurn clears the unreachable cache. The engine calls it at each turn
// boundary; rate limit breakers deliberately survive turns.
func (d *Dispatcher) ResetTurn() {
	d.mu.Lock()
	d.unreachable = make(map[string]ErrorClass)
	d.mu.Unlock()
}

func (d *Dispatcher) breaker(label string) *resilience.CircuitBreaker {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.breakers[label]
	if !ok {
		b = resilience.NewCircuitBreaker(d.cfg.BreakerThreshold, d.cfg.BreakerCooldown)
		d.breakers[label] = b
	}
	return b
}

// skipClass reports whether the endpoint should be skipped without a network
// call, and the class to record for the synthetic attempt.
func (d *Dispatcher) skipClass(ep registry.Endpoint) (ErrorClass, bool) {
	d.mu.Lock()
	class, cached := d.unreachable[ep.Label()]
	d.mu.Unlock()
	if cached {
		return class, true
	}
	if !d.breaker(ep.Label()).Allow() {
		return ClassRateLimited, true
	}
	return "", false
}

func (d *Dispatcher) noteFailure(ep registry.Endpoint, class ErrorClass, err error) {
	switch class {
	case ClassRefused, ClassTimeout, ClassUnauthorized:
		d.mu.Lock()
		d.unreachable[ep.Label()] = class
		d.mu.Unlock()
	}
	d.breaker(ep.Label()).OnError(err)
}

// classify maps a raw adapter error to a failover class.
func classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ClassOK
	case resilience.IsRateLimit(err):
		return ClassRateLimited
	case errorsx.IsAuthStatus(err):
		return ClassUnauthorized
	case errorsx.StatusCode(err) > 0:
		return ClassStatus
	case errors.Is(err, context.DeadlineExceeded):
		return ClassTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return ClassRefused
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return ClassTimeout
	}
	var operr *net.OpError
	if errors.As(err, &operr) {
		return ClassRefused
	}
	return ClassOther
}

func (d *Dispatcher) recordAttempt(role registry.Role, a Attempt) {
	metrics.Record(d.obs, metrics.Event{
		Name:  metrics.EventDispatchAttempt,
		Value: a.Latency.Seconds(),
		Tags: map[string]string{
			"role":     string(role),
			"provider": a.Provider,
			"class":    string(a.Class),
		},
	})
}

// TranscriptResult is a successful recognition dispatch. Attempts holds the
// failures that preceded the success, in order.
type TranscriptResult struct {
	Text       string
	Confidence float64
	Provider   string
	Endpoint   string
	Attempts   []Attempt
	Latency    time.Duration
}

// Transcribe runs the utterance through the ordered endpoint list. The
// recording is transcoded at most once per wire format, no matter how many
// endpoints share it.
func (d *Dispatcher) Transcribe(ctx context.Context, rec *audio.Buffer, eps []registry.Endpoint) (*TranscriptResult, error) {
	if len(eps) == 0 {
		return nil, errorsx.Wrap(&ExhaustedError{Role: registry.RoleSTT}, errorsx.ReasonExhausted)
	}

	encoded := make(map[codec.Format][]byte)
	var attempts []Attempt
	for _, ep := range eps {
		att := Attempt{Endpoint: ep.Label(), Provider: ep.Provider}
		if class, skip := d.skipClass(ep); skip {
			att.Skipped = true
			att.Class = class
			attempts = append(attempts, att)
			d.recordAttempt(registry.RoleSTT, att)
			continue
		}

		format := ep.Formats[0]
		payload, ok := encoded[format]
		if !ok {
			var err error
			payload, err = codec.Encode(rec, format)
			if err != nil {
				att.Class = ClassOther
				att.Err = errorsx.Wrap(err, errorsx.ReasonFormatUnsupported)
				attempts = append(attempts, att)
				d.recordAttempt(registry.RoleSTT, att)
				continue
			}
			encoded[format] = payload
		}

		tr, err := d.cfg.STTFactory(ep)
		if err != nil {
			att.Class = ClassOther
			att.Err = err
			attempts = append(attempts, att)
			d.recordAttempt(registry.RoleSTT, att)
			continue
		}

		actx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
		started := time.Now()
		res, err := tr.Transcribe(actx, payload, format)
		if resilience.IsRateLimit(err) {
			err = d.cfg.RateLimitRetry.Do(actx, func() error {
				var rerr error
				res, rerr = tr.Transcribe(actx, payload, format)
				return rerr
			})
		}
		cancel()
		att.Latency = time.Since(started)

		if err != nil {
			if ctx.Err() != nil {
				return nil, errorsx.Wrap(ctx.Err(), errorsx.ReasonCancelled)
			}
			att.Class = classify(err)
			att.Err = err
			d.noteFailure(ep, att.Class, err)
			attempts = append(attempts, att)
			d.recordAttempt(registry.RoleSTT, att)
			d.logger.Warn("stt endpoint failed",
				slog.String("endpoint", ep.Label()),
				slog.String("class", string(att.Class)),
				slog.String("error", err.Error()))
			continue
		}
		d.breaker(ep.Label()).OnSuccess()
		att.Class = ClassOK
		d.recordAttempt(registry.RoleSTT, att)

		if strings.TrimSpace(res.Text) == "" {
			// The endpoint answered and heard nothing. Another vendor will
			// not hear more in the same audio, so this ends the dispatch.
			d.logger.Info("no speech recognized",
				slog.String("endpoint", ep.Label()))
			return nil, errorsx.Errorf(errorsx.ReasonNoSignal,
				"no speech recognized by %s", ep.Provider)
		}

		metrics.Record(d.obs, metrics.Event{
			Name:  metrics.EventDispatchLatency,
			Value: att.Latency.Seconds(),
			Tags:  map[string]string{"role": string(registry.RoleSTT), "provider": ep.Provider},
		})
		return &TranscriptResult{
			Text:       res.Text,
			Confidence: res.Confidence,
			Provider:   ep.Provider,
			Endpoint:   ep.Label(),
			Attempts:   attempts,
			Latency:    att.Latency,
		}, nil
	}
	return nil, errorsx.Wrap(&ExhaustedError{Role: registry.RoleSTT, Attempts: attempts}, errorsx.ReasonExhausted)
}

// SynthesisResult is a successful synthesis dispatch. Source yields decoded
// PCM chunks ready for the playback streamer.
type SynthesisResult struct {
	Provider   string
	Endpoint   string
	Format     codec.Format
	SampleRate int
	Source     playback.ChunkSource
	Attempts   []Attempt
	// FirstChunkLatency is time from the attempt start to the first audio
	// chunk from the winning endpoint.
	FirstChunkLatency time.Duration
}

// Synthesize runs text through the ordered endpoint list. An endpoint only
// wins once it has produced its first audio chunk; a connection that opens
// but yields nothing within the attempt timeout fails over like any other
// transport error.
func (d *Dispatcher) Synthesize(ctx context.Context, text, voice string, eps []registry.Endpoint) (*SynthesisResult, error) {
	if len(eps) == 0 {
		return nil, errorsx.Wrap(&ExhaustedError{Role: registry.RoleTTS}, errorsx.ReasonExhausted)
	}

	var attempts []Attempt
	for _, ep := range eps {
		att := Attempt{Endpoint: ep.Label(), Provider: ep.Provider}
		if class, skip := d.skipClass(ep); skip {
			att.Skipped = true
			att.Class = class
			attempts = append(attempts, att)
			d.recordAttempt(registry.RoleTTS, att)
			continue
		}

		syn, err := d.cfg.TTSFactory(ep)
		if err != nil {
			att.Class = ClassOther
			att.Err = err
			attempts = append(attempts, att)
			d.recordAttempt(registry.RoleTTS, att)
			continue
		}

		format := ep.Formats[0]
		started := time.Now()
		stream, first, err := d.openStream(ctx, syn, ep, format, text, voice)
		if resilience.IsRateLimit(err) {
			err = d.cfg.RateLimitRetry.Do(ctx, func() error {
				var rerr error
				stream, first, rerr = d.openStream(ctx, syn, ep, format, text, voice)
				return rerr
			})
		}
		att.Latency = time.Since(started)
		if err != nil {
			if ctx.Err() != nil {
				return nil, errorsx.Wrap(ctx.Err(), errorsx.ReasonCancelled)
			}
			if errorsx.HasReason(err, errorsx.ReasonNoSignal) {
				att.Class = ClassOK
				d.recordAttempt(registry.RoleTTS, att)
				return nil, err
			}
			att.Class = classify(err)
			att.Err = err
			d.noteFailure(ep, att.Class, err)
			attempts = append(attempts, att)
			d.recordAttempt(registry.RoleTTS, att)
			d.logger.Warn("tts endpoint failed",
				slog.String("endpoint", ep.Label()),
				slog.String("class", string(att.Class)),
				slog.String("error", err.Error()))
			continue
		}
		d.breaker(ep.Label()).OnSuccess()
		att.Class = ClassOK
		d.recordAttempt(registry.RoleTTS, att)

		src, rate, err := newChunkSource(ctx, stream, first, format)
		if err != nil {
			_ = stream.Close()
			att.Class = classify(err)
			att.Err = err
			attempts = append(attempts, att)
			continue
		}
		metrics.Record(d.obs, metrics.Event{
			Name:  metrics.EventDispatchLatency,
			Value: att.Latency.Seconds(),
			Tags:  map[string]string{"role": string(registry.RoleTTS), "provider": ep.Provider},
		})
		return &SynthesisResult{
			Provider:          ep.Provider,
			Endpoint:          ep.Label(),
			Format:            format,
			SampleRate:        rate,
			Source:            src,
			Attempts:          attempts,
			FirstChunkLatency: att.Latency,
		}, nil
	}
	return nil, errorsx.Wrap(&ExhaustedError{Role: registry.RoleTTS, Attempts: attempts}, errorsx.ReasonExhausted)
}

// openStream starts synthesis and probes for the first chunk under the
// attempt timeout. io.EOF before any audio is a clean empty answer, mapped
// to the no-signal terminal.
func (d *Dispatcher) openStream(ctx context.Context, syn tts.Synthesizer, ep registry.Endpoint, format codec.Format, text, voice string) (tts.Stream, []byte, error) {
	actx, cancel := context.WithTimeout(ctx, d.cfg.AttemptTimeout)
	defer cancel()

	stream, err := syn.Synthesize(ctx, tts.Request{
		Text:       text,
		Voice:      voice,
		Format:     format,
		SampleRate: ep.SampleRate,
	})
	if err != nil {
		return nil, nil, err
	}
	first, err := stream.Next(actx)
	if err != nil {
		_ = stream.Close()
		if errors.Is(err, io.EOF) {
			return nil, nil, errorsx.Errorf(errorsx.ReasonNoSignal,
				"%s produced no audio", ep.Provider)
		}
		return nil, nil, err
	}
	return stream, first, nil
}
