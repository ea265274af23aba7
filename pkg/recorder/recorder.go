package recorder

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/harunnryd/kata/pkg/audio"
	"github.com/harunnryd/kata/pkg/codec"
	"github.com/harunnryd/kata/pkg/device"
	"github.com/harunnryd/kata/pkg/endpointing"
	"github.com/harunnryd/kata/pkg/errorsx"
	"github.com/harunnryd/kata/pkg/logging"
	"github.com/harunnryd/kata/pkg/metrics"
)

// Cause records why a recording session terminated.
type Cause string

const (
	CauseSilence     Cause = "silence"
	CauseMaxDuration Cause = "max_duration"
	CauseCancel      Cause = "cancel"
)

// Params bound one capture session.
type Params struct {
	MinDuration      time.Duration
	MaxDuration      time.Duration
	SilenceThreshold time.Duration
	// DisableDetection degrades to a plain fixed-duration recording gated
	// only by MaxDuration.
	DisableDetection bool
}

func (p Params) withDefaults() Params {
	if p.MaxDuration <= 0 {
		p.MaxDuration = 15 * time.Second
	}
	if p.SilenceThreshold <= 0 {
		p.SilenceThreshold = 900 * time.Millisecond
	}
	if p.MinDuration < 0 {
		p.MinDuration = 0
	}
	return p
}

// Recording is the immutable result of one capture session.
type Recording struct {
	ID             string
	Buffer         *audio.Buffer
	Cause          Cause
	Duration       time.Duration
	SpeechDetected bool
}

// Recorder orchestrates a capture device and an endpoint detector into
// bounded recording sessions. The detector decides when the speaker is done;
// MaxDuration is a hard ceiling enforced regardless of detector state.
type Recorder struct {
	src    device.Source
	det    endpointing.Detector
	obs    metrics.Observer
	logger *slog.Logger
}

// DetectorFactory builds the detector for the capture rate. A factory error
// degrades the recorder to fixed-duration mode with a surfaced warning; it
// never blocks or hangs a session.
type DetectorFactory func(sampleRate int) (endpointing.Detector, error)

func New(src device.Source, factory DetectorFactory, obs metrics.Observer) *Recorder {
	logger := logging.NewComponentLogger(slog.Default(), "recorder")
	var det endpointing.Detector
	if factory != nil {
		d, err := factory(src.Rate())
		if err != nil {
			logger.Warn("endpoint detector unavailable, falling back to fixed-duration capture",
				slog.String("error", err.Error()))
		} else {
			det = d
		}
	}
	return &Recorder{src: src, det: det, obs: obs, logger: logger}
}

// session is the mutable per-capture state machine. It lives only for the
// duration of one Record call and is converted into a Recording at the end.
type session struct {
	id              string
	buf             *audio.Buffer
	elapsed         time.Duration
	trailingSilence time.Duration
	speechDetected  bool
	// detFrame accumulates detector-rate samples until a full detector
	// frame is available.
	detFrame []byte
}

// Record captures one utterance. Cancellation of ctx ends the session with
// CauseCancel and returns the audio captured so far; it is not an error.
func (r *Recorder) Record(ctx context.Context, p Params) (*Recording, error) {
	p = p.withDefaults()

	if err := r.src.Start(ctx); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonDeviceOpen)
	}
	defer r.src.Close()

	detect := r.det != nil && !p.DisableDetection
	if detect {
		r.det.Reset()
	}

	s := &session{
		id:  uuid.NewString(),
		buf: audio.NewBuffer(r.src.Rate(), 1),
	}

	r.logger.Info("recording started",
		slog.String("session_id", s.id),
		slog.Duration("min", p.MinDuration),
		slog.Duration("max", p.MaxDuration),
		slog.Duration("silence_threshold", p.SilenceThreshold),
		slog.Bool("endpointing", detect))

	cause := CauseMaxDuration
loop:
	for {
		if err := ctx.Err(); err != nil {
			cause = CauseCancel
			break loop
		}

		chunk, err := r.src.Read(ctx)
		if err != nil {
			if errorsx.HasReason(err, errorsx.ReasonCancelled) {
				cause = CauseCancel
				break loop
			}
			return nil, errorsx.Wrap(err, errorsx.ReasonDeviceRead)
		}

		if err := s.buf.Append(chunk); err != nil {
			return nil, errorsx.Wrap(err, errorsx.ReasonDeviceRead)
		}
		s.elapsed += chunk.Duration()

		if detect {
			r.classify(s, chunk)
			// Silence may only terminate a session that has heard speech;
			// quiet before the first word never cuts the speaker off.
			if s.elapsed >= p.MinDuration && s.speechDetected && s.trailingSilence >= p.SilenceThreshold {
				cause = CauseSilence
				break loop
			}
		}
		if s.elapsed >= p.MaxDuration {
			cause = CauseMaxDuration
			break loop
		}
	}

	rec := &Recording{
		ID:             s.id,
		Buffer:         s.buf,
		Cause:          cause,
		Duration:       s.elapsed,
		SpeechDetected: s.speechDetected,
	}
	r.logger.Info("recording finished",
		slog.String("session_id", s.id),
		slog.String("cause", string(cause)),
		slog.Duration("duration", s.elapsed),
		slog.Bool("speech_detected", s.speechDetected))
	metrics.Record(r.obs, metrics.Event{
		Name:  metrics.EventRecordingDuration,
		Value: s.elapsed.Seconds(),
		Tags: map[string]string{
			"session_id": s.id,
			"cause":      string(cause),
		},
	})
	return rec, nil
}

// classify feeds one capture chunk to the detector, decimating to the
// detector rate per chunk so latency stays bounded by a single chunk. A
// trailing fragment shorter than a detector frame is carried to the next
// chunk and simply dropped at session end.
func (r *Recorder) classify(s *session, chunk audio.Chunk) {
	view := chunk
	if r.det.SampleRate() != chunk.Rate() {
		view = codec.DecimateChunk(chunk, r.det.SampleRate())
	}
	s.detFrame = append(s.detFrame, view.RawPayload()...)

	frameBytes := r.det.FrameSamples() * 2
	anySpeech := false
	processed := false
	for len(s.detFrame) >= frameBytes {
		frame := s.detFrame[:frameBytes]
		s.detFrame = s.detFrame[frameBytes:]
		processed = true
		ok, err := r.det.IsSpeech(frame)
		if err != nil {
			r.logger.Warn("detector classification failed",
				slog.String("session_id", s.id),
				slog.String("error", err.Error()))
			continue
		}
		if ok {
			anySpeech = true
		}
	}
	if !processed {
		return
	}
	if anySpeech {
		s.speechDetected = true
		s.trailingSilence = 0
	} else {
		s.trailingSilence += chunk.Duration()
	}
}
