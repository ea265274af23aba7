package kata

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/harunnryd/kata/pkg/device"
	"github.com/harunnryd/kata/pkg/dispatch"
	"github.com/harunnryd/kata/pkg/errorsx"
	"github.com/harunnryd/kata/pkg/logging"
	"github.com/harunnryd/kata/pkg/metrics"
	"github.com/harunnryd/kata/pkg/playback"
	"github.com/harunnryd/kata/pkg/recorder"
	"github.com/harunnryd/kata/pkg/redact"
	"github.com/harunnryd/kata/pkg/registry"
)

// Engine is the conversation turn engine: it speaks through the failover
// synthesis chain, listens through the endpoint-detecting recorder, and
// keeps the two from fighting over the audio devices.
type Engine struct {
	cfg      Config
	reg      *registry.Registry
	disp     *dispatch.Dispatcher
	streamer *playback.Streamer
	rec      *recorder.Recorder

	src       device.Source
	sink      device.Sink
	srcGuard  *device.Guard
	sinkGuard *device.Guard

	fsm    *stateMachine
	obs    metrics.Observer
	logger *slog.Logger
}

// Option customizes engine construction; tests inject scripted devices and
// dispatch factories this way.
type Option func(*Engine)

func WithSource(src device.Source) Option {
	return func(e *Engine) { e.src = src }
}

func WithSink(sink device.Sink) Option {
	return func(e *Engine) { e.sink = sink }
}

func WithObserver(obs metrics.Observer) Option {
	return func(e *Engine) { e.obs = obs }
}

func WithDispatcher(d *dispatch.Dispatcher) Option {
	return func(e *Engine) { e.disp = d }
}

func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	reg, err := registry.New(cfg.RegistrySpecs())
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:    cfg,
		reg:    reg,
		fsm:    newStateMachine(),
		logger: logging.NewComponentLogger(slog.Default(), "engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	redact.SetEnabled(cfg.Privacy.RedactPII)

	if e.src == nil {
		e.src = device.NewFFmpegSource(cfg.DeviceConfig())
	}
	if e.sink == nil {
		e.sink = device.NewFFplaySink(cfg.DeviceConfig())
	}
	if e.disp == nil {
		e.disp = dispatch.New(cfg.DispatchConfig(), e.obs)
	}
	e.streamer = playback.NewStreamer(cfg.PlaybackConfig(), e.obs)
	e.rec = recorder.New(e.src, cfg.DetectorFactory(), e.obs)
	e.srcGuard = device.NewGuard()
	e.sinkGuard = device.NewGuard()
	return e, nil
}

// State reports the engine's current turn state.
func (e *Engine) State() State { return e.fsm.State() }

// AddStateListener registers an observer for turn transitions.
func (e *Engine) AddStateListener(l StateListener) { e.fsm.AddListener(l) }

// Refresh replaces the endpoint lists; it applies from the next turn.
func (e *Engine) Refresh() error {
	return e.reg.Refresh(e.cfg.RegistrySpecs())
}

// SpeakRequest describes one utterance to synthesize and play.
type SpeakRequest struct {
	Text  string
	Voice string
	// Wait blocks until playback drains. When false the result carries a
	// handle the caller can cancel or wait on.
	Wait bool
}

// SpeakResult reports how an utterance was produced.
type SpeakResult struct {
	Provider string
	Endpoint string
	Attempts []dispatch.Attempt
	// TimeToFirstAudio is only populated on the Wait path.
	TimeToFirstAudio time.Duration
	// Handle is non-nil when Wait was false.
	Handle *playback.Handle
}

// Speak synthesizes text through the failover chain and plays it. The sink
// is held exclusively for the duration; a second concurrent Speak waits its
// turn rather than interleaving audio.
func (e *Engine) Speak(ctx context.Context, req SpeakRequest) (*SpeakResult, error) {
	if req.Text == "" {
		return nil, errors.New("speak: empty text")
	}
	if err := e.sinkGuard.Acquire(ctx); err != nil {
		return nil, err
	}
	release := true
	defer func() {
		if release {
			e.sinkGuard.Release()
		}
	}()

	if err := e.fsm.Transition(StateSpeaking, "speak requested"); err != nil {
		return nil, err
	}
	e.logger.Info("speaking",
		slog.Int("text_len", len(req.Text)),
		slog.String("text", redact.Text(req.Text)))

	res, err := e.disp.Synthesize(ctx, req.Text, req.Voice, e.reg.Endpoints(registry.RoleTTS))
	if err != nil {
		e.toIdle("synthesis failed")
		return nil, err
	}

	h, err := e.streamer.Stream(ctx, e.sink, res.Source)
	if err != nil {
		e.toIdle("playback start failed")
		return nil, err
	}

	out := &SpeakResult{
		Provider: res.Provider,
		Endpoint: res.Endpoint,
		Attempts: res.Attempts,
	}
	if !req.Wait {
		// The guard and the speaking state follow the playback session, not
		// this call.
		release = false
		out.Handle = h
		go func() {
			<-h.Done()
			e.sinkGuard.Release()
			// A listen may already own the state by the time playback ends.
			if e.fsm.State() == StateSpeaking {
				e.toIdle("playback finished")
			}
		}()
		return out, nil
	}

	if err := h.Wait(); err != nil {
		e.toIdle("playback failed")
		return nil, err
	}
	if ttfa, ok := h.TimeToFirstAudio(); ok {
		out.TimeToFirstAudio = ttfa
	}
	e.toIdle("playback drained")
	return out, nil
}

// ListenRequest overrides the configured recording bounds for one turn.
// Zero values keep the configured defaults.
type ListenRequest struct {
	MinDuration      time.Duration
	MaxDuration      time.Duration
	SilenceThreshold time.Duration
	DisableDetection bool
}

// ListenResult is one recognized utterance.
type ListenResult struct {
	Text       string
	Confidence float64
	Provider   string
	Endpoint   string
	Recording  *recorder.Recording
	Attempts   []dispatch.Attempt
}

// Listen records one utterance and transcribes it through the failover
// chain. A turn where the recognizer cleanly hears nothing returns an error
// with the no-signal reason; callers decide whether that ends the
// conversation.
func (e *Engine) Listen(ctx context.Context, req ListenRequest) (*ListenResult, error) {
	if err := e.srcGuard.Acquire(ctx); err != nil {
		return nil, err
	}
	defer e.srcGuard.Release()

	if err := e.fsm.Transition(StateListening, "listen requested"); err != nil {
		return nil, err
	}
	defer e.toIdle("listen finished")

	params := e.cfg.RecorderParams()
	if req.MinDuration > 0 {
		params.MinDuration = req.MinDuration
	}
	if req.MaxDuration > 0 {
		params.MaxDuration = req.MaxDuration
	}
	if req.SilenceThreshold > 0 {
		params.SilenceThreshold = req.SilenceThreshold
	}
	if req.DisableDetection {
		params.DisableDetection = true
	}

	rec, err := e.rec.Record(ctx, params)
	if err != nil {
		return nil, err
	}
	if rec.Cause == recorder.CauseCancel {
		// The partial capture is still available through Record; a cancelled
		// listen has no transcript to offer.
		return nil, errorsx.Wrap(ctx.Err(), errorsx.ReasonCancelled)
	}
	if !rec.SpeechDetected && !params.DisableDetection {
		// Nothing worth sending upstream was captured.
		return nil, errorsx.Errorf(errorsx.ReasonNoSignal,
			"no speech in %s of audio", rec.Duration)
	}

	res, err := e.disp.Transcribe(ctx, rec.Buffer, e.reg.Endpoints(registry.RoleSTT))
	if err != nil {
		return nil, err
	}
	e.logger.Info("transcribed",
		slog.String("provider", res.Provider),
		slog.String("text", redact.Text(res.Text)),
		slog.Float64("confidence", res.Confidence))
	return &ListenResult{
		Text:       res.Text,
		Confidence: res.Confidence,
		Provider:   res.Provider,
		Endpoint:   res.Endpoint,
		Recording:  rec,
		Attempts:   res.Attempts,
	}, nil
}

// TurnHandler produces the next reply from what the user said. Returning
// done ends the conversation after the reply is spoken.
type TurnHandler func(ctx context.Context, userText string) (reply string, done bool, err error)

// ConverseRequest configures a prompt-listen-reply loop.
type ConverseRequest struct {
	Greeting string
	Voice    string
	Handler  TurnHandler
	// MaxTurns bounds the loop; 0 means 20.
	MaxTurns int
	// MaxSilentTurns is how many consecutive no-speech turns are tolerated
	// before the conversation ends; 0 means 2.
	MaxSilentTurns int
	// SilencePrompt is spoken after a silent turn to re-engage the user.
	SilencePrompt string
	Listen        ListenRequest
}

// Exchange is one user/assistant turn pair.
type Exchange struct {
	User      string
	Assistant string
}

// ConverseResult summarizes a finished conversation.
type ConverseResult struct {
	Turns     int
	Silent    int
	Exchanges []Exchange
}

// Converse runs the full turn loop: speak, listen, hand the transcript to
// the handler, speak the reply. Unreachable-endpoint knowledge is reset at
// each turn boundary so a provider that recovers mid-conversation gets
// another chance.
func (e *Engine) Converse(ctx context.Context, req ConverseRequest) (*ConverseResult, error) {
	if req.Handler == nil {
		return nil, errors.New("converse: nil handler")
	}
	maxTurns := req.MaxTurns
	if maxTurns <= 0 {
		maxTurns = 20
	}
	maxSilent := req.MaxSilentTurns
	if maxSilent <= 0 {
		maxSilent = 2
	}

	result := &ConverseResult{}
	if req.Greeting != "" {
		if _, err := e.Speak(ctx, SpeakRequest{Text: req.Greeting, Voice: req.Voice, Wait: true}); err != nil {
			return result, err
		}
	}

	silentRun := 0
	for result.Turns < maxTurns {
		if err := ctx.Err(); err != nil {
			return result, errorsx.Wrap(err, errorsx.ReasonCancelled)
		}
		e.disp.ResetTurn()
		result.Turns++

		heard, err := e.Listen(ctx, req.Listen)
		if err != nil {
			if errorsx.HasReason(err, errorsx.ReasonNoSignal) {
				result.Silent++
				silentRun++
				if silentRun >= maxSilent {
					e.logger.Info("ending conversation after repeated silence",
						slog.Int("silent_turns", silentRun))
					return result, nil
				}
				if req.SilencePrompt != "" {
					if _, err := e.Speak(ctx, SpeakRequest{Text: req.SilencePrompt, Voice: req.Voice, Wait: true}); err != nil {
						return result, err
					}
				}
				continue
			}
			return result, err
		}
		silentRun = 0

		reply, done, err := req.Handler(ctx, heard.Text)
		if err != nil {
			return result, err
		}
		result.Exchanges = append(result.Exchanges, Exchange{User: heard.Text, Assistant: reply})
		if reply != "" {
			if _, err := e.Speak(ctx, SpeakRequest{Text: reply, Voice: req.Voice, Wait: true}); err != nil {
				return result, err
			}
		}
		if done {
			return result, nil
		}
	}
	return result, nil
}

func (e *Engine) toIdle(reason string) {
	if e.fsm.State() != StateIdle {
		if err := e.fsm.Transition(StateIdle, reason); err != nil {
			e.logger.Warn("state transition failed", slog.String("error", err.Error()))
		}
	}
}

// Record exposes the raw recorder for callers that want audio without
// recognition.
func (e *Engine) Record(ctx context.Context, req ListenRequest) (*recorder.Recording, error) {
	if err := e.srcGuard.Acquire(ctx); err != nil {
		return nil, err
	}
	defer e.srcGuard.Release()
	params := e.cfg.RecorderParams()
	if req.MaxDuration > 0 {
		params.MaxDuration = req.MaxDuration
	}
	if req.DisableDetection {
		params.DisableDetection = true
	}
	return e.rec.Record(ctx, params)
}
