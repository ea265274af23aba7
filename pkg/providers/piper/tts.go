package piper

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/harunnryd/kata/pkg/adapters/tts"
	"github.com/harunnryd/kata/pkg/codec"
	"github.com/harunnryd/kata/pkg/errorsx"
	"github.com/harunnryd/kata/pkg/logging"
	"github.com/harunnryd/kata/pkg/resilience"
)

// Config describes one local piper HTTP server.
type Config struct {
	BaseURL string
	Voice   string        `mapstructure:"voice"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Synthesizer talks to a piper text-to-speech server. Piper renders the
// whole clip before responding, so the stream yields exactly one chunk.
type Synthesizer struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config) *Synthesizer {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Synthesizer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.NewComponentLogger(slog.Default(), "piper_tts"),
	}
}

func (s *Synthesizer) Name() string { return "piper" }

func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (tts.Stream, error) {
	if req.Format != codec.FormatWAV {
		return nil, errorsx.Errorf(errorsx.ReasonFormatUnsupported,
			"piper produces wav, got request for %s", req.Format)
	}

	form := url.Values{}
	form.Set("text", req.Text)
	voice := req.Voice
	if voice == "" {
		voice = s.cfg.Voice
	}
	if voice != "" {
		form.Set("voice", voice)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.BaseURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	started := time.Now()
	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, resilience.RateLimitError{Provider: "piper", Message: resp.Status}
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, errorsx.StatusError{Provider: "piper", Code: resp.StatusCode, Body: string(raw)}
	}

	clip, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("synthesis completed",
		slog.Int("text_len", len(req.Text)),
		slog.Int("clip_bytes", len(clip)),
		slog.Duration("latency", time.Since(started)))
	return tts.NewClipStream(clip, codec.FormatWAV, req.SampleRate), nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
