package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/harunnryd/kata/pkg/adapters/stt"
	"github.com/harunnryd/kata/pkg/codec"
	"github.com/harunnryd/kata/pkg/errorsx"
	"github.com/harunnryd/kata/pkg/logging"
	"github.com/harunnryd/kata/pkg/resilience"
)

// Config describes one whisper.cpp server endpoint.
type Config struct {
	BaseURL     string
	Language    string        `mapstructure:"language"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

// Transcriber talks to a whisper.cpp inference server over its multipart
// HTTP API. The server accepts a complete WAV clip and returns JSON.
type Transcriber struct {
	cfg    Config
	client *http.Client
	logger *slog.Logger
}

func New(cfg Config) *Transcriber {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Transcriber{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logging.NewComponentLogger(slog.Default(), "whisper_stt"),
	}
}

func (t *Transcriber) Name() string { return "whisper" }

type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

func (t *Transcriber) Transcribe(ctx context.Context, payload []byte, format codec.Format) (stt.Transcript, error) {
	if format != codec.FormatWAV {
		return stt.Transcript{}, errorsx.Errorf(errorsx.ReasonFormatUnsupported,
			"whisper accepts wav, got %s", format)
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return stt.Transcript{}, err
	}
	if _, err := part.Write(payload); err != nil {
		return stt.Transcript{}, err
	}
	_ = mw.WriteField("response_format", "json")
	_ = mw.WriteField("temperature", fmt.Sprintf("%g", t.cfg.Temperature))
	if t.cfg.Language != "" {
		_ = mw.WriteField("language", t.cfg.Language)
	}
	if err := mw.Close(); err != nil {
		return stt.Transcript{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.BaseURL, &body)
	if err != nil {
		return stt.Transcript{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	started := time.Now()
	resp, err := t.client.Do(req)
	if err != nil {
		return stt.Transcript{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return stt.Transcript{}, resilience.RateLimitError{Provider: "whisper", Message: resp.Status}
	}
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return stt.Transcript{}, errorsx.StatusError{
			Provider: "whisper",
			Code:     resp.StatusCode,
			Body:     string(raw),
		}
	}

	var out inferenceResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return stt.Transcript{}, fmt.Errorf("decode whisper response: %w", err)
	}
	if out.Error != "" {
		return stt.Transcript{}, fmt.Errorf("whisper: %s", out.Error)
	}

	text := strings.TrimSpace(out.Text)
	t.logger.Debug("transcription completed",
		slog.Int("payload_bytes", len(payload)),
		slog.Int("text_len", len(text)),
		slog.Duration("latency", time.Since(started)))
	return stt.Transcript{Text: text, Language: t.cfg.Language}, nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
