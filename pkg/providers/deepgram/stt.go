package deepgram

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/harunnryd/kata/pkg/adapters/stt"
	"github.com/harunnryd/kata/pkg/codec"
	"github.com/harunnryd/kata/pkg/logging"

	prerecorded "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/rest"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// Config carries the Deepgram prerecorded API settings.
type Config struct {
	APIKey      string
	Model       string `mapstructure:"model"`
	Language    string `mapstructure:"language"`
	SampleRate  int    `mapstructure:"sample_rate"`
	SmartFormat bool   `mapstructure:"smart_format"`
}

// Transcriber sends a complete utterance to Deepgram's prerecorded REST API.
// One utterance per call keeps failover simple; the websocket streaming API
// has no clean retry point mid-stream.
type Transcriber struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Transcriber {
	if cfg.Model == "" {
		cfg.Model = "nova-2"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	return &Transcriber{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "deepgram_stt"),
	}
}

func (t *Transcriber) Name() string { return "deepgram" }

func (t *Transcriber) Transcribe(ctx context.Context, payload []byte, format codec.Format) (stt.Transcript, error) {
	options := &interfaces.PreRecordedTranscriptionOptions{
		Model:       t.cfg.Model,
		Language:    t.cfg.Language,
		SmartFormat: t.cfg.SmartFormat,
	}
	if format == codec.FormatPCM16 {
		// Raw PCM carries no header; the API needs the layout spelled out.
		options.Encoding = "linear16"
		options.SampleRate = t.cfg.SampleRate
	}

	c := client.NewREST(t.cfg.APIKey, &interfaces.ClientOptions{})
	dg := prerecorded.New(c)

	started := time.Now()
	res, err := dg.FromStream(ctx, bytes.NewReader(payload), options)
	if err != nil {
		return stt.Transcript{}, err
	}

	out := stt.Transcript{Language: t.cfg.Language}
	if len(res.Results.Channels) > 0 && len(res.Results.Channels[0].Alternatives) > 0 {
		alt := res.Results.Channels[0].Alternatives[0]
		out.Text = alt.Transcript
		out.Confidence = alt.Confidence
	}
	t.logger.Debug("transcription completed",
		slog.String("model", t.cfg.Model),
		slog.Int("payload_bytes", len(payload)),
		slog.Float64("confidence", out.Confidence),
		slog.Duration("latency", time.Since(started)))
	return out, nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
