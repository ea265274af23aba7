package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/kata/pkg/adapters/tts"
	"github.com/harunnryd/kata/pkg/codec"
	"github.com/harunnryd/kata/pkg/errorsx"
	"github.com/harunnryd/kata/pkg/logging"
	"github.com/harunnryd/kata/pkg/resilience"
)

// Config carries the ElevenLabs stream-input settings.
type Config struct {
	APIKey     string
	VoiceID    string  `mapstructure:"voice_id"`
	ModelID    string  `mapstructure:"model_id"`
	Stability  float64 `mapstructure:"stability"`
	Similarity float64 `mapstructure:"similarity"`
	// BaseURL overrides the public endpoint, mainly for tests.
	BaseURL string
}

// Synthesizer streams audio from the ElevenLabs websocket API. Chunks arrive
// while the model is still rendering, so playback can start well before the
// clip is complete.
type Synthesizer struct {
	cfg    Config
	logger *slog.Logger
}

func New(cfg Config) *Synthesizer {
	if cfg.Stability == 0 {
		cfg.Stability = 0.5
	}
	if cfg.Similarity == 0 {
		cfg.Similarity = 0.8
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "wss://api.elevenlabs.io"
	}
	return &Synthesizer{
		cfg:    cfg,
		logger: logging.NewComponentLogger(slog.Default(), "elevenlabs_tts"),
	}
}

func (s *Synthesizer) Name() string { return "elevenlabs" }

// outputFormat maps the requested codec to the API's format labels.
func outputFormat(f codec.Format, rate int) (string, error) {
	switch f {
	case codec.FormatPCM16:
		switch rate {
		case 0, 16000:
			return "pcm_16000", nil
		case 22050:
			return "pcm_22050", nil
		case 24000:
			return "pcm_24000", nil
		case 44100:
			return "pcm_44100", nil
		}
		return "", errorsx.Errorf(errorsx.ReasonFormatUnsupported,
			"elevenlabs pcm rate %d not offered", rate)
	case codec.FormatULaw8000:
		return "ulaw_8000", nil
	case codec.FormatMP3:
		return "mp3_44100_128", nil
	}
	return "", errorsx.Errorf(errorsx.ReasonFormatUnsupported,
		"elevenlabs cannot produce %s", f)
}

func (s *Synthesizer) buildURL(format string) (string, error) {
	voice := s.cfg.VoiceID
	if voice == "" {
		return "", errors.New("missing elevenlabs voice_id")
	}
	q := url.Values{}
	if s.cfg.ModelID != "" {
		q.Set("model_id", s.cfg.ModelID)
	}
	q.Set("output_format", format)
	q.Set("optimize_streaming_latency", "4")
	return s.cfg.BaseURL + "/v1/text-to-speech/" + voice + "/stream-input?" + q.Encode(), nil
}

func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (tts.Stream, error) {
	if s.cfg.APIKey == "" {
		return nil, errors.New("missing elevenlabs api key")
	}
	format, err := outputFormat(req.Format, req.SampleRate)
	if err != nil {
		return nil, err
	}
	u, err := s.buildURL(format)
	if err != nil {
		return nil, err
	}

	dialer := websocket.Dialer{Proxy: http.ProxyFromEnvironment}
	conn, resp, err := dialer.DialContext(ctx, u, http.Header{
		"xi-api-key": []string{s.cfg.APIKey},
	})
	if err != nil {
		if resp != nil {
			if resp.StatusCode == http.StatusTooManyRequests {
				return nil, resilience.RateLimitError{Provider: "elevenlabs", Message: resp.Status}
			}
			return nil, errorsx.StatusError{Provider: "elevenlabs", Code: resp.StatusCode}
		}
		return nil, err
	}
	s.logger.Debug("connected",
		slog.String("output_format", format),
		slog.Int("text_len", len(req.Text)))

	rate := req.SampleRate
	if rate == 0 {
		rate = 16000
	}
	stream := tts.NewChanStream(req.Format, rate, 64)
	go s.run(conn, stream, req.Text)
	return stream, nil
}

// run drives one synthesis session: an opening message with voice settings,
// the full text, then the empty terminator the API treats as end of input.
func (s *Synthesizer) run(conn *websocket.Conn, stream *tts.ChanStream, text string) {
	defer conn.Close()

	send := func(payload map[string]any) error {
		b, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		return conn.WriteMessage(websocket.TextMessage, b)
	}

	if !strings.HasSuffix(text, " ") {
		text += " "
	}
	if err := send(map[string]any{
		"text": " ",
		"voice_settings": map[string]any{
			"stability":        s.cfg.Stability,
			"similarity_boost": s.cfg.Similarity,
		},
		"generation_config": map[string]any{
			"chunk_length_schedule": []int{120, 160, 250, 290},
		},
	}); err != nil {
		stream.Finish(err)
		return
	}
	if err := send(map[string]any{"text": text, "try_trigger_generation": true}); err != nil {
		stream.Finish(err)
		return
	}
	if err := send(map[string]any{"text": ""}); err != nil {
		stream.Finish(err)
		return
	}

	for {
		select {
		case <-stream.Closed():
			stream.Finish(nil)
			return
		default:
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				stream.Finish(nil)
			} else {
				stream.Finish(err)
			}
			return
		}
		final, err := s.handleMessage(data, stream)
		if err != nil {
			stream.Finish(err)
			return
		}
		if final {
			stream.Finish(nil)
			return
		}
	}
}

type serverMessage struct {
	Audio   string `json:"audio"`
	IsFinal bool   `json:"isFinal"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (s *Synthesizer) handleMessage(data []byte, stream *tts.ChanStream) (bool, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Warn("unparseable server message", slog.String("data", string(data)))
		return false, nil
	}
	if msg.Error != "" {
		return false, errors.New("elevenlabs: " + msg.Error + " " + msg.Message)
	}
	if msg.IsFinal {
		return true, nil
	}
	if msg.Audio == "" {
		return false, nil
	}
	raw, err := base64.StdEncoding.DecodeString(msg.Audio)
	if err != nil {
		s.logger.Error("audio decode error", slog.String("error", err.Error()))
		return false, nil
	}
	s.logger.Debug("audio chunk received", slog.Int("size_bytes", len(raw)))
	if !stream.Push(raw) {
		return true, nil
	}
	return false, nil
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
