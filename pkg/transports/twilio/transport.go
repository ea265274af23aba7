package twilio

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/harunnryd/kata/pkg/logging"
	"github.com/harunnryd/kata/pkg/transports"
)

type Config struct {
	ServerAddr         string   `mapstructure:"server_addr"`
	PublicURL          string   `mapstructure:"public_url"`
	AuthToken          string   `mapstructure:"auth_token"`
	AccountSID         string   `mapstructure:"account_sid"`
	VoicePath          string   `mapstructure:"voice_path"`
	WebsocketPath      string   `mapstructure:"ws_path"`
	StatusCallbackPath string   `mapstructure:"status_callback_path"`
	AllowAnyOrigin     bool     `mapstructure:"allow_any_origin"`
	AllowedOrigins     []string `mapstructure:"allowed_origins"`
}

func (c Config) withDefaults() Config {
	if c.ServerAddr == "" {
		c.ServerAddr = ":8080"
	}
	if c.VoicePath == "" {
		c.VoicePath = "/voice"
	}
	if c.WebsocketPath == "" {
		c.WebsocketPath = "/ws"
	}
	if c.StatusCallbackPath == "" {
		c.StatusCallbackPath = "/status"
	}
	if !c.AllowAnyOrigin && len(c.AllowedOrigins) == 0 {
		c.AllowAnyOrigin = true
	}
	return c
}

// Transport serves Twilio media streams. Each connected call surfaces as a
// Participant carrying 8 kHz audio both ways; the engine runs its turn loop
// against the call exactly as it would against local devices.
type Transport struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader
	accepts  chan *Call
	logger   *slog.Logger

	draining atomic.Bool
}

func New(cfg Config) *Transport {
	cfg = cfg.withDefaults()
	t := &Transport{
		cfg: cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		accepts: make(chan *Call, 8),
		logger:  logging.NewComponentLogger(slog.Default(), "twilio_transport"),
	}
	t.upgrader.CheckOrigin = t.checkOrigin
	return t
}

func (t *Transport) Name() string { return "twilio" }

func (t *Transport) ReadyFields() map[string]any {
	return map[string]any{
		"webhook_url": t.cfg.voiceWebhookURL(),
	}
}

func (t *Transport) checkOrigin(r *http.Request) bool {
	if t.cfg.AllowAnyOrigin {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range t.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

func (t *Transport) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc(t.cfg.VoicePath, t.handleVoice)
	mux.Handle(t.cfg.WebsocketPath, t)
	mux.HandleFunc(t.cfg.StatusCallbackPath, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	t.server = &http.Server{
		Addr:              t.cfg.ServerAddr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           mux,
	}
	go func() {
		<-ctx.Done()
		_ = t.server.Close()
	}()
	go func() {
		if err := t.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			t.logger.Error("server error", slog.String("error", err.Error()))
		}
	}()
	return nil
}

func (t *Transport) Stop() error {
	t.draining.Store(true)
	if t.server != nil {
		_ = t.server.Close()
	}
	return nil
}

// Accept blocks until the next call connects and completes its start event.
func (t *Transport) Accept(ctx context.Context) (transports.Participant, error) {
	select {
	case c := <-t.accepts:
		return c, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// handleVoice answers Twilio's webhook with TwiML that routes call audio to
// the media stream endpoint.
func (t *Transport) handleVoice(w http.ResponseWriter, r *http.Request) {
	wsURL := t.cfg.websocketURL()
	w.Header().Set("Content-Type", "text/xml")
	_, _ = w.Write([]byte(`<?xml version="1.0" encoding="UTF-8"?>
<Response>
  <Connect>
    <Stream url="` + wsURL + `"/>
  </Connect>
</Response>`))
}

// mediaEvent is the wire shape of Twilio media stream messages.
type mediaEvent struct {
	Event string `json:"event"`
	Start *struct {
		StreamID string `json:"streamSid"`
		CallSID  string `json:"callSid"`
		From     string `json:"from"`
	} `json:"start,omitempty"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
	Mark *struct {
		Name string `json:"name"`
	} `json:"mark,omitempty"`
	Stop *struct {
		Reason string `json:"reason"`
	} `json:"stop,omitempty"`
	StreamID string `json:"streamSid,omitempty"`
}

func (t *Transport) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if t.draining.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	conn, err := t.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	var call *Call
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			break
		}
		var evt mediaEvent
		if err := json.Unmarshal(msg, &evt); err != nil {
			continue
		}
		switch evt.Event {
		case "start":
			if evt.Start == nil {
				continue
			}
			call = newCall(conn, evt.Start.StreamID, evt.Start.CallSID, evt.Start.From)
			t.logger.Info("call connected",
				slog.String("call_sid", call.callSID),
				slog.String("from", call.from))
			select {
			case t.accepts <- call:
			default:
				t.logger.Warn("accept queue full, dropping call",
					slog.String("call_sid", call.callSID))
				call.end("rejected")
				return
			}
		case "media":
			if evt.Media == nil || call == nil {
				continue
			}
			payload, err := base64.StdEncoding.DecodeString(evt.Media.Payload)
			if err != nil {
				continue
			}
			call.deliver(payload)
		case "mark":
			if evt.Mark != nil && call != nil {
				call.markReceived(evt.Mark.Name)
			}
		case "stop":
			if call != nil {
				reason := "completed"
				if evt.Stop != nil && evt.Stop.Reason != "" {
					reason = evt.Stop.Reason
				}
				t.logger.Info("call ended",
					slog.String("call_sid", call.callSID),
					slog.String("reason", reason))
				call.end(reason)
			}
			return
		}
	}
	if call != nil {
		call.end("transport_closed")
	}
}

func (c Config) voiceWebhookURL() string {
	if c.PublicURL != "" {
		return "https://" + normalizePublicURL(c.PublicURL) + c.VoicePath
	}
	addr := c.ServerAddr
	if addr == "" {
		addr = ":8080"
	}
	if addr[0] == ':' {
		addr = "localhost" + addr
	}
	return "http://" + addr + c.VoicePath
}

func (c Config) websocketURL() string {
	if c.PublicURL != "" {
		return "wss://" + normalizePublicURL(c.PublicURL) + c.WebsocketPath
	}
	addr := c.ServerAddr
	if addr == "" {
		addr = ":8080"
	}
	if addr[0] == ':' {
		addr = "localhost" + addr
	}
	return "ws://" + addr + c.WebsocketPath
}

func normalizePublicURL(u string) string {
	u = strings.TrimSpace(u)
	u = strings.TrimPrefix(u, "https://")
	u = strings.TrimPrefix(u, "http://")
	u = strings.TrimPrefix(u, "wss://")
	return strings.TrimSuffix(u, "/")
}

var _ transports.Transport = (*Transport)(nil)
var _ transports.ReadyReporter = (*Transport)(nil)
