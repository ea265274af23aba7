package mock

import (
	"context"
	"sync"

	"github.com/harunnryd/kata/pkg/adapters/tts"
	"github.com/harunnryd/kata/pkg/codec"
)

// TTSConfig scripts a fake synthesizer.
type TTSConfig struct {
	// Chunks to yield; nil yields one 320-byte silent PCM chunk.
	Chunks [][]byte
	Format codec.Format
	Rate   int
	// Err fails the Synthesize call itself.
	Err error
	// StreamErr ends the stream with an error after the chunks drain.
	StreamErr error
	// Empty yields a successful but audio-free stream.
	Empty bool
}

type Synthesizer struct {
	cfg TTSConfig

	mu       sync.Mutex
	calls    int
	lastText string
}

func NewTTS(cfg TTSConfig) *Synthesizer {
	if cfg.Format == "" {
		cfg.Format = codec.FormatPCM16
	}
	if cfg.Rate == 0 {
		cfg.Rate = 16000
	}
	if cfg.Chunks == nil && !cfg.Empty {
		cfg.Chunks = [][]byte{make([]byte, 320)}
	}
	return &Synthesizer{cfg: cfg}
}

func (s *Synthesizer) Name() string { return "mock_tts" }

func (s *Synthesizer) Synthesize(ctx context.Context, req tts.Request) (tts.Stream, error) {
	s.mu.Lock()
	s.calls++
	s.lastText = req.Text
	s.mu.Unlock()

	if s.cfg.Err != nil {
		return nil, s.cfg.Err
	}
	stream := tts.NewChanStream(s.cfg.Format, s.cfg.Rate, len(s.cfg.Chunks)+1)
	for _, c := range s.cfg.Chunks {
		stream.Push(c)
	}
	stream.Finish(s.cfg.StreamErr)
	return stream, nil
}

func (s *Synthesizer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Synthesizer) LastText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastText
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
