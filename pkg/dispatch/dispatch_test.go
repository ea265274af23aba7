package dispatch

import (
	"context"
	"errors"
	"io"
	"net"
	"syscall"
	"testing"
	"time"

	"github.com/harunnryd/kata/pkg/adapters/stt"
	"github.com/harunnryd/kata/pkg/adapters/tts"
	"github.com/harunnryd/kata/pkg/audio"
	"github.com/harunnryd/kata/pkg/codec"
	"github.com/harunnryd/kata/pkg/errorsx"
	"github.com/harunnryd/kata/pkg/metrics"
	"github.com/harunnryd/kata/pkg/providers/mock"
	"github.com/harunnryd/kata/pkg/registry"
	"github.com/harunnryd/kata/pkg/resilience"
)

func testBuffer(t *testing.T) *audio.Buffer {
	t.Helper()
	buf := audio.NewBuffer(16000, 1)
	buf.AppendBytes(make([]byte, 16000/10*2)) // 100ms
	return buf
}

func ep(provider, url string, formats ...codec.Format) registry.Endpoint {
	if len(formats) == 0 {
		formats = []codec.Format{codec.FormatWAV}
	}
	return registry.Endpoint{
		Role:     registry.RoleSTT,
		Provider: provider,
		BaseURL:  url,
		Formats:  formats,
	}
}

func refusedErr() error {
	return &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}
}

// sttFactory routes endpoints to scripted transcribers by base URL.
func sttFactory(m map[string]stt.Transcriber) func(registry.Endpoint) (stt.Transcriber, error) {
	return func(e registry.Endpoint) (stt.Transcriber, error) {
		tr, ok := m[e.BaseURL]
		if !ok {
			return nil, errors.New("no fake for " + e.BaseURL)
		}
		return tr, nil
	}
}

func ttsFactory(m map[string]tts.Synthesizer) func(registry.Endpoint) (tts.Synthesizer, error) {
	return func(e registry.Endpoint) (tts.Synthesizer, error) {
		s, ok := m[e.BaseURL]
		if !ok {
			return nil, errors.New("no fake for " + e.BaseURL)
		}
		return s, nil
	}
}

func TestFirstSuccessShortCircuits(t *testing.T) {
	primary := mock.NewSTT(mock.STTConfig{Transcript: "hello there"})
	backup := mock.NewSTT(mock.STTConfig{Transcript: "should not run"})
	d := New(Config{
		STTFactory: sttFactory(map[string]stt.Transcriber{"a": primary, "b": backup}),
	}, nil)

	res, err := d.Transcribe(context.Background(), testBuffer(t),
		[]registry.Endpoint{ep("mock", "a"), ep("mock", "b")})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "hello there" {
		t.Fatalf("text = %q", res.Text)
	}
	if backup.Calls() != 0 {
		t.Fatalf("backup called %d times after primary success", backup.Calls())
	}
	if len(res.Attempts) != 0 {
		t.Fatalf("no failed attempts expected, got %d", len(res.Attempts))
	}
}

func TestTransportFailureFallsThrough(t *testing.T) {
	primary := mock.NewSTT(mock.STTConfig{Err: refusedErr()})
	backup := mock.NewSTT(mock.STTConfig{Transcript: "backup answer"})
	obs := metrics.NewMemoryObserver()
	d := New(Config{
		STTFactory: sttFactory(map[string]stt.Transcriber{"a": primary, "b": backup}),
	}, obs)

	res, err := d.Transcribe(context.Background(), testBuffer(t),
		[]registry.Endpoint{ep("mock", "a"), ep("mock", "b")})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "backup answer" || res.Endpoint != ep("mock", "b").Label() {
		t.Fatalf("wrong winner: %+v", res)
	}
	if len(res.Attempts) != 1 || res.Attempts[0].Class != ClassRefused {
		t.Fatalf("attempts = %+v", res.Attempts)
	}
	if len(obs.ByName(metrics.EventDispatchAttempt)) != 2 {
		t.Fatalf("expected 2 attempt events")
	}
}

func TestEmptyTranscriptIsTerminalNoSignal(t *testing.T) {
	primary := mock.NewSTT(mock.STTConfig{Transcript: "   "})
	backup := mock.NewSTT(mock.STTConfig{Transcript: "never"})
	d := New(Config{
		STTFactory: sttFactory(map[string]stt.Transcriber{"a": primary, "b": backup}),
	}, nil)

	_, err := d.Transcribe(context.Background(), testBuffer(t),
		[]registry.Endpoint{ep("mock", "a"), ep("mock", "b")})
	if !errorsx.HasReason(err, errorsx.ReasonNoSignal) {
		t.Fatalf("reason = %s, want no_signal", errorsx.Reason(err))
	}
	if backup.Calls() != 0 {
		t.Fatalf("clean silence must not be retried on the next vendor")
	}
}

func TestAllFailuresYieldExactlyNAttempts(t *testing.T) {
	a := mock.NewSTT(mock.STTConfig{Err: refusedErr()})
	b := mock.NewSTT(mock.STTConfig{Err: context.DeadlineExceeded})
	c := mock.NewSTT(mock.STTConfig{Err: errorsx.StatusError{Provider: "mock", Code: 500}})
	d := New(Config{
		STTFactory: sttFactory(map[string]stt.Transcriber{"a": a, "b": b, "c": c}),
	}, nil)

	_, err := d.Transcribe(context.Background(), testBuffer(t),
		[]registry.Endpoint{ep("mock", "a"), ep("mock", "b"), ep("mock", "c")})
	if !errorsx.HasReason(err, errorsx.ReasonExhausted) {
		t.Fatalf("reason = %s, want exhausted", errorsx.Reason(err))
	}
	var ex *ExhaustedError
	if !errors.As(err, &ex) {
		t.Fatalf("no ExhaustedError in chain: %v", err)
	}
	if len(ex.Attempts) != 3 {
		t.Fatalf("attempts = %d, want 3", len(ex.Attempts))
	}
	want := []ErrorClass{ClassRefused, ClassTimeout, ClassStatus}
	for i, a := range ex.Attempts {
		if a.Class != want[i] {
			t.Fatalf("attempt %d class = %s, want %s", i, a.Class, want[i])
		}
	}
}

func TestAuthFailureClassifiedAndCached(t *testing.T) {
	a := mock.NewSTT(mock.STTConfig{Err: errorsx.StatusError{Provider: "mock", Code: 401}})
	b := mock.NewSTT(mock.STTConfig{Transcript: "fine"})
	d := New(Config{
		STTFactory: sttFactory(map[string]stt.Transcriber{"a": a, "b": b}),
	}, nil)
	eps := []registry.Endpoint{ep("mock", "a"), ep("mock", "b")}

	res, err := d.Transcribe(context.Background(), testBuffer(t), eps)
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Attempts[0].Class != ClassUnauthorized {
		t.Fatalf("class = %s", res.Attempts[0].Class)
	}

	// Same turn: the dead endpoint is skipped without another call, but the
	// report still carries one attempt per endpoint.
	res, err = d.Transcribe(context.Background(), testBuffer(t), eps)
	if err != nil {
		t.Fatalf("second transcribe: %v", err)
	}
	if a.Calls() != 1 {
		t.Fatalf("unreachable endpoint recontacted within turn")
	}
	if len(res.Attempts) != 1 || !res.Attempts[0].Skipped || res.Attempts[0].Class != ClassUnauthorized {
		t.Fatalf("skip attempt wrong: %+v", res.Attempts)
	}

	// Next turn tries it again.
	d.ResetTurn()
	if _, err := d.Transcribe(context.Background(), testBuffer(t), eps); err != nil {
		t.Fatalf("third transcribe: %v", err)
	}
	if a.Calls() != 2 {
		t.Fatalf("reset did not clear the cache")
	}
}

func TestRateLimitedAttemptRetriesSameEndpoint(t *testing.T) {
	throttled := mock.NewSTT(mock.STTConfig{
		Transcript: "second try",
		FailFirst:  1,
		FailWith:   resilience.RateLimitError{Provider: "mock", Message: "429"},
	})
	backup := mock.NewSTT(mock.STTConfig{Transcript: "never"})
	d := New(Config{
		RateLimitRetry: resilience.NewRetryPolicy(1, time.Millisecond),
		STTFactory:     sttFactory(map[string]stt.Transcriber{"a": throttled, "b": backup}),
	}, nil)

	res, err := d.Transcribe(context.Background(), testBuffer(t),
		[]registry.Endpoint{ep("mock", "a"), ep("mock", "b")})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "second try" {
		t.Fatalf("text = %q", res.Text)
	}
	if throttled.Calls() != 2 {
		t.Fatalf("throttled endpoint called %d times, want 2", throttled.Calls())
	}
	if backup.Calls() != 0 {
		t.Fatalf("retry must stay on the same endpoint")
	}
}

func TestAttemptTimeoutBoundsSlowEndpoint(t *testing.T) {
	slow := mock.NewSTT(mock.STTConfig{
		Transcript: "too late",
		Delay: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	})
	fast := mock.NewSTT(mock.STTConfig{Transcript: "in time"})
	d := New(Config{
		AttemptTimeout: 50 * time.Millisecond,
		STTFactory:     sttFactory(map[string]stt.Transcriber{"a": slow, "b": fast}),
	}, nil)

	start := time.Now()
	res, err := d.Transcribe(context.Background(), testBuffer(t),
		[]registry.Endpoint{ep("mock", "a"), ep("mock", "b")})
	if err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if res.Text != "in time" {
		t.Fatalf("text = %q", res.Text)
	}
	if res.Attempts[0].Class != ClassTimeout {
		t.Fatalf("class = %s, want timeout", res.Attempts[0].Class)
	}
	if time.Since(start) > time.Second {
		t.Fatalf("slow endpoint was not bounded")
	}
}

func TestPerEndpointTranscoding(t *testing.T) {
	wavEP := ep("mock", "a", codec.FormatWAV)
	rawEP := registry.Endpoint{Role: registry.RoleSTT, Provider: "mock", BaseURL: "b",
		Formats: []codec.Format{codec.FormatPCM16}}
	a := mock.NewSTT(mock.STTConfig{Err: errorsx.StatusError{Provider: "mock", Code: 503}})
	b := mock.NewSTT(mock.STTConfig{Transcript: "raw ok"})
	d := New(Config{
		STTFactory: sttFactory(map[string]stt.Transcriber{"a": a, "b": b}),
	}, nil)

	buf := testBuffer(t)
	if _, err := d.Transcribe(context.Background(), buf, []registry.Endpoint{wavEP, rawEP}); err != nil {
		t.Fatalf("transcribe: %v", err)
	}
	if a.LastFormat() != codec.FormatWAV {
		t.Fatalf("first endpoint got %s", a.LastFormat())
	}
	if b.LastFormat() != codec.FormatPCM16 {
		t.Fatalf("second endpoint got %s", b.LastFormat())
	}
	if len(b.LastPayload()) != buf.Len() {
		t.Fatalf("raw payload resized: %d vs %d", len(b.LastPayload()), buf.Len())
	}
}

func drainSource(t *testing.T, src interface {
	Next(context.Context) (audio.Chunk, error)
}) []byte {
	t.Helper()
	var out []byte
	for {
		c, err := src.Next(context.Background())
		if errors.Is(err, io.EOF) {
			return out
		}
		if err != nil {
			t.Fatalf("source: %v", err)
		}
		out = append(out, c.RawPayload()...)
	}
}

func TestSynthesizeStreamsDecodedChunks(t *testing.T) {
	chunks := [][]byte{make([]byte, 640), make([]byte, 640), make([]byte, 320)}
	for i := range chunks {
		for j := range chunks[i] {
			chunks[i][j] = byte(i + 1)
		}
	}
	syn := mock.NewTTS(mock.TTSConfig{Chunks: chunks, Format: codec.FormatPCM16, Rate: 16000})
	d := New(Config{
		TTSFactory: ttsFactory(map[string]tts.Synthesizer{"a": syn}),
	}, nil)

	eps := []registry.Endpoint{{Role: registry.RoleTTS, Provider: "mock", BaseURL: "a",
		Formats: []codec.Format{codec.FormatPCM16}}}
	res, err := d.Synthesize(context.Background(), "hi", "", eps)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if res.SampleRate != 16000 {
		t.Fatalf("rate = %d", res.SampleRate)
	}
	got := drainSource(t, res.Source)
	if len(got) != 640+640+320 {
		t.Fatalf("drained %d bytes", len(got))
	}
	if got[0] != 1 || got[640] != 2 || got[1280] != 3 {
		t.Fatalf("chunk order broken")
	}
}

func TestSynthesizeEmptyStreamIsNoSignal(t *testing.T) {
	empty := mock.NewTTS(mock.TTSConfig{Empty: true})
	backup := mock.NewTTS(mock.TTSConfig{})
	d := New(Config{
		TTSFactory: ttsFactory(map[string]tts.Synthesizer{"a": empty, "b": backup}),
	}, nil)

	eps := []registry.Endpoint{
		{Role: registry.RoleTTS, Provider: "mock", BaseURL: "a", Formats: []codec.Format{codec.FormatPCM16}},
		{Role: registry.RoleTTS, Provider: "mock", BaseURL: "b", Formats: []codec.Format{codec.FormatPCM16}},
	}
	_, err := d.Synthesize(context.Background(), "hi", "", eps)
	if !errorsx.HasReason(err, errorsx.ReasonNoSignal) {
		t.Fatalf("reason = %s, want no_signal", errorsx.Reason(err))
	}
	if backup.Calls() != 0 {
		t.Fatalf("empty synthesis must not fail over")
	}
}

func TestSynthesizeFailsOverOnConnectError(t *testing.T) {
	broken := mock.NewTTS(mock.TTSConfig{Err: refusedErr()})
	backup := mock.NewTTS(mock.TTSConfig{})
	d := New(Config{
		TTSFactory: ttsFactory(map[string]tts.Synthesizer{"a": broken, "b": backup}),
	}, nil)

	eps := []registry.Endpoint{
		{Role: registry.RoleTTS, Provider: "mock", BaseURL: "a", Formats: []codec.Format{codec.FormatPCM16}},
		{Role: registry.RoleTTS, Provider: "mock", BaseURL: "b", Formats: []codec.Format{codec.FormatPCM16}},
	}
	res, err := d.Synthesize(context.Background(), "hi", "", eps)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if res.Endpoint != eps[1].Label() {
		t.Fatalf("wrong winner: %s", res.Endpoint)
	}
	if len(res.Attempts) != 1 || res.Attempts[0].Class != ClassRefused {
		t.Fatalf("attempts = %+v", res.Attempts)
	}
}

func TestSynthesizeBuffersNonStreamableFormat(t *testing.T) {
	// A WAV-only vendor: the dispatcher must decode the clip up front and
	// hand playback a buffered source.
	pcm := audio.NewBuffer(22050, 1)
	pcm.AppendBytes(make([]byte, 22050/10*2))
	wav, err := codec.Encode(pcm, codec.FormatWAV)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	syn := mock.NewTTS(mock.TTSConfig{Chunks: [][]byte{wav}, Format: codec.FormatWAV, Rate: 22050})
	d := New(Config{
		TTSFactory: ttsFactory(map[string]tts.Synthesizer{"a": syn}),
	}, nil)

	eps := []registry.Endpoint{{Role: registry.RoleTTS, Provider: "mock", BaseURL: "a",
		Formats: []codec.Format{codec.FormatWAV}}}
	res, err := d.Synthesize(context.Background(), "hi", "", eps)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if res.SampleRate != 22050 {
		t.Fatalf("rate = %d", res.SampleRate)
	}
	if got := drainSource(t, res.Source); len(got) != pcm.Len() {
		t.Fatalf("decoded %d bytes, want %d", len(got), pcm.Len())
	}
}
