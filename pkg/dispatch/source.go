package dispatch

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/harunnryd/kata/pkg/adapters/tts"
	"github.com/harunnryd/kata/pkg/audio"
	"github.com/harunnryd/kata/pkg/codec"
	"github.com/harunnryd/kata/pkg/playback"
)

// newChunkSource turns a vendor stream plus its probed first chunk into a
// playback source. Streamable formats decode chunk by chunk; container
// formats drain the whole stream and hand playback a buffered clip.
func newChunkSource(ctx context.Context, stream tts.Stream, first []byte, format codec.Format) (playback.ChunkSource, int, error) {
	cap, ok := codec.Lookup(format)
	if !ok {
		return nil, 0, codec.ErrUnsupported
	}

	rate := stream.SampleRate()
	if cap.SampleRate != 0 {
		rate = cap.SampleRate
	}

	if cap.Streamable {
		return &streamingSource{stream: stream, pending: first, format: format, rate: rate}, rate, nil
	}

	// Drain under the caller's context; a cancel mid-drain abandons the clip.
	data := append([]byte(nil), first...)
	for {
		chunk, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, 0, err
		}
		data = append(data, chunk...)
	}
	_ = stream.Close()

	buf, err := codec.Decode(data, format, rate)
	if err != nil {
		return nil, 0, err
	}
	return playback.NewBufferedSource(buf, 20*time.Millisecond), buf.Rate(), nil
}

// streamingSource decodes vendor chunks on demand so playback can start
// before synthesis finishes.
type streamingSource struct {
	stream  tts.Stream
	pending []byte
	format  codec.Format
	rate    int
	done    bool
}

func (s *streamingSource) Next(ctx context.Context) (audio.Chunk, error) {
	if s.done {
		return audio.Chunk{}, io.EOF
	}
	if s.pending != nil {
		data := s.pending
		s.pending = nil
		return s.decode(data)
	}
	data, err := s.stream.Next(ctx)
	if err != nil {
		s.done = true
		_ = s.stream.Close()
		return audio.Chunk{}, err
	}
	return s.decode(data)
}

func (s *streamingSource) decode(data []byte) (audio.Chunk, error) {
	switch s.format {
	case codec.FormatPCM16:
		return audio.NewChunk(data, s.rate, 1), nil
	default:
		buf, err := codec.Decode(data, s.format, s.rate)
		if err != nil {
			return audio.Chunk{}, err
		}
		return audio.NewChunk(buf.Bytes(), buf.Rate(), 1), nil
	}
}
