package audio

import (
	"fmt"
	"time"
)

// Buffer accumulates PCM16 audio in arrival order. Append-only while a
// recording is live; Bytes/Duration views are cheap and the final buffer is
// treated as immutable by downstream stages.
type Buffer struct {
	data []byte
	rate int
	ch   int
}

func NewBuffer(rate, channels int) *Buffer {
	if channels <= 0 {
		channels = 1
	}
	return &Buffer{rate: rate, ch: channels}
}

// BufferFromBytes wraps already-decoded PCM16 bytes.
func BufferFromBytes(data []byte, rate, channels int) *Buffer {
	b := NewBuffer(rate, channels)
	b.data = append(b.data, data...)
	return b
}

func (b *Buffer) Append(c Chunk) error {
	if c.Rate() != b.rate {
		return fmt.Errorf("chunk rate %d does not match buffer rate %d", c.Rate(), b.rate)
	}
	b.data = append(b.data, c.RawPayload()...)
	return nil
}

func (b *Buffer) AppendBytes(data []byte) {
	b.data = append(b.data, data...)
}

func (b *Buffer) Bytes() []byte  { return b.data }
func (b *Buffer) Rate() int      { return b.rate }
func (b *Buffer) Channels() int  { return b.ch }
func (b *Buffer) Len() int       { return len(b.data) }
func (b *Buffer) Samples() int   { return len(b.data) / (2 * b.ch) }
func (b *Buffer) Empty() bool    { return len(b.data) == 0 }

func (b *Buffer) Duration() time.Duration {
	if b.rate <= 0 {
		return 0
	}
	return time.Duration(b.Samples()) * time.Second / time.Duration(b.rate)
}

// Chunks splits the buffer into fixed-duration chunks in order. The final
// chunk may be shorter than chunkDur.
func (b *Buffer) Chunks(chunkDur time.Duration) []Chunk {
	if b.rate <= 0 || chunkDur <= 0 || len(b.data) == 0 {
		return nil
	}
	step := int(chunkDur.Seconds()*float64(b.rate)) * 2 * b.ch
	if step <= 0 {
		return nil
	}
	out := make([]Chunk, 0, len(b.data)/step+1)
	for off := 0; off < len(b.data); off += step {
		end := off + step
		if end > len(b.data) {
			end = len(b.data)
		}
		out = append(out, NewChunk(b.data[off:end], b.rate, b.ch))
	}
	return out
}
