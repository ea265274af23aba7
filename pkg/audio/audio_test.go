package audio

import (
	"testing"
	"time"
)

func TestChunkDuration(t *testing.T) {
	// 320 bytes of mono PCM16 at 16kHz = 160 samples = 10ms.
	c := NewChunk(make([]byte, 320), 16000, 1)
	if got := c.Duration(); got != 10*time.Millisecond {
		t.Fatalf("duration = %v, want 10ms", got)
	}
	if got := c.Samples(); got != 160 {
		t.Fatalf("samples = %d, want 160", got)
	}
}

func TestChunkImmutableCopy(t *testing.T) {
	src := []byte{1, 2, 3, 4}
	c := NewChunkFromPool(src, 8000, 1)
	src[0] = 9
	if c.RawPayload()[0] != 1 {
		t.Fatalf("pooled chunk shares caller memory")
	}
	if !ReleaseChunk(c) {
		t.Fatalf("expected pooled chunk release")
	}
	if ReleaseChunk(NewChunk(src, 8000, 1)) {
		t.Fatalf("non-pooled chunk must not release")
	}
}

func TestBufferAppendAndDuration(t *testing.T) {
	b := NewBuffer(8000, 1)
	for i := 0; i < 10; i++ {
		if err := b.Append(NewChunk(make([]byte, 320), 8000, 1)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	// 10 chunks x 160 samples at 8kHz = 200ms.
	if got := b.Duration(); got != 200*time.Millisecond {
		t.Fatalf("duration = %v, want 200ms", got)
	}
	if err := b.Append(NewChunk(nil, 16000, 1)); err == nil {
		t.Fatalf("expected rate mismatch error")
	}
}

func TestBufferChunksStrictOrder(t *testing.T) {
	b := NewBuffer(8000, 1)
	payload := make([]byte, 500)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	b.AppendBytes(payload)

	chunks := b.Chunks(20 * time.Millisecond) // 320 bytes per chunk
	if len(chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(chunks))
	}
	if chunks[0].RawPayload()[0] != payload[0] {
		t.Fatalf("chunk order broken")
	}
	if got := len(chunks[1].RawPayload()); got != 180 {
		t.Fatalf("tail chunk len = %d, want 180", got)
	}
}
