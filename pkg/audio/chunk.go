package audio

import (
	"sync"
	"time"
)

// Chunk is a fixed-duration slice of mono PCM16 samples. It is immutable
// once produced; ownership moves with the chunk through queues, stages never
// share a mutable payload.
type Chunk struct {
	data   []byte
	rate   int
	ch     int
	pooled bool
}

func NewChunk(data []byte, rate, channels int) Chunk {
	return Chunk{data: data, rate: rate, ch: channels}
}

// NewChunkFromPool copies data into a pooled buffer. Callers that know a
// chunk's hand-off ends inside the process can release it with ReleaseChunk.
func NewChunkFromPool(data []byte, rate, channels int) Chunk {
	buf := acquireBuf(len(data))
	copy(buf, data)
	return Chunk{data: buf, rate: rate, ch: channels, pooled: true}
}

func (c Chunk) Data() []byte       { return append([]byte(nil), c.data...) }
func (c Chunk) RawPayload() []byte { return c.data }
func (c Chunk) Rate() int          { return c.rate }
func (c Chunk) Channels() int      { return c.ch }
func (c Chunk) Empty() bool        { return len(c.data) == 0 }

// Samples returns the number of PCM16 samples per channel.
func (c Chunk) Samples() int {
	if c.ch <= 0 {
		return len(c.data) / 2
	}
	return len(c.data) / (2 * c.ch)
}

// Duration returns the playing time of the chunk.
func (c Chunk) Duration() time.Duration {
	if c.rate <= 0 {
		return 0
	}
	return time.Duration(c.Samples()) * time.Second / time.Duration(c.rate)
}

// ReleaseChunk returns a pooled chunk's payload to the pool. Returns false
// for chunks that were not pool-allocated.
func ReleaseChunk(c Chunk) bool {
	if !c.pooled {
		return false
	}
	releaseBuf(c.data)
	return true
}

var bufPool = sync.Pool{
	New: func() any {
		return make([]byte, 0, 4096)
	},
}

func acquireBuf(size int) []byte {
	b := bufPool.Get().([]byte)
	if cap(b) < size {
		return make([]byte, size)
	}
	return b[:size]
}

func releaseBuf(b []byte) {
	bufPool.Put(b[:0])
}
