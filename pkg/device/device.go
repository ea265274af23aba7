package device

import (
	"context"
	"time"

	"github.com/harunnryd/kata/pkg/audio"
	"github.com/harunnryd/kata/pkg/errorsx"
)

// Config describes how to open the local capture or playback device.
type Config struct {
	SampleRate int
	Channels   int
	ChunkMS    int
	// Format and Device are passed to the ffmpeg muxer/demuxer, e.g.
	// pulse/default on Linux, avfoundation/":0" on macOS.
	Format string
	Device string
	Binary string
}

func (c Config) withDefaults() Config {
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.Channels <= 0 {
		c.Channels = 1
	}
	if c.ChunkMS <= 0 {
		c.ChunkMS = 20
	}
	if c.Format == "" {
		c.Format = "pulse"
	}
	if c.Device == "" {
		c.Device = "default"
	}
	return c
}

// ChunkBytes is the payload size of one chunk at the configured rate.
func (c Config) ChunkBytes() int {
	return c.SampleRate * c.ChunkMS / 1000 * 2 * c.Channels
}

func (c Config) ChunkDuration() time.Duration {
	return time.Duration(c.ChunkMS) * time.Millisecond
}

// Source pulls fixed-size chunks from a capture device.
type Source interface {
	Start(ctx context.Context) error
	// Read blocks until a full chunk is available or ctx is done.
	Read(ctx context.Context) (audio.Chunk, error)
	Rate() int
	ChunkDuration() time.Duration
	Close() error
}

// Sink pushes chunks to a playback device in strict arrival order.
type Sink interface {
	Start(ctx context.Context) error
	Write(ctx context.Context, c audio.Chunk) error
	// Drain blocks until everything written has been handed to the device.
	Drain() error
	Rate() int
	Close() error
}

// Guard serializes access to an exclusive-use device. Recording and playback
// sessions acquire at start and must release on every exit path, including
// error and cancellation, or the device stays locked.
type Guard struct {
	slot chan struct{}
}

func NewGuard() *Guard {
	g := &Guard{slot: make(chan struct{}, 1)}
	g.slot <- struct{}{}
	return g
}

func (g *Guard) Acquire(ctx context.Context) error {
	select {
	case <-g.slot:
		return nil
	case <-ctx.Done():
		return errorsx.Wrap(ctx.Err(), errorsx.ReasonDeviceBusy)
	}
}

// TryAcquire grabs the device without waiting.
func (g *Guard) TryAcquire() bool {
	select {
	case <-g.slot:
		return true
	default:
		return false
	}
}

func (g *Guard) Release() {
	select {
	case g.slot <- struct{}{}:
	default:
		// double release is a programming error; keep the guard usable
	}
}
