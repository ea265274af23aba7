package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/kata/pkg/audio"
	"github.com/harunnryd/kata/pkg/errorsx"
	"github.com/harunnryd/kata/pkg/logging"
)

// FFmpegSource captures microphone PCM through an ffmpeg subprocess writing
// s16le to stdout. Keeping the capture out of process avoids cgo audio
// bindings and works anywhere ffmpeg does.
type FFmpegSource struct {
	cfg    Config
	binary string
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdout  io.ReadCloser
	stderr  *bytes.Buffer
	waitErr <-chan error
	started bool
}

func NewFFmpegSource(cfg Config) *FFmpegSource {
	cfg = cfg.withDefaults()
	binary := cfg.Binary
	if binary == "" {
		binary = "ffmpeg"
	}
	return &FFmpegSource{
		cfg:    cfg,
		binary: binary,
		logger: logging.NewComponentLogger(slog.Default(), "ffmpeg_source"),
	}
}

func (s *FFmpegSource) Rate() int                    { return s.cfg.SampleRate }
func (s *FFmpegSource) ChunkDuration() time.Duration { return s.cfg.ChunkDuration() }

func (s *FFmpegSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errorsx.Errorf(errorsx.ReasonDeviceBusy, "capture already started")
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", s.cfg.Format,
		"-i", s.cfg.Device,
		"-ac", strconv.Itoa(s.cfg.Channels),
		"-ar", strconv.Itoa(s.cfg.SampleRate),
		"-f", "s16le",
		"-",
	}
	cmd := exec.CommandContext(ctx, s.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("ffmpeg stdout pipe: %w", err), errorsx.ReasonDeviceOpen)
	}
	if err := cmd.Start(); err != nil {
		return errorsx.Wrap(fmt.Errorf("start ffmpeg: %w", err), errorsx.ReasonDeviceOpen)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	// An immediate exit means the device could not be opened; fail fast
	// instead of blocking the first Read forever.
	select {
	case err := <-waitErr:
		msg := strings.TrimSpace(stderr.String())
		if err != nil {
			return errorsx.Wrap(fmt.Errorf("ffmpeg exited before capture: %w: %s", err, msg), errorsx.ReasonDeviceOpen)
		}
		return errorsx.Errorf(errorsx.ReasonDeviceOpen, "ffmpeg exited before capture: %s", msg)
	case <-time.After(250 * time.Millisecond):
	}

	s.cmd = cmd
	s.stdout = stdout
	s.stderr = &stderr
	s.waitErr = waitErr
	s.started = true
	s.logger.Info("capture started",
		slog.String("input_format", s.cfg.Format),
		slog.String("device", s.cfg.Device),
		slog.Int("sample_rate", s.cfg.SampleRate))
	return nil
}

func (s *FFmpegSource) Read(ctx context.Context) (audio.Chunk, error) {
	s.mu.Lock()
	stdout := s.stdout
	started := s.started
	s.mu.Unlock()
	if !started {
		return audio.Chunk{}, errorsx.Errorf(errorsx.ReasonDeviceRead, "capture not started")
	}
	if err := ctx.Err(); err != nil {
		return audio.Chunk{}, errorsx.Wrap(err, errorsx.ReasonCancelled)
	}

	buf := make([]byte, s.cfg.ChunkBytes())
	if _, err := io.ReadFull(stdout, buf); err != nil {
		if ctx.Err() != nil {
			return audio.Chunk{}, errorsx.Wrap(ctx.Err(), errorsx.ReasonCancelled)
		}
		return audio.Chunk{}, errorsx.Wrap(fmt.Errorf("read capture chunk: %w", err), errorsx.ReasonDeviceRead)
	}
	return audio.NewChunk(buf, s.cfg.SampleRate, s.cfg.Channels), nil
}

func (s *FFmpegSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	if s.cmd != nil && s.cmd.Process != nil {
		_ = s.cmd.Process.Signal(os.Interrupt)
	}
	if s.stdout != nil {
		_ = s.stdout.Close()
	}
	select {
	case <-s.waitErr:
	case <-time.After(2 * time.Second):
		if s.cmd != nil && s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
	}
	s.logger.Info("capture stopped")
	return nil
}

var _ Source = (*FFmpegSource)(nil)
