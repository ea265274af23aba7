package device

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/harunnryd/kata/pkg/audio"
	"github.com/harunnryd/kata/pkg/errorsx"
	"github.com/harunnryd/kata/pkg/logging"
)

// FFplaySink plays PCM through an ffplay subprocess reading s16le on stdin.
type FFplaySink struct {
	cfg    Config
	binary string
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	stderr  *bytes.Buffer
	waitErr <-chan error
	started bool
}

func NewFFplaySink(cfg Config) *FFplaySink {
	cfg = cfg.withDefaults()
	binary := cfg.Binary
	if binary == "" {
		binary = "ffplay"
	}
	return &FFplaySink{
		cfg:    cfg,
		binary: binary,
		logger: logging.NewComponentLogger(slog.Default(), "ffplay_sink"),
	}
}

func (s *FFplaySink) Rate() int { return s.cfg.SampleRate }

func (s *FFplaySink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errorsx.Errorf(errorsx.ReasonDeviceBusy, "playback already started")
	}

	args := []string{
		"-hide_banner",
		"-loglevel", "warning",
		"-nodisp",
		"-autoexit",
		"-f", "s16le",
		"-ar", strconv.Itoa(s.cfg.SampleRate),
		"-ch_layout", channelLayout(s.cfg.Channels),
		"-i", "-",
	}
	cmd := exec.CommandContext(ctx, s.binary, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return errorsx.Wrap(fmt.Errorf("ffplay stdin pipe: %w", err), errorsx.ReasonDeviceOpen)
	}
	if err := cmd.Start(); err != nil {
		return errorsx.Wrap(fmt.Errorf("start ffplay: %w", err), errorsx.ReasonDeviceOpen)
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		msg := strings.TrimSpace(stderr.String())
		return errorsx.Wrap(fmt.Errorf("ffplay exited before playback: %v: %s", err, msg), errorsx.ReasonDeviceOpen)
	case <-time.After(250 * time.Millisecond):
	}

	s.cmd = cmd
	s.stdin = stdin
	s.stderr = &stderr
	s.waitErr = waitErr
	s.started = true
	s.logger.Info("playback device opened",
		slog.Int("sample_rate", s.cfg.SampleRate),
		slog.Int("channels", s.cfg.Channels))
	return nil
}

func (s *FFplaySink) Write(ctx context.Context, c audio.Chunk) error {
	s.mu.Lock()
	stdin := s.stdin
	started := s.started
	s.mu.Unlock()
	if !started {
		return errorsx.Errorf(errorsx.ReasonDeviceWrite, "playback not started")
	}
	if err := ctx.Err(); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonCancelled)
	}
	if _, err := stdin.Write(c.RawPayload()); err != nil {
		return errorsx.Wrap(fmt.Errorf("write playback chunk: %w", err), errorsx.ReasonDeviceWrite)
	}
	return nil
}

// Drain closes stdin and waits for ffplay to finish its internal buffer.
func (s *FFplaySink) Drain() error {
	s.mu.Lock()
	stdin := s.stdin
	waitErr := s.waitErr
	started := s.started
	s.stdin = nil
	s.mu.Unlock()
	if !started || stdin == nil {
		return nil
	}
	_ = stdin.Close()
	select {
	case <-waitErr:
	case <-time.After(5 * time.Second):
	}
	return nil
}

func (s *FFplaySink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return nil
	}
	s.started = false
	if s.stdin != nil {
		_ = s.stdin.Close()
	}
	if s.cmd != nil && s.cmd.Process != nil {
		select {
		case <-s.waitErr:
		case <-time.After(500 * time.Millisecond):
			_ = s.cmd.Process.Kill()
		}
	}
	s.logger.Info("playback device closed")
	return nil
}

func channelLayout(ch int) string {
	if ch == 2 {
		return "stereo"
	}
	return "mono"
}

var _ Sink = (*FFplaySink)(nil)
