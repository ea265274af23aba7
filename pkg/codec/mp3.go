package codec

import (
	"bytes"
	"fmt"
	"os/exec"
	"strconv"

	"github.com/harunnryd/kata/pkg/audio"
)

// mp3 frames cannot be decoded chunk-by-chunk with confidence (providers cut
// payloads at arbitrary byte offsets), so the capability table marks the
// format non-streamable and decode runs once over the full payload.
// Decoding shells out to ffmpeg, the same binary the device layer already
// requires.

var mp3Binary = "ffmpeg"

// SetMP3Binary overrides the decoder binary (tests, non-standard installs).
func SetMP3Binary(path string) {
	if path != "" {
		mp3Binary = path
	}
}

func decodeMP3(data []byte, rateHint int) (*audio.Buffer, error) {
	rate := rateHint
	if rate <= 0 {
		rate = 16000
	}
	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-f", "mp3",
		"-i", "pipe:0",
		"-ac", "1",
		"-ar", strconv.Itoa(rate),
		"-f", "s16le",
		"pipe:1",
	}
	cmd := exec.Command(mp3Binary, args...)
	cmd.Stdin = bytes.NewReader(data)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("mp3 decode: %w: %s", err, stderr.String())
	}
	if stdout.Len() == 0 {
		return nil, fmt.Errorf("mp3 decode produced no samples")
	}
	return audio.BufferFromBytes(stdout.Bytes(), rate, 1), nil
}
