package codec

import (
	"fmt"

	"github.com/harunnryd/kata/pkg/audio"
)

// Format names a wire container for audio payloads exchanged with providers.
type Format string

const (
	FormatPCM16    Format = "pcm_s16le"
	FormatWAV      Format = "wav"
	FormatULaw8000 Format = "ulaw_8000"
	FormatMP3      Format = "mp3"
)

// Capability describes what the engine can assume about a format. Streamable
// means individual chunks are decodable as they arrive; non-streamable
// containers force playback to buffer the full payload before the first
// sample is playable.
type Capability struct {
	MIME       string
	Streamable bool
	// SampleRate pins the payload rate; 0 means the container carries or
	// inherits the rate.
	SampleRate int
}

var capabilities = map[Format]Capability{
	FormatPCM16: {MIME: "audio/l16", Streamable: true},
	// Chunks of a RIFF container are not independently decodable; playback
	// buffers the whole clip first.
	FormatWAV:      {MIME: "audio/wav", Streamable: false},
	FormatULaw8000: {MIME: "audio/basic", Streamable: true, SampleRate: 8000},
	FormatMP3:      {MIME: "audio/mpeg", Streamable: false},
}

// Lookup returns the capability entry for a format.
func Lookup(f Format) (Capability, bool) {
	c, ok := capabilities[f]
	return c, ok
}

// Known reports whether the codec layer can encode and decode the format.
func Known(f Format) bool {
	_, ok := capabilities[f]
	return ok
}

// Encode converts a PCM buffer into the named container.
func Encode(buf *audio.Buffer, f Format) ([]byte, error) {
	switch f {
	case FormatPCM16:
		return append([]byte(nil), buf.Bytes()...), nil
	case FormatWAV:
		return encodeWAV(buf), nil
	case FormatULaw8000:
		return encodeULaw(buf)
	case FormatMP3:
		return nil, fmt.Errorf("%w: mp3 encode", ErrUnsupported)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, f)
	}
}

// Decode converts a container payload back into a PCM buffer. rateHint is
// used for raw formats that do not carry their own rate.
func Decode(data []byte, f Format, rateHint int) (*audio.Buffer, error) {
	switch f {
	case FormatPCM16:
		if rateHint <= 0 {
			return nil, fmt.Errorf("pcm decode requires a sample rate")
		}
		return audio.BufferFromBytes(data, rateHint, 1), nil
	case FormatWAV:
		return decodeWAV(data)
	case FormatULaw8000:
		return decodeULaw(data), nil
	case FormatMP3:
		return decodeMP3(data, rateHint)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, f)
	}
}

// Transcode re-encodes a payload from one container to another.
func Transcode(data []byte, from, to Format, rateHint int) ([]byte, error) {
	if from == to {
		return data, nil
	}
	buf, err := Decode(data, from, rateHint)
	if err != nil {
		return nil, err
	}
	return Encode(buf, to)
}
