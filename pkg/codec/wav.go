package codec

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/harunnryd/kata/pkg/audio"
)

// ErrUnsupported marks an operation the codec layer cannot perform.
var ErrUnsupported = errors.New("codec: unsupported")

const wavHeaderSize = 44

func encodeWAV(buf *audio.Buffer) []byte {
	data := buf.Bytes()
	rate := buf.Rate()
	ch := buf.Channels()
	byteRate := rate * ch * 2

	out := make([]byte, 0, wavHeaderSize+len(data))
	w := bytes.NewBuffer(out)
	w.WriteString("RIFF")
	binary.Write(w, binary.LittleEndian, uint32(36+len(data)))
	w.WriteString("WAVE")
	w.WriteString("fmt ")
	binary.Write(w, binary.LittleEndian, uint32(16))
	binary.Write(w, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(w, binary.LittleEndian, uint16(ch))
	binary.Write(w, binary.LittleEndian, uint32(rate))
	binary.Write(w, binary.LittleEndian, uint32(byteRate))
	binary.Write(w, binary.LittleEndian, uint16(ch*2))
	binary.Write(w, binary.LittleEndian, uint16(16))
	w.WriteString("data")
	binary.Write(w, binary.LittleEndian, uint32(len(data)))
	w.Write(data)
	return w.Bytes()
}

func decodeWAV(data []byte) (*audio.Buffer, error) {
	if len(data) < wavHeaderSize {
		return nil, fmt.Errorf("wav payload too short: %d bytes", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, fmt.Errorf("not a RIFF/WAVE payload")
	}

	// Walk chunks; fmt and data may be preceded by LIST or fact chunks.
	var (
		rate, channels, bits int
		pcm                  []byte
	)
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("wav fmt chunk too short")
			}
			format := binary.LittleEndian.Uint16(data[body : body+2])
			if format != 1 {
				return nil, fmt.Errorf("%w: wav format tag %d", ErrUnsupported, format)
			}
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			rate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
		case "data":
			pcm = data[body : body+size]
		}
		off = body + size
		if size%2 == 1 {
			off++ // chunk bodies are word aligned
		}
	}
	if rate == 0 || pcm == nil {
		return nil, fmt.Errorf("wav payload missing fmt or data chunk")
	}
	if bits != 16 {
		return nil, fmt.Errorf("%w: %d-bit wav", ErrUnsupported, bits)
	}
	return audio.BufferFromBytes(pcm, rate, channels), nil
}
