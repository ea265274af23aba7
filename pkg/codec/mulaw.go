package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/harunnryd/kata/pkg/audio"
)

// G.711 mu-law companding. ulaw_8000 is the telephony native format; the
// encoder resamples to 8kHz when the source buffer runs at a higher rate.

const (
	ulawBias = 0x84
	ulawClip = 32635
	ulawRate = 8000
)

func encodeULaw(buf *audio.Buffer) ([]byte, error) {
	src := buf
	if buf.Rate() != ulawRate {
		if buf.Rate() < ulawRate || buf.Rate()%ulawRate != 0 {
			return nil, fmt.Errorf("%w: ulaw encode from %dHz", ErrUnsupported, buf.Rate())
		}
		src = ResampleBuffer(buf, ulawRate)
	}
	pcm := src.Bytes()
	out := make([]byte, len(pcm)/2)
	for i := 0; i < len(out); i++ {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
		out[i] = linearToULaw(sample)
	}
	return out, nil
}

func decodeULaw(data []byte) *audio.Buffer {
	pcm := make([]byte, len(data)*2)
	for i, b := range data {
		binary.LittleEndian.PutUint16(pcm[i*2:i*2+2], uint16(ulawToLinear(b)))
	}
	return audio.BufferFromBytes(pcm, ulawRate, 1)
}

func linearToULaw(sample int16) byte {
	sign := byte(0)
	s := int32(sample)
	if s < 0 {
		s = -s
		sign = 0x80
	}
	if s > ulawClip {
		s = ulawClip
	}
	s += ulawBias

	exponent := byte(7)
	for mask := int32(0x4000); exponent > 0 && s&mask == 0; mask >>= 1 {
		exponent--
	}
	mantissa := byte((s >> (exponent + 3)) & 0x0F)
	return ^(sign | (exponent << 4) | mantissa)
}

func ulawToLinear(b byte) int16 {
	b = ^b
	sign := b & 0x80
	exponent := (b >> 4) & 0x07
	mantissa := b & 0x0F
	s := ((int32(mantissa) << 3) + ulawBias) << exponent
	s -= ulawBias
	if sign != 0 {
		s = -s
	}
	return int16(s)
}
