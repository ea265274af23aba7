package codec

import (
	"encoding/binary"

	"github.com/harunnryd/kata/pkg/audio"
)

// DecimateChunk derives a lower-rate view of a single chunk by dropping
// samples. It is deliberately per-chunk so a detector running at a lower
// rate than the capture device adds no more than one chunk of latency;
// the full recording is never re-resampled.
func DecimateChunk(c audio.Chunk, targetRate int) audio.Chunk {
	if targetRate <= 0 || c.Rate() <= targetRate || c.Rate()%targetRate != 0 {
		return c
	}
	step := c.Rate() / targetRate
	src := c.RawPayload()
	n := len(src) / 2
	out := make([]byte, 0, (n/step+1)*2)
	for i := 0; i < n; i += step {
		out = append(out, src[i*2], src[i*2+1])
	}
	return audio.NewChunk(out, targetRate, c.Channels())
}

// ResampleBuffer converts a whole buffer to targetRate. Downsampling uses
// decimation; upsampling uses linear interpolation. Integer rate ratios only.
func ResampleBuffer(buf *audio.Buffer, targetRate int) *audio.Buffer {
	rate := buf.Rate()
	if rate == targetRate || rate <= 0 || targetRate <= 0 {
		return buf
	}
	src := buf.Bytes()
	n := len(src) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(src[i*2 : i*2+2]))
	}

	var out []int16
	switch {
	case rate > targetRate && rate%targetRate == 0:
		step := rate / targetRate
		out = make([]int16, 0, n/step+1)
		for i := 0; i < n; i += step {
			out = append(out, samples[i])
		}
	case targetRate > rate && targetRate%rate == 0:
		factor := targetRate / rate
		out = make([]int16, 0, n*factor)
		for i := 0; i < n; i++ {
			cur := samples[i]
			next := cur
			if i+1 < n {
				next = samples[i+1]
			}
			for k := 0; k < factor; k++ {
				v := int32(cur) + int32(next-cur)*int32(k)/int32(factor)
				out = append(out, int16(v))
			}
		}
	default:
		return buf
	}

	data := make([]byte, len(out)*2)
	for i, s := range out {
		binary.LittleEndian.PutUint16(data[i*2:i*2+2], uint16(s))
	}
	return audio.BufferFromBytes(data, targetRate, buf.Channels())
}
