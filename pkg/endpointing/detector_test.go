package endpointing

import (
	"encoding/binary"
	"math"
	"testing"
)

func toneFrame(samples int, amplitude float64) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(amplitude * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(out[i*2:i*2+2], uint16(v))
	}
	return out
}

func TestEnergyDetectorClassifies(t *testing.T) {
	det, err := NewEnergyDetector(EnergyConfig{SampleRate: 16000, FrameMS: 20, Aggressiveness: AggressivenessMedium})
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	loud := toneFrame(det.FrameSamples(), 8000)
	quiet := make([]byte, det.FrameSamples()*2)

	speech, err := det.IsSpeech(loud)
	if err != nil {
		t.Fatalf("classify: %v", err)
	}
	if !speech {
		t.Fatalf("loud tone not classified as speech")
	}

	det.Reset()
	speech, _ = det.IsSpeech(quiet)
	if speech {
		t.Fatalf("silence classified as speech")
	}
}

func TestEnergyDetectorHangover(t *testing.T) {
	det, _ := NewEnergyDetector(EnergyConfig{SampleRate: 16000, FrameMS: 20, Aggressiveness: AggressivenessMedium})
	loud := toneFrame(det.FrameSamples(), 8000)
	quiet := make([]byte, det.FrameSamples()*2)

	if ok, _ := det.IsSpeech(loud); !ok {
		t.Fatalf("expected speech")
	}
	// Hangover bridges short gaps inside a word.
	for i := 0; i < hangoverFrames; i++ {
		if ok, _ := det.IsSpeech(quiet); !ok {
			t.Fatalf("hangover frame %d dropped out of speech", i)
		}
	}
	if ok, _ := det.IsSpeech(quiet); ok {
		t.Fatalf("still speech after hangover expired")
	}
}

func TestEnergyDetectorAggressivenessOrdering(t *testing.T) {
	// A soft frame passes at low aggressiveness and is rejected at high.
	low, _ := NewEnergyDetector(EnergyConfig{SampleRate: 16000, FrameMS: 20, Aggressiveness: AggressivenessLowest})
	high, _ := NewEnergyDetector(EnergyConfig{SampleRate: 16000, FrameMS: 20, Aggressiveness: AggressivenessHigh})
	soft := toneFrame(low.FrameSamples(), 600)

	if ok, _ := low.IsSpeech(soft); !ok {
		t.Fatalf("permissive detector rejected soft speech")
	}
	if ok, _ := high.IsSpeech(soft); ok {
		t.Fatalf("strict detector accepted soft speech")
	}
}

func TestEnergyDetectorRejectsShortFrame(t *testing.T) {
	det, _ := NewEnergyDetector(EnergyConfig{SampleRate: 16000, FrameMS: 20, Aggressiveness: AggressivenessMedium})
	if _, err := det.IsSpeech(make([]byte, 10)); err == nil {
		t.Fatalf("short frame must error, not classify")
	}
}

func TestEnergyDetectorConfigValidation(t *testing.T) {
	if _, err := NewEnergyDetector(EnergyConfig{Aggressiveness: 9}); err == nil {
		t.Fatalf("expected aggressiveness range error")
	}
}
