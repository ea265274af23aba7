package endpointing

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Detector classifies fixed-size PCM16 frames as speech or non-speech. The
// recorder feeds it capture chunks (decimated to the detector rate when the
// device runs faster) and uses the verdicts to decide when the speaker has
// finished.
type Detector interface {
	Name() string
	SampleRate() int
	// FrameSamples is the exact frame length IsSpeech accepts. A trailing
	// capture fragment shorter than this is discarded by the caller, never
	// zero-padded into a false verdict.
	FrameSamples() int
	IsSpeech(frame []byte) (bool, error)
	Reset()
}

// Aggressiveness tunes how strictly the energy detector filters ambient
// noise. Low catches soft speech at the cost of false positives; high clips
// soft speech but ignores background hum.
type Aggressiveness int

const (
	AggressivenessLowest Aggressiveness = iota
	AggressivenessLow
	AggressivenessMedium
	AggressivenessHigh
)

// rms thresholds on int16 amplitude, indexed by aggressiveness
var energyThresholds = [...]float64{260, 450, 750, 1200}

// hangoverFrames keeps the detector in the speech state briefly after energy
// drops, bridging intra-word gaps (plosives, short pauses).
const hangoverFrames = 3

type EnergyConfig struct {
	SampleRate     int
	FrameMS        int
	Aggressiveness Aggressiveness
}

// EnergyDetector is an RMS-threshold voice activity detector with hangover.
type EnergyDetector struct {
	rate      int
	frameLen  int
	threshold float64
	hangover  int
}

func NewEnergyDetector(cfg EnergyConfig) (*EnergyDetector, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FrameMS <= 0 {
		cfg.FrameMS = 20
	}
	if cfg.Aggressiveness < AggressivenessLowest || cfg.Aggressiveness > AggressivenessHigh {
		return nil, fmt.Errorf("aggressiveness out of range: %d", cfg.Aggressiveness)
	}
	return &EnergyDetector{
		rate:      cfg.SampleRate,
		frameLen:  cfg.SampleRate * cfg.FrameMS / 1000,
		threshold: energyThresholds[cfg.Aggressiveness],
	}, nil
}

func (d *EnergyDetector) Name() string      { return "energy" }
func (d *EnergyDetector) SampleRate() int   { return d.rate }
func (d *EnergyDetector) FrameSamples() int { return d.frameLen }

func (d *EnergyDetector) IsSpeech(frame []byte) (bool, error) {
	if len(frame) != d.frameLen*2 {
		return false, fmt.Errorf("frame length %d, want %d bytes", len(frame), d.frameLen*2)
	}
	var sum float64
	for i := 0; i < len(frame); i += 2 {
		s := float64(int16(binary.LittleEndian.Uint16(frame[i : i+2])))
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(d.frameLen))

	if rms >= d.threshold {
		d.hangover = hangoverFrames
		return true, nil
	}
	if d.hangover > 0 {
		d.hangover--
		return true, nil
	}
	return false, nil
}

func (d *EnergyDetector) Reset() { d.hangover = 0 }

var _ Detector = (*EnergyDetector)(nil)
