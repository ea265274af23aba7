package recorder

import (
	"context"
	"encoding/binary"
	"math"
	"testing"
	"time"

	"github.com/harunnryd/kata/pkg/audio"
	"github.com/harunnryd/kata/pkg/device"
	"github.com/harunnryd/kata/pkg/endpointing"
	"github.com/harunnryd/kata/pkg/errorsx"
	"github.com/harunnryd/kata/pkg/metrics"
)

const (
	testRate  = 16000
	testChunk = 20 * time.Millisecond
)

func speechChunk() audio.Chunk {
	samples := testRate / 50 // 20ms
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(9000 * math.Sin(2*math.Pi*330*float64(i)/float64(testRate)))
		binary.LittleEndian.PutUint16(data[i*2:i*2+2], uint16(v))
	}
	return audio.NewChunk(data, testRate, 1)
}

func silenceChunk() audio.Chunk {
	return audio.NewChunk(make([]byte, testRate/50*2), testRate, 1)
}

func detectorFactory(rate int) (endpointing.Detector, error) {
	return endpointing.NewEnergyDetector(endpointing.EnergyConfig{
		SampleRate:     rate,
		FrameMS:        20,
		Aggressiveness: endpointing.AggressivenessMedium,
	})
}

func script(speech, trailingSilence int) []audio.Chunk {
	var out []audio.Chunk
	for i := 0; i < speech; i++ {
		out = append(out, speechChunk())
	}
	for i := 0; i < trailingSilence; i++ {
		out = append(out, silenceChunk())
	}
	return out
}

func TestStopsOnTrailingSilenceAfterSpeech(t *testing.T) {
	// 500ms speech then open-ended silence; threshold 200ms.
	src := device.NewScriptedSource(testRate, testChunk, script(25, 100))
	obs := metrics.NewMemoryObserver()
	rec := New(src, detectorFactory, obs)

	got, err := rec.Record(context.Background(), Params{
		MinDuration:      100 * time.Millisecond,
		MaxDuration:      10 * time.Second,
		SilenceThreshold: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if got.Cause != CauseSilence {
		t.Fatalf("cause = %s, want silence", got.Cause)
	}
	if !got.SpeechDetected {
		t.Fatalf("speech not flagged")
	}
	// Detector hangover covers 3 frames (60ms) past the last speech chunk,
	// then 200ms of counted silence must pass; the stop lands within one
	// chunk of that threshold.
	want := 500*time.Millisecond + 60*time.Millisecond + 200*time.Millisecond
	if got.Duration < want || got.Duration > want+testChunk {
		t.Fatalf("duration = %v, want within one chunk above %v", got.Duration, want)
	}
	if evs := obs.ByName(metrics.EventRecordingDuration); len(evs) != 1 {
		t.Fatalf("expected one recording_duration event, got %d", len(evs))
	}
}

func TestPureSilenceNeverStopsEarly(t *testing.T) {
	src := device.NewScriptedSource(testRate, testChunk, nil) // silence forever
	rec := New(src, detectorFactory, nil)

	got, err := rec.Record(context.Background(), Params{
		MinDuration:      0,
		MaxDuration:      400 * time.Millisecond,
		SilenceThreshold: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if got.Cause != CauseMaxDuration {
		t.Fatalf("cause = %s, want max_duration", got.Cause)
	}
	if got.SpeechDetected {
		t.Fatalf("silence flagged as speech")
	}
	if got.Duration < 400*time.Millisecond {
		t.Fatalf("stopped early at %v", got.Duration)
	}
}

func TestMinDurationHoldsOffSilenceStop(t *testing.T) {
	// Speech ends at 100ms but minDuration is 1s; silence stop may only
	// fire after the minimum has elapsed.
	src := device.NewScriptedSource(testRate, testChunk, script(5, 200))
	rec := New(src, detectorFactory, nil)

	got, err := rec.Record(context.Background(), Params{
		MinDuration:      1 * time.Second,
		MaxDuration:      5 * time.Second,
		SilenceThreshold: 100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if got.Cause != CauseSilence {
		t.Fatalf("cause = %s, want silence", got.Cause)
	}
	if got.Duration < 1*time.Second {
		t.Fatalf("stopped before min duration: %v", got.Duration)
	}
}

func TestDisabledDetectionRecordsFixedDuration(t *testing.T) {
	src := device.NewScriptedSource(testRate, testChunk, script(10, 0))
	rec := New(src, detectorFactory, nil)

	got, err := rec.Record(context.Background(), Params{
		MaxDuration:      300 * time.Millisecond,
		DisableDetection: true,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if got.Cause != CauseMaxDuration {
		t.Fatalf("cause = %s, want max_duration", got.Cause)
	}
	if got.SpeechDetected {
		t.Fatalf("detection ran while disabled")
	}
}

func TestDetectorInitFailureFallsBackToFixedDuration(t *testing.T) {
	src := device.NewScriptedSource(testRate, testChunk, nil)
	rec := New(src, func(rate int) (endpointing.Detector, error) {
		return endpointing.NewEnergyDetector(endpointing.EnergyConfig{Aggressiveness: 99})
	}, nil)

	got, err := rec.Record(context.Background(), Params{
		MaxDuration:      200 * time.Millisecond,
		SilenceThreshold: 50 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if got.Cause != CauseMaxDuration {
		t.Fatalf("cause = %s, want max_duration fallback", got.Cause)
	}
}

func TestCancelReturnsPartialRecording(t *testing.T) {
	src := device.NewScriptedSource(testRate, testChunk, script(1000, 0))
	src.SetRealtime(true)
	rec := New(src, detectorFactory, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	got, err := rec.Record(ctx, Params{MaxDuration: 10 * time.Second})
	if err != nil {
		t.Fatalf("cancel is not an error: %v", err)
	}
	if got.Cause != CauseCancel {
		t.Fatalf("cause = %s, want cancel", got.Cause)
	}
	if got.Buffer.Empty() {
		t.Fatalf("expected partial audio before cancel")
	}
}

func TestDeviceReadFailureIsFatal(t *testing.T) {
	src := device.NewScriptedSource(testRate, testChunk, script(2, 0))
	src.FailAfter(2, errorsx.Errorf(errorsx.ReasonDeviceRead, "device gone"))
	rec := New(src, detectorFactory, nil)

	_, err := rec.Record(context.Background(), Params{MaxDuration: 10 * time.Second})
	if err == nil {
		t.Fatalf("expected device error")
	}
	if !errorsx.HasReason(err, errorsx.ReasonDeviceRead) {
		t.Fatalf("reason = %s, want device_read", errorsx.Reason(err))
	}
}

func TestDetectorRateMismatchSubsamplesPerChunk(t *testing.T) {
	// Capture at 48k against a 16k detector; speech must still be found.
	const rate = 48000
	samples := rate / 50
	data := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := int16(9000 * math.Sin(2*math.Pi*330*float64(i)/float64(rate)))
		binary.LittleEndian.PutUint16(data[i*2:i*2+2], uint16(v))
	}
	var chunks []audio.Chunk
	for i := 0; i < 25; i++ {
		chunks = append(chunks, audio.NewChunk(data, rate, 1))
	}
	src := device.NewScriptedSource(rate, testChunk, chunks)
	rec := New(src, func(int) (endpointing.Detector, error) {
		return endpointing.NewEnergyDetector(endpointing.EnergyConfig{
			SampleRate:     16000,
			FrameMS:        20,
			Aggressiveness: endpointing.AggressivenessMedium,
		})
	}, nil)

	got, err := rec.Record(context.Background(), Params{
		MaxDuration:      5 * time.Second,
		SilenceThreshold: 200 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !got.SpeechDetected {
		t.Fatalf("speech missed across rate mismatch")
	}
	if got.Cause != CauseSilence {
		t.Fatalf("cause = %s, want silence", got.Cause)
	}
}
