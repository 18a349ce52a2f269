package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

func TestFormat_Duration(t *testing.T) {
	f := Format{SampleRate: 16000, Channels: 1}

	if got := f.BytesPerSecond(); got != 32000 {
		t.Errorf("Expected 32000 bytes/s, got %d", got)
	}
	if got := f.Duration(3200); got != 100*time.Millisecond {
		t.Errorf("Expected 100ms, got %v", got)
	}
	if got := (Format{}).Duration(100); got != 0 {
		t.Errorf("Expected 0 for empty format, got %v", got)
	}
}

func TestPCM16_RoundTrip(t *testing.T) {
	samples := []int16{0, 1000, -1000, math.MaxInt16, math.MinInt16}

	decoded, err := DecodePCM16(EncodePCM16(samples))
	if err != nil {
		t.Fatalf("DecodePCM16 failed: %v", err)
	}
	for i := range samples {
		if decoded[i] != samples[i] {
			t.Errorf("sample %d: expected %d, got %d", i, samples[i], decoded[i])
		}
	}

	if _, err := DecodePCM16([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for odd length")
	}
}

func TestFloat32ToPCM16(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, 2, float32(math.NaN())}
	data := make([]byte, len(in)*4)
	for i, f := range in {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}

	out, err := Float32ToPCM16(data)
	if err != nil {
		t.Fatalf("Float32ToPCM16 failed: %v", err)
	}
	samples, _ := DecodePCM16(out)

	want := []int16{0, math.MaxInt16, -math.MaxInt16, math.MaxInt16 / 2, math.MaxInt16, 0}
	for i := range want {
		diff := int(samples[i]) - int(want[i])
		if diff < -1 || diff > 1 {
			t.Errorf("sample %d: expected %d, got %d", i, want[i], samples[i])
		}
	}

	if _, err := Float32ToPCM16([]byte{0, 0, 0}); err == nil {
		t.Error("Expected error for truncated float32 data")
	}
}

func TestResamplePCM16(t *testing.T) {
	samples := make([]int16, 2400) // 0.1 seconds at 24kHz
	for i := range samples {
		samples[i] = int16(i % 1000)
	}

	out, err := ResamplePCM16(EncodePCM16(samples), 24000, 16000)
	if err != nil {
		t.Fatalf("ResamplePCM16 failed: %v", err)
	}
	if got := len(out) / 2; got != 1600 {
		t.Errorf("Expected 1600 samples at 16kHz, got %d", got)
	}

	same, _ := ResamplePCM16(out, 16000, 16000)
	if len(same) != len(out) {
		t.Error("Expected passthrough for equal rates")
	}

	if _, err := ResamplePCM16(out, 0, 16000); err == nil {
		t.Error("Expected error for invalid rate")
	}
}

func TestFramer(t *testing.T) {
	f := NewFramer(4)

	if frames := f.Write([]byte{1, 2, 3}); len(frames) != 0 {
		t.Fatalf("Expected no frames yet, got %d", len(frames))
	}
	if f.Buffered() != 3 {
		t.Errorf("Expected 3 buffered bytes, got %d", f.Buffered())
	}

	frames := f.Write([]byte{4, 5, 6, 7, 8, 9})
	if len(frames) != 2 {
		t.Fatalf("Expected 2 frames, got %d", len(frames))
	}
	if frames[0][0] != 1 || frames[0][3] != 4 || frames[1][0] != 5 || frames[1][3] != 8 {
		t.Errorf("Unexpected frames %v", frames)
	}

	rest := f.Flush()
	if len(rest) != 1 || rest[0] != 9 {
		t.Errorf("Expected remainder [9], got %v", rest)
	}
	if f.Flush() != nil {
		t.Error("Expected nil after flush")
	}
}

func TestFramer_FramesDoNotAlias(t *testing.T) {
	f := NewFramer(2)
	first := f.Write([]byte{1, 2})
	f.Write([]byte{3, 4})

	if first[0][0] != 1 || first[0][1] != 2 {
		t.Errorf("Earlier frame was overwritten: %v", first[0])
	}
}

func TestNewFramer_RoundsToSample(t *testing.T) {
	if got := NewFramer(3201).ChunkSize(); got != 3200 {
		t.Errorf("Expected 3200, got %d", got)
	}
	if got := NewFramer(0).ChunkSize(); got != 2 {
		t.Errorf("Expected minimum 2, got %d", got)
	}
}
