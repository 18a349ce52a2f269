package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Format describes interleaved linear PCM
type Format struct {
	SampleRate int
	Channels   int
}

// BytesPerSecond returns the byte rate of 16-bit PCM in this format
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// Duration returns how long n bytes of 16-bit PCM in this format play for
func (f Format) Duration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(bps)
}

// DecodePCM16 converts little-endian 16-bit PCM bytes to samples
func DecodePCM16(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d", len(data))
	}

	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples, nil
}

// EncodePCM16 converts samples to little-endian 16-bit PCM bytes
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// Float32ToPCM16 converts little-endian float32 samples in [-1, 1] to 16-bit PCM bytes.
// Browser capture APIs deliver this layout.
func Float32ToPCM16(data []byte) ([]byte, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("float32 PCM length must be a multiple of 4, got %d", len(data))
	}

	samples := make([]int16, len(data)/4)
	for i := range samples {
		f := math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		switch {
		case math.IsNaN(float64(f)):
			f = 0
		case f > 1:
			f = 1
		case f < -1:
			f = -1
		}
		samples[i] = int16(f * math.MaxInt16)
	}
	return EncodePCM16(samples), nil
}

// ResamplePCM16 converts mono 16-bit PCM between sample rates
func ResamplePCM16(data []byte, inputRate, outputRate int) ([]byte, error) {
	if inputRate <= 0 || outputRate <= 0 {
		return nil, fmt.Errorf("invalid sample rates %d -> %d", inputRate, outputRate)
	}
	if inputRate == outputRate {
		return data, nil
	}

	samples, err := DecodePCM16(data)
	if err != nil {
		return nil, err
	}
	return EncodePCM16(resample(samples, inputRate, outputRate)), nil
}

// resample performs linear interpolation resampling
func resample(samples []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(outputRate) / float64(inputRate)
	output := make([]int16, int(float64(len(samples))*ratio))

	for i := range output {
		srcPos := float64(i) / ratio
		idx0 := int(srcPos)
		idx1 := idx0 + 1
		if idx1 >= len(samples) {
			idx1 = len(samples) - 1
		}

		fraction := srcPos - float64(idx0)
		output[i] = int16(float64(samples[idx0])*(1.0-fraction) + float64(samples[idx1])*fraction)
	}

	return output
}
