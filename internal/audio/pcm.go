package audio

import (
	"errors"
	"math"
	"time"
)

// ErrFormat is returned when a binary audio frame cannot be interpreted
// as 16-bit little-endian PCM. Callers should treat it as fatal for the
// connection that produced the frame.
var ErrFormat = errors.New("invalid PCM format")

// DecodeSamples converts raw bytes to 16-bit signed samples (little-endian).
// The byte length must be even; mono audio is assumed.
func DecodeSamples(data []byte) ([]int16, error) {
	if len(data)%2 != 0 {
		return nil, ErrFormat
	}

	samples := make([]int16, len(data)/2)
	for i := 0; i < len(samples); i++ {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}

	return samples, nil
}

// EncodeSamples converts 16-bit signed samples back to little-endian bytes.
func EncodeSamples(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, sample := range samples {
		data[i*2] = byte(sample)
		data[i*2+1] = byte(sample >> 8)
	}
	return data
}

// CalculateRMS calculates the root mean square (RMS) of audio samples
// Useful for detecting audio levels and silence
func CalculateRMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0.0
	}

	sum := 0.0
	for _, sample := range samples {
		sum += float64(sample) * float64(sample)
	}

	return math.Sqrt(sum / float64(len(samples)))
}

// BytesToDuration returns the wall-clock duration of a PCM byte slice
// at the given sample rate (16-bit mono).
func BytesToDuration(n int, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	samples := n / 2
	return time.Duration(float64(samples) / float64(sampleRate) * float64(time.Second))
}

// DurationToBytes returns the number of PCM bytes covering d at the
// given sample rate (16-bit mono).
func DurationToBytes(d time.Duration, sampleRate int) int {
	samples := int(d.Seconds() * float64(sampleRate))
	return samples * 2
}
