package live

import (
	"encoding/binary"
)

// WaveformSamples is the number of samples carried by a visualization snapshot.
const WaveformSamples = 256

// maxSampleMagnitude is the largest absolute value of a signed 16-bit sample.
const maxSampleMagnitude = 32768.0

// DecodePCM16 decodes little-endian signed 16-bit samples. A trailing odd
// byte is ignored.
func DecodePCM16(pcm []byte) []int16 {
	n := len(pcm) / 2
	samples := make([]int16, n)
	for i := 0; i < n; i++ {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[2*i:]))
	}
	return samples
}

// Amplitude returns the mean absolute sample value normalized by 2^15 and
// clamped to [0, 1]. An empty buffer has amplitude 0.
func Amplitude(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		// float64 avoids overflow when negating -32768
		v := float64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	return clamp01(sum / (float64(len(samples)) * maxSampleMagnitude))
}

// Waveform returns a copy of the first WaveformSamples samples.
func Waveform(samples []int16) []int16 {
	n := len(samples)
	if n > WaveformSamples {
		n = WaveformSamples
	}
	out := make([]int16, n)
	copy(out, samples[:n])
	return out
}

// ClampLevel clamps an audio level to [0, 1].
func ClampLevel(level float64) float64 {
	return clamp01(level)
}

func clamp01(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
