// Package audio converts between mono float32 PCM samples and the
// little-endian, base64-framed PCM16 wire format used by the data
// channel's audio delta events, and drives a serial playback queue for
// decoded chunks (spec.md §4.2).
package audio

import (
	"encoding/base64"
	"encoding/binary"
)

// EncodePCM16 clamps samples to [-1,1] and encodes them as little-endian
// PCM16, base64-framed. Negative samples are scaled by 32768 and
// non-negative samples by 32767 — an asymmetric mapping that lets -1.0
// round-trip to the int16 minimum exactly.
func EncodePCM16(samples []float32) string {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := clamp(s, -1, 1)
		var scaled int16
		if v < 0 {
			scaled = int16(v * 32768)
		} else {
			scaled = int16(v * 32767)
		}
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(scaled))
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodePCM16 decodes a base64-framed little-endian PCM16 buffer into
// mono float32 samples in [-1,1]. A truncated trailing byte is dropped.
// Invalid base64 yields an empty (not nil) sample buffer rather than an
// error, matching the no-throw contract of the rest of the codec.
func DecodePCM16(b64 string) []float32 {
	raw, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return []float32{}
	}
	n := len(raw) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
		samples[i] = clamp(float32(v)/32768, -1, 1)
	}
	return samples
}

// Downsample performs average-of-bucket decimation from fromRateHz to
// toRateHz. Equal rates are a pass-through copy.
func Downsample(samples []float32, fromRateHz, toRateHz int) []float32 {
	if fromRateHz == toRateHz || len(samples) == 0 {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out
	}

	ratio := float64(fromRateHz) / float64(toRateHz)
	outLen := int(float64(len(samples)) / ratio)
	out := make([]float32, outLen)
	for i := range out {
		start := int(float64(i) * ratio)
		end := int(float64(i+1) * ratio)
		if end > len(samples) {
			end = len(samples)
		}
		if end <= start {
			end = start + 1
		}
		var sum float32
		count := 0
		for j := start; j < end && j < len(samples); j++ {
			sum += samples[j]
			count++
		}
		if count > 0 {
			out[i] = sum / float32(count)
		}
	}
	return out
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
