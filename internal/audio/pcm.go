package audio

import (
	"encoding/base64"
	"fmt"
	"math"
)

// EncodePCM16 converts float samples in [-1, 1] to little-endian signed
// 16-bit PCM bytes. Samples outside the valid range are clamped. The
// scaling is asymmetric (32768 for negative values, 32767 for positive)
// to cover the full signed 16-bit range without overflow.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s < -1.0 {
			s = -1.0
		} else if s > 1.0 {
			s = 1.0
		}

		var v int16
		if s < 0 {
			v = int16(math.Round(float64(s) * 32768))
		} else {
			v = int16(math.Round(float64(s) * 32767))
		}

		out[i*2] = byte(v)
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}

// DecodePCM16 converts little-endian signed 16-bit PCM bytes back to
// float samples in [-1, 1]. The byte length must be even.
func DecodePCM16(data []byte) ([]float32, error) {
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("PCM data length must be even (16-bit samples), got %d", len(data))
	}

	out := make([]float32, len(data)/2)
	for i := range out {
		v := int16(data[i*2]) | int16(data[i*2+1])<<8
		out[i] = float32(v) / 32768.0
	}
	return out, nil
}

// EncodePayload packs float samples as base64-encoded PCM16 for the
// text-safe transport envelope.
func EncodePayload(samples []float32) string {
	return base64.StdEncoding.EncodeToString(EncodePCM16(samples))
}

// DecodePayload unpacks a base64 PCM16 payload back to float samples.
func DecodePayload(payload string) ([]float32, error) {
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode base64 audio: %w", err)
	}
	return DecodePCM16(data)
}
