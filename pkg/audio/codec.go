package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
	"math"
)

// ErrMalformedAudio reports a payload that cannot be interpreted as audio in
// the expected encoding. Codec failures are isolated per chunk: callers drop
// the offending chunk and keep the session alive.
var ErrMalformedAudio = errors.New("audio: malformed payload")

// EncodePCM16 converts normalized float samples to little-endian 16-bit PCM.
// Each sample s in [-1, 1] maps to round(s * 32767); values outside the range
// are clamped. An empty input yields an empty output.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32767)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		u := int16(v)
		out[i*2] = byte(u)
		out[i*2+1] = byte(u >> 8)
	}
	return out
}

// DecodePCM16 converts little-endian 16-bit PCM into normalized float
// samples via sample = int16 / 32768. A byte length that is not a multiple
// of 2 × channels fails with [ErrMalformedAudio] rather than truncating
// silently.
func DecodePCM16(pcm []byte, channels int) ([]float32, error) {
	group := 2 * channels
	if group <= 0 || len(pcm)%group != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d", ErrMalformedAudio, len(pcm), group)
	}
	out := make([]float32, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = float32(s) / 32768.0
	}
	return out, nil
}

// EncodeTransport converts raw wire bytes to the text-safe encoding used on
// the session transport (standard base64).
func EncodeTransport(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

// DecodeTransport is the inverse of [EncodeTransport]. Invalid base64 input
// fails with [ErrMalformedAudio].
func DecodeTransport(data string) ([]byte, error) {
	out, err := base64.StdEncoding.DecodeString(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedAudio, err)
	}
	return out, nil
}
