// Package audio defines the sample formats and pure conversion functions used
// by the Voxline live-session pipeline.
//
// Audio flows through the system in two shapes:
//
//   - [Frame]: one fixed-length capture period of normalized float samples,
//     produced by the capture pipeline at a steady cadence.
//   - [Chunk]: one variable-length unit of 16-bit PCM received from the
//     remote endpoint, consumed by the playback scheduler.
//
// The codec functions ([EncodePCM16], [DecodePCM16], [EncodeTransport],
// [DecodeTransport]) are pure and stateless; they carry no session state and
// are safe for concurrent use.
package audio

import "time"

// Format describes the sample rate and channel count of an audio stream.
// All Voxline audio is 16-bit PCM; the bit depth is implied.
type Format struct {
	// SampleRate in Hz (16000 for capture, 24000 for playback).
	SampleRate int

	// Channels: 1 for mono. The live session is mono on both legs.
	Channels int
}

// BytesPerSecond returns the s16le byte rate of the format.
func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.Channels * 2
}

// PCMDuration returns the playback time of n bytes of s16le PCM in this
// format. Returns 0 for a zero-valued format.
func (f Format) PCMDuration(n int) time.Duration {
	bps := f.BytesPerSecond()
	if bps <= 0 {
		return 0
	}
	return time.Duration(int64(n) * int64(time.Second) / int64(bps))
}

// Frame is one capture period of raw microphone audio. Samples are
// normalized to [-1.0, 1.0]. Frames are created by the capture pipeline once
// per period and consumed immediately; they are not retained.
type Frame struct {
	// Samples holds Format.Channels interleaved normalized samples.
	Samples []float32

	// Format is the capture format the frame was recorded in.
	Format Format
}

// Duration returns the playback time of the frame.
func (f Frame) Duration() time.Duration {
	if f.Format.SampleRate <= 0 || f.Format.Channels <= 0 {
		return 0
	}
	perChannel := len(f.Samples) / f.Format.Channels
	return time.Duration(int64(perChannel) * int64(time.Second) / int64(f.Format.SampleRate))
}

// Chunk is one decoded unit of synthesised audio received from the remote
// endpoint, as little-endian 16-bit PCM. Chunks are created on receipt,
// handed to the playback scheduler, and discarded after playback.
type Chunk struct {
	// PCM is the s16le sample payload.
	PCM []byte

	// Format is the playback format of the payload. The sample rate is fixed
	// per session and independent of the capture rate.
	Format Format
}

// NewChunk validates pcm against the format and returns a [Chunk]. A byte
// length that is not a multiple of one full sample group (2 bytes × channels)
// is rejected with [ErrMalformedAudio] rather than truncated silently.
func NewChunk(pcm []byte, f Format) (Chunk, error) {
	group := 2 * f.Channels
	if group <= 0 || len(pcm)%group != 0 {
		return Chunk{}, ErrMalformedAudio
	}
	return Chunk{PCM: pcm, Format: f}, nil
}

// Duration returns the playback time of the chunk.
func (c Chunk) Duration() time.Duration {
	return c.Format.PCMDuration(len(c.PCM))
}
