// Package device defines the audio device capabilities consumed by the
// Voxline live-session pipeline.
//
// The two primary abstractions are:
//
//   - [CaptureDevice]: a microphone handle delivering raw PCM periods to a
//     registered callback at the device's own cadence.
//   - [Playback]: a speaker sink with a monotonic device clock, an
//     append-only PCM stream, and immediate flush for barge-in cancellation.
//
// A [Platform] opens both at a fixed format. Implementations wrap concrete
// audio backends (see device/local for the miniaudio/oto one); the interfaces
// are intentionally narrow so the capture pipeline and playback scheduler
// stay decoupled from backend details, and so tests can substitute fakes.
//
// Implementations must be safe for concurrent use.
package device

import (
	"time"

	"github.com/MrWong99/voxline/pkg/audio"
)

// CaptureDevice is an open microphone handle.
//
// The device delivers little-endian 16-bit PCM in the format it was opened
// with. Period sizes are backend-chosen; consumers that need fixed frame
// lengths accumulate across periods.
type CaptureDevice interface {
	// Start begins capture and invokes onPeriod for every period of PCM the
	// backend produces. onPeriod is called on the backend's audio thread and
	// must not block; the slice is only valid for the duration of the call.
	// Start may be called at most once.
	Start(onPeriod func(pcm []byte)) error

	// Close stops capture and releases the device. Idempotent, and safe to
	// call on a device that was never started.
	Close() error
}

// Playback is an open speaker sink.
type Playback interface {
	// Write appends pcm to the output stream. Bytes are played in write
	// order; a write while the stream is idle begins playback immediately.
	Write(pcm []byte) error

	// Flush immediately discards all written-but-not-yet-played audio and
	// stops the current sound. Subsequent writes start a fresh stream.
	Flush()

	// Now returns the current device time: a monotonic clock that starts at
	// zero when the device is opened and advances in real time.
	Now() time.Duration

	// Close stops playback and releases the device. Idempotent.
	Close() error
}

// Platform is the entry point for an audio device backend. It opens the
// input and output devices used by one live session.
type Platform interface {
	// OpenCapture opens the microphone at the given format. Failure
	// (permission denial, no device) is terminal for the session; callers
	// perform no retry.
	OpenCapture(f audio.Format) (CaptureDevice, error)

	// OpenPlayback opens the speaker at the given format.
	OpenPlayback(f audio.Format) (Playback, error)
}
