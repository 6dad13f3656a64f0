// Package live defines the Provider interface for live speech-to-speech
// session backends.
//
// A live provider wraps a real-time voice AI service that accepts raw audio
// input and returns synthesised audio output in a single, stateful,
// full-duplex session. The central abstraction is [SessionHandle]: a
// bidirectional, multiplexed connection carrying outbound microphone audio
// and inbound synthesised audio, interruption signals, and transcripts
// concurrently.
//
// Ordering: inbound audio chunks are delivered in arrival order relative to
// each other. No ordering is guaranteed between an outbound SendAudio call
// and the arrival of any inbound event; the session is genuinely full
// duplex.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"

	"github.com/MrWong99/voxline/pkg/audio"
)

// VoiceProfile identifies a synthesised voice offered by a provider.
type VoiceProfile struct {
	// ID is the provider-specific voice identifier (e.g., "Fenrir").
	ID string

	// Name is the human-readable display name.
	Name string
}

// Transcript is a text rendering of one side of the conversation, emitted by
// providers that transcribe as they go. Role is "user" for recognised user
// speech and "model" for the model's own output.
type Transcript struct {
	Role string
	Text string
}

// SessionConfig is the initial configuration for a new live session.
type SessionConfig struct {
	// Voice selects the synthesised voice for the session.
	Voice VoiceProfile

	// Instructions is the system-level behavioural prompt for the model.
	Instructions string
}

// Capabilities describes static properties of a live provider. The values
// are assumed constant for the lifetime of the Provider instance.
type Capabilities struct {
	// InputFormat is the audio format the provider expects on SendAudio.
	InputFormat audio.Format

	// OutputFormat is the audio format of chunks emitted on Audio. It is
	// fixed per session and independent of InputFormat.
	OutputFormat audio.Format

	// MaxSessionDurationMs is the hard upper bound on session lifetime in
	// milliseconds, as imposed by the provider. Zero means no documented
	// limit.
	MaxSessionDurationMs int

	// Voices lists the voice profiles available for this provider.
	Voices []VoiceProfile
}

// SessionHandle represents an open live session. It is an interface so that
// test code can supply mock implementations without a live connection.
//
// The session is the hot path of the voice pipeline; every method must
// return quickly. Inbound events are channel-based to avoid blocking the
// provider's receive loop. Callers must call Close when the session is no
// longer needed.
type SessionHandle interface {
	// SendAudio delivers one encoded outbound audio chunk to the provider.
	// The chunk must match the input format negotiated at connect time.
	// Sending on a closed session returns an error wrapping [ErrClosed].
	SendAudio(chunk []byte) error

	// Audio returns a read-only channel emitting raw PCM byte slices as the
	// model synthesises its spoken response, in arrival order. The channel
	// is closed when the session ends; after that, check [SessionHandle.Err]
	// for the cause. Consumers must drain promptly.
	Audio() <-chan []byte

	// Interruptions returns a read-only channel that emits one value each
	// time the remote party's turn is cut off by the user (barge-in). On
	// receipt, all pending and playing output for the interrupted turn must
	// be cancelled immediately. Closed when the session ends.
	Interruptions() <-chan struct{}

	// Transcripts returns a read-only channel emitting [Transcript] values
	// for both recognised user speech and model output. Closed when the
	// session ends.
	Transcripts() <-chan Transcript

	// OnError registers a callback for runtime error events from the
	// provider. The callback may be invoked from the session's receive
	// goroutine and must not block. Only one callback may be registered;
	// subsequent calls replace it.
	OnError(func(error))

	// Err returns the error that caused the session to terminate, or nil if
	// it ended cleanly. Check after the Audio channel closes.
	Err() error

	// Close terminates the session and releases all resources. Idempotent.
	// Teardown is best-effort: no server-side acknowledgment is awaited.
	Close() error
}

// Provider is the entry point for a live speech backend.
type Provider interface {
	// Connect establishes a new session. It returns only once the session
	// is open and ready to accept audio; a nil error is the signal that
	// the capture side may begin sending. Connect failures are terminal for
	// the attempt: no automatic retry is performed at this layer. Errors
	// wrap [ErrAuth] (missing or rejected credential) or [ErrNetwork]
	// (unreachable endpoint).
	Connect(ctx context.Context, cfg SessionConfig) (SessionHandle, error)

	// Capabilities returns static metadata about the provider.
	Capabilities() Capabilities
}
