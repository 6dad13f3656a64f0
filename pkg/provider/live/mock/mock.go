// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and feed controlled sessions. Use
// Session to drive the inbound audio/interruption/transcript streams and
// inspect which methods the controller invoked.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, cfg)
//	sess.AudioCh <- pcm
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/voxline/pkg/provider/live"
)

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the SessionConfig passed to Connect.
	Cfg live.SessionConfig
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by Connect. If nil, Connect
	// returns a new default Session with buffered channels.
	Session live.SessionHandle

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ProviderCapabilities is returned by Capabilities.
	ProviderCapabilities live.Capabilities

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.SessionConfig) (live.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// Capabilities returns ProviderCapabilities.
func (p *Provider) Capabilities() live.Capabilities {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ProviderCapabilities
}

// Ensure Provider implements live.Provider at compile time.
var _ live.Provider = (*Provider)(nil)

// Session is a mock implementation of live.SessionHandle. Tests drive the
// exported channels directly and call [Session.End] to simulate the session
// terminating.
type Session struct {
	// AudioCh feeds the Audio channel.
	AudioCh chan []byte

	// InterruptCh feeds the Interruptions channel.
	InterruptCh chan struct{}

	// TranscriptCh feeds the Transcripts channel.
	TranscriptCh chan live.Transcript

	// SendErr, if non-nil, is returned from every SendAudio call.
	SendErr error

	mu          sync.Mutex
	sent        [][]byte
	errVal      error
	errHandler  func(error)
	closed      bool
	closeCalled int
	endOnce     sync.Once
}

// NewSession returns a Session with buffered channels ready for use.
func NewSession() *Session {
	return &Session{
		AudioCh:      make(chan []byte, 64),
		InterruptCh:  make(chan struct{}, 4),
		TranscriptCh: make(chan live.Transcript, 16),
	}
}

// SendAudio records a copy of chunk and returns SendErr.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return live.ErrClosed
	}
	if s.SendErr != nil {
		return s.SendErr
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	s.sent = append(s.sent, cp)
	return nil
}

// Sent returns copies of all chunks passed to SendAudio, in order.
func (s *Session) Sent() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.sent))
	copy(out, s.sent)
	return out
}

// Audio returns the test-driven audio channel.
func (s *Session) Audio() <-chan []byte { return s.AudioCh }

// Interruptions returns the test-driven interruption channel.
func (s *Session) Interruptions() <-chan struct{} { return s.InterruptCh }

// Transcripts returns the test-driven transcript channel.
func (s *Session) Transcripts() <-chan live.Transcript { return s.TranscriptCh }

// OnError records the handler for later triggering via [Session.EmitError].
func (s *Session) OnError(handler func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errHandler = handler
}

// EmitError invokes the registered error handler, if any.
func (s *Session) EmitError(err error) {
	s.mu.Lock()
	handler := s.errHandler
	s.mu.Unlock()
	if handler != nil {
		handler(err)
	}
}

// End simulates session termination: sets the terminal error (may be nil for
// a clean close) and closes all inbound channels exactly once.
func (s *Session) End(err error) {
	s.endOnce.Do(func() {
		s.mu.Lock()
		s.errVal = err
		s.mu.Unlock()
		close(s.AudioCh)
		close(s.InterruptCh)
		close(s.TranscriptCh)
	})
}

// Err returns the terminal error set by End.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Close marks the session closed and Ends it cleanly. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.closeCalled++
	s.mu.Unlock()
	s.End(nil)
	return nil
}

// CloseCount returns how many times Close was invoked.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCalled
}

// Ensure Session implements live.SessionHandle at compile time.
var _ live.SessionHandle = (*Session)(nil)
