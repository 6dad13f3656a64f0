// Package playback schedules model audio chunks for gapless output.
//
// Chunks arrive from the network faster than real time, so each one is
// queued at the point on the output timeline where the previous chunk ends.
// The scheduler tracks that timeline cursor and a set of in-flight chunks;
// a barge-in cancels everything in flight and snaps the cursor back to the
// current device time so the next response starts immediately instead of
// being pushed behind audio that was never played.
package playback

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MrWong99/voxline/pkg/audio"
)

// ErrClosed is returned by Schedule after the scheduler has been closed.
var ErrClosed = errors.New("playback: scheduler closed")

// Sink is the audio output the scheduler writes to. It is a subset of
// device.Playback so tests can substitute a fake with a controllable clock.
type Sink interface {
	// Write appends PCM bytes to the output stream.
	Write(pcm []byte) error
	// Flush discards any buffered audio that has not been played yet.
	Flush()
	// Now reports the current position on the output timeline.
	Now() time.Duration
}

// Scheduler queues audio chunks back to back on a Sink's timeline.
// All methods are safe for concurrent use.
type Scheduler struct {
	sink Sink
	log  *slog.Logger

	mu        sync.Mutex
	nextStart time.Duration
	pending   map[uint64]*pendingChunk
	nextID    uint64
	closed    bool
}

type pendingChunk struct {
	start *time.Timer
	end   *time.Timer
}

// New creates a Scheduler writing to sink. A nil logger defaults to
// slog.Default().
func New(sink Sink, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	return &Scheduler{
		sink:    sink,
		log:     log,
		pending: make(map[uint64]*pendingChunk),
	}
}

// Schedule queues chunk for playback and returns its start position on the
// sink's timeline. The start is the later of the timeline cursor and the
// sink's current time, so consecutive chunks play gaplessly and a chunk
// arriving after a silence gap plays immediately rather than in the past.
func (s *Scheduler) Schedule(chunk audio.Chunk) (time.Duration, error) {
	if len(chunk.PCM) == 0 {
		return 0, fmt.Errorf("playback: empty chunk")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrClosed
	}

	now := s.sink.Now()
	start := s.nextStart
	if now > start {
		start = now
	}
	dur := chunk.Duration()
	s.nextStart = start + dur

	id := s.nextID
	s.nextID++

	pcm := chunk.PCM
	pc := &pendingChunk{}
	pc.start = time.AfterFunc(start-now, func() {
		// The timer may fire while Interrupt or Close is cancelling this
		// chunk; only an id still in the pending set may reach the sink.
		s.mu.Lock()
		defer s.mu.Unlock()
		if _, ok := s.pending[id]; !ok {
			return
		}
		if err := s.sink.Write(pcm); err != nil {
			s.log.Warn("playback write failed", "err", err)
		}
	})
	pc.end = time.AfterFunc(start-now+dur, func() {
		s.mu.Lock()
		delete(s.pending, id)
		s.mu.Unlock()
	})
	s.pending[id] = pc

	return start, nil
}

// Interrupt cancels every in-flight chunk, flushes audio already handed to
// the sink, and resets the timeline cursor to the sink's current time. The
// next Schedule call after an Interrupt plays immediately.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	s.cancelPendingLocked()
	s.nextStart = s.sink.Now()
	s.mu.Unlock()

	s.sink.Flush()
}

// Active reports the number of chunks currently scheduled or playing.
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close cancels all in-flight chunks and rejects further Schedule calls.
// Idempotent.
func (s *Scheduler) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancelPendingLocked()
	s.mu.Unlock()

	s.sink.Flush()
}

// cancelPendingLocked stops every pending timer and empties the in-flight
// set. Callers must hold s.mu.
func (s *Scheduler) cancelPendingLocked() {
	for id, pc := range s.pending {
		pc.start.Stop()
		pc.end.Stop()
		delete(s.pending, id)
	}
}
