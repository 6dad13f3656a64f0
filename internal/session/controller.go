// Package session runs the live voice session lifecycle: it owns the audio
// devices, the capture and playback pipelines, and the provider transport,
// and coordinates their startup, steady state, and teardown.
//
// The controller is single-use. Start establishes the session; Close tears
// it down. Lifecycle transitions are reported to an optional status
// observer, and the microphone can be muted and unmuted at any time without
// touching the transport.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/voxline/internal/capture"
	"github.com/MrWong99/voxline/internal/observe"
	"github.com/MrWong99/voxline/internal/playback"
	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/audio/device"
	"github.com/MrWong99/voxline/pkg/provider/live"
)

// Config assembles the collaborators of a Controller.
type Config struct {
	// Provider is the live voice provider to connect to.
	Provider live.Provider

	// ProviderName labels metrics and logs. Typically the registry name,
	// e.g. "gemini-live".
	ProviderName string

	// Platform opens the audio devices.
	Platform device.Platform

	// Credential is the provider API key. Checked before any device is
	// opened so a misconfigured key fails fast.
	Credential string

	// Session configures the provider session (voice, instructions).
	Session live.SessionConfig

	// Policy decides how connect failures are handled. Nil means
	// SingleAttempt.
	Policy ConnectPolicy

	// FrameSamples overrides the capture frame size. Zero means the
	// capture default.
	FrameSamples int

	// Metrics receives instrumentation. Nil means observe.DefaultMetrics().
	Metrics *observe.Metrics

	// Logger is the session logger. Nil means slog.Default().
	Logger *slog.Logger
}

// Controller drives one live voice session. Create with New, run with
// Start, end with Close. All exported methods are safe for concurrent use.
type Controller struct {
	cfg     Config
	policy  ConnectPolicy
	log     *slog.Logger
	metrics *observe.Metrics

	mu           sync.Mutex
	status       Status
	statusFn     func(Status)
	transcriptFn func(live.Transcript)

	started atomic.Bool
	closing atomic.Bool
	volume  atomic.Uint64 // math.Float64bits of the last input level

	pipeline *capture.Pipeline
	sched    *playback.Scheduler
	playDev  device.Playback
	handle   live.SessionHandle

	pumps        errgroup.Group
	connectedAt  time.Time // guarded by mu
	runtimeErr   error     // guarded by mu; first fatal provider error
	teardownOnce sync.Once
	teardownErr  error
	closeOnce    sync.Once
	closeErr     error
	finishOnce   sync.Once
}

// New creates a Controller. Call Start to establish the session.
func New(cfg Config) *Controller {
	policy := cfg.Policy
	if policy == nil {
		policy = SingleAttempt{}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Controller{
		cfg:     cfg,
		policy:  policy,
		log:     log.With("provider", cfg.ProviderName),
		metrics: metrics,
		status:  Status{State: StateIdle},
	}
}

// OnStatusChange registers a lifecycle observer. Must be called before
// Start; the callback fires on every state transition from then on.
func (c *Controller) OnStatusChange(fn func(Status)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusFn = fn
}

// OnTranscript registers a transcript observer. Must be called before Start.
func (c *Controller) OnTranscript(fn func(live.Transcript)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.transcriptFn = fn
}

// Status returns the current lifecycle snapshot.
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Volume reports the most recent microphone input level (0..100). Levels
// keep updating while muted.
func (c *Controller) Volume() float64 {
	return math.Float64frombits(c.volume.Load())
}

// ToggleMute flips the microphone mute state and returns the new state.
func (c *Controller) ToggleMute() bool {
	c.mu.Lock()
	p := c.pipeline
	c.mu.Unlock()
	if p == nil {
		return false
	}
	muted := !p.Muted()
	p.SetMuted(muted)
	c.log.Info("mute toggled", "muted", muted)
	return muted
}

// Muted reports whether the microphone is muted.
func (c *Controller) Muted() bool {
	c.mu.Lock()
	p := c.pipeline
	c.mu.Unlock()
	return p != nil && p.Muted()
}

// Start establishes the session: it validates the credential, opens the
// audio devices, connects to the provider, and starts the audio pumps. On
// success the controller is in StateConnected and audio flows until Close
// or a provider-side disconnect.
func (c *Controller) Start(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyStarted
	}

	if c.cfg.Credential == "" {
		err := ErrMissingCredential
		c.setStatus(Status{State: StateError, Err: err})
		return err
	}

	c.setStatus(Status{State: StateConnecting})
	caps := c.cfg.Provider.Capabilities()

	playDev, err := c.cfg.Platform.OpenPlayback(caps.OutputFormat)
	if err != nil {
		err = fmt.Errorf("session: open playback: %w", err)
		c.setStatus(Status{State: StateError, Err: err})
		return err
	}

	capDev, err := c.cfg.Platform.OpenCapture(caps.InputFormat)
	if err != nil {
		_ = playDev.Close()
		err = fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
		c.setStatus(Status{State: StateError, Err: err})
		return err
	}

	connectStart := time.Now()
	ctx, span := observe.StartSpan(ctx, "session.connect")
	handle, err := c.policy.Connect(ctx, c.cfg.Provider, c.cfg.Session)
	span.End()
	if err != nil {
		_ = capDev.Close()
		_ = playDev.Close()
		c.metrics.RecordProviderError(ctx, c.cfg.ProviderName, errorKind(err))
		c.setStatus(Status{State: StateError, Err: err})
		return err
	}
	c.metrics.ConnectDuration.Record(ctx, time.Since(connectStart).Seconds())

	sched := playback.New(playDev, c.log)
	pipeline := capture.New(capDev, capture.Config{
		Format:       caps.InputFormat,
		FrameSamples: c.cfg.FrameSamples,
	}, capture.Handlers{
		OnFrame: c.onFrame,
		OnLevel: c.onLevel,
	}, c.log)

	c.mu.Lock()
	c.playDev = playDev
	c.handle = handle
	c.sched = sched
	c.pipeline = pipeline
	c.mu.Unlock()

	handle.OnError(func(err error) {
		c.log.Error("provider error", "error", err)
		c.metrics.RecordProviderError(context.Background(), c.cfg.ProviderName, "runtime")
		c.fail(err)
	})

	if err := pipeline.Start(); err != nil {
		_ = c.teardown()
		err = fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
		c.setStatus(Status{State: StateError, Err: err})
		return err
	}

	c.mu.Lock()
	c.connectedAt = time.Now()
	c.mu.Unlock()
	c.metrics.ActiveSessions.Add(ctx, 1)
	c.setStatus(Status{State: StateConnected})
	c.log.Info("session established",
		"input_rate", caps.InputFormat.SampleRate,
		"output_rate", caps.OutputFormat.SampleRate,
		"correlation_id", observe.CorrelationID(ctx),
	)

	c.pumps.Go(func() error { c.pumpAudio(handle, sched, caps.OutputFormat); return nil })
	c.pumps.Go(func() error { c.pumpInterruptions(handle, sched); return nil })
	c.pumps.Go(func() error { c.pumpTranscripts(handle); return nil })
	go c.watch(handle)

	return nil
}

// Close tears the session down: capture stops first so no further audio is
// sent, then the transport closes, then playback is flushed and released.
// Idempotent; later calls return the first result.
func (c *Controller) Close() error {
	c.closeOnce.Do(func() {
		c.closing.Store(true)
		c.closeErr = c.teardown()
		_ = c.pumps.Wait()
		c.finishSession(Status{State: StateDisconnected})
	})
	return c.closeErr
}

// ── Audio pumps ───────────────────────────────────────────────────────────────

// onFrame encodes one microphone frame and hands it to the transport.
// Invoked from the capture goroutine, never while muted.
func (c *Controller) onFrame(frame audio.Frame) {
	pcm := audio.EncodePCM16(frame.Samples)
	if err := c.handle.SendAudio(pcm); err != nil {
		if errors.Is(err, live.ErrClosed) {
			return
		}
		c.log.Warn("send audio failed", "error", err)
		return
	}
	c.metrics.RecordFrameCaptured(context.Background(), c.cfg.ProviderName)
}

// onLevel records the input level for every frame, muted or not.
func (c *Controller) onLevel(volume float64) {
	c.volume.Store(math.Float64bits(volume))
	if c.Muted() {
		c.metrics.FramesMuted.Add(context.Background(), 1)
	}
}

// pumpAudio schedules inbound model audio for playback. Malformed chunks
// are dropped and logged; the session keeps running.
func (c *Controller) pumpAudio(handle live.SessionHandle, sched *playback.Scheduler, format audio.Format) {
	ctx := context.Background()
	for pcm := range handle.Audio() {
		chunk, err := audio.NewChunk(pcm, format)
		if err != nil {
			c.log.Warn("dropping malformed audio chunk", "bytes", len(pcm), "error", err)
			c.metrics.RecordChunkDropped(ctx, c.cfg.ProviderName)
			continue
		}
		if _, err := sched.Schedule(chunk); err != nil {
			if errors.Is(err, playback.ErrClosed) {
				// Teardown in progress: keep consuming so the provider's
				// receive loop is not blocked on a full channel.
				audio.Drain(handle.Audio())
				return
			}
			c.log.Warn("scheduling audio chunk failed", "error", err)
			continue
		}
		c.metrics.RecordChunkReceived(ctx, c.cfg.ProviderName)
	}
}

// pumpInterruptions cancels queued playback on each barge-in signal.
func (c *Controller) pumpInterruptions(handle live.SessionHandle, sched *playback.Scheduler) {
	for range handle.Interruptions() {
		sched.Interrupt()
		c.metrics.RecordInterruption(context.Background(), c.cfg.ProviderName)
		c.log.Info("playback interrupted")
	}
}

// pumpTranscripts forwards transcripts to the registered observer.
func (c *Controller) pumpTranscripts(handle live.SessionHandle) {
	c.mu.Lock()
	fn := c.transcriptFn
	c.mu.Unlock()

	for t := range handle.Transcripts() {
		if fn != nil {
			fn(t)
		}
	}
}

// fail records the first fatal provider error and tears the session down.
// The watch goroutine finishes the state transition once the pumps drain;
// teardown runs off the caller's goroutine because the provider may invoke
// the error handler from its own receive loop.
func (c *Controller) fail(err error) {
	if c.closing.Load() {
		return
	}
	c.mu.Lock()
	if c.runtimeErr == nil {
		c.runtimeErr = err
	}
	c.mu.Unlock()

	go func() { _ = c.teardown() }()
}

// watch detects a provider-side session end: the pumps exit when the
// handle's channels close. A local Close is not an error; anything else
// surfaces the handle's terminal error, or the first runtime error the
// provider reported.
func (c *Controller) watch(handle live.SessionHandle) {
	_ = c.pumps.Wait()
	if c.closing.Load() {
		return
	}

	_ = c.teardown()
	err := handle.Err()
	c.mu.Lock()
	reported := c.runtimeErr != nil
	if err == nil {
		err = c.runtimeErr
	}
	c.mu.Unlock()
	if err != nil {
		c.log.Error("session ended with error", "error", err)
		if !reported { // runtime errors were counted by the OnError handler
			c.metrics.RecordProviderError(context.Background(), c.cfg.ProviderName, errorKind(err))
		}
		c.finishSession(Status{State: StateError, Err: err})
		return
	}
	c.log.Info("session ended by provider")
	c.finishSession(Status{State: StateDisconnected})
}

// ── Teardown ──────────────────────────────────────────────────────────────────

// teardown releases all resources in dependency order: microphone, then
// transport, then playback. Safe to call from Close and from watch; only
// the first call does work.
func (c *Controller) teardown() error {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		pipeline, handle, sched, playDev := c.pipeline, c.handle, c.sched, c.playDev
		c.mu.Unlock()

		var errs []error
		if pipeline != nil {
			if err := pipeline.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close capture: %w", err))
			}
		}
		if handle != nil {
			if err := handle.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close transport: %w", err))
			}
		}
		if sched != nil {
			sched.Close()
		}
		if playDev != nil {
			if err := playDev.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close playback: %w", err))
			}
		}
		c.teardownErr = errors.Join(errs...)
	})
	return c.teardownErr
}

// finishSession records end-of-session metrics and moves to a terminal
// state. Close and watch can race here when a remote end overlaps a local
// Close; the metrics finalization runs exactly once and the sticky terminal
// check in setStatus settles the state.
func (c *Controller) finishSession(st Status) {
	c.finishOnce.Do(func() {
		c.mu.Lock()
		connectedAt := c.connectedAt
		c.mu.Unlock()
		if !connectedAt.IsZero() {
			ctx := context.Background()
			c.metrics.ActiveSessions.Add(ctx, -1)
			c.metrics.SessionDuration.Record(ctx, time.Since(connectedAt).Seconds())
		}
	})
	c.setStatus(st)
}

// setStatus updates the snapshot and notifies the observer. Terminal states
// stick: once in StateDisconnected or StateError, no further transitions.
func (c *Controller) setStatus(st Status) {
	c.mu.Lock()
	if c.status.State == StateDisconnected || c.status.State == StateError {
		c.mu.Unlock()
		return
	}
	c.status = st
	fn := c.statusFn
	c.mu.Unlock()

	if fn != nil {
		fn(st)
	}
}

// errorKind maps an error to a metric label.
func errorKind(err error) string {
	switch {
	case errors.Is(err, live.ErrAuth):
		return "auth"
	case errors.Is(err, live.ErrNetwork):
		return "network"
	default:
		return "other"
	}
}
