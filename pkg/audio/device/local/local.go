// Package local provides a [device.Platform] implementation backed by the
// host machine's default microphone and speaker, via the gen2brain/malgo
// (miniaudio) capture bindings and the ebitengine/oto/v3 playback context.
//
// oto allows only one playback context per process, so a [Platform] should
// be treated as process-wide: create one in main and share it.
package local

import (
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"
	"github.com/gen2brain/malgo"

	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/audio/device"
)

// Compile-time interface assertions.
var (
	_ device.Platform      = (*Platform)(nil)
	_ device.CaptureDevice = (*captureDevice)(nil)
	_ device.Playback      = (*playback)(nil)
)

// capturePeriodMs is the malgo device period. The capture pipeline
// accumulates periods into its own fixed frame length, so this only bounds
// callback latency.
const capturePeriodMs = 20

// playbackBufferMs sizes oto's internal ring buffer. Smaller is lower
// latency at the cost of underrun risk on loaded systems.
const playbackBufferMs = 100

// Platform implements [device.Platform] on the host's default audio devices.
type Platform struct {
	ctx *malgo.AllocatedContext

	mu      sync.Mutex
	otoCtx  *oto.Context
	otoRate int
}

// New initialises the backend audio context. The returned Platform must be
// closed with [Platform.Close] when the process is done with audio.
func New() (*Platform, error) {
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("local: init audio context: %w", err)
	}
	return &Platform{ctx: ctx}, nil
}

// OpenCapture opens the default microphone at the given format.
func (p *Platform) OpenCapture(f audio.Format) (device.CaptureDevice, error) {
	return &captureDevice{platform: p, format: f}, nil
}

// OpenPlayback opens the default speaker at the given format.
func (p *Platform) OpenPlayback(f audio.Format) (device.Playback, error) {
	ctx, err := p.playbackContext(f)
	if err != nil {
		return nil, err
	}
	s := &playback{otoCtx: ctx, opened: time.Now()}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// playbackContext returns the process-wide oto context, creating it on first
// use. oto cannot re-open at a different sample rate within one process.
func (p *Platform) playbackContext(f audio.Format) (*oto.Context, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.otoCtx != nil {
		if p.otoRate != f.SampleRate {
			return nil, fmt.Errorf("local: playback context already open at %d Hz, cannot reopen at %d Hz", p.otoRate, f.SampleRate)
		}
		return p.otoCtx, nil
	}

	opts := &oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       oto.FormatSignedInt16LE,
		BufferSize:   time.Duration(playbackBufferMs) * time.Millisecond,
	}
	ctx, ready, err := oto.NewContext(opts)
	if err != nil {
		return nil, fmt.Errorf("local: init speaker: %w", err)
	}
	<-ready

	p.otoCtx = ctx
	p.otoRate = f.SampleRate
	return ctx, nil
}

// Close releases the backend audio context. Open devices must be closed
// first.
func (p *Platform) Close() error {
	if err := p.ctx.Uninit(); err != nil {
		return fmt.Errorf("local: uninit audio context: %w", err)
	}
	p.ctx.Free()
	return nil
}

// ── Capture ────────────────────────────────────────────────────────────────────

// captureDevice wraps a malgo capture device. The malgo device is initialised
// lazily in Start because malgo binds the data callback at init time.
type captureDevice struct {
	platform *Platform
	format   audio.Format

	mu        sync.Mutex
	dev       *malgo.Device
	started   bool
	closeOnce sync.Once
}

// Start initialises the microphone and begins delivering periods to onPeriod.
func (c *captureDevice) Start(onPeriod func(pcm []byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return fmt.Errorf("local: capture already started")
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = uint32(c.format.Channels)
	cfg.SampleRate = uint32(c.format.SampleRate)
	cfg.PeriodSizeInMilliseconds = capturePeriodMs

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			onPeriod(input)
		},
	}

	dev, err := malgo.InitDevice(c.platform.ctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("local: init microphone: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("local: start microphone: %w", err)
	}

	c.dev = dev
	c.started = true
	return nil
}

// Close stops and releases the microphone exactly once.
func (c *captureDevice) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		dev := c.dev
		c.dev = nil
		c.mu.Unlock()

		if dev != nil {
			_ = dev.Stop()
			dev.Uninit()
		}
	})
	return nil
}

// ── Playback ───────────────────────────────────────────────────────────────────

// playback implements [device.Playback] on an oto player. It feeds the
// player through its io.Reader side from a mutex-guarded byte queue, the same
// shape oto expects for streaming PCM.
type playback struct {
	otoCtx *oto.Context
	opened time.Time

	mu      sync.Mutex
	cond    *sync.Cond
	buf     []byte
	player  *oto.Player
	playing bool
	closed  bool
}

// Write appends pcm to the output queue, creating the player on first write.
func (s *playback) Write(pcm []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("local: playback closed")
	}

	s.buf = append(s.buf, pcm...)
	if !s.playing {
		s.playing = true
		s.player = s.otoCtx.NewPlayer(s)
		s.player.Play()
	}
	s.cond.Signal()
	return nil
}

// Read implements io.Reader for the oto player. It blocks until data is
// available or the sink is closed, then hands oto the queued PCM.
func (s *playback) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}

	if s.closed && len(s.buf) == 0 {
		// Silence lets oto drain gracefully instead of erroring mid-buffer.
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

// Flush discards the queue and resets the player so already-submitted audio
// stops immediately. The next Write starts a fresh player.
func (s *playback) Flush() {
	s.mu.Lock()
	s.buf = s.buf[:0]
	player := s.player
	s.player = nil
	s.playing = false
	s.mu.Unlock()

	if player != nil {
		player.Pause()
		_ = player.Close()
	}
}

// Now returns the device clock: time elapsed since the sink was opened.
func (s *playback) Now() time.Duration {
	return time.Since(s.opened)
}

// Close stops playback and releases the player. Idempotent.
func (s *playback) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	player := s.player
	s.player = nil
	s.cond.Broadcast()
	s.mu.Unlock()

	if player != nil {
		_ = player.Close()
	}
	return nil
}
