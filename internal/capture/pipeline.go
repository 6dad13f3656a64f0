// Package capture turns raw microphone periods into fixed-size audio frames.
//
// Audio devices deliver small periods at the platform's native cadence; the
// pipeline reassembles them into frames of a fixed sample count, computes an
// input level for every frame, and hands frames to a consumer. Muting stops
// frame delivery but not level reporting, so a UI can keep showing mic
// activity while the session sends nothing.
package capture

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/audio/device"
)

// DefaultFrameSamples is the default number of samples per emitted frame,
// about 256 ms at 16 kHz.
const DefaultFrameSamples = 4096

// Config holds the capture parameters.
type Config struct {
	// Format is the capture format, typically 16 kHz mono.
	Format audio.Format
	// FrameSamples is the number of samples per emitted frame. Zero means
	// DefaultFrameSamples.
	FrameSamples int
}

// Handlers receives the pipeline's output. Both callbacks are invoked from
// the device's capture goroutine, one at a time, in capture order.
type Handlers struct {
	// OnFrame receives each completed frame. Not called while muted.
	OnFrame func(audio.Frame)
	// OnLevel receives the input volume (0..100) of each completed frame,
	// muted or not.
	OnLevel func(volume float64)
}

// Pipeline accumulates device periods into frames. Create with New.
type Pipeline struct {
	dev      device.CaptureDevice
	format   audio.Format
	frameLen int
	handlers Handlers
	log      *slog.Logger

	muted atomic.Bool

	// buf is only touched from the device callback goroutine.
	buf []float32

	closeOnce sync.Once
	closeErr  error
}

// New creates a capture pipeline reading from dev. A nil logger defaults to
// slog.Default().
func New(dev device.CaptureDevice, cfg Config, h Handlers, log *slog.Logger) *Pipeline {
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = DefaultFrameSamples
	}
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		dev:      dev,
		format:   cfg.Format,
		frameLen: cfg.FrameSamples,
		handlers: h,
		log:      log,
		buf:      make([]float32, 0, cfg.FrameSamples),
	}
}

// Start begins capturing. Frames flow to the handlers until Close.
func (p *Pipeline) Start() error {
	if err := p.dev.Start(p.onPeriod); err != nil {
		return fmt.Errorf("capture: start device: %w", err)
	}
	return nil
}

// SetMuted toggles frame delivery. Level reporting continues while muted.
func (p *Pipeline) SetMuted(muted bool) {
	p.muted.Store(muted)
}

// Muted reports whether frame delivery is suppressed.
func (p *Pipeline) Muted() bool {
	return p.muted.Load()
}

// onPeriod receives one raw device period and emits any frames it completes.
func (p *Pipeline) onPeriod(pcm []byte) {
	samples, err := audio.DecodePCM16(pcm, p.format.Channels)
	if err != nil {
		p.log.Warn("dropping malformed capture period", "bytes", len(pcm), "err", err)
		return
	}

	p.buf = append(p.buf, samples...)
	for len(p.buf) >= p.frameLen {
		frame := audio.Frame{
			Samples: append([]float32(nil), p.buf[:p.frameLen]...),
			Format:  p.format,
		}
		p.buf = p.buf[p.frameLen:]
		p.emit(frame)
	}
}

// emit reports the frame's level and, unless muted, delivers the frame.
// The level check reads the mute flag exactly once per frame so a toggle
// lands on a frame boundary.
func (p *Pipeline) emit(frame audio.Frame) {
	if p.handlers.OnLevel != nil {
		p.handlers.OnLevel(audio.Volume(audio.RMS(frame.Samples)))
	}
	if p.muted.Load() {
		return
	}
	if p.handlers.OnFrame != nil {
		p.handlers.OnFrame(frame)
	}
}

// Close stops the capture device. Idempotent; later calls return the first
// result.
func (p *Pipeline) Close() error {
	p.closeOnce.Do(func() {
		p.closeErr = p.dev.Close()
	})
	return p.closeErr
}
