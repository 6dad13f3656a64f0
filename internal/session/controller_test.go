package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/voxline/internal/observe"
	"github.com/MrWong99/voxline/internal/session"
	"github.com/MrWong99/voxline/pkg/audio"
	"github.com/MrWong99/voxline/pkg/audio/device"
	"github.com/MrWong99/voxline/pkg/provider/live"
	"github.com/MrWong99/voxline/pkg/provider/live/mock"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

type fakeCapture struct {
	mu       sync.Mutex
	onPeriod func([]byte)
	closes   int
}

func (f *fakeCapture) Start(onPeriod func(pcm []byte)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onPeriod = onPeriod
	return nil
}

func (f *fakeCapture) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeCapture) push(pcm []byte) {
	f.mu.Lock()
	cb := f.onPeriod
	f.mu.Unlock()
	if cb != nil {
		cb(pcm)
	}
}

func (f *fakeCapture) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakePlayback struct {
	mu      sync.Mutex
	writes  [][]byte
	flushes int
	closes  int
}

func (f *fakePlayback) Write(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.writes = append(f.writes, pcm)
	return nil
}

func (f *fakePlayback) Flush() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.flushes++
}

func (f *fakePlayback) Now() time.Duration { return 0 }

func (f *fakePlayback) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakePlayback) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakePlayback) flushCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.flushes
}

func (f *fakePlayback) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

type fakePlatform struct {
	capture     *fakeCapture
	playback    *fakePlayback
	captureErr  error
	playbackErr error
}

func (f *fakePlatform) OpenCapture(_ audio.Format) (device.CaptureDevice, error) {
	if f.captureErr != nil {
		return nil, f.captureErr
	}
	return f.capture, nil
}

func (f *fakePlatform) OpenPlayback(_ audio.Format) (device.Playback, error) {
	if f.playbackErr != nil {
		return nil, f.playbackErr
	}
	return f.playback, nil
}

var _ device.Platform = (*fakePlatform)(nil)

// ── Helpers ───────────────────────────────────────────────────────────────────

var testCaps = live.Capabilities{
	InputFormat:  audio.Format{SampleRate: 16000, Channels: 1},
	OutputFormat: audio.Format{SampleRate: 24000, Channels: 1},
}

type fixture struct {
	ctrl     *session.Controller
	sess     *mock.Session
	provider *mock.Provider
	capture  *fakeCapture
	playback *fakePlayback
	statuses *statusLog
}

type statusLog struct {
	mu  sync.Mutex
	log []session.Status
}

func (s *statusLog) record(st session.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, st)
}

func (s *statusLog) states() []session.State {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]session.State, len(s.log))
	for i, st := range s.log {
		out[i] = st.State
	}
	return out
}

// newFixture builds a controller over mocks with a tiny frame size so one
// device period completes a frame.
func newFixture(t *testing.T, mutate func(*session.Config)) *fixture {
	t.Helper()
	f := &fixture{
		sess:     mock.NewSession(),
		capture:  &fakeCapture{},
		playback: &fakePlayback{},
		statuses: &statusLog{},
	}
	f.provider = &mock.Provider{Session: f.sess, ProviderCapabilities: testCaps}

	cfg := session.Config{
		Provider:     f.provider,
		ProviderName: "mock",
		Platform:     &fakePlatform{capture: f.capture, playback: f.playback},
		Credential:   "test-key",
		FrameSamples: 4,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	f.ctrl = session.New(cfg)
	f.ctrl.OnStatusChange(f.statuses.record)
	t.Cleanup(func() { _ = f.ctrl.Close() })
	return f
}

func start(t *testing.T, f *fixture) {
	t.Helper()
	if err := f.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

// eventually polls cond until it holds or the deadline passes.
func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// pcm16 encodes n copies of sample as s16le bytes.
func pcm16(n int, sample float32) []byte {
	samples := make([]float32, n)
	for i := range samples {
		samples[i] = sample
	}
	return audio.EncodePCM16(samples)
}

// ── Start ─────────────────────────────────────────────────────────────────────

func TestStart_MissingCredential(t *testing.T) {
	t.Parallel()

	f := newFixture(t, func(cfg *session.Config) { cfg.Credential = "" })

	err := f.ctrl.Start(context.Background())
	if !errors.Is(err, session.ErrMissingCredential) {
		t.Fatalf("Start = %v; want ErrMissingCredential", err)
	}
	if got := f.ctrl.Status().State; got != session.StateError {
		t.Errorf("state = %v; want error", got)
	}
	if len(f.provider.ConnectCalls) != 0 {
		t.Error("Connect should not be attempted without a credential")
	}
}

func TestStart_CaptureUnavailable(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	platform := &fakePlatform{
		capture:    f.capture,
		playback:   f.playback,
		captureErr: errors.New("no microphone"),
	}
	ctrl := session.New(session.Config{
		Provider:   f.provider,
		Platform:   platform,
		Credential: "key",
	})

	err := ctrl.Start(context.Background())
	if !errors.Is(err, session.ErrCaptureUnavailable) {
		t.Fatalf("Start = %v; want ErrCaptureUnavailable", err)
	}
	// The already opened playback device must be released.
	if got := f.playback.closeCount(); got != 1 {
		t.Errorf("playback closed %d times; want 1", got)
	}
}

func TestStart_ConnectFailure(t *testing.T) {
	t.Parallel()

	wantErr := errors.New("refused")
	f := newFixture(t, nil)
	f.provider.ConnectErr = wantErr

	err := f.ctrl.Start(context.Background())
	if !errors.Is(err, wantErr) {
		t.Fatalf("Start = %v; want %v", err, wantErr)
	}
	if got := f.ctrl.Status().State; got != session.StateError {
		t.Errorf("state = %v; want error", got)
	}
	if got := f.capture.closeCount(); got != 1 {
		t.Errorf("capture closed %d times; want 1", got)
	}
	if got := f.playback.closeCount(); got != 1 {
		t.Errorf("playback closed %d times; want 1", got)
	}
}

func TestStart_TransitionsToConnected(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	start(t, f)

	if got := f.ctrl.Status().State; got != session.StateConnected {
		t.Fatalf("state = %v; want connected", got)
	}
	states := f.statuses.states()
	if len(states) != 2 || states[0] != session.StateConnecting || states[1] != session.StateConnected {
		t.Errorf("transitions = %v; want [connecting connected]", states)
	}
}

func TestStart_Twice(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	start(t, f)

	if err := f.ctrl.Start(context.Background()); !errors.Is(err, session.ErrAlreadyStarted) {
		t.Fatalf("second Start = %v; want ErrAlreadyStarted", err)
	}
}

func TestStart_PassesSessionConfigToProvider(t *testing.T) {
	t.Parallel()

	want := live.SessionConfig{
		Voice:        live.VoiceProfile{ID: "Fenrir"},
		Instructions: "stay helpful",
	}
	f := newFixture(t, func(cfg *session.Config) { cfg.Session = want })
	start(t, f)

	if len(f.provider.ConnectCalls) != 1 {
		t.Fatalf("Connect calls = %d; want 1", len(f.provider.ConnectCalls))
	}
	if got := f.provider.ConnectCalls[0].Cfg; got != want {
		t.Errorf("session config = %+v; want %+v", got, want)
	}
}

// ── Outbound audio ────────────────────────────────────────────────────────────

func TestCapture_FramesReachProvider(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	start(t, f)

	f.capture.push(pcm16(4, 0.25))

	eventually(t, func() bool { return len(f.sess.Sent()) == 1 }, "frame never reached the provider")

	sent := f.sess.Sent()[0]
	if len(sent) != 8 {
		t.Errorf("sent %d bytes; want 8 (4 samples s16le)", len(sent))
	}
}

func TestMute_SuppressesFramesKeepsVolume(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	start(t, f)

	if muted := f.ctrl.ToggleMute(); !muted {
		t.Fatal("ToggleMute should report muted")
	}
	f.capture.push(pcm16(4, 1))

	// Level updates even while muted.
	eventually(t, func() bool { return f.ctrl.Volume() == 100 }, "volume never updated while muted")
	if got := len(f.sess.Sent()); got != 0 {
		t.Errorf("sent %d frames while muted; want 0", got)
	}

	if muted := f.ctrl.ToggleMute(); muted {
		t.Fatal("second ToggleMute should report unmuted")
	}
	f.capture.push(pcm16(4, 0.5))
	eventually(t, func() bool { return len(f.sess.Sent()) == 1 }, "frame never sent after unmute")
}

// ── Inbound audio ─────────────────────────────────────────────────────────────

func TestPlayback_ChunksReachDevice(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	start(t, f)

	f.sess.AudioCh <- pcm16(240, 0.1)

	eventually(t, func() bool { return f.playback.writeCount() == 1 }, "chunk never reached playback")
}

func TestPlayback_MalformedChunkDropped(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	start(t, f)

	f.sess.AudioCh <- []byte{0x01} // not a whole sample
	f.sess.AudioCh <- pcm16(240, 0.1)

	eventually(t, func() bool { return f.playback.writeCount() == 1 }, "valid chunk never played")
	if got := f.playback.writeCount(); got != 1 {
		t.Errorf("writes = %d; want 1 (malformed chunk dropped)", got)
	}
}

func TestInterruption_FlushesPlayback(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	start(t, f)

	f.sess.InterruptCh <- struct{}{}

	eventually(t, func() bool { return f.playback.flushCount() >= 1 }, "interrupt never flushed playback")
}

// ── Transcripts ───────────────────────────────────────────────────────────────

func TestTranscripts_ForwardedToObserver(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	got := make(chan live.Transcript, 1)
	f.ctrl.OnTranscript(func(tr live.Transcript) { got <- tr })
	start(t, f)

	want := live.Transcript{Role: "user", Text: "hello"}
	f.sess.TranscriptCh <- want

	select {
	case tr := <-got:
		if tr != want {
			t.Errorf("transcript = %+v; want %+v", tr, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("transcript never forwarded")
	}
}

// ── Teardown ──────────────────────────────────────────────────────────────────

func TestClose_ReleasesEverything(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	start(t, f)

	if err := f.ctrl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if got := f.capture.closeCount(); got != 1 {
		t.Errorf("capture closed %d times; want 1", got)
	}
	if got := f.sess.CloseCount(); got != 1 {
		t.Errorf("session closed %d times; want 1", got)
	}
	if got := f.playback.closeCount(); got != 1 {
		t.Errorf("playback closed %d times; want 1", got)
	}
	if got := f.ctrl.Status().State; got != session.StateDisconnected {
		t.Errorf("state = %v; want disconnected", got)
	}
}

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	start(t, f)

	if err := f.ctrl.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := f.ctrl.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if got := f.sess.CloseCount(); got != 1 {
		t.Errorf("session closed %d times; want 1", got)
	}
}

func TestClose_BeforeStart(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)

	if err := f.ctrl.Close(); err != nil {
		t.Fatalf("Close before Start: %v", err)
	}
	if got := f.capture.closeCount(); got != 0 {
		t.Errorf("capture closed %d times; want 0", got)
	}
	if got := f.playback.closeCount(); got != 0 {
		t.Errorf("playback closed %d times; want 0", got)
	}
	if got := f.ctrl.Status().State; got != session.StateDisconnected {
		t.Errorf("state = %v; want disconnected", got)
	}
}

func TestRemoteEnd_WithError(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	start(t, f)

	wantErr := errors.New("connection reset")
	f.sess.End(wantErr)

	eventually(t, func() bool { return f.ctrl.Status().State == session.StateError }, "state never became error")
	if got := f.ctrl.Status().Err; !errors.Is(got, wantErr) {
		t.Errorf("status err = %v; want %v", got, wantErr)
	}
	// Devices are released on a remote end even without a local Close.
	eventually(t, func() bool { return f.capture.closeCount() == 1 }, "capture never closed")
}

func TestRemoteEnd_Clean(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	start(t, f)

	f.sess.End(nil)

	eventually(t, func() bool { return f.ctrl.Status().State == session.StateDisconnected }, "state never became disconnected")
}

func TestRuntimeError_EndsSession(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	start(t, f)

	wantErr := errors.New("stream reset by peer")
	f.sess.EmitError(wantErr)

	// A runtime provider error is fatal: the session moves to the error
	// state and every device is released without a local Close.
	eventually(t, func() bool { return f.ctrl.Status().State == session.StateError }, "state never became error")
	if got := f.ctrl.Status().Err; !errors.Is(got, wantErr) {
		t.Errorf("status err = %v; want %v", got, wantErr)
	}
	eventually(t, func() bool {
		return f.capture.closeCount() == 1 && f.playback.closeCount() == 1 && f.sess.CloseCount() >= 1
	}, "devices never released after provider error")
}

func TestRemoteEndDuringClose_FinalizesMetricsOnce(t *testing.T) {
	t.Parallel()

	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}

	f := newFixture(t, func(cfg *session.Config) { cfg.Metrics = metrics })
	start(t, f)

	// A remote end racing a local Close must finalize the session exactly
	// once: the gauge returns to zero and one duration sample is recorded.
	var wg sync.WaitGroup
	wg.Go(func() { f.sess.End(nil) })
	wg.Go(func() { _ = f.ctrl.Close() })
	wg.Wait()

	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}

	if got := sumGauge(t, &rm, "voxline.active_sessions"); got != 0 {
		t.Errorf("active sessions after teardown = %d; want 0", got)
	}
	if got := histogramCount(t, &rm, "voxline.session.duration"); got != 1 {
		t.Errorf("session duration samples = %d; want 1", got)
	}
}

// sumGauge totals the data points of an UpDownCounter by metric name.
func sumGauge(t *testing.T, rm *metricdata.ResourceMetrics, name string) int64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				t.Fatalf("%s data = %T; want Sum[int64]", name, m.Data)
			}
			var total int64
			for _, dp := range sum.DataPoints {
				total += dp.Value
			}
			return total
		}
	}
	t.Fatalf("metric %s not recorded", name)
	return 0
}

// histogramCount totals the sample counts of a histogram by metric name.
func histogramCount(t *testing.T, rm *metricdata.ResourceMetrics, name string) uint64 {
	t.Helper()
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != name {
				continue
			}
			h, ok := m.Data.(metricdata.Histogram[float64])
			if !ok {
				t.Fatalf("%s data = %T; want Histogram[float64]", name, m.Data)
			}
			var total uint64
			for _, dp := range h.DataPoints {
				total += dp.Count
			}
			return total
		}
	}
	t.Fatalf("metric %s not recorded", name)
	return 0
}

// ── Connect policy ────────────────────────────────────────────────────────────

func TestBackoffPolicy_RetriesTransientFailures(t *testing.T) {
	t.Parallel()

	sess := mock.NewSession()
	defer sess.Close()

	p := &flakyProvider{failures: 2, sess: sess}
	policy := session.Backoff{MaxRetries: 5, Initial: time.Millisecond, Max: 2 * time.Millisecond}

	handle, err := policy.Connect(context.Background(), p, live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if handle != sess {
		t.Error("Connect returned the wrong handle")
	}
	if p.calls != 3 {
		t.Errorf("attempts = %d; want 3", p.calls)
	}
}

func TestBackoffPolicy_DoesNotRetryAuthFailure(t *testing.T) {
	t.Parallel()

	p := &flakyProvider{failures: 100, err: live.ErrAuth}
	policy := session.Backoff{MaxRetries: 5, Initial: time.Millisecond}

	_, err := policy.Connect(context.Background(), p, live.SessionConfig{})
	if !errors.Is(err, live.ErrAuth) {
		t.Fatalf("Connect = %v; want ErrAuth", err)
	}
	if p.calls != 1 {
		t.Errorf("attempts = %d; want 1 (auth failures are not retried)", p.calls)
	}
}

// flakyProvider fails the first N Connect calls, then succeeds.
type flakyProvider struct {
	failures int
	calls    int
	err      error
	sess     live.SessionHandle
}

func (p *flakyProvider) Connect(_ context.Context, _ live.SessionConfig) (live.SessionHandle, error) {
	p.calls++
	if p.calls <= p.failures {
		if p.err != nil {
			return nil, p.err
		}
		return nil, live.ErrNetwork
	}
	return p.sess, nil
}

func (p *flakyProvider) Capabilities() live.Capabilities { return testCaps }
