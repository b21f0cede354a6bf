package app

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/invigil/capture/internal/core"
	"github.com/invigil/capture/internal/domain"
)

type fakeSource struct {
	id       string
	role     core.SourceRole
	settings core.SourceSettings
	frames   chan core.Frame
	audio    chan core.AudioSample
	done     chan struct{}
	doneOnce sync.Once
	stops    atomic.Int32
}

func newFakeSource(role core.SourceRole, settings core.SourceSettings) *fakeSource {
	s := &fakeSource{
		id:       "fake-" + string(role),
		role:     role,
		settings: settings,
		frames:   make(chan core.Frame, 16),
		done:     make(chan struct{}),
	}
	if settings.HasAudio {
		s.audio = make(chan core.AudioSample, 16)
	}
	return s
}

func (s *fakeSource) ID() string                      { return s.id }
func (s *fakeSource) Role() core.SourceRole           { return s.role }
func (s *fakeSource) Settings() core.SourceSettings   { return s.settings }
func (s *fakeSource) Frames() <-chan core.Frame       { return s.frames }
func (s *fakeSource) Done() <-chan struct{}           { return s.done }
func (s *fakeSource) Audio() <-chan core.AudioSample {
	if s.audio == nil {
		return nil
	}
	return s.audio
}

func (s *fakeSource) Stop() {
	s.stops.Add(1)
	s.doneOnce.Do(func() { close(s.done) })
}

func (s *fakeSource) end() { s.doneOnce.Do(func() { close(s.done) }) }

func monitorSettings(w, h int) core.SourceSettings {
	return core.SourceSettings{Width: w, Height: h, FrameRate: 30, Surface: core.SurfaceMonitor}
}

func cameraSettings(w, h int) core.SourceSettings {
	return core.SourceSettings{Width: w, Height: h, FrameRate: 30, Surface: core.SurfaceCamera}
}

func newFakePair(pw, ph, ow, oh int) (*core.SourcePair, *fakeSource, *fakeSource) {
	p := newFakeSource(core.RolePrimary, monitorSettings(pw, ph))
	o := newFakeSource(core.RoleOverlay, cameraSettings(ow, oh))
	return &core.SourcePair{Primary: p, Overlay: o}, p, o
}

func rgbaFrame(seq uint64, w, h int) core.Frame {
	return core.Frame{Seq: seq, Width: w, Height: h, Data: make([]byte, w*h*4)}
}

type fakeAcquirer struct {
	pair *core.SourcePair
	err  error
}

func (a *fakeAcquirer) Acquire(ctx context.Context) (*core.SourcePair, error) {
	if a.err != nil {
		return nil, a.err
	}
	return a.pair, nil
}

// fakeMediaEncoder buffers pushed frame/audio markers and hands them back
// from Drain, like a codec that emits bytes as it goes.
type fakeMediaEncoder struct {
	mu       sync.Mutex
	buf      []byte
	frames   int
	audio    int
	closed   bool
	tail     []byte
	pushErr  error
	drainErr error
}

func (e *fakeMediaEncoder) Start(ctx context.Context) error { return nil }

func (e *fakeMediaEncoder) PushFrame(f core.Frame) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pushErr != nil {
		return e.pushErr
	}
	e.frames++
	e.buf = append(e.buf, byte(f.Seq))
	return nil
}

func (e *fakeMediaEncoder) PushAudio(s core.AudioSample) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pushErr != nil {
		return e.pushErr
	}
	e.audio++
	return nil
}

func (e *fakeMediaEncoder) Drain() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.drainErr != nil {
		return nil, e.drainErr
	}
	out := e.buf
	e.buf = nil
	return out, nil
}

func (e *fakeMediaEncoder) Close() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return e.tail, nil
}

func fakeFactory(enc *fakeMediaEncoder) core.EncoderFactory {
	return func(cfg core.EncoderConfig) (core.MediaEncoder, error) {
		return enc, nil
	}
}

// vp8OnlyFactory rejects vp9 the way a runtime without the codec would.
func vp8OnlyFactory(enc *fakeMediaEncoder) core.EncoderFactory {
	return func(cfg core.EncoderConfig) (core.MediaEncoder, error) {
		if cfg.Codec != core.CodecVP8 {
			return nil, core.ErrCodecUnsupported
		}
		return enc, nil
	}
}

type fakeStore struct {
	mu       sync.Mutex
	failures int // fail this many leading Put calls
	calls    int
	lastName string
	lastData []byte
}

func (s *fakeStore) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.calls <= s.failures {
		return "", errors.New("transient store error")
	}
	s.lastName = name
	s.lastData = append([]byte(nil), data...)
	return "fake://bucket/" + name, nil
}

func (s *fakeStore) putCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakePublisher struct {
	mu       sync.Mutex
	err      error
	payloads [][]byte
	channels []string
}

func (p *fakePublisher) Publish(ctx context.Context, channel string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.channels = append(p.channels, channel)
	p.payloads = append(p.payloads, append([]byte(nil), payload...))
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

type fakeSink struct {
	mu        sync.Mutex
	calls     int
	location  string
	checksum  string
	sessionID domain.SessionID
}

func (s *fakeSink) RecordingStored(ctx context.Context, session domain.CaptureSession, location, checksum string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.sessionID = session.ID
	s.location = location
	s.checksum = checksum
	return nil
}
