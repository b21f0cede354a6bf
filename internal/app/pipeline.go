package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/invigil/capture/internal/config"
	"github.com/invigil/capture/internal/core"
	"github.com/invigil/capture/internal/domain"
	"github.com/invigil/capture/internal/platform/metrics"
)

// Deps are the external capabilities a pipeline runs against.
// NewEncoder may be nil for a preview-only pipeline; a session flagged
// MandatoryRecording refuses to start without it.
type Deps struct {
	Acquirer   core.Acquirer
	NewEncoder core.EncoderFactory
	Store      core.ObjectStore
	Publisher  core.Publisher
	Sink       core.MetadataSink
	Metrics    *metrics.Metrics
}

// Pipeline is the capture-composite-encode-deliver run for one session.
// One state machine drives every subsystem; Stop is the single, idempotent
// shutdown signal and releases all acquired sources on every exit path.
type Pipeline struct {
	session domain.CaptureSession
	cfg     *config.Config
	deps    Deps

	mu        sync.Mutex
	state     State
	failure   error
	uploadErr error
	artifact  *core.RecordingArtifact

	sources     *core.SourcePair
	compositor  *Compositor
	recorder    *Recorder
	broadcaster *Broadcaster
	uploader    *Uploader

	cancel   context.CancelFunc
	stopOnce sync.Once
	wg       sync.WaitGroup
	done     chan struct{}
}

func NewPipeline(session domain.CaptureSession, cfg *config.Config, deps Deps) *Pipeline {
	return &Pipeline{
		session: session,
		cfg:     cfg,
		deps:    deps,
		state:   StateIdle,
		done:    make(chan struct{}),
	}
}

func (p *Pipeline) Session() domain.CaptureSession { return p.session }

func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Done is closed once the pipeline has fully shut down, including upload.
func (p *Pipeline) Done() <-chan struct{} { return p.done }

// Result reports the finalized artifact and the run's failure, if any.
// An ErrUploadFailed result still carries the artifact and checksum in
// memory so the caller can offer a recovery path.
func (p *Pipeline) Result() (*core.RecordingArtifact, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failure != nil {
		return p.artifact, p.failure
	}
	return p.artifact, p.uploadErr
}

// Start acquires and validates both sources, then brings up the render loop,
// recorder, broadcaster and source watchdog. It blocks for acquisition only;
// cancel ctx (or call Stop) to abandon a participant who never responds.
func (p *Pipeline) Start(ctx context.Context) error {
	if !p.transition(StateIdle, StateAcquiring) {
		return fmt.Errorf("pipeline already started (state %s)", p.State())
	}
	if p.session.MandatoryRecording && p.deps.NewEncoder == nil {
		return p.abortStart(core.Fail(core.StageEncode,
			fmt.Errorf("%w: recording is mandatory but no encoder is available", core.ErrEncodingFailed)))
	}

	runCtx, cancel := context.WithCancel(ctx)
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()

	pair, err := p.deps.Acquirer.Acquire(runCtx)
	if err != nil {
		return p.abortStart(core.Fail(core.StageAcquire, err))
	}
	if err := ValidateSources(pair); err != nil {
		pair.Stop()
		return p.abortStart(core.Fail(core.StageAcquire, err))
	}

	comp := NewCompositor(pair, CompositorConfig{
		TargetFPS:     p.cfg.Capture.TargetFPS,
		MaxWidth:      p.cfg.Capture.MaxSurfaceWidth,
		OverlayRatio:  p.cfg.Capture.OverlayRatio,
		OverlayMargin: p.cfg.Capture.OverlayMargin,
	}, p.deps.Metrics)

	var rec *Recorder
	if p.deps.NewEncoder != nil {
		w, h := comp.Size()
		rec, err = NewRecorder(p.deps.NewEncoder, core.EncoderConfig{
			Width:        w,
			Height:       h,
			FrameRate:    p.cfg.Capture.TargetFPS,
			VideoBitrate: p.cfg.Encode.VideoBitrate,
			AudioBitrate: p.cfg.Encode.AudioBitrate,
		}, p.cfg.Encode.ChunkDuration, p.deps.Metrics)
		if err == nil {
			err = rec.Start(runCtx)
		}
		if err != nil {
			pair.Stop()
			return p.abortStart(core.Fail(core.StageEncode, err))
		}
		comp.SetOnFrame(rec.PushFrame)
	}

	bc := NewBroadcaster(p.session.ID, comp.Surface(), p.deps.Publisher,
		p.cfg.Live.Interval, p.cfg.Live.Quality, p.deps.Metrics)

	p.mu.Lock()
	p.sources = pair
	p.compositor = comp
	p.recorder = rec
	p.broadcaster = bc
	p.uploader = NewUploader(p.deps.Store, p.deps.Sink, p.cfg.Upload, p.deps.Metrics)
	p.state = StateRunning
	p.mu.Unlock()

	log.Info().
		Str("module", "app.pipeline").
		Str("session", string(p.session.ID)).
		Bool("recording", rec != nil).
		Msg("pipeline running")

	p.goRun(func() {
		if cerr := comp.Run(runCtx); cerr != nil {
			p.fail(cerr)
		}
	})
	if rec != nil {
		p.goRun(func() {
			if rerr := rec.Run(runCtx); rerr != nil {
				p.fail(rerr)
			}
		})
		if audioSrc := SelectAudioSource(pair); audioSrc != nil {
			p.goRun(func() { p.pumpAudio(runCtx, audioSrc) })
		}
	}
	p.goRun(func() { bc.Run(runCtx) })
	p.goRun(func() { p.watchSources(runCtx, pair) })

	return nil
}

// Stop is the unified shutdown signal: idempotent, safe from error handlers
// and safe to call multiple times.
func (p *Pipeline) Stop() {
	p.stopOnce.Do(p.shutdown)
}

func (p *Pipeline) shutdown() {
	p.mu.Lock()
	p.state = StateStopping
	cancel := p.cancel
	rec := p.recorder
	pair := p.sources
	up := p.uploader
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()

	var chunks []core.EncodedChunk
	cause := p.currentFailure()
	if rec != nil {
		var ferr error
		chunks, ferr = rec.Finalize()
		if cause == nil && ferr != nil {
			cause = core.Fail(core.StageEncode, ferr)
		}
	}

	// Tracks are released on every path, including failure.
	pair.Stop()

	if cause == nil && rec != nil && up != nil {
		uctx, ucancel := context.WithTimeout(context.Background(), p.uploadBudget())
		art, uerr := up.Finalize(uctx, p.session, chunks)
		ucancel()
		p.mu.Lock()
		p.artifact = art
		p.uploadErr = uerr
		p.mu.Unlock()
		if uerr != nil {
			log.Error().Err(uerr).
				Str("module", "app.pipeline").
				Str("session", string(p.session.ID)).
				Msg("artifact not persisted, retained in memory")
		}
	}

	p.mu.Lock()
	p.failure = cause
	if cause != nil {
		p.state = StateFailed
	} else {
		p.state = StateStopped
	}
	p.mu.Unlock()

	log.Info().
		Str("module", "app.pipeline").
		Str("session", string(p.session.ID)).
		Str("state", p.State().String()).
		Msg("pipeline stopped")
	close(p.done)
}

// fail records the first failure and triggers shutdown without blocking the
// goroutine that detected it.
func (p *Pipeline) fail(err error) {
	p.mu.Lock()
	if p.failure == nil {
		p.failure = err
	}
	p.mu.Unlock()
	log.Error().Err(err).
		Str("module", "app.pipeline").
		Str("session", string(p.session.ID)).
		Msg("pipeline failure")
	go p.Stop()
}

func (p *Pipeline) abortStart(err error) error {
	p.mu.Lock()
	p.state = StateFailed
	p.failure = err
	cancel := p.cancel
	p.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	p.stopOnce.Do(func() { close(p.done) })
	log.Error().Err(err).
		Str("module", "app.pipeline").
		Str("session", string(p.session.ID)).
		Msg("pipeline failed to start")
	return err
}

func (p *Pipeline) pumpAudio(ctx context.Context, src core.MediaSource) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-src.Audio():
			if !ok {
				return
			}
			if err := p.recorder.PushAudio(s); err != nil {
				p.fail(core.Fail(core.StageEncode, err))
				return
			}
		}
	}
}

// watchSources turns a track ending mid-session into a pipeline failure:
// a composite with a missing source must not silently continue.
func (p *Pipeline) watchSources(ctx context.Context, pair *core.SourcePair) {
	select {
	case <-ctx.Done():
	case <-pair.Primary.Done():
		p.fail(core.Fail(core.StageAcquire, fmt.Errorf("%w: primary", core.ErrSourceEnded)))
	case <-pair.Overlay.Done():
		p.fail(core.Fail(core.StageAcquire, fmt.Errorf("%w: overlay", core.ErrSourceEnded)))
	}
}

func (p *Pipeline) goRun(fn func()) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		fn()
	}()
}

func (p *Pipeline) transition(from, to State) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.state != from {
		return false
	}
	p.state = to
	return true
}

func (p *Pipeline) currentFailure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.failure
}

// uploadBudget bounds total retry time: every attempt's timeout plus all
// backoff sleeps, with slack.
func (p *Pipeline) uploadBudget() time.Duration {
	attempts := p.cfg.Upload.Retries
	if attempts < 1 {
		attempts = 3
	}
	base := p.cfg.Upload.BackoffBase
	if base <= 0 {
		base = time.Second
	}
	timeout := p.cfg.Upload.AttemptTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	budget := time.Duration(attempts) * timeout
	for n := 1; n < attempts; n++ {
		budget += base << (n - 1)
	}
	return budget + 5*time.Second
}

// PipelineStats is a read-only operational snapshot for the control API.
type PipelineStats struct {
	SessionID        domain.SessionID `json:"session_id"`
	State            string           `json:"state"`
	Codec            string           `json:"codec,omitempty"`
	FramesComposited uint64           `json:"frames_composited"`
	FramesHeld       uint64           `json:"frames_held"`
	Chunks           int              `json:"chunks"`
	LivePublished    uint64           `json:"live_published"`
	LiveDropped      uint64           `json:"live_dropped"`
}

func (p *Pipeline) Stats() PipelineStats {
	p.mu.Lock()
	comp, rec, bc := p.compositor, p.recorder, p.broadcaster
	st := p.state
	p.mu.Unlock()

	stats := PipelineStats{SessionID: p.session.ID, State: st.String()}
	if comp != nil {
		stats.FramesComposited, stats.FramesHeld = comp.Stats()
	}
	if rec != nil {
		stats.Codec = string(rec.Codec())
		stats.Chunks = rec.ChunkCount()
	}
	if bc != nil {
		stats.LivePublished, stats.LiveDropped = bc.Stats()
	}
	return stats
}
