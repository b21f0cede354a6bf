package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/invigil/capture/internal/core"
	"github.com/invigil/capture/internal/platform/metrics"
)

// SelectAudioSource applies the audio track policy: primary audio when
// present, overlay audio as fallback, nil when neither carries audio.
func SelectAudioSource(pair *core.SourcePair) core.MediaSource {
	if pair.Primary.Settings().HasAudio && pair.Primary.Audio() != nil {
		return pair.Primary
	}
	if pair.Overlay.Settings().HasAudio && pair.Overlay.Audio() != nil {
		return pair.Overlay
	}
	return nil
}

// Recorder owns the media encoder and the ordered chunk sequence. Encoded
// data is flushed to a new chunk on a fixed wall-clock interval, not per
// frame.
type Recorder struct {
	enc   core.MediaEncoder
	codec core.VideoCodec
	every time.Duration
	mx    *metrics.Metrics

	mu     sync.Mutex
	chunks []core.EncodedChunk
	seq    uint64
	closed bool
}

// NewRecorder selects the codec once, at start: VP9 preferred, VP8 when the
// runtime lacks it. The choice is never renegotiated mid-recording.
func NewRecorder(factory core.EncoderFactory, cfg core.EncoderConfig, every time.Duration, mx *metrics.Metrics) (*Recorder, error) {
	cfg.Codec = core.CodecVP9
	enc, err := factory(cfg)
	if errors.Is(err, core.ErrCodecUnsupported) {
		log.Warn().Str("module", "app.recorder").Msg("vp9 unavailable, falling back to vp8")
		cfg.Codec = core.CodecVP8
		enc, err = factory(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	return &Recorder{enc: enc, codec: cfg.Codec, every: every, mx: mx}, nil
}

func (r *Recorder) Codec() core.VideoCodec { return r.codec }

func (r *Recorder) Start(ctx context.Context) error {
	return r.enc.Start(ctx)
}

func (r *Recorder) PushFrame(f core.Frame) error {
	if err := r.enc.PushFrame(f); err != nil {
		return fmt.Errorf("%w: %v", core.ErrEncodingFailed, err)
	}
	return nil
}

func (r *Recorder) PushAudio(s core.AudioSample) error {
	if err := r.enc.PushAudio(s); err != nil {
		return fmt.Errorf("%w: %v", core.ErrEncodingFailed, err)
	}
	return nil
}

// Run flushes chunks on the configured interval until ctx is cancelled.
// An encoder error is terminal for the recording.
func (r *Recorder) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.flush(); err != nil {
				return core.Fail(core.StageEncode, fmt.Errorf("%w: %v", core.ErrEncodingFailed, err))
			}
		}
	}
}

func (r *Recorder) flush() error {
	data, err := r.enc.Drain()
	if err != nil {
		return err
	}
	r.appendChunk(data)
	return nil
}

func (r *Recorder) appendChunk(data []byte) {
	if len(data) == 0 {
		return
	}
	r.mu.Lock()
	r.seq++
	r.chunks = append(r.chunks, core.EncodedChunk{Seq: r.seq, Data: data})
	r.mu.Unlock()
	r.mx.AddChunk(len(data))
}

// Finalize drains and closes the encoder, sealing the chunk sequence.
// Safe to call after Run has returned; idempotent.
func (r *Recorder) Finalize() ([]core.EncodedChunk, error) {
	r.mu.Lock()
	alreadyClosed := r.closed
	r.closed = true
	r.mu.Unlock()

	if !alreadyClosed {
		if data, err := r.enc.Drain(); err == nil {
			r.appendChunk(data)
		}
		tail, err := r.enc.Close()
		if err != nil {
			return r.snapshot(), fmt.Errorf("%w: %v", core.ErrEncodingFailed, err)
		}
		r.appendChunk(tail)
	}
	return r.snapshot(), nil
}

func (r *Recorder) snapshot() []core.EncodedChunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.EncodedChunk, len(r.chunks))
	copy(out, r.chunks)
	return out
}

// ChunkCount reports how many chunks have been sealed so far.
func (r *Recorder) ChunkCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.chunks)
}
