package app

import (
	"bytes"
	"context"
	"encoding/json"
	"image/jpeg"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/invigil/capture/internal/core"
	"github.com/invigil/capture/internal/domain"
	"github.com/invigil/capture/internal/platform/metrics"
)

// Broadcaster samples the composited surface on its own low-frequency timer
// and publishes lossy snapshots, independent of recording state. A publish
// failure is logged and skipped, never retried: a stale preview is
// acceptable, a stalled capture is not.
type Broadcaster struct {
	session  domain.SessionID
	surface  *Surface
	pub      core.Publisher
	interval time.Duration
	quality  int
	mx       *metrics.Metrics

	seq       atomic.Uint64
	published atomic.Uint64
	dropped   atomic.Uint64
}

func NewBroadcaster(session domain.SessionID, surface *Surface, pub core.Publisher, interval time.Duration, quality int, mx *metrics.Metrics) *Broadcaster {
	if interval <= 0 {
		interval = 2 * time.Second
	}
	if quality <= 0 || quality > 100 {
		quality = 40
	}
	return &Broadcaster{
		session:  session,
		surface:  surface,
		pub:      pub,
		interval: interval,
		quality:  quality,
		mx:       mx,
	}
}

// Run samples and publishes until ctx is cancelled.
func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	channel := core.LiveChannel(b.session)
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.broadcaster").Str("session", string(b.session)).Msg("broadcast timer stopped")
			return
		case <-ticker.C:
			b.sampleAndPublish(ctx, channel)
		}
	}
}

func (b *Broadcaster) sampleAndPublish(ctx context.Context, channel string) {
	frame, ok := b.surface.Latest()
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.RGBA(), &jpeg.Options{Quality: b.quality}); err != nil {
		log.Warn().Err(err).Str("module", "app.broadcaster").Msg("snapshot encode failed, skipping")
		b.dropped.Add(1)
		b.mx.IncLiveFramesDropped()
		return
	}

	lf := core.LiveFrame{
		SessionID: b.session,
		Seq:       b.seq.Add(1),
		Timestamp: frame.Timestamp,
		JPEG:      buf.Bytes(),
	}
	payload, err := json.Marshal(lf)
	if err != nil {
		log.Error().Err(err).Str("module", "app.broadcaster").Msg("live frame marshal failed")
		return
	}

	pctx, cancel := context.WithTimeout(ctx, b.interval)
	err = b.pub.Publish(pctx, channel, payload)
	cancel()
	if err != nil {
		// Best-effort path: drop and move on.
		log.Warn().Err(err).Str("module", "app.broadcaster").Uint64("seq", lf.Seq).Msg("live frame publish failed, skipping")
		b.dropped.Add(1)
		b.mx.IncLiveFramesDropped()
		return
	}
	b.published.Add(1)
	b.mx.IncLiveFramesPublished()
}

// Stats returns published/dropped snapshot counts.
func (b *Broadcaster) Stats() (published, dropped uint64) {
	return b.published.Load(), b.dropped.Load()
}
