package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/invigil/capture/internal/config"
	"github.com/invigil/capture/internal/core"
	"github.com/invigil/capture/internal/domain"
	"github.com/invigil/capture/internal/platform/metrics"
)

const artifactContentType = "video/webm"

// Uploader assembles the chunk sequence into one checksummed artifact and
// persists it with bounded retry. Upload failure is non-fatal to the
// session: the artifact and checksum stay in memory for manual recovery.
type Uploader struct {
	store          core.ObjectStore
	sink           core.MetadataSink
	maxBytes       int64
	attempts       int
	backoff        Backoff
	attemptTimeout time.Duration
	mx             *metrics.Metrics

	now func() time.Time
}

func NewUploader(store core.ObjectStore, sink core.MetadataSink, cfg config.UploadConfig, mx *metrics.Metrics) *Uploader {
	attempts := cfg.Retries
	if attempts < 1 {
		attempts = 3
	}
	base := cfg.BackoffBase
	if base <= 0 {
		base = time.Second
	}
	timeout := cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Uploader{
		store:          store,
		sink:           sink,
		maxBytes:       cfg.MaxArtifactBytes,
		attempts:       attempts,
		backoff:        ExponentialBackoff(base),
		attemptTimeout: timeout,
		mx:             mx,
		now:            time.Now,
	}
}

// Finalize concatenates chunks in sequence order, computes the checksum and
// uploads. The returned artifact is always non-nil once chunks exist, so the
// caller can offer a recovery path after ErrUploadFailed.
func (u *Uploader) Finalize(ctx context.Context, session domain.CaptureSession, chunks []core.EncodedChunk) (*core.RecordingArtifact, error) {
	data := core.AssembleChunks(chunks)
	now := u.now().UTC()

	art := &core.RecordingArtifact{
		ObjectName: ObjectName(session.DisplayName, now),
		Data:       data,
		Checksum:   core.Checksum(data),
		Size:       int64(len(data)),
		State:      core.ArtifactCreated,
		CreatedAt:  now,
	}

	if u.maxBytes > 0 && art.Size > u.maxBytes {
		return art, core.Fail(core.StageUpload,
			fmt.Errorf("%w: %d bytes exceeds ceiling %d", core.ErrArtifactTooLarge, art.Size, u.maxBytes))
	}

	art.State = core.ArtifactUploadPending
	err := Retry(ctx, u.attempts, u.backoff, func(ctx context.Context) error {
		u.mx.IncUploadAttempts()
		actx, cancel := context.WithTimeout(ctx, u.attemptTimeout)
		defer cancel()
		loc, perr := u.store.Put(actx, art.ObjectName, art.Data, artifactContentType)
		if perr != nil {
			return perr
		}
		art.Location = loc
		return nil
	})
	if err != nil {
		art.State = core.ArtifactUploadFailed
		u.mx.IncUploadFailures()
		return art, core.Fail(core.StageUpload,
			fmt.Errorf("%w after %d attempts: %v", core.ErrUploadFailed, u.attempts, err))
	}

	art.State = core.ArtifactUploaded
	log.Info().
		Str("module", "app.uploader").
		Str("session", string(session.ID)).
		Str("object", art.ObjectName).
		Str("checksum", art.Checksum).
		Int64("size", art.Size).
		Msg("artifact uploaded")

	if u.sink != nil {
		if serr := u.sink.RecordingStored(ctx, session, art.Location, art.Checksum); serr != nil {
			log.Error().Err(serr).Str("module", "app.uploader").Str("session", string(session.ID)).Msg("metadata sink rejected recording tuple")
		}
	}
	return art, nil
}

// ObjectName derives the collision-resistant artifact name: sanitized
// participant name plus ISO timestamp.
func ObjectName(displayName string, t time.Time) string {
	return fmt.Sprintf("%s_%s.webm", sanitizeName(displayName), t.UTC().Format("2006-01-02T15-04-05Z"))
}

func sanitizeName(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return "participant"
	}
	return b.String()
}
