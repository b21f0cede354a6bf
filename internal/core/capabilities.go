package core

import (
	"context"

	"github.com/invigil/capture/internal/domain"
)

// ObjectStore is the durable storage capability. Put must be safe to retry
// with the same name (at-least idempotent).
type ObjectStore interface {
	Put(ctx context.Context, name string, data []byte, contentType string) (location string, err error)
}

// Publisher is the fire-and-forget side of the pub/sub capability.
// No delivery guarantee: a failed publish is the caller's to log and skip.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// Subscriber delivers messages for every channel matching pattern until ctx
// is cancelled. Delivery is at-most-once, best-effort; observers must
// tolerate gaps.
type Subscriber interface {
	Subscribe(ctx context.Context, pattern string, onMessage func(channel string, payload []byte)) error
}

// MetadataSink receives the single {location, checksum} tuple emitted after a
// successful upload. The surrounding application owns its persistence.
type MetadataSink interface {
	RecordingStored(ctx context.Context, session domain.CaptureSession, location, checksum string) error
}
