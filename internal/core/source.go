package core

import "context"

type SourceRole string

const (
	RolePrimary SourceRole = "primary"
	RoleOverlay SourceRole = "overlay"
)

// SurfaceType is the capture surface reported by the publishing side.
type SurfaceType string

const (
	SurfaceMonitor SurfaceType = "monitor"
	SurfaceWindow  SurfaceType = "window"
	SurfaceBrowser SurfaceType = "browser"
	SurfaceCamera  SurfaceType = "camera"
	SurfaceUnknown SurfaceType = "unknown"
)

type SourceSettings struct {
	Width     int
	Height    int
	FrameRate float64
	Surface   SurfaceType
	HasAudio  bool
}

// MediaSource is one live media source (display or camera).
//
// Implementations must:
//   - close Done() exactly once when the underlying track ends
//   - make Stop() idempotent and release the underlying track/device
//   - never block on Frames()/Audio() sends (drop instead)
type MediaSource interface {
	ID() string
	Role() SourceRole
	Settings() SourceSettings
	Frames() <-chan Frame
	// Audio returns nil when the source carries no audio track.
	Audio() <-chan AudioSample
	Done() <-chan struct{}
	Stop()
}

// SourcePair holds the two live sources a pipeline composites.
// Exclusively owned by the acquirer until handed to the pipeline.
type SourcePair struct {
	Primary MediaSource
	Overlay MediaSource
}

// Stop releases both sources. Safe to call multiple times.
func (p *SourcePair) Stop() {
	if p == nil {
		return
	}
	if p.Primary != nil {
		p.Primary.Stop()
	}
	if p.Overlay != nil {
		p.Overlay.Stop()
	}
}

// Acquirer obtains the primary and overlay sources. Acquire blocks until both
// are live or ctx is cancelled; declined permissions surface as
// ErrPermissionDenied.
type Acquirer interface {
	Acquire(ctx context.Context) (*SourcePair, error)
}
