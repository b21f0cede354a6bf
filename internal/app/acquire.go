package app

import (
	"fmt"

	"github.com/invigil/capture/internal/core"
)

// ValidateSources enforces the integrity preconditions before any recording
// state is entered: both sources present, and the primary capture reporting
// an entire-display surface. Full-screen visibility is what makes the
// recording admissible, so a sub-window capture fails fast here.
func ValidateSources(pair *core.SourcePair) error {
	if pair == nil || pair.Primary == nil || pair.Overlay == nil {
		return fmt.Errorf("%w: capture source missing", core.ErrPermissionDenied)
	}
	if s := pair.Primary.Settings().Surface; s != core.SurfaceMonitor {
		return fmt.Errorf("%w: primary surface is %q, want entire display", core.ErrInvalidSurface, s)
	}
	return nil
}
