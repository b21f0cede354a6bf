package app

import (
	"errors"
	"image"
	"testing"
	"time"

	"pgregory.net/rapid"

	"github.com/invigil/capture/internal/core"
)

func testCompositorConfig() CompositorConfig {
	return CompositorConfig{TargetFPS: 30, MaxWidth: 1280, OverlayRatio: 0.2, OverlayMargin: 20}
}

func TestNewCompositor_surfaceCappedAtMaxWidth(t *testing.T) {
	pair, _, _ := newFakePair(1920, 1080, 640, 480)
	c := NewCompositor(pair, testCompositorConfig(), nil)

	w, h := c.Size()
	if w != 1280 || h != 720 {
		t.Errorf("surface = %dx%d, want 1280x720", w, h)
	}
}

func TestNewCompositor_smallPrimaryKeepsNativeSize(t *testing.T) {
	pair, _, _ := newFakePair(1024, 768, 640, 480)
	c := NewCompositor(pair, testCompositorConfig(), nil)

	w, h := c.Size()
	if w != 1024 || h != 768 {
		t.Errorf("surface = %dx%d, want native 1024x768", w, h)
	}
}

func TestNewCompositor_overlayRect(t *testing.T) {
	pair, _, _ := newFakePair(1920, 1080, 640, 480)
	c := NewCompositor(pair, testCompositorConfig(), nil)

	r := c.OverlayRect()
	if got := r.Dx(); got != 256 {
		t.Errorf("overlay width = %d, want 256", got)
	}
	if got := r.Dy(); got != 192 {
		t.Errorf("overlay height = %d, want 192", got)
	}
	if r.Max.X != 1280-20 || r.Max.Y != 720-20 {
		t.Errorf("overlay not inset by margin: max = (%d,%d)", r.Max.X, r.Max.Y)
	}
}

func TestCompositor_overlayStaysInsideSurface(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pw := rapid.IntRange(320, 7680).Draw(t, "pw")
		ph := rapid.IntRange(240, 4320).Draw(t, "ph")
		ow := rapid.IntRange(160, 1920).Draw(t, "ow")
		oh := rapid.IntRange(120, 1080).Draw(t, "oh")

		pair, _, _ := newFakePair(pw, ph, ow, oh)
		c := NewCompositor(pair, testCompositorConfig(), nil)

		w, h := c.Size()
		if w > 1280 {
			t.Fatalf("surface width %d exceeds cap", w)
		}
		r := c.OverlayRect()
		if want := int(0.2*float64(w) + 0.5); r.Dx() != want {
			t.Fatalf("overlay width = %d, want %d", r.Dx(), want)
		}
		if r.Max.X != w-20 || r.Max.Y != h-20 {
			t.Fatalf("overlay corner = (%d,%d), want (%d,%d)", r.Max.X, r.Max.Y, w-20, h-20)
		}
		// Whenever the inset fits at all, the whole rect stays on-surface.
		if r.Dy()+20 <= h && !r.In(image.Rect(0, 0, w, h)) {
			t.Fatalf("overlay %v escapes %dx%d surface", r, w, h)
		}
	})
}

func TestCompositor_rendersLatestFrames(t *testing.T) {
	pair, primary, overlay := newFakePair(1920, 1080, 640, 480)
	c := NewCompositor(pair, testCompositorConfig(), nil)

	primary.frames <- rgbaFrame(1, 1920, 1080)
	primary.frames <- rgbaFrame(2, 1920, 1080)
	overlay.frames <- rgbaFrame(1, 640, 480)

	if err := c.renderOnce(time.Now()); err != nil {
		t.Fatalf("renderOnce: %v", err)
	}

	frame, ok := c.Surface().Latest()
	if !ok {
		t.Fatal("expected a composited frame")
	}
	if frame.Width != 1280 || frame.Height != 720 {
		t.Errorf("frame = %dx%d, want 1280x720", frame.Width, frame.Height)
	}
	if len(frame.Data) != 1280*720*4 {
		t.Errorf("frame data = %d bytes, want %d", len(frame.Data), 1280*720*4)
	}
	if frame.Seq != 1 {
		t.Errorf("frame seq = %d, want 1", frame.Seq)
	}

	composited, held := c.Stats()
	if composited != 1 || held != 0 {
		t.Errorf("stats = (%d, %d), want (1, 0)", composited, held)
	}
}

func TestCompositor_holdsWithoutFirstFrame(t *testing.T) {
	pair, _, _ := newFakePair(1920, 1080, 640, 480)
	c := NewCompositor(pair, testCompositorConfig(), nil)

	if err := c.renderOnce(time.Now()); err != nil {
		t.Fatalf("renderOnce: %v", err)
	}
	if _, ok := c.Surface().Latest(); ok {
		t.Error("no frame should be drawn before the first decodable primary frame")
	}
	composited, held := c.Stats()
	if composited != 0 || held != 1 {
		t.Errorf("stats = (%d, %d), want (0, 1)", composited, held)
	}
}

func TestCompositor_holdsLastFrameWhenSourceStalls(t *testing.T) {
	pair, primary, _ := newFakePair(1920, 1080, 640, 480)
	c := NewCompositor(pair, testCompositorConfig(), nil)

	primary.frames <- rgbaFrame(1, 1920, 1080)
	if err := c.renderOnce(time.Now()); err != nil {
		t.Fatalf("renderOnce: %v", err)
	}
	// Nothing new arrives; the previous decoded frame is re-drawn.
	if err := c.renderOnce(time.Now()); err != nil {
		t.Fatalf("renderOnce (stalled): %v", err)
	}

	frame, ok := c.Surface().Latest()
	if !ok || frame.Seq != 2 {
		t.Errorf("expected second composite from held frame, got ok=%v seq=%d", ok, frame.Seq)
	}
}

func TestCompositor_onFrameErrorAborts(t *testing.T) {
	pair, primary, _ := newFakePair(1920, 1080, 640, 480)
	c := NewCompositor(pair, testCompositorConfig(), nil)

	wantErr := errors.New("downstream full")
	c.SetOnFrame(func(core.Frame) error { return wantErr })

	primary.frames <- rgbaFrame(1, 1920, 1080)
	if err := c.renderOnce(time.Now()); !errors.Is(err, wantErr) {
		t.Fatalf("expected consumer error, got %v", err)
	}
}
