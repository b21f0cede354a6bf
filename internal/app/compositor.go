package app

import (
	"context"
	"image"
	"image/color"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	xdraw "golang.org/x/image/draw"

	"github.com/invigil/capture/internal/core"
	"github.com/invigil/capture/internal/platform/metrics"
)

// Surface is the composited render target. Written exclusively by the
// compositor; read-only for the encoder and broadcaster.
type Surface struct {
	mu    sync.RWMutex
	frame core.Frame
	valid bool
}

func (s *Surface) set(f core.Frame) {
	s.mu.Lock()
	s.frame = f
	s.valid = true
	s.mu.Unlock()
}

// Latest returns the most recent composited frame, if any has been drawn.
func (s *Surface) Latest() (core.Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.frame, s.valid
}

type CompositorConfig struct {
	TargetFPS     float64
	MaxWidth      int
	OverlayRatio  float64
	OverlayMargin int
}

const overlayBorderPx = 2

var overlayBorderColor = color.RGBA{R: 255, G: 255, B: 255, A: 255}

// Compositor continuously renders the two sources onto one surface at a
// fixed rate, independent of recording or broadcast state.
type Compositor struct {
	primary core.MediaSource
	overlay core.MediaSource

	width, height int
	overlayRect   image.Rectangle
	tick          time.Duration

	surface *Surface
	onFrame func(core.Frame) error
	mx      *metrics.Metrics

	lastPrimary *image.RGBA
	lastOverlay *image.RGBA
	seq         uint64

	composited atomic.Uint64
	held       atomic.Uint64
}

// NewCompositor sizes the output surface from the primary source once, at
// setup: capped at cfg.MaxWidth, aspect preserved. The overlay rectangle is
// cfg.OverlayRatio of the surface width, at the overlay's native aspect,
// inset from the bottom-right corner by cfg.OverlayMargin.
func NewCompositor(pair *core.SourcePair, cfg CompositorConfig, mx *metrics.Metrics) *Compositor {
	ps := pair.Primary.Settings()
	w, h := ps.Width, ps.Height
	if cfg.MaxWidth > 0 && w > cfg.MaxWidth {
		h = int(float64(h)*float64(cfg.MaxWidth)/float64(w) + 0.5)
		w = cfg.MaxWidth
	}

	os := pair.Overlay.Settings()
	ow := int(cfg.OverlayRatio*float64(w) + 0.5)
	oh := ow * 3 / 4
	if os.Width > 0 && os.Height > 0 {
		oh = int(float64(ow)*float64(os.Height)/float64(os.Width) + 0.5)
	}
	x0 := w - ow - cfg.OverlayMargin
	y0 := h - oh - cfg.OverlayMargin

	fps := cfg.TargetFPS
	if fps <= 0 {
		fps = 30
	}

	return &Compositor{
		primary:     pair.Primary,
		overlay:     pair.Overlay,
		width:       w,
		height:      h,
		overlayRect: image.Rect(x0, y0, x0+ow, y0+oh),
		tick:        time.Duration(float64(time.Second) / fps),
		surface:     &Surface{},
		mx:          mx,
	}
}

func (c *Compositor) Size() (width, height int) { return c.width, c.height }

func (c *Compositor) OverlayRect() image.Rectangle { return c.overlayRect }

func (c *Compositor) Surface() *Surface { return c.surface }

// SetOnFrame attaches the downstream consumer invoked synchronously per
// composite. An error from it aborts the render loop.
func (c *Compositor) SetOnFrame(fn func(core.Frame) error) { c.onFrame = fn }

// Run drives the render loop until ctx is cancelled. It returns a non-nil
// error only when the frame consumer fails.
func (c *Compositor) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.tick)
	defer ticker.Stop()

	log.Info().
		Str("module", "app.compositor").
		Int("width", c.width).
		Int("height", c.height).
		Dur("tick", c.tick).
		Msg("render loop started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Str("module", "app.compositor").Msg("render loop stopped")
			return nil
		case now := <-ticker.C:
			if err := c.renderOnce(now); err != nil {
				return core.Fail(core.StageEncode, err)
			}
		}
	}
}

func (c *Compositor) renderOnce(now time.Time) error {
	if f, ok := drainLatest(c.primary.Frames()); ok {
		c.lastPrimary = f.RGBA()
	}
	if f, ok := drainLatest(c.overlay.Frames()); ok {
		c.lastOverlay = f.RGBA()
	}

	// No decodable primary frame yet: hold instead of drawing garbage.
	if c.lastPrimary == nil {
		c.held.Add(1)
		c.mx.IncFramesHeld()
		return nil
	}

	dst := image.NewRGBA(image.Rect(0, 0, c.width, c.height))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), c.lastPrimary, c.lastPrimary.Bounds(), xdraw.Src, nil)

	if c.lastOverlay != nil {
		xdraw.ApproxBiLinear.Scale(dst, c.overlayRect, c.lastOverlay, c.lastOverlay.Bounds(), xdraw.Src, nil)
		drawBorder(dst, c.overlayRect, overlayBorderPx, overlayBorderColor)
	}

	c.seq++
	frame := core.Frame{
		Seq:       c.seq,
		Timestamp: now,
		Width:     c.width,
		Height:    c.height,
		Data:      dst.Pix,
	}
	c.surface.set(frame)
	c.composited.Add(1)
	c.mx.IncFramesComposited()

	if c.onFrame != nil {
		return c.onFrame(frame)
	}
	return nil
}

// Stats returns composited/held tick counts.
func (c *Compositor) Stats() (composited, held uint64) {
	return c.composited.Load(), c.held.Load()
}

// drainLatest empties ch and returns the newest frame, if any arrived.
func drainLatest(ch <-chan core.Frame) (core.Frame, bool) {
	var latest core.Frame
	var got bool
	for {
		select {
		case f, ok := <-ch:
			if !ok {
				return latest, got
			}
			latest, got = f, true
		default:
			return latest, got
		}
	}
}

func drawBorder(dst *image.RGBA, r image.Rectangle, px int, col color.RGBA) {
	for i := 0; i < px; i++ {
		for x := r.Min.X - i; x < r.Max.X+i; x++ {
			dst.SetRGBA(x, r.Min.Y-1-i, col)
			dst.SetRGBA(x, r.Max.Y+i, col)
		}
		for y := r.Min.Y - i; y < r.Max.Y+i; y++ {
			dst.SetRGBA(r.Min.X-1-i, y, col)
			dst.SetRGBA(r.Max.X+i, y, col)
		}
	}
}
