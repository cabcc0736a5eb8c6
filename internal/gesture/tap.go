package gesture

import (
	"math"

	"slippymap/internal/animation"
)

// Tap zooms in by one level on a double tap or double click, anchored at
// the tap. Shift zooms out instead.
type Tap struct {
	toggle
	c *Controller

	last *PointerEvent
}

func (t *Tap) Kind() Kind { return KindTap }

func (t *Tap) tap(e PointerEvent) {
	if !t.Enabled() {
		return
	}
	prev := t.last
	if prev == nil || !t.double(*prev, e) {
		t.last = &e
		return
	}
	t.last = nil

	step := 1.0
	if e.Shift {
		step = -1
	}
	cam := t.c.camera
	target := cam.ClampZoom(cam.Zoom() + step)
	if target == cam.Zoom() {
		return
	}
	t.c.anim.ZoomRotate(e.X, e.Y, target, cam.Bearing(), t.c.opts.ZoomDuration, animation.EaseOutCubic)
}

func (t *Tap) double(prev, e PointerEvent) bool {
	dt := e.Time.Sub(prev.Time)
	if dt < 0 || dt > t.c.opts.DoubleTapInterval {
		return false
	}
	return math.Hypot(e.X-prev.X, e.Y-prev.Y) <= t.c.opts.DoubleTapDistance
}

// Reset forgets the previous tap
func (t *Tap) Reset() {
	t.last = nil
}
