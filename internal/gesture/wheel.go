package gesture

import (
	"slippymap/internal/animation"
	"slippymap/internal/geo"
)

// Wheel zooms by a fixed step per tick, anchored at the pointer.
// Ticks arriving while the previous zoom is still animating add to its
// target.
type Wheel struct {
	toggle
	c *Controller
}

func (w *Wheel) Kind() Kind { return KindWheel }

func (w *Wheel) wheel(e WheelEvent) {
	if !w.Enabled() || e.DeltaY == 0 || !validPoint(e.X, e.Y) || !geo.Finite(e.DeltaY) {
		return
	}
	// a pressed pointer owns the view even inside the click tolerance
	if w.c.Busy() {
		return
	}

	step := w.c.opts.WheelZoomStep
	if e.DeltaY > 0 {
		step = -step
	}

	base := w.c.camera.Zoom()
	if target, ok := w.c.anim.ZoomTarget(); ok {
		base = target
	}
	target := w.c.camera.ClampZoom(base + step)
	if target == w.c.camera.Zoom() {
		return
	}

	w.c.anim.ZoomRotate(e.X, e.Y, target, w.c.camera.Bearing(), w.c.opts.WheelDuration, animation.EaseOutCubic)
}
