package gesture

import (
	"math"
	"time"

	"slippymap/internal/animation"
	"slippymap/internal/geo"
)

// Pinch zooms and rotates with two touches. The geographic point under the
// starting midpoint stays under the current midpoint. A two-finger press
// that barely moves is a tap and zooms out by one level on release.
type Pinch struct {
	toggle
	c *Controller

	active   bool
	pinching bool

	distance float64
	angle    float64
	zoom     float64
	bearing  float64
	midX     float64
	midY     float64
	anchor   geo.LatLng
	start    time.Time
}

func (p *Pinch) Kind() Kind { return KindPinch }

// Pinching reports whether the touches moved enough to count as a pinch
func (p *Pinch) Pinching() bool {
	return p.active && p.pinching
}

func span(a, b PointerEvent) (distance, angle, midX, midY float64) {
	dx, dy := b.X-a.X, b.Y-a.Y
	return math.Hypot(dx, dy), math.Atan2(dy, dx), (a.X + b.X) / 2, (a.Y + b.Y) / 2
}

func (p *Pinch) begin(a, b PointerEvent) {
	d, angle, mx, my := span(a, b)
	if d == 0 || !geo.Finite(d) {
		// coincident touches give no reference distance
		return
	}
	p.active = true
	p.pinching = false
	p.distance = d
	p.angle = angle
	p.midX, p.midY = mx, my
	p.zoom = p.c.camera.Zoom()
	p.bearing = p.c.camera.Bearing()
	p.anchor = p.c.camera.ScreenToGeo(mx, my)
	p.start = b.Time
	if a.Time.After(p.start) {
		p.start = a.Time
	}
}

func (p *Pinch) move(a, b PointerEvent) {
	d, angle, mx, my := span(a, b)
	if d == 0 || !geo.Finite(d) || !geo.Finite(angle) {
		return
	}
	ratio := d / p.distance
	turn := geo.AngleDelta(p.angle, angle)

	if !p.pinching {
		opts := p.c.opts
		still := math.Abs(ratio-1) < opts.PinchRatioThreshold &&
			math.Abs(turn) < opts.PinchAngleThreshold &&
			math.Hypot(mx-p.midX, my-p.midY) < opts.ClickTolerance
		if still {
			return
		}
		p.pinching = true
	}

	bearing := p.bearing
	if p.c.opts.PinchRotate {
		bearing += turn
	}
	p.c.camera.ZoomRotateAbout(mx, my, p.zoom+math.Log2(ratio), bearing, p.anchor)
}

func (p *Pinch) end(now time.Time, gesture bool) {
	pinching := p.pinching
	p.active = false
	p.pinching = false

	view := p.c.camera.State().View()
	switch {
	case pinching:
		p.c.bus.MoveEnd.Emit(view)
		if p.c.camera.Zoom() != p.zoom {
			p.c.bus.ZoomEnd.Emit(view)
		}
	case gesture && now.Sub(p.start) <= p.c.opts.TwoFingerTapDuration:
		p.c.anim.ZoomRotate(p.midX, p.midY, p.zoom-1, p.bearing, p.c.opts.ZoomDuration, animation.EaseOutCubic)
	}
}

// Disable also ends a pinch in progress
func (p *Pinch) Disable() {
	p.toggle.Disable()
	if p.active {
		p.end(time.Time{}, false)
	}
}
