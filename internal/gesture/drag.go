package gesture

import (
	"math"
	"time"

	"slippymap/internal/geo"
)

type sample struct {
	t    time.Time
	x, y float64
}

// Drag pans the map with a single pointer and hands the release velocity
// to an inertia job
type Drag struct {
	toggle
	c *Controller

	active bool
	moved  bool
	id     int

	startX, startY   float64
	centerX, centerY float64 // world pixels at press time

	samples []sample
}

func (d *Drag) Kind() Kind { return KindDrag }

// Active reports whether the pointer has moved past the click tolerance
func (d *Drag) Active() bool {
	return d.active && d.moved
}

func (d *Drag) begin(e PointerEvent) {
	if !d.Enabled() {
		return
	}
	d.active = true
	d.moved = false
	d.id = e.ID
	d.startX, d.startY = e.X, e.Y
	d.centerX, d.centerY = d.c.camera.CenterWorld()
	d.samples = append(d.samples[:0], sample{e.Time, e.X, e.Y})
}

func (d *Drag) move(e PointerEvent) {
	dx, dy := e.X-d.startX, e.Y-d.startY
	if !d.moved {
		if math.Hypot(dx, dy) < d.c.opts.ClickTolerance {
			return
		}
		d.moved = true
	}

	// anything started since the press, such as a FlyTo from the host,
	// yields to the drag, which restarts from the current view
	if d.c.anim.Stop() {
		d.startX, d.startY = e.X, e.Y
		d.centerX, d.centerY = d.c.camera.CenterWorld()
		dx, dy = 0, 0
	}

	d.record(e)

	// the total screen delta, turned into world orientation, applied to the
	// center captured at press time
	wx, wy := geo.Rotate(dx, dy, -d.c.camera.Bearing())
	d.c.camera.SetCenterWorld(d.centerX-wx, d.centerY-wy)
}

func (d *Drag) record(e PointerEvent) {
	d.samples = append(d.samples, sample{e.Time, e.X, e.Y})

	cutoff := e.Time.Add(-d.c.opts.VelocityWindow)
	i := 0
	for i < len(d.samples)-1 && d.samples[i].t.Before(cutoff) {
		i++
	}
	d.samples = d.samples[i:]
}

// velocity is measured from the oldest sample inside the window to the
// latest, in screen px/ms
func (d *Drag) velocity() (vx, vy float64) {
	if len(d.samples) < 2 {
		return 0, 0
	}
	first, last := d.samples[0], d.samples[len(d.samples)-1]
	dt := float64(last.t.Sub(first.t)) / float64(time.Millisecond)
	if dt <= 0 {
		return 0, 0
	}
	vx, vy = (last.x-first.x)/dt, (last.y-first.y)/dt

	if limit := d.c.opts.InertiaMaxSpeed; limit > 0 {
		if speed := math.Hypot(vx, vy); speed > limit {
			vx, vy = vx*limit/speed, vy*limit/speed
		}
	}
	return vx, vy
}

func (d *Drag) end(e PointerEvent) {
	moved := d.moved
	if moved {
		// a pause before release drops the older samples
		d.record(e)
	}
	vx, vy := d.velocity()
	d.reset()

	if !moved {
		return
	}
	if d.c.anim.Inertia(vx, vy, d.c.opts.inertia()) == "" {
		d.c.bus.MoveEnd.Emit(d.c.camera.State().View())
	}
}

// finish ends the drag without inertia
func (d *Drag) finish() {
	moved := d.moved
	d.reset()
	if moved {
		d.c.bus.MoveEnd.Emit(d.c.camera.State().View())
	}
}

// cancel drops the drag silently, as when a second finger starts a pinch
func (d *Drag) cancel() {
	d.reset()
}

func (d *Drag) reset() {
	d.active = false
	d.moved = false
	d.samples = d.samples[:0]
}

// Disable also stops a drag in progress
func (d *Drag) Disable() {
	d.toggle.Disable()
	d.finish()
}
