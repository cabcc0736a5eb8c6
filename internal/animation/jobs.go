package animation

import (
	"math"
	"time"

	"slippymap/internal/camera"
	"slippymap/internal/event"
	"slippymap/internal/geo"
)

// Target is the end state of a fly-to
type Target struct {
	Center  geo.LatLng
	Zoom    float64
	Bearing float64
}

// progress returns the linear progress of a job started at start
func progress(start, now time.Time, d time.Duration) float64 {
	if d <= 0 {
		return 1
	}
	return clamp01(float64(now.Sub(start)) / float64(d))
}

func orDefault(e Easing) Easing {
	if e == nil {
		return EaseOutCubic
	}
	return e
}

type flyTo struct {
	cam      *camera.Camera
	target   Target
	duration time.Duration
	easing   Easing

	start time.Time
	from  camera.State
	lon0  float64 // continuous start longitude
	dLon  float64
	dBear float64
}

// FlyTo animates center, zoom and bearing to target. Longitude follows the
// shortest east-west path and bearing the shortest rotation.
func (a *Animator) FlyTo(target Target, duration time.Duration, easing Easing) string {
	return a.start(&flyTo{
		cam:      a.camera,
		target:   target,
		duration: duration,
		easing:   orDefault(easing),
	})
}

func (j *flyTo) kind() Kind { return KindFlyTo }

func (j *flyTo) begin(now time.Time) {
	j.start = now
	j.from = j.cam.State()
	j.lon0 = j.cam.UnwrappedCenter().Lon
	j.dLon = geo.LonDelta(j.from.Center.Lon, j.target.Center.Lon)
	j.dBear = geo.AngleDelta(j.from.Bearing, j.target.Bearing)
	j.target.Zoom = j.cam.ClampZoom(j.target.Zoom)
}

func (j *flyTo) step(now time.Time) bool {
	t := progress(j.start, now, j.duration)
	if t >= 1 {
		j.cam.SetState(j.target.Center.Lat, j.lon0+j.dLon, j.target.Zoom, j.target.Bearing)
		return true
	}

	e := j.easing(t)
	j.cam.SetState(
		j.from.Center.Lat+(geo.ClampLat(j.target.Center.Lat)-j.from.Center.Lat)*e,
		j.lon0+j.dLon*e,
		j.from.Zoom+(j.target.Zoom-j.from.Zoom)*e,
		j.from.Bearing+j.dBear*e,
	)
	return false
}

func (j *flyTo) end(bus *event.Bus) {
	view := j.cam.State().View()
	bus.MoveEnd.Emit(view)
	if j.from.Zoom != j.cam.Zoom() {
		bus.ZoomEnd.Emit(view)
	}
}

type zoomRotate struct {
	cam      *camera.Camera
	x, y     float64
	zoom     float64
	bearing  float64
	duration time.Duration
	easing   Easing

	start  time.Time
	anchor geo.LatLng
	from   camera.State
	dBear  float64
}

// ZoomRotate animates zoom and bearing keeping the geographic point under
// the screen position (x, y) fixed. The anchor is captured when the job
// starts.
func (a *Animator) ZoomRotate(x, y, zoom, bearing float64, duration time.Duration, easing Easing) string {
	return a.start(&zoomRotate{
		cam:      a.camera,
		x:        x,
		y:        y,
		zoom:     zoom,
		bearing:  bearing,
		duration: duration,
		easing:   orDefault(easing),
	})
}

// ZoomTarget returns the target zoom of a running zoom/rotate job
func (a *Animator) ZoomTarget() (float64, bool) {
	if a.active == nil {
		return 0, false
	}
	j, ok := a.active.job.(*zoomRotate)
	if !ok {
		return 0, false
	}
	return j.zoom, true
}

func (j *zoomRotate) kind() Kind { return KindZoomRotate }

func (j *zoomRotate) begin(now time.Time) {
	j.start = now
	j.from = j.cam.State()
	j.anchor = j.cam.ScreenToGeo(j.x, j.y)
	j.zoom = j.cam.ClampZoom(j.zoom)
	j.dBear = geo.AngleDelta(j.from.Bearing, j.bearing)
}

func (j *zoomRotate) step(now time.Time) bool {
	t := progress(j.start, now, j.duration)
	if t >= 1 {
		j.cam.ZoomRotateAbout(j.x, j.y, j.zoom, j.bearing, j.anchor)
		return true
	}

	e := j.easing(t)
	j.cam.ZoomRotateAbout(j.x, j.y,
		j.from.Zoom+(j.zoom-j.from.Zoom)*e,
		j.from.Bearing+j.dBear*e,
		j.anchor)
	return false
}

func (j *zoomRotate) end(bus *event.Bus) {
	view := j.cam.State().View()
	bus.MoveEnd.Emit(view)
	if j.from.Zoom != j.cam.Zoom() {
		bus.ZoomEnd.Emit(view)
	}
}

// InertiaOptions tunes the deceleration of a released drag
type InertiaOptions struct {
	Deceleration float64 // px/ms²
	StopSpeed    float64 // px/ms
}

type inertia struct {
	cam    *camera.Camera
	opts   InertiaOptions
	dx, dy float64 // unit direction in screen space
	speed  float64 // px/ms

	last     time.Time
	distance float64
	frames   int
}

// Inertia continues a drag released with velocity (vx, vy) px/ms, slowing
// linearly until the speed drops below the stop speed. Returns "" when the
// speed is already below it.
func (a *Animator) Inertia(vx, vy float64, opts InertiaOptions) string {
	speed := math.Hypot(vx, vy)
	if !geo.Finite(speed) || speed < opts.StopSpeed || speed == 0 {
		return ""
	}
	return a.start(&inertia{
		cam:   a.camera,
		opts:  opts,
		dx:    vx / speed,
		dy:    vy / speed,
		speed: speed,
	})
}

func (j *inertia) kind() Kind { return KindInertia }

func (j *inertia) begin(now time.Time) {
	j.last = now
}

func (j *inertia) step(now time.Time) bool {
	dt := float64(now.Sub(j.last)) / float64(time.Millisecond)
	j.last = now
	if dt <= 0 {
		return false
	}

	next := math.Max(j.speed-j.opts.Deceleration*dt, 0)
	d := (j.speed + next) / 2 * dt
	j.speed = next
	j.distance += d
	j.frames++

	j.cam.Pan(j.dx*d, j.dy*d)
	return next < j.opts.StopSpeed
}

func (j *inertia) end(bus *event.Bus) {
	bus.MoveEnd.Emit(j.cam.State().View())
}
