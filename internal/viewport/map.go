// Package viewport is the map instance: it owns the camera, the animator,
// the gesture controller and the layer registry, and turns their state into
// one Frame per display frame.
package viewport

import (
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"

	"slippymap/internal/animation"
	"slippymap/internal/camera"
	"slippymap/internal/event"
	"slippymap/internal/geo"
	"slippymap/internal/gesture"
	"slippymap/internal/logging"
	"slippymap/internal/scheduler"
)

// DefaultFlyDuration is used by FlyTo when no duration is given
const DefaultFlyDuration = 1500 * time.Millisecond

var (
	ErrNoRenderTarget   = errors.New("no render target")
	ErrInvalidCenter    = errors.New("invalid center")
	ErrInvalidZoomRange = errors.New("invalid zoom range")
	ErrInvalidSize      = errors.New("invalid viewport size")
	ErrDuplicateLayer   = errors.New("duplicate layer")
	ErrUnknownLayer     = errors.New("unknown layer")
	ErrNotBaseLayer     = errors.New("not a base layer")
	ErrDestroyed        = errors.New("map destroyed")
)

// Surface is the render target the map is attached to
type Surface interface {
	Size() (width, height float64)
	PixelRatio() float64
}

// Options configures a Map
type Options struct {
	Surface Surface

	Center  geo.LatLng
	Zoom    float64
	Bearing float64 // radians

	// MinZoom and MaxZoom both zero means the camera defaults
	MinZoom float64
	MaxZoom float64

	// Gestures zero value means gesture.DefaultOptions
	Gestures gesture.Options
	Log      *log.Entry
}

// FlyToOptions describes a fly-to. Nil fields keep the current value.
type FlyToOptions struct {
	Center   *geo.LatLng
	Zoom     *float64
	Bearing  *float64
	Duration time.Duration
	Easing   animation.Easing
}

type entry struct {
	layer  Layer
	active bool
}

// Map is one interactive map. It is not safe for concurrent use: every
// call must come from the goroutine running its scheduler.
type Map struct {
	id      string
	surface Surface
	sched   scheduler.Scheduler
	log     *log.Entry

	bus      *event.Bus
	camera   *camera.Camera
	anim     *animation.Animator
	gestures *gesture.Controller

	layers []*entry
	base   string

	// zoom range from Options, narrowed by the base layer's range
	minZoom, maxZoom float64

	subs      []func()
	dirty     bool
	destroyed bool
}

// New validates opts and creates a map on sched. Configuration errors are
// returned wrapped around one of the Err* sentinels.
func New(opts Options, sched scheduler.Scheduler) (*Map, error) {
	if opts.Surface == nil {
		return nil, ErrNoRenderTarget
	}
	if !opts.Center.Valid() {
		return nil, fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidCenter, opts.Center.Lat, opts.Center.Lon)
	}

	minZoom, maxZoom := opts.MinZoom, opts.MaxZoom
	if minZoom == 0 && maxZoom == 0 {
		minZoom, maxZoom = camera.DefaultMinZoom, camera.DefaultMaxZoom
	}
	if !geo.Finite(minZoom) || !geo.Finite(maxZoom) || minZoom < 0 || minZoom > maxZoom {
		return nil, fmt.Errorf("%w: min=%v max=%v", ErrInvalidZoomRange, minZoom, maxZoom)
	}
	if !geo.Finite(opts.Zoom) || !geo.Finite(opts.Bearing) {
		return nil, fmt.Errorf("%w: zoom=%v bearing=%v", ErrInvalidZoomRange, opts.Zoom, opts.Bearing)
	}

	w, h := opts.Surface.Size()
	if err := validSize(w, h); err != nil {
		return nil, err
	}

	id, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate map id: %w", err)
	}

	m := &Map{
		id:      id,
		surface: opts.Surface,
		sched:   sched,
		log:     logging.Or(opts.Log).WithField("map", id),
		bus:     &event.Bus{},
		dirty:   true,
		minZoom: minZoom,
		maxZoom: maxZoom,
	}

	m.camera = camera.NewCamera(opts.Center, opts.Zoom, w, h, m.bus)
	m.camera.SetZoomRange(minZoom, maxZoom)
	m.camera.SetState(m.camera.Center().Lat, m.camera.Center().Lon, opts.Zoom, opts.Bearing)

	m.anim = animation.NewAnimator(sched, m.camera, m.bus, m.log)
	if opts.Gestures == (gesture.Options{}) {
		opts.Gestures = gesture.DefaultOptions()
	}
	m.gestures = gesture.NewController(m.camera, m.anim, m.bus, opts.Gestures, m.log)
	m.gestures.OnToggleBaseLayer(func() { m.ToggleBaseLayer() })

	m.watch()
	m.log.Debug("map created")
	return m, nil
}

func validSize(w, h float64) error {
	if !geo.Finite(w) || !geo.Finite(h) || w <= 0 || h <= 0 {
		return fmt.Errorf("%w: %vx%v", ErrInvalidSize, w, h)
	}
	return nil
}

// watch marks the map dirty on every change that affects the picture
func (m *Map) watch() {
	invalidate := func(event.View) { m.dirty = true }
	for _, e := range []*event.Emitter[event.View]{&m.bus.Move, &m.bus.Zoom, &m.bus.Rotate} {
		e := e
		id := e.On(invalidate)
		m.subs = append(m.subs, func() { e.Off(id) })
	}
	resize := m.bus.Resize.On(func(event.Size) { m.dirty = true })
	load := m.bus.TileLoad.On(func(event.Tile) { m.dirty = true })
	m.subs = append(m.subs,
		func() { m.bus.Resize.Off(resize) },
		func() { m.bus.TileLoad.Off(load) },
	)
}

// ID returns the map's short id
func (m *Map) ID() string { return m.id }

// Events returns the map's event bus
func (m *Map) Events() *event.Bus { return m.bus }

// Gestures returns the gesture controller fed by the host's input
func (m *Map) Gestures() *gesture.Controller { return m.gestures }

// Camera returns the map camera
func (m *Map) Camera() *camera.Camera { return m.camera }

// State returns a snapshot of the view
func (m *Map) State() camera.State { return m.camera.State() }

// SetView jumps to center and zoom, stopping any animation
func (m *Map) SetView(center geo.LatLng, zoom float64) {
	if m.destroyed || !center.Valid() || !geo.Finite(zoom) {
		return
	}
	m.jump(func() bool { return m.camera.SetView(center, zoom) })
}

// SetZoom jumps to zoom keeping the center
func (m *Map) SetZoom(zoom float64) {
	if m.destroyed || !geo.Finite(zoom) {
		return
	}
	m.jump(func() bool { return m.camera.SetZoom(zoom) })
}

// SetBearing rotates the map to bearing radians
func (m *Map) SetBearing(bearing float64) {
	if m.destroyed || !geo.Finite(bearing) {
		return
	}
	m.anim.Stop()
	m.camera.SetBearing(bearing)
}

// ZoomRotateAbout sets zoom and bearing keeping the position under the
// screen point (x, y) fixed
func (m *Map) ZoomRotateAbout(x, y, zoom, bearing float64) {
	if m.destroyed {
		return
	}
	anchor := m.camera.ScreenToGeo(x, y)
	m.jump(func() bool { return m.camera.ZoomRotateAbout(x, y, zoom, bearing, anchor) })
}

// jump applies an instant change and fires the settle events
func (m *Map) jump(apply func() bool) {
	m.anim.Stop()
	zoom := m.camera.Zoom()
	if !apply() {
		return
	}
	view := m.camera.State().View()
	m.bus.MoveEnd.Emit(view)
	if m.camera.Zoom() != zoom {
		m.bus.ZoomEnd.Emit(view)
	}
}

// FlyTo animates to the given view and returns the animation id, or ""
// when the map is destroyed or the target is invalid
func (m *Map) FlyTo(o FlyToOptions) string {
	if m.destroyed {
		return ""
	}
	s := m.camera.State()
	target := animation.Target{Center: s.Center, Zoom: s.Zoom, Bearing: s.Bearing}
	if o.Center != nil {
		if !o.Center.Valid() {
			return ""
		}
		target.Center = *o.Center
	}
	if o.Zoom != nil {
		if !geo.Finite(*o.Zoom) {
			return ""
		}
		target.Zoom = m.camera.ClampZoom(*o.Zoom)
	}
	if o.Bearing != nil {
		if !geo.Finite(*o.Bearing) {
			return ""
		}
		target.Bearing = *o.Bearing
	}
	d := o.Duration
	if d <= 0 {
		d = DefaultFlyDuration
	}
	return m.anim.FlyTo(target, d, o.Easing)
}

// StopAnimations cancels the running animation or inertia, if any
func (m *Map) StopAnimations() bool {
	return m.anim.Stop()
}

// ScreenToGeo converts a screen point to a position
func (m *Map) ScreenToGeo(x, y float64) geo.LatLng {
	return m.camera.ScreenToGeo(x, y)
}

// GeoToScreen converts a position to a screen point
func (m *Map) GeoToScreen(lat, lon float64) (x, y float64) {
	return m.camera.GeoToScreen(geo.LatLng{Lat: lat, Lon: lon})
}

// Resize changes the viewport size keeping the center
func (m *Map) Resize(width, height float64) error {
	if m.destroyed {
		return ErrDestroyed
	}
	if err := validSize(width, height); err != nil {
		return err
	}
	m.camera.SetViewport(width, height)
	return nil
}

// NeedsRedraw reports whether the picture may have changed since the last
// Frame
func (m *Map) NeedsRedraw() bool {
	return !m.destroyed && (m.dirty || m.anim.Active() || m.gestures.Busy())
}

// Invalidate forces the next NeedsRedraw to report true
func (m *Map) Invalidate() {
	m.dirty = true
}

// Frame updates every active layer and returns the draw list: the active
// base layer first, then overlays in the order they were added
func (m *Map) Frame() Frame {
	s := m.camera.State()
	if m.destroyed {
		return Frame{State: s}
	}
	cx, cy := m.camera.CenterWorld()
	f := Frame{State: s, Transform: newTransform(s, cx, cy)}

	for _, e := range m.ordered() {
		f.Tiles = append(f.Tiles, e.layer.Render(m.camera)...)
	}
	m.dirty = false
	return f
}

// Destroy stops animations and removes every layer. Calling it again is a
// no-op.
func (m *Map) Destroy() {
	if m.destroyed {
		return
	}
	m.anim.Stop()
	for _, e := range m.layers {
		if e.active {
			e.layer.OnRemove()
			e.active = false
		}
	}
	m.layers = nil
	m.base = ""
	for _, off := range m.subs {
		off()
	}
	m.subs = nil
	m.destroyed = true
	m.log.Debug("map destroyed")
}
