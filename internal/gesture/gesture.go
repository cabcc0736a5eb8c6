// Package gesture turns raw pointer, wheel and keyboard input into camera
// motion. Each input modality is a handler that can be enabled and
// disabled; only one of them drives the camera at a time.
package gesture

import (
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"slippymap/internal/animation"
	"slippymap/internal/camera"
	"slippymap/internal/config"
	"slippymap/internal/event"
	"slippymap/internal/geo"
	"slippymap/internal/logging"
)

// Kind identifies a handler variant
type Kind int

const (
	KindDrag Kind = iota
	KindWheel
	KindPinch
	KindTap
	KindKeyboard
)

func (k Kind) String() string {
	switch k {
	case KindDrag:
		return "drag"
	case KindWheel:
		return "wheel"
	case KindPinch:
		return "pinch"
	case KindTap:
		return "tap"
	case KindKeyboard:
		return "keyboard"
	}
	return "unknown"
}

// Handler is one input modality
type Handler interface {
	Kind() Kind
	Enable()
	Disable()
	Enabled() bool
}

type toggle struct {
	disabled bool
}

func (t *toggle) Enable()       { t.disabled = false }
func (t *toggle) Disable()      { t.disabled = true }
func (t *toggle) Enabled() bool { return !t.disabled }

// PointerKind tells mouse and touch pointers apart
type PointerKind int

const (
	Mouse PointerKind = iota
	Touch
)

// PointerEvent is a press, move or release of one pointer
type PointerEvent struct {
	ID    int
	Kind  PointerKind
	X, Y  float64
	Time  time.Time
	Shift bool
}

// WheelEvent is one wheel tick. Negative DeltaY scrolls up and zooms in.
type WheelEvent struct {
	X, Y   float64
	DeltaY float64
	Time   time.Time
}

// Key is a map action bound to a keyboard key by the host
type Key int

const (
	KeyPanUp Key = iota
	KeyPanDown
	KeyPanLeft
	KeyPanRight
	KeyZoomIn
	KeyZoomOut
	KeyRotateLeft
	KeyRotateRight
	KeyResetNorth
	KeyToggleBaseLayer
)

type KeyEvent struct {
	Key Key
}

// Options tunes the handlers
type Options struct {
	ClickTolerance float64       // px a press may move and still be a click
	VelocityWindow time.Duration // drag samples kept for the release velocity

	InertiaDeceleration float64 // px/ms²
	InertiaStopSpeed    float64 // px/ms
	InertiaMaxSpeed     float64 // px/ms

	WheelZoomStep float64
	WheelDuration time.Duration

	ZoomDuration time.Duration
	KeyPanStep   float64 // px
	RotateStep   float64 // radians

	DoubleTapInterval time.Duration
	DoubleTapDistance float64 // px

	PinchRotate          bool
	PinchRatioThreshold  float64 // |d/d0 - 1| below this is not a pinch
	PinchAngleThreshold  float64 // radians
	TwoFingerTapDuration time.Duration
}

// DefaultOptions returns the stock handler settings
func DefaultOptions() Options {
	return Options{
		ClickTolerance:       3,
		VelocityWindow:       120 * time.Millisecond,
		InertiaDeceleration:  0.0034,
		InertiaStopSpeed:     0.05,
		InertiaMaxSpeed:      6,
		WheelZoomStep:        1,
		WheelDuration:        150 * time.Millisecond,
		ZoomDuration:         250 * time.Millisecond,
		KeyPanStep:           80,
		RotateStep:           15 * math.Pi / 180,
		DoubleTapInterval:    300 * time.Millisecond,
		DoubleTapDistance:    30,
		PinchRotate:          true,
		PinchRatioThreshold:  0.05,
		PinchAngleThreshold:  5 * math.Pi / 180,
		TwoFingerTapDuration: 300 * time.Millisecond,
	}
}

// OptionsFromConfig overlays the configured interaction settings on the
// defaults
func OptionsFromConfig(c config.Interaction) Options {
	o := DefaultOptions()
	o.InertiaDeceleration = c.InertiaDeceleration
	o.InertiaStopSpeed = c.InertiaStopSpeed
	o.InertiaMaxSpeed = c.InertiaMaxSpeed
	o.WheelZoomStep = c.WheelZoomStep
	o.WheelDuration = c.WheelDuration
	o.KeyPanStep = c.KeyPanStep
	o.ZoomDuration = c.ZoomDuration
	o.PinchRotate = c.PinchRotate
	return o
}

func (o Options) inertia() animation.InertiaOptions {
	return animation.InertiaOptions{
		Deceleration: o.InertiaDeceleration,
		StopSpeed:    o.InertiaStopSpeed,
	}
}

// press tracks a single-pointer press for tap detection
type press struct {
	id    int
	x, y  float64
	time  time.Time
	moved bool
}

// Controller routes input events to the handlers
type Controller struct {
	camera *camera.Camera
	anim   *animation.Animator
	bus    *event.Bus
	opts   Options
	log    *log.Entry

	drag     *Drag
	wheel    *Wheel
	pinch    *Pinch
	tap      *Tap
	keyboard *Keyboard

	pointers map[int]PointerEvent
	order    []int // pointer ids in press order
	press    *press

	// after a pinch, remaining fingers are ignored until every pointer
	// is lifted
	suppressed bool

	toggleBase func()
}

// NewController creates a controller with every handler enabled. bus and
// logger may be nil.
func NewController(cam *camera.Camera, anim *animation.Animator, bus *event.Bus, opts Options, logger *log.Entry) *Controller {
	if bus == nil {
		bus = &event.Bus{}
	}
	c := &Controller{
		camera:   cam,
		anim:     anim,
		bus:      bus,
		opts:     opts,
		log:      logging.Or(logger),
		pointers: make(map[int]PointerEvent),
	}
	c.drag = &Drag{c: c}
	c.wheel = &Wheel{c: c}
	c.pinch = &Pinch{c: c}
	c.tap = &Tap{c: c}
	c.keyboard = &Keyboard{c: c}
	return c
}

// Handlers lists the handlers in routing order
func (c *Controller) Handlers() []Handler {
	return []Handler{c.drag, c.wheel, c.pinch, c.tap, c.keyboard}
}

// Handler returns the handler of the given kind
func (c *Controller) Handler(k Kind) Handler {
	for _, h := range c.Handlers() {
		if h.Kind() == k {
			return h
		}
	}
	return nil
}

// Options returns the handler settings
func (c *Controller) Options() Options {
	return c.opts
}

// OnToggleBaseLayer sets the action bound to KeyToggleBaseLayer
func (c *Controller) OnToggleBaseLayer(fn func()) {
	c.toggleBase = fn
}

// Busy reports whether a drag or pinch is in progress
func (c *Controller) Busy() bool {
	return c.drag.active || c.pinch.active
}

// PointerDown handles a mouse button press or a touch start
func (c *Controller) PointerDown(e PointerEvent) {
	if !validPoint(e.X, e.Y) {
		return
	}
	if _, ok := c.pointers[e.ID]; !ok {
		c.order = append(c.order, e.ID)
	}
	c.pointers[e.ID] = e

	switch len(c.pointers) {
	case 1:
		if c.suppressed {
			return
		}
		c.anim.Stop()
		c.press = &press{id: e.ID, x: e.X, y: e.Y, time: e.Time}
		c.drag.begin(e)
	case 2:
		c.press = nil
		if c.suppressed || !c.pinch.Enabled() {
			return
		}
		c.anim.Stop()
		c.drag.cancel()
		a, b := c.pair()
		c.pinch.begin(a, b)
	}
}

// PointerMove handles pointer motion
func (c *Controller) PointerMove(e PointerEvent) {
	if _, ok := c.pointers[e.ID]; !ok || !validPoint(e.X, e.Y) {
		return
	}
	c.pointers[e.ID] = e

	if c.press != nil && c.press.id == e.ID && !c.press.moved {
		c.press.moved = math.Hypot(e.X-c.press.x, e.Y-c.press.y) >= c.opts.ClickTolerance
	}

	switch {
	case c.pinch.active:
		a, b := c.pair()
		c.pinch.move(a, b)
	case c.drag.active && c.drag.id == e.ID:
		c.drag.move(e)
	}
}

// PointerUp handles a button release or a touch end
func (c *Controller) PointerUp(e PointerEvent) {
	c.release(e, true)
}

// PointerCancel handles a pointer the platform took away. No inertia or
// tap follows.
func (c *Controller) PointerCancel(e PointerEvent) {
	c.release(e, false)
}

func (c *Controller) release(e PointerEvent, gesture bool) {
	if _, ok := c.pointers[e.ID]; !ok {
		return
	}
	delete(c.pointers, e.ID)
	for i, id := range c.order {
		if id == e.ID {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}

	switch {
	case c.pinch.active:
		c.pinch.end(e.Time, gesture)
		c.suppressed = true
	case c.drag.active && c.drag.id == e.ID:
		if gesture && validPoint(e.X, e.Y) {
			c.drag.end(e)
		} else {
			c.drag.finish()
		}
	}

	if p := c.press; p != nil && p.id == e.ID {
		c.press = nil
		if gesture && !p.moved && validPoint(e.X, e.Y) {
			c.tap.tap(e)
		}
	}

	if len(c.pointers) == 0 {
		c.suppressed = false
	}
}

// Wheel handles a wheel tick
func (c *Controller) Wheel(e WheelEvent) {
	c.wheel.wheel(e)
}

// Key handles a key press
func (c *Controller) Key(e KeyEvent) {
	c.keyboard.key(e)
}

// pair returns the first two pressed pointers
func (c *Controller) pair() (PointerEvent, PointerEvent) {
	return c.pointers[c.order[0]], c.pointers[c.order[1]]
}

func validPoint(x, y float64) bool {
	return geo.Finite(x) && geo.Finite(y)
}
