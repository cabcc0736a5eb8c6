package gesture

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slippymap/internal/animation"
	"slippymap/internal/camera"
	"slippymap/internal/config"
	"slippymap/internal/event"
	"slippymap/internal/geo"
	"slippymap/internal/scheduler"
)

var t0 = time.Unix(1700000000, 0)

type fixture struct {
	sched *scheduler.Manual
	cam   *camera.Camera
	anim  *animation.Animator
	bus   *event.Bus
	ctl   *Controller

	moveEnds int
	zoomEnds int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{sched: scheduler.NewManual(t0), bus: &event.Bus{}}
	f.cam = camera.NewCamera(geo.LatLng{Lat: 51.505, Lon: -0.09}, 13, 800, 600, f.bus)
	f.anim = animation.NewAnimator(f.sched, f.cam, f.bus, nil)
	f.ctl = NewController(f.cam, f.anim, f.bus, DefaultOptions(), nil)
	f.bus.MoveEnd.On(func(event.View) { f.moveEnds++ })
	f.bus.ZoomEnd.On(func(event.View) { f.zoomEnds++ })
	return f
}

func (f *fixture) settle(t *testing.T) {
	t.Helper()
	for i := 0; f.anim.Active(); i++ {
		require.Less(t, i, 1000, "animation never finished")
		f.sched.Step()
	}
}

func pointer(id int, x, y float64, ms int) PointerEvent {
	return PointerEvent{ID: id, Kind: Touch, X: x, Y: y, Time: t0.Add(time.Duration(ms) * time.Millisecond)}
}

func assertGeo(t *testing.T, want, got geo.LatLng) {
	t.Helper()
	assert.InDelta(t, want.Lat, got.Lat, 1e-6)
	assert.InDelta(t, 0, geo.LonDelta(want.Lon, got.Lon), 1e-6)
}

func TestHandlers(t *testing.T) {
	f := newFixture(t)
	kinds := []Kind{KindDrag, KindWheel, KindPinch, KindTap, KindKeyboard}
	for _, k := range kinds {
		h := f.ctl.Handler(k)
		require.NotNil(t, h, k.String())
		assert.Equal(t, k, h.Kind())
		assert.True(t, h.Enabled())
		h.Disable()
		assert.False(t, h.Enabled())
		h.Enable()
	}
	assert.Len(t, f.ctl.Handlers(), len(kinds))
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := config.Default().Interaction
	cfg.KeyPanStep = 40
	cfg.PinchRotate = false

	o := OptionsFromConfig(cfg)
	assert.Equal(t, 40.0, o.KeyPanStep)
	assert.False(t, o.PinchRotate)
	assert.Equal(t, 3.0, o.ClickTolerance)
	assert.Equal(t, 120*time.Millisecond, o.VelocityWindow)
}

func TestDragKeepsPointUnderPointer(t *testing.T) {
	for _, bearing := range []float64{0, math.Pi / 2, -2.1} {
		f := newFixture(t)
		f.cam.SetBearing(bearing)
		grabbed := f.cam.ScreenToGeo(400, 300)

		f.ctl.PointerDown(pointer(1, 400, 300, 0))
		f.ctl.PointerMove(pointer(1, 430, 320, 16))
		f.ctl.PointerMove(pointer(1, 470, 340, 32))
		assert.True(t, f.ctl.drag.Active())
		assertGeo(t, grabbed, f.cam.ScreenToGeo(470, 340))

		// released after a pause: no inertia
		f.ctl.PointerUp(pointer(1, 470, 340, 400))
		assert.False(t, f.anim.Active())
		assert.Equal(t, 1, f.moveEnds)
	}
}

func TestDragClickTolerance(t *testing.T) {
	f := newFixture(t)
	before := f.cam.State()

	f.ctl.PointerDown(pointer(1, 400, 300, 0))
	f.ctl.PointerMove(pointer(1, 402, 301, 10))
	assert.False(t, f.ctl.drag.Active())
	f.ctl.PointerUp(pointer(1, 402, 301, 20))

	assert.Equal(t, before, f.cam.State())
	assert.Equal(t, 0, f.moveEnds)
}

func TestDragReleaseStartsInertia(t *testing.T) {
	f := newFixture(t)

	// 1 px/ms to the right
	f.ctl.PointerDown(pointer(1, 100, 300, 0))
	for i := 1; i <= 10; i++ {
		f.ctl.PointerMove(pointer(1, 100+16*float64(i), 300, 16*i))
	}
	require.Equal(t, 0, f.moveEnds)

	vx, vy := f.ctl.drag.velocity()
	assert.InDelta(t, 1, vx, 1e-9)
	assert.InDelta(t, 0, vy, 1e-9)

	f.ctl.PointerUp(pointer(1, 260, 300, 160))
	kind, _, ok := f.anim.Current()
	require.True(t, ok)
	assert.Equal(t, animation.KindInertia, kind)

	frames := 0
	for f.anim.Active() {
		f.sched.Step()
		frames++
	}
	assert.Equal(t, 18, frames)
	assert.Equal(t, 1, f.moveEnds)
}

func TestDragVelocityIsCapped(t *testing.T) {
	f := newFixture(t)

	f.ctl.PointerDown(pointer(1, 0, 300, 0))
	f.ctl.PointerMove(pointer(1, 200, 300, 10))
	f.ctl.PointerMove(pointer(1, 400, 300, 20))

	vx, _ := f.ctl.drag.velocity()
	assert.InDelta(t, f.ctl.Options().InertiaMaxSpeed, vx, 1e-9)
}

func TestPressStopsAnimation(t *testing.T) {
	f := newFixture(t)
	f.anim.FlyTo(animation.Target{Center: geo.LatLng{Lat: 10, Lon: 10}, Zoom: 5}, time.Second, nil)
	f.sched.Step()

	f.ctl.PointerDown(pointer(1, 400, 300, 0))
	assert.False(t, f.anim.Active())
}

func TestWheelZoomsAtPointer(t *testing.T) {
	f := newFixture(t)
	anchor := f.cam.ScreenToGeo(600, 200)

	f.ctl.Wheel(WheelEvent{X: 600, Y: 200, DeltaY: -1, Time: t0})
	f.sched.Step()
	// a second tick mid-animation accumulates
	f.ctl.Wheel(WheelEvent{X: 600, Y: 200, DeltaY: -3, Time: t0.Add(16 * time.Millisecond)})
	f.settle(t)

	assert.Equal(t, 15.0, f.cam.Zoom())
	assertGeo(t, anchor, f.cam.ScreenToGeo(600, 200))
	assert.Equal(t, 1, f.zoomEnds)

	f.ctl.Wheel(WheelEvent{X: 600, Y: 200, DeltaY: 2})
	f.settle(t)
	assert.Equal(t, 14.0, f.cam.Zoom())
}

func TestWheelIgnoredWhileDragging(t *testing.T) {
	f := newFixture(t)
	f.ctl.PointerDown(pointer(1, 400, 300, 0))
	f.ctl.PointerMove(pointer(1, 450, 300, 16))

	f.ctl.Wheel(WheelEvent{X: 450, Y: 300, DeltaY: -1})
	assert.False(t, f.anim.Active())
}

func TestWheelIgnoredWhilePressed(t *testing.T) {
	f := newFixture(t)
	grabbed := f.cam.ScreenToGeo(400, 300)

	// still inside the click tolerance
	f.ctl.PointerDown(pointer(1, 400, 300, 0))
	f.ctl.Wheel(WheelEvent{X: 100, Y: 100, DeltaY: -1, Time: t0.Add(5 * time.Millisecond)})
	f.sched.Step()
	f.sched.Step()
	assert.False(t, f.anim.Active())
	assert.Equal(t, 13.0, f.cam.Zoom())

	f.ctl.PointerMove(pointer(1, 450, 300, 32))
	assertGeo(t, grabbed, f.cam.ScreenToGeo(450, 300))
	f.settle(t)
	assertGeo(t, grabbed, f.cam.ScreenToGeo(450, 300))
}

func TestDragStopsAnimationStartedDuringPress(t *testing.T) {
	f := newFixture(t)
	f.ctl.PointerDown(pointer(1, 400, 300, 0))
	f.anim.FlyTo(animation.Target{Center: geo.LatLng{Lat: 10, Lon: 10}, Zoom: 5}, time.Second, nil)
	f.sched.Step()

	f.ctl.PointerMove(pointer(1, 450, 300, 16))
	assert.False(t, f.anim.Active())
	grabbed := f.cam.ScreenToGeo(450, 300)

	f.ctl.PointerMove(pointer(1, 480, 320, 32))
	assertGeo(t, grabbed, f.cam.ScreenToGeo(480, 320))
	f.sched.Step()
	assertGeo(t, grabbed, f.cam.ScreenToGeo(480, 320))
}

func TestPinchZoomAndRotate(t *testing.T) {
	f := newFixture(t)
	anchor := f.cam.ScreenToGeo(400, 300)

	f.ctl.PointerDown(pointer(1, 300, 300, 0))
	f.ctl.PointerDown(pointer(2, 500, 300, 5))
	require.True(t, f.ctl.pinch.active)

	// spread to twice the distance while the midpoint slides right
	f.ctl.PointerMove(pointer(2, 700, 300, 20))
	assert.True(t, f.ctl.pinch.Pinching())
	assert.InDelta(t, 14, f.cam.Zoom(), 1e-9)
	assertGeo(t, anchor, f.cam.ScreenToGeo(500, 300))

	// quarter turn counterclockwise on screen
	f.ctl.PointerMove(pointer(2, 300, 500, 40))
	assert.InDelta(t, 13, f.cam.Zoom(), 1e-9)
	assert.InDelta(t, math.Pi/2, f.cam.Bearing(), 1e-9)
	assertGeo(t, anchor, f.cam.ScreenToGeo(300, 400))

	f.ctl.PointerUp(pointer(2, 300, 500, 60))
	assert.Equal(t, 1, f.moveEnds)
	assert.Equal(t, 0, f.zoomEnds)
}

func TestPinchWithoutRotation(t *testing.T) {
	f := newFixture(t)
	f.ctl.opts.PinchRotate = false

	f.ctl.PointerDown(pointer(1, 300, 300, 0))
	f.ctl.PointerDown(pointer(2, 500, 300, 0))
	f.ctl.PointerMove(pointer(2, 300, 500, 20))
	assert.Equal(t, 0.0, f.cam.Bearing())
}

func TestPinchCancelsDrag(t *testing.T) {
	f := newFixture(t)

	f.ctl.PointerDown(pointer(1, 300, 300, 0))
	f.ctl.PointerMove(pointer(1, 340, 300, 16))
	require.True(t, f.ctl.drag.Active())

	f.ctl.PointerDown(pointer(2, 500, 300, 20))
	assert.False(t, f.ctl.drag.active)
	assert.True(t, f.ctl.pinch.active)
	assert.False(t, f.anim.Active())
}

func TestPinchTeardownSuppressesDrag(t *testing.T) {
	f := newFixture(t)

	f.ctl.PointerDown(pointer(1, 300, 300, 0))
	f.ctl.PointerDown(pointer(2, 500, 300, 0))
	f.ctl.PointerMove(pointer(2, 600, 300, 20))
	f.ctl.PointerUp(pointer(2, 600, 300, 40))

	// the finger left on the glass does not pan
	before := f.cam.State()
	f.ctl.PointerMove(pointer(1, 380, 360, 60))
	assert.Equal(t, before, f.cam.State())
	f.ctl.PointerUp(pointer(1, 380, 360, 80))

	// a fresh press drags again
	f.ctl.PointerDown(pointer(3, 300, 300, 100))
	f.ctl.PointerMove(pointer(3, 350, 300, 116))
	assert.True(t, f.ctl.drag.Active())
}

func TestTwoFingerTapZoomsOut(t *testing.T) {
	f := newFixture(t)
	anchor := f.cam.ScreenToGeo(400, 300)

	f.ctl.PointerDown(pointer(1, 300, 300, 0))
	f.ctl.PointerDown(pointer(2, 500, 300, 10))
	f.ctl.PointerMove(pointer(2, 501, 300, 30))
	assert.False(t, f.ctl.pinch.Pinching())
	f.ctl.PointerUp(pointer(1, 300, 300, 80))
	f.ctl.PointerUp(pointer(2, 501, 300, 90))

	f.settle(t)
	assert.Equal(t, 12.0, f.cam.Zoom())
	assertGeo(t, anchor, f.cam.ScreenToGeo(400, 300))
}

func TestPinchIgnoresCoincidentTouches(t *testing.T) {
	f := newFixture(t)
	before := f.cam.State()

	f.ctl.PointerDown(pointer(1, 300, 300, 0))
	f.ctl.PointerDown(pointer(2, 300, 300, 0))
	assert.False(t, f.ctl.pinch.active)

	f.ctl.PointerMove(pointer(2, 400, 300, 20))
	f.ctl.PointerMove(pointer(1, math.NaN(), 300, 20))
	assert.Equal(t, before, f.cam.State())
}

func TestDoubleTapZoomsIn(t *testing.T) {
	f := newFixture(t)
	anchor := f.cam.ScreenToGeo(152, 121)

	f.ctl.PointerDown(pointer(1, 150, 120, 0))
	f.ctl.PointerUp(pointer(1, 150, 120, 50))
	f.ctl.PointerDown(pointer(1, 152, 121, 200))
	f.ctl.PointerUp(pointer(1, 152, 121, 250))

	f.settle(t)
	assert.Equal(t, 14.0, f.cam.Zoom())
	assertGeo(t, anchor, f.cam.ScreenToGeo(152, 121))
}

func TestShiftDoubleClickZoomsOut(t *testing.T) {
	f := newFixture(t)

	for _, ms := range []int{0, 150} {
		e := pointer(1, 400, 300, ms)
		e.Kind, e.Shift = Mouse, true
		f.ctl.PointerDown(e)
		f.ctl.PointerUp(e)
	}
	f.settle(t)
	assert.Equal(t, 12.0, f.cam.Zoom())
}

func TestSlowTapsAreNotDouble(t *testing.T) {
	f := newFixture(t)

	f.ctl.PointerDown(pointer(1, 150, 120, 0))
	f.ctl.PointerUp(pointer(1, 150, 120, 50))
	f.ctl.PointerDown(pointer(1, 150, 120, 900))
	f.ctl.PointerUp(pointer(1, 150, 120, 950))

	assert.False(t, f.anim.Active())
	assert.Equal(t, 13.0, f.cam.Zoom())
}

func TestKeyboard(t *testing.T) {
	f := newFixture(t)

	above := f.cam.ScreenToGeo(400, 300-80)
	f.ctl.Key(KeyEvent{Key: KeyPanUp})
	assertGeo(t, above, f.cam.Center())
	assert.Equal(t, 1, f.moveEnds)

	f.ctl.Key(KeyEvent{Key: KeyZoomIn})
	f.settle(t)
	assert.Equal(t, 14.0, f.cam.Zoom())

	f.ctl.Key(KeyEvent{Key: KeyRotateRight})
	f.settle(t)
	assert.InDelta(t, 15*math.Pi/180, f.cam.Bearing(), 1e-12)

	// panning is screen relative once rotated
	left := f.cam.ScreenToGeo(400-80, 300)
	f.ctl.Key(KeyEvent{Key: KeyPanLeft})
	assertGeo(t, left, f.cam.Center())

	f.ctl.Key(KeyEvent{Key: KeyResetNorth})
	f.settle(t)
	assert.InDelta(t, 0, f.cam.Bearing(), 1e-12)

	toggled := 0
	f.ctl.OnToggleBaseLayer(func() { toggled++ })
	f.ctl.Key(KeyEvent{Key: KeyToggleBaseLayer})
	assert.Equal(t, 1, toggled)
}

func TestRotateKeysKeepPendingZoom(t *testing.T) {
	f := newFixture(t)
	f.ctl.Key(KeyEvent{Key: KeyZoomIn})
	f.sched.Step()
	f.ctl.Key(KeyEvent{Key: KeyRotateLeft})
	f.settle(t)
	assert.Equal(t, 14.0, f.cam.Zoom())
	assert.InDelta(t, -15*math.Pi/180, f.cam.Bearing(), 1e-12)

	f.ctl.Key(KeyEvent{Key: KeyZoomOut})
	f.sched.Step()
	f.ctl.Key(KeyEvent{Key: KeyResetNorth})
	f.settle(t)
	assert.Equal(t, 13.0, f.cam.Zoom())
	assert.InDelta(t, 0, f.cam.Bearing(), 1e-12)
}

func TestDisabledHandlersIgnoreInput(t *testing.T) {
	f := newFixture(t)
	for _, h := range f.ctl.Handlers() {
		h.Disable()
	}
	before := f.cam.State()

	f.ctl.PointerDown(pointer(1, 300, 300, 0))
	f.ctl.PointerMove(pointer(1, 400, 300, 16))
	f.ctl.PointerUp(pointer(1, 400, 300, 32))
	f.ctl.Wheel(WheelEvent{X: 10, Y: 10, DeltaY: -1})
	f.ctl.Key(KeyEvent{Key: KeyZoomIn})
	f.settle(t)

	assert.Equal(t, before, f.cam.State())
}
