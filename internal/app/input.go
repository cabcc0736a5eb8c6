package app

import (
	"github.com/go-gl/glfw/v3.3/glfw"

	"slippymap/internal/gesture"
)

// wheelScale turns glfw scroll offsets into wheel deltas; only the sign
// matters to the wheel handler
const wheelScale = 100

// cityRadiusStep is the change of the city mask radius per key press
const cityRadiusStep = 10

var keyBindings = map[glfw.Key]gesture.Key{
	glfw.KeyW:          gesture.KeyPanUp,
	glfw.KeyUp:         gesture.KeyPanUp,
	glfw.KeyS:          gesture.KeyPanDown,
	glfw.KeyDown:       gesture.KeyPanDown,
	glfw.KeyA:          gesture.KeyPanLeft,
	glfw.KeyLeft:       gesture.KeyPanLeft,
	glfw.KeyD:          gesture.KeyPanRight,
	glfw.KeyRight:      gesture.KeyPanRight,
	glfw.KeyEqual:      gesture.KeyZoomIn,
	glfw.KeyKPAdd:      gesture.KeyZoomIn,
	glfw.KeyLeftShift:  gesture.KeyZoomIn,
	glfw.KeyRightShift: gesture.KeyZoomIn,
	glfw.KeyMinus:      gesture.KeyZoomOut,
	glfw.KeyKPSubtract: gesture.KeyZoomOut,
	glfw.KeySpace:      gesture.KeyZoomOut,
	glfw.KeyQ:          gesture.KeyRotateLeft,
	glfw.KeyE:          gesture.KeyRotateRight,
	glfw.KeyN:          gesture.KeyResetNorth,
	glfw.KeyB:          gesture.KeyToggleBaseLayer,
}

func (app *App) setupCallbacks() {
	gestures := app.m.Gestures()

	app.window.SetSizeCallback(func(w *glfw.Window, width, height int) {
		if err := app.m.Resize(float64(width), float64(height)); err != nil {
			// minimized windows report 0x0
			app.log.WithError(err).Debug("resize ignored")
		}
	})

	app.window.SetFramebufferSizeCallback(func(w *glfw.Window, width, height int) {
		app.renderer.Resize(uint32(width), uint32(height))
		app.m.Invalidate()
	})

	app.window.SetMouseButtonCallback(func(w *glfw.Window, button glfw.MouseButton, action glfw.Action, mods glfw.ModifierKey) {
		if button != glfw.MouseButtonLeft {
			return
		}
		x, y := w.GetCursorPos()
		e := gesture.PointerEvent{
			Kind:  gesture.Mouse,
			X:     x,
			Y:     y,
			Time:  app.loop.Now(),
			Shift: mods&glfw.ModShift != 0,
		}
		switch action {
		case glfw.Press:
			app.pressed = true
			gestures.PointerDown(e)
		case glfw.Release:
			app.pressed = false
			gestures.PointerUp(e)
		}
	})

	app.window.SetCursorPosCallback(func(w *glfw.Window, x, y float64) {
		if !app.pressed {
			return
		}
		gestures.PointerMove(gesture.PointerEvent{Kind: gesture.Mouse, X: x, Y: y, Time: app.loop.Now()})
	})

	app.window.SetCursorEnterCallback(func(w *glfw.Window, entered bool) {
		if entered || !app.pressed {
			return
		}
		x, y := w.GetCursorPos()
		app.pressed = false
		gestures.PointerCancel(gesture.PointerEvent{Kind: gesture.Mouse, X: x, Y: y, Time: app.loop.Now()})
	})

	app.window.SetScrollCallback(func(w *glfw.Window, xoff, yoff float64) {
		x, y := w.GetCursorPos()
		gestures.Wheel(gesture.WheelEvent{X: x, Y: y, DeltaY: -yoff * wheelScale, Time: app.loop.Now()})
	})

	app.window.SetKeyCallback(func(w *glfw.Window, key glfw.Key, scancode int, action glfw.Action, mods glfw.ModifierKey) {
		if action == glfw.Release {
			return
		}
		switch key {
		case glfw.KeyEscape:
			w.SetShouldClose(true)
			return
		case glfw.KeyLeftBracket:
			app.renderer.SetCityRadius(app.renderer.CityRadius() - cityRadiusStep)
			app.m.Invalidate()
			return
		case glfw.KeyRightBracket:
			app.renderer.SetCityRadius(app.renderer.CityRadius() + cityRadiusStep)
			app.m.Invalidate()
			return
		}
		if k, ok := keyBindings[key]; ok {
			gestures.Key(gesture.KeyEvent{Key: k})
		}
	})
}
