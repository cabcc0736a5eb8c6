package gesture

import "slippymap/internal/animation"

// Keyboard pans by a fixed screen step, zooms and rotates around the
// screen center, and toggles the base layer
type Keyboard struct {
	toggle
	c *Controller
}

func (k *Keyboard) Kind() Kind { return KindKeyboard }

func (k *Keyboard) key(e KeyEvent) {
	if !k.Enabled() {
		return
	}
	c := k.c
	cam := c.camera
	step := c.opts.KeyPanStep

	switch e.Key {
	case KeyPanUp:
		k.pan(0, step)
	case KeyPanDown:
		k.pan(0, -step)
	case KeyPanLeft:
		k.pan(step, 0)
	case KeyPanRight:
		k.pan(-step, 0)
	case KeyZoomIn:
		k.zoomRotate(k.targetZoom()+1, cam.Bearing())
	case KeyZoomOut:
		k.zoomRotate(k.targetZoom()-1, cam.Bearing())
	case KeyRotateLeft:
		k.zoomRotate(k.targetZoom(), cam.Bearing()-c.opts.RotateStep)
	case KeyRotateRight:
		k.zoomRotate(k.targetZoom(), cam.Bearing()+c.opts.RotateStep)
	case KeyResetNorth:
		k.zoomRotate(k.targetZoom(), 0)
	case KeyToggleBaseLayer:
		if c.toggleBase != nil {
			c.toggleBase()
		}
	}
}

// pan moves the content by (dx, dy) screen pixels, so panning "up" shows
// what lies above the screen center whatever the bearing
func (k *Keyboard) pan(dx, dy float64) {
	if k.c.Busy() {
		return
	}
	k.c.anim.Stop()
	if k.c.camera.Pan(dx, dy) {
		k.c.bus.MoveEnd.Emit(k.c.camera.State().View())
	}
}

func (k *Keyboard) targetZoom() float64 {
	if z, ok := k.c.anim.ZoomTarget(); ok {
		return z
	}
	return k.c.camera.Zoom()
}

func (k *Keyboard) zoomRotate(zoom, bearing float64) {
	if k.c.Busy() {
		return
	}
	w, h := k.c.camera.Size()
	k.c.anim.ZoomRotate(w/2, h/2, k.c.camera.ClampZoom(zoom), bearing, k.c.opts.ZoomDuration, animation.EaseOutCubic)
}
