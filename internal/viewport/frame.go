package viewport

import (
	"math"

	"golang.org/x/image/math/f64"

	"slippymap/internal/camera"
	"slippymap/internal/geo"
	"slippymap/internal/tilesource"
	"slippymap/pkg/tiles"
)

// Rect is an axis-aligned rectangle in pane pixels
type Rect struct {
	X, Y          float64
	Width, Height float64
}

// Center returns the midpoint of r
func (r Rect) Center() (x, y float64) {
	return r.X + r.Width/2, r.Y + r.Height/2
}

// DrawTile is one entry of a frame's draw list
type DrawTile struct {
	Layer  string
	Kind   LayerKind
	Coord  tiles.TileCoord // display coordinate, x may be a world copy
	Handle tilesource.Handle
	Dest   Rect
}

// Transform relates world, pane and screen pixels. Pane pixels are screen
// pixels before rotation: pane = world0*Scale + Translate, where world0 is
// a zoom 0 world pixel. Matrix rotates the pane by Rotate radians about the
// screen center.
type Transform struct {
	Translate [2]float64
	Rotate    float64
	Scale     float64
	Matrix    f64.Aff3
}

func newTransform(s camera.State, cx, cy float64) Transform {
	ox, oy := s.Width/2, s.Height/2
	sin, cos := math.Sincos(s.Bearing)
	return Transform{
		Translate: [2]float64{ox - cx, oy - cy},
		Rotate:    s.Bearing,
		Scale:     math.Exp2(s.Zoom),
		Matrix: f64.Aff3{
			cos, -sin, ox - cos*ox + sin*oy,
			sin, cos, oy - sin*ox - cos*oy,
		},
	}
}

// Apply maps a pane point to the screen
func (t Transform) Apply(x, y float64) (float64, float64) {
	m := t.Matrix
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

// GeoToPane projects a position into pane pixels. The longitude is used
// as given, so callers pick the world copy.
func (t Transform) GeoToPane(ll geo.LatLng) (float64, float64) {
	x, y := geo.LatLngToWorld(ll, 0)
	return x*t.Scale + t.Translate[0], y*t.Scale + t.Translate[1]
}

// Frame is everything the render surface needs for one frame: a consistent
// snapshot of the view and the tiles to draw, base layer first
type Frame struct {
	State     camera.State
	Transform Transform
	Tiles     []DrawTile
}
