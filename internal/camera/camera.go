package camera

import (
	"math"

	"slippymap/internal/event"
	"slippymap/internal/geo"
)

const (
	DefaultMinZoom = 0
	DefaultMaxZoom = 19
)

// State is a snapshot of the viewport
type State struct {
	Center  geo.LatLng
	Zoom    float64
	Bearing float64 // radians, 0 = north up

	Width  float64
	Height float64
}

// View returns the event payload for this state
func (s State) View() event.View {
	return event.View{Lat: s.Center.Lat, Lon: s.Center.Lon, Zoom: s.Zoom, Bearing: s.Bearing}
}

// Camera represents the map camera/viewport: the (center, zoom, bearing)
// triple plus the viewport dimensions. Every write goes through a setter
// that clamps latitude and zoom, wraps longitude and bearing, and rejects
// non-finite input.
type Camera struct {
	center  geo.LatLng
	zoom    float64
	bearing float64

	// wraps counts the whole worlds between the continuous longitude and
	// center.Lon, so world coordinates stay continuous across the
	// antimeridian
	wraps int

	width  float64
	height float64

	minZoom float64
	maxZoom float64

	bus *event.Bus
}

// NewCamera creates a new camera centered on given coordinates. bus may be
// nil.
func NewCamera(center geo.LatLng, zoom float64, width, height float64, bus *event.Bus) *Camera {
	if bus == nil {
		bus = &event.Bus{}
	}
	c := &Camera{
		width:   width,
		height:  height,
		minZoom: DefaultMinZoom,
		maxZoom: DefaultMaxZoom,
		bus:     bus,
	}
	c.center = center.Normalize()
	c.zoom = c.ClampZoom(zoom)
	return c
}

// State returns a consistent snapshot
func (c *Camera) State() State {
	return State{
		Center:  c.center,
		Zoom:    c.zoom,
		Bearing: c.bearing,
		Width:   c.width,
		Height:  c.height,
	}
}

func (c *Camera) Center() geo.LatLng { return c.center }
func (c *Camera) Zoom() float64      { return c.zoom }
func (c *Camera) Bearing() float64   { return c.bearing }

// Size returns the viewport dimensions in pixels
func (c *Camera) Size() (width, height float64) {
	return c.width, c.height
}

// ZoomRange returns the allowed zoom interval
func (c *Camera) ZoomRange() (min, max float64) {
	return c.minZoom, c.maxZoom
}

// SetZoomRange updates the allowed zoom interval and re-clamps the zoom
func (c *Camera) SetZoomRange(min, max float64) {
	if !geo.Finite(min) || !geo.Finite(max) || min > max {
		return
	}
	c.minZoom, c.maxZoom = min, max
	c.apply(c.unwrappedLon(), c.center.Lat, c.zoom, c.bearing)
}

// ClampZoom clamps z to the zoom range
func (c *Camera) ClampZoom(z float64) float64 {
	return math.Max(c.minZoom, math.Min(c.maxZoom, z))
}

// SetViewport updates the viewport dimensions
func (c *Camera) SetViewport(width, height float64) {
	if !geo.Finite(width) || !geo.Finite(height) || width < 0 || height < 0 {
		return
	}
	if width == c.width && height == c.height {
		return
	}
	c.width, c.height = width, height
	c.bus.Resize.Emit(event.Size{Width: width, Height: height})
}

// SetView sets center and zoom. The center is placed on the world copy
// nearest the current one.
func (c *Camera) SetView(center geo.LatLng, zoom float64) bool {
	if !center.Valid() {
		return false
	}
	return c.apply(c.nearestLon(center.Lon), center.Lat, zoom, c.bearing)
}

// SetCenter moves the center, keeping zoom and bearing
func (c *Camera) SetCenter(center geo.LatLng) bool {
	return c.SetView(center, c.zoom)
}

// SetZoom changes the zoom around the center
func (c *Camera) SetZoom(zoom float64) bool {
	return c.apply(c.unwrappedLon(), c.center.Lat, zoom, c.bearing)
}

// SetBearing rotates the map around the center
func (c *Camera) SetBearing(bearing float64) bool {
	return c.apply(c.unwrappedLon(), c.center.Lat, c.zoom, bearing)
}

// SetState applies center, zoom and bearing in one update. lon may be
// unwrapped; it is interpreted as a continuous longitude.
func (c *Camera) SetState(lat, lon, zoom, bearing float64) bool {
	return c.apply(lon, lat, zoom, bearing)
}

// UnwrappedCenter returns the center with a continuous longitude
func (c *Camera) UnwrappedCenter() geo.LatLng {
	return geo.LatLng{Lat: c.center.Lat, Lon: c.unwrappedLon()}
}

func (c *Camera) unwrappedLon() float64 {
	return c.center.Lon + 360*float64(c.wraps)
}

// nearestLon returns the continuous longitude of the world copy of lon
// closest to the current center
func (c *Camera) nearestLon(lon float64) float64 {
	cur := c.unwrappedLon()
	return cur + geo.LonDelta(cur, lon)
}

// apply normalizes and stores a new state, emitting move, zoom and rotate
// for the components that changed
func (c *Camera) apply(lonU, lat, zoom, bearing float64) bool {
	if !geo.Finite(lonU) || !geo.Finite(lat) || !geo.Finite(zoom) || !geo.Finite(bearing) {
		return false
	}

	wrapped := geo.WrapLon(lonU)
	next := geo.LatLng{Lat: geo.ClampLat(lat), Lon: wrapped}
	zoom = c.ClampZoom(zoom)
	bearing = geo.NormalizeBearing(bearing)

	moved := next != c.center
	zoomed := zoom != c.zoom
	rotated := bearing != c.bearing

	c.center = next
	c.wraps = int(math.Round((lonU - wrapped) / 360))
	c.zoom = zoom
	c.bearing = bearing

	view := c.State().View()
	if moved {
		c.bus.Move.Emit(view)
	}
	if zoomed {
		c.bus.Zoom.Emit(view)
	}
	if rotated {
		c.bus.Rotate.Emit(view)
	}
	return moved || zoomed || rotated
}
