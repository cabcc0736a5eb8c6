package camera

import (
	"math"

	"slippymap/internal/geo"
)

// CenterWorld returns the center in world pixels at the current zoom,
// continuous across the antimeridian
func (c *Camera) CenterWorld() (x, y float64) {
	return geo.LatLngToWorld(c.UnwrappedCenter(), c.zoom)
}

// SetCenterWorld moves the center to a world pixel position at the current
// zoom
func (c *Camera) SetCenterWorld(x, y float64) bool {
	ll := geo.WorldToLatLng(x, y, c.zoom)
	return c.apply(ll.Lon, ll.Lat, c.zoom, c.bearing)
}

// Pan moves the map content by the given screen pixel delta: dragging the
// content right moves the center left. The delta is rotated into world
// orientation by the negative bearing.
func (c *Camera) Pan(deltaX, deltaY float64) bool {
	if !geo.Finite(deltaX) || !geo.Finite(deltaY) {
		return false
	}
	wx, wy := geo.Rotate(deltaX, deltaY, -c.bearing)
	cx, cy := c.CenterWorld()
	return c.SetCenterWorld(cx-wx, cy-wy)
}

// ScreenToWorld converts a screen point to world pixels at the current zoom
func (c *Camera) ScreenToWorld(screenX, screenY float64) (x, y float64) {
	ox, oy := geo.Rotate(screenX-c.width/2, screenY-c.height/2, -c.bearing)
	cx, cy := c.CenterWorld()
	return cx + ox, cy + oy
}

// WorldToScreen is the inverse of ScreenToWorld
func (c *Camera) WorldToScreen(x, y float64) (screenX, screenY float64) {
	cx, cy := c.CenterWorld()
	ox, oy := geo.Rotate(x-cx, y-cy, c.bearing)
	return ox + c.width/2, oy + c.height/2
}

// ScreenToGeo converts screen coordinates to geographic coordinates. The
// longitude is wrapped; the latitude is not clamped so points above or
// below the world stay distinguishable.
func (c *Camera) ScreenToGeo(screenX, screenY float64) geo.LatLng {
	ll := c.screenToGeoUnwrapped(screenX, screenY)
	ll.Lon = geo.WrapLon(ll.Lon)
	return ll
}

func (c *Camera) screenToGeoUnwrapped(screenX, screenY float64) geo.LatLng {
	x, y := c.ScreenToWorld(screenX, screenY)
	return geo.WorldToLatLng(x, y, c.zoom)
}

// GeoToScreen converts geographic coordinates to screen coordinates, using
// the world copy of the point nearest the center
func (c *Camera) GeoToScreen(ll geo.LatLng) (screenX, screenY float64) {
	ll.Lon = c.nearestLon(ll.Lon)
	x, y := geo.LatLngToWorld(ll, c.zoom)
	return c.WorldToScreen(x, y)
}

// ZoomRotateAbout sets zoom and bearing so that anchor stays under the
// screen point (screenX, screenY). anchor is expected to be captured once
// at the start of a gesture or animation and reused for every call.
func (c *Camera) ZoomRotateAbout(screenX, screenY, zoom, bearing float64, anchor geo.LatLng) bool {
	if !geo.Finite(screenX) || !geo.Finite(screenY) || !anchor.Valid() {
		return false
	}
	if !geo.Finite(zoom) || !geo.Finite(bearing) {
		return false
	}
	zoom = c.ClampZoom(zoom)
	bearing = geo.NormalizeBearing(bearing)

	// the copy of the anchor nearest the point currently under the screen
	// position keeps the center continuous
	under := c.screenToGeoUnwrapped(screenX, screenY)
	anchor.Lon = under.Lon + geo.LonDelta(under.Lon, anchor.Lon)

	ax, ay := geo.LatLngToWorld(anchor, zoom)
	ox, oy := geo.Rotate(screenX-c.width/2, screenY-c.height/2, -bearing)

	center := geo.WorldToLatLng(ax-ox, ay-oy, zoom)
	return c.apply(center.Lon, center.Lat, zoom, bearing)
}

// ZoomAtPoint zooms by delta levels keeping the geographic point under the
// screen position fixed
func (c *Camera) ZoomAtPoint(delta, screenX, screenY float64) bool {
	anchor := c.ScreenToGeo(screenX, screenY)
	return c.ZoomRotateAbout(screenX, screenY, c.zoom+delta, c.bearing, anchor)
}

// TileBounds returns the tile-space bounding box of the (rotated) viewport
// at an integer tile zoom
func (c *Camera) TileBounds(tileZoom int) (minX, minY, maxX, maxY float64) {
	scale := math.Exp2(float64(tileZoom)-c.zoom) / geo.TileSize

	minX, minY = math.Inf(1), math.Inf(1)
	maxX, maxY = math.Inf(-1), math.Inf(-1)
	corners := [4][2]float64{{0, 0}, {c.width, 0}, {c.width, c.height}, {0, c.height}}
	for _, p := range corners {
		x, y := c.ScreenToWorld(p[0], p[1])
		x, y = x*scale, y*scale
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return minX, minY, maxX, maxY
}
