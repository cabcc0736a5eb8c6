// Package geo implements the spherical Web Mercator (EPSG:3857) projection
// and the tile-space conversions built on it.
package geo

import (
	"math"

	"github.com/paulmach/orb"
)

const (
	// EarthRadius is the WGS84 semi-major axis used by Web Mercator, in meters
	EarthRadius = 6378137.0

	// MaxLatitude is the latitude at which the Mercator square ends
	MaxLatitude = 85.0511287798

	// TileSize is the edge of one tile in screen pixels
	TileSize = 256.0

	worldMeters = 2 * math.Pi * EarthRadius
)

// LatLng is a geographic position in degrees
type LatLng struct {
	Lat float64
	Lon float64
}

// Point returns the position as an orb point (lon, lat)
func (ll LatLng) Point() orb.Point {
	return orb.Point{ll.Lon, ll.Lat}
}

// FromPoint converts an orb point (lon, lat) into a LatLng
func FromPoint(p orb.Point) LatLng {
	return LatLng{Lat: p.Lat(), Lon: p.Lon()}
}

// Valid reports whether both components are finite and the latitude is
// within [-90, 90]
func (ll LatLng) Valid() bool {
	if !Finite(ll.Lat) || !Finite(ll.Lon) {
		return false
	}
	return ll.Lat >= -90 && ll.Lat <= 90
}

// Normalize clamps the latitude to the Mercator limit and wraps the longitude
func (ll LatLng) Normalize() LatLng {
	return LatLng{Lat: ClampLat(ll.Lat), Lon: WrapLon(ll.Lon)}
}

// Project converts a position to spherical Mercator meters. The latitude is
// clamped first so the poles never produce infinities.
func Project(ll LatLng) (x, y float64) {
	lat := ClampLat(ll.Lat) * math.Pi / 180
	sin := math.Sin(lat)

	x = EarthRadius * ll.Lon * math.Pi / 180
	y = EarthRadius * math.Log((1+sin)/(1-sin)) / 2
	return x, y
}

// Unproject is the inverse of Project
func Unproject(x, y float64) LatLng {
	return LatLng{
		Lat: (2*math.Atan(math.Exp(y/EarthRadius)) - math.Pi/2) * 180 / math.Pi,
		Lon: x / EarthRadius * 180 / math.Pi,
	}
}

// LatLngToTile converts a position to tile-space at a possibly fractional
// zoom: one unit is one tile edge, the origin is the north-west corner of
// the world. Longitude is not wrapped, so positions east of 180 continue
// past the right edge of the world.
func LatLngToTile(ll LatLng, zoom float64) (tx, ty float64) {
	x, y := Project(ll)
	scale := math.Exp2(zoom)

	tx = (x/worldMeters + 0.5) * scale
	ty = (0.5 - y/worldMeters) * scale
	return tx, ty
}

// TileToLatLng is the inverse of LatLngToTile. The longitude is returned
// unwrapped.
func TileToLatLng(tx, ty, zoom float64) LatLng {
	scale := math.Exp2(zoom)

	x := (tx/scale - 0.5) * worldMeters
	y := (0.5 - ty/scale) * worldMeters
	return Unproject(x, y)
}

// LatLngToWorld converts a position to world pixels at zoom
func LatLngToWorld(ll LatLng, zoom float64) (px, py float64) {
	tx, ty := LatLngToTile(ll, zoom)
	return tx * TileSize, ty * TileSize
}

// WorldToLatLng is the inverse of LatLngToWorld
func WorldToLatLng(px, py, zoom float64) LatLng {
	return TileToLatLng(px/TileSize, py/TileSize, zoom)
}

// WorldSize returns the width of the world in pixels at zoom
func WorldSize(zoom float64) float64 {
	return TileSize * math.Exp2(zoom)
}
