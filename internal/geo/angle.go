package geo

import "math"

// Finite reports whether v is neither NaN nor infinite
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ClampLat clamps a latitude to the Mercator limit
func ClampLat(lat float64) float64 {
	return math.Max(-MaxLatitude, math.Min(MaxLatitude, lat))
}

// WrapLon wraps a longitude into (-180, 180]
func WrapLon(lon float64) float64 {
	return wrap(lon, 180)
}

// NormalizeBearing wraps an angle in radians into (-π, π]
func NormalizeBearing(b float64) float64 {
	return wrap(b, math.Pi)
}

// AngleDelta returns the shortest signed rotation from a to b, in (-π, π]
func AngleDelta(from, to float64) float64 {
	return NormalizeBearing(to - from)
}

// LonDelta returns the shortest signed east-west distance from a to b in
// degrees, in (-180, 180]
func LonDelta(from, to float64) float64 {
	return WrapLon(to - from)
}

// Rotate rotates (x, y) by angle radians
func Rotate(x, y, angle float64) (float64, float64) {
	sin, cos := math.Sincos(angle)
	return x*cos - y*sin, x*sin + y*cos
}

// wrap folds v into (-half, half]
func wrap(v, half float64) float64 {
	if v > -half && v <= half {
		return v
	}
	period := 2 * half
	w := math.Mod(v+half, period)
	if w <= 0 {
		w += period
	}
	return w - half
}
