package animation

import "math"

// Easing maps linear progress in [0, 1] to eased progress
type Easing func(t float64) float64

func Linear(t float64) float64 {
	return clamp01(t)
}

// EaseOutCubic decelerates towards the end
func EaseOutCubic(t float64) float64 {
	t = clamp01(t)
	return 1 - math.Pow(1-t, 3)
}

// EaseInOutCubic accelerates then decelerates
func EaseInOutCubic(t float64) float64 {
	t = clamp01(t)
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

func EaseOutQuad(t float64) float64 {
	t = clamp01(t)
	return 1 - (1-t)*(1-t)
}

func clamp01(t float64) float64 {
	if t < 0 || math.IsNaN(t) {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// EasingByName resolves the easing names accepted in configuration
func EasingByName(name string) (Easing, bool) {
	switch name {
	case "linear":
		return Linear, true
	case "ease-out", "ease-out-cubic", "":
		return EaseOutCubic, true
	case "ease-in-out", "ease-in-out-cubic":
		return EaseInOutCubic, true
	case "ease-out-quad":
		return EaseOutQuad, true
	}
	return nil, false
}
