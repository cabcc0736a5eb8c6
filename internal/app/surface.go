package app

import "github.com/go-gl/glfw/v3.3/glfw"

// windowSurface reports the window to the map: logical size in screen
// coordinates and the framebuffer pixel ratio, unless configured
type windowSurface struct {
	window *glfw.Window
	ratio  float64
}

func (s windowSurface) Size() (float64, float64) {
	w, h := s.window.GetSize()
	return float64(w), float64(h)
}

func (s windowSurface) PixelRatio() float64 {
	if s.ratio > 0 {
		return s.ratio
	}
	w, _ := s.window.GetSize()
	fw, _ := s.window.GetFramebufferSize()
	if w <= 0 || fw <= 0 {
		return 1
	}
	return float64(fw) / float64(w)
}
