//go:build !darwin

package app

import (
	"fmt"
	"runtime"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/rajveermalviya/go-webgpu/wgpu"
)

// CreateSurface is only implemented for the Metal backend
func CreateSurface(instance *wgpu.Instance, window *glfw.Window) (*wgpu.Surface, error) {
	return nil, fmt.Errorf("no WebGPU surface support on %s", runtime.GOOS)
}
