// Package app is the desktop host: a glfw window with a WebGPU surface
// driving one viewport.Map.
package app

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/go-gl/glfw/v3.3/glfw"
	"github.com/rajveermalviya/go-webgpu/wgpu"
	log "github.com/sirupsen/logrus"

	"slippymap/internal/config"
	"slippymap/internal/event"
	"slippymap/internal/geo"
	"slippymap/internal/gesture"
	"slippymap/internal/layers"
	"slippymap/internal/logging"
	"slippymap/internal/renderer"
	"slippymap/internal/scheduler"
	"slippymap/internal/tileserver"
	"slippymap/internal/viewport"
)

// idleWait bounds how long the loop sleeps in glfw while nothing moves, so
// tile completions posted from loader goroutines are picked up
const idleWait = 50 * time.Millisecond

type App struct {
	cfg *config.Config
	log *log.Entry

	window   *glfw.Window
	instance *wgpu.Instance
	surface  *wgpu.Surface
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue

	renderer *renderer.Renderer
	loop     *scheduler.Loop
	fetcher  *tileserver.Fetcher
	layers   *layers.Set
	m        *viewport.Map

	pressed bool
}

// New opens the window, sets up WebGPU and creates the map with the
// configured layers
func New(cfg *config.Config, logger *log.Logger) (*App, error) {
	runtime.LockOSThread()

	if err := glfw.Init(); err != nil {
		return nil, fmt.Errorf("GLFW init failed: %w", err)
	}

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	glfw.WindowHint(glfw.Resizable, glfw.True)
	glfw.WindowHint(glfw.CocoaRetinaFramebuffer, glfw.True)

	window, err := glfw.CreateWindow(cfg.Window.Width, cfg.Window.Height, cfg.Window.Title, nil, nil)
	if err != nil {
		glfw.Terminate()
		return nil, fmt.Errorf("window creation failed: %w", err)
	}

	app := &App{
		cfg:    cfg,
		log:    logging.Component(logger, "app"),
		window: window,
		loop:   scheduler.NewLoop(),
	}

	if err := app.initWebGPU(); err != nil {
		app.Cleanup()
		return nil, err
	}
	if err := app.initMap(logger); err != nil {
		app.Cleanup()
		return nil, err
	}

	fw, fh := window.GetFramebufferSize()
	app.renderer, err = renderer.New(app.adapter, app.device, app.queue, app.surface, renderer.Options{
		Width:  uint32(fw),
		Height: uint32(fh),
		Render: cfg.Render,
		Log:    logging.Component(logger, "renderer"),
	})
	if err != nil {
		app.Cleanup()
		return nil, fmt.Errorf("renderer creation failed: %w", err)
	}

	app.setupCallbacks()
	return app, nil
}

func (app *App) initWebGPU() error {
	app.instance = wgpu.CreateInstance(&wgpu.InstanceDescriptor{
		Backends: wgpu.InstanceBackend_Metal,
	})
	if app.instance == nil {
		return fmt.Errorf("failed to create WebGPU instance")
	}

	surface, err := CreateSurface(app.instance, app.window)
	if err != nil {
		return fmt.Errorf("surface creation failed: %w", err)
	}
	app.surface = surface

	app.adapter, err = app.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
		CompatibleSurface: app.surface,
		PowerPreference:   wgpu.PowerPreference_HighPerformance,
	})
	if err != nil {
		app.log.WithError(err).Warn("no adapter for the surface, trying without")
		app.adapter, err = app.instance.RequestAdapter(&wgpu.RequestAdapterOptions{
			PowerPreference: wgpu.PowerPreference_HighPerformance,
		})
		if err != nil {
			return fmt.Errorf("adapter request failed: %w", err)
		}
	}

	props := app.adapter.GetProperties()
	app.log.Infof("GPU: %s (%s)", props.Name, props.DriverDescription)

	app.device, err = app.adapter.RequestDevice(&wgpu.DeviceDescriptor{
		Label: "MapViewerDevice",
	})
	if err != nil {
		return fmt.Errorf("device request failed: %w", err)
	}

	app.queue = app.device.GetQueue()
	return nil
}

func (app *App) initMap(logger *log.Logger) error {
	cfg := app.cfg
	fetcher, err := tileserver.NewFetcher(tileserver.FetcherOptions{
		Dir:         cfg.Cache.Dir,
		MemoryBytes: cfg.Cache.MemoryBytes,
		TTL:         cfg.Cache.TTL,
		UserAgent:   cfg.Cache.UserAgent,
		Log:         logging.Component(logger, "fetcher"),
	})
	if err != nil {
		return fmt.Errorf("tile fetcher creation failed: %w", err)
	}
	app.fetcher = fetcher

	app.layers, err = layers.Build(context.Background(), cfg, fetcher, logging.Component(logger, "layers"))
	if err != nil {
		return err
	}

	v := cfg.View
	app.m, err = viewport.New(viewport.Options{
		Surface:  windowSurface{window: app.window, ratio: cfg.Window.PixelRatio},
		Center:   geo.LatLng{Lat: v.Lat, Lon: v.Lon},
		Zoom:     v.Zoom,
		Bearing:  v.Bearing * math.Pi / 180,
		MinZoom:  v.MinZoom,
		MaxZoom:  v.MaxZoom,
		Gestures: gesture.OptionsFromConfig(cfg.Interaction),
		Log:      logging.Component(logger, "map"),
	}, app.loop)
	if err != nil {
		return fmt.Errorf("map creation failed: %w", err)
	}

	for _, l := range app.layers.Layers {
		if err := app.m.AddLayer(l); err != nil {
			return err
		}
	}
	app.m.Events().TileError.On(func(e event.Tile) {
		app.log.WithField("layer", e.Layer).WithError(e.Cause).Debugf("tile %s failed", e.Key)
	})
	return nil
}

// Run drives the scheduler and renders whenever the map changed, until
// the window is closed
func (app *App) Run() error {
	lastTitle := time.Now()
	frames := 0

	for !app.window.ShouldClose() {
		if app.m.NeedsRedraw() || app.loop.Pending() {
			glfw.PollEvents()
		} else {
			glfw.WaitEventsTimeout(idleWait.Seconds())
		}
		app.loop.RunFrame()

		if app.m.NeedsRedraw() {
			if err := app.renderer.Draw(app.m.Frame()); err != nil {
				app.log.WithError(err).Warn("render failed")
			}
			frames++
		}

		if time.Since(lastTitle) >= time.Second {
			s := app.m.State()
			app.window.SetTitle(fmt.Sprintf("%s | Zoom: %.1f | FPS: %d", app.cfg.Window.Title, s.Zoom, frames))
			frames = 0
			lastTitle = time.Now()
		}
	}
	return nil
}

// Cleanup releases everything New acquired. It tolerates a partially
// constructed App.
func (app *App) Cleanup() {
	if app.m != nil {
		app.m.Destroy()
	}
	if app.layers != nil {
		if err := app.layers.Close(); err != nil {
			app.log.WithError(err).Warn("closing layers")
		}
	}
	if app.fetcher != nil {
		app.fetcher.Close()
	}
	if app.renderer != nil {
		app.renderer.Release()
	}
	if app.queue != nil {
		app.queue.Release()
	}
	if app.device != nil {
		app.device.Release()
	}
	if app.adapter != nil {
		app.adapter.Release()
	}
	if app.surface != nil {
		app.surface.Release()
	}
	if app.instance != nil {
		app.instance.Release()
	}
	if app.window != nil {
		app.window.Destroy()
	}
	glfw.Terminate()
}
