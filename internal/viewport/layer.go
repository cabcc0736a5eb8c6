package viewport

import (
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"

	"slippymap/internal/camera"
	"slippymap/internal/event"
	"slippymap/internal/geo"
	"slippymap/internal/scheduler"
	"slippymap/internal/tilesource"
	"slippymap/pkg/tiles"
)

// LayerKind tags the closed set of layer variants
type LayerKind int

const (
	Raster LayerKind = iota
	Vector
)

func (k LayerKind) String() string {
	switch k {
	case Raster:
		return "raster"
	case Vector:
		return "vector"
	}
	return fmt.Sprintf("LayerKind(%d)", int(k))
}

// LayerContext is what a layer gets from the map it is added to. MapID is
// a non-owning reference; layers never hold the map itself.
type LayerContext struct {
	MapID      string
	Sched      scheduler.Scheduler
	Bus        *event.Bus
	PixelRatio float64
	Log        *log.Entry
}

// Layer is a drawable layer owned by a Map. OnAdd is called when the layer
// becomes active and OnRemove when it is deactivated or removed; Render
// returns the tiles to draw for the current camera.
type Layer interface {
	ID() string
	Kind() LayerKind
	Overlay() bool
	OnAdd(ctx LayerContext) error
	OnRemove()
	Render(cam *camera.Camera) []DrawTile
}

// ZoomRanger is implemented by layers that limit the map zoom while they
// are the active base layer
type ZoomRanger interface {
	ZoomRange() (min, max float64)
}

// TileLayerOptions configures a TileLayer
type TileLayerOptions struct {
	ID      string
	Kind    LayerKind
	Overlay bool
	Loader  tilesource.Loader

	// Source carries template, zoom range and cache settings. Layer, Bus,
	// PixelRatio and Log are filled in when the layer is added.
	Source tilesource.Options
}

// TileLayer draws tiles from a tilesource.Source. Raster handles are
// images, vector handles decoded vector tiles.
type TileLayer struct {
	opts   TileLayerOptions
	source *tilesource.Source
	mapID  string
}

func NewTileLayer(opts TileLayerOptions) *TileLayer {
	return &TileLayer{opts: opts}
}

func (l *TileLayer) ID() string      { return l.opts.ID }
func (l *TileLayer) Kind() LayerKind { return l.opts.Kind }
func (l *TileLayer) Overlay() bool   { return l.opts.Overlay }

// ZoomRange returns the zoom levels the layer has tiles for
func (l *TileLayer) ZoomRange() (min, max float64) {
	hi := l.opts.Source.MaxZoom
	if hi == 0 {
		hi = tilesource.DefaultMaxZoom
	}
	return float64(l.opts.Source.MinZoom), float64(hi)
}

// MapID returns the id of the map the layer is active on, if any
func (l *TileLayer) MapID() string {
	return l.mapID
}

// Source returns the tile source while the layer is active
func (l *TileLayer) Source() *tilesource.Source {
	return l.source
}

// OnAdd creates the layer's tile source
func (l *TileLayer) OnAdd(ctx LayerContext) error {
	if l.source != nil {
		return fmt.Errorf("layer %q is already active on map %s", l.opts.ID, l.mapID)
	}
	if l.opts.Loader == nil {
		return fmt.Errorf("layer %q has no loader", l.opts.ID)
	}

	so := l.opts.Source
	so.Layer = l.opts.ID
	so.Bus = ctx.Bus
	so.PixelRatio = ctx.PixelRatio
	so.Log = ctx.Log

	l.source = tilesource.New(l.opts.Loader, ctx.Sched, so)
	l.mapID = ctx.MapID
	return nil
}

// OnRemove destroys the tile source
func (l *TileLayer) OnRemove() {
	if l.source != nil {
		l.source.Destroy()
		l.source = nil
	}
	l.mapID = ""
}

// Render updates the visible set and lays the tiles out in pane pixels.
// Tiles still loading are included with a nil handle.
func (l *TileLayer) Render(cam *camera.Camera) []DrawTile {
	if l.source == nil {
		return nil
	}
	placements := l.source.Update(cam)
	tz := l.source.TileZoom()

	size := geo.TileSize * math.Exp2(cam.Zoom()-float64(tz))
	cx, cy := cam.CenterWorld()
	w, h := cam.Size()

	out := make([]DrawTile, 0, len(placements))
	for _, p := range placements {
		var handle tilesource.Handle
		if p.Record.Loaded {
			handle = p.Record.Handle
		}
		out = append(out, DrawTile{
			Layer:  l.opts.ID,
			Kind:   l.opts.Kind,
			Coord:  p.Coord,
			Handle: handle,
			Dest:   tileDest(p.Coord, size, cx, cy, w, h),
		})
	}
	return out
}

// tileDest places a display tile in pane pixels
func tileDest(c tiles.TileCoord, size, cx, cy, w, h float64) Rect {
	return Rect{
		X:      float64(c.X)*size - cx + w/2,
		Y:      float64(c.Y)*size - cy + h/2,
		Width:  size,
		Height: size,
	}
}
