package tiles

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
)

// MaxZoom is the deepest zoom level a TileCoord may address
const MaxZoom = 30

// ErrNotFound is returned by tile stores that hold no data for a tile
var ErrNotFound = errors.New("tile not found")

// TileCoord represents a tile coordinate in the slippy map format.
// X may lie outside [0, 2^Zoom) for world copies east or west of the
// primary world; Wrap returns the coordinate a provider actually serves.
type TileCoord struct {
	X    int
	Y    int
	Zoom int
}

func (t TileCoord) String() string {
	return fmt.Sprintf("%d/%d/%d", t.Zoom, t.X, t.Y)
}

// ParseKey parses a "z/x/y" key back into a TileCoord
func ParseKey(key string) (TileCoord, error) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 {
		return TileCoord{}, fmt.Errorf("invalid tile key %q", key)
	}

	var vals [3]int
	for i, p := range parts {
		v, err := strconv.Atoi(p)
		if err != nil {
			return TileCoord{}, fmt.Errorf("invalid tile key %q: %w", key, err)
		}
		vals[i] = v
	}
	return TileCoord{Zoom: vals[0], X: vals[1], Y: vals[2]}, nil
}

// Count returns the number of tiles along one axis at the given zoom
func Count(zoom int) int {
	return 1 << uint(zoom)
}

// Wrap folds X into [0, 2^Zoom)
func (t TileCoord) Wrap() TileCoord {
	n := Count(t.Zoom)
	t.X = ((t.X % n) + n) % n
	return t
}

// Valid reports whether the (wrapped) coordinate exists at its zoom
func (t TileCoord) Valid() bool {
	if t.Zoom < 0 || t.Zoom > MaxZoom {
		return false
	}
	return t.Y >= 0 && t.Y < Count(t.Zoom)
}

// Maptile converts the wrapped coordinate to an orb maptile
func (t TileCoord) Maptile() maptile.Tile {
	w := t.Wrap()
	return maptile.New(uint32(w.X), uint32(w.Y), maptile.Zoom(w.Zoom))
}

// FromMaptile converts an orb maptile into a TileCoord
func FromMaptile(t maptile.Tile) TileCoord {
	return TileCoord{X: int(t.X), Y: int(t.Y), Zoom: int(t.Z)}
}

// Bound returns the geographic bounds of the wrapped tile
func (t TileCoord) Bound() orb.Bound {
	return t.Maptile().Bound()
}

// FlipY returns the TMS row for this tile (MBTiles stores rows bottom-up)
func (t TileCoord) FlipY() int {
	return Count(t.Zoom) - 1 - t.Y
}

// LatLonToTile converts latitude/longitude to the tile containing it
func LatLonToTile(lat, lon float64, zoom int) TileCoord {
	return FromMaptile(maptile.At(orb.Point{lon, lat}, maptile.Zoom(zoom)))
}

// Cover returns every tile intersecting the tile-space rectangle
// [minX, maxX) x [minY, maxY) at zoom. X is not clamped so the result can
// span world copies; Y is clamped to the valid rows.
func Cover(minX, minY, maxX, maxY float64, zoom int) []TileCoord {
	if math.IsNaN(minX) || math.IsNaN(minY) || math.IsNaN(maxX) || math.IsNaN(maxY) {
		return nil
	}

	maxTile := Count(zoom) - 1
	x0 := int(math.Floor(minX))
	x1 := int(math.Ceil(maxX)) - 1
	y0 := int(math.Floor(minY))
	y1 := int(math.Ceil(maxY)) - 1

	if y0 < 0 {
		y0 = 0
	}
	if y1 > maxTile {
		y1 = maxTile
	}
	if x1 < x0 || y1 < y0 {
		return nil
	}

	tiles := make([]TileCoord, 0, (x1-x0+1)*(y1-y0+1))
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			tiles = append(tiles, TileCoord{X: x, Y: y, Zoom: zoom})
		}
	}
	return tiles
}
