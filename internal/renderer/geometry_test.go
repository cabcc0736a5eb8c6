package renderer

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/math/f64"

	"slippymap/internal/camera"
	"slippymap/internal/config"
	"slippymap/internal/vectortile"
	"slippymap/internal/viewport"
	"slippymap/pkg/tiles"
)

func frame(bearing float64) viewport.Frame {
	ox, oy := 256.0, 256.0
	sin, cos := math.Sincos(bearing)
	return viewport.Frame{
		State: camera.State{Width: 512, Height: 512, Bearing: bearing, Zoom: 1},
		Transform: viewport.Transform{
			Rotate: bearing,
			Scale:  2,
			Matrix: f64.Aff3{
				cos, -sin, ox - cos*ox + sin*oy,
				sin, cos, oy - sin*ox - cos*oy,
			},
		},
	}
}

func assertPosition(t *testing.T, want [2]float32, v Vertex) {
	t.Helper()
	assert.InDelta(t, want[0], v.Position[0], 1e-6)
	assert.InDelta(t, want[1], v.Position[1], 1e-6)
}

func TestQuadNorthUp(t *testing.T) {
	tile := viewport.DrawTile{
		Coord: tiles.TileCoord{X: 0, Y: 0, Zoom: 1},
		Dest:  viewport.Rect{X: 0, Y: 0, Width: 256, Height: 256},
	}
	q := quad(frame(0), tile)

	assertPosition(t, [2]float32{-1, 1}, q[0])
	assertPosition(t, [2]float32{0, 1}, q[1])
	assertPosition(t, [2]float32{0, 0}, q[2])
	assertPosition(t, [2]float32{-1, 0}, q[3])

	assert.Equal(t, [2]float32{0, 0}, q[0].TexCoord)
	assert.Equal(t, [2]float32{1, 1}, q[2].TexCoord)

	assert.InDelta(t, -180, q[0].Geo[0], 1e-4)
	assert.InDelta(t, 85.0511, q[0].Geo[1], 1e-3)
	assert.InDelta(t, 0, q[2].Geo[0], 1e-4)
	assert.InDelta(t, 0, q[2].Geo[1], 1e-4)
}

func TestQuadRotatesAboutCenter(t *testing.T) {
	tile := viewport.DrawTile{
		Coord: tiles.TileCoord{X: 0, Y: 0, Zoom: 1},
		Dest:  viewport.Rect{X: 0, Y: 0, Width: 256, Height: 256},
	}
	q := quad(frame(math.Pi/2), tile)

	// the top left quarter turns into the top right one
	assertPosition(t, [2]float32{1, 1}, q[0])
	assertPosition(t, [2]float32{1, 0}, q[1])
	assertPosition(t, [2]float32{0, 0}, q[2])
	assertPosition(t, [2]float32{0, 1}, q[3])
}

func TestQuadWorldCopyUsesWrappedBounds(t *testing.T) {
	tile := viewport.DrawTile{
		Coord: tiles.TileCoord{X: 2, Y: 0, Zoom: 1},
		Dest:  viewport.Rect{X: 512, Y: 0, Width: 256, Height: 256},
	}
	q := quad(frame(0), tile)
	assert.InDelta(t, -180, q[0].Geo[0], 1e-4)
	assertPosition(t, [2]float32{1, 1}, q[0])
}

func TestCities(t *testing.T) {
	vt := &vectortile.Tile{Data: &vectortile.TileData{Places: []vectortile.Place{
		{Name: "Madrid", Class: "city", Rank: 10, Location: orb.Point{-3.7, 40.4}},
		{Name: "Getafe", Class: "town", Location: orb.Point{-3.73, 40.3}},
		{Name: "Pinto", Class: "village", Rank: 20, Location: orb.Point{-3.7, 40.24}},
	}}}
	f := frame(0)
	f.Tiles = []viewport.DrawTile{
		{Layer: "base", Kind: viewport.Raster, Coord: tiles.TileCoord{Zoom: 1}},
		{Layer: "places", Kind: viewport.Vector, Coord: tiles.TileCoord{X: 0, Zoom: 1}, Handle: vt},
		{Layer: "places", Kind: viewport.Vector, Coord: tiles.TileCoord{X: 2, Zoom: 1}, Handle: vt},
		{Layer: "places", Kind: viewport.Vector, Coord: tiles.TileCoord{X: 1, Zoom: 1}},
	}

	got := cities(f)
	require.Len(t, got, 2)
	assert.InDelta(t, -3.7, got[0].X, 1e-6)
	assert.InDelta(t, 40.4, got[0].Y, 1e-6)
	assert.Equal(t, float32(1), got[0].Radius)
	assert.Equal(t, float32(1), got[1].Radius)
}

func TestCitiesAreCapped(t *testing.T) {
	places := make([]vectortile.Place, MaxCities+10)
	for i := range places {
		places[i] = vectortile.Place{Class: "city", Rank: 1}
	}
	f := frame(0)
	f.Tiles = []viewport.DrawTile{{
		Layer:  "places",
		Kind:   viewport.Vector,
		Handle: &vectortile.Tile{Data: &vectortile.TileData{Places: places}},
	}}
	assert.Len(t, cities(f), MaxCities)
}

func TestMaskParams(t *testing.T) {
	p := maskParams(config.Render{CityMask: true, CityRadiusPercent: 40, CityRadius: 0.15}, 3)
	assert.Equal(t, MaskParams{RadiusPercent: 40, EnableMask: 1, CityCount: 3, BaseRadius: 0.15}, p)

	p = maskParams(config.Render{CityRadiusPercent: 40}, 0)
	assert.Zero(t, p.EnableMask)
}

func TestToRGBA(t *testing.T) {
	src := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	src.Set(1, 2, color.NRGBA{R: 200, G: 10, B: 20, A: 255})
	dst := toRGBA(src)
	assert.Equal(t, image.Rect(0, 0, 4, 4), dst.Bounds())
	assert.Equal(t, color.RGBA{R: 200, G: 10, B: 20, A: 255}, dst.RGBAAt(1, 2))

	rgba := image.NewRGBA(image.Rect(0, 0, 256, 256))
	assert.Same(t, rgba, toRGBA(rgba))

	offset := image.NewRGBA(image.Rect(10, 10, 20, 20))
	assert.Equal(t, image.Rect(0, 0, 10, 10), toRGBA(offset).Bounds())

	big := image.NewRGBA(image.Rect(0, 0, 1024, 1024))
	assert.Equal(t, image.Rect(0, 0, MaxTextureSize, MaxTextureSize), toRGBA(big).Bounds())
}

func TestTextureKeyFoldsWorldCopies(t *testing.T) {
	assert.Equal(t,
		textureKey("osm", tiles.TileCoord{X: -1, Y: 0, Zoom: 1}),
		textureKey("osm", tiles.TileCoord{X: 1, Y: 0, Zoom: 1}))
}
