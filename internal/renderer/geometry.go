package renderer

import (
	"image"

	xdraw "golang.org/x/image/draw"

	"slippymap/internal/config"
	"slippymap/internal/vectortile"
	"slippymap/internal/viewport"
	"slippymap/pkg/tiles"
)

// TileSize is the edge of a standard tile texture
const TileSize = 256

// MaxTextureSize caps uploaded tile textures; larger images are scaled down
const MaxTextureSize = 2 * TileSize

// MaxCities bounds the city mask storage buffer
const MaxCities = 64

// Vertex is one corner of a tile quad
type Vertex struct {
	Position [2]float32 // NDC
	TexCoord [2]float32
	Geo      [2]float32 // lon, lat
}

// CityData matches the shader's City struct
type CityData struct {
	X      float32 // lon
	Y      float32 // lat
	Radius float32
	_      float32
}

// MaskParams matches the shader's MaskParams uniform
type MaskParams struct {
	RadiusPercent float32
	EnableMask    float32
	CityCount     float32
	BaseRadius    float32
}

var quadIndices = [6]uint16{0, 1, 2, 0, 2, 3}

// quad returns the four corners of a tile in NDC, clockwise from the top
// left, rotated by the frame transform
func quad(f viewport.Frame, t viewport.DrawTile) [4]Vertex {
	w, h := f.State.Width, f.State.Height
	d := t.Dest
	b := t.Coord.Bound()

	corners := [4][2]float64{
		{d.X, d.Y},
		{d.X + d.Width, d.Y},
		{d.X + d.Width, d.Y + d.Height},
		{d.X, d.Y + d.Height},
	}
	uv := [4][2]float32{{0, 0}, {1, 0}, {1, 1}, {0, 1}}
	geo := [4][2]float64{
		{b.Min[0], b.Max[1]},
		{b.Max[0], b.Max[1]},
		{b.Max[0], b.Min[1]},
		{b.Min[0], b.Min[1]},
	}

	var out [4]Vertex
	for i, c := range corners {
		sx, sy := f.Transform.Apply(c[0], c[1])
		out[i] = Vertex{
			Position: [2]float32{float32(sx/w*2 - 1), float32(1 - sy/h*2)},
			TexCoord: uv[i],
			Geo:      [2]float32{float32(geo[i][0]), float32(geo[i][1])},
		}
	}
	return out
}

// cities collects the cities and towns of the frame's vector tiles, at
// most MaxCities. World copies of a tile are read once.
func cities(f viewport.Frame) []CityData {
	var out []CityData
	seen := make(map[string]bool)
	for _, t := range f.Tiles {
		vt, ok := t.Handle.(*vectortile.Tile)
		if !ok || vt.Data == nil {
			continue
		}
		key := textureKey(t.Layer, t.Coord)
		if seen[key] {
			continue
		}
		seen[key] = true

		for _, p := range vectortile.FilterPlacesByClass(vt.Data.Places, "city", "town") {
			out = append(out, CityData{
				X:      float32(p.Location.Lon()),
				Y:      float32(p.Location.Lat()),
				Radius: cityRadius(p.Rank),
			})
			if len(out) == MaxCities {
				return out
			}
		}
	}
	return out
}

// cityRadius scales the mask radius by rank; lower ranks are larger cities
func cityRadius(rank int) float32 {
	if rank <= 0 {
		return 1
	}
	return float32(15.0 / float64(rank+5))
}

func maskParams(c config.Render, cityCount int) MaskParams {
	p := MaskParams{
		RadiusPercent: float32(c.CityRadiusPercent),
		CityCount:     float32(cityCount),
		BaseRadius:    float32(c.CityRadius),
	}
	if c.CityMask {
		p.EnableMask = 1
	}
	return p
}

// toRGBA converts a decoded tile to the texture layout, scaling it down
// when it exceeds MaxTextureSize
func toRGBA(img image.Image) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w > MaxTextureSize || h > MaxTextureSize {
		w, h = MaxTextureSize, MaxTextureSize
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, xdraw.Src, nil)
		return dst
	}
	if rgba, ok := img.(*image.RGBA); ok && b.Min == (image.Point{}) {
		return rgba
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	xdraw.Draw(dst, dst.Bounds(), img, b.Min, xdraw.Src)
	return dst
}

// textureKey identifies a tile texture independent of its world copy
func textureKey(layer string, c tiles.TileCoord) string {
	return layer + "/" + c.Wrap().String()
}
