// Package vectortile decodes Mapbox vector tiles for vector overlay
// layers and extracts the typed features the renderer uses.
package vectortile

import (
	"bytes"
	"context"
	"fmt"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"

	"slippymap/internal/tilesource"
	"slippymap/pkg/tiles"
)

// Tile is the handle of a loaded vector tile. Geometries are in WGS84.
type Tile struct {
	Coord  tiles.TileCoord
	Layers mvt.Layers
	Data   *TileData
}

// Place represents a city/town/village from the place layer
type Place struct {
	Name     string
	Class    string // city, town, village, hamlet, etc.
	Rank     int
	Location orb.Point
}

// TransportLine represents a road/rail from the transportation layer
type TransportLine struct {
	Class    string // motorway, rail, primary, secondary, etc.
	Geometry orb.Geometry
}

// WaterFeature represents water from the water layer
type WaterFeature struct {
	Class    string
	Geometry orb.Geometry
}

// TileData holds extracted features from a vector tile
type TileData struct {
	Places     []Place
	Transport  []TransportLine
	Water      []WaterFeature
	Boundaries []orb.Geometry
}

// Decode parses raw or gzipped MVT bytes of the tile at coord
func Decode(data []byte, coord tiles.TileCoord) (*Tile, error) {
	var (
		layers mvt.Layers
		err    error
	)
	if bytes.HasPrefix(data, []byte{0x1f, 0x8b}) {
		layers, err = mvt.UnmarshalGzipped(data)
	} else {
		layers, err = mvt.Unmarshal(data)
	}
	if err != nil {
		return nil, fmt.Errorf("mvt parse error: %w", err)
	}

	// Project to WGS84 coordinates
	layers.ProjectToWGS84(coord.Maptile())

	return &Tile{
		Coord:  coord.Wrap(),
		Layers: layers,
		Data:   extractFeatures(layers),
	}, nil
}

// LayerNames returns the sorted names of the tile's layers
func (t *Tile) LayerNames() []string {
	names := make([]string, 0, len(t.Layers))
	for _, l := range t.Layers {
		names = append(names, l.Name)
	}
	sort.Strings(names)
	return names
}

// FeatureCount returns the number of features over all layers
func (t *Tile) FeatureCount() int {
	n := 0
	for _, l := range t.Layers {
		n += len(l.Features)
	}
	return n
}

// Fetcher returns the bytes behind a tile URL
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Loader loads vector tiles for a tilesource. Handles are *Tile values.
type Loader struct {
	fetcher Fetcher
}

func NewLoader(f Fetcher) *Loader {
	return &Loader{fetcher: f}
}

// Load implements tilesource.Loader
func (l *Loader) Load(ctx context.Context, req tilesource.Request) (tilesource.Handle, error) {
	data, err := l.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	t, err := Decode(data, req.Coord)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Coord, err)
	}
	return t, nil
}

// extractFeatures extracts typed features from MVT layers
func extractFeatures(layers mvt.Layers) *TileData {
	data := &TileData{}

	for _, layer := range layers {
		switch layer.Name {
		case "place":
			data.Places = extractPlaces(layer)
		case "transportation":
			data.Transport = extractTransport(layer)
		case "water":
			data.Water = extractWater(layer)
		case "boundary":
			data.Boundaries = extractBoundaries(layer)
		}
	}

	return data
}

func extractPlaces(layer *mvt.Layer) []Place {
	places := make([]Place, 0, len(layer.Features))

	for _, f := range layer.Features {
		pt, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		place := Place{Location: pt}
		place.Name, _ = f.Properties["name"].(string)
		place.Class, _ = f.Properties["class"].(string)
		if rank, ok := number(f.Properties["rank"]); ok {
			place.Rank = int(rank)
		}
		places = append(places, place)
	}

	return places
}

func extractTransport(layer *mvt.Layer) []TransportLine {
	lines := make([]TransportLine, 0, len(layer.Features))
	for _, f := range layer.Features {
		class, _ := f.Properties["class"].(string)
		lines = append(lines, TransportLine{Class: class, Geometry: f.Geometry})
	}
	return lines
}

func extractWater(layer *mvt.Layer) []WaterFeature {
	features := make([]WaterFeature, 0, len(layer.Features))
	for _, f := range layer.Features {
		class, _ := f.Properties["class"].(string)
		features = append(features, WaterFeature{Class: class, Geometry: f.Geometry})
	}
	return features
}

func extractBoundaries(layer *mvt.Layer) []orb.Geometry {
	boundaries := make([]orb.Geometry, 0, len(layer.Features))
	for _, f := range layer.Features {
		boundaries = append(boundaries, f.Geometry)
	}
	return boundaries
}

func number(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

// FilterPlacesByClass returns places matching the given classes
func FilterPlacesByClass(places []Place, classes ...string) []Place {
	classSet := make(map[string]bool)
	for _, c := range classes {
		classSet[c] = true
	}

	filtered := make([]Place, 0)
	for _, p := range places {
		if classSet[p.Class] {
			filtered = append(filtered, p)
		}
	}
	return filtered
}

// FilterTransportByClass returns transport lines matching the given classes
func FilterTransportByClass(transport []TransportLine, classes ...string) []TransportLine {
	classSet := make(map[string]bool)
	for _, c := range classes {
		classSet[c] = true
	}

	filtered := make([]TransportLine, 0)
	for _, t := range transport {
		if classSet[t.Class] {
			filtered = append(filtered, t)
		}
	}
	return filtered
}
