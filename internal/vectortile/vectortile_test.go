package vectortile

import (
	"context"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/encoding/mvt"
	"github.com/paulmach/orb/geojson"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slippymap/internal/tilesource"
	"slippymap/pkg/tiles"
)

// amsterdam at zoom 10
var coord = tiles.TileCoord{X: 527, Y: 336, Zoom: 10}

func encodeTile(t *testing.T, gzipped bool) []byte {
	t.Helper()
	b := coord.Bound()
	c := b.Center()

	places := geojson.NewFeatureCollection()
	city := geojson.NewFeature(c)
	city.Properties = geojson.Properties{"name": "Amsterdam", "class": "city", "rank": 3.0}
	places.Append(city)
	village := geojson.NewFeature(orb.Point{b.Left() + (b.Right()-b.Left())/4, c.Lat()})
	village.Properties = geojson.Properties{"name": "Zaandam", "class": "village"}
	places.Append(village)

	transport := geojson.NewFeatureCollection()
	rail := geojson.NewFeature(orb.LineString{{b.Left(), c.Lat()}, {b.Right(), c.Lat()}})
	rail.Properties = geojson.Properties{"class": "rail"}
	transport.Append(rail)
	road := geojson.NewFeature(orb.LineString{{c.Lon(), b.Bottom()}, {c.Lon(), b.Top()}})
	road.Properties = geojson.Properties{"class": "primary"}
	transport.Append(road)

	layers := mvt.NewLayers(map[string]*geojson.FeatureCollection{
		"place":          places,
		"transportation": transport,
	})
	layers.ProjectToTile(coord.Maptile())

	var (
		data []byte
		err  error
	)
	if gzipped {
		data, err = mvt.MarshalGzipped(layers)
	} else {
		data, err = mvt.Marshal(layers)
	}
	require.NoError(t, err)
	return data
}

func TestDecode(t *testing.T) {
	for _, gzipped := range []bool{false, true} {
		tile, err := Decode(encodeTile(t, gzipped), coord)
		require.NoError(t, err)

		assert.Equal(t, []string{"place", "transportation"}, tile.LayerNames())
		assert.Equal(t, 4, tile.FeatureCount())

		require.Len(t, tile.Data.Places, 2)
		cities := FilterPlacesByClass(tile.Data.Places, "city")
		require.Len(t, cities, 1)
		assert.Equal(t, "Amsterdam", cities[0].Name)
		assert.Equal(t, 3, cities[0].Rank)

		center := coord.Bound().Center()
		assert.InDelta(t, center.Lon(), cities[0].Location.Lon(), 1e-3)
		assert.InDelta(t, center.Lat(), cities[0].Location.Lat(), 1e-3)

		assert.Len(t, FilterTransportByClass(tile.Data.Transport, "rail"), 1)
		assert.Len(t, FilterTransportByClass(tile.Data.Transport, "rail", "primary"), 2)
		assert.Empty(t, tile.Data.Water)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte{0x1f, 0x8b, 0x00}, coord)
	assert.Error(t, err)
}

type fetchFunc func(ctx context.Context, url string) ([]byte, error)

func (f fetchFunc) Fetch(ctx context.Context, url string) ([]byte, error) {
	return f(ctx, url)
}

func TestLoader(t *testing.T) {
	data := encodeTile(t, true)
	var requested string
	loader := NewLoader(fetchFunc(func(ctx context.Context, url string) ([]byte, error) {
		requested = url
		return data, nil
	}))

	h, err := loader.Load(context.Background(), tilesource.Request{
		Coord: coord,
		URL:   "https://tiles.test/10/527/336.pbf",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://tiles.test/10/527/336.pbf", requested)

	tile, ok := h.(*Tile)
	require.True(t, ok)
	assert.Equal(t, coord, tile.Coord)
	assert.Len(t, tile.Data.Places, 2)
}
