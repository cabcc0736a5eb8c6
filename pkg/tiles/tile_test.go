package tiles

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyRoundTrip(t *testing.T) {
	coord := TileCoord{X: 4, Y: 7, Zoom: 5}
	assert.Equal(t, "5/4/7", coord.String())

	parsed, err := ParseKey("5/4/7")
	require.NoError(t, err)
	assert.Equal(t, coord, parsed)

	_, err = ParseKey("5/4")
	assert.Error(t, err)
	_, err = ParseKey("a/b/c")
	assert.Error(t, err)
}

func TestWrap(t *testing.T) {
	assert.Equal(t, TileCoord{X: 0, Y: 1, Zoom: 2}, TileCoord{X: 4, Y: 1, Zoom: 2}.Wrap())
	assert.Equal(t, TileCoord{X: 3, Y: 1, Zoom: 2}, TileCoord{X: -1, Y: 1, Zoom: 2}.Wrap())
	assert.Equal(t, TileCoord{X: 2, Y: 1, Zoom: 2}, TileCoord{X: 2, Y: 1, Zoom: 2}.Wrap())
}

func TestValid(t *testing.T) {
	assert.True(t, TileCoord{X: 9, Y: 3, Zoom: 2}.Valid())
	assert.False(t, TileCoord{X: 0, Y: 4, Zoom: 2}.Valid())
	assert.False(t, TileCoord{X: 0, Y: -1, Zoom: 2}.Valid())
}

func TestLatLonToTile(t *testing.T) {
	// London at zoom 10
	coord := LatLonToTile(51.505, -0.09, 10)
	assert.Equal(t, TileCoord{X: 511, Y: 340, Zoom: 10}, coord)
}

func TestFlipY(t *testing.T) {
	assert.Equal(t, 0, TileCoord{X: 0, Y: 3, Zoom: 2}.FlipY())
	assert.Equal(t, 3, TileCoord{X: 0, Y: 0, Zoom: 2}.FlipY())
}

func TestCover(t *testing.T) {
	cover := Cover(-0.5, -1, 1.5, 0.5, 1)
	// x spans -1..1 (world copy on the west), y is clamped to row 0
	require.Len(t, cover, 3)
	assert.Equal(t, TileCoord{X: -1, Y: 0, Zoom: 1}, cover[0])
	assert.Equal(t, TileCoord{X: 1, Y: 0, Zoom: 1}, cover[2])

	assert.Empty(t, Cover(0, 5, 1, 6, 1))

	// edges on tile boundaries do not pull in the next row or column
	assert.Len(t, Cover(1, 1, 3, 3, 2), 4)
}

func TestTemplateResolve(t *testing.T) {
	tpl := Template{
		URL:        "https://{s}.tiles.test/{z}/{x}/{y}{r}.png",
		Subdomains: []string{"a", "b", "c"},
		Retina:     true,
	}

	coord := TileCoord{X: 1, Y: 1, Zoom: 3}
	assert.Equal(t, "https://c.tiles.test/3/1/1.png", tpl.Resolve(coord, false))
	assert.Equal(t, "https://c.tiles.test/3/1/1@2x.png", tpl.Resolve(coord, true))

	// world copies resolve to the wrapped tile
	assert.Equal(t, "https://c.tiles.test/3/1/1.png", tpl.Resolve(TileCoord{X: 9, Y: 1, Zoom: 3}, false))
}

func TestTemplateSuffixWithoutPlaceholder(t *testing.T) {
	tpl := Template{URL: "https://tiles.test/{z}/{x}/{y}.png?key=abc", Retina: true, RetinaSuffix: "@3x"}
	assert.Equal(t, "https://tiles.test/2/1/0@3x.png?key=abc", tpl.Resolve(TileCoord{X: 1, Y: 0, Zoom: 2}, true))

	plain := Template{URL: "https://tiles.test/{z}/{x}/{y}", Retina: true}
	assert.Equal(t, "https://tiles.test/2/1/0@2x", plain.Resolve(TileCoord{X: 1, Y: 0, Zoom: 2}, true))
}

func TestTemplateHighRes(t *testing.T) {
	tpl := Template{Retina: true}
	assert.True(t, tpl.HighRes(2, 1))
	assert.False(t, tpl.HighRes(1, 1))
	assert.False(t, Template{}.HighRes(3, 1))
}
