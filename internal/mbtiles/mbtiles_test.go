package mbtiles

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slippymap/internal/tilesource"
	"slippymap/pkg/tiles"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.mbtiles"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGet(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	coord := tiles.TileCoord{X: 1, Y: 0, Zoom: 2}

	_, err := s.Tile(ctx, coord)
	assert.ErrorIs(t, err, tiles.ErrNotFound)

	require.NoError(t, s.Put(ctx, coord, []byte("first")))
	require.NoError(t, s.Put(ctx, coord, []byte("second")))

	data, err := s.Tile(ctx, coord)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	// world copies resolve to the stored tile
	data, err = s.Tile(ctx, tiles.TileCoord{X: 5, Y: 0, Zoom: 2})
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), data)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	ok, err := s.Has(ctx, coord)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRowsAreStoredBottomUp(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	require.NoError(t, s.Put(ctx, tiles.TileCoord{X: 0, Y: 0, Zoom: 3}, []byte("top")))

	var row int
	require.NoError(t, s.db.QueryRow("select tile_row from tiles").Scan(&row))
	assert.Equal(t, 7, row)
}

func TestMetadata(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)

	require.NoError(t, s.SetMetadata(ctx, map[string]string{"name": "test", "format": "png"}))
	require.NoError(t, s.SetMetadata(ctx, map[string]string{"format": "webp"}))

	items, err := s.Metadata(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"name": "test", "format": "webp"}, items)
}

func TestReopenKeepsTiles(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.mbtiles")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Put(ctx, tiles.TileCoord{X: 0, Y: 0, Zoom: 0}, []byte("world")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()
	data, err := s.Tile(ctx, tiles.TileCoord{})
	require.NoError(t, err)
	assert.Equal(t, []byte("world"), data)
}

func TestLoader(t *testing.T) {
	ctx := context.Background()
	s := openStore(t)
	coord := tiles.TileCoord{X: 2, Y: 1, Zoom: 2}
	require.NoError(t, s.Put(ctx, coord, []byte("tile")))

	loader := NewLoader(s, func(data []byte, c tiles.TileCoord) (tilesource.Handle, error) {
		return c.String() + ":" + string(data), nil
	})

	h, err := loader.Load(ctx, tilesource.Request{Coord: coord})
	require.NoError(t, err)
	assert.Equal(t, "2/2/1:tile", h)

	_, err = loader.Load(ctx, tilesource.Request{Coord: tiles.TileCoord{X: 0, Y: 0, Zoom: 2}})
	assert.ErrorIs(t, err, tiles.ErrNotFound)
}
