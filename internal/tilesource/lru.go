package tilesource

import (
	"sort"

	"slippymap/pkg/tiles"
)

// sortLRU orders records from least to most recently used, oldest
// insertion first on ties
func sortLRU(records []*Record) {
	sort.Slice(records, func(i, j int) bool {
		a, b := records[i], records[j]
		if !a.LastUsed.Equal(b.LastUsed) {
			return a.LastUsed.Before(b.LastUsed)
		}
		return a.seq < b.seq
	})
}

func cover(vp Viewport, zoom int) []tiles.TileCoord {
	minX, minY, maxX, maxY := vp.TileBounds(zoom)
	return tiles.Cover(minX, minY, maxX, maxY, zoom)
}
