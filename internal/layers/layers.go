// Package layers builds the map layers declared in the configuration and
// wires each to its loader: HTTP raster or vector tiles through the shared
// fetcher, or a local MBTiles file.
package layers

import (
	"context"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"slippymap/internal/config"
	"slippymap/internal/logging"
	"slippymap/internal/mbtiles"
	"slippymap/internal/tileserver"
	"slippymap/internal/tilesource"
	"slippymap/internal/vectortile"
	"slippymap/internal/viewport"
	"slippymap/pkg/tiles"
)

// Set is the configured layers plus the files they keep open
type Set struct {
	Layers []viewport.Layer
	stores []*mbtiles.Store
}

// Close closes every MBTiles file of the set
func (s *Set) Close() error {
	var errs []error
	for _, st := range s.stores {
		if err := st.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.stores = nil
	return errors.Join(errs...)
}

// Build creates one layer per configured layer, in order
func Build(ctx context.Context, cfg *config.Config, fetcher *tileserver.Fetcher, logger *log.Entry) (*Set, error) {
	logger = logging.Or(logger)
	set := &Set{}

	for _, l := range cfg.Layers {
		opts := viewport.TileLayerOptions{
			ID:      l.ID,
			Overlay: l.Overlay,
			Source:  SourceOptions(l, cfg.Cache),
		}

		switch l.Kind {
		case config.KindRaster:
			opts.Kind = viewport.Raster
			opts.Loader = tileserver.NewRasterLoader(fetcher)
		case config.KindVector:
			opts.Kind = viewport.Vector
			opts.Loader = vectortile.NewLoader(fetcher)
		case config.KindMBTiles:
			store, kind, err := openMBTiles(ctx, l.Path)
			if err != nil {
				set.Close()
				return nil, fmt.Errorf("layer %q: %w", l.ID, err)
			}
			set.stores = append(set.stores, store)
			opts.Kind = kind
			opts.Loader = mbtiles.NewLoader(store, decoder(kind))
		default:
			set.Close()
			return nil, fmt.Errorf("%w: %q", config.ErrUnknownLayerKind, l.Kind)
		}

		set.Layers = append(set.Layers, viewport.NewTileLayer(opts))
		logger.WithField("layer", l.ID).Debugf("%s layer configured", opts.Kind)
	}
	return set, nil
}

// SourceOptions maps a layer and the cache settings onto tile source
// options. Bus, pixel ratio and logger are filled in by the map.
func SourceOptions(l config.Layer, c config.Cache) tilesource.Options {
	tmpl := tiles.Template{
		URL:        l.URL,
		Subdomains: l.Subdomains,
		Retina:     l.Retina,
	}
	if l.Kind == config.KindMBTiles {
		tmpl = tiles.Template{URL: "mbtiles://" + l.Path + "/{z}/{x}/{y}"}
	}
	return tilesource.Options{
		Layer:        l.ID,
		Template:     tmpl,
		MinZoom:      l.MinZoom,
		MaxZoom:      l.MaxZoom,
		MaxCacheSize: c.MaxTiles,
		Timeout:      c.Timeout,
		TTL:          c.TTL,
	}
}

// openMBTiles opens an existing file and reads its layer kind from the
// format metadata: pbf is vector, anything else raster
func openMBTiles(ctx context.Context, path string) (*mbtiles.Store, viewport.LayerKind, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, viewport.Raster, err
	}
	store, err := mbtiles.Open(path)
	if err != nil {
		return nil, viewport.Raster, err
	}
	meta, err := store.Metadata(ctx)
	if err != nil {
		store.Close()
		return nil, viewport.Raster, err
	}
	if meta["format"] == "pbf" {
		return store, viewport.Vector, nil
	}
	return store, viewport.Raster, nil
}

func decoder(kind viewport.LayerKind) mbtiles.DecodeFunc {
	if kind == viewport.Vector {
		return func(data []byte, coord tiles.TileCoord) (tilesource.Handle, error) {
			return vectortile.Decode(data, coord)
		}
	}
	return func(data []byte, _ tiles.TileCoord) (tilesource.Handle, error) {
		return tileserver.DecodeImage(data)
	}
}
