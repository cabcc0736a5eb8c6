package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"slippymap/internal/config"
	"slippymap/internal/logging"
	"slippymap/internal/mbtiles"
	"slippymap/internal/tileserver"
	"slippymap/internal/vectortile"
	"slippymap/pkg/tiles"
)

var (
	hf    bool
	cf    string
	layer string
	key   string
	lat   float64
	lon   float64
	zoom  int
)

func init() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.StringVar(&cf, "c", "conf.toml", "set config `file`")
	flag.StringVar(&layer, "layer", "", "layer `id` to read from, defaults to the first layer")
	flag.StringVar(&key, "tile", "", "tile `z/x/y`, overrides -lat -lon -z")
	// Amsterdam
	flag.Float64Var(&lat, "lat", 52.37, "latitude of the tile")
	flag.Float64Var(&lon, "lon", 4.90, "longitude of the tile")
	flag.IntVar(&zoom, "z", 10, "zoom of the tile")
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "tileinspect: print the content of one tile\nUsage: tileinspect [-h] [-c filename] [-layer id] [-tile z/x/y | -lat lat -lon lon -z zoom]\n")
		flag.PrintDefaults()
	}
}

func main() {
	flag.Parse()
	if hf {
		flag.Usage()
		return
	}
	_ = godotenv.Load(".env")

	cfg, err := config.Load(cf)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.Setup(cfg.Log)
	if err != nil {
		log.Fatal(err)
	}
	entry := logging.Component(logger, "tileinspect")

	l, err := pickLayer(cfg)
	if err != nil {
		entry.Fatal(err)
	}
	coord, err := pickTile()
	if err != nil {
		entry.Fatal(err)
	}

	ctx := context.Background()
	data, format, err := read(ctx, cfg, l, coord, logger)
	if err != nil {
		entry.WithError(err).Fatalf("reading %s from %s", coord, l.ID)
	}
	fmt.Printf("Tile %s of %s: %d bytes\n", coord, l.ID, len(data))

	if format == config.KindVector {
		printVector(data, coord)
		return
	}
	img, err := tileserver.DecodeImage(data)
	if err != nil {
		entry.Fatal(err)
	}
	fmt.Printf("Image %v\n", img.Bounds())
}

func pickLayer(cfg *config.Config) (config.Layer, error) {
	if layer == "" {
		if len(cfg.Layers) == 0 {
			return config.Layer{}, fmt.Errorf("no layers configured")
		}
		return cfg.Layers[0], nil
	}
	l, ok := cfg.LayerByID(layer)
	if !ok {
		return l, fmt.Errorf("unknown layer %q", layer)
	}
	return l, nil
}

func pickTile() (tiles.TileCoord, error) {
	if key != "" {
		return tiles.ParseKey(key)
	}
	c := tiles.LatLonToTile(lat, lon, zoom)
	if !c.Valid() {
		return c, fmt.Errorf("no tile at %v,%v zoom %d", lat, lon, zoom)
	}
	return c, nil
}

// read returns the tile bytes and whether they hold a raster or vector tile
func read(ctx context.Context, cfg *config.Config, l config.Layer, coord tiles.TileCoord, logger *log.Logger) ([]byte, string, error) {
	if l.Kind == config.KindMBTiles {
		store, err := mbtiles.Open(l.Path)
		if err != nil {
			return nil, "", err
		}
		defer store.Close()
		meta, err := store.Metadata(ctx)
		if err != nil {
			return nil, "", err
		}
		kind := config.KindRaster
		if meta["format"] == "pbf" {
			kind = config.KindVector
		}
		data, err := store.Tile(ctx, coord)
		return data, kind, err
	}

	fetcher, err := tileserver.NewFetcher(tileserver.FetcherOptions{
		Dir:         cfg.Cache.Dir,
		MemoryBytes: cfg.Cache.MemoryBytes,
		TTL:         cfg.Cache.TTL,
		UserAgent:   cfg.Cache.UserAgent,
		Log:         logging.Component(logger, "fetcher"),
	})
	if err != nil {
		return nil, "", err
	}
	defer fetcher.Close()

	tmpl := tiles.Template{URL: l.URL, Subdomains: l.Subdomains}
	data, err := fetcher.Fetch(ctx, tmpl.Resolve(coord, false))
	return data, l.Kind, err
}

func printVector(data []byte, coord tiles.TileCoord) {
	t, err := vectortile.Decode(data, coord)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("Layers: %v, %d features\n", t.LayerNames(), t.FeatureCount())

	d := t.Data
	fmt.Printf("\n=== Places: %d ===\n", len(d.Places))
	for i, p := range d.Places {
		if i == 15 {
			break
		}
		fmt.Printf("  %s (%s) rank=%d at (%.4f, %.4f)\n", p.Name, p.Class, p.Rank, p.Location.Lon(), p.Location.Lat())
	}

	fmt.Printf("\n=== Transport lines: %d ===\n", len(d.Transport))
	classes := make(map[string]int)
	for _, tl := range d.Transport {
		classes[tl.Class]++
	}
	names := make([]string, 0, len(classes))
	for c := range classes {
		names = append(names, c)
	}
	sort.Strings(names)
	for _, c := range names {
		fmt.Printf("  %s: %d\n", c, classes[c])
	}

	fmt.Printf("\n=== Water features: %d ===\n", len(d.Water))
	fmt.Printf("\n=== Boundaries: %d ===\n", len(d.Boundaries))

	cities := vectortile.FilterPlacesByClass(d.Places, "city")
	fmt.Printf("\n=== Cities only: %d ===\n", len(cities))
	for _, c := range cities {
		fmt.Printf("  %s (rank %d)\n", c.Name, c.Rank)
	}

	rail := vectortile.FilterTransportByClass(d.Transport, "rail")
	fmt.Printf("\n=== Rail lines: %d ===\n", len(rail))
}
