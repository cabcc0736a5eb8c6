package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/paulmach/orb"
	log "github.com/sirupsen/logrus"

	"slippymap/internal/config"
	"slippymap/internal/logging"
	"slippymap/internal/mbtiles"
	"slippymap/internal/seed"
	"slippymap/internal/tileserver"
	"slippymap/pkg/tiles"
)

var (
	hf      bool
	cf      string
	layer   string
	output  string
	bbox    string
	minZoom int
	maxZoom int
	workers int
	serve   string
)

func init() {
	flag.BoolVar(&hf, "h", false, "this help")
	flag.StringVar(&cf, "c", "conf.toml", "set config `file`")
	flag.StringVar(&layer, "layer", "", "layer `id` to seed, overrides seed.layer")
	flag.StringVar(&output, "o", "", "output mbtiles `file`, overrides seed.output")
	flag.StringVar(&bbox, "bbox", "", "`west,south,east,north` in degrees, overrides seed.bounds")
	flag.IntVar(&minZoom, "min", -1, "min zoom, overrides seed.min_zoom")
	flag.IntVar(&maxZoom, "max", -1, "max zoom, overrides seed.max_zoom")
	flag.IntVar(&workers, "workers", 0, "concurrent downloads, overrides seed.workers")
	flag.StringVar(&serve, "serve", "", "serve the seeded file on `addr` when done, e.g. :8090")
	flag.Usage = usage
}

func usage() {
	fmt.Fprintf(os.Stderr, `tileseed: download a tile pyramid into an MBTiles file
Usage: tileseed [-h] [-c filename] [-layer id] [-o file] [-bbox w,s,e,n] [-min z] [-max z] [-serve addr]
`)
	flag.PrintDefaults()
}

func parseBounds(s string) (orb.Bound, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return orb.Bound{}, fmt.Errorf("bounds %q: want west,south,east,north", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return orb.Bound{}, fmt.Errorf("bounds %q: %w", s, err)
		}
		v[i] = f
	}
	return orb.Bound{Min: orb.Point{v[0], v[1]}, Max: orb.Point{v[2], v[3]}}, nil
}

// settings merges the flags over the seed section of the config
func settings(cfg *config.Config) (config.Seed, orb.Bound, error) {
	s := cfg.Seed
	if layer != "" {
		s.Layer = layer
	}
	if output != "" {
		s.Output = output
	}
	if minZoom >= 0 {
		s.MinZoom = minZoom
	}
	if maxZoom >= 0 {
		s.MaxZoom = maxZoom
	}
	if workers > 0 {
		s.Workers = workers
	}

	bound := orb.Bound{Min: orb.Point{-180, -90}, Max: orb.Point{180, 90}}
	switch {
	case bbox != "":
		b, err := parseBounds(bbox)
		if err != nil {
			return s, bound, err
		}
		bound = b
	case len(s.Bounds) == 4:
		bound = orb.Bound{Min: orb.Point{s.Bounds[0], s.Bounds[1]}, Max: orb.Point{s.Bounds[2], s.Bounds[3]}}
	case len(s.Bounds) != 0:
		return s, bound, fmt.Errorf("seed.bounds: want 4 values, got %d", len(s.Bounds))
	}
	return s, bound, nil
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
	entry := logging.Component(logger, "tileseed")

	s, bound, err := settings(cfg)
	if err != nil {
		entry.Fatal(err)
	}
	l, ok := cfg.LayerByID(s.Layer)
	if !ok {
		entry.Fatalf("unknown layer %q", s.Layer)
	}
	if l.Kind == config.KindMBTiles {
		entry.Fatalf("layer %q is already an mbtiles file", l.ID)
	}

	task, err := seed.NewTask(seed.Options{
		Name:     l.ID,
		Template: tiles.Template{URL: l.URL, Subdomains: l.Subdomains},
		Bound:    bound,
		MinZoom:  s.MinZoom,
		MaxZoom:  s.MaxZoom,
		Workers:  s.Workers,
		Overlay:  l.Overlay,
		Progress: os.Stdout,
		Log:      entry,
	})
	if err != nil {
		entry.Fatal(err)
	}

	fetcher, err := tileserver.NewFetcher(tileserver.FetcherOptions{
		Dir:         cfg.Cache.Dir,
		MemoryBytes: cfg.Cache.MemoryBytes,
		TTL:         cfg.Cache.TTL,
		UserAgent:   cfg.Cache.UserAgent,
		Log:         logging.Component(logger, "fetcher"),
	})
	if err != nil {
		entry.Fatal(err)
	}
	defer fetcher.Close()

	store, err := mbtiles.Open(s.Output)
	if err != nil {
		entry.Fatal(err)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	res, err := task.Run(ctx, fetcher, store)
	if err != nil {
		entry.WithError(err).Error("seeding stopped")
	}
	entry.Infof("%s: %d fetched, %d skipped, %d failed", s.Output, res.Fetched, res.Skipped, res.Failed)

	if serve == "" || ctx.Err() != nil {
		return
	}
	srv := tileserver.NewServer(store, serve, logging.Component(logger, "server"))
	go func() {
		<-ctx.Done()
		srv.Stop()
	}()
	entry.Infof("serving %s on %s", s.Output, serve)
	if err := srv.Start(); err != nil {
		entry.WithError(err).Error("server failed")
	}
}
