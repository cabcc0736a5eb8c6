// Package seed downloads every tile of a bounding box and zoom range into
// an MBTiles file, for offline use through an mbtiles layer.
package seed

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/maptile/tilecover"
	log "github.com/sirupsen/logrus"
	"github.com/teris-io/shortid"
	pb "gopkg.in/cheggaaa/pb.v1"

	"slippymap/internal/geo"
	"slippymap/internal/logging"
	"slippymap/internal/mbtiles"
	"slippymap/pkg/tiles"
)

// DefaultWorkers is the number of concurrent downloads
const DefaultWorkers = 4

var (
	ErrInvalidBound = errors.New("invalid seed bounds")
	ErrInvalidZoom  = errors.New("invalid seed zoom range")
	ErrNoTemplate   = errors.New("seed layer has no url")
)

// Fetcher downloads tile bytes
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// Store receives the seeded tiles
type Store interface {
	Has(ctx context.Context, coord tiles.TileCoord) (bool, error)
	Put(ctx context.Context, coord tiles.TileCoord, data []byte) error
	SetMetadata(ctx context.Context, items map[string]string) error
}

// Options describes a seeding task
type Options struct {
	Name     string
	Template tiles.Template
	Bound    orb.Bound // lon/lat
	MinZoom  int
	MaxZoom  int
	Workers  int

	// Format is the tile format recorded in the metadata; empty means the
	// template's file extension
	Format string

	// Overlay marks the tileset as an overlay rather than a base layer
	Overlay bool

	// Progress receives the progress bar, nil disables it
	Progress io.Writer
	Log      *log.Entry
}

// Result counts what a run did
type Result struct {
	Fetched int64
	Skipped int64 // already in the store
	Failed  int64
}

// Task is one seeding run
type Task struct {
	ID    string
	opts  Options
	tiles []tiles.TileCoord
	log   *log.Entry
}

// NewTask validates opts and computes the tile cover
func NewTask(opts Options) (*Task, error) {
	if opts.Template.URL == "" {
		return nil, ErrNoTemplate
	}
	b := opts.Bound
	if !geo.Finite(b.Min[0]) || !geo.Finite(b.Min[1]) || !geo.Finite(b.Max[0]) || !geo.Finite(b.Max[1]) ||
		b.Min[0] > b.Max[0] || b.Min[1] > b.Max[1] ||
		b.Min[0] < -180 || b.Max[0] > 180 || b.Min[1] < -90 || b.Max[1] > 90 {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBound, b)
	}
	if opts.MinZoom < 0 || opts.MinZoom > opts.MaxZoom || opts.MaxZoom > tiles.MaxZoom {
		return nil, fmt.Errorf("%w: %d-%d", ErrInvalidZoom, opts.MinZoom, opts.MaxZoom)
	}
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.Format == "" {
		opts.Format = formatOf(opts.Template.URL)
	}

	id, err := shortid.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate task id: %w", err)
	}
	return &Task{
		ID:    id,
		opts:  opts,
		tiles: Cover(b, opts.MinZoom, opts.MaxZoom),
		log:   logging.Or(opts.Log).WithField("task", id),
	}, nil
}

// Cover returns the tiles intersecting b for every zoom in [minZoom,
// maxZoom], ordered by zoom, then column, then row
func Cover(b orb.Bound, minZoom, maxZoom int) []tiles.TileCoord {
	b.Min[1] = math.Max(b.Min[1], -geo.MaxLatitude)
	b.Max[1] = math.Min(b.Max[1], geo.MaxLatitude)

	var out []tiles.TileCoord
	for z := minZoom; z <= maxZoom; z++ {
		n := tiles.Count(z)
		for t := range tilecover.Bound(b, maptile.Zoom(z)) {
			c := tiles.FromMaptile(t)
			// the east and south edges map onto the next tile
			if c.X < n && c.Y < n {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Zoom != b.Zoom {
			return a.Zoom < b.Zoom
		}
		if a.X != b.X {
			return a.X < b.X
		}
		return a.Y < b.Y
	})
	return out
}

// formatOf guesses the tile format from the template's file extension
func formatOf(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	ext := strings.TrimPrefix(path.Ext(strings.Replace(url, "{r}", "", -1)), ".")
	switch ext {
	case "pbf", "mvt":
		return "pbf"
	case "jpeg":
		return "jpg"
	case "":
		return "png"
	}
	return ext
}

// Tiles returns the tiles the task seeds
func (t *Task) Tiles() []tiles.TileCoord {
	return t.tiles
}

// Total returns the number of tiles the task seeds
func (t *Task) Total() int {
	return len(t.tiles)
}

// Metadata returns the MBTiles metadata rows of the tileset
func (t *Task) Metadata() map[string]string {
	o := t.opts
	b := o.Bound
	c := b.Center()
	kind := "baselayer"
	if o.Overlay {
		kind = "overlay"
	}
	name := o.Name
	if name == "" {
		name = t.ID
	}
	return map[string]string{
		"id":      t.ID,
		"name":    name,
		"format":  o.Format,
		"type":    kind,
		"version": mbtiles.Version,
		"bounds":  fmt.Sprintf("%f,%f,%f,%f", b.Left(), b.Bottom(), b.Right(), b.Top()),
		"center":  fmt.Sprintf("%f,%f,%d", c.X(), c.Y(), (o.MinZoom+o.MaxZoom)/2),
		"minzoom": strconv.Itoa(o.MinZoom),
		"maxzoom": strconv.Itoa(o.MaxZoom),
	}
}

// Run writes the metadata and downloads every tile not already in store.
// Tile failures are logged and counted; only a cancelled ctx or a store
// error stops the run.
func (t *Task) Run(ctx context.Context, f Fetcher, store Store) (Result, error) {
	var (
		res      Result
		fetched  atomic.Int64
		skipped  atomic.Int64
		failed   atomic.Int64
		storeErr error
		errOnce  sync.Once
	)

	if err := store.SetMetadata(ctx, t.Metadata()); err != nil {
		return res, fmt.Errorf("write metadata: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	fail := func(err error) {
		errOnce.Do(func() {
			storeErr = err
			cancel()
		})
	}

	bar := pb.New(len(t.tiles)).Prefix(fmt.Sprintf("Task %s: ", t.ID))
	if t.opts.Progress != nil {
		bar.Output = t.opts.Progress
		bar.Start()
	} else {
		bar.NotPrint = true
	}

	t.log.Infof("seeding %d tiles, zoom %d-%d, %d workers", len(t.tiles), t.opts.MinZoom, t.opts.MaxZoom, t.opts.Workers)

	work := make(chan tiles.TileCoord)
	var wg sync.WaitGroup
	for i := 0; i < t.opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range work {
				switch err := t.seedTile(ctx, f, store, c); {
				case err == nil:
					fetched.Add(1)
				case errors.Is(err, errSkipped):
					skipped.Add(1)
				case errors.As(err, new(*storeError)) && ctx.Err() == nil:
					fail(err)
				default:
					failed.Add(1)
					if ctx.Err() == nil {
						t.log.WithError(err).WithField("tile", c.String()).Warn("tile failed")
					}
				}
				bar.Increment()
			}
		}()
	}

dispatch:
	for _, c := range t.tiles {
		select {
		case work <- c:
		case <-ctx.Done():
			break dispatch
		}
	}
	close(work)
	wg.Wait()

	res = Result{Fetched: fetched.Load(), Skipped: skipped.Load(), Failed: failed.Load()}
	if t.opts.Progress != nil {
		bar.FinishPrint(fmt.Sprintf("task %s finished: %d fetched, %d skipped, %d failed", t.ID, res.Fetched, res.Skipped, res.Failed))
	}

	if storeErr != nil {
		return res, storeErr
	}
	if err := ctx.Err(); err != nil {
		return res, err
	}
	return res, nil
}

var errSkipped = errors.New("tile already stored")

type storeError struct{ err error }

func (e *storeError) Error() string { return "store: " + e.err.Error() }
func (e *storeError) Unwrap() error { return e.err }

func (t *Task) seedTile(ctx context.Context, f Fetcher, store Store, c tiles.TileCoord) error {
	ok, err := store.Has(ctx, c)
	if err != nil {
		return &storeError{err}
	}
	if ok {
		return errSkipped
	}

	data, err := f.Fetch(ctx, t.opts.Template.Resolve(c, false))
	if err != nil {
		return err
	}
	if err := store.Put(ctx, c, data); err != nil {
		return &storeError{err}
	}
	return nil
}
