// Package tilesource keeps the per-layer tile cache: it decides which tiles
// the viewport needs, starts and cancels their loads, retries and refreshes
// them, and evicts the least recently used ones.
//
// A Source is not safe for concurrent use. Loads run on their own
// goroutines but post their results back to the scheduler, so every cache
// mutation happens on the loop.
package tilesource

import (
	"context"
	"errors"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"slippymap/internal/event"
	"slippymap/internal/logging"
	"slippymap/internal/scheduler"
	"slippymap/pkg/tiles"
)

const (
	DefaultMaxZoom           = 19
	DefaultMaxCacheSize      = 512
	DefaultTimeout           = 10 * time.Second
	DefaultTTL               = 24 * time.Hour
	DefaultPrefetchThreshold = 0.1
	DefaultRetinaThreshold   = 1.0
)

// ErrTimeout is the cause of tile errors for loads that took too long
var ErrTimeout = errors.New("tile load timed out")

// Handle is a decoded tile ready for drawing: an image.Image for raster
// layers, a decoded vector tile for vector layers
type Handle interface{}

// Request describes one tile load
type Request struct {
	Layer   string
	Coord   tiles.TileCoord // wrapped
	URL     string
	HighRes bool
}

// Loader fetches and decodes a tile. Implementations must return promptly
// once ctx is cancelled.
type Loader interface {
	Load(ctx context.Context, req Request) (Handle, error)
}

// LoaderFunc adapts a function to Loader
type LoaderFunc func(ctx context.Context, req Request) (Handle, error)

func (f LoaderFunc) Load(ctx context.Context, req Request) (Handle, error) {
	return f(ctx, req)
}

// Viewport is what Update needs from the camera
type Viewport interface {
	Zoom() float64
	TileBounds(tileZoom int) (minX, minY, maxX, maxY float64)
}

// Options configures a Source
type Options struct {
	Layer    string
	Template tiles.Template

	MinZoom int
	MaxZoom int

	MaxCacheSize      int
	Timeout           time.Duration
	TTL               time.Duration
	PrefetchThreshold float64

	PixelRatio      float64
	RetinaThreshold float64

	Bus *event.Bus
	Log *log.Entry
}

func (o *Options) defaults() {
	if o.MaxZoom == 0 {
		o.MaxZoom = DefaultMaxZoom
	}
	if o.MaxCacheSize <= 0 {
		o.MaxCacheSize = DefaultMaxCacheSize
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.PrefetchThreshold == 0 {
		o.PrefetchThreshold = DefaultPrefetchThreshold
	}
	if o.PixelRatio <= 0 {
		o.PixelRatio = 1
	}
	if o.RetinaThreshold <= 0 {
		o.RetinaThreshold = DefaultRetinaThreshold
	}
	if o.Bus == nil {
		o.Bus = &event.Bus{}
	}
	o.Log = logging.Or(o.Log)
}

// Record is one cache entry. Pending records have no handle yet.
type Record struct {
	Key      string
	Coord    tiles.TileCoord
	Handle   Handle
	Loaded   bool
	LoadedAt time.Time
	LastUsed time.Time

	seq        uint64 // insertion order, breaks LastUsed ties
	gen        uint64 // bumped per load, older completions are ignored
	highRes    bool
	refreshing bool
	stale      bool // queued for refresh
	cancel     context.CancelFunc
	timeout    scheduler.Task
}

// Pending reports whether the record still waits for its first load
func (r *Record) Pending() bool {
	return !r.Loaded
}

// Placement is one visible tile. Coord keeps the world copy the tile is
// drawn in; Key names the wrapped tile in the cache.
type Placement struct {
	Coord  tiles.TileCoord
	Key    string
	Record *Record
}

// Source is the tile cache of one layer
type Source struct {
	opts   Options
	loader Loader
	sched  scheduler.Scheduler
	log    *log.Entry

	cache map[string]*Record
	seq   uint64

	tileZoom   int
	placements []Placement

	evictTask    scheduler.Task
	refreshTask  scheduler.Task
	prefetchTask scheduler.Task
	refreshQueue []*Record

	destroyed bool
}

// New creates a source loading tiles through loader
func New(loader Loader, sched scheduler.Scheduler, opts Options) *Source {
	opts.defaults()
	return &Source{
		opts:   opts,
		loader: loader,
		sched:  sched,
		log:    opts.Log.WithField("layer", opts.Layer),
		cache:  make(map[string]*Record),
	}
}

// Layer returns the layer id
func (s *Source) Layer() string {
	return s.opts.Layer
}

// Options returns the effective options
func (s *Source) Options() Options {
	return s.opts
}

// Len returns the number of cached records, pending ones included
func (s *Source) Len() int {
	return len(s.cache)
}

// Pending returns the number of records still loading for the first time
func (s *Source) Pending() int {
	n := 0
	for _, r := range s.cache {
		if !r.Loaded {
			n++
		}
	}
	return n
}

// Get returns the record for a "z/x/y" key
func (s *Source) Get(key string) (*Record, bool) {
	r, ok := s.cache[key]
	return r, ok
}

// TileZoom returns the integer zoom of the last Update
func (s *Source) TileZoom() int {
	return s.tileZoom
}

// Placements returns the visible tiles computed by the last Update
func (s *Source) Placements() []Placement {
	return s.placements
}

// ClampZoom clamps a zoom level into the layer's zoom range
func (s *Source) ClampZoom(z int) int {
	if z < s.opts.MinZoom {
		return s.opts.MinZoom
	}
	if z > s.opts.MaxZoom {
		return s.opts.MaxZoom
	}
	return z
}

// Request returns the cache record for coord, creating it and starting its
// load when absent. There is never more than one load per key. Returns nil
// for coordinates outside the world or after Destroy.
func (s *Source) Request(coord tiles.TileCoord) *Record {
	return s.request(coord, true)
}

// request looks up or creates the record of coord. Speculative requests
// neither refresh LastUsed nor grow the cache past MaxCacheSize, and the
// records they create rank below every visible tile for eviction.
func (s *Source) request(coord tiles.TileCoord, visible bool) *Record {
	if s.destroyed {
		return nil
	}
	coord = coord.Wrap()
	if !coord.Valid() {
		return nil
	}

	now := s.sched.Now()
	key := coord.String()
	if r, ok := s.cache[key]; ok {
		if !visible {
			return r
		}
		r.LastUsed = now
		if r.Loaded && !r.refreshing && !r.stale && now.Sub(r.LoadedAt) > s.opts.TTL {
			s.queueRefresh(r)
		}
		return r
	}
	if !visible && len(s.cache) >= s.opts.MaxCacheSize {
		return nil
	}

	s.seq++
	r := &Record{
		Key:   key,
		Coord: coord,
		seq:   s.seq,
	}
	if visible {
		r.LastUsed = now
	}
	s.cache[key] = r
	s.load(r, s.opts.Template.HighRes(s.opts.PixelRatio, s.opts.RetinaThreshold))

	if len(s.cache) > s.opts.MaxCacheSize && s.evictTask == nil {
		s.evictTask = s.sched.Idle(s.evict)
	}
	return r
}

// Update computes the tiles covering the viewport at the rounded zoom,
// requests them and schedules adjacent-zoom prefetch when the zoom is
// close to an integer
func (s *Source) Update(vp Viewport) []Placement {
	if s.destroyed {
		return nil
	}
	zoom := vp.Zoom()
	s.tileZoom = s.ClampZoom(int(math.Round(zoom)))

	coords := cover(vp, s.tileZoom)
	placements := make([]Placement, 0, len(coords))
	for _, c := range coords {
		r := s.Request(c)
		if r == nil {
			continue
		}
		placements = append(placements, Placement{Coord: c, Key: r.Key, Record: r})
	}
	s.placements = placements

	if math.Abs(zoom-math.Round(zoom)) < s.opts.PrefetchThreshold {
		s.schedulePrefetch(vp)
	}
	return placements
}

// Destroy aborts every load, cancels scheduled work and empties the cache.
// Calling it again is a no-op.
func (s *Source) Destroy() {
	if s.destroyed {
		return
	}
	s.destroyed = true

	for _, t := range []scheduler.Task{s.evictTask, s.refreshTask, s.prefetchTask} {
		if t != nil {
			t.Cancel()
		}
	}
	for _, r := range s.cache {
		s.abort(r)
	}
	s.cache = make(map[string]*Record)
	s.placements = nil
	s.refreshQueue = nil
	s.log.Debug("source destroyed")
}

func (s *Source) load(r *Record, highRes bool) {
	r.gen++
	gen := r.gen
	r.highRes = highRes

	req := Request{
		Layer:   s.opts.Layer,
		Coord:   r.Coord,
		URL:     s.opts.Template.Resolve(r.Coord, highRes),
		HighRes: highRes,
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.timeout = s.sched.After(s.opts.Timeout, func() {
		if s.current(r, gen) {
			s.failed(r, req, ErrTimeout)
		}
	})

	go func() {
		h, err := s.loader.Load(ctx, req)
		s.sched.Post(func() {
			if s.current(r, gen) {
				s.completed(r, req, h, err)
			}
		})
	}()
}

// current reports whether a completion for generation gen of r still
// applies
func (s *Source) current(r *Record, gen uint64) bool {
	return !s.destroyed && s.cache[r.Key] == r && r.gen == gen
}

func (s *Source) abort(r *Record) {
	r.gen++
	if r.cancel != nil {
		r.cancel()
		r.cancel = nil
	}
	if r.timeout != nil {
		r.timeout.Cancel()
		r.timeout = nil
	}
}

func (s *Source) completed(r *Record, req Request, h Handle, err error) {
	if err != nil {
		s.failed(r, req, err)
		return
	}
	s.abort(r)

	now := s.sched.Now()
	r.Handle = h
	r.Loaded = true
	r.LoadedAt = now
	// prefetched tiles keep their rank until shown
	if !r.LastUsed.IsZero() {
		r.LastUsed = now
	}
	r.refreshing = false

	s.opts.Bus.TileLoad.Emit(event.Tile{Layer: s.opts.Layer, Key: r.Key, URL: req.URL})
}

func (s *Source) failed(r *Record, req Request, err error) {
	s.abort(r)
	entry := s.log.WithField("tile", r.Key).WithError(err)

	switch {
	case r.refreshing:
		// the stale handle stays usable
		r.refreshing = false
		r.LoadedAt = s.sched.Now()
		entry.Warn("tile refresh failed")
	case req.HighRes:
		entry.Debug("high resolution tile failed, retrying standard variant")
		s.load(r, false)
	default:
		delete(s.cache, r.Key)
		entry.Debug("tile load failed")
		s.opts.Bus.TileError.Emit(event.Tile{Layer: s.opts.Layer, Key: r.Key, URL: req.URL, Cause: err})
	}
}

func (s *Source) queueRefresh(r *Record) {
	r.stale = true
	s.refreshQueue = append(s.refreshQueue, r)
	if s.refreshTask == nil {
		s.refreshTask = s.sched.Idle(s.refresh)
	}
}

func (s *Source) refresh() {
	s.refreshTask = nil
	queue := s.refreshQueue
	s.refreshQueue = nil

	for _, r := range queue {
		r.stale = false
		if s.cache[r.Key] != r || !r.Loaded || r.refreshing {
			continue
		}
		r.refreshing = true
		s.load(r, r.highRes)
	}
}

func (s *Source) schedulePrefetch(vp Viewport) {
	if s.prefetchTask != nil {
		return
	}
	s.prefetchTask = s.sched.Idle(func() {
		s.prefetchTask = nil
		zoom := s.tileZoom
		for _, z := range []int{zoom - 1, zoom + 1} {
			if z < s.opts.MinZoom || z > s.opts.MaxZoom {
				continue
			}
			for _, c := range cover(vp, z) {
				s.request(c, false)
			}
		}
	})
}

func (s *Source) evict() {
	s.evictTask = nil
	excess := len(s.cache) - s.opts.MaxCacheSize
	if excess <= 0 || s.destroyed {
		return
	}

	lru := make([]*Record, 0, len(s.cache))
	for _, r := range s.cache {
		lru = append(lru, r)
	}
	sortLRU(lru)

	for _, r := range lru[:excess] {
		s.abort(r)
		delete(s.cache, r.Key)
	}
	s.log.Debugf("evicted %d tiles", excess)
}
