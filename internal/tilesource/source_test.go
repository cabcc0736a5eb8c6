package tilesource

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slippymap/internal/camera"
	"slippymap/internal/event"
	"slippymap/internal/geo"
	"slippymap/internal/scheduler"
	"slippymap/pkg/tiles"
)

var errBoom = errors.New("boom")

type fixture struct {
	src   *Source
	sched *scheduler.Manual
	bus   *event.Bus

	loads  []event.Tile
	errors []event.Tile
}

func newFixture(t *testing.T, loader Loader, opts Options) *fixture {
	t.Helper()
	f := &fixture{sched: scheduler.NewManual(time.Unix(1700000000, 0)), bus: &event.Bus{}}
	if opts.Layer == "" {
		opts.Layer = "base"
	}
	if opts.Template.URL == "" {
		opts.Template.URL = "https://tiles.test/{z}/{x}/{y}.png"
	}
	opts.Bus = f.bus
	f.src = New(loader, f.sched, opts)
	f.bus.TileLoad.On(func(e event.Tile) { f.loads = append(f.loads, e) })
	f.bus.TileError.On(func(e event.Tile) { f.errors = append(f.errors, e) })
	t.Cleanup(f.src.Destroy)
	return f
}

// waitFor runs posted completions until cond holds
func (f *fixture) waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		f.sched.Flush()
		return cond()
	}, 2*time.Second, time.Millisecond)
}

func instant(h Handle) Loader {
	return LoaderFunc(func(ctx context.Context, req Request) (Handle, error) {
		return h, nil
	})
}

// blocking loads never finish on their own and report their key once
// cancelled
func blocking(aborted chan<- string) Loader {
	return LoaderFunc(func(ctx context.Context, req Request) (Handle, error) {
		<-ctx.Done()
		if aborted != nil {
			aborted <- req.Coord.String()
		}
		return nil, ctx.Err()
	})
}

func TestRequestDeduplicates(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	loader := LoaderFunc(func(ctx context.Context, req Request) (Handle, error) {
		calls.Add(1)
		<-release
		return "tile " + req.URL, nil
	})
	f := newFixture(t, loader, Options{})

	r1 := f.src.Request(tiles.TileCoord{X: 1, Y: 1, Zoom: 2})
	// a world copy east of the primary world is the same tile
	r2 := f.src.Request(tiles.TileCoord{X: 5, Y: 1, Zoom: 2})
	require.NotNil(t, r1)
	assert.Same(t, r1, r2)
	assert.Equal(t, 1, f.src.Len())
	assert.Equal(t, 1, f.src.Pending())
	assert.True(t, r1.Pending())

	close(release)
	f.waitFor(t, func() bool { return r1.Loaded })

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, "tile https://tiles.test/2/1/1.png", r1.Handle)
	require.Len(t, f.loads, 1)
	assert.Equal(t, "2/1/1", f.loads[0].Key)
	assert.Equal(t, "base", f.loads[0].Layer)
	assert.Equal(t, 0, f.src.Pending())

	got, ok := f.src.Get("2/1/1")
	require.True(t, ok)
	assert.Same(t, r1, got)
}

func TestRequestRejectsInvalidRows(t *testing.T) {
	f := newFixture(t, instant("x"), Options{})
	assert.Nil(t, f.src.Request(tiles.TileCoord{X: 0, Y: 4, Zoom: 2}))
	assert.Nil(t, f.src.Request(tiles.TileCoord{X: 0, Y: -1, Zoom: 2}))
	assert.Equal(t, 0, f.src.Len())
}

func TestLoadErrorDropsRecord(t *testing.T) {
	loader := LoaderFunc(func(ctx context.Context, req Request) (Handle, error) {
		return nil, errBoom
	})
	f := newFixture(t, loader, Options{})

	f.src.Request(tiles.TileCoord{X: 1, Y: 1, Zoom: 2})
	f.waitFor(t, func() bool { return len(f.errors) == 1 })

	assert.Equal(t, 0, f.src.Len())
	assert.ErrorIs(t, f.errors[0].Cause, errBoom)
	assert.Equal(t, "2/1/1", f.errors[0].Key)
	assert.Equal(t, "https://tiles.test/2/1/1.png", f.errors[0].URL)
	assert.Empty(t, f.loads)
}

func TestTimeout(t *testing.T) {
	aborted := make(chan string, 1)
	f := newFixture(t, blocking(aborted), Options{Timeout: 5 * time.Second})

	f.src.Request(tiles.TileCoord{X: 3, Y: 2, Zoom: 3})
	f.sched.Advance(4 * time.Second)
	assert.Empty(t, f.errors)
	assert.Equal(t, 1, f.src.Len())

	f.sched.Advance(time.Second)
	require.Len(t, f.errors, 1)
	assert.ErrorIs(t, f.errors[0].Cause, ErrTimeout)
	assert.Equal(t, 0, f.src.Len())

	select {
	case key := <-aborted:
		assert.Equal(t, "3/3/2", key)
	case <-time.After(2 * time.Second):
		t.Fatal("load was not cancelled")
	}

	// the late completion of the aborted load is ignored
	f.sched.Flush()
	assert.Len(t, f.errors, 1)
	assert.Empty(t, f.loads)
}

func retinaOptions() Options {
	return Options{
		Template: tiles.Template{
			URL:    "https://tiles.test/{z}/{x}/{y}{r}.png",
			Retina: true,
		},
		PixelRatio: 2,
	}
}

func TestRetinaFallsBackToStandard(t *testing.T) {
	var mu sync.Mutex
	var urls []string
	loader := LoaderFunc(func(ctx context.Context, req Request) (Handle, error) {
		mu.Lock()
		urls = append(urls, req.URL)
		mu.Unlock()
		if req.HighRes {
			return nil, errBoom
		}
		return "standard", nil
	})
	f := newFixture(t, loader, retinaOptions())

	r := f.src.Request(tiles.TileCoord{X: 1, Y: 2, Zoom: 3})
	f.waitFor(t, func() bool { return r.Loaded })

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{
		"https://tiles.test/3/1/2@2x.png",
		"https://tiles.test/3/1/2.png",
	}, urls)
	assert.Equal(t, "standard", r.Handle)
	assert.Empty(t, f.errors)
}

func TestRetinaRetriesOnlyOnce(t *testing.T) {
	var calls atomic.Int32
	loader := LoaderFunc(func(ctx context.Context, req Request) (Handle, error) {
		calls.Add(1)
		return nil, errBoom
	})
	f := newFixture(t, loader, retinaOptions())

	f.src.Request(tiles.TileCoord{X: 1, Y: 2, Zoom: 3})
	f.waitFor(t, func() bool { return len(f.errors) == 1 })

	assert.Equal(t, int32(2), calls.Load())
	assert.False(t, strings.Contains(f.errors[0].URL, "@2x"))
}

func TestStandardDisplayDoesNotRequestRetina(t *testing.T) {
	opts := retinaOptions()
	opts.PixelRatio = 1
	var highRes atomic.Bool
	loader := LoaderFunc(func(ctx context.Context, req Request) (Handle, error) {
		if req.HighRes {
			highRes.Store(true)
		}
		return "ok", nil
	})
	f := newFixture(t, loader, opts)

	r := f.src.Request(tiles.TileCoord{X: 1, Y: 2, Zoom: 3})
	f.waitFor(t, func() bool { return r.Loaded })
	assert.False(t, highRes.Load())
}

func TestTTLRefreshSwapsHandle(t *testing.T) {
	var version atomic.Int32
	loader := LoaderFunc(func(ctx context.Context, req Request) (Handle, error) {
		return version.Add(1), nil
	})
	f := newFixture(t, loader, Options{TTL: time.Hour})

	coord := tiles.TileCoord{X: 0, Y: 0, Zoom: 1}
	r := f.src.Request(coord)
	f.waitFor(t, func() bool { return r.Loaded })
	assert.Equal(t, int32(1), r.Handle)

	// fresh tiles are not refreshed
	f.src.Request(coord)
	f.sched.RunIdle()
	assert.Equal(t, int32(1), version.Load())

	f.sched.Sleep(2 * time.Hour)
	assert.Same(t, r, f.src.Request(coord))
	f.sched.RunIdle()
	f.waitFor(t, func() bool { return r.Handle == int32(2) })

	assert.True(t, r.Loaded)
	assert.Equal(t, f.sched.Now(), r.LoadedAt)
	assert.Len(t, f.loads, 2)
}

func TestTTLRefreshFailureKeepsStaleHandle(t *testing.T) {
	var calls atomic.Int32
	loader := LoaderFunc(func(ctx context.Context, req Request) (Handle, error) {
		if calls.Add(1) > 1 {
			return nil, errBoom
		}
		return "v1", nil
	})
	f := newFixture(t, loader, Options{TTL: time.Hour})

	coord := tiles.TileCoord{X: 0, Y: 0, Zoom: 1}
	r := f.src.Request(coord)
	f.waitFor(t, func() bool { return r.Loaded })

	f.sched.Sleep(2 * time.Hour)
	f.src.Request(coord)
	f.sched.RunIdle()
	f.waitFor(t, func() bool { return calls.Load() == 2 && !r.refreshing })

	assert.Equal(t, "v1", r.Handle)
	assert.Equal(t, 1, f.src.Len())
	assert.Empty(t, f.errors)
}

func TestEvictionIsLRU(t *testing.T) {
	aborted := make(chan string, 4)
	f := newFixture(t, blocking(aborted), Options{MaxCacheSize: 2})

	a := tiles.TileCoord{X: 0, Y: 0, Zoom: 1}
	b := tiles.TileCoord{X: 1, Y: 0, Zoom: 1}
	c := tiles.TileCoord{X: 0, Y: 1, Zoom: 1}

	f.src.Request(a)
	f.sched.Sleep(time.Second)
	f.src.Request(b)
	f.sched.Sleep(time.Second)
	f.src.Request(c)
	// touching a makes b the least recently used
	f.src.Request(a)
	assert.Equal(t, 3, f.src.Len())

	f.sched.RunIdle()
	assert.Equal(t, 2, f.src.Len())
	_, ok := f.src.Get(b.String())
	assert.False(t, ok)
	_, ok = f.src.Get(a.String())
	assert.True(t, ok)

	select {
	case key := <-aborted:
		assert.Equal(t, b.String(), key)
	case <-time.After(2 * time.Second):
		t.Fatal("evicted load was not aborted")
	}
}

func TestEvictionTiesUseInsertionOrder(t *testing.T) {
	f := newFixture(t, blocking(nil), Options{MaxCacheSize: 1})

	f.src.Request(tiles.TileCoord{X: 0, Y: 0, Zoom: 1})
	f.src.Request(tiles.TileCoord{X: 1, Y: 0, Zoom: 1})
	f.sched.RunIdle()

	_, ok := f.src.Get("1/1/0")
	assert.True(t, ok)
	assert.Equal(t, 1, f.src.Len())
}

func TestUpdateVisibleSetAndPrefetch(t *testing.T) {
	f := newFixture(t, blocking(nil), Options{MaxCacheSize: 100})
	cam := camera.NewCamera(geo.LatLng{}, 2, 512, 512, nil)

	placements := f.src.Update(cam)
	assert.Equal(t, 2, f.src.TileZoom())
	require.Len(t, placements, 4)
	keys := make([]string, 0, len(placements))
	for _, p := range placements {
		keys = append(keys, p.Key)
		assert.NotNil(t, p.Record)
	}
	assert.ElementsMatch(t, []string{"2/1/1", "2/2/1", "2/1/2", "2/2/2"}, keys)
	assert.Equal(t, placements, f.src.Placements())
	assert.Equal(t, 4, f.src.Len())

	// an integer zoom prefetches 4 tiles at z1 and 16 at z3
	f.sched.RunIdle()
	assert.Equal(t, 24, f.src.Len())
}

func TestPrefetchYieldsToVisibleTiles(t *testing.T) {
	f := newFixture(t, blocking(nil), Options{MaxCacheSize: 6})
	cam := camera.NewCamera(geo.LatLng{}, 2, 512, 512, nil)
	visible := []string{"2/1/1", "2/2/1", "2/1/2", "2/2/2"}

	f.src.Update(cam)
	f.sched.Sleep(time.Second)
	f.sched.RunIdle()
	// prefetch only fills the room left in the cache
	assert.Equal(t, 6, f.src.Len())

	f.src.Request(tiles.TileCoord{X: 0, Y: 0, Zoom: 3})
	f.sched.RunIdle()
	assert.Equal(t, 6, f.src.Len())
	for _, key := range visible {
		_, ok := f.src.Get(key)
		assert.True(t, ok, key)
	}
	_, ok := f.src.Get("3/0/0")
	assert.True(t, ok)

	prefetched := 0
	for _, key := range []string{"1/0/0", "1/1/0", "1/0/1", "1/1/1"} {
		if r, ok := f.src.Get(key); ok {
			prefetched++
			assert.True(t, r.LastUsed.IsZero())
		}
	}
	assert.Equal(t, 1, prefetched)

	// becoming visible ranks a prefetched tile like any other
	f.src.Update(camera.NewCamera(geo.LatLng{}, 1, 512, 512, nil))
	for _, key := range []string{"1/0/0", "1/1/0", "1/0/1", "1/1/1"} {
		r, ok := f.src.Get(key)
		require.True(t, ok, key)
		assert.False(t, r.LastUsed.IsZero())
	}
}

func TestUpdateFractionalZoomSkipsPrefetch(t *testing.T) {
	f := newFixture(t, blocking(nil), Options{})
	cam := camera.NewCamera(geo.LatLng{}, 2.5, 512, 512, nil)

	f.src.Update(cam)
	assert.Equal(t, 3, f.src.TileZoom())
	n := f.src.Len()

	f.sched.RunIdle()
	assert.Equal(t, n, f.src.Len())
}

func TestUpdateWorldCopies(t *testing.T) {
	f := newFixture(t, blocking(nil), Options{})
	cam := camera.NewCamera(geo.LatLng{}, 0, 1024, 256, nil)

	placements := f.src.Update(cam)
	require.Len(t, placements, 5)
	for i, p := range placements {
		assert.Equal(t, i-2, p.Coord.X)
		assert.Equal(t, "0/0/0", p.Key)
	}
	assert.Equal(t, 1, f.src.Len())
}

func TestUpdateClampsToLayerZoomRange(t *testing.T) {
	f := newFixture(t, blocking(nil), Options{MinZoom: 2, MaxZoom: 3})

	f.src.Update(camera.NewCamera(geo.LatLng{}, 5, 256, 256, nil))
	assert.Equal(t, 3, f.src.TileZoom())

	f.src.Update(camera.NewCamera(geo.LatLng{}, 0.2, 256, 256, nil))
	assert.Equal(t, 2, f.src.TileZoom())
}

func TestDestroyIsIdempotent(t *testing.T) {
	aborted := make(chan string, 2)
	f := newFixture(t, blocking(aborted), Options{})

	f.src.Request(tiles.TileCoord{X: 0, Y: 0, Zoom: 1})
	f.src.Request(tiles.TileCoord{X: 1, Y: 0, Zoom: 1})

	f.src.Destroy()
	f.src.Destroy()
	assert.Equal(t, 0, f.src.Len())
	assert.Nil(t, f.src.Request(tiles.TileCoord{X: 0, Y: 0, Zoom: 1}))
	assert.Nil(t, f.src.Update(camera.NewCamera(geo.LatLng{}, 1, 256, 256, nil)))

	for i := 0; i < 2; i++ {
		select {
		case <-aborted:
		case <-time.After(2 * time.Second):
			t.Fatal("load was not cancelled")
		}
	}
	f.sched.Advance(time.Minute)
	assert.Empty(t, f.loads)
	assert.Empty(t, f.errors)
}
