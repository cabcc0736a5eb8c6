// Package tileserver moves tile bytes: an HTTP fetcher with memory and
// disk caches, image decoding for raster layers, and a small HTTP server
// that publishes a local tile store.
package tileserver

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/dgraph-io/ristretto/v2"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"slippymap/internal/logging"
)

const (
	DefaultUserAgent   = "MapViewer/1.0 (slippymap)"
	DefaultMemoryBytes = 64 << 20
	DefaultTTL         = 24 * time.Hour
)

// ErrEmptyTile is returned for successful responses without a body
var ErrEmptyTile = errors.New("empty tile")

// StatusError reports a non-200 response
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("tile server returned status %d for %s", e.Code, e.URL)
}

// FetcherOptions configures a Fetcher
type FetcherOptions struct {
	// Dir is the on-disk cache, empty disables it
	Dir string

	MemoryBytes int64
	TTL         time.Duration
	UserAgent   string
	Client      *http.Client
	Log         *log.Entry
}

// Fetcher downloads tile bytes. Hits are served from memory, then disk;
// concurrent fetches of the same URL share one request.
type Fetcher struct {
	dir       string
	ttl       time.Duration
	userAgent string
	client    *http.Client
	mem       *ristretto.Cache[string, []byte]
	log       *log.Entry

	inFlight singleflight.Group
}

// NewFetcher creates a fetcher, creating the cache directory if needed
func NewFetcher(opts FetcherOptions) (*Fetcher, error) {
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}
	if opts.MemoryBytes <= 0 {
		opts.MemoryBytes = DefaultMemoryBytes
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 30 * time.Second}
	}

	mem, err := ristretto.NewCache(&ristretto.Config[string, []byte]{
		NumCounters: 100000,
		MaxCost:     opts.MemoryBytes,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}

	return &Fetcher{
		dir:       opts.Dir,
		ttl:       opts.TTL,
		userAgent: opts.UserAgent,
		client:    opts.Client,
		mem:       mem,
		log:       logging.Or(opts.Log),
	}, nil
}

// Close releases the memory cache
func (f *Fetcher) Close() {
	f.mem.Close()
}

// tilePath returns the file path of a cached URL
func (f *Fetcher) tilePath(url string) string {
	sum := sha1.Sum([]byte(url))
	name := hex.EncodeToString(sum[:])
	ext := path.Ext(url)
	if len(ext) > 6 {
		ext = ""
	}
	return filepath.Join(f.dir, name[:2], name+ext)
}

// Cached reports whether url is in the memory or disk cache
func (f *Fetcher) Cached(url string) bool {
	if _, ok := f.mem.Get(url); ok {
		return true
	}
	_, ok := f.readDisk(url)
	return ok
}

// Fetch returns the bytes at url
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if data, ok := f.mem.Get(url); ok {
		return data, nil
	}
	if data, ok := f.readDisk(url); ok {
		f.remember(url, data)
		return data, nil
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	// the shared download outlives any one caller, so an aborted load does
	// not fail the others waiting on the same url; the client timeout
	// bounds it
	ch := f.inFlight.DoChan(url, func() (interface{}, error) {
		return f.download(context.WithoutCancel(ctx), url)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]byte), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (f *Fetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch tile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{URL: url, Code: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read tile data: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%s: %w", url, ErrEmptyTile)
	}

	f.remember(url, data)
	f.writeDisk(url, data)
	return data, nil
}

func (f *Fetcher) remember(url string, data []byte) {
	f.mem.SetWithTTL(url, data, int64(len(data)), f.ttl)
	f.mem.Wait()
}

// readDisk returns a cached file younger than the TTL
func (f *Fetcher) readDisk(url string) ([]byte, bool) {
	if f.dir == "" {
		return nil, false
	}
	p := f.tilePath(url)
	info, err := os.Stat(p)
	if err != nil || time.Since(info.ModTime()) > f.ttl {
		return nil, false
	}
	data, err := os.ReadFile(p)
	if err != nil || len(data) == 0 {
		return nil, false
	}
	return data, true
}

func (f *Fetcher) writeDisk(url string, data []byte) {
	if f.dir == "" {
		return
	}
	p := f.tilePath(url)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		f.log.WithError(err).Warn("failed to cache tile")
		return
	}
	// Log but don't fail - we still have the data
	if err := os.WriteFile(p, data, 0644); err != nil {
		f.log.WithError(err).Warn("failed to cache tile")
	}
}
