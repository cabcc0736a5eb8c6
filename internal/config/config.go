package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. SLIPPYMAP_VIEW_ZOOM
const EnvPrefix = "SLIPPYMAP"

var (
	ErrInvalidCenter    = errors.New("invalid initial center")
	ErrInvalidZoom      = errors.New("invalid zoom range")
	ErrInvalidLayer     = errors.New("invalid layer")
	ErrInvalidCache     = errors.New("invalid cache settings")
	ErrInvalidWindow    = errors.New("invalid window size")
	ErrInvalidRender    = errors.New("invalid render settings")
	ErrUnknownLayerKind = errors.New("unknown layer kind")
)

// Layer kinds
const (
	KindRaster  = "raster"
	KindVector  = "vector"
	KindMBTiles = "mbtiles"
)

// Config holds application configuration
type Config struct {
	View        View        `mapstructure:"view"`
	Window      Window      `mapstructure:"window"`
	Layers      []Layer     `mapstructure:"layers"`
	Cache       Cache       `mapstructure:"cache"`
	Interaction Interaction `mapstructure:"interaction"`
	Render      Render      `mapstructure:"render"`
	Log         Log         `mapstructure:"log"`
	Seed        Seed        `mapstructure:"seed"`
}

// View is the initial viewport
type View struct {
	Lat     float64 `mapstructure:"lat"`
	Lon     float64 `mapstructure:"lon"`
	Zoom    float64 `mapstructure:"zoom"`
	Bearing float64 `mapstructure:"bearing"` // degrees
	MinZoom float64 `mapstructure:"min_zoom"`
	MaxZoom float64 `mapstructure:"max_zoom"`
}

// Window describes the desktop host window
type Window struct {
	Width      int     `mapstructure:"width"`
	Height     int     `mapstructure:"height"`
	Title      string  `mapstructure:"title"`
	PixelRatio float64 `mapstructure:"pixel_ratio"`
}

// Layer configures one tile layer
type Layer struct {
	ID         string   `mapstructure:"id"`
	Kind       string   `mapstructure:"kind"` // raster, vector or mbtiles
	URL        string   `mapstructure:"url"`
	Path       string   `mapstructure:"path"` // mbtiles file
	Subdomains []string `mapstructure:"subdomains"`
	MinZoom    int      `mapstructure:"min_zoom"`
	MaxZoom    int      `mapstructure:"max_zoom"`
	Retina     bool     `mapstructure:"retina"`
	Overlay    bool     `mapstructure:"overlay"`
}

// Cache contains tile cache parameters
type Cache struct {
	// MaxTiles bounds each layer's in-memory tile cache
	MaxTiles int `mapstructure:"max_tiles"`

	// TTL after which loaded tiles are refreshed in the background
	TTL time.Duration `mapstructure:"ttl"`

	// Timeout for a single tile load
	Timeout time.Duration `mapstructure:"timeout"`

	// Dir is the on-disk byte cache, empty disables it
	Dir string `mapstructure:"dir"`

	// MemoryBytes bounds the in-memory byte cache of the fetcher
	MemoryBytes int64 `mapstructure:"memory_bytes"`

	UserAgent string `mapstructure:"user_agent"`
}

// Interaction tunes the gesture handlers
type Interaction struct {
	InertiaDeceleration float64       `mapstructure:"inertia_deceleration"` // px/ms²
	InertiaStopSpeed    float64       `mapstructure:"inertia_stop_speed"`   // px/ms
	InertiaMaxSpeed     float64       `mapstructure:"inertia_max_speed"`    // px/ms
	WheelZoomStep       float64       `mapstructure:"wheel_zoom_step"`
	WheelDuration       time.Duration `mapstructure:"wheel_duration"`
	KeyPanStep          float64       `mapstructure:"key_pan_step"` // px
	ZoomDuration        time.Duration `mapstructure:"zoom_duration"`
	PinchRotate         bool          `mapstructure:"pinch_rotate"`
}

// Render contains desktop renderer parameters
type Render struct {
	// CityMask fogs everything outside the cities found in vector overlays
	CityMask bool `mapstructure:"city_mask"`

	// CityRadiusPercent controls the city mask radius (0-100)
	// 0 = cities invisible, 100 = mask off
	CityRadiusPercent float64 `mapstructure:"city_radius_percent"`

	// CityRadius is the mask radius of a rank 10 city in degrees
	CityRadius float64 `mapstructure:"city_radius"`
}

// Log configures logging
type Log struct {
	Level string `mapstructure:"level"`
	File  string `mapstructure:"file"` // rotated with lumberjack when set
	// MaxSizeMB and MaxBackups apply to File
	MaxSizeMB  int `mapstructure:"max_size_mb"`
	MaxBackups int `mapstructure:"max_backups"`
}

// Seed configures cmd/tileseed
type Seed struct {
	Layer   string    `mapstructure:"layer"`
	Output  string    `mapstructure:"output"`
	Bounds  []float64 `mapstructure:"bounds"` // west, south, east, north
	MinZoom int       `mapstructure:"min_zoom"`
	MaxZoom int       `mapstructure:"max_zoom"`
	Workers int       `mapstructure:"workers"`
}

// Default returns the default configuration
func Default() *Config {
	v := newViper()
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		// defaults are static, this only fails on a programming error
		panic(fmt.Sprintf("config defaults: %v", err))
	}
	return cfg
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("view.lat", 51.505)
	v.SetDefault("view.lon", -0.09)
	v.SetDefault("view.zoom", 13.0)
	v.SetDefault("view.bearing", 0.0)
	v.SetDefault("view.min_zoom", 0.0)
	v.SetDefault("view.max_zoom", 19.0)

	v.SetDefault("window.width", 1280)
	v.SetDefault("window.height", 720)
	v.SetDefault("window.title", "Map Viewer")
	v.SetDefault("window.pixel_ratio", 1.0)

	v.SetDefault("layers", []map[string]interface{}{
		{
			"id":         "osm",
			"kind":       KindRaster,
			"url":        "https://tile.openstreetmap.org/{z}/{x}/{y}.png",
			"min_zoom":   0,
			"max_zoom":   19,
			"subdomains": []string{},
		},
		{
			"id":         "voyager",
			"kind":       KindRaster,
			"url":        "https://{s}.basemaps.cartocdn.com/rastertiles/voyager_nolabels/{z}/{x}/{y}{r}.png",
			"min_zoom":   0,
			"max_zoom":   19,
			"subdomains": []string{"a", "b", "c", "d"},
			"retina":     true,
		},
	})

	v.SetDefault("cache.max_tiles", 512)
	v.SetDefault("cache.ttl", 24*time.Hour)
	v.SetDefault("cache.timeout", 10*time.Second)
	v.SetDefault("cache.dir", ".tile_cache")
	v.SetDefault("cache.memory_bytes", int64(64<<20))
	v.SetDefault("cache.user_agent", "MapViewer/1.0 (slippymap)")

	v.SetDefault("interaction.inertia_deceleration", 0.0034)
	v.SetDefault("interaction.inertia_stop_speed", 0.05)
	v.SetDefault("interaction.inertia_max_speed", 6.0)
	v.SetDefault("interaction.wheel_zoom_step", 1.0)
	v.SetDefault("interaction.wheel_duration", 150*time.Millisecond)
	v.SetDefault("interaction.key_pan_step", 80.0)
	v.SetDefault("interaction.zoom_duration", 250*time.Millisecond)
	v.SetDefault("interaction.pinch_rotate", true)

	v.SetDefault("render.city_mask", false)
	v.SetDefault("render.city_radius_percent", 100.0)
	v.SetDefault("render.city_radius", 0.15)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)

	v.SetDefault("seed.layer", "osm")
	v.SetDefault("seed.output", "tiles.mbtiles")
	v.SetDefault("seed.bounds", []float64{})
	v.SetDefault("seed.min_zoom", 0)
	v.SetDefault("seed.max_zoom", 4)
	v.SetDefault("seed.workers", 4)
	return v
}

// Load reads a TOML file on top of the defaults. A missing file is not an
// error; the defaults and environment still apply. The result is validated.
func Load(path string) (*Config, error) {
	v := newViper()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("stat config %s: %w", path, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the map cannot start with
func (c *Config) Validate() error {
	v := c.View
	if !finite(v.Lat) || !finite(v.Lon) || v.Lat < -90 || v.Lat > 90 {
		return fmt.Errorf("%w: lat=%v lon=%v", ErrInvalidCenter, v.Lat, v.Lon)
	}
	if !finite(v.Zoom) || !finite(v.MinZoom) || !finite(v.MaxZoom) || v.MinZoom < 0 || v.MinZoom > v.MaxZoom {
		return fmt.Errorf("%w: min=%v max=%v", ErrInvalidZoom, v.MinZoom, v.MaxZoom)
	}
	if c.Window.Width <= 0 || c.Window.Height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrInvalidWindow, c.Window.Width, c.Window.Height)
	}
	if c.Cache.MaxTiles <= 0 || c.Cache.Timeout <= 0 {
		return fmt.Errorf("%w: max_tiles=%d timeout=%s", ErrInvalidCache, c.Cache.MaxTiles, c.Cache.Timeout)
	}

	if r := c.Render; !finite(r.CityRadiusPercent) || r.CityRadiusPercent < 0 || r.CityRadiusPercent > 100 || !finite(r.CityRadius) || r.CityRadius < 0 {
		return fmt.Errorf("%w: city_radius_percent=%v city_radius=%v", ErrInvalidRender, r.CityRadiusPercent, r.CityRadius)
	}

	seen := make(map[string]bool)
	for i, l := range c.Layers {
		if l.ID == "" {
			return fmt.Errorf("%w: layer %d has no id", ErrInvalidLayer, i)
		}
		if seen[l.ID] {
			return fmt.Errorf("%w: duplicate id %q", ErrInvalidLayer, l.ID)
		}
		seen[l.ID] = true

		switch l.Kind {
		case KindRaster, KindVector:
			if l.URL == "" {
				return fmt.Errorf("%w: %q has no url", ErrInvalidLayer, l.ID)
			}
		case KindMBTiles:
			if l.Path == "" {
				return fmt.Errorf("%w: %q has no path", ErrInvalidLayer, l.ID)
			}
		default:
			return fmt.Errorf("%w: %q", ErrUnknownLayerKind, l.Kind)
		}
		if l.MinZoom < 0 || l.MinZoom > l.MaxZoom {
			return fmt.Errorf("%w: %q zoom range %d-%d", ErrInvalidLayer, l.ID, l.MinZoom, l.MaxZoom)
		}
	}
	return nil
}

// LayerByID returns the layer with the given id
func (c *Config) LayerByID(id string) (Layer, bool) {
	for _, l := range c.Layers {
		if l.ID == id {
			return l, true
		}
	}
	return Layer{}, false
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
