package tileserver

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"slippymap/internal/tilesource"
)

// DecodeImage decodes png, jpeg or webp tile bytes
func DecodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode tile image: %w", err)
	}
	return img, nil
}

// RasterLoader loads raster tiles through a Fetcher. Handles are
// image.Image values.
type RasterLoader struct {
	fetcher *Fetcher
}

func NewRasterLoader(f *Fetcher) *RasterLoader {
	return &RasterLoader{fetcher: f}
}

// Load implements tilesource.Loader
func (l *RasterLoader) Load(ctx context.Context, req tilesource.Request) (tilesource.Handle, error) {
	data, err := l.fetcher.Fetch(ctx, req.URL)
	if err != nil {
		return nil, err
	}
	img, err := DecodeImage(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", req.Coord, err)
	}
	return img, nil
}
