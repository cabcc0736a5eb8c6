package tiles

import (
	"path"
	"strconv"
	"strings"
)

// DefaultRetinaSuffix is inserted into high resolution tile URLs
const DefaultRetinaSuffix = "@2x"

// Template resolves tile URLs such as
// "https://{s}.tile.example.org/{z}/{x}/{y}{r}.png".
type Template struct {
	URL        string
	Subdomains []string

	// Retina is set when the provider serves high resolution variants
	Retina       bool
	RetinaSuffix string
}

// HighRes reports whether URLs should request the high resolution variant
// for the given device pixel ratio
func (t Template) HighRes(pixelRatio, threshold float64) bool {
	return t.Retina && pixelRatio > threshold
}

// Resolve substitutes the placeholders for the wrapped tile. When highRes
// is set the retina suffix replaces {r}, or is inserted before the file
// extension when the template has no {r}.
func (t Template) Resolve(coord TileCoord, highRes bool) string {
	w := coord.Wrap()

	url := strings.Replace(t.URL, "{z}", strconv.Itoa(w.Zoom), -1)
	url = strings.Replace(url, "{x}", strconv.Itoa(w.X), -1)
	url = strings.Replace(url, "{y}", strconv.Itoa(w.Y), -1)
	url = strings.Replace(url, "{s}", t.subdomain(w), -1)

	suffix := ""
	if highRes {
		suffix = t.RetinaSuffix
		if suffix == "" {
			suffix = DefaultRetinaSuffix
		}
	}

	if strings.Contains(url, "{r}") {
		return strings.Replace(url, "{r}", suffix, -1)
	}
	if suffix == "" {
		return url
	}
	return insertSuffix(url, suffix)
}

func (t Template) subdomain(w TileCoord) string {
	if len(t.Subdomains) == 0 {
		return ""
	}
	idx := (w.X + w.Y) % len(t.Subdomains)
	return t.Subdomains[idx]
}

// insertSuffix places suffix before the extension of the last path
// element, ignoring any query string
func insertSuffix(url, suffix string) string {
	query := ""
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url, query = url[:i], url[i:]
	}

	ext := path.Ext(url)
	if ext == "" || strings.Contains(ext, "/") {
		return url + suffix + query
	}
	return strings.TrimSuffix(url, ext) + suffix + ext + query
}
