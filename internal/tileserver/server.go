package tileserver

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"slippymap/internal/logging"
	"slippymap/pkg/tiles"
)

// Store is a local source of tile bytes, such as an MBTiles file
type Store interface {
	Tile(ctx context.Context, coord tiles.TileCoord) ([]byte, error)
}

// Server publishes a Store over HTTP as /tiles/{z}/{x}/{y}[.ext], so the
// viewer can use a seeded file through an ordinary URL template
type Server struct {
	store  Store
	addr   string
	server *http.Server
	log    *log.Entry
}

// NewServer creates a new tile server
func NewServer(store Store, addr string, logger *log.Entry) *Server {
	return &Server{
		store: store,
		addr:  addr,
		log:   logging.Or(logger),
	}
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tiles/{z}/{x}/{y}", s.handleTile)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Start serves until Stop is called
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}

	s.log.Infof("tile server listening on %s", s.addr)
	err := s.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop stops the tile server
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func (s *Server) handleTile(w http.ResponseWriter, r *http.Request) {
	zoom, err := strconv.Atoi(r.PathValue("z"))
	if err != nil {
		http.Error(w, "Invalid zoom", http.StatusBadRequest)
		return
	}
	x, err := strconv.Atoi(r.PathValue("x"))
	if err != nil {
		http.Error(w, "Invalid x", http.StatusBadRequest)
		return
	}
	// Remove the extension if present
	yStr, _, _ := strings.Cut(r.PathValue("y"), ".")
	y, err := strconv.Atoi(yStr)
	if err != nil {
		http.Error(w, "Invalid y", http.StatusBadRequest)
		return
	}

	coord := tiles.TileCoord{X: x, Y: y, Zoom: zoom}
	if !coord.Valid() || coord.Wrap() != coord {
		http.Error(w, "Invalid tile", http.StatusBadRequest)
		return
	}

	data, err := s.store.Tile(r.Context(), coord)
	switch {
	case errors.Is(err, tiles.ErrNotFound):
		http.NotFound(w, r)
		return
	case err != nil:
		s.log.WithField("tile", coord.String()).WithError(err).Warn("tile lookup failed")
		http.Error(w, "Failed to get tile", http.StatusInternalServerError)
		return
	}

	if isGzip(data) {
		// vector tiles are stored compressed
		w.Header().Set("Content-Type", "application/x-protobuf")
		w.Header().Set("Content-Encoding", "gzip")
	} else {
		w.Header().Set("Content-Type", http.DetectContentType(data))
	}
	w.Header().Set("Cache-Control", "max-age=86400")
	w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func isGzip(data []byte) bool {
	return bytes.HasPrefix(data, []byte{0x1f, 0x8b})
}
