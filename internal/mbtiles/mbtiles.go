// Package mbtiles reads and writes MBTiles files: tiles in a sqlite
// database with rows stored bottom-up (TMS).
package mbtiles

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"

	"slippymap/internal/tilesource"
	"slippymap/pkg/tiles"
)

// Version is written to the metadata table of new files
const Version = "1.3"

var schema = []string{
	"create table if not exists tiles (zoom_level integer, tile_column integer, tile_row integer, tile_data blob);",
	"create table if not exists metadata (name text, value text);",
	"create unique index if not exists name on metadata (name);",
	"create unique index if not exists tile_index on tiles (zoom_level, tile_column, tile_row);",
}

// Store is an open MBTiles file
type Store struct {
	db   *sql.DB
	path string
}

// Open opens path, creating the file and its tables if needed
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open mbtiles %s: %w", path, err)
	}
	// sqlite serializes writers anyway
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA synchronous=0"); err != nil {
		db.Close()
		return nil, fmt.Errorf("configure mbtiles %s: %w", path, err)
	}
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("create mbtiles schema %s: %w", path, err)
		}
	}
	return &Store{db: db, path: path}, nil
}

// Path returns the file path
func (s *Store) Path() string {
	return s.path
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Tile returns the data of the wrapped coord, or tiles.ErrNotFound
func (s *Store) Tile(ctx context.Context, coord tiles.TileCoord) ([]byte, error) {
	coord = coord.Wrap()
	var data []byte
	err := s.db.QueryRowContext(ctx,
		"select tile_data from tiles where zoom_level = ? and tile_column = ? and tile_row = ?",
		coord.Zoom, coord.X, coord.FlipY(),
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", coord, tiles.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("read tile %s: %w", coord, err)
	}
	return data, nil
}

// Put stores data for coord, replacing an existing tile
func (s *Store) Put(ctx context.Context, coord tiles.TileCoord, data []byte) error {
	coord = coord.Wrap()
	_, err := s.db.ExecContext(ctx,
		"insert or replace into tiles (zoom_level, tile_column, tile_row, tile_data) values (?, ?, ?, ?);",
		coord.Zoom, coord.X, coord.FlipY(), data,
	)
	if err != nil {
		return fmt.Errorf("write tile %s: %w", coord, err)
	}
	return nil
}

// Has reports whether coord is stored
func (s *Store) Has(ctx context.Context, coord tiles.TileCoord) (bool, error) {
	coord = coord.Wrap()
	var n int
	err := s.db.QueryRowContext(ctx,
		"select count(*) from tiles where zoom_level = ? and tile_column = ? and tile_row = ?",
		coord.Zoom, coord.X, coord.FlipY(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("lookup tile %s: %w", coord, err)
	}
	return n > 0, nil
}

// Count returns the number of stored tiles
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, "select count(*) from tiles").Scan(&n); err != nil {
		return 0, fmt.Errorf("count tiles: %w", err)
	}
	return n, nil
}

// SetMetadata writes the given metadata entries
func (s *Store) SetMetadata(ctx context.Context, items map[string]string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for name, value := range items {
		if _, err := tx.ExecContext(ctx, "insert or replace into metadata (name, value) values (?, ?)", name, value); err != nil {
			tx.Rollback()
			return fmt.Errorf("write metadata %s: %w", name, err)
		}
	}
	return tx.Commit()
}

// Metadata returns every metadata entry
func (s *Store) Metadata(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, "select name, value from metadata")
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	defer rows.Close()

	items := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("read metadata: %w", err)
		}
		items[name] = value
	}
	return items, rows.Err()
}

// DecodeFunc turns stored bytes into a tile handle
type DecodeFunc func(data []byte, coord tiles.TileCoord) (tilesource.Handle, error)

// Loader serves a tilesource from the store
type Loader struct {
	store  *Store
	decode DecodeFunc
}

func NewLoader(store *Store, decode DecodeFunc) *Loader {
	return &Loader{store: store, decode: decode}
}

// Load implements tilesource.Loader. The URL of the request is ignored.
func (l *Loader) Load(ctx context.Context, req tilesource.Request) (tilesource.Handle, error) {
	data, err := l.store.Tile(ctx, req.Coord)
	if err != nil {
		return nil, err
	}
	return l.decode(data, req.Coord)
}
