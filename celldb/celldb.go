// Package celldb resolves cell-tower identifiers to coordinates using a
// read-only SQLite database with a `cellids` table.
package celldb

import (
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	_ "github.com/mattn/go-sqlite3"
)

// Cell is what the database knows about one tower.
type Cell struct {
	ID      string
	Address string
	Lat     float64
	Lon     float64
	Azimuth string
}

// DB is a cell-ID lookup backed by SQLite. Lookups are cached.
type DB struct {
	db    *sql.DB
	mu    sync.RWMutex
	cache map[string]*Cell
}

// Open opens the database at path read-only.
func Open(path string) (*DB, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?mode=ro", path))
	if err != nil {
		return nil, fmt.Errorf("cannot open cell DB at %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot open cell DB at %s: %w", path, err)
	}
	return &DB{db: db, cache: map[string]*Cell{}}, nil
}

// Close releases the database handle.
func (c *DB) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Lookup returns the cell for id, matching with or without hyphens. A nil
// cell and nil error mean the id is unknown.
func (c *DB) Lookup(id string) (*Cell, error) {
	id = strings.ReplaceAll(strings.TrimSpace(id), "-", "")
	if id == "" {
		return nil, nil
	}
	c.mu.RLock()
	cell, ok := c.cache[id]
	c.mu.RUnlock()
	if ok {
		return cell, nil
	}

	const q = `
        SELECT cellid, address, latitude, longitude, azimuth
          FROM cellids
         WHERE cellid=? OR REPLACE(cellid,'-','')=?
         LIMIT 1`
	var cid, addr, lat, lon, az sql.NullString
	err := c.db.QueryRow(q, id, id).Scan(&cid, &addr, &lat, &lon, &az)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		cell = nil
	case err != nil:
		return nil, fmt.Errorf("lookup cell %s: %w", id, err)
	default:
		cell = &Cell{ID: cid.String, Address: addr.String, Azimuth: az.String}
		la, err1 := strconv.ParseFloat(strings.TrimSpace(lat.String), 64)
		lo, err2 := strconv.ParseFloat(strings.TrimSpace(lon.String), 64)
		if err1 != nil || err2 != nil {
			cell = nil
		} else {
			cell.Lat, cell.Lon = la, lo
		}
	}

	c.mu.Lock()
	c.cache[id] = cell
	c.mu.Unlock()
	return cell, nil
}

// Locate implements the ingestion pipeline's coordinate lookup.
func (c *DB) Locate(id string) (lat, lon float64, ok bool) {
	cell, err := c.Lookup(id)
	if err != nil || cell == nil {
		return 0, 0, false
	}
	return cell.Lat, cell.Lon, true
}
