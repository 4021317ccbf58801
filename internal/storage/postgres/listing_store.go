// Package postgres provides the Postgres-backed listing store.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"casawatch/internal/monitor"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ListingStoreConfig controls the Postgres connection pool.
type ListingStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type dbPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// ListingStore persists listings in Postgres. The canonical identifier
// is the primary key, so concurrent inserts of the same listing resolve
// to exactly one row.
type ListingStore struct {
	pool  dbPool
	table string
}

// NewListingStore connects a pool and returns the store.
func NewListingStore(ctx context.Context, cfg ListingStoreConfig) (*ListingStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "listings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &ListingStore{pool: pool, table: table}, nil
}

// NewListingStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewListingStoreWithPool(pool dbPool, table string) (*ListingStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "listings"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ListingStore{pool: pool, table: table}, nil
}

// Migrate creates the listings table if it does not exist.
func (s *ListingStore) Migrate(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	site TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL DEFAULT '',
	location TEXT NOT NULL DEFAULT '',
	price BIGINT NOT NULL DEFAULT 0,
	raw_price TEXT NOT NULL DEFAULT '',
	found_at TIMESTAMPTZ NOT NULL
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create listings table: %w", err)
	}
	return nil
}

// Ping verifies the connection is alive.
func (s *ListingStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *ListingStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Exists implements monitor.ListingStore.
func (s *ListingStore) Exists(ctx context.Context, _ string, id string) (bool, error) {
	query := fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, s.table)
	var exists bool
	if err := s.pool.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check listing existence: %w", err)
	}
	return exists, nil
}

// Insert implements monitor.ListingStore. A concurrent writer that got
// there first surfaces as monitor.ErrConflict.
func (s *ListingStore) Insert(ctx context.Context, listing monitor.Listing) error {
	if listing.ID == "" {
		return fmt.Errorf("listing id is required")
	}
	query := fmt.Sprintf(`
INSERT INTO %s (id, site, title, url, location, price, raw_price, found_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
ON CONFLICT (id) DO NOTHING`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		listing.ID,
		listing.Site,
		listing.Title,
		listing.URL,
		listing.Location,
		listing.Price,
		listing.RawPrice,
		listing.FirstSeen,
	)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return monitor.ErrConflict
	}
	return nil
}

// Recent implements monitor.ListingBrowser, newest first.
func (s *ListingStore) Recent(ctx context.Context, limit int) ([]monitor.Listing, error) {
	if limit <= 0 {
		limit = 10
	}
	query := fmt.Sprintf(`
SELECT id, site, title, url, location, price, raw_price, found_at
FROM %s ORDER BY found_at DESC LIMIT $1`, s.table)
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent listings: %w", err)
	}
	defer rows.Close()

	var listings []monitor.Listing
	for rows.Next() {
		var l monitor.Listing
		if err := rows.Scan(&l.ID, &l.Site, &l.Title, &l.URL, &l.Location, &l.Price, &l.RawPrice, &l.FirstSeen); err != nil {
			return nil, fmt.Errorf("scan listing row: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listing rows: %w", err)
	}
	return listings, nil
}

// CountBySite implements monitor.ListingBrowser.
func (s *ListingStore) CountBySite(ctx context.Context) (map[string]int, error) {
	query := fmt.Sprintf(`SELECT site, COUNT(*) FROM %s GROUP BY site`, s.table)
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query site counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var (
			site  string
			count int
		)
		if err := rows.Scan(&site, &count); err != nil {
			return nil, fmt.Errorf("scan site count: %w", err)
		}
		counts[site] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate site counts: %w", err)
	}
	return counts, nil
}
