package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tinytelemetry/statwalk/internal/duckdb/migrate"
)

// DefaultMaxConcurrentQueries bounds parallel read queries when unset.
const DefaultMaxConcurrentQueries = 8

// Store manages the DuckDB database holding sample and diagnostic history.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	readSlots    chan struct{}
	QueryTimeout time.Duration
}

// NewStore opens or creates a DuckDB database.
// If dbPath is empty, an in-memory database is used.
// An optional queryTimeout can be passed; it defaults to 30s.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	dsn := ""
	if dbPath != "" {
		// Ensure parent directory exists
		dir := filepath.Dir(dbPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		dsn = dbPath
	}

	db, err := sql.Open("duckdb", dsn)
	if err != nil {
		return nil, err
	}

	if err := migrate.NewRunner(db).Run(context.Background()); err != nil {
		db.Close()
		return nil, fmt.Errorf("duckdb: migrate: %w", err)
	}

	qt := 30 * time.Second
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		qt = queryTimeout[0]
	}

	return &Store{
		db:           db,
		dbPath:       dbPath,
		readSlots:    make(chan struct{}, DefaultMaxConcurrentQueries),
		QueryTimeout: qt,
	}, nil
}

// SetMaxConcurrentQueries bounds how many read queries run at once.
// Call it before the store is shared.
func (s *Store) SetMaxConcurrentQueries(n int) {
	if n <= 0 {
		n = DefaultMaxConcurrentQueries
	}
	s.readSlots = make(chan struct{}, n)
}

// acquireRead takes a read slot, giving up when ctx expires first.
func (s *Store) acquireRead(ctx context.Context) (func(), error) {
	select {
	case s.readSlots <- struct{}{}:
		return func() { <-s.readSlots }, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("duckdb: waiting for query slot: %w", ctx.Err())
	}
}

// DBPath returns the configured DuckDB path. Empty means in-memory DB.
func (s *Store) DBPath() string {
	return s.dbPath
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for direct query access.
func (s *Store) DB() *sql.DB {
	return s.db
}
