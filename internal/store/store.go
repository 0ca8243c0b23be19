// Package store implements the persistence contracts of the journey,
// scheduler, delivery, and analytics packages against PostgreSQL.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/ignite/marketing-engine/internal/config"
)

// claimTTL is how long a scheduler claim is honored. Claims older than this
// belong to a crashed worker and become claimable again; the delivery
// pipeline's dedup keys make the re-run safe.
const claimTTL = 10 * time.Minute

// Store is the Postgres-backed implementation of all repository contracts.
type Store struct {
	db *sql.DB
}

// New wraps an existing database handle. Used by tests with sqlmock.
func New(db *sql.DB) *Store { return &Store{db: db} }

// Open connects to Postgres and verifies the connection.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle <= 0 {
		maxIdle = 5
	}
	db.SetMaxOpenConns(maxOpen)
	db.SetMaxIdleConns(maxIdle)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{db: db}, nil
}

// DB exposes the underlying handle for advisory locks and migrations.
func (s *Store) DB() *sql.DB { return s.db }

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }
