// Package store implements the durable metadata side of the hub: users,
// hosts, gateways, sessions, authorized keys, and encrypted host
// credentials, backed by Postgres via sqlx and golang-migrate.
package store

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"

	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store wraps a *sqlx.DB with typed operations for every persisted entity.
// Methods are grouped across sibling files (users.go, hosts.go, ...); this
// file only owns connection lifecycle and schema migration.
type Store struct {
	db *sqlx.DB
}

type options struct {
	maxOpenConns int
	maxIdleConns int
}

// Option configures Open.
type Option func(*options)

// WithMaxOpenConns caps the number of open Postgres connections.
func WithMaxOpenConns(n int) Option {
	return func(o *options) { o.maxOpenConns = n }
}

// WithMaxIdleConns caps the number of idle Postgres connections kept warm.
func WithMaxIdleConns(n int) Option {
	return func(o *options) { o.maxIdleConns = n }
}

// Open connects to Postgres at dsn, runs pending migrations, and returns a
// ready-to-use Store.
func Open(dsn string, opts ...Option) (*Store, error) {
	o := options{maxOpenConns: 20, maxIdleConns: 5}
	for _, opt := range opts {
		opt(&o)
	}

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open: %w", err)
	}
	sqlDB.SetMaxOpenConns(o.maxOpenConns)
	sqlDB.SetMaxIdleConns(o.maxIdleConns)

	if err := runMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return &Store{db: sqlx.NewDb(sqlDB, "postgres")}, nil
}

func runMigrations(db *sql.DB) error {
	srcDriver, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("store: migration source: %w", err)
	}
	dbDriver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("store: migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", srcDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("store: new migrator: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("store: run migrations: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// ErrNotFound is returned by single-row lookups when no row matches.
var ErrNotFound = errors.New("store: not found")

// txClose rolls back tx if *err is non-nil; callers defer it immediately
// after BeginTxx and must assign into the named err return so the deferred
// rollback observes the final error value.
func txClose(tx *sqlx.Tx, err *error) {
	if *err == nil {
		return
	}
	if rbErr := tx.Rollback(); rbErr != nil {
		*err = fmt.Errorf("%w (rollback also failed: %v)", *err, rbErr)
	}
}
