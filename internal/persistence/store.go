// Package persistence selects and opens the record store backing the query engine.
package persistence

import (
	"context"
	"fmt"
	"strings"

	"example.com/touchpoints/internal/domain"
	"example.com/touchpoints/internal/persistence/postgres"
	"example.com/touchpoints/internal/persistence/sqlite"
)

// Supported drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Store is the full record store surface: reads, unit of work and lifecycle.
type Store interface {
	domain.EventRepository
	domain.Transactor
	Ping(ctx context.Context) error
	Close() error
}

// Options selects a driver and its connection target.
type Options struct {
	Driver      string
	PostgresURL string
	SQLitePath  string
}

// Open connects to the configured store and brings its schema up to date.
func Open(ctx context.Context, opts Options) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case DriverPostgres, "pgx", "":
		repo, err := postgres.Open(ctx, opts.PostgresURL)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case DriverSQLite:
		store, err := sqlite.Open(ctx, opts.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", opts.Driver)
	}
}
