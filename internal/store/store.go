// Package store persists jobs, catalog items, pricing modes and price
// overrides in PostgreSQL.
//
// All repositories share one explicit pool handle constructed in main and
// passed by reference; nothing in this package reaches for a global
// connection. Every successful job-row mutation is published to the
// configured notifier so observers see incremental movement.
package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/costwise/pricingjobs/internal/notify"
)

// Schema is the DDL for every table this service owns. Applied by
// provisioning tooling and by the integration tests.
//
//go:embed schema.sql
var Schema string

var (
	// ErrJobNotFound is returned when a job id matches no row.
	ErrJobNotFound = errors.New("job not found")

	// ErrModeNotFound is returned when a pricing mode id matches no row.
	ErrModeNotFound = errors.New("pricing mode not found")

	// ErrInvalidTransition is returned when a terminal write targets a job
	// that is not in processing status. Terminal states are immutable.
	ErrInvalidTransition = errors.New("invalid job status transition")

	// ErrStoreUnavailable wraps any storage failure that is not a plain
	// not-found. Callers must not assume partial writes succeeded.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// DBTX is the subset of pgx operations the repositories need.
// Satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
}

// Store bundles the job, catalog, mode and override repositories over one
// pool handle.
type Store struct {
	db       DBTX
	notifier notify.Publisher
}

// New creates a Store. notifier may be nil when no observer feed is wanted
// (tests, one-off tooling).
func New(db DBTX, notifier notify.Publisher) *Store {
	return &Store{db: db, notifier: notifier}
}

// NewWithPool is a convenience constructor for the common production path.
func NewWithPool(pool *pgxpool.Pool, notifier notify.Publisher) *Store {
	return New(pool, notifier)
}

// unavailable wraps a low-level pgx error into the store taxonomy.
func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrStoreUnavailable, err)
}

func (s *Store) publish(ev notify.Event) {
	if s.notifier != nil {
		s.notifier.Publish(ev)
	}
}
