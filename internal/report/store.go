// Package report provides PostgreSQL-backed storage for the moderation audit
// trail. Each row records who reported whom (by durable identity hash) and in
// which session; chat content is deliberately never captured.
package report

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store manages abuse report rows in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Report represents a single abuse report to be persisted.
type Report struct {
	ReporterKey string // durable identity hash of the reporter
	OffenderKey string // durable identity hash of the reported user
	SessionID   string
	ReportedAt  time.Time
}

// NewStore creates a report store backed by the given database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded schema migrations to the database.
func Migrate(db *sql.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("report: load migrations: %w", err)
	}

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("report: migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("report: migrate init: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("report: migrate up: %w", err)
	}
	return nil
}

// Create inserts an abuse report row.
func (s *Store) Create(ctx context.Context, r *Report) error {
	const query = `
		INSERT INTO abuse_reports (reporter_key, offender_key, session_id, reported_at)
		VALUES ($1, $2, $3, $4)`

	reportedAt := r.ReportedAt
	if reportedAt.IsZero() {
		reportedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, query, r.ReporterKey, r.OffenderKey, r.SessionID, reportedAt)
	if err != nil {
		return fmt.Errorf("report: insert: %w", err)
	}
	return nil
}

// CountRecent returns the number of reports filed against an identity within
// the given time window, for moderator review and threshold auditing.
func (s *Store) CountRecent(ctx context.Context, offenderKey string, window time.Duration) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM abuse_reports
		WHERE offender_key = $1
		  AND reported_at >= NOW() - make_interval(secs => $2)`

	var count int
	err := s.db.QueryRowContext(ctx, query, offenderKey, window.Seconds()).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("report: count recent: %w", err)
	}
	return count, nil
}
