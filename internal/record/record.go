// Package record is an optional, off-by-default run-history recorder.
// It persists only a summary of a COMPLETED run, never mid-run state,
// to Postgres via bun.
package record

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

// RunSummary is one completed sequence run, persisted after the fact.
// RunID is generated once per run (not per row) so a caller can
// correlate a summary with whatever it logged during the run itself.
type RunSummary struct {
	bun.BaseModel `bun:"table:sequence_runs,alias:sr"`

	ID            int64     `bun:"id,pk,autoincrement"`
	RunID         string    `bun:"run_id,notnull,unique"`
	SequenceName  string    `bun:"sequence_name,notnull"`
	StartedAt     time.Time `bun:"started_at,notnull"`
	FinishedAt    time.Time `bun:"finished_at,notnull"`
	Status        string    `bun:"status,notnull"` // "ok" | "failed"
	Error         string    `bun:"error"`
	FunctionCount int       `bun:"function_count,notnull"`
	FailedTests   int       `bun:"failed_tests,notnull"`
}

// NewRunID generates the identifier a caller should attach to a
// RunSummary before calling Record, and to any log lines emitted
// during the run so the two can be correlated after the fact.
func NewRunID() string {
	return uuid.NewString()
}

// Store wraps a bun.DB connection for writing RunSummary rows.
type Store struct {
	db *bun.DB
}

// Config holds the Postgres connection parameters. Recording is opt-in:
// nothing is written unless a caller opens a Store with Open, and only
// end-of-run summaries are ever written.
type Config struct {
	Addr     string
	Database string
	User     string
	Password string
}

// Open connects to Postgres and ensures the sequence_runs table exists.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	sqldb := sql.OpenDB(pgdriver.NewConnector(
		pgdriver.WithAddr(cfg.Addr),
		pgdriver.WithDatabase(cfg.Database),
		pgdriver.WithUser(cfg.User),
		pgdriver.WithPassword(cfg.Password),
		pgdriver.WithTimeout(5*time.Second),
		pgdriver.WithDialTimeout(5*time.Second),
	))
	db := bun.NewDB(sqldb, pgdialect.New())

	if _, err := db.NewCreateTable().Model((*RunSummary)(nil)).IfNotExists().Exec(ctx); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts one completed-run summary.
func (s *Store) Record(ctx context.Context, summary *RunSummary) error {
	_, err := s.db.NewInsert().Model(summary).Exec(ctx)
	return err
}
