package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/andresmejia3/segflow/internal/types"
	"github.com/andresmejia3/segflow/internal/utils"
)

// Store is the run ledger: one row per pipeline run and one per consumed
// item, kept in PostgreSQL.
type Store struct {
	mu   sync.Mutex
	conn *pgx.Conn
}

// Run is one row of pipeline_runs.
type Run struct {
	ID         uuid.UUID
	Input      string
	Mode       string
	StartedAt  time.Time
	FinishedAt *time.Time
	Items      int
	Failed     int
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS pipeline_runs (
			id UUID PRIMARY KEY,
			input TEXT NOT NULL,
			mode TEXT NOT NULL,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			finished_at TIMESTAMPTZ,
			items INT NOT NULL DEFAULT 0,
			failed INT NOT NULL DEFAULT 0
		);
		CREATE TABLE IF NOT EXISTS pipeline_items (
			id BIGSERIAL PRIMARY KEY,
			run_id UUID NOT NULL REFERENCES pipeline_runs(id) ON DELETE CASCADE,
			item_id TEXT NOT NULL,
			source TEXT NOT NULL,
			status TEXT NOT NULL,
			diagnostic TEXT NOT NULL DEFAULT '',
			output TEXT NOT NULL DEFAULT '',
			recorded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS pipeline_items_run_id_idx ON pipeline_items (run_id);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn.Close(ctx)
}

// StartRun opens a ledger entry for a run over input.
func (s *Store) StartRun(ctx context.Context, input string, mode types.Mode) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.New()
	_, err := s.conn.Exec(ctx, `
		INSERT INTO pipeline_runs (id, input, mode, started_at)
		VALUES ($1, $2, $3, NOW())
	`, id.String(), input, mode.String())
	if err != nil {
		return uuid.Nil, err
	}
	return id, nil
}

// FinishRun stamps the run as finished with its item counts.
func (s *Store) FinishRun(ctx context.Context, id uuid.UUID, items, failed int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tag, err := s.conn.Exec(ctx, `
		UPDATE pipeline_runs SET finished_at = NOW(), items = $2, failed = $3 WHERE id = $1
	`, id.String(), items, failed)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found", id)
	}
	return nil
}

func (s *Store) insertItem(ctx context.Context, runID uuid.UUID, rec types.ItemRecord) error {
	// Files get a stable ID across runs; live frames get a fresh one.
	itemID, err := utils.GenerateItemID(rec.Source)
	if err != nil {
		itemID = uuid.NewString()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = s.conn.Exec(ctx, `
		INSERT INTO pipeline_items (run_id, item_id, source, status, diagnostic, output)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, runID.String(), itemID, rec.Source, rec.Status, rec.Diagnostic, rec.Output)
	return err
}

// Ledger records items against one run.
type Ledger struct {
	store *Store
	runID uuid.UUID
}

func (s *Store) Ledger(runID uuid.UUID) *Ledger {
	return &Ledger{store: s, runID: runID}
}

func (l *Ledger) RunID() uuid.UUID { return l.runID }

func (l *Ledger) RecordItem(ctx context.Context, rec types.ItemRecord) error {
	return l.store.insertItem(ctx, l.runID, rec)
}

// ListRuns returns the most recent runs first. limit <= 0 returns all.
func (s *Store) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT id::text, input, mode, started_at, finished_at, items, failed
		FROM pipeline_runs ORDER BY started_at DESC`
	args := []any{}
	if limit > 0 {
		query += " LIMIT $1"
		args = append(args, limit)
	}

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var id string
		if err := rows.Scan(&id, &r.Input, &r.Mode, &r.StartedAt, &r.FinishedAt, &r.Items, &r.Failed); err != nil {
			return nil, err
		}
		if r.ID, err = uuid.Parse(id); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ItemStatusCounts returns how many items of a run ended in each status.
func (s *Store) ItemStatusCounts(ctx context.Context, runID uuid.UUID) (map[string]int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.conn.Query(ctx, `
		SELECT status, COUNT(*) FROM pipeline_items WHERE run_id = $1 GROUP BY status
	`, runID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS pipeline_items CASCADE;
		DROP TABLE IF EXISTS pipeline_runs CASCADE;
	`)
	return err
}
