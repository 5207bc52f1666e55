package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore keeps the sync state in an embedded database file. It lets the
// engine run without a separate state database, and the dashboard process can
// open the same file read-only.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite state store: %w", err)
	}

	// A single writer; the dashboard only reads.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	s := &SQLiteStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteStore) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_state (
			table_name      TEXT PRIMARY KEY,
			cursor_value    TEXT,
			binlog_file     TEXT,
			binlog_position INTEGER,
			last_sync_time  TIMESTAMP,
			rows_synced     INTEGER NOT NULL DEFAULT 0,
			status          TEXT NOT NULL DEFAULT 'idle',
			error_message   TEXT,
			updated_at      TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id             TEXT PRIMARY KEY,
			started_at     TIMESTAMP NOT NULL,
			completed_at   TIMESTAMP,
			outcome        TEXT NOT NULL,
			tables         TEXT,
			rows_extracted INTEGER NOT NULL DEFAULT 0,
			rows_applied   INTEGER NOT NULL DEFAULT 0,
			rows_skipped   INTEGER NOT NULL DEFAULT 0,
			error_message  TEXT
		)`,
	}
	for _, q := range stmts {
		if _, err := s.db.Exec(q); err != nil {
			return fmt.Errorf("failed to ensure state schema: %w", err)
		}
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) GetSyncState(ctx context.Context, tableName string) (*SyncState, error) {
	query := `SELECT table_name, cursor_value, binlog_file, binlog_position, last_sync_time, rows_synced, status, error_message, updated_at
			  FROM sync_state WHERE table_name = ?`

	row := s.db.QueryRowContext(ctx, query, tableName)

	var state SyncState
	err := row.Scan(
		&state.TableName,
		&state.CursorValue,
		&state.BinlogFile,
		&state.BinlogPosition,
		&state.LastSyncTime,
		&state.RowsSynced,
		&state.Status,
		&state.ErrorMessage,
		&state.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &state, nil
}

func (s *SQLiteStore) UpdateSyncState(ctx context.Context, state *SyncState) error {
	query := `INSERT INTO sync_state (table_name, cursor_value, binlog_file, binlog_position, last_sync_time, rows_synced, status, error_message, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			  ON CONFLICT(table_name) DO UPDATE SET
			  cursor_value = excluded.cursor_value,
			  binlog_file = excluded.binlog_file,
			  binlog_position = excluded.binlog_position,
			  last_sync_time = excluded.last_sync_time,
			  rows_synced = excluded.rows_synced,
			  status = excluded.status,
			  error_message = excluded.error_message,
			  updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query,
		state.TableName,
		state.CursorValue,
		state.BinlogFile,
		state.BinlogPosition,
		state.LastSyncTime,
		state.RowsSynced,
		state.Status,
		state.ErrorMessage,
		time.Now().UTC(),
	)

	return err
}

func (s *SQLiteStore) ListSyncStates(ctx context.Context) ([]*SyncState, error) {
	query := `SELECT table_name, cursor_value, binlog_file, binlog_position, last_sync_time, rows_synced, status, error_message, updated_at
			  FROM sync_state ORDER BY table_name`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var states []*SyncState
	for rows.Next() {
		var state SyncState
		err := rows.Scan(
			&state.TableName,
			&state.CursorValue,
			&state.BinlogFile,
			&state.BinlogPosition,
			&state.LastSyncTime,
			&state.RowsSynced,
			&state.Status,
			&state.ErrorMessage,
			&state.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		states = append(states, &state)
	}

	return states, rows.Err()
}

func (s *SQLiteStore) CreateSyncRun(ctx context.Context, run *SyncRun) error {
	query := `INSERT INTO sync_runs (id, started_at, outcome, tables, rows_extracted, rows_applied, rows_skipped)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.StartedAt,
		run.Outcome,
		run.Tables,
		run.RowsExtracted,
		run.RowsApplied,
		run.RowsSkipped,
	)

	return err
}

func (s *SQLiteStore) FinishSyncRun(ctx context.Context, run *SyncRun) error {
	query := `UPDATE sync_runs SET completed_at = ?, outcome = ?, rows_extracted = ?, rows_applied = ?, rows_skipped = ?, error_message = ?
			  WHERE id = ?`

	_, err := s.db.ExecContext(ctx, query,
		run.CompletedAt,
		run.Outcome,
		run.RowsExtracted,
		run.RowsApplied,
		run.RowsSkipped,
		run.ErrorMessage,
		run.ID,
	)

	return err
}

func (s *SQLiteStore) ListSyncRuns(ctx context.Context, limit, offset int) ([]*SyncRun, error) {
	query := `SELECT id, started_at, completed_at, outcome, tables, rows_extracted, rows_applied, rows_skipped, error_message
			  FROM sync_runs ORDER BY started_at DESC LIMIT ? OFFSET ?`

	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*SyncRun
	for rows.Next() {
		var r SyncRun
		err := rows.Scan(
			&r.ID,
			&r.StartedAt,
			&r.CompletedAt,
			&r.Outcome,
			&r.Tables,
			&r.RowsExtracted,
			&r.RowsApplied,
			&r.RowsSkipped,
			&r.ErrorMessage,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, &r)
	}

	return runs, rows.Err()
}
