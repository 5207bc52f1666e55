package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"dbsync-engine/internal/config"
	"dbsync-engine/internal/logger"
)

type MySQLStore struct {
	db *sql.DB
}

func NewMySQLStore(cfg config.StateStorage) (*MySQLStore, error) {
	db, err := sql.Open("mysql", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open mysql connection: %w", err)
	}

	// Retry loop for Ping
	maxRetries := 30
	for i := 0; i < maxRetries; i++ {
		err = db.Ping()
		if err == nil {
			break
		}
		logger.Log.Info("Waiting for state DB...", zap.Error(err), zap.Int("attempt", i+1))
		time.Sleep(1 * time.Second)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to ping mysql after retries: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	s := &MySQLStore{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *MySQLStore) ensureSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS sync_state (
			table_name      VARCHAR(128) PRIMARY KEY,
			cursor_value    VARCHAR(255),
			binlog_file     VARCHAR(255),
			binlog_position BIGINT,
			last_sync_time  DATETIME,
			rows_synced     BIGINT NOT NULL DEFAULT 0,
			status          VARCHAR(32) NOT NULL DEFAULT 'idle',
			error_message   TEXT,
			updated_at      DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id             VARCHAR(36) PRIMARY KEY,
			started_at     DATETIME NOT NULL,
			completed_at   DATETIME,
			outcome        VARCHAR(16) NOT NULL,
			tables         VARCHAR(1024),
			rows_extracted BIGINT NOT NULL DEFAULT 0,
			rows_applied   BIGINT NOT NULL DEFAULT 0,
			rows_skipped   BIGINT NOT NULL DEFAULT 0,
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

func (s *MySQLStore) Close() error {
	return s.db.Close()
}

func (s *MySQLStore) GetSyncState(ctx context.Context, tableName string) (*SyncState, error) {
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

func (s *MySQLStore) UpdateSyncState(ctx context.Context, state *SyncState) error {
	query := `INSERT INTO sync_state (table_name, cursor_value, binlog_file, binlog_position, last_sync_time, rows_synced, status, error_message, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, NOW())
			  ON DUPLICATE KEY UPDATE
			  cursor_value = VALUES(cursor_value),
			  binlog_file = VALUES(binlog_file),
			  binlog_position = VALUES(binlog_position),
			  last_sync_time = VALUES(last_sync_time),
			  rows_synced = VALUES(rows_synced),
			  status = VALUES(status),
			  error_message = VALUES(error_message),
			  updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		state.TableName,
		state.CursorValue,
		state.BinlogFile,
		state.BinlogPosition,
		state.LastSyncTime,
		state.RowsSynced,
		state.Status,
		state.ErrorMessage,
	)

	return err
}

func (s *MySQLStore) ListSyncStates(ctx context.Context) ([]*SyncState, error) {
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

func (s *MySQLStore) CreateSyncRun(ctx context.Context, run *SyncRun) error {
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

func (s *MySQLStore) FinishSyncRun(ctx context.Context, run *SyncRun) error {
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

func (s *MySQLStore) ListSyncRuns(ctx context.Context, limit, offset int) ([]*SyncRun, error) {
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
