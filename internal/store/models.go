package store

import (
	"database/sql"
	"time"
)

// SyncState is the durable watermark for one synchronized table. CursorValue
// holds the last change indicator that was fully committed to the target;
// BinlogFile/BinlogPosition are only populated in realtime mode.
type SyncState struct {
	TableName      string         `db:"table_name"`
	CursorValue    sql.NullString `db:"cursor_value"`
	BinlogFile     sql.NullString `db:"binlog_file"`
	BinlogPosition sql.NullInt64  `db:"binlog_position"`
	LastSyncTime   sql.NullTime   `db:"last_sync_time"`
	RowsSynced     int64          `db:"rows_synced"`
	Status         string         `db:"status"`
	ErrorMessage   sql.NullString `db:"error_message"`
	UpdatedAt      time.Time      `db:"updated_at"`
}

// Run outcomes.
const (
	OutcomeRunning = "running"
	OutcomeSuccess = "success"
	OutcomePartial = "partial"
	OutcomeFailure = "failure"
)

// SyncRun is one append-only history row per engine cycle. It is created when
// the cycle starts and finalized exactly once when the cycle ends.
type SyncRun struct {
	ID            string         `db:"id"`
	StartedAt     time.Time      `db:"started_at"`
	CompletedAt   sql.NullTime   `db:"completed_at"`
	Outcome       string         `db:"outcome"`
	Tables        string         `db:"tables"`
	RowsExtracted int64          `db:"rows_extracted"`
	RowsApplied   int64          `db:"rows_applied"`
	RowsSkipped   int64          `db:"rows_skipped"`
	ErrorMessage  sql.NullString `db:"error_message"`
}
