package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbsync-engine/internal/config"
	"dbsync-engine/internal/database"
)

func newTargetDB(t *testing.T) *database.Database {
	t.Helper()

	path := filepath.Join(t.TempDir(), "target.db")
	db, err := database.NewDatabase("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.DB.Exec(`CREATE TABLE invoices (
		id      TEXT PRIMARY KEY NOT NULL,
		ts      INTEGER,
		amount  REAL,
		settled INTEGER NOT NULL DEFAULT 0
	)`)
	require.NoError(t, err)

	return db
}

func settleTable() config.TableConfig {
	table := invoiceTable()
	table.SettleMissing = true
	table.SettledColumn = "settled"
	return table
}

func upsertBatch() []Upsert {
	return []Upsert{
		{Key: "1", Indicator: Cursor{Kind: CursorSequence, Seq: 10, Valid: true},
			Columns: Row{"id": "1", "ts": int64(10), "amount": 100.0, "settled": int64(0)}},
		{Key: "2", Indicator: Cursor{Kind: CursorSequence, Seq: 11, Valid: true},
			Columns: Row{"id": "2", "ts": int64(11), "amount": 200.0, "settled": int64(0)}},
	}
}

func dumpTarget(t *testing.T, db *database.Database) map[string][2]any {
	t.Helper()

	rows, err := db.DB.Query(`SELECT id, ts, amount FROM invoices ORDER BY id`)
	require.NoError(t, err)
	defer rows.Close()

	out := make(map[string][2]any)
	for rows.Next() {
		var id string
		var ts int64
		var amount float64
		require.NoError(t, rows.Scan(&id, &ts, &amount))
		out[id] = [2]any{ts, amount}
	}
	require.NoError(t, rows.Err())
	return out
}

func TestWriterApplyIsIdempotent(t *testing.T) {
	db := newTargetDB(t)
	w := NewSQLWriter(db)
	ctx := context.Background()

	batch := upsertBatch()

	applied, err := w.Apply(ctx, invoiceTable(), batch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), applied)
	once := dumpTarget(t, db)

	// Replaying the exact same batch leaves the target unchanged.
	applied, err = w.Apply(ctx, invoiceTable(), batch)
	require.NoError(t, err)
	assert.Equal(t, int64(2), applied)
	assert.Equal(t, once, dumpTarget(t, db))
}

func TestWriterApplyUpdatesExistingRows(t *testing.T) {
	db := newTargetDB(t)
	w := NewSQLWriter(db)
	ctx := context.Background()

	_, err := w.Apply(ctx, invoiceTable(), upsertBatch())
	require.NoError(t, err)

	newer := []Upsert{
		{Key: "1", Indicator: Cursor{Kind: CursorSequence, Seq: 15, Valid: true},
			Columns: Row{"id": "1", "ts": int64(15), "amount": 150.0, "settled": int64(0)}},
	}
	_, err = w.Apply(ctx, invoiceTable(), newer)
	require.NoError(t, err)

	got := dumpTarget(t, db)
	assert.Equal(t, [2]any{int64(15), 150.0}, got["1"])
	assert.Equal(t, [2]any{int64(11), 200.0}, got["2"])
}

func TestWriterApplyRollsBackWholeBatch(t *testing.T) {
	db := newTargetDB(t)
	w := NewSQLWriter(db)
	ctx := context.Background()

	bad := []Upsert{
		{Key: "1", Columns: Row{"id": "1", "ts": int64(10), "amount": 1.0, "settled": int64(0)}},
		// NULL primary key violates the constraint and must abort the batch.
		{Key: "", Columns: Row{"id": nil, "ts": int64(11), "amount": 2.0, "settled": int64(0)}},
	}

	_, err := w.Apply(ctx, invoiceTable(), bad)
	require.Error(t, err)

	// No partial application observable.
	assert.Empty(t, dumpTarget(t, db))
}

func TestWriterApplyEmptyBatch(t *testing.T) {
	db := newTargetDB(t)
	w := NewSQLWriter(db)

	applied, err := w.Apply(context.Background(), invoiceTable(), nil)
	require.NoError(t, err)
	assert.Zero(t, applied)
}

func TestWriterDelete(t *testing.T) {
	db := newTargetDB(t)
	w := NewSQLWriter(db)
	ctx := context.Background()

	_, err := w.Apply(ctx, invoiceTable(), upsertBatch())
	require.NoError(t, err)

	deleted, err := w.Delete(ctx, invoiceTable(), []string{"1", "absent"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	got := dumpTarget(t, db)
	assert.Len(t, got, 1)
	assert.Contains(t, got, "2")
}

func TestWriterSettleMissing(t *testing.T) {
	db := newTargetDB(t)
	w := NewSQLWriter(db)
	ctx := context.Background()

	_, err := w.Apply(ctx, settleTable(), upsertBatch())
	require.NoError(t, err)

	settled, err := w.SettleMissing(ctx, settleTable(), []string{"1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), settled)

	var flag int64
	require.NoError(t, db.DB.QueryRow(`SELECT settled FROM invoices WHERE id = '2'`).Scan(&flag))
	assert.Equal(t, int64(1), flag)

	require.NoError(t, db.DB.QueryRow(`SELECT settled FROM invoices WHERE id = '1'`).Scan(&flag))
	assert.Equal(t, int64(0), flag)

	// A second pass settles nothing further.
	settled, err = w.SettleMissing(ctx, settleTable(), []string{"1"})
	require.NoError(t, err)
	assert.Zero(t, settled)
}

// Covers the crash-replay property: target committed but the cursor did not
// advance, so the next run re-extracts and re-applies the same window.
func TestWriterReplayAfterCrashMatchesSingleRun(t *testing.T) {
	db := newTargetDB(t)
	w := NewSQLWriter(db)
	ctx := context.Background()

	batch := upsertBatch()

	_, err := w.Apply(ctx, invoiceTable(), batch)
	require.NoError(t, err)
	interrupted := dumpTarget(t, db)

	// "Restart": same extraction window reconciled and applied again.
	rows := make([]Row, 0, len(batch))
	for _, up := range batch {
		rows = append(rows, up.Columns)
	}
	res, err := Reconcile(invoiceTable(), rows)
	require.NoError(t, err)
	_, err = w.Apply(ctx, invoiceTable(), res.Upserts)
	require.NoError(t, err)

	assert.Equal(t, interrupted, dumpTarget(t, db))
}
