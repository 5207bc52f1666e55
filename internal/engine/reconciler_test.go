package engine

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbsync-engine/internal/config"
)

func invoiceTable() config.TableConfig {
	return config.TableConfig{
		Name:            "invoices",
		PrimaryKey:      "id",
		TimestampColumn: "ts",
	}
}

func TestReconcileDedupeKeepsLatest(t *testing.T) {
	rows := []Row{
		{"id": int64(1), "ts": int64(10), "amount": 100.0},
		{"id": int64(1), "ts": int64(12), "amount": 150.0},
		{"id": int64(2), "ts": int64(11), "amount": 200.0},
	}

	res, err := Reconcile(invoiceTable(), rows)
	require.NoError(t, err)
	require.Len(t, res.Upserts, 2)
	assert.Empty(t, res.Skips)

	// Ascending by indicator: id=2 at 11, then id=1 at 12.
	assert.Equal(t, "2", res.Upserts[0].Key)
	assert.Equal(t, int64(11), res.Upserts[0].Indicator.Seq)
	assert.Equal(t, "1", res.Upserts[1].Key)
	assert.Equal(t, int64(12), res.Upserts[1].Indicator.Seq)
	assert.Equal(t, 150.0, res.Upserts[1].Columns["amount"])

	assert.Equal(t, int64(12), res.MaxIndicator.Seq)
}

func TestReconcileEmptyInput(t *testing.T) {
	res, err := Reconcile(invoiceTable(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Upserts)
	assert.Empty(t, res.Skips)
	assert.False(t, res.MaxIndicator.Valid)
}

func TestReconcileSkipsMalformedRows(t *testing.T) {
	rows := []Row{
		{"ts": int64(10), "amount": 1.0},                 // no primary key
		{"id": int64(2), "amount": 2.0},                  // no indicator column
		{"id": int64(3), "ts": "not-a-time"},             // unparseable indicator
		{"id": int64(4), "ts": int64(40), "amount": 4.0}, // fine
	}

	res, err := Reconcile(invoiceTable(), rows)
	require.NoError(t, err)
	require.Len(t, res.Upserts, 1)
	assert.Equal(t, "4", res.Upserts[0].Key)
	assert.Len(t, res.Skips, 3)
	assert.Equal(t, int64(40), res.MaxExtracted.Seq)
}

func TestReconcileMaxExtractedIncludesSkippedRows(t *testing.T) {
	rows := []Row{
		{"id": int64(1), "ts": int64(10)},
		{"ts": int64(99)}, // skipped, but still the window's high-water mark
	}

	res, err := Reconcile(invoiceTable(), rows)
	require.NoError(t, err)
	assert.Equal(t, int64(10), res.MaxIndicator.Seq)
	assert.Equal(t, int64(99), res.MaxExtracted.Seq)
}

func TestReconcileStrictFailsBatch(t *testing.T) {
	table := invoiceTable()
	table.Strict = true

	rows := []Row{
		{"id": int64(1), "ts": int64(10)},
		{"ts": int64(11)}, // missing key
	}

	_, err := Reconcile(table, rows)
	require.Error(t, err)

	var se *SyncError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, ClassData, se.Class)
}

func TestReconcileConflictingDuplicates(t *testing.T) {
	rows := []Row{
		{"id": int64(1), "ts": int64(10), "amount": 1.0},
		{"id": int64(1), "ts": int64(10), "amount": 9.0}, // same indicator, different payload
	}

	res, err := Reconcile(invoiceTable(), rows)
	require.NoError(t, err)
	require.Len(t, res.Upserts, 1)
	require.Len(t, res.Skips, 1)
	assert.Equal(t, "1", res.Skips[0].Key)
}

func TestReconcileTimestampIndicators(t *testing.T) {
	t0 := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	rows := []Row{
		{"id": "a", "ts": t0},
		{"id": "a", "ts": t0.Add(time.Minute)},
	}

	res, err := Reconcile(invoiceTable(), rows)
	require.NoError(t, err)
	require.Len(t, res.Upserts, 1)
	assert.Equal(t, t0.Add(time.Minute), res.Upserts[0].Indicator.Time)
	assert.Equal(t, CursorTimestamp, res.MaxIndicator.Kind)
}

func TestReconcileIsPure(t *testing.T) {
	rows := []Row{
		{"id": int64(1), "ts": int64(10)},
		{"id": int64(2), "ts": int64(11)},
	}

	first, err := Reconcile(invoiceTable(), rows)
	require.NoError(t, err)
	second, err := Reconcile(invoiceTable(), rows)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}
