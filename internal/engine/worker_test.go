package engine

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbsync-engine/internal/config"
	"dbsync-engine/internal/store"
)

// recordingWriter captures each Apply call together with the liveness of the
// context it was given.
type recordingWriter struct {
	mu      sync.Mutex
	batches [][]Upsert
	ctxErrs []error
	deletes [][]string
}

func (r *recordingWriter) Apply(ctx context.Context, _ config.TableConfig, batch []Upsert) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, batch)
	r.ctxErrs = append(r.ctxErrs, ctx.Err())
	return int64(len(batch)), nil
}

func (r *recordingWriter) Delete(ctx context.Context, _ config.TableConfig, keys []string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(keys) > 0 {
		r.deletes = append(r.deletes, keys)
	}
	return int64(len(keys)), nil
}

func (r *recordingWriter) SettleMissing(context.Context, config.TableConfig, []string) (int64, error) {
	return 0, nil
}

func (r *recordingWriter) applyCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

func insertEvent(key, ts int64) ChangeEvent {
	return ChangeEvent{
		Type:       ChangeInsert,
		Table:      "invoices",
		Columns:    []string{"id", "ts"},
		Rows:       [][]interface{}{{key, ts}},
		BinlogFile: "binlog.000002",
		BinlogPos:  400,
	}
}

func workerSyncConfig(batchSize int) config.SyncConfig {
	return config.SyncConfig{
		Workers:         1,
		BatchInsertSize: batchSize,
		Tables:          []config.TableConfig{invoiceTable()},
	}
}

func TestWorkerPoolAppliesBatch(t *testing.T) {
	st := newMemStore()
	w := &recordingWriter{}
	events := make(chan ChangeEvent, 10)

	pool := NewWorkerPool(workerSyncConfig(1), w, st, events)
	pool.Start()
	defer pool.Stop()

	events <- insertEvent(1, 10)

	require.Eventually(t, func() bool {
		return w.applyCount() == 1
	}, 5*time.Second, 10*time.Millisecond)

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.batches[0], 1)
	assert.Equal(t, "1", w.batches[0][0].Key)
}

func TestWorkerPoolFlushesTailWithLiveContext(t *testing.T) {
	st := newMemStore()
	w := &recordingWriter{}
	events := make(chan ChangeEvent, 10)

	// Batch size larger than the event count, so the tail sits unflushed
	// until shutdown.
	pool := NewWorkerPool(workerSyncConfig(50), w, st, events)
	pool.Start()

	events <- insertEvent(1, 10)
	events <- insertEvent(2, 11)
	time.Sleep(100 * time.Millisecond)

	pool.Stop()

	require.Equal(t, 1, w.applyCount())
	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Len(t, w.batches[0], 2)
	// The final flush must not run on the canceled pool context.
	require.NoError(t, w.ctxErrs[0])
}

func TestWorkerPoolPersistsBinlogPosition(t *testing.T) {
	st := newMemStore()
	w := &recordingWriter{}
	events := make(chan ChangeEvent, 10)

	pool := NewWorkerPool(workerSyncConfig(1), w, st, events)
	pool.Start()
	defer pool.Stop()

	events <- insertEvent(1, 10)

	require.Eventually(t, func() bool {
		state, err := st.GetSyncState(context.Background(), "invoices")
		return err == nil && state != nil && state.BinlogFile.Valid
	}, 5*time.Second, 10*time.Millisecond)

	state, err := st.GetSyncState(context.Background(), "invoices")
	require.NoError(t, err)
	assert.Equal(t, "binlog.000002", state.BinlogFile.String)
	assert.Equal(t, int64(400), state.BinlogPosition.Int64)
}

func TestResumePositionPicksEarliest(t *testing.T) {
	st := newMemStore()
	ctx := context.Background()

	require.NoError(t, st.UpdateSyncState(ctx, &store.SyncState{
		TableName:      "invoices",
		BinlogFile:     sql.NullString{String: "binlog.000003", Valid: true},
		BinlogPosition: sql.NullInt64{Int64: 900, Valid: true},
	}))
	require.NoError(t, st.UpdateSyncState(ctx, &store.SyncState{
		TableName:      "payments",
		BinlogFile:     sql.NullString{String: "binlog.000002", Valid: true},
		BinlogPosition: sql.NullInt64{Int64: 1500, Valid: true},
	}))

	pos := ResumePosition(ctx, st)
	require.NotNil(t, pos)
	assert.Equal(t, "binlog.000002", pos.Name)
	assert.Equal(t, uint32(1500), pos.Pos)
}

func TestResumePositionFirstStart(t *testing.T) {
	st := newMemStore()

	// No persisted state at all.
	assert.Nil(t, ResumePosition(context.Background(), st))

	// Poll-mode state rows carry no binlog position and must be ignored.
	require.NoError(t, st.UpdateSyncState(context.Background(), &store.SyncState{
		TableName:   "invoices",
		CursorValue: sql.NullString{String: "42", Valid: true},
	}))
	assert.Nil(t, ResumePosition(context.Background(), st))
}
