package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"dbsync-engine/internal/config"
	"dbsync-engine/internal/logger"
	"dbsync-engine/internal/store"
)

// WorkerPool drains binlog change events in realtime mode, batching them
// through the same reconcile -> write path the poll loop uses.
type WorkerPool struct {
	workers   []*worker
	eventChan <-chan ChangeEvent
	writer    Writer
	store     store.Store
	tables    map[string]config.TableConfig // keyed by source table name
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	batchSize int
}

func NewWorkerPool(cfg config.SyncConfig, writer Writer, st store.Store, eventChan <-chan ChangeEvent) *WorkerPool {
	ctx, cancel := context.WithCancel(context.Background())

	tables := make(map[string]config.TableConfig, len(cfg.Tables))
	for _, t := range cfg.Tables {
		tables[t.Source()] = t
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = 1
	}

	pool := &WorkerPool{
		workers:   make([]*worker, workers),
		eventChan: eventChan,
		writer:    writer,
		store:     st,
		tables:    tables,
		ctx:       ctx,
		cancel:    cancel,
		batchSize: cfg.BatchInsertSize,
	}

	for i := 0; i < workers; i++ {
		pool.workers[i] = newWorker(i, pool)
	}

	return pool
}

func (p *WorkerPool) Start() {
	logger.Log.Info("Starting worker pool", zap.Int("workers", len(p.workers)))
	for _, w := range p.workers {
		p.wg.Add(1)
		go w.run()
	}
}

func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
	logger.Log.Info("Stopped worker pool")
}

type worker struct {
	id    int
	pool  *WorkerPool
	batch []ChangeEvent
}

func newWorker(id int, pool *WorkerPool) *worker {
	return &worker{
		id:   id,
		pool: pool,
	}
}

func (w *worker) run() {
	defer w.pool.wg.Done()

	ticker := time.NewTicker(500 * time.Millisecond) // Flush batch every 500ms
	defer ticker.Stop()

	for {
		select {
		case event, ok := <-w.pool.eventChan:
			if !ok {
				w.flushFinal()
				return
			}
			w.batch = append(w.batch, event)
			if len(w.batch) >= w.pool.batchSize {
				w.processBatch(w.pool.ctx)
			}

		case <-ticker.C:
			if len(w.batch) > 0 {
				w.processBatch(w.pool.ctx)
			}

		case <-w.pool.ctx.Done():
			w.flushFinal()
			return
		}
	}
}

// flushFinal drains the tail batch at shutdown. The pool context is already
// canceled by then, so the flush gets its own short deadline.
func (w *worker) flushFinal() {
	if len(w.batch) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	w.processBatch(ctx)
}

func (w *worker) processBatch(ctx context.Context) {
	if len(w.batch) == 0 {
		return
	}

	logger.Log.Debug("Processing batch", zap.Int("workerID", w.id), zap.Int("size", len(w.batch)))

	// Group events by table to keep each transaction single-table
	eventsByTable := make(map[string][]ChangeEvent)
	for _, e := range w.batch {
		eventsByTable[e.Table] = append(eventsByTable[e.Table], e)
	}

	for tableName, events := range eventsByTable {
		table, ok := w.pool.tables[tableName]
		if !ok {
			continue
		}
		if err := w.applyChanges(ctx, table, events); err != nil {
			logger.Log.Error("Failed to apply changes",
				zap.Int("workerID", w.id),
				zap.String("table", tableName),
				zap.Error(err),
			)
			continue
		}
		w.updateState(table, events[len(events)-1], int64(len(events)))
	}

	// Clear batch
	w.batch = w.batch[:0]
}

// applyChanges converts the events to rows and pushes them through the
// reconciler and writer. Update events carry old/new image pairs; only the
// new image matters for an upsert.
func (w *worker) applyChanges(ctx context.Context, table config.TableConfig, events []ChangeEvent) error {
	var rows []Row
	var deleteKeys []string

	for _, e := range events {
		switch e.Type {
		case ChangeInsert, ChangeUpdate:
			for _, img := range newImages(e) {
				rows = append(rows, buildRow(e.Columns, img))
			}
		case ChangeDelete:
			for _, img := range e.Rows {
				row := buildRow(e.Columns, img)
				if keyVal, ok := lookupColumn(row, table.PrimaryKey); ok && keyVal != nil {
					deleteKeys = append(deleteKeys, columnString(keyVal))
				}
			}
		}
	}

	res, err := Reconcile(table, rows)
	if err != nil {
		return err
	}
	for _, skip := range res.Skips {
		logger.Log.Warn("Skipped malformed change event",
			zap.String("table", table.Name),
			zap.String("key", skip.Key),
			zap.String("reason", skip.Reason),
		)
	}

	if _, err := w.pool.writer.Apply(ctx, table, res.Upserts); err != nil {
		return err
	}
	if _, err := w.pool.writer.Delete(ctx, table, deleteKeys); err != nil {
		return err
	}

	return nil
}

// newImages strips the old images from UPDATE events, which interleave
// old/new row pairs.
func newImages(e ChangeEvent) [][]interface{} {
	if e.Type != ChangeUpdate {
		return e.Rows
	}
	var out [][]interface{}
	for i := 1; i < len(e.Rows); i += 2 {
		out = append(out, e.Rows[i])
	}
	return out
}

func buildRow(cols []string, values []interface{}) Row {
	row := make(Row, len(cols))
	for i, c := range cols {
		if i < len(values) {
			row[c] = values[i]
		}
	}
	return row
}

func (w *worker) updateState(table config.TableConfig, lastEvent ChangeEvent, applied int64) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	state, err := w.pool.store.GetSyncState(ctx, table.Name)
	if err != nil || state == nil {
		state = &store.SyncState{TableName: table.Name}
	}

	state.BinlogFile = sql.NullString{String: lastEvent.BinlogFile, Valid: true}
	state.BinlogPosition = sql.NullInt64{Int64: int64(lastEvent.BinlogPos), Valid: true}
	state.LastSyncTime = sql.NullTime{Time: time.Unix(int64(lastEvent.Timestamp), 0), Valid: true}
	state.RowsSynced += applied
	state.Status = "running"

	if err := w.pool.store.UpdateSyncState(ctx, state); err != nil {
		logger.Log.Warn("Failed to persist binlog position",
			zap.String("table", table.Name),
			zap.Error(fmt.Errorf("update sync state: %w", err)),
		)
	}
}
