package engine

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"dbsync-engine/internal/config"
	"dbsync-engine/internal/logger"
	"dbsync-engine/internal/store"
)

// State names for the scheduler loop.
type State string

const (
	StateIdle        State = "IDLE"
	StateExtracting  State = "EXTRACTING"
	StateReconciling State = "RECONCILING"
	StateWriting     State = "WRITING"
	StateAdvancing   State = "ADVANCING"
	StateBackoff     State = "BACKOFF"
	StateHalted      State = "HALTED"
)

// Runner drives the extract -> reconcile -> write -> advance cycle. One
// runner owns one cursor; cycles never overlap.
type Runner struct {
	cfg      *config.Config
	source   Source
	writer   Writer
	store    store.Store
	status   *StatusPublisher
	verifier *Verifier // nil disables integrity checks

	trigger        chan struct{}
	backoffInitial time.Duration

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	lastError           string
	lastRun             *time.Time
	lastRunID           string
	lastOutcome         string
	rowsProcessed       int64
	integrity           []CountReport
}

func NewRunner(cfg *config.Config, source Source, writer Writer, st store.Store, status *StatusPublisher, verifier *Verifier) *Runner {
	return &Runner{
		cfg:            cfg,
		source:         source,
		writer:         writer,
		store:          st,
		status:         status,
		verifier:       verifier,
		trigger:        make(chan struct{}, 1),
		backoffInitial: time.Second,
		state:          StateIdle,
	}
}

// Trigger requests an immediate cycle. No-op while halted or when a request
// is already pending.
func (r *Runner) Trigger() {
	if r.State() == StateHalted {
		return
	}
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// Run executes cycles until ctx is cancelled. On a transient failure it backs
// off exponentially with jitter up to the configured ceiling; after
// MaxConsecutiveFailures, or on a fatal error, it parks in HALTED until the
// process is externally restarted.
func (r *Runner) Run(ctx context.Context) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.backoffInitial
	bo.MaxInterval = r.cfg.Sync.BackoffCeiling()

	logger.Log.Info("Sync loop started",
		zap.Duration("interval", r.cfg.Sync.PollInterval()),
		zap.String("mode", r.cfg.Sync.Mode),
	)

	for {
		if ctx.Err() != nil {
			return
		}

		err := r.runCycle(ctx)
		if ctx.Err() != nil {
			return
		}

		if err == nil {
			r.mu.Lock()
			r.consecutiveFailures = 0
			r.lastError = ""
			r.mu.Unlock()
			bo.Reset()
			r.setState(StateIdle)
			r.publish()
			if !r.wait(ctx, r.cfg.Sync.PollInterval()) {
				return
			}
			continue
		}

		class := Classify(err)
		r.mu.Lock()
		r.consecutiveFailures++
		r.lastError = err.Error()
		failures := r.consecutiveFailures
		r.mu.Unlock()

		logger.Log.Error("Sync cycle failed",
			zap.Error(err),
			zap.String("class", class.String()),
			zap.Int("consecutiveFailures", failures),
		)

		if class == ClassFatal || failures >= r.cfg.Sync.MaxConsecutiveFailures {
			r.halt(ctx, err, class)
			return
		}

		delay := bo.NextBackOff()
		r.setState(StateBackoff)
		r.publish()
		logger.Log.Warn("Backing off before retry", zap.Duration("delay", delay))
		if !r.waitBackoff(ctx, delay) {
			return
		}
	}
}

// halt parks the loop. No further extraction attempts are made; the status
// surface keeps reporting HALTED so operators can see the stall.
func (r *Runner) halt(ctx context.Context, err error, class Class) {
	r.setState(StateHalted)
	r.status.AddAlert("HALTED", fmt.Sprintf("sync halted (%s): %v", class, err))
	r.publish()
	logger.Log.Error("Sync loop halted, external restart required", zap.Error(err))
	<-ctx.Done()
}

// wait sleeps for d but wakes early on a trigger or cancellation. Returns
// false when the context is done.
func (r *Runner) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-r.trigger:
		logger.Log.Info("Immediate sync requested")
		return true
	case <-timer.C:
		return true
	}
}

// waitBackoff is like wait but ignores triggers: a retry storm against a
// struggling source is exactly what the backoff is there to prevent.
func (r *Runner) waitBackoff(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// runCycle performs one full pass over the configured tables. Exactly one
// SyncRun row is produced per invocation.
func (r *Runner) runCycle(ctx context.Context) error {
	names := make([]string, len(r.cfg.Sync.Tables))
	for i, t := range r.cfg.Sync.Tables {
		names[i] = t.Name
	}

	run := &store.SyncRun{
		ID:        uuid.New().String(),
		StartedAt: time.Now(),
		Outcome:   store.OutcomeRunning,
		Tables:    strings.Join(names, ","),
	}
	if err := r.store.CreateSyncRun(ctx, run); err != nil {
		return Transient(fmt.Errorf("failed to record sync run: %w", err))
	}

	r.mu.Lock()
	r.lastRunID = run.ID
	started := run.StartedAt
	r.lastRun = &started
	r.integrity = nil
	r.mu.Unlock()

	r.status.ClearAlerts()
	logger.Log.Info("Sync cycle started", zap.String("runID", run.ID))

	var cycleErr error
	for i := range r.cfg.Sync.Tables {
		table := r.cfg.Sync.Tables[i]
		if err := r.syncTable(ctx, table, run); err != nil {
			cycleErr = fmt.Errorf("table %s: %w", table.Name, err)
			break
		}
	}

	run.CompletedAt = sql.NullTime{Time: time.Now(), Valid: true}
	switch {
	case cycleErr != nil:
		run.Outcome = store.OutcomeFailure
		run.ErrorMessage = sql.NullString{String: cycleErr.Error(), Valid: true}
	case run.RowsSkipped > 0:
		run.Outcome = store.OutcomePartial
	default:
		run.Outcome = store.OutcomeSuccess
	}

	r.mu.Lock()
	r.lastOutcome = run.Outcome
	r.rowsProcessed = run.RowsApplied
	r.mu.Unlock()

	if err := r.store.FinishSyncRun(ctx, run); err != nil {
		logger.Log.Error("Failed to finalize sync run", zap.String("runID", run.ID), zap.Error(err))
	}

	logger.Log.Info("Sync cycle finished",
		zap.String("runID", run.ID),
		zap.String("outcome", run.Outcome),
		zap.Int64("rowsExtracted", run.RowsExtracted),
		zap.Int64("rowsApplied", run.RowsApplied),
		zap.Int64("rowsSkipped", run.RowsSkipped),
	)

	r.publish()
	return cycleErr
}

// syncTable drains the table's extraction window in bounded batches,
// advancing the cursor only after each batch has committed.
func (r *Runner) syncTable(ctx context.Context, table config.TableConfig, run *store.SyncRun) error {
	state, err := r.store.GetSyncState(ctx, table.Name)
	if err != nil {
		return Transient(fmt.Errorf("failed to load sync state: %w", err))
	}
	if state == nil {
		state = &store.SyncState{TableName: table.Name}
	}

	cursor, err := ParseCursor(state.CursorValue.String)
	if err != nil {
		return Fatal(fmt.Errorf("corrupt persisted cursor: %w", err))
	}

	batchSize := table.BatchSize
	if batchSize <= 0 {
		batchSize = r.cfg.Sync.MaxBatchSize
	}

	fullWindow := !cursor.Valid
	var activeKeys []string

	for {
		if ctx.Err() != nil {
			return Transient(ctx.Err())
		}

		r.setState(StateExtracting)
		rows, err := r.source.Extract(ctx, table, cursor, batchSize)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			break
		}

		r.setState(StateReconciling)
		res, err := Reconcile(table, rows)
		if err != nil {
			return err
		}
		for _, skip := range res.Skips {
			r.status.AddAlert("DATA_SKIP", fmt.Sprintf("%s key %s skipped: %s", table.Name, skip.Key, skip.Reason))
		}

		r.setState(StateWriting)
		applied, err := r.writer.Apply(ctx, table, res.Upserts)
		if err != nil {
			return err
		}

		r.setState(StateAdvancing)
		// Skipped rows must not pin the cursor: they are recorded in the run
		// detail and re-extracting them forever would stall the table.
		prev := cursor
		if res.MaxExtracted.Valid && cursor.Less(res.MaxExtracted) {
			cursor = res.MaxExtracted
		}
		state.CursorValue = sql.NullString{String: cursor.String(), Valid: cursor.Valid}
		state.LastSyncTime = sql.NullTime{Time: time.Now(), Valid: true}
		state.RowsSynced += applied
		state.Status = "running"
		state.ErrorMessage = sql.NullString{}
		if err := r.store.UpdateSyncState(ctx, state); err != nil {
			// The batch committed; the next run re-extracts the same range and
			// the idempotent upsert absorbs the replay.
			return Transient(fmt.Errorf("failed to advance cursor: %w", err))
		}

		run.RowsExtracted += int64(len(rows))
		run.RowsApplied += applied
		run.RowsSkipped += int64(len(res.Skips))

		if table.SettleMissing && fullWindow {
			for _, up := range res.Upserts {
				activeKeys = append(activeKeys, up.Key)
			}
		}

		if len(rows) < batchSize {
			break
		}
		if !prev.Less(cursor) {
			// A full window that moved nothing forward would extract the
			// same rows again; the skips already explain the stall.
			break
		}
	}

	if table.SettleMissing && fullWindow {
		settled, err := r.writer.SettleMissing(ctx, table, activeKeys)
		if err != nil {
			return err
		}
		if settled > 0 {
			logger.Log.Info("Settled rows missing from source window",
				zap.String("table", table.Name), zap.Int64("settled", settled))
		}
	}

	if r.cfg.Sync.VerifyCounts && r.verifier != nil {
		report, err := r.verifier.VerifyCounts(ctx, table)
		if err != nil {
			logger.Log.Warn("Integrity check failed to run", zap.String("table", table.Name), zap.Error(err))
		} else {
			r.mu.Lock()
			r.integrity = append(r.integrity, report)
			r.mu.Unlock()
			if !report.Match {
				r.status.AddAlert("INTEGRITY_MISMATCH", report.String())
			}
		}
	}

	state.Status = "idle"
	if err := r.store.UpdateSyncState(ctx, state); err != nil {
		logger.Log.Warn("Failed to persist idle state", zap.String("table", table.Name), zap.Error(err))
	}

	return nil
}

// publish pushes the current snapshot to the status surface. Best-effort.
func (r *Runner) publish() {
	r.status.Publish(r.Snapshot())
}

// Snapshot assembles the dashboard view of the loop.
func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	snap := Snapshot{
		State:               string(r.state),
		LastRun:             r.lastRun,
		LastRunID:           r.lastRunID,
		LastOutcome:         r.lastOutcome,
		RowsProcessed:       r.rowsProcessed,
		ConsecutiveFailures: r.consecutiveFailures,
		LastError:           r.lastError,
		Integrity:           append([]CountReport(nil), r.integrity...),
		Tables:              map[string]TableStatus{},
	}
	r.mu.Unlock()

	switch State(snap.State) {
	case StateIdle:
		snap.Status = "IDLE"
	case StateBackoff:
		snap.Status = "ERROR"
	case StateHalted:
		snap.Status = "HALTED"
	default:
		snap.Status = "RUNNING"
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	states, err := r.store.ListSyncStates(ctx)
	if err != nil {
		logger.Log.Warn("Failed to read sync states for snapshot", zap.Error(err))
		return snap
	}
	for _, st := range states {
		ts := TableStatus{
			Cursor:     st.CursorValue.String,
			RowsSynced: st.RowsSynced,
			Status:     st.Status,
			LastError:  st.ErrorMessage.String,
		}
		if st.LastSyncTime.Valid {
			t := st.LastSyncTime.Time
			ts.LastSyncTime = &t
		}
		snap.Tables[st.TableName] = ts
	}

	return snap
}
