package engine

import (
	"context"
	"fmt"
	"sync"

	"dbsync-engine/internal/config"
	"dbsync-engine/internal/database"
	"dbsync-engine/internal/logger"
	"dbsync-engine/internal/store"
)

// Manager owns the database connections and the active sync mode. It is the
// unit the HTTP API and the cron scheduler talk to.
type Manager struct {
	cfg      *config.Config
	sourceDB *database.Database
	targetDB *database.Database
	store    store.Store
	statusP  *StatusPublisher

	runner         *Runner
	binlogListener *BinlogListener
	workerPool     *WorkerPool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	status string
}

func NewManager(cfg *config.Config, st store.Store) (*Manager, error) {
	sourceDB, err := database.NewDatabase(cfg.Source.Driver, cfg.Source.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to source db: %w", err)
	}

	targetDB, err := database.NewDatabase(cfg.Target.Driver, cfg.Target.DSN)
	if err != nil {
		sourceDB.Close()
		return nil, fmt.Errorf("failed to connect to target db: %w", err)
	}

	return &Manager{
		cfg:      cfg,
		sourceDB: sourceDB,
		targetDB: targetDB,
		store:    st,
		statusP:  NewStatusPublisher(cfg.Status.FilePath),
		status:   "idle",
	}, nil
}

func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status == "running" {
		return fmt.Errorf("sync is already running")
	}

	logger.Log.Info("Starting sync manager")

	m.ctx, m.cancel = context.WithCancel(context.Background())

	writer := NewSQLWriter(m.targetDB)

	switch m.cfg.Sync.Mode {
	case "realtime":
		listener, err := NewBinlogListener(m.cfg.Source.Replication, m.cfg.Sync.Tables)
		if err != nil {
			m.cancel()
			return err
		}
		m.binlogListener = listener

		m.workerPool = NewWorkerPool(m.cfg.Sync, writer, m.store, listener.Events())
		m.workerPool.Start()

		if err := m.binlogListener.Start(ResumePosition(m.ctx, m.store)); err != nil {
			m.workerPool.Stop()
			m.cancel()
			return err
		}

	default: // poll
		var verifier *Verifier
		if m.cfg.Sync.VerifyCounts {
			verifier = NewVerifier(m.sourceDB, m.targetDB)
		}
		m.runner = NewRunner(m.cfg, NewSQLSource(m.sourceDB), writer, m.store, m.statusP, verifier)
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			m.runner.Run(m.ctx)
		}()
	}

	m.status = "running"
	return nil
}

func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.status != "running" {
		return
	}

	logger.Log.Info("Stopping sync manager")

	if m.cancel != nil {
		m.cancel()
	}

	if m.binlogListener != nil {
		m.binlogListener.Stop()
		m.binlogListener = nil
	}

	if m.workerPool != nil {
		m.workerPool.Stop()
		m.workerPool = nil
	}

	m.wg.Wait()

	if m.runner != nil {
		snap := m.runner.Snapshot()
		snap.Status = "STOPPED"
		m.statusP.Publish(snap)
		m.runner = nil
	}

	m.status = "idle"
}

func (m *Manager) Close() {
	m.Stop()
	m.sourceDB.Close()
	m.targetDB.Close()
}

func (m *Manager) GetStatus() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Trigger requests an immediate cycle in poll mode.
func (m *Manager) Trigger() {
	m.mu.Lock()
	runner := m.runner
	m.mu.Unlock()
	if runner != nil {
		runner.Trigger()
	}
}

// Snapshot returns the current status surface for the API.
func (m *Manager) Snapshot() Snapshot {
	m.mu.Lock()
	runner := m.runner
	m.mu.Unlock()
	if runner != nil {
		return runner.Snapshot()
	}
	if snap, err := m.statusP.Read(); err == nil {
		return *snap
	}
	return Snapshot{Status: "IDLE", State: string(StateIdle), Tables: map[string]TableStatus{}}
}

// Runs pages the append-only run history.
func (m *Manager) Runs(ctx context.Context, limit, offset int) ([]*store.SyncRun, error) {
	return m.store.ListSyncRuns(ctx, limit, offset)
}
