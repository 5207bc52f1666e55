package store

import (
	"context"
	"fmt"

	"dbsync-engine/internal/config"
)

type Store interface {
	// Sync State
	GetSyncState(ctx context.Context, tableName string) (*SyncState, error)
	UpdateSyncState(ctx context.Context, state *SyncState) error
	ListSyncStates(ctx context.Context) ([]*SyncState, error)

	// Run history
	CreateSyncRun(ctx context.Context, run *SyncRun) error
	FinishSyncRun(ctx context.Context, run *SyncRun) error
	ListSyncRuns(ctx context.Context, limit, offset int) ([]*SyncRun, error)

	// General
	Close() error
}

// New builds the configured state store backend.
func New(cfg config.StateStorage) (Store, error) {
	switch cfg.Type {
	case "mysql":
		return NewMySQLStore(cfg)
	case "sqlite":
		return NewSQLiteStore(cfg.FilePath)
	default:
		return nil, fmt.Errorf("unknown state storage type %q", cfg.Type)
	}
}
