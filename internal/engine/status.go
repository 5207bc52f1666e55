package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"dbsync-engine/internal/logger"
)

const maxAlerts = 50

type Alert struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
}

type TableStatus struct {
	Cursor       string     `json:"cursor"`
	RowsSynced   int64      `json:"rows_synced"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
	Status       string     `json:"status"`
	LastError    string     `json:"last_error,omitempty"`
}

// Snapshot is what the dashboard polls. It carries everything an operator
// needs to detect stalled synchronization without reading logs.
type Snapshot struct {
	Status              string                 `json:"status"`
	State               string                 `json:"state"`
	LastRun             *time.Time             `json:"last_run,omitempty"`
	LastRunID           string                 `json:"last_run_id,omitempty"`
	LastOutcome         string                 `json:"last_outcome,omitempty"`
	RowsProcessed       int64                  `json:"rows_processed"`
	ConsecutiveFailures int                    `json:"consecutive_failures"`
	Tables              map[string]TableStatus `json:"tables"`
	Integrity           []CountReport          `json:"integrity,omitempty"`
	LastError           string                 `json:"last_error,omitempty"`
	Alerts              []Alert                `json:"alerts"`
	UpdatedAt           time.Time              `json:"updated_at"`
}

// StatusPublisher writes the snapshot file the dashboard process polls.
// Publishing is best-effort: a failed write is logged and swallowed, never
// propagated into the synchronization path.
type StatusPublisher struct {
	path   string
	mu     sync.Mutex
	alerts []Alert
}

func NewStatusPublisher(path string) *StatusPublisher {
	return &StatusPublisher{path: path}
}

func (p *StatusPublisher) AddAlert(alertType, message string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	alert := Alert{Timestamp: time.Now(), Type: alertType, Message: message}
	p.alerts = append([]Alert{alert}, p.alerts...)
	if len(p.alerts) > maxAlerts {
		p.alerts = p.alerts[:maxAlerts]
	}

	logger.Log.Warn("Sync alert", zap.String("type", alertType), zap.String("message", message))
}

func (p *StatusPublisher) ClearAlerts() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.alerts = nil
}

func (p *StatusPublisher) Alerts() []Alert {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Alert, len(p.alerts))
	copy(out, p.alerts)
	return out
}

// Publish writes the snapshot atomically (temp file + rename) so the
// dashboard never observes a torn read.
func (p *StatusPublisher) Publish(snap Snapshot) {
	if p.path == "" {
		return
	}

	p.mu.Lock()
	snap.Alerts = make([]Alert, len(p.alerts))
	copy(snap.Alerts, p.alerts)
	p.mu.Unlock()

	snap.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		logger.Log.Warn("Failed to encode status snapshot", zap.Error(err))
		return
	}

	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		logger.Log.Warn("Failed to write status snapshot", zap.Error(err), zap.String("path", tmp))
		return
	}
	if err := os.Rename(tmp, p.path); err != nil {
		logger.Log.Warn("Failed to publish status snapshot", zap.Error(err), zap.String("path", p.path))
		_ = os.Remove(tmp)
	}
}

// Read loads the last published snapshot, for the status API.
func (p *StatusPublisher) Read() (*Snapshot, error) {
	data, err := os.ReadFile(filepath.Clean(p.path))
	if err != nil {
		return nil, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}
