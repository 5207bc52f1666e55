package engine

import (
	"context"
	"fmt"

	"github.com/go-mysql-org/go-mysql/canal"
	"github.com/go-mysql-org/go-mysql/mysql"
	"go.uber.org/zap"

	"dbsync-engine/internal/config"
	"dbsync-engine/internal/logger"
	"dbsync-engine/internal/store"
)

type ChangeType string

const (
	ChangeInsert ChangeType = "INSERT"
	ChangeUpdate ChangeType = "UPDATE"
	ChangeDelete ChangeType = "DELETE"
)

// ChangeEvent is one binlog row change, carrying enough context to rebuild a
// Row and to persist the binlog position as the cursor.
type ChangeEvent struct {
	Type       ChangeType
	Schema     string
	Table      string
	Columns    []string
	Rows       [][]interface{}
	Timestamp  uint32
	BinlogFile string
	BinlogPos  uint32
}

func (e ChangeEvent) String() string {
	return fmt.Sprintf("[%s] %s.%s (%d rows)", e.Type, e.Schema, e.Table, len(e.Rows))
}

// BinlogListener streams MySQL row changes for the realtime mode. Poll mode
// never constructs one.
type BinlogListener struct {
	cfg       config.ReplicationConfig
	canal     *canal.Canal
	eventChan chan ChangeEvent
	ctx       context.Context
	cancel    context.CancelFunc
	tables    map[string]bool
}

func NewBinlogListener(cfg config.ReplicationConfig, tables []config.TableConfig) (*BinlogListener, error) {
	tableMap := make(map[string]bool)
	var tableRegex []string
	for _, t := range tables {
		tableMap[t.Source()] = true
		tableRegex = append(tableRegex, fmt.Sprintf("^%s\\.%s$", cfg.Database, t.Source()))
	}

	serverID := cfg.ServerID
	if serverID == 0 {
		serverID = 100
	}

	c, err := canal.NewCanal(&canal.Config{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		User:     cfg.User,
		Password: cfg.Password,
		Flavor:   "mysql",
		ServerID: serverID,
		Dump: canal.DumpConfig{
			ExecutionPath: "", // binlog only, no initial dump
		},
		IncludeTableRegex: tableRegex,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create canal: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	l := &BinlogListener{
		cfg:       cfg,
		canal:     c,
		eventChan: make(chan ChangeEvent, 10000),
		ctx:       ctx,
		cancel:    cancel,
		tables:    tableMap,
	}

	c.SetEventHandler(&changeHandler{listener: l})

	return l, nil
}

// Start begins streaming. With a resume position it picks the binlog back up
// where the last shutdown left it; replayed events are absorbed by the
// idempotent writer. A nil position means first start: stream from the
// current master position.
func (l *BinlogListener) Start(from *mysql.Position) error {
	logger.Log.Info("Starting binlog listener", zap.String("host", l.cfg.Host))

	go func() {
		var err error
		if from != nil {
			logger.Log.Info("Resuming from persisted binlog position",
				zap.String("file", from.Name), zap.Uint32("position", from.Pos))
			err = l.canal.RunFrom(*from)
		} else {
			err = l.canal.Run()
		}
		if err != nil {
			logger.Log.Error("Canal run error", zap.Error(err))
		}
	}()

	return nil
}

// ResumePosition picks the binlog position to restart from: the earliest one
// persisted across the synced tables, so no table's changes are skipped.
func ResumePosition(ctx context.Context, st store.Store) *mysql.Position {
	states, err := st.ListSyncStates(ctx)
	if err != nil {
		logger.Log.Warn("Failed to load persisted binlog positions", zap.Error(err))
		return nil
	}

	var pos *mysql.Position
	for _, s := range states {
		if !s.BinlogFile.Valid || s.BinlogFile.String == "" {
			continue
		}
		p := mysql.Position{Name: s.BinlogFile.String, Pos: uint32(s.BinlogPosition.Int64)}
		if pos == nil || p.Compare(*pos) < 0 {
			pos = &p
		}
	}
	return pos
}

func (l *BinlogListener) Stop() {
	l.cancel()
	l.canal.Close()
	close(l.eventChan)
	logger.Log.Info("Stopped binlog listener")
}

func (l *BinlogListener) Events() <-chan ChangeEvent {
	return l.eventChan
}

type changeHandler struct {
	canal.DummyEventHandler
	listener *BinlogListener
}

func (h *changeHandler) OnRow(e *canal.RowsEvent) error {
	if _, ok := h.listener.tables[e.Table.Name]; !ok {
		return nil
	}

	var changeType ChangeType
	switch e.Action {
	case canal.InsertAction:
		changeType = ChangeInsert
	case canal.UpdateAction:
		changeType = ChangeUpdate
	case canal.DeleteAction:
		changeType = ChangeDelete
	default:
		return nil
	}

	cols := make([]string, len(e.Table.Columns))
	for i, c := range e.Table.Columns {
		cols[i] = c.Name
	}

	pos := h.listener.canal.SyncedPosition()

	event := ChangeEvent{
		Type:       changeType,
		Schema:     e.Table.Schema,
		Table:      e.Table.Name,
		Columns:    cols,
		Rows:       e.Rows,
		Timestamp:  e.Header.Timestamp,
		BinlogFile: pos.Name,
		BinlogPos:  pos.Pos,
	}

	// Block when the queue is full to apply backpressure to the binlog.
	select {
	case h.listener.eventChan <- event:
	case <-h.listener.ctx.Done():
		return h.listener.ctx.Err()
	}

	return nil
}

func (h *changeHandler) String() string {
	return "ChangeEventHandler"
}
