package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishReadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	p := NewStatusPublisher(path)

	p.AddAlert("integrity", "row count mismatch on invoices")
	p.Publish(Snapshot{
		Status:        "idle",
		State:         string(StateIdle),
		RowsProcessed: 120,
		Tables: map[string]TableStatus{
			"invoices": {Cursor: "42", RowsSynced: 120, Status: "success"},
		},
	})

	snap, err := p.Read()
	require.NoError(t, err)

	assert.Equal(t, "idle", snap.Status)
	assert.Equal(t, int64(120), snap.RowsProcessed)
	assert.Equal(t, "42", snap.Tables["invoices"].Cursor)
	require.Len(t, snap.Alerts, 1)
	assert.Equal(t, "integrity", snap.Alerts[0].Type)
	assert.False(t, snap.UpdatedAt.IsZero())
}

func TestPublishOverwritesPrevious(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")
	p := NewStatusPublisher(path)

	p.Publish(Snapshot{Status: "running", State: string(StateExtracting)})
	p.Publish(Snapshot{Status: "idle", State: string(StateIdle)})

	snap, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, "idle", snap.Status)

	// Temp file never lingers after a successful rename.
	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err))
}

func TestPublishWithoutPathIsNoop(t *testing.T) {
	p := NewStatusPublisher("")
	p.Publish(Snapshot{Status: "idle"}) // must not panic or write anywhere
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	p := NewStatusPublisher(filepath.Join(t.TempDir(), "missing", "dir", "status.json"))
	p.Publish(Snapshot{Status: "idle"}) // destination directory absent
}

func TestAlertsCappedNewestFirst(t *testing.T) {
	p := NewStatusPublisher("")

	for i := 0; i < maxAlerts+10; i++ {
		p.AddAlert("sync_failure", fmt.Sprintf("failure %d", i))
	}

	alerts := p.Alerts()
	require.Len(t, alerts, maxAlerts)
	assert.Equal(t, fmt.Sprintf("failure %d", maxAlerts+9), alerts[0].Message)
	assert.Equal(t, fmt.Sprintf("failure %d", 10), alerts[maxAlerts-1].Message)
}

func TestClearAlerts(t *testing.T) {
	p := NewStatusPublisher("")
	p.AddAlert("sync_failure", "boom")
	p.ClearAlerts()
	assert.Empty(t, p.Alerts())
}
