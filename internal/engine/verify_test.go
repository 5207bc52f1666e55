package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyCountsMatch(t *testing.T) {
	source := newSourceDB(t)
	target := newTargetDB(t)
	ctx := context.Background()

	w := NewSQLWriter(target)
	rows, err := NewSQLSource(source).Extract(ctx, invoiceTable(), Cursor{}, 100)
	require.NoError(t, err)
	res, err := Reconcile(invoiceTable(), rows)
	require.NoError(t, err)
	_, err = w.Apply(ctx, invoiceTable(), res.Upserts)
	require.NoError(t, err)

	report, err := NewVerifier(source, target).VerifyCounts(ctx, invoiceTable())
	require.NoError(t, err)
	assert.True(t, report.Match)
	assert.Equal(t, int64(3), report.Source)
	assert.Equal(t, int64(3), report.Target)
	assert.Contains(t, report.String(), "integrity ok")
}

func TestVerifyCountsMismatch(t *testing.T) {
	source := newSourceDB(t)
	target := newTargetDB(t)
	ctx := context.Background()

	report, err := NewVerifier(source, target).VerifyCounts(ctx, invoiceTable())
	require.NoError(t, err)
	assert.False(t, report.Match)
	assert.Equal(t, int64(3), report.Source)
	assert.Zero(t, report.Target)
	assert.Contains(t, report.String(), "mismatch")
}

func TestVerifyCountsMissingTable(t *testing.T) {
	source := newSourceDB(t)
	target := newTargetDB(t)

	table := invoiceTable()
	table.SourceTable = "no_such_table"
	_, err := NewVerifier(source, target).VerifyCounts(context.Background(), table)
	require.Error(t, err)
}
