package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursorRoundTrip(t *testing.T) {
	seq := Cursor{Kind: CursorSequence, Seq: 42, Valid: true}
	parsed, err := ParseCursor(seq.String())
	require.NoError(t, err)
	assert.Equal(t, seq, parsed)

	ts := Cursor{Kind: CursorTimestamp, Time: time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC), Valid: true}
	parsed, err = ParseCursor(ts.String())
	require.NoError(t, err)
	assert.True(t, parsed.Time.Equal(ts.Time))
	assert.Equal(t, CursorTimestamp, parsed.Kind)
}

func TestParseCursorEmpty(t *testing.T) {
	c, err := ParseCursor("")
	require.NoError(t, err)
	assert.False(t, c.Valid)
}

func TestParseCursorGarbage(t *testing.T) {
	_, err := ParseCursor("definitely not a cursor")
	assert.Error(t, err)
}

func TestCursorLess(t *testing.T) {
	zero := Cursor{}
	a := Cursor{Kind: CursorSequence, Seq: 1, Valid: true}
	b := Cursor{Kind: CursorSequence, Seq: 2, Valid: true}

	assert.True(t, zero.Less(a))
	assert.False(t, a.Less(zero))
	assert.True(t, a.Less(b))
	assert.False(t, b.Less(a))
	assert.False(t, a.Less(a))

	t1 := Cursor{Kind: CursorTimestamp, Time: time.Unix(100, 0), Valid: true}
	t2 := Cursor{Kind: CursorTimestamp, Time: time.Unix(200, 0), Valid: true}
	assert.True(t, t1.Less(t2))
	assert.False(t, t2.Less(t1))
}

func TestCursorFromValue(t *testing.T) {
	c, err := CursorFromValue(int64(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), c.Seq)

	now := time.Now()
	c, err = CursorFromValue(now)
	require.NoError(t, err)
	assert.True(t, c.Time.Equal(now))

	c, err = CursorFromValue([]byte("123"))
	require.NoError(t, err)
	assert.Equal(t, int64(123), c.Seq)

	_, err = CursorFromValue(nil)
	assert.Error(t, err)
}
