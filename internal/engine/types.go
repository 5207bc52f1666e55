package engine

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Row is one extracted source row, keyed by column name. Immutable once
// extracted; the reconciler and writer never mutate it.
type Row map[string]any

// Cursor is a change indicator: either a timestamp or a monotonically
// increasing sequence number. The zero Cursor means "everything" (first run).
type Cursor struct {
	Kind  string // "timestamp" or "sequence"
	Time  time.Time
	Seq   int64
	Valid bool
}

const (
	CursorTimestamp = "timestamp"
	CursorSequence  = "sequence"
)

// CursorFromValue builds a Cursor from a raw column value as scanned by
// database/sql.
func CursorFromValue(v any) (Cursor, error) {
	switch x := v.(type) {
	case time.Time:
		return Cursor{Kind: CursorTimestamp, Time: x, Valid: true}, nil
	case int64:
		return Cursor{Kind: CursorSequence, Seq: x, Valid: true}, nil
	case int:
		return Cursor{Kind: CursorSequence, Seq: int64(x), Valid: true}, nil
	case uint64:
		return Cursor{Kind: CursorSequence, Seq: int64(x), Valid: true}, nil
	case float64:
		return Cursor{Kind: CursorSequence, Seq: int64(x), Valid: true}, nil
	case []byte:
		return ParseCursor(string(x))
	case string:
		return ParseCursor(x)
	case nil:
		return Cursor{}, fmt.Errorf("change indicator is NULL")
	default:
		return Cursor{}, fmt.Errorf("unsupported change indicator type %T", v)
	}
}

// ParseCursor parses the persisted string form produced by String.
func ParseCursor(s string) (Cursor, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Cursor{}, nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Cursor{Kind: CursorSequence, Seq: n, Valid: true}, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Cursor{Kind: CursorTimestamp, Time: t, Valid: true}, nil
		}
	}
	return Cursor{}, fmt.Errorf("unparseable cursor value %q", s)
}

// String is the persisted form, round-trippable through ParseCursor.
func (c Cursor) String() string {
	if !c.Valid {
		return ""
	}
	if c.Kind == CursorSequence {
		return strconv.FormatInt(c.Seq, 10)
	}
	return c.Time.Format(time.RFC3339Nano)
}

// Arg returns the value to bind into the extraction query.
func (c Cursor) Arg() any {
	if c.Kind == CursorSequence {
		return c.Seq
	}
	return c.Time
}

// Less reports whether c sorts strictly before o.
func (c Cursor) Less(o Cursor) bool {
	if !c.Valid {
		return o.Valid
	}
	if !o.Valid {
		return false
	}
	if c.Kind == CursorSequence {
		return c.Seq < o.Seq
	}
	return c.Time.Before(o.Time)
}

// Upsert is one target-shaped instruction: insert-or-update the row
// identified by Key, replacing all non-key columns.
type Upsert struct {
	Key       string
	Indicator Cursor
	Columns   Row
}

func (u Upsert) String() string {
	return fmt.Sprintf("upsert key=%s indicator=%s", u.Key, u.Indicator)
}

// Skip records a source row excluded from a batch by a data error.
type Skip struct {
	Key    string
	Reason string
}
