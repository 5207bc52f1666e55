package engine

import (
	"context"
	"fmt"

	"dbsync-engine/internal/config"
	"dbsync-engine/internal/database"
)

// Source yields rows with a change indicator strictly greater than the
// cursor, ascending, bounded by limit. Implementations classify their
// failures as transient or fatal.
type Source interface {
	Extract(ctx context.Context, table config.TableConfig, cur Cursor, limit int) ([]Row, error)
}

// SQLSource extracts over database/sql. A pooled connection is held only for
// the duration of one extraction; rows.Close on every exit path releases it.
type SQLSource struct {
	db *database.Database
}

func NewSQLSource(db *database.Database) *SQLSource {
	return &SQLSource{db: db}
}

func (s *SQLSource) Extract(ctx context.Context, table config.TableConfig, cur Cursor, limit int) ([]Row, error) {
	query, args := s.buildQuery(table, cur, limit)

	rows, err := s.db.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("extraction query for %s failed: %w", table.Name, err))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, classify(fmt.Errorf("failed to read columns for %s: %w", table.Name, err))
	}

	var out []Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(fmt.Errorf("failed to scan row from %s: %w", table.Name, err))
		}
		row := make(Row, len(cols))
		for i, c := range cols {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(fmt.Errorf("extraction cursor for %s failed: %w", table.Name, err))
	}

	return out, nil
}

func (s *SQLSource) buildQuery(table config.TableConfig, cur Cursor, limit int) (string, []any) {
	var args []any

	where := ""
	if cur.Valid {
		args = append(args, cur.Arg())
		if s.db.Driver == "oracle" {
			where = fmt.Sprintf(" WHERE %s > :1", table.TimestampColumn)
		} else {
			where = fmt.Sprintf(" WHERE %s > ?", table.TimestampColumn)
		}
	}

	args = append(args, limit)
	var bound string
	if s.db.Driver == "oracle" {
		bound = fmt.Sprintf(" FETCH FIRST :%d ROWS ONLY", len(args))
	} else {
		bound = " LIMIT ?"
	}

	query := fmt.Sprintf("SELECT * FROM %s%s ORDER BY %s ASC%s",
		table.Source(), where, table.TimestampColumn, bound)
	return query, args
}

// classify tags plain errors with their class so the loop can pick a
// reaction without inspecting driver internals.
func classify(err error) error {
	if Classify(err) == ClassFatal {
		return Fatal(err)
	}
	return Transient(err)
}
