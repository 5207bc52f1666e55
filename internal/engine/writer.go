package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"dbsync-engine/internal/config"
	"dbsync-engine/internal/database"
)

// Writer applies one bounded batch as a single atomic unit. Replaying the
// same batch yields the same target state.
type Writer interface {
	Apply(ctx context.Context, table config.TableConfig, batch []Upsert) (int64, error)
	Delete(ctx context.Context, table config.TableConfig, keys []string) (int64, error)
	SettleMissing(ctx context.Context, table config.TableConfig, activeKeys []string) (int64, error)
}

type SQLWriter struct {
	db *database.Database
}

func NewSQLWriter(db *database.Database) *SQLWriter {
	return &SQLWriter{db: db}
}

// Apply upserts the batch inside one transaction. Any failure rolls the
// whole batch back; no partial application is observable.
func (w *SQLWriter) Apply(ctx context.Context, table config.TableConfig, batch []Upsert) (int64, error) {
	if len(batch) == 0 {
		return 0, nil
	}

	var applied int64
	err := w.db.ExecTx(ctx, func(tx *sql.Tx) error {
		for _, up := range batch {
			query, args := w.upsertStatement(table, up)
			if _, err := tx.ExecContext(ctx, query, args...); err != nil {
				return fmt.Errorf("upsert key %s into %s failed: %w", up.Key, table.Target(), err)
			}
			applied++
		}
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}

	return applied, nil
}

func (w *SQLWriter) upsertStatement(table config.TableConfig, up Upsert) (string, []any) {
	cols := make([]string, 0, len(up.Columns))
	for c := range up.Columns {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	args := make([]any, 0, len(cols))
	for _, c := range cols {
		args = append(args, normalizeValue(up.Columns[c]))
	}

	switch w.db.Driver {
	case "oracle":
		return w.oracleMerge(table, cols), args
	case "sqlite":
		return w.sqliteUpsert(table, cols), args
	default:
		return w.mysqlUpsert(table, cols), args
	}
}

func (w *SQLWriter) mysqlUpsert(table config.TableConfig, cols []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	var updates []string
	for _, c := range cols {
		if strings.EqualFold(c, table.PrimaryKey) {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = VALUES(%s)", c, c))
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON DUPLICATE KEY UPDATE %s",
		table.Target(), strings.Join(cols, ", "), placeholders, strings.Join(updates, ", "))
}

func (w *SQLWriter) sqliteUpsert(table config.TableConfig, cols []string) string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	var updates []string
	for _, c := range cols {
		if strings.EqualFold(c, table.PrimaryKey) {
			continue
		}
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s",
		table.Target(), strings.Join(cols, ", "), placeholders, table.PrimaryKey, strings.Join(updates, ", "))
}

func (w *SQLWriter) oracleMerge(table config.TableConfig, cols []string) string {
	selects := make([]string, len(cols))
	inserts := make([]string, len(cols))
	var updates []string
	for i, c := range cols {
		selects[i] = fmt.Sprintf(":%d AS %s", i+1, c)
		inserts[i] = fmt.Sprintf("src.%s", c)
		if !strings.EqualFold(c, table.PrimaryKey) {
			updates = append(updates, fmt.Sprintf("dst.%s = src.%s", c, c))
		}
	}

	return fmt.Sprintf(
		"MERGE INTO %s dst USING (SELECT %s FROM dual) src ON (dst.%s = src.%s) "+
			"WHEN MATCHED THEN UPDATE SET %s "+
			"WHEN NOT MATCHED THEN INSERT (%s) VALUES (%s)",
		table.Target(), strings.Join(selects, ", "), table.PrimaryKey, table.PrimaryKey,
		strings.Join(updates, ", "),
		strings.Join(cols, ", "), strings.Join(inserts, ", "))
}

// Delete removes rows by key in one transaction. Deleting an absent key is
// not an error, so replays are safe.
func (w *SQLWriter) Delete(ctx context.Context, table config.TableConfig, keys []string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	var deleted int64
	err := w.db.ExecTx(ctx, func(tx *sql.Tx) error {
		placeholder := "?"
		if w.db.Driver == "oracle" {
			placeholder = ":1"
		}
		query := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", table.Target(), table.PrimaryKey, placeholder)
		for _, k := range keys {
			res, err := tx.ExecContext(ctx, query, k)
			if err != nil {
				return fmt.Errorf("delete key %s from %s failed: %w", k, table.Target(), err)
			}
			n, _ := res.RowsAffected()
			deleted += n
		}
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}

	return deleted, nil
}

// SettleMissing marks target rows whose keys no longer appear in the active
// source set. Only meaningful after a full-window extraction.
func (w *SQLWriter) SettleMissing(ctx context.Context, table config.TableConfig, activeKeys []string) (int64, error) {
	if !table.SettleMissing || table.SettledColumn == "" {
		return 0, nil
	}

	var settled int64
	err := w.db.ExecTx(ctx, func(tx *sql.Tx) error {
		query := fmt.Sprintf("UPDATE %s SET %s = 1 WHERE %s = 0",
			table.Target(), table.SettledColumn, table.SettledColumn)
		args := []any{}
		if len(activeKeys) > 0 {
			placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(activeKeys)), ", ")
			if w.db.Driver == "oracle" {
				binds := make([]string, len(activeKeys))
				for i := range activeKeys {
					binds[i] = fmt.Sprintf(":%d", i+1)
				}
				placeholders = strings.Join(binds, ", ")
			}
			query += fmt.Sprintf(" AND %s NOT IN (%s)", table.PrimaryKey, placeholders)
			for _, k := range activeKeys {
				args = append(args, k)
			}
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("settle pass on %s failed: %w", table.Target(), err)
		}
		settled, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, classify(err)
	}

	return settled, nil
}

// normalizeValue converts driver-scanned values into bind-safe ones.
func normalizeValue(v any) any {
	if b, ok := v.([]byte); ok {
		return string(b)
	}
	return v
}
