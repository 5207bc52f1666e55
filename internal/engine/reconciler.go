package engine

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"dbsync-engine/internal/config"
)

// ReconcileResult is the target-shaped output of one extraction window.
type ReconcileResult struct {
	Upserts      []Upsert // ascending by change indicator
	Skips        []Skip
	MaxIndicator Cursor // greatest indicator among the upserts
	MaxExtracted Cursor // greatest parseable indicator in the window, skipped rows included
}

// Reconcile maps raw source rows to upsert instructions. It is a pure
// function of its input: re-running it on the same window after a crash
// produces the same instructions. Rows sharing a key are deduplicated,
// keeping the one with the latest change indicator. A malformed row is
// skipped, or fails the whole batch when the table is configured strict.
func Reconcile(table config.TableConfig, rows []Row) (ReconcileResult, error) {
	var res ReconcileResult
	if len(rows) == 0 {
		return res, nil
	}

	latest := make(map[string]Upsert, len(rows))

	for i, row := range rows {
		// Track the window's high-water mark before any skip decision so a
		// fully-skipped window still lets the caller make progress.
		if tsVal, ok := lookupColumn(row, table.TimestampColumn); ok {
			if ind, err := CursorFromValue(tsVal); err == nil && res.MaxExtracted.Less(ind) {
				res.MaxExtracted = ind
			}
		}

		keyVal, ok := lookupColumn(row, table.PrimaryKey)
		if !ok || keyVal == nil {
			skip := Skip{Key: fmt.Sprintf("row[%d]", i), Reason: fmt.Sprintf("missing primary key column %s", table.PrimaryKey)}
			if table.Strict {
				return ReconcileResult{}, DataError(fmt.Errorf("%s: %s", table.Name, skip.Reason))
			}
			res.Skips = append(res.Skips, skip)
			continue
		}
		key := columnString(keyVal)

		tsVal, ok := lookupColumn(row, table.TimestampColumn)
		if !ok {
			skip := Skip{Key: key, Reason: fmt.Sprintf("missing change indicator column %s", table.TimestampColumn)}
			if table.Strict {
				return ReconcileResult{}, DataError(fmt.Errorf("%s key %s: %s", table.Name, key, skip.Reason))
			}
			res.Skips = append(res.Skips, skip)
			continue
		}
		indicator, err := CursorFromValue(tsVal)
		if err != nil {
			skip := Skip{Key: key, Reason: fmt.Sprintf("bad change indicator: %v", err)}
			if table.Strict {
				return ReconcileResult{}, DataError(fmt.Errorf("%s key %s: %w", table.Name, key, err))
			}
			res.Skips = append(res.Skips, skip)
			continue
		}

		up := Upsert{Key: key, Indicator: indicator, Columns: row}

		prev, seen := latest[key]
		if !seen || prev.Indicator.Less(indicator) {
			latest[key] = up
			continue
		}
		if !indicator.Less(prev.Indicator) && rowHash(row) != rowHash(prev.Columns) {
			// Same indicator, different payload: ambiguous duplicate.
			skip := Skip{Key: key, Reason: "conflicting rows with identical change indicator"}
			if table.Strict {
				return ReconcileResult{}, DataError(fmt.Errorf("%s key %s: %s", table.Name, key, skip.Reason))
			}
			res.Skips = append(res.Skips, skip)
		}
	}

	res.Upserts = make([]Upsert, 0, len(latest))
	for _, up := range latest {
		res.Upserts = append(res.Upserts, up)
	}
	sort.Slice(res.Upserts, func(i, j int) bool {
		a, b := res.Upserts[i], res.Upserts[j]
		if a.Indicator.Less(b.Indicator) {
			return true
		}
		if b.Indicator.Less(a.Indicator) {
			return false
		}
		return a.Key < b.Key
	})

	if n := len(res.Upserts); n > 0 {
		res.MaxIndicator = res.Upserts[n-1].Indicator
	}

	return res, nil
}

func lookupColumn(row Row, name string) (any, bool) {
	if v, ok := row[name]; ok {
		return v, true
	}
	for k, v := range row {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return nil, false
}

func columnString(v any) string {
	switch x := v.(type) {
	case []byte:
		return string(x)
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func rowHash(row Row) string {
	norm := make(map[string]string, len(row))
	for k, v := range row {
		norm[strings.ToUpper(k)] = columnString(v)
	}
	bytes, _ := json.Marshal(norm)
	sum := sha256.Sum256(bytes)
	return fmt.Sprintf("%x", sum)
}
