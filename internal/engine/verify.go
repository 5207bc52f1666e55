package engine

import (
	"context"
	"fmt"

	"dbsync-engine/internal/config"
	"dbsync-engine/internal/database"
)

// CountReport is the outcome of one post-cycle integrity check.
type CountReport struct {
	Table  string `json:"table"`
	Source int64  `json:"source"`
	Target int64  `json:"target"`
	Match  bool   `json:"match"`
}

func (r CountReport) String() string {
	if r.Match {
		return fmt.Sprintf("integrity ok for %s: %d rows", r.Table, r.Source)
	}
	return fmt.Sprintf("integrity mismatch for %s: source %d vs target %d", r.Table, r.Source, r.Target)
}

// Verifier compares source and target row counts after a successful cycle.
// It is read-only on both sides.
type Verifier struct {
	source *database.Database
	target *database.Database
}

func NewVerifier(source, target *database.Database) *Verifier {
	return &Verifier{source: source, target: target}
}

func (v *Verifier) VerifyCounts(ctx context.Context, table config.TableConfig) (CountReport, error) {
	report := CountReport{Table: table.Name}

	var err error
	report.Source, err = countRows(ctx, v.source, table.Source())
	if err != nil {
		return report, classify(fmt.Errorf("source count for %s failed: %w", table.Name, err))
	}

	report.Target, err = countRows(ctx, v.target, table.Target())
	if err != nil {
		return report, classify(fmt.Errorf("target count for %s failed: %w", table.Name, err))
	}

	report.Match = report.Source == report.Target
	return report, nil
}

func countRows(ctx context.Context, db *database.Database, table string) (int64, error) {
	var n int64
	err := db.DB.QueryRowContext(ctx, fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&n)
	return n, err
}
