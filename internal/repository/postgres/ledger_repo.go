package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jun/erpdrive/internal/model"
)

// LedgerRepo reads expense totals written by ledger.Handler.
type LedgerRepo struct{ db *DB }

func NewLedgerRepo(db *DB) *LedgerRepo { return &LedgerRepo{db: db} }

// MonthlyTotal returns the owner's expense total for the period, zero when nothing was recorded.
func (r *LedgerRepo) MonthlyTotal(ctx context.Context, ownerID string, period model.YearMonth) (int64, error) {
	const q = `SELECT total_cents FROM expense_ledger WHERE owner_id=$1 AND year=$2 AND month=$3`

	var total int64
	err := r.db.Pool.QueryRow(ctx, q, ownerID, period.Year, int(period.Month)).Scan(&total)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return total, err
}
