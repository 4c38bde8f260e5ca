// Package ledger keeps the monthly expense totals fed by uploaded expense receipts.
package ledger

import (
	"context"
	"fmt"

	"github.com/jun/erpdrive/internal/events"
	"github.com/jun/erpdrive/internal/model"
	"go.uber.org/zap"
)

const upsertExpense = `
INSERT INTO expense_ledger (owner_id, year, month, total_cents)
VALUES ($1, $2, $3, $4)
ON CONFLICT (owner_id, year, month)
DO UPDATE SET total_cents = expense_ledger.total_cents + EXCLUDED.total_cents, updated_at = now()`

// Handler adds the amount of each ExpenseDocumentUploaded to its owner's monthly total.
type Handler struct {
	logger *zap.Logger
}

func NewHandler(logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{logger: logger.Named("ledger")}
}

// Register subscribes the handler to bus.
func (h *Handler) Register(bus *events.Bus) {
	bus.Subscribe(model.ExpenseDocumentUploaded{}.EventName(), h.Handle)
}

// Handle writes through tx so the increment commits or rolls back with the document row.
func (h *Handler) Handle(ctx context.Context, tx events.Tx, evt events.Event) error {
	e, ok := evt.(model.ExpenseDocumentUploaded)
	if !ok {
		return fmt.Errorf("ledger: unexpected event %T", evt)
	}
	if e.AmountCents == 0 {
		return nil
	}

	if _, err := tx.Exec(ctx, upsertExpense, e.OwnerID, e.Period.Year, int(e.Period.Month), e.AmountCents); err != nil {
		return fmt.Errorf("add expense: %w", err)
	}
	h.logger.Info("expense recorded",
		zap.String("owner_id", e.OwnerID),
		zap.String("document_id", e.DocumentID),
		zap.String("period", e.Period.String()),
		zap.Int64("amount_cents", e.AmountCents),
	)
	return nil
}
