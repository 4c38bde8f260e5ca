package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jun/erpdrive/internal/errs"
	"github.com/jun/erpdrive/internal/model"
	"go.uber.org/zap"
)

type LedgerReader interface {
	MonthlyTotal(ctx context.Context, ownerID string, period model.YearMonth) (int64, error)
}

// LedgerHandler serves monthly expense totals built from uploaded receipts.
type LedgerHandler struct {
	ledger    LedgerReader
	jwtSecret string
	logger    *zap.Logger
	now       func() time.Time
}

func NewLedgerHandler(ledger LedgerReader, jwtSecret string, logger *zap.Logger) *LedgerHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LedgerHandler{ledger: ledger, jwtSecret: jwtSecret, logger: logger, now: time.Now}
}

// MonthlyTotal handles GET /expense-ledger/{userId}?year=YYYY&month=M. The period defaults to the current month.
func (h *LedgerHandler) MonthlyTotal(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := GetUserID(req, h.jwtSecret); err != nil {
		return fail(h.logger, err), nil
	}

	ownerID := req.PathParameters["userId"]
	if ownerID == "" {
		return fail(h.logger, errs.Validation("user id is required")), nil
	}

	period := model.YearMonthOf(h.now())
	if v := req.QueryStringParameters["year"]; v != "" {
		y, err := strconv.Atoi(v)
		if err != nil || y < 2000 || y > 9999 {
			return fail(h.logger, errs.Validation("invalid year %q", v)), nil
		}
		period.Year = y
	}
	if v := req.QueryStringParameters["month"]; v != "" {
		m, err := strconv.Atoi(v)
		if err != nil || m < 1 || m > 12 {
			return fail(h.logger, errs.Validation("invalid month %q", v)), nil
		}
		period.Month = time.Month(m)
	}

	total, err := h.ledger.MonthlyTotal(ctx, ownerID, period)
	if err != nil {
		return fail(h.logger, err), nil
	}
	return respond(http.StatusOK, map[string]any{
		"user_id":     ownerID,
		"period":      period.String(),
		"total_cents": total,
	}), nil
}
