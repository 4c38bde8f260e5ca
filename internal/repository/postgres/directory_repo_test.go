package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jun/erpdrive/internal/errs"
	"github.com/jun/erpdrive/internal/model"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"
)

func TestDirectoryRepo_UserFolderContext(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewDirectoryRepo(db)

	mock.ExpectQuery(`SELECT id, first_name, last_name FROM users WHERE id=\$1`).
		WithArgs("u1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "first_name", "last_name"}).AddRow("u1", "Ana", "García"))

	got, err := r.UserFolderContext(context.Background(), "u1")
	require.NoError(t, err)
	require.Equal(t, &model.UserFolderContext{UserID: "u1", FirstName: "Ana", LastName: "García"}, got)
}

func TestDirectoryRepo_SessionFolderContext(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewDirectoryRepo(db)

	mock.ExpectQuery(`FROM sessions s\s+JOIN deals d ON d.id = s.deal_id\s+JOIN organizations o`).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "session_number", "name", "deal_id", "title", "org"}).
			AddRow("s1", 2, "Prácticas", "D-77", "Curso PRL", "O'Brien Corp"))

	got, err := r.SessionFolderContext(context.Background(), "s1")
	require.NoError(t, err)
	require.Equal(t, 2, got.SessionNumber)
	require.Equal(t, "O'Brien Corp", got.OrganizationName)
	require.Equal(t, "D-77", got.DealID)
}

func TestDirectoryRepo_NotFound(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewDirectoryRepo(db)

	mock.ExpectQuery(`FROM users`).WithArgs("nope").WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`FROM sessions`).WithArgs("nope").WillReturnError(pgx.ErrNoRows)

	_, err := r.UserFolderContext(context.Background(), "nope")
	require.ErrorIs(t, err, errs.ErrNotFound)
	_, err = r.SessionFolderContext(context.Background(), "nope")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestLedgerRepo_MonthlyTotal(t *testing.T) {
	db, mock := newDB(t)
	defer mock.Close()
	r := NewLedgerRepo(db)
	period := model.YearMonth{Year: 2026, Month: 3}

	mock.ExpectQuery(`SELECT total_cents FROM expense_ledger`).
		WithArgs("u1", 2026, 3).
		WillReturnRows(pgxmock.NewRows([]string{"total_cents"}).AddRow(int64(9900)))
	mock.ExpectQuery(`SELECT total_cents FROM expense_ledger`).
		WithArgs("u2", 2026, 3).
		WillReturnError(pgx.ErrNoRows)

	total, err := r.MonthlyTotal(context.Background(), "u1", period)
	require.NoError(t, err)
	require.Equal(t, int64(9900), total)

	total, err = r.MonthlyTotal(context.Background(), "u2", period)
	require.NoError(t, err)
	require.Zero(t, total)
}
