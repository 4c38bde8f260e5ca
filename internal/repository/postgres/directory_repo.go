package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jun/erpdrive/internal/errs"
	"github.com/jun/erpdrive/internal/model"
)

// DirectoryRepo reads the ERP records that name the Drive folders.
type DirectoryRepo struct{ db *DB }

func NewDirectoryRepo(db *DB) *DirectoryRepo { return &DirectoryRepo{db: db} }

func (r *DirectoryRepo) UserFolderContext(ctx context.Context, userID string) (*model.UserFolderContext, error) {
	const q = `SELECT id, first_name, last_name FROM users WHERE id=$1`

	var u model.UserFolderContext
	if err := r.db.Pool.QueryRow(ctx, q, userID).Scan(&u.UserID, &u.FirstName, &u.LastName); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %s: %w", userID, errs.ErrNotFound)
		}
		return nil, err
	}
	return &u, nil
}

func (r *DirectoryRepo) SessionFolderContext(ctx context.Context, sessionID string) (*model.SessionFolderContext, error) {
	const q = `
SELECT s.id, s.session_number, s.name, d.id, d.title, o.name
FROM sessions s
JOIN deals d ON d.id = s.deal_id
JOIN organizations o ON o.id = d.organization_id
WHERE s.id=$1`

	var s model.SessionFolderContext
	err := r.db.Pool.QueryRow(ctx, q, sessionID).
		Scan(&s.SessionID, &s.SessionNumber, &s.SessionName, &s.DealID, &s.DealTitle, &s.OrganizationName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %s: %w", sessionID, errs.ErrNotFound)
		}
		return nil, err
	}
	return &s, nil
}
