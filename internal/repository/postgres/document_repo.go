package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jun/erpdrive/internal/errs"
	"github.com/jun/erpdrive/internal/events"
	"github.com/jun/erpdrive/internal/model"
)

// DocumentRepo stores document records and their local byte backup.
type DocumentRepo struct {
	db  *DB
	bus *events.Bus
}

// NewDocumentRepo constructs a document repository. Events passed to Create are dispatched on bus.
func NewDocumentRepo(db *DB, bus *events.Bus) *DocumentRepo {
	return &DocumentRepo{db: db, bus: bus}
}

const documentColumns = `id, owner_kind, owner_id, file_name, mime_type, file_size, document_type,
drive_file_id, drive_folder_id, drive_web_view_link, drive_web_content_link, visible, uploaded_by, created_at`

// Create inserts doc and dispatches evts in the same transaction.
func (r *DocumentRepo) Create(ctx context.Context, doc *model.Document, evts ...events.Event) error {
	const ins = `
INSERT INTO documents (id, owner_kind, owner_id, file_name, mime_type, file_size, document_type,
  drive_file_id, drive_folder_id, drive_web_view_link, drive_web_content_link, visible, uploaded_by, content)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
RETURNING created_at`

	return r.db.inTx(ctx, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx, ins,
			doc.ID, string(doc.OwnerKind), doc.OwnerID, doc.FileName, doc.MimeType, doc.FileSize, doc.DocumentType,
			doc.DriveFileID, doc.DriveFolderID, doc.DriveWebViewLink, doc.DriveWebContentLink, doc.Visible, doc.UploadedBy,
			doc.Content,
		).Scan(&doc.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert document: %w", err)
		}
		for _, evt := range evts {
			if err := r.bus.Dispatch(ctx, tx, evt); err != nil {
				return err
			}
		}
		return nil
	})
}

// Get returns the document including its content.
func (r *DocumentRepo) Get(ctx context.Context, kind model.OwnerKind, id string) (*model.Document, error) {
	q := `SELECT ` + documentColumns + `, content FROM documents WHERE id=$1 AND owner_kind=$2`

	var d model.Document
	dest := append(documentDest(&d), &d.Content)
	if err := r.db.Pool.QueryRow(ctx, q, id, string(kind)).Scan(dest...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("document %s: %w", id, errs.ErrNotFound)
		}
		return nil, err
	}
	return &d, nil
}

// ListByOwner returns the owner's documents, newest first, without content.
func (r *DocumentRepo) ListByOwner(ctx context.Context, kind model.OwnerKind, ownerID string) ([]model.Document, error) {
	q := `SELECT ` + documentColumns + ` FROM documents WHERE owner_kind=$1 AND owner_id=$2 ORDER BY created_at DESC`

	rows, err := r.db.Pool.Query(ctx, q, string(kind), ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Document{}
	for rows.Next() {
		var d model.Document
		if err := rows.Scan(documentDest(&d)...); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *DocumentRepo) Delete(ctx context.Context, kind model.OwnerKind, id string) error {
	const q = `DELETE FROM documents WHERE id=$1 AND owner_kind=$2`
	tag, err := r.db.Pool.Exec(ctx, q, id, string(kind))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

// CountInFolder counts the records still pointing at folderID.
func (r *DocumentRepo) CountInFolder(ctx context.Context, kind model.OwnerKind, folderID string) (int, error) {
	const q = `SELECT count(*) FROM documents WHERE owner_kind=$1 AND drive_folder_id=$2`
	var n int
	if err := r.db.Pool.QueryRow(ctx, q, string(kind), folderID).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *DocumentRepo) UpdateRemote(ctx context.Context, kind model.OwnerKind, id string, ref model.RemoteRef) error {
	const q = `
UPDATE documents
SET drive_file_id=$3, drive_folder_id=$4, drive_web_view_link=$5, drive_web_content_link=$6
WHERE id=$1 AND owner_kind=$2`
	tag, err := r.db.Pool.Exec(ctx, q, id, string(kind), ref.FileID, ref.FolderID, ref.WebViewLink, ref.WebContentLink)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

func (r *DocumentRepo) SetVisible(ctx context.Context, kind model.OwnerKind, id string, visible bool) error {
	const q = `UPDATE documents SET visible=$3 WHERE id=$1 AND owner_kind=$2`
	tag, err := r.db.Pool.Exec(ctx, q, id, string(kind), visible)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, errs.ErrNotFound)
	}
	return nil
}

func documentDest(d *model.Document) []any {
	return []any{
		&d.ID, &d.OwnerKind, &d.OwnerID, &d.FileName, &d.MimeType, &d.FileSize, &d.DocumentType,
		&d.DriveFileID, &d.DriveFolderID, &d.DriveWebViewLink, &d.DriveWebContentLink, &d.Visible, &d.UploadedBy,
		&d.CreatedAt,
	}
}
