// Package memory provides in-process stores for DEV_MODE and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jun/erpdrive/internal/errs"
	"github.com/jun/erpdrive/internal/events"
	"github.com/jun/erpdrive/internal/model"
)

// Statement is a write issued by an event handler through the store's transaction.
type Statement struct {
	SQL  string
	Args []any
}

// tx buffers handler writes so a failed dispatch leaves nothing behind.
type tx struct {
	stmts []Statement
}

func (t *tx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.stmts = append(t.stmts, Statement{SQL: sql, Args: args})
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

// DocumentStore keeps document records in a map.
type DocumentStore struct {
	mu         sync.RWMutex
	docs       map[string]model.Document
	statements []Statement
	bus        *events.Bus
	failCreate error
}

func NewDocumentStore(bus *events.Bus) *DocumentStore {
	return &DocumentStore{docs: make(map[string]model.Document), bus: bus}
}

// FailCreate makes later Create calls fail with err. A nil err clears it.
func (s *DocumentStore) FailCreate(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCreate = err
}

func (s *DocumentStore) Create(ctx context.Context, doc *model.Document, evts ...events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failCreate != nil {
		return s.failCreate
	}
	if _, ok := s.docs[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}

	t := &tx{}
	for _, evt := range evts {
		if err := s.bus.Dispatch(ctx, t, evt); err != nil {
			return err
		}
	}

	doc.CreatedAt = time.Now().UTC()
	stored := *doc
	stored.Content = append([]byte(nil), doc.Content...)
	s.docs[doc.ID] = stored
	s.statements = append(s.statements, t.stmts...)
	return nil
}

func (s *DocumentStore) Get(ctx context.Context, kind model.OwnerKind, id string) (*model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	d, ok := s.docs[id]
	if !ok || d.OwnerKind != kind {
		return nil, fmt.Errorf("document %s: %w", id, errs.ErrNotFound)
	}
	return &d, nil
}

func (s *DocumentStore) ListByOwner(ctx context.Context, kind model.OwnerKind, ownerID string) ([]model.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []model.Document{}
	for _, d := range s.docs {
		if d.OwnerKind == kind && d.OwnerID == ownerID {
			d.Content = nil
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *DocumentStore) Delete(ctx context.Context, kind model.OwnerKind, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok || d.OwnerKind != kind {
		return fmt.Errorf("document %s: %w", id, errs.ErrNotFound)
	}
	delete(s.docs, id)
	return nil
}

func (s *DocumentStore) CountInFolder(ctx context.Context, kind model.OwnerKind, folderID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, d := range s.docs {
		if d.OwnerKind == kind && d.DriveFolderID == folderID {
			n++
		}
	}
	return n, nil
}

func (s *DocumentStore) UpdateRemote(ctx context.Context, kind model.OwnerKind, id string, ref model.RemoteRef) error {
	return s.update(kind, id, func(d *model.Document) {
		d.DriveFileID = ref.FileID
		d.DriveFolderID = ref.FolderID
		d.DriveWebViewLink = ref.WebViewLink
		d.DriveWebContentLink = ref.WebContentLink
	})
}

func (s *DocumentStore) SetVisible(ctx context.Context, kind model.OwnerKind, id string, visible bool) error {
	return s.update(kind, id, func(d *model.Document) { d.Visible = visible })
}

func (s *DocumentStore) update(kind model.OwnerKind, id string, fn func(*model.Document)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	d, ok := s.docs[id]
	if !ok || d.OwnerKind != kind {
		return fmt.Errorf("document %s: %w", id, errs.ErrNotFound)
	}
	fn(&d)
	s.docs[id] = d
	return nil
}

// Put stores a record as is, bypassing event dispatch.
func (s *DocumentStore) Put(doc model.Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.ID] = doc
}

// Len returns the number of stored records.
func (s *DocumentStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// Statements returns the handler writes of committed creates.
func (s *DocumentStore) Statements() []Statement {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Statement(nil), s.statements...)
}
