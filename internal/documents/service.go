// Package documents implements the upload, re-sync and delete lifecycle of user and session documents.
//
// The local record is authoritative. It is written only after the Drive upload and the domain grant
// succeed, and it is always removed on delete, even when Drive cleanup fails.
package documents

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jun/erpdrive/internal/adapter"
	"github.com/jun/erpdrive/internal/errs"
	"github.com/jun/erpdrive/internal/events"
	"github.com/jun/erpdrive/internal/metrics"
	"github.com/jun/erpdrive/internal/model"
	"go.uber.org/zap"
)

// Tag keys written to appProperties of every uploaded file.
const (
	TagOwnerKind  = "ownerKind"
	TagOwnerID    = "ownerId"
	TagDocumentID = "documentId"
)

const (
	DefaultPermissionRole = "reader"
	DefaultMaxFileSize    = 25 << 20
)

// DocumentStore persists document records.
type DocumentStore interface {
	// Create inserts doc and dispatches evts in the same transaction.
	Create(ctx context.Context, doc *model.Document, evts ...events.Event) error
	Get(ctx context.Context, kind model.OwnerKind, id string) (*model.Document, error)
	ListByOwner(ctx context.Context, kind model.OwnerKind, ownerID string) ([]model.Document, error)
	Delete(ctx context.Context, kind model.OwnerKind, id string) error
	CountInFolder(ctx context.Context, kind model.OwnerKind, folderID string) (int, error)
	UpdateRemote(ctx context.Context, kind model.OwnerKind, id string, ref model.RemoteRef) error
	SetVisible(ctx context.Context, kind model.OwnerKind, id string, visible bool) error
}

// FolderEnsurer resolves a folder chain, creating missing folders.
type FolderEnsurer interface {
	EnsurePath(ctx context.Context, rootID string, names ...string) (string, error)
}

type Config struct {
	// RootFolderID is the shared drive id, or a folder inside it, under which hierarchies are built.
	RootFolderID     string
	PermissionDomain string
	PermissionRole   string
	MaxFileSize      int64
}

// Service runs the document lifecycle for one owner kind.
type Service struct {
	remote  adapter.RemoteStore
	folders FolderEnsurer
	docs    DocumentStore
	layout  Layout
	cfg     Config
	logger  *zap.Logger
	metrics *metrics.Metrics

	now   func() time.Time
	newID func() string
}

// NewService creates a Service. logger and m may be nil.
func NewService(remote adapter.RemoteStore, folders FolderEnsurer, docs DocumentStore, layout Layout, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Service {
	if cfg.PermissionRole == "" {
		cfg.PermissionRole = DefaultPermissionRole
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = DefaultMaxFileSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		remote:  remote,
		folders: folders,
		docs:    docs,
		layout:  layout,
		cfg:     cfg,
		logger:  logger.With(zap.String("owner_kind", string(layout.Kind()))),
		metrics: m,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// NewUserDocuments builds the service for documents attached to users (receipts, contracts).
func NewUserDocuments(remote adapter.RemoteStore, folders FolderEnsurer, docs DocumentStore, dir UserDirectory, usersFolder string, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Service {
	return NewService(remote, folders, docs, UserLayout{Directory: dir, RootName: usersFolder}, cfg, logger, m)
}

// NewSessionDocuments builds the service for documents attached to training sessions.
func NewSessionDocuments(remote adapter.RemoteStore, folders FolderEnsurer, docs DocumentStore, dir SessionDirectory, cfg Config, logger *zap.Logger, m *metrics.Metrics) *Service {
	return NewService(remote, folders, docs, SessionLayout{Directory: dir}, cfg, logger, m)
}

func (s *Service) Kind() model.OwnerKind { return s.layout.Kind() }

type UploadRequest struct {
	OwnerID      string
	FileName     string
	MimeType     string
	DocumentType string
	Content      []byte
	UploadedBy   string

	// AmountCents and ExpenseDate only apply to user expense receipts.
	AmountCents int64
	ExpenseDate time.Time
}

func (s *Service) validate(req *UploadRequest) error {
	req.OwnerID = strings.TrimSpace(req.OwnerID)
	req.FileName = strings.TrimSpace(req.FileName)
	req.MimeType = strings.TrimSpace(req.MimeType)
	req.DocumentType = strings.TrimSpace(req.DocumentType)

	switch {
	case req.OwnerID == "":
		return errs.Validation("owner id is required")
	case req.FileName == "":
		return errs.Validation("file_name is required")
	case len(req.Content) == 0:
		return errs.Validation("file is empty")
	case int64(len(req.Content)) > s.cfg.MaxFileSize:
		return errs.Validation("file exceeds %d bytes", s.cfg.MaxFileSize)
	case req.AmountCents < 0:
		return errs.Validation("amount must not be negative")
	}
	if req.MimeType == "" {
		req.MimeType = adapter.DefaultMimeType
	}
	return nil
}

func (s *Service) tags(ownerID, documentID string) map[string]string {
	return map[string]string{
		TagOwnerKind:  string(s.Kind()),
		TagOwnerID:    ownerID,
		TagDocumentID: documentID,
	}
}

// Upload stores the file in Drive, shares it with the domain and records it locally.
// Any remote failure aborts before the local write.
func (s *Service) Upload(ctx context.Context, req UploadRequest) (*model.Document, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("owner_id", req.OwnerID))

	names, err := s.layout.Folders(ctx, req.OwnerID)
	if err != nil {
		return nil, fmt.Errorf("resolve folder names: %w", err)
	}
	folderID, err := s.folders.EnsurePath(ctx, s.cfg.RootFolderID, names...)
	if err != nil {
		return nil, fmt.Errorf("ensure folder: %w", err)
	}

	id := s.newID()
	log = log.With(zap.String("document_id", id), zap.String("folder_id", folderID))

	file, err := s.remote.Upload(ctx, adapter.UploadInput{
		ParentID: folderID,
		Name:     req.FileName,
		MimeType: req.MimeType,
		Content:  req.Content,
		Tags:     s.tags(req.OwnerID, id),
	})
	if err != nil {
		return nil, fmt.Errorf("upload document: %w", err)
	}

	if err := s.remote.GrantDomainAccess(ctx, file.ID, s.cfg.PermissionDomain, s.cfg.PermissionRole); err != nil {
		s.discardRemote(ctx, log, file.ID)
		return nil, fmt.Errorf("grant access: %w", err)
	}

	doc := &model.Document{
		ID:                  id,
		OwnerKind:           s.Kind(),
		OwnerID:             req.OwnerID,
		FileName:            req.FileName,
		MimeType:            req.MimeType,
		FileSize:            int64(len(req.Content)),
		DocumentType:        req.DocumentType,
		DriveFileID:         file.ID,
		DriveFolderID:       folderID,
		DriveWebViewLink:    file.WebViewLink,
		DriveWebContentLink: file.WebContentLink,
		Visible:             true,
		UploadedBy:          req.UploadedBy,
		Content:             req.Content,
	}

	if err := s.docs.Create(ctx, doc, s.eventsFor(doc, req)...); err != nil {
		s.discardRemote(ctx, log, file.ID)
		return nil, fmt.Errorf("save document: %w", err)
	}

	log.Info("document uploaded", zap.String("file_id", file.ID), zap.Int64("size", doc.FileSize))
	return doc, nil
}

func (s *Service) eventsFor(doc *model.Document, req UploadRequest) []events.Event {
	if doc.OwnerKind != model.OwnerUser || doc.DocumentType != model.ExpenseDocumentType || req.AmountCents == 0 {
		return nil
	}
	day := req.ExpenseDate
	if day.IsZero() {
		day = s.now()
	}
	return []events.Event{model.ExpenseDocumentUploaded{
		OwnerID:     doc.OwnerID,
		DocumentID:  doc.ID,
		AmountCents: req.AmountCents,
		Period:      model.YearMonthOf(day),
	}}
}

// discardRemote removes a file uploaded by a flow that failed afterwards.
func (s *Service) discardRemote(ctx context.Context, log *zap.Logger, fileID string) {
	if err := s.remote.DeleteFile(context.WithoutCancel(ctx), fileID); err != nil && !errors.Is(err, errs.ErrNotFound) {
		log.Warn("failed to remove orphaned upload", zap.String("file_id", fileID), zap.Error(err))
	}
}

func (s *Service) List(ctx context.Context, ownerID string) ([]model.Document, error) {
	if strings.TrimSpace(ownerID) == "" {
		return nil, errs.Validation("owner id is required")
	}
	return s.docs.ListByOwner(ctx, s.Kind(), ownerID)
}

// Get returns the record with its local byte backup.
func (s *Service) Get(ctx context.Context, id string) (*model.Document, error) {
	return s.docs.Get(ctx, s.Kind(), id)
}

func (s *Service) SetVisible(ctx context.Context, id string, visible bool) (*model.Document, error) {
	if err := s.docs.SetVisible(ctx, s.Kind(), id, visible); err != nil {
		return nil, err
	}
	doc, err := s.docs.Get(ctx, s.Kind(), id)
	if err != nil {
		return nil, err
	}
	doc.Content = nil
	return doc, nil
}

// DeleteResult reports the local and remote phases of a delete separately.
type DeleteResult struct {
	LocalDeleted  bool
	RemoteDeleted bool
	FolderDeleted bool
	RemoteError   error
}

// Delete removes the Drive file, then the local record, then the folder if nothing else uses it.
// Drive failures are reported in the result; only a failed local delete returns an error.
func (s *Service) Delete(ctx context.Context, id string) (DeleteResult, error) {
	var res DeleteResult

	doc, err := s.docs.Get(ctx, s.Kind(), id)
	if err != nil {
		return res, err
	}
	log := s.logger.With(zap.String("document_id", id), zap.String("owner_id", doc.OwnerID))

	res.RemoteDeleted, res.RemoteError = s.deleteRemote(ctx, doc)
	if res.RemoteError != nil {
		s.metrics.DocumentDeleted("remote", metrics.OutcomeError)
		log.Error("failed to delete drive file", zap.Error(res.RemoteError))
	} else {
		s.metrics.DocumentDeleted("remote", metrics.OutcomeOK)
	}

	if err := s.docs.Delete(ctx, s.Kind(), id); err != nil {
		s.metrics.DocumentDeleted("local", metrics.OutcomeError)
		return res, fmt.Errorf("delete document: %w", err)
	}
	res.LocalDeleted = true
	s.metrics.DocumentDeleted("local", metrics.OutcomeOK)

	if res.RemoteDeleted && doc.DriveFolderID != "" {
		deleted, err := s.cleanupFolder(ctx, doc.DriveFolderID)
		if err != nil {
			s.metrics.DocumentDeleted("folder", metrics.OutcomeError)
			log.Warn("failed to clean up folder", zap.String("folder_id", doc.DriveFolderID), zap.Error(err))
		}
		if deleted {
			s.metrics.DocumentDeleted("folder", metrics.OutcomeOK)
		}
		res.FolderDeleted = deleted
	}

	log.Info("document deleted", zap.Bool("drive_deleted", res.RemoteDeleted), zap.Bool("folder_deleted", res.FolderDeleted))
	return res, nil
}

func (s *Service) deleteRemote(ctx context.Context, doc *model.Document) (bool, error) {
	fileID, err := s.locate(ctx, doc)
	if err != nil {
		return false, err
	}
	if fileID == "" {
		// Nothing in Drive carries this document any more.
		return true, nil
	}
	if err := s.remote.DeleteFile(ctx, fileID); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return false, err
	}
	return true, nil
}

// locate finds the Drive file of doc: stored id, then the id embedded in a stored link, then a tag lookup.
func (s *Service) locate(ctx context.Context, doc *model.Document) (string, error) {
	if doc.DriveFileID != "" {
		return doc.DriveFileID, nil
	}
	for _, link := range []string{doc.DriveWebViewLink, doc.DriveWebContentLink} {
		if id := FileIDFromLink(link); id != "" {
			return id, nil
		}
	}
	if doc.DriveFolderID == "" {
		return "", nil
	}
	f, err := s.remote.FindByTags(ctx, doc.DriveFolderID, map[string]string{TagDocumentID: doc.ID})
	if err != nil {
		return "", fmt.Errorf("find drive file: %w", err)
	}
	if f == nil {
		return "", nil
	}
	return f.ID, nil
}

// cleanupFolder deletes folderID when no record points at it and Drive shows it empty.
func (s *Service) cleanupFolder(ctx context.Context, folderID string) (bool, error) {
	if folderID == s.cfg.RootFolderID {
		return false, nil
	}
	n, err := s.docs.CountInFolder(ctx, s.Kind(), folderID)
	if err != nil || n > 0 {
		return false, err
	}
	busy, err := s.remote.HasChildren(ctx, folderID)
	if err != nil || busy {
		return false, err
	}
	if err := s.remote.DeleteFile(ctx, folderID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ResyncResult tells whether Resync had to upload the local copy again.
type ResyncResult struct {
	Document *model.Document
	Uploaded bool
}

// Resync makes sure the Drive copy of a document exists, re-uploading the local backup if it does not.
// The stored file and folder are checked before the owner's current hierarchy, so a renamed owner
// does not end up with a second copy.
func (s *Service) Resync(ctx context.Context, id string) (*ResyncResult, error) {
	doc, err := s.docs.Get(ctx, s.Kind(), id)
	if err != nil {
		return nil, err
	}
	log := s.logger.With(zap.String("document_id", id), zap.String("owner_id", doc.OwnerID))

	tags := s.tags(doc.OwnerID, doc.ID)
	file, err := s.findExisting(ctx, doc, tags)
	if err != nil {
		return nil, err
	}

	uploaded := false
	if file == nil {
		names, err := s.layout.Folders(ctx, doc.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("resolve folder names: %w", err)
		}
		folderID, err := s.folders.EnsurePath(ctx, s.cfg.RootFolderID, names...)
		if err != nil {
			return nil, fmt.Errorf("ensure folder: %w", err)
		}
		if folderID != doc.DriveFolderID {
			if file, err = s.remote.FindByTags(ctx, folderID, tags); err != nil {
				return nil, fmt.Errorf("find drive file: %w", err)
			}
		}
		if file == nil {
			if len(doc.Content) == 0 {
				return nil, errs.Validation("document %s has no local copy to upload", id)
			}
			file, err = s.remote.Upload(ctx, adapter.UploadInput{
				ParentID: folderID,
				Name:     doc.FileName,
				MimeType: doc.MimeType,
				Content:  doc.Content,
				Tags:     tags,
			})
			if err != nil {
				return nil, fmt.Errorf("upload document: %w", err)
			}
			uploaded = true
		}
		if file.ParentID == "" {
			file.ParentID = folderID
		}
	}

	if err := s.remote.GrantDomainAccess(ctx, file.ID, s.cfg.PermissionDomain, s.cfg.PermissionRole); err != nil {
		return nil, fmt.Errorf("grant access: %w", err)
	}

	ref := model.RemoteRef{FileID: file.ID, FolderID: file.ParentID, WebViewLink: file.WebViewLink, WebContentLink: file.WebContentLink}
	if err := s.docs.UpdateRemote(ctx, s.Kind(), id, ref); err != nil {
		return nil, fmt.Errorf("save drive reference: %w", err)
	}
	doc.DriveFileID, doc.DriveFolderID = ref.FileID, ref.FolderID
	doc.DriveWebViewLink, doc.DriveWebContentLink = ref.WebViewLink, ref.WebContentLink
	doc.Content = nil

	log.Info("document resynced", zap.String("file_id", file.ID), zap.Bool("uploaded", uploaded))
	return &ResyncResult{Document: doc, Uploaded: uploaded}, nil
}

// findExisting looks for the Drive copy recorded on doc: the stored file id, then a tag lookup in the stored folder.
func (s *Service) findExisting(ctx context.Context, doc *model.Document, tags map[string]string) (*adapter.RemoteFile, error) {
	if doc.DriveFileID != "" {
		f, err := s.remote.GetFile(ctx, doc.DriveFileID)
		if err != nil {
			return nil, fmt.Errorf("get drive file: %w", err)
		}
		if f != nil {
			if f.ParentID == "" {
				f.ParentID = doc.DriveFolderID
			}
			return f, nil
		}
	}
	if doc.DriveFolderID == "" {
		return nil, nil
	}
	f, err := s.remote.FindByTags(ctx, doc.DriveFolderID, tags)
	if err != nil {
		return nil, fmt.Errorf("find drive file: %w", err)
	}
	return f, nil
}

// FileIDFromLink extracts the file id from a Drive view link (/file/d/<id>/view) or
// download link (?id=<id>). It returns "" for anything else.
func FileIDFromLink(link string) string {
	if link == "" {
		return ""
	}
	u, err := url.Parse(link)
	if err != nil {
		return ""
	}
	if id := u.Query().Get("id"); id != "" {
		return id
	}
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := 0; i+2 < len(parts); i++ {
		if parts[i] == "file" && parts[i+1] == "d" {
			return parts[i+2]
		}
	}
	return ""
}
