package googledrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jun/erpdrive/internal/adapter"
	"github.com/jun/erpdrive/internal/errs"
	"github.com/jun/erpdrive/internal/metrics"
	"go.uber.org/zap"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	folderMime = adapter.FolderMimeType

	folderFields = "id, name, parents"
	fileFields   = "id, name, mimeType, parents, appProperties, webViewLink, webContentLink"
)

// DriveAdapter implements adapter.RemoteStore on a Google shared drive.
type DriveAdapter struct {
	service       *drive.Service
	sharedDriveID string
	logger        *zap.Logger
	metrics       *metrics.Metrics
}

// NewDriveAdapter creates a new DriveAdapter.
// client should already attach the service-account bearer token (see auth.ServiceAccountTokenProvider).
func NewDriveAdapter(ctx context.Context, client *http.Client, sharedDriveID string, logger *zap.Logger, m *metrics.Metrics, opts ...option.ClientOption) (*DriveAdapter, error) {
	opts = append([]option.ClientOption{option.WithHTTPClient(client)}, opts...)
	srv, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to retrieve Drive client: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DriveAdapter{
		service:       srv,
		sharedDriveID: sharedDriveID,
		logger:        logger.Named("drive"),
		metrics:       m,
	}, nil
}

var _ adapter.RemoteStore = (*DriveAdapter)(nil)

// list scopes a files.list call to the shared drive and returns at most one match.
func (d *DriveAdapter) list(ctx context.Context, q, fields string) *drive.FilesListCall {
	call := d.service.Files.List().
		Q(q).
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Fields(googleapi.Field("files(" + fields + ")")).
		Context(ctx)
	if d.sharedDriveID != "" {
		call = call.Corpora("drive").DriveId(d.sharedDriveID)
	}
	return call
}

// FindFolder looks up a non-trashed folder by exact name under parentID.
func (d *DriveAdapter) FindFolder(ctx context.Context, parentID, name string) (*adapter.RemoteFolder, error) {
	q := Build(NameIs(name), MimeTypeIs(folderMime), InParents(parentID), NotTrashed())

	start := time.Now()
	r, err := d.list(ctx, q, folderFields).Do()
	d.observe("find_folder", start, err)
	if err != nil {
		return nil, translate("find folder", err)
	}
	if len(r.Files) == 0 {
		return nil, nil
	}
	return &adapter.RemoteFolder{ID: r.Files[0].Id, ParentID: parentID, Name: r.Files[0].Name}, nil
}

// CreateFolder creates a new folder under parentID.
func (d *DriveAdapter) CreateFolder(ctx context.Context, parentID, name string) (*adapter.RemoteFolder, error) {
	f := &drive.File{
		Name:     name,
		MimeType: folderMime,
		Parents:  []string{parentID},
	}

	start := time.Now()
	res, err := d.service.Files.Create(f).
		SupportsAllDrives(true).
		Fields(folderFields).
		Context(ctx).
		Do()
	d.observe("create_folder", start, err)
	if err != nil {
		return nil, translate("create folder", err)
	}

	d.logger.Info("folder created", zap.String("folder_id", res.Id), zap.String("parent_id", parentID), zap.String("name", name))
	return &adapter.RemoteFolder{ID: res.Id, ParentID: parentID, Name: res.Name}, nil
}

// FolderExists reports whether folderID can still be fetched and is not trashed.
func (d *DriveAdapter) FolderExists(ctx context.Context, folderID string) (bool, error) {
	start := time.Now()
	f, err := d.service.Files.Get(folderID).
		SupportsAllDrives(true).
		Fields("id, mimeType, trashed").
		Context(ctx).
		Do()
	d.observe("get_folder", start, err)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, translate("get folder", err)
	}
	return !f.Trashed && f.MimeType == folderMime, nil
}

// GetFile fetches fileID. Missing and trashed files are reported as nil.
func (d *DriveAdapter) GetFile(ctx context.Context, fileID string) (*adapter.RemoteFile, error) {
	start := time.Now()
	f, err := d.service.Files.Get(fileID).
		SupportsAllDrives(true).
		Fields(fileFields + ", trashed").
		Context(ctx).
		Do()
	d.observe("get_file", start, err)
	if err != nil {
		if isNotFound(err) {
			return nil, nil
		}
		return nil, translate("get file", err)
	}
	if f.Trashed {
		return nil, nil
	}
	return toRemoteFile(f, ""), nil
}

// Upload sends metadata and content in a single multipart/related request.
func (d *DriveAdapter) Upload(ctx context.Context, in adapter.UploadInput) (*adapter.RemoteFile, error) {
	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = adapter.DefaultMimeType
	}
	f := &drive.File{
		Name:          in.Name,
		MimeType:      mimeType,
		Parents:       []string{in.ParentID},
		AppProperties: in.Tags,
	}

	start := time.Now()
	res, err := d.service.Files.Create(f).
		// ChunkSize(0) keeps the upload a single multipart request instead of a resumable session.
		Media(bytes.NewReader(in.Content), googleapi.ContentType(mimeType), googleapi.ChunkSize(0)).
		SupportsAllDrives(true).
		Fields(fileFields).
		Context(ctx).
		Do()
	d.observe("upload", start, err)
	if err != nil {
		return nil, translate("upload file", err)
	}

	return toRemoteFile(res, in.ParentID), nil
}

// GrantDomainAccess creates a domain permission. A 409 means the permission already exists.
func (d *DriveAdapter) GrantDomainAccess(ctx context.Context, fileID, domain, role string) error {
	p := &drive.Permission{
		Type:               "domain",
		Role:               role,
		Domain:             domain,
		AllowFileDiscovery: false,
		ForceSendFields:    []string{"AllowFileDiscovery"},
	}

	start := time.Now()
	_, err := d.service.Permissions.Create(fileID, p).
		SupportsAllDrives(true).
		Fields("id").
		Context(ctx).
		Do()
	if isConflict(err) {
		d.observeOutcome("grant_permission", start, metrics.OutcomeConflict)
		d.logger.Debug("permission already exists", zap.String("file_id", fileID), zap.String("domain", domain))
		return nil
	}
	d.observe("grant_permission", start, err)
	if err != nil {
		return translate("grant permission", err)
	}
	return nil
}

// FindByTags returns the first non-trashed file under parentID whose appProperties contain every tag.
func (d *DriveAdapter) FindByTags(ctx context.Context, parentID string, tags map[string]string) (*adapter.RemoteFile, error) {
	preds := append([]Predicate{InParents(parentID), NotTrashed()}, AppProperties(tags)...)

	start := time.Now()
	r, err := d.list(ctx, Build(preds...), fileFields).Do()
	d.observe("find_by_tags", start, err)
	if err != nil {
		return nil, translate("find by tags", err)
	}
	if len(r.Files) == 0 {
		return nil, nil
	}
	return toRemoteFile(r.Files[0], parentID), nil
}

// DeleteFile permanently deletes a file or folder. A missing item is reported as errs.ErrNotFound.
func (d *DriveAdapter) DeleteFile(ctx context.Context, fileID string) error {
	start := time.Now()
	err := d.service.Files.Delete(fileID).SupportsAllDrives(true).Context(ctx).Do()
	d.observe("delete", start, err)
	if isNotFound(err) {
		return fmt.Errorf("delete file %s: %w", fileID, errs.ErrNotFound)
	}
	if err != nil {
		return translate("delete file", err)
	}
	return nil
}

// HasChildren reports whether folderID contains at least one non-trashed item.
func (d *DriveAdapter) HasChildren(ctx context.Context, folderID string) (bool, error) {
	start := time.Now()
	r, err := d.list(ctx, Build(InParents(folderID), NotTrashed()), "id").Do()
	d.observe("list_children", start, err)
	if err != nil {
		return false, translate("list children", err)
	}
	return len(r.Files) > 0, nil
}

func toRemoteFile(f *drive.File, parentID string) *adapter.RemoteFile {
	if len(f.Parents) > 0 {
		parentID = f.Parents[0]
	}
	return &adapter.RemoteFile{
		ID:             f.Id,
		ParentID:       parentID,
		Name:           f.Name,
		MimeType:       f.MimeType,
		AppProperties:  f.AppProperties,
		WebViewLink:    f.WebViewLink,
		WebContentLink: f.WebContentLink,
	}
}

func (d *DriveAdapter) observe(op string, start time.Time, err error) {
	outcome := metrics.OutcomeOK
	switch {
	case isNotFound(err):
		outcome = metrics.OutcomeNotFound
	case err != nil:
		outcome = metrics.OutcomeError
	}
	d.observeOutcome(op, start, outcome)
}

func (d *DriveAdapter) observeOutcome(op string, start time.Time, outcome string) {
	d.metrics.ObserveDrive(op, outcome, time.Since(start).Seconds())
}

// translate maps client errors onto the errs taxonomy. API errors, 404 included, keep
// their status and body. Token failures arrive wrapped in *url.Error and keep their own classification.
func translate(op string, err error) error {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return &errs.UpstreamError{Op: op, Status: gErr.Code, Body: gErr.Body, Err: err}
	}
	if errors.Is(err, errs.ErrConfiguration) || errors.Is(err, errs.ErrUpstream) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &errs.UpstreamError{Op: op, Err: err}
}

func isNotFound(err error) bool {
	return apiCode(err) == http.StatusNotFound
}

func isConflict(err error) bool {
	return apiCode(err) == http.StatusConflict
}

func apiCode(err error) int {
	var gErr *googleapi.Error
	if errors.As(err, &gErr) {
		return gErr.Code
	}
	return 0
}
