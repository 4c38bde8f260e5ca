package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jun/erpdrive/internal/adapter"
	"github.com/jun/erpdrive/internal/errs"
)

// Operation names used by InjectFailure and Count.
const (
	OpFindFolder   = "find_folder"
	OpCreateFolder = "create_folder"
	OpFolderExists = "folder_exists"
	OpGetFile      = "get_file"
	OpUpload       = "upload"
	OpGrant        = "grant_permission"
	OpFindByTags   = "find_by_tags"
	OpDelete       = "delete"
	OpHasChildren  = "has_children"
)

type item struct {
	adapter.RemoteFile
	Content   []byte
	Trashed   bool
	CreatedAt time.Time
}

// Permission is a recorded domain grant.
type Permission struct {
	FileID string
	Domain string
	Role   string
}

// MemoryAdapter implements adapter.RemoteStore in process memory.
// It backs DEV_MODE and the service tests, mirroring Drive's observable behaviour:
// duplicate folder names are allowed and a repeated permission grant is a 409 that is swallowed.
type MemoryAdapter struct {
	mu          sync.RWMutex
	items       map[string]*item
	permissions map[string][]Permission
	calls       map[string]int
	failures    map[string]error
	conflicts   int

	// Latency is slept before every call; tests widen race windows with it.
	Latency time.Duration
}

func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{
		items:       make(map[string]*item),
		permissions: make(map[string][]Permission),
		calls:       make(map[string]int),
		failures:    make(map[string]error),
	}
}

var _ adapter.RemoteStore = (*MemoryAdapter)(nil)

// InjectFailure makes every later call of op return err. A nil err clears it.
func (m *MemoryAdapter) InjectFailure(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// Count returns how many times op was called.
func (m *MemoryAdapter) Count(op string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.calls[op]
}

// Conflicts returns how many permission grants hit an existing permission.
func (m *MemoryAdapter) Conflicts() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.conflicts
}

// begin records the call and returns the injected failure, if any.
func (m *MemoryAdapter) begin(ctx context.Context, op string) error {
	if m.Latency > 0 {
		select {
		case <-time.After(m.Latency):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
	return m.failures[op]
}

func (m *MemoryAdapter) FindFolder(ctx context.Context, parentID, name string) (*adapter.RemoteFolder, error) {
	if err := m.begin(ctx, OpFindFolder); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Oldest match first, like Drive's default ordering for an exact query.
	var found *item
	for _, it := range m.items {
		if it.Trashed || it.MimeType != adapter.FolderMimeType || it.ParentID != parentID || it.Name != name {
			continue
		}
		if found == nil || it.CreatedAt.Before(found.CreatedAt) {
			found = it
		}
	}
	if found == nil {
		return nil, nil
	}
	return &adapter.RemoteFolder{ID: found.ID, ParentID: found.ParentID, Name: found.Name}, nil
}

func (m *MemoryAdapter) CreateFolder(ctx context.Context, parentID, name string) (*adapter.RemoteFolder, error) {
	if err := m.begin(ctx, OpCreateFolder); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	id := uuid.New().String()
	m.items[id] = &item{
		RemoteFile: adapter.RemoteFile{ID: id, ParentID: parentID, Name: name, MimeType: adapter.FolderMimeType},
		CreatedAt:  time.Now(),
	}
	return &adapter.RemoteFolder{ID: id, ParentID: parentID, Name: name}, nil
}

func (m *MemoryAdapter) FolderExists(ctx context.Context, folderID string) (bool, error) {
	if err := m.begin(ctx, OpFolderExists); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.items[folderID]
	return ok && !it.Trashed && it.MimeType == adapter.FolderMimeType, nil
}

func (m *MemoryAdapter) GetFile(ctx context.Context, fileID string) (*adapter.RemoteFile, error) {
	if err := m.begin(ctx, OpGetFile); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	it, ok := m.items[fileID]
	if !ok || it.Trashed {
		return nil, nil
	}
	f := it.RemoteFile
	return &f, nil
}

func (m *MemoryAdapter) Upload(ctx context.Context, in adapter.UploadInput) (*adapter.RemoteFile, error) {
	if err := m.begin(ctx, OpUpload); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[in.ParentID]; !ok {
		return nil, &errs.UpstreamError{Op: "upload file", Status: 404, Body: fmt.Sprintf("parent %s not found", in.ParentID)}
	}

	mimeType := in.MimeType
	if mimeType == "" {
		mimeType = adapter.DefaultMimeType
	}
	tags := make(map[string]string, len(in.Tags))
	for k, v := range in.Tags {
		tags[k] = v
	}

	id := uuid.New().String()
	it := &item{
		RemoteFile: adapter.RemoteFile{
			ID:             id,
			ParentID:       in.ParentID,
			Name:           in.Name,
			MimeType:       mimeType,
			AppProperties:  tags,
			WebViewLink:    fmt.Sprintf("https://drive.google.com/file/d/%s/view", id),
			WebContentLink: fmt.Sprintf("https://drive.google.com/uc?id=%s&export=download", id),
		},
		Content:   append([]byte(nil), in.Content...),
		CreatedAt: time.Now(),
	}
	m.items[id] = it
	f := it.RemoteFile
	return &f, nil
}

func (m *MemoryAdapter) GrantDomainAccess(ctx context.Context, fileID, domain, role string) error {
	if err := m.begin(ctx, OpGrant); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[fileID]; !ok {
		return &errs.UpstreamError{Op: "grant permission", Status: 404, Body: fmt.Sprintf("file %s not found", fileID)}
	}
	for _, p := range m.permissions[fileID] {
		if p.Domain == domain && p.Role == role {
			m.conflicts++
			return nil
		}
	}
	m.permissions[fileID] = append(m.permissions[fileID], Permission{FileID: fileID, Domain: domain, Role: role})
	return nil
}

func (m *MemoryAdapter) FindByTags(ctx context.Context, parentID string, tags map[string]string) (*adapter.RemoteFile, error) {
	if err := m.begin(ctx, OpFindByTags); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *item
	for _, it := range m.items {
		if it.Trashed || it.ParentID != parentID || !hasTags(it.AppProperties, tags) {
			continue
		}
		if found == nil || it.CreatedAt.Before(found.CreatedAt) {
			found = it
		}
	}
	if found == nil {
		return nil, nil
	}
	f := found.RemoteFile
	return &f, nil
}

func hasTags(props, tags map[string]string) bool {
	for k, v := range tags {
		if props[k] != v {
			return false
		}
	}
	return true
}

func (m *MemoryAdapter) DeleteFile(ctx context.Context, fileID string) error {
	if err := m.begin(ctx, OpDelete); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[fileID]; !ok {
		return fmt.Errorf("delete file: %w", errs.ErrNotFound)
	}
	// Deleting a folder removes its subtree, as Drive does for shared-drive items.
	var drop func(id string)
	drop = func(id string) {
		delete(m.items, id)
		delete(m.permissions, id)
		for childID, it := range m.items {
			if it.ParentID == id {
				drop(childID)
			}
		}
	}
	drop(fileID)
	return nil
}

func (m *MemoryAdapter) HasChildren(ctx context.Context, folderID string) (bool, error) {
	if err := m.begin(ctx, OpHasChildren); err != nil {
		return false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, it := range m.items {
		if it.ParentID == folderID && !it.Trashed {
			return true, nil
		}
	}
	return false, nil
}

// Trash marks an item as trashed without removing it.
func (m *MemoryAdapter) Trash(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if it, ok := m.items[id]; ok {
		it.Trashed = true
	}
}

// Folders returns the live folders directly under parentID, sorted by name.
func (m *MemoryAdapter) Folders(parentID string) []adapter.RemoteFolder {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []adapter.RemoteFolder
	for _, it := range m.items {
		if it.MimeType == adapter.FolderMimeType && it.ParentID == parentID && !it.Trashed {
			out = append(out, adapter.RemoteFolder{ID: it.ID, ParentID: it.ParentID, Name: it.Name})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Files returns every live non-folder item.
func (m *MemoryAdapter) Files() []adapter.RemoteFile {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []adapter.RemoteFile
	for _, it := range m.items {
		if it.MimeType != adapter.FolderMimeType && !it.Trashed {
			out = append(out, it.RemoteFile)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Content returns the uploaded bytes of fileID.
func (m *MemoryAdapter) Content(fileID string) ([]byte, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	it, ok := m.items[fileID]
	if !ok {
		return nil, false
	}
	return it.Content, true
}

// Permissions returns the grants recorded for fileID.
func (m *MemoryAdapter) Permissions(fileID string) []Permission {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Permission(nil), m.permissions[fileID]...)
}

// AddRoot registers a folder with no parent, standing in for the shared-drive root.
func (m *MemoryAdapter) AddRoot(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id] = &item{
		RemoteFile: adapter.RemoteFile{ID: id, Name: id, MimeType: adapter.FolderMimeType},
		CreatedAt:  time.Now(),
	}
}
