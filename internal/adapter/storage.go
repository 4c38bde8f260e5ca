package adapter

import (
	"context"
)

const (
	// FolderMimeType is the Drive MIME type of folders.
	FolderMimeType = "application/vnd.google-apps.folder"

	// DefaultMimeType is used for uploads that do not declare a content type.
	DefaultMimeType = "application/octet-stream"
)

// RemoteFolder is a folder living in the shared drive.
type RemoteFolder struct {
	ID       string `json:"id"`
	ParentID string `json:"parentId"`
	Name     string `json:"name"`
}

// RemoteFile is an uploaded file. AppProperties carry the ownership tags used for lookups.
type RemoteFile struct {
	ID             string            `json:"id"`
	ParentID       string            `json:"parentId"`
	Name           string            `json:"name"`
	MimeType       string            `json:"mimeType"`
	AppProperties  map[string]string `json:"appProperties,omitempty"`
	WebViewLink    string            `json:"webViewLink"`
	WebContentLink string            `json:"webContentLink"`
}

// UploadInput describes a file to upload under ParentID.
type UploadInput struct {
	ParentID string
	Name     string
	MimeType string
	Content  []byte
	Tags     map[string]string
}

// RemoteStore is the contract of the shared-drive storage backend.
// Lookups return (nil, nil) when nothing matches.
type RemoteStore interface {
	// FindFolder returns the first non-trashed folder called name directly under parentID.
	FindFolder(ctx context.Context, parentID, name string) (*RemoteFolder, error)

	// CreateFolder creates a folder unconditionally.
	CreateFolder(ctx context.Context, parentID, name string) (*RemoteFolder, error)

	// FolderExists reports whether folderID still exists and is not trashed.
	FolderExists(ctx context.Context, folderID string) (bool, error)

	// GetFile returns fileID, or nil when it no longer exists or is trashed.
	GetFile(ctx context.Context, fileID string) (*RemoteFile, error)

	// Upload stores the bytes with their metadata tags and returns the new file.
	Upload(ctx context.Context, in UploadInput) (*RemoteFile, error)

	// GrantDomainAccess shares fileID with every account of domain. Re-granting is not an error.
	GrantDomainAccess(ctx context.Context, fileID, domain, role string) error

	// FindByTags returns the first non-trashed file under parentID carrying every tag.
	FindByTags(ctx context.Context, parentID string, tags map[string]string) (*RemoteFile, error)

	// DeleteFile removes a file or folder.
	DeleteFile(ctx context.Context, fileID string) error

	// HasChildren reports whether folderID contains any non-trashed item.
	HasChildren(ctx context.Context, folderID string) (bool, error)
}
