package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/jun/erpdrive/internal/adapter"
	"github.com/jun/erpdrive/internal/errs"
)

func newAdapter(t *testing.T) *MemoryAdapter {
	t.Helper()
	m := NewMemoryAdapter()
	m.AddRoot("root")
	return m
}

func TestMemoryAdapter_FindAndCreateFolder(t *testing.T) {
	m := newAdapter(t)
	ctx := context.Background()

	got, err := m.FindFolder(ctx, "root", "Acme")
	if err != nil {
		t.Fatalf("FindFolder failed: %v", err)
	}
	if got != nil {
		t.Fatalf("Expected no folder, got %+v", got)
	}

	created, err := m.CreateFolder(ctx, "root", "Acme")
	if err != nil {
		t.Fatalf("CreateFolder failed: %v", err)
	}

	got, err = m.FindFolder(ctx, "root", "Acme")
	if err != nil {
		t.Fatalf("FindFolder failed: %v", err)
	}
	if got == nil || got.ID != created.ID {
		t.Errorf("Expected folder %s, got %+v", created.ID, got)
	}

	// Exact, case-sensitive match.
	if got, _ := m.FindFolder(ctx, "root", "acme"); got != nil {
		t.Errorf("Expected case-sensitive lookup to miss, got %+v", got)
	}
}

func TestMemoryAdapter_TrashedFolderIsInvisible(t *testing.T) {
	m := newAdapter(t)
	ctx := context.Background()

	f, _ := m.CreateFolder(ctx, "root", "Acme")
	m.Trash(f.ID)

	if got, _ := m.FindFolder(ctx, "root", "Acme"); got != nil {
		t.Errorf("Expected trashed folder to be skipped, got %+v", got)
	}
	if ok, _ := m.FolderExists(ctx, f.ID); ok {
		t.Error("Expected FolderExists to be false for trashed folder")
	}
}

func TestMemoryAdapter_UploadAndFindByTags(t *testing.T) {
	m := newAdapter(t)
	ctx := context.Background()

	file, err := m.Upload(ctx, adapter.UploadInput{
		ParentID: "root",
		Name:     "a.pdf",
		Content:  []byte("abc"),
		Tags:     map[string]string{"ownerId": "u1", "documentId": "d1"},
	})
	if err != nil {
		t.Fatalf("Upload failed: %v", err)
	}
	if file.MimeType != adapter.DefaultMimeType {
		t.Errorf("Expected default mime type, got %q", file.MimeType)
	}
	if file.WebViewLink == "" || file.WebContentLink == "" {
		t.Error("Expected links to be set")
	}

	got, err := m.FindByTags(ctx, "root", map[string]string{"documentId": "d1"})
	if err != nil {
		t.Fatalf("FindByTags failed: %v", err)
	}
	if got == nil || got.ID != file.ID {
		t.Errorf("Expected %s, got %+v", file.ID, got)
	}

	if got, _ := m.FindByTags(ctx, "root", map[string]string{"documentId": "d2"}); got != nil {
		t.Errorf("Expected no match, got %+v", got)
	}
}

func TestMemoryAdapter_UploadToMissingParent(t *testing.T) {
	m := newAdapter(t)

	_, err := m.Upload(context.Background(), adapter.UploadInput{ParentID: "nope", Name: "a.pdf"})
	if !errors.Is(err, errs.ErrUpstream) {
		t.Errorf("Expected upstream error, got %v", err)
	}
}

func TestMemoryAdapter_GrantIsIdempotent(t *testing.T) {
	m := newAdapter(t)
	ctx := context.Background()

	file, _ := m.Upload(ctx, adapter.UploadInput{ParentID: "root", Name: "a.pdf"})
	for i := 0; i < 2; i++ {
		if err := m.GrantDomainAccess(ctx, file.ID, "example.com", "reader"); err != nil {
			t.Fatalf("GrantDomainAccess #%d failed: %v", i, err)
		}
	}
	if n := len(m.Permissions(file.ID)); n != 1 {
		t.Errorf("Expected 1 permission, got %d", n)
	}
	if m.Conflicts() != 1 {
		t.Errorf("Expected 1 conflict, got %d", m.Conflicts())
	}
}

func TestMemoryAdapter_DeleteFolderRemovesSubtree(t *testing.T) {
	m := newAdapter(t)
	ctx := context.Background()

	folder, _ := m.CreateFolder(ctx, "root", "Acme")
	file, _ := m.Upload(ctx, adapter.UploadInput{ParentID: folder.ID, Name: "a.pdf"})

	has, _ := m.HasChildren(ctx, folder.ID)
	if !has {
		t.Fatal("Expected folder to have children")
	}

	if err := m.DeleteFile(ctx, folder.ID); err != nil {
		t.Fatalf("DeleteFile failed: %v", err)
	}
	if _, ok := m.Content(file.ID); ok {
		t.Error("Expected child file to be deleted with its folder")
	}
	if err := m.DeleteFile(ctx, folder.ID); !errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemoryAdapter_InjectFailure(t *testing.T) {
	m := newAdapter(t)
	ctx := context.Background()
	boom := &errs.UpstreamError{Op: "upload file", Status: 500}

	m.InjectFailure(OpUpload, boom)
	if _, err := m.Upload(ctx, adapter.UploadInput{ParentID: "root", Name: "a"}); !errors.Is(err, boom) {
		t.Errorf("Expected injected failure, got %v", err)
	}
	m.InjectFailure(OpUpload, nil)
	if _, err := m.Upload(ctx, adapter.UploadInput{ParentID: "root", Name: "a"}); err != nil {
		t.Errorf("Expected success after clearing failure, got %v", err)
	}
	if m.Count(OpUpload) != 2 {
		t.Errorf("Expected 2 upload calls, got %d", m.Count(OpUpload))
	}
}

func TestMemoryAdapter_MissingTargetsAreUpstream(t *testing.T) {
	m := newAdapter(t)
	ctx := context.Background()

	_, err := m.Upload(ctx, adapter.UploadInput{ParentID: "gone", Name: "a.pdf", Content: []byte("a")})
	var upErr *errs.UpstreamError
	if !errors.As(err, &upErr) || upErr.Status != 404 {
		t.Fatalf("Expected upstream 404 on upload, got %v", err)
	}

	err = m.GrantDomainAccess(ctx, "gone", "example.com", "reader")
	if !errors.As(err, &upErr) || upErr.Status != 404 {
		t.Fatalf("Expected upstream 404 on grant, got %v", err)
	}
	if errors.Is(err, errs.ErrNotFound) {
		t.Errorf("Grant on a missing file must not look like a missing local record: %v", err)
	}
}
