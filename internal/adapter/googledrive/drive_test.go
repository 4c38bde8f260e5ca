package googledrive

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/jun/erpdrive/internal/adapter"
	"github.com/jun/erpdrive/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

const testDriveID = "shared-drive-1"

type recordedRequest struct {
	Method      string
	Path        string
	Query       url.Values
	ContentType string
	Body        []byte
}

// fakeDrive records every request and answers with reply.
type fakeDrive struct {
	mu       sync.Mutex
	requests []recordedRequest
	reply    func(w http.ResponseWriter, r *http.Request, body []byte)
}

func (f *fakeDrive) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	f.mu.Lock()
	f.requests = append(f.requests, recordedRequest{
		Method:      r.Method,
		Path:        r.URL.Path,
		Query:       r.URL.Query(),
		ContentType: r.Header.Get("Content-Type"),
		Body:        body,
	})
	f.mu.Unlock()
	f.reply(w, r, body)
}

func (f *fakeDrive) calls() []recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedRequest(nil), f.requests...)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeAPIError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]any{"error": map[string]any{"code": status, "message": message}})
}

func newTestAdapter(t *testing.T, reply func(w http.ResponseWriter, r *http.Request, body []byte)) (*DriveAdapter, *fakeDrive) {
	t.Helper()
	fake := &fakeDrive{reply: reply}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	d, err := NewDriveAdapter(context.Background(), srv.Client(), testDriveID, nil, nil, option.WithEndpoint(srv.URL+"/"))
	require.NoError(t, err)
	return d, fake
}

func TestFindFolder_EscapesNameAndScopesToSharedDrive(t *testing.T) {
	d, fake := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		writeJSON(w, http.StatusOK, map[string]any{"files": []map[string]any{{"id": "folder-1", "name": "O'Brien Corp"}}})
	})

	got, err := d.FindFolder(context.Background(), "root-1", "O'Brien Corp")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "folder-1", got.ID)
	assert.Equal(t, "root-1", got.ParentID)

	calls := fake.calls()
	require.Len(t, calls, 1)
	q := calls[0].Query
	assert.Equal(t, http.MethodGet, calls[0].Method)
	assert.True(t, strings.HasSuffix(calls[0].Path, "/files"))
	assert.Contains(t, q.Get("q"), `name = 'O\'Brien Corp'`)
	assert.Contains(t, q.Get("q"), "mimeType = 'application/vnd.google-apps.folder'")
	assert.Contains(t, q.Get("q"), "'root-1' in parents")
	assert.Contains(t, q.Get("q"), "trashed = false")
	assert.Equal(t, "1", q.Get("pageSize"))
	assert.Equal(t, "true", q.Get("supportsAllDrives"))
	assert.Equal(t, "true", q.Get("includeItemsFromAllDrives"))
	assert.Equal(t, "drive", q.Get("corpora"))
	assert.Equal(t, testDriveID, q.Get("driveId"))
}

func TestFindFolder_NoMatch(t *testing.T) {
	d, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		writeJSON(w, http.StatusOK, map[string]any{"files": []any{}})
	})

	got, err := d.FindFolder(context.Background(), "root-1", "Acme")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCreateFolder(t *testing.T) {
	d, fake := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request, body []byte) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "new-folder", "name": "Acme", "parents": []string{"root-1"}})
	})

	got, err := d.CreateFolder(context.Background(), "root-1", "Acme")
	require.NoError(t, err)
	assert.Equal(t, "new-folder", got.ID)

	calls := fake.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, http.MethodPost, calls[0].Method)
	assert.Equal(t, "true", calls[0].Query.Get("supportsAllDrives"))

	var meta map[string]any
	require.NoError(t, json.Unmarshal(calls[0].Body, &meta))
	assert.Equal(t, "Acme", meta["name"])
	assert.Equal(t, adapter.FolderMimeType, meta["mimeType"])
	assert.Equal(t, []any{"root-1"}, meta["parents"])
}

func TestUpload_SendsMultipartRelated(t *testing.T) {
	d, fake := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		writeJSON(w, http.StatusOK, map[string]any{
			"id":             "file-1",
			"name":           "Informe Q1.pdf",
			"mimeType":       "application/pdf",
			"parents":        []string{"folder-1"},
			"appProperties":  map[string]string{"ownerId": "u1"},
			"webViewLink":    "https://drive.google.com/file/d/file-1/view",
			"webContentLink": "https://drive.google.com/uc?id=file-1&export=download",
		})
	})

	content := []byte("%PDF-1.4 fake")
	got, err := d.Upload(context.Background(), adapter.UploadInput{
		ParentID: "folder-1",
		Name:     "Informe Q1.pdf",
		MimeType: "application/pdf",
		Content:  content,
		Tags:     map[string]string{"ownerId": "u1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "file-1", got.ID)
	assert.Equal(t, "https://drive.google.com/file/d/file-1/view", got.WebViewLink)
	assert.Equal(t, "folder-1", got.ParentID)

	calls := fake.calls()
	require.Len(t, calls, 1)
	call := calls[0]
	assert.True(t, strings.HasSuffix(call.Path, "/upload/drive/v3/files"))
	assert.Equal(t, "multipart", call.Query.Get("uploadType"))
	assert.Equal(t, "true", call.Query.Get("supportsAllDrives"))

	mediaType, params, err := mime.ParseMediaType(call.ContentType)
	require.NoError(t, err)
	assert.Equal(t, "multipart/related", mediaType)
	require.NotEmpty(t, params["boundary"])

	mr := multipart.NewReader(strings.NewReader(string(call.Body)), params["boundary"])

	metaPart, err := mr.NextPart()
	require.NoError(t, err)
	assert.Contains(t, metaPart.Header.Get("Content-Type"), "application/json")
	var meta map[string]any
	require.NoError(t, json.NewDecoder(metaPart).Decode(&meta))
	assert.Equal(t, "Informe Q1.pdf", meta["name"])
	assert.Equal(t, []any{"folder-1"}, meta["parents"])
	assert.Equal(t, map[string]any{"ownerId": "u1"}, meta["appProperties"])

	mediaPart, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", mediaPart.Header.Get("Content-Type"))
	raw, err := io.ReadAll(mediaPart)
	require.NoError(t, err)
	assert.Equal(t, content, raw)
}

func TestUpload_DefaultMimeType(t *testing.T) {
	d, fake := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		writeJSON(w, http.StatusOK, map[string]any{"id": "file-2"})
	})

	_, err := d.Upload(context.Background(), adapter.UploadInput{ParentID: "folder-1", Name: "blob", Content: []byte{1, 2, 3}})
	require.NoError(t, err)

	calls := fake.calls()
	require.Len(t, calls, 1)
	assert.Contains(t, string(calls[0].Body), "Content-Type: "+adapter.DefaultMimeType)
}

func TestUpload_UpstreamErrorCarriesStatusAndBody(t *testing.T) {
	d, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		writeAPIError(w, http.StatusInternalServerError, "backend exploded")
	})

	_, err := d.Upload(context.Background(), adapter.UploadInput{ParentID: "folder-1", Name: "a.pdf", Content: []byte("x")})
	require.Error(t, err)
	require.ErrorIs(t, err, errs.ErrUpstream)

	var up *errs.UpstreamError
	require.True(t, errors.As(err, &up))
	assert.Equal(t, http.StatusInternalServerError, up.Status)
	assert.Contains(t, up.Body, "backend exploded")
	assert.Contains(t, err.Error(), "backend exploded")
}

func TestGrantDomainAccess(t *testing.T) {
	t.Run("creates domain permission without discovery", func(t *testing.T) {
		d, fake := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
			writeJSON(w, http.StatusOK, map[string]any{"id": "perm-1"})
		})

		require.NoError(t, d.GrantDomainAccess(context.Background(), "file-1", "example.com", "reader"))

		calls := fake.calls()
		require.Len(t, calls, 1)
		assert.True(t, strings.HasSuffix(calls[0].Path, "/files/file-1/permissions"))
		var perm map[string]any
		require.NoError(t, json.Unmarshal(calls[0].Body, &perm))
		assert.Equal(t, "domain", perm["type"])
		assert.Equal(t, "reader", perm["role"])
		assert.Equal(t, "example.com", perm["domain"])
		assert.Equal(t, false, perm["allowFileDiscovery"])
	})

	t.Run("conflict is success and not retried", func(t *testing.T) {
		d, fake := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
			writeAPIError(w, http.StatusConflict, "permission already exists")
		})

		require.NoError(t, d.GrantDomainAccess(context.Background(), "file-1", "example.com", "reader"))
		assert.Len(t, fake.calls(), 1)
	})

	t.Run("forbidden surfaces as upstream error", func(t *testing.T) {
		d, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
			writeAPIError(w, http.StatusForbidden, "insufficient permissions")
		})

		err := d.GrantDomainAccess(context.Background(), "file-1", "example.com", "reader")
		var up *errs.UpstreamError
		require.True(t, errors.As(err, &up))
		assert.Equal(t, http.StatusForbidden, up.Status)
	})
}

func TestFindByTags(t *testing.T) {
	d, fake := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		writeJSON(w, http.StatusOK, map[string]any{"files": []map[string]any{{"id": "file-9", "parents": []string{"folder-1"}}}})
	})

	got, err := d.FindByTags(context.Background(), "folder-1", map[string]string{"ownerId": "u1", "documentId": "doc-1"})
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "file-9", got.ID)

	calls := fake.calls()
	require.Len(t, calls, 1)
	assert.Equal(t,
		"'folder-1' in parents and trashed = false and appProperties has { key='documentId' and value='doc-1' } and appProperties has { key='ownerId' and value='u1' }",
		calls[0].Query.Get("q"))
	assert.Equal(t, "1", calls[0].Query.Get("pageSize"))
}

func TestDeleteFile(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		wantErr error
	}{
		{"deleted", http.StatusNoContent, nil},
		{"missing maps to not found", http.StatusNotFound, errs.ErrNotFound},
		{"server error maps to upstream", http.StatusBadGateway, errs.ErrUpstream},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, fake := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
				if tt.status == http.StatusNoContent {
					w.WriteHeader(http.StatusNoContent)
					return
				}
				writeAPIError(w, tt.status, "nope")
			})

			err := d.DeleteFile(context.Background(), "file-1")
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else {
				require.ErrorIs(t, err, tt.wantErr)
			}
			calls := fake.calls()
			require.Len(t, calls, 1)
			assert.Equal(t, http.MethodDelete, calls[0].Method)
			assert.Equal(t, "true", calls[0].Query.Get("supportsAllDrives"))
		})
	}
}

func TestMissingResourceIsUpstream(t *testing.T) {
	d, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		writeAPIError(w, http.StatusNotFound, "File not found: folder-1.")
	})
	ctx := context.Background()

	_, uploadErr := d.Upload(ctx, adapter.UploadInput{ParentID: "folder-1", Name: "a.pdf", Content: []byte("a")})
	grantErr := d.GrantDomainAccess(ctx, "file-1", "example.com", "reader")
	_, findErr := d.FindByTags(ctx, "folder-1", map[string]string{"documentId": "doc-1"})

	for name, err := range map[string]error{"upload": uploadErr, "grant": grantErr, "find by tags": findErr} {
		t.Run(name, func(t *testing.T) {
			require.ErrorIs(t, err, errs.ErrUpstream)
			require.NotErrorIs(t, err, errs.ErrNotFound)

			var upErr *errs.UpstreamError
			require.ErrorAs(t, err, &upErr)
			assert.Equal(t, http.StatusNotFound, upErr.Status)
			assert.Contains(t, upErr.Body, "File not found: folder-1.")
			assert.Equal(t, http.StatusBadGateway, errs.HTTPStatus(err))
		})
	}
}

func TestFolderExists(t *testing.T) {
	tests := []struct {
		name  string
		reply func(w http.ResponseWriter)
		want  bool
	}{
		{"live folder", func(w http.ResponseWriter) {
			writeJSON(w, http.StatusOK, map[string]any{"id": "f", "mimeType": adapter.FolderMimeType})
		}, true},
		{"trashed folder", func(w http.ResponseWriter) {
			writeJSON(w, http.StatusOK, map[string]any{"id": "f", "mimeType": adapter.FolderMimeType, "trashed": true})
		}, false},
		{"missing folder", func(w http.ResponseWriter) {
			writeAPIError(w, http.StatusNotFound, "File not found")
		}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request, _ []byte) { tt.reply(w) })
			got, err := d.FolderExists(context.Background(), "f")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetFile(t *testing.T) {
	tests := []struct {
		name   string
		reply  func(w http.ResponseWriter)
		wantID string
	}{
		{"live file", func(w http.ResponseWriter) {
			writeJSON(w, http.StatusOK, map[string]any{"id": "file-1", "parents": []string{"folder-1"}, "appProperties": map[string]string{"documentId": "doc-1"}})
		}, "file-1"},
		{"trashed file", func(w http.ResponseWriter) {
			writeJSON(w, http.StatusOK, map[string]any{"id": "file-1", "trashed": true})
		}, ""},
		{"missing file", func(w http.ResponseWriter) {
			writeAPIError(w, http.StatusNotFound, "File not found: file-1.")
		}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, fake := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request, _ []byte) { tt.reply(w) })

			got, err := d.GetFile(context.Background(), "file-1")
			require.NoError(t, err)
			if tt.wantID == "" {
				assert.Nil(t, got)
			} else {
				require.NotNil(t, got)
				assert.Equal(t, tt.wantID, got.ID)
				assert.Equal(t, "folder-1", got.ParentID)
				assert.Equal(t, "doc-1", got.AppProperties["documentId"])
			}
			assert.Equal(t, "true", fake.calls()[0].Query.Get("supportsAllDrives"))
		})
	}

	d, _ := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		writeAPIError(w, http.StatusInternalServerError, "backend error")
	})
	_, err := d.GetFile(context.Background(), "file-1")
	require.ErrorIs(t, err, errs.ErrUpstream)
}

func TestHasChildren(t *testing.T) {
	d, fake := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request, _ []byte) {
		writeJSON(w, http.StatusOK, map[string]any{"files": []map[string]any{{"id": "child"}}})
	})

	got, err := d.HasChildren(context.Background(), "folder-1")
	require.NoError(t, err)
	assert.True(t, got)
	assert.Equal(t, "'folder-1' in parents and trashed = false", fake.calls()[0].Query.Get("q"))
}

func TestTranslate_KeepsConfigurationErrors(t *testing.T) {
	err := translate("upload file", &url.Error{Op: "Post", URL: "https://x", Err: errs.ErrPrivateKeyInvalid})
	require.ErrorIs(t, err, errs.ErrConfiguration)
	require.NotErrorIs(t, err, errs.ErrUpstream)

	err = translate("upload file", errors.New("connection reset"))
	var up *errs.UpstreamError
	require.True(t, errors.As(err, &up))
	assert.Zero(t, up.Status)
}
