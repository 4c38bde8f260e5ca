package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/jun/erpdrive/internal/documents"
	"github.com/jun/erpdrive/internal/errs"
	"github.com/jun/erpdrive/internal/model"
	"go.uber.org/zap"
)

// DocumentService is the lifecycle used by DocumentHandler.
type DocumentService interface {
	Kind() model.OwnerKind
	Upload(ctx context.Context, req documents.UploadRequest) (*model.Document, error)
	List(ctx context.Context, ownerID string) ([]model.Document, error)
	Get(ctx context.Context, id string) (*model.Document, error)
	SetVisible(ctx context.Context, id string, visible bool) (*model.Document, error)
	Delete(ctx context.Context, id string) (documents.DeleteResult, error)
	Resync(ctx context.Context, id string) (*documents.ResyncResult, error)
}

// DocumentHandler serves one document collection (/user-documents or /session-documents).
type DocumentHandler struct {
	svc        DocumentService
	ownerParam string
	jwtSecret  string
	logger     *zap.Logger
}

// NewDocumentHandler creates a handler. ownerParam is the query and body field naming the owner,
// "user_id" or "session_id".
func NewDocumentHandler(svc DocumentService, ownerParam, jwtSecret string, logger *zap.Logger) *DocumentHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DocumentHandler{svc: svc, ownerParam: ownerParam, jwtSecret: jwtSecret, logger: logger}
}

// List handles GET ?<owner>=<id>.
func (h *DocumentHandler) List(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := GetUserID(req, h.jwtSecret); err != nil {
		return fail(h.logger, err), nil
	}

	docs, err := h.svc.List(ctx, req.QueryStringParameters[h.ownerParam])
	if err != nil {
		return fail(h.logger, err), nil
	}
	return respond(http.StatusOK, map[string]any{"documents": docs}), nil
}

// Download handles GET /{id} and returns the local copy of the file.
func (h *DocumentHandler) Download(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := GetUserID(req, h.jwtSecret); err != nil {
		return fail(h.logger, err), nil
	}

	doc, err := h.svc.Get(ctx, req.PathParameters["id"])
	if err != nil {
		return fail(h.logger, err), nil
	}
	if len(doc.Content) == 0 {
		return fail(h.logger, fmt.Errorf("document %s has no local copy: %w", doc.ID, errs.ErrNotFound)), nil
	}

	return events.APIGatewayProxyResponse{
		StatusCode: http.StatusOK,
		Headers: map[string]string{
			"Content-Type":        doc.MimeType,
			"Content-Disposition": fmt.Sprintf("attachment; filename=%q", doc.FileName),
		},
		Body:            base64.StdEncoding.EncodeToString(doc.Content),
		IsBase64Encoded: true,
	}, nil
}

type uploadPayload struct {
	UserID       string `json:"user_id"`
	SessionID    string `json:"session_id"`
	FileName     string `json:"file_name"`
	MimeType     string `json:"mime_type"`
	File         string `json:"file"`
	DocumentType string `json:"document_type"`
	AmountCents  int64  `json:"amount_cents"`
	ExpenseDate  string `json:"expense_date"`
}

func (p uploadPayload) owner(param string) string {
	if param == "session_id" {
		return p.SessionID
	}
	return p.UserID
}

// Upload handles POST with a JSON body carrying the file as base64.
func (h *DocumentHandler) Upload(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	callerID, err := GetUserID(req, h.jwtSecret)
	if err != nil {
		return fail(h.logger, err), nil
	}

	body, err := requestBody(req)
	if err != nil {
		return fail(h.logger, err), nil
	}
	var payload uploadPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return fail(h.logger, errs.Validation("invalid request body")), nil
	}

	content, err := decodeBase64(payload.File)
	if err != nil {
		return fail(h.logger, errs.Validation("file is not valid base64")), nil
	}

	var expenseDate time.Time
	if payload.ExpenseDate != "" {
		if expenseDate, err = time.Parse(time.DateOnly, payload.ExpenseDate); err != nil {
			return fail(h.logger, errs.Validation("expense_date must be YYYY-MM-DD")), nil
		}
	}

	doc, err := h.svc.Upload(ctx, documents.UploadRequest{
		OwnerID:      payload.owner(h.ownerParam),
		FileName:     payload.FileName,
		MimeType:     payload.MimeType,
		DocumentType: payload.DocumentType,
		Content:      content,
		UploadedBy:   callerID,
		AmountCents:  payload.AmountCents,
		ExpenseDate:  expenseDate,
	})
	if err != nil {
		return fail(h.logger, err), nil
	}
	doc.Content = nil
	return respond(http.StatusCreated, map[string]any{"document": doc}), nil
}

// Patch handles PATCH /{id} with {"visible": bool}; session clients may send "trainer_visible".
func (h *DocumentHandler) Patch(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := GetUserID(req, h.jwtSecret); err != nil {
		return fail(h.logger, err), nil
	}

	var payload struct {
		Visible        *bool `json:"visible"`
		TrainerVisible *bool `json:"trainer_visible"`
	}
	if err := json.Unmarshal([]byte(req.Body), &payload); err != nil {
		return fail(h.logger, errs.Validation("invalid request body")), nil
	}
	visible := payload.Visible
	if visible == nil {
		visible = payload.TrainerVisible
	}
	if visible == nil {
		return fail(h.logger, errs.Validation("visible is required")), nil
	}

	doc, err := h.svc.SetVisible(ctx, req.PathParameters["id"], *visible)
	if err != nil {
		return fail(h.logger, err), nil
	}
	return respond(http.StatusOK, map[string]any{"document": doc}), nil
}

// Delete handles DELETE /{id}. Drive failures do not fail the request; they are reported in the body.
func (h *DocumentHandler) Delete(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := GetUserID(req, h.jwtSecret); err != nil {
		return fail(h.logger, err), nil
	}

	res, err := h.svc.Delete(ctx, req.PathParameters["id"])
	if err != nil {
		return fail(h.logger, err), nil
	}

	data := map[string]any{
		"local_deleted":  res.LocalDeleted,
		"drive_deleted":  res.RemoteDeleted,
		"folder_deleted": res.FolderDeleted,
	}
	if res.RemoteError != nil {
		data["drive_error"] = res.RemoteError.Error()
	}
	return respond(http.StatusOK, data), nil
}

// Resync handles POST /{id}/resync.
func (h *DocumentHandler) Resync(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	if _, err := GetUserID(req, h.jwtSecret); err != nil {
		return fail(h.logger, err), nil
	}

	res, err := h.svc.Resync(ctx, req.PathParameters["id"])
	if err != nil {
		return fail(h.logger, err), nil
	}
	return respond(http.StatusOK, map[string]any{"document": res.Document, "uploaded": res.Uploaded}), nil
}

// decodeBase64 accepts standard or URL alphabets, with or without padding, and an optional data URL prefix.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	s = strings.Map(func(r rune) rune {
		switch r {
		case '\n', '\r', ' ', '\t':
			return -1
		}
		return r
	}, s)

	var lastErr error
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.RawStdEncoding, base64.URLEncoding, base64.RawURLEncoding} {
		b, err := enc.DecodeString(s)
		if err == nil {
			return b, nil
		}
		lastErr = err
	}
	return nil, lastErr
}
