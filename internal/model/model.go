package model

import (
	"fmt"
	"time"
)

// OwnerKind identifies the business record a document belongs to.
type OwnerKind string

const (
	OwnerUser    OwnerKind = "user"
	OwnerSession OwnerKind = "session"
)

// ExpenseDocumentType marks a user document as a reimbursable expense receipt.
const ExpenseDocumentType = "gasto"

// Document is the local record of an uploaded file. It is the source of truth for listing;
// the Drive file is a projection used for sharing and viewing.
type Document struct {
	ID                  string    `json:"id"`
	OwnerKind           OwnerKind `json:"owner_kind"`
	OwnerID             string    `json:"owner_id"`
	FileName            string    `json:"file_name"`
	MimeType            string    `json:"mime_type"`
	FileSize            int64     `json:"file_size"`
	DocumentType        string    `json:"document_type,omitempty"`
	DriveFileID         string    `json:"drive_file_id,omitempty"`
	DriveFolderID       string    `json:"drive_folder_id,omitempty"`
	DriveWebViewLink    string    `json:"drive_web_view_link,omitempty"`
	DriveWebContentLink string    `json:"drive_web_content_link,omitempty"`
	Visible             bool      `json:"visible"`
	UploadedBy          string    `json:"uploaded_by,omitempty"`
	Content             []byte    `json:"-"` // local backup of the uploaded bytes
	CreatedAt           time.Time `json:"created_at"`
}

// RemoteRef is the Drive projection of a document.
type RemoteRef struct {
	FileID         string
	FolderID       string
	WebViewLink    string
	WebContentLink string
}

// YearMonth keys expense ledger rows.
type YearMonth struct {
	Year  int
	Month time.Month
}

func (ym YearMonth) String() string {
	return fmt.Sprintf("%04d-%02d", ym.Year, int(ym.Month))
}

// YearMonthOf returns the ledger period containing t.
func YearMonthOf(t time.Time) YearMonth {
	return YearMonth{Year: t.Year(), Month: t.Month()}
}

// ExpenseDocumentUploaded is published when a reimbursable expense receipt is stored.
type ExpenseDocumentUploaded struct {
	OwnerID     string
	DocumentID  string
	AmountCents int64
	Period      YearMonth
}

// EventName implements events.Event.
func (ExpenseDocumentUploaded) EventName() string { return "expense_document_uploaded" }

// UserFolderContext carries what is needed to name a user's Drive folder.
type UserFolderContext struct {
	UserID    string
	FirstName string
	LastName  string
}

// SessionFolderContext carries what is needed to name a training session's Drive folders.
type SessionFolderContext struct {
	SessionID        string
	SessionNumber    int
	SessionName      string
	DealID           string
	DealTitle        string
	OrganizationName string
}

// FolderClaim is a cross-process reservation for creating one Drive folder.
type FolderClaim struct {
	FolderKey string `json:"folder_key" dynamodbav:"folder_key"`
	Token     string `json:"claim_token" dynamodbav:"claim_token"`
	FolderID  string `json:"folder_id,omitempty" dynamodbav:"folder_id,omitempty"`
	ExpiresAt int64  `json:"expires_at" dynamodbav:"expires_at"` // Unix seconds
}
