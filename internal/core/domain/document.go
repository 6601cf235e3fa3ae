package domain

import (
	"path/filepath"
	"strings"
	"time"
)

type Source string

const (
	SourceScanner      Source = "SCANNER"
	SourceEmail        Source = "EMAIL"
	SourceManualUpload Source = "MANUAL_UPLOAD"
)

// Drop-folder name prefixes written by producers other than the scanner.
const (
	EmailFilePrefix  = "email_"
	UploadFilePrefix = "upload_"
)

type OCRStatus string

const (
	OCRStatusPending   OCRStatus = "PENDING"
	OCRStatusCompleted OCRStatus = "COMPLETED"
)

// InboxDocument is a file awaiting or having completed triage.
type InboxDocument struct {
	ID           string     `json:"id"`
	Filename     string     `json:"filename"`
	OriginalName string     `json:"original_name"`
	Source       Source     `json:"source"`
	FileURL      string     `json:"file_url"`
	MimeType     string     `json:"mime_type"`
	SizeBytes    int64      `json:"size_bytes"`
	Content      *string    `json:"content,omitempty"`
	OCRStatus    OCRStatus  `json:"ocr_status"`
	Processed    bool       `json:"processed"`
	ProcessedAt  *time.Time `json:"processed_at,omitempty"`
	ReceivedAt   time.Time  `json:"received_at"`
	DeletedAt    *time.Time `json:"deleted_at,omitempty"`
}

// Document is a finalized archival record attached to an employee.
type Document struct {
	ID         string     `json:"id"`
	InboxID    string     `json:"inbox_id"`
	EmployeeID string     `json:"employee_id"`
	Name       string     `json:"name"`
	Category   string     `json:"category"`
	FileURL    string     `json:"file_url"`
	Content    *string    `json:"content,omitempty"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// AssignRequest finalizes an inbox document into the employee archive.
type AssignRequest struct {
	InboxID    string     `json:"inbox_id"`
	EmployeeID string     `json:"employee_id"`
	Category   string     `json:"category"`
	Name       string     `json:"name"`
	ExpiryDate *time.Time `json:"expiry_date,omitempty"`
}

// SourceFromFilename infers the producer from the drop-folder naming
// convention and returns the name the file had when it was received.
func SourceFromFilename(filename string) (Source, string) {
	base := filepath.Base(filename)
	switch {
	case strings.HasPrefix(base, EmailFilePrefix):
		return SourceEmail, stripGeneratedPrefix(base, EmailFilePrefix)
	case strings.HasPrefix(base, UploadFilePrefix):
		return SourceManualUpload, stripGeneratedPrefix(base, UploadFilePrefix)
	default:
		return SourceScanner, base
	}
}

// stripGeneratedPrefix turns "email_<uuid>_scan.pdf" back into "scan.pdf".
func stripGeneratedPrefix(base, prefix string) string {
	rest := strings.TrimPrefix(base, prefix)
	if idx := strings.Index(rest, "_"); idx > 0 && idx < len(rest)-1 {
		return rest[idx+1:]
	}
	return rest
}

// ContentTypeByExtension maps accepted ingest extensions to MIME types.
func ContentTypeByExtension(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".png":
		return "image/png"
	case ".jpg", ".jpeg":
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

func IsImageExtension(filename string) bool {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".png", ".jpg", ".jpeg":
		return true
	default:
		return false
	}
}

func IsPDFExtension(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), ".pdf")
}
