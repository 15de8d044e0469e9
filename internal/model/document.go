package model

import "time"

// DocumentStatus represents the processing state of an ingested document.
type DocumentStatus string

const (
	DocumentStatusPending    DocumentStatus = "pending"
	DocumentStatusProcessing DocumentStatus = "processing"
	DocumentStatusCompleted  DocumentStatus = "completed"
	DocumentStatusFailed     DocumentStatus = "failed"
)

// IsTerminal reports whether no further transitions are expected.
func (s DocumentStatus) IsTerminal() bool {
	return s == DocumentStatusCompleted || s == DocumentStatusFailed
}

// Valid reports whether s is a known status.
func (s DocumentStatus) Valid() bool {
	switch s {
	case DocumentStatusPending, DocumentStatusProcessing, DocumentStatusCompleted, DocumentStatusFailed:
		return true
	}
	return false
}

// Document is one ingested source file.
type Document struct {
	ID               string         `json:"id"`
	FileKey          string         `json:"file"`
	OriginalFilename string         `json:"original_filename"`
	SourceURL        string         `json:"source_url,omitempty"`  // direct document URL
	ScrapedURL       string         `json:"scraped_url,omitempty"` // page the link was found on
	Status           DocumentStatus `json:"status"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	Size             int64          `json:"size"`
	PageCount        int            `json:"page_count,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

// DocumentFilter narrows a document listing.
type DocumentFilter struct {
	Status DocumentStatus
	Limit  int
	Offset int
}
