package model

import "time"

// RunStatus represents the state of a pipeline run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// RunSummary is what a successful pipeline run returns.
type RunSummary struct {
	DocumentID         string     `json:"pdf_document_id" yaml:"pdf_document_id"`
	OriginalFilename   string     `json:"original_filename" yaml:"original_filename"`
	ScrapedURL         string     `json:"scraped_url" yaml:"scraped_url"`
	SourceURL          string     `json:"source_url" yaml:"source_url"`
	CompaniesExtracted int        `json:"companies_extracted" yaml:"companies_extracted"`
	Sync               *SyncStats `json:"sync" yaml:"sync"`
}

// PipelineRun is one entry in the run log.
type PipelineRun struct {
	ID            string      `json:"id"`
	PageURL       string      `json:"page_url"`
	AttributeName string      `json:"attribute_name"`
	DocumentID    string      `json:"document_id,omitempty"`
	Status        RunStatus   `json:"status"`
	Error         string      `json:"error,omitempty"`
	Summary       *RunSummary `json:"summary,omitempty"`
	StartedAt     time.Time   `json:"started_at"`
	CompletedAt   *time.Time  `json:"completed_at,omitempty"`
}

// RunFilter narrows a run log listing.
type RunFilter struct {
	Status  RunStatus
	PageURL string
	Limit   int
}
