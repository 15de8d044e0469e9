// Package store persists documents, extracted records, the company registry
// and the pipeline run log in SQLite or Postgres.
package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/registry-sync/internal/config"
	"github.com/sells-group/registry-sync/internal/model"
)

// Store defines the persistence interface for the ingestion pipeline.
type Store interface {
	// Documents
	CreateDocument(ctx context.Context, doc *model.Document) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	ListDocuments(ctx context.Context, filter model.DocumentFilter) ([]model.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus, errMsg string) error
	SetDocumentPageCount(ctx context.Context, id string, pages int) error

	// Extracted records
	ReplaceStructuredCompanies(ctx context.Context, documentID string, payload model.CompanyPayload) (*model.ExtractedRecord, error)
	GetLatestRecord(ctx context.Context, documentID string, dataType model.DataType) (*model.ExtractedRecord, error)
	ListRecords(ctx context.Context, filter model.RecordFilter) ([]model.ExtractedRecord, error)

	// Company registry
	GetCompanyByLegalID(ctx context.Context, legalID string) (*model.Company, error)
	GetCompanyByNameKey(ctx context.Context, key string) (*model.Company, error)
	CreateCompany(ctx context.Context, c *model.Company) error
	UpdateCompany(ctx context.Context, c *model.Company) error
	ResetBlacklist(ctx context.Context, at time.Time) ([]string, error)
	ListCompanies(ctx context.Context, filter model.CompanyFilter) ([]model.Company, error)

	// Run log
	CreateRun(ctx context.Context, pageURL, attributeName string) (*model.PipelineRun, error)
	SetRunDocument(ctx context.Context, runID, documentID string) error
	CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error
	FailRun(ctx context.Context, runID string, errMsg string) error
	GetRun(ctx context.Context, runID string) (*model.PipelineRun, error)
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.PipelineRun, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// New opens the configured backend.
func New(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

const defaultLimit = 100

func limitOr(n int) int {
	if n <= 0 {
		return defaultLimit
	}
	return n
}
