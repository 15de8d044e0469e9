package company

import (
	"context"
	"time"

	"github.com/sells-group/registry-sync/internal/model"
)

// Registry defines the persistence operations the sync needs on the company
// registry. Lookups return (nil, nil) when nothing matches.
type Registry interface {
	GetCompanyByLegalID(ctx context.Context, legalID string) (*model.Company, error)
	// GetCompanyByNameKey matches model.NameKey of the legal name.
	GetCompanyByNameKey(ctx context.Context, key string) (*model.Company, error)
	CreateCompany(ctx context.Context, c *model.Company) error
	UpdateCompany(ctx context.Context, c *model.Company) error

	// ResetBlacklist moves blacklisted_at into last_blacklisted_at for every
	// flagged entry, clears the flag and returns the ids it touched.
	ResetBlacklist(ctx context.Context, at time.Time) ([]string, error)
}

// Records gives access to parse output.
type Records interface {
	// GetLatestRecord returns an error wrapping model.ErrNotFound when the
	// document has no record of that type.
	GetLatestRecord(ctx context.Context, documentID string, dataType model.DataType) (*model.ExtractedRecord, error)
}
