package company

import (
	"context"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/registry-sync/internal/model"
)

// Resolver finds the registry entry a candidate refers to.
type Resolver struct {
	registry Registry
}

// NewResolver creates a Resolver.
func NewResolver(registry Registry) *Resolver {
	return &Resolver{registry: registry}
}

// Find looks up an existing entry with a two-pass cascade:
//  1. Exact legal identifier match
//  2. Case-insensitive exact legal name match
//
// Returns nil when neither pass matches.
func (r *Resolver) Find(ctx context.Context, c model.Candidate) (*model.Company, error) {
	if id := strings.TrimSpace(c.LegalID); id != "" {
		existing, err := r.registry.GetCompanyByLegalID(ctx, id)
		if err != nil {
			return nil, eris.Wrap(err, "company: resolve by legal_id")
		}
		if existing != nil {
			zap.L().Debug("resolve: matched by legal_id",
				zap.String("legal_id", id),
				zap.String("company_id", existing.ID),
			)
			return existing, nil
		}
	}

	if key := model.NameKey(c.LegalName); key != "" {
		existing, err := r.registry.GetCompanyByNameKey(ctx, key)
		if err != nil {
			return nil, eris.Wrap(err, "company: resolve by legal_name")
		}
		if existing != nil {
			zap.L().Debug("resolve: matched by legal_name",
				zap.String("legal_name", c.LegalName),
				zap.String("company_id", existing.ID),
			)
			return existing, nil
		}
	}
	return nil, nil
}
