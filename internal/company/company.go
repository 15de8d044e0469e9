// Package company reconciles parsed candidates against the company registry.
package company

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/registry-sync/internal/model"
)

// DefaultCategory is assigned to entries created by a sync.
const DefaultCategory = "Other"

// Options tunes entry creation.
type Options struct {
	DefaultCategory   string
	CleanDisplayNames bool
}

// Reconciler runs the mark-and-sweep blacklist sync.
type Reconciler struct {
	registry Registry
	records  Records
	resolver *Resolver
	opts     Options
	now      func() time.Time
	idName   func(displayName string) string
}

// NewReconciler creates a Reconciler.
func NewReconciler(registry Registry, records Records, opts Options) *Reconciler {
	if opts.DefaultCategory == "" {
		opts.DefaultCategory = DefaultCategory
	}
	return &Reconciler{
		registry: registry,
		records:  records,
		resolver: NewResolver(registry),
		opts:     opts,
		now:      func() time.Time { return time.Now().UTC() },
		idName:   NewIDName,
	}
}

// Sync reconciles the structured companies of a document.
//
// Every entry blacklisted before the run is first un-blacklisted, keeping
// the old timestamp in last_blacklisted_at. Each candidate then either
// re-flags its matching entry or creates a new flagged one. Entries not
// reconfirmed stay cleared. A failing candidate is recorded in the result
// and does not stop the run.
func (r *Reconciler) Sync(ctx context.Context, documentID string) (*model.SyncStats, error) {
	log := zap.L().With(zap.String("component", "sync"), zap.String("document_id", documentID))

	rec, err := r.records.GetLatestRecord(ctx, documentID, model.DataTypeStructuredCompanies)
	if errors.Is(err, model.ErrNotFound) {
		return nil, eris.Wrapf(model.ErrMissingData, "sync: no structured company data for document %s, parse it first", documentID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sync: load structured companies")
	}
	payload, err := rec.Companies()
	if err != nil {
		return nil, eris.Wrap(err, "sync: decode structured companies")
	}

	now := r.now()
	reset, err := r.registry.ResetBlacklist(ctx, now)
	if err != nil {
		return nil, eris.Wrap(err, "sync: reset blacklist")
	}

	stats := &model.SyncStats{
		TotalPDFCompanies: len(payload.Companies),
		Errors:            []model.SyncError{},
	}
	touched := make(map[string]bool, len(payload.Companies))

	for _, c := range payload.Companies {
		id, created, err := r.syncOne(ctx, c, now)
		if err != nil {
			log.Warn("sync: candidate failed",
				zap.String("legal_name", c.LegalName),
				zap.String("legal_id", c.LegalID),
				zap.Error(err),
			)
			stats.Errors = append(stats.Errors, model.SyncError{
				LegalName: c.LegalName,
				LegalID:   c.LegalID,
				Error:     err.Error(),
			})
			continue
		}
		touched[id] = true
		if created {
			stats.Created++
		} else {
			stats.Updated++
		}
	}

	for _, id := range reset {
		if !touched[id] {
			stats.Unblacklisted++
		}
	}

	log.Info("sync: complete",
		zap.Int("total", stats.TotalPDFCompanies),
		zap.Int("updated", stats.Updated),
		zap.Int("created", stats.Created),
		zap.Int64("unblacklisted", stats.Unblacklisted),
		zap.Int("errors", len(stats.Errors)),
	)
	return stats, nil
}

// syncOne flags the entry matching c, creating it when missing. Returns the
// entry id and whether it was created.
func (r *Reconciler) syncOne(ctx context.Context, c model.Candidate, now time.Time) (string, bool, error) {
	existing, err := r.resolver.Find(ctx, c)
	if err != nil {
		return "", false, err
	}

	if existing != nil {
		// Matched entries are always re-flagged, including ones cleared by
		// hand since the last run.
		existing.BlacklistedAt = &now
		existing.UpdatedAt = now
		if err := r.registry.UpdateCompany(ctx, existing); err != nil {
			return "", false, eris.Wrapf(err, "company: update %s", existing.ID)
		}
		return existing.ID, false, nil
	}

	entry := r.newEntry(c, now)
	if err := r.registry.CreateCompany(ctx, entry); err != nil {
		return "", false, eris.Wrapf(err, "company: create %q", c.LegalName)
	}
	return entry.ID, true, nil
}

func (r *Reconciler) newEntry(c model.Candidate, now time.Time) *model.Company {
	display := c.LegalName
	if r.opts.CleanDisplayNames {
		display = CleanDisplayName(display)
	}
	desc := "Imported from PDF"
	if addr := strings.TrimSpace(c.Address); addr != "" {
		desc = "Imported from PDF. Address: " + addr
	}
	return &model.Company{
		IDName:        r.idName(display),
		LegalName:     c.LegalName,
		LegalID:       c.LegalID,
		DisplayName:   display,
		Category:      r.opts.DefaultCategory,
		Description:   desc,
		BlacklistedAt: &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}
