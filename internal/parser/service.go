package parser

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/registry-sync/internal/model"
	"github.com/sells-group/registry-sync/internal/tables"
)

// Repository stores parse output.
type Repository interface {
	// ReplaceStructuredCompanies deletes any structured_companies record of
	// the document and inserts one holding payload, atomically.
	ReplaceStructuredCompanies(ctx context.Context, documentID string, payload model.CompanyPayload) (*model.ExtractedRecord, error)
}

// DebugReport explains how many rows each filter dropped.
type DebugReport struct {
	Companies         []model.Candidate `json:"companies"`
	TotalCount        int               `json:"total_count"`
	FiltersApplied    map[Reject]int    `json:"filters_applied"`
	TotalRowsFiltered int               `json:"total_rows_filtered"`
}

// Service reads tables from a document file and parses them.
type Service struct {
	parser    *Parser
	extractor tables.Extractor
	repo      Repository
}

// NewService creates a Service.
func NewService(p *Parser, ext tables.Extractor, repo Repository) *Service {
	return &Service{parser: p, extractor: ext, repo: repo}
}

// Parse extracts and classifies the rows of pdfPath without saving.
func (s *Service) Parse(ctx context.Context, pdfPath string) (Result, error) {
	pages, err := s.extractor.ExtractTables(ctx, pdfPath)
	if err != nil {
		return Result{}, eris.Wrapf(model.ErrParse, "parser: extract tables: %v", err)
	}
	return s.parser.ParseTables(pages), nil
}

// ParseAndSave parses pdfPath and replaces the document's structured
// company record with the result.
func (s *Service) ParseAndSave(ctx context.Context, documentID, pdfPath string) (*model.ExtractedRecord, error) {
	res, err := s.Parse(ctx, pdfPath)
	if err != nil {
		return nil, err
	}

	rec, err := s.repo.ReplaceStructuredCompanies(ctx, documentID, model.CompanyPayload{
		Companies:  res.Candidates,
		TotalCount: len(res.Candidates),
		Parser:     Name,
	})
	if err != nil {
		return nil, eris.Wrapf(err, "parser: save companies for %s", documentID)
	}

	zap.L().Info("parser: companies parsed",
		zap.String("component", "parser"),
		zap.String("document_id", documentID),
		zap.Int("companies", len(res.Candidates)),
		zap.Int("rows_filtered", res.TotalFiltered()),
	)
	return rec, nil
}

// Debug parses pdfPath and reports per-filter counts without saving.
func (s *Service) Debug(ctx context.Context, pdfPath string) (*DebugReport, error) {
	res, err := s.Parse(ctx, pdfPath)
	if err != nil {
		return nil, err
	}
	return &DebugReport{
		Companies:         res.Candidates,
		TotalCount:        len(res.Candidates),
		FiltersApplied:    res.Filters,
		TotalRowsFiltered: res.TotalFiltered(),
	}, nil
}
