// Package tables extracts the primary table of every page of a PDF.
package tables

import (
	"context"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/registry-sync/internal/config"
	"github.com/sells-group/registry-sync/internal/model"
)

// DefaultHeaderRows is the number of leading rows dropped from every table.
// Source documents open each table with a two-line banner.
const DefaultHeaderRows = 2

// PageTable is the primary table found on one page, banner rows removed.
type PageTable struct {
	Page int        `json:"page_number"`
	Rows [][]string `json:"rows"`
}

// Extractor finds tables in a PDF on disk.
type Extractor interface {
	ExtractTables(ctx context.Context, pdfPath string) ([]PageTable, error)
}

// NewExtractor creates an Extractor based on config.
func NewExtractor(cfg config.TablesConfig) (Extractor, error) {
	switch cfg.Provider {
	case "pdftotext", "":
		return NewPdfToText(cfg.PdfToTextPath, cfg.HeaderRows), nil
	case "native":
		return NewNative(cfg.HeaderRows), nil
	default:
		return nil, eris.Errorf("tables: unknown provider %q", cfg.Provider)
	}
}

// Validate checks that pdfPath is a readable PDF holding at least one table
// and returns its page count.
func Validate(ctx context.Context, ext Extractor, pdfPath string) (int, error) {
	pages, err := api.PageCountFile(pdfPath)
	if err != nil {
		return 0, eris.Wrapf(model.ErrValidation, "tables: unreadable PDF: %v", err)
	}

	found, err := ext.ExtractTables(ctx, pdfPath)
	if err != nil {
		return pages, err
	}
	if len(found) == 0 {
		return pages, eris.Wrap(model.ErrValidation, "No tables found in PDF document")
	}

	zap.L().Debug("tables: validated",
		zap.String("path", pdfPath),
		zap.Int("pages", pages),
		zap.Int("tables", len(found)),
	)
	return pages, nil
}

// Validator binds Validate to an Extractor.
type Validator struct {
	ext Extractor
}

// NewValidator creates a Validator.
func NewValidator(ext Extractor) *Validator {
	return &Validator{ext: ext}
}

// Validate runs Validate with the bound Extractor.
func (v *Validator) Validate(ctx context.Context, pdfPath string) (int, error) {
	return Validate(ctx, v.ext, pdfPath)
}

func dropHeader(rows [][]string, n int) [][]string {
	if n < 0 {
		n = 0
	}
	if len(rows) <= n {
		return [][]string{}
	}
	return rows[n:]
}
