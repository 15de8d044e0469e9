// Package pipeline drives a document from its listing page through table
// extraction, parsing and registry reconciliation.
package pipeline

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/registry-sync/internal/model"
)

// Locator finds the document link on a listing page.
type Locator interface {
	Locate(ctx context.Context, pageURL, attribute string, headers map[string]string) (string, error)
}

// Fetcher downloads and stores documents.
type Fetcher interface {
	FetchAndStore(ctx context.Context, docURL, pageURL string, headers map[string]string) (*model.Document, error)
	LocalCopy(ctx context.Context, doc *model.Document) (string, func(), error)
}

// TableExtractor checks that a document holds tables and returns its page count.
type TableExtractor interface {
	Validate(ctx context.Context, pdfPath string) (int, error)
}

// Parser parses a document and persists its structured company record.
type Parser interface {
	ParseAndSave(ctx context.Context, documentID, pdfPath string) (*model.ExtractedRecord, error)
}

// Reconciler syncs a document's parsed companies into the registry.
type Reconciler interface {
	Sync(ctx context.Context, documentID string) (*model.SyncStats, error)
}

// Store is the persistence the orchestrator needs for document state and
// the run log.
type Store interface {
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus, errMsg string) error
	SetDocumentPageCount(ctx context.Context, id string, pages int) error

	CreateRun(ctx context.Context, pageURL, attributeName string) (*model.PipelineRun, error)
	SetRunDocument(ctx context.Context, runID, documentID string) error
	CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error
	FailRun(ctx context.Context, runID string, errMsg string) error
}

// Request names the listing page to process.
type Request struct {
	PageURL       string            `json:"page_url"`
	AttributeName string            `json:"attribute_name"`
	Headers       map[string]string `json:"headers,omitempty"`
}

// Validate checks the required fields.
func (r Request) Validate() error {
	if r.PageURL == "" {
		return eris.Wrap(model.ErrInvalidInput, "page_url is required")
	}
	if r.AttributeName == "" {
		return eris.Wrap(model.ErrInvalidInput, "attribute_name is required")
	}
	return nil
}

// Pipeline orchestrates the ingestion stages.
type Pipeline struct {
	locator    Locator
	fetcher    Fetcher
	tables     TableExtractor
	parser     Parser
	reconciler Reconciler
	store      Store

	pages *keyedLock
	docs  *keyedLock
}

// New creates a new Pipeline with all dependencies.
func New(loc Locator, f Fetcher, te TableExtractor, p Parser, r Reconciler, st Store) *Pipeline {
	return &Pipeline{
		locator:    loc,
		fetcher:    f,
		tables:     te,
		parser:     p,
		reconciler: r,
		store:      st,
		pages:      newKeyedLock(),
		docs:       newKeyedLock(),
	}
}

// Run executes the full pipeline for one listing page and records it in the
// run log.
func (p *Pipeline) Run(ctx context.Context, req Request) (*model.RunSummary, error) {
	run, err := p.begin(ctx, req)
	if err != nil {
		return nil, err
	}
	return p.execute(ctx, run, req)
}

func (p *Pipeline) begin(ctx context.Context, req Request) (*model.PipelineRun, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	run, err := p.store.CreateRun(ctx, req.PageURL, req.AttributeName)
	if err != nil {
		return nil, eris.Wrap(err, "pipeline: create run")
	}
	return run, nil
}

func (p *Pipeline) execute(ctx context.Context, run *model.PipelineRun, req Request) (*model.RunSummary, error) {
	log := zap.L().With(
		zap.String("run_id", run.ID),
		zap.String("page_url", req.PageURL),
		zap.String("attribute", req.AttributeName),
	)
	log.Info("pipeline: starting run")

	summary, err := p.runLocked(ctx, run, req, log)
	if err != nil {
		log.Error("pipeline: run failed", zap.Error(err))
		if failErr := p.store.FailRun(context.WithoutCancel(ctx), run.ID, err.Error()); failErr != nil {
			log.Warn("pipeline: failed to record run failure", zap.Error(failErr))
		}
		return nil, err
	}

	if err := p.store.CompleteRun(ctx, run.ID, summary); err != nil {
		log.Warn("pipeline: failed to record run completion", zap.Error(err))
	}
	log.Info("pipeline: run complete",
		zap.String("document_id", summary.DocumentID),
		zap.Int("companies", summary.CompaniesExtracted),
	)
	return summary, nil
}

func (p *Pipeline) runLocked(ctx context.Context, run *model.PipelineRun, req Request, log *zap.Logger) (*model.RunSummary, error) {
	unlock, err := p.pages.lock(ctx, req.PageURL)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: wait for page %s", req.PageURL)
	}
	defer unlock()

	docURL, err := p.locator.Locate(ctx, req.PageURL, req.AttributeName, req.Headers)
	if err != nil {
		return nil, err
	}
	log.Info("pipeline: document link located", zap.String("document_url", docURL))

	doc, err := p.fetcher.FetchAndStore(ctx, docURL, req.PageURL, req.Headers)
	if err != nil {
		return nil, err
	}
	if err := p.store.SetRunDocument(ctx, run.ID, doc.ID); err != nil {
		log.Warn("pipeline: failed to link run to document", zap.Error(err))
	}

	return p.process(ctx, doc)
}

// ProcessDocument runs validation, parsing and sync for a stored document.
func (p *Pipeline) ProcessDocument(ctx context.Context, documentID string) (*model.RunSummary, error) {
	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	return p.process(ctx, doc)
}

// ParseDocument re-parses a stored document and replaces its structured
// company record. The document status is left as is.
func (p *Pipeline) ParseDocument(ctx context.Context, documentID string) (*model.ExtractedRecord, error) {
	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	unlock, err := p.docs.lock(ctx, doc.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: wait for document %s", doc.ID)
	}
	defer unlock()

	path, cleanup, err := p.fetcher.LocalCopy(ctx, doc)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	return p.parser.ParseAndSave(ctx, doc.ID, path)
}

// SyncDocument reconciles the last parse of a stored document.
func (p *Pipeline) SyncDocument(ctx context.Context, documentID string) (*model.SyncStats, error) {
	doc, err := p.store.GetDocument(ctx, documentID)
	if err != nil {
		return nil, err
	}
	unlock, err := p.docs.lock(ctx, doc.ID)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: wait for document %s", doc.ID)
	}
	defer unlock()
	return p.reconciler.Sync(ctx, doc.ID)
}

// process moves doc through PROCESSING to COMPLETED. Any failure marks the
// document FAILED with the error text before it is returned.
func (p *Pipeline) process(ctx context.Context, doc *model.Document) (*model.RunSummary, error) {
	unlock, err := p.docs.lock(ctx, doc.ID)
	if err != nil {
		return nil, p.fail(ctx, doc, eris.Wrapf(err, "pipeline: wait for document %s", doc.ID))
	}
	defer unlock()

	summary, err := p.stages(ctx, doc)
	if err != nil {
		return nil, p.fail(ctx, doc, err)
	}
	return summary, nil
}

func (p *Pipeline) stages(ctx context.Context, doc *model.Document) (*model.RunSummary, error) {
	log := zap.L().With(zap.String("document_id", doc.ID))

	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, model.DocumentStatusProcessing, ""); err != nil {
		return nil, eris.Wrap(err, "pipeline: mark processing")
	}
	doc.Status = model.DocumentStatusProcessing

	path, cleanup, err := p.fetcher.LocalCopy(ctx, doc)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	pages, err := p.tables.Validate(ctx, path)
	if err != nil {
		return nil, err
	}
	if err := p.store.SetDocumentPageCount(ctx, doc.ID, pages); err != nil {
		log.Warn("pipeline: failed to store page count", zap.Error(err))
	}
	doc.PageCount = pages

	rec, err := p.parser.ParseAndSave(ctx, doc.ID, path)
	if err != nil {
		return nil, err
	}
	payload, err := rec.Companies()
	if err != nil {
		return nil, err
	}

	stats, err := p.reconciler.Sync(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	if err := p.store.UpdateDocumentStatus(ctx, doc.ID, model.DocumentStatusCompleted, ""); err != nil {
		return nil, eris.Wrap(err, "pipeline: mark completed")
	}
	doc.Status = model.DocumentStatusCompleted
	doc.ErrorMessage = ""

	log.Info("pipeline: document processed",
		zap.Int("pages", pages),
		zap.Int("companies", payload.TotalCount),
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("sync_errors", len(stats.Errors)),
	)

	return &model.RunSummary{
		DocumentID:         doc.ID,
		OriginalFilename:   doc.OriginalFilename,
		ScrapedURL:         doc.ScrapedURL,
		SourceURL:          doc.SourceURL,
		CompaniesExtracted: payload.TotalCount,
		Sync:               stats,
	}, nil
}

// fail records err on doc and returns err unchanged.
func (p *Pipeline) fail(ctx context.Context, doc *model.Document, err error) error {
	msg := err.Error()
	// A cancelled run still has to leave the document FAILED.
	if statusErr := p.store.UpdateDocumentStatus(context.WithoutCancel(ctx), doc.ID, model.DocumentStatusFailed, msg); statusErr != nil {
		zap.L().Warn("pipeline: failed to mark document failed",
			zap.String("document_id", doc.ID),
			zap.Error(statusErr),
		)
	}
	doc.Status = model.DocumentStatusFailed
	doc.ErrorMessage = msg
	return err
}
