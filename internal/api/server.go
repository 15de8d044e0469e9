// Package api serves the document, registry and run log over HTTP.
package api

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/registry-sync/internal/model"
	"github.com/sells-group/registry-sync/internal/parser"
	"github.com/sells-group/registry-sync/internal/pipeline"
)

// maxUploadBytes bounds multipart uploads.
const maxUploadBytes = 100 << 20

// Store is the read side of persistence the API serves.
type Store interface {
	Ping(ctx context.Context) error
	GetDocument(ctx context.Context, id string) (*model.Document, error)
	ListDocuments(ctx context.Context, filter model.DocumentFilter) ([]model.Document, error)
	GetLatestRecord(ctx context.Context, documentID string, dataType model.DataType) (*model.ExtractedRecord, error)
	ListRecords(ctx context.Context, filter model.RecordFilter) ([]model.ExtractedRecord, error)
	ListCompanies(ctx context.Context, filter model.CompanyFilter) ([]model.Company, error)
	GetRun(ctx context.Context, runID string) (*model.PipelineRun, error)
	ListRuns(ctx context.Context, filter model.RunFilter) ([]model.PipelineRun, error)
}

// Documents stores and reads document files.
type Documents interface {
	Upload(ctx context.Context, filename string, r io.Reader) (*model.Document, error)
	FetchAndStore(ctx context.Context, docURL, pageURL string, headers map[string]string) (*model.Document, error)
	Open(ctx context.Context, doc *model.Document) (io.ReadCloser, error)
	LocalCopy(ctx context.Context, doc *model.Document) (string, func(), error)
}

// Locator finds a document link on a listing page.
type Locator interface {
	Locate(ctx context.Context, pageURL, attribute string, headers map[string]string) (string, error)
}

// Debugger reports per-filter parse statistics without saving.
type Debugger interface {
	Debug(ctx context.Context, pdfPath string) (*parser.DebugReport, error)
}

// Pipeline runs and re-runs pipeline stages.
type Pipeline interface {
	Run(ctx context.Context, req pipeline.Request) (*model.RunSummary, error)
	Start(ctx context.Context, req pipeline.Request) (*pipeline.Handle, error)
	ProcessDocument(ctx context.Context, documentID string) (*model.RunSummary, error)
	ParseDocument(ctx context.Context, documentID string) (*model.ExtractedRecord, error)
	SyncDocument(ctx context.Context, documentID string) (*model.SyncStats, error)
}

// Deps are the collaborators the handlers call.
type Deps struct {
	Store     Store
	Documents Documents
	Locator   Locator
	Debugger  Debugger
	Pipeline  Pipeline
}

// Server holds the HTTP handlers.
type Server struct {
	Deps

	// runCtx outlives requests; async runs are bound to it.
	runCtx context.Context
}

// New creates a Server. Runs started with async=true are cancelled when
// runCtx is done.
func New(runCtx context.Context, deps Deps) *Server {
	return &Server{Deps: deps, runCtx: runCtx}
}

// Routes builds the router.
func (s *Server) Routes(corsOrigins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
		MaxAge:         300,
	}))

	r.Get("/health", s.health)

	r.Route("/documents", func(r chi.Router) {
		r.Get("/", s.listDocuments)
		r.Post("/", s.uploadDocument)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.getDocument)
			r.Get("/file", s.downloadDocument)
			r.Post("/process", s.processDocument)
			r.Post("/parse", s.parseDocument)
			r.Get("/companies", s.documentCompanies)
			r.Get("/parse-debug", s.parseDebug)
			r.Post("/sync", s.syncDocument)
		})
	})

	r.Post("/scrape", s.scrape)
	r.Post("/pipeline/runs", s.startRun)
	r.Get("/runs", s.listRuns)
	r.Get("/runs/{id}", s.getRun)
	r.Get("/extracted-records", s.listRecords)
	r.Get("/companies", s.listCompanies)

	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		zap.L().Info("api: request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
