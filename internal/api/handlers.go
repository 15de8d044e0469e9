package api

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/registry-sync/internal/model"
	"github.com/sells-group/registry-sync/internal/pipeline"
)

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.Store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Documents ---

func (s *Server) listDocuments(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, r, err)
		return
	}
	status := model.DocumentStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, r, badRequest("unknown status "+string(status)))
		return
	}

	docs, err := s.Store.ListDocuments(r.Context(), model.DocumentFilter{Status: status, Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, eris.Wrapf(model.ErrInvalidInput, "multipart field \"file\" is required: %v", err))
		return
	}
	defer file.Close() //nolint:errcheck

	doc, err := s.Documents.Upload(r.Context(), header.Filename, file)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.Store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) downloadDocument(w http.ResponseWriter, r *http.Request) {
	doc, err := s.Store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	rc, err := s.Documents.Open(r.Context(), doc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer rc.Close() //nolint:errcheck

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": doc.OriginalFilename}))
	if _, err := io.Copy(w, rc); err != nil {
		zap.L().Warn("api: stream document", zap.String("document_id", doc.ID), zap.Error(err))
	}
}

func (s *Server) processDocument(w http.ResponseWriter, r *http.Request) {
	summary, err := s.Pipeline.ProcessDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type parseResponse struct {
	RecordID   string            `json:"record_id"`
	Companies  []model.Candidate `json:"companies"`
	TotalCount int               `json:"total_count"`
	Parser     string            `json:"parser"`
}

func (s *Server) parseDocument(w http.ResponseWriter, r *http.Request) {
	rec, err := s.Pipeline.ParseDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	payload, err := rec.Companies()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, parseResponse{
		RecordID:   rec.ID,
		Companies:  payload.Companies,
		TotalCount: payload.TotalCount,
		Parser:     payload.Parser,
	})
}

func (s *Server) documentCompanies(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.Store.GetDocument(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := s.Store.GetLatestRecord(r.Context(), id, model.DataTypeStructuredCompanies)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			err = eris.Wrapf(model.ErrMissingData, "document %s has not been parsed", id)
		}
		writeError(w, r, err)
		return
	}
	payload, err := rec.Companies()
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, parseResponse{
		RecordID:   rec.ID,
		Companies:  payload.Companies,
		TotalCount: payload.TotalCount,
		Parser:     payload.Parser,
	})
}

func (s *Server) parseDebug(w http.ResponseWriter, r *http.Request) {
	doc, err := s.Store.GetDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	path, cleanup, err := s.Documents.LocalCopy(r.Context(), doc)
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer cleanup()

	report, err := s.Debugger.Debug(r.Context(), path)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) syncDocument(w http.ResponseWriter, r *http.Request) {
	stats, err := s.Pipeline.SyncDocument(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// --- Scrape and runs ---

type scrapeRequest struct {
	PageURL       string            `json:"page_url"`
	AttributeName string            `json:"attribute_name"`
	Headers       map[string]string `json:"headers"`
	Async         bool              `json:"async"`
}

func (req scrapeRequest) pipeline() pipeline.Request {
	return pipeline.Request{PageURL: req.PageURL, AttributeName: req.AttributeName, Headers: req.Headers}
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := req.pipeline().Validate(); err != nil {
		writeError(w, r, err)
		return
	}

	docURL, err := s.Locator.Locate(r.Context(), req.PageURL, req.AttributeName, req.Headers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	doc, err := s.Documents.FetchAndStore(r.Context(), docURL, req.PageURL, req.Headers)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, doc)
}

func (s *Server) startRun(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	if req.Async {
		h, err := s.Pipeline.Start(s.runCtx, req.pipeline())
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "run_id": h.RunID})
		return
	}

	summary, err := s.Pipeline.Run(r.Context(), req.pipeline())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	runs, err := s.Store.ListRuns(r.Context(), model.RunFilter{
		Status:  model.RunStatus(r.URL.Query().Get("status")),
		PageURL: r.URL.Query().Get("page_url"),
		Limit:   limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) getRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.Store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// --- Records and registry ---

func (s *Server) listRecords(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	docID := q.Get("document_id")
	if docID == "" {
		docID = q.Get("pdf_document")
	}
	recs, err := s.Store.ListRecords(r.Context(), model.RecordFilter{
		DocumentID: docID,
		DataType:   model.DataType(q.Get("data_type")),
		Limit:      limit,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (s *Server) listCompanies(w http.ResponseWriter, r *http.Request) {
	blacklisted, err := queryBool(r, "blacklisted")
	if err != nil {
		writeError(w, r, err)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(w, r, err)
		return
	}
	companies, err := s.Store.ListCompanies(r.Context(), model.CompanyFilter{Blacklisted: blacklisted, Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, companies)
}
