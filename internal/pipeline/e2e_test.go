package pipeline_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/registry-sync/internal/blob"
	"github.com/sells-group/registry-sync/internal/company"
	"github.com/sells-group/registry-sync/internal/document"
	"github.com/sells-group/registry-sync/internal/fetcher"
	"github.com/sells-group/registry-sync/internal/locate"
	"github.com/sells-group/registry-sync/internal/model"
	"github.com/sells-group/registry-sync/internal/parser"
	"github.com/sells-group/registry-sync/internal/pdftest"
	"github.com/sells-group/registry-sync/internal/pipeline"
	"github.com/sells-group/registry-sync/internal/store"
	"github.com/sells-group/registry-sync/internal/tables"
)

func newRegistrySite(t *testing.T, pdf []byte) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/registar", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(`<html><body>
			<a href="/files/stari.pdf">Arhiva</a>
			<a data-registry-pdf href="/files/popis.pdf">Popis poslodavaca</a>
		</body></html>`))
	})
	mux.HandleFunc("/files/popis.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(pdf)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newStack(t *testing.T) (*pipeline.Pipeline, *store.SQLiteStore) {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "registry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	blobs, err := blob.NewFS(t.TempDir())
	require.NoError(t, err)

	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1, BackoffBase: time.Millisecond})
	docs := document.New(f, blobs, st, document.Options{Prefix: "pdf_documents/"})
	ext := tables.NewNative(tables.DefaultHeaderRows)
	ps := parser.NewService(parser.New(parser.Options{}), ext, st)
	rec := company.NewReconciler(st, st, company.Options{CleanDisplayNames: true})

	p := pipeline.New(locate.New(f, 10*time.Second), docs, tables.NewValidator(ext), ps, rec, st)
	return p, st
}

func TestEndToEnd_RunTwice(t *testing.T) {
	srv := newRegistrySite(t, pdftest.Bytes([][]pdftest.Item{pdftest.CompanyPage()}))
	p, st := newStack(t)
	ctx := context.Background()
	req := pipeline.Request{PageURL: srv.URL + "/registar", AttributeName: "data-registry-pdf"}

	first, err := p.Run(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "popis.pdf", first.OriginalFilename)
	assert.Equal(t, srv.URL+"/files/popis.pdf", first.SourceURL)
	assert.Equal(t, srv.URL+"/registar", first.ScrapedURL)
	assert.Equal(t, 2, first.CompaniesExtracted)
	assert.Equal(t, 2, first.Sync.Created)
	assert.Equal(t, 0, first.Sync.Updated)
	assert.Empty(t, first.Sync.Errors)

	doc, err := st.GetDocument(ctx, first.DocumentID)
	require.NoError(t, err)
	assert.Equal(t, model.DocumentStatusCompleted, doc.Status)
	assert.Equal(t, 1, doc.PageCount)
	assert.Empty(t, doc.ErrorMessage)

	acme, err := st.GetCompanyByLegalID(ctx, "12345678901")
	require.NoError(t, err)
	require.NotNil(t, acme)
	assert.Equal(t, "ACME d.o.o.", acme.LegalName)
	assert.Equal(t, "ACME", acme.DisplayName)
	assert.Equal(t, "Other", acme.Category)
	assert.Equal(t, "Imported from PDF. Address: Ilica 1", acme.Description)
	assert.True(t, acme.IsBlacklisted())

	beta, err := st.GetCompanyByLegalID(ctx, "23456789012")
	require.NoError(t, err)
	require.NotNil(t, beta)
	assert.Equal(t, "Beta obrt za usluge", beta.LegalName)

	second, err := p.Run(ctx, req)
	require.NoError(t, err)
	assert.NotEqual(t, first.DocumentID, second.DocumentID)
	assert.Equal(t, 0, second.Sync.Created)
	assert.Equal(t, 2, second.Sync.Updated)

	recs, err := st.ListRecords(ctx, model.RecordFilter{DocumentID: second.DocumentID})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	flagged := true
	companies, err := st.ListCompanies(ctx, model.CompanyFilter{Blacklisted: &flagged})
	require.NoError(t, err)
	assert.Len(t, companies, 2)

	runs, err := st.ListRuns(ctx, model.RunFilter{PageURL: req.PageURL})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	for _, r := range runs {
		assert.Equal(t, model.RunStatusComplete, r.Status)
		require.NotNil(t, r.Summary)
		assert.Equal(t, 2, r.Summary.CompaniesExtracted)
	}
}

func TestEndToEnd_NoTablesMarksDocumentFailed(t *testing.T) {
	srv := newRegistrySite(t, pdftest.Bytes([][]pdftest.Item{{{X: 50, Y: 740, S: "Obavijest bez tablice"}}}))
	p, st := newStack(t)
	ctx := context.Background()

	_, err := p.Run(ctx, pipeline.Request{PageURL: srv.URL + "/registar", AttributeName: "data-registry-pdf"})
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrValidation)

	docs, err := st.ListDocuments(ctx, model.DocumentFilter{Status: model.DocumentStatusFailed})
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Contains(t, docs[0].ErrorMessage, "No tables found in PDF document")

	runs, err := st.ListRuns(ctx, model.RunFilter{Status: model.RunStatusFailed})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, docs[0].ID, runs[0].DocumentID)
}

func TestEndToEnd_LinkMissing(t *testing.T) {
	srv := newRegistrySite(t, nil)
	p, st := newStack(t)
	ctx := context.Background()

	_, err := p.Run(ctx, pipeline.Request{PageURL: srv.URL + "/registar", AttributeName: "data-other"})
	assert.ErrorIs(t, err, model.ErrLinkNotFound)

	docs, err := st.ListDocuments(ctx, model.DocumentFilter{})
	require.NoError(t, err)
	assert.Empty(t, docs)
}
