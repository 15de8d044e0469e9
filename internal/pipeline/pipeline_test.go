package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/registry-sync/internal/model"
)

const (
	testPageURL = "https://mrosp.gov.hr/registar"
	testAttr    = "data-registry-pdf"
	testDocURL  = "https://mrosp.gov.hr/files/popis.pdf"
	testPath    = "/tmp/popis.pdf"
)

type fixture struct {
	loc   *mockLocator
	fetch *mockFetcher
	tbl   *mockTables
	parse *mockParser
	rec   *mockReconciler
	st    *mockStore
	p     *Pipeline
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		loc:   &mockLocator{},
		fetch: &mockFetcher{},
		tbl:   &mockTables{},
		parse: &mockParser{},
		rec:   &mockReconciler{},
		st:    &mockStore{},
	}
	f.p = New(f.loc, f.fetch, f.tbl, f.parse, f.rec, f.st)
	t.Cleanup(func() {
		f.loc.AssertExpectations(t)
		f.fetch.AssertExpectations(t)
		f.tbl.AssertExpectations(t)
		f.parse.AssertExpectations(t)
		f.rec.AssertExpectations(t)
		f.st.AssertExpectations(t)
	})
	return f
}

func testDocument() *model.Document {
	return &model.Document{
		ID:               "doc-1",
		OriginalFilename: "popis.pdf",
		SourceURL:        testDocURL,
		ScrapedURL:       testPageURL,
		Status:           model.DocumentStatusPending,
	}
}

func structuredRecord(names ...string) *model.ExtractedRecord {
	p := model.CompanyPayload{Parser: "CroatianLaborPDFParser"}
	for _, n := range names {
		p.Companies = append(p.Companies, model.Candidate{LegalName: n, LegalID: "1", PageNumber: 1})
	}
	p.TotalCount = len(p.Companies)
	return &model.ExtractedRecord{
		ID:         "rec-1",
		DocumentID: "doc-1",
		DataType:   model.DataTypeStructuredCompanies,
		RawData:    p.RawData(),
	}
}

func (f *fixture) expectRunStart() {
	f.st.On("CreateRun", mock.Anything, testPageURL, testAttr).
		Return(&model.PipelineRun{ID: "run-1", PageURL: testPageURL, AttributeName: testAttr, Status: model.RunStatusRunning}, nil)
}

func (f *fixture) expectFetched() {
	f.loc.On("Locate", mock.Anything, testPageURL, testAttr, map[string]string(nil)).Return(testDocURL, nil)
	f.fetch.On("FetchAndStore", mock.Anything, testDocURL, testPageURL, map[string]string(nil)).Return(testDocument(), nil)
	f.st.On("SetRunDocument", mock.Anything, "run-1", "doc-1").Return(nil)
}

func TestPipeline_Run_Success(t *testing.T) {
	f := newFixture(t)
	f.expectRunStart()
	f.expectFetched()

	cleaned := false
	stats := &model.SyncStats{TotalPDFCompanies: 2, Created: 1, Updated: 1, Errors: []model.SyncError{}}

	f.st.On("UpdateDocumentStatus", mock.Anything, "doc-1", model.DocumentStatusProcessing, "").Return(nil).Once()
	f.fetch.On("LocalCopy", mock.Anything, mock.AnythingOfType("*model.Document")).
		Return(testPath, func() { cleaned = true }, nil)
	f.tbl.On("Validate", mock.Anything, testPath).Return(3, nil)
	f.st.On("SetDocumentPageCount", mock.Anything, "doc-1", 3).Return(nil)
	f.parse.On("ParseAndSave", mock.Anything, "doc-1", testPath).Return(structuredRecord("Acme d.o.o.", "Beta d.d."), nil)
	f.rec.On("Sync", mock.Anything, "doc-1").Return(stats, nil)
	f.st.On("UpdateDocumentStatus", mock.Anything, "doc-1", model.DocumentStatusCompleted, "").Return(nil).Once()
	f.st.On("CompleteRun", mock.Anything, "run-1", mock.AnythingOfType("*model.RunSummary")).Return(nil)

	summary, err := f.p.Run(context.Background(), Request{PageURL: testPageURL, AttributeName: testAttr})
	require.NoError(t, err)

	assert.Equal(t, "doc-1", summary.DocumentID)
	assert.Equal(t, "popis.pdf", summary.OriginalFilename)
	assert.Equal(t, testPageURL, summary.ScrapedURL)
	assert.Equal(t, testDocURL, summary.SourceURL)
	assert.Equal(t, 2, summary.CompaniesExtracted)
	assert.Same(t, stats, summary.Sync)
	assert.True(t, cleaned)
	assert.Equal(t, 0, f.p.pages.size())
	assert.Equal(t, 0, f.p.docs.size())
}

func TestPipeline_Run_LinkNotFound(t *testing.T) {
	f := newFixture(t)
	f.expectRunStart()

	notFound := eris.Wrap(model.ErrLinkNotFound, "no link with attribute data-registry-pdf")
	f.loc.On("Locate", mock.Anything, testPageURL, testAttr, map[string]string(nil)).Return("", notFound)
	f.st.On("FailRun", mock.Anything, "run-1", notFound.Error()).Return(nil)

	_, err := f.p.Run(context.Background(), Request{PageURL: testPageURL, AttributeName: testAttr})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrLinkNotFound))

	// No document exists yet, so no status transition is recorded.
	f.st.AssertNotCalled(t, "UpdateDocumentStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	f.fetch.AssertNotCalled(t, "FetchAndStore", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_Run_DownloadFailure(t *testing.T) {
	f := newFixture(t)
	f.expectRunStart()

	dlErr := eris.Wrap(model.ErrDownload, "document: GET https://mrosp.gov.hr/files/popis.pdf: status 404")
	f.loc.On("Locate", mock.Anything, testPageURL, testAttr, map[string]string(nil)).Return(testDocURL, nil)
	f.fetch.On("FetchAndStore", mock.Anything, testDocURL, testPageURL, map[string]string(nil)).Return(nil, dlErr)
	f.st.On("FailRun", mock.Anything, "run-1", mock.AnythingOfType("string")).Return(nil)

	_, err := f.p.Run(context.Background(), Request{PageURL: testPageURL, AttributeName: testAttr})
	assert.True(t, errors.Is(err, model.ErrDownload))
	f.st.AssertNotCalled(t, "UpdateDocumentStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_Run_NoTablesMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.expectRunStart()
	f.expectFetched()

	noTables := eris.Wrap(model.ErrValidation, "No tables found in PDF document")
	f.st.On("UpdateDocumentStatus", mock.Anything, "doc-1", model.DocumentStatusProcessing, "").Return(nil)
	f.fetch.On("LocalCopy", mock.Anything, mock.Anything).Return(testPath, nil, nil)
	f.tbl.On("Validate", mock.Anything, testPath).Return(1, noTables)
	f.st.On("UpdateDocumentStatus", mock.Anything, "doc-1", model.DocumentStatusFailed, noTables.Error()).Return(nil)
	f.st.On("FailRun", mock.Anything, "run-1", noTables.Error()).Return(nil)

	_, err := f.p.Run(context.Background(), Request{PageURL: testPageURL, AttributeName: testAttr})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrValidation))
	assert.Contains(t, err.Error(), "No tables found in PDF document")
	f.parse.AssertNotCalled(t, "ParseAndSave", mock.Anything, mock.Anything, mock.Anything)
	f.rec.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
}

func TestPipeline_Run_ParseFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.expectRunStart()
	f.expectFetched()

	parseErr := eris.Wrapf(model.ErrParse, "parser: extract tables: %v", "corrupt stream")
	f.st.On("UpdateDocumentStatus", mock.Anything, "doc-1", model.DocumentStatusProcessing, "").Return(nil)
	f.fetch.On("LocalCopy", mock.Anything, mock.Anything).Return(testPath, nil, nil)
	f.tbl.On("Validate", mock.Anything, testPath).Return(2, nil)
	f.st.On("SetDocumentPageCount", mock.Anything, "doc-1", 2).Return(nil)
	f.parse.On("ParseAndSave", mock.Anything, "doc-1", testPath).Return(nil, parseErr)
	f.st.On("UpdateDocumentStatus", mock.Anything, "doc-1", model.DocumentStatusFailed, parseErr.Error()).Return(nil)
	f.st.On("FailRun", mock.Anything, "run-1", parseErr.Error()).Return(nil)

	_, err := f.p.Run(context.Background(), Request{PageURL: testPageURL, AttributeName: testAttr})
	assert.True(t, errors.Is(err, model.ErrParse))
	f.rec.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
}

func TestPipeline_Run_SyncFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.expectRunStart()
	f.expectFetched()

	syncErr := eris.Wrap(model.ErrMissingData, "company: no structured companies for doc-1, parse it first")
	f.st.On("UpdateDocumentStatus", mock.Anything, "doc-1", model.DocumentStatusProcessing, "").Return(nil)
	f.fetch.On("LocalCopy", mock.Anything, mock.Anything).Return(testPath, nil, nil)
	f.tbl.On("Validate", mock.Anything, testPath).Return(2, nil)
	f.st.On("SetDocumentPageCount", mock.Anything, "doc-1", 2).Return(nil)
	f.parse.On("ParseAndSave", mock.Anything, "doc-1", testPath).Return(structuredRecord("Acme"), nil)
	f.rec.On("Sync", mock.Anything, "doc-1").Return(nil, syncErr)
	f.st.On("UpdateDocumentStatus", mock.Anything, "doc-1", model.DocumentStatusFailed, syncErr.Error()).Return(nil)
	f.st.On("FailRun", mock.Anything, "run-1", syncErr.Error()).Return(nil)

	_, err := f.p.Run(context.Background(), Request{PageURL: testPageURL, AttributeName: testAttr})
	assert.True(t, errors.Is(err, model.ErrMissingData))
	f.st.AssertNotCalled(t, "CompleteRun", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_Run_InvalidRequest(t *testing.T) {
	f := newFixture(t)

	_, err := f.p.Run(context.Background(), Request{PageURL: testPageURL})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrInvalidInput))
	assert.Contains(t, err.Error(), "attribute_name is required")

	_, err = f.p.Run(context.Background(), Request{AttributeName: testAttr})
	assert.Contains(t, err.Error(), "page_url is required")
	f.st.AssertNotCalled(t, "CreateRun", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_Run_CreateRunFails(t *testing.T) {
	f := newFixture(t)
	f.st.On("CreateRun", mock.Anything, testPageURL, testAttr).Return(nil, errors.New("db down"))

	_, err := f.p.Run(context.Background(), Request{PageURL: testPageURL, AttributeName: testAttr})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: create run")
}

func TestPipeline_ProcessDocument(t *testing.T) {
	f := newFixture(t)
	doc := testDocument()
	doc.ScrapedURL = ""

	f.st.On("GetDocument", mock.Anything, "doc-1").Return(doc, nil)
	f.st.On("UpdateDocumentStatus", mock.Anything, "doc-1", model.DocumentStatusProcessing, "").Return(nil)
	f.fetch.On("LocalCopy", mock.Anything, doc).Return(testPath, nil, nil)
	f.tbl.On("Validate", mock.Anything, testPath).Return(1, nil)
	f.st.On("SetDocumentPageCount", mock.Anything, "doc-1", 1).Return(errors.New("transient"))
	f.parse.On("ParseAndSave", mock.Anything, "doc-1", testPath).Return(structuredRecord("Acme"), nil)
	f.rec.On("Sync", mock.Anything, "doc-1").Return(&model.SyncStats{TotalPDFCompanies: 1, Created: 1}, nil)
	f.st.On("UpdateDocumentStatus", mock.Anything, "doc-1", model.DocumentStatusCompleted, "").Return(nil)

	summary, err := f.p.ProcessDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, summary.CompaniesExtracted)
	assert.Equal(t, model.DocumentStatusCompleted, doc.Status)
	assert.Equal(t, 1, doc.PageCount)
}

func TestPipeline_ProcessDocument_NotFound(t *testing.T) {
	f := newFixture(t)
	f.st.On("GetDocument", mock.Anything, "missing").Return(nil, eris.Wrap(model.ErrNotFound, "document missing"))

	_, err := f.p.ProcessDocument(context.Background(), "missing")
	assert.True(t, errors.Is(err, model.ErrNotFound))
	f.st.AssertNotCalled(t, "UpdateDocumentStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_FailedStatusWriteErrorKeepsStageError(t *testing.T) {
	f := newFixture(t)
	doc := testDocument()
	copyErr := eris.Wrap(model.ErrNotFound, "blob pdf_documents/doc-1/popis.pdf")

	f.st.On("GetDocument", mock.Anything, "doc-1").Return(doc, nil)
	f.st.On("UpdateDocumentStatus", mock.Anything, "doc-1", model.DocumentStatusProcessing, "").Return(nil)
	f.fetch.On("LocalCopy", mock.Anything, doc).Return("", nil, copyErr)
	f.st.On("UpdateDocumentStatus", mock.Anything, "doc-1", model.DocumentStatusFailed, copyErr.Error()).Return(errors.New("db down"))

	_, err := f.p.ProcessDocument(context.Background(), "doc-1")
	assert.Equal(t, copyErr, err)
	assert.Equal(t, model.DocumentStatusFailed, doc.Status)
	assert.Equal(t, copyErr.Error(), doc.ErrorMessage)
}

func TestPipeline_StartAndWait(t *testing.T) {
	f := newFixture(t)
	f.expectRunStart()

	release := make(chan struct{})
	f.loc.On("Locate", mock.Anything, testPageURL, testAttr, map[string]string{"Cookie": "a=b"}).
		Run(func(mock.Arguments) { <-release }).
		Return("", eris.Wrap(model.ErrFetch, "status 503"))
	f.st.On("FailRun", mock.Anything, "run-1", mock.AnythingOfType("string")).Return(nil)

	h, err := f.p.Start(context.Background(), Request{PageURL: testPageURL, AttributeName: testAttr, Headers: map[string]string{"Cookie": "a=b"}})
	require.NoError(t, err)
	assert.Equal(t, "run-1", h.RunID)

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = h.Wait(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	_, err = h.Wait(context.Background())
	assert.True(t, errors.Is(err, model.ErrFetch))
	<-h.Done()
}

func TestPipeline_StartInvalidRequest(t *testing.T) {
	f := newFixture(t)

	h, err := f.p.Start(context.Background(), Request{})
	assert.Nil(t, h)
	assert.True(t, errors.Is(err, model.ErrInvalidInput))
}

func TestPipeline_RunsOnSamePageAreSerialized(t *testing.T) {
	f := newFixture(t)
	f.st.On("CreateRun", mock.Anything, testPageURL, testAttr).
		Return(&model.PipelineRun{ID: "run-1"}, nil)
	f.st.On("FailRun", mock.Anything, "run-1", mock.AnythingOfType("string")).Return(nil)

	active := 0
	maxActive := 0
	f.loc.On("Locate", mock.Anything, testPageURL, testAttr, map[string]string(nil)).
		Run(func(mock.Arguments) {
			active++
			if active > maxActive {
				maxActive = active
			}
			time.Sleep(5 * time.Millisecond)
			active--
		}).
		Return("", model.ErrLinkNotFound)

	var handles []*Handle
	for range 4 {
		h, err := f.p.Start(context.Background(), Request{PageURL: testPageURL, AttributeName: testAttr})
		require.NoError(t, err)
		handles = append(handles, h)
	}
	for _, h := range handles {
		_, err := h.Wait(context.Background())
		assert.True(t, errors.Is(err, model.ErrLinkNotFound))
	}
	assert.Equal(t, 1, maxActive)
	assert.Equal(t, 0, f.p.pages.size())
}

func TestPipeline_ParseDocument(t *testing.T) {
	f := newFixture(t)
	doc := testDocument()
	rec := structuredRecord("Acme")

	f.st.On("GetDocument", mock.Anything, "doc-1").Return(doc, nil)
	f.fetch.On("LocalCopy", mock.Anything, doc).Return(testPath, nil, nil)
	f.parse.On("ParseAndSave", mock.Anything, "doc-1", testPath).Return(rec, nil)

	got, err := f.p.ParseDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Same(t, rec, got)
	f.st.AssertNotCalled(t, "UpdateDocumentStatus", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_SyncDocument(t *testing.T) {
	f := newFixture(t)
	stats := &model.SyncStats{TotalPDFCompanies: 1, Updated: 1}

	f.st.On("GetDocument", mock.Anything, "doc-1").Return(testDocument(), nil)
	f.rec.On("Sync", mock.Anything, "doc-1").Return(stats, nil)

	got, err := f.p.SyncDocument(context.Background(), "doc-1")
	require.NoError(t, err)
	assert.Same(t, stats, got)
	assert.Equal(t, 0, f.p.docs.size())
}

func TestPipeline_SyncDocument_NotFound(t *testing.T) {
	f := newFixture(t)
	f.st.On("GetDocument", mock.Anything, "nope").Return(nil, eris.Wrap(model.ErrNotFound, "document nope"))

	_, err := f.p.SyncDocument(context.Background(), "nope")
	assert.ErrorIs(t, err, model.ErrNotFound)
	f.rec.AssertNotCalled(t, "Sync", mock.Anything, mock.Anything)
}
