package pipeline

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/sells-group/registry-sync/internal/model"
)

// --- Locator Mock ---

type mockLocator struct {
	mock.Mock
}

func (m *mockLocator) Locate(ctx context.Context, pageURL, attribute string, headers map[string]string) (string, error) {
	args := m.Called(ctx, pageURL, attribute, headers)
	return args.String(0), args.Error(1)
}

// --- Fetcher Mock ---

type mockFetcher struct {
	mock.Mock
}

func (m *mockFetcher) FetchAndStore(ctx context.Context, docURL, pageURL string, headers map[string]string) (*model.Document, error) {
	args := m.Called(ctx, docURL, pageURL, headers)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *mockFetcher) LocalCopy(ctx context.Context, doc *model.Document) (string, func(), error) {
	args := m.Called(ctx, doc)
	cleanup, _ := args.Get(1).(func())
	if cleanup == nil {
		cleanup = func() {}
	}
	return args.String(0), cleanup, args.Error(2)
}

// --- TableExtractor Mock ---

type mockTables struct {
	mock.Mock
}

func (m *mockTables) Validate(ctx context.Context, pdfPath string) (int, error) {
	args := m.Called(ctx, pdfPath)
	return args.Int(0), args.Error(1)
}

// --- Parser Mock ---

type mockParser struct {
	mock.Mock
}

func (m *mockParser) ParseAndSave(ctx context.Context, documentID, pdfPath string) (*model.ExtractedRecord, error) {
	args := m.Called(ctx, documentID, pdfPath)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.ExtractedRecord), args.Error(1)
}

// --- Reconciler Mock ---

type mockReconciler struct {
	mock.Mock
}

func (m *mockReconciler) Sync(ctx context.Context, documentID string) (*model.SyncStats, error) {
	args := m.Called(ctx, documentID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.SyncStats), args.Error(1)
}

// --- Store Mock ---

type mockStore struct {
	mock.Mock
}

func (m *mockStore) GetDocument(ctx context.Context, id string) (*model.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *mockStore) UpdateDocumentStatus(ctx context.Context, id string, status model.DocumentStatus, errMsg string) error {
	args := m.Called(ctx, id, status, errMsg)
	return args.Error(0)
}

func (m *mockStore) SetDocumentPageCount(ctx context.Context, id string, pages int) error {
	args := m.Called(ctx, id, pages)
	return args.Error(0)
}

func (m *mockStore) CreateRun(ctx context.Context, pageURL, attributeName string) (*model.PipelineRun, error) {
	args := m.Called(ctx, pageURL, attributeName)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.PipelineRun), args.Error(1)
}

func (m *mockStore) SetRunDocument(ctx context.Context, runID, documentID string) error {
	args := m.Called(ctx, runID, documentID)
	return args.Error(0)
}

func (m *mockStore) CompleteRun(ctx context.Context, runID string, summary *model.RunSummary) error {
	args := m.Called(ctx, runID, summary)
	return args.Error(0)
}

func (m *mockStore) FailRun(ctx context.Context, runID string, errMsg string) error {
	args := m.Called(ctx, runID, errMsg)
	return args.Error(0)
}
