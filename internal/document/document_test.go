package document

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/registry-sync/internal/blob"
	"github.com/sells-group/registry-sync/internal/fetcher"
	"github.com/sells-group/registry-sync/internal/model"
)

type memRepo struct {
	mu   sync.Mutex
	docs []*model.Document
	err  error
}

func (r *memRepo) CreateDocument(_ context.Context, doc *model.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.docs = append(r.docs, doc)
	return nil
}

func newTestService(t *testing.T, repo Repository) (*Service, blob.Store) {
	t.Helper()
	blobs, err := blob.NewFS(t.TempDir())
	require.NoError(t, err)
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1, BackoffBase: time.Millisecond})
	return New(f, blobs, repo, Options{Prefix: "pdf_documents/"}), blobs
}

func TestFilename(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/files/popis.pdf", "popis.pdf"},
		{"https://example.com/files/popis.PDF", "popis.PDF"},
		{"https://example.com/files/popis.pdf?download=1", "popis.pdf"},
		{"https://example.com/download?id=42", "download.pdf"},
		{"https://example.com/files/list", "list.pdf"},
		{"https://example.com/", "document.pdf"},
		{"https://example.com/a/b%20c.pdf", "b c.pdf"},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			assert.Equal(t, tt.want, Filename(tt.url))
		})
	}
}

func TestFetchAndStore(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		io.WriteString(w, "%PDF-1.7 content") //nolint:errcheck
	}))
	defer srv.Close()

	repo := &memRepo{}
	svc, blobs := newTestService(t, repo)

	doc, err := svc.FetchAndStore(context.Background(), srv.URL+"/f.pdf?v=2", "https://example.com/page", nil)
	require.NoError(t, err)

	assert.Equal(t, model.DocumentStatusPending, doc.Status)
	assert.Equal(t, "f.pdf", doc.OriginalFilename)
	assert.Equal(t, srv.URL+"/f.pdf?v=2", doc.SourceURL)
	assert.Equal(t, "https://example.com/page", doc.ScrapedURL)
	assert.Equal(t, int64(16), doc.Size)
	assert.True(t, strings.HasPrefix(doc.FileKey, "pdf_documents/"+doc.ID+"/"))
	require.Len(t, repo.docs, 1)

	rc, err := blobs.Open(context.Background(), doc.FileKey)
	require.NoError(t, err)
	defer rc.Close() //nolint:errcheck
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "%PDF-1.7 content", string(data))
}

func TestFetchAndStore_ForwardsHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		io.WriteString(w, "%PDF") //nolint:errcheck
	}))
	defer srv.Close()

	svc, _ := newTestService(t, &memRepo{})
	_, err := svc.FetchAndStore(context.Background(), srv.URL+"/x.pdf", "", map[string]string{"Authorization": "Bearer t"})
	require.NoError(t, err)
	assert.Equal(t, "Bearer t", gotAuth)
}

func TestFetchAndStore_HTTPErrorIsDownloadError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	repo := &memRepo{}
	svc, _ := newTestService(t, repo)

	_, err := svc.FetchAndStore(context.Background(), srv.URL+"/missing.pdf", "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrDownload))
	assert.Contains(t, err.Error(), "404")
	assert.Empty(t, repo.docs)
}

func TestFetchAndStore_OversizedBodyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(make([]byte, 2000)) //nolint:errcheck
	}))
	defer srv.Close()

	root := t.TempDir()
	blobs, err := blob.NewFS(root)
	require.NoError(t, err)
	f := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{MaxRetries: 1, MaxBodyBytes: 1000, BackoffBase: time.Millisecond})
	repo := &memRepo{}
	svc := New(f, blobs, repo, Options{Prefix: "pdf_documents/"})

	_, err = svc.FetchAndStore(context.Background(), srv.URL+"/big.pdf", "", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrDownload))
	assert.Contains(t, err.Error(), "exceeds size limit")
	assert.Empty(t, repo.docs)

	var files int
	require.NoError(t, filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files++
		}
		return err
	}))
	assert.Zero(t, files)
}

type timeoutRecorder struct {
	got time.Duration
}

func (r *timeoutRecorder) Get(context.Context, fetcher.Request) (*fetcher.Response, error) {
	return nil, errors.New("not used")
}

func (r *timeoutRecorder) Download(_ context.Context, req fetcher.Request) (io.ReadCloser, error) {
	r.got = req.Timeout
	return io.NopCloser(strings.NewReader("%PDF")), nil
}

func TestFetchAndStore_Timeout(t *testing.T) {
	blobs, err := blob.NewFS(t.TempDir())
	require.NoError(t, err)

	rec := &timeoutRecorder{}
	svc := New(rec, blobs, &memRepo{}, Options{Timeout: 90 * time.Second})
	_, err = svc.FetchAndStore(context.Background(), "https://example.com/a.pdf", "", nil)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, rec.got)

	svc = New(rec, blobs, &memRepo{}, Options{})
	_, err = svc.FetchAndStore(context.Background(), "https://example.com/a.pdf", "", nil)
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, rec.got)
}

func TestFetchAndStore_RepoFailureRemovesBlob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "%PDF") //nolint:errcheck
	}))
	defer srv.Close()

	repo := &memRepo{err: errors.New("db down")}
	svc, _ := newTestService(t, repo)
	root := t.TempDir()
	blobs, err := blob.NewFS(root)
	require.NoError(t, err)
	svc.blobs = blobs

	_, err = svc.FetchAndStore(context.Background(), srv.URL+"/a.pdf", "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")

	var files int
	require.NoError(t, filepath.WalkDir(root, func(_ string, d fs.DirEntry, err error) error {
		if err == nil && !d.IsDir() {
			files++
		}
		return err
	}))
	assert.Zero(t, files)
}

func TestUpload(t *testing.T) {
	repo := &memRepo{}
	svc, _ := newTestService(t, repo)

	doc, err := svc.Upload(context.Background(), `C:\scans\popis`, strings.NewReader("%PDF"))
	require.NoError(t, err)
	assert.Equal(t, "popis.pdf", doc.OriginalFilename)
	assert.Empty(t, doc.SourceURL)
	assert.Equal(t, model.DocumentStatusPending, doc.Status)

	_, err = svc.Upload(context.Background(), "  ", strings.NewReader("%PDF"))
	assert.True(t, errors.Is(err, model.ErrInvalidInput))
}

func TestLocalCopy(t *testing.T) {
	repo := &memRepo{}
	svc, _ := newTestService(t, repo)

	doc, err := svc.Upload(context.Background(), "a.pdf", strings.NewReader("%PDF-local"))
	require.NoError(t, err)

	p, cleanup, err := svc.LocalCopy(context.Background(), doc)
	require.NoError(t, err)
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-local", string(data))

	cleanup()
	_, err = os.Stat(p)
	assert.True(t, os.IsNotExist(err))
}

func TestLocalCopy_MissingBlob(t *testing.T) {
	svc, _ := newTestService(t, &memRepo{})
	_, _, err := svc.LocalCopy(context.Background(), &model.Document{ID: "x", FileKey: "nope/x.pdf"})
	assert.True(t, errors.Is(err, model.ErrNotFound))
}
