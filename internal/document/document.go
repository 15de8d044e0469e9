// Package document downloads source documents and stores them as Document
// entities backed by a blob store.
package document

import (
	"context"
	"errors"
	"io"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/registry-sync/internal/blob"
	"github.com/sells-group/registry-sync/internal/fetcher"
	"github.com/sells-group/registry-sync/internal/model"
)

// DefaultTimeout bounds a document download.
const DefaultTimeout = 30 * time.Second

const pdfContentType = "application/pdf"

// Repository persists Document rows.
type Repository interface {
	CreateDocument(ctx context.Context, doc *model.Document) error
}

// Options tunes a Service.
type Options struct {
	// Prefix is prepended to every blob key.
	Prefix  string
	Timeout time.Duration
}

// Service downloads documents and records them.
type Service struct {
	fetcher fetcher.Fetcher
	blobs   blob.Store
	repo    Repository
	opts    Options
	now     func() time.Time
}

// New creates a Service.
func New(f fetcher.Fetcher, blobs blob.Store, repo Repository, opts Options) *Service {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	return &Service{
		fetcher: f,
		blobs:   blobs,
		repo:    repo,
		opts:    opts,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// FetchAndStore downloads docURL and persists it as a PENDING Document that
// records both the document URL and the page it was found on.
func (s *Service) FetchAndStore(ctx context.Context, docURL, pageURL string, headers map[string]string) (*model.Document, error) {
	log := zap.L().With(zap.String("component", "document"), zap.String("url", docURL))

	body, err := s.fetcher.Download(ctx, fetcher.Request{
		URL:     docURL,
		Headers: headers,
		Timeout: s.opts.Timeout,
	})
	if err != nil {
		return nil, eris.Wrapf(model.ErrDownload, "document: GET %s: %v", docURL, err)
	}
	defer body.Close() //nolint:errcheck

	doc, err := s.store(ctx, Filename(docURL), body, func(d *model.Document) {
		d.SourceURL = docURL
		d.ScrapedURL = pageURL
	})
	if err != nil {
		return nil, err
	}

	log.Info("document stored",
		zap.String("document_id", doc.ID),
		zap.String("filename", doc.OriginalFilename),
		zap.Int64("size", doc.Size),
	)
	return doc, nil
}

// Upload stores r as a new PENDING Document without source URLs.
func (s *Service) Upload(ctx context.Context, filename string, r io.Reader) (*model.Document, error) {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), "\\", "/"))
	if name == "" || name == "." || name == "/" {
		return nil, eris.Wrap(model.ErrInvalidInput, "document: upload needs a filename")
	}
	doc, err := s.store(ctx, ensurePDF(name), r, nil)
	if err != nil {
		return nil, err
	}
	zap.L().Info("document uploaded",
		zap.String("component", "document"),
		zap.String("document_id", doc.ID),
		zap.String("filename", doc.OriginalFilename),
	)
	return doc, nil
}

func (s *Service) store(ctx context.Context, filename string, r io.Reader, decorate func(*model.Document)) (*model.Document, error) {
	id := uuid.NewString()
	key := blob.Key(s.opts.Prefix, id, filename)

	n, err := s.blobs.Put(ctx, key, r, pdfContentType)
	if err != nil {
		if errors.Is(err, model.ErrInvalidInput) {
			return nil, err
		}
		return nil, eris.Wrapf(model.ErrDownload, "document: store %s: %v", filename, err)
	}

	now := s.now()
	doc := &model.Document{
		ID:               id,
		FileKey:          key,
		OriginalFilename: filename,
		Status:           model.DocumentStatusPending,
		Size:             n,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if decorate != nil {
		decorate(doc)
	}

	if err := s.repo.CreateDocument(ctx, doc); err != nil {
		if derr := s.blobs.Delete(ctx, key); derr != nil {
			zap.L().Warn("document: orphaned blob", zap.String("key", key), zap.Error(derr))
		}
		return nil, eris.Wrap(err, "document: create")
	}
	return doc, nil
}

// Open streams the stored bytes of doc.
func (s *Service) Open(ctx context.Context, doc *model.Document) (io.ReadCloser, error) {
	rc, err := s.blobs.Open(ctx, doc.FileKey)
	return rc, eris.Wrapf(err, "document: open %s", doc.ID)
}

// LocalCopy materializes doc as a temporary file for tools that need a path.
// The returned cleanup removes it.
func (s *Service) LocalCopy(ctx context.Context, doc *model.Document) (string, func(), error) {
	rc, err := s.Open(ctx, doc)
	if err != nil {
		return "", nil, err
	}
	defer rc.Close() //nolint:errcheck

	f, err := os.CreateTemp("", "document-*.pdf")
	if err != nil {
		return "", nil, eris.Wrap(err, "document: create temp file")
	}
	cleanup := func() { os.Remove(f.Name()) } //nolint:errcheck

	if _, err := io.Copy(f, rc); err != nil {
		f.Close() //nolint:errcheck
		cleanup()
		return "", nil, eris.Wrapf(err, "document: copy %s", doc.ID)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, eris.Wrapf(err, "document: close temp for %s", doc.ID)
	}
	return f.Name(), cleanup, nil
}

// Filename derives a stored filename from the last path segment of rawURL,
// ignoring any query string, with ".pdf" appended when missing.
func Filename(rawURL string) string {
	segment := rawURL
	if u, err := url.Parse(rawURL); err == nil {
		segment = u.Path
	} else if i := strings.IndexAny(segment, "?#"); i >= 0 {
		segment = segment[:i]
	}
	name := segment
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if name == "" {
		name = "document"
	}
	return ensurePDF(name)
}

func ensurePDF(name string) string {
	if strings.HasSuffix(strings.ToLower(name), ".pdf") {
		return name
	}
	return name + ".pdf"
}
