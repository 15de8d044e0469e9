package blob

import (
	"context"
	"errors"
	"io"

	"cloud.google.com/go/storage"
	"github.com/rotisserie/eris"
	"google.golang.org/api/option"

	"github.com/sells-group/registry-sync/internal/config"
	"github.com/sells-group/registry-sync/internal/model"
	"github.com/sells-group/registry-sync/internal/resilience"
)

// GCSStore keeps blobs in a Google Cloud Storage bucket.
type GCSStore struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a storage client using application default credentials, or
// an unauthenticated client against cfg.Endpoint (fake-gcs-server).
func NewGCS(ctx context.Context, cfg config.BlobConfig) (*GCSStore, error) {
	if cfg.Bucket == "" {
		return nil, eris.New("blob: gcs bucket is required")
	}
	var opts []option.ClientOption
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint), option.WithoutAuthentication())
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, eris.Wrap(err, "blob: create gcs client")
	}
	return &GCSStore{client: client, bucket: cfg.Bucket}, nil
}

// Put streams r into the object. The writer commits on Close.
func (s *GCSStore) Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error) {
	if err := validKey(key); err != nil {
		return 0, err
	}
	w := s.client.Bucket(s.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	n, err := io.Copy(w, r)
	if err != nil {
		w.Close() //nolint:errcheck
		return n, eris.Wrapf(err, "blob: gcs write %s", key)
	}
	if err := w.Close(); err != nil {
		return n, eris.Wrapf(err, "blob: gcs commit %s", key)
	}
	return n, nil
}

// Open returns a reader for the object.
func (s *GCSStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	r, err := s.client.Bucket(s.bucket).Object(key).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, eris.Wrapf(model.ErrNotFound, "blob: gcs %s/%s", s.bucket, key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "blob: gcs read %s", key)
	}
	return r, nil
}

// Delete removes the object, retrying transient failures.
func (s *GCSStore) Delete(ctx context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	cfg := resilience.DefaultRetryConfig()
	cfg.OnRetry = resilience.RetryLogger("blob", "gcs_delete")
	err := resilience.Do(ctx, cfg, func(ctx context.Context) error {
		err := s.client.Bucket(s.bucket).Object(key).Delete(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return err
	})
	return eris.Wrapf(err, "blob: gcs delete %s", key)
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}
