// Package blob stores downloaded document bytes on the local filesystem, S3
// or Google Cloud Storage.
package blob

import (
	"context"
	"io"
	"path"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/registry-sync/internal/config"
	"github.com/sells-group/registry-sync/internal/model"
)

// Store persists opaque blobs under string keys.
type Store interface {
	// Put writes r under key and returns the number of bytes stored.
	Put(ctx context.Context, key string, r io.Reader, contentType string) (int64, error)
	// Open returns a reader for key. Missing keys return an error wrapping model.ErrNotFound.
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// New creates a Store for the configured backend.
func New(ctx context.Context, cfg config.BlobConfig) (Store, error) {
	switch cfg.Backend {
	case "fs", "":
		return NewFS(cfg.Dir)
	case "s3":
		return NewS3(ctx, cfg)
	case "gcs":
		return NewGCS(ctx, cfg)
	default:
		return nil, eris.Errorf("blob: unknown backend %q", cfg.Backend)
	}
}

// Key builds an object key from prefix, a unique id and the filename.
func Key(prefix, id, filename string) string {
	return strings.TrimPrefix(path.Join(prefix, id, path.Base(filename)), "/")
}

func validKey(key string) error {
	if key == "" || strings.HasPrefix(key, "/") || strings.Contains(key, "..") {
		return eris.Wrapf(model.ErrInvalidInput, "blob: invalid key %q", key)
	}
	return nil
}
