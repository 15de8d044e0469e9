package blob

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"

	"github.com/sells-group/registry-sync/internal/model"
)

// FSStore keeps blobs as files under a root directory.
type FSStore struct {
	root string
}

// NewFS creates the root directory if needed.
func NewFS(root string) (*FSStore, error) {
	if root == "" {
		return nil, eris.New("blob: fs root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, eris.Wrapf(err, "blob: create %s", root)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

// Put writes to a temp file and renames it into place so readers never see
// a partial blob.
func (s *FSStore) Put(_ context.Context, key string, r io.Reader, _ string) (int64, error) {
	if err := validKey(key); err != nil {
		return 0, err
	}
	dst := s.path(key)
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return 0, eris.Wrapf(err, "blob: mkdir for %s", key)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return 0, eris.Wrapf(err, "blob: create temp for %s", key)
	}
	defer os.Remove(tmp.Name()) //nolint:errcheck

	n, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close() //nolint:errcheck
		return n, eris.Wrapf(err, "blob: write %s", key)
	}
	if err := tmp.Close(); err != nil {
		return n, eris.Wrapf(err, "blob: close %s", key)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return n, eris.Wrapf(err, "blob: rename %s", key)
	}
	return n, nil
}

// Open returns the file for key.
func (s *FSStore) Open(_ context.Context, key string) (io.ReadCloser, error) {
	if err := validKey(key); err != nil {
		return nil, err
	}
	f, err := os.Open(s.path(key))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, eris.Wrapf(model.ErrNotFound, "blob: %s", key)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "blob: open %s", key)
	}
	return f, nil
}

// Delete removes key. Missing keys are not an error.
func (s *FSStore) Delete(_ context.Context, key string) error {
	if err := validKey(key); err != nil {
		return err
	}
	if err := os.Remove(s.path(key)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return eris.Wrapf(err, "blob: delete %s", key)
	}
	return nil
}
