package blob

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/registry-sync/internal/config"
	"github.com/sells-group/registry-sync/internal/model"
)

func TestFSStore_PutOpenDelete(t *testing.T) {
	ctx := context.Background()
	s, err := NewFS(t.TempDir())
	require.NoError(t, err)

	key := Key("pdf_documents/", "abc", "popis.pdf")
	assert.Equal(t, "pdf_documents/abc/popis.pdf", key)

	n, err := s.Put(ctx, key, strings.NewReader("%PDF-1.4 body"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(13), n)

	rc, err := s.Open(ctx, key)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "%PDF-1.4 body", string(data))

	require.NoError(t, s.Delete(ctx, key))
	_, err = s.Open(ctx, key)
	assert.True(t, errors.Is(err, model.ErrNotFound))

	// Deleting twice is fine.
	assert.NoError(t, s.Delete(ctx, key))
}

func TestFSStore_PutOverwrites(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	s, err := NewFS(root)
	require.NoError(t, err)

	_, err = s.Put(ctx, "a/b.pdf", strings.NewReader("first"), "")
	require.NoError(t, err)
	_, err = s.Put(ctx, "a/b.pdf", strings.NewReader("second"), "")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(root, "a", "b.pdf"))
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))

	entries, err := os.ReadDir(filepath.Join(root, "a"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp files must not be left behind")
}

func TestFSStore_RejectsBadKeys(t *testing.T) {
	ctx := context.Background()
	s, err := NewFS(t.TempDir())
	require.NoError(t, err)

	for _, key := range []string{"", "/etc/passwd", "../escape.pdf", "a/../../b"} {
		_, err := s.Put(ctx, key, strings.NewReader("x"), "")
		assert.True(t, errors.Is(err, model.ErrInvalidInput), "key %q", key)
	}
}

func TestNewFS_RequiresRoot(t *testing.T) {
	_, err := NewFS("")
	assert.Error(t, err)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "id/file.pdf", Key("", "id", "file.pdf"))
	assert.Equal(t, "docs/id/file.pdf", Key("/docs/", "id", "nested/file.pdf"))
}

func TestNew_Backends(t *testing.T) {
	ctx := context.Background()

	s, err := New(ctx, config.BlobConfig{Backend: "fs", Dir: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &FSStore{}, s)

	_, err = New(ctx, config.BlobConfig{Backend: "ftp"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown backend")

	_, err = New(ctx, config.BlobConfig{Backend: "s3", Region: "us-east-1"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "s3 bucket is required")

	_, err = New(ctx, config.BlobConfig{Backend: "gcs"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gcs bucket is required")
}

func TestNewS3_CustomEndpoint(t *testing.T) {
	s, err := NewS3(context.Background(), config.BlobConfig{
		Bucket:    "documents",
		Region:    "us-east-1",
		Endpoint:  "http://localhost:9000",
		AccessKey: "minio",
		SecretKey: "minio123",
	})
	require.NoError(t, err)
	assert.Equal(t, "documents", s.bucket)
	assert.NotNil(t, s.uploader)
}

func TestCountingReader(t *testing.T) {
	c := &countingReader{r: strings.NewReader("hello world")}
	_, err := io.ReadAll(c)
	require.NoError(t, err)
	assert.Equal(t, int64(11), c.n)
}
