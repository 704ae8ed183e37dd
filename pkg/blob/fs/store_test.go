package fs

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/dicomgw/pkg/blob"
	"github.com/marmos91/dicomgw/pkg/errkind"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(Config{Root: filepath.Join(t.TempDir(), "bucket"), CreateDir: true})
	require.NoError(t, err)
	return s
}

func TestUploadDownload(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	dir := t.TempDir()

	src := filepath.Join(dir, "a.dcm")
	require.NoError(t, os.WriteFile(src, []byte("object"), 0644))
	require.NoError(t, s.Upload(ctx, "edge/A1/1.2.dcm", src))

	_, err := os.Stat(filepath.Join(s.Name(), "edge", "A1", "1.2.dcm"))
	require.NoError(t, err)

	dst := filepath.Join(dir, "b.dcm")
	require.NoError(t, s.Download(ctx, "edge/A1/1.2.dcm", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, "object", string(data))
}

func TestDownloadMissing(t *testing.T) {
	s := newStore(t)
	err := s.Download(context.Background(), "nope.dcm", filepath.Join(t.TempDir(), "x"))
	assert.ErrorIs(t, err, blob.ErrNotFound)
	assert.Equal(t, errkind.FatalToJob, errkind.KindOf(err))
}

func TestUploadMissingSource(t *testing.T) {
	s := newStore(t)
	err := s.Upload(context.Background(), "k.dcm", filepath.Join(t.TempDir(), "absent"))
	require.Error(t, err)
	assert.Equal(t, errkind.FatalToJob, errkind.KindOf(err))
}

func TestKeyCannotEscapeRoot(t *testing.T) {
	s := newStore(t)
	p, err := s.resolve("../../etc/passwd")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.Name(), "etc", "passwd"), p)
}

func TestNewRejectsMissingRoot(t *testing.T) {
	_, err := New(Config{Root: filepath.Join(t.TempDir(), "absent")})
	assert.Error(t, err)

	_, err = New(Config{})
	assert.Error(t, err)
}

func TestClosed(t *testing.T) {
	s := newStore(t)
	require.NoError(t, s.HealthCheck(context.Background()))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.HealthCheck(context.Background()), blob.ErrStoreClosed)
}
