package profile

import (
	"context"
	"io"
	"testing"

	"github.com/bosley/echo/blob"
	"github.com/bosley/echo/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) (*Service, *blob.FS) {
	t.Helper()
	blobs, err := blob.NewFS(t.TempDir(), "http://localhost:8080")
	require.NoError(t, err)
	repo, err := store.NewSQLiteRepository(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return NewService(blobs, repo), blobs
}

func TestUploadPictureReplaces(t *testing.T) {
	svc, blobs := newTestService(t)
	ctx := context.Background()

	url1, err := svc.UploadPicture(ctx, "u1", []byte("first"))
	require.NoError(t, err)
	url2, err := svc.UploadPicture(ctx, "u1", []byte("second"))
	require.NoError(t, err)
	assert.Equal(t, url1, url2)
	assert.Equal(t, "http://localhost:8080/o/profile_images%2Fu1.jpg?alt=media", url2)

	rc, err := blobs.Open(ctx, "profile_images/u1.jpg")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "second", string(data))
}

func TestUploadPictureEmpty(t *testing.T) {
	svc, _ := newTestService(t)
	_, err := svc.UploadPicture(context.Background(), "u1", nil)
	assert.ErrorIs(t, err, ErrEmptyImage)
}

func TestSaveAndGet(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	p, err := svc.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, p)

	_, err = svc.Save(ctx, "u1", "  ada ", "http://img")
	require.NoError(t, err)
	_, err = svc.Save(ctx, "u1", "ada", "")
	require.NoError(t, err)

	p, err = svc.Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "ada", p.Username)
	assert.Empty(t, p.ImageURL)

	_, err = svc.Save(ctx, "u1", "   ", "")
	assert.ErrorIs(t, err, ErrEmptyUsername)
}
