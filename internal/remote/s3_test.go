package remote

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"research-rag/internal/models"
	"research-rag/internal/testutil"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	ctx := context.Background()
	files := map[string]string{
		"00000000.gob":          "collection metadata",
		"abcd1234/1111.gob":     "doc one",
		"abcd1234/2222.gob":     "doc two",
		"abcd1234/3333.gob":     "doc three",
		"abcd1234/nested/x.gob": "deep",
	}
	src := t.TempDir()
	writeTree(t, src, files)

	bucket := testutil.NewFakeS3()
	s := NewSyncer(bucket, "bkt", "/vectorstore/")

	n, err := s.Upload(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, len(files), n)
	assert.Contains(t, bucket.Keys(), "vectorstore/abcd1234/nested/x.gob")

	dst := t.TempDir()
	n, err = s.Download(ctx, dst)
	require.NoError(t, err)
	assert.Equal(t, len(files), n)
	assert.Equal(t, files, readTree(t, dst))
}

func TestUploadRemovesStaleObjects(t *testing.T) {
	ctx := context.Background()
	bucket := testutil.NewFakeS3()
	bucket.Seed("vectorstore/old/stale.gob", []byte("stale"))
	bucket.Seed("other/keep.gob", []byte("outside prefix"))

	src := t.TempDir()
	writeTree(t, src, map[string]string{"new.gob": "fresh"})

	_, err := NewSyncer(bucket, "bkt", "vectorstore").Upload(ctx, src)
	require.NoError(t, err)
	assert.Equal(t, []string{"other/keep.gob", "vectorstore/new.gob"}, bucket.Keys())
	assert.Equal(t, 1, bucket.Deletes)
}

func TestDownloadEmptyPrefix(t *testing.T) {
	bucket := testutil.NewFakeS3()
	bucket.Seed("elsewhere/a.gob", []byte("x"))

	_, err := NewSyncer(bucket, "bkt", "vectorstore").Download(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestTransportErrors(t *testing.T) {
	bucket := testutil.NewFakeS3()
	bucket.Err = errors.New("connection refused")
	s := NewSyncer(bucket, "bkt", "vectorstore")

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.gob": "a"})

	var rte *models.RemoteTransportError
	_, err := s.Upload(context.Background(), src)
	require.ErrorAs(t, err, &rte)

	_, err = s.Download(context.Background(), t.TempDir())
	require.ErrorAs(t, err, &rte)
	assert.ErrorContains(t, err, "connection refused")
}

func TestListPaginates(t *testing.T) {
	bucket := testutil.NewFakeS3()
	bucket.PageSize = 1
	for _, k := range []string{"p/c", "p/a", "p/b"} {
		bucket.Seed(k, []byte(k))
	}

	keys, err := NewSyncer(bucket, "bkt", "p").List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"p/a", "p/b", "p/c"}, keys)
}

func TestDownloadRejectsEscapingKeys(t *testing.T) {
	bucket := testutil.NewFakeS3()
	bucket.Seed("p/../../etc/passwd", []byte("x"))

	_, err := NewSyncer(bucket, "bkt", "p").Download(context.Background(), t.TempDir())
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSafeJoin(t *testing.T) {
	root := filepath.FromSlash("/tmp/root")
	got, err := safeJoin(root, "a/b.gob")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "a", "b.gob"), got)

	for _, bad := range []string{"", "..", "../x", "a/../../x", "/abs"} {
		_, err := safeJoin(root, bad)
		assert.Error(t, err, bad)
	}
}
