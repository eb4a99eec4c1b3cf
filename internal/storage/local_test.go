package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		path := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), os.ModePerm))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	files := map[string]string{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	require.NoError(t, err)
	return files
}

func TestResolve(t *testing.T) {
	ctx := context.Background()

	fs, err := Resolve(ctx, "/tmp/output", nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalFileSystem{}, fs)

	fs, err = Resolve(ctx, "file:///tmp/output", nil)
	require.NoError(t, err)
	assert.IsType(t, &LocalFileSystem{}, fs)

	_, err = Resolve(ctx, "ftp://host/path", nil)
	require.ErrorContains(t, err, "unsupported storage protocol 'ftp'")

	_, err = Resolve(ctx, "s3://bucket/prefix", map[string]any{"anon": true, "bogus": 1})
	require.ErrorContains(t, err, "bogus")
}

func TestSplitBucketKey(t *testing.T) {
	bucket, key, err := splitBucketKey("s3://models/runs/emotions/")
	require.NoError(t, err)
	assert.Equal(t, "models", bucket)
	assert.Equal(t, "runs/emotions", key)

	bucket, key, err = splitBucketKey("gs://models")
	require.NoError(t, err)
	assert.Equal(t, "models", bucket)
	assert.Equal(t, "", key)

	_, _, err = splitBucketKey("s3:///key")
	require.Error(t, err)
}

func TestLocalFileSystemPutMirrorsTree(t *testing.T) {
	ctx := context.Background()
	fs := NewLocalFileSystem()

	src := filepath.Join(t.TempDir(), "checkpoint-10")
	writeTree(t, src, map[string]string{
		"model.json":         `{"weights":[1,2,3]}`,
		"trainer_state.json": `{"global_step":10}`,
		"tokenizer/vocab":    "a\nb\n",
	})

	remote := filepath.Join(t.TempDir(), "remote")
	require.NoError(t, fs.MakeDirs(ctx, remote))
	require.NoError(t, fs.MakeDirs(ctx, remote))

	dest := filepath.Join(remote, "checkpoint-10")
	writeTree(t, dest, map[string]string{"stale.bin": "old"})

	require.NoError(t, fs.Put(ctx, src, dest))
	assert.Equal(t, readTree(t, src), readTree(t, dest))

	exists, err := fs.Exists(ctx, dest)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = fs.Exists(ctx, filepath.Join(remote, "checkpoint-20"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestLocalFileSystemGet(t *testing.T) {
	ctx := context.Background()
	fs := NewLocalFileSystem()

	remote := t.TempDir()
	writeTree(t, remote, map[string]string{
		"checkpoint-5/model.json":  "weights",
		"checkpoint-5/config.json": "{}",
	})

	dest := filepath.Join(t.TempDir(), "checkpoint-5")
	require.NoError(t, fs.Get(ctx, "file://"+filepath.Join(remote, "checkpoint-5"), dest))
	assert.Equal(t, map[string]string{"model.json": "weights", "config.json": "{}"}, readTree(t, dest))

	file := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, fs.Get(ctx, filepath.Join(remote, "checkpoint-5", "model.json"), file))
	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.Equal(t, "weights", string(data))

	err = fs.Get(ctx, filepath.Join(remote, "missing"), dest)
	require.ErrorIs(t, err, ErrNotFound)
}
