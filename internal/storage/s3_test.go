package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/minio"
)

const (
	minioUsername = "admin"
	minioPassword = "password"
)

func setupMinioContainer(t *testing.T, ctx context.Context) string {
	minioContainer, err := minio.Run(
		ctx,
		"minio/minio:RELEASE.2024-01-16T16-07-38Z",
		minio.WithUsername(minioUsername),
		minio.WithPassword(minioPassword),
	)
	require.NoError(t, err, "Failed to start MinIO container")

	t.Cleanup(func() {
		err := minioContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate MinIO container")
	})

	connStr, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err, "Failed to get MinIO connection string")

	return "http://" + connStr
}

func TestS3FileSystem(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping minio integration test in short mode")
	}

	ctx := context.Background()
	endpoint := setupMinioContainer(t, ctx)

	fs, err := Resolve(ctx, "s3://checkpoints/run", map[string]any{
		"key":    minioUsername,
		"secret": minioPassword,
		"client_kwargs": map[string]any{
			"endpoint_url": endpoint,
		},
		"max_concurrency": 2,
	})
	require.NoError(t, err)

	exists, err := fs.Exists(ctx, "s3://checkpoints")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, fs.MakeDirs(ctx, "s3://checkpoints/run"))
	require.NoError(t, fs.MakeDirs(ctx, "s3://checkpoints/run"))

	src := filepath.Join(t.TempDir(), "checkpoint-4")
	writeTree(t, src, map[string]string{
		"model.json":         `{"weights":[0.5]}`,
		"trainer_state.json": `{"global_step":4}`,
		"nested/extra.txt":   "extra",
	})

	remote := "s3://checkpoints/run/checkpoint-4"
	require.NoError(t, fs.Put(ctx, src, remote))

	// A second save of the same step replaces the previous copy entirely.
	require.NoError(t, os.Remove(filepath.Join(src, "nested", "extra.txt")))
	require.NoError(t, os.WriteFile(filepath.Join(src, "model.json"), []byte(`{"weights":[0.7]}`), 0o644))
	require.NoError(t, fs.Put(ctx, src, remote))

	exists, err = fs.Exists(ctx, remote)
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = fs.Exists(ctx, "s3://checkpoints/run/checkpoint-8")
	require.NoError(t, err)
	assert.False(t, exists)

	dest := filepath.Join(t.TempDir(), "checkpoint-4")
	require.NoError(t, fs.Get(ctx, remote, dest))
	assert.Equal(t, readTree(t, src), readTree(t, dest))

	err = fs.Get(ctx, "s3://checkpoints/run/checkpoint-8", dest)
	require.ErrorIs(t, err, ErrNotFound)
}
