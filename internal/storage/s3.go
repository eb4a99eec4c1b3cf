package storage

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"golang.org/x/sync/errgroup"
)

type S3FileSystem struct {
	client      *s3.Client
	downloader  *manager.Downloader
	uploader    *manager.Uploader
	concurrency int
}

var _ FileSystem = (*S3FileSystem)(nil)

func NewS3FileSystem(ctx context.Context, opts S3Options) (*S3FileSystem, error) {
	client, err := initializeS3Client(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize s3 client: %w", err)
	}

	return &S3FileSystem{
		client:      client,
		downloader:  manager.NewDownloader(client),
		uploader:    manager.NewUploader(client),
		concurrency: opts.concurrency(),
	}, nil
}

func isS3NotFound(err error) bool {
	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	return errors.As(err, &notFound) || errors.As(err, &noSuchKey) || errors.As(err, &noSuchBucket)
}

func (s *S3FileSystem) iterKeys(ctx context.Context, bucket, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
			Bucket: aws.String(bucket),
			Prefix: aws.String(prefix),
		})

		for paginator.HasMorePages() {
			page, err := paginator.NextPage(ctx)
			if err != nil {
				yield("", fmt.Errorf("failed to list objects in bucket %s with prefix %s: %w", bucket, prefix, err))
				return
			}

			for _, obj := range page.Contents {
				if !yield(aws.ToString(obj.Key), nil) {
					return
				}
			}
		}
	}
}

func (s *S3FileSystem) objectExists(ctx context.Context, bucket, key string) (bool, error) {
	if key == "" {
		return false, nil
	}
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to check object s3://%s/%s: %w", bucket, key, err)
}

func (s *S3FileSystem) bucketExists(ctx context.Context, bucket string) (bool, error) {
	_, err := s.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(bucket)})
	if err == nil {
		return true, nil
	}
	if isS3NotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("failed to verify access to s3://%s: %w", bucket, err)
}

func (s *S3FileSystem) Exists(ctx context.Context, path string) (bool, error) {
	bucket, key, err := splitBucketKey(path)
	if err != nil {
		return false, err
	}

	if key == "" {
		return s.bucketExists(ctx, bucket)
	}

	if exists, err := s.objectExists(ctx, bucket, key); err != nil || exists {
		return exists, err
	}

	for _, err := range s.iterKeys(ctx, bucket, dirPrefix(key)) {
		if err != nil {
			if isS3NotFound(err) {
				return false, nil
			}
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (s *S3FileSystem) downloadObject(ctx context.Context, bucket, key, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for download %s: %w", filepath.Dir(filename), err)
	}
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", filename, err)
	}
	defer file.Close()

	_, err = s.downloader.Download(ctx, file, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to download object s3://%s/%s to %s: %w", bucket, key, filename, err)
	}
	slog.Debug("object downloaded", "bucket", bucket, "key", key)

	return nil
}

func (s *S3FileSystem) Get(ctx context.Context, remotePath, dest string) error {
	bucket, key, err := splitBucketKey(remotePath)
	if err != nil {
		return err
	}

	isFile, err := s.objectExists(ctx, bucket, key)
	if err != nil {
		return err
	}
	if isFile {
		return s.downloadObject(ctx, bucket, key, dest)
	}

	prefix := dirPrefix(key)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	found := false
	for objKey, err := range s.iterKeys(ctx, bucket, prefix) {
		if err != nil {
			_ = g.Wait()
			return err
		}
		if strings.HasSuffix(objKey, "/") {
			continue
		}
		found = true
		local := filepath.Join(dest, filepath.FromSlash(strings.TrimPrefix(objKey, prefix)))
		g.Go(func() error {
			return s.downloadObject(gctx, bucket, objKey, local)
		})
	}

	if err := g.Wait(); err != nil {
		return fmt.Errorf("error downloading %s to %s: %w", remotePath, dest, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, remotePath)
	}

	slog.Info("downloaded remote directory", "src", remotePath, "dest", dest)
	return nil
}

func (s *S3FileSystem) putObject(ctx context.Context, bucket, key, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filename, err)
	}
	defer file.Close()

	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("failed to upload %s to s3://%s/%s: %w", filename, bucket, key, err)
	}
	slog.Debug("object uploaded", "bucket", bucket, "key", key)

	return nil
}

// deletePrefix removes the object at key and everything below key/.
func (s *S3FileSystem) deletePrefix(ctx context.Context, bucket, key string) error {
	if key != "" {
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil && !isS3NotFound(err) {
			return fmt.Errorf("failed to delete s3://%s/%s: %w", bucket, key, err)
		}
	}

	for objKey, err := range s.iterKeys(ctx, bucket, dirPrefix(key)) {
		if err != nil {
			return err
		}
		if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(objKey),
		}); err != nil {
			return fmt.Errorf("failed to delete s3://%s/%s: %w", bucket, objKey, err)
		}
	}

	return nil
}

func (s *S3FileSystem) Put(ctx context.Context, src, remotePath string) error {
	bucket, key, err := splitBucketKey(remotePath)
	if err != nil {
		return err
	}

	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, src)
		}
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	if err := s.deletePrefix(ctx, bucket, key); err != nil {
		return fmt.Errorf("failed to clear existing copy at %s: %w", remotePath, err)
	}

	if !info.IsDir() {
		return s.putObject(ctx, bucket, key, src)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	err = filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk directory %s: %w", src, err)
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		objKey := joinKey(key, filepath.ToSlash(rel))
		g.Go(func() error {
			return s.putObject(gctx, bucket, objKey, path)
		})
		return nil
	})
	if waitErr := g.Wait(); err == nil {
		err = waitErr
	}
	if err != nil {
		return fmt.Errorf("error uploading %s to %s: %w", src, remotePath, err)
	}

	slog.Info("uploaded directory", "src", src, "dest", remotePath)
	return nil
}

// MakeDirs creates the bucket if needed. Prefixes need no creation in S3.
func (s *S3FileSystem) MakeDirs(ctx context.Context, path string) error {
	bucket, _, err := splitBucketKey(path)
	if err != nil {
		return err
	}

	exists, err := s.bucketExists(ctx, bucket)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	_, err = s.client.CreateBucket(ctx, &s3.CreateBucketInput{
		Bucket: aws.String(bucket),
	})
	if err != nil {
		var existErr *types.BucketAlreadyExists
		var ownedErr *types.BucketAlreadyOwnedByYou
		if errors.As(err, &existErr) || errors.As(err, &ownedErr) {
			return nil
		}
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}

	slog.Info("bucket created", "bucket", bucket)
	return nil
}
