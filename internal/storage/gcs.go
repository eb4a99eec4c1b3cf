package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/auth/credentials"
	"cloud.google.com/go/storage"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// GCSOptions are the storage options accepted for gs:// paths. Token is the
// path of a service account credentials file.
type GCSOptions struct {
	Project        string `mapstructure:"project"`
	Token          string `mapstructure:"token"`
	Anon           bool   `mapstructure:"anon"`
	MaxConcurrency int    `mapstructure:"max_concurrency"`
}

type GCSFileSystem struct {
	client      *storage.Client
	project     string
	concurrency int
}

var _ FileSystem = (*GCSFileSystem)(nil)

func NewGCSFileSystem(ctx context.Context, opts GCSOptions) (*GCSFileSystem, error) {
	var clientOpts []option.ClientOption
	if opts.Anon {
		clientOpts = append(clientOpts, option.WithoutAuthentication())
	} else {
		creds, err := credentials.DetectDefault(&credentials.DetectOptions{
			Scopes: []string{
				storage.ScopeFullControl,
				storage.ScopeReadWrite,
			},
			CredentialsFile: opts.Token,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to get credentials for storage: %w", err)
		}
		clientOpts = append(clientOpts, option.WithAuthCredentials(creds))
	}

	client, err := storage.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}

	concurrency := opts.MaxConcurrency
	if concurrency <= 0 {
		concurrency = defaultMaxConcurrency
	}

	return &GCSFileSystem{client: client, project: opts.Project, concurrency: concurrency}, nil
}

func (g *GCSFileSystem) Close() error {
	return g.client.Close()
}

func (g *GCSFileSystem) iterNames(ctx context.Context, bucket, prefix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		it := g.client.Bucket(bucket).Objects(ctx, &storage.Query{Prefix: prefix})
		for {
			attrs, err := it.Next()
			if errors.Is(err, iterator.Done) {
				return
			}
			if err != nil {
				yield("", fmt.Errorf("failed to list gs://%s/%s: %w", bucket, prefix, err))
				return
			}
			if !yield(attrs.Name, nil) {
				return
			}
		}
	}
}

func (g *GCSFileSystem) objectExists(ctx context.Context, bucket, name string) (bool, error) {
	if name == "" {
		return false, nil
	}
	_, err := g.client.Bucket(bucket).Object(name).Attrs(ctx)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat gs://%s/%s: %w", bucket, name, err)
}

func (g *GCSFileSystem) Exists(ctx context.Context, path string) (bool, error) {
	bucket, name, err := splitBucketKey(path)
	if err != nil {
		return false, err
	}

	if name == "" {
		_, err := g.client.Bucket(bucket).Attrs(ctx)
		if errors.Is(err, storage.ErrBucketNotExist) {
			return false, nil
		}
		return err == nil, err
	}

	if exists, err := g.objectExists(ctx, bucket, name); err != nil || exists {
		return exists, err
	}

	for _, err := range g.iterNames(ctx, bucket, dirPrefix(name)) {
		return err == nil, err
	}
	return false, nil
}

func (g *GCSFileSystem) download(ctx context.Context, bucket, name, filename string) error {
	if err := os.MkdirAll(filepath.Dir(filename), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", filename, err)
	}

	r, err := g.client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("failed to open gs://%s/%s: %w", bucket, name, err)
	}
	defer r.Close()

	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", filename, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, r); err != nil {
		return fmt.Errorf("failed to download gs://%s/%s: %w", bucket, name, err)
	}
	return file.Close()
}

func (g *GCSFileSystem) Get(ctx context.Context, remotePath, dest string) error {
	bucket, name, err := splitBucketKey(remotePath)
	if err != nil {
		return err
	}

	isFile, err := g.objectExists(ctx, bucket, name)
	if err != nil {
		return err
	}
	if isFile {
		return g.download(ctx, bucket, name, dest)
	}

	prefix := dirPrefix(name)
	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)

	found := false
	for objName, err := range g.iterNames(ctx, bucket, prefix) {
		if err != nil {
			_ = eg.Wait()
			return err
		}
		if strings.HasSuffix(objName, "/") {
			continue
		}
		found = true
		local := filepath.Join(dest, filepath.FromSlash(strings.TrimPrefix(objName, prefix)))
		eg.Go(func() error {
			return g.download(egctx, bucket, objName, local)
		})
	}

	if err := eg.Wait(); err != nil {
		return fmt.Errorf("failed to download %s to %s: %w", remotePath, dest, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, remotePath)
	}
	return nil
}

func (g *GCSFileSystem) upload(ctx context.Context, bucket, name, filename string) error {
	file, err := os.Open(filename)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", filename, err)
	}
	defer file.Close()

	w := g.client.Bucket(bucket).Object(name).NewWriter(ctx)
	if _, err := io.Copy(w, file); err != nil {
		_ = w.Close()
		return fmt.Errorf("failed to upload %s to gs://%s/%s: %w", filename, bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to upload %s to gs://%s/%s: %w", filename, bucket, name, err)
	}
	return nil
}

func (g *GCSFileSystem) deletePrefix(ctx context.Context, bucket, name string) error {
	if name != "" {
		err := g.client.Bucket(bucket).Object(name).Delete(ctx)
		if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("failed to delete gs://%s/%s: %w", bucket, name, err)
		}
	}

	for objName, err := range g.iterNames(ctx, bucket, dirPrefix(name)) {
		if err != nil {
			return err
		}
		if err := g.client.Bucket(bucket).Object(objName).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("failed to delete gs://%s/%s: %w", bucket, objName, err)
		}
	}
	return nil
}

func (g *GCSFileSystem) Put(ctx context.Context, src, remotePath string) error {
	bucket, name, err := splitBucketKey(remotePath)
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

	if err := g.deletePrefix(ctx, bucket, name); err != nil {
		return fmt.Errorf("failed to clear existing copy at %s: %w", remotePath, err)
	}

	if !info.IsDir() {
		return g.upload(ctx, bucket, name, src)
	}

	eg, egctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.concurrency)

	err = filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		objName := joinKey(name, filepath.ToSlash(rel))
		eg.Go(func() error {
			return g.upload(egctx, bucket, objName, path)
		})
		return nil
	})
	if waitErr := eg.Wait(); err == nil {
		err = waitErr
	}
	if err != nil {
		return fmt.Errorf("failed to upload %s to %s: %w", src, remotePath, err)
	}

	slog.Info("uploaded directory", "src", src, "dest", remotePath)
	return nil
}

// MakeDirs creates the bucket when it is missing. Creating a bucket needs the
// project option.
func (g *GCSFileSystem) MakeDirs(ctx context.Context, path string) error {
	bucket, _, err := splitBucketKey(path)
	if err != nil {
		return err
	}

	handle := g.client.Bucket(bucket)
	_, err = handle.Attrs(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, storage.ErrBucketNotExist) {
		return fmt.Errorf("failed to stat bucket %s: %w", bucket, err)
	}

	if g.project == "" {
		return fmt.Errorf("bucket %s does not exist and no project is configured to create it", bucket)
	}
	if err := handle.Create(ctx, g.project, nil); err != nil {
		return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
	}
	slog.Info("bucket created", "bucket", bucket)
	return nil
}
