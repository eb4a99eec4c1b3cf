package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/go-viper/mapstructure/v2"
)

var ErrNotFound = errors.New("path not found")

// FileSystem is the minimal remote filesystem capability used to mirror
// checkpoints. Paths are full urls for remote implementations (s3://bucket/key)
// and plain paths for the local one. Get and Put copy single files or whole
// directory trees.
type FileSystem interface {
	Exists(ctx context.Context, path string) (bool, error)

	Get(ctx context.Context, remotePath, localPath string) error

	Put(ctx context.Context, localPath, remotePath string) error

	MakeDirs(ctx context.Context, path string) error
}

const (
	ProtocolFile = "file"
	ProtocolS3   = "s3"
	ProtocolGCS  = "gs"
)

// Protocol returns the protocol prefix of path, or "file" when there is none.
func Protocol(p string) string {
	if proto, _, ok := strings.Cut(p, "://"); ok {
		return proto
	}
	return ProtocolFile
}

// Resolve returns the filesystem serving path. Paths without a protocol prefix
// resolve to the local disk.
func Resolve(ctx context.Context, p string, options map[string]any) (FileSystem, error) {
	switch proto := Protocol(p); proto {
	case ProtocolFile:
		return NewLocalFileSystem(), nil
	case ProtocolS3, "s3a":
		var opts S3Options
		if err := decodeOptions(options, &opts); err != nil {
			return nil, fmt.Errorf("invalid s3 storage options: %w", err)
		}
		return NewS3FileSystem(ctx, opts)
	case ProtocolGCS, "gcs":
		var opts GCSOptions
		if err := decodeOptions(options, &opts); err != nil {
			return nil, fmt.Errorf("invalid gcs storage options: %w", err)
		}
		return NewGCSFileSystem(ctx, opts)
	default:
		return nil, fmt.Errorf("unsupported storage protocol '%s' in path %s", proto, p)
	}
}

func decodeOptions(options map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
	})
	if err != nil {
		return err
	}
	return decoder.Decode(options)
}

// splitBucketKey splits s3://bucket/some/key into its bucket and key.
func splitBucketKey(url string) (string, string, error) {
	_, rest, ok := strings.Cut(url, "://")
	if !ok {
		rest = url
	}
	bucket, key, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", fmt.Errorf("missing bucket in path %s", url)
	}
	return bucket, strings.TrimSuffix(key, "/"), nil
}

// dirPrefix returns the listing prefix for the directory at key.
func dirPrefix(key string) string {
	if key == "" {
		return ""
	}
	return strings.TrimSuffix(key, "/") + "/"
}

func joinKey(prefix, rel string) string {
	return path.Join(prefix, strings.TrimPrefix(rel, "/"))
}
