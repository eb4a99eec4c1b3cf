package datasets

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/rand/v2"
	"os"
	"path"
	"path/filepath"
	"strings"

	"textclf/internal/config"
	"textclf/internal/storage"
	"textclf/internal/utils"
)

type Loader struct {
	datasetsServerURL string
	tempDir           string
}

func NewLoader(datasetsServerURL string) *Loader {
	return &Loader{datasetsServerURL: datasetsServerURL}
}

// Load resolves spec to a dataset using the public datasets server for hub ids.
func Load(ctx context.Context, spec config.DatasetSpec, token string, seed *int64) (Dataset, error) {
	return NewLoader(DefaultDatasetsServerURL).Load(ctx, spec, token, seed)
}

// Load reads the split named by spec, renames its columns and optionally
// shuffles it. Sources are tried in order: local file or directory, s3:// or
// gs:// path, then dataset id on the hub.
func (l *Loader) Load(ctx context.Context, spec config.DatasetSpec, token string, seed *int64) (Dataset, error) {
	workers, err := utils.NumWorkers(spec.NumProc)
	if err != nil {
		return nil, err
	}

	ds, err := l.read(ctx, spec, token, workers)
	if err != nil {
		return nil, fmt.Errorf("error loading dataset %s (split %s): %w", spec.NameOrPath, spec.Split, err)
	}

	ds, err = renameColumns(ds, spec.RenameColumns)
	if err != nil {
		return nil, fmt.Errorf("error renaming columns of dataset %s: %w", spec.NameOrPath, err)
	}

	if spec.Shuffle {
		shuffleSeed := rand.Uint64()
		if seed != nil {
			shuffleSeed = uint64(*seed)
		}
		switch d := ds.(type) {
		case *Materialized:
			ds = d.Shuffle(shuffleSeed).FlattenIndices()
		case *Streaming:
			ds = d.Shuffle(shuffleSeed, spec.BufferSize)
		}
	}

	return ds, nil
}

func (l *Loader) read(ctx context.Context, spec config.DatasetSpec, token string, workers int) (Dataset, error) {
	name := spec.NameOrPath

	switch proto := storage.Protocol(name); proto {
	case storage.ProtocolS3, storage.ProtocolGCS, "gcs", "s3a":
		local, err := l.download(ctx, name)
		if err != nil {
			return nil, err
		}
		return loadLocal(ctx, local, spec.Split, spec.Streaming)
	case storage.ProtocolFile:
		local := strings.TrimPrefix(name, "file://")
		if _, err := os.Stat(local); err == nil {
			return loadLocal(ctx, local, spec.Split, spec.Streaming)
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		} else if local != name || filepath.IsAbs(local) {
			return nil, fmt.Errorf("dataset path %s does not exist", local)
		}
	default:
		return nil, fmt.Errorf("unsupported dataset location protocol '%s' in %s", proto, name)
	}

	if spec.Revision != "" && spec.Revision != "main" {
		return nil, fmt.Errorf("revision '%s' is not available through the datasets server, only 'main' is served", spec.Revision)
	}

	slog.Info("loading dataset from hub", "dataset", name, "config", spec.ConfigName, "split", spec.Split, "streaming", spec.Streaming)
	return newHubClient(l.datasetsServerURL, token).load(ctx, name, spec.ConfigName, spec.Split, spec.Streaming, workers)
}

// download copies a remote dataset file or directory into a temporary
// directory and returns its local path.
func (l *Loader) download(ctx context.Context, remote string) (string, error) {
	remoteFS, err := storage.Resolve(ctx, remote, nil)
	if err != nil {
		return "", err
	}

	dir, err := os.MkdirTemp(l.tempDir, "dataset-*")
	if err != nil {
		return "", fmt.Errorf("error creating download directory: %w", err)
	}

	local := filepath.Join(dir, path.Base(remote))
	if err := remoteFS.Get(ctx, remote, local); err != nil {
		return "", fmt.Errorf("error downloading dataset %s: %w", remote, err)
	}

	slog.Info("downloaded remote dataset", "remote", remote, "local", local)
	return local, nil
}

func renameColumns(ds Dataset, mapping map[string]string) (Dataset, error) {
	switch d := ds.(type) {
	case *Materialized:
		return d.RenameColumns(mapping)
	case *Streaming:
		return d.RenameColumns(mapping)
	default:
		return nil, fmt.Errorf("unsupported dataset type %T", ds)
	}
}
