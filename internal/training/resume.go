package training

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"path/filepath"
	"strings"

	"textclf/internal/storage"
)

var ErrCheckpointNotFound = errors.New("checkpoint not found")

// materializeCheckpoint copies the checkpoint at remote into outputDir and
// returns the local directory to resume from.
func materializeCheckpoint(ctx context.Context, fs storage.FileSystem, remote, outputDir string) (string, error) {
	exists, err := fs.Exists(ctx, remote)
	if err != nil {
		return "", fmt.Errorf("error checking checkpoint %s: %w", remote, err)
	}
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrCheckpointNotFound, remote)
	}

	trimmed := strings.TrimSuffix(remote, "/")
	local := filepath.Join(outputDir, path.Base(trimmed))

	if storage.Protocol(remote) == storage.ProtocolFile {
		src, err := filepath.Abs(strings.TrimPrefix(trimmed, "file://"))
		if err == nil {
			if dst, err := filepath.Abs(local); err == nil && src == dst {
				return local, nil
			}
		}
	}

	slog.Info("downloading checkpoint", "remote", remote, "local", local)
	if err := fs.Get(ctx, remote, local); err != nil {
		return "", fmt.Errorf("error downloading checkpoint %s: %w", remote, err)
	}
	return local, nil
}
