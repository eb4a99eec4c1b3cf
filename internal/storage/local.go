package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

type LocalFileSystem struct{}

var _ FileSystem = (*LocalFileSystem)(nil)

func NewLocalFileSystem() *LocalFileSystem {
	return &LocalFileSystem{}
}

func localPath(p string) string {
	return strings.TrimPrefix(p, "file://")
}

func (l *LocalFileSystem) Exists(ctx context.Context, p string) (bool, error) {
	_, err := os.Stat(localPath(p))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", p, err)
}

func (l *LocalFileSystem) Get(ctx context.Context, remotePath, dest string) error {
	return copyPath(localPath(remotePath), localPath(dest))
}

func (l *LocalFileSystem) Put(ctx context.Context, src, remotePath string) error {
	return copyPath(localPath(src), localPath(remotePath))
}

func (l *LocalFileSystem) MakeDirs(ctx context.Context, p string) error {
	if err := os.MkdirAll(localPath(p), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", p, err)
	}
	return nil
}

// copyPath mirrors src at dest, replacing whatever was there before.
func copyPath(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, src)
		}
		return fmt.Errorf("failed to stat %s: %w", src, err)
	}

	if !info.IsDir() {
		return copyFile(src, dest)
	}

	if _, err := os.Stat(dest); err == nil {
		if err := os.RemoveAll(dest); err != nil {
			return fmt.Errorf("failed to remove existing destination %s: %w", dest, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(dest), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", dest, err)
	}

	if err := os.CopyFS(dest, os.DirFS(src)); err != nil {
		return fmt.Errorf("failed to copy directory from %s to %s: %w", src, dest, err)
	}
	return nil
}

func copyFile(src, dest string) error {
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		dest = filepath.Join(dest, filepath.Base(src))
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), os.ModePerm); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", dest, err)
	}

	out, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("failed to write file %s: %w", dest, err)
	}
	return out.Close()
}
