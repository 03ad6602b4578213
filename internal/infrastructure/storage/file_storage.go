package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/garyjia/finflow/internal/application/port"
	"github.com/garyjia/finflow/internal/domain/errs"
	"go.uber.org/zap"
)

// LocalFileStorage implements port.FileStorage on the local filesystem.
// Files are write-once: saving over an existing path fails.
type LocalFileStorage struct {
	baseDir string
	logger  *zap.Logger
}

var _ port.FileStorage = (*LocalFileStorage)(nil)

// NewLocalFileStorage creates a new LocalFileStorage rooted at baseDir
func NewLocalFileStorage(baseDir string, logger *zap.Logger) *LocalFileStorage {
	return &LocalFileStorage{
		baseDir: baseDir,
		logger:  logger,
	}
}

// Save writes content to a relative path that must not exist yet
func (s *LocalFileStorage) Save(ctx context.Context, path string, content []byte) error {
	fullPath, err := s.resolve(path)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		s.logger.Error("Failed to create parent directories",
			zap.String("path", fullPath),
			zap.Error(err))
		return errs.Wrap(err, errs.KindDependencyUnavailable, "create directories for %s", path)
	}

	f, err := os.OpenFile(fullPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return errs.Conflict("file %s already exists", path)
	}
	if err != nil {
		s.logger.Error("Failed to create file",
			zap.String("path", fullPath),
			zap.Error(err))
		return errs.Wrap(err, errs.KindDependencyUnavailable, "create %s", path)
	}

	if _, err := f.Write(content); err != nil {
		_ = f.Close()
		_ = os.Remove(fullPath)
		s.logger.Error("Failed to write file",
			zap.String("path", fullPath),
			zap.Error(err))
		return errs.Wrap(err, errs.KindDependencyUnavailable, "write %s", path)
	}
	if err := f.Close(); err != nil {
		return errs.Wrap(err, errs.KindDependencyUnavailable, "close %s", path)
	}

	s.logger.Debug("File saved",
		zap.String("path", fullPath),
		zap.Int("size", len(content)))
	return nil
}

// Read returns the content stored at a relative path
func (s *LocalFileStorage) Read(ctx context.Context, path string) ([]byte, error) {
	fullPath, err := s.resolve(path)
	if err != nil {
		return nil, err
	}

	content, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, errs.NotFound("file %s not found", path)
	}
	if err != nil {
		s.logger.Error("Failed to read file",
			zap.String("path", fullPath),
			zap.Error(err))
		return nil, errs.Wrap(err, errs.KindDependencyUnavailable, "read %s", path)
	}
	return content, nil
}

// Exists reports whether a regular file is stored at a relative path
func (s *LocalFileStorage) Exists(ctx context.Context, path string) bool {
	fullPath, err := s.resolve(path)
	if err != nil {
		return false
	}
	info, err := os.Stat(fullPath)
	return err == nil && info.Mode().IsRegular()
}

// GetFullPath converts a relative path to a path under the base directory
func (s *LocalFileStorage) GetFullPath(relativePath string) string {
	return filepath.Join(s.baseDir, relativePath)
}

// resolve maps a relative path into baseDir, rejecting anything that escapes it
func (s *LocalFileStorage) resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", errs.Validation("file path is required")
	}
	if filepath.IsAbs(path) {
		return "", errs.Validation("file path %s must be relative", path)
	}
	fullPath := s.GetFullPath(path)
	if err := s.validatePath(fullPath); err != nil {
		return "", err
	}
	return fullPath, nil
}

// validatePath checks that fullPath stays within baseDir
func (s *LocalFileStorage) validatePath(fullPath string) error {
	absPath, err := filepath.Abs(fullPath)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	absBase, err := filepath.Abs(s.baseDir)
	if err != nil {
		return fmt.Errorf("failed to resolve base path: %w", err)
	}

	if !strings.HasPrefix(absPath, absBase+string(filepath.Separator)) {
		return errs.Validation("path escapes base directory: %s", fullPath)
	}
	return nil
}
