package storage

import (
	"context"
	"path"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/garyjia/finflow/internal/domain/errs"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Upload categories
const (
	CategoryProofs   = "proofs"
	CategoryReceipts = "receipts"
)

// DefaultMaxUploadSize bounds a single proof or receipt
const DefaultMaxUploadSize int64 = 10 << 20

var allowedExtensions = map[string]bool{
	".pdf":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".heic": true,
}

var unsafeChars = regexp.MustCompile(`[^a-z0-9]`)

// Uploader stores proofs and receipts under fresh names so that an upload
// never replaces an earlier one
type Uploader struct {
	files   *LocalFileStorage
	maxSize int64
	logger  *zap.Logger
}

// NewUploader creates an Uploader writing through files
func NewUploader(files *LocalFileStorage, maxSize int64, logger *zap.Logger) *Uploader {
	if maxSize <= 0 {
		maxSize = DefaultMaxUploadSize
	}
	return &Uploader{files: files, maxSize: maxSize, logger: logger}
}

// MaxSize returns the largest accepted upload in bytes
func (u *Uploader) MaxSize() int64 {
	return u.maxSize
}

// Upload stores content under category and returns the relative path to
// reference from a document
func (u *Uploader) Upload(ctx context.Context, category, originalName string, content []byte) (string, error) {
	if category != CategoryProofs && category != CategoryReceipts {
		return "", errs.Validation("upload category must be %s or %s", CategoryProofs, CategoryReceipts)
	}
	if len(content) == 0 {
		return "", errs.Validation("uploaded file is empty")
	}
	if int64(len(content)) > u.maxSize {
		return "", errs.Validation("uploaded file exceeds %d bytes", u.maxSize)
	}

	ext := SanitizeExtension(originalName)
	if !allowedExtensions[ext] {
		return "", errs.Validation("file type %q is not accepted", filepath.Ext(originalName))
	}

	rel := path.Join(category, uuid.NewString()+ext)
	if err := u.files.Save(ctx, rel, content); err != nil {
		return "", err
	}

	u.logger.Info("Stored upload",
		zap.String("path", rel),
		zap.String("original_name", originalName),
		zap.Int("size", len(content)))
	return rel, nil
}

// SanitizeExtension returns the lower-cased extension of name with anything
// but letters and digits removed
func SanitizeExtension(name string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(name)))
	ext = unsafeChars.ReplaceAllString(strings.TrimPrefix(ext, "."), "")
	if ext == "" {
		return ""
	}
	return "." + ext
}
