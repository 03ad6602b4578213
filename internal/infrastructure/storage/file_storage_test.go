package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/garyjia/finflow/internal/domain/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLocalFileStorage_Save(t *testing.T) {
	ctx := context.Background()
	tempDir := t.TempDir()
	fs := NewLocalFileStorage(tempDir, zap.NewNop())

	t.Run("saves file and creates parent directories", func(t *testing.T) {
		err := fs.Save(ctx, "proofs/deep/refund.pdf", []byte("PDF content"))
		require.NoError(t, err)

		saved, err := os.ReadFile(filepath.Join(tempDir, "proofs", "deep", "refund.pdf"))
		require.NoError(t, err)
		assert.Equal(t, []byte("PDF content"), saved)
		assert.True(t, fs.Exists(ctx, "proofs/deep/refund.pdf"))
	})

	t.Run("never overwrites", func(t *testing.T) {
		require.NoError(t, fs.Save(ctx, "receipts/once.png", []byte("original")))

		err := fs.Save(ctx, "receipts/once.png", []byte("updated"))
		assert.Equal(t, errs.KindConflict, errs.KindOf(err))

		content, err := fs.Read(ctx, "receipts/once.png")
		require.NoError(t, err)
		assert.Equal(t, []byte("original"), content)
	})

	t.Run("saves empty file", func(t *testing.T) {
		require.NoError(t, fs.Save(ctx, "empty.txt", []byte{}))
		info, err := os.Stat(filepath.Join(tempDir, "empty.txt"))
		require.NoError(t, err)
		assert.Equal(t, int64(0), info.Size())
	})
}

func TestLocalFileStorage_PathEscape(t *testing.T) {
	ctx := context.Background()
	tempDir := t.TempDir()
	fs := NewLocalFileStorage(tempDir, zap.NewNop())

	tests := []struct {
		name string
		path string
	}{
		{"absolute path", "/etc/passwd"},
		{"parent traversal", "../../etc/passwd"},
		{"traversal after a folder", "proofs/../../outside.pdf"},
		{"base directory itself", "."},
		{"empty", " "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fs.Save(ctx, tt.path, []byte("x"))
			assert.Equal(t, errs.KindValidationFailed, errs.KindOf(err))
			assert.False(t, fs.Exists(ctx, tt.path))
		})
	}

	t.Run("rejects path with similar prefix", func(t *testing.T) {
		err := fs.validatePath(tempDir + "_malicious/file.txt")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "escapes base directory")
	})
}

func TestLocalFileStorage_Read(t *testing.T) {
	ctx := context.Background()
	fs := NewLocalFileStorage(t.TempDir(), zap.NewNop())

	_, err := fs.Read(ctx, "proofs/missing.pdf")
	assert.Equal(t, errs.KindNotFound, errs.KindOf(err))

	require.NoError(t, os.MkdirAll(fs.GetFullPath("proofs/dir.pdf"), 0755))
	assert.False(t, fs.Exists(ctx, "proofs/dir.pdf"), "directories are not files")
}

func TestUploader_Upload(t *testing.T) {
	ctx := context.Background()
	fs := NewLocalFileStorage(t.TempDir(), zap.NewNop())
	up := NewUploader(fs, 16, zap.NewNop())

	first, err := up.Upload(ctx, CategoryProofs, "Bank Transfer.PDF", []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(first, "proofs/"))
	assert.True(t, strings.HasSuffix(first, ".pdf"))
	assert.True(t, fs.Exists(ctx, first))

	second, err := up.Upload(ctx, CategoryProofs, "Bank Transfer.PDF", []byte("%PDF-1.7"))
	require.NoError(t, err)
	assert.NotEqual(t, first, second, "each upload gets its own name")

	tests := []struct {
		name     string
		category string
		file     string
		content  []byte
	}{
		{"unknown category", "invoices", "a.pdf", []byte("x")},
		{"empty content", CategoryReceipts, "a.pdf", nil},
		{"too large", CategoryReceipts, "a.pdf", []byte(strings.Repeat("x", 17))},
		{"executable", CategoryReceipts, "run.sh", []byte("x")},
		{"no extension", CategoryReceipts, "README", []byte("x")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := up.Upload(ctx, tt.category, tt.file, tt.content)
			assert.Equal(t, errs.KindValidationFailed, errs.KindOf(err))
		})
	}
}

func TestSanitizeExtension(t *testing.T) {
	assert.Equal(t, ".pdf", SanitizeExtension("../../x.PDF"))
	assert.Equal(t, ".jpg", SanitizeExtension("photo.j!p g"))
	assert.Equal(t, "", SanitizeExtension("noext"))
}
