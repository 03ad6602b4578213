package port

import "context"

// FileStorage defines file storage operations for uploaded proofs and receipts.
// Stored files are never overwritten or removed.
type FileStorage interface {
	Save(ctx context.Context, path string, content []byte) error
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) bool
	GetFullPath(relativePath string) string
}
