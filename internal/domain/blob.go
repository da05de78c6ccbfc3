package domain

import (
	"context"
	"io"
)

// BlobWriter uploads objects to blob storage. Used to archive execution
// journals out of the hot database.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}
