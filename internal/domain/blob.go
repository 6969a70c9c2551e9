package domain

import (
	"context"
	"time"
)

type BlobObject struct {
	Path         string
	LastModified time.Time
}

// BlobStore keeps refund evidence files.
type BlobStore interface {
	Upload(ctx context.Context, path string, data []byte, contentType string) (string, error)
	Remove(ctx context.Context, path string) error
	PathFromURL(url string) (string, error)
	List(ctx context.Context, prefix string) ([]BlobObject, error)
}
