package domain

import (
	"context"
	"io"
	"time"
)

// BlobInfo describes a stored object.
type BlobInfo struct {
	Path         string
	Size         int64
	ContentType  string
	LastModified time.Time
}

// BlobWriter uploads data to object storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// BlobReader retrieves data from object storage.
type BlobReader interface {
	Get(ctx context.Context, path string) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]BlobInfo, error)
}

// ArchiveResult reports one archive run for a record kind. Each batch is
// written to its own object.
type ArchiveResult struct {
	Kind  string   `json:"kind"`
	Paths []string `json:"paths,omitempty"`
	Count int64    `json:"count"`
}

// Archiver moves closed records from the database to cold storage.
type Archiver interface {
	ArchiveListings(ctx context.Context, before time.Time) (ArchiveResult, error)
	ArchiveAuctions(ctx context.Context, before time.Time) (ArchiveResult, error)
	ArchiveOffers(ctx context.Context, before time.Time) (ArchiveResult, error)
	ArchiveAudit(ctx context.Context, before time.Time) (ArchiveResult, error)
}
