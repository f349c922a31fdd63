package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// DefaultBatchSize bounds the rows read, uploaded and deleted per object.
const DefaultBatchSize = 1000

// Archiver implements domain.Archiver. Each batch of closed records is read
// from its store, written as a gzip JSONL object and only then deleted from
// the store, so a failed upload leaves the rows in place for the next run.
type Archiver struct {
	writer    domain.BlobWriter
	listings  domain.ListingStore
	auctions  domain.AuctionStore
	offers    domain.OfferStore
	audit     domain.AuditStore
	batchSize int
}

// NewArchiver creates an Archiver. A batchSize of zero or less means
// DefaultBatchSize.
func NewArchiver(
	writer domain.BlobWriter,
	listings domain.ListingStore,
	auctions domain.AuctionStore,
	offers domain.OfferStore,
	audit domain.AuditStore,
	batchSize int,
) *Archiver {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Archiver{
		writer:    writer,
		listings:  listings,
		auctions:  auctions,
		offers:    offers,
		audit:     audit,
		batchSize: batchSize,
	}
}

// ArchiveListings archives sold and cancelled listings that closed before the
// cutoff.
func (a *Archiver) ArchiveListings(ctx context.Context, before time.Time) (domain.ArchiveResult, error) {
	return archive(ctx, a, "listings", before,
		a.listings.ListClosedBefore,
		func(l domain.Listing) uint64 { return l.ID },
		a.listings.DeleteByIDs,
	)
}

// ArchiveAuctions archives finalized and cancelled auctions.
func (a *Archiver) ArchiveAuctions(ctx context.Context, before time.Time) (domain.ArchiveResult, error) {
	return archive(ctx, a, "auctions", before,
		a.auctions.ListClosedBefore,
		func(au domain.Auction) uint64 { return au.ID },
		a.auctions.DeleteByIDs,
	)
}

// ArchiveOffers archives accepted and cancelled offers.
func (a *Archiver) ArchiveOffers(ctx context.Context, before time.Time) (domain.ArchiveResult, error) {
	return archive(ctx, a, "offers", before,
		a.offers.ListClosedBefore,
		func(o domain.Offer) uint64 { return o.ID },
		a.offers.DeleteByIDs,
	)
}

// ArchiveAudit archives audit rows written before the cutoff. The rows that
// record archive runs are themselves archived on a later run.
func (a *Archiver) ArchiveAudit(ctx context.Context, before time.Time) (domain.ArchiveResult, error) {
	return archive(ctx, a, "audit", before,
		a.audit.ListBefore,
		func(e domain.AuditEntry) int64 { return e.ID },
		a.audit.DeleteByIDs,
	)
}

// archive drains one kind in batches until the store returns a short page.
func archive[T any, ID any](
	ctx context.Context,
	a *Archiver,
	kind string,
	before time.Time,
	list func(context.Context, time.Time, int) ([]T, error),
	idOf func(T) ID,
	del func(context.Context, []ID) (int64, error),
) (domain.ArchiveResult, error) {
	res := domain.ArchiveResult{Kind: kind}
	for {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		records, err := list(ctx, before, a.batchSize)
		if err != nil {
			return res, fmt.Errorf("s3blob: archive %s query: %w", kind, err)
		}
		if len(records) == 0 {
			return res, nil
		}

		buf, err := marshalJSONLGzip(records)
		if err != nil {
			return res, fmt.Errorf("s3blob: archive %s marshal: %w", kind, err)
		}

		path := archivePath(kind, before, uuid.NewString())
		if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson+gzip"); err != nil {
			return res, fmt.Errorf("s3blob: archive %s upload: %w", kind, err)
		}
		res.Paths = append(res.Paths, path)

		ids := make([]ID, len(records))
		for i, r := range records {
			ids[i] = idOf(r)
		}
		deleted, err := del(ctx, ids)
		if err != nil {
			return res, fmt.Errorf("s3blob: archive %s delete: %w", kind, err)
		}
		res.Count += int64(len(records))

		if err := a.audit.Log(ctx, "archive."+kind, map[string]any{
			"path":    path,
			"count":   len(records),
			"deleted": deleted,
			"before":  before.UTC().Format(time.RFC3339),
		}); err != nil {
			return res, fmt.Errorf("s3blob: archive %s audit log: %w", kind, err)
		}

		// Nothing was removed, so the next page would be the same one.
		if len(records) < a.batchSize || deleted == 0 {
			return res, nil
		}
	}
}

// archivePath builds the object key for one batch, partitioned by the
// year and month of the cutoff.
//
//	archive/listings/2026/01/1b4e28ba-2fa1-11d2-883f-0016d3cca427.jsonl.gz
func archivePath(kind string, before time.Time, batch string) string {
	return fmt.Sprintf("archive/%s/%s/%s.jsonl.gz", kind, before.UTC().Format("2006/01"), batch)
}

// marshalJSONLGzip writes records as newline-delimited JSON, gzip compressed.
func marshalJSONLGzip[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	enc := json.NewEncoder(zw)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

var _ domain.Archiver = (*Archiver)(nil)
