package s3blob

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

type memWriter struct {
	objects map[string][]byte
	fail    error
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, _ string) error {
	if w.fail != nil {
		return w.fail
	}
	b, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = b
	return nil
}

type memListings struct {
	rows    []domain.Listing
	deleted []uint64
}

func (m *memListings) Upsert(context.Context, domain.Listing) error { return nil }

func (m *memListings) GetByID(context.Context, uint64) (domain.Listing, error) {
	return domain.Listing{}, domain.ErrNotFound
}

func (m *memListings) ListBySeller(context.Context, common.Address, domain.ListOpts) ([]domain.Listing, error) {
	return nil, nil
}

func (m *memListings) ListClosedBefore(_ context.Context, _ time.Time, limit int) ([]domain.Listing, error) {
	if len(m.rows) < limit {
		limit = len(m.rows)
	}
	return append([]domain.Listing(nil), m.rows[:limit]...), nil
}

func (m *memListings) DeleteByIDs(_ context.Context, ids []uint64) (int64, error) {
	m.deleted = append(m.deleted, ids...)
	m.rows = m.rows[len(ids):]
	return int64(len(ids)), nil
}

type memAudit struct {
	logged []string
}

func (m *memAudit) Log(_ context.Context, event string, _ map[string]any) error {
	m.logged = append(m.logged, event)
	return nil
}

func (m *memAudit) LogEvent(context.Context, domain.Event) error { return nil }

func (m *memAudit) List(context.Context, domain.ListOpts) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (m *memAudit) ListBefore(context.Context, time.Time, int) ([]domain.AuditEntry, error) {
	return nil, nil
}

func (m *memAudit) DeleteByIDs(context.Context, []int64) (int64, error) { return 0, nil }

func readJSONLGzip(t *testing.T, b []byte) []map[string]any {
	t.Helper()
	zr, err := gzip.NewReader(bytes.NewReader(b))
	require.NoError(t, err)
	defer zr.Close()

	var out []map[string]any
	sc := bufio.NewScanner(zr)
	for sc.Scan() {
		var m map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &m))
		out = append(out, m)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestArchiver_ListingsInBatches(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}}
	listings := &memListings{}
	for i := uint64(1); i <= 5; i++ {
		listings.rows = append(listings.rows, domain.Listing{ID: i})
	}
	audit := &memAudit{}
	a := NewArchiver(w, listings, nil, nil, audit, 2)

	cutoff := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	res, err := a.ArchiveListings(context.Background(), cutoff)
	require.NoError(t, err)

	assert.Equal(t, "listings", res.Kind)
	assert.Equal(t, int64(5), res.Count)
	require.Len(t, res.Paths, 3)
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, listings.deleted)
	assert.Equal(t, []string{"archive.listings", "archive.listings", "archive.listings"}, audit.logged)

	total := 0
	for _, p := range res.Paths {
		assert.True(t, strings.HasPrefix(p, "archive/listings/2026/03/"), p)
		assert.True(t, strings.HasSuffix(p, ".jsonl.gz"), p)
		total += len(readJSONLGzip(t, w.objects[p]))
	}
	assert.Equal(t, 5, total)
}

func TestArchiver_NothingToArchive(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}}
	audit := &memAudit{}
	a := NewArchiver(w, &memListings{}, nil, nil, audit, 0)

	res, err := a.ArchiveListings(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Zero(t, res.Count)
	assert.Empty(t, res.Paths)
	assert.Empty(t, w.objects)
	assert.Empty(t, audit.logged)
}

func TestArchiver_UploadFailureKeepsRows(t *testing.T) {
	w := &memWriter{objects: map[string][]byte{}, fail: errors.New("bucket unreachable")}
	listings := &memListings{rows: []domain.Listing{{ID: 1}}}
	a := NewArchiver(w, listings, nil, nil, &memAudit{}, 10)

	_, err := a.ArchiveListings(context.Background(), time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upload")
	assert.Empty(t, listings.deleted)
	assert.Len(t, listings.rows, 1)
}
