package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/marketengine/internal/domain"
)

// AuditStore implements domain.AuditStore using PostgreSQL.
type AuditStore struct {
	pool *pgxpool.Pool
}

// NewAuditStore creates a new AuditStore backed by the given connection pool.
func NewAuditStore(pool *pgxpool.Pool) *AuditStore {
	return &AuditStore{pool: pool}
}

// Log appends an operational entry, such as an archive run, that is not
// an engine event. The detail map is stored as JSONB.
func (s *AuditStore) Log(ctx context.Context, event string, detail map[string]any) error {
	detailJSON, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}

	const query = `INSERT INTO audit_log (event, detail) VALUES ($1, $2)`
	_, err = s.pool.Exec(ctx, query, event, detailJSON)
	if err != nil {
		return fmt.Errorf("postgres: log audit event %s: %w", event, err)
	}
	return nil
}

// LogEvent appends an engine event. Each event is stored once; replays of
// the same event id are ignored.
func (s *AuditStore) LogEvent(ctx context.Context, ev domain.Event) error {
	detailJSON, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("postgres: marshal event %d: %w", ev.Seq, err)
	}

	const query = `
		INSERT INTO audit_log (event_id, seq, event, entity_id, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (event_id) DO NOTHING`
	_, err = s.pool.Exec(ctx, query,
		ev.ID.Hex(), int64(ev.Seq), string(ev.Type), int64(ev.EntityID), detailJSON, ev.At,
	)
	if err != nil {
		return fmt.Errorf("postgres: log event %d (%s): %w", ev.Seq, ev.Type, err)
	}
	return nil
}

const auditCols = `id, COALESCE(event_id, ''), COALESCE(seq, 0), event, COALESCE(entity_id, 0), detail, created_at`

func collectAudit(rows pgx.Rows) ([]domain.AuditEntry, error) {
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var (
			e             domain.AuditEntry
			seq, entityID int64
			detailJSON    []byte
		)
		if err := rows.Scan(&e.ID, &e.EventID, &seq, &e.Event, &entityID, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		e.Seq = uint64(seq)
		e.EntityID = uint64(entityID)

		if detailJSON != nil {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: unmarshal audit detail: %w", err)
			}
		}

		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list audit entries rows: %w", err)
	}
	return entries, nil
}

// List returns audit entries with pagination and optional time filtering.
func (s *AuditStore) List(ctx context.Context, opts domain.ListOpts) ([]domain.AuditEntry, error) {
	query, args := paginate(`SELECT `+auditCols+` FROM audit_log WHERE 1=1`, nil, opts, "created_at")
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	return collectAudit(rows)
}

// ListBefore returns the oldest entries created before the cutoff.
func (s *AuditStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.AuditEntry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+auditCols+` FROM audit_log WHERE created_at < $1 ORDER BY id LIMIT $2`,
		before, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries before %s: %w", before.Format(time.RFC3339), err)
	}
	return collectAudit(rows)
}

// DeleteByIDs removes audit entries and returns how many were deleted.
func (s *AuditStore) DeleteByIDs(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_log WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete audit entries: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.AuditStore = (*AuditStore)(nil)
