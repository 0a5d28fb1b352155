package cohort

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/cohort/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type snapshotRepoPG struct{ pool *pgxpool.Pool }

func NewSnapshotRepoPG(pool *pgxpool.Pool) SnapshotRepository {
	return &snapshotRepoPG{pool: pool}
}

func (r *snapshotRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const snapCols = `id, request_id, serialized_model, request_document, nominative, access_tier, created_at`

func (r *snapshotRepoPG) scanRow(row pgx.Row) (*Snapshot, error) {
	var s Snapshot
	var model, doc []byte
	err := row.Scan(&s.ID, &s.RequestID, &model, &doc, &s.Nominative, &s.AccessTier, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrSnapshotNotFound
	}
	if err != nil {
		return nil, err
	}
	s.SerializedModel = model
	s.RequestDocument = doc
	return &s, nil
}

func (r *snapshotRepoPG) Create(ctx context.Context, s *Snapshot) error {
	s.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO cohort_snapshots (id, request_id, serialized_model, request_document, nominative, access_tier)
		VALUES ($1,$2,$3,$4,$5,$6)
		RETURNING created_at`,
		s.ID, s.RequestID, []byte(s.SerializedModel), []byte(s.RequestDocument), s.Nominative, s.AccessTier,
	).Scan(&s.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert snapshot: %w", err)
	}
	return nil
}

func (r *snapshotRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Snapshot, error) {
	return r.scanRow(r.conn(ctx).QueryRow(ctx, `SELECT `+snapCols+` FROM cohort_snapshots WHERE id = $1`, id))
}

func (r *snapshotRepoPG) ListByRequest(ctx context.Context, requestID string, limit, offset int) ([]*Snapshot, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM cohort_snapshots WHERE request_id = $1`, requestID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+snapCols+` FROM cohort_snapshots
		WHERE request_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, requestID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Snapshot
	for rows.Next() {
		s, err := r.scanRow(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, s)
	}
	return items, total, rows.Err()
}
