package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the dispute does not exist.
	ErrNotFound = errors.New("dispute: not found")
	// ErrDuplicate signals the dispute id already exists.
	ErrDuplicate = errors.New("dispute: id already exists")
	// ErrUnknownAsset signals the contested asset is not registered.
	ErrUnknownAsset = errors.New("dispute: unknown asset")
	// ErrBadStatus signals a transition attempted from the wrong source state.
	ErrBadStatus = errors.New("dispute: invalid status transition")
)

const recordColumns = `
	id, asset_id, target_tag, evidence_ref, status::text, claimed_by,
	created_at, updated_at, judged_at, resolved_at
`

// Repository provides conditional-update access to dispute records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert creates a dispute in raised state.
func (r *Repository) Insert(ctx context.Context, params RaiseParams) (Record, error) {
	const insertSQL = `
		INSERT INTO disputes (id, asset_id, target_tag, evidence_ref, status)
		VALUES ($1, $2, $3, $4, 'raised')
		RETURNING ` + recordColumns

	rec, err := scanRecord(r.pool.QueryRow(ctx, insertSQL, params.ID, params.AssetID, params.TargetTag, params.EvidenceRef))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			switch pgErr.Code {
			case "23505":
				return Record{}, ErrDuplicate
			case "23503":
				return Record{}, ErrUnknownAsset
			}
		}
		return Record{}, fmt.Errorf("dispute: insert: %w", err)
	}

	return rec, nil
}

// GetByID fetches a dispute by its identifier.
func (r *Repository) GetByID(ctx context.Context, id string) (Record, error) {
	const query = `SELECT ` + recordColumns + ` FROM disputes WHERE id = $1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: query by id: %w", err)
	}

	return rec, nil
}

// SetJudgement moves raised -> upheld or raised -> rejected. The update is
// keyed on the current status; on zero rows the stored status is re-read to
// tell a missing dispute from an illegal transition.
func (r *Repository) SetJudgement(ctx context.Context, id string, upheld bool) (Record, error) {
	next := StatusRejected
	if upheld {
		next = StatusUpheld
	}

	const updateSQL = `
		UPDATE disputes
		SET status = $2::dispute_status,
		    judged_at = now(),
		    updated_at = now()
		WHERE id = $1 AND status = 'raised'
		RETURNING ` + recordColumns

	rec, err := scanRecord(r.pool.QueryRow(ctx, updateSQL, id, next))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("dispute: set judgement: %w", err)
	}

	return Record{}, r.classify(ctx, id)
}

// Resolve moves upheld|rejected -> resolved. Resolving from raised or from
// resolved fails with ErrBadStatus.
func (r *Repository) Resolve(ctx context.Context, id string) (Record, error) {
	const updateSQL = `
		UPDATE disputes
		SET status = 'resolved',
		    resolved_at = now(),
		    updated_at = now()
		WHERE id = $1 AND status IN ('upheld', 'rejected')
		RETURNING ` + recordColumns

	rec, err := scanRecord(r.pool.QueryRow(ctx, updateSQL, id))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("dispute: resolve: %w", err)
	}

	return Record{}, r.classify(ctx, id)
}

// ListByAsset returns the disputes raised against an asset, newest first.
func (r *Repository) ListByAsset(ctx context.Context, assetID string) ([]Record, error) {
	const query = `SELECT ` + recordColumns + ` FROM disputes WHERE asset_id = $1 ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, assetID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 8)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.AssetID, &rec.TargetTag, &rec.EvidenceRef, &rec.Status, &rec.ClaimedBy,
			&rec.CreatedAt, &rec.UpdatedAt, &rec.JudgedAt, &rec.ResolvedAt); err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

// classify distinguishes a missing dispute from a wrong-state transition
// after a conditional update matched zero rows.
func (r *Repository) classify(ctx context.Context, id string) error {
	var status Status
	err := r.pool.QueryRow(ctx, `SELECT status::text FROM disputes WHERE id = $1`, id).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("dispute: classify: %w", err)
	}
	return fmt.Errorf("%w: from %s", ErrBadStatus, status)
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.AssetID,
		&rec.TargetTag,
		&rec.EvidenceRef,
		&rec.Status,
		&rec.ClaimedBy,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.JudgedAt,
		&rec.ResolvedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
