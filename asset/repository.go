package asset

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the requested asset does not exist.
	ErrNotFound = errors.New("asset: not found")
	// ErrDuplicate signals the asset id is already registered.
	ErrDuplicate = errors.New("asset: id already registered")
)

// Repository provides access to asset records.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert registers a new asset. Registration is create-once; a duplicate id
// maps to ErrDuplicate rather than overwriting anything.
func (r *Repository) Insert(ctx context.Context, params RegisterParams) (Record, error) {
	const insertSQL = `
		INSERT INTO assets (id, title, content_ref, terms_ref, registered_by)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, title, content_ref, terms_ref, registered_by, claimed_by, created_at
	`

	var rec Record
	err := r.pool.QueryRow(ctx, insertSQL,
		params.ID, params.Title, params.ContentRef, params.TermsRef, params.RegisteredBy,
	).Scan(&rec.ID, &rec.Title, &rec.ContentRef, &rec.TermsRef, &rec.RegisteredBy, &rec.ClaimedBy, &rec.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrDuplicate
		}
		return Record{}, fmt.Errorf("asset: insert: %w", err)
	}

	return rec, nil
}

// GetByID fetches an asset by its identifier.
func (r *Repository) GetByID(ctx context.Context, id string) (Record, error) {
	const query = `
		SELECT id, title, content_ref, terms_ref, registered_by, claimed_by, created_at
		FROM assets
		WHERE id = $1
	`

	var rec Record
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&rec.ID, &rec.Title, &rec.ContentRef, &rec.TermsRef, &rec.RegisteredBy, &rec.ClaimedBy, &rec.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("asset: query by id: %w", err)
	}

	return rec, nil
}

// List fetches up to limit assets ordered by registration time, newest first.
func (r *Repository) List(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}

	const query = `
		SELECT id, title, content_ref, terms_ref, registered_by, claimed_by, created_at
		FROM assets
		ORDER BY created_at DESC
		LIMIT $1
	`

	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("asset: list: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0, limit)
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Title, &rec.ContentRef, &rec.TermsRef, &rec.RegisteredBy, &rec.ClaimedBy, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("asset: scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("asset: iterate records: %w", err)
	}

	return records, nil
}
