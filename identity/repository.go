package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrPrincipalNotFound signals that no principal row exists.
	ErrPrincipalNotFound = errors.New("identity: principal not found")
	// ErrDuplicateHandle signals that the handle is already registered.
	ErrDuplicateHandle = errors.New("identity: handle already exists")
)

// Repository handles data access for principals.
type Repository interface {
	CreatePrincipal(ctx context.Context, params CreatePrincipalParams) (Principal, error)
	GetByHandle(ctx context.Context, handle string) (Principal, error)
	GetByID(ctx context.Context, id string) (Principal, error)
}

// CreatePrincipalParams contains write parameters for new principals.
type CreatePrincipalParams struct {
	Handle         string
	DisplayName    string
	PassphraseHash string
}

// PGRepository implements Repository backed by PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a PostgreSQL-backed principal repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

func (r *PGRepository) CreatePrincipal(ctx context.Context, params CreatePrincipalParams) (Principal, error) {
	const insertSQL = `
		INSERT INTO principals (handle, display_name, passphrase_hash)
		VALUES ($1, $2, $3)
		RETURNING id, handle, display_name, passphrase_hash, created_at, updated_at
	`

	p, err := scanPrincipal(r.pool.QueryRow(ctx, insertSQL, params.Handle, params.DisplayName, params.PassphraseHash))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Principal{}, ErrDuplicateHandle
		}
		return Principal{}, fmt.Errorf("identity: create principal: %w", err)
	}

	return p, nil
}

func (r *PGRepository) GetByHandle(ctx context.Context, handle string) (Principal, error) {
	const selectSQL = `
		SELECT id, handle, display_name, passphrase_hash, created_at, updated_at
		FROM principals
		WHERE handle = $1
	`

	p, err := scanPrincipal(r.pool.QueryRow(ctx, selectSQL, handle))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrPrincipalNotFound
		}
		return Principal{}, fmt.Errorf("identity: get by handle: %w", err)
	}

	return p, nil
}

func (r *PGRepository) GetByID(ctx context.Context, id string) (Principal, error) {
	const selectSQL = `
		SELECT id, handle, display_name, passphrase_hash, created_at, updated_at
		FROM principals
		WHERE id = $1
	`

	p, err := scanPrincipal(r.pool.QueryRow(ctx, selectSQL, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Principal{}, ErrPrincipalNotFound
		}
		return Principal{}, fmt.Errorf("identity: get by id: %w", err)
	}

	return p, nil
}

func scanPrincipal(row pgx.Row) (Principal, error) {
	var p Principal
	err := row.Scan(
		&p.ID,
		&p.Handle,
		&p.DisplayName,
		&p.PassphraseHash,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return Principal{}, err
	}
	return p, nil
}
