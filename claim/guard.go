// Package claim implements the first-writer-wins ownership binding shared by
// orders, disputes, and assets. A claim is a single conditional UPDATE against
// the record's claimed_by column; it is never read-then-write, so two
// identities racing on an unclaimed record cannot both win.
package claim

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound signals the target record does not exist.
	ErrNotFound = errors.New("claim: record not found")
	// ErrConflict signals the record is already claimed by another identity.
	// Claims are never transferred or overwritten.
	ErrConflict = errors.New("claim: already claimed by another identity")
	// ErrUnknownKind signals an unsupported record kind.
	ErrUnknownKind = errors.New("claim: unknown record kind")
)

// Kind names a claimable record type.
type Kind string

const (
	KindOrder   Kind = "order"
	KindDispute Kind = "dispute"
	KindAsset   Kind = "asset"
)

// tables maps kinds to their backing tables. Claims only ever touch tables
// listed here; the kind is never interpolated from caller input.
var tables = map[Kind]string{
	KindOrder:   "orders",
	KindDispute: "disputes",
	KindAsset:   "assets",
}

// Guard applies the exclusive-claim protocol to any claimable record kind.
type Guard struct {
	pool *pgxpool.Pool
}

// NewGuard wires a pgxpool-backed guard.
func NewGuard(pool *pgxpool.Pool) *Guard {
	return &Guard{pool: pool}
}

// Claim binds the record to identity. First writer wins; a repeat claim by the
// same identity succeeds as a no-op. A claim on a record owned by a different
// identity returns ErrConflict.
func (g *Guard) Claim(ctx context.Context, kind Kind, id, identity string) error {
	if id == "" {
		return fmt.Errorf("claim: record id required")
	}
	if identity == "" {
		return fmt.Errorf("claim: identity required")
	}
	table, ok := tables[kind]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	updateSQL := fmt.Sprintf(`
		UPDATE %s
		SET claimed_by = $2
		WHERE id = $1 AND (claimed_by IS NULL OR claimed_by = $2)
	`, table)

	tag, err := g.pool.Exec(ctx, updateSQL, id, identity)
	if err != nil {
		return fmt.Errorf("claim: update %s: %w", kind, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// Zero rows: either the record is missing or someone else holds it.
	checkSQL := fmt.Sprintf(`SELECT claimed_by FROM %s WHERE id = $1`, table)
	var owner *string
	if err := g.pool.QueryRow(ctx, checkSQL, id).Scan(&owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("claim: check %s owner: %w", kind, err)
	}
	if owner != nil && *owner != identity {
		return ErrConflict
	}

	// The claim landed between our update and the check.
	return nil
}

// Owner reports the current claimant of the record, or nil when unclaimed.
func (g *Guard) Owner(ctx context.Context, kind Kind, id string) (*string, error) {
	table, ok := tables[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}

	var owner *string
	query := fmt.Sprintf(`SELECT claimed_by FROM %s WHERE id = $1`, table)
	if err := g.pool.QueryRow(ctx, query, id).Scan(&owner); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("claim: owner of %s: %w", kind, err)
	}
	return owner, nil
}
