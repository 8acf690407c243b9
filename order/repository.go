package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrNotFound is returned when no order row exists for the identifier.
	ErrNotFound = errors.New("order: not found")
	// ErrDuplicate signals the order id already exists.
	ErrDuplicate = errors.New("order: id already exists")
	// ErrUnknownAsset signals the referenced asset is not registered.
	ErrUnknownAsset = errors.New("order: unknown asset")
)

const recordColumns = `
	id, asset_id, buyer, payment_mode::text, deposit_target, amount_expected,
	amount_received, confirmations_observed,
	settlement_tx_ref, attestation_hash, anchor_tx_ref, registry_token_ref,
	content_hash, credential_hash, archive_hash, compliance_score,
	status::text, claimed_by, created_at, updated_at, funded_at, finalized_at
`

// Repository provides conditional-update access to order records. It holds no
// private state: every decision the coordinator makes is re-derived from the
// stored status on each call.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wires a pgxpool-backed repository implementation.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert creates a pending order. The id is caller-supplied and unique.
func (r *Repository) Insert(ctx context.Context, params CreateParams, depositTarget string) (Record, error) {
	const insertSQL = `
		INSERT INTO orders (id, asset_id, buyer, payment_mode, deposit_target, amount_expected, status)
		VALUES ($1, $2, $3, $4::payment_mode, $5, $6, 'pending')
		RETURNING ` + recordColumns

	rec, err := scanRecord(r.pool.QueryRow(ctx, insertSQL,
		params.ID, params.AssetID, params.Buyer, params.PaymentMode, depositTarget, params.AmountExpected,
	))
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
		return Record{}, fmt.Errorf("order: insert: %w", err)
	}

	return rec, nil
}

// GetByID fetches an order by its identifier.
func (r *Repository) GetByID(ctx context.Context, id string) (Record, error) {
	const query = `SELECT ` + recordColumns + ` FROM orders WHERE id = $1`

	rec, err := scanRecord(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("order: query by id: %w", err)
	}

	return rec, nil
}

// MarkFunded records the observed funding and advances pending -> funded.
// The write only applies while the stored status is still pending; a lost
// race reports applied=false and changes nothing.
func (r *Repository) MarkFunded(ctx context.Context, id string, amount int64, confirmations int) (bool, error) {
	const updateSQL = `
		UPDATE orders
		SET status = 'funded',
		    amount_received = $2,
		    confirmations_observed = $3,
		    funded_at = now(),
		    updated_at = now()
		WHERE id = $1 AND status = 'pending'
	`

	tag, err := r.pool.Exec(ctx, updateSQL, id, amount, confirmations)
	if err != nil {
		return false, fmt.Errorf("order: mark funded: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CommitFinalized writes all settlement facts and advances funded ->
// finalized in one atomic statement. This is the single point of
// externally-visible state change in finalization; a lost race reports
// applied=false and writes nothing.
func (r *Repository) CommitFinalized(ctx context.Context, id string, facts SettlementFacts) (bool, error) {
	const updateSQL = `
		UPDATE orders
		SET status = 'finalized',
		    settlement_tx_ref = $2,
		    attestation_hash = $3,
		    anchor_tx_ref = $4,
		    registry_token_ref = $5,
		    content_hash = $6,
		    credential_hash = $7,
		    archive_hash = $8,
		    compliance_score = $9,
		    finalized_at = now(),
		    updated_at = now()
		WHERE id = $1 AND status = 'funded'
	`

	tag, err := r.pool.Exec(ctx, updateSQL, id,
		facts.SettlementTxRef,
		facts.AttestationHash,
		facts.AnchorTxRef,
		facts.RegistryTokenRef,
		facts.ContentHash,
		facts.CredentialHash,
		facts.ArchiveHash,
		facts.ComplianceScore,
	)
	if err != nil {
		return false, fmt.Errorf("order: commit finalized: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReserveMintCheckpoint records that the irreversible settlement effects are
// about to be attempted for the order and returns the checkpoint, including
// any settlement tx ref or token recorded by an earlier attempt. The first
// caller's key wins; later callers see the reserved row.
func (r *Repository) ReserveMintCheckpoint(ctx context.Context, orderID, idempotencyKey string) (Checkpoint, error) {
	const reserveSQL = `
		INSERT INTO mint_checkpoints (order_id, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (order_id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, reserveSQL, orderID, idempotencyKey); err != nil {
		return Checkpoint{}, fmt.Errorf("order: reserve mint checkpoint: %w", err)
	}

	const readSQL = `SELECT idempotency_key, settlement_tx_ref, token_ref FROM mint_checkpoints WHERE order_id = $1`
	var cp Checkpoint
	if err := r.pool.QueryRow(ctx, readSQL, orderID).Scan(&cp.IdempotencyKey, &cp.SettlementTxRef, &cp.TokenRef); err != nil {
		return Checkpoint{}, fmt.Errorf("order: read mint checkpoint: %w", err)
	}
	return cp, nil
}

// RecordSettlementTx stores the ledger-sweep reference on the checkpoint so
// retried finalize attempts reuse it instead of moving funds again.
func (r *Repository) RecordSettlementTx(ctx context.Context, orderID, txRef string) error {
	const updateSQL = `
		UPDATE mint_checkpoints
		SET settlement_tx_ref = $2
		WHERE order_id = $1 AND (settlement_tx_ref IS NULL OR settlement_tx_ref = $2)
	`
	tag, err := r.pool.Exec(ctx, updateSQL, orderID, txRef)
	if err != nil {
		return fmt.Errorf("order: record settlement tx: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order: mint checkpoint for %s already holds a different settlement tx", orderID)
	}
	return nil
}

// RecordMintedToken stores the registry token on the checkpoint so retried
// finalize attempts reuse it instead of minting again.
func (r *Repository) RecordMintedToken(ctx context.Context, orderID, tokenRef string) error {
	const updateSQL = `
		UPDATE mint_checkpoints
		SET token_ref = $2
		WHERE order_id = $1 AND (token_ref IS NULL OR token_ref = $2)
	`
	tag, err := r.pool.Exec(ctx, updateSQL, orderID, tokenRef)
	if err != nil {
		return fmt.Errorf("order: record minted token: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order: mint checkpoint for %s already holds a different token", orderID)
	}
	return nil
}

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(
		&rec.ID,
		&rec.AssetID,
		&rec.Buyer,
		&rec.PaymentMode,
		&rec.DepositTarget,
		&rec.AmountExpected,
		&rec.AmountReceived,
		&rec.ConfirmationsObserved,
		&rec.SettlementTxRef,
		&rec.AttestationHash,
		&rec.AnchorTxRef,
		&rec.RegistryTokenRef,
		&rec.ContentHash,
		&rec.CredentialHash,
		&rec.ArchiveHash,
		&rec.ComplianceScore,
		&rec.Status,
		&rec.ClaimedBy,
		&rec.CreatedAt,
		&rec.UpdatedAt,
		&rec.FundedAt,
		&rec.FinalizedAt,
	)
	if err != nil {
		return Record{}, err
	}
	return rec, nil
}
