package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Funder races pending -> funded with the same conditional update the
// coordinator issues after a funding check. Lost races are expected.
func Funder(ctx context.Context, pool *pgxpool.Pool, orderID string, amount int64, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `UPDATE orders
			SET amount_received=$2, confirmations_observed=3, status='funded', funded_at=NOW(), updated_at=NOW()
			WHERE id=$1 AND status='pending'`, orderID, amount)
		if err != nil && !isRetryable(err) {
			return fmt.Errorf("funder update: %w", err)
		}
		time.Sleep(time.Duration(10+rand.Intn(20)) * time.Millisecond)
	}
}

// Finalizer replays the settlement commit path: reserve the mint checkpoint,
// record the sweep and the token once, then attempt the single funded ->
// finalized write carrying the full fact set. Only one attempt per order may
// ever land.
func Finalizer(ctx context.Context, pool *pgxpool.Pool, orderID, idemKey string, commits *int64, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		var status string
		err := pool.QueryRow(ctx, `SELECT status FROM orders WHERE id=$1`, orderID).Scan(&status)
		if err != nil {
			if isRetryable(err) {
				time.Sleep(50 * time.Millisecond)
				continue
			}
			return fmt.Errorf("finalizer read: %w", err)
		}
		if status == "pending" {
			time.Sleep(20 * time.Millisecond)
			continue
		}
		if status == "finalized" {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		if _, err := pool.Exec(ctx, `INSERT INTO mint_checkpoints (order_id, idempotency_key)
			VALUES ($1,$2) ON CONFLICT DO NOTHING`, orderID, idemKey); err != nil && !isRetryable(err) {
			return fmt.Errorf("finalizer checkpoint: %w", err)
		}
		sweepRef := "swp-" + orderID
		if _, err := pool.Exec(ctx, `UPDATE mint_checkpoints SET settlement_tx_ref=$2
			WHERE order_id=$1 AND settlement_tx_ref IS NULL`, orderID, sweepRef); err != nil && !isRetryable(err) {
			return fmt.Errorf("finalizer sweep: %w", err)
		}
		tokenRef := fmt.Sprintf("tok-%s", orderID)
		if _, err := pool.Exec(ctx, `UPDATE mint_checkpoints SET token_ref=$2
			WHERE order_id=$1 AND token_ref IS NULL`, orderID, tokenRef); err != nil && !isRetryable(err) {
			return fmt.Errorf("finalizer token: %w", err)
		}

		tag, err := pool.Exec(ctx, `UPDATE orders SET
				settlement_tx_ref=$2, attestation_hash=$3, anchor_tx_ref=NULL,
				registry_token_ref=$4, content_hash=$5, credential_hash=$6,
				archive_hash=$7, compliance_score=100,
				status='finalized', finalized_at=NOW(), updated_at=NOW()
			WHERE id=$1 AND status='funded'`,
			orderID, sweepRef, "att-"+orderID, tokenRef, "ch-"+orderID, "cr-"+orderID, "ar-"+orderID)
		if err != nil {
			if isRetryable(err) {
				continue
			}
			return fmt.Errorf("finalizer commit: %w", err)
		}
		if tag.RowsAffected() > 0 && commits != nil {
			(*commits)++ // single goroutine owns the counter slot
		}
		time.Sleep(time.Duration(20+rand.Intn(40)) * time.Millisecond)
	}
}

// Claimer fights for the record's claimed_by column under the first-writer-wins
// protocol and errors if it ever sees ownership move between identities.
func Claimer(ctx context.Context, pool *pgxpool.Pool, table, recordID, identity string, stop <-chan struct{}) error {
	var observed string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET claimed_by=$2
			WHERE id=$1 AND (claimed_by IS NULL OR claimed_by=$2)`, table), recordID, identity)
		if err != nil && !isRetryable(err) {
			return fmt.Errorf("claimer update: %w", err)
		}

		var owner *string
		err = pool.QueryRow(ctx, fmt.Sprintf(`SELECT claimed_by FROM %s WHERE id=$1`, table), recordID).Scan(&owner)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) || isRetryable(err) {
				time.Sleep(30 * time.Millisecond)
				continue
			}
			return fmt.Errorf("claimer read: %w", err)
		}
		if owner != nil {
			if observed == "" {
				observed = *owner
			} else if observed != *owner {
				return fmt.Errorf("claim on %s/%s moved from %q to %q", table, recordID, observed, *owner)
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

// Judge races the one-shot raised -> upheld|rejected transition.
func Judge(ctx context.Context, pool *pgxpool.Pool, disputeID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		verdict := "rejected"
		if rand.Intn(2) == 0 {
			verdict = "upheld"
		}
		_, err := pool.Exec(ctx, `UPDATE disputes SET status=$2::dispute_status, judged_at=NOW(), updated_at=NOW()
			WHERE id=$1 AND status='raised'`, disputeID, verdict)
		if err != nil && !isRetryable(err) {
			return fmt.Errorf("judge update: %w", err)
		}
		time.Sleep(time.Duration(40+rand.Intn(60)) * time.Millisecond)
	}
}

// Resolver closes judged disputes; before the judgement lands its writes are
// no-ops by construction.
func Resolver(ctx context.Context, pool *pgxpool.Pool, disputeID string, stop <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := pool.Exec(ctx, `UPDATE disputes SET status='resolved', resolved_at=NOW(), updated_at=NOW()
			WHERE id=$1 AND status IN ('upheld','rejected')`, disputeID)
		if err != nil && !isRetryable(err) {
			return fmt.Errorf("resolver update: %w", err)
		}
		time.Sleep(time.Duration(50+rand.Intn(80)) * time.Millisecond)
	}
}

// isRetryable treats dropped connections (the chaos actor kills backends) as
// noise rather than failure.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, frag := range []string{"connection", "conn closed", "terminating", "broken pipe", "EOF"} {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
