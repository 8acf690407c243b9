package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

// All returns the invariant queries. Every query selects violating rows, so an
// empty result set means the invariant holds.
func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_finalized_facts_complete",
			SQL: `SELECT id FROM orders WHERE status='finalized' AND (
                      settlement_tx_ref IS NULL OR attestation_hash IS NULL
                      OR registry_token_ref IS NULL OR content_hash IS NULL
                      OR credential_hash IS NULL OR archive_hash IS NULL
                      OR compliance_score IS NULL OR finalized_at IS NULL)`,
		},
		{
			Name: "O2_finalized_has_minted_checkpoint",
			SQL: `SELECT o.id FROM orders o
                  LEFT JOIN mint_checkpoints m ON m.order_id = o.id
                  WHERE o.status='finalized' AND (m.order_id IS NULL OR m.token_ref IS NULL)`,
		},
		{
			Name: "O3_no_mint_before_funding",
			SQL: `SELECT m.order_id FROM mint_checkpoints m
                  JOIN orders o ON o.id = m.order_id
                  WHERE o.status='pending'`,
		},
		{
			Name: "O4_funding_timestamps",
			SQL: `SELECT id FROM orders
                  WHERE (status IN ('funded','finalized') AND (funded_at IS NULL OR amount_received IS NULL))
                     OR (status='finalized' AND finalized_at < funded_at)`,
		},
		{
			Name: "O5_funding_meets_policy",
			SQL: `SELECT id FROM orders
                  WHERE status IN ('funded','finalized') AND amount_received < amount_expected`,
		},
		{
			Name: "O6_dispute_judgement_trail",
			SQL: `SELECT id FROM disputes
                  WHERE (status IN ('upheld','rejected','resolved') AND judged_at IS NULL)
                     OR (status='resolved' AND resolved_at IS NULL)
                     OR (status='raised' AND (judged_at IS NOT NULL OR resolved_at IS NOT NULL))`,
		},
		{
			Name: "O7_token_matches_checkpoint",
			SQL: `SELECT o.id FROM orders o
                  JOIN mint_checkpoints m ON m.order_id = o.id
                  WHERE o.registry_token_ref IS NOT NULL AND o.registry_token_ref <> m.token_ref`,
		},
		{
			Name: "O8_sweep_matches_checkpoint",
			SQL: `SELECT o.id FROM orders o
                  JOIN mint_checkpoints m ON m.order_id = o.id
                  WHERE o.settlement_tx_ref IS NOT NULL AND o.settlement_tx_ref <> m.settlement_tx_ref`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}
