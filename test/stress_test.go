package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"mintflow/test/actors"
	"mintflow/test/chaos"
	"mintflow/test/infra"
	"mintflow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 90*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent actors")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func TestSettlementConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	rng := rand.New(rand.NewSource(seed))

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv(infra.EnvPGDSN) != "":
		dsn = os.Getenv(infra.EnvPGDSN)
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Fatalf("init local database: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	seedData := mustSeed(t, ctx, pool, rng)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	// funders and finalizers battling over the same order
	commitSlots := make([]int64, *flConcurrency)
	for i := 0; i < *flConcurrency; i++ {
		slot := &commitSlots[i]
		g.Go(func() error {
			return actors.Funder(ctx2, pool, seedData.orderID, seedData.amount, stop)
		})
		g.Go(func() error {
			return actors.Finalizer(ctx2, pool, seedData.orderID, seedData.idemKey, slot, stop)
		})
	}

	// claimants with distinct identities fighting for each record kind
	for _, target := range []struct{ table, id string }{
		{"assets", seedData.assetID},
		{"orders", seedData.orderID},
		{"disputes", seedData.disputeID},
	} {
		target := target
		for i := 0; i < 2; i++ {
			identity := fmt.Sprintf("wallet-%d", i)
			g.Go(func() error {
				return actors.Claimer(ctx2, pool, target.table, target.id, identity, stop)
			})
		}
	}

	// dispute machine under contention
	for i := 0; i < *flConcurrency/2+1; i++ {
		g.Go(func() error { return actors.Judge(ctx2, pool, seedData.disputeID, stop) })
		g.Go(func() error { return actors.Resolver(ctx2, pool, seedData.disputeID, stop) })
	}

	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}

	// The finalize commit is exactly-once across all racing finalizers.
	var commits int64
	for _, c := range commitSlots {
		commits += c
	}
	if commits > 1 {
		t.Fatalf("finalize committed %d times, want at most 1 (seed=%d)", commits, seed)
	}
}

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	assetID   string
	orderID   string
	disputeID string
	idemKey   string
	amount    int64
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool, rng *rand.Rand) seedIDs {
	t.Helper()
	s := seedIDs{
		assetID:   fmt.Sprintf("a-%d", rng.Int63()),
		orderID:   fmt.Sprintf("o-%d", rng.Int63()),
		disputeID: fmt.Sprintf("dp-%d", rng.Int63()),
		idemKey:   fmt.Sprintf("key-%d", rng.Int63()),
		amount:    50000,
	}

	if _, err := pool.Exec(ctx, `INSERT INTO assets (id, title, content_ref, terms_ref, registered_by)
		VALUES ($1,'Stress Track','ipfs://QmContent','ipfs://QmTerms','seller-1')`, s.assetID); err != nil {
		t.Fatalf("seed asset: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO orders (id, asset_id, buyer, payment_mode, deposit_target, amount_expected)
		VALUES ($1,$2,'buyer-1','instant_ledger',$3,$4)`, s.orderID, s.assetID, "tgt-"+s.orderID, s.amount); err != nil {
		t.Fatalf("seed order: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO disputes (id, asset_id, target_tag, evidence_ref)
		VALUES ($1,$2,'T1','ipfs://QmEvidence')`, s.disputeID, s.assetID); err != nil {
		t.Fatalf("seed dispute: %v", err)
	}
	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"orders", `SELECT id, status, amount_received, registry_token_ref, finalized_at FROM orders ORDER BY updated_at DESC LIMIT 50`},
		{"mint_checkpoints", `SELECT order_id, idempotency_key, settlement_tx_ref, token_ref, created_at FROM mint_checkpoints ORDER BY created_at DESC LIMIT 50`},
		{"disputes", `SELECT id, status, judged_at, resolved_at FROM disputes ORDER BY updated_at DESC LIMIT 50`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}
