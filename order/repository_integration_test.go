package order

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// TestConditionalTransitions_Integration connects to a real PostgreSQL via
// DATABASE_URL and verifies that the guarded status writes hold up against the
// actual database, including the racing-finalizers case.
func TestConditionalTransitions_Integration(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is empty; set it to a live PostgreSQL to run integration test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect pool: %v", err)
	}
	defer pool.Close()

	if !tableExists(ctx, t, pool, "orders") || !tableExists(ctx, t, pool, "mint_checkpoints") {
		t.Skip("database schema missing; apply migrations/ first")
	}

	repo := NewRepository(pool)
	suffix := time.Now().UnixNano()
	assetID := fmt.Sprintf("itest-asset-%d", suffix)
	orderID := fmt.Sprintf("itest-order-%d", suffix)

	if _, err := pool.Exec(ctx, `INSERT INTO assets (id, title, content_ref, terms_ref, registered_by)
		VALUES ($1, 'Integration Track', 'ipfs://QmContent', 'ipfs://QmTerms', 'itest-seller')`, assetID); err != nil {
		t.Fatalf("seed asset: %v", err)
	}

	t.Cleanup(func() {
		ctx2, cancel2 := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel2()
		pool.Exec(ctx2, `DELETE FROM mint_checkpoints WHERE order_id = $1`, orderID)
		pool.Exec(ctx2, `DELETE FROM orders WHERE id = $1`, orderID)
		pool.Exec(ctx2, `DELETE FROM assets WHERE id = $1`, assetID)
	})

	rec, err := repo.Insert(ctx, CreateParams{
		ID:             orderID,
		AssetID:        assetID,
		Buyer:          "itest-buyer",
		PaymentMode:    ModeInstantLedger,
		AmountExpected: 50000,
	}, "itest-target")
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if rec.Status != StatusPending {
		t.Fatalf("expected pending, got %s", rec.Status)
	}

	// Funding is a one-shot pending -> funded write.
	applied, err := repo.MarkFunded(ctx, orderID, 50000, 1)
	if err != nil {
		t.Fatalf("mark funded: %v", err)
	}
	if !applied {
		t.Fatal("expected the first funding write to land")
	}
	applied, err = repo.MarkFunded(ctx, orderID, 50000, 1)
	if err != nil {
		t.Fatalf("mark funded (replay): %v", err)
	}
	if applied {
		t.Fatal("a repeated funding write must be a no-op")
	}

	// The mint checkpoint is reserved once; a second reservation sees the
	// recorded settlement tx and token.
	cp, err := repo.ReserveMintCheckpoint(ctx, orderID, "itest-key")
	if err != nil {
		t.Fatalf("reserve checkpoint: %v", err)
	}
	if cp.IdempotencyKey != "itest-key" || cp.SettlementTxRef != nil || cp.TokenRef != nil {
		t.Fatalf("unexpected first reservation: %+v", cp)
	}
	if err := repo.RecordSettlementTx(ctx, orderID, "itest-sweep"); err != nil {
		t.Fatalf("record settlement tx: %v", err)
	}
	if err := repo.RecordSettlementTx(ctx, orderID, "itest-sweep"); err != nil {
		t.Fatalf("record settlement tx (replay): %v", err)
	}
	if err := repo.RecordSettlementTx(ctx, orderID, "other-sweep"); err == nil {
		t.Fatal("a conflicting settlement tx must be rejected")
	}
	if err := repo.RecordMintedToken(ctx, orderID, "itest-token"); err != nil {
		t.Fatalf("record token: %v", err)
	}
	cp, err = repo.ReserveMintCheckpoint(ctx, orderID, "some-other-key")
	if err != nil {
		t.Fatalf("re-reserve checkpoint: %v", err)
	}
	if cp.IdempotencyKey != "itest-key" {
		t.Fatalf("replayed reservation must return the stored key, got %q", cp.IdempotencyKey)
	}
	if cp.SettlementTxRef == nil || *cp.SettlementTxRef != "itest-sweep" {
		t.Fatalf("replayed reservation must return the stored settlement tx, got %v", cp.SettlementTxRef)
	}
	if cp.TokenRef == nil || *cp.TokenRef != "itest-token" {
		t.Fatalf("replayed reservation must return the stored token, got %v", cp.TokenRef)
	}

	// Racing finalizers: exactly one commit lands.
	facts := SettlementFacts{
		SettlementTxRef:  "itest-sweep",
		AttestationHash:  "itest-attestation",
		RegistryTokenRef: "itest-token",
		ContentHash:      "itest-content",
		CredentialHash:   "itest-credential",
		ArchiveHash:      "itest-archive",
		ComplianceScore:  100,
	}
	const racers = 8
	wins := make([]bool, racers)
	errs := make([]error, racers)
	var wg sync.WaitGroup
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wins[i], errs[i] = repo.CommitFinalized(ctx, orderID, facts)
		}(i)
	}
	wg.Wait()

	winners := 0
	for i := 0; i < racers; i++ {
		if errs[i] != nil {
			t.Fatalf("commit %d: %v", i, errs[i])
		}
		if wins[i] {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("expected exactly one finalize commit, got %d", winners)
	}

	final, err := repo.GetByID(ctx, orderID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if final.Status != StatusFinalized || final.FinalizedAt == nil {
		t.Fatalf("expected finalized with timestamp, got %+v", final)
	}
	if final.RegistryTokenRef == nil || *final.RegistryTokenRef != "itest-token" {
		t.Fatalf("expected stored token ref, got %v", final.RegistryTokenRef)
	}
}

func tableExists(ctx context.Context, t *testing.T, pool *pgxpool.Pool, name string) bool {
	t.Helper()
	var exists bool
	err := pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_schema = 'public' AND table_name = $1)`, name).Scan(&exists)
	if err != nil {
		t.Fatalf("check table %s: %v", name, err)
	}
	return exists
}
