package order

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"

	"mintflow/anchor"
	"mintflow/asset"
	"mintflow/credential"
	"mintflow/registry"

	"mintflow/escrow"
)

var (
	// ErrInvalidState signals a finalize attempt on an order that is not
	// funded (and not already finalized). Callers must not retry blindly.
	ErrInvalidState = errors.New("order: invalid state")
)

// Store defines the record-store access the coordinator needs. Everything
// that mutates status is a conditional write; there is no plain update.
type Store interface {
	Insert(ctx context.Context, params CreateParams, depositTarget string) (Record, error)
	GetByID(ctx context.Context, id string) (Record, error)
	MarkFunded(ctx context.Context, id string, amount int64, confirmations int) (bool, error)
	CommitFinalized(ctx context.Context, id string, facts SettlementFacts) (bool, error)
	ReserveMintCheckpoint(ctx context.Context, orderID, idempotencyKey string) (Checkpoint, error)
	RecordSettlementTx(ctx context.Context, orderID, txRef string) error
	RecordMintedToken(ctx context.Context, orderID, tokenRef string) error
}

// AssetCatalog resolves the asset an order licenses.
type AssetCatalog interface {
	Get(ctx context.Context, id string) (asset.Record, error)
}

// TargetAllocator derives deposit targets.
type TargetAllocator interface {
	Allocate(ctx context.Context, orderID string, mode PaymentMode) (string, error)
}

// FundingChecker observes deposit funding.
type FundingChecker interface {
	CheckFunding(ctx context.Context, rec Record) (FundingReport, error)
}

// Coordinator drives the settlement state machine pending -> funded ->
// finalized. It holds no record state of its own; correctness under
// concurrent callers comes entirely from the store's conditional updates.
type Coordinator struct {
	repo      Store
	assets    AssetCatalog
	allocator TargetAllocator
	monitor   FundingChecker
	escrow    escrow.Client
	registry  registry.Client
	issuer    *credential.Issuer
	anchors   anchor.Publisher
	logger    *slog.Logger

	minConfirmations int
}

// NewCoordinator wires the coordinator with explicitly-constructed
// dependencies so tests can substitute fakes for the external networks.
func NewCoordinator(
	repo Store,
	assets AssetCatalog,
	allocator TargetAllocator,
	monitor FundingChecker,
	ec escrow.Client,
	rc registry.Client,
	issuer *credential.Issuer,
	anchors anchor.Publisher,
	minConfirmations int,
	logger *slog.Logger,
) *Coordinator {
	if anchors == nil {
		anchors = anchor.Disabled{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		repo:             repo,
		assets:           assets,
		allocator:        allocator,
		monitor:          monitor,
		escrow:           ec,
		registry:         rc,
		issuer:           issuer,
		anchors:          anchors,
		minConfirmations: minConfirmations,
		logger:           logger,
	}
}

// Create allocates a deposit target and inserts the pending order.
func (c *Coordinator) Create(ctx context.Context, params CreateParams) (Record, error) {
	if params.ID == "" {
		return Record{}, fmt.Errorf("order: id required")
	}
	if params.Buyer == "" {
		return Record{}, fmt.Errorf("order: buyer required")
	}
	if params.AmountExpected <= 0 {
		return Record{}, fmt.Errorf("order: amount expected must be positive")
	}
	if params.PaymentMode != ModeInstantLedger && params.PaymentMode != ModeNativeChain {
		return Record{}, fmt.Errorf("order: unknown payment mode %q", params.PaymentMode)
	}

	if _, err := c.assets.Get(ctx, params.AssetID); err != nil {
		if errors.Is(err, asset.ErrNotFound) {
			return Record{}, ErrUnknownAsset
		}
		return Record{}, fmt.Errorf("order: resolve asset: %w", err)
	}

	target, err := c.allocator.Allocate(ctx, params.ID, params.PaymentMode)
	if err != nil {
		return Record{}, err
	}

	return c.repo.Insert(ctx, params, target)
}

// Get returns the current order record.
func (c *Coordinator) Get(ctx context.Context, id string) (Record, error) {
	return c.repo.GetByID(ctx, id)
}

// SyncFunding runs one funding check and, if the deposit is funded, advances
// pending -> funded with a conditional write. A lost race against another
// checker is a silent no-op; monitor failures are transient and leave the
// record unchanged.
func (c *Coordinator) SyncFunding(ctx context.Context, id string) (Record, error) {
	rec, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.Status != StatusPending {
		return rec, nil
	}

	report, err := c.monitor.CheckFunding(ctx, rec)
	if err != nil {
		return rec, err
	}
	if !report.Funded {
		return rec, nil
	}

	applied, err := c.repo.MarkFunded(ctx, id, report.Amount, report.Confirmations)
	if err != nil {
		return rec, err
	}
	if !applied {
		c.logger.Debug("funding race lost, another caller advanced the order", "order", id)
	}

	return c.repo.GetByID(ctx, id)
}

// Finalize converts a funded order into a minted license plus evidence
// artifacts, exactly once. Calling it again after success returns the stored
// settlement facts unchanged. Failures before the commit leave the record
// funded and are safe to retry: both irreversible effects (the ledger sweep
// and the registry mint) run under the checkpoint, which records their
// references so a retry reuses them, and both carry order-derived idempotency
// keys so the external networks can deduplicate concurrent attempts.
func (c *Coordinator) Finalize(ctx context.Context, id string) (Record, error) {
	rec, err := c.repo.GetByID(ctx, id)
	if err != nil {
		return Record{}, err
	}
	if rec.Status == StatusFinalized {
		return rec, nil
	}
	if rec.Status != StatusFunded {
		return Record{}, fmt.Errorf("%w: finalize requires funded, order %s is %s", ErrInvalidState, id, rec.Status)
	}

	ast, err := c.assets.Get(ctx, rec.AssetID)
	if err != nil {
		return Record{}, fmt.Errorf("order: resolve asset for finalize: %w", err)
	}

	contentSum := sha256.Sum256([]byte(ast.ContentRef))
	contentHash := hex.EncodeToString(contentSum[:])

	cp, err := c.repo.ReserveMintCheckpoint(ctx, rec.ID, registry.IdempotencyKey(rec.ID))
	if err != nil {
		return Record{}, err
	}

	settlementTxRef, err := c.settleFunds(ctx, rec, ast, cp)
	if err != nil {
		return Record{}, err
	}

	tokenRef, err := c.mintToken(ctx, rec, ast, cp)
	if err != nil {
		return Record{}, err
	}

	cred, credHash, err := c.issuer.Issue(credential.Facts{
		OrderID:          rec.ID,
		Buyer:            rec.Buyer,
		AssetID:          rec.AssetID,
		RegistryTokenRef: tokenRef,
		SettlementTxRef:  settlementTxRef,
		ContentHash:      contentHash,
	})
	if err != nil {
		return Record{}, err
	}

	arch, err := credential.BuildArchive([]byte(ast.ContentRef), cred, credHash)
	if err != nil {
		return Record{}, err
	}

	attestation := attestationHash(tokenRef, settlementTxRef, contentHash)

	// Anchoring is best-effort: a non-ok outcome leaves AnchorTxRef nil and
	// never blocks finalization.
	var anchorRef *string
	switch outcome := c.anchors.Publish(ctx, attestation); outcome.State {
	case anchor.StateOK:
		anchorRef = &outcome.Ref
	case anchor.StateSkipped:
		c.logger.Warn("attestation not anchored", "order", id, "reason", outcome.Reason)
	case anchor.StateDisabled:
		c.logger.Debug("anchoring disabled", "order", id)
	}

	facts := SettlementFacts{
		SettlementTxRef:  settlementTxRef,
		AttestationHash:  attestation,
		AnchorTxRef:      anchorRef,
		RegistryTokenRef: tokenRef,
		ContentHash:      contentHash,
		CredentialHash:   credHash,
		ArchiveHash:      arch.Hash,
		ComplianceScore:  complianceScore(rec, c.minConfirmations),
	}

	applied, err := c.repo.CommitFinalized(ctx, id, facts)
	if err != nil {
		return Record{}, err
	}
	if !applied {
		// Lost the commit race: the winner's facts are authoritative.
		current, err := c.repo.GetByID(ctx, id)
		if err != nil {
			return Record{}, err
		}
		if current.Status == StatusFinalized {
			return current, nil
		}
		return Record{}, fmt.Errorf("%w: order %s moved to %s during finalize", ErrInvalidState, id, current.Status)
	}

	c.logger.Info("order finalized",
		"order", id,
		"token", tokenRef,
		"attestation", attestation,
		"anchored", anchorRef != nil,
	)

	return c.repo.GetByID(ctx, id)
}

// settleFunds resolves the payment-side reference bound into the attestation.
// Instant-ledger orders settle by sweeping the sub-account to the asset's
// registrant; the sweep moves funds irreversibly, so it runs under the
// checkpoint and a retry reuses the recorded reference instead of sweeping
// again. Native-chain orders reference the funding transaction the escrow
// network observed.
func (c *Coordinator) settleFunds(ctx context.Context, rec Record, ast asset.Record, cp Checkpoint) (string, error) {
	switch rec.PaymentMode {
	case ModeInstantLedger:
		if cp.SettlementTxRef != nil {
			return *cp.SettlementTxRef, nil
		}
		amount := rec.AmountExpected
		if rec.AmountReceived != nil {
			amount = *rec.AmountReceived
		}
		txRef, err := c.escrow.Transfer(ctx, ast.RegisteredBy, amount, escrow.SweepKey(rec.ID))
		if err != nil {
			return "", fmt.Errorf("order: settle ledger transfer: %w", err)
		}
		if err := c.repo.RecordSettlementTx(ctx, rec.ID, txRef); err != nil {
			return "", err
		}
		return txRef, nil
	case ModeNativeChain:
		info, err := c.escrow.FundingStatus(ctx, rec.DepositTarget)
		if err != nil {
			return "", fmt.Errorf("order: resolve funding tx: %w", err)
		}
		if info.TxRef == "" {
			return "", fmt.Errorf("order: escrow reported no funding tx for %s", rec.ID)
		}
		return info.TxRef, nil
	default:
		return "", fmt.Errorf("order: unknown payment mode %q", rec.PaymentMode)
	}
}

// mintToken performs the checkpointed, idempotent registry mint.
func (c *Coordinator) mintToken(ctx context.Context, rec Record, ast asset.Record, cp Checkpoint) (string, error) {
	if cp.TokenRef != nil {
		return *cp.TokenRef, nil
	}

	tokenRef, err := c.registry.Mint(ctx, registry.MintRequest{
		AssetRef: rec.AssetID,
		BuyerRef: rec.Buyer,
		TermsRef: ast.TermsRef,
	}, cp.IdempotencyKey)
	if err != nil {
		return "", fmt.Errorf("order: mint license: %w", err)
	}

	if err := c.repo.RecordMintedToken(ctx, rec.ID, tokenRef); err != nil {
		return "", err
	}
	return tokenRef, nil
}

// attestationHash is the compact proof-of-settlement digest binding registry,
// settlement, and content references together.
func attestationHash(tokenRef, settlementTxRef, contentHash string) string {
	h := sha256.New()
	h.Write([]byte(tokenRef))
	h.Write([]byte{0})
	h.Write([]byte(settlementTxRef))
	h.Write([]byte{0})
	h.Write([]byte(contentHash))
	return hex.EncodeToString(h.Sum(nil))
}

// complianceScore grades the funding against policy. Exact payment at policy
// scores 100; overpayment 95; funding observed 6+ confirmations past policy
// is capped at 90.
func complianceScore(rec Record, minConfirmations int) int {
	score := 100
	if rec.AmountReceived != nil && *rec.AmountReceived > rec.AmountExpected {
		score = 95
	}
	if rec.PaymentMode == ModeNativeChain && rec.ConfirmationsObserved >= minConfirmations+6 && score > 90 {
		score = 90
	}
	return score
}
