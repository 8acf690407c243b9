package order

import "time"

// Status is the settlement lifecycle of an order. Statuses never regress:
// every transition is a conditional write guarded on the stored value.
type Status string

const (
	StatusPending   Status = "pending"
	StatusFunded    Status = "funded"
	StatusFinalized Status = "finalized"
	// StatusError is terminal and only reachable for non-retryable
	// validation failures discovered before funding.
	StatusError Status = "error"
)

// PaymentMode selects the payment rail an order is funded on.
type PaymentMode string

const (
	// ModeInstantLedger funds through escrow ledger sub-accounts; any
	// sufficient balance counts immediately, no confirmation delay.
	ModeInstantLedger PaymentMode = "instant_ledger"
	// ModeNativeChain funds through a one-time on-chain address and a
	// minimum-confirmation policy.
	ModeNativeChain PaymentMode = "native_chain"
)

// Record mirrors the orders table. Settlement facts are nil until the order
// reaches finalized, at which point all of them except AnchorTxRef are
// guaranteed non-nil.
type Record struct {
	ID             string
	AssetID        string
	Buyer          string
	PaymentMode    PaymentMode
	DepositTarget  string
	AmountExpected int64

	AmountReceived        *int64
	ConfirmationsObserved int

	SettlementTxRef  *string
	AttestationHash  *string
	AnchorTxRef      *string
	RegistryTokenRef *string
	ContentHash      *string
	CredentialHash   *string
	ArchiveHash      *string
	ComplianceScore  *int

	Status    Status
	ClaimedBy *string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	FundedAt    *time.Time
	FinalizedAt *time.Time
}

// CreateParams contains the caller-supplied order facts.
type CreateParams struct {
	ID             string
	AssetID        string
	Buyer          string
	PaymentMode    PaymentMode
	AmountExpected int64
}

// Checkpoint mirrors the mint_checkpoints row reserved before the
// irreversible external effects of finalization. SettlementTxRef and TokenRef
// are nil until the corresponding effect has been recorded.
type Checkpoint struct {
	IdempotencyKey  string
	SettlementTxRef *string
	TokenRef        *string
}

// SettlementFacts is the complete set written in the single finalization
// commit. AnchorTxRef stays nil when anchoring did not succeed; everything
// else must be set.
type SettlementFacts struct {
	SettlementTxRef  string
	AttestationHash  string
	AnchorTxRef      *string
	RegistryTokenRef string
	ContentHash      string
	CredentialHash   string
	ArchiveHash      string
	ComplianceScore  int
}
