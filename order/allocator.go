package order

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"mintflow/escrow"
)

// Allocator derives the deposit target a buyer pays into for a given order.
// Allocation is idempotent on both rails: the same order always maps to the
// same target.
type Allocator struct {
	escrow escrow.Client
}

// NewAllocator builds an allocator backed by the escrow network client.
func NewAllocator(ec escrow.Client) *Allocator {
	return &Allocator{escrow: ec}
}

// Allocate returns the deposit target for the order. Instant-ledger targets
// are derived locally as sha256(orderID), reproducible by any party holding
// the order id; native-chain targets come from the escrow network, which
// binds a one-time address to the order on its side.
func (a *Allocator) Allocate(ctx context.Context, orderID string, mode PaymentMode) (string, error) {
	if orderID == "" {
		return "", fmt.Errorf("order: allocate: empty order id")
	}

	switch mode {
	case ModeInstantLedger:
		sum := sha256.Sum256([]byte(orderID))
		return hex.EncodeToString(sum[:]), nil
	case ModeNativeChain:
		target, err := a.escrow.AllocateAddress(ctx, orderID)
		if err != nil {
			return "", fmt.Errorf("order: allocate native address: %w", err)
		}
		return target, nil
	default:
		return "", fmt.Errorf("order: allocate: unknown payment mode %q", mode)
	}
}
