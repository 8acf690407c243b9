package order

import (
	"context"
	"fmt"

	"mintflow/escrow"
)

// FundingReport is the monitor's view of a deposit target. A zero-valued
// report means "unfunded so far"; it is never an error.
type FundingReport struct {
	Funded        bool
	Amount        int64
	Confirmations int
	// TxRef is the funding transaction observed on the native chain; empty
	// on the instant-ledger rail.
	TxRef string
}

// Monitor checks whether an order's deposit target has been funded. Network
// failures are returned as errors for the caller to retry later; they never
// mark the order as failed and never regress its status.
type Monitor struct {
	escrow           escrow.Client
	minConfirmations int
}

// NewMonitor builds a monitor applying minConfirmations to the native-chain
// rail. Instant-ledger funding has no confirmation delay.
func NewMonitor(ec escrow.Client, minConfirmations int) *Monitor {
	if minConfirmations < 0 {
		minConfirmations = 0
	}
	return &Monitor{escrow: ec, minConfirmations: minConfirmations}
}

// CheckFunding queries the escrow network for the order's funding state.
func (m *Monitor) CheckFunding(ctx context.Context, rec Record) (FundingReport, error) {
	switch rec.PaymentMode {
	case ModeNativeChain:
		info, err := m.escrow.FundingStatus(ctx, rec.DepositTarget)
		if err != nil {
			return FundingReport{}, fmt.Errorf("order: check native funding: %w", err)
		}
		funded := info.Amount >= rec.AmountExpected && info.Confirmations >= m.minConfirmations
		return FundingReport{
			Funded:        funded,
			Amount:        info.Amount,
			Confirmations: info.Confirmations,
			TxRef:         info.TxRef,
		}, nil

	case ModeInstantLedger:
		balance, err := m.escrow.LedgerBalance(ctx, rec.DepositTarget)
		if err != nil {
			return FundingReport{}, fmt.Errorf("order: check ledger funding: %w", err)
		}
		if balance < rec.AmountExpected {
			return FundingReport{}, nil
		}
		return FundingReport{Funded: true, Amount: balance, Confirmations: 1}, nil

	default:
		return FundingReport{}, fmt.Errorf("order: check funding: unknown payment mode %q", rec.PaymentMode)
	}
}
