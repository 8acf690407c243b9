package dispute

import "time"

// Status represents the lifecycle of a dispute record. A dispute may stay
// raised indefinitely pending external arbitration; no transition skips a
// state and resolved is reachable only through a judgement.
type Status string

const (
	StatusRaised   Status = "raised"
	StatusUpheld   Status = "upheld"
	StatusRejected Status = "rejected"
	StatusResolved Status = "resolved"
)

// Record mirrors the disputes table. TargetTag and EvidenceRef are recorded
// at creation and immutable thereafter.
type Record struct {
	ID          string
	AssetID     string
	TargetTag   string
	EvidenceRef string
	Status      Status
	ClaimedBy   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	JudgedAt    *time.Time
	ResolvedAt  *time.Time
}

// RaiseParams contains the caller-supplied facts of a new dispute.
type RaiseParams struct {
	ID          string
	AssetID     string
	TargetTag   string
	EvidenceRef string
}
