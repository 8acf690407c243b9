package asset

import "time"

// Record is the licensable unit. Registration facts are immutable; only
// ClaimedBy is ever written after the insert, and at most once.
type Record struct {
	ID           string
	Title        string
	ContentRef   string
	TermsRef     string
	RegisteredBy string
	ClaimedBy    *string
	CreatedAt    time.Time
}

// RegisterParams contains the caller-supplied registration facts.
type RegisterParams struct {
	ID           string
	Title        string
	ContentRef   string
	TermsRef     string
	RegisteredBy string
}
