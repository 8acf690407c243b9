package dispute

import (
	"context"
	"fmt"
)

// Store defines the data access required by the service.
type Store interface {
	Insert(ctx context.Context, params RaiseParams) (Record, error)
	GetByID(ctx context.Context, id string) (Record, error)
	SetJudgement(ctx context.Context, id string, upheld bool) (Record, error)
	Resolve(ctx context.Context, id string) (Record, error)
	ListByAsset(ctx context.Context, assetID string) ([]Record, error)
}

// Service exposes the dispute state machine: raised -> upheld|rejected ->
// resolved, with every transition guarded by a conditional update.
type Service struct {
	repo Store
}

// NewService builds a Service using the provided repository.
func NewService(repo Store) *Service {
	return &Service{repo: repo}
}

// Raise records a new contest against an asset. The evidence reference and
// target tag are immutable once written.
func (s *Service) Raise(ctx context.Context, params RaiseParams) (Record, error) {
	if params.ID == "" {
		return Record{}, fmt.Errorf("dispute: id required")
	}
	if params.AssetID == "" {
		return Record{}, fmt.Errorf("dispute: asset id required")
	}
	if params.TargetTag == "" {
		return Record{}, fmt.Errorf("dispute: target tag required")
	}
	if params.EvidenceRef == "" {
		return Record{}, fmt.Errorf("dispute: evidence ref required")
	}

	return s.repo.Insert(ctx, params)
}

// Get returns the dispute record.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.repo.GetByID(ctx, id)
}

// SetJudgement applies the arbitration outcome to a raised dispute.
func (s *Service) SetJudgement(ctx context.Context, id string, upheld bool) (Record, error) {
	return s.repo.SetJudgement(ctx, id, upheld)
}

// Resolve closes a judged dispute.
func (s *Service) Resolve(ctx context.Context, id string) (Record, error) {
	return s.repo.Resolve(ctx, id)
}

// ListByAsset returns the disputes raised against an asset.
func (s *Service) ListByAsset(ctx context.Context, assetID string) ([]Record, error) {
	return s.repo.ListByAsset(ctx, assetID)
}
