package asset

import (
	"context"
	"fmt"
)

// Store abstracts repository operations for the service.
type Store interface {
	Insert(ctx context.Context, params RegisterParams) (Record, error)
	GetByID(ctx context.Context, id string) (Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
}

// Service exposes business-level asset operations.
type Service struct {
	repo Store
}

// NewService builds a Service using the provided repository.
func NewService(repo Store) *Service {
	return &Service{repo: repo}
}

// Register validates and persists a new asset registration.
func (s *Service) Register(ctx context.Context, params RegisterParams) (Record, error) {
	if params.ID == "" {
		return Record{}, fmt.Errorf("asset: id required")
	}
	if params.ContentRef == "" {
		return Record{}, fmt.Errorf("asset: content ref required")
	}
	if params.TermsRef == "" {
		return Record{}, fmt.Errorf("asset: terms ref required")
	}
	if params.RegisteredBy == "" {
		return Record{}, fmt.Errorf("asset: registering identity required")
	}

	return s.repo.Insert(ctx, params)
}

// Get returns the asset record for the given identifier.
func (s *Service) Get(ctx context.Context, id string) (Record, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns up to limit asset records.
func (s *Service) List(ctx context.Context, limit int) ([]Record, error) {
	return s.repo.List(ctx, limit)
}
