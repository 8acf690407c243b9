package dispute

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func raiseTestDispute(t *testing.T, svc *Service) Record {
	t.Helper()
	rec, err := svc.Raise(context.Background(), RaiseParams{
		ID:          "dp-1",
		AssetID:     "a-1",
		TargetTag:   "T1",
		EvidenceRef: "ipfs://QmEvidence",
	})
	if err != nil {
		t.Fatalf("raise: %v", err)
	}
	return rec
}

func TestRaise_InitialStateAndValidation(t *testing.T) {
	svc := NewService(newFakeDisputeStore())

	rec := raiseTestDispute(t, svc)
	if rec.Status != StatusRaised {
		t.Fatalf("expected raised, got %s", rec.Status)
	}
	if rec.TargetTag != "T1" || rec.EvidenceRef != "ipfs://QmEvidence" {
		t.Fatal("raise must record tag and evidence ref")
	}

	if _, err := svc.Raise(context.Background(), RaiseParams{ID: "dp-2", AssetID: "a-1", TargetTag: "T1"}); err == nil {
		t.Fatal("expected validation error for missing evidence ref")
	}
	if _, err := svc.Raise(context.Background(), RaiseParams{ID: "dp-1", AssetID: "a-1", TargetTag: "T1", EvidenceRef: "e"}); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestJudgementThenResolve(t *testing.T) {
	svc := NewService(newFakeDisputeStore())
	raiseTestDispute(t, svc)

	rec, err := svc.SetJudgement(context.Background(), "dp-1", true)
	if err != nil {
		t.Fatalf("judgement: %v", err)
	}
	if rec.Status != StatusUpheld {
		t.Fatalf("expected upheld, got %s", rec.Status)
	}
	if rec.JudgedAt == nil {
		t.Fatal("expected judged_at to be set")
	}

	rec, err = svc.Resolve(context.Background(), "dp-1")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if rec.Status != StatusResolved {
		t.Fatalf("expected resolved, got %s", rec.Status)
	}
	if rec.ResolvedAt == nil {
		t.Fatal("expected resolved_at to be set")
	}

	// A second resolve must fail: the dispute already left upheld/rejected.
	if _, err := svc.Resolve(context.Background(), "dp-1"); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("expected ErrBadStatus, got %v", err)
	}
}

func TestResolve_IllegalFromRaised(t *testing.T) {
	svc := NewService(newFakeDisputeStore())
	raiseTestDispute(t, svc)

	if _, err := svc.Resolve(context.Background(), "dp-1"); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("expected ErrBadStatus, got %v", err)
	}
}

func TestJudgement_OnlyFromRaised(t *testing.T) {
	svc := NewService(newFakeDisputeStore())
	raiseTestDispute(t, svc)

	if _, err := svc.SetJudgement(context.Background(), "dp-1", false); err != nil {
		t.Fatalf("judgement: %v", err)
	}
	// Judgement is one-shot: upheld/rejected cannot be re-judged.
	if _, err := svc.SetJudgement(context.Background(), "dp-1", true); !errors.Is(err, ErrBadStatus) {
		t.Fatalf("expected ErrBadStatus, got %v", err)
	}
}

func TestTransitions_UnknownDispute(t *testing.T) {
	svc := NewService(newFakeDisputeStore())

	if _, err := svc.SetJudgement(context.Background(), "dp-missing", true); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Resolve(context.Background(), "dp-missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestJudgement_ConcurrentCallersOneWins(t *testing.T) {
	svc := NewService(newFakeDisputeStore())
	raiseTestDispute(t, svc)

	const callers = 8
	outcomes := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, outcomes[i] = svc.SetJudgement(context.Background(), "dp-1", i%2 == 0)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range outcomes {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrBadStatus):
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("expected exactly one judgement to land, got %d", wins)
	}
}

// fakeDisputeStore is an in-memory Store with the conditional-update
// semantics of the SQL repository.
type fakeDisputeStore struct {
	mu      sync.Mutex
	records map[string]Record
}

func newFakeDisputeStore() *fakeDisputeStore {
	return &fakeDisputeStore{records: make(map[string]Record)}
}

func (f *fakeDisputeStore) Insert(ctx context.Context, params RaiseParams) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.records[params.ID]; exists {
		return Record{}, ErrDuplicate
	}
	now := time.Now().UTC()
	rec := Record{
		ID:          params.ID,
		AssetID:     params.AssetID,
		TargetTag:   params.TargetTag,
		EvidenceRef: params.EvidenceRef,
		Status:      StatusRaised,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	f.records[rec.ID] = rec
	return rec, nil
}

func (f *fakeDisputeStore) GetByID(ctx context.Context, id string) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

func (f *fakeDisputeStore) SetJudgement(ctx context.Context, id string, upheld bool) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Status != StatusRaised {
		return Record{}, fmt.Errorf("%w: from %s", ErrBadStatus, rec.Status)
	}
	now := time.Now().UTC()
	if upheld {
		rec.Status = StatusUpheld
	} else {
		rec.Status = StatusRejected
	}
	rec.JudgedAt = &now
	rec.UpdatedAt = now
	f.records[id] = rec
	return rec, nil
}

func (f *fakeDisputeStore) Resolve(ctx context.Context, id string) (Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.records[id]
	if !ok {
		return Record{}, ErrNotFound
	}
	if rec.Status != StatusUpheld && rec.Status != StatusRejected {
		return Record{}, fmt.Errorf("%w: from %s", ErrBadStatus, rec.Status)
	}
	now := time.Now().UTC()
	rec.Status = StatusResolved
	rec.ResolvedAt = &now
	rec.UpdatedAt = now
	f.records[id] = rec
	return rec, nil
}

func (f *fakeDisputeStore) ListByAsset(ctx context.Context, assetID string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Record, 0, 4)
	for _, rec := range f.records {
		if rec.AssetID == assetID {
			out = append(out, rec)
		}
	}
	return out, nil
}
