package app

import (
	"context"
	"errors"
	"testing"

	"github.com/keydrop/drop-service/internal/domain"
	"github.com/keydrop/drop-service/internal/store"
	"github.com/keydrop/drop-service/pkg/registryclient"
)

func ftCreateRequest() domain.CreateDropRequest {
	return domain.CreateDropRequest{
		PublicKeys: []string{"ftk1"},
		Config:     &domain.DropConfig{UsesPerKey: usesPtr(2)},
		FT: &domain.FTPayload{
			ContractID:   "token.example",
			SenderID:     "treasury",
			AmountPerUse: 5,
		},
	}
}

func TestFTDropFundsAfterCostDiscovery(t *testing.T) {
	repo := store.NewMemoryRepository()
	repo.SeedFunderBalance("alice", 1000)
	issuer := &stubIssuer{}
	registry := &stubRegistry{bounds: &registryclient.StorageBounds{Min: 8, Max: 20}}
	producer := newRecordingPublisher()
	svc := newTestService(repo, issuer, registry, producer, 10)

	dropID, err := svc.CreateDrop(context.Background(), "alice", ftCreateRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForEvent(t, producer, "drop.funded")

	// phase 1 debited 92: 50 + (10 + 10 + 2 + 10*2); the discovered cost of
	// 8 per use refunds a surplus of 4.
	balance, _ := repo.FindFunderBalance(context.Background(), "alice")
	if balance != 912 {
		t.Fatalf("expected balance=912 after surplus refund, got %d", balance)
	}

	drop, err := repo.FindDropByID(context.Background(), dropID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if drop.FundingStatus != domain.FundingFunded {
		t.Fatalf("expected funded status, got %s", drop.FundingStatus)
	}
	if drop.Payload.FT.StorageCostPerRegistration != 8 {
		t.Fatalf("expected discovered cost=8, got %d", drop.Payload.FT.StorageCostPerRegistration)
	}
	if drop.RegisteredUses != 0 {
		t.Fatalf("expected zero registered uses before tokens are supplied, got %d", drop.RegisteredUses)
	}
	// dropFee 50 + keyFee 10, collected only once funding settled
	if fees := repo.CollectedFees(); fees != 60 {
		t.Fatalf("expected collected fees=60, got %d", fees)
	}

	tokens := issuer.tokens()
	if len(tokens) != 1 {
		t.Fatalf("expected 1 token issued after funding settled, got %d", len(tokens))
	}
	if tokens[0].Allowance != 10 {
		t.Fatalf("expected allowance=10, got %d", tokens[0].Allowance)
	}
}

func TestFTDropRollsBackWhenRegistryUnreachable(t *testing.T) {
	repo := store.NewMemoryRepository()
	repo.SeedFunderBalance("alice", 1000)
	issuer := &stubIssuer{}
	registry := &stubRegistry{err: errors.New("registry down")}
	producer := newRecordingPublisher()
	svc := newTestService(repo, issuer, registry, producer, 10)

	dropID, err := svc.CreateDrop(context.Background(), "alice", ftCreateRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForEvent(t, producer, "drop.failed")

	balance, _ := repo.FindFunderBalance(context.Background(), "alice")
	if balance != 1000 {
		t.Fatalf("expected full refund to 1000, got %d", balance)
	}
	if fees := repo.CollectedFees(); fees != 0 {
		t.Fatalf("expected no fees collected on a failed admission, got %d", fees)
	}

	// The failed drop stays on record and its keys stay bound; the failure
	// must be observable and the keys must never serve another drop.
	drop, err := repo.FindDropByID(context.Background(), dropID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if drop.FundingStatus != domain.FundingFailed {
		t.Fatalf("expected failed status, got %s", drop.FundingStatus)
	}
	owner, ok, _ := repo.FindDropIDByPublicKey(context.Background(), "ftk1")
	if !ok || owner != dropID {
		t.Fatalf("expected ftk1 to stay bound to drop %d, got %d ok=%t", dropID, owner, ok)
	}
	if len(issuer.tokens()) != 0 {
		t.Fatal("expected no tokens issued on rollback")
	}

	if _, err := svc.AddKeys(context.Background(), "alice", dropID, []string{"ftk9"}); !errors.Is(err, ErrDropNotFunded) {
		t.Fatalf("expected ErrDropNotFunded on a failed drop, got %v", err)
	}
	if _, err := svc.CreateDrop(context.Background(), "alice", domain.CreateDropRequest{
		PublicKeys:    []string{"ftk1"},
		DepositPerUse: 10,
	}); !errors.Is(err, store.ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey reusing a failed drop's key, got %v", err)
	}
}

func TestFTDropRollsBackWhenShortfallUnaffordable(t *testing.T) {
	repo := store.NewMemoryRepository()
	repo.SeedFunderBalance("alice", 1000)
	issuer := &stubIssuer{}
	// No estimate was debited up front, so the discovered cost is all
	// shortfall and far beyond the remaining balance.
	registry := &stubRegistry{bounds: &registryclient.StorageBounds{Min: 1_000_000, Max: 2_000_000}}
	producer := newRecordingPublisher()
	svc := newTestService(repo, issuer, registry, producer, 0)

	dropID, err := svc.CreateDrop(context.Background(), "alice", ftCreateRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForEvent(t, producer, "drop.failed")

	balance, _ := repo.FindFunderBalance(context.Background(), "alice")
	if balance != 1000 {
		t.Fatalf("expected full refund to 1000, got %d", balance)
	}
	if fees := repo.CollectedFees(); fees != 0 {
		t.Fatalf("expected no fees collected on a failed admission, got %d", fees)
	}
	drop, err := repo.FindDropByID(context.Background(), dropID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if drop.FundingStatus != domain.FundingFailed {
		t.Fatalf("expected failed status, got %s", drop.FundingStatus)
	}
	if len(issuer.tokens()) != 0 {
		t.Fatal("expected no tokens issued on rollback")
	}
}

func TestResolveStorageCheckIsAtMostOnce(t *testing.T) {
	repo := store.NewMemoryRepository()
	repo.SeedFunderBalance("alice", 1000)
	issuer := &stubIssuer{}
	registry := &stubRegistry{bounds: &registryclient.StorageBounds{Min: 10, Max: 10}}
	producer := newRecordingPublisher()
	svc := newTestService(repo, issuer, registry, producer, 10)

	dropID, err := svc.CreateDrop(context.Background(), "alice", ftCreateRequest())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	waitForEvent(t, producer, "drop.funded")
	balanceAfterFunding, _ := repo.FindFunderBalance(context.Background(), "alice")

	// A late duplicate resolution, even one reporting failure, must not touch
	// a settled drop.
	pending := pendingFTAdmission{
		DropID:       dropID,
		OwnerID:      "alice",
		ContractID:   "token.example",
		DebitedTotal: 92,
	}
	if err := svc.ResolveStorageCheck(context.Background(), pending, 0, errors.New("late failure")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	drop, _ := repo.FindDropByID(context.Background(), dropID)
	if drop.FundingStatus != domain.FundingFunded {
		t.Fatalf("expected drop to stay funded, got %s", drop.FundingStatus)
	}
	balance, _ := repo.FindFunderBalance(context.Background(), "alice")
	if balance != balanceAfterFunding {
		t.Fatalf("expected balance unchanged at %d, got %d", balanceAfterFunding, balance)
	}
	if len(issuer.tokens()) != 1 {
		t.Fatalf("expected exactly 1 token issued, got %d", len(issuer.tokens()))
	}
}
