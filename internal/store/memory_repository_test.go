package store

import (
	"context"
	"errors"
	"testing"

	"github.com/keydrop/drop-service/internal/domain"
)

func seedDrop(t *testing.T, repo *MemoryRepository) domain.DropID {
	t.Helper()
	ctx := context.Background()
	dropID, err := repo.AllocateDropID(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	drop := &domain.Drop{
		ID:      dropID,
		OwnerID: "alice",
		Payload: domain.Payload{
			Type: domain.PayloadNonFungibleToken,
			NFT:  &domain.NFTPayload{SenderID: "s", ContractID: "c", LongestTokenID: "long-token-id"},
		},
		FundingStatus: domain.FundingFunded,
	}
	if err := repo.SaveDrop(ctx, drop); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return dropID
}

func TestDebitFunderBalance(t *testing.T) {
	repo := NewMemoryRepository()
	repo.SeedFunderBalance("alice", 100)
	ctx := context.Background()

	if err := repo.DebitFunderBalance(ctx, "alice", 60); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.DebitFunderBalance(ctx, "alice", 60); !errors.Is(err, ErrInsufficientBalance) {
		t.Fatalf("expected ErrInsufficientBalance, got %v", err)
	}
	if err := repo.DebitFunderBalance(ctx, "nobody", 1); !errors.Is(err, ErrFunderNotFound) {
		t.Fatalf("expected ErrFunderNotFound, got %v", err)
	}

	balance, err := repo.FindFunderBalance(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if balance != 40 {
		t.Fatalf("expected balance=40, got %d", balance)
	}
}

func TestInsertKeysIsAllOrNothing(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	first := seedDrop(t, repo)
	second := seedDrop(t, repo)

	if err := repo.InsertKeys(ctx, first, []domain.KeyInfo{{PublicKey: "pk1"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Cross-drop duplicate rejects the whole batch.
	err := repo.InsertKeys(ctx, second, []domain.KeyInfo{{PublicKey: "pk2"}, {PublicKey: "pk1"}})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}
	if _, ok, _ := repo.FindDropIDByPublicKey(ctx, "pk2"); ok {
		t.Fatal("expected pk2 to stay unregistered after batch rejection")
	}

	// In-batch duplicate rejects too.
	err = repo.InsertKeys(ctx, second, []domain.KeyInfo{{PublicKey: "pk3"}, {PublicKey: "pk3"}})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("expected ErrDuplicateKey, got %v", err)
	}

	count, _ := repo.CountKeys(ctx, second)
	if count != 0 {
		t.Fatalf("expected 0 keys in second drop, got %d", count)
	}
}

func TestTokenProbeRestoresStorageUsage(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	dropID := seedDrop(t, repo)

	before, err := repo.StorageUsage(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := repo.AppendTokenID(ctx, dropID, "probe-token-of-longest-expected-length"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	during, _ := repo.StorageUsage(ctx)
	if during <= before {
		t.Fatalf("expected usage to grow during probe: before=%d during=%d", before, during)
	}

	if err := repo.RemoveLastTokenID(ctx, dropID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	after, _ := repo.StorageUsage(ctx)
	if after != before {
		t.Fatalf("expected usage restored to %d, got %d", before, after)
	}
}

func TestTransitionFundingStatusIsCompareAndSwap(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	dropID, _ := repo.AllocateDropID(ctx)
	drop := &domain.Drop{
		ID:            dropID,
		OwnerID:       "alice",
		Payload:       domain.Payload{Type: domain.PayloadFungibleToken, FT: &domain.FTPayload{ContractID: "c", SenderID: "s", AmountPerUse: 1}},
		FundingStatus: domain.FundingPending,
	}
	if err := repo.SaveDrop(ctx, drop); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	swapped, err := repo.TransitionFundingStatus(ctx, dropID, domain.FundingPending, domain.FundingFunded)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !swapped {
		t.Fatal("expected first transition to swap")
	}

	swapped, err = repo.TransitionFundingStatus(ctx, dropID, domain.FundingPending, domain.FundingFailed)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if swapped {
		t.Fatal("expected second transition from stale state to be rejected")
	}

	loaded, _ := repo.FindDropByID(ctx, dropID)
	if loaded.FundingStatus != domain.FundingFunded {
		t.Fatalf("expected funded status, got %s", loaded.FundingStatus)
	}
}

func TestDeleteDropReleasesKeys(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	dropID := seedDrop(t, repo)

	if err := repo.InsertKeys(ctx, dropID, []domain.KeyInfo{{PublicKey: "pk1"}, {PublicKey: "pk2"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.DeleteDrop(ctx, dropID); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := repo.FindDropByID(ctx, dropID); !errors.Is(err, ErrDropNotFound) {
		t.Fatalf("expected ErrDropNotFound, got %v", err)
	}
	for _, pk := range []string{"pk1", "pk2"} {
		if _, ok, _ := repo.FindDropIDByPublicKey(ctx, pk); ok {
			t.Fatalf("expected %s to be released", pk)
		}
	}

	// The keys are free for a new drop now.
	other := seedDrop(t, repo)
	if err := repo.InsertKeys(ctx, other, []domain.KeyInfo{{PublicKey: "pk1"}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFindDropByIDReturnsIsolatedCopy(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	dropID := seedDrop(t, repo)

	loaded, err := repo.FindDropByID(ctx, dropID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	loaded.OwnerID = "mallory"
	loaded.Payload.NFT.TokenIDs = append(loaded.Payload.NFT.TokenIDs, "stray")

	reloaded, _ := repo.FindDropByID(ctx, dropID)
	if reloaded.OwnerID != "alice" {
		t.Fatalf("stored drop mutated through returned copy: owner=%s", reloaded.OwnerID)
	}
	if len(reloaded.Payload.NFT.TokenIDs) != 0 {
		t.Fatalf("stored drop mutated through returned copy: tokens=%v", reloaded.Payload.NFT.TokenIDs)
	}
}

func TestIncrementRegisteredUses(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	dropID := seedDrop(t, repo)

	if err := repo.IncrementRegisteredUses(ctx, dropID, 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := repo.IncrementRegisteredUses(ctx, 9999, 1); !errors.Is(err, ErrDropNotFound) {
		t.Fatalf("expected ErrDropNotFound, got %v", err)
	}

	drop, _ := repo.FindDropByID(ctx, dropID)
	if drop.RegisteredUses != 3 {
		t.Fatalf("expected registered uses=3, got %d", drop.RegisteredUses)
	}
}

func TestFeeScheduleLookup(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if _, err := repo.FindFeeSchedule(ctx, "alice"); !errors.Is(err, ErrFeeScheduleNotFound) {
		t.Fatalf("expected ErrFeeScheduleNotFound, got %v", err)
	}

	repo.SetFeeSchedule("alice", domain.FeeSchedule{DropFee: 5, KeyFee: 1})
	fees, err := repo.FindFeeSchedule(ctx, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fees.DropFee != 5 || fees.KeyFee != 1 {
		t.Fatalf("unexpected schedule: %+v", fees)
	}
}
