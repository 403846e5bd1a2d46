/**
 * @description
 * In-memory implementation of the `Repository` interface with byte-accurate
 * storage metering. Every drop record and key entry is charged at its encoded
 * size, so the measure-before/measure-after bracket used by the admission
 * protocol observes exact deltas. Backs unit tests and local development; the
 * PostgreSQL repository is the production implementation.
 */

package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/keydrop/drop-service/internal/domain"
)

// MemoryRepository is a process-local Repository with exact storage metering.
type MemoryRepository struct {
	mu sync.Mutex

	balances      map[string]uint64
	feeSchedules  map[string]domain.FeeSchedule
	feesCollected uint64

	nextDropID domain.DropID
	drops      map[domain.DropID]*domain.Drop

	keysByDrop map[domain.DropID][]domain.KeyInfo
	dropForKey map[string]domain.DropID

	// usage is the metered footprint; sizes remembers what each entity was
	// charged so updates and deletes stay balanced.
	usage uint64
	sizes map[string]uint64
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		balances:     make(map[string]uint64),
		feeSchedules: make(map[string]domain.FeeSchedule),
		nextDropID:   1,
		drops:        make(map[domain.DropID]*domain.Drop),
		keysByDrop:   make(map[domain.DropID][]domain.KeyInfo),
		dropForKey:   make(map[string]domain.DropID),
		sizes:        make(map[string]uint64),
	}
}

// SeedFunderBalance sets a funder's prepaid balance directly. Top-ups are an
// external collaborator's job; this exists for tests and local bootstrap.
func (r *MemoryRepository) SeedFunderBalance(funderID string, balance uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[funderID] = balance
}

// SetFeeSchedule installs a custom per-funder fee schedule.
func (r *MemoryRepository) SetFeeSchedule(funderID string, fees domain.FeeSchedule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feeSchedules[funderID] = fees
}

// CollectedFees reports the accrued admission fees.
func (r *MemoryRepository) CollectedFees() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.feesCollected
}

func (r *MemoryRepository) FindFunderBalance(ctx context.Context, funderID string) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	balance, ok := r.balances[funderID]
	if !ok {
		return 0, ErrFunderNotFound
	}
	return balance, nil
}

func (r *MemoryRepository) DebitFunderBalance(ctx context.Context, funderID string, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	balance, ok := r.balances[funderID]
	if !ok {
		return ErrFunderNotFound
	}
	if balance < amount {
		return ErrInsufficientBalance
	}
	r.balances[funderID] = balance - amount
	return nil
}

func (r *MemoryRepository) CreditFunderBalance(ctx context.Context, funderID string, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.balances[funderID] += amount
	return nil
}

func (r *MemoryRepository) FindFeeSchedule(ctx context.Context, funderID string) (*domain.FeeSchedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fees, ok := r.feeSchedules[funderID]
	if !ok {
		return nil, ErrFeeScheduleNotFound
	}
	return &fees, nil
}

func (r *MemoryRepository) AccrueCollectedFees(ctx context.Context, amount uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.feesCollected += amount
	return nil
}

func (r *MemoryRepository) AllocateDropID(ctx context.Context) (domain.DropID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextDropID
	r.nextDropID++
	return id, nil
}

func (r *MemoryRepository) SaveDrop(ctx context.Context, drop *domain.Drop) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	stored, err := cloneDrop(drop)
	if err != nil {
		return err
	}
	stored.UpdatedAt = time.Now().UTC()
	r.drops[stored.ID] = stored
	r.charge(dropEntity(stored.ID), stored)
	return nil
}

func (r *MemoryRepository) FindDropByID(ctx context.Context, dropID domain.DropID) (*domain.Drop, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	drop, ok := r.drops[dropID]
	if !ok {
		return nil, ErrDropNotFound
	}
	return cloneDrop(drop)
}

func (r *MemoryRepository) DeleteDrop(ctx context.Context, dropID domain.DropID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drops[dropID]; !ok {
		return ErrDropNotFound
	}
	delete(r.drops, dropID)
	r.discharge(dropEntity(dropID))
	for _, key := range r.keysByDrop[dropID] {
		delete(r.dropForKey, key.PublicKey)
		r.discharge(keyEntity(key.PublicKey))
	}
	delete(r.keysByDrop, dropID)
	return nil
}

func (r *MemoryRepository) TransitionFundingStatus(ctx context.Context, dropID domain.DropID, from, to domain.FundingStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	drop, ok := r.drops[dropID]
	if !ok {
		return false, ErrDropNotFound
	}
	if drop.FundingStatus != from {
		return false, nil
	}
	drop.FundingStatus = to
	drop.UpdatedAt = time.Now().UTC()
	r.charge(dropEntity(dropID), drop)
	return true, nil
}

func (r *MemoryRepository) InsertKeys(ctx context.Context, dropID domain.DropID, keys []domain.KeyInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.drops[dropID]; !ok {
		return ErrDropNotFound
	}
	seen := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		if _, taken := r.dropForKey[key.PublicKey]; taken {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, key.PublicKey)
		}
		if _, dup := seen[key.PublicKey]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateKey, key.PublicKey)
		}
		seen[key.PublicKey] = struct{}{}
	}
	for _, key := range keys {
		r.dropForKey[key.PublicKey] = dropID
		r.keysByDrop[dropID] = append(r.keysByDrop[dropID], key)
		r.charge(keyEntity(key.PublicKey), key)
	}
	return nil
}

func (r *MemoryRepository) RemoveKeys(ctx context.Context, dropID domain.DropID, publicKeys []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	remove := make(map[string]struct{}, len(publicKeys))
	for _, pk := range publicKeys {
		remove[pk] = struct{}{}
	}
	kept := r.keysByDrop[dropID][:0]
	for _, key := range r.keysByDrop[dropID] {
		if _, ok := remove[key.PublicKey]; ok {
			delete(r.dropForKey, key.PublicKey)
			r.discharge(keyEntity(key.PublicKey))
			continue
		}
		kept = append(kept, key)
	}
	r.keysByDrop[dropID] = kept
	return nil
}

func (r *MemoryRepository) FindDropIDByPublicKey(ctx context.Context, publicKey string) (domain.DropID, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	dropID, ok := r.dropForKey[publicKey]
	return dropID, ok, nil
}

func (r *MemoryRepository) FindKeysByDropID(ctx context.Context, dropID domain.DropID) ([]domain.KeyInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]domain.KeyInfo, len(r.keysByDrop[dropID]))
	copy(keys, r.keysByDrop[dropID])
	return keys, nil
}

func (r *MemoryRepository) CountKeys(ctx context.Context, dropID domain.DropID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.keysByDrop[dropID]), nil
}

func (r *MemoryRepository) AppendTokenID(ctx context.Context, dropID domain.DropID, tokenID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	drop, ok := r.drops[dropID]
	if !ok {
		return ErrDropNotFound
	}
	if drop.Payload.NFT == nil {
		return fmt.Errorf("drop %d has no nft payload", dropID)
	}
	drop.Payload.NFT.TokenIDs = append(drop.Payload.NFT.TokenIDs, tokenID)
	r.charge(dropEntity(dropID), drop)
	return nil
}

func (r *MemoryRepository) RemoveLastTokenID(ctx context.Context, dropID domain.DropID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	drop, ok := r.drops[dropID]
	if !ok {
		return ErrDropNotFound
	}
	if drop.Payload.NFT == nil || len(drop.Payload.NFT.TokenIDs) == 0 {
		return fmt.Errorf("drop %d has no queued token ids", dropID)
	}
	drop.Payload.NFT.TokenIDs = drop.Payload.NFT.TokenIDs[:len(drop.Payload.NFT.TokenIDs)-1]
	r.charge(dropEntity(dropID), drop)
	return nil
}

func (r *MemoryRepository) IncrementRegisteredUses(ctx context.Context, dropID domain.DropID, n uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	drop, ok := r.drops[dropID]
	if !ok {
		return ErrDropNotFound
	}
	drop.RegisteredUses += n
	drop.UpdatedAt = time.Now().UTC()
	r.charge(dropEntity(dropID), drop)
	return nil
}

func (r *MemoryRepository) StorageUsage(ctx context.Context) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.usage, nil
}

// charge records the encoded size of an entity, adjusting the meter by the
// difference from what the entity was previously charged.
func (r *MemoryRepository) charge(entity string, v interface{}) {
	size := encodedSize(entity, v)
	r.usage += size - r.sizes[entity]
	r.sizes[entity] = size
}

func (r *MemoryRepository) discharge(entity string) {
	r.usage -= r.sizes[entity]
	delete(r.sizes, entity)
}

func dropEntity(id domain.DropID) string {
	return fmt.Sprintf("drop:%d", id)
}

func keyEntity(pk string) string {
	return "key:" + pk
}

func encodedSize(entity string, v interface{}) uint64 {
	b, err := json.Marshal(v)
	if err != nil {
		return uint64(len(entity))
	}
	return uint64(len(entity) + len(b))
}

func cloneDrop(drop *domain.Drop) (*domain.Drop, error) {
	b, err := json.Marshal(drop)
	if err != nil {
		return nil, err
	}
	var out domain.Drop
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
