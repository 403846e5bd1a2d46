/**
 * @description
 * This file contains the core business logic for the drop-service. The
 * `Service` struct orchestrates drop admission: it validates a funding
 * request, persists the drop shell, pessimistically measures the storage
 * footprint, computes the exact required deposit, debits the funder's prepaid
 * balance and provisions one authorization token per key.
 *
 * Key features:
 * - Synchronous admission for simple, NFT and function-call drops.
 * - Two-phase admission for fungible-token drops, whose per-use registration
 *   cost is only known after an asynchronous registry round trip.
 * - Key extension (`addKeys`) for existing drops, owner-only.
 *
 * @dependencies
 * - context, errors, fmt, log, sync, time: Standard Go libraries.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/registryclient, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/keydrop/drop-service/internal/domain"
	"github.com/keydrop/drop-service/internal/store"
	"github.com/keydrop/drop-service/pkg/rabbitmq"
	"github.com/keydrop/drop-service/pkg/registryclient"
)

var (
	ErrInvalidConfig = errors.New("invalid drop configuration")
	ErrNotDropOwner  = errors.New("only the drop owner can modify it")
	ErrDropNotFunded = errors.New("drop is not funded")
	ErrRateLimited   = errors.New("admission rate limit exceeded")
)

// Limits bounds a single admission call. The source system left these
// unbounded; violations are rejected as invalid configuration.
type Limits struct {
	MaxKeysPerBatch  int
	MaxUsesPerKey    uint64
	MaxDepositPerUse uint64
}

// TokenIssuer is the authorization-token issuance collaborator: it turns a
// public key into a bearer credential scoped to the redemption entry points.
type TokenIssuer interface {
	IssueToken(ctx context.Context, publicKey string, allowance uint64, methodScope string) error
}

// RegistryClient queries the external token registry for the storage cost of
// registering a new balance holder.
type RegistryClient interface {
	StorageBalanceBounds(ctx context.Context, contractID string) (*registryclient.StorageBounds, error)
}

// RateLimiter throttles admission calls per funder.
type RateLimiter interface {
	ConsumeRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (count int, retryAfterSeconds int, err error)
}

// Service provides the core business logic for drop admission.
type Service struct {
	// Serializes state-mutating admission operations. The storage
	// measurement bracket assumes no interleaved writes, so one call runs
	// to completion before the next begins. The FT continuation takes the
	// same lock.
	mu sync.Mutex

	repo     store.Repository
	issuer   TokenIssuer
	registry RegistryClient
	producer rabbitmq.Publisher

	model  CostModel
	limits Limits

	// Pessimistic per-use registration-cost estimate debited in FT phase 1;
	// phase 2 settles the difference against the discovered cost.
	ftRegistrationEstimate uint64

	registryTimeout time.Duration

	rateLimiter        RateLimiter
	admissionRateLimit int
}

// NewService creates a new drop admission service instance.
func NewService(
	repo store.Repository,
	issuer TokenIssuer,
	registry RegistryClient,
	producer rabbitmq.Publisher,
	model CostModel,
	limits Limits,
	ftRegistrationEstimate uint64,
	registryTimeout time.Duration,
) *Service {
	if limits.MaxKeysPerBatch <= 0 {
		limits.MaxKeysPerBatch = 100
	}
	if limits.MaxUsesPerKey == 0 {
		limits.MaxUsesPerKey = 10_000
	}
	if limits.MaxDepositPerUse == 0 {
		limits.MaxDepositPerUse = 1_000_000_000_000_000_000
	}
	if registryTimeout <= 0 {
		registryTimeout = 30 * time.Second
	}
	return &Service{
		repo:                   repo,
		issuer:                 issuer,
		registry:               registry,
		producer:               producer,
		model:                  model,
		limits:                 limits,
		ftRegistrationEstimate: ftRegistrationEstimate,
		registryTimeout:        registryTimeout,
	}
}

// SetAdmissionRateLimiter enables distributed per-funder throttling of the
// two admission entry points.
func (s *Service) SetAdmissionRateLimiter(limiter RateLimiter, perMinute int) {
	s.rateLimiter = limiter
	s.admissionRateLimit = perMinute
}

// pendingFTAdmission captures everything the phase-2 continuation needs. The
// continuation must never rely on call-stack state surviving the suspension,
// so this is assembled before the registry call is issued.
type pendingFTAdmission struct {
	DropID          domain.DropID
	OwnerID         string
	ContractID      string
	Keys            []domain.KeyInfo
	MethodScope     string
	AllowancePerKey uint64
	UsesPerKey      uint64
	KeyCount        uint64

	// Estimated registration cost folded into the phase-1 debit.
	EstimatedCostPerUse uint64

	// Everything debited in phase 1; restored in full on rollback.
	DebitedTotal uint64

	// Platform fees inside DebitedTotal. Fees on a fungible-token admission
	// are only collected once the drop actually funds.
	FeeTotal uint64
}

// CreateDrop admits a new drop for the funder and returns its id.
func (s *Service) CreateDrop(ctx context.Context, funderID string, req domain.CreateDropRequest) (domain.DropID, error) {
	if err := s.checkAdmissionRateLimit(ctx, funderID); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	payloadCount := 0
	if req.NFT != nil {
		payloadCount++
	}
	if req.FT != nil {
		payloadCount++
	}
	if req.FC != nil {
		payloadCount++
	}
	if payloadCount > 1 {
		return 0, fmt.Errorf("%w: at most one payload variant may be specified", ErrInvalidConfig)
	}
	if err := s.validateKeyBatch(req.PublicKeys); err != nil {
		return 0, err
	}

	usesPerKey := req.Config.UsesPerKeyOrDefault()
	if usesPerKey > s.limits.MaxUsesPerKey {
		return 0, fmt.Errorf("%w: uses per key %d exceeds ceiling %d", ErrInvalidConfig, usesPerKey, s.limits.MaxUsesPerKey)
	}
	if payloadCount == 0 && req.DepositPerUse == 0 {
		return 0, fmt.Errorf("%w: a simple drop cannot have a zero per-use deposit", ErrInvalidConfig)
	}
	if req.DepositPerUse > s.limits.MaxDepositPerUse {
		return 0, fmt.Errorf("%w: per-use deposit %d exceeds ceiling %d", ErrInvalidConfig, req.DepositPerUse, s.limits.MaxDepositPerUse)
	}

	methodScope := req.Config.Permission().MethodScope()
	computeBudget := s.model.DefaultComputeBudget

	var fcAttachedPerKey, noneCount uint64
	if req.FC != nil {
		var err error
		fcAttachedPerKey, noneCount, err = analyzeFunctionCallMethods(req.FC.Methods, usesPerKey)
		if err != nil {
			return 0, err
		}
		if req.FC.Config != nil && req.FC.Config.AttachedComputeBudget != nil {
			override := *req.FC.Config.AttachedComputeBudget
			if req.DepositPerUse != 0 {
				return 0, fmt.Errorf("%w: cannot override the compute budget on a drop with a per-use deposit", ErrInvalidConfig)
			}
			if override > s.model.MaxComputeBudget-s.model.FCExecuteComputeOffset {
				return 0, fmt.Errorf("%w: compute budget %d exceeds ceiling %d", ErrInvalidConfig, override, s.model.MaxComputeBudget-s.model.FCExecuteComputeOffset)
			}
			computeBudget = override + s.model.FCExecuteComputeOffset
			methodScope = domain.MethodScopeClaim
		}
	}

	fees := s.feeSchedule(ctx, funderID)
	allowancePerKey, err := allowanceForKey(s.model, computeBudget, usesPerKey)
	if err != nil {
		return 0, err
	}
	keyCount := uint64(len(req.PublicKeys))

	initialStorage, err := s.repo.StorageUsage(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read storage usage: %w", err)
	}

	dropID, err := s.repo.AllocateDropID(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate drop id: %w", err)
	}

	drop := &domain.Drop{
		ID:                    dropID,
		OwnerID:               funderID,
		Payload:               domain.Payload{Type: domain.PayloadSimple},
		DepositPerUse:         req.DepositPerUse,
		RegisteredUses:        usesPerKey * keyCount,
		RequiredComputeBudget: computeBudget,
		Config:                req.Config,
		Metadata:              req.Metadata,
		FundingStatus:         domain.FundingFunded,
		NextKeySequence:       keyCount,
		CreatedAt:             time.Now().UTC(),
	}

	switch {
	case req.NFT != nil:
		// Funded incrementally as token ids are supplied.
		drop.RegisteredUses = 0
		drop.Payload = domain.Payload{
			Type: domain.PayloadNonFungibleToken,
			NFT: &domain.NFTPayload{
				SenderID:       req.NFT.SenderID,
				ContractID:     req.NFT.ContractID,
				LongestTokenID: req.NFT.LongestTokenID,
			},
		}
	case req.FT != nil:
		drop.RegisteredUses = 0
		drop.FundingStatus = domain.FundingPending
		drop.Payload = domain.Payload{
			Type: domain.PayloadFungibleToken,
			FT: &domain.FTPayload{
				ContractID:   req.FT.ContractID,
				SenderID:     req.FT.SenderID,
				AmountPerUse: req.FT.AmountPerUse,
			},
		}
	case req.FC != nil:
		drop.Payload = domain.Payload{
			Type: domain.PayloadFunctionCall,
			FC:   &domain.FCPayload{Methods: req.FC.Methods, Config: req.FC.Config},
		}
	}

	if err := s.repo.SaveDrop(ctx, drop); err != nil {
		return 0, fmt.Errorf("failed to persist drop: %w", err)
	}

	keys := buildKeyBatch(req.PublicKeys, usesPerKey, allowancePerKey, 0)
	if err := s.repo.InsertKeys(ctx, dropID, keys); err != nil {
		// All-or-nothing: no key from a rejected batch may stay visible.
		s.unwindDrop(ctx, dropID)
		return 0, err
	}

	// NFT drops pay a per-token storage surcharge that depends on physical
	// encoding: probe it by inserting one token id of the longest expected
	// length and removing it again.
	var tokenStorageBytes uint64
	if drop.Payload.NFT != nil {
		tokenStorageBytes, err = s.probeTokenStorage(ctx, dropID, drop.Payload.NFT.LongestTokenID)
		if err != nil {
			s.unwindDrop(ctx, dropID)
			return 0, err
		}
		drop.Payload.NFT.StorageCostPerToken = tokenStorageBytes
		if err := s.repo.SaveDrop(ctx, drop); err != nil {
			s.unwindDrop(ctx, dropID)
			return 0, fmt.Errorf("failed to persist measured token storage: %w", err)
		}
	}

	finalStorage, err := s.repo.StorageUsage(ctx)
	if err != nil {
		s.unwindDrop(ctx, dropID)
		return 0, fmt.Errorf("failed to read storage usage: %w", err)
	}

	var ftEstimatePerUse uint64
	if drop.Payload.FT != nil {
		ftEstimatePerUse = s.ftRegistrationEstimate
	}

	required, err := RequiredDeposit(s.model, DepositInput{
		Fees:                     fees,
		IncludeDropFee:           true,
		StorageDeltaBytes:        finalStorage - initialStorage,
		KeyCount:                 keyCount,
		UsesPerKey:               usesPerKey,
		DepositPerUse:            req.DepositPerUse,
		AllowancePerKey:          allowancePerKey,
		NoneSpecCount:            noneCount,
		TokenStorageBytesPerUse:  tokenStorageBytes,
		FCAttachedDepositsPerKey: fcAttachedPerKey,
		FTRegistrationCostPerUse: ftEstimatePerUse,
	})
	if err != nil {
		s.unwindDrop(ctx, dropID)
		return 0, err
	}

	log.Printf("level=info component=service flow=create_drop msg=\"deposit computed\" drop_id=%d funder=%s required=%d storage_delta=%d keys=%d uses_per_key=%d allowance_per_key=%d",
		dropID, funderID, required, finalStorage-initialStorage, keyCount, usesPerKey, allowancePerKey)

	if err := s.repo.DebitFunderBalance(ctx, funderID, required); err != nil {
		s.unwindDrop(ctx, dropID)
		if errors.Is(err, store.ErrInsufficientBalance) || errors.Is(err, store.ErrFunderNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to debit funder: %w", err)
	}

	collected := fees.DropFee + fees.KeyFee*keyCount

	if drop.Payload.FT == nil {
		if err := s.repo.AccrueCollectedFees(ctx, collected); err != nil {
			log.Printf("level=warn component=service flow=create_drop msg=\"fee accrual failed\" drop_id=%d err=%v", dropID, err)
		}
		s.issueTokens(ctx, keys, allowancePerKey, methodScope)
		s.publishLifecycle(ctx, "drop.created", drop, len(keys), required, "")
		return dropID, nil
	}

	// FT path: no token may become usable before funding is certain. Capture
	// the continuation input and issue the registry query asynchronously.
	pending := pendingFTAdmission{
		DropID:              dropID,
		OwnerID:             funderID,
		ContractID:          drop.Payload.FT.ContractID,
		Keys:                keys,
		MethodScope:         methodScope,
		AllowancePerKey:     allowancePerKey,
		UsesPerKey:          usesPerKey,
		KeyCount:            keyCount,
		EstimatedCostPerUse: ftEstimatePerUse,
		DebitedTotal:        required,
		FeeTotal:            collected,
	}
	s.publishLifecycle(ctx, "drop.created", drop, len(keys), required, "awaiting registry cost discovery")
	go s.runStorageCheck(pending)

	return dropID, nil
}

// AddKeys extends an existing drop with more keys. Only the owner may call.
func (s *Service) AddKeys(ctx context.Context, funderID string, dropID domain.DropID, publicKeys []string) (domain.DropID, error) {
	if err := s.checkAdmissionRateLimit(ctx, funderID); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.validateKeyBatch(publicKeys); err != nil {
		return 0, err
	}

	drop, err := s.repo.FindDropByID(ctx, dropID)
	if err != nil {
		return 0, err
	}
	if drop.OwnerID != funderID {
		return 0, ErrNotDropOwner
	}
	if drop.FundingStatus != domain.FundingFunded {
		// FT drops accept extensions only after cost discovery; failed drops
		// never accept anything.
		return 0, fmt.Errorf("%w: status %s", ErrDropNotFunded, drop.FundingStatus)
	}

	usesPerKey := drop.Config.UsesPerKeyOrDefault()
	keyCount := uint64(len(publicKeys))
	allowancePerKey, err := allowanceForKey(s.model, drop.RequiredComputeBudget, usesPerKey)
	if err != nil {
		return 0, err
	}

	methodScope := drop.Config.Permission().MethodScope()

	var fcAttachedPerKey, noneCount uint64
	if drop.Payload.FC != nil {
		fcAttachedPerKey, noneCount, err = analyzeFunctionCallMethods(drop.Payload.FC.Methods, usesPerKey)
		if err != nil {
			return 0, err
		}
		if drop.Payload.FC.Config != nil && drop.Payload.FC.Config.AttachedComputeBudget != nil {
			methodScope = domain.MethodScopeClaim
		}
	}

	var tokenStorageBytes, ftCostPerUse uint64
	switch {
	case drop.Payload.NFT != nil:
		tokenStorageBytes = drop.Payload.NFT.StorageCostPerToken
	case drop.Payload.FT != nil:
		ftCostPerUse = drop.Payload.FT.StorageCostPerRegistration
	}

	initialStorage, err := s.repo.StorageUsage(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read storage usage: %w", err)
	}

	// Snapshot for the unwind path.
	before := *drop

	keys := buildKeyBatch(publicKeys, usesPerKey, allowancePerKey, drop.NextKeySequence)
	if err := s.repo.InsertKeys(ctx, dropID, keys); err != nil {
		return 0, err
	}

	drop.NextKeySequence += keyCount
	if drop.Payload.Type == domain.PayloadSimple || drop.Payload.Type == domain.PayloadFunctionCall {
		drop.RegisteredUses += usesPerKey * keyCount
	}
	if err := s.repo.SaveDrop(ctx, drop); err != nil {
		s.unwindAddKeys(ctx, dropID, publicKeys, &before)
		return 0, fmt.Errorf("failed to persist drop: %w", err)
	}

	finalStorage, err := s.repo.StorageUsage(ctx)
	if err != nil {
		s.unwindAddKeys(ctx, dropID, publicKeys, &before)
		return 0, fmt.Errorf("failed to read storage usage: %w", err)
	}

	fees := s.feeSchedule(ctx, funderID)
	required, err := RequiredDeposit(s.model, DepositInput{
		Fees:                     fees,
		IncludeDropFee:           false,
		StorageDeltaBytes:        finalStorage - initialStorage,
		KeyCount:                 keyCount,
		UsesPerKey:               usesPerKey,
		DepositPerUse:            drop.DepositPerUse,
		AllowancePerKey:          allowancePerKey,
		NoneSpecCount:            noneCount,
		TokenStorageBytesPerUse:  tokenStorageBytes,
		FCAttachedDepositsPerKey: fcAttachedPerKey,
		FTRegistrationCostPerUse: ftCostPerUse,
	})
	if err != nil {
		s.unwindAddKeys(ctx, dropID, publicKeys, &before)
		return 0, err
	}

	log.Printf("level=info component=service flow=add_keys msg=\"deposit computed\" drop_id=%d funder=%s required=%d storage_delta=%d keys=%d",
		dropID, funderID, required, finalStorage-initialStorage, keyCount)

	if err := s.repo.DebitFunderBalance(ctx, funderID, required); err != nil {
		s.unwindAddKeys(ctx, dropID, publicKeys, &before)
		if errors.Is(err, store.ErrInsufficientBalance) || errors.Is(err, store.ErrFunderNotFound) {
			return 0, err
		}
		return 0, fmt.Errorf("failed to debit funder: %w", err)
	}

	if err := s.repo.AccrueCollectedFees(ctx, fees.KeyFee*keyCount); err != nil {
		log.Printf("level=warn component=service flow=add_keys msg=\"fee accrual failed\" drop_id=%d err=%v", dropID, err)
	}

	s.issueTokens(ctx, keys, allowancePerKey, methodScope)
	s.publishLifecycle(ctx, "drop.keys_added", drop, len(keys), required, "")

	return dropID, nil
}

// GetDrop returns the owner-facing view of a single drop.
func (s *Service) GetDrop(ctx context.Context, funderID string, dropID domain.DropID) (*domain.DropView, error) {
	drop, err := s.repo.FindDropByID(ctx, dropID)
	if err != nil {
		return nil, err
	}
	if drop.OwnerID != funderID {
		return nil, ErrNotDropOwner
	}
	keyCount, err := s.repo.CountKeys(ctx, dropID)
	if err != nil {
		return nil, err
	}
	return &domain.DropView{
		ID:             drop.ID,
		OwnerID:        drop.OwnerID,
		PayloadType:    drop.Payload.Type,
		DepositPerUse:  drop.DepositPerUse,
		RegisteredUses: drop.RegisteredUses,
		FundingStatus:  drop.FundingStatus,
		KeyCount:       keyCount,
		Metadata:       drop.Metadata,
		CreatedAt:      drop.CreatedAt,
	}, nil
}

// GetBalance returns a funder's current prepaid balance.
func (s *Service) GetBalance(ctx context.Context, funderID string) (uint64, error) {
	return s.repo.FindFunderBalance(ctx, funderID)
}

// AssetFundingConsumer returns the broker consumer that registers supplied
// NFT/FT assets against their drops.
func (s *Service) AssetFundingConsumer() *AssetFundingConsumer {
	return NewAssetFundingConsumer(s.repo)
}

func (s *Service) validateKeyBatch(publicKeys []string) error {
	if len(publicKeys) == 0 {
		return fmt.Errorf("%w: at least one public key is required", ErrInvalidConfig)
	}
	if len(publicKeys) > s.limits.MaxKeysPerBatch {
		return fmt.Errorf("%w: key batch size %d exceeds ceiling %d", ErrInvalidConfig, len(publicKeys), s.limits.MaxKeysPerBatch)
	}
	return nil
}

func (s *Service) checkAdmissionRateLimit(ctx context.Context, funderID string) error {
	if s.rateLimiter == nil || s.admissionRateLimit <= 0 {
		return nil
	}
	count, retryAfter, err := s.rateLimiter.ConsumeRateLimit(ctx, "drop_admission", funderID, s.admissionRateLimit, time.Minute)
	if err != nil {
		// Fail open on limiter errors.
		log.Printf("level=warn component=service msg=\"rate limiter unavailable\" funder=%s err=%v", funderID, err)
		return nil
	}
	if count > s.admissionRateLimit {
		return fmt.Errorf("%w: retry after %ds", ErrRateLimited, retryAfter)
	}
	return nil
}

func (s *Service) feeSchedule(ctx context.Context, funderID string) domain.FeeSchedule {
	fees, err := s.repo.FindFeeSchedule(ctx, funderID)
	if err != nil {
		if !errors.Is(err, store.ErrFeeScheduleNotFound) {
			log.Printf("level=warn component=service msg=\"fee schedule lookup failed; using defaults\" funder=%s err=%v", funderID, err)
		}
		return s.model.DefaultFees
	}
	return *fees
}

// probeTokenStorage measures the incremental bytes of storing one token id of
// the longest expected length, then removes the probe so total storage
// returns to its pre-probe level.
func (s *Service) probeTokenStorage(ctx context.Context, dropID domain.DropID, longestTokenID string) (uint64, error) {
	beforeProbe, err := s.repo.StorageUsage(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read storage usage: %w", err)
	}
	if err := s.repo.AppendTokenID(ctx, dropID, longestTokenID); err != nil {
		return 0, fmt.Errorf("failed to insert probe token id: %w", err)
	}
	afterProbe, err := s.repo.StorageUsage(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read storage usage: %w", err)
	}
	if err := s.repo.RemoveLastTokenID(ctx, dropID); err != nil {
		return 0, fmt.Errorf("failed to remove probe token id: %w", err)
	}
	return afterProbe - beforeProbe, nil
}

func (s *Service) issueTokens(ctx context.Context, keys []domain.KeyInfo, allowance uint64, methodScope string) {
	if s.issuer == nil {
		return
	}
	for _, key := range keys {
		if err := s.issuer.IssueToken(ctx, key.PublicKey, allowance, methodScope); err != nil {
			log.Printf("level=error component=service msg=\"token issuance failed\" public_key=%s err=%v", key.PublicKey, err)
		}
	}
}

// unwindDrop removes a partially admitted drop and its keys.
func (s *Service) unwindDrop(ctx context.Context, dropID domain.DropID) {
	if err := s.repo.DeleteDrop(ctx, dropID); err != nil && !errors.Is(err, store.ErrDropNotFound) {
		log.Printf("level=error component=service msg=\"failed to unwind drop\" drop_id=%d err=%v", dropID, err)
	}
}

func (s *Service) unwindAddKeys(ctx context.Context, dropID domain.DropID, publicKeys []string, before *domain.Drop) {
	if err := s.repo.RemoveKeys(ctx, dropID, publicKeys); err != nil {
		log.Printf("level=error component=service msg=\"failed to remove keys during unwind\" drop_id=%d err=%v", dropID, err)
	}
	if err := s.repo.SaveDrop(ctx, before); err != nil {
		log.Printf("level=error component=service msg=\"failed to restore drop during unwind\" drop_id=%d err=%v", dropID, err)
	}
}

func (s *Service) publishLifecycle(ctx context.Context, routingKey string, drop *domain.Drop, keyCount int, amount uint64, reason string) {
	if s.producer == nil {
		return
	}
	event := domain.DropLifecycleEvent{
		EventID:     uuid.New(),
		DropID:      drop.ID,
		OwnerID:     drop.OwnerID,
		PayloadType: drop.Payload.Type,
		KeyCount:    keyCount,
		Amount:      amount,
		Reason:      reason,
		Timestamp:   time.Now().UTC(),
	}
	if err := s.producer.Publish(ctx, "drop.events", routingKey, event); err != nil {
		log.Printf("level=warn component=service msg=\"lifecycle event publish failed\" routing_key=%s drop_id=%d err=%v", routingKey, drop.ID, err)
	}
}

func buildKeyBatch(publicKeys []string, usesPerKey, allowancePerKey, startSequence uint64) []domain.KeyInfo {
	keys := make([]domain.KeyInfo, 0, len(publicKeys))
	for i, pk := range publicKeys {
		keys = append(keys, domain.KeyInfo{
			PublicKey:     pk,
			RemainingUses: usesPerKey,
			LastUsed:      0, // never used, always eligible
			Allowance:     allowancePerKey,
			SequenceID:    startSequence + uint64(i),
		})
	}
	return keys
}
