/**
 * @description
 * This file contains the deferred settlement path for fungible-token drops.
 * Phase 1 (in service.go) debits the funder using a pessimistic registration
 * cost estimate and leaves the drop pending. The continuation implemented
 * here discovers the real per-registration storage cost from the external
 * token registry and either settles the difference and funds the drop, or
 * rolls the whole admission back.
 *
 * The continuation must be at-most-once effective: it re-reads the drop
 * under the service lock and only acts while the funding status is still
 * pending, transitioning it with a compare-and-swap.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/keydrop/drop-service/internal/domain"
	"github.com/keydrop/drop-service/internal/store"
)

// runStorageCheck performs the registry round trip outside the service lock,
// then hands the outcome to ResolveStorageCheck. A timed-out or failed call
// is treated the same as a negative answer: the drop is rolled back rather
// than left funded on a guess.
func (s *Service) runStorageCheck(pending pendingFTAdmission) {
	ctx, cancel := context.WithTimeout(context.Background(), s.registryTimeout)
	defer cancel()

	bounds, err := s.registry.StorageBalanceBounds(ctx, pending.ContractID)

	var actualCostPerUse uint64
	if err == nil {
		actualCostPerUse = bounds.Min
	}
	if resolveErr := s.ResolveStorageCheck(context.Background(), pending, actualCostPerUse, err); resolveErr != nil {
		log.Printf("level=error component=ft_resolver msg=\"storage check resolution failed\" drop_id=%d err=%v", pending.DropID, resolveErr)
	}
}

// ResolveStorageCheck settles a pending fungible-token admission. callErr is
// the registry round-trip outcome; actualCostPerUse is only meaningful when
// callErr is nil.
func (s *Service) ResolveStorageCheck(ctx context.Context, pending pendingFTAdmission, actualCostPerUse uint64, callErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	drop, err := s.repo.FindDropByID(ctx, pending.DropID)
	if err != nil {
		if errors.Is(err, store.ErrDropNotFound) {
			// Nothing to settle without a drop record.
			return nil
		}
		return fmt.Errorf("failed to load pending drop: %w", err)
	}
	if drop.FundingStatus != domain.FundingPending {
		return nil
	}

	if callErr != nil {
		log.Printf("level=warn component=ft_resolver msg=\"registry cost discovery failed; rolling back\" drop_id=%d contract=%s err=%v",
			pending.DropID, pending.ContractID, callErr)
		return s.rollbackPendingAdmission(ctx, drop, pending, fmt.Sprintf("registry unreachable: %v", callErr))
	}

	var totals checkedUint64
	totalUses := totals.mul(pending.UsesPerKey, pending.KeyCount)
	estimatedTotal := totals.mul(pending.EstimatedCostPerUse, totalUses)
	actualTotal := totals.mul(actualCostPerUse, totalUses)
	if totals.overflowed {
		log.Printf("level=warn component=ft_resolver msg=\"discovered registration cost not representable; rolling back\" drop_id=%d cost_per_use=%d",
			pending.DropID, actualCostPerUse)
		return s.rollbackPendingAdmission(ctx, drop, pending, "discovered registration cost exceeds the maximum representable amount")
	}

	// A shortfall is debited before the drop becomes usable; the surplus leg
	// waits until the status swap succeeds so a lost race settles nothing.
	var shortfall uint64
	if actualTotal > estimatedTotal {
		shortfall = actualTotal - estimatedTotal
		if err := s.repo.DebitFunderBalance(ctx, drop.OwnerID, shortfall); err != nil {
			if errors.Is(err, store.ErrInsufficientBalance) || errors.Is(err, store.ErrFunderNotFound) {
				log.Printf("level=warn component=ft_resolver msg=\"funder cannot cover registration shortfall; rolling back\" drop_id=%d shortfall=%d",
					pending.DropID, shortfall)
				return s.rollbackPendingAdmission(ctx, drop, pending, "insufficient balance for discovered registration cost")
			}
			return fmt.Errorf("failed to debit registration shortfall: %w", err)
		}
	}

	swapped, err := s.repo.TransitionFundingStatus(ctx, pending.DropID, domain.FundingPending, domain.FundingFunded)
	if err != nil {
		return fmt.Errorf("failed to mark drop funded: %w", err)
	}
	if !swapped {
		if shortfall > 0 {
			if err := s.repo.CreditFunderBalance(ctx, drop.OwnerID, shortfall); err != nil {
				log.Printf("level=error component=ft_resolver msg=\"failed to return shortfall after lost settlement race\" drop_id=%d amount=%d err=%v",
					pending.DropID, shortfall, err)
			}
		}
		return nil
	}

	if actualTotal < estimatedTotal {
		surplus := estimatedTotal - actualTotal
		if err := s.repo.CreditFunderBalance(ctx, drop.OwnerID, surplus); err != nil {
			log.Printf("level=error component=ft_resolver msg=\"failed to refund registration surplus\" drop_id=%d amount=%d err=%v",
				pending.DropID, surplus, err)
		}
	}

	if err := s.repo.AccrueCollectedFees(ctx, pending.FeeTotal); err != nil {
		log.Printf("level=warn component=ft_resolver msg=\"fee accrual failed\" drop_id=%d err=%v", pending.DropID, err)
	}

	drop.FundingStatus = domain.FundingFunded
	if drop.Payload.FT != nil {
		drop.Payload.FT.StorageCostPerRegistration = actualCostPerUse
	}
	if err := s.repo.SaveDrop(ctx, drop); err != nil {
		return fmt.Errorf("failed to persist discovered registration cost: %w", err)
	}

	// Tokens only become usable once funding is certain.
	s.issueTokens(ctx, pending.Keys, pending.AllowancePerKey, pending.MethodScope)
	s.publishLifecycle(ctx, "drop.funded", drop, len(pending.Keys), actualTotal, "")

	log.Printf("level=info component=ft_resolver msg=\"fungible-token drop funded\" drop_id=%d contract=%s cost_per_use=%d estimated=%d actual=%d",
		pending.DropID, pending.ContractID, actualCostPerUse, estimatedTotal, actualTotal)
	return nil
}

// rollbackPendingAdmission compensates everything phase 1 debited and marks
// the drop failed. The record and its key bindings stay in place: a failed
// drop is permanently unusable, its status is observable, and its public keys
// never become available to another drop.
func (s *Service) rollbackPendingAdmission(ctx context.Context, drop *domain.Drop, pending pendingFTAdmission, reason string) error {
	swapped, err := s.repo.TransitionFundingStatus(ctx, pending.DropID, domain.FundingPending, domain.FundingFailed)
	if err != nil {
		return fmt.Errorf("failed to mark drop failed: %w", err)
	}
	if !swapped {
		return nil
	}
	drop.FundingStatus = domain.FundingFailed

	if err := s.repo.CreditFunderBalance(ctx, drop.OwnerID, pending.DebitedTotal); err != nil {
		// The status flip already happened; the credit must not be lost.
		log.Printf("level=error component=ft_resolver msg=\"compensation credit failed\" drop_id=%d funder=%s amount=%d err=%v",
			pending.DropID, drop.OwnerID, pending.DebitedTotal, err)
		return fmt.Errorf("failed to credit compensation: %w", err)
	}

	s.publishLifecycle(ctx, "drop.failed", drop, len(pending.Keys), pending.DebitedTotal, reason)
	log.Printf("level=info component=ft_resolver msg=\"fungible-token admission rolled back\" drop_id=%d refunded=%d reason=%q",
		pending.DropID, pending.DebitedTotal, reason)
	return nil
}
