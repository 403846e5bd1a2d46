/**
 * @description
 * This file defines the `Repository` interface, the contract for all state the
 * admission engine touches: the per-funder prepaid balance ledger, the drop
 * store, the key table with its global reverse index, and the storage-usage
 * meter. Defining an interface decouples the admission logic from the
 * PostgreSQL implementation and lets tests run against the in-memory one.
 *
 * @dependencies
 * - context: Standard Go library.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"errors"

	"github.com/keydrop/drop-service/internal/domain"
)

var (
	ErrFunderNotFound      = errors.New("funder balance not found")
	ErrFeeScheduleNotFound = errors.New("no fee schedule for funder")
	ErrInsufficientBalance = errors.New("insufficient prepaid balance")
	ErrDropNotFound        = errors.New("drop not found")
	ErrDuplicateKey        = errors.New("key already belongs to a drop")
	ErrKeyNotFound         = errors.New("key not found")
)

// Repository defines the set of methods for interacting with persisted state.
//
// The storage-usage meter is intentionally opaque: callers bracket a mutation
// with two Usage reads and treat the delta as the physically measured
// footprint, because storage pricing depends on physical encoding rather than
// logical size.
type Repository interface {
	// Balance ledger. Balances are monotonic unsigned amounts: a debit that
	// would go negative fails with ErrInsufficientBalance and leaves the
	// balance untouched.
	FindFunderBalance(ctx context.Context, funderID string) (uint64, error)
	DebitFunderBalance(ctx context.Context, funderID string, amount uint64) error
	CreditFunderBalance(ctx context.Context, funderID string, amount uint64) error

	// Fee schedule and collected-fee bookkeeping.
	FindFeeSchedule(ctx context.Context, funderID string) (*domain.FeeSchedule, error)
	AccrueCollectedFees(ctx context.Context, amount uint64) error

	// Drop store.
	AllocateDropID(ctx context.Context) (domain.DropID, error)
	SaveDrop(ctx context.Context, drop *domain.Drop) error
	FindDropByID(ctx context.Context, dropID domain.DropID) (*domain.Drop, error)
	DeleteDrop(ctx context.Context, dropID domain.DropID) error

	// TransitionFundingStatus is a compare-and-swap on the persisted funding
	// status. It reports false (without error) when the drop was not in the
	// expected `from` state, making the FT continuation at-most-once.
	TransitionFundingStatus(ctx context.Context, dropID domain.DropID, from, to domain.FundingStatus) (bool, error)

	// Key table plus the global public key -> drop id reverse index.
	// InsertKeys is all-or-nothing: if any key already has an owner the whole
	// batch fails with ErrDuplicateKey and no key from the batch is visible.
	InsertKeys(ctx context.Context, dropID domain.DropID, keys []domain.KeyInfo) error
	RemoveKeys(ctx context.Context, dropID domain.DropID, publicKeys []string) error
	FindDropIDByPublicKey(ctx context.Context, publicKey string) (domain.DropID, bool, error)
	FindKeysByDropID(ctx context.Context, dropID domain.DropID) ([]domain.KeyInfo, error)
	CountKeys(ctx context.Context, dropID domain.DropID) (int, error)

	// NFT token-id queue. AppendTokenID/RemoveLastTokenID are also used as the
	// admission-time probe that isolates the per-token storage surcharge.
	AppendTokenID(ctx context.Context, dropID domain.DropID, tokenID string) error
	RemoveLastTokenID(ctx context.Context, dropID domain.DropID) error

	// Asset-funding bookkeeping.
	IncrementRegisteredUses(ctx context.Context, dropID domain.DropID, n uint64) error

	// StorageUsage reports the current physical storage footprint in bytes.
	StorageUsage(ctx context.Context) (uint64, error)
}
