/**
 * @description
 * The deposit calculator: a pure function computing the exact prepaid amount a
 * funder must cover to create a drop or extend it with more keys. Every branch
 * of the payload variant changes the formula, so the calculator takes a fully
 * resolved input rather than reaching into repository state.
 *
 * Creation:
 *   required = dropFee
 *            + storageDelta * storageCostPerByte
 *            + N * ( keyFee
 *                  + allowancePerKey
 *                  + keyStorageCost
 *                  + depositPerUse * (usesPerKey - noneCount)
 *                  + tokenStorageBytes * storageCostPerByte * (usesPerKey - noneCount)
 *                  + fcAttachedDepositsPerKey
 *                  + ftRegistrationCostPerUse * usesPerKey )
 *
 * Extension drops the one-time dropFee and substitutes the drop's stored
 * payload fields.
 */

package app

import (
	"fmt"
	"math/bits"

	"github.com/keydrop/drop-service/internal/domain"
)

// CostModel holds the platform pricing constants consumed by the calculator
// and the admission protocol. Values come from configuration at bootstrap.
type CostModel struct {
	// Price of one byte of measured storage.
	StorageCostPerByte uint64

	// Fixed storage footprint charged for registering one authorization key
	// with the substrate's key-based authorization primitive.
	KeyStorageCost uint64

	// Slope of the linear base-allowance function: allowance granted per
	// compute unit reserved for a redemption.
	AllowancePerComputeUnit uint64

	// Compute budget attached per redemption when no override is configured.
	DefaultComputeBudget uint64

	// Platform ceiling on the compute budget a redemption may reserve.
	MaxComputeBudget uint64

	// Fixed compute surcharge added when a function-call drop overrides the
	// attached budget (the redemption entry point itself needs headroom).
	FCExecuteComputeOffset uint64

	// Fallback fee schedule for funders without a custom one.
	DefaultFees domain.FeeSchedule
}

// BaseAllowance sizes the spending allowance covering the worst-case compute
// cost of a single redemption. Fixed linear function of the compute budget.
func (m CostModel) BaseAllowance(computeBudget uint64) uint64 {
	return computeBudget * m.AllowancePerComputeUnit
}

// DepositInput is the fully resolved input to RequiredDeposit.
type DepositInput struct {
	Fees           domain.FeeSchedule
	IncludeDropFee bool

	// Measured storage delta for the whole operation, in bytes.
	StorageDeltaBytes uint64

	KeyCount      uint64
	UsesPerKey    uint64
	DepositPerUse uint64

	// baseAllowance(computeBudget) * usesPerKey.
	AllowancePerKey uint64

	// Number of "none" function-call uses per key; excluded from the uses
	// charged at DepositPerUse (and at the NFT token surcharge).
	NoneSpecCount uint64

	// Measured per-token storage surcharge for NFT drops, in bytes.
	TokenStorageBytesPerUse uint64

	// Total attached deposits for one key's function-call uses.
	FCAttachedDepositsPerKey uint64

	// Discovered (or estimated) external registration cost per use, FT only.
	FTRegistrationCostPerUse uint64
}

// RequiredDeposit computes the exact prepaid amount the operation needs.
// Every term runs through checked arithmetic: a formula that wraps uint64
// would admit an underfunded drop, so overflow is rejected outright.
func RequiredDeposit(m CostModel, in DepositInput) (uint64, error) {
	chargedUses := in.UsesPerKey - in.NoneSpecCount

	var c checkedUint64
	perKey := c.sum(
		in.Fees.KeyFee,
		in.AllowancePerKey,
		m.KeyStorageCost,
		c.mul(in.DepositPerUse, chargedUses),
		c.mul(c.mul(in.TokenStorageBytesPerUse, m.StorageCostPerByte), chargedUses),
		in.FCAttachedDepositsPerKey,
		c.mul(in.FTRegistrationCostPerUse, in.UsesPerKey),
	)

	required := c.sum(
		c.mul(in.StorageDeltaBytes, m.StorageCostPerByte),
		c.mul(in.KeyCount, perKey),
	)
	if in.IncludeDropFee {
		required = c.sum(required, in.Fees.DropFee)
	}
	if c.overflowed {
		return 0, fmt.Errorf("%w: required deposit exceeds the maximum representable amount", ErrInvalidConfig)
	}
	return required, nil
}

// checkedUint64 accumulates overflow across a chain of uint64 operations so
// the whole formula can be validated with a single check at the end.
type checkedUint64 struct {
	overflowed bool
}

func (c *checkedUint64) mul(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		c.overflowed = true
	}
	return lo
}

func (c *checkedUint64) sum(terms ...uint64) uint64 {
	var total uint64
	for _, term := range terms {
		s, carry := bits.Add64(total, term, 0)
		if carry != 0 {
			c.overflowed = true
		}
		total = s
	}
	return total
}

// allowanceForKey sizes one key's total spending allowance: the per-use base
// allowance multiplied by the key's use count, overflow-checked.
func allowanceForKey(m CostModel, computeBudget, usesPerKey uint64) (uint64, error) {
	var c checkedUint64
	allowance := c.mul(c.mul(computeBudget, m.AllowancePerComputeUnit), usesPerKey)
	if c.overflowed {
		return 0, fmt.Errorf("%w: key allowance exceeds the maximum representable amount", ErrInvalidConfig)
	}
	return allowance, nil
}

// analyzeFunctionCallMethods validates the method-specification shape against
// the uses-per-key count and returns the total attached deposit charged per
// key together with the number of "none" uses.
//
// A key carries either exactly one shared specification applied to every use,
// or one specification per use (nil entries are "none" uses). With one use
// per key, exactly one specification must be supplied.
func analyzeFunctionCallMethods(methods []domain.MethodList, usesPerKey uint64) (attachedPerKey uint64, noneCount uint64, err error) {
	specCount := uint64(len(methods))

	if usesPerKey == 1 && specCount != 1 {
		return 0, 0, fmt.Errorf("%w: exactly one method specification required for single-use keys, got %d", ErrInvalidConfig, specCount)
	}
	if specCount > 1 && specCount != usesPerKey {
		return 0, 0, fmt.Errorf("%w: method specification count %d must match uses per key %d", ErrInvalidConfig, specCount, usesPerKey)
	}
	if specCount == 0 {
		return 0, 0, fmt.Errorf("%w: function-call drop requires method specifications", ErrInvalidConfig)
	}

	// One shared specification for every use: its deposits are summed once
	// and multiplied by the use count.
	if usesPerKey > 1 && specCount == 1 {
		if methods[0] == nil {
			return 0, 0, fmt.Errorf("%w: a single shared method specification cannot be none", ErrInvalidConfig)
		}
		var total uint64
		for _, spec := range methods[0] {
			total += spec.AttachedDeposit
		}
		return usesPerKey * total, 0, nil
	}

	for _, list := range methods {
		if list == nil {
			noneCount++
			continue
		}
		for _, spec := range list {
			attachedPerKey += spec.AttachedDeposit
		}
	}
	return attachedPerKey, noneCount, nil
}
