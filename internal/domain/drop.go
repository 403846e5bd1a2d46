/**
 * @description
 * This file defines the core domain models for the drop-service. A drop is a
 * prepaid batch of redemption rights: the funder registers public keys, each of
 * which becomes an authorization token with a bounded number of uses and a
 * bounded spending allowance.
 *
 * @notes
 * - Amounts are stored as `uint64` in the smallest currency unit. Funder
 *   balances are monotonic unsigned values and are only mutated through
 *   debit/credit operations on the repository.
 * - Compute budgets are metered-execution units reserved per redemption and
 *   are used to size each token's allowance.
 */

package domain

import "time"

// DropID is a process-wide monotonically increasing identifier. It is never
// reused, even for drops that failed admission.
type DropID = uint64

// PayloadType tags the effect a redemption produces.
type PayloadType string

const (
	PayloadSimple           PayloadType = "simple"
	PayloadNonFungibleToken PayloadType = "nft"
	PayloadFungibleToken    PayloadType = "ft"
	PayloadFunctionCall     PayloadType = "fc"
)

// FundingStatus tracks whether a drop's authorization tokens may be issued.
// Simple, NFT and function-call drops are Funded at creation. Fungible-token
// drops start Pending and transition exactly once, via the storage-cost
// continuation, to Funded or Failed.
type FundingStatus string

const (
	FundingPending FundingStatus = "pending"
	FundingFunded  FundingStatus = "funded"
	FundingFailed  FundingStatus = "failed"
)

// ClaimPermission restricts which redemption entry points an authorization
// token may invoke. Empty means both are permitted.
type ClaimPermission string

const (
	PermissionClaim            ClaimPermission = "claim"
	PermissionCreateAndClaim   ClaimPermission = "create_account_and_claim"
	MethodScopeClaim                           = "claim"
	MethodScopeCreateAndClaim                  = "create_account_and_claim"
	MethodScopeBoth                            = "claim,create_account_and_claim"
)

// MethodScope returns the issuance scope string for a configured permission.
func (p ClaimPermission) MethodScope() string {
	switch p {
	case PermissionClaim:
		return MethodScopeClaim
	case PermissionCreateAndClaim:
		return MethodScopeCreateAndClaim
	default:
		return MethodScopeBoth
	}
}

// DropConfig holds optional per-drop overrides. Nil pointers mean "use the
// platform default".
type DropConfig struct {
	// How many redemptions each key is good for. Defaults to 1.
	UsesPerKey *uint64 `json:"uses_per_key,omitempty"`

	// Earliest time at which keys become usable.
	StartTimestamp *time.Time `json:"start_timestamp,omitempty"`

	// Minimum interval between consecutive uses of one key, in nanoseconds.
	ThrottleNanos *uint64 `json:"throttle_nanos,omitempty"`

	// Refund the per-use deposit to the funder's balance on plain claims.
	OnClaimRefundDeposit *bool `json:"on_claim_refund_deposit,omitempty"`

	// Restrict which redemption entry points the tokens may call.
	ClaimPermission *ClaimPermission `json:"claim_permission,omitempty"`

	// Alternate root namespace for accounts created at redemption time.
	DropRoot *string `json:"drop_root,omitempty"`
}

// UsesPerKeyOrDefault resolves the configured uses-per-key, defaulting to 1.
func (c *DropConfig) UsesPerKeyOrDefault() uint64 {
	if c == nil || c.UsesPerKey == nil || *c.UsesPerKey == 0 {
		return 1
	}
	return *c.UsesPerKey
}

// Permission resolves the configured claim permission (empty = both).
func (c *DropConfig) Permission() ClaimPermission {
	if c == nil || c.ClaimPermission == nil {
		return ""
	}
	return *c.ClaimPermission
}

// NFTPayload describes a non-fungible-token drop. Token identifiers are
// queued as the sender supplies them; each queued id registers one use.
type NFTPayload struct {
	SenderID       string `json:"sender_id"`
	ContractID     string `json:"contract_id"`
	LongestTokenID string `json:"longest_token_id"`

	// Measured storage surcharge, in bytes, for holding one token id of the
	// longest expected length. Populated during admission by the probe
	// measurement, never estimated.
	StorageCostPerToken uint64 `json:"storage_cost_per_token"`

	TokenIDs []string `json:"token_ids,omitempty"`
}

// FTPayload describes a fungible-token drop.
type FTPayload struct {
	ContractID   string `json:"contract_id"`
	SenderID     string `json:"sender_id"`
	AmountPerUse uint64 `json:"amount_per_use"`

	// Per-use registration cost at the external token registry. Zero until
	// the asynchronous cost-discovery round trip completes.
	StorageCostPerRegistration uint64 `json:"storage_cost_per_registration"`
}

// MethodSpec is one function invocation executed at redemption time.
type MethodSpec struct {
	ReceiverID      string `json:"receiver_id"`
	MethodName      string `json:"method_name"`
	Args            string `json:"args"`
	AttachedDeposit uint64 `json:"attached_deposit"`
}

// MethodList is the set of invocations performed by a single use. A nil list
// in FCPayload.Methods marks a "none" use: it executes nothing, contributes
// no attached deposit and is not charged the per-use deposit.
type MethodList []MethodSpec

// FCConfig holds function-call specific overrides.
type FCConfig struct {
	// Compute budget to attach per redemption instead of the platform
	// default. Only valid when the drop carries no per-use deposit.
	AttachedComputeBudget *uint64 `json:"attached_compute_budget,omitempty"`
}

// FCPayload describes a function-call drop. Methods carries either exactly
// one entry (shared by every use of a key) or one entry per use.
type FCPayload struct {
	Methods []MethodList `json:"methods"`
	Config  *FCConfig    `json:"config,omitempty"`
}

// Payload is the tagged variant carried by every drop. Exactly one of the
// pointer fields is set for non-simple drops.
type Payload struct {
	Type PayloadType `json:"type"`
	NFT  *NFTPayload `json:"nft,omitempty"`
	FT   *FTPayload  `json:"ft,omitempty"`
	FC   *FCPayload  `json:"fc,omitempty"`
}

// Drop is one funding unit: the owner, payload configuration and accounting
// state for a batch of authorization keys.
type Drop struct {
	ID      DropID  `json:"id"`
	OwnerID string  `json:"owner_id"`
	Payload Payload `json:"payload"`

	// Native value attached per redemption. May be 0 for FT/FC-only drops.
	DepositPerUse uint64 `json:"deposit_per_use"`

	// Redemptions the drop is currently funded for. NFT/FT drops start at 0
	// and grow as assets are supplied.
	RegisteredUses uint64 `json:"registered_uses"`

	// Compute-unit ceiling attached to each authorization token.
	RequiredComputeBudget uint64 `json:"required_compute_budget"`

	Config   *DropConfig `json:"config,omitempty"`
	Metadata string      `json:"metadata,omitempty"`

	FundingStatus FundingStatus `json:"funding_status"`

	// Monotonic counter assigning a stable sequence number to each key added
	// over the drop's lifetime.
	NextKeySequence uint64 `json:"next_key_sequence"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// KeyInfo is the per-authorization-token state. Every public key belongs to
// exactly one drop, enforced by a global reverse index.
type KeyInfo struct {
	PublicKey string `json:"public_key"`

	// Counts down; the token is retired at 0 (by the redemption path, which
	// lives outside this service).
	RemainingUses uint64 `json:"remaining_uses"`

	// Unix nanoseconds of the last use; 0 means never used.
	LastUsed uint64 `json:"last_used"`

	// Remaining spending budget for compute costs. Monotonically decreases
	// as the execution substrate charges per invocation.
	Allowance uint64 `json:"allowance"`

	// Stable identifier within the owning drop, independent of map order.
	SequenceID uint64 `json:"sequence_id"`
}

// FeeSchedule is the per-funder (or global default) admission fee pair.
type FeeSchedule struct {
	DropFee uint64 `json:"drop_fee"`
	KeyFee  uint64 `json:"key_fee"`
}

// CreateDropRequest is the DTO for the createDrop entry point. At most one
// of NFT/FT/FC may be set.
type CreateDropRequest struct {
	PublicKeys    []string    `json:"public_keys"`
	DepositPerUse uint64      `json:"deposit_per_use"`
	Config        *DropConfig `json:"config,omitempty"`
	Metadata      string      `json:"metadata,omitempty"`
	NFT           *NFTPayload `json:"nft_payload,omitempty"`
	FT            *FTPayload  `json:"ft_payload,omitempty"`
	FC            *FCPayload  `json:"fc_payload,omitempty"`
}

// AddKeysRequest is the DTO for the addKeys entry point.
type AddKeysRequest struct {
	PublicKeys []string `json:"public_keys"`
}

// DropView is the owner-facing read model for a single drop.
type DropView struct {
	ID             DropID        `json:"id"`
	OwnerID        string        `json:"owner_id"`
	PayloadType    PayloadType   `json:"payload_type"`
	DepositPerUse  uint64        `json:"deposit_per_use"`
	RegisteredUses uint64        `json:"registered_uses"`
	FundingStatus  FundingStatus `json:"funding_status"`
	KeyCount       int           `json:"key_count"`
	Metadata       string        `json:"metadata,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
}
