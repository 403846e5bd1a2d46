/**
 * @description
 * Message payloads exchanged over the broker: drop lifecycle events published
 * by the admission service and asset-funding events consumed from token
 * senders.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// DropLifecycleEvent is published on drop.created / drop.funded / drop.failed
// routing keys so downstream services can track admission outcomes.
type DropLifecycleEvent struct {
	EventID     uuid.UUID   `json:"event_id"`
	DropID      DropID      `json:"drop_id"`
	OwnerID     string      `json:"owner_id"`
	PayloadType PayloadType `json:"payload_type"`
	KeyCount    int         `json:"key_count"`
	Amount      uint64      `json:"amount"`
	Reason      string      `json:"reason,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// NFTSuppliedEvent reports that the configured sender transferred one token
// to the payout escrow. Each accepted token registers one redemption.
type NFTSuppliedEvent struct {
	DropID   DropID `json:"drop_id"`
	SenderID string `json:"sender_id"`
	TokenID  string `json:"token_id"`
}

// FTSuppliedEvent reports that the configured sender deposited fungible
// tokens. Registered uses grow by amount / amount_per_use.
type FTSuppliedEvent struct {
	DropID   DropID `json:"drop_id"`
	SenderID string `json:"sender_id"`
	Amount   uint64 `json:"amount"`
}
