/**
 * @description
 * This file contains the message handlers for asset-funding events. NFT and
 * FT drops are created with zero registered uses; the asset sender supplies
 * tokens out of band, and the supply pipeline publishes one event per
 * delivery. These handlers validate the delivery against the drop and
 * increment its registered uses.
 *
 * Handlers return true to acknowledge the message and false to requeue it.
 * Malformed payloads are acknowledged so they do not poison the queue;
 * transient store failures are requeued.
 */

package app

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/keydrop/drop-service/internal/domain"
	"github.com/keydrop/drop-service/internal/store"
)

// AssetFundingConsumer applies supplied-asset events to drop accounting.
type AssetFundingConsumer struct {
	repo store.Repository
}

// NewAssetFundingConsumer creates a consumer bound to the given repository.
func NewAssetFundingConsumer(repo store.Repository) *AssetFundingConsumer {
	return &AssetFundingConsumer{repo: repo}
}

// HandleNFTSupplied registers one supplied token id against its drop.
func (c *AssetFundingConsumer) HandleNFTSupplied(body []byte) bool {
	var event domain.NFTSuppliedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=asset_consumer msg=\"unmarshal nft_supplied failed; discarding\" err=%v", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	drop, err := c.repo.FindDropByID(ctx, event.DropID)
	if err != nil {
		if errors.Is(err, store.ErrDropNotFound) {
			log.Printf("level=warn component=asset_consumer msg=\"nft_supplied for unknown drop; discarding\" drop_id=%d", event.DropID)
			return true
		}
		log.Printf("level=error component=asset_consumer msg=\"drop lookup failed; requeueing\" drop_id=%d err=%v", event.DropID, err)
		return false
	}

	if drop.Payload.NFT == nil {
		log.Printf("level=warn component=asset_consumer msg=\"nft_supplied for non-nft drop; discarding\" drop_id=%d", event.DropID)
		return true
	}
	if drop.Payload.NFT.SenderID != event.SenderID {
		log.Printf("level=warn component=asset_consumer msg=\"nft_supplied from unexpected sender; discarding\" drop_id=%d sender=%s expected=%s",
			event.DropID, event.SenderID, drop.Payload.NFT.SenderID)
		return true
	}

	capacity, ok, err := c.remainingCapacity(ctx, drop)
	if err != nil {
		return false
	}
	if !ok || capacity == 0 {
		log.Printf("level=warn component=asset_consumer msg=\"nft_supplied beyond drop capacity; discarding\" drop_id=%d token_id=%s",
			event.DropID, event.TokenID)
		return true
	}

	if err := c.repo.AppendTokenID(ctx, event.DropID, event.TokenID); err != nil {
		log.Printf("level=error component=asset_consumer msg=\"failed to queue token id; requeueing\" drop_id=%d err=%v", event.DropID, err)
		return false
	}
	if err := c.repo.IncrementRegisteredUses(ctx, event.DropID, 1); err != nil {
		log.Printf("level=error component=asset_consumer msg=\"failed to register use; requeueing\" drop_id=%d err=%v", event.DropID, err)
		return false
	}

	log.Printf("level=info component=asset_consumer msg=\"nft supplied\" drop_id=%d token_id=%s", event.DropID, event.TokenID)
	return true
}

// HandleFTSupplied registers supplied fungible tokens against their drop. The
// amount must be a whole multiple of the per-use amount; partial remainders
// register nothing.
func (c *AssetFundingConsumer) HandleFTSupplied(body []byte) bool {
	var event domain.FTSuppliedEvent
	if err := json.Unmarshal(body, &event); err != nil {
		log.Printf("level=error component=asset_consumer msg=\"unmarshal ft_supplied failed; discarding\" err=%v", err)
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	drop, err := c.repo.FindDropByID(ctx, event.DropID)
	if err != nil {
		if errors.Is(err, store.ErrDropNotFound) {
			log.Printf("level=warn component=asset_consumer msg=\"ft_supplied for unknown drop; discarding\" drop_id=%d", event.DropID)
			return true
		}
		log.Printf("level=error component=asset_consumer msg=\"drop lookup failed; requeueing\" drop_id=%d err=%v", event.DropID, err)
		return false
	}

	if drop.Payload.FT == nil {
		log.Printf("level=warn component=asset_consumer msg=\"ft_supplied for non-ft drop; discarding\" drop_id=%d", event.DropID)
		return true
	}
	if drop.FundingStatus == domain.FundingFailed {
		// Failed drops never settle; requeueing would loop forever.
		log.Printf("level=warn component=asset_consumer msg=\"ft_supplied for failed drop; discarding\" drop_id=%d", event.DropID)
		return true
	}
	if drop.FundingStatus != domain.FundingFunded {
		// Supply events race cost discovery; requeue until the drop settles.
		log.Printf("level=warn component=asset_consumer msg=\"ft_supplied before funding settled; requeueing\" drop_id=%d status=%s",
			event.DropID, drop.FundingStatus)
		return false
	}
	if drop.Payload.FT.SenderID != event.SenderID {
		log.Printf("level=warn component=asset_consumer msg=\"ft_supplied from unexpected sender; discarding\" drop_id=%d sender=%s expected=%s",
			event.DropID, event.SenderID, drop.Payload.FT.SenderID)
		return true
	}
	if drop.Payload.FT.AmountPerUse == 0 {
		log.Printf("level=error component=asset_consumer msg=\"ft drop has zero amount per use; discarding\" drop_id=%d", event.DropID)
		return true
	}

	uses := event.Amount / drop.Payload.FT.AmountPerUse
	if uses == 0 {
		log.Printf("level=warn component=asset_consumer msg=\"ft_supplied below one use; discarding\" drop_id=%d amount=%d per_use=%d",
			event.DropID, event.Amount, drop.Payload.FT.AmountPerUse)
		return true
	}

	capacity, ok, err := c.remainingCapacity(ctx, drop)
	if err != nil {
		return false
	}
	if !ok {
		return true
	}
	if uses > capacity {
		uses = capacity
	}
	if uses == 0 {
		log.Printf("level=warn component=asset_consumer msg=\"ft_supplied beyond drop capacity; discarding\" drop_id=%d", event.DropID)
		return true
	}

	if err := c.repo.IncrementRegisteredUses(ctx, event.DropID, uses); err != nil {
		log.Printf("level=error component=asset_consumer msg=\"failed to register uses; requeueing\" drop_id=%d err=%v", event.DropID, err)
		return false
	}

	log.Printf("level=info component=asset_consumer msg=\"ft supplied\" drop_id=%d amount=%d uses=%d", event.DropID, event.Amount, uses)
	return true
}

// remainingCapacity returns how many more uses the drop can register given
// its key population. ok is false when the drop is already at capacity.
func (c *AssetFundingConsumer) remainingCapacity(ctx context.Context, drop *domain.Drop) (uint64, bool, error) {
	keyCount, err := c.repo.CountKeys(ctx, drop.ID)
	if err != nil {
		log.Printf("level=error component=asset_consumer msg=\"key count failed; requeueing\" drop_id=%d err=%v", drop.ID, err)
		return 0, false, err
	}
	max := drop.Config.UsesPerKeyOrDefault() * uint64(keyCount)
	if drop.RegisteredUses >= max {
		return 0, false, nil
	}
	return max - drop.RegisteredUses, true, nil
}
