package domain

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// EventType names a recorded state transition.
type EventType string

const (
	EventListingCreated   EventType = "listing_created"
	EventListingSold      EventType = "listing_sold"
	EventListingCancelled EventType = "listing_cancelled"
	EventListingUpdated   EventType = "listing_updated"

	EventAuctionCreated   EventType = "auction_created"
	EventBidPlaced        EventType = "bid_placed"
	EventAuctionFinalized EventType = "auction_finalized"
	EventAuctionCancelled EventType = "auction_cancelled"

	EventOfferCreated   EventType = "offer_created"
	EventOfferAccepted  EventType = "offer_accepted"
	EventOfferCancelled EventType = "offer_cancelled"

	EventWithdrawalRecorded EventType = "withdrawal_recorded"
	EventWithdrawn          EventType = "withdrawn"

	EventFeeRateUpdated       EventType = "fee_rate_updated"
	EventFeeRecipientUpdated  EventType = "fee_recipient_updated"
	EventPaymentMethodUpdated EventType = "payment_method_updated"
	EventPaused               EventType = "paused"
	EventUnpaused             EventType = "unpaused"
)

// Event is one committed state transition. Events of a failed operation
// are never delivered.
type Event struct {
	ID       common.Hash       `json:"id"`
	Seq      uint64            `json:"seq"`
	Type     EventType         `json:"type"`
	EntityID uint64            `json:"entity_id,omitempty"`
	Actor    common.Address    `json:"actor"`
	At       time.Time         `json:"at"`
	Detail   map[string]string `json:"detail,omitempty"`

	// Snapshot of the entity after the transition, when there is one.
	Listing    *Listing           `json:"listing,omitempty"`
	Auction    *Auction           `json:"auction,omitempty"`
	Offer      *Offer             `json:"offer,omitempty"`
	Withdrawal *PendingWithdrawal `json:"withdrawal,omitempty"`
	Settlement *Settlement        `json:"settlement,omitempty"`
}
