package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType names an outbound notification
type EventType string

const (
	EventBidAccepted EventType = "bid.accepted"
)

// BidEvent is emitted after a transaction that changed bid state has committed
type BidEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	BidID      string    `json:"bid_id"`
	ParentID   string    `json:"parent_id"`
	BidderID   string    `json:"bidder_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

// NewBidAcceptedEvent builds the notification sent to the winning bidder
func NewBidAcceptedEvent(bid *BidRecord) BidEvent {
	return BidEvent{
		ID:         uuid.NewString(),
		Type:       EventBidAccepted,
		BidID:      bid.ID,
		ParentID:   bid.ParentResourceID,
		BidderID:   bid.BidderID,
		OccurredAt: bid.UpdatedAt,
	}
}
