package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// BidStatus represents the review state of a bid
type BidStatus string

const (
	BidPending   BidStatus = "PENDING"   // Submitted, awaiting review
	BidPanel     BidStatus = "PANEL"     // Shortlisted for panel review
	BidInterview BidStatus = "INTERVIEW" // Invited to interview
	BidAccepted  BidStatus = "ACCEPTED"  // Winning bid, terminal
	BidRejected  BidStatus = "REJECTED"  // Declined, terminal
)

// AllStatuses lists every bid status in display order
var AllStatuses = []BidStatus{BidPending, BidPanel, BidInterview, BidAccepted, BidRejected}

// Valid reports whether s is a known status
func (s BidStatus) Valid() bool {
	switch s {
	case BidPending, BidPanel, BidInterview, BidAccepted, BidRejected:
		return true
	}
	return false
}

// IsTerminal returns true if no transition can leave this status
func (s BidStatus) IsTerminal() bool {
	return s == BidAccepted || s == BidRejected
}

// Role is the capacity in which an actor requests a transition
type Role string

const (
	RoleCreator Role = "creator" // Owner of the parent resource
	RoleBidder  Role = "bidder"  // Author of a bid
	RoleSystem  Role = "system"  // Engine-initiated cascades
)

// BidRecord is a single offer made against a parent resource.
// ParentResourceID, BidderID, Amount and Description never change after creation.
type BidRecord struct {
	ID               string          `json:"id"`
	ParentResourceID string          `json:"parent_resource_id"`
	BidderID         string          `json:"bidder_id"`
	Amount           decimal.Decimal `json:"amount"`
	Description      string          `json:"description"`
	Status           BidStatus       `json:"status"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// Clone returns a copy that can be mutated without touching the original
func (b *BidRecord) Clone() *BidRecord {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

// PlaceBidRequest represents a request to submit a bid
type PlaceBidRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Description string          `json:"description" validate:"max=4000"`
}

// UpdateStatusRequest represents a request to move a bid to another status
type UpdateStatusRequest struct {
	Status BidStatus `json:"status" validate:"required"`
}
