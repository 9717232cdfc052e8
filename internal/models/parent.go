package models

import (
	"slices"
	"time"
)

// ResourceKind selects which transition table governs a parent's bids
type ResourceKind string

const (
	KindProjectProfile   ResourceKind = "PROJECT_PROFILE"
	KindInterviewRequest ResourceKind = "INTERVIEW_REQUEST"
)

// Valid reports whether k is a known kind
func (k ResourceKind) Valid() bool {
	return k == KindProjectProfile || k == KindInterviewRequest
}

// ParentResource is the entity bids are placed against.
// Once ResolvedBidID is set it is never cleared or changed.
type ParentResource struct {
	ID            string       `json:"id"`
	Kind          ResourceKind `json:"kind"`
	OwnerID       string       `json:"owner_id"`
	BidIDs        []string     `json:"bid_ids"`
	ResolvedBidID *string      `json:"resolved_bid_id"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// IsResolved returns true once a winning bid has been recorded
func (p *ParentResource) IsResolved() bool {
	return p.ResolvedBidID != nil
}

// HasBid reports whether bidID belongs to this resource
func (p *ParentResource) HasBid(bidID string) bool {
	return slices.Contains(p.BidIDs, bidID)
}

// Clone returns a deep copy
func (p *ParentResource) Clone() *ParentResource {
	if p == nil {
		return nil
	}
	c := *p
	c.BidIDs = slices.Clone(p.BidIDs)
	if p.ResolvedBidID != nil {
		id := *p.ResolvedBidID
		c.ResolvedBidID = &id
	}
	return &c
}

// CreateParentRequest represents a request to open a resource for bidding
type CreateParentRequest struct {
	Kind ResourceKind `json:"kind" validate:"required,oneof=PROJECT_PROFILE INTERVIEW_REQUEST"`
}

// ParentFilters holds filters for listing parent resources
type ParentFilters struct {
	Kind    ResourceKind `json:"kind,omitempty"`
	OwnerID string       `json:"owner_id,omitempty"`
	Limit   int          `json:"limit,omitempty"`
	Offset  int          `json:"offset,omitempty"`
}

// BidListing is a consistent view of a parent and all of its bids
type BidListing struct {
	Parent *ParentResource   `json:"parent"`
	Bids   []*BidRecord      `json:"bids"`
	Counts map[BidStatus]int `json:"counts"`
	Total  int               `json:"total"`
}

// NewBidListing builds a listing with a count entry for every status, zeros included
func NewBidListing(parent *ParentResource, bids []*BidRecord) *BidListing {
	counts := make(map[BidStatus]int, len(AllStatuses))
	for _, s := range AllStatuses {
		counts[s] = 0
	}
	for _, b := range bids {
		counts[b.Status]++
	}
	if bids == nil {
		bids = []*BidRecord{}
	}
	return &BidListing{
		Parent: parent,
		Bids:   bids,
		Counts: counts,
		Total:  len(bids),
	}
}

// Selection is the outcome of picking a winner on an interview request
type Selection struct {
	Parent          *ParentResource `json:"parent"`
	Winner          *BidRecord      `json:"winner"`
	Rejected        []*BidRecord    `json:"rejected"`
	AlreadyResolved bool            `json:"already_resolved"`
}
