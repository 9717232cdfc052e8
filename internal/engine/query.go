package engine

import (
	"context"

	"github.com/terra-clan/bid-engine/internal/models"
)

// ListBids returns every bid of a parent in creation order with per-status counts.
// The listing comes from one consistent read, so it never mixes states from
// before and after a concurrent mutation.
func (e *Engine) ListBids(ctx context.Context, parentID string) (*models.BidListing, error) {
	parent, bids, err := e.repo.Snapshot(ctx, parentID)
	if err != nil {
		return nil, translate(err)
	}
	return models.NewBidListing(parent, bids), nil
}

// GetBid retrieves a bid by ID
func (e *Engine) GetBid(ctx context.Context, id string) (*models.BidRecord, error) {
	bid, err := e.repo.GetBid(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return bid, nil
}

// GetParent retrieves a parent resource by ID
func (e *Engine) GetParent(ctx context.Context, id string) (*models.ParentResource, error) {
	parent, err := e.repo.GetParent(ctx, id)
	if err != nil {
		return nil, translate(err)
	}
	return parent, nil
}

// ListParents returns parent resources matching filters
func (e *Engine) ListParents(ctx context.Context, filters models.ParentFilters) ([]*models.ParentResource, error) {
	if filters.Limit <= 0 || filters.Limit > maxListLimit {
		filters.Limit = defaultListLimit
	}
	if filters.Offset < 0 {
		filters.Offset = 0
	}
	return e.repo.ListParents(ctx, filters)
}

const (
	defaultListLimit = 50
	maxListLimit     = 500
)
