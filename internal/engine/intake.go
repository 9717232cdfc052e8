package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/terra-clan/bid-engine/internal/models"
	"github.com/terra-clan/bid-engine/internal/storage"
)

// CreateParent opens a new resource for bidding
func (e *Engine) CreateParent(ctx context.Context, kind models.ResourceKind, ownerID string) (*models.ParentResource, error) {
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown resource kind %q", ErrInvalidBid, kind)
	}
	if strings.TrimSpace(ownerID) == "" {
		return nil, fmt.Errorf("%w: owner is required", ErrInvalidBid)
	}

	now := e.now().UTC()
	parent := &models.ParentResource{
		ID:        uuid.NewString(),
		Kind:      kind,
		OwnerID:   ownerID,
		BidIDs:    []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.repo.CreateParent(ctx, parent); err != nil {
		return nil, fmt.Errorf("failed to create parent: %w", err)
	}

	slog.Info("parent resource created",
		"parent_id", parent.ID,
		"kind", parent.Kind,
		"owner_id", parent.OwnerID,
	)
	return parent, nil
}

// PlaceBid records a new PENDING bid from bidderID against parentID.
// Resolved resources take no new bids and each bidder gets one bid per resource.
func (e *Engine) PlaceBid(ctx context.Context, parentID, bidderID string, req models.PlaceBidRequest) (*models.BidRecord, error) {
	if strings.TrimSpace(bidderID) == "" {
		return nil, fmt.Errorf("%w: bidder is required", ErrInvalidBid)
	}
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidBid)
	}

	var bid *models.BidRecord
	err := e.repo.WithParentLock(ctx, parentID, func(tx storage.Tx) error {
		parent := tx.Parent()
		if parent.OwnerID == bidderID {
			return ErrOwnResource
		}
		if parent.IsResolved() {
			return resolvedError(parent)
		}

		existing, err := tx.Bids(ctx)
		if err != nil {
			return err
		}
		for _, b := range existing {
			if b.BidderID == bidderID {
				return ErrDuplicateBid
			}
		}

		now := e.now().UTC()
		bid = &models.BidRecord{
			ID:               uuid.NewString(),
			ParentResourceID: parent.ID,
			BidderID:         bidderID,
			Amount:           req.Amount,
			Description:      req.Description,
			Status:           models.BidPending,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		return tx.InsertBid(ctx, bid)
	})
	if err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			err = ErrDuplicateBid
		}
		err = translate(err)
		logRejected("bid rejected", err, "parent_id", parentID, "bidder_id", bidderID)
		return nil, err
	}

	slog.Info("bid placed",
		"bid_id", bid.ID,
		"parent_id", parentID,
		"bidder_id", bidderID,
		"amount", bid.Amount.String(),
	)
	return bid, nil
}
