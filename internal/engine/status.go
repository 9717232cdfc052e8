package engine

import (
	"context"
	"time"

	"github.com/terra-clan/bid-engine/internal/models"
	"github.com/terra-clan/bid-engine/internal/storage"
)

// statusWriter persists guard-approved status changes through a locked Tx
type statusWriter struct {
	now func() time.Time
}

// apply writes the new status and returns the updated record together with
// any event the change produces. updatedAt never moves backwards.
func (w *statusWriter) apply(ctx context.Context, tx storage.Tx, bid *models.BidRecord, to models.BidStatus) (*models.BidRecord, []models.BidEvent, error) {
	at := w.now().UTC()
	if at.Before(bid.UpdatedAt) {
		at = bid.UpdatedAt
	}

	if err := tx.UpdateBidStatus(ctx, bid.ID, to, at); err != nil {
		return nil, nil, err
	}

	next := bid.Clone()
	next.Status = to
	next.UpdatedAt = at

	var events []models.BidEvent
	if to == models.BidAccepted {
		events = append(events, models.NewBidAcceptedEvent(next))
	}
	return next, events, nil
}
