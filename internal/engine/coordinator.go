package engine

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"github.com/terra-clan/bid-engine/internal/guard"
	"github.com/terra-clan/bid-engine/internal/models"
	"github.com/terra-clan/bid-engine/internal/storage"
)

// UpdateStatus moves a single project profile bid to status on behalf of role.
// Accepting a bid resolves its parent in the same transaction. Other bids of
// the parent are left untouched.
func (e *Engine) UpdateStatus(ctx context.Context, bidID string, status models.BidStatus, role models.Role) (*models.BidRecord, error) {
	// parentResourceId never changes, so it is safe to read before locking
	bid, err := e.repo.GetBid(ctx, bidID)
	if err != nil {
		return nil, translate(err)
	}

	var (
		updated *models.BidRecord
		from    models.BidStatus
		events  []models.BidEvent
	)
	err = e.repo.WithParentLock(ctx, bid.ParentResourceID, func(tx storage.Tx) error {
		parent := tx.Parent()

		current, err := tx.Bid(ctx, bidID)
		if err != nil {
			return err
		}

		if parent.Kind != models.KindProjectProfile {
			return &TransitionError{
				BidID:  current.ID,
				From:   current.Status,
				To:     status,
				Reason: "interview bids change status only through winner selection",
			}
		}

		d := guard.Check(parent.Kind, current.Status, status, role)
		if !d.Allowed {
			return &TransitionError{
				BidID:  current.ID,
				From:   current.Status,
				To:     status,
				Reason: d.Reason,
				noop:   d.NoOp,
			}
		}

		if status == models.BidAccepted && parent.IsResolved() {
			return resolvedError(parent)
		}

		next, evs, err := e.status.apply(ctx, tx, current, status)
		if err != nil {
			return err
		}
		if status == models.BidAccepted {
			if err := tx.ResolveParent(ctx, next.ID, next.UpdatedAt); err != nil {
				return err
			}
		}

		updated = next
		from = current.Status
		events = evs
		return nil
	})
	if err != nil {
		err = translate(err)
		logRejected("status update rejected", err,
			"bid_id", bidID,
			"status", status,
			"role", role,
		)
		return nil, err
	}

	slog.Info("bid status updated",
		"bid_id", updated.ID,
		"parent_id", updated.ParentResourceID,
		"from", from,
		"to", updated.Status,
		"role", role,
	)

	e.publish(events)
	return updated, nil
}

// SelectWinner accepts bidID on an interview request and rejects every other
// pending bid of the same parent, all in one transaction. Repeating the call
// for the bid that already won returns the current state without changes.
func (e *Engine) SelectWinner(ctx context.Context, parentID, bidID string, role models.Role) (*models.Selection, error) {
	var (
		sel    *models.Selection
		events []models.BidEvent
	)
	err := e.repo.WithParentLock(ctx, parentID, func(tx storage.Tx) error {
		parent := tx.Parent()

		if parent.Kind != models.KindInterviewRequest {
			return &TransitionError{
				BidID:  bidID,
				To:     models.BidAccepted,
				Reason: "project profile bids are accepted through status review",
			}
		}
		if !slices.Contains(guard.Targets(parent.Kind, models.BidPending, role), models.BidAccepted) {
			return &TransitionError{
				BidID:  bidID,
				To:     models.BidAccepted,
				Reason: "only the resource creator can select a winner",
			}
		}

		// an unknown bid is reported as such even when the parent is resolved
		target, err := tx.Bid(ctx, bidID)
		if err != nil {
			return err
		}
		if target.ParentResourceID != parent.ID {
			return storage.ErrBidNotFound
		}

		if parent.IsResolved() {
			if *parent.ResolvedBidID != target.ID {
				return resolvedError(parent)
			}
			sel = &models.Selection{
				Parent:          parent,
				Winner:          target,
				Rejected:        []*models.BidRecord{},
				AlreadyResolved: true,
			}
			return nil
		}

		d := guard.Check(parent.Kind, target.Status, models.BidAccepted, role)
		if !d.Allowed {
			return &TransitionError{
				BidID:  target.ID,
				From:   target.Status,
				To:     models.BidAccepted,
				Reason: d.Reason,
				noop:   d.NoOp,
			}
		}

		winner, evs, err := e.status.apply(ctx, tx, target, models.BidAccepted)
		if err != nil {
			return err
		}

		siblings, err := tx.Bids(ctx)
		if err != nil {
			return err
		}
		rejected := []*models.BidRecord{}
		for _, b := range siblings {
			if b.ID == winner.ID || b.Status != models.BidPending {
				continue
			}
			d := guard.Check(parent.Kind, b.Status, models.BidRejected, models.RoleSystem)
			if !d.Allowed {
				return &TransitionError{BidID: b.ID, From: b.Status, To: models.BidRejected, Reason: d.Reason}
			}
			r, more, err := e.status.apply(ctx, tx, b, models.BidRejected)
			if err != nil {
				return err
			}
			rejected = append(rejected, r)
			evs = append(evs, more...)
		}

		if err := tx.ResolveParent(ctx, winner.ID, winner.UpdatedAt); err != nil {
			return err
		}

		sel = &models.Selection{
			Parent:   tx.Parent(),
			Winner:   winner,
			Rejected: rejected,
		}
		events = evs
		return nil
	})
	if err != nil {
		err = translate(err)
		logRejected("winner selection rejected", err,
			"parent_id", parentID,
			"bid_id", bidID,
			"role", role,
		)
		return nil, err
	}

	if sel.AlreadyResolved {
		slog.Debug("winner already selected", "parent_id", parentID, "bid_id", bidID)
		return sel, nil
	}

	slog.Info("interview winner selected",
		"parent_id", parentID,
		"bid_id", sel.Winner.ID,
		"rejected", len(sel.Rejected),
	)

	e.publish(events)
	return sel, nil
}

// logRejected logs expected domain refusals quietly and everything else as an error
func logRejected(msg string, err error, args ...any) {
	args = append(args, "error", err)
	switch {
	case errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrResourceAlreadyResolved),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrOwnResource),
		errors.Is(err, ErrDuplicateBid),
		errors.Is(err, ErrCanceled):
		slog.Debug(msg, args...)
	case errors.Is(err, ErrLockTimeout):
		slog.Warn(msg, args...)
	default:
		slog.Error(msg, args...)
	}
}
