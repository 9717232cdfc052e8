// Package notify delivers bid events outside the engine after their
// transaction has committed.
package notify

import (
	"context"
	"log/slog"

	"github.com/terra-clan/bid-engine/internal/models"
)

// Emitter publishes a single event to an external sink
type Emitter interface {
	Emit(ctx context.Context, ev models.BidEvent) error
	Close() error
}

// LogEmitter writes events to the structured log. Used when no broker is configured.
type LogEmitter struct{}

// Emit logs the event
func (LogEmitter) Emit(ctx context.Context, ev models.BidEvent) error {
	slog.Info("bid event",
		"event_id", ev.ID,
		"type", ev.Type,
		"bid_id", ev.BidID,
		"parent_id", ev.ParentID,
		"bidder_id", ev.BidderID,
		"occurred_at", ev.OccurredAt,
	)
	return nil
}

// Close is a no-op
func (LogEmitter) Close() error {
	return nil
}
