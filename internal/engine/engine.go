// Package engine owns bid lifecycle rules: status review, winner selection,
// listings and intake. All mutations of a parent's bids happen under that
// parent's lock.
package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/terra-clan/bid-engine/internal/models"
	"github.com/terra-clan/bid-engine/internal/storage"
)

// Service defines the operations exposed to transports
type Service interface {
	// Review
	UpdateStatus(ctx context.Context, bidID string, status models.BidStatus, role models.Role) (*models.BidRecord, error)
	SelectWinner(ctx context.Context, parentID, bidID string, role models.Role) (*models.Selection, error)
	ListBids(ctx context.Context, parentID string) (*models.BidListing, error)

	// Intake
	CreateParent(ctx context.Context, kind models.ResourceKind, ownerID string) (*models.ParentResource, error)
	PlaceBid(ctx context.Context, parentID, bidderID string, req models.PlaceBidRequest) (*models.BidRecord, error)
	GetParent(ctx context.Context, id string) (*models.ParentResource, error)
	ListParents(ctx context.Context, filters models.ParentFilters) ([]*models.ParentResource, error)
	GetBid(ctx context.Context, id string) (*models.BidRecord, error)

	Ping(ctx context.Context) error
}

// Notifier receives events once the transaction producing them has committed.
// Enqueue must not block.
type Notifier interface {
	Enqueue(ev models.BidEvent)
}

type nopNotifier struct{}

func (nopNotifier) Enqueue(models.BidEvent) {}

// Option configures an Engine
type Option func(*Engine)

// WithClock overrides the time source used for updatedAt stamps
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// Engine implements Service on top of a storage.Repository
type Engine struct {
	repo     storage.Repository
	notifier Notifier
	status   *statusWriter
	now      func() time.Time
}

// New creates an Engine. A nil notifier discards events.
func New(repo storage.Repository, notifier Notifier, opts ...Option) *Engine {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	e := &Engine{
		repo:     repo,
		notifier: notifier,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.status = &statusWriter{now: e.now}
	return e
}

// Ping checks the backing store
func (e *Engine) Ping(ctx context.Context) error {
	return e.repo.Ping(ctx)
}

// publish hands committed events to the notifier
func (e *Engine) publish(events []models.BidEvent) {
	for _, ev := range events {
		slog.Debug("queueing bid event",
			"event_id", ev.ID,
			"type", ev.Type,
			"bid_id", ev.BidID,
			"parent_id", ev.ParentID,
		)
		e.notifier.Enqueue(ev)
	}
}
