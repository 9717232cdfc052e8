package storage

import (
	"context"
	"errors"
	"time"

	"github.com/terra-clan/bid-engine/internal/models"
)

// Storage errors
var (
	ErrParentNotFound  = errors.New("parent resource not found")
	ErrBidNotFound     = errors.New("bid not found")
	ErrAlreadyResolved = errors.New("parent resource already resolved")
	ErrLockTimeout     = errors.New("timed out waiting for parent lock")
	ErrDuplicate       = errors.New("record already exists")
)

// Repository defines the interface for bid persistence
type Repository interface {
	// Parents
	CreateParent(ctx context.Context, p *models.ParentResource) error
	GetParent(ctx context.Context, id string) (*models.ParentResource, error)
	ListParents(ctx context.Context, filters models.ParentFilters) ([]*models.ParentResource, error)

	// Bids
	GetBid(ctx context.Context, id string) (*models.BidRecord, error)

	// WithParentLock runs fn while holding the exclusive lock for parentID.
	// Writes made through tx are applied together when fn returns nil and
	// discarded otherwise. Returns ErrLockTimeout if the lock cannot be taken
	// in time.
	WithParentLock(ctx context.Context, parentID string, fn func(tx Tx) error) error

	// Snapshot returns a parent and all of its bids, in creation order, as of
	// a single point in time.
	Snapshot(ctx context.Context, parentID string) (*models.ParentResource, []*models.BidRecord, error)

	// Health
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the view of one parent and its bids available while its lock is held
type Tx interface {
	// Parent returns the locked parent, including changes made in this tx
	Parent() *models.ParentResource
	// Bids returns every bid of the locked parent in creation order
	Bids(ctx context.Context) ([]*models.BidRecord, error)
	// Bid returns a single bid of the locked parent
	Bid(ctx context.Context, id string) (*models.BidRecord, error)

	InsertBid(ctx context.Context, b *models.BidRecord) error
	UpdateBidStatus(ctx context.Context, id string, status models.BidStatus, at time.Time) error
	// ResolveParent records the winning bid. Returns ErrAlreadyResolved if
	// the parent already has one.
	ResolveParent(ctx context.Context, bidID string, at time.Time) error
}
