package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/terra-clan/bid-engine/internal/lock"
	"github.com/terra-clan/bid-engine/internal/models"
)

// MemoryRepository implements Repository in process memory.
// Mutations go through a per-parent lock and are published under mu in one step.
type MemoryRepository struct {
	mu      sync.RWMutex
	parents map[string]*models.ParentResource
	bids    map[string]*models.BidRecord

	locks       *lock.Keyed
	lockTimeout time.Duration
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository(lockTimeout time.Duration) *MemoryRepository {
	return &MemoryRepository{
		parents:     make(map[string]*models.ParentResource),
		bids:        make(map[string]*models.BidRecord),
		locks:       lock.NewKeyed(),
		lockTimeout: lockTimeout,
	}
}

// Ping always succeeds
func (r *MemoryRepository) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (r *MemoryRepository) Close() error {
	return nil
}

// CreateParent stores a new parent resource
func (r *MemoryRepository) CreateParent(ctx context.Context, p *models.ParentResource) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.parents[p.ID]; ok {
		return fmt.Errorf("parent %s: %w", p.ID, ErrDuplicate)
	}
	r.parents[p.ID] = p.Clone()
	return nil
}

// GetParent retrieves a parent resource by ID
func (r *MemoryRepository) GetParent(ctx context.Context, id string) (*models.ParentResource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.parents[id]
	if !ok {
		return nil, ErrParentNotFound
	}
	return p.Clone(), nil
}

// ListParents returns parent resources matching filters, oldest first
func (r *MemoryRepository) ListParents(ctx context.Context, filters models.ParentFilters) ([]*models.ParentResource, error) {
	r.mu.RLock()
	result := make([]*models.ParentResource, 0, len(r.parents))
	for _, p := range r.parents {
		if filters.Kind != "" && p.Kind != filters.Kind {
			continue
		}
		if filters.OwnerID != "" && p.OwnerID != filters.OwnerID {
			continue
		}
		result = append(result, p.Clone())
	}
	r.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool {
		if result[i].CreatedAt.Equal(result[j].CreatedAt) {
			return result[i].ID < result[j].ID
		}
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})

	if filters.Offset > 0 {
		if filters.Offset >= len(result) {
			return []*models.ParentResource{}, nil
		}
		result = result[filters.Offset:]
	}
	if filters.Limit > 0 && filters.Limit < len(result) {
		result = result[:filters.Limit]
	}
	return result, nil
}

// GetBid retrieves a bid by ID
func (r *MemoryRepository) GetBid(ctx context.Context, id string) (*models.BidRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.bids[id]
	if !ok {
		return nil, ErrBidNotFound
	}
	return b.Clone(), nil
}

// Snapshot reads a parent and its bids under the same mutex commits use
func (r *MemoryRepository) Snapshot(ctx context.Context, parentID string) (*models.ParentResource, []*models.BidRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.parents[parentID]
	if !ok {
		return nil, nil, ErrParentNotFound
	}
	bids := make([]*models.BidRecord, 0, len(p.BidIDs))
	for _, id := range p.BidIDs {
		if b, ok := r.bids[id]; ok {
			bids = append(bids, b.Clone())
		}
	}
	return p.Clone(), bids, nil
}

// WithParentLock runs fn holding the parent's keyed lock and commits staged writes on success
func (r *MemoryRepository) WithParentLock(ctx context.Context, parentID string, fn func(tx Tx) error) error {
	lockCtx := ctx
	if r.lockTimeout > 0 {
		var cancel context.CancelFunc
		lockCtx, cancel = context.WithTimeout(ctx, r.lockTimeout)
		defer cancel()
	}

	unlock, err := r.locks.Lock(lockCtx, parentID)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("parent %s: %w", parentID, ErrLockTimeout)
		}
		return err
	}
	defer unlock()

	parent, err := r.GetParent(ctx, parentID)
	if err != nil {
		return err
	}

	tx := &memoryTx{
		repo:   r,
		parent: parent,
		staged: make(map[string]*models.BidRecord),
	}
	if err := fn(tx); err != nil {
		return err
	}
	// a caller whose deadline passed while fn ran must not see its writes land
	if err := ctx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("parent %s: %w", parentID, ErrLockTimeout)
		}
		return err
	}

	r.mu.Lock()
	for id, b := range tx.staged {
		r.bids[id] = b
	}
	r.parents[parentID] = tx.parent
	r.mu.Unlock()
	return nil
}

// memoryTx buffers writes for one locked parent
type memoryTx struct {
	repo   *MemoryRepository
	parent *models.ParentResource
	staged map[string]*models.BidRecord
}

func (tx *memoryTx) Parent() *models.ParentResource {
	return tx.parent.Clone()
}

func (tx *memoryTx) Bids(ctx context.Context) ([]*models.BidRecord, error) {
	bids := make([]*models.BidRecord, 0, len(tx.parent.BidIDs))
	for _, id := range tx.parent.BidIDs {
		b, err := tx.Bid(ctx, id)
		if err != nil {
			return nil, err
		}
		bids = append(bids, b)
	}
	return bids, nil
}

func (tx *memoryTx) Bid(ctx context.Context, id string) (*models.BidRecord, error) {
	if b, ok := tx.staged[id]; ok {
		return b.Clone(), nil
	}
	if !tx.parent.HasBid(id) {
		return nil, ErrBidNotFound
	}
	return tx.repo.GetBid(ctx, id)
}

func (tx *memoryTx) InsertBid(ctx context.Context, b *models.BidRecord) error {
	if _, ok := tx.staged[b.ID]; ok {
		return fmt.Errorf("bid %s: %w", b.ID, ErrDuplicate)
	}
	if _, err := tx.repo.GetBid(ctx, b.ID); err == nil {
		return fmt.Errorf("bid %s: %w", b.ID, ErrDuplicate)
	}
	tx.staged[b.ID] = b.Clone()
	tx.parent.BidIDs = append(tx.parent.BidIDs, b.ID)
	return nil
}

func (tx *memoryTx) UpdateBidStatus(ctx context.Context, id string, status models.BidStatus, at time.Time) error {
	b, err := tx.Bid(ctx, id)
	if err != nil {
		return err
	}
	b.Status = status
	b.UpdatedAt = at
	tx.staged[id] = b
	return nil
}

func (tx *memoryTx) ResolveParent(ctx context.Context, bidID string, at time.Time) error {
	if tx.parent.IsResolved() {
		return ErrAlreadyResolved
	}
	if !tx.parent.HasBid(bidID) {
		return ErrBidNotFound
	}
	id := bidID
	tx.parent.ResolvedBidID = &id
	tx.parent.UpdatedAt = at
	return nil
}
