package storage

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terra-clan/bid-engine/internal/models"
)

var errAbort = errors.New("abort")

func newParent(kind models.ResourceKind, owner string) *models.ParentResource {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.ParentResource{
		ID:        uuid.NewString(),
		Kind:      kind,
		OwnerID:   owner,
		BidIDs:    []string{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func newBid(parentID, bidder, amount string) *models.BidRecord {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.BidRecord{
		ID:               uuid.NewString(),
		ParentResourceID: parentID,
		BidderID:         bidder,
		Amount:           decimal.RequireFromString(amount),
		Description:      "offer from " + bidder,
		Status:           models.BidPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// runRepositoryContract exercises behaviour every Repository must share.
// lockTimeout must match the repository's configured lock budget.
func runRepositoryContract(t *testing.T, repo Repository, lockTimeout time.Duration) {
	ctx := context.Background()

	t.Run("parent round trip", func(t *testing.T) {
		p := newParent(models.KindProjectProfile, "owner-1")
		require.NoError(t, repo.CreateParent(ctx, p))

		got, err := repo.GetParent(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, p.Kind, got.Kind)
		assert.Equal(t, "owner-1", got.OwnerID)
		assert.Empty(t, got.BidIDs)
		assert.Nil(t, got.ResolvedBidID)

		assert.ErrorIs(t, repo.CreateParent(ctx, p), ErrDuplicate)
	})

	t.Run("missing records", func(t *testing.T) {
		_, err := repo.GetParent(ctx, "missing")
		assert.ErrorIs(t, err, ErrParentNotFound)
		_, err = repo.GetBid(ctx, "missing")
		assert.ErrorIs(t, err, ErrBidNotFound)
		_, _, err = repo.Snapshot(ctx, "missing")
		assert.ErrorIs(t, err, ErrParentNotFound)
		err = repo.WithParentLock(ctx, "missing", func(tx Tx) error { return nil })
		assert.ErrorIs(t, err, ErrParentNotFound)
	})

	t.Run("insert keeps creation order", func(t *testing.T) {
		p := newParent(models.KindInterviewRequest, "owner-2")
		require.NoError(t, repo.CreateParent(ctx, p))

		var ids []string
		for i, amount := range []string{"100.50", "99", "250.125"} {
			b := newBid(p.ID, "bidder-"+string(rune('a'+i)), amount)
			ids = append(ids, b.ID)
			require.NoError(t, repo.WithParentLock(ctx, p.ID, func(tx Tx) error {
				return tx.InsertBid(ctx, b)
			}))
		}

		parent, bids, err := repo.Snapshot(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, ids, parent.BidIDs)
		require.Len(t, bids, 3)
		for i, b := range bids {
			assert.Equal(t, ids[i], b.ID)
		}
		assert.True(t, decimal.RequireFromString("250.125").Equal(bids[2].Amount))
	})

	t.Run("failed callback discards writes", func(t *testing.T) {
		p := newParent(models.KindInterviewRequest, "owner-3")
		require.NoError(t, repo.CreateParent(ctx, p))
		b := newBid(p.ID, "bidder-x", "10")
		require.NoError(t, repo.WithParentLock(ctx, p.ID, func(tx Tx) error {
			return tx.InsertBid(ctx, b)
		}))

		err := repo.WithParentLock(ctx, p.ID, func(tx Tx) error {
			if err := tx.UpdateBidStatus(ctx, b.ID, models.BidAccepted, time.Now().UTC()); err != nil {
				return err
			}
			if err := tx.ResolveParent(ctx, b.ID, time.Now().UTC()); err != nil {
				return err
			}
			return errAbort
		})
		assert.ErrorIs(t, err, errAbort)

		got, err := repo.GetBid(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, models.BidPending, got.Status)
		parent, err := repo.GetParent(ctx, p.ID)
		require.NoError(t, err)
		assert.Nil(t, parent.ResolvedBidID)
	})

	t.Run("resolve is set once", func(t *testing.T) {
		p := newParent(models.KindProjectProfile, "owner-4")
		require.NoError(t, repo.CreateParent(ctx, p))
		a := newBid(p.ID, "bidder-a", "1")
		b := newBid(p.ID, "bidder-b", "2")
		require.NoError(t, repo.WithParentLock(ctx, p.ID, func(tx Tx) error {
			if err := tx.InsertBid(ctx, a); err != nil {
				return err
			}
			return tx.InsertBid(ctx, b)
		}))

		at := time.Now().UTC().Truncate(time.Microsecond)
		require.NoError(t, repo.WithParentLock(ctx, p.ID, func(tx Tx) error {
			if err := tx.UpdateBidStatus(ctx, a.ID, models.BidAccepted, at); err != nil {
				return err
			}
			if err := tx.ResolveParent(ctx, a.ID, at); err != nil {
				return err
			}
			// the tx view reflects its own writes
			assert.Equal(t, a.ID, *tx.Parent().ResolvedBidID)
			return nil
		}))

		err := repo.WithParentLock(ctx, p.ID, func(tx Tx) error {
			return tx.ResolveParent(ctx, b.ID, time.Now().UTC())
		})
		assert.ErrorIs(t, err, ErrAlreadyResolved)

		parent, bids, err := repo.Snapshot(ctx, p.ID)
		require.NoError(t, err)
		require.NotNil(t, parent.ResolvedBidID)
		assert.Equal(t, a.ID, *parent.ResolvedBidID)
		assert.Equal(t, models.BidAccepted, bids[0].Status)
		assert.True(t, at.Equal(bids[0].UpdatedAt))
		assert.Equal(t, models.BidPending, bids[1].Status)
	})

	t.Run("list parents filters", func(t *testing.T) {
		owner := "lister-" + uuid.NewString()
		for i := 0; i < 3; i++ {
			require.NoError(t, repo.CreateParent(ctx, newParent(models.KindProjectProfile, owner)))
		}
		require.NoError(t, repo.CreateParent(ctx, newParent(models.KindInterviewRequest, owner)))

		all, err := repo.ListParents(ctx, models.ParentFilters{OwnerID: owner})
		require.NoError(t, err)
		assert.Len(t, all, 4)

		profiles, err := repo.ListParents(ctx, models.ParentFilters{OwnerID: owner, Kind: models.KindProjectProfile})
		require.NoError(t, err)
		assert.Len(t, profiles, 3)

		page, err := repo.ListParents(ctx, models.ParentFilters{OwnerID: owner, Limit: 2, Offset: 1})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, all[1].ID, page[0].ID)
	})

	t.Run("concurrent resolves are serialized", func(t *testing.T) {
		const contenders = 8
		p := newParent(models.KindProjectProfile, "owner-5")
		require.NoError(t, repo.CreateParent(ctx, p))
		bids := make([]*models.BidRecord, contenders)
		require.NoError(t, repo.WithParentLock(ctx, p.ID, func(tx Tx) error {
			for i := range bids {
				bids[i] = newBid(p.ID, "racer-"+string(rune('a'+i)), "10")
				if err := tx.InsertBid(ctx, bids[i]); err != nil {
					return err
				}
			}
			return nil
		}))

		var (
			wg       sync.WaitGroup
			inside   atomic.Int32
			overlaps atomic.Int32
			won      atomic.Int32
			lost     atomic.Int32
		)
		start := make(chan struct{})
		for _, b := range bids {
			wg.Add(1)
			go func(b *models.BidRecord) {
				defer wg.Done()
				<-start
				err := repo.WithParentLock(ctx, p.ID, func(tx Tx) error {
					if inside.Add(1) > 1 {
						overlaps.Add(1)
					}
					defer inside.Add(-1)
					time.Sleep(2 * time.Millisecond)

					at := time.Now().UTC()
					if err := tx.ResolveParent(ctx, b.ID, at); err != nil {
						return err
					}
					return tx.UpdateBidStatus(ctx, b.ID, models.BidAccepted, at)
				})
				switch {
				case err == nil:
					won.Add(1)
				case errors.Is(err, ErrAlreadyResolved):
					lost.Add(1)
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}(b)
		}
		close(start)
		wg.Wait()

		assert.Equal(t, int32(0), overlaps.Load())
		assert.Equal(t, int32(1), won.Load())
		assert.Equal(t, int32(contenders-1), lost.Load())

		parent, stored, err := repo.Snapshot(ctx, p.ID)
		require.NoError(t, err)
		require.NotNil(t, parent.ResolvedBidID)
		accepted := 0
		for _, b := range stored {
			if b.Status == models.BidAccepted {
				accepted++
				assert.Equal(t, *parent.ResolvedBidID, b.ID)
			}
		}
		assert.Equal(t, 1, accepted)
	})

	t.Run("held lock times out contenders", func(t *testing.T) {
		p := newParent(models.KindInterviewRequest, "owner-6")
		require.NoError(t, repo.CreateParent(ctx, p))

		held := make(chan struct{})
		release := make(chan struct{})
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = repo.WithParentLock(ctx, p.ID, func(tx Tx) error {
				close(held)
				<-release
				return nil
			})
		}()
		<-held

		b := newBid(p.ID, "late-bidder", "3")
		started := time.Now()
		err := repo.WithParentLock(ctx, p.ID, func(tx Tx) error {
			return tx.InsertBid(ctx, b)
		})
		elapsed := time.Since(started)
		close(release)
		wg.Wait()

		assert.ErrorIs(t, err, ErrLockTimeout)
		// retries share one budget rather than each getting a fresh one
		assert.Less(t, elapsed, 2*lockTimeout)

		_, err = repo.GetBid(ctx, b.ID)
		assert.ErrorIs(t, err, ErrBidNotFound)
		parent, err := repo.GetParent(ctx, p.ID)
		require.NoError(t, err)
		assert.Empty(t, parent.BidIDs)
	})

	t.Run("ping", func(t *testing.T) {
		assert.NoError(t, repo.Ping(ctx))
	})
}
