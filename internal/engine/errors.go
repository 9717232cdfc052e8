package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/terra-clan/bid-engine/internal/models"
	"github.com/terra-clan/bid-engine/internal/storage"
)

// Common errors
var (
	ErrNotFound       = errors.New("not found")
	ErrBidNotFound    = fmt.Errorf("bid %w", ErrNotFound)
	ErrParentNotFound = fmt.Errorf("parent resource %w", ErrNotFound)

	ErrInvalidTransition = errors.New("invalid transition")
	// ErrAlreadyInState is also reported as ErrInvalidTransition
	ErrAlreadyInState          = errors.New("bid already in requested state")
	ErrResourceAlreadyResolved = errors.New("resource already resolved")
	ErrLockTimeout             = errors.New("timed out waiting for resource lock")
	// ErrCanceled is returned when the caller went away before the operation finished
	ErrCanceled = errors.New("operation canceled")

	ErrInvalidBid   = errors.New("invalid bid")
	ErrOwnResource  = errors.New("owner cannot bid on own resource")
	ErrDuplicateBid = errors.New("bidder already has a bid on this resource")
)

// TransitionError describes a status change the guard refused
type TransitionError struct {
	BidID  string
	From   models.BidStatus
	To     models.BidStatus
	Reason string
	noop   bool
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("bid %s: cannot move %s -> %s: %s", e.BidID, e.From, e.To, e.Reason)
}

func (e *TransitionError) Unwrap() []error {
	if e.noop {
		return []error{ErrAlreadyInState, ErrInvalidTransition}
	}
	return []error{ErrInvalidTransition}
}

// IsNoOp reports whether the requested status was the current one
func (e *TransitionError) IsNoOp() bool {
	return e.noop
}

// ResolvedError reports that a parent already has a winning bid
type ResolvedError struct {
	ParentID      string
	ResolvedBidID string
}

func (e *ResolvedError) Error() string {
	return fmt.Sprintf("parent resource %s already resolved by bid %s", e.ParentID, e.ResolvedBidID)
}

func (e *ResolvedError) Unwrap() error {
	return ErrResourceAlreadyResolved
}

func resolvedError(p *models.ParentResource) error {
	e := &ResolvedError{ParentID: p.ID}
	if p.ResolvedBidID != nil {
		e.ResolvedBidID = *p.ResolvedBidID
	}
	return e
}

// translate maps storage errors onto the engine's error set
func translate(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, storage.ErrBidNotFound):
		return ErrBidNotFound
	case errors.Is(err, storage.ErrParentNotFound):
		return ErrParentNotFound
	case errors.Is(err, storage.ErrAlreadyResolved):
		return ErrResourceAlreadyResolved
	case errors.Is(err, storage.ErrLockTimeout):
		return ErrLockTimeout
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	return err
}
