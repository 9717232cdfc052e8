// Package guard decides whether a bid may move from one status to another.
// It is pure: no I/O and no shared state beyond the static tables below.
package guard

import (
	"fmt"
	"slices"

	"github.com/terra-clan/bid-engine/internal/models"
)

// Decision is the outcome of a transition check
type Decision struct {
	Allowed bool
	// NoOp is set when the requested status equals the current one
	NoOp   bool
	Reason string
}

type table map[models.Role]map[models.BidStatus][]models.BidStatus

// Project profile bids go through review. There is no automatic cascade to
// siblings when one is accepted.
var projectProfile = table{
	models.RoleCreator: {
		models.BidPending:   {models.BidAccepted, models.BidRejected, models.BidPanel, models.BidInterview},
		models.BidPanel:     {models.BidAccepted, models.BidRejected, models.BidInterview},
		models.BidInterview: {models.BidAccepted, models.BidRejected},
	},
}

// Interview request bids are either picked by the creator or rejected by the
// engine when a sibling wins.
var interviewRequest = table{
	models.RoleCreator: {
		models.BidPending: {models.BidAccepted},
	},
	models.RoleSystem: {
		models.BidPending: {models.BidRejected},
	},
}

func tableFor(kind models.ResourceKind) table {
	switch kind {
	case models.KindProjectProfile:
		return projectProfile
	case models.KindInterviewRequest:
		return interviewRequest
	}
	return nil
}

// Check reports whether role may move a bid under kind from current to requested
func Check(kind models.ResourceKind, current, requested models.BidStatus, role models.Role) Decision {
	t := tableFor(kind)
	if t == nil {
		return deny("unknown resource kind %q", kind)
	}
	if !current.Valid() {
		return deny("unknown current status %q", current)
	}
	if !requested.Valid() {
		return deny("unknown requested status %q", requested)
	}
	if current == requested {
		return Decision{NoOp: true, Reason: fmt.Sprintf("bid is already %s", current)}
	}

	edges, ok := t[role]
	if !ok {
		return deny("role %q cannot change %s bids", role, kind)
	}
	targets := edges[current]
	if len(targets) == 0 {
		if current.IsTerminal() {
			return deny("%s is terminal", current)
		}
		return deny("role %q has no transitions out of %s for %s bids", role, current, kind)
	}
	if !slices.Contains(targets, requested) {
		return deny("%s -> %s is not allowed for %s bids", current, requested, kind)
	}
	return Decision{Allowed: true}
}

// Targets returns the statuses role may move a bid to from current.
// The result is a fresh slice and may be empty.
func Targets(kind models.ResourceKind, current models.BidStatus, role models.Role) []models.BidStatus {
	t := tableFor(kind)
	if t == nil {
		return []models.BidStatus{}
	}
	return append([]models.BidStatus{}, t[role][current]...)
}

func deny(format string, args ...any) Decision {
	return Decision{Reason: fmt.Sprintf(format, args...)}
}
