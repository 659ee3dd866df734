// Package statemachine holds the review lifecycle's transition table,
// grounded on original_source/state_machine.py and spec §4.3.1.
package statemachine

import (
	"github.com/gsd-tools/review-broker/internal/domain"
	brokererrors "github.com/gsd-tools/review-broker/internal/errors"
)

var validTransitions = map[domain.ReviewStatus]map[domain.ReviewStatus]bool{
	domain.StatusPending: {
		domain.StatusClaimed: true,
	},
	domain.StatusClaimed: {
		domain.StatusPending:           true, // reclaim on timeout
		domain.StatusInReview:          true,
		domain.StatusApproved:          true,
		domain.StatusChangesRequested:  true,
	},
	domain.StatusInReview: {
		domain.StatusApproved:         true,
		domain.StatusChangesRequested: true,
	},
	domain.StatusApproved: {
		domain.StatusClosed: true,
	},
	domain.StatusChangesRequested: {
		domain.StatusPending: true, // resubmit / reservation
		domain.StatusClosed:  true,
	},
	domain.StatusClosed: {},
}

// Validate returns an InvalidTransition error unless current->target is a
// row in the table above.
func Validate(current, target domain.ReviewStatus) error {
	allowed, ok := validTransitions[current]
	if !ok || !allowed[target] {
		return brokererrors.InvalidTransition(string(current), string(target))
	}
	return nil
}

// CanTransition reports the same thing as Validate without allocating an
// error, for call sites that only need a boolean.
func CanTransition(current, target domain.ReviewStatus) bool {
	allowed, ok := validTransitions[current]
	return ok && allowed[target]
}
