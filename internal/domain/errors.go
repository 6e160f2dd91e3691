package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrMutationInFlight rejects a second mutation on a review id while one
	// is still pending. Serializing per id keeps the optimistic state machine
	// race-free.
	ErrMutationInFlight = errors.New("a mutation for this review is already in flight")

	// ErrSessionClosed is returned by mutations started after Close.
	ErrSessionClosed = errors.New("review session is closed")

	// ErrUnknownReview is returned when an edit/delete targets an id not in
	// the working set.
	ErrUnknownReview = errors.New("review not found in working set")

	// ErrInvalidRating rejects a local mutation before it touches the
	// working set. Ratings must be in (0,5].
	ErrInvalidRating = errors.New("rating must be greater than 0 and at most 5")
)

// MutationError wraps a backend failure of add/edit/delete. The optimistic
// change has already been rolled back when the caller sees one of these.
type MutationError struct {
	Op       string // add|edit|delete
	ReviewID int64
	Err      error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("review %s failed for id %d: %v", e.Op, e.ReviewID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }

// FetchError wraps a failed refresh. The working set is left at its
// last-known-good state.
type FetchError struct {
	AgentID int64
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch reviews failed for agent %d: %v", e.AgentID, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
