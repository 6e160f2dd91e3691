package app

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"estate_reviews/internal/adapters/observability"
	"estate_reviews/internal/domain"
)

// mutationState tracks the in-flight operation for a review id. An id is
// Idle when absent from the map; Confirmed/RolledBack states resolve by
// removing the entry after reconciliation.
type mutationState int

const (
	statePendingAdd mutationState = iota + 1
	statePendingEdit
	statePendingDelete
)

// Session owns the working review set for one agent and keeps it, plus the
// derived aggregate, consistent across optimistic mutations and concurrent
// refreshes. The aggregate is recomputed under the same lock as every
// working-set mutation, so observers never see the two out of sync.
//
// Mutation methods block until the backend confirms or the optimistic change
// has been rolled back; callers wanting fire-and-forget run them in their own
// goroutine. The optimistic window is visible to Snapshot and subscribers.
type Session struct {
	agentID int64
	client  domain.ReviewsClient
	cache   domain.Cache          // optional; read-path keys evicted after confirmed mutations
	pub     domain.EventPublisher // optional
	log     zerolog.Logger

	mu         sync.Mutex
	reviews    []domain.Review
	agg        domain.AggregateStats
	inFlight   map[int64]mutationState
	nextTempID int64 // decremented before use; temp ids are strictly negative
	closed     bool
	seeded     bool // at least one successful refresh
	subs       map[int64]func(domain.Snapshot)
	nextSubID  int64
}

func NewSession(agentID int64, client domain.ReviewsClient, cache domain.Cache, pub domain.EventPublisher, logger zerolog.Logger) *Session {
	return &Session{
		agentID:  agentID,
		client:   client,
		cache:    cache,
		pub:      pub,
		log:      logger.With().Int64("agent_id", agentID).Logger(),
		agg:      ComputeAggregate(nil),
		inFlight: make(map[int64]mutationState),
		subs:     make(map[int64]func(domain.Snapshot)),
	}
}

// Snapshot returns a copy of the current state; safe to retain.
func (s *Session) Snapshot() domain.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers an observer called after every recompute with a copied
// snapshot. Callbacks run under the session lock and must not re-enter the
// session. The returned func cancels the subscription.
func (s *Session) Subscribe(fn func(domain.Snapshot)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSubID++
	id := s.nextSubID
	s.subs[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subs, id)
	}
}

// Close marks the session dead. Request completions that arrive afterwards
// discard their effect instead of mutating state.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.subs = make(map[int64]func(domain.Snapshot))
}

// Refresh fetches the agent's reviews and merges them into the working set.
// Server data wins for ids with no pending local intent; pending local
// entries survive the merge (pending adds are kept, pending deletes stay
// deleted, pending edits keep the local copy). A failed fetch leaves the
// working set untouched.
func (s *Session) Refresh(ctx context.Context) error {
	raw, err := s.client.FetchReviews(ctx, s.agentID)
	if err != nil {
		s.log.Warn().Err(err).Msg("refresh failed, keeping last-known-good set")
		return &domain.FetchError{AgentID: s.agentID, Err: err}
	}
	incoming := Normalize(s.agentID, raw)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrSessionClosed
	}
	s.reviews = s.mergeLocked(incoming)
	s.seeded = true
	s.recomputeLocked()
	return nil
}

// EnsureSeeded performs the initial fetch once, so edits and deletes can
// resolve server-assigned ids.
func (s *Session) EnsureSeeded(ctx context.Context) error {
	s.mu.Lock()
	done := s.seeded
	s.mu.Unlock()
	if done {
		return nil
	}
	return s.Refresh(ctx)
}

// mergeLocked reconciles a server snapshot with local pending intent.
func (s *Session) mergeLocked(incoming []domain.Review) []domain.Review {
	local := make(map[int64]domain.Review, len(s.reviews))
	for _, r := range s.reviews {
		local[r.ID] = r
	}

	merged := make([]domain.Review, 0, len(incoming)+4)
	seen := make(map[int64]struct{}, len(incoming))
	for _, r := range incoming {
		switch s.inFlight[r.ID] {
		case statePendingDelete:
			// stale server snapshot still carries a locally deleted review
			continue
		case statePendingEdit:
			merged = append(merged, local[r.ID])
		default:
			merged = append(merged, r)
		}
		seen[r.ID] = struct{}{}
	}

	// Local entries the server does not know yet: keep only pending ones
	// (optimistic adds on temp ids, or a confirmed-elsewhere lag). Everything
	// else absent server-side was deleted upstream; the server wins.
	for _, r := range s.reviews {
		if _, ok := seen[r.ID]; ok {
			continue
		}
		if r.Pending {
			merged = append(merged, r)
		}
	}
	return merged
}

// Add appends an optimistic entry under a synthetic negative id, then calls
// the backend. On success the temp entry is replaced by the server-confirmed
// record; on failure it is removed and a MutationError returned.
func (s *Session) Add(ctx context.Context, userID int64, userName string, rating float64, comment string) (domain.Review, error) {
	if rating <= 0 || rating > 5 {
		observability.ObserveMutation("add", "rejected")
		return domain.Review{}, domain.ErrInvalidRating
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.Review{}, domain.ErrSessionClosed
	}
	s.nextTempID--
	tempID := s.nextTempID
	if userName == "" {
		userName = defaultUserName
	}
	entry := domain.Review{
		ID:        tempID,
		AgentID:   s.agentID,
		UserID:    userID,
		UserName:  userName,
		Rating:    rating,
		Comment:   comment,
		CreatedAt: time.Now().UTC(),
		Pending:   true,
	}
	s.reviews = append(s.reviews, entry)
	s.inFlight[tempID] = statePendingAdd
	s.recomputeLocked()
	s.mu.Unlock()

	opID := uuid.NewString()
	s.log.Debug().Str("op_id", opID).Int64("temp_id", tempID).Msg("optimistic add")
	confirmed, err := s.client.CreateReview(ctx, domain.CreateReviewInput{
		AgentID: s.agentID,
		UserID:  userID,
		Rating:  rating,
		Comment: comment,
	})

	s.mu.Lock()
	delete(s.inFlight, tempID)
	if s.closed {
		s.mu.Unlock()
		return domain.Review{}, domain.ErrSessionClosed
	}
	if err != nil {
		s.removeLocked(tempID)
		s.recomputeLocked()
		s.mu.Unlock()
		observability.ObserveMutation("add", "rolled_back")
		s.log.Warn().Str("op_id", opID).Err(err).Msg("add rolled back")
		return domain.Review{}, &domain.MutationError{Op: "add", ReviewID: tempID, Err: err}
	}

	srv := NormalizeOne(s.agentID, confirmed)
	if srv.ID == 0 {
		// backend confirmed without echoing an id; the temp id stays usable
		srv.ID = tempID
	}
	srv.Pending = false
	if idx := s.indexLocked(tempID); idx >= 0 {
		s.reviews[idx] = srv
	} else {
		s.reviews = append(s.reviews, srv)
	}
	s.recomputeLocked()
	s.mu.Unlock()

	observability.ObserveMutation("add", "confirmed")
	s.afterConfirm(ctx, "review_created", srv.ID, srv.Rating)
	return srv, nil
}

// Edit applies new rating/comment immediately and reverts to the pre-edit
// snapshot if the backend rejects the update.
func (s *Session) Edit(ctx context.Context, reviewID int64, rating float64, comment string) error {
	if rating <= 0 || rating > 5 {
		observability.ObserveMutation("edit", "rejected")
		return domain.ErrInvalidRating
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if _, busy := s.inFlight[reviewID]; busy {
		s.mu.Unlock()
		observability.ObserveMutation("edit", "rejected")
		return domain.ErrMutationInFlight
	}
	idx := s.indexLocked(reviewID)
	if idx < 0 {
		s.mu.Unlock()
		return domain.ErrUnknownReview
	}
	prev := s.reviews[idx]
	s.reviews[idx].Rating = rating
	s.reviews[idx].Comment = comment
	s.reviews[idx].Pending = true
	s.inFlight[reviewID] = statePendingEdit
	s.recomputeLocked()
	s.mu.Unlock()

	err := s.client.UpdateReview(ctx, reviewID, rating, comment)

	s.mu.Lock()
	delete(s.inFlight, reviewID)
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	idx = s.indexLocked(reviewID) // a merge may have moved it
	if err != nil {
		if idx >= 0 {
			s.reviews[idx] = prev
		}
		s.recomputeLocked()
		s.mu.Unlock()
		observability.ObserveMutation("edit", "rolled_back")
		s.log.Warn().Int64("review_id", reviewID).Err(err).Msg("edit rolled back")
		return &domain.MutationError{Op: "edit", ReviewID: reviewID, Err: err}
	}
	if idx >= 0 {
		s.reviews[idx].Pending = false
	}
	s.recomputeLocked()
	s.mu.Unlock()

	observability.ObserveMutation("edit", "confirmed")
	s.afterConfirm(ctx, "review_updated", reviewID, rating)
	return nil
}

// Delete removes the entry immediately and re-inserts it at its original
// position if the backend call fails.
func (s *Session) Delete(ctx context.Context, reviewID int64) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if _, busy := s.inFlight[reviewID]; busy {
		s.mu.Unlock()
		observability.ObserveMutation("delete", "rejected")
		return domain.ErrMutationInFlight
	}
	idx := s.indexLocked(reviewID)
	if idx < 0 {
		s.mu.Unlock()
		return domain.ErrUnknownReview
	}
	removed := s.reviews[idx]
	s.reviews = append(s.reviews[:idx], s.reviews[idx+1:]...)
	s.inFlight[reviewID] = statePendingDelete
	s.recomputeLocked()
	s.mu.Unlock()

	err := s.client.DeleteReview(ctx, reviewID)

	s.mu.Lock()
	delete(s.inFlight, reviewID)
	if s.closed {
		s.mu.Unlock()
		return domain.ErrSessionClosed
	}
	if err != nil {
		pos := idx
		if pos > len(s.reviews) {
			pos = len(s.reviews)
		}
		s.reviews = append(s.reviews, domain.Review{})
		copy(s.reviews[pos+1:], s.reviews[pos:])
		s.reviews[pos] = removed
		s.recomputeLocked()
		s.mu.Unlock()
		observability.ObserveMutation("delete", "rolled_back")
		s.log.Warn().Int64("review_id", reviewID).Err(err).Msg("delete rolled back")
		return &domain.MutationError{Op: "delete", ReviewID: reviewID, Err: err}
	}
	s.mu.Unlock()

	observability.ObserveMutation("delete", "confirmed")
	s.afterConfirm(ctx, "review_deleted", reviewID, removed.Rating)
	return nil
}

/********** internals **********/

func (s *Session) indexLocked(id int64) int {
	for i := range s.reviews {
		if s.reviews[i].ID == id {
			return i
		}
	}
	return -1
}

func (s *Session) removeLocked(id int64) {
	if idx := s.indexLocked(id); idx >= 0 {
		s.reviews = append(s.reviews[:idx], s.reviews[idx+1:]...)
	}
}

// recomputeLocked derives the aggregate from the working set and notifies
// subscribers. Must run after every working-set mutation, under the lock.
func (s *Session) recomputeLocked() {
	s.agg = ComputeAggregate(s.reviews)
	if len(s.subs) == 0 {
		return
	}
	snap := s.snapshotLocked()
	for _, fn := range s.subs {
		fn(snap)
	}
}

func (s *Session) snapshotLocked() domain.Snapshot {
	out := domain.Snapshot{
		AgentID:   s.agentID,
		Aggregate: domain.AggregateStats{AverageRating: s.agg.AverageRating, TotalReviews: s.agg.TotalReviews},
	}
	out.Aggregate.Histogram = make(map[int]int, len(s.agg.Histogram))
	for k, v := range s.agg.Histogram {
		out.Aggregate.Histogram[k] = v
	}
	if n := len(s.reviews); n > 0 {
		out.Reviews = make([]domain.Review, n)
		copy(out.Reviews, s.reviews)
	}
	return out
}

// afterConfirm runs side effects that must not hold the session lock:
// read-path cache eviction and the best-effort analytics event.
func (s *Session) afterConfirm(ctx context.Context, eventType string, reviewID int64, rating float64) {
	if s.cache != nil {
		invalidateAgentReviews(ctx, s.cache, s.agentID)
	}
	if s.pub != nil {
		ev := domain.ReviewEvent{
			EventID:  uuid.NewString(),
			Type:     eventType,
			AgentID:  s.agentID,
			ReviewID: reviewID,
			Rating:   rating,
			At:       time.Now().UTC(),
		}
		if err := s.pub.PublishReviewEvent(ctx, ev); err != nil {
			s.log.Warn().Err(err).Str("type", eventType).Msg("publish review event failed")
		}
	}
}
