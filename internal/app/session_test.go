package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"estate_reviews/internal/app"
	"estate_reviews/internal/domain"
)

// fakeClient implements domain.ReviewsClient with pluggable behavior.
type fakeClient struct {
	fetchFn  func(ctx context.Context, agentID int64) ([]map[string]any, error)
	createFn func(ctx context.Context, in domain.CreateReviewInput) (map[string]any, error)
	updateFn func(ctx context.Context, reviewID int64, rating float64, comment string) error
	deleteFn func(ctx context.Context, reviewID int64) error
}

func (f *fakeClient) FetchReviews(ctx context.Context, agentID int64) ([]map[string]any, error) {
	if f.fetchFn == nil {
		return nil, nil
	}
	return f.fetchFn(ctx, agentID)
}

func (f *fakeClient) CreateReview(ctx context.Context, in domain.CreateReviewInput) (map[string]any, error) {
	if f.createFn == nil {
		return map[string]any{"id": 1000.0, "rating": in.Rating, "comment": in.Comment}, nil
	}
	return f.createFn(ctx, in)
}

func (f *fakeClient) UpdateReview(ctx context.Context, reviewID int64, rating float64, comment string) error {
	if f.updateFn == nil {
		return nil
	}
	return f.updateFn(ctx, reviewID, rating, comment)
}

func (f *fakeClient) DeleteReview(ctx context.Context, reviewID int64) error {
	if f.deleteFn == nil {
		return nil
	}
	return f.deleteFn(ctx, reviewID)
}

func serverReviews(rows ...map[string]any) func(context.Context, int64) ([]map[string]any, error) {
	return func(context.Context, int64) ([]map[string]any, error) { return rows, nil }
}

func row(id int64, rating float64) map[string]any {
	return map[string]any{"id": float64(id), "rating": rating, "user_name": "u", "comment": "c"}
}

func newTestSession(c domain.ReviewsClient) *app.Session {
	return app.NewSession(1, c, nil, nil, zerolog.Nop())
}

func TestSession_AddConfirmedReplacesTempEntry(t *testing.T) {
	fc := &fakeClient{
		createFn: func(_ context.Context, in domain.CreateReviewInput) (map[string]any, error) {
			return map[string]any{"id": 101.0, "rating": in.Rating, "comment": in.Comment, "user_id": float64(in.UserID)}, nil
		},
	}
	s := newTestSession(fc)

	created, err := s.Add(context.Background(), 7, "Mira", 4, "solid")
	require.NoError(t, err)
	assert.Equal(t, int64(101), created.ID)
	assert.False(t, created.Pending)

	snap := s.Snapshot()
	require.Len(t, snap.Reviews, 1)
	assert.Equal(t, int64(101), snap.Reviews[0].ID)
	assert.False(t, snap.Reviews[0].Pending)
	assert.Equal(t, 1, snap.Aggregate.TotalReviews)
	assert.Equal(t, 4.0, snap.Aggregate.AverageRating)
}

func TestSession_AddRollbackOnFailure(t *testing.T) {
	fc := &fakeClient{
		fetchFn: serverReviews(row(10, 5)),
		createFn: func(context.Context, domain.CreateReviewInput) (map[string]any, error) {
			return nil, errors.New("network down")
		},
	}
	s := newTestSession(fc)
	require.NoError(t, s.Refresh(context.Background()))
	before := s.Snapshot()

	_, err := s.Add(context.Background(), 7, "", 3, "meh")
	var me *domain.MutationError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, "add", me.Op)

	after := s.Snapshot()
	assert.Equal(t, before.Reviews, after.Reviews)
	assert.Equal(t, before.Aggregate, after.Aggregate)
}

func TestSession_EditRollbackOnFailure(t *testing.T) {
	fc := &fakeClient{
		fetchFn: serverReviews(row(7, 3)),
		updateFn: func(context.Context, int64, float64, string) error {
			return errors.New("500")
		},
	}
	s := newTestSession(fc)
	require.NoError(t, s.Refresh(context.Background()))

	err := s.Edit(context.Background(), 7, 5, "changed my mind")
	var me *domain.MutationError
	require.ErrorAs(t, err, &me)

	snap := s.Snapshot()
	require.Len(t, snap.Reviews, 1)
	assert.Equal(t, 3.0, snap.Reviews[0].Rating)
	assert.Equal(t, "c", snap.Reviews[0].Comment)
	assert.False(t, snap.Reviews[0].Pending)
	assert.Equal(t, 3.0, snap.Aggregate.AverageRating)
}

func TestSession_EditConfirmed(t *testing.T) {
	fc := &fakeClient{fetchFn: serverReviews(row(7, 3))}
	s := newTestSession(fc)
	require.NoError(t, s.Refresh(context.Background()))

	require.NoError(t, s.Edit(context.Background(), 7, 5, "upgraded"))
	snap := s.Snapshot()
	assert.Equal(t, 5.0, snap.Reviews[0].Rating)
	assert.False(t, snap.Reviews[0].Pending)
	assert.Equal(t, 5.0, snap.Aggregate.AverageRating)
}

func TestSession_DeleteRollbackReinsertsAtOriginalPosition(t *testing.T) {
	fc := &fakeClient{
		fetchFn: serverReviews(row(1, 5), row(2, 4), row(3, 3)),
		deleteFn: func(context.Context, int64) error {
			return errors.New("timeout")
		},
	}
	s := newTestSession(fc)
	require.NoError(t, s.Refresh(context.Background()))

	err := s.Delete(context.Background(), 2)
	var me *domain.MutationError
	require.ErrorAs(t, err, &me)

	snap := s.Snapshot()
	require.Len(t, snap.Reviews, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{snap.Reviews[0].ID, snap.Reviews[1].ID, snap.Reviews[2].ID})
	assert.Equal(t, 3, snap.Aggregate.TotalReviews)
}

func TestSession_RefreshKeepsPendingAdd(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fc := &fakeClient{
		fetchFn: serverReviews(row(10, 5)),
		createFn: func(_ context.Context, in domain.CreateReviewInput) (map[string]any, error) {
			close(started)
			<-release
			return map[string]any{"id": 11.0, "rating": in.Rating}, nil
		},
	}
	s := newTestSession(fc)
	require.NoError(t, s.Refresh(context.Background()))

	addDone := make(chan error, 1)
	go func() {
		_, err := s.Add(context.Background(), 7, "", 4, "pending me")
		addDone <- err
	}()
	<-started

	// refetch completes while the add is still in flight; the server does not
	// know the temp id yet
	require.NoError(t, s.Refresh(context.Background()))

	snap := s.Snapshot()
	require.Len(t, snap.Reviews, 2)
	var temp *domain.Review
	for i := range snap.Reviews {
		if snap.Reviews[i].ID < 0 {
			temp = &snap.Reviews[i]
		}
	}
	require.NotNil(t, temp, "pending add must survive the merge")
	assert.True(t, temp.Pending)

	close(release)
	require.NoError(t, <-addDone)

	snap = s.Snapshot()
	require.Len(t, snap.Reviews, 2)
	for _, r := range snap.Reviews {
		assert.Positive(t, r.ID)
		assert.False(t, r.Pending)
	}
}

func TestSession_RefreshDoesNotResurrectPendingDelete(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fc := &fakeClient{
		fetchFn: serverReviews(row(9, 2), row(10, 5)),
		deleteFn: func(context.Context, int64) error {
			close(started)
			<-release
			return nil
		},
	}
	s := newTestSession(fc)
	require.NoError(t, s.Refresh(context.Background()))

	delDone := make(chan error, 1)
	go func() { delDone <- s.Delete(context.Background(), 9) }()
	<-started

	// stale server snapshot still includes id 9
	require.NoError(t, s.Refresh(context.Background()))
	snap := s.Snapshot()
	require.Len(t, snap.Reviews, 1)
	assert.Equal(t, int64(10), snap.Reviews[0].ID)

	close(release)
	require.NoError(t, <-delDone)
}

func TestSession_ConflictingMutationRejected(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fc := &fakeClient{
		fetchFn: serverReviews(row(7, 3)),
		deleteFn: func(context.Context, int64) error {
			close(started)
			<-release
			return nil
		},
	}
	s := newTestSession(fc)
	require.NoError(t, s.Refresh(context.Background()))

	delDone := make(chan error, 1)
	go func() { delDone <- s.Delete(context.Background(), 7) }()
	<-started

	err := s.Edit(context.Background(), 7, 5, "too late")
	assert.ErrorIs(t, err, domain.ErrMutationInFlight)

	close(release)
	require.NoError(t, <-delDone)
}

func TestSession_CloseDiscardsLateCompletion(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	fc := &fakeClient{
		createFn: func(context.Context, domain.CreateReviewInput) (map[string]any, error) {
			close(started)
			<-release
			return map[string]any{"id": 55.0, "rating": 4.0}, nil
		},
	}
	s := newTestSession(fc)

	addDone := make(chan error, 1)
	go func() {
		_, err := s.Add(context.Background(), 1, "", 4, "")
		addDone <- err
	}()
	<-started
	s.Close()
	close(release)

	assert.ErrorIs(t, <-addDone, domain.ErrSessionClosed)
}

func TestSession_RefreshFailureKeepsLastKnownGood(t *testing.T) {
	healthy := true
	fc := &fakeClient{
		fetchFn: func(ctx context.Context, agentID int64) ([]map[string]any, error) {
			if !healthy {
				return nil, errors.New("gateway timeout")
			}
			return []map[string]any{row(1, 4)}, nil
		},
	}
	s := newTestSession(fc)
	require.NoError(t, s.Refresh(context.Background()))
	before := s.Snapshot()

	healthy = false
	err := s.Refresh(context.Background())
	var fe *domain.FetchError
	require.ErrorAs(t, err, &fe)

	after := s.Snapshot()
	assert.Equal(t, before.Reviews, after.Reviews)
	assert.Equal(t, before.Aggregate, after.Aggregate)
}

func TestSession_SubscribeAndCancel(t *testing.T) {
	fc := &fakeClient{fetchFn: serverReviews(row(1, 4))}
	s := newTestSession(fc)

	var got []domain.Snapshot
	cancel := s.Subscribe(func(sn domain.Snapshot) { got = append(got, sn) })

	require.NoError(t, s.Refresh(context.Background()))
	require.NotEmpty(t, got)
	last := got[len(got)-1]
	assert.Equal(t, 1, last.Aggregate.TotalReviews)
	assert.Equal(t, 4.0, last.Aggregate.AverageRating)

	n := len(got)
	cancel()
	require.NoError(t, s.Refresh(context.Background()))
	assert.Len(t, got, n, "canceled subscriber must not be notified")
}

func TestSession_AddRejectsInvalidRating(t *testing.T) {
	s := newTestSession(&fakeClient{})
	_, err := s.Add(context.Background(), 1, "", 0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidRating)
	_, err = s.Add(context.Background(), 1, "", 5.5, "")
	assert.ErrorIs(t, err, domain.ErrInvalidRating)
	assert.Empty(t, s.Snapshot().Reviews)
}

func TestSession_AggregateAlwaysMatchesWorkingSet(t *testing.T) {
	// every notification must carry an aggregate consistent with its reviews
	fc := &fakeClient{fetchFn: serverReviews(row(1, 5), row(2, 0))}
	s := newTestSession(fc)

	s.Subscribe(func(sn domain.Snapshot) {
		want := app.ComputeAggregate(sn.Reviews)
		if sn.Aggregate.TotalReviews != want.TotalReviews || sn.Aggregate.AverageRating != want.AverageRating {
			t.Errorf("stale aggregate observed: %+v vs %+v", sn.Aggregate, want)
		}
	})

	require.NoError(t, s.Refresh(context.Background()))
	_, err := s.Add(context.Background(), 3, "", 4, "ok")
	require.NoError(t, err)
	require.NoError(t, s.Edit(context.Background(), 1000, 2, "edit"))
	require.NoError(t, s.Delete(context.Background(), 1000))
	// give no extra goroutines a chance to race; everything above is synchronous
	time.Sleep(10 * time.Millisecond)
}
