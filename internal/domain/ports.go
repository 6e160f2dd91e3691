package domain

import "context"

// ReviewsClient talks to the real-estate directory backend. Implementations
// return raw records as loosely-typed maps; normalization happens in app.
type ReviewsClient interface {
	FetchReviews(ctx context.Context, agentID int64) ([]map[string]any, error)
	CreateReview(ctx context.Context, in CreateReviewInput) (map[string]any, error)
	UpdateReview(ctx context.Context, reviewID int64, rating float64, comment string) error
	DeleteReview(ctx context.Context, reviewID int64) error
}

type CreateReviewInput struct {
	AgentID int64
	UserID  int64
	Rating  float64
	Comment string
}

type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttlSec int) error
	Del(ctx context.Context, key string) error
}

// EventPublisher emits analytics events for confirmed mutations. Best-effort;
// callers ignore errors beyond logging.
type EventPublisher interface {
	PublishReviewEvent(ctx context.Context, ev ReviewEvent) error
}

// ListQuery controls ordering of the read path.
type ListQuery struct {
	Sort string // -created_at (default) | created_at | -rating | rating
}
