package domain

import "time"

// Review is the canonical, default-filled form of a backend review record.
// Raw keeps the original payload verbatim so unrecognized fields survive a
// round trip through this service.
type Review struct {
	ID            int64     `json:"id"`
	AgentID       int64     `json:"agent_id"`
	UserID        int64     `json:"user_id"`
	UserName      string    `json:"user_name"`
	Rating        float64   `json:"rating"` // within [0,5]; 0 marks invalid/missing
	Comment       string    `json:"comment"`
	CreatedAt     time.Time `json:"created_at"`
	TotalComments int       `json:"total_comments"`
	Pending       bool      `json:"pending"` // local mutation not yet confirmed by the backend
	Raw           []byte    `json:"-"`
}

// AggregateStats is derived from a review set. Histogram always carries all
// five star buckets, zero-filled.
type AggregateStats struct {
	AverageRating float64     `json:"average_rating"` // quarter-star quantized, [0,5]
	TotalReviews  int         `json:"total_reviews"`
	Histogram     map[int]int `json:"histogram"`
}

// Snapshot is what presentation layers consume: the working review set and
// the aggregate computed from exactly that set.
type Snapshot struct {
	AgentID   int64          `json:"agent_id"`
	Reviews   []Review       `json:"reviews"`
	Aggregate AggregateStats `json:"aggregate"`
}

// ReviewEvent is published after a mutation is confirmed by the backend.
type ReviewEvent struct {
	EventID  string    `json:"event_id"`
	Type     string    `json:"type"` // review_created | review_updated | review_deleted
	AgentID  int64     `json:"agent_id"`
	ReviewID int64     `json:"review_id"`
	Rating   float64   `json:"rating"`
	At       time.Time `json:"at"`
}
