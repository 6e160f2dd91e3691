package app

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"estate_reviews/internal/domain"
)

var sortKeys = []string{"-created_at", "created_at", "-rating", "rating"}

type QueryService struct {
	client   domain.ReviewsClient
	cache    domain.Cache
	cacheTTL time.Duration
}

func NewQueryService(c domain.ReviewsClient, cache domain.Cache, ttl time.Duration) *QueryService {
	return &QueryService{client: c, cache: cache, cacheTTL: ttl}
}

// AgentReviews is the cached read path: normalized, sorted reviews plus the
// aggregate computed from them.
func (s *QueryService) AgentReviews(ctx context.Context, agentID int64, q domain.ListQuery) (domain.Snapshot, error) {
	sortKey := q.Sort
	if sortKey == "" {
		sortKey = "-created_at"
	}
	key := reviewsCacheKey(agentID, sortKey)

	var snap domain.Snapshot
	if s.cache != nil {
		if ok, _ := s.cache.Get(ctx, key, &snap); ok {
			return snap, nil
		}
	}

	raw, err := s.client.FetchReviews(ctx, agentID)
	if err != nil {
		return domain.Snapshot{}, &domain.FetchError{AgentID: agentID, Err: err}
	}
	reviews := Normalize(agentID, raw)
	SortReviews(reviews, sortKey)
	snap = domain.Snapshot{
		AgentID:   agentID,
		Reviews:   reviews,
		Aggregate: ComputeAggregate(reviews),
	}

	if s.cache != nil {
		// size guard: never cache pathological payloads
		if b, _ := json.Marshal(snap); len(b) < 1_000_000 {
			_ = s.cache.Set(ctx, key, snap, int(s.cacheTTL.Seconds()))
		}
	}
	return snap, nil
}

// WarmAgent primes the default-sort cache entry for an agent.
func (s *QueryService) WarmAgent(ctx context.Context, agentID int64) (domain.AggregateStats, error) {
	invalidateAgentReviews(ctx, s.cache, agentID)
	snap, err := s.AgentReviews(ctx, agentID, domain.ListQuery{})
	if err != nil {
		return domain.AggregateStats{}, err
	}
	return snap.Aggregate, nil
}

func reviewsCacheKey(agentID int64, sortKey string) string {
	return fmt.Sprintf("agent_reviews:%d:%s", agentID, sortKey)
}

// invalidateAgentReviews evicts every sort variant for the agent.
func invalidateAgentReviews(ctx context.Context, cache domain.Cache, agentID int64) {
	if cache == nil {
		return
	}
	for _, k := range sortKeys {
		_ = cache.Del(ctx, reviewsCacheKey(agentID, k))
	}
}
