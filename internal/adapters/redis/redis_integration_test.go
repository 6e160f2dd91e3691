//go:build integration

package redisad_test

import (
	"context"
	"testing"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"

	redisad "estate_reviews/internal/adapters/redis"
	"estate_reviews/internal/domain"
)

// Same shape as the miniredis tests, but against a real Redis in Docker.
func TestCache_Redis_Container(t *testing.T) {
	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Fatalf("dockertest: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "redis",
		Tag:        "7.2",
	}, func(hc *docker.HostConfig) {
		hc.AutoRemove = true
		hc.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	if err != nil {
		t.Fatalf("run redis: %v", err)
	}
	t.Cleanup(func() { _ = pool.Purge(resource) })

	addr := "127.0.0.1:" + resource.GetPort("6379/tcp")
	c := redisad.New(addr, "", 0)
	ctx := context.Background()

	if err := pool.Retry(func() error {
		return c.Set(ctx, "ping", domain.Snapshot{AgentID: 1}, 10)
	}); err != nil {
		t.Fatalf("connect redis: %v", err)
	}

	snap := domain.Snapshot{
		AgentID:   42,
		Reviews:   []domain.Review{{ID: 9, Rating: 3.5, UserName: "Bo"}},
		Aggregate: domain.AggregateStats{AverageRating: 3.5, TotalReviews: 1, Histogram: map[int]int{1: 0, 2: 0, 3: 0, 4: 1, 5: 0}},
	}
	if err := c.Set(ctx, "agent_reviews:42:-created_at", snap, 60); err != nil {
		t.Fatalf("set: %v", err)
	}

	var got domain.Snapshot
	ok, err := c.Get(ctx, "agent_reviews:42:-created_at", &got)
	if err != nil || !ok {
		t.Fatalf("get: ok=%v err=%v", ok, err)
	}
	if got.AgentID != 42 || got.Aggregate.Histogram[4] != 1 {
		t.Fatalf("unexpected snapshot: %+v", got)
	}

	if err := c.Del(ctx, "agent_reviews:42:-created_at"); err != nil {
		t.Fatalf("del: %v", err)
	}
	ok, _ = c.Get(ctx, "agent_reviews:42:-created_at", &got)
	if ok {
		t.Fatalf("expected miss after delete")
	}
}
