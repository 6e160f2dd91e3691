package main

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"estate_reviews/internal/adapters/estateapi"
	"estate_reviews/internal/adapters/observability"
	redisad "estate_reviews/internal/adapters/redis"
	"estate_reviews/internal/app"
	"estate_reviews/internal/shared"
)

// Warms the review cache for a configured list of agents so first screen
// loads hit Redis instead of the flaky directory backend.
func main() {
	ctx := context.Background()
	cfg := shared.Load()

	log.Logger = observability.NewLogger(cfg.AppEnv)

	if len(cfg.WarmAgentIDs) == 0 {
		log.Fatal().Msg("WARM_AGENT_IDS is empty, nothing to do")
	}
	log.Info().
		Str("base", cfg.EstateBase).
		Int("workers", cfg.Workers).
		Int("agents", len(cfg.WarmAgentIDs)).
		Msg("warmer starting")

	client, err := estateapi.New(cfg.EstateBase, cfg.EstateKey, cfg.EstateRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize backend client")
	}
	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
	q := app.NewQueryService(client, cache, cfg.CacheTTL)

	sem := semaphore.NewWeighted(int64(cfg.Workers))
	var wg sync.WaitGroup

	for _, id := range cfg.WarmAgentIDs {
		id := id

		// acquire before launching the goroutine; release inside it
		if err := sem.Acquire(ctx, int64(1)); err != nil {
			log.Fatal().Err(err).Msg("semaphore acquire failed")
		}

		wg.Add(1)
		go func(agentID int64) {
			defer wg.Done()
			defer sem.Release(int64(1))

			agg, err := q.WarmAgent(ctx, agentID)
			if err != nil {
				log.Warn().Int64("id", agentID).Err(err).Msg("warm failed")
				return
			}
			log.Info().Int64("id", agentID).
				Float64("avg", agg.AverageRating).
				Int("reviews", agg.TotalReviews).
				Msg("warm ok")
		}(id)
	}

	wg.Wait()
	log.Info().Msg("warm completed")
}
