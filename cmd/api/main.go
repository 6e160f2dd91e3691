package main

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"estate_reviews/internal/adapters/estateapi"
	server "estate_reviews/internal/adapters/http_server"
	kafkapub "estate_reviews/internal/adapters/kafka"
	"estate_reviews/internal/adapters/observability"
	redisad "estate_reviews/internal/adapters/redis"
	"estate_reviews/internal/app"
	"estate_reviews/internal/domain"
	"estate_reviews/internal/shared"
)

func main() {
	cfg := shared.Load()

	// set global logger (console in dev, JSON otherwise)
	log.Logger = observability.NewLogger(cfg.AppEnv)

	observability.Serve()

	client, err := estateapi.New(cfg.EstateBase, cfg.EstateKey, cfg.EstateRPS)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize backend client")
	}

	cache := redisad.New(cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)

	var pub domain.EventPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kp := kafkapub.New(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer func() { _ = kp.Close() }()
		pub = kp
		log.Info().Strs("brokers", cfg.KafkaBrokers).Str("topic", cfg.KafkaTopic).Msg("review events enabled")
	}

	q := app.NewQueryService(client, cache, cfg.CacheTTL)
	sessions := app.NewSessionManager(client, cache, pub, log.Logger)
	defer sessions.CloseAll()

	// http
	srv := server.New()
	reg := observability.InitRegistry()
	srv.Mount("/metrics", observability.MetricsHandler(reg))
	srv.MountHandlers(&server.Handlers{Q: q, Sessions: sessions})

	log.Info().Str("addr", cfg.HTTPAddr).Msg("API listening")
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: srv.Mux()}

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
}
