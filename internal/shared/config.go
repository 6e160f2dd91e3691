package shared

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

type Config struct {
	AppEnv       string
	HTTPAddr     string
	MetricsAddr  string
	RedisAddr    string
	RedisDB      int
	RedisPass    string
	EstateBase   string
	EstateKey    string
	EstateRPS    int
	KafkaBrokers []string
	KafkaTopic   string
	WarmAgentIDs []int64
	Workers      int
	CacheTTL     time.Duration
}

func Load() Config {
	atoi := func(k string, def int) int {
		if v := os.Getenv(k); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				return n
			}
		}
		return def
	}
	c := Config{
		AppEnv:       env("APP_ENV", "prod"),
		HTTPAddr:     env("HTTP_ADDR", ":8080"),
		MetricsAddr:  env("METRICS_ADDR", ":9100"),
		RedisAddr:    env("REDIS_ADDR", "localhost:6379"),
		RedisPass:    env("REDIS_PASSWORD", ""),
		RedisDB:      atoi("REDIS_DB", 0),
		EstateBase:   env("ESTATE_BASE_URL", "https://api.estate-directory.example/v2"),
		EstateKey:    env("ESTATE_API_KEY", ""),
		EstateRPS:    atoi("ESTATE_RPS", 5),
		KafkaTopic:   env("KAFKA_TOPIC", "review-events"),
		WarmAgentIDs: int64List(os.Getenv("WARM_AGENT_IDS")),
		Workers:      atoi("WARM_WORKERS", 8),
		CacheTTL:     time.Duration(atoi("CACHE_TTL_SECONDS", 900)) * time.Second,
	}
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				c.KafkaBrokers = append(c.KafkaBrokers, b)
			}
		}
	}
	if c.EstateKey == "" {
		log.Warn().Msg("ESTATE_API_KEY is empty")
	}
	return c
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func int64List(v string) []int64 {
	var out []int64
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			out = append(out, n)
		} else {
			log.Warn().Str("value", s).Msg("skipping non-numeric agent id")
		}
	}
	return out
}
