// Package config loads the service configuration from environment variables.
// Every tunable has a production default so the binary runs with an empty
// environment against local Redis/NATS/Postgres.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds all tunables recognized by the matchmaking core.
type Config struct {
	ListenAddr  string // websocket listener, e.g. ":8080"
	MetricsAddr string // Prometheus listener, e.g. ":9090"

	RedisAddr   string
	NATSURL     string
	DatabaseURL string

	JWTSecret    string
	MediaBaseURL string // prefix for relative profile image paths

	OnlineTTL         time.Duration // presence key lifetime
	HeartbeatInterval time.Duration // presence refresh cadence
	MatchTTL          time.Duration // match record + active-match pointer lifetime
	LockTTL           time.Duration // global match lock lifetime
	RetryBackoff      time.Duration // wait before retrying a contended pairing scan

	PriceMale   int // gems charged when preferred_gender=male
	PriceFemale int // gems charged when preferred_gender=female
	PriceAny    int // gems charged when preferred_gender=any

	StaleHeartbeatThreshold time.Duration // sweeper cadence for admin stale scans

	WorkerPoolSize int
	MaxConnections int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
}

// Default returns the configuration documented in the service README.
func Default() Config {
	return Config{
		ListenAddr:  ":8080",
		MetricsAddr: ":9090",

		RedisAddr:   "localhost:6379",
		NATSURL:     "nats://localhost:4222",
		DatabaseURL: "postgres://localhost:5432/voicematch?sslmode=disable",

		JWTSecret:    "dev-secret",
		MediaBaseURL: "http://localhost:8000/media/",

		OnlineTTL:         60 * time.Second,
		HeartbeatInterval: 5 * time.Second,
		MatchTTL:          300 * time.Second,
		LockTTL:           10 * time.Second,
		RetryBackoff:      100 * time.Millisecond,

		PriceMale:   5,
		PriceFemale: 30,
		PriceAny:    0,

		StaleHeartbeatThreshold: 15 * time.Second,

		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
	}
}

// Load builds a Config from the environment on top of Default.
// Duration variables accept either a plain integer (seconds) or a
// time.ParseDuration string; malformed values keep the default.
func Load() Config {
	cfg := Default()

	str(&cfg.ListenAddr, "LISTEN_ADDR")
	str(&cfg.MetricsAddr, "METRICS_ADDR")
	str(&cfg.RedisAddr, "REDIS_ADDR")
	str(&cfg.NATSURL, "NATS_URL")
	str(&cfg.DatabaseURL, "DATABASE_URL")
	str(&cfg.JWTSecret, "JWT_SECRET")
	str(&cfg.MediaBaseURL, "MEDIA_BASE_URL")

	dur(&cfg.OnlineTTL, "ONLINE_TTL")
	dur(&cfg.HeartbeatInterval, "HEARTBEAT_INTERVAL")
	dur(&cfg.MatchTTL, "MATCH_TTL")
	dur(&cfg.LockTTL, "LOCK_TTL")
	dur(&cfg.RetryBackoff, "RETRY_BACKOFF")
	dur(&cfg.StaleHeartbeatThreshold, "STALE_HEARTBEAT_THRESHOLD")

	num(&cfg.PriceMale, "PRICE_MALE")
	num(&cfg.PriceFemale, "PRICE_FEMALE")
	num(&cfg.PriceAny, "PRICE_ANY")

	num(&cfg.WorkerPoolSize, "WORKER_POOL_SIZE")
	num(&cfg.MaxConnections, "MAX_CONNECTIONS")
	dur(&cfg.ReadTimeout, "READ_TIMEOUT")
	dur(&cfg.WriteTimeout, "WRITE_TIMEOUT")

	return cfg
}

func str(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func num(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			*dst = n
		}
	}
}

func dur(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		*dst = time.Duration(n) * time.Second
		return
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		*dst = d
	}
}
