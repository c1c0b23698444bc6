// Command matchserver runs the voice-match WebSocket server: the matchmaking
// endpoint, the WebRTC signaling endpoint, and the Prometheus listener.
// Multiple matchserver processes share state through Redis and fan events out
// to each other over NATS.
package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/tori/voicematch/internal/auth"
	"github.com/tori/voicematch/internal/config"
	"github.com/tori/voicematch/internal/db"
	"github.com/tori/voicematch/internal/matching"
	"github.com/tori/voicematch/internal/messaging"
	"github.com/tori/voicematch/internal/metrics"
	"github.com/tori/voicematch/internal/prefs"
	"github.com/tori/voicematch/internal/presence"
	"github.com/tori/voicematch/internal/profile"
	"github.com/tori/voicematch/internal/room"
	"github.com/tori/voicematch/internal/session"
	"github.com/tori/voicematch/internal/signaling"
	"github.com/tori/voicematch/internal/wallet"
	"github.com/tori/voicematch/internal/ws"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg := config.Load()

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("[main] postgres: %v", err)
	}
	defer database.Close()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer rdb.Close()

	busConfig := messaging.DefaultConfig()
	busConfig.URL = cfg.NATSURL
	bus, err := messaging.NewBus(busConfig)
	if err != nil {
		log.Fatalf("[main] nats: %v", err)
	}
	defer bus.Close()

	// Stores over the shared infrastructure.
	pres := presence.NewStore(rdb, cfg.OnlineTTL)
	queue := matching.NewQueue(rdb)
	registry := matching.NewRegistry(rdb, cfg.MatchTTL)
	lock := matching.NewGlobalLock(rdb, cfg.LockTTL)
	wallets := wallet.NewStore(database)
	settings := prefs.NewStore(database)
	profiles := profile.NewStore(database, cfg.MediaBaseURL)
	rooms := room.NewStore(database)

	prices := matching.PriceTable{
		Male:   cfg.PriceMale,
		Female: cfg.PriceFemale,
		Any:    cfg.PriceAny,
	}
	engine := matching.NewEngine(queue, registry, lock, pres, settings, profiles, wallets, prices)
	responder := matching.NewResponder(queue, registry, pres, profiles, rooms)

	server := ws.NewServer(ws.ServerConfig{
		ListenAddr:     cfg.ListenAddr,
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}, auth.NewVerifier(cfg.JWTSecret))

	server.RegisterMatch(session.NewSupervisor(server, bus, pres, queue, registry,
		engine, responder, profiles, rooms, session.Config{RetryBackoff: cfg.RetryBackoff}))
	server.RegisterSignaling(signaling.NewCoordinator(server, bus, rooms, profiles))

	ws.StartHeartbeat(server, ws.HeartbeatConfig{
		Interval: cfg.HeartbeatInterval,
		Timeout:  cfg.ReadTimeout,
	}, pres)

	// Prometheus listener on its own port.
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		log.Printf("[main] metrics listening on %s", cfg.MetricsAddr)
		if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
			log.Printf("[main] metrics listener: %v", err)
		}
	}()

	// Graceful shutdown on SIGINT/SIGTERM.
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Printf("[main] shutdown signal received")
		if err := server.Shutdown(); err != nil {
			log.Printf("[main] shutdown: %v", err)
		}
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("[main] server: %v", err)
	}
}
