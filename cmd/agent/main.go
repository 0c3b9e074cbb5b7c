package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"kasirsync/agent/internal/catalog"
	"kasirsync/agent/internal/config"
	"kasirsync/agent/internal/httpapi"
	"kasirsync/agent/internal/localstore"
	"kasirsync/agent/internal/localstore/memory"
	pgstore "kasirsync/agent/internal/localstore/postgres"
	"kasirsync/agent/internal/localstore/redisstore"
	"kasirsync/agent/internal/netmon"
	"kasirsync/agent/internal/queue"
	"kasirsync/agent/internal/remote"
	"kasirsync/agent/internal/service"
	"kasirsync/agent/internal/syncer"
)

func main() {
	// .env is optional; viper falls back to real env vars and defaults.
	_ = godotenv.Load()
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	startupCtx, startupCancel := context.WithTimeout(ctx, 10*time.Second)
	defer startupCancel()

	var store localstore.Store
	closers := make([]func() error, 0, 1)

	switch {
	case cfg.DatabaseURL != "":
		pg, err := pgstore.New(startupCtx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("local postgres unavailable (%v) and DATABASE_URL is set; refusing to start without durable storage", err)
		}
		store = pg
		closers = append(closers, pg.Close)
		log.Println("local store: postgres")
	case cfg.RedisAddr != "":
		rs := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rs.Ping(startupCtx); err != nil {
			log.Fatalf("local redis unavailable (%v) and REDIS_ADDR is set; refusing to start without durable storage", err)
		}
		store = rs
		closers = append(closers, rs.Close)
		log.Println("local store: redis")
	default:
		store = memory.NewSeeded()
		log.Println("local store: in-memory (queued sales will NOT survive a restart)")
	}

	client := remote.NewClient(cfg.ServerBaseURL, cfg.HTTPTimeout, cfg.DeviceID, cfg.DeviceSecret)
	prober := netmon.NewHTTPProber(client.HealthURL(), cfg.HTTPTimeout)
	monitor := netmon.New(prober, cfg.ProbeInterval, cfg.SlowThreshold)
	q := queue.New(store, monitor, cfg.SyncInterval)
	orch := syncer.New(store, monitor, client, cfg.SyncInterval, cfg.SettleDelay, cfg.MaxSyncAttempts)
	cat := catalog.New(store, client, monitor, cfg.CatalogInterval)
	svc := service.New(monitor, q, orch, cat)
	api := httpapi.New(svc, cfg.AllowedOrigin, cfg.ManagerPINHash)

	go svc.Run(ctx)

	server := &http.Server{
		Addr:              cfg.Address(),
		Handler:           api.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("sync agent listening on %s (server: %s, terminal: %s)", cfg.Address(), cfg.ServerBaseURL, cfg.DeviceID)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}

	for _, closeFn := range closers {
		if err := closeFn(); err != nil {
			log.Printf("close error: %v", err)
		}
	}

	log.Println("agent stopped")
}
