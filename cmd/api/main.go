package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"orgcore.io/internal/audit"
	"orgcore.io/internal/httpapi"
	"orgcore.io/internal/obs"
	"orgcore.io/internal/rbac"
	"orgcore.io/internal/sessioncache"
	"orgcore.io/internal/store/pg"
	"orgcore.io/internal/stream"
)

var (
	version = "0.3.1"
	commit  = "dev" // set via -ldflags at build time
)

func main() {
	// Инициализация observability (регистрация метрик, JSON-логгер и т.п.)
	obs.Init()
	obs.InitBuildInfo(version, commit)

	dsn := os.Getenv("ORGCORE_PG_DSN")
	if dsn == "" {
		log.Fatal("missing ORGCORE_PG_DSN")
	}
	store, err := pg.Open(dsn)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer store.Close()

	cache := sessioncache.New(store, sessioncache.Config{
		TTL:                  envDuration("ORGCORE_CACHE_TTL", 5*time.Minute),
		SessionCheckInterval: envDuration("ORGCORE_SESSION_CHECK_INTERVAL", 60*time.Second),
		PolicyCheckInterval:  envDuration("ORGCORE_POLICY_CHECK_INTERVAL", 30*time.Second),
		MaxEntries:           envInt("ORGCORE_CACHE_MAX_ENTRIES", 0),
	})

	auditFeed := stream.New()
	svc, err := rbac.NewService(store,
		rbac.WithSessionCache(cache),
		rbac.WithAuditSink(audit.NewEmitter(store, audit.WithBroadcaster(auditFeed))),
		rbac.WithSessionTTL(envDuration("ORGCORE_SESSION_TTL", 12*time.Hour)),
	)
	if err != nil {
		log.Fatalf("rbac service: %v", err)
	}

	// Каталог политик должен существовать до первого запроса.
	seedCtx, cancelSeed := context.WithTimeout(context.Background(), 10*time.Second)
	if err := svc.EnsureBuiltins(seedCtx); err != nil {
		cancelSeed()
		log.Fatalf("seed policies: %v", err)
	}
	cancelSeed()

	api := httpapi.New(svc, httpapi.ReadyProbe{DB: store.DB()}, version,
		httpapi.WithAuditStream(auditFeed))

	addr := os.Getenv("ORGCORE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(), // уже обёрнут метриками в httpapi
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting orgcore-api %s on %s", version, srv.Addr)

	// graceful shutdown
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}

func envDuration(name string, def time.Duration) time.Duration {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		log.Printf("ignoring %s=%q: %v", name, raw, err)
		return def
	}
	return d
}

func envInt(name string, def int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("ignoring %s=%q: %v", name, raw, err)
		return def
	}
	return n
}
