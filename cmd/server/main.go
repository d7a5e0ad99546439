package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fretwise/fretwise/internal/config"
	"github.com/fretwise/fretwise/internal/db"
	"github.com/fretwise/fretwise/internal/httpapi"
	"github.com/fretwise/fretwise/internal/httpapi/handlers"
	"github.com/fretwise/fretwise/internal/ratelimit"
	"github.com/fretwise/fretwise/internal/store/rabbitmq"
	"github.com/fretwise/fretwise/internal/store/redisstore"
)

func main() {
	cfg := config.Load()

	gdb := db.Connect(cfg.DBDSN)

	var limiter ratelimit.Limiter
	switch strings.ToLower(cfg.RateLimitBackend) {
	case "redis":
		store := redisstore.New(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		defer store.Close()
		if err := store.Ping(context.Background()); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
		limiter = redisstore.NewLimiter(store, handlers.Quotas(cfg))
	case "", "memory":
		limiter = ratelimit.NewMemoryLimiter(handlers.Quotas(cfg))
	default:
		log.Fatalf("unsupported RATE_LIMIT_BACKEND=%q", cfg.RateLimitBackend)
	}

	rabbit, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		log.Fatalf("rabbit connect: %v", err)
	}
	defer rabbit.Close()

	router := httpapi.NewRouter(gdb, cfg, limiter, rabbit)

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Printf("server listening addr=%s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
