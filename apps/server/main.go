package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mahaj/chat-backbone/pkg/auth"
	"github.com/mahaj/chat-backbone/pkg/bus"
	"github.com/mahaj/chat-backbone/pkg/config"
	"github.com/mahaj/chat-backbone/pkg/db"
	"github.com/mahaj/chat-backbone/pkg/model"
	"github.com/mahaj/chat-backbone/pkg/realtime"
	"github.com/mahaj/chat-backbone/pkg/registry"
	"github.com/mahaj/chat-backbone/pkg/service"
	"github.com/mahaj/chat-backbone/pkg/store"
)

func buildBus(cfg config.Config) (bus.Bus, error) {
	switch cfg.BusDriver {
	case "redis":
		return bus.NewRedisBus(cfg.RedisAddr, cfg.BusChannel), nil
	case "kafka":
		return bus.NewKafkaBus(cfg.KafkaBrokers, cfg.BusChannel), nil
	case "memory":
		return bus.NewMemoryBus(), nil
	default:
		return nil, errors.New("unknown bus driver: " + cfg.BusDriver)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	gormDB, err := db.Open(cfg.DatabaseDSN)
	if err != nil {
		log.Fatalf("Failed to connect to MySQL: %v", err)
	}
	if err := model.Migrate(gormDB); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}

	b, err := buildBus(cfg)
	if err != nil {
		log.Fatalf("Failed to build bus: %v", err)
	}

	st := store.New(gormDB)
	reg := registry.New()
	provider := auth.NewJWTProvider(cfg.JWTSecret, cfg.TokenTTL)
	svc := service.New(service.Stores{Conversations: st, Participants: st, Messages: st}, b)

	ctx, cancel := context.WithCancel(context.Background())

	// The one subscriber loop for this process's lifetime.
	go func() {
		if err := realtime.Dispatch(ctx, b, reg); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("Dispatch loop stopped: %v", err)
		}
	}()

	h := &handlers{svc: svc, store: st, provider: provider, registry: reg}
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: h.router(),
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("Chat server starting on %s (bus driver: %s)", cfg.HTTPAddr, cfg.BusDriver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("ListenAndServe: %v", err)
		}
	}()

	<-done
	log.Println("Shutting down...")

	cancel()
	if err := b.Close(); err != nil {
		log.Printf("Bus close: %v", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown failed: %v", err)
	}
	log.Println("Server exited")
}
