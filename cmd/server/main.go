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

	"github.com/redis/go-redis/v9"

	"github.com/netko/covenote/internal/bus"
	"github.com/netko/covenote/internal/byok"
	"github.com/netko/covenote/internal/chat"
	"github.com/netko/covenote/internal/config"
	"github.com/netko/covenote/internal/db"
	"github.com/netko/covenote/internal/httpapi"
	"github.com/netko/covenote/internal/models"
	"github.com/netko/covenote/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	if err := db.Migrate(gdb,
		&models.User{},
		&chat.Chat{},
		&chat.Message{},
		&chat.Assistant{},
		&chat.Model{},
		&byok.Credential{},
	); err != nil {
		log.Fatalf("db migrate: %v", err)
	}

	var rdb *redis.Client
	needRedis := cfg.BusBackend == "redis"
	if needRedis {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			log.Fatalf("redis ping: %v", err)
		}
	}

	var eventBus bus.Bus
	var status bus.StatusStore
	switch cfg.BusBackend {
	case "redis":
		eventBus = bus.NewRedisBus(rdb)
		status = bus.NewRedisStatusStore(rdb)
	case "memory":
		eventBus = bus.NewMemoryBus()
		status = bus.NewMemoryStatusStore()
	default:
		log.Fatalf("unsupported BUS_BACKEND=%q", cfg.BusBackend)
	}
	defer eventBus.Close()

	var rabbit *rabbitmq.Publisher
	switch cfg.TurnDispatch {
	case "rabbit":
		rabbit, err = rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatalf("rabbit publisher: %v", err)
		}
		defer rabbit.Close()
	case "inline":
	default:
		log.Fatalf("unsupported TURN_DISPATCH=%q", cfg.TurnDispatch)
	}

	r := httpapi.NewRouter(gdb, cfg, eventBus, status, rabbit)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		log.Printf("server listening addr=%s bus=%s dispatch=%s", cfg.HTTPAddr, cfg.BusBackend, cfg.TurnDispatch)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Printf("server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}
}
