package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/redis/go-redis/v9"

	"github.com/netko/covenote/internal/bus"
	"github.com/netko/covenote/internal/byok"
	"github.com/netko/covenote/internal/chat"
	"github.com/netko/covenote/internal/config"
	"github.com/netko/covenote/internal/db"
	"github.com/netko/covenote/internal/llm"
	"github.com/netko/covenote/internal/store/rabbitmq"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

func main() {
	cfg := config.Load()

	gdb, err := db.Connect(cfg.DBDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	repo := chat.NewRepo(gdb)

	// The worker publishes stream events for subscribers attached to the
	// API instances, so an in-process bus cannot work here.
	if cfg.BusBackend != "redis" {
		log.Fatalf("worker requires BUS_BACKEND=redis, got %q", cfg.BusBackend)
	}
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("redis ping: %v", err)
	}
	eventBus := bus.NewRedisBus(rdb)
	defer eventBus.Close()
	status := bus.NewRedisStatusStore(rdb)

	reg := llm.NewRegistry()
	reg.Register("openrouter", func(ctx context.Context, model, apiKey string) (llm.Provider, error) {
		return llm.NewOpenRouterProvider(cfg.OpenRouterBaseURL, apiKey, model), nil
	})
	reg.RegisterKeyless("ollama", func(ctx context.Context, model, apiKey string) (llm.Provider, error) {
		return llm.NewOllamaProvider(cfg.OllamaBaseURL, model), nil
	})

	cipher, err := byok.NewCipher(cfg.ByokKey)
	if err != nil {
		log.Fatalf("bad BYOK_KEY: %v", err)
	}
	keys := byok.NewStore(gdb, cipher)

	orch := chat.NewOrchestrator(repo, reg, eventBus, keys, status, cfg.SummarizeThreshold, cfg.SummarizeKeepTail)

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := workerConcurrency()

	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("worker started, queue=%s concurrency=%d", cfg.RabbitQueue, concurrency)

	turns := make(chan amqp.Delivery, concurrency*2)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range turns {
				var m rabbitmq.TurnMessage
				if err := json.Unmarshal(d.Body, &m); err != nil || m.ChatID == "" || m.MessageID == "" {
					log.Printf("worker=%d bad message: %v", workerID, err)
					_ = d.Nack(false, false)
					continue
				}

				start := time.Now()
				err := orch.ResumeTurn(ctx, chat.TurnRef{
					ChatID:    m.ChatID,
					UserID:    m.UserID,
					MessageID: m.MessageID,
				})
				if err != nil {
					// The error already reached the client on the
					// bus; retrying would replay the whole turn.
					log.Printf("worker=%d turn failed chat=%s cost=%s err=%v", workerID, m.ChatID, time.Since(start), err)
					_ = d.Nack(false, false)
					continue
				}

				if err := d.Ack(false); err != nil {
					log.Printf("worker=%d ack failed chat=%s err=%v", workerID, m.ChatID, err)
				}
			}
		}(i)
	}

	for {
		select {
		case <-ctx.Done():
			log.Printf("worker shutting down")
			close(turns)
			wg.Wait()
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				time.Sleep(1 * time.Second)
				continue
			}
			turns <- d
		}
	}
}
