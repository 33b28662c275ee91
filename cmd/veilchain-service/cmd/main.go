// Command veilchain-service wires configuration, storage, the ledger
// core, the root publisher, and the HTTP/WebSocket API into a running
// server, following cmd/room-service's and cmd/messaging-service's
// load-config / build-dependencies / serve-with-graceful-shutdown shape.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jasonsutter87/veilchain/internal/api"
	"github.com/jasonsutter87/veilchain/internal/config"
	"github.com/jasonsutter87/veilchain/internal/events"
	"github.com/jasonsutter87/veilchain/internal/ledger/idempotency"
	"github.com/jasonsutter87/veilchain/internal/ledger/publisher"
	"github.com/jasonsutter87/veilchain/internal/ledger/service"
	"github.com/jasonsutter87/veilchain/internal/ledger/signing"
	"github.com/jasonsutter87/veilchain/internal/ledger/store"
	"github.com/jasonsutter87/veilchain/internal/ledger/store/memstore"
	"github.com/jasonsutter87/veilchain/internal/ledger/store/sqlstore"
	"github.com/jasonsutter87/veilchain/internal/ledger/store/tiered"
	"github.com/google/uuid"
)

func main() {
	cfg := config.Load()

	backend, history, err := buildStorage(cfg)
	if err != nil {
		log.Fatalf("failed to build storage backend: %v", err)
	}

	idemCache, err := buildIdempotencyCache(cfg)
	if err != nil {
		log.Fatalf("failed to build idempotency cache: %v", err)
	}

	ledgers := service.New(backend, idemCache, cfg.IdempotencyTTL)

	broadcaster := events.NewBroadcaster()
	ledgers.Subscribe(broadcaster.Listener())
	stopBroadcast := make(chan struct{})
	go broadcaster.Run(stopBroadcast)

	signer, err := buildSigner(cfg)
	if err != nil {
		log.Printf("[main] signing disabled: %v", err)
	}

	var pub *publisher.Publisher
	if history != nil {
		pub = publisher.New(ledgers, history, signer, nil, publisher.Thresholds{
			MinEntries:   cfg.PublisherMinEntries,
			MaxTimeSince: cfg.PublisherMaxTimeSince,
		}, func() string { return uuid.NewString() })
	}

	publisherCtx, cancelPublisher := context.WithCancel(context.Background())
	if pub != nil {
		go pub.Run(publisherCtx, backend, cfg.PublisherPollInterval)
	}

	handler := api.New(ledgers, broadcaster, cfg.DefaultHashAlgorithm)
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: handler.Router(),
	}

	go func() {
		log.Printf("[main] veilchain-service listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("[main] listen: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("[main] shutting down veilchain-service...")

	cancelPublisher()
	close(stopBroadcast)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("[main] server forced to shutdown: %v", err)
	}

	log.Println("[main] veilchain-service exited")
}

func buildStorage(cfg *config.Config) (store.Backend, publisher.History, error) {
	var backend store.Backend
	var history publisher.History

	switch cfg.StorageBackend {
	case "postgres":
		sqlStore, err := sqlstore.Open(cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		backend = sqlStore
		history = sqlstore.NewHistory(sqlStore.DB())
	default:
		backend = memstore.New()
	}

	if cfg.TieredStorageEnabled {
		tieredStore, err := tiered.New(context.Background(), backend, tiered.Config{
			Endpoint:         cfg.S3Endpoint,
			AccessKey:        cfg.S3AccessKey,
			SecretKey:        cfg.S3SecretKey,
			Bucket:           cfg.S3Bucket,
			Region:           cfg.S3Region,
			UseSSL:           cfg.S3UseSSL,
			SizeThreshold:    cfg.TieredStorageThresholdBytes,
			MultipartAdvised: cfg.MultipartThresholdBytes,
		})
		if err != nil {
			return nil, nil, err
		}
		backend = tieredStore
	}

	return backend, history, nil
}

func buildIdempotencyCache(cfg *config.Config) (idempotency.Cache, error) {
	if cfg.IdempotencyBackend != "redis" {
		return idempotency.NewMemoryCache(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return idempotency.NewRedisCache(client), nil
}

func buildSigner(cfg *config.Config) (*signing.Signer, error) {
	if cfg.SigningKeyPath == "" {
		return nil, nil
	}
	return signing.NewFromFile(cfg.SigningKeyPath)
}
