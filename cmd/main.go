package main

import (
	"chat-relay/auth"
	"chat-relay/contract"
	"chat-relay/errors"
	"chat-relay/infrastructure/bus"
	"chat-relay/infrastructure/httpx"
	"chat-relay/infrastructure/ws"
	"chat-relay/moderation"
	"chat-relay/observability"
	"chat-relay/provider/local"
	"chat-relay/provider/stream"
	"chat-relay/repositories"
	"chat-relay/runtime"
	"chat-relay/runtime/workers"
	"chat-relay/services"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/mama165/sdk-go/logs"
)

const (
	tokenIssuer       = "chat-relay"
	roomStatsInterval = 15 * time.Second
	redisPingTimeout  = 5 * time.Second
	pingInterval      = 30 * time.Second
	writeTimeout      = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Fatal error: %v\n", err)
		os.Exit(1)
	}
}

// run wires every component and blocks until a termination signal.
// Keeping it out of main lets the deferred cleanups run before exiting.
func run() error {
	// 1. Configuration & Logger
	config, err := LoadConfig()
	if err != nil {
		return err
	}
	log := logs.GetLoggerFromString(config.LogLevel)
	if config.NodeID == "" {
		config.NodeID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Delivery provider
	metrics := observability.NewMetrics()
	tokens := auth.NewTokenIssuer(config.StreamAPISecret, tokenIssuer, config.TokenTTL)
	provider, closeProvider, err := newProvider(log, config, tokens)
	if err != nil {
		return err
	}
	defer closeProvider()

	// 3. Relay core
	registry := runtime.NewRegistry()
	broadcaster := runtime.NewBroadcaster(log, registry, config.SeenCacheSize, metrics)
	sup := workers.NewSupervisor(log, config.RestartInterval)

	if config.RedisURL != "" {
		rdb, err := bus.NewRedisClient(ctx, config.RedisURL, redisPingTimeout)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		redisBus := bus.NewRedisBus(log, rdb, config.NodeID)
		defer func() {
			log.Info("Closing Redis...")
			_ = redisBus.Close()
		}()
		broadcaster.WithBus(redisBus)
		sup.Add(bus.NewSubscriberWorker(log, redisBus, broadcaster))
	}

	censor, err := newCensor(log, config)
	if err != nil {
		return err
	}

	identity := services.NewIdentityService(log, provider, config.BridgeTimeout, metrics)
	chat := services.NewChatService(log, registry, broadcaster, identity, provider, censor, services.ChatConfig{
		HistoryLimit:    config.HistoryLimit,
		ProviderTimeout: config.BridgeTimeout,
		SinkTimeout:     config.SinkTimeout,
	}, metrics)
	webhooks := services.NewWebhookService(log, config.StreamAPISecret, config.StreamAPIKey, broadcaster)

	// 4. HTTP surface
	router := httpx.NewRouter(httpx.Routes{
		WebSocket: ws.NewHandler(log, chat, ws.Config{
			BufferSize:     config.ConnectionBufferSize,
			MaxFrameBytes:  config.MaxFrameBytes,
			WriteTimeout:   writeTimeout,
			PingInterval:   pingInterval,
			AllowedOrigins: config.AllowedOrigins(),
		}),
		Webhook: httpx.NewWebhookHandler(log, webhooks, config.WebhookMaxBodyBytes, metrics),
		Metrics: metrics,
	}, config.AllowedOrigins())

	sup.Add(
		httpx.NewServerWorker(log, config.Address(), router, config.ShutdownTimeout),
		workers.NewRoomStatsWorker(log, registry, metrics, roomStatsInterval),
	)

	// 5. Run until a signal
	log.Info("Starting chat relay", "node_id", config.NodeID, "provider", config.Provider)
	done := make(chan struct{})
	go func() {
		sup.Run(ctx)
		close(done)
	}()

	<-ctx.Done()
	log.Info("Shutting down gracefully...")
	sup.Stop()
	<-done
	log.Info("Program stopped cleanly")
	return nil
}

func newProvider(log *slog.Logger, config Config, tokens *auth.TokenIssuer) (contract.Provider, func(), error) {
	switch config.Provider {
	case ProviderStream:
		httpClient := &http.Client{Timeout: config.BridgeTimeout}
		client := stream.NewClient(log, config.StreamBaseURL, config.StreamAPIKey, tokens, httpClient)
		return client, func() {}, nil
	case ProviderLocal:
		db, err := badger.Open(badger.DefaultOptions(config.BadgerFilepath).
			WithLoggingLevel(badger.WARNING))
		if err != nil {
			return nil, nil, fmt.Errorf("database opening failed: %w", err)
		}
		closeDB := func() {
			log.Info("Closing BadgerDB...")
			_ = db.Close()
		}
		provider := local.NewProvider(log,
			repositories.NewUserRepository(db),
			repositories.NewChannelRepository(db),
			repositories.NewMessageRepository(db, log),
			tokens,
		)
		return provider, closeDB, nil
	default:
		return nil, nil, fmt.Errorf("%w: %q", errors.ErrUnknownProvider, config.Provider)
	}
}

// newCensor returns nil when no word is censored.
func newCensor(log *slog.Logger, config Config) (contract.Censor, error) {
	words := config.CensoredWordList()
	if len(words) == 0 {
		return nil, nil
	}
	moderator, err := moderation.NewModerator(log, words, config.Replacement())
	if err != nil {
		return nil, fmt.Errorf("moderation setup failed: %w", err)
	}
	return moderator, nil
}
