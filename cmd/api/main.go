package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"
	"time"

	"dealroom-chat/config"
	"dealroom-chat/internal/domain/user"
	"dealroom-chat/internal/outbox"
	"dealroom-chat/internal/redis"
	"dealroom-chat/internal/repository"
	"dealroom-chat/internal/server"
	"dealroom-chat/internal/services"
	"dealroom-chat/internal/storage"
	"dealroom-chat/internal/websocket"
	"dealroom-chat/pkg/database"
	"dealroom-chat/pkg/logger"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg := config.LoadConfig()

	l := logger.New(cfg.AppMode)
	logger.SetGlobalLogger(l)
	defer l.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	health := map[string]server.HealthCheck{}
	auth := services.NewAuthService(cfg)

	var (
		store    repository.RoomStore
		identity repository.IdentityProvider
	)
	switch cfg.StoreDriver {
	case "memory":
		static := repository.NewStaticIdentityProvider()
		seedMemoryIdentities(static, auth, l)
		store = repository.NewMemoryRoomStore()
		identity = static
	case "postgres":
		database.Connect(cfg)
		defer database.Close()
		if err := repository.InitSchema(database.DB); err != nil {
			log.Fatalf("Failed to apply schema: %v", err)
		}
		store = repository.NewRoomStore(database.DB)
		identity = repository.NewIdentityProvider(database.DB)
		health["postgres"] = func(ctx context.Context) error { return database.HealthCheck() }
	default:
		log.Fatalf("Unknown STORE_DRIVER %q (want postgres or memory)", cfg.StoreDriver)
	}

	var (
		cache   services.ProfileCache
		mirror  services.PresenceMirror
		limiter services.MessageLimiter
		push    websocket.PushSender
		pushOut *outbox.Processor
	)
	if cfg.RedisEnabled {
		client, err := redis.Connect(ctx, redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err != nil {
			l.Logger.Warn("redis unavailable, running without cache, presence mirror, rate limit and push", zap.Error(err))
		} else {
			defer client.Close()
			cache = redis.NewCacheStore(client, redis.CacheConfig{UserTTL: cfg.ProfileCacheTTL, CompanyTTL: cfg.ProfileCacheTTL})
			mirror = redis.NewPresenceStore(client, 0)
			limiter = redis.NewRateLimiter(client, redis.RateLimitConfig{MessageLimit: cfg.MessageRateLimit, MessageWindow: time.Minute})
			pushOut = outbox.DefaultProcessor(redis.NewPublisher(client), cfg.PushChannel, l.Logger)
			push = pushOut
			health["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
		}
	}
	identity = services.NewIdentityService(identity, cache, l.Logger)

	registry := websocket.NewRegistry(websocket.RegistryConfig{
		AllowMultiSession: cfg.AllowMultiSession,
		PresenceGrace:     cfg.PresenceGrace,
	}, nil, l.Logger)
	fanout := websocket.NewFanout(registry, push, l.Logger)

	rooms := services.NewRoomService(store, identity, fanout, registry, services.RoomServiceConfig{
		DefaultPageSize: cfg.DefaultPageSize,
		MaxPageSize:     cfg.MaxPageSize,
		ReadRetries:     cfg.StoreReadRetries,
	}, l.Logger)
	if limiter != nil {
		rooms.SetRateLimiter(limiter)
	}
	if cfg.S3Bucket != "" {
		attachments, err := storage.NewClient(ctx, storage.S3Config{
			Region:     cfg.S3Region,
			Bucket:     cfg.S3Bucket,
			AccessKey:  cfg.S3AccessKey,
			SecretKey:  cfg.S3SecretKey,
			Endpoint:   cfg.S3Endpoint,
			PublicBase: cfg.S3PublicBase,
			PresignTTL: cfg.S3PresignTTL,
		})
		if err != nil {
			log.Fatalf("Failed to configure attachment storage: %v", err)
		}
		rooms.SetAttachmentResolver(attachments)
	}

	notifier := services.NewPresenceNotifier(rooms, fanout, mirror, l.Logger)
	notifier.RefreshMirror(registry, time.Minute)
	registry.SetListener(notifier)

	pool := services.NewWorkerPool(cfg.WorkerCount, cfg.WorkerQueue, l.Logger)
	dispatcher := server.NewDispatcher(registry, rooms, pool, l.Logger)

	g, gctx := errgroup.WithContext(ctx)
	pool.Start(gctx)

	srv := server.New(cfg, l)
	srv.SetupRoutes(&server.Handlers{
		Auth:      auth,
		WebSocket: server.NewWebSocketHandler(gctx, registry, dispatcher, cfg.MaxMalformedFrames, server.NewWebSocketLogger(l.Logger)),
		Health:    health,
	})

	g.Go(func() error {
		notifier.Run(gctx)
		return nil
	})
	if pushOut != nil {
		g.Go(func() error {
			pushOut.Run(gctx)
			return nil
		})
	}
	g.Go(func() error {
		return srv.Run(gctx)
	})

	err := g.Wait()

	registry.CloseAll()
	pool.Stop()
	fanout.Wait()

	if err != nil {
		l.Errorf("Server exited with error: %s", err)
	}
}

// seedMemoryIdentities gives the in-memory driver one company and two
// creators so the service can be exercised without a profile database.
func seedMemoryIdentities(p *repository.StaticIdentityProvider, auth *services.AuthService, l *logger.Logger) {
	companyID := uuid.New()
	people := []user.Info{
		{ID: uuid.New(), DisplayName: "Company Member 1", CompanyIDs: []uuid.UUID{companyID}},
		{ID: uuid.New(), DisplayName: "Company Member 2", CompanyIDs: []uuid.UUID{companyID}},
		{ID: uuid.New(), DisplayName: "Creator 1"},
		{ID: uuid.New(), DisplayName: "Creator 2"},
	}
	l.Infof("Memory store seeded with company %s", companyID)
	for _, info := range people {
		p.Put(info)
		token, _, err := auth.IssueAccessToken(info.ID)
		if err != nil {
			log.Fatalf("Failed to issue development token: %v", err)
		}
		l.Infof("  %-18s %s token=%s", info.DisplayName, info.ID, token)
	}
}
