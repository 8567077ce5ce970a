package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"portal-messaging/internal/fanout"
	chatHandler "portal-messaging/internal/handler/http/chat"
	conversationHandler "portal-messaging/internal/handler/http/conversation"
	storageHandler "portal-messaging/internal/handler/http/storage"
	wsHandler "portal-messaging/internal/handler/ws"
	"portal-messaging/internal/middleware"
	"portal-messaging/internal/repository/cassandra"
	"portal-messaging/internal/repository/cockroach"
	"portal-messaging/internal/repository/memory"
	"portal-messaging/internal/repository/redis"
	chatService "portal-messaging/internal/service/chat"
	conversationService "portal-messaging/internal/service/conversation"
	storageService "portal-messaging/internal/service/storage"
	"portal-messaging/pkg/config"
	"portal-messaging/pkg/constants"
	"portal-messaging/pkg/database"
	"portal-messaging/pkg/jwt"
	"portal-messaging/pkg/logger"
	"portal-messaging/pkg/metrics"
)

// backends holds the stores chosen by messaging.backend
type backends struct {
	conversations conversationService.Repository
	enhanced      chatService.EnhancedStore
	legacy        chatService.LegacyStore
	bans          middleware.BanChecker
	presence      wsHandler.PresenceTracker
	blobs         storageService.BlobStore
	broker        fanout.Broker

	closers []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

func main() {
	// 1. Load configuration (.env is optional)
	_ = godotenv.Load()
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.JWT.Secret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Issuer, 15*time.Minute)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 2. Connect stores
	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)
	hub := fanout.NewHub(constants.SubscriptionBuffer)
	defer hub.Close()

	var b *backends
	switch cfg.Messaging.Backend {
	case config.BackendDistributed:
		b, err = distributedBackends(ctx, cfg, hub)
	default:
		b = memoryBackends(hub)
	}
	if err != nil {
		logger.Fatal("Failed to initialize backends",
			zap.String("backend", cfg.Messaging.Backend),
			zap.Error(err))
	}
	defer b.Close()

	// 3. Initialize services
	conversationSvc := conversationService.NewService(b.conversations)
	conversationSvc.SetPublisher(b.broker)
	conversationSvc.SetPreviewLength(cfg.Messaging.PreviewLength)

	store := chatService.NewMessageStoreAdapter(b.enhanced, b.legacy).WithMetrics(appMetrics)
	chatSvc := chatService.NewService(store, conversationSvc, b.broker, chatService.Config{
		MaxContentLength: cfg.Messaging.MaxContentLength,
		DedupWindow:      cfg.Messaging.DedupWindow,
		TimelineLimit:    cfg.Messaging.TimelineLimit,
	})
	conversationSvc.SetMessagePoster(chatSvc)

	validator := storageService.NewValidator(cfg.Messaging.MaxAttachmentSize)
	chatSvc.SetAttachmentChecker(validator)
	storageSvc := storageService.NewService(validator, b.blobs, conversationSvc)

	// 4. Initialize handlers
	conversationHdlr := conversationHandler.NewHandler(conversationSvc)
	chatHdlr := chatHandler.NewHandler(chatSvc)
	storageHdlr := storageHandler.NewHandler(storageSvc)
	timelineHdlr := wsHandler.NewTimelineHandler(chatSvc, b.broker, b.presence, cfg.Server.AllowedOrigins).
		WithMetrics(appMetrics)

	sendLimiter := middleware.NewSendRateLimiter(cfg.RateLimit.SendsPerMinute, cfg.RateLimit.Burst).
		WithMetrics(appMetrics)
	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n := sendLimiter.Cleanup(); n > 0 {
					logger.Debug("Evicted idle rate limiters", zap.Int("count", n))
				}
			}
		}
	}()

	// 5. Setup Gin router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if err := router.SetTrustedProxies(nil); err != nil {
		logger.Warn("Failed to configure trusted proxies", zap.Error(err))
	}

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())
	router.Use(middleware.CORSMiddleware(cfg.Server.AllowedOrigins))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.Timeout(cfg.Server.RequestTimeout))

	router.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), constants.HealthCheckTimeout)
		defer cancel()

		status := "healthy"
		attachments := storageSvc.BlobHealth(ctx)
		if attachments.Status != storageService.BlobHealthy && attachments.Status != storageService.BlobDisabled {
			status = "degraded"
		}
		c.JSON(http.StatusOK, gin.H{
			"status":      status,
			"service":     cfg.Server.ServiceName,
			"backend":     cfg.Messaging.Backend,
			"attachments": attachments,
			"time":        time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager))
	v1.Use(middleware.BanGate(b.bans, nil))
	{
		conversationHdlr.RegisterRoutes(v1)
		chatHdlr.RegisterRoutes(v1, sendLimiter.Middleware())
		storageHdlr.RegisterRoutes(v1)
		v1.GET("/ws/conversations/:id", timelineHdlr.ServeWS)
	}

	// 6. Start server
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Messaging service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("backend", cfg.Messaging.Backend),
			zap.String("environment", cfg.Server.Environment))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 7. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}
	logger.Info("Server exited")
}

// memoryBackends keeps everything in process. Attachments are validated
// but uploads are rejected since there is no blob store.
func memoryBackends(hub *fanout.Hub) *backends {
	logger.Warn("Using in-memory stores; data is lost on restart")
	return &backends{
		conversations: memory.NewConversationRepository(),
		enhanced:      memory.NewEnhancedMessageRepository(),
		legacy:        memory.NewLegacyMessageRepository(),
		bans:          memory.NewBanRepository(),
		presence:      memory.NewPresenceRepository(wsHandler.PresenceTTL),
		broker:        hub,
	}
}

func distributedBackends(ctx context.Context, cfg *config.Config, hub *fanout.Hub) (*backends, error) {
	b := &backends{broker: hub}
	fail := func(err error) (*backends, error) {
		b.Close()
		return nil, err
	}

	cassandraDB, err := database.NewCassandraDB(&database.CassandraConfig{
		Hosts:       cfg.Cassandra.Hosts,
		Keyspace:    cfg.Cassandra.Keyspace,
		Username:    cfg.Cassandra.Username,
		Password:    cfg.Cassandra.Password,
		Consistency: cfg.Cassandra.Consistency,
		Timeout:     cfg.Cassandra.Timeout,
	})
	if err != nil {
		return fail(err)
	}
	b.closers = append(b.closers, cassandraDB.Close)
	enhanced := cassandra.NewEnhancedMessageRepository(cassandraDB.Session)
	if err := enhanced.EnsureSchema(ctx); err != nil {
		return fail(err)
	}
	b.enhanced = enhanced
	logger.Info("Connected to Cassandra", zap.Strings("hosts", cfg.Cassandra.Hosts))

	cockroachDB, err := database.NewCockroachDB(ctx, &database.CockroachConfig{
		URL:      cfg.Cockroach.URL(),
		MaxConns: cfg.Cockroach.MaxConns,
		MinConns: cfg.Cockroach.MinConns,
	})
	if err != nil {
		return fail(err)
	}
	b.closers = append(b.closers, cockroachDB.Close)
	if err := cockroach.EnsureSchema(ctx, cockroachDB.Pool); err != nil {
		return fail(err)
	}
	b.conversations = cockroach.NewConversationRepository(cockroachDB.Pool)
	b.legacy = cockroach.NewLegacyMessageRepository(cockroachDB.Pool)
	logger.Info("Connected to CockroachDB", zap.String("host", cfg.Cockroach.Host))

	redisDB, err := database.NewRedisDB(ctx, &database.RedisConfig{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
		Timeout:  cfg.Redis.Timeout,
	})
	if err != nil {
		return fail(err)
	}
	b.closers = append(b.closers, func() { _ = redisDB.Close() })
	redisDB.StartHealthCheck(ctx, 10*time.Second)
	b.bans = redis.NewBanRepository(redisDB.Client)
	b.presence = redis.NewPresenceRepository(redisDB.Client, wsHandler.PresenceTTL)
	logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr()))

	if cfg.Messaging.RedisFanout {
		bridge := fanout.NewRedisBridge(redisDB.Client, hub)
		go func() {
			if err := bridge.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("Fan-out Redis bridge stopped", zap.Error(err))
			}
		}()
		b.broker = bridge
	}

	blobs, err := storageService.NewMinioBlobStore(storageService.MinioConfig{
		Endpoint:  cfg.MinIO.Endpoint,
		AccessKey: cfg.MinIO.AccessKey,
		SecretKey: cfg.MinIO.SecretKey,
		Bucket:    cfg.MinIO.Bucket,
		UseSSL:    cfg.MinIO.UseSSL,
		PublicURL: cfg.MinIO.PublicURL,
	})
	if err != nil {
		return fail(err)
	}
	if err := blobs.EnsureBucket(ctx); err != nil {
		return fail(err)
	}
	b.blobs = blobs
	logger.Info("Connected to MinIO", zap.String("bucket", cfg.MinIO.Bucket))

	return b, nil
}
