package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Gopher0727/LobbyChat/config"
	"github.com/Gopher0727/LobbyChat/internal/api"
	"github.com/Gopher0727/LobbyChat/internal/handler"
	"github.com/Gopher0727/LobbyChat/internal/pkg/gateway"
	"github.com/Gopher0727/LobbyChat/internal/pkg/kafka"
	"github.com/Gopher0727/LobbyChat/internal/pkg/redis"
	"github.com/Gopher0727/LobbyChat/internal/reaper"
	"github.com/Gopher0727/LobbyChat/internal/repository"
	"github.com/Gopher0727/LobbyChat/internal/service"
	"github.com/Gopher0727/LobbyChat/internal/storage"
	"github.com/Gopher0727/LobbyChat/middleware/jwt"
	logger "github.com/Gopher0727/LobbyChat/middleware/log"
	"github.com/Gopher0727/LobbyChat/utils/ratelimit"
	"github.com/Gopher0727/LobbyChat/utils/snowflake"
	"github.com/Gopher0727/LobbyChat/utils/workerpool"
)

func main() {
	configPath := flag.String("config", "./config.toml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("配置初始化失败: %v", err)
	}

	appLogger, err := logger.NewLogger(&cfg.Logging)
	if err != nil {
		log.Fatalf("日志初始化失败: %v", err)
	}
	defer appLogger.Close()

	if err := run(cfg, appLogger); err != nil {
		appLogger.Error("server exited with error", zap.Error(err))
		appLogger.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, appLogger *logger.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := storage.InitPostgres(&cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres 初始化失败: %w", err)
	}
	defer closeDB(db, appLogger)

	redisClient, err := redis.NewClient(&cfg.Redis)
	if err != nil {
		return fmt.Errorf("redis 初始化失败: %w", err)
	}
	defer redisClient.Close()

	pool := workerpool.New(cfg.WorkerPool.Size, cfg.WorkerPool.QueueSize, appLogger.Named("workerpool"))
	pool.Start()

	sink, closeSink := newLifecycleSink(cfg, pool, appLogger)
	// queued lifecycle events are flushed before the producer closes
	defer func() {
		pool.Stop()
		closeSink()
	}()

	ids, err := snowflake.NewGenerator(cfg.Snowflake.WorkerID)
	if err != nil {
		return fmt.Errorf("snowflake 初始化失败: %w", err)
	}

	// 仓储层
	groupRepo := repository.NewGroupRepository(db)
	memberRepo := repository.NewMembershipRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	userRepo := repository.NewUserRepository(db)
	catalogRepo := repository.NewCatalogRepository(db)

	rooms := gateway.NewRoomBroadcaster(appLogger.Named("rooms"))
	policy := service.NewExpiryPolicy(cfg.Group.TTL)

	// 服务层
	tokenManager := jwt.NewTokenManager(cfg.JWT.Secret, cfg.JWT.ExpireHours, cfg.JWT.RefreshHours)
	authService := service.NewAuthService(userRepo, tokenManager, appLogger.Named("auth"))
	catalogService := service.NewCatalogService(catalogRepo)
	groupService := service.NewGroupService(groupRepo, memberRepo, catalogRepo, redisClient, rooms, sink, policy, appLogger.Named("groups"))
	messageService := service.NewMessageService(service.MessageServiceDeps{
		Groups:   groupRepo,
		Members:  memberRepo,
		Messages: messageRepo,
		Users:    userRepo,
		History:  redisClient,
		Notifier: rooms,
		Sink:     sink,
		IDs:      ids,
	}, policy, cfg.Group.HistoryLimit, appLogger.Named("messages"))

	// WebSocket 网关
	connManager := gateway.NewConnectionManager(ctx, &cfg.Websocket, rooms, redisClient, appLogger.Named("gateway"))
	defer connManager.Shutdown()
	wsHandler := gateway.NewMessageHandler(
		connManager,
		rooms,
		gateway.AuthenticatorFunc(func(ctx context.Context, token string) (gateway.Identity, error) {
			p, err := authService.Resolve(ctx, token)
			if err != nil {
				return gateway.Identity{}, err
			}
			return gateway.Identity{UserID: p.UserID, Username: p.Username}, nil
		}),
		gateway.GroupCheckerFunc(groupService.CheckLive),
		&cfg.Websocket,
		appLogger.Named("gateway"),
	)

	reaperCtx, stopReaper := context.WithCancel(ctx)
	reaperDone := make(chan struct{})
	go func() {
		defer close(reaperDone)
		reaper.New(groupService, rooms, cfg.Group.ReapInterval, appLogger.Named("reaper")).Run(reaperCtx)
	}()
	defer func() {
		stopReaper()
		<-reaperDone
	}()

	limiter := ratelimit.NewWindowLimiter(redisClient.GetClient(), appLogger.Named("ratelimit"), true)
	middleware := api.NewMiddlewareManager(authService, limiter, ratelimit.PerMinute{
		Register: cfg.RateLimit.RegisterPerMinute,
		Login:    cfg.RateLimit.LoginPerMinute,
		Message:  cfg.RateLimit.MessagePerMinute,
		API:      cfg.RateLimit.APIPerMinute,
	}, appLogger)

	router := api.NewRouter(cfg.Server.Mode, middleware, api.Handlers{
		Auth:    handler.NewAuthHandler(authService, appLogger.Named("http")),
		Catalog: handler.NewCatalogHandler(catalogService, appLogger.Named("http")),
		Group:   handler.NewGroupHandler(groupService, appLogger.Named("http")),
		Message: handler.NewMessageHandler(messageService, appLogger.Named("http")),
		Gateway: wsHandler,
	}, map[string]api.HealthCheck{
		"redis": redisClient.Ping,
		"postgres": func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		},
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		appLogger.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		appLogger.Info("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("启动服务器失败: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Warn("http server shutdown incomplete", zap.Error(err))
	}

	appLogger.Info("http server stopped")
	return nil
}

// newLifecycleSink publishes lifecycle events to Kafka when enabled. If the
// producer cannot be created the service runs without it.
func newLifecycleSink(cfg *config.Config, pool *workerpool.WorkerPool, appLogger *logger.Logger) (kafka.Sink, func()) {
	if !cfg.Kafka.Enabled {
		return kafka.NopSink{}, func() {}
	}
	producer, err := kafka.NewProducer(&cfg.Kafka)
	if err != nil {
		appLogger.Warn("kafka producer unavailable, lifecycle events disabled", zap.Error(err))
		return kafka.NopSink{}, func() {}
	}
	sink := kafka.NewProducerSink(producer, cfg.Kafka.Topic, pool, appLogger.Named("lifecycle"))
	return sink, func() {
		if err := producer.Close(); err != nil {
			appLogger.Warn("failed to close kafka producer", zap.Error(err))
		}
	}
}

func closeDB(db *gorm.DB, appLogger *logger.Logger) {
	sqlDB, err := db.DB()
	if err != nil {
		return
	}
	if err := sqlDB.Close(); err != nil {
		appLogger.Warn("failed to close postgres", zap.Error(err))
	}
}
