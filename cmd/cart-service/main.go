package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kokoruadmin/kokoru-cart/internal/cart"
	"github.com/kokoruadmin/kokoru-cart/internal/catalog"
	"github.com/kokoruadmin/kokoru-cart/internal/checkout"
	"github.com/kokoruadmin/kokoru-cart/internal/config"
	cartgrpc "github.com/kokoruadmin/kokoru-cart/internal/grpc"
	h "github.com/kokoruadmin/kokoru-cart/internal/http"
	"github.com/kokoruadmin/kokoru-cart/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, closeStorage, err := openStorage(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to open storage", zap.String("backend", cfg.StorageBackend), zap.Error(err))
	}
	defer closeStorage()
	logger.Info("storage ready", zap.String("backend", cfg.StorageBackend))

	manager := cart.NewManager(st, logger)
	go manager.RunJanitor(ctx, time.Minute, cfg.CartIdleTimeout)

	catalogClient := catalog.NewHTTPClient(cfg.CatalogBaseURL, cfg.CatalogTimeout, logger)

	var publisher checkout.Publisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher := checkout.NewKafkaPublisher(cfg.KafkaBrokers...)
		defer kafkaPublisher.Close()
		publisher = kafkaPublisher

		consumer := checkout.NewConsumer(manager, logger, cfg.KafkaBrokers...)
		defer consumer.Close()
		go consumer.Run(ctx)
		logger.Info("checkout handoff enabled", zap.Strings("brokers", cfg.KafkaBrokers))
	} else {
		logger.Warn("KAFKA_BROKERS not set, checkout is disabled")
	}

	handler := h.NewCartHandler(manager, catalogClient, publisher, cfg.RequestTimeout, logger)

	var limiter *h.SessionRateLimiter
	if cfg.RateLimitRPS > 0 {
		limiter = h.NewSessionRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)
		go limiter.RunCleanup(ctx)
	}

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      h.NewRouter(handler, limiter, logger, cfg.RequestTimeout),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("cart service starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	healthServer := cartgrpc.NewHealthServer(st, logger)
	go healthServer.RunProbe(ctx, 15*time.Second)

	lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
	if err != nil {
		logger.Fatal("failed to listen", zap.String("port", cfg.GRPCPort), zap.Error(err))
	}
	go func() {
		logger.Info("grpc health listening", zap.String("port", cfg.GRPCPort))
		if err := healthServer.Serve(lis); err != nil {
			logger.Error("grpc serve failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")
	healthServer.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", zap.Error(err))
	}
	logger.Info("server exited")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storage.Storage, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       0,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("redis ping: %w", err)
		}
		return storage.NewRedisStorage(client, cfg.RedisTTL), func() { client.Close() }, nil

	case config.BackendSQLite:
		s, err := storage.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	case config.BackendPostgres:
		s, err := storage.NewPostgresStorage(cfg.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil

	case config.BackendMongo:
		db, err := storage.ConnectMongoDB(ctx, cfg.MongoURI, cfg.MongoDBName)
		if err != nil {
			return nil, nil, err
		}
		s := storage.NewMongoStorage(db)
		if err := s.CreateIndexes(ctx); err != nil {
			logger.Warn("failed to create mongo indexes", zap.Error(err))
		}
		return s, func() { db.Client().Disconnect(context.Background()) }, nil

	default:
		logger.Warn("using in-memory storage, carts are lost on restart")
		return storage.NewMemoryStorage(), func() {}, nil
	}
}
