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

	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"github.com/rl1809/vending/config"
	"github.com/rl1809/vending/internal/adapter/handler"
	"github.com/rl1809/vending/internal/adapter/messaging"
	"github.com/rl1809/vending/internal/adapter/storage"
	"github.com/rl1809/vending/internal/core/service"
	"github.com/rl1809/vending/internal/infrastructure/tracing"
	"github.com/rl1809/vending/internal/port"
)

func main() {
	conf := config.CreateNewConfig()

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	zerolog.SetGlobalLevel(conf.LogLevel)
	log.Logger = logger
	zerolog.DefaultContextLogger = &log.Logger

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	traceProvider, err := tracing.InitTracing(ctx, conf.TracingConfig.CollectorHost)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to init tracing")
	}
	defer func() {
		if err := traceProvider.Shutdown(context.Background()); err != nil {
			log.Error().Err(err).Msg("failed to shut down tracer provider")
		}
	}()

	db, closeDB := openDatabase(ctx, conf)
	defer closeDB()

	cache, closeCache := openCache(ctx, conf)
	defer closeCache()

	events, closeEvents := openPublisher(conf)
	defer closeEvents()

	products := service.NewProductService(db, cache, conf.CacheTTL, conf.PageSize)
	transactions := service.NewTransactionService(db, cache, events, conf.PageSize)
	auth := service.NewAuthService(db, conf.JWTSecret, conf.JWTTTL)

	// gRPC
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	handler.RegisterVendingServer(grpcServer, handler.NewGRPCHandler(products, transactions, auth))

	lis, err := net.Listen("tcp", ":"+conf.GRPCPort)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to listen")
	}
	go func() {
		log.Info().Str("port", conf.GRPCPort).Msg("gRPC server listening")
		if err := grpcServer.Serve(lis); err != nil {
			log.Error().Err(err).Msg("gRPC server error")
		}
	}()

	// HTTP
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.Use(middleware.Recover())
	e.Use(handler.Tracing(traceProvider.Tracer(tracing.ServiceName)))
	e.Use(echoprometheus.NewMiddleware(""))
	e.Use(handler.Logger)
	handler.NewHTTPHandler(products, transactions, auth).Register(e, conf.ThrottlePerHour)

	go func() {
		log.Info().Str("port", conf.HTTPPort).Msg("HTTP server listening")
		if err := e.Start(":" + conf.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	metrics := echo.New()
	metrics.HideBanner = true
	metrics.HidePort = true
	metrics.GET("/metrics", echoprometheus.NewHandler())
	go func() {
		if err := metrics.Start(fmt.Sprintf(":%s", conf.MetricsPort)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Failed to start metrics server")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP shutdown")
	}
	if err := metrics.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("metrics shutdown")
	}
	grpcServer.GracefulStop()
	log.Info().Msg("servers stopped")
}

func openDatabase(ctx context.Context, conf *config.Config) (port.DatabaseRepository, func()) {
	if conf.MySQLConfig.DSN == "" {
		log.Warn().Msg("MYSQL_DSN not set, using in-memory store")
		return storage.NewMemoryAdapter(), func() {}
	}

	db, err := storage.OpenMySQL(ctx, conf.MySQLConfig.DSN)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect mysql")
	}
	adapter := storage.NewMySQLAdapter(db)
	if err := adapter.Migrate(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to migrate mysql")
	}
	log.Info().Msg("connected to mysql")

	return adapter, func() { db.Close() }
}

func openCache(ctx context.Context, conf *config.Config) (port.ListingCache, func()) {
	if conf.RedisConfig.Addr == "" {
		log.Warn().Msg("REDIS_ADDR not set, using in-memory listing cache")
		return storage.NewMemoryCache(), func() {}
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     conf.RedisConfig.Addr,
		Password: conf.RedisConfig.Password,
		DB:       conf.RedisConfig.DB,
		PoolSize: 100,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		// the cache is an accelerator only; keep serving from the database
		log.Error().Err(err).Msg("redis unreachable, listings will be served uncached until it recovers")
	} else {
		log.Info().Msg("connected to redis")
	}

	return storage.NewRedisAdapter(rdb), func() { rdb.Close() }
}

func openPublisher(conf *config.Config) (port.EventPublisher, func()) {
	if len(conf.KafkaConfig.Brokers) == 0 {
		return messaging.NoopPublisher{}, func() {}
	}

	publisher := messaging.NewKafkaPublisher(messaging.NewKafkaWriter(conf.KafkaConfig.Brokers, conf.KafkaConfig.Topic))
	log.Info().Strs("brokers", conf.KafkaConfig.Brokers).Str("topic", conf.KafkaConfig.Topic).Msg("publishing events to kafka")

	return publisher, func() {
		if err := publisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close kafka writer")
		}
	}
}
