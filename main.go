package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/tinylink/go-server/config"
	db "github.com/tinylink/go-server/internal/database"
	"github.com/tinylink/go-server/internal/logger"
	"github.com/tinylink/go-server/internal/metrics"
	"github.com/tinylink/go-server/internal/middleware"
	"github.com/tinylink/go-server/internal/observability"
	"github.com/tinylink/go-server/internal/repository"
	route "github.com/tinylink/go-server/internal/routes"
	"github.com/tinylink/go-server/internal/service"
)

func main() {
	bootstrap := zap.Must(zap.NewProduction())

	secrets, err := config.LoadConfig()
	if err != nil {
		bootstrap.Fatal("error loading configuration", zap.Error(err))
	}

	log, logShutdown, err := logger.New(logger.Options{
		ServiceName: secrets.ServiceName,
		Environment: secrets.Environment,
		Production:  secrets.IsProduction(),
		Level:       secrets.LogLevel,
		LokiURL:     secrets.LokiURL,
	})
	if err != nil {
		bootstrap.Fatal("error building logger", zap.Error(err))
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	obs, err := observability.SetupObservability(ctx, secrets, log)
	if err != nil {
		log.Fatal("observability failed to initialize", zap.Error(err))
	}

	repo, poolStats, closeStore := openStore(ctx, secrets, log)
	svc := service.NewLinkService(repo)

	limiter, closeLimiter := newLimiter(ctx, secrets, log)

	metrics.StartSystemMetricsCollection(ctx, 15*time.Second, poolStats)

	router := route.SetupRouter(route.Dependencies{
		Config:         secrets,
		Service:        svc,
		Limiter:        limiter,
		MetricsHandler: obs.MetricsHandler,
	})

	server := &http.Server{
		Addr:              ":" + secrets.Port,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("starting server", zap.String("addr", server.Addr), zap.String("driver", secrets.DatabaseDriver))
		serverErr <- server.ListenAndServe()
	}()

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
		}
	case <-ctx.Done():
		log.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), secrets.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
		if err := server.Close(); err != nil {
			log.Error("forced shutdown failed", zap.Error(err))
		}
	}

	closeLimiter()
	closeStore()

	if err := obs.Shutdown(shutdownCtx); err != nil {
		log.Error("observability shutdown failed", zap.Error(err))
	}
	log.Info("server stopped")
	if err := logShutdown(shutdownCtx); err != nil {
		bootstrap.Warn("log flush incomplete", zap.Error(err))
	}
}

// openStore connects the configured database and ensures the schema exists
func openStore(ctx context.Context, secrets *config.Config, log *zap.Logger) (repository.LinkRepository, metrics.PoolStats, func()) {
	switch secrets.DatabaseDriver {
	case config.DriverPostgres:
		pgClient, err := db.NewPostgresClient(ctx, secrets)
		if err != nil {
			log.Fatal("postgres failed to initialize", zap.Error(err))
		}
		log.Info("postgres connection established")

		repo := repository.NewPostgresLinkRepository(pgClient)
		if err := repo.Migrate(ctx); err != nil {
			log.Fatal("postgres migration failed", zap.Error(err))
		}

		stats := func() (int, int) {
			s := pgClient.Stat()
			return int(s.AcquiredConns()), int(s.IdleConns())
		}
		return repo, stats, pgClient.Close

	default:
		sqlDB, err := db.OpenSQLite(ctx, secrets.SQLitePath)
		if err != nil {
			log.Fatal("sqlite failed to initialize", zap.Error(err))
		}
		log.Info("sqlite database opened", zap.String("path", secrets.SQLitePath))

		repo := repository.NewSQLiteLinkRepository(sqlDB)
		if err := repo.Migrate(ctx); err != nil {
			log.Fatal("sqlite migration failed", zap.Error(err))
		}

		stats := func() (int, int) {
			s := sqlDB.Stats()
			return s.InUse, s.Idle
		}
		closeDB := func() {
			if err := sqlDB.Close(); err != nil {
				log.Error("failed to close database", zap.Error(err))
			}
		}
		return repo, stats, closeDB
	}
}

// newLimiter returns nil when RATE_LIMIT_REQUESTS is zero
func newLimiter(ctx context.Context, secrets *config.Config, log *zap.Logger) (middleware.Limiter, func()) {
	if secrets.RateLimitRequests <= 0 {
		return nil, func() {}
	}

	if secrets.RedisAddr != "" {
		redisClient, err := db.NewRedisClient(ctx, secrets)
		if err != nil {
			log.Fatal("redis failed to initialize", zap.Error(err))
		}
		log.Info("redis rate limiter enabled",
			zap.Int("requests", secrets.RateLimitRequests),
			zap.Duration("window", secrets.RateLimitWindow),
		)
		limiter := middleware.NewRedisRateLimiter(redisClient, secrets.RateLimitRequests, secrets.RateLimitWindow)
		return limiter, func() {
			if err := redisClient.Close(); err != nil {
				log.Error("failed to close redis client", zap.Error(err))
			}
		}
	}

	log.Info("in-memory rate limiter enabled",
		zap.Int("requests", secrets.RateLimitRequests),
		zap.Duration("window", secrets.RateLimitWindow),
	)
	limiter := middleware.NewRateLimiter(secrets.RateLimitRequests, secrets.RateLimitWindow)
	return limiter, limiter.Stop
}
