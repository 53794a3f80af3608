package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mossy-p/peerplay/config"
	"github.com/mossy-p/peerplay/internal/handlers"
	"github.com/mossy-p/peerplay/internal/redis"
)

func main() {
	// Load configuration
	cfg := config.Load()

	logger := newLogger(cfg.Environment)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("relay stopped", zap.Error(err))
	}
}

func newLogger(env string) *zap.Logger {
	var (
		logger *zap.Logger
		err    error
	)
	if env == "production" {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	// Connect to Redis
	client, err := redis.Connect(ctx, cfg.Redis)
	if err != nil {
		return err
	}
	defer client.Close()
	logger.Info("redis connection established", zap.String("host", cfg.Redis.Host))

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	store := redis.NewListingStore(client, cfg.OfferTTL)
	hub := handlers.NewHub(store, logger.Named("hub"), cfg.RateLimit, cfg.RateBurst)
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handlers.NewRouter(cfg, store, hub),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting relay", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("shutting down relay")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Hijacked sockets are not tracked by the server.
		hub.Close()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
