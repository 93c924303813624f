package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/berniyo/mpesa-lambda/internal/api"
	"github.com/berniyo/mpesa-lambda/internal/app"
	"github.com/berniyo/mpesa-lambda/internal/config"
	"github.com/berniyo/mpesa-lambda/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("failed to configure components", zap.Error(err))
	}
	defer a.Close()

	registry := api.NewRegistry(a.NewController)
	defer registry.Close()

	var checks []api.HealthCheck
	if a.NATS != nil {
		checks = append(checks, a.NATS.HealthCheck)
	}
	router := api.NewRouter(api.NewHandler(registry, a.Dispatcher, log), log, a.Registry, checks...)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go sweep(ctx, registry, cfg.Server.ClientIdle, log)

	go func() {
		log.Info("starting wallet api", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()

	log.Info("shutting down server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}

	log.Info("server stopped")
}

// sweep drops idle wallet controllers until ctx is done.
func sweep(ctx context.Context, registry *api.Registry, maxIdle time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(maxIdle / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := registry.Sweep(maxIdle); n > 0 {
				log.Debug("swept idle controllers", zap.Int("removed", n), zap.Int("live", registry.Len()))
			}
		}
	}
}
