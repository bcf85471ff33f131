// Package main запускает HTTP-сервер сервиса earntube.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/earntube/earntube-system/internal/config"
	"github.com/earntube/earntube-system/internal/handler"
	"github.com/earntube/earntube-system/internal/middleware"
	"github.com/earntube/earntube-system/internal/service"
	"github.com/earntube/earntube-system/internal/storage"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	store, err := storage.NewManager(storage.Options{
		URI:           cfg.DatabaseURI,
		LocalPath:     cfg.LocalStorePath,
		Serverless:    cfg.Serverless,
		Production:    cfg.Production,
		RetryCooldown: cfg.RetryCooldown,
	}, logger)
	if err != nil {
		sugar.Fatalw("storage initialization error", "error", err.Error())
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		store.Close(shutdownCtx)
	}()

	svc := service.NewService(store, logger)

	session := middleware.NewSessionResolver(cfg.JWTSecret, cfg.Production)
	h := handler.NewHandler(svc, logger, session)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting earntube server", "addr", cfg.RunAddress, "backend", store.Backend())
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
