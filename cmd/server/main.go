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

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/d60-Lab/followgraph/config"
	"github.com/d60-Lab/followgraph/internal/api/handler"
	"github.com/d60-Lab/followgraph/internal/api/router"
	"github.com/d60-Lab/followgraph/internal/app"
	"github.com/d60-Lab/followgraph/internal/service"
	"github.com/d60-Lab/followgraph/internal/tasks"
	"github.com/d60-Lab/followgraph/pkg/jwt"
	"github.com/d60-Lab/followgraph/pkg/logger"
	"github.com/d60-Lab/followgraph/pkg/tracing"
)

// @title           followgraph API
// @version         1.0
// @description     Follow graph and activity timelines.
// @host            localhost:8080
// @BasePath        /
// @securityDefinitions.apiKey BearerAuth
// @in header
// @name Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.Sentry.DSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.DSN, Environment: cfg.Sentry.Environment}); err != nil {
			logger.Error("sentry init failed", zap.Error(err))
		}
		defer sentry.Flush(2 * time.Second)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing)
	if err != nil {
		logger.L().Fatal("tracing init failed", zap.Error(err))
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	a, cleanup, err := app.Open(ctx, cfg)
	if err != nil {
		logger.L().Fatal("bootstrap failed", zap.Error(err))
	}
	defer cleanup()

	// 内存队列只能在本进程内消费
	var mgr *tasks.Manager
	if cfg.Queue.Driver == "memory" {
		mgr = a.Manager("server")
		if err := mgr.Start(ctx); err != nil {
			logger.L().Fatal("start in-process workers failed", zap.Error(err))
		}
	}

	tokens := jwt.NewManager(cfg.JWT.Secret, cfg.JWT.TTL)
	h := handler.New(
		service.NewRelationshipService(a.Registry, a.Graph),
		service.NewTimelineService(a.Registry, a.Timeline),
		service.NewPublisher(a.Repos.Posts, a.Repos.Projects, a.Timeline),
		a.Repos, tokens)

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router.Setup(cfg, h, tokens),
	}
	go func() {
		logger.Info("http server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	if mgr != nil {
		mgr.Stop()
	}
}
