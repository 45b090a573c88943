package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/d60-Lab/followgraph/config"
	"github.com/d60-Lab/followgraph/internal/app"
	"github.com/d60-Lab/followgraph/internal/verify"
	"github.com/d60-Lab/followgraph/pkg/logger"
	"github.com/d60-Lab/followgraph/pkg/tracing"
)

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

	if cfg.Queue.Driver == "memory" {
		logger.L().Fatal("memory queue is consumed inside the server process; use redis or kafka for a standalone worker")
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

	mgr := a.Manager("")
	if err := mgr.Start(ctx); err != nil {
		logger.L().Fatal("start workers failed", zap.Error(err))
	}
	go reportLatency(ctx, mgr.Metrics())

	var loop *verify.Loop
	if cfg.Verify.Interval > 0 {
		loop = verify.NewLoop(a.Verifier(), cfg.Verify.Interval)
		loop.Start(ctx)
	}

	<-ctx.Done()
	logger.Info("worker shutting down")
	mgr.Stop()
	if loop != nil {
		loop.Stop()
		<-loop.Done()
	}
}

// reportLatency 每分钟汇总一次任务耗时
func reportLatency(ctx context.Context, metrics <-chan time.Duration) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	var n int
	var total, peak time.Duration
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-metrics:
			n++
			total += d
			if d > peak {
				peak = d
			}
		case <-ticker.C:
			if n == 0 {
				continue
			}
			logger.Info("task latency",
				zap.Int("tasks", n),
				zap.Duration("avg", total/time.Duration(n)),
				zap.Duration("max", peak))
			n, total, peak = 0, 0, 0
		}
	}
}
