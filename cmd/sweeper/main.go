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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/ChaceN89/library/internal/bootstrap"
	"github.com/ChaceN89/library/internal/config"
	"github.com/ChaceN89/library/internal/metrics"
	"github.com/ChaceN89/library/internal/sweeper"
	"github.com/ChaceN89/library/internal/util"
	"github.com/ChaceN89/library/pkg/queue"
)

func main() {
	cfg, err := config.Load(config.ConfigPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := util.InitLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.NewMetrics(registry)

	blobs, _, err := bootstrap.Blobs(ctx, cfg, m)
	if err != nil {
		logger.Error("failed to init blob store", "err", err)
		os.Exit(1)
	}
	rdb, err := bootstrap.Redis(ctx, cfg)
	if err != nil {
		logger.Error("failed to connect redis", "err", err)
		os.Exit(1)
	}
	if rdb == nil {
		logger.Error("sweeper requires redisAddr")
		os.Exit(1)
	}
	defer rdb.Close()

	q, err := queue.NewOrphanQueue(queue.Config{
		Client:     rdb,
		Stream:     cfg.OrphanStream,
		MaxRetries: cfg.SweeperMaxRetries,
		OnAbandon:  sweeper.Abandoned(m),
	})
	if err != nil {
		logger.Error("failed to init orphan queue", "err", err)
		os.Exit(1)
	}

	if cfg.SweeperMetricsPort != "" {
		mux := http.NewServeMux()
		mux.Handle("GET /metrics", m.Handler())
		srv := &http.Server{
			Addr:              ":" + cfg.SweeperMetricsPort,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server error", "err", err)
			}
		}()
		defer srv.Close()
	}

	logger.Info("sweeper started", "stream", cfg.OrphanStream, "concurrency", cfg.SweeperConcurrency)
	if err := q.Run(ctx, cfg.SweeperConcurrency, sweeper.Handler(blobs, m)); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sweeper stopped", "err", err)
		os.Exit(1)
	}
	logger.Info("sweeper stopped")
}
