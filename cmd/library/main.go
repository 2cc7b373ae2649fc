package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/ChaceN89/library/internal/app"
	"github.com/ChaceN89/library/internal/bootstrap"
	"github.com/ChaceN89/library/internal/config"
	"github.com/ChaceN89/library/internal/metrics"
	"github.com/ChaceN89/library/internal/ratelimit"
	"github.com/ChaceN89/library/internal/server"
	"github.com/ChaceN89/library/internal/util"
	"github.com/ChaceN89/library/pkg/queue"
	"github.com/ChaceN89/library/pkg/session"
	"github.com/ChaceN89/library/pkg/store"
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

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("library server stopped", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.FileConfig, logger *slog.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	st, closeStore, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer closeStore()

	blobs, naming, err := bootstrap.Blobs(ctx, cfg, m)
	if err != nil {
		return fmt.Errorf("init blob store: %w", err)
	}

	rdb, err := bootstrap.Redis(ctx, cfg)
	if err != nil {
		return err
	}
	if rdb != nil {
		defer rdb.Close()
	} else {
		logger.Warn("redis not configured; sessions, rate limits and orphans stay in-process")
	}

	sessions, err := openSessions(cfg, rdb)
	if err != nil {
		return fmt.Errorf("init sessions: %w", err)
	}

	var orphans app.OrphanSink
	if rdb != nil {
		q, err := queue.NewOrphanQueue(queue.Config{
			Client:     rdb,
			Stream:     cfg.OrphanStream,
			MaxRetries: cfg.SweeperMaxRetries,
		})
		if err != nil {
			return fmt.Errorf("init orphan queue: %w", err)
		}
		orphans = q
	}

	writeLimiter, err := newLimiter(rdb, "library:ratelimit:write", cfg.RateLimitWritesPerMinute)
	if err != nil {
		return fmt.Errorf("init write limiter: %w", err)
	}
	authLimiter, err := newLimiter(rdb, "library:ratelimit:auth", cfg.RateLimitLoginsPerMinute)
	if err != nil {
		return fmt.Errorf("init auth limiter: %w", err)
	}
	trusted, err := util.NewTrustedProxies(cfg.TrustedProxyCIDRs)
	if err != nil {
		return fmt.Errorf("parse trusted proxies: %w", err)
	}

	appCore, err := app.New(app.Config{
		Store:            st,
		Blobs:            blobs,
		Naming:           naming,
		Sessions:         sessions,
		Orphans:          orphans,
		Metrics:          m,
		DefaultAvatarURL: cfg.DefaultAvatarURL,
		Pagination:       cfg.Pagination,
	})
	if err != nil {
		return fmt.Errorf("init app: %w", err)
	}

	httpServer, err := server.New(server.Config{
		App:            appCore,
		Sessions:       sessions,
		Metrics:        m,
		WriteLimiter:   writeLimiter,
		AuthLimiter:    authLimiter,
		TrustedProxies: trusted,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	if err != nil {
		return fmt.Errorf("init server: %w", err)
	}

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("library server listening", "addr", addr, "store", cfg.StoreBackend, "blobs", cfg.BlobBackend)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	logger.Info("library server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func openStore(cfg config.FileConfig) (store.Store, func(), error) {
	if cfg.StoreBackend == config.StoreBackendMemory {
		return store.NewMemoryStore(), func() {}, nil
	}
	gs, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	return gs, func() { _ = gs.Close() }, nil
}

func openSessions(cfg config.FileConfig, rdb *redis.Client) (*session.Manager, error) {
	var revoker session.Revoker = session.NewMemoryRevoker()
	if rdb != nil {
		r, err := session.NewRedisRevoker(rdb, "library:session")
		if err != nil {
			return nil, err
		}
		revoker = r
	}
	sc := session.Config{
		PrivateKeyPath: cfg.JWTPrivateKeyPath,
		PublicKeyPath:  cfg.JWTPublicKeyPath,
		KeyID:          cfg.JWTKeyID,
		VerifyKeys:     cfg.JWTVerifyKeys,
		TTL:            time.Duration(cfg.SessionTTLSeconds) * time.Second,
		Issuer:         cfg.JWTIssuer,
		Audience:       cfg.JWTAudience,
	}
	if cfg.JWTPrivateKeyPath == "" {
		slog.Warn("jwt keys not configured; using an ephemeral signing key")
		return session.NewEphemeral(sc, revoker)
	}
	return session.NewFromPEM(sc, revoker)
}

// newLimiter shares quotas across instances through redis when available.
// A zero limit disables limiting.
func newLimiter(rdb *redis.Client, prefix string, perMinute int) (ratelimit.Limiter, error) {
	if perMinute <= 0 {
		return ratelimit.AllowAll{}, nil
	}
	if rdb != nil {
		return ratelimit.NewFixedWindowLimiter(rdb, prefix, perMinute, time.Minute)
	}
	return ratelimit.NewLocalLimiter(perMinute, time.Minute)
}
