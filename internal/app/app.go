// Package app is the resource lifecycle manager: every mutation checks
// existence and ownership, keeps blobs consistent with the rows that point at
// them, and applies the per-entity deletion policy.
package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ChaceN89/library/internal/metrics"
	"github.com/ChaceN89/library/internal/util"
	"github.com/ChaceN89/library/pkg/blob"
	"github.com/ChaceN89/library/pkg/domain"
	"github.com/ChaceN89/library/pkg/pagination"
	"github.com/ChaceN89/library/pkg/queue"
	"github.com/ChaceN89/library/pkg/session"
	"github.com/ChaceN89/library/pkg/store"
)

// OrphanSink receives blob URLs that could not be deleted inline.
type OrphanSink interface {
	Enqueue(ctx context.Context, url, reason string) (queue.Orphan, error)
}

// Config holds runtime configuration for the core application.
type Config struct {
	Store    store.Store
	Blobs    blob.Client
	Naming   blob.Naming
	Sessions *session.Manager
	// Orphans is optional; without it failed cleanups are only logged.
	Orphans          OrphanSink
	Metrics          *metrics.Metrics
	DefaultAvatarURL string
	Pagination       pagination.Config
	Now              func() time.Time
}

// App is the core application service wiring together storage and domain logic.
type App struct {
	store         store.Store
	blobs         blob.Client
	naming        blob.Naming
	sessions      *session.Manager
	orphans       OrphanSink
	metrics       *metrics.Metrics
	defaultAvatar string
	pagination    pagination.Config
	now           func() time.Time
}

// New constructs the application from already-built collaborators.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Blobs == nil {
		return nil, errors.New("blob client required")
	}
	if cfg.Sessions == nil {
		return nil, errors.New("session manager required")
	}
	if err := cfg.Pagination.Finalize(); err != nil {
		return nil, err
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &App{
		store:         cfg.Store,
		blobs:         cfg.Blobs,
		naming:        cfg.Naming,
		sessions:      cfg.Sessions,
		orphans:       cfg.Orphans,
		metrics:       cfg.Metrics,
		defaultAvatar: cfg.DefaultAvatarURL,
		pagination:    cfg.Pagination,
		now:           now,
	}, nil
}

// Pagination exposes the page size bounds list endpoints normalize against.
func (a *App) Pagination() pagination.Config {
	return a.pagination
}

func (a *App) observe(entity domain.Entity, op string, err *error) {
	a.metrics.ObserveLifecycle(string(entity), op, *err)
}

// deleteBlob removes url when set. Empty urls are a no-op.
func (a *App) deleteBlob(ctx context.Context, url *string) error {
	if url == nil || *url == "" {
		return nil
	}
	return a.blobs.DeleteByURL(ctx, *url)
}

// discard deletes blobs that were uploaded by a failed operation. Anything
// that cannot be removed is handed to the orphan queue.
func (a *App) discard(ctx context.Context, reason string, urls ...string) {
	ctx = context.WithoutCancel(ctx)
	for _, url := range urls {
		if url == "" {
			continue
		}
		if err := a.blobs.DeleteByURL(ctx, url); err != nil {
			a.orphan(ctx, url, reason, err)
		}
	}
}

// orphan records a blob left behind by a failed delete.
func (a *App) orphan(ctx context.Context, url, reason string, cause error) {
	logger := util.LoggerFromContext(ctx)
	logger.Warn("blob_orphaned", slog.String("url", url), slog.String("reason", reason), slog.String("err", cause.Error()))
	a.metrics.ObserveOrphan("recorded")
	if a.orphans == nil {
		return
	}
	if _, err := a.orphans.Enqueue(context.WithoutCancel(ctx), url, reason); err != nil {
		logger.Error("orphan_enqueue_failed", slog.String("url", url), slog.String("err", err.Error()))
		a.metrics.ObserveOrphan("enqueue_failed")
		return
	}
	a.metrics.ObserveOrphan("enqueued")
}

func (a *App) getBook(ctx context.Context, id string) (domain.Book, error) {
	book, ok, err := a.store.GetBook(ctx, id)
	if err != nil {
		return domain.Book{}, err
	}
	if !ok {
		return domain.Book{}, notFound(domain.EntityBook, id)
	}
	return book, nil
}

func (a *App) getUser(ctx context.Context, id string) (domain.User, error) {
	u, ok, err := a.store.GetUser(ctx, id)
	if err != nil {
		return domain.User{}, err
	}
	if !ok {
		return domain.User{}, notFound(domain.EntityUser, id)
	}
	return u, nil
}

func requireCaller(caller domain.User) error {
	if caller.ID == "" {
		return ErrUnauthenticated
	}
	return nil
}
