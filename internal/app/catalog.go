package app

import (
	"context"
	"log/slog"
	"strings"

	"github.com/ChaceN89/library/internal/util"
	"github.com/ChaceN89/library/pkg/domain"
	"github.com/ChaceN89/library/pkg/pagination"
	"github.com/ChaceN89/library/pkg/store"
)

// BookFilter narrows the public catalog to exact matches.
type BookFilter struct {
	Genre    string
	Language string
	Author   string
	OwnerID  string
}

// ListBooks pages through the public catalog.
func (a *App) ListBooks(ctx context.Context, filter BookFilter, page pagination.PageRequest) (pagination.PageResult[PublicBookView], error) {
	page.Normalize(a.pagination)
	for _, s := range page.Sort {
		if _, ok := store.SortableBookFields[s.Field]; !ok {
			return pagination.PageResult[PublicBookView]{}, invalid("cannot sort by %q", s.Field)
		}
	}
	q := store.BookQuery{
		Genre:    strings.TrimSpace(filter.Genre),
		Language: strings.TrimSpace(filter.Language),
		Author:   strings.TrimSpace(filter.Author),
		OwnerID:  strings.TrimSpace(filter.OwnerID),
		Sort:     page.Sort,
		Limit:    page.PageSize,
		Offset:   page.Offset(),
	}
	if page.Search != nil {
		q.Search = strings.TrimSpace(*page.Search)
	}
	books, total, err := a.store.SearchBooks(ctx, q)
	if err != nil {
		return pagination.PageResult[PublicBookView]{}, err
	}
	views := make([]PublicBookView, 0, len(books))
	for _, b := range books {
		views = append(views, publicBookView(b))
	}
	return pagination.NewPageResult(views, total, page.Page, page.PageSize), nil
}

// GetPublicBook returns one book and counts the view.
func (a *App) GetPublicBook(ctx context.Context, id string) (PublicBookView, error) {
	book, err := a.getBook(ctx, id)
	if err != nil {
		return PublicBookView{}, err
	}
	if err := a.store.IncrementBookStat(ctx, id, store.StatViews); err != nil {
		util.LoggerFromContext(ctx).Warn("book_view_count_failed", slog.String("book_id", id), slog.String("err", err.Error()))
	} else {
		book.Views++
	}
	return publicBookView(book), nil
}

// RecordDownload counts a download and returns the content URL to fetch.
func (a *App) RecordDownload(ctx context.Context, id string) (string, error) {
	book, err := a.getBook(ctx, id)
	if err != nil {
		return "", err
	}
	if book.ContentURL == nil {
		return "", notFound(domain.EntityBook, id+" content")
	}
	if err := a.store.IncrementBookStat(ctx, id, store.StatDownloads); err != nil {
		util.LoggerFromContext(ctx).Warn("book_download_count_failed", slog.String("book_id", id), slog.String("err", err.Error()))
	}
	return *book.ContentURL, nil
}
