package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ChaceN89/library/internal/util"
	"github.com/ChaceN89/library/pkg/access"
	"github.com/ChaceN89/library/pkg/domain"
	"github.com/ChaceN89/library/pkg/store"
)

// AddFavorite marks a book as one of caller's favorites.
func (a *App) AddFavorite(ctx context.Context, caller domain.User, bookID string) (view FavoriteView, err error) {
	defer a.observe(domain.EntityFavoriteBook, "create", &err)
	if err := requireCaller(caller); err != nil {
		return FavoriteView{}, err
	}
	book, err := a.getBook(ctx, bookID)
	if err != nil {
		return FavoriteView{}, err
	}
	has, err := a.store.HasFavorite(ctx, caller.ID, bookID)
	if err != nil {
		return FavoriteView{}, err
	}
	if has {
		return FavoriteView{}, ErrAlreadyFavorited
	}
	fav := domain.FavoriteBook{ID: util.NewID(), UserID: caller.ID, BookID: bookID, CreatedAt: a.now()}
	if err := a.store.CreateFavorite(ctx, fav); err != nil {
		// A concurrent add won between the check and the insert.
		if errors.Is(err, store.ErrDuplicate) {
			return FavoriteView{}, fmt.Errorf("%w: %w", ErrAlreadyFavorited, ErrConflict)
		}
		return FavoriteView{}, fmt.Errorf("save favorite: %w", err)
	}
	return favoriteView(fav, &book), nil
}

// RemoveFavorite drops a book from caller's favorites.
func (a *App) RemoveFavorite(ctx context.Context, caller domain.User, bookID string) (err error) {
	defer a.observe(domain.EntityFavoriteBook, "delete", &err)
	if err := requireCaller(caller); err != nil {
		return err
	}
	if _, err := a.getBook(ctx, bookID); err != nil {
		return err
	}
	removed, err := a.store.DeleteFavorite(ctx, caller.ID, bookID)
	if err != nil {
		return fmt.Errorf("delete favorite: %w", err)
	}
	if !removed {
		return ErrNotFavorited
	}
	return nil
}

// ListFavorites returns the favorites of userID, or of caller when userID is
// empty. Only the owner may list them.
func (a *App) ListFavorites(ctx context.Context, caller domain.User, userID string) ([]FavoriteView, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if userID == "" {
		userID = caller.ID
	}
	if err := access.AuthorizeFavorite(caller, domain.FavoriteBook{UserID: userID}); err != nil {
		return nil, denied(domain.EntityFavoriteBook, err)
	}
	favs, err := a.store.ListFavoritesByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]FavoriteView, 0, len(favs))
	for _, f := range favs {
		book, ok, err := a.store.GetBook(ctx, f.BookID)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, favoriteView(f, &book))
	}
	return out, nil
}
