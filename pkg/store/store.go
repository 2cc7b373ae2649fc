package store

import (
	"context"
	"errors"

	"github.com/ChaceN89/library/pkg/domain"
	"github.com/ChaceN89/library/pkg/pagination"
)

// ErrDuplicate is returned when a write violates a uniqueness constraint
// (username, or a (user, book) favorite pair).
var ErrDuplicate = errors.New("store: duplicate record")

// ErrMissing is returned by updates that target a row that no longer exists.
var ErrMissing = errors.New("store: record missing")

// BookQuery filters, orders and windows the public catalog.
type BookQuery struct {
	Search   string
	Genre    string
	Language string
	Author   string
	OwnerID  string
	Sort     []pagination.SortField
	Limit    int
	Offset   int
}

// SortableBookFields maps public sort names to columns.
var SortableBookFields = map[string]string{
	"title":          "title",
	"author":         "author",
	"published_date": "published_date",
	"created_at":     "created_at",
	"views":          "views",
	"downloads":      "downloads",
}

// Book counters accepted by IncrementBookStat.
const (
	StatViews     = "views"
	StatDownloads = "downloads"
)

// Store defines persistence for users, books, comments, favorites and profile pictures.
//
// Relational rules every implementation honours: deleting a book removes its
// comments and favorites; deleting a user removes their books, favorites and
// profile picture, and detaches their comments.
type Store interface {
	// users
	CreateUser(ctx context.Context, u domain.User) error
	UpdateUser(ctx context.Context, u domain.User) error
	GetUser(ctx context.Context, id string) (domain.User, bool, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error)
	ListUsers(ctx context.Context) ([]domain.User, error)
	// DeleteUser scrubs the user's comments to placeholder, detaches them, and
	// removes the user row in one transaction.
	DeleteUser(ctx context.Context, id, placeholder string) error

	// books
	CreateBook(ctx context.Context, b domain.Book) error
	UpdateBook(ctx context.Context, b domain.Book) error
	GetBook(ctx context.Context, id string) (domain.Book, bool, error)
	DeleteBook(ctx context.Context, id string) error
	ListBooksByOwner(ctx context.Context, ownerID string) ([]domain.Book, error)
	SearchBooks(ctx context.Context, q BookQuery) ([]domain.Book, int, error)
	// IncrementBookStat atomically adds one to a StatViews or StatDownloads counter.
	IncrementBookStat(ctx context.Context, id, stat string) error

	// comments
	CreateComment(ctx context.Context, c domain.Comment) error
	UpdateComment(ctx context.Context, c domain.Comment) error
	GetComment(ctx context.Context, id string) (domain.Comment, bool, error)
	ListCommentsByBook(ctx context.Context, bookID string) ([]domain.Comment, error)

	// favorites
	CreateFavorite(ctx context.Context, f domain.FavoriteBook) error
	HasFavorite(ctx context.Context, userID, bookID string) (bool, error)
	DeleteFavorite(ctx context.Context, userID, bookID string) (bool, error)
	ListFavoritesByUser(ctx context.Context, userID string) ([]domain.FavoriteBook, error)

	// profile pictures
	GetProfilePicture(ctx context.Context, userID string) (domain.ProfilePicture, bool, error)
	SaveProfilePicture(ctx context.Context, p domain.ProfilePicture) error
	DeleteProfilePicture(ctx context.Context, userID string) error
}
