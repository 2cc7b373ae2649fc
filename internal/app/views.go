package app

import (
	"time"

	"github.com/ChaceN89/library/pkg/domain"
)

const dateLayout = "2006-01-02"

// PublicBookView is what anyone browsing the catalog sees.
type PublicBookView struct {
	ID            string    `json:"id"`
	OwnerID       string    `json:"ownerId"`
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	Author        string    `json:"author"`
	Genre         string    `json:"genre"`
	PublishedDate string    `json:"publishedDate,omitempty"`
	Language      string    `json:"language"`
	ContentURL    string    `json:"contentUrl,omitempty"`
	CoverArtURL   string    `json:"coverArtUrl,omitempty"`
	Downloads     int64     `json:"downloads"`
	Views         int64     `json:"views"`
	CreatedAt     time.Time `json:"createdAt"`
}

// OwnerBookView adds bookkeeping fields only the owner needs.
type OwnerBookView struct {
	PublicBookView
	UpdatedAt time.Time `json:"updatedAt"`
}

func publicBookView(b domain.Book) PublicBookView {
	v := PublicBookView{
		ID:          b.ID,
		OwnerID:     b.OwnerID,
		Title:       b.Title,
		Description: b.Description,
		Author:      b.Author,
		Genre:       b.Genre,
		Language:    b.Language,
		ContentURL:  domain.Deref(b.ContentURL),
		CoverArtURL: domain.Deref(b.CoverArtURL),
		Downloads:   b.Downloads,
		Views:       b.Views,
		CreatedAt:   b.CreatedAt,
	}
	if b.PublishedDate != nil {
		v.PublishedDate = b.PublishedDate.Format(dateLayout)
	}
	return v
}

func ownerBookView(b domain.Book) OwnerBookView {
	return OwnerBookView{PublicBookView: publicBookView(b), UpdatedAt: b.UpdatedAt}
}

// UserView is a user record as seen by the user themselves. Admin callers get
// the account flags as well.
type UserView struct {
	ID         string    `json:"id"`
	Username   string    `json:"username"`
	FirstName  string    `json:"firstName"`
	LastName   string    `json:"lastName"`
	Email      string    `json:"email"`
	DateJoined time.Time `json:"dateJoined"`
	*AdminUserView
}

// AdminUserView holds the account flags exposed to staff and superusers.
type AdminUserView struct {
	IsStaff     bool       `json:"isStaff"`
	IsSuperuser bool       `json:"isSuperuser"`
	IsActive    bool       `json:"isActive"`
	LastLogin   *time.Time `json:"lastLogin,omitempty"`
}

func userView(u domain.User, viewer domain.User) UserView {
	v := UserView{
		ID:         u.ID,
		Username:   u.Username,
		FirstName:  u.FirstName,
		LastName:   u.LastName,
		Email:      u.Email,
		DateJoined: u.DateJoined,
	}
	if viewer.IsAdmin() {
		v.AdminUserView = &AdminUserView{
			IsStaff:     u.IsStaff,
			IsSuperuser: u.IsSuperuser,
			IsActive:    u.IsActive,
			LastLogin:   u.LastLogin,
		}
	}
	return v
}

// CommentView is one comment with its replies nested beneath it.
type CommentView struct {
	ID           string        `json:"id"`
	BookID       string        `json:"bookId"`
	UserID       string        `json:"userId,omitempty"`
	UserUsername string        `json:"userUsername,omitempty"`
	ParentID     string        `json:"parentId,omitempty"`
	Content      string        `json:"content"`
	IsEdited     bool          `json:"isEdited"`
	IsDeleted    bool          `json:"isDeleted"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
	Replies      []CommentView `json:"replies"`
}

func commentView(c domain.Comment, username string) CommentView {
	return CommentView{
		ID:           c.ID,
		BookID:       c.BookID,
		UserID:       c.AuthorID(),
		UserUsername: username,
		ParentID:     domain.Deref(c.ParentID),
		Content:      c.Content,
		IsEdited:     c.IsEdited,
		IsDeleted:    c.IsDeleted,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
		Replies:      []CommentView{},
	}
}

type FavoriteView struct {
	ID        string          `json:"id"`
	BookID    string          `json:"bookId"`
	CreatedAt time.Time       `json:"createdAt"`
	Book      *PublicBookView `json:"book,omitempty"`
}

func favoriteView(f domain.FavoriteBook, book *domain.Book) FavoriteView {
	v := FavoriteView{ID: f.ID, BookID: f.BookID, CreatedAt: f.CreatedAt}
	if book != nil {
		bv := publicBookView(*book)
		v.Book = &bv
	}
	return v
}

type ProfilePictureView struct {
	UserID    string `json:"userId"`
	ImageURL  string `json:"imageUrl"`
	IsDefault bool   `json:"isDefault"`
}

// SessionView is returned by login and password changes.
type SessionView struct {
	Token     string    `json:"token"`
	TokenType string    `json:"tokenType"`
	ExpiresAt time.Time `json:"expiresAt"`
	User      UserView  `json:"user"`
}

// CleanupFailure is one blob the user deletion could not remove.
type CleanupFailure struct {
	Entity   domain.Entity `json:"entity"`
	EntityID string        `json:"entityId"`
	URL      string        `json:"url"`
	Error    string        `json:"error"`
}

// DeletionReport summarizes a user deletion. The user row is gone even when
// Failures is not empty.
type DeletionReport struct {
	UserID         string           `json:"userId"`
	BooksDeleted   int              `json:"booksDeleted"`
	PictureDeleted bool             `json:"pictureDeleted"`
	Failures       []CleanupFailure `json:"failures"`
}
