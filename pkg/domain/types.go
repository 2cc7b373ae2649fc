package domain

import "time"

// DeletedCommentPlaceholder replaces the content of a tombstoned comment.
const DeletedCommentPlaceholder = "[Deleted]"

// Upload prefixes understood by the key naming scheme.
const (
	PrefixContent      = "content"
	PrefixCoverArt     = "cover_art"
	PrefixProfileImage = "profile_image"
)

type User struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	FirstName    string     `json:"firstName"`
	LastName     string     `json:"lastName"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	IsStaff      bool       `json:"isStaff"`
	IsSuperuser  bool       `json:"isSuperuser"`
	IsActive     bool       `json:"isActive"`
	DateJoined   time.Time  `json:"dateJoined"`
	LastLogin    *time.Time `json:"lastLogin,omitempty"`
}

// IsAdmin reports whether the user may act through the admin path.
func (u User) IsAdmin() bool {
	return u.IsStaff || u.IsSuperuser
}

type Book struct {
	ID            string     `json:"id"`
	OwnerID       string     `json:"ownerId"`
	Title         string     `json:"title"`
	Description   string     `json:"description"`
	Author        string     `json:"author"`
	Genre         string     `json:"genre"`
	PublishedDate *time.Time `json:"publishedDate,omitempty"`
	Language      string     `json:"language"`
	ContentURL    *string    `json:"contentUrl,omitempty"`
	CoverArtURL   *string    `json:"coverArtUrl,omitempty"`
	Downloads     int64      `json:"downloads"`
	Views         int64      `json:"views"`
	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

type Comment struct {
	ID        string    `json:"id"`
	BookID    string    `json:"bookId"`
	UserID    *string   `json:"userId,omitempty"` // nil once the author account is gone
	ParentID  *string   `json:"parentId,omitempty"`
	Content   string    `json:"content"`
	IsEdited  bool      `json:"isEdited"`
	IsDeleted bool      `json:"isDeleted"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// AuthorID returns the comment author or "" for orphaned comments.
func (c Comment) AuthorID() string {
	if c.UserID == nil {
		return ""
	}
	return *c.UserID
}

type FavoriteBook struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	BookID    string    `json:"bookId"`
	CreatedAt time.Time `json:"createdAt"`
}

type ProfilePicture struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	ImageURL  *string   `json:"imageUrl,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
