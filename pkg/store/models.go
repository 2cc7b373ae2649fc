package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID           string `gorm:"primaryKey"`
	Username     string `gorm:"uniqueIndex;not null"`
	FirstName    string
	LastName     string
	Email        string
	PasswordHash string    `gorm:"not null"`
	IsStaff      bool      `gorm:"not null"`
	IsSuperuser  bool      `gorm:"not null"`
	IsActive     bool      `gorm:"not null"`
	DateJoined   time.Time `gorm:"not null"`
	LastLogin    *time.Time
}

type BookModel struct {
	ID            string `gorm:"primaryKey"`
	OwnerID       string `gorm:"not null;index"`
	Title         string `gorm:"not null;index"`
	Description   string `gorm:"type:text"`
	Author        string `gorm:"index"`
	Genre         string `gorm:"index"`
	PublishedDate *datatypes.Date
	Language      string `gorm:"index"`
	ContentURL    *string
	CoverArtURL   *string
	Downloads     int64     `gorm:"not null"`
	Views         int64     `gorm:"not null"`
	CreatedAt     time.Time `gorm:"not null;index"`
	UpdatedAt     time.Time `gorm:"not null"`
}

type CommentModel struct {
	ID        string    `gorm:"primaryKey"`
	BookID    string    `gorm:"not null;index"`
	UserID    *string   `gorm:"index"`
	ParentID  *string   `gorm:"index"`
	Content   string    `gorm:"type:text;not null"`
	IsEdited  bool      `gorm:"not null"`
	IsDeleted bool      `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;index"`
	UpdatedAt time.Time `gorm:"not null"`
}

type FavoriteBookModel struct {
	ID        string    `gorm:"primaryKey"`
	UserID    string    `gorm:"not null;uniqueIndex:idx_favorite_user_book"`
	BookID    string    `gorm:"not null;uniqueIndex:idx_favorite_user_book;index"`
	CreatedAt time.Time `gorm:"not null"`
}

type ProfilePictureModel struct {
	ID        string `gorm:"primaryKey"`
	UserID    string `gorm:"not null;uniqueIndex"`
	ImageURL  *string
	UpdatedAt time.Time `gorm:"not null"`
}
