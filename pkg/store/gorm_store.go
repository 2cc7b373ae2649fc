package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/ChaceN89/library/pkg/domain"
)

const migrateLockID int64 = 51207741

const pgUniqueViolation = "23505"

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB, runs auto-migrations and installs foreign keys.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, migrate); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *GormStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func migrate(tx *gorm.DB) error {
	if err := tx.AutoMigrate(&UserModel{}, &BookModel{}, &CommentModel{}, &FavoriteBookModel{}, &ProfilePictureModel{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	if err := tx.Exec(`
		DO $$
		BEGIN
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public' AND constraint_name = 'book_models_owner_id_fkey'
			) THEN
				ALTER TABLE book_models
				ADD CONSTRAINT book_models_owner_id_fkey
				FOREIGN KEY (owner_id) REFERENCES user_models(id) ON DELETE CASCADE;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public' AND constraint_name = 'comment_models_book_id_fkey'
			) THEN
				ALTER TABLE comment_models
				ADD CONSTRAINT comment_models_book_id_fkey
				FOREIGN KEY (book_id) REFERENCES book_models(id) ON DELETE CASCADE;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public' AND constraint_name = 'comment_models_user_id_fkey'
			) THEN
				ALTER TABLE comment_models
				ADD CONSTRAINT comment_models_user_id_fkey
				FOREIGN KEY (user_id) REFERENCES user_models(id) ON DELETE SET NULL;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public' AND constraint_name = 'comment_models_parent_id_fkey'
			) THEN
				ALTER TABLE comment_models
				ADD CONSTRAINT comment_models_parent_id_fkey
				FOREIGN KEY (parent_id) REFERENCES comment_models(id) ON DELETE CASCADE;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public' AND constraint_name = 'favorite_book_models_user_id_fkey'
			) THEN
				ALTER TABLE favorite_book_models
				ADD CONSTRAINT favorite_book_models_user_id_fkey
				FOREIGN KEY (user_id) REFERENCES user_models(id) ON DELETE CASCADE;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public' AND constraint_name = 'favorite_book_models_book_id_fkey'
			) THEN
				ALTER TABLE favorite_book_models
				ADD CONSTRAINT favorite_book_models_book_id_fkey
				FOREIGN KEY (book_id) REFERENCES book_models(id) ON DELETE CASCADE;
			END IF;
			IF NOT EXISTS (
				SELECT 1 FROM information_schema.table_constraints
				WHERE table_schema = 'public' AND constraint_name = 'profile_picture_models_user_id_fkey'
			) THEN
				ALTER TABLE profile_picture_models
				ADD CONSTRAINT profile_picture_models_user_id_fkey
				FOREIGN KEY (user_id) REFERENCES user_models(id) ON DELETE CASCADE;
			END IF;
		END $$;
	`).Error; err != nil {
		return fmt.Errorf("ensure foreign keys: %w", err)
	}
	return nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// translate maps driver errors onto store sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return fmt.Errorf("%w: %s", ErrDuplicate, pgErr.ConstraintName)
	}
	return err
}

func requireAffected(res *gorm.DB) error {
	if res.Error != nil {
		return translate(res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrMissing
	}
	return nil
}

// CreateUser inserts a user; a taken username yields ErrDuplicate.
func (s *GormStore) CreateUser(ctx context.Context, u domain.User) error {
	model := userToModel(u)
	return translate(s.db.WithContext(ctx).Create(&model).Error)
}

// UpdateUser overwrites the mutable columns of a user.
func (s *GormStore) UpdateUser(ctx context.Context, u domain.User) error {
	res := s.db.WithContext(ctx).Model(&UserModel{}).
		Where("id = ?", u.ID).
		Updates(map[string]any{
			"username":      u.Username,
			"first_name":    u.FirstName,
			"last_name":     u.LastName,
			"email":         u.Email,
			"password_hash": u.PasswordHash,
			"is_staff":      u.IsStaff,
			"is_superuser":  u.IsSuperuser,
			"is_active":     u.IsActive,
			"last_login":    u.LastLogin,
		})
	return requireAffected(res)
}

// GetUser returns a user by ID.
func (s *GormStore) GetUser(ctx context.Context, id string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// GetUserByUsername looks up a user by username.
func (s *GormStore) GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.User{}, false, nil
		}
		return domain.User{}, false, err
	}
	return userFromModel(model), true, nil
}

// ListUsers returns all users ordered by date joined.
func (s *GormStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	var models []UserModel
	if err := s.db.WithContext(ctx).Order("date_joined ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.User, 0, len(models))
	for _, m := range models {
		res = append(res, userFromModel(m))
	}
	return res, nil
}

// DeleteUser scrubs authored comments and removes the user. Foreign keys
// cascade to books, favorites and the profile picture, and null comment authors.
func (s *GormStore) DeleteUser(ctx context.Context, id, placeholder string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&CommentModel{}).
			Where("user_id = ?", id).
			Updates(map[string]any{
				"content":    placeholder,
				"is_deleted": true,
				"updated_at": time.Now().UTC(),
			}).Error; err != nil {
			return fmt.Errorf("tombstone comments: %w", err)
		}
		return requireAffected(tx.Delete(&UserModel{}, "id = ?", id))
	})
}

// CreateBook inserts a book row.
func (s *GormStore) CreateBook(ctx context.Context, b domain.Book) error {
	model := bookToModel(b)
	return translate(s.db.WithContext(ctx).Create(&model).Error)
}

// UpdateBook overwrites metadata and file URLs; nil URLs clear the column.
func (s *GormStore) UpdateBook(ctx context.Context, b domain.Book) error {
	model := bookToModel(b)
	res := s.db.WithContext(ctx).Model(&BookModel{}).
		Where("id = ?", b.ID).
		Updates(map[string]any{
			"title":          model.Title,
			"description":    model.Description,
			"author":         model.Author,
			"genre":          model.Genre,
			"published_date": model.PublishedDate,
			"language":       model.Language,
			"content_url":    model.ContentURL,
			"cover_art_url":  model.CoverArtURL,
			"updated_at":     model.UpdatedAt,
		})
	return requireAffected(res)
}

// IncrementBookStat bumps a counter in place so concurrent readers never lose
// an increment.
func (s *GormStore) IncrementBookStat(ctx context.Context, id, stat string) error {
	if stat != StatViews && stat != StatDownloads {
		return fmt.Errorf("store: unknown book stat %q", stat)
	}
	res := s.db.WithContext(ctx).Model(&BookModel{}).
		Where("id = ?", id).
		UpdateColumn(stat, gorm.Expr(stat+" + ?", 1))
	return requireAffected(res)
}

// GetBook retrieves a book.
func (s *GormStore) GetBook(ctx context.Context, id string) (domain.Book, bool, error) {
	var model BookModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Book{}, false, nil
		}
		return domain.Book{}, false, err
	}
	return bookFromModel(model), true, nil
}

// DeleteBook removes a book; comments and favorites follow by cascade.
func (s *GormStore) DeleteBook(ctx context.Context, id string) error {
	return requireAffected(s.db.WithContext(ctx).Delete(&BookModel{}, "id = ?", id))
}

// ListBooksByOwner returns books filtered by owner.
func (s *GormStore) ListBooksByOwner(ctx context.Context, ownerID string) ([]domain.Book, error) {
	var models []BookModel
	if err := s.db.WithContext(ctx).Where("owner_id = ?", ownerID).Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	return booksFromModels(models), nil
}

// SearchBooks applies filters, counts matches and returns one window.
func (s *GormStore) SearchBooks(ctx context.Context, q BookQuery) ([]domain.Book, int, error) {
	filtered := func() *gorm.DB {
		tx := s.db.WithContext(ctx).Model(&BookModel{})
		if term := strings.TrimSpace(q.Search); term != "" {
			like := "%" + escapeLike(term) + "%"
			tx = tx.Where("title ILIKE ? OR author ILIKE ? OR description ILIKE ?", like, like, like)
		}
		if q.Genre != "" {
			tx = tx.Where("genre = ?", q.Genre)
		}
		if q.Language != "" {
			tx = tx.Where("language = ?", q.Language)
		}
		if q.Author != "" {
			tx = tx.Where("author = ?", q.Author)
		}
		if q.OwnerID != "" {
			tx = tx.Where("owner_id = ?", q.OwnerID)
		}
		return tx
	}

	var total int64
	if err := filtered().Count(&total).Error; err != nil {
		return nil, 0, err
	}

	tx := filtered()
	for _, sf := range q.Sort {
		col, ok := SortableBookFields[sf.Field]
		if !ok {
			continue
		}
		tx = tx.Order(clause.OrderByColumn{Column: clause.Column{Name: col}, Desc: sf.Descending})
	}
	tx = tx.Order("created_at DESC").Order("id ASC")
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}
	if q.Offset > 0 {
		tx = tx.Offset(q.Offset)
	}
	var models []BookModel
	if err := tx.Find(&models).Error; err != nil {
		return nil, 0, err
	}
	return booksFromModels(models), int(total), nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// CreateComment inserts a comment.
func (s *GormStore) CreateComment(ctx context.Context, c domain.Comment) error {
	model := commentToModel(c)
	return translate(s.db.WithContext(ctx).Create(&model).Error)
}

// UpdateComment persists content and flags.
func (s *GormStore) UpdateComment(ctx context.Context, c domain.Comment) error {
	res := s.db.WithContext(ctx).Model(&CommentModel{}).
		Where("id = ?", c.ID).
		Updates(map[string]any{
			"content":    c.Content,
			"is_edited":  c.IsEdited,
			"is_deleted": c.IsDeleted,
			"updated_at": c.UpdatedAt,
		})
	return requireAffected(res)
}

// GetComment retrieves a comment.
func (s *GormStore) GetComment(ctx context.Context, id string) (domain.Comment, bool, error) {
	var model CommentModel
	if err := s.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.Comment{}, false, nil
		}
		return domain.Comment{}, false, err
	}
	return commentFromModel(model), true, nil
}

// ListCommentsByBook returns every comment of a book in creation order.
func (s *GormStore) ListCommentsByBook(ctx context.Context, bookID string) ([]domain.Comment, error) {
	var models []CommentModel
	if err := s.db.WithContext(ctx).Where("book_id = ?", bookID).Order("created_at ASC").Order("id ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Comment, 0, len(models))
	for _, m := range models {
		res = append(res, commentFromModel(m))
	}
	return res, nil
}

// CreateFavorite inserts a favorite; an existing (user, book) pair yields ErrDuplicate.
func (s *GormStore) CreateFavorite(ctx context.Context, f domain.FavoriteBook) error {
	model := FavoriteBookModel{ID: f.ID, UserID: f.UserID, BookID: f.BookID, CreatedAt: f.CreatedAt}
	return translate(s.db.WithContext(ctx).Create(&model).Error)
}

// HasFavorite reports whether the pair exists.
func (s *GormStore) HasFavorite(ctx context.Context, userID, bookID string) (bool, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&FavoriteBookModel{}).
		Where("user_id = ? AND book_id = ?", userID, bookID).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// DeleteFavorite removes the pair and reports whether a row was removed.
func (s *GormStore) DeleteFavorite(ctx context.Context, userID, bookID string) (bool, error) {
	res := s.db.WithContext(ctx).Delete(&FavoriteBookModel{}, "user_id = ? AND book_id = ?", userID, bookID)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListFavoritesByUser returns favorites newest first.
func (s *GormStore) ListFavoritesByUser(ctx context.Context, userID string) ([]domain.FavoriteBook, error) {
	var models []FavoriteBookModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at DESC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.FavoriteBook, 0, len(models))
	for _, m := range models {
		res = append(res, domain.FavoriteBook{ID: m.ID, UserID: m.UserID, BookID: m.BookID, CreatedAt: m.CreatedAt})
	}
	return res, nil
}

// GetProfilePicture returns the picture row of a user.
func (s *GormStore) GetProfilePicture(ctx context.Context, userID string) (domain.ProfilePicture, bool, error) {
	var model ProfilePictureModel
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.ProfilePicture{}, false, nil
		}
		return domain.ProfilePicture{}, false, err
	}
	return domain.ProfilePicture{ID: model.ID, UserID: model.UserID, ImageURL: model.ImageURL, UpdatedAt: model.UpdatedAt}, true, nil
}

// SaveProfilePicture upserts the picture row keyed by user.
func (s *GormStore) SaveProfilePicture(ctx context.Context, p domain.ProfilePicture) error {
	model := ProfilePictureModel{ID: p.ID, UserID: p.UserID, ImageURL: p.ImageURL, UpdatedAt: p.UpdatedAt}
	return s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"image_url", "updated_at"}),
	}).Create(&model).Error
}

// DeleteProfilePicture removes the picture row of a user.
func (s *GormStore) DeleteProfilePicture(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).Delete(&ProfilePictureModel{}, "user_id = ?", userID).Error
}

func userToModel(u domain.User) UserModel {
	return UserModel{
		ID:           u.ID,
		Username:     u.Username,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		IsStaff:      u.IsStaff,
		IsSuperuser:  u.IsSuperuser,
		IsActive:     u.IsActive,
		DateJoined:   u.DateJoined,
		LastLogin:    u.LastLogin,
	}
}

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		Email:        m.Email,
		PasswordHash: m.PasswordHash,
		IsStaff:      m.IsStaff,
		IsSuperuser:  m.IsSuperuser,
		IsActive:     m.IsActive,
		DateJoined:   m.DateJoined,
		LastLogin:    m.LastLogin,
	}
}

func bookToModel(b domain.Book) BookModel {
	var published *datatypes.Date
	if b.PublishedDate != nil {
		d := datatypes.Date(*b.PublishedDate)
		published = &d
	}
	return BookModel{
		ID:            b.ID,
		OwnerID:       b.OwnerID,
		Title:         b.Title,
		Description:   b.Description,
		Author:        b.Author,
		Genre:         b.Genre,
		PublishedDate: published,
		Language:      b.Language,
		ContentURL:    b.ContentURL,
		CoverArtURL:   b.CoverArtURL,
		Downloads:     b.Downloads,
		Views:         b.Views,
		CreatedAt:     b.CreatedAt,
		UpdatedAt:     b.UpdatedAt,
	}
}

func bookFromModel(m BookModel) domain.Book {
	var published *time.Time
	if m.PublishedDate != nil {
		t := time.Time(*m.PublishedDate)
		published = &t
	}
	return domain.Book{
		ID:            m.ID,
		OwnerID:       m.OwnerID,
		Title:         m.Title,
		Description:   m.Description,
		Author:        m.Author,
		Genre:         m.Genre,
		PublishedDate: published,
		Language:      m.Language,
		ContentURL:    m.ContentURL,
		CoverArtURL:   m.CoverArtURL,
		Downloads:     m.Downloads,
		Views:         m.Views,
		CreatedAt:     m.CreatedAt,
		UpdatedAt:     m.UpdatedAt,
	}
}

func booksFromModels(models []BookModel) []domain.Book {
	res := make([]domain.Book, 0, len(models))
	for _, m := range models {
		res = append(res, bookFromModel(m))
	}
	return res
}

func commentToModel(c domain.Comment) CommentModel {
	return CommentModel{
		ID:        c.ID,
		BookID:    c.BookID,
		UserID:    c.UserID,
		ParentID:  c.ParentID,
		Content:   c.Content,
		IsEdited:  c.IsEdited,
		IsDeleted: c.IsDeleted,
		CreatedAt: c.CreatedAt,
		UpdatedAt: c.UpdatedAt,
	}
}

func commentFromModel(m CommentModel) domain.Comment {
	return domain.Comment{
		ID:        m.ID,
		BookID:    m.BookID,
		UserID:    m.UserID,
		ParentID:  m.ParentID,
		Content:   m.Content,
		IsEdited:  m.IsEdited,
		IsDeleted: m.IsDeleted,
		CreatedAt: m.CreatedAt,
		UpdatedAt: m.UpdatedAt,
	}
}
