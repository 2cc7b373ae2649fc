package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ChaceN89/library/internal/util"
	"github.com/ChaceN89/library/pkg/access"
	"github.com/ChaceN89/library/pkg/blob"
	"github.com/ChaceN89/library/pkg/domain"
)

// FileUpload is one file received with a request.
type FileUpload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// BookInput creates a book. Content and cover art are optional.
type BookInput struct {
	Title         string
	Description   string
	Author        string
	Genre         string
	Language      string
	PublishedDate *time.Time
	Content       *FileUpload
	CoverArt      *FileUpload
}

// BookPatch updates a book. Nil fields are left unchanged.
type BookPatch struct {
	Title         *string
	Description   *string
	Author        *string
	Genre         *string
	Language      *string
	PublishedDate *time.Time
	Content       *FileUpload
	CoverArt      *FileUpload
}

// CreateBook uploads the book's files under one fresh token and then stores
// the row owned by caller. Nothing is persisted when an upload fails.
func (a *App) CreateBook(ctx context.Context, caller domain.User, in BookInput) (view OwnerBookView, err error) {
	defer a.observe(domain.EntityBook, "create", &err)
	if err := requireCaller(caller); err != nil {
		return OwnerBookView{}, err
	}
	title := singleLine(in.Title)
	if title == "" {
		return OwnerBookView{}, invalid("title is required")
	}
	if err := validateBookFiles(in.Content, in.CoverArt); err != nil {
		return OwnerBookView{}, err
	}

	now := a.now()
	book := domain.Book{
		ID:            util.NewID(),
		OwnerID:       caller.ID,
		Title:         title,
		Description:   plainText(in.Description),
		Author:        singleLine(in.Author),
		Genre:         singleLine(in.Genre),
		Language:      singleLine(in.Language),
		PublishedDate: in.PublishedDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	token := blob.NewToken()
	var uploads []*upload
	if in.Content != nil {
		uploads = append(uploads, &upload{
			prefix: domain.PrefixContent,
			file:   in.Content,
			key:    blob.DeriveKey(caller.ID, domain.PrefixContent, token, in.Content.Filename),
		})
	}
	if in.CoverArt != nil {
		uploads = append(uploads, &upload{
			prefix: domain.PrefixCoverArt,
			file:   in.CoverArt,
			key:    blob.DeriveKey(caller.ID, domain.PrefixCoverArt, token, in.CoverArt.Filename),
		})
	}
	if err := a.putAll(ctx, uploads); err != nil {
		return OwnerBookView{}, err
	}
	for _, u := range uploads {
		setBookURL(&book, u.prefix, u.url)
	}

	if err := a.store.CreateBook(ctx, book); err != nil {
		a.discard(ctx, "book create failed", freshURLs(uploads)...)
		return OwnerBookView{}, fmt.Errorf("save book: %w", err)
	}
	util.LoggerFromContext(ctx).Info("book_created", slog.String("book_id", book.ID), slog.String("owner_id", book.OwnerID))
	return ownerBookView(book), nil
}

// UpdateBook patches metadata and replaces files. A replacement keeps the
// book's upload token: the same filename overwrites the stored object in
// place, a different filename lands on a new key and the old object is
// removed once the row points at the new one.
func (a *App) UpdateBook(ctx context.Context, caller domain.User, id string, patch BookPatch) (view OwnerBookView, err error) {
	defer a.observe(domain.EntityBook, "update", &err)
	if err := requireCaller(caller); err != nil {
		return OwnerBookView{}, err
	}
	book, err := a.getBook(ctx, id)
	if err != nil {
		return OwnerBookView{}, err
	}
	if err := access.AuthorizeBook(caller, book); err != nil {
		return OwnerBookView{}, denied(domain.EntityBook, err)
	}

	updated := book
	if patch.Title != nil {
		title := singleLine(*patch.Title)
		if title == "" {
			return OwnerBookView{}, invalid("title cannot be empty")
		}
		updated.Title = title
	}
	if patch.Description != nil {
		updated.Description = plainText(*patch.Description)
	}
	if patch.Author != nil {
		updated.Author = singleLine(*patch.Author)
	}
	if patch.Genre != nil {
		updated.Genre = singleLine(*patch.Genre)
	}
	if patch.Language != nil {
		updated.Language = singleLine(*patch.Language)
	}
	if patch.PublishedDate != nil {
		updated.PublishedDate = patch.PublishedDate
	}
	if err := validateBookFiles(patch.Content, patch.CoverArt); err != nil {
		return OwnerBookView{}, err
	}

	token := a.bookToken(book)
	var uploads []*upload
	for _, f := range []struct {
		prefix string
		file   *FileUpload
		old    *string
	}{
		{domain.PrefixContent, patch.Content, book.ContentURL},
		{domain.PrefixCoverArt, patch.CoverArt, book.CoverArtURL},
	} {
		if f.file == nil {
			continue
		}
		u := &upload{
			prefix: f.prefix,
			file:   f.file,
			key:    blob.DeriveKey(book.OwnerID, f.prefix, token, f.file.Filename),
			old:    domain.Deref(f.old),
		}
		if u.old != "" {
			if oldKey, err := a.naming.Key(u.old); err == nil && oldKey == u.key {
				u.inPlace = true
			}
		}
		uploads = append(uploads, u)
	}
	if err := a.putAll(ctx, uploads); err != nil {
		return OwnerBookView{}, err
	}
	for _, u := range uploads {
		setBookURL(&updated, u.prefix, u.url)
	}
	updated.UpdatedAt = a.now()

	if err := a.store.UpdateBook(ctx, updated); err != nil {
		a.discard(ctx, "book update failed", freshURLs(uploads)...)
		return OwnerBookView{}, fmt.Errorf("save book: %w", err)
	}
	for _, u := range uploads {
		if u.inPlace || u.old == "" || u.old == u.url {
			continue
		}
		if err := a.blobs.DeleteByURL(ctx, u.old); err != nil {
			a.orphan(ctx, u.old, "replaced by book update", err)
		}
	}
	return ownerBookView(updated), nil
}

// DeleteBook removes the book's blobs and then its row. A blob that cannot be
// removed aborts the delete and the row stays.
func (a *App) DeleteBook(ctx context.Context, caller domain.User, id string) (err error) {
	defer a.observe(domain.EntityBook, "delete", &err)
	if err := requireCaller(caller); err != nil {
		return err
	}
	book, err := a.getBook(ctx, id)
	if err != nil {
		return err
	}
	if err := access.AuthorizeBook(caller, book); err != nil {
		return denied(domain.EntityBook, err)
	}
	if _, err := a.releaseBookBlobs(ctx, &book, domain.PolicyFor(domain.EntityBook).Cleanup); err != nil {
		return err
	}
	if err := a.store.DeleteBook(ctx, book.ID); err != nil {
		return fmt.Errorf("delete book: %w", err)
	}
	util.LoggerFromContext(ctx).Info("book_deleted", slog.String("book_id", book.ID))
	return nil
}

// ListMyBooks returns the caller's own books.
func (a *App) ListMyBooks(ctx context.Context, caller domain.User) ([]OwnerBookView, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	books, err := a.store.ListBooksByOwner(ctx, caller.ID)
	if err != nil {
		return nil, err
	}
	out := make([]OwnerBookView, 0, len(books))
	for _, b := range books {
		out = append(out, ownerBookView(b))
	}
	return out, nil
}

// releaseBookBlobs deletes the content and cover blobs of book ahead of its
// row. With CleanupStrict the first failure is returned; the row is updated
// first when the content blob was already gone. With CleanupBestEffort every
// failure is collected and handed to the orphan queue.
func (a *App) releaseBookBlobs(ctx context.Context, book *domain.Book, mode domain.BlobCleanup) ([]CleanupFailure, error) {
	var failures []CleanupFailure
	cleared := false
	for _, prefix := range []string{domain.PrefixContent, domain.PrefixCoverArt} {
		url := bookURL(*book, prefix)
		if url == "" {
			continue
		}
		err := a.blobs.DeleteByURL(ctx, url)
		if err == nil {
			setBookURL(book, prefix, "")
			cleared = true
			continue
		}
		if mode == domain.CleanupStrict {
			if cleared {
				book.UpdatedAt = a.now()
				if uerr := a.store.UpdateBook(ctx, *book); uerr != nil {
					util.LoggerFromContext(ctx).Error("book_url_clear_failed", slog.String("book_id", book.ID), slog.String("err", uerr.Error()))
				}
			}
			return nil, fmt.Errorf("delete %s blob: %w", prefix, err)
		}
		failures = append(failures, CleanupFailure{Entity: domain.EntityBook, EntityID: book.ID, URL: url, Error: err.Error()})
		a.orphan(ctx, url, "book "+book.ID+" "+prefix, err)
	}
	return failures, nil
}

// bookToken returns the upload token the book's stored keys share, or a fresh
// one when none of them can be parsed.
func (a *App) bookToken(book domain.Book) string {
	for _, url := range []*string{book.ContentURL, book.CoverArtURL} {
		if url == nil {
			continue
		}
		key, err := a.naming.Key(*url)
		if err != nil {
			continue
		}
		if parts, err := blob.ParseKey(key); err == nil && parts.OwnerID == book.OwnerID {
			return parts.Token
		}
	}
	return blob.NewToken()
}

type upload struct {
	prefix string
	file   *FileUpload
	key    string
	// old is the URL the row pointed at before this upload.
	old string
	// inPlace marks an upload that overwrites the object at old.
	inPlace bool
	url     string
}

// putAll uploads concurrently. On failure every object this call created is
// removed again; in-place overwrites cannot be undone and are left.
func (a *App) putAll(ctx context.Context, uploads []*upload) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, u := range uploads {
		g.Go(func() error {
			url, err := a.blobs.Put(gctx, u.file.Data, u.key, uploadContentType(u.prefix, u.file))
			if err != nil {
				return fmt.Errorf("upload %s: %w", u.prefix, err)
			}
			u.url = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		a.discard(ctx, "aborted upload", freshURLs(uploads)...)
		return err
	}
	return nil
}

// freshURLs lists the objects created by finished uploads.
func freshURLs(uploads []*upload) []string {
	var out []string
	for _, u := range uploads {
		if u.url == "" || u.inPlace {
			continue
		}
		out = append(out, u.url)
	}
	return out
}

func validateBookFiles(content, cover *FileUpload) error {
	if content != nil && len(content.Data) == 0 {
		return invalid("content file is empty")
	}
	if cover != nil {
		if len(cover.Data) == 0 {
			return invalid("cover art file is empty")
		}
		if !strings.HasPrefix(uploadContentType(domain.PrefixCoverArt, cover), "image/") {
			return invalid("cover art must be an image")
		}
	}
	return nil
}

func uploadContentType(prefix string, f *FileUpload) string {
	ct := strings.TrimSpace(f.ContentType)
	if ct == "" || ct == "application/octet-stream" {
		return blob.ContentTypeFor(prefix, f.Filename)
	}
	return ct
}

func bookURL(b domain.Book, prefix string) string {
	if prefix == domain.PrefixCoverArt {
		return domain.Deref(b.CoverArtURL)
	}
	return domain.Deref(b.ContentURL)
}

func setBookURL(b *domain.Book, prefix, url string) {
	if prefix == domain.PrefixCoverArt {
		b.CoverArtURL = domain.StringPtr(url)
		return
	}
	b.ContentURL = domain.StringPtr(url)
}

func singleLine(s string) string {
	return strings.Join(strings.Fields(plainText(s)), " ")
}
