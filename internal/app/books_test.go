package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ChaceN89/library/pkg/domain"
	"github.com/ChaceN89/library/pkg/store"
)

type failingBookStore struct {
	store.Store
	createErr error
	updateErr error
}

func (s *failingBookStore) CreateBook(ctx context.Context, b domain.Book) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.Store.CreateBook(ctx, b)
}

func (s *failingBookStore) UpdateBook(ctx context.Context, b domain.Book) error {
	if s.updateErr != nil {
		return s.updateErr
	}
	return s.Store.UpdateBook(ctx, b)
}

func TestCreateBookDerivesKeysFromOneToken(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "alice")

	view := f.book(t, owner, "  Dune  ", textFile("My Book.txt", "spice"), imageFile("cover art.png"))

	wantContent := testBaseURL + "/books/" + owner.ID + "_content_"
	if !strings.HasPrefix(view.ContentURL, wantContent) || !strings.HasSuffix(view.ContentURL, "_MyBook.txt") {
		t.Fatalf("unexpected content url %s", view.ContentURL)
	}
	wantCover := testBaseURL + "/bookArt/" + owner.ID + "_cover_art_"
	if !strings.HasPrefix(view.CoverArtURL, wantCover) || !strings.HasSuffix(view.CoverArtURL, "_coverart.png") {
		t.Fatalf("unexpected cover url %s", view.CoverArtURL)
	}
	content, cover := f.keyOf(t, view.ContentURL), f.keyOf(t, view.CoverArtURL)
	if content.Token != cover.Token || content.Token == "" {
		t.Fatalf("content and cover must share one token: %q vs %q", content.Token, cover.Token)
	}
	if !f.blobs.HasURL(view.ContentURL) || !f.blobs.HasURL(view.CoverArtURL) {
		t.Fatalf("both blobs should be stored")
	}
	stored := f.storedBook(t, view.ID)
	if stored.Title != "Dune" || stored.OwnerID != owner.ID || domain.Deref(stored.ContentURL) != view.ContentURL {
		t.Fatalf("unexpected stored book: %+v", stored)
	}

	again := f.book(t, owner, "Dune", textFile("My Book.txt", "spice"), nil)
	if f.keyOf(t, again.ContentURL).Token == content.Token {
		t.Fatalf("each create must use a fresh token")
	}
}

func TestCreateBookValidatesInput(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "alice")
	ctx := context.Background()

	if _, err := f.app.CreateBook(ctx, owner, BookInput{Title: "<b></b>", Content: textFile("a.txt", "x")}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty title, got %v", err)
	}
	if _, err := f.app.CreateBook(ctx, owner, BookInput{Title: "Dune", CoverArt: textFile("notes.txt", "x")}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for non-image cover, got %v", err)
	}
	if _, err := f.app.CreateBook(ctx, owner, BookInput{Title: "Dune", Content: textFile("a.txt", "")}); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for empty content, got %v", err)
	}
	if _, err := f.app.CreateBook(ctx, domain.User{}, BookInput{Title: "Dune"}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if f.blobs.Len() != 0 {
		t.Fatalf("rejected input must not upload anything")
	}
}

func TestCreateBookWithoutFiles(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "alice")
	view := f.book(t, owner, "Notes", nil, nil)
	if view.ContentURL != "" || view.CoverArtURL != "" {
		t.Fatalf("book without files should have no urls: %+v", view)
	}
}

func TestCreateBookCompensatesFailedUpload(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "alice")
	f.blobs.FailPutsMatching("bookArt/")

	_, err := f.app.CreateBook(context.Background(), owner, BookInput{
		Title:    "Dune",
		Content:  textFile("dune.txt", "spice"),
		CoverArt: imageFile("dune.png"),
	})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if f.blobs.Len() != 0 {
		t.Fatalf("uploaded content must be removed again, %d blobs left", f.blobs.Len())
	}
	books, _ := f.store.ListBooksByOwner(context.Background(), owner.ID)
	if len(books) != 0 {
		t.Fatalf("no row may be persisted, got %d", len(books))
	}
}

func TestCreateBookCompensatesFailedSave(t *testing.T) {
	saveErr := errors.New("db down")
	f := newFixtureWithStore(t, func(s store.Store) store.Store {
		return &failingBookStore{Store: s, createErr: saveErr}
	})
	owner := f.user(t, "alice")

	_, err := f.app.CreateBook(context.Background(), owner, BookInput{
		Title:    "Dune",
		Content:  textFile("dune.txt", "spice"),
		CoverArt: imageFile("dune.png"),
	})
	if !errors.Is(err, saveErr) {
		t.Fatalf("expected save error, got %v", err)
	}
	if f.blobs.Len() != 0 {
		t.Fatalf("blobs of a failed save must be removed, %d left", f.blobs.Len())
	}
}

func TestUpdateBookSameFilenameOverwritesInPlace(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "alice")
	created := f.book(t, owner, "Dune", textFile("dune.txt", "v1"), nil)

	updated, err := f.app.UpdateBook(context.Background(), owner, created.ID, BookPatch{Content: textFile("dune.txt", "v2")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ContentURL != created.ContentURL {
		t.Fatalf("same filename must keep the url: %s vs %s", updated.ContentURL, created.ContentURL)
	}
	key, _ := f.naming.Key(updated.ContentURL)
	obj, ok := f.blobs.Get(key)
	if !ok || string(obj.Data) != "v2" {
		t.Fatalf("object should be overwritten, got %q ok=%v", obj.Data, ok)
	}
	if f.blobs.Len() != 1 {
		t.Fatalf("expected a single blob, got %d", f.blobs.Len())
	}
}

func TestUpdateBookNewFilenameReplacesKey(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "alice")
	created := f.book(t, owner, "Dune", textFile("dune.txt", "v1"), imageFile("a.png"))

	title := "Dune Messiah"
	updated, err := f.app.UpdateBook(context.Background(), owner, created.ID, BookPatch{
		Title:   &title,
		Content: textFile("messiah.txt", "v2"),
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.ContentURL == created.ContentURL || !strings.HasSuffix(updated.ContentURL, "_messiah.txt") {
		t.Fatalf("new filename must produce a new key, got %s", updated.ContentURL)
	}
	if f.keyOf(t, updated.ContentURL).Token != f.keyOf(t, created.ContentURL).Token {
		t.Fatalf("replacement must reuse the book's token")
	}
	if f.blobs.HasURL(created.ContentURL) {
		t.Fatalf("old content blob should be deleted")
	}
	if !f.blobs.HasURL(updated.ContentURL) || !f.blobs.HasURL(created.CoverArtURL) {
		t.Fatalf("new content and untouched cover must exist")
	}
	if updated.Title != title || updated.CoverArtURL != created.CoverArtURL {
		t.Fatalf("unexpected update result: %+v", updated)
	}
}

func TestUpdateBookAddsCoverWithExistingToken(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "alice")
	created := f.book(t, owner, "Dune", textFile("dune.txt", "v1"), nil)

	updated, err := f.app.UpdateBook(context.Background(), owner, created.ID, BookPatch{CoverArt: imageFile("cover.png")})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if f.keyOf(t, updated.CoverArtURL).Token != f.keyOf(t, created.ContentURL).Token {
		t.Fatalf("first cover upload should reuse the content token")
	}
}

func TestUpdateBookQueuesUndeletableOldBlob(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "alice")
	created := f.book(t, owner, "Dune", textFile("dune.txt", "v1"), nil)
	f.blobs.FailDeletesMatching("_dune.txt")

	updated, err := f.app.UpdateBook(context.Background(), owner, created.ID, BookPatch{Content: textFile("new.txt", "v2")})
	if err != nil {
		t.Fatalf("a failed old-blob delete must not fail the update: %v", err)
	}
	if f.storedBook(t, created.ID).ContentURL == nil || updated.ContentURL == created.ContentURL {
		t.Fatalf("row should point at the new blob")
	}
	if got := f.orphans.urls(); len(got) != 1 || got[0] != created.ContentURL {
		t.Fatalf("old blob should be queued as orphan, got %v", got)
	}
}

func TestUpdateBookPutFailureLeavesRowUnchanged(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "alice")
	created := f.book(t, owner, "Dune", textFile("dune.txt", "v1"), imageFile("a.png"))
	f.blobs.FailPutsMatching("_b.png")

	title := "changed"
	_, err := f.app.UpdateBook(context.Background(), owner, created.ID, BookPatch{
		Title:    &title,
		Content:  textFile("other.txt", "v2"),
		CoverArt: imageFile("b.png"),
	})
	if !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	stored := f.storedBook(t, created.ID)
	if stored.Title != "Dune" || domain.Deref(stored.ContentURL) != created.ContentURL || domain.Deref(stored.CoverArtURL) != created.CoverArtURL {
		t.Fatalf("row must be unchanged: %+v", stored)
	}
	if f.blobs.Len() != 2 || !f.blobs.HasURL(created.ContentURL) || !f.blobs.HasURL(created.CoverArtURL) {
		t.Fatalf("only the original blobs should remain, got %d", f.blobs.Len())
	}
}

func TestUpdateBookSaveFailureDiscardsNewBlobs(t *testing.T) {
	wrapped := &failingBookStore{}
	f := newFixtureWithStore(t, func(s store.Store) store.Store {
		wrapped.Store = s
		return wrapped
	})
	owner := f.user(t, "alice")
	created := f.book(t, owner, "Dune", textFile("dune.txt", "v1"), nil)
	wrapped.updateErr = errors.New("db down")

	if _, err := f.app.UpdateBook(context.Background(), owner, created.ID, BookPatch{Content: textFile("new.txt", "v2")}); err == nil {
		t.Fatalf("expected update to fail")
	}
	if f.blobs.Len() != 1 || !f.blobs.HasURL(created.ContentURL) {
		t.Fatalf("new blob must be discarded and the old one kept")
	}
}

func TestUpdateBookChecksExistenceThenOwner(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "alice")
	other := f.user(t, "bob")
	admin := f.user(t, "root", superuser)
	created := f.book(t, owner, "Dune", textFile("dune.txt", "v1"), nil)
	title := "stolen"

	if _, err := f.app.UpdateBook(context.Background(), other, "missing", BookPatch{Title: &title}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.app.UpdateBook(context.Background(), other, created.ID, BookPatch{Title: &title}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.app.UpdateBook(context.Background(), admin, created.ID, BookPatch{Title: &title}); !errors.Is(err, ErrForbidden) {
		t.Fatalf("books are owner-only even for admins, got %v", err)
	}
	if err := f.app.DeleteBook(context.Background(), other, created.ID); !errors.Is(err, ErrForbidden) {
		t.Fatalf("expected forbidden delete, got %v", err)
	}
	if f.storedBook(t, created.ID).Title != "Dune" {
		t.Fatalf("denied update must not change the row")
	}
}

func TestDeleteBookRemovesBlobsAndRow(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "alice")
	created := f.book(t, owner, "Dune", textFile("dune.txt", "v1"), imageFile("a.png"))

	if err := f.app.DeleteBook(context.Background(), owner, created.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if f.blobs.Len() != 0 {
		t.Fatalf("both blobs must be deleted, %d left", f.blobs.Len())
	}
	if _, ok, _ := f.store.GetBook(context.Background(), created.ID); ok {
		t.Fatalf("row must be deleted")
	}
	if err := f.app.DeleteBook(context.Background(), owner, created.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second delete should be not found, got %v", err)
	}
}

func TestDeleteBookKeepsEverythingWhenContentDeleteFails(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "alice")
	created := f.book(t, owner, "Dune", textFile("dune.txt", "v1"), imageFile("a.png"))
	f.blobs.FailDeletesMatching("books/")

	if err := f.app.DeleteBook(context.Background(), owner, created.ID); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	stored := f.storedBook(t, created.ID)
	if stored.ContentURL == nil || stored.CoverArtURL == nil {
		t.Fatalf("row must keep both urls: %+v", stored)
	}
	if f.blobs.Len() != 2 {
		t.Fatalf("no blob may be deleted, %d left", f.blobs.Len())
	}
}

func TestDeleteBookClearsContentURLWhenCoverDeleteFails(t *testing.T) {
	f := newFixture(t)
	owner := f.user(t, "alice")
	created := f.book(t, owner, "Dune", textFile("dune.txt", "v1"), imageFile("a.png"))
	f.blobs.FailDeletesMatching("bookArt/")

	if err := f.app.DeleteBook(context.Background(), owner, created.ID); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	stored := f.storedBook(t, created.ID)
	if stored.ContentURL != nil || domain.Deref(stored.CoverArtURL) != created.CoverArtURL {
		t.Fatalf("content url must be cleared and cover kept: %+v", stored)
	}
	if f.blobs.HasURL(created.ContentURL) || !f.blobs.HasURL(created.CoverArtURL) {
		t.Fatalf("content blob should be gone and cover kept")
	}

	f.blobs.ClearFailures()
	if err := f.app.DeleteBook(context.Background(), owner, created.ID); err != nil {
		t.Fatalf("retry delete: %v", err)
	}
	if f.blobs.Len() != 0 {
		t.Fatalf("retry should remove the cover")
	}
}

func TestListMyBooks(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	f.book(t, alice, "Dune", nil, nil)
	f.book(t, bob, "Emma", nil, nil)

	got, err := f.app.ListMyBooks(context.Background(), alice)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].Title != "Dune" {
		t.Fatalf("unexpected books: %+v", got)
	}
}
