package app

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ChaceN89/library/pkg/domain"
)

func TestUploadProfilePictureReplacesPrevious(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice")
	ctx := context.Background()

	first, err := f.app.UploadProfilePicture(ctx, alice, alice.ID, *imageFile("me.png"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if !strings.HasPrefix(first.ImageURL, testBaseURL+"/profilePictures/"+alice.ID+"_profile_image_") || first.IsDefault {
		t.Fatalf("unexpected picture: %+v", first)
	}
	second, err := f.app.UploadProfilePicture(ctx, alice, alice.ID, *imageFile("me.png"))
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}
	if second.ImageURL == first.ImageURL {
		t.Fatalf("each upload gets a fresh key")
	}
	if f.blobs.HasURL(first.ImageURL) || !f.blobs.HasURL(second.ImageURL) || f.blobs.Len() != 1 {
		t.Fatalf("only the newest image should remain")
	}
	got, err := f.app.GetProfilePicture(ctx, alice, alice.ID)
	if err != nil || got.ImageURL != second.ImageURL {
		t.Fatalf("get picture = %+v err=%v", got, err)
	}
}

func TestUploadProfilePictureValidation(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	ctx := context.Background()

	if _, err := f.app.UploadProfilePicture(ctx, alice, alice.ID, *textFile("me.txt", "hi")); !errors.Is(err, ErrValidation) {
		t.Fatalf("expected validation error for non-image, got %v", err)
	}
	if _, err := f.app.UploadProfilePicture(ctx, bob, alice.ID, *imageFile("me.png")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("someone else's picture must look missing, got %v", err)
	}
	if _, err := f.app.UploadProfilePicture(ctx, alice, "missing", *imageFile("me.png")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	untyped := FileUpload{Filename: "me.jpg", Data: []byte("jpg")}
	if _, err := f.app.UploadProfilePicture(ctx, alice, alice.ID, untyped); err != nil {
		t.Fatalf("type should be inferred from the extension: %v", err)
	}
}

func TestUploadProfilePictureFailedPutClearsURL(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice")
	ctx := context.Background()
	first, err := f.app.UploadProfilePicture(ctx, alice, alice.ID, *imageFile("old.png"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	f.blobs.FailPutsMatching("_new.png")

	if _, err := f.app.UploadProfilePicture(ctx, alice, alice.ID, *imageFile("new.png")); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	if f.blobs.HasURL(first.ImageURL) {
		t.Fatalf("old image is removed before the upload")
	}
	pic, ok, _ := f.store.GetProfilePicture(ctx, alice.ID)
	if !ok || pic.ImageURL != nil {
		t.Fatalf("row must not point at the deleted image: %+v", pic)
	}
	got, err := f.app.GetProfilePicture(ctx, alice, alice.ID)
	if err != nil || !got.IsDefault || !strings.HasSuffix(got.ImageURL, "default.png") {
		t.Fatalf("expected default avatar, got %+v err=%v", got, err)
	}
}

func TestUploadProfilePictureKeepsRowWhenOldDeleteFails(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice")
	ctx := context.Background()
	first, _ := f.app.UploadProfilePicture(ctx, alice, alice.ID, *imageFile("old.png"))
	f.blobs.FailDeletesMatching("_old.png")

	if _, err := f.app.UploadProfilePicture(ctx, alice, alice.ID, *imageFile("new.png")); !errors.Is(err, ErrStorage) {
		t.Fatalf("expected storage failure, got %v", err)
	}
	pic, _, _ := f.store.GetProfilePicture(ctx, alice.ID)
	if domain.Deref(pic.ImageURL) != first.ImageURL || f.blobs.Len() != 1 {
		t.Fatalf("nothing should change: %+v", pic)
	}
}

func TestDeleteProfilePicture(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice")
	ctx := context.Background()
	if _, err := f.app.UploadProfilePicture(ctx, alice, alice.ID, *imageFile("me.png")); err != nil {
		t.Fatalf("upload: %v", err)
	}

	if err := f.app.DeleteProfilePicture(ctx, alice, alice.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if f.blobs.Len() != 0 {
		t.Fatalf("blob must be deleted")
	}
	if err := f.app.DeleteProfilePicture(ctx, alice, alice.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}
