package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ChaceN89/library/internal/util"
	"github.com/ChaceN89/library/pkg/access"
	"github.com/ChaceN89/library/pkg/blob"
	"github.com/ChaceN89/library/pkg/domain"
)

// UploadProfilePicture replaces userID's picture. The previous image is
// removed before the new one is stored; if the new upload then fails the row
// is left without an image rather than pointing at the deleted one.
func (a *App) UploadProfilePicture(ctx context.Context, caller domain.User, userID string, file FileUpload) (view ProfilePictureView, err error) {
	defer a.observe(domain.EntityProfilePicture, "upload", &err)
	if err := a.authorizePicture(ctx, caller, userID); err != nil {
		return ProfilePictureView{}, err
	}
	if len(file.Data) == 0 {
		return ProfilePictureView{}, invalid("image file is empty")
	}
	contentType := uploadContentType(domain.PrefixProfileImage, &file)
	if !strings.HasPrefix(contentType, "image/") {
		return ProfilePictureView{}, invalid("profile picture must be an image, got %s", contentType)
	}

	pic, ok, err := a.store.GetProfilePicture(ctx, userID)
	if err != nil {
		return ProfilePictureView{}, err
	}
	if !ok {
		pic = domain.ProfilePicture{ID: util.NewID(), UserID: userID}
	}
	if err := a.deleteBlob(ctx, pic.ImageURL); err != nil {
		return ProfilePictureView{}, fmt.Errorf("delete previous picture: %w", err)
	}
	hadImage := pic.ImageURL != nil
	pic.ImageURL = nil

	key := blob.DeriveKey(userID, domain.PrefixProfileImage, blob.NewToken(), file.Filename)
	url, putErr := a.blobs.Put(ctx, file.Data, key, contentType)
	if putErr != nil {
		if hadImage {
			pic.UpdatedAt = a.now()
			if err := a.store.SaveProfilePicture(ctx, pic); err != nil {
				util.LoggerFromContext(ctx).Error("picture_url_clear_failed", slog.String("user_id", userID), slog.String("err", err.Error()))
			}
		}
		return ProfilePictureView{}, fmt.Errorf("upload picture: %w", putErr)
	}

	pic.ImageURL = &url
	pic.UpdatedAt = a.now()
	if err := a.store.SaveProfilePicture(ctx, pic); err != nil {
		a.discard(ctx, "picture save failed", url)
		return ProfilePictureView{}, fmt.Errorf("save picture: %w", err)
	}
	return ProfilePictureView{UserID: userID, ImageURL: url}, nil
}

// DeleteProfilePicture removes the image blob and then the row.
func (a *App) DeleteProfilePicture(ctx context.Context, caller domain.User, userID string) (err error) {
	defer a.observe(domain.EntityProfilePicture, "delete", &err)
	if err := a.authorizePicture(ctx, caller, userID); err != nil {
		return err
	}
	pic, ok, err := a.store.GetProfilePicture(ctx, userID)
	if err != nil {
		return err
	}
	if !ok {
		return notFound(domain.EntityProfilePicture, userID)
	}
	if err := a.deleteBlob(ctx, pic.ImageURL); err != nil {
		return fmt.Errorf("delete picture blob: %w", err)
	}
	if err := a.store.DeleteProfilePicture(ctx, userID); err != nil {
		return fmt.Errorf("delete picture: %w", err)
	}
	return nil
}

// GetProfilePicture returns the stored image, or the default avatar.
func (a *App) GetProfilePicture(ctx context.Context, caller domain.User, userID string) (ProfilePictureView, error) {
	if err := a.authorizePicture(ctx, caller, userID); err != nil {
		return ProfilePictureView{}, err
	}
	pic, ok, err := a.store.GetProfilePicture(ctx, userID)
	if err != nil {
		return ProfilePictureView{}, err
	}
	if !ok || pic.ImageURL == nil {
		return ProfilePictureView{UserID: userID, ImageURL: a.defaultAvatar, IsDefault: true}, nil
	}
	return ProfilePictureView{UserID: userID, ImageURL: *pic.ImageURL}, nil
}

func (a *App) authorizePicture(ctx context.Context, caller domain.User, userID string) error {
	if err := requireCaller(caller); err != nil {
		return err
	}
	if _, err := a.getUser(ctx, userID); err != nil {
		return err
	}
	if err := access.AuthorizeProfilePicture(caller, userID); err != nil {
		return denied(domain.EntityProfilePicture, err)
	}
	return nil
}
