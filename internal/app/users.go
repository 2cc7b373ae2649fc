package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"unicode"

	"github.com/ChaceN89/library/internal/util"
	"github.com/ChaceN89/library/pkg/access"
	"github.com/ChaceN89/library/pkg/domain"
	"github.com/ChaceN89/library/pkg/store"
)

const maxUsernameLength = 150

// UserPatch updates a user. Nil fields are left unchanged; the flag fields
// require a superuser caller.
type UserPatch struct {
	Username    *string
	FirstName   *string
	LastName    *string
	Email       *string
	IsStaff     *bool
	IsSuperuser *bool
	IsActive    *bool
}

func (p UserPatch) fields() []string {
	var out []string
	add := func(set bool, name string) {
		if set {
			out = append(out, name)
		}
	}
	add(p.Username != nil, "username")
	add(p.FirstName != nil, "first_name")
	add(p.LastName != nil, "last_name")
	add(p.Email != nil, "email")
	add(p.IsStaff != nil, "is_staff")
	add(p.IsSuperuser != nil, "is_superuser")
	add(p.IsActive != nil, "is_active")
	return out
}

// GetUser returns a user record to the user themselves or to an admin.
func (a *App) GetUser(ctx context.Context, caller domain.User, id string) (UserView, error) {
	if err := requireCaller(caller); err != nil {
		return UserView{}, err
	}
	target, err := a.getUser(ctx, id)
	if err != nil {
		return UserView{}, err
	}
	if err := access.AuthorizeUser(caller, access.ActionRead, target, nil); err != nil {
		return UserView{}, deniedUser(caller, target, err)
	}
	return userView(target, caller), nil
}

// ListUsers returns every user. Admin only.
func (a *App) ListUsers(ctx context.Context, caller domain.User) ([]UserView, error) {
	if err := requireCaller(caller); err != nil {
		return nil, err
	}
	if err := access.RequireAdmin(caller); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	users, err := a.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]UserView, 0, len(users))
	for _, u := range users {
		out = append(out, userView(u, caller))
	}
	return out, nil
}

// UpdateUser applies patch to user id.
func (a *App) UpdateUser(ctx context.Context, caller domain.User, id string, patch UserPatch) (view UserView, err error) {
	defer a.observe(domain.EntityUser, "update", &err)
	if err := requireCaller(caller); err != nil {
		return UserView{}, err
	}
	target, err := a.getUser(ctx, id)
	if err != nil {
		return UserView{}, err
	}
	if err := access.AuthorizeUser(caller, access.ActionUpdate, target, patch.fields()); err != nil {
		return UserView{}, deniedUser(caller, target, err)
	}

	updated := target
	if patch.Username != nil {
		username, err := normalizeUsername(*patch.Username)
		if err != nil {
			return UserView{}, err
		}
		updated.Username = username
	}
	if patch.FirstName != nil {
		updated.FirstName = singleLine(*patch.FirstName)
	}
	if patch.LastName != nil {
		updated.LastName = singleLine(*patch.LastName)
	}
	if patch.Email != nil {
		email, err := normalizeEmail(*patch.Email)
		if err != nil {
			return UserView{}, err
		}
		updated.Email = email
	}
	if patch.IsStaff != nil {
		updated.IsStaff = *patch.IsStaff
	}
	if patch.IsSuperuser != nil {
		updated.IsSuperuser = *patch.IsSuperuser
	}
	if patch.IsActive != nil {
		updated.IsActive = *patch.IsActive
	}

	if err := a.store.UpdateUser(ctx, updated); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return UserView{}, fmt.Errorf("%w: username %q is taken", ErrConflict, updated.Username)
		}
		return UserView{}, fmt.Errorf("save user: %w", err)
	}
	if target.IsActive && !updated.IsActive {
		if err := a.sessions.RevokeUser(ctx, updated.ID); err != nil {
			util.LoggerFromContext(ctx).Warn("session_revoke_failed", slog.String("user_id", updated.ID), slog.String("err", err.Error()))
		}
	}
	if caller.ID == updated.ID {
		caller = updated
	}
	return userView(updated, caller), nil
}

// DeleteUser removes a user and everything they own. Blob failures do not stop
// the deletion: they are logged, queued for the sweeper and returned in the
// report. Store failures abort.
func (a *App) DeleteUser(ctx context.Context, caller domain.User, id string) (report DeletionReport, err error) {
	defer a.observe(domain.EntityUser, "delete", &err)
	if err := requireCaller(caller); err != nil {
		return DeletionReport{}, err
	}
	target, err := a.getUser(ctx, id)
	if err != nil {
		return DeletionReport{}, err
	}
	if err := access.AuthorizeUser(caller, access.ActionDelete, target, nil); err != nil {
		return DeletionReport{}, deniedUser(caller, target, err)
	}

	logger := util.LoggerFromContext(ctx).With(slog.String("user_id", target.ID))
	report = DeletionReport{UserID: target.ID, Failures: []CleanupFailure{}}
	cleanup := domain.PolicyFor(domain.EntityUser).Cleanup

	books, err := a.store.ListBooksByOwner(ctx, target.ID)
	if err != nil {
		return report, fmt.Errorf("list books: %w", err)
	}
	for _, book := range books {
		failures, err := a.releaseBookBlobs(ctx, &book, cleanup)
		if err != nil {
			return report, err
		}
		report.Failures = append(report.Failures, failures...)
		if err := a.store.DeleteBook(ctx, book.ID); err != nil && !errors.Is(err, store.ErrMissing) {
			return report, fmt.Errorf("delete book %s: %w", book.ID, err)
		}
		report.BooksDeleted++
	}

	pic, ok, err := a.store.GetProfilePicture(ctx, target.ID)
	if err != nil {
		return report, fmt.Errorf("load picture: %w", err)
	}
	if ok {
		if err := a.deleteBlob(ctx, pic.ImageURL); err != nil {
			url := domain.Deref(pic.ImageURL)
			report.Failures = append(report.Failures, CleanupFailure{
				Entity:   domain.EntityProfilePicture,
				EntityID: pic.ID,
				URL:      url,
				Error:    err.Error(),
			})
			a.orphan(ctx, url, "picture of deleted user "+target.ID, err)
		}
		if err := a.store.DeleteProfilePicture(ctx, target.ID); err != nil {
			return report, fmt.Errorf("delete picture: %w", err)
		}
		report.PictureDeleted = true
	}

	if err := a.store.DeleteUser(ctx, target.ID, domain.DeletedCommentPlaceholder); err != nil {
		return report, fmt.Errorf("delete user: %w", err)
	}
	if err := a.sessions.RevokeUser(ctx, target.ID); err != nil {
		logger.Warn("session_revoke_failed", slog.String("err", err.Error()))
	}
	logger.Info("user_deleted", slog.Int("books", report.BooksDeleted), slog.Int("cleanup_failures", len(report.Failures)))
	return report, nil
}

func normalizeUsername(raw string) (string, error) {
	username := strings.TrimSpace(raw)
	if username == "" {
		return "", invalid("username is required")
	}
	if len(username) > maxUsernameLength {
		return "", invalid("username is longer than %d characters", maxUsernameLength)
	}
	for _, r := range username {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("@.+-_", r) {
			continue
		}
		return "", invalid("username may only contain letters, digits and @.+-_")
	}
	return username, nil
}

func normalizeEmail(raw string) (string, error) {
	email := strings.TrimSpace(raw)
	if email == "" {
		return "", nil
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", invalid("email %q is not valid", email)
	}
	return email, nil
}
