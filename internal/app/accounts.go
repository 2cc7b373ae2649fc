package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ChaceN89/library/internal/util"
	"github.com/ChaceN89/library/pkg/auth"
	"github.com/ChaceN89/library/pkg/domain"
	"github.com/ChaceN89/library/pkg/session"
	"github.com/ChaceN89/library/pkg/store"
)

// RegisterInput creates an account.
type RegisterInput struct {
	Username  string
	FirstName string
	LastName  string
	Email     string
	Password  string
}

// Register creates an active, unprivileged user.
func (a *App) Register(ctx context.Context, in RegisterInput) (view UserView, err error) {
	defer a.observe(domain.EntityUser, "create", &err)
	username, err := normalizeUsername(in.Username)
	if err != nil {
		return UserView{}, err
	}
	email, err := normalizeEmail(in.Email)
	if err != nil {
		return UserView{}, err
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		return UserView{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return UserView{}, fmt.Errorf("hash password: %w", err)
	}
	user := domain.User{
		ID:           util.NewID(),
		Username:     username,
		FirstName:    singleLine(in.FirstName),
		LastName:     singleLine(in.LastName),
		Email:        email,
		PasswordHash: hash,
		IsActive:     true,
		DateJoined:   a.now(),
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return UserView{}, fmt.Errorf("%w: username %q is taken", ErrConflict, username)
		}
		return UserView{}, fmt.Errorf("save user: %w", err)
	}
	util.LoggerFromContext(ctx).Info("user_registered", slog.String("user_id", user.ID))
	return userView(user, user), nil
}

// Login checks credentials and issues a session token.
func (a *App) Login(ctx context.Context, username, password string) (SessionView, error) {
	user, ok, err := a.store.GetUserByUsername(ctx, username)
	if err != nil {
		return SessionView{}, err
	}
	if !ok || !user.IsActive || !auth.CheckPassword(password, user.PasswordHash) {
		return SessionView{}, ErrInvalidCredentials
	}
	now := a.now()
	user.LastLogin = &now
	if err := a.store.UpdateUser(ctx, user); err != nil {
		util.LoggerFromContext(ctx).Warn("last_login_update_failed", slog.String("user_id", user.ID), slog.String("err", err.Error()))
	}
	return a.issueSession(ctx, user)
}

// Authenticate resolves a session token to the active user behind it.
func (a *App) Authenticate(ctx context.Context, token string) (domain.User, error) {
	claims, err := a.sessions.Verify(ctx, token)
	if err != nil {
		if errors.Is(err, session.ErrInvalidToken) || errors.Is(err, session.ErrRevoked) {
			return domain.User{}, fmt.Errorf("%w: %w", ErrUnauthenticated, err)
		}
		return domain.User{}, err
	}
	user, ok, err := a.store.GetUser(ctx, claims.UserID)
	if err != nil {
		return domain.User{}, err
	}
	if !ok || !user.IsActive {
		return domain.User{}, ErrUnauthenticated
	}
	return user, nil
}

// Logout revokes one session token.
func (a *App) Logout(ctx context.Context, token string) error {
	return a.sessions.Revoke(ctx, token)
}

// ChangePassword sets a new password for caller, ends every earlier session
// and returns a fresh one.
func (a *App) ChangePassword(ctx context.Context, caller domain.User, current, next string) (view SessionView, err error) {
	defer a.observe(domain.EntityUser, "change_password", &err)
	if err := requireCaller(caller); err != nil {
		return SessionView{}, err
	}
	user, err := a.getUser(ctx, caller.ID)
	if err != nil {
		return SessionView{}, err
	}
	if !auth.CheckPassword(current, user.PasswordHash) {
		return SessionView{}, invalid("current password is incorrect")
	}
	if err := auth.ValidatePassword(next); err != nil {
		return SessionView{}, fmt.Errorf("%w: %w", ErrValidation, err)
	}
	hash, err := auth.HashPassword(next)
	if err != nil {
		return SessionView{}, fmt.Errorf("hash password: %w", err)
	}
	user.PasswordHash = hash
	if err := a.store.UpdateUser(ctx, user); err != nil {
		return SessionView{}, fmt.Errorf("save user: %w", err)
	}
	if err := a.sessions.RevokeUser(ctx, user.ID); err != nil {
		return SessionView{}, fmt.Errorf("revoke sessions: %w", err)
	}
	return a.issueSession(ctx, user)
}

func (a *App) issueSession(ctx context.Context, user domain.User) (SessionView, error) {
	token, err := a.sessions.Issue(ctx, user.ID)
	if err != nil {
		return SessionView{}, fmt.Errorf("issue session: %w", err)
	}
	return SessionView{
		Token:     token,
		TokenType: "Bearer",
		ExpiresAt: a.now().Add(a.sessions.TTL()),
		User:      userView(user, user),
	}, nil
}
