package app

import (
	"errors"
	"fmt"

	"github.com/ChaceN89/library/pkg/access"
	"github.com/ChaceN89/library/pkg/blob"
	"github.com/ChaceN89/library/pkg/domain"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
	ErrConflict   = errors.New("conflict")
	// ErrStorage is the blob store failure sentinel, so errors.Is matches
	// failures coming straight from a blob.Client.
	ErrStorage = blob.ErrStorage

	ErrAlreadyFavorited = fmt.Errorf("%w: book already favorited", ErrValidation)
	ErrNotFavorited     = fmt.Errorf("%w: book not favorited", ErrNotFound)

	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

func notFound(entity domain.Entity, id string) error {
	return fmt.Errorf("%w: %s %s", ErrNotFound, entity, id)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// denied turns a guard decision into the error the entity's policy discloses.
func denied(entity domain.Entity, err error) error {
	if !errors.Is(err, access.ErrDenied) {
		return err
	}
	if domain.PolicyFor(entity).ConcealOnDeny {
		return fmt.Errorf("%w: %s", ErrNotFound, entity)
	}
	return fmt.Errorf("%w: %w", ErrForbidden, err)
}

// deniedUser conceals a user record only from callers who may not read it;
// a self or admin caller learns the action itself was refused.
func deniedUser(caller, target domain.User, err error) error {
	if !errors.Is(err, access.ErrDenied) {
		return err
	}
	if access.AuthorizeUser(caller, access.ActionRead, target, nil) == nil {
		return fmt.Errorf("%w: %w", ErrForbidden, err)
	}
	return denied(domain.EntityUser, err)
}
