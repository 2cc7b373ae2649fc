// Package access decides whether a caller may act on a resource.
//
// Decisions are pure: the caller passes in already-loaded records and gets back
// nil (allow) or ErrDenied. Existence checks belong to the caller and must run
// first so a missing record is never reported as a denial.
package access

import (
	"errors"
	"fmt"

	"github.com/ChaceN89/library/pkg/domain"
)

var (
	ErrDenied         = errors.New("access denied")
	ErrParentMismatch = errors.New("parent comment belongs to another book")
)

type Action string

const (
	ActionRead   Action = "read"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// RestrictedUserFields may only be changed by a superuser.
var RestrictedUserFields = map[string]struct{}{
	"is_superuser": {},
	"is_staff":     {},
	"is_active":    {},
	"permissions":  {},
	"groups":       {},
	"date_joined":  {},
	"last_login":   {},
}

// AuthorizeBook allows only the owner to mutate a book.
func AuthorizeBook(caller domain.User, book domain.Book) error {
	return requireOwner(caller, book.OwnerID, domain.EntityBook)
}

// AuthorizeComment allows only the author to mutate a comment. Comments whose
// author was deleted belong to nobody.
func AuthorizeComment(caller domain.User, c domain.Comment) error {
	return requireOwner(caller, c.AuthorID(), domain.EntityComment)
}

// AuthorizeFavorite allows only the user the favorite belongs to.
func AuthorizeFavorite(caller domain.User, f domain.FavoriteBook) error {
	return requireOwner(caller, f.UserID, domain.EntityFavoriteBook)
}

// AuthorizeProfilePicture allows only the user the picture belongs to.
func AuthorizeProfilePicture(caller domain.User, userID string) error {
	return requireOwner(caller, userID, domain.EntityProfilePicture)
}

// AuthorizeUser decides access to a user record. fields lists the attribute
// names an update touches; it is ignored for reads and deletes.
func AuthorizeUser(caller domain.User, action Action, target domain.User, fields []string) error {
	if caller.ID == "" {
		return deny(domain.EntityUser, "anonymous caller")
	}
	self := caller.ID == target.ID
	switch action {
	case ActionRead:
		if self || caller.IsAdmin() {
			return nil
		}
		return deny(domain.EntityUser, "not self or admin")
	case ActionUpdate:
		if !self && !caller.IsAdmin() {
			return deny(domain.EntityUser, "not self or admin")
		}
		if !caller.IsSuperuser {
			for _, f := range fields {
				if _, restricted := RestrictedUserFields[f]; restricted {
					return deny(domain.EntityUser, "field "+f+" requires superuser")
				}
			}
		}
		return nil
	case ActionDelete:
		if target.IsSuperuser {
			return deny(domain.EntityUser, "superusers cannot be deleted")
		}
		if self || caller.IsAdmin() {
			return nil
		}
		return deny(domain.EntityUser, "not self or admin")
	default:
		return deny(domain.EntityUser, "unknown action "+string(action))
	}
}

// RequireAdmin allows staff and superusers.
func RequireAdmin(caller domain.User) error {
	if caller.ID != "" && caller.IsAdmin() {
		return nil
	}
	return deny(domain.EntityUser, "admin required")
}

// CheckReply verifies that a reply's parent lives on the same book.
func CheckReply(bookID string, parent domain.Comment) error {
	if parent.BookID != bookID {
		return ErrParentMismatch
	}
	return nil
}

func requireOwner(caller domain.User, ownerID string, entity domain.Entity) error {
	if caller.ID == "" || ownerID == "" || caller.ID != ownerID {
		return deny(entity, "not owner")
	}
	return nil
}

func deny(entity domain.Entity, reason string) error {
	return fmt.Errorf("%w: %s: %s", ErrDenied, entity, reason)
}
