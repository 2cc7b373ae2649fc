package domain

// Entity names a persisted resource kind.
type Entity string

const (
	EntityUser           Entity = "user"
	EntityBook           Entity = "book"
	EntityComment        Entity = "comment"
	EntityFavoriteBook   Entity = "favorite_book"
	EntityProfilePicture Entity = "profile_picture"
)

// DeletionMode says what "delete" means for an entity.
type DeletionMode int

const (
	HardDelete DeletionMode = iota
	Tombstone
)

func (m DeletionMode) String() string {
	switch m {
	case Tombstone:
		return "tombstone"
	default:
		return "hard_delete"
	}
}

// BlobCleanup says how blob removal failures affect a delete.
type BlobCleanup int

const (
	// CleanupNone: the entity owns no blobs.
	CleanupNone BlobCleanup = iota
	// CleanupStrict aborts the delete when a blob cannot be removed.
	CleanupStrict
	// CleanupBestEffort records the failure and keeps going.
	CleanupBestEffort
)

// LifecyclePolicy is the per-entity deletion and disclosure contract.
type LifecyclePolicy struct {
	Deletion DeletionMode
	Cleanup  BlobCleanup
	// ConcealOnDeny reports a denied access as not-found instead of forbidden.
	ConcealOnDeny bool
}

// Policies is the lifecycle table consulted by the application layer.
var Policies = map[Entity]LifecyclePolicy{
	EntityBook:           {Deletion: HardDelete, Cleanup: CleanupStrict},
	EntityComment:        {Deletion: Tombstone, Cleanup: CleanupNone},
	EntityFavoriteBook:   {Deletion: HardDelete, Cleanup: CleanupNone, ConcealOnDeny: true},
	EntityProfilePicture: {Deletion: HardDelete, Cleanup: CleanupStrict, ConcealOnDeny: true},
	EntityUser:           {Deletion: HardDelete, Cleanup: CleanupBestEffort, ConcealOnDeny: true},
}

// PolicyFor returns the policy for e. Unknown entities are concealed hard deletes.
func PolicyFor(e Entity) LifecyclePolicy {
	if p, ok := Policies[e]; ok {
		return p
	}
	return LifecyclePolicy{Deletion: HardDelete, ConcealOnDeny: true}
}
