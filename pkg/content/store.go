package content

import (
	"context"
)

// Store is the persistence contract of the versioned entity store. Every
// call runs inside an already-scoped tenant context supplied by the
// caller; implementations never compute tenant scoping themselves.
//
// Implementations must enforce two invariants independently of the
// lifecycle service sitting on top:
//
//   - at most one published version per entity at any time, and
//   - no content mutation once a version has left draft (SaveVersion only
//     ever touches lifecycle metadata on post-draft rows).
type Store interface {
	// CreateEntity registers a new logical entity.
	CreateEntity(ctx context.Context, e *LogicalEntity) error
	// LoadEntity returns an entity or a NotFoundError.
	LoadEntity(ctx context.Context, id string) (*LogicalEntity, error)
	// ListEntities returns all entities of the publisher tenant.
	ListEntities(ctx context.Context, tenantID string) ([]*LogicalEntity, error)

	// InsertVersion persists a new draft and assigns the next gapless
	// version number for its entity, set on the passed struct.
	InsertVersion(ctx context.Context, v *Version) error
	// LoadVersion returns a version or a NotFoundError. Post-draft versions
	// are digest-verified on the way out.
	LoadVersion(ctx context.Context, id string) (*Version, error)
	// ListVersions returns all versions of an entity, oldest first.
	ListVersions(ctx context.Context, entityID string) ([]*Version, error)
	// SaveVersion updates lifecycle metadata, guarded by the expected
	// current status. A guard miss returns a LifecycleError. Content fields
	// are written only while the row is still a draft; on post-draft rows
	// they are ignored, so a mutated struct cannot alter frozen content.
	SaveVersion(ctx context.Context, v *Version, expected VersionStatus) error
	// LoadRulesForVersions returns the embedded rules of the given
	// versions, keyed by version id.
	LoadRulesForVersions(ctx context.Context, ids []string) (map[string][]Rule, error)
	// ListPublished returns the currently published versions of a tenant.
	ListPublished(ctx context.Context, tenantID string) ([]*Version, error)

	// DeleteVersion removes a draft. Only the entity's latest version may
	// go, which keeps version numbering gapless; any other status, or a
	// draft with a newer sibling, returns a LifecycleError.
	DeleteVersion(ctx context.Context, id string) error
	// DeleteEntity removes an entity and its drafts. An entity with any
	// post-draft version is retained history and returns a LifecycleError.
	DeleteEntity(ctx context.Context, id string) error

	// PromoteAndDemote atomically publishes newVersionID, demotes the
	// previously published sibling (expectedOldID, empty if none) to
	// deprecated and repoints the entity. An empty newVersionID is a plain
	// demotion (deprecate without successor). The loser of a concurrent
	// race gets a ConcurrentPublishError; a reader never observes two
	// simultaneously published versions of the entity.
	PromoteAndDemote(ctx context.Context, entityID, newVersionID, expectedOldID string) error
}
