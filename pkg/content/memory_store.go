package content

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore implements Store in memory. It is the reference
// implementation for tests and the demo binary and mirrors the semantics
// of the postgres store exactly, including the optimistic guards.
type MemoryStore struct {
	mu       sync.Mutex
	entities map[string]*LogicalEntity
	versions map[string]*Version
	clock    func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[string]*LogicalEntity),
		versions: make(map[string]*Version),
		clock:    time.Now,
	}
}

// WithClock overrides the clock for tests.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) CreateEntity(ctx context.Context, e *LogicalEntity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *e
	s.entities[e.ID] = &cp
	return nil
}

func (s *MemoryStore) LoadEntity(ctx context.Context, id string) (*LogicalEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, &NotFoundError{Resource: "entity", ID: id}
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) ListEntities(ctx context.Context, tenantID string) ([]*LogicalEntity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*LogicalEntity
	for _, e := range s.entities {
		if e.TenantID == tenantID {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) InsertVersion(ctx context.Context, v *Version) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[v.EntityID]; !ok {
		return &NotFoundError{Resource: "entity", ID: v.EntityID}
	}
	max := 0
	for _, existing := range s.versions {
		if existing.EntityID == v.EntityID && existing.VersionNumber > max {
			max = existing.VersionNumber
		}
	}
	v.VersionNumber = max + 1
	v.CreatedAt = s.clock()
	v.UpdatedAt = v.CreatedAt
	s.versions[v.ID] = v.Clone()
	return nil
}

func (s *MemoryStore) LoadVersion(ctx context.Context, id string) (*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadVersionLocked(id)
}

func (s *MemoryStore) loadVersionLocked(id string) (*Version, error) {
	v, ok := s.versions[id]
	if !ok {
		return nil, &NotFoundError{Resource: "version", ID: id}
	}
	cp := v.Clone()
	if err := VerifyDigest(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *MemoryStore) ListVersions(ctx context.Context, entityID string) ([]*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Version
	for _, v := range s.versions {
		if v.EntityID == entityID {
			out = append(out, v.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

// SaveVersion applies lifecycle metadata from v onto the stored row. For
// post-draft rows the content columns are never written, so frozen content
// cannot drift even if a caller hands in a mutated struct.
func (s *MemoryStore) SaveVersion(ctx context.Context, v *Version, expected VersionStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.versions[v.ID]
	if !ok {
		return &NotFoundError{Resource: "version", ID: v.ID}
	}
	if stored.Status != expected {
		return &LifecycleError{
			Op:           "save",
			VersionID:    v.ID,
			Precondition: "expected status " + string(expected) + ", found " + string(stored.Status),
		}
	}
	if stored.Status == StatusDraft {
		stored.Clause = nil
		stored.Template = nil
		stored.Rules = nil
		cp := v.Clone()
		stored.Clause = cp.Clause
		stored.Template = cp.Template
		stored.Rules = cp.Rules
	}
	stored.Status = v.Status
	stored.ReviewerID = v.ReviewerID
	stored.ContentDigest = v.ContentDigest
	stored.RejectionComment = v.RejectionComment
	stored.DeprecationReason = v.DeprecationReason
	if v.PublishedAt != nil {
		t := *v.PublishedAt
		stored.PublishedAt = &t
	}
	stored.UpdatedAt = s.clock()
	return nil
}

func (s *MemoryStore) LoadRulesForVersions(ctx context.Context, ids []string) (map[string][]Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]Rule, len(ids))
	for _, id := range ids {
		v, ok := s.versions[id]
		if !ok {
			return nil, &NotFoundError{Resource: "version", ID: id}
		}
		cp := v.Clone()
		out[id] = cp.Rules
	}
	return out, nil
}

func (s *MemoryStore) ListPublished(ctx context.Context, tenantID string) ([]*Version, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Version
	for _, v := range s.versions {
		if v.Status != StatusPublished {
			continue
		}
		e, ok := s.entities[v.EntityID]
		if !ok || e.TenantID != tenantID {
			continue
		}
		out = append(out, v.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) DeleteVersion(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.versions[id]
	if !ok {
		return &NotFoundError{Resource: "version", ID: id}
	}
	if v.Status != StatusDraft {
		return &LifecycleError{
			Op: "discard", VersionID: id,
			Precondition: "expected status draft, found " + string(v.Status),
		}
	}
	// Only the latest version may go; removing an older draft would punch a
	// hole into the gapless numbering.
	for _, sibling := range s.versions {
		if sibling.EntityID == v.EntityID && sibling.VersionNumber > v.VersionNumber {
			return &LifecycleError{
				Op: "discard", VersionID: id,
				Precondition: "only the latest version may be discarded",
			}
		}
	}
	delete(s.versions, id)
	return nil
}

func (s *MemoryStore) DeleteEntity(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entities[id]; !ok {
		return &NotFoundError{Resource: "entity", ID: id}
	}
	var drafts []string
	for vid, v := range s.versions {
		if v.EntityID != id {
			continue
		}
		if v.Status != StatusDraft {
			return &LifecycleError{
				Op: "delete", VersionID: vid,
				Precondition: "entity has post-draft history",
			}
		}
		drafts = append(drafts, vid)
	}
	for _, vid := range drafts {
		delete(s.versions, vid)
	}
	delete(s.entities, id)
	return nil
}

// PromoteAndDemote performs the promote/demote under one lock, the
// in-memory equivalent of the serializable transaction in the postgres
// store. The expectedOldID guard makes the second of two racing approvals
// fail with a ConcurrentPublishError instead of silently double-publishing.
func (s *MemoryStore) PromoteAndDemote(ctx context.Context, entityID, newVersionID, expectedOldID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[entityID]
	if !ok {
		return &NotFoundError{Resource: "entity", ID: entityID}
	}
	if e.CurrentPublishedVersionID != expectedOldID {
		return &ConcurrentPublishError{EntityID: entityID}
	}

	// Validate both sides before touching anything: the method applies the
	// whole promote/demote or nothing, like the transaction in the postgres
	// store.
	var prev *Version
	if expectedOldID != "" {
		prev, ok = s.versions[expectedOldID]
		if !ok || prev.Status != StatusPublished {
			return &ConcurrentPublishError{EntityID: entityID}
		}
	}
	var next *Version
	if newVersionID != "" {
		next, ok = s.versions[newVersionID]
		if !ok {
			return &NotFoundError{Resource: "version", ID: newVersionID}
		}
		if next.Status != StatusReview {
			return &LifecycleError{
				Op:           "publish",
				VersionID:    newVersionID,
				Precondition: "expected status review, found " + string(next.Status),
			}
		}
	}

	now := s.clock()
	if prev != nil {
		prev.Status = StatusDeprecated
		prev.UpdatedAt = now
	}

	// Empty newVersionID is a plain demotion (deprecate without successor).
	if next == nil {
		e.CurrentPublishedVersionID = ""
		return nil
	}
	next.Status = StatusPublished
	next.PublishedAt = &now
	next.UpdatedAt = now
	e.CurrentPublishedVersionID = newVersionID
	return nil
}
