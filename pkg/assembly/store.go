package assembly

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/klauselwerk/core/pkg/content"
)

// Store persists contract instances. Implementations must reject any write
// to a completed row, independently of the service layer, and must enforce
// the revision guard so racing writers lose instead of interleaving.
type Store interface {
	// Insert persists a new draft contract at revision 1.
	Insert(ctx context.Context, c *ContractInstance) error
	// Load returns a contract or a NotFoundError.
	Load(ctx context.Context, id string) (*ContractInstance, error)
	// ListByTenant returns a tenant's contracts, id order.
	ListByTenant(ctx context.Context, tenantID string) ([]*ContractInstance, error)
	// Save writes c guarded by the revision it was read at. A revision miss
	// returns a ConcurrentCompletionError; a write against a completed row
	// returns an ImmutabilityViolation. On success c.Revision is bumped.
	Save(ctx context.Context, c *ContractInstance, expectedRevision int64) error
	// ReferencesEntity reports whether any contract pins the entity, either
	// as template or clause. Consulted before entity deletion.
	ReferencesEntity(ctx context.Context, entityID string) (bool, error)
}

// MemoryStore implements Store in memory, mirroring the postgres semantics
// including the completed-row write barrier.
type MemoryStore struct {
	mu        sync.Mutex
	contracts map[string]*ContractInstance
	clock     func() time.Time
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contracts: make(map[string]*ContractInstance),
		clock:     time.Now,
	}
}

// WithClock overrides the clock for tests.
func (s *MemoryStore) WithClock(clock func() time.Time) *MemoryStore {
	s.clock = clock
	return s
}

func (s *MemoryStore) Insert(ctx context.Context, c *ContractInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Revision = 1
	c.CreatedAt = s.clock()
	c.UpdatedAt = c.CreatedAt
	s.contracts[c.ID] = c.Clone()
	return nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*ContractInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.contracts[id]
	if !ok {
		return nil, &content.NotFoundError{Resource: "contract", ID: id}
	}
	return c.Clone(), nil
}

func (s *MemoryStore) ListByTenant(ctx context.Context, tenantID string) ([]*ContractInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*ContractInstance
	for _, c := range s.contracts {
		if c.TenantID == tenantID {
			out = append(out, c.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) ReferencesEntity(ctx context.Context, entityID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.contracts {
		if c.TemplateEntityID == entityID {
			return true, nil
		}
		if _, ok := c.PinnedClauses[entityID]; ok {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Save(ctx context.Context, c *ContractInstance, expectedRevision int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.contracts[c.ID]
	if !ok {
		return &content.NotFoundError{Resource: "contract", ID: c.ID}
	}
	if stored.Status == ContractCompleted {
		return &content.ImmutabilityViolation{
			Resource: "contract",
			ID:       c.ID,
			Reason:   "completed contracts reject all writes",
		}
	}
	if stored.Revision != expectedRevision {
		return &content.ConcurrentCompletionError{ContractID: c.ID}
	}
	cp := c.Clone()
	cp.Revision = expectedRevision + 1
	cp.CreatedAt = stored.CreatedAt
	cp.UpdatedAt = s.clock()
	s.contracts[c.ID] = cp
	c.Revision = cp.Revision
	c.UpdatedAt = cp.UpdatedAt
	return nil
}
