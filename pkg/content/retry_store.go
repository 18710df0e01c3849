package content

import (
	"context"
	"time"

	"github.com/klauselwerk/core/pkg/observability"
	"github.com/klauselwerk/core/pkg/util/resiliency"
)

// RetryStore decorates a Store with retries for transient infrastructure
// faults. Domain errors (lifecycle guards, concurrency losses, gate
// violations) pass through on the first attempt; only IsTransient errors
// re-run, which is what makes serialization aborts in the postgres store
// invisible to callers. A circuit breaker sits in front of the retry loop:
// sustained transient failures open it, and while it is open calls are
// rejected immediately instead of hammering a struggling database.
type RetryStore struct {
	inner   Store
	policy  resiliency.Policy
	breaker *resiliency.CircuitBreaker
	metrics *observability.Recorder
}

// NewRetryStore wraps inner with the default policy and breaker.
func NewRetryStore(inner Store) *RetryStore {
	return &RetryStore{
		inner:   inner,
		policy:  resiliency.DefaultPolicy(IsTransient),
		breaker: resiliency.NewCircuitBreaker("content-store", 5, 30*time.Second),
	}
}

// WithMetrics attaches a metrics recorder (nil is fine).
func (s *RetryStore) WithMetrics(r *observability.Recorder) *RetryStore {
	s.metrics = r
	return s
}

// WithPolicy overrides the retry policy.
func (s *RetryStore) WithPolicy(p resiliency.Policy) *RetryStore {
	s.policy = p
	return s
}

// WithBreaker overrides the circuit breaker.
func (s *RetryStore) WithBreaker(cb *resiliency.CircuitBreaker) *RetryStore {
	s.breaker = cb
	return s
}

func (s *RetryStore) do(ctx context.Context, op string, fn func(context.Context) error) error {
	if !s.breaker.Allow() {
		s.metrics.RecordStoreError(ctx, op)
		return &InfrastructureError{Op: op, Err: s.breaker.Err()}
	}
	err := s.policy.Do(ctx, fn)
	if err != nil && IsTransient(err) {
		s.breaker.Failure()
		s.metrics.RecordStoreError(ctx, op)
		return err
	}
	// Domain errors mean the store answered; only transient faults count
	// against the breaker.
	s.breaker.Success()
	return err
}

func (s *RetryStore) CreateEntity(ctx context.Context, e *LogicalEntity) error {
	return s.do(ctx, "create_entity", func(ctx context.Context) error {
		return s.inner.CreateEntity(ctx, e)
	})
}

func (s *RetryStore) LoadEntity(ctx context.Context, id string) (*LogicalEntity, error) {
	var out *LogicalEntity
	err := s.do(ctx, "load_entity", func(ctx context.Context) error {
		var err error
		out, err = s.inner.LoadEntity(ctx, id)
		return err
	})
	return out, err
}

func (s *RetryStore) ListEntities(ctx context.Context, tenantID string) ([]*LogicalEntity, error) {
	var out []*LogicalEntity
	err := s.do(ctx, "list_entities", func(ctx context.Context) error {
		var err error
		out, err = s.inner.ListEntities(ctx, tenantID)
		return err
	})
	return out, err
}

func (s *RetryStore) InsertVersion(ctx context.Context, v *Version) error {
	return s.do(ctx, "insert_version", func(ctx context.Context) error {
		return s.inner.InsertVersion(ctx, v)
	})
}

func (s *RetryStore) LoadVersion(ctx context.Context, id string) (*Version, error) {
	var out *Version
	err := s.do(ctx, "load_version", func(ctx context.Context) error {
		var err error
		out, err = s.inner.LoadVersion(ctx, id)
		return err
	})
	return out, err
}

func (s *RetryStore) ListVersions(ctx context.Context, entityID string) ([]*Version, error) {
	var out []*Version
	err := s.do(ctx, "list_versions", func(ctx context.Context) error {
		var err error
		out, err = s.inner.ListVersions(ctx, entityID)
		return err
	})
	return out, err
}

func (s *RetryStore) SaveVersion(ctx context.Context, v *Version, expected VersionStatus) error {
	return s.do(ctx, "save_version", func(ctx context.Context) error {
		return s.inner.SaveVersion(ctx, v, expected)
	})
}

func (s *RetryStore) LoadRulesForVersions(ctx context.Context, ids []string) (map[string][]Rule, error) {
	var out map[string][]Rule
	err := s.do(ctx, "load_rules", func(ctx context.Context) error {
		var err error
		out, err = s.inner.LoadRulesForVersions(ctx, ids)
		return err
	})
	return out, err
}

func (s *RetryStore) ListPublished(ctx context.Context, tenantID string) ([]*Version, error) {
	var out []*Version
	err := s.do(ctx, "list_published", func(ctx context.Context) error {
		var err error
		out, err = s.inner.ListPublished(ctx, tenantID)
		return err
	})
	return out, err
}

func (s *RetryStore) DeleteVersion(ctx context.Context, id string) error {
	return s.do(ctx, "delete_version", func(ctx context.Context) error {
		return s.inner.DeleteVersion(ctx, id)
	})
}

func (s *RetryStore) DeleteEntity(ctx context.Context, id string) error {
	return s.do(ctx, "delete_entity", func(ctx context.Context) error {
		return s.inner.DeleteEntity(ctx, id)
	})
}

func (s *RetryStore) PromoteAndDemote(ctx context.Context, entityID, newVersionID, expectedOldID string) error {
	return s.do(ctx, "promote", func(ctx context.Context) error {
		return s.inner.PromoteAndDemote(ctx, entityID, newVersionID, expectedOldID)
	})
}
