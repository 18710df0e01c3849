package content

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/klauselwerk/core/pkg/audit"
	"github.com/klauselwerk/core/pkg/observability"
	"github.com/klauselwerk/core/pkg/tenants"
)

// Draft is the authored input for a new version.
type Draft struct {
	AuthorID string
	Clause   *ClauseBody
	Template *TemplateBody
	Rules    []Rule
}

// Service drives the lifecycle state machine:
//
//	draft →(submit, gate-pass) review →(approve) published →(deprecate) deprecated
//	                           review →(reject) draft (new copy)
//
// All transitions are forward-only except reject's copy-creation, and no
// transition ever mutates content. Failures are reported, never silently
// corrected.
type Service struct {
	store   Store
	gate    *Gate
	audit   audit.Logger
	metrics *observability.Recorder
	refs    ReferenceChecker
	logger  *slog.Logger
}

// ReferenceChecker reports whether any contract instance pins a version of
// the entity. Implemented by the assembly store; deletion of pinned
// entities is refused so frozen contracts stay resolvable forever.
type ReferenceChecker interface {
	ReferencesEntity(ctx context.Context, entityID string) (bool, error)
}

// NewService creates a lifecycle service.
func NewService(store Store, gate *Gate, auditLog audit.Logger) *Service {
	if auditLog == nil {
		auditLog = audit.Nop()
	}
	return &Service{
		store:  store,
		gate:   gate,
		audit:  auditLog,
		logger: slog.Default().With("component", "lifecycle"),
	}
}

// WithMetrics attaches a metrics recorder (nil is fine).
func (s *Service) WithMetrics(r *observability.Recorder) *Service {
	s.metrics = r
	return s
}

// WithReferenceChecker wires the contract-pin check consulted by
// DeleteEntity. Without one, deletion relies on the store's post-draft
// history guard alone.
func (s *Service) WithReferenceChecker(rc ReferenceChecker) *Service {
	s.refs = rc
	return s
}

// CreateDraft adds a new draft version to an existing entity with the next
// gapless version number. Only basic shape is checked here; the full gate
// runs at submit.
func (s *Service) CreateDraft(ctx context.Context, entityID string, draft Draft) (*Version, error) {
	entity, err := s.store.LoadEntity(ctx, entityID)
	if err != nil {
		return nil, err
	}

	switch entity.Kind {
	case KindClause:
		if draft.Clause == nil {
			return nil, &ValidationError{Field: "clause", Reason: "clause entity requires a clause body"}
		}
		if draft.Template != nil {
			return nil, &ValidationError{Field: "template", Reason: "clause entity cannot carry a slot structure"}
		}
	case KindTemplate:
		if draft.Template == nil {
			return nil, &ValidationError{Field: "template", Reason: "template entity requires a slot structure"}
		}
		if draft.Clause != nil || len(draft.Rules) > 0 {
			return nil, &ValidationError{Field: "clause", Reason: "template entity cannot carry clause content or rules"}
		}
	}
	if draft.AuthorID == "" {
		return nil, &ValidationError{Field: "author_id", Reason: "required"}
	}

	v := &Version{
		ID:       uuid.New().String(),
		EntityID: entity.ID,
		Kind:     entity.Kind,
		Status:   StatusDraft,
		AuthorID: draft.AuthorID,
		Clause:   draft.Clause,
		Template: draft.Template,
		Rules:    draft.Rules,
	}
	if err := s.store.InsertVersion(ctx, v); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "draft created",
		"entity", entity.ID, "version", v.ID, "number", v.VersionNumber)
	return v, nil
}

// SubmitForReview moves a draft to review. The reviewer must differ from
// the author (four-eyes) and the version must pass the full publishing
// gate; gate failures are reported completely, not first-only. On success
// the content digest is stamped and the content is frozen.
func (s *Service) SubmitForReview(ctx context.Context, versionID, reviewerID string) (*Version, error) {
	v, err := s.store.LoadVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.Status != StatusDraft {
		return nil, &LifecycleError{
			Op: "submit", VersionID: versionID,
			Precondition: "expected status draft, found " + string(v.Status),
		}
	}
	if reviewerID == "" || reviewerID == v.AuthorID {
		return nil, &LifecycleError{
			Op: "submit", VersionID: versionID,
			Precondition: "reviewer must differ from author (four-eyes)",
		}
	}

	if err := s.gate.Check(ctx, v); err != nil {
		return nil, err
	}

	digest, err := Digest(v)
	if err != nil {
		return nil, err
	}
	v.Status = StatusReview
	v.ReviewerID = reviewerID
	v.ContentDigest = digest
	if err := s.store.SaveVersion(ctx, v, StatusDraft); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "version submitted for review",
		"version", v.ID, "reviewer", reviewerID)
	return v, nil
}

// Approve publishes a reviewed version: promotion and demotion of the
// prior published sibling happen in one atomic unit, so a reader never
// observes zero or two published versions of the entity. Of two
// concurrent approvals for the same entity exactly one wins; the loser
// gets a ConcurrentPublishError.
func (s *Service) Approve(ctx context.Context, versionID, reviewerID string) (*Version, error) {
	v, err := s.store.LoadVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.Status != StatusReview {
		return nil, &LifecycleError{
			Op: "approve", VersionID: versionID,
			Precondition: "expected status review, found " + string(v.Status),
		}
	}
	if reviewerID != v.ReviewerID {
		return nil, &LifecycleError{
			Op: "approve", VersionID: versionID,
			Precondition: "caller must be the assigned reviewer",
		}
	}

	entity, err := s.store.LoadEntity(ctx, v.EntityID)
	if err != nil {
		return nil, err
	}
	prior := entity.CurrentPublishedVersionID

	if err := s.store.PromoteAndDemote(ctx, entity.ID, v.ID, prior); err != nil {
		return nil, err
	}

	_ = s.audit.Record(ctx, audit.ActionVersionPublished, v.ID, map[string]any{
		"entity_id":      entity.ID,
		"version_number": v.VersionNumber,
		"reviewer_id":    reviewerID,
	})
	if prior != "" {
		_ = s.audit.Record(ctx, audit.ActionVersionDeprecated, prior, map[string]any{
			"entity_id": entity.ID,
			"reason":    "superseded by " + v.ID,
		})
	}
	s.metrics.RecordPublish(ctx, string(entity.Kind))
	s.logger.InfoContext(ctx, "version published",
		"entity", entity.ID, "version", v.ID, "demoted", prior)

	return s.store.LoadVersion(ctx, v.ID)
}

// Reject sends a reviewed version back. The rejected version keeps status
// review with the comment attached (audit trail) and a fresh draft copy is
// spawned for the author.
func (s *Service) Reject(ctx context.Context, versionID, reviewerID, comment string) (*Version, error) {
	if comment == "" {
		return nil, &ValidationError{Field: "comment", Reason: "rejection comment is mandatory"}
	}
	v, err := s.store.LoadVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.Status != StatusReview {
		return nil, &LifecycleError{
			Op: "reject", VersionID: versionID,
			Precondition: "expected status review, found " + string(v.Status),
		}
	}
	if reviewerID != v.ReviewerID {
		return nil, &LifecycleError{
			Op: "reject", VersionID: versionID,
			Precondition: "caller must be the assigned reviewer",
		}
	}

	v.RejectionComment = comment
	if err := s.store.SaveVersion(ctx, v, StatusReview); err != nil {
		return nil, err
	}

	copyDraft := v.Clone()
	copyDraft.ID = uuid.New().String()
	copyDraft.Status = StatusDraft
	copyDraft.ReviewerID = ""
	copyDraft.ContentDigest = ""
	copyDraft.RejectionComment = ""
	copyDraft.PublishedAt = nil
	if err := s.store.InsertVersion(ctx, copyDraft); err != nil {
		return nil, err
	}

	_ = s.audit.Record(ctx, audit.ActionVersionRejected, v.ID, map[string]any{
		"entity_id":    v.EntityID,
		"reviewer_id":  reviewerID,
		"comment":      comment,
		"new_draft_id": copyDraft.ID,
	})
	s.logger.InfoContext(ctx, "version rejected",
		"version", v.ID, "new_draft", copyDraft.ID)
	return copyDraft, nil
}

// DiscardDraft removes a draft version. Post-draft versions are frozen
// history and cannot be discarded, and only the entity's latest version
// qualifies: the store refuses to punch holes into the gapless numbering.
func (s *Service) DiscardDraft(ctx context.Context, versionID string) error {
	v, err := s.store.LoadVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if v.Status != StatusDraft {
		return &LifecycleError{
			Op: "discard", VersionID: versionID,
			Precondition: "expected status draft, found " + string(v.Status),
		}
	}
	if err := s.store.DeleteVersion(ctx, versionID); err != nil {
		return err
	}
	s.logger.InfoContext(ctx, "draft discarded", "entity", v.EntityID, "version", versionID)
	return nil
}

// DeleteEntity removes an entity that never left draft. Admin-only, and
// refused while any contract instance pins a version of the entity.
func (s *Service) DeleteEntity(ctx context.Context, entityID string) error {
	scope, err := tenants.FromContext(ctx)
	if err != nil || !scope.Admin {
		return &LifecycleError{
			Op: "delete", VersionID: entityID,
			Precondition: "caller must be a publisher administrator",
		}
	}
	if s.refs != nil {
		pinned, err := s.refs.ReferencesEntity(ctx, entityID)
		if err != nil {
			return err
		}
		if pinned {
			return &LifecycleError{
				Op: "delete", VersionID: entityID,
				Precondition: "entity is pinned by contract instances",
			}
		}
	}
	if err := s.store.DeleteEntity(ctx, entityID); err != nil {
		return err
	}
	_ = s.audit.Record(ctx, audit.ActionEntityDeleted, entityID, nil)
	s.logger.InfoContext(ctx, "entity deleted", "entity", entityID)
	return nil
}

// Deprecate retires a published version without successor. Admin-only.
func (s *Service) Deprecate(ctx context.Context, versionID, reason string) error {
	scope, err := tenants.FromContext(ctx)
	if err != nil || !scope.Admin {
		return &LifecycleError{
			Op: "deprecate", VersionID: versionID,
			Precondition: "caller must be a publisher administrator",
		}
	}
	v, err := s.store.LoadVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if v.Status != StatusPublished {
		return &LifecycleError{
			Op: "deprecate", VersionID: versionID,
			Precondition: "expected status published, found " + string(v.Status),
		}
	}

	v.DeprecationReason = reason
	if err := s.store.SaveVersion(ctx, v, StatusPublished); err != nil {
		return err
	}
	if err := s.store.PromoteAndDemote(ctx, v.EntityID, "", v.ID); err != nil {
		return err
	}

	_ = s.audit.Record(ctx, audit.ActionVersionDeprecated, v.ID, map[string]any{
		"entity_id": v.EntityID,
		"reason":    reason,
	})
	s.logger.InfoContext(ctx, "version deprecated", "version", v.ID, "reason", reason)
	return nil
}
