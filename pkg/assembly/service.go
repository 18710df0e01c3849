package assembly

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/klauselwerk/core/pkg/audit"
	"github.com/klauselwerk/core/pkg/content"
	"github.com/klauselwerk/core/pkg/observability"
	"github.com/klauselwerk/core/pkg/rulegraph"
	"github.com/klauselwerk/core/pkg/snapshot"
	"github.com/klauselwerk/core/pkg/tenants"
	"github.com/klauselwerk/core/pkg/validation"
)

// Service assembles contracts from pinned published versions. All pin
// resolution happens at start/upgrade time; afterwards the contract only
// ever reads the frozen ids, never "current" pointers.
type Service struct {
	contracts Store
	versions  content.Store
	engine    *validation.Engine
	audit     audit.Logger
	metrics   *observability.Recorder
	archive   snapshot.Store
	logger    *slog.Logger
	clock     func() time.Time
}

// NewService creates an assembly service.
func NewService(contracts Store, versions content.Store, engine *validation.Engine, auditLog audit.Logger) *Service {
	if auditLog == nil {
		auditLog = audit.Nop()
	}
	return &Service{
		contracts: contracts,
		versions:  versions,
		engine:    engine,
		audit:     auditLog,
		logger:    slog.Default().With("component", "assembly"),
		clock:     time.Now,
	}
}

// WithMetrics attaches a metrics recorder (nil is fine).
func (s *Service) WithMetrics(r *observability.Recorder) *Service {
	s.metrics = r
	return s
}

// WithArchive attaches a snapshot store; completed contracts are archived
// into it. Without one, completion still works, just without the archival
// copy.
func (s *Service) WithArchive(store snapshot.Store) *Service {
	s.archive = store
	return s
}

// WithClock overrides the clock for tests.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

// StartContract creates a draft contract from the template's currently
// published version, freezing the published version id of every clause
// entity the template structure references. Slots with a default are
// preselected.
func (s *Service) StartContract(ctx context.Context, templateEntityID, jurisdiction string) (*ContractInstance, error) {
	entity, err := s.versions.LoadEntity(ctx, templateEntityID)
	if err != nil {
		return nil, err
	}
	if entity.Kind != content.KindTemplate {
		return nil, &content.ValidationError{Field: "template_id", Reason: "entity is not a template"}
	}
	if entity.CurrentPublishedVersionID == "" {
		return nil, &content.NoPublishedVersionError{EntityID: templateEntityID}
	}
	tv, err := s.versions.LoadVersion(ctx, entity.CurrentPublishedVersionID)
	if err != nil {
		return nil, err
	}

	pins, selected, err := s.resolvePins(ctx, tv)
	if err != nil {
		return nil, err
	}

	c := &ContractInstance{
		ID:                uuid.New().String(),
		TenantID:          tenants.TenantID(ctx),
		Status:            ContractDraft,
		TemplateEntityID:  entity.ID,
		TemplateVersionID: tv.ID,
		PinnedClauses:     pins,
		SelectedSlots:     selected,
		Answers:           map[string]any{},
		Jurisdiction:      jurisdiction,
		ValidationState:   validation.StateValid,
		CreatedBy:         tenants.ActorID(ctx),
	}
	if err := s.revalidateLocked(ctx, c); err != nil {
		return nil, err
	}
	if err := s.contracts.Insert(ctx, c); err != nil {
		return nil, err
	}

	_ = s.audit.Record(ctx, audit.ActionContractCreated, c.ID, map[string]any{
		"template_entity_id":  entity.ID,
		"template_version_id": tv.ID,
		"pinned_clauses":      len(pins),
	})
	s.logger.InfoContext(ctx, "contract started",
		"contract", c.ID, "template_version", tv.ID, "pins", len(pins))
	return c, nil
}

// resolvePins freezes the published version id of every clause entity the
// template references and preselects slot defaults. An unpublished
// referenced entity fails the whole resolution.
func (s *Service) resolvePins(ctx context.Context, tv *content.Version) (pins, selected map[string]string, err error) {
	if tv.Template == nil {
		return nil, nil, &content.ValidationError{Field: "template", Reason: "version carries no slot structure"}
	}
	pins = map[string]string{}
	selected = map[string]string{}
	for _, slot := range tv.Template.Slots {
		refs := slot.AllowedEntityIDs
		if slot.DefaultEntityID != "" && !containsString(refs, slot.DefaultEntityID) {
			refs = append(append([]string(nil), refs...), slot.DefaultEntityID)
		}
		for _, entityID := range refs {
			if _, done := pins[entityID]; done {
				continue
			}
			e, err := s.versions.LoadEntity(ctx, entityID)
			if err != nil {
				return nil, nil, err
			}
			if e.CurrentPublishedVersionID == "" {
				return nil, nil, &content.NoPublishedVersionError{EntityID: entityID}
			}
			pins[entityID] = e.CurrentPublishedVersionID
		}
		if slot.DefaultEntityID != "" {
			selected[slot.ID] = slot.DefaultEntityID
		}
	}
	return pins, selected, nil
}

// SetAnswer records an answer on a draft contract and re-runs validation.
func (s *Service) SetAnswer(ctx context.Context, contractID, questionID string, value any) (*validation.Report, error) {
	return s.mutate(ctx, contractID, func(c *ContractInstance) error {
		if c.Answers == nil {
			c.Answers = map[string]any{}
		}
		c.Answers[questionID] = value
		return nil
	})
}

// SelectSlot fills a slot with a clause entity from the pinned set.
func (s *Service) SelectSlot(ctx context.Context, contractID, slotID, clauseEntityID string) (*validation.Report, error) {
	return s.mutate(ctx, contractID, func(c *ContractInstance) error {
		tv, err := s.versions.LoadVersion(ctx, c.TemplateVersionID)
		if err != nil {
			return err
		}
		slot := findSlot(tv.Template, slotID)
		if slot == nil {
			return &content.NotFoundError{Resource: "slot", ID: slotID}
		}
		if clauseEntityID == "" {
			delete(c.SelectedSlots, slotID)
			return nil
		}
		if len(slot.AllowedEntityIDs) > 0 && !containsString(slot.AllowedEntityIDs, clauseEntityID) &&
			slot.DefaultEntityID != clauseEntityID {
			return &content.ValidationError{
				Field:  "slot " + slotID,
				Reason: "entity " + clauseEntityID + " is not allowed in this slot",
			}
		}
		if _, pinned := c.PinnedClauses[clauseEntityID]; !pinned {
			return &content.ValidationError{
				Field:  "slot " + slotID,
				Reason: "entity " + clauseEntityID + " is not pinned on this contract",
			}
		}
		if c.SelectedSlots == nil {
			c.SelectedSlots = map[string]string{}
		}
		c.SelectedSlots[slotID] = clauseEntityID
		return nil
	})
}

// mutate applies fn to a draft contract, re-validates and saves under the
// revision guard.
func (s *Service) mutate(ctx context.Context, contractID string, fn func(*ContractInstance) error) (*validation.Report, error) {
	c, err := s.contracts.Load(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if c.Status != ContractDraft {
		return nil, &content.ImmutabilityViolation{
			Resource: "contract", ID: contractID,
			Reason: "only draft contracts accept changes",
		}
	}
	read := c.Revision
	if err := fn(c); err != nil {
		return nil, err
	}
	report, err := s.validate(ctx, c)
	if err != nil {
		return nil, err
	}
	c.ValidationState = report.State
	if err := s.contracts.Save(ctx, c, read); err != nil {
		return nil, err
	}
	return report, nil
}

// Upgrade re-resolves every pin against a newer published template
// version. Draft only, auditable, validation re-runs against the new pins.
func (s *Service) Upgrade(ctx context.Context, contractID, newTemplateVersionID string) (*validation.Report, error) {
	tv, err := s.versions.LoadVersion(ctx, newTemplateVersionID)
	if err != nil {
		return nil, err
	}

	var oldVersionID string
	report, err := s.mutate(ctx, contractID, func(c *ContractInstance) error {
		if tv.EntityID != c.TemplateEntityID {
			return &content.ValidationError{
				Field:  "template_version_id",
				Reason: "version belongs to a different template entity",
			}
		}
		if tv.Status != content.StatusPublished {
			return &content.LifecycleError{
				Op: "upgrade", VersionID: newTemplateVersionID,
				Precondition: "expected status published, found " + string(tv.Status),
			}
		}
		pins, selected, err := s.resolvePins(ctx, tv)
		if err != nil {
			return err
		}
		oldVersionID = c.TemplateVersionID
		c.TemplateVersionID = tv.ID
		c.PinnedClauses = pins
		// Keep selections that survive the new structure, fall back to the
		// new defaults everywhere else.
		for slotID, entityID := range c.SelectedSlots {
			if slot := findSlot(tv.Template, slotID); slot != nil {
				if _, pinned := pins[entityID]; pinned {
					selected[slotID] = entityID
				}
			}
		}
		c.SelectedSlots = selected
		return nil
	})
	if err != nil {
		return nil, err
	}

	_ = s.audit.Record(ctx, audit.ActionContractUpgraded, contractID, map[string]any{
		"old_template_version_id": oldVersionID,
		"new_template_version_id": newTemplateVersionID,
	})
	s.logger.InfoContext(ctx, "contract upgraded",
		"contract", contractID, "template_version", newTemplateVersionID)
	return report, nil
}

// Validate runs the engine against the contract's current pins and
// selections without mutating anything.
func (s *Service) Validate(ctx context.Context, contractID string) (*validation.Report, error) {
	c, err := s.contracts.Load(ctx, contractID)
	if err != nil {
		return nil, err
	}
	return s.validate(ctx, c)
}

func (s *Service) validate(ctx context.Context, c *ContractInstance) (*validation.Report, error) {
	start := s.clock()
	g, err := s.buildGraph(ctx, c)
	if err != nil {
		return nil, err
	}
	report, err := s.engine.Evaluate(validation.Request{
		SelectedVersionIDs: c.SelectedVersionIDs(),
		Answers:            c.Answers,
		Jurisdiction:       c.Jurisdiction,
	}, g)
	if err != nil {
		return nil, err
	}

	_ = s.audit.Record(ctx, audit.ActionContractValidated, c.ID, map[string]any{
		"state":    string(report.State),
		"messages": len(report.Messages),
	})
	s.metrics.RecordValidation(ctx, string(report.State), s.clock().Sub(start))
	return report, nil
}

// revalidateLocked is validate for a contract not yet persisted.
func (s *Service) revalidateLocked(ctx context.Context, c *ContractInstance) error {
	report, err := s.validate(ctx, c)
	if err != nil {
		return err
	}
	c.ValidationState = report.State
	return nil
}

// buildGraph loads the pinned clause versions and assembles the rule graph
// snapshot this evaluation owns. Pins are post-draft versions, so the
// loads digest-verify and the snapshot is immutable by construction.
func (s *Service) buildGraph(ctx context.Context, c *ContractInstance) (*rulegraph.Graph, error) {
	ids := c.ClauseVersionIDs()
	versions := make([]*content.Version, 0, len(ids))
	for _, id := range ids {
		v, err := s.versions.LoadVersion(ctx, id)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return rulegraph.Build(versions)
}

// Complete freezes the contract. Preconditions: draft status, all required
// slots filled, and a fresh validation run without hard conflicts. The
// revision guard makes a racing Upgrade and Complete resolve to exactly
// one winner.
func (s *Service) Complete(ctx context.Context, contractID string) (*ContractInstance, error) {
	c, err := s.contracts.Load(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if c.Status != ContractDraft {
		return nil, &content.LifecycleError{
			Op: "complete", VersionID: contractID,
			Precondition: "expected status draft, found " + string(c.Status),
		}
	}
	read := c.Revision

	tv, err := s.versions.LoadVersion(ctx, c.TemplateVersionID)
	if err != nil {
		return nil, err
	}
	for _, slot := range tv.Template.Slots {
		if slot.Required && c.SelectedSlots[slot.ID] == "" {
			return nil, &content.LifecycleError{
				Op: "complete", VersionID: contractID,
				Precondition: "required slot " + slot.ID + " is not filled",
			}
		}
	}

	report, err := s.validate(ctx, c)
	if err != nil {
		return nil, err
	}
	if report.State == validation.StateHasConflicts {
		return nil, &ValidationConflict{ContractID: contractID, Report: report}
	}

	now := s.clock()
	c.Status = ContractCompleted
	c.ValidationState = report.State
	c.CompletedAt = &now
	if err := s.contracts.Save(ctx, c, read); err != nil {
		return nil, err
	}

	meta := map[string]any{
		"validation_state": string(report.State),
		"pinned_clauses":   len(c.PinnedClauses),
	}
	if s.archive != nil {
		digest, err := s.archiveSnapshot(ctx, c)
		if err != nil {
			// The contract is already durably completed; archival is a copy.
			s.logger.ErrorContext(ctx, "snapshot archival failed",
				"contract", c.ID, "error", err)
		} else {
			meta["snapshot_digest"] = digest
		}
	}
	_ = s.audit.Record(ctx, audit.ActionContractCompleted, c.ID, meta)
	s.logger.InfoContext(ctx, "contract completed", "contract", c.ID, "state", report.State)
	return c, nil
}

// archiveSnapshot writes the frozen material to the archive and returns
// the digest it is addressed by.
func (s *Service) archiveSnapshot(ctx context.Context, c *ContractInstance) (string, error) {
	pinned, err := s.GetPinnedContent(ctx, c.ID)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(pinned)
	if err != nil {
		return "", fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.archive.Put(ctx, "contracts/"+c.ID+".json", data); err != nil {
		return "", err
	}
	return snapshot.Digest(data), nil
}

// GetPinnedContent returns the frozen template and clause versions of a
// completed contract, a pure read for the export pipeline.
func (s *Service) GetPinnedContent(ctx context.Context, contractID string) (*PinnedContent, error) {
	c, err := s.contracts.Load(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if c.Status != ContractCompleted {
		return nil, &content.LifecycleError{
			Op: "export", VersionID: contractID,
			Precondition: "expected status completed, found " + string(c.Status),
		}
	}
	tv, err := s.versions.LoadVersion(ctx, c.TemplateVersionID)
	if err != nil {
		return nil, err
	}
	ids := c.ClauseVersionIDs()
	clauses := make([]*content.Version, 0, len(ids))
	for _, id := range ids {
		v, err := s.versions.LoadVersion(ctx, id)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, v)
	}
	return &PinnedContent{Contract: c, TemplateVersion: tv, ClauseVersions: clauses}, nil
}

func findSlot(t *content.TemplateBody, slotID string) *content.Slot {
	if t == nil {
		return nil
	}
	for i := range t.Slots {
		if t.Slots[i].ID == slotID {
			return &t.Slots[i]
		}
	}
	return nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
