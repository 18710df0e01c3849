// Package assembly pins published versions into contract instances and
// drives them from draft to completion. Pins are frozen version ids, never
// live references, so a completed contract reproduces byte-identically
// regardless of later publisher activity.
package assembly

import (
	"fmt"
	"sort"
	"time"

	"github.com/klauselwerk/core/pkg/content"
	"github.com/klauselwerk/core/pkg/validation"
)

// ContractStatus is the lifecycle state of a contract instance.
type ContractStatus string

const (
	ContractDraft     ContractStatus = "draft"
	ContractCompleted ContractStatus = "completed"
	ContractArchived  ContractStatus = "archived"
)

// ContractInstance is one assembled contract. While status is draft the
// answers and slot selections move freely; the pins themselves only change
// through Upgrade. At completion everything freezes, enforced at the
// storage layer and not just here.
type ContractInstance struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenant_id"`
	Status   ContractStatus `json:"status"`

	TemplateEntityID  string `json:"template_entity_id"`
	TemplateVersionID string `json:"template_version_id"`
	// PinnedClauses maps every clause entity referenced by the template
	// structure to the published version id frozen at start/upgrade time.
	PinnedClauses map[string]string `json:"pinned_clauses"`
	// SelectedSlots maps slot id to the chosen clause entity id. The entity
	// must be pinned; the effective version is PinnedClauses[entity].
	SelectedSlots map[string]string `json:"selected_slots"`
	Answers       map[string]any    `json:"answers"`
	Jurisdiction  string            `json:"jurisdiction,omitempty"`

	ValidationState validation.State `json:"validation_state"`

	// Revision is the optimistic-concurrency token. Every write carries the
	// revision it read; a mismatch at the store loses the race.
	Revision int64 `json:"revision"`

	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// ClauseVersionIDs returns the frozen pin set in stable order.
func (c *ContractInstance) ClauseVersionIDs() []string {
	out := make([]string, 0, len(c.PinnedClauses))
	for _, vid := range c.PinnedClauses {
		out = append(out, vid)
	}
	sort.Strings(out)
	return out
}

// SelectedVersionIDs resolves the current slot selections to pinned
// version ids, sorted for deterministic evaluation input.
func (c *ContractInstance) SelectedVersionIDs() []string {
	seen := make(map[string]bool, len(c.SelectedSlots))
	var out []string
	for _, entityID := range c.SelectedSlots {
		vid, ok := c.PinnedClauses[entityID]
		if !ok || seen[vid] {
			continue
		}
		seen[vid] = true
		out = append(out, vid)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (c *ContractInstance) Clone() *ContractInstance {
	cp := *c
	cp.PinnedClauses = cloneStringMap(c.PinnedClauses)
	cp.SelectedSlots = cloneStringMap(c.SelectedSlots)
	if c.Answers != nil {
		cp.Answers = make(map[string]any, len(c.Answers))
		for k, v := range c.Answers {
			cp.Answers[k] = v
		}
	}
	if c.CompletedAt != nil {
		t := *c.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

func cloneStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	cp := make(map[string]string, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return cp
}

// PinnedContent is the frozen material handed to the export pipeline, a
// pure read of completed data.
type PinnedContent struct {
	Contract        *ContractInstance  `json:"contract"`
	TemplateVersion *content.Version   `json:"template_version"`
	ClauseVersions  []*content.Version `json:"clause_versions"`
}

// ValidationConflict blocks completion while hard violations remain. The
// report carries the full fix-list with resolution options.
type ValidationConflict struct {
	ContractID string
	Report     *validation.Report
}

func (e *ValidationConflict) Error() string {
	return fmt.Sprintf("contract %s has unresolved hard conflicts (%d messages)",
		e.ContractID, len(e.Report.Messages))
}
