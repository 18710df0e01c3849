// Package content holds the versioned entity model: logical entities
// (clauses, templates), their immutable versions, and the lifecycle
// state machine operating on them.
package content

import (
	"time"
)

// EntityKind distinguishes the two logical entity families.
type EntityKind string

const (
	KindClause   EntityKind = "clause"
	KindTemplate EntityKind = "template"
)

// VersionStatus is the lifecycle state of a Version.
type VersionStatus string

const (
	StatusDraft      VersionStatus = "draft"
	StatusReview     VersionStatus = "review"
	StatusApproved   VersionStatus = "approved"
	StatusPublished  VersionStatus = "published"
	StatusDeprecated VersionStatus = "deprecated"
)

// LogicalEntity is the stable identity of a clause or template across all
// its versions. It is owned by the publisher tenant and is only mutated by
// publish/deprecate events; it is never deleted while any contract instance
// pins one of its versions.
type LogicalEntity struct {
	ID           string     `json:"id"`
	Kind         EntityKind `json:"kind"`
	TenantID     string     `json:"tenant_id"`
	Title        string     `json:"title"`
	Jurisdiction string     `json:"jurisdiction,omitempty"`
	// CurrentPublishedVersionID is empty until the first publish and after a
	// deprecation without successor. It changes only inside the atomic
	// promote/demote transaction.
	CurrentPublishedVersionID string    `json:"current_published_version_id,omitempty"`
	CreatedBy                 string    `json:"created_by"`
	CreatedAt                 time.Time `json:"created_at"`
}

// ClauseBody is the authored content of a clause version.
type ClauseBody struct {
	Heading      string   `json:"heading"`
	Text         string   `json:"text"`
	Placeholders []string `json:"placeholders,omitempty"`
}

// Slot is a position in a template that a clause version fills.
type Slot struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Required bool   `json:"required"`
	// AllowedEntityIDs restricts which clause entities may fill the slot.
	AllowedEntityIDs []string `json:"allowed_entity_ids"`
	DefaultEntityID  string   `json:"default_entity_id,omitempty"`
}

// TemplateBody is the slot structure of a template version.
type TemplateBody struct {
	Description string `json:"description,omitempty"`
	Slots       []Slot `json:"slots"`
}

// Version is an immutable snapshot of a logical entity's content. Once the
// status leaves draft, the body and rules are frozen; only status,
// reviewer, publication metadata and forward-only transitions may change.
type Version struct {
	ID            string        `json:"id"`
	EntityID      string        `json:"entity_id"`
	Kind          EntityKind    `json:"kind"`
	VersionNumber int           `json:"version_number"`
	Status        VersionStatus `json:"status"`
	AuthorID      string        `json:"author_id"`
	ReviewerID    string        `json:"reviewer_id,omitempty"`

	Clause   *ClauseBody   `json:"clause,omitempty"`
	Template *TemplateBody `json:"template,omitempty"`
	Rules    []Rule        `json:"rules,omitempty"`

	// ContentDigest is the RFC 8785 canonical-JSON SHA-256 of body+rules,
	// stamped when the version leaves draft. Reads of post-draft versions
	// verify against it.
	ContentDigest string `json:"content_digest,omitempty"`

	RejectionComment  string     `json:"rejection_comment,omitempty"`
	DeprecationReason string     `json:"deprecation_reason,omitempty"`
	PublishedAt       *time.Time `json:"published_at,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Mutable reports whether content and rules may still change.
func (v *Version) Mutable() bool {
	return v.Status == StatusDraft
}

// Clone returns a deep copy. Stores hand out clones so no caller can reach
// into shared state.
func (v *Version) Clone() *Version {
	cp := *v
	if v.Clause != nil {
		c := *v.Clause
		c.Placeholders = append([]string(nil), v.Clause.Placeholders...)
		cp.Clause = &c
	}
	if v.Template != nil {
		t := *v.Template
		t.Slots = make([]Slot, len(v.Template.Slots))
		for i, s := range v.Template.Slots {
			s.AllowedEntityIDs = append([]string(nil), s.AllowedEntityIDs...)
			t.Slots[i] = s
		}
		cp.Template = &t
	}
	if v.Rules != nil {
		cp.Rules = make([]Rule, len(v.Rules))
		for i, r := range v.Rules {
			cp.Rules[i] = r.clone()
		}
	}
	if v.PublishedAt != nil {
		t := *v.PublishedAt
		cp.PublishedAt = &t
	}
	return &cp
}
