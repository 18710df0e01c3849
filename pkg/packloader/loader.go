// Package packloader imports content packs: YAML bundles of clause and
// template entities with initial draft versions, used to seed a publisher
// tenant's library. Imported versions enter the normal lifecycle as
// drafts; the loader never bypasses the publishing gate.
package packloader

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v3"

	"github.com/klauselwerk/core/pkg/content"
)

// SchemaConstraint is the pack schema range this loader understands.
const SchemaConstraint = "^1.0"

// Pack is one parsed content pack.
type Pack struct {
	Name          string       `yaml:"name"`
	SchemaVersion string       `yaml:"schema_version"`
	Description   string       `yaml:"description,omitempty"`
	Entities      []PackEntity `yaml:"entities"`
}

// PackEntity declares a logical entity and its initial draft.
type PackEntity struct {
	ID           string `yaml:"id"`
	Kind         string `yaml:"kind"`
	Title        string `yaml:"title"`
	Jurisdiction string `yaml:"jurisdiction,omitempty"`
	Author       string `yaml:"author"`

	Clause   *packClause   `yaml:"clause,omitempty"`
	Template *packTemplate `yaml:"template,omitempty"`
	Rules    []packRule    `yaml:"rules,omitempty"`
}

type packClause struct {
	Heading      string   `yaml:"heading"`
	Text         string   `yaml:"text"`
	Placeholders []string `yaml:"placeholders,omitempty"`
}

type packTemplate struct {
	Description string     `yaml:"description,omitempty"`
	Slots       []packSlot `yaml:"slots"`
}

type packSlot struct {
	ID               string   `yaml:"id"`
	Title            string   `yaml:"title"`
	Required         bool     `yaml:"required"`
	AllowedEntityIDs []string `yaml:"allowed_entity_ids"`
	DefaultEntityID  string   `yaml:"default_entity_id,omitempty"`
}

type packRule struct {
	Type              string         `yaml:"type"`
	Severity          string         `yaml:"severity"`
	Targets           []string       `yaml:"targets"`
	JurisdictionScope []string       `yaml:"jurisdiction_scope,omitempty"`
	Condition         *packCondition `yaml:"condition,omitempty"`
	Message           string         `yaml:"message"`
	Suggestion        string         `yaml:"suggestion,omitempty"`
}

type packCondition struct {
	QuestionID string `yaml:"question_id"`
	Operator   string `yaml:"operator"`
	Value      any    `yaml:"value"`
}

// Loader parses and applies content packs.
type Loader struct {
	constraint *semver.Constraints
	logger     *slog.Logger
}

// NewLoader creates a loader accepting SchemaConstraint packs.
func NewLoader() (*Loader, error) {
	c, err := semver.NewConstraint(SchemaConstraint)
	if err != nil {
		return nil, fmt.Errorf("packloader: parse constraint: %w", err)
	}
	return &Loader{
		constraint: c,
		logger:     slog.Default().With("component", "packloader"),
	}, nil
}

// Load parses a single pack file and gates it on the schema version.
func (l *Loader) Load(path string) (*Pack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("packloader: read %s: %w", path, err)
	}
	return l.Parse(data, path)
}

// Parse decodes pack bytes. The name argument is only used in errors.
func (l *Loader) Parse(data []byte, name string) (*Pack, error) {
	var pack Pack
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("packloader: parse %s: %w", name, err)
	}
	if pack.Name == "" {
		return nil, fmt.Errorf("packloader: %s: pack name is required", name)
	}
	v, err := semver.NewVersion(pack.SchemaVersion)
	if err != nil {
		return nil, fmt.Errorf("packloader: %s: invalid schema_version %q: %w", name, pack.SchemaVersion, err)
	}
	if !l.constraint.Check(v) {
		return nil, fmt.Errorf("packloader: %s: schema_version %s outside supported range %s",
			name, pack.SchemaVersion, SchemaConstraint)
	}
	return &pack, nil
}

// LoadDir loads every *.yaml pack in a directory, lexicographic order.
func (l *Loader) LoadDir(dir string) ([]*Pack, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("packloader: read dir %s: %w", dir, err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ext := filepath.Ext(e.Name()); ext == ".yaml" || ext == ".yml" {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	packs := make([]*Pack, 0, len(names))
	for _, name := range names {
		pack, err := l.Load(filepath.Join(dir, name))
		if err != nil {
			return nil, err
		}
		packs = append(packs, pack)
	}
	return packs, nil
}

// Draft converts a pack entity to the lifecycle service's draft input.
func (e *PackEntity) Draft() (content.Draft, error) {
	d := content.Draft{AuthorID: e.Author}
	switch content.EntityKind(e.Kind) {
	case content.KindClause:
		if e.Clause == nil {
			return d, fmt.Errorf("packloader: entity %s: clause body is required", e.ID)
		}
		d.Clause = &content.ClauseBody{
			Heading:      e.Clause.Heading,
			Text:         e.Clause.Text,
			Placeholders: e.Clause.Placeholders,
		}
		for _, r := range e.Rules {
			rule := content.Rule{
				Type:              content.RuleType(r.Type),
				Severity:          content.Severity(r.Severity),
				Targets:           r.Targets,
				JurisdictionScope: r.JurisdictionScope,
				Message:           r.Message,
				Suggestion:        r.Suggestion,
			}
			if !rule.Known() {
				return d, fmt.Errorf("packloader: entity %s: unknown rule type %q", e.ID, r.Type)
			}
			if r.Condition != nil {
				rule.Condition = &content.Condition{
					QuestionID: r.Condition.QuestionID,
					Operator:   content.Operator(r.Condition.Operator),
					Value:      r.Condition.Value,
				}
			}
			d.Rules = append(d.Rules, rule)
		}
	case content.KindTemplate:
		if e.Template == nil {
			return d, fmt.Errorf("packloader: entity %s: template structure is required", e.ID)
		}
		slots := make([]content.Slot, len(e.Template.Slots))
		for i, s := range e.Template.Slots {
			slots[i] = content.Slot{
				ID:               s.ID,
				Title:            s.Title,
				Required:         s.Required,
				AllowedEntityIDs: s.AllowedEntityIDs,
				DefaultEntityID:  s.DefaultEntityID,
			}
		}
		d.Template = &content.TemplateBody{
			Description: e.Template.Description,
			Slots:       slots,
		}
	default:
		return d, fmt.Errorf("packloader: entity %s: unknown kind %q", e.ID, e.Kind)
	}
	return d, nil
}
