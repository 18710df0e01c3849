package content

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/klauselwerk/core/pkg/tenants"
)

// Body shape contracts enforced at the gate (Draft 2020-12). These are the
// same schemas pack loading validates against, so a draft that loads also
// passes the shape check.
const clauseBodySchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["heading", "text"],
	"properties": {
		"heading": {"type": "string", "minLength": 1},
		"text": {"type": "string", "minLength": 1},
		"placeholders": {"type": "array", "items": {"type": "string", "minLength": 1}}
	}
}`

const templateBodySchema = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"required": ["slots"],
	"properties": {
		"description": {"type": "string"},
		"slots": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"required": ["id", "title", "allowed_entity_ids"],
				"properties": {
					"id": {"type": "string", "minLength": 1},
					"title": {"type": "string", "minLength": 1},
					"required": {"type": "boolean"},
					"allowed_entity_ids": {"type": "array", "minItems": 1, "items": {"type": "string", "minLength": 1}},
					"default_entity_id": {"type": "string"}
				}
			}
		}
	}
}`

// CycleFinder detects requires cycles in a candidate ruleset. Implemented
// by rulegraph.Graph; declared here so the gate does not depend on graph
// construction details.
type CycleFinder interface {
	FindCycles() [][]string
}

// GraphBuilder builds the cycle-check graph for a candidate version: the
// publisher's currently published set with the candidate swapped in for
// its own entity.
type GraphBuilder func(ctx context.Context, candidate *Version, published []*Version) (CycleFinder, error)

// Gate is the publishing gate: the checks a version must pass before it
// may enter review. All failed checks are reported together so the author
// fixes the draft once, not check by check.
type Gate struct {
	store          Store
	clauseSchema   *jsonschema.Schema
	templateSchema *jsonschema.Schema
	buildGraph     GraphBuilder
}

// NewGate compiles the body schemas and returns a gate bound to the store.
func NewGate(store Store, buildGraph GraphBuilder) (*Gate, error) {
	compile := func(name, src string) (*jsonschema.Schema, error) {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource(name, strings.NewReader(src)); err != nil {
			return nil, fmt.Errorf("gate: add schema %s: %w", name, err)
		}
		return c.Compile(name)
	}
	cs, err := compile("clause-body.json", clauseBodySchema)
	if err != nil {
		return nil, err
	}
	ts, err := compile("template-body.json", templateBodySchema)
	if err != nil {
		return nil, err
	}
	return &Gate{store: store, clauseSchema: cs, templateSchema: ts, buildGraph: buildGraph}, nil
}

// Check runs every gate against the candidate and returns a GateViolation
// listing all failures, or nil when the version may proceed to review.
func (g *Gate) Check(ctx context.Context, v *Version) error {
	var failures []GateFailure
	add := func(gate, format string, args ...any) {
		failures = append(failures, GateFailure{Gate: gate, Message: fmt.Sprintf(format, args...)})
	}

	g.checkShape(v, add)
	g.checkRules(v, add)
	g.checkTargets(ctx, v, add)
	g.checkAcyclic(ctx, v, add)

	if len(failures) > 0 {
		return &GateViolation{VersionID: v.ID, Failures: failures}
	}
	return nil
}

func (g *Gate) checkShape(v *Version, add func(gate, format string, args ...any)) {
	var body any
	var schema *jsonschema.Schema
	switch v.Kind {
	case KindClause:
		if v.Clause == nil {
			add(GateContentShape, "clause version has no body")
			return
		}
		body, schema = v.Clause, g.clauseSchema
	case KindTemplate:
		if v.Template == nil {
			add(GateContentShape, "template version has no slot structure")
			return
		}
		body, schema = v.Template, g.templateSchema
	default:
		add(GateContentShape, "unknown entity kind %q", v.Kind)
		return
	}

	raw, err := json.Marshal(body)
	if err != nil {
		add(GateContentShape, "body not serializable: %v", err)
		return
	}
	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		add(GateContentShape, "body not decodable: %v", err)
		return
	}
	if err := schema.Validate(decoded); err != nil {
		add(GateContentShape, "body fails schema: %v", err)
	}
}

func (g *Gate) checkRules(v *Version, add func(gate, format string, args ...any)) {
	if v.Kind == KindClause && len(v.Rules) == 0 {
		add(GateRulePresence, "clause version carries no rules; at least one is required")
	}
	for i, r := range v.Rules {
		if !r.Known() {
			add(GateContentShape, "rule %d has unknown type %q", i, r.Type)
		}
		if r.Type == RuleRequiresAnswer && r.Condition == nil {
			add(GateContentShape, "rule %d is requires_answer but has no condition", i)
		}
	}
}

func (g *Gate) checkTargets(ctx context.Context, v *Version, add func(gate, format string, args ...any)) {
	seen := make(map[string]bool)
	for _, r := range v.Rules {
		for _, target := range r.Targets {
			if seen[target] {
				continue
			}
			seen[target] = true
			if _, err := g.store.LoadEntity(ctx, target); err != nil {
				add(GateTargetsResolve, "rule target %q does not resolve to a known entity", target)
			}
		}
	}
}

func (g *Gate) checkAcyclic(ctx context.Context, v *Version, add func(gate, format string, args ...any)) {
	if g.buildGraph == nil {
		return
	}
	published, err := g.store.ListPublished(ctx, tenants.TenantID(ctx))
	if err != nil {
		add(GateAcyclicRequires, "cannot load published set for cycle check: %v", err)
		return
	}
	graph, err := g.buildGraph(ctx, v, published)
	if err != nil {
		add(GateAcyclicRequires, "cannot build rule graph: %v", err)
		return
	}
	for _, cycle := range graph.FindCycles() {
		add(GateAcyclicRequires, "requires cycle: %s", strings.Join(cycle, " → "))
	}
}
