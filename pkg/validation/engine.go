package validation

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/klauselwerk/core/pkg/content"
	"github.com/klauselwerk/core/pkg/rulegraph"
)

// Engine runs the four-phase evaluation. It is pure and synchronous: no
// I/O, no shared state, no locks. Each call owns its own immutable graph
// snapshot, so any number of evaluations may run concurrently.
type Engine struct {
	logger *slog.Logger
}

// New creates an engine.
func New() *Engine {
	return &Engine{logger: slog.Default().With("component", "validation")}
}

// Evaluate classifies the selection against the graph. The four phases
// always run to completion so the user sees the complete fix-list; no
// short-circuit on the first violation.
//
// Determinism: selected versions are processed in entity-id order and
// rules in their insertion order on the owning version, so identical input
// produces a byte-identical report. The violation set itself is
// order-independent; ordering only fixes presentation.
func (e *Engine) Evaluate(req Request, g *rulegraph.Graph) (*Report, error) {
	selected, err := e.resolveSelection(req.SelectedVersionIDs, g)
	if err != nil {
		return nil, err
	}

	selectedEntities := make(map[string]bool, len(selected))
	for _, v := range selected {
		selectedEntities[v.EntityID] = true
	}

	var messages []Message

	// Phase 1: scope filter.
	for _, v := range selected {
		for _, r := range v.Rules {
			switch r.Type {
			case content.RuleScopedTo:
				if len(r.JurisdictionScope) > 0 && !containsString(r.JurisdictionScope, req.Jurisdiction) {
					messages = append(messages, e.message(v, r, nil))
				}
			case content.RuleRequiresAnswer:
				if !evalCondition(r.Condition, req.Answers) {
					// Hard rules surface the unmet precondition; soft rules
					// deactivate silently.
					if r.Severity == content.SeverityHard {
						messages = append(messages, e.message(v, r, nil))
					}
				}
			}
		}
	}

	// Phase 2: dependency check.
	for _, v := range selected {
		for _, r := range v.Rules {
			if r.Type != content.RuleRequires {
				continue
			}
			if !anyPresent(r.Targets, selectedEntities) {
				messages = append(messages, e.message(v, r, r.Targets))
			}
		}
	}

	// Phase 3: conflict check.
	reportedPairs := make(map[string]bool)
	for _, v := range selected {
		for _, r := range v.Rules {
			switch r.Type {
			case content.RuleForbids:
				var present []string
				for _, t := range r.Targets {
					if selectedEntities[t] {
						present = append(present, t)
					}
				}
				if len(present) > 0 {
					messages = append(messages, e.message(v, r, present))
				}
			case content.RuleIncompatibleWith:
				for _, t := range r.Targets {
					if !selectedEntities[t] {
						continue
					}
					// Symmetric pairs are reported exactly once, regardless
					// of which side declared the rule.
					if key := pairKey(v.EntityID, t); !reportedPairs[key] {
						reportedPairs[key] = true
						messages = append(messages, e.message(v, r, []string{t}))
					}
				}
			}
		}
	}

	// Phase 4: aggregation.
	state := StateValid
	for _, m := range messages {
		if m.Severity == content.SeverityHard {
			state = StateHasConflicts
			break
		}
		state = StateHasWarnings
	}
	if messages == nil {
		messages = []Message{}
	}

	e.logger.Debug("evaluation complete",
		"selected", len(selected), "state", string(state), "messages", len(messages))
	return &Report{State: state, Messages: messages, GraphHash: g.Hash()}, nil
}

// resolveSelection maps the selected ids to versions, rejecting dangling
// references, and fixes the deterministic processing order.
func (e *Engine) resolveSelection(ids []string, g *rulegraph.Graph) ([]*content.Version, error) {
	seen := make(map[string]bool, len(ids))
	selected := make([]*content.Version, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		v, ok := g.Version(id)
		if !ok {
			return nil, fmt.Errorf("validation: selected version %s not in rule graph", id)
		}
		selected = append(selected, v)
	}
	sort.Slice(selected, func(i, j int) bool {
		return selected[i].EntityID < selected[j].EntityID
	})
	return selected, nil
}

func (e *Engine) message(v *content.Version, r content.Rule, targets []string) Message {
	return Message{
		RuleType:        r.Type,
		Severity:        r.Severity,
		SourceEntityID:  v.EntityID,
		SourceVersionID: v.ID,
		TargetEntityIDs: targets,
		Text:            r.Message,
		Suggestion:      r.Suggestion,
		Resolutions:     resolutionsFor(r.Type),
	}
}

func anyPresent(targets []string, selected map[string]bool) bool {
	for _, t := range targets {
		if selected[t] {
			return true
		}
	}
	return false
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func pairKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return a + "\x00" + b
}
