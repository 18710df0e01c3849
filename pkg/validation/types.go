// Package validation evaluates the rule graph against a candidate clause
// selection and interview answers. Inconsistent content is its normal,
// fully-described output, never an error. Only malformed input (unknown
// rule type, dangling reference) is.
package validation

import (
	"github.com/klauselwerk/core/pkg/content"
)

// State is the aggregate outcome of an evaluation.
type State string

const (
	StateValid        State = "valid"
	StateHasWarnings  State = "has_warnings"
	StateHasConflicts State = "has_conflicts"
)

// ResolutionOption is a machine-readable fix suggestion, derived
// mechanically from the rule type that produced the violation.
type ResolutionOption string

const (
	ResolutionAddClause     ResolutionOption = "add_clause"
	ResolutionRemoveClause  ResolutionOption = "remove_clause"
	ResolutionReplaceClause ResolutionOption = "replace_clause"
)

// Message is one violation. The full list is always produced; the engine
// never stops at the first breach, so users see the complete fix-list.
type Message struct {
	RuleType        content.RuleType   `json:"rule_type"`
	Severity        content.Severity   `json:"severity"`
	SourceEntityID  string             `json:"source_entity_id"`
	SourceVersionID string             `json:"source_version_id"`
	TargetEntityIDs []string           `json:"target_entity_ids,omitempty"`
	Text            string             `json:"text"`
	Suggestion      string             `json:"suggestion,omitempty"`
	Resolutions     []ResolutionOption `json:"resolution_options,omitempty"`
}

// Report is the result of one evaluation run. It contains no timestamps or
// other nondeterministic fields: identical input yields a byte-identical
// report.
type Report struct {
	State     State     `json:"validation_state"`
	Messages  []Message `json:"messages"`
	GraphHash string    `json:"graph_hash"`
}

// Request is the input to an evaluation: the selected clause versions, the
// answer snapshot and the contract's jurisdiction.
type Request struct {
	SelectedVersionIDs []string
	Answers            map[string]any
	Jurisdiction       string
}

func resolutionsFor(t content.RuleType) []ResolutionOption {
	switch t {
	case content.RuleRequires:
		return []ResolutionOption{ResolutionAddClause}
	case content.RuleForbids, content.RuleIncompatibleWith:
		return []ResolutionOption{ResolutionRemoveClause, ResolutionReplaceClause}
	default:
		return nil
	}
}
