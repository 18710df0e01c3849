package validation_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/klauselwerk/core/pkg/content"
	"github.com/klauselwerk/core/pkg/rulegraph"
	"github.com/klauselwerk/core/pkg/validation"
)

func clauseVersion(entityID string, rules ...content.Rule) *content.Version {
	return &content.Version{
		ID:       entityID + "-v1",
		EntityID: entityID,
		Kind:     content.KindClause,
		Status:   content.StatusPublished,
		Clause:   &content.ClauseBody{Heading: entityID, Text: "text"},
		Rules:    rules,
	}
}

func buildGraph(t *testing.T, versions ...*content.Version) *rulegraph.Graph {
	t.Helper()
	g, err := rulegraph.Build(versions)
	require.NoError(t, err)
	return g
}

func evaluate(t *testing.T, g *rulegraph.Graph, req validation.Request) *validation.Report {
	t.Helper()
	report, err := validation.New().Evaluate(req, g)
	require.NoError(t, err)
	return report
}

// Two mutually exclusive fee clauses selected together: one hard conflict,
// reported exactly once despite the symmetric rule.
func TestIncompatibleSelectionHasOneConflict(t *testing.T) {
	pauschal := clauseVersion("pauschalhonorar", content.Rule{
		Type: content.RuleIncompatibleWith, Severity: content.SeverityHard,
		Targets: []string{"stundenhonorar"},
		Message: "Pauschalhonorar schließt Stundenhonorar aus.",
	})
	stunden := clauseVersion("stundenhonorar")
	g := buildGraph(t, pauschal, stunden)

	report := evaluate(t, g, validation.Request{
		SelectedVersionIDs: []string{pauschal.ID, stunden.ID},
	})

	assert.Equal(t, validation.StateHasConflicts, report.State)
	require.Len(t, report.Messages, 1)
	m := report.Messages[0]
	assert.Equal(t, content.SeverityHard, m.Severity)
	assert.Equal(t, content.RuleIncompatibleWith, m.RuleType)
	assert.Contains(t, m.Resolutions, validation.ResolutionRemoveClause)
	assert.Contains(t, m.Resolutions, validation.ResolutionReplaceClause)
}

// Both sides declaring the incompatibility must still yield one message.
func TestSymmetricConflictDeclaredTwiceStillDeduplicates(t *testing.T) {
	a := clauseVersion("a", content.Rule{
		Type: content.RuleIncompatibleWith, Severity: content.SeverityHard,
		Targets: []string{"b"}, Message: "a vs b",
	})
	b := clauseVersion("b", content.Rule{
		Type: content.RuleIncompatibleWith, Severity: content.SeverityHard,
		Targets: []string{"a"}, Message: "b vs a",
	})
	g := buildGraph(t, a, b)

	report := evaluate(t, g, validation.Request{
		SelectedVersionIDs: []string{a.ID, b.ID},
	})
	assert.Len(t, report.Messages, 1)
}

// A soft requires with a missing target warns and offers add_clause.
func TestUnmetSoftRequiresWarns(t *testing.T) {
	haftung := clauseVersion("haftungsausschluss", content.Rule{
		Type: content.RuleRequires, Severity: content.SeveritySoft,
		Targets: []string{"gewaehrleistung"},
		Message: "Haftungsausschluss sollte mit Gewährleistung kombiniert werden.",
	})
	g := buildGraph(t, haftung)

	report := evaluate(t, g, validation.Request{
		SelectedVersionIDs: []string{haftung.ID},
	})

	assert.Equal(t, validation.StateHasWarnings, report.State)
	require.Len(t, report.Messages, 1)
	assert.Equal(t, []validation.ResolutionOption{validation.ResolutionAddClause},
		report.Messages[0].Resolutions)
}

func TestRequiresSatisfiedByAnyTarget(t *testing.T) {
	a := clauseVersion("a", content.Rule{
		Type: content.RuleRequires, Severity: content.SeverityHard,
		Targets: []string{"b", "c"}, Message: "needs b or c",
	})
	c := clauseVersion("c")
	g := buildGraph(t, a, c)

	report := evaluate(t, g, validation.Request{
		SelectedVersionIDs: []string{a.ID, c.ID},
	})
	assert.Equal(t, validation.StateValid, report.State)
	assert.Empty(t, report.Messages)
}

func TestScopedToOutsideJurisdictionViolates(t *testing.T) {
	v := clauseVersion("warranty-de", content.Rule{
		Type: content.RuleScopedTo, Severity: content.SeverityHard,
		Targets:           []string{"warranty-de"},
		JurisdictionScope: []string{"DE", "AT"},
		Message:           "only valid in DE/AT",
	})
	g := buildGraph(t, v)

	inScope := evaluate(t, g, validation.Request{
		SelectedVersionIDs: []string{v.ID}, Jurisdiction: "DE",
	})
	assert.Equal(t, validation.StateValid, inScope.State)

	outOfScope := evaluate(t, g, validation.Request{
		SelectedVersionIDs: []string{v.ID}, Jurisdiction: "CH",
	})
	assert.Equal(t, validation.StateHasConflicts, outOfScope.State)
}

// Unmet requires_answer: hard reports the violation, soft deactivates
// silently.
func TestRequiresAnswerPolicy(t *testing.T) {
	hard := clauseVersion("hard-clause", content.Rule{
		Type: content.RuleRequiresAnswer, Severity: content.SeverityHard,
		Condition: &content.Condition{
			QuestionID: "employee_count", Operator: content.OpGreaterThan, Value: 10,
		},
		Message: "requires more than 10 employees",
	})
	soft := clauseVersion("soft-clause", content.Rule{
		Type: content.RuleRequiresAnswer, Severity: content.SeveritySoft,
		Condition: &content.Condition{
			QuestionID: "employee_count", Operator: content.OpGreaterThan, Value: 10,
		},
		Message: "intended for more than 10 employees",
	})
	g := buildGraph(t, hard, soft)

	unmet := evaluate(t, g, validation.Request{
		SelectedVersionIDs: []string{hard.ID, soft.ID},
		Answers:            map[string]any{"employee_count": 5},
	})
	assert.Equal(t, validation.StateHasConflicts, unmet.State)
	require.Len(t, unmet.Messages, 1)
	assert.Equal(t, "hard-clause", unmet.Messages[0].SourceEntityID)

	met := evaluate(t, g, validation.Request{
		SelectedVersionIDs: []string{hard.ID, soft.ID},
		Answers:            map[string]any{"employee_count": 25},
	})
	assert.Equal(t, validation.StateValid, met.State)
}

func TestEvaluateRejectsDanglingSelection(t *testing.T) {
	g := buildGraph(t, clauseVersion("a"))
	_, err := validation.New().Evaluate(validation.Request{
		SelectedVersionIDs: []string{"ghost-v1"},
	}, g)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost-v1")
}

// Identical input must produce byte-identical reports, regardless of the
// order the selection arrives in.
func TestEvaluationIsDeterministic(t *testing.T) {
	a := clauseVersion("a",
		content.Rule{Type: content.RuleRequires, Severity: content.SeveritySoft,
			Targets: []string{"x"}, Message: "needs x"},
		content.Rule{Type: content.RuleForbids, Severity: content.SeverityHard,
			Targets: []string{"b"}, Message: "no b"},
	)
	b := clauseVersion("b", content.Rule{
		Type: content.RuleIncompatibleWith, Severity: content.SeverityHard,
		Targets: []string{"c"}, Message: "b vs c",
	})
	c := clauseVersion("c")
	g := buildGraph(t, a, b, c)

	first := evaluate(t, g, validation.Request{
		SelectedVersionIDs: []string{a.ID, b.ID, c.ID},
	})
	firstJSON, err := json.Marshal(first)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again := evaluate(t, g, validation.Request{
			SelectedVersionIDs: []string{c.ID, b.ID, a.ID, b.ID},
		})
		againJSON, err := json.Marshal(again)
		require.NoError(t, err)
		assert.Equal(t, string(firstJSON), string(againJSON))
	}
}

func TestEmptySelectionIsValid(t *testing.T) {
	g := buildGraph(t, clauseVersion("a"))
	report := evaluate(t, g, validation.Request{})
	assert.Equal(t, validation.StateValid, report.State)
	assert.NotNil(t, report.Messages)
	assert.Equal(t, g.Hash(), report.GraphHash)
}
