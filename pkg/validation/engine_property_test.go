//go:build property
// +build property

// Package validation_test property tests: evaluation determinism and
// symmetric conflict dedup over generated rule sets.
package validation_test

import (
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/klauselwerk/core/pkg/content"
	"github.com/klauselwerk/core/pkg/rulegraph"
	"github.com/klauselwerk/core/pkg/validation"
)

// entityPool is the closed universe the generators draw targets from, so
// generated rules mostly reference entities that exist.
var entityPool = []string{"a", "b", "c", "d", "e"}

func genRule() gopter.Gen {
	return gopter.CombineGens(
		gen.IntRange(0, 2),
		gen.IntRange(0, len(entityPool)-1),
		gen.Bool(),
	).Map(func(vals []any) content.Rule {
		kind := vals[0].(int)
		target := entityPool[vals[1].(int)]
		severity := content.SeveritySoft
		if vals[2].(bool) {
			severity = content.SeverityHard
		}
		switch kind {
		case 0:
			return content.Rule{Type: content.RuleRequires, Severity: severity,
				Targets: []string{target}, Message: "requires " + target}
		case 1:
			return content.Rule{Type: content.RuleForbids, Severity: severity,
				Targets: []string{target}, Message: "forbids " + target}
		default:
			return content.Rule{Type: content.RuleIncompatibleWith, Severity: severity,
				Targets: []string{target}, Message: "incompatible " + target}
		}
	})
}

func buildSelection(ruleSets [][]content.Rule) ([]*content.Version, []string) {
	versions := make([]*content.Version, 0, len(ruleSets))
	ids := make([]string, 0, len(ruleSets))
	for i, rules := range ruleSets {
		if i >= len(entityPool) {
			break
		}
		v := &content.Version{
			ID:       entityPool[i] + "-v1",
			EntityID: entityPool[i],
			Kind:     content.KindClause,
			Status:   content.StatusPublished,
			Clause:   &content.ClauseBody{Heading: entityPool[i], Text: "text"},
			Rules:    rules,
		}
		versions = append(versions, v)
		ids = append(ids, v.ID)
	}
	return versions, ids
}

// Property: identical input yields byte-identical reports, and reversing
// the selection order changes nothing.
func TestEvaluationDeterminismProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("reports are byte-identical for identical input", prop.ForAll(
		func(ruleSets [][]content.Rule) bool {
			versions, ids := buildSelection(ruleSets)
			g, err := rulegraph.Build(versions)
			if err != nil {
				return false
			}
			engine := validation.New()

			r1, err1 := engine.Evaluate(validation.Request{SelectedVersionIDs: ids}, g)
			reversed := make([]string, len(ids))
			for i, id := range ids {
				reversed[len(ids)-1-i] = id
			}
			r2, err2 := engine.Evaluate(validation.Request{SelectedVersionIDs: reversed}, g)
			if err1 != nil || err2 != nil {
				return err1 != nil && err2 != nil
			}

			j1, _ := json.Marshal(r1)
			j2, _ := json.Marshal(r2)
			return string(j1) == string(j2)
		},
		gen.SliceOf(gen.SliceOf(genRule())),
	))

	properties.TestingRun(t)
}

// Property: no symmetric incompatible pair is ever reported twice.
func TestSymmetricDedupProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("each incompatible pair appears at most once", prop.ForAll(
		func(ruleSets [][]content.Rule) bool {
			versions, ids := buildSelection(ruleSets)
			g, err := rulegraph.Build(versions)
			if err != nil {
				return false
			}
			report, err := validation.New().Evaluate(
				validation.Request{SelectedVersionIDs: ids}, g)
			if err != nil {
				return false
			}

			pairs := make(map[string]int)
			for _, m := range report.Messages {
				if m.RuleType != content.RuleIncompatibleWith {
					continue
				}
				for _, target := range m.TargetEntityIDs {
					a, b := m.SourceEntityID, target
					if b < a {
						a, b = b, a
					}
					pairs[a+"|"+b]++
				}
			}
			for _, n := range pairs {
				if n > 1 {
					return false
				}
			}
			return true
		},
		gen.SliceOf(gen.SliceOf(genRule())),
	))

	properties.TestingRun(t)
}
