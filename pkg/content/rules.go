package content

// RuleType is the closed set of rule kinds a clause version may carry.
// The validation engine dispatches on this exhaustively; an unknown type
// is malformed input, never a silent no-op.
type RuleType string

const (
	RuleRequires         RuleType = "requires"
	RuleForbids          RuleType = "forbids"
	RuleIncompatibleWith RuleType = "incompatible_with"
	RuleScopedTo         RuleType = "scoped_to"
	RuleRequiresAnswer   RuleType = "requires_answer"
)

// KnownRuleTypes lists every valid rule type, in dispatch order.
var KnownRuleTypes = []RuleType{
	RuleRequires, RuleForbids, RuleIncompatibleWith, RuleScopedTo, RuleRequiresAnswer,
}

// Severity classifies a rule breach: hard blocks completion, soft warns.
type Severity string

const (
	SeverityHard Severity = "hard"
	SeveritySoft Severity = "soft"
)

// Operator is the closed set of answer-condition comparisons. Conditions
// are plain data interpreted by the engine, never executable expressions,
// so rule graphs stay serializable and shareable across evaluations.
type Operator string

const (
	OpEquals      Operator = "equals"
	OpNotEquals   Operator = "not_equals"
	OpGreaterThan Operator = "greater_than"
	OpLessThan    Operator = "less_than"
	OpContains    Operator = "contains"
	OpIn          Operator = "in"
)

// Condition gates a requires_answer rule on an interview answer.
type Condition struct {
	QuestionID string   `json:"question_id"`
	Operator   Operator `json:"operator"`
	Value      any      `json:"value"`
}

// Rule is a value object embedded in a clause version. Rules are immutable
// once their owning version leaves draft.
//
// Policy for requires_answer with an unmet condition: a hard rule reports a
// violation, a soft rule is silently deactivated.
type Rule struct {
	Type     RuleType `json:"type"`
	Severity Severity `json:"severity"`
	// Targets are logical entity ids. For requires the rule is satisfied by
	// any one of them; for forbids/incompatible_with each present target is
	// a breach.
	Targets []string `json:"targets,omitempty"`
	// JurisdictionScope limits a scoped_to rule to the listed jurisdictions.
	JurisdictionScope []string   `json:"jurisdiction_scope,omitempty"`
	Condition         *Condition `json:"condition,omitempty"`
	Message           string     `json:"message"`
	Suggestion        string     `json:"suggestion,omitempty"`
}

// Known reports whether the rule carries a valid type.
func (r Rule) Known() bool {
	switch r.Type {
	case RuleRequires, RuleForbids, RuleIncompatibleWith, RuleScopedTo, RuleRequiresAnswer:
		return true
	}
	return false
}

func (r Rule) clone() Rule {
	cp := r
	cp.Targets = append([]string(nil), r.Targets...)
	cp.JurisdictionScope = append([]string(nil), r.JurisdictionScope...)
	if r.Condition != nil {
		c := *r.Condition
		cp.Condition = &c
	}
	return cp
}
