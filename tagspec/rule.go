package tagspec

// RuleKind classifies one extracted syntax requirement.
type RuleKind string

const (
	// RuleExactCount requires the token view to hold exactly Count words.
	RuleExactCount RuleKind = "exact_count"
	// RuleMinCount requires at least Count words.
	RuleMinCount RuleKind = "min_count"
	// RuleMaxCount requires at most Count words.
	RuleMaxCount RuleKind = "max_count"
	// RuleKeywordAtPos requires the word at Pos to equal Keyword.
	RuleKeywordAtPos RuleKind = "keyword_at_pos"
	// RuleValueInSet requires the word at Pos to be one of Values.
	RuleValueInSet RuleKind = "value_in_set"
	// RuleValueNotInSet requires the word at Pos to be none of Values.
	RuleValueNotInSet RuleKind = "value_not_in_set"
	// RuleBooleanCheck requires the view to be non-empty (or empty
	// when inverted).
	RuleBooleanCheck RuleKind = "boolean_check"
	// RuleRegexMatch requires the word at Pos to match Pattern.
	RuleRegexMatch RuleKind = "regex_match"
	// RuleMethodCheck requires a well-known predicate (Method) to hold
	// for the word at Pos.
	RuleMethodCheck RuleKind = "method_check"
	// RuleParserState marks a raise guarded by compiler state we do not
	// model (nesting depth, seen-tag registries). Never checked.
	RuleParserState RuleKind = "parser_state"
	// RuleComparison carries a general condition (Cond) that raised;
	// validity is its three-valued negation.
	RuleComparison RuleKind = "comparison"
	// RuleCompound combines Subrules with Op ("and"/"or").
	RuleCompound RuleKind = "compound"
	// RuleUnknown marks an unclassifiable raise. Never checked.
	RuleUnknown RuleKind = "unknown"
)

// ExtractedRule is one classified validity requirement recovered from a
// raise site. The rule states what a VALID invocation looks like: the
// extractor has already inverted the raise condition. Immutable once
// built.
type ExtractedRule struct {
	Kind RuleKind `json:"kind"`

	// Var names the token view the rule inspects; empty means the
	// handler's base word list.
	Var string `json:"var,omitempty"`

	// Count is the bound for the three count kinds.
	Count int `json:"count,omitempty"`

	// Pos locates the word for positional kinds.
	Pos *TokenRef `json:"pos,omitempty"`

	Keyword string   `json:"keyword,omitempty"`
	Values  []string `json:"values,omitempty"`
	Pattern string   `json:"pattern,omitempty"`
	Method  string   `json:"method,omitempty"`

	// Cond is the full condition for RuleComparison. It crosses JSON
	// through the expression envelope in exprjson.go.
	Cond Expr `json:"cond,omitempty"`

	// Op and Subrules are set for RuleCompound only.
	Op       string           `json:"op,omitempty"`
	Subrules []*ExtractedRule `json:"subrules,omitempty"`

	// Inverted flips the rule's sense for kinds without a dedicated
	// dual (membership kinds swap instead, see Negate).
	Inverted bool `json:"inverted,omitempty"`

	// Message is the literal error text from the raise site, when one
	// was recoverable. Used verbatim in diagnostics.
	Message string `json:"message,omitempty"`
}

// Negate returns the logical inverse of r. Compound rules apply
// De Morgan: AND and OR swap and every subrule is negated. Membership
// kinds swap in-set and not-in-set. Everything else flips Inverted, so
// negating twice always yields an equivalent rule.
func Negate(r *ExtractedRule) *ExtractedRule {
	out := *r
	switch r.Kind {
	case RuleCompound:
		if r.Op == "and" {
			out.Op = "or"
		} else {
			out.Op = "and"
		}
		out.Subrules = make([]*ExtractedRule, len(r.Subrules))
		for i, sub := range r.Subrules {
			out.Subrules[i] = Negate(sub)
		}
	case RuleValueInSet:
		out.Kind = RuleValueNotInSet
	case RuleValueNotInSet:
		out.Kind = RuleValueInSet
	default:
		out.Inverted = !r.Inverted
	}
	return &out
}

// ContextualRule pairs a rule with the boolean preconditions of its
// enclosing branches and a snapshot of the token environment at the
// raise site. The rule applies to an invocation only when every
// precondition evaluates true against that invocation's words.
type ContextualRule struct {
	Rule          *ExtractedRule `json:"rule"`
	Preconditions []Expr         `json:"preconditions,omitempty"`
	Env           TokenEnv       `json:"env,omitempty"`
}
