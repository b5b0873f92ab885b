// Package tagspec defines the intermediate representation shared by the
// extraction and validation halves of the engine: rules recovered from
// handler source, symbolic token views, block grammars, and the bundles
// that carry them between libraries and templates.
package tagspec

// OptionConstraintKind classifies what one option name accepts after it.
type OptionConstraintKind string

const (
	// OptionBoolean options stand alone, consuming no argument.
	OptionBoolean OptionConstraintKind = "boolean"
	// OptionSingleArg options consume exactly one following word.
	OptionSingleArg OptionConstraintKind = "single_arg"
	// OptionKwargs options consume key=value pairs until the next
	// recognized option.
	OptionKwargs OptionConstraintKind = "kwargs"
)

// OptionConstraint describes the argument shape of one option.
type OptionConstraint struct {
	Kind OptionConstraintKind `json:"kind"`

	// ArgAllow, when non-empty, whitelists the single argument.
	ArgAllow []string `json:"arg_allow,omitempty"`
	// ArgDisallow blacklists specific single-argument values.
	ArgDisallow []string `json:"arg_disallow,omitempty"`

	// MinKwargs is the minimum number of key=value pairs; ExactCount,
	// when positive, pins the pair count exactly.
	MinKwargs  int `json:"min_kwargs,omitempty"`
	ExactCount int `json:"exact_count,omitempty"`

	// SupportLegacy accepts the historical "value as key" pair syntax
	// with "and" separators in addition to key=value.
	SupportLegacy bool `json:"support_legacy,omitempty"`
}

// OptionSpec describes a handler's trailing option loop: which names it
// accepts, whether duplicates raise, and each name's constraint.
type OptionSpec struct {
	// Var is the token view the loop iterates, for provenance.
	Var string `json:"var,omitempty"`

	// Region is the symbolic window of the word list the loop covers,
	// resolved against the concrete word count at validation time.
	Region TokenView `json:"region"`

	// Valid lists accepted option names; empty means any name passes.
	Valid []string `json:"valid,omitempty"`

	NoDuplicates bool `json:"no_duplicates,omitempty"`

	Constraints map[string]OptionConstraint `json:"constraints,omitempty"`
}

// SignatureSpec is the calling convention of a signature-style handler:
// arguments are validated against declared parameters instead of mined
// raise sites.
type SignatureSpec struct {
	// FuncName is used verbatim in diagnostics.
	FuncName string `json:"func_name"`

	// Params are required positional parameters, in order.
	Params []string `json:"params,omitempty"`
	// Defaults are trailing parameters with default values.
	Defaults []string `json:"defaults,omitempty"`
	// KwOnly parameters accept keyword form only; KwOnlyDefaults is
	// the subset that has defaults. Go handlers cannot declare these,
	// so they only arrive through ingested registries of engines
	// whose signatures can.
	KwOnly         []string `json:"kw_only,omitempty"`
	KwOnlyDefaults []string `json:"kw_only_defaults,omitempty"`

	Varargs bool `json:"varargs,omitempty"`
	Varkw   bool `json:"varkw,omitempty"`

	// TakesContext marks a leading context parameter, hidden from
	// template authors.
	TakesContext bool `json:"takes_context,omitempty"`

	// AllowAsVar permits a trailing "as <name>" capture.
	AllowAsVar bool `json:"allow_as_var,omitempty"`
}

// TagValidation is everything recovered for one tag name. Built during
// extraction, read-only during validation.
type TagValidation struct {
	Name      string           `json:"name"`
	Rules     []ContextualRule `json:"rules,omitempty"`
	Options   *OptionSpec      `json:"options,omitempty"`
	Signature *SignatureSpec   `json:"signature,omitempty"`

	// Unrestricted marks a handler that never raises, or one whose
	// body could not be analyzed: every invocation passes.
	Unrestricted bool `json:"unrestricted,omitempty"`
}

// FilterSpec is the arity contract of one filter. Args counts all
// declared parameters including the piped value; Defaults counts the
// trailing defaulted ones.
type FilterSpec struct {
	Name     string `json:"name"`
	Args     int    `json:"args"`
	Defaults int    `json:"defaults,omitempty"`

	// Unrestricted filters accept any arity (unresolvable handlers).
	Unrestricted bool `json:"unrestricted,omitempty"`
}

// OpaqueBlockSpec marks a tag whose body the engine lexer never
// tokenizes; only the matching end tag is detected.
type OpaqueBlockSpec struct {
	Name    string   `json:"name"`
	EndTags []string `json:"end_tags"`

	// MatchSuffix requires the end tag's trailing words to equal the
	// opening tag's trailing words.
	MatchSuffix bool `json:"match_suffix,omitempty"`

	// Source records which idiom produced the spec: "skip_past",
	// "manual_loop" or "lexer".
	Source string `json:"source,omitempty"`
}

// MergeOpaqueBlocks unions two opaque-block lists by start-tag name.
// Colliding names union their end-tag sets and keep suffix matching if
// either side requires it.
func MergeOpaqueBlocks(a, b []OpaqueBlockSpec) []OpaqueBlockSpec {
	byName := make(map[string]int, len(a))
	out := make([]OpaqueBlockSpec, 0, len(a)+len(b))
	for _, s := range a {
		byName[s.Name] = len(out)
		out = append(out, s)
	}
	for _, s := range b {
		i, ok := byName[s.Name]
		if !ok {
			byName[s.Name] = len(out)
			out = append(out, s)
			continue
		}
		merged := out[i]
		for _, end := range s.EndTags {
			if !containsString(merged.EndTags, end) {
				merged.EndTags = append(merged.EndTags, end)
			}
		}
		merged.MatchSuffix = merged.MatchSuffix || s.MatchSuffix
		out[i] = merged
	}
	return out
}

// BlockTagSpec is one block grammar: which tags open it, which close
// it, and which interior delimiters are legal between them.
type BlockTagSpec struct {
	Start  []string `json:"start"`
	End    []string `json:"end"`
	Middle []string `json:"middle,omitempty"`

	// Repeatable middle tags may appear any number of times; Terminal
	// middle tags end the middle section, after which only End is
	// legal. A middle tag in neither list may appear at most once.
	Repeatable []string `json:"repeatable,omitempty"`
	Terminal   []string `json:"terminal,omitempty"`

	// EndSuffixIndex, when >= 0, names the opening-tag word whose
	// value an end tag may repeat as a suffix ("endblock name").
	EndSuffixIndex int `json:"end_suffix_index"`
}

// ConditionalInnerTagRule requires or forbids an inner delimiter tag
// depending on whether an option token appears on the opening tag.
type ConditionalInnerTagRule struct {
	StartTag string   `json:"start_tag"`
	EndTags  []string `json:"end_tags"`
	InnerTag string   `json:"inner_tag"`

	// OptionToken is the opening-tag word that flips the polarity.
	OptionToken string `json:"option_token"`

	// WhenPresent selects which invocations the rule applies to:
	// those carrying OptionToken (true) or those without it (false).
	WhenPresent bool `json:"when_present"`

	// Require demands InnerTag appear inside the block; false forbids
	// it.
	Require bool `json:"require"`
}

// TemplateTag is one concrete tag invocation under validation: the
// quote-aware word list (tag name included) and its source line.
type TemplateTag struct {
	Name string   `json:"name"`
	Bits []string `json:"bits"`
	Line int      `json:"line"`
}

// Diagnostic is one validation finding, ordered by token-stream
// position within a template.
type Diagnostic struct {
	Line    int    `json:"line"`
	Name    string `json:"name"`
	Raw     string `json:"raw"`
	Message string `json:"message"`
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
