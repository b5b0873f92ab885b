// Package extract recovers validation contracts from the source of
// template tag and filter libraries. It never executes analyzed code:
// everything is pattern-matched from the AST, and anything outside the
// recognized idioms degrades to an unrestricted or unknown entry
// instead of a guess.
package extract

// Config names the conventions of the engine whose libraries are being
// analyzed. The defaults match the registry style used by Django-like
// engines for Go; projects with custom wrappers adjust the names.
type Config struct {
	// SyntaxErrorFuncs are function or method names whose call inside
	// a return statement marks a syntax rejection.
	SyntaxErrorFuncs []string `json:"syntax_error_funcs"`

	// Registration method names, grouped by registration shape.
	TagMethods          []string `json:"tag_methods"`
	SimpleTagMethods    []string `json:"simple_tag_methods"`
	InclusionTagMethods []string `json:"inclusion_tag_methods"`
	BlockTagMethods     []string `json:"block_tag_methods"`
	FilterMethods       []string `json:"filter_methods"`

	// SplitMethods split a tag token into its raw word list, the
	// canonical base view.
	SplitMethods []string `json:"split_methods"`

	// SplitFuncs are package-level equivalents (strings.Fields style)
	// whose argument is the token's contents.
	SplitFuncs []string `json:"split_funcs"`

	// SkipPastMethods consume raw input up to a literal end tag.
	SkipPastMethods []string `json:"skip_past_methods"`

	// NextTokenMethods pull one token off the parser's stream.
	NextTokenMethods []string `json:"next_token_methods"`

	// ParseMethods parse forward until one of the given stop tags.
	ParseMethods []string `json:"parse_methods"`

	// Predicates are well-known single-token checks worth modeling.
	Predicates []string `json:"predicates"`

	// KwargFuncs consume key=value pairs from a word list.
	KwargFuncs []string `json:"kwarg_funcs"`

	// InclusionWrapperFuncs are built-in node constructors that accept
	// (parser, token, renderFn, ...) and validate against renderFn's
	// signature.
	InclusionWrapperFuncs []string `json:"inclusion_wrapper_funcs"`

	// ContextTypes name the render-context type a signature-style
	// handler may take as its hidden first parameter.
	ContextTypes []string `json:"context_types"`
}

// DefaultConfig returns the conventions of the stock engine.
func DefaultConfig() *Config {
	return &Config{
		SyntaxErrorFuncs:      []string{"SyntaxError", "SyntaxErrorf", "NewSyntaxError"},
		TagMethods:            []string{"Tag"},
		SimpleTagMethods:      []string{"SimpleTag"},
		InclusionTagMethods:   []string{"InclusionTag"},
		BlockTagMethods:       []string{"SimpleBlockTag"},
		FilterMethods:         []string{"Filter"},
		SplitMethods:          []string{"SplitContents"},
		SplitFuncs:            []string{"Fields", "SmartSplit"},
		SkipPastMethods:       []string{"SkipPast"},
		NextTokenMethods:      []string{"NextToken"},
		ParseMethods:          []string{"Parse", "ParseUntil"},
		Predicates:            []string{"IsNumeric", "IsIdentifier", "IsQuoted"},
		KwargFuncs:            []string{"TokenKwargs", "ParseKwargs"},
		InclusionWrapperFuncs: []string{"NewInclusionNode"},
		ContextTypes:          []string{"Context", "RenderContext"},
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
