package validator

import (
	"testing"

	"github.com/abiiranathan/tagcheck/tagspec"
)

func tag(line int, bits ...string) tagspec.TemplateTag {
	return tagspec.TemplateTag{Name: bits[0], Bits: bits, Line: line}
}

func ruleOnly(rules ...tagspec.ContextualRule) *tagspec.TagValidation {
	return &tagspec.TagValidation{Rules: rules}
}

func plain(r *tagspec.ExtractedRule) tagspec.ContextualRule {
	return tagspec.ContextualRule{Rule: r}
}

func TestCountRuleBoundaries(t *testing.T) {
	tests := []struct {
		name string
		rule *tagspec.ExtractedRule
		bits []string
		want int // diagnostics
	}{
		{"min met", &tagspec.ExtractedRule{Kind: tagspec.RuleMinCount, Count: 2}, []string{"cycle", "a"}, 0},
		{"min at boundary", &tagspec.ExtractedRule{Kind: tagspec.RuleMinCount, Count: 2}, []string{"cycle"}, 1},
		{"max met", &tagspec.ExtractedRule{Kind: tagspec.RuleMaxCount, Count: 3}, []string{"x", "a", "b"}, 0},
		{"max exceeded", &tagspec.ExtractedRule{Kind: tagspec.RuleMaxCount, Count: 3}, []string{"x", "a", "b", "c"}, 1},
		{"exact met", &tagspec.ExtractedRule{Kind: tagspec.RuleExactCount, Count: 2}, []string{"block", "nm"}, 0},
		{"exact missed", &tagspec.ExtractedRule{Kind: tagspec.RuleExactCount, Count: 2}, []string{"block"}, 1},
		{"inverted exact", &tagspec.ExtractedRule{Kind: tagspec.RuleExactCount, Count: 3, Inverted: true}, []string{"x", "a", "b"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateTag(tag(1, tt.bits...), ruleOnly(plain(tt.rule)))
			if len(got) != tt.want {
				t.Errorf("diags = %v, want %d", got, tt.want)
			}
		})
	}
}

func TestRuleMessagePreferred(t *testing.T) {
	r := &tagspec.ExtractedRule{
		Kind:    tagspec.RuleMinCount,
		Count:   2,
		Message: "'cycle' tag requires at least one argument",
	}
	got := ValidateTag(tag(3, "cycle"), ruleOnly(plain(r)))
	if len(got) != 1 {
		t.Fatalf("diags = %v", got)
	}
	if got[0].Message != r.Message {
		t.Errorf("message = %q", got[0].Message)
	}
	if got[0].Line != 3 {
		t.Errorf("line = %d", got[0].Line)
	}
}

func TestCompoundOr(t *testing.T) {
	// valid iff len != 6 OR bits[4] == "as"
	rule := &tagspec.ExtractedRule{
		Kind: tagspec.RuleCompound,
		Op:   "or",
		Subrules: []*tagspec.ExtractedRule{
			{Kind: tagspec.RuleExactCount, Count: 6, Inverted: true},
			{Kind: tagspec.RuleKeywordAtPos, Pos: &tagspec.TokenRef{Index: 4}, Keyword: "as"},
		},
	}
	v := ruleOnly(plain(rule))

	if got := ValidateTag(tag(1, "widthratio", "a", "b", "c"), v); len(got) != 0 {
		t.Errorf("4 words: %v", got)
	}
	if got := ValidateTag(tag(1, "widthratio", "a", "b", "c", "as", "x"), v); len(got) != 0 {
		t.Errorf("6 words with as: %v", got)
	}
	if got := ValidateTag(tag(1, "widthratio", "a", "b", "c", "d", "x"), v); len(got) != 1 {
		t.Errorf("6 words without as: %v", got)
	}
}

func TestCompoundAndReportsFirstFailure(t *testing.T) {
	rule := &tagspec.ExtractedRule{
		Kind: tagspec.RuleCompound,
		Op:   "and",
		Subrules: []*tagspec.ExtractedRule{
			{Kind: tagspec.RuleMinCount, Count: 4, Message: "too few"},
			{Kind: tagspec.RuleMaxCount, Count: 6, Message: "too many"},
		},
	}
	got := ValidateTag(tag(1, "widthratio", "a"), ruleOnly(plain(rule)))
	if len(got) != 1 || got[0].Message != "too few" {
		t.Fatalf("diags = %v", got)
	}
	got = ValidateTag(tag(1, "w", "a", "b", "c", "d", "e", "f"), ruleOnly(plain(rule)))
	if len(got) != 1 || got[0].Message != "too many" {
		t.Fatalf("diags = %v", got)
	}
}

func TestPreconditionGating(t *testing.T) {
	// Rule applies only when len(bits) == 4.
	cr := tagspec.ContextualRule{
		Rule: &tagspec.ExtractedRule{Kind: tagspec.RuleKeywordAtPos, Pos: &tagspec.TokenRef{Index: 2}, Keyword: "as"},
		Preconditions: []tagspec.Expr{
			tagspec.CompareExpr{Op: tagspec.CmpEq, Left: tagspec.LenExpr{}, Right: tagspec.IntLit{Value: 4}},
		},
	}
	v := ruleOnly(cr)

	if got := ValidateTag(tag(1, "t", "a", "b"), v); len(got) != 0 {
		t.Errorf("gated off: %v", got)
	}
	if got := ValidateTag(tag(1, "t", "a", "as", "x"), v); len(got) != 0 {
		t.Errorf("satisfied: %v", got)
	}
	if got := ValidateTag(tag(1, "t", "a", "no", "x"), v); len(got) != 1 {
		t.Errorf("violated: %v", got)
	}
}

func TestQuoteSetRequiresQuotedString(t *testing.T) {
	r := &tagspec.ExtractedRule{
		Kind:   tagspec.RuleValueInSet,
		Pos:    &tagspec.TokenRef{Index: 1},
		Values: []string{`"`, "'"},
	}
	v := ruleOnly(plain(r))

	if got := ValidateTag(tag(1, "trans", `"hello"`), v); len(got) != 0 {
		t.Errorf("double quoted: %v", got)
	}
	if got := ValidateTag(tag(1, "trans", "'hello'"), v); len(got) != 0 {
		t.Errorf("single quoted: %v", got)
	}
	got := ValidateTag(tag(1, "trans", "hello"), v)
	if len(got) != 1 {
		t.Fatalf("unquoted: %v", got)
	}
	if got[0].Message != "Expected a quoted string, got 'hello'" {
		t.Errorf("message = %q", got[0].Message)
	}
	// Mismatched quote characters do not count as quoted.
	if got := ValidateTag(tag(1, "trans", `"hello'`), v); len(got) != 1 {
		t.Errorf("mismatched quotes: %v", got)
	}
	// A narrower set binds the quote character.
	dq := ruleOnly(plain(&tagspec.ExtractedRule{
		Kind:   tagspec.RuleValueInSet,
		Pos:    &tagspec.TokenRef{Index: 1},
		Values: []string{`"`},
	}))
	if got := ValidateTag(tag(1, "trans", "'hello'"), dq); len(got) != 1 {
		t.Errorf("wrong quote character: %v", got)
	}
}

func TestUnknownNeverReports(t *testing.T) {
	tests := []*tagspec.ExtractedRule{
		{Kind: tagspec.RuleUnknown, Message: "never shown"},
		{Kind: tagspec.RuleParserState, Message: "never shown"},
		{Kind: tagspec.RuleComparison, Cond: tagspec.OpaqueExpr{Reason: "loop"}},
	}
	for _, r := range tests {
		if got := ValidateTag(tag(1, "x", "a"), ruleOnly(plain(r))); len(got) != 0 {
			t.Errorf("%s rule reported: %v", r.Kind, got)
		}
	}

	// An opaque precondition suppresses an otherwise-failing rule.
	cr := tagspec.ContextualRule{
		Rule:          &tagspec.ExtractedRule{Kind: tagspec.RuleMinCount, Count: 99},
		Preconditions: []tagspec.Expr{tagspec.OpaqueExpr{Reason: "loop"}},
	}
	if got := ValidateTag(tag(1, "x"), ruleOnly(cr)); len(got) != 0 {
		t.Errorf("opaque precondition must gate the rule off: %v", got)
	}
}

func TestEnvViewResolution(t *testing.T) {
	// rest = bits[1:] must be non-empty.
	cr := tagspec.ContextualRule{
		Rule: &tagspec.ExtractedRule{Kind: tagspec.RuleExactCount, Var: "rest", Count: 0, Inverted: true},
		Env: tagspec.TokenEnv{
			"rest": tagspec.TokenView{Ops: []tagspec.ConditionalOp{
				{Kind: tagspec.OpSlice, Lo: tagspec.IntPtr(1)},
			}},
		},
	}
	v := ruleOnly(cr)
	if got := ValidateTag(tag(1, "firstof"), v); len(got) != 1 {
		t.Errorf("empty rest: %v", got)
	}
	if got := ValidateTag(tag(1, "firstof", "a"), v); len(got) != 0 {
		t.Errorf("non-empty rest: %v", got)
	}
}

func TestConditionalViewOps(t *testing.T) {
	// Handlers that pop a trailing clause under a guard: the window
	// depends on the invocation.
	asGuard := tagspec.CompareExpr{
		Op:    tagspec.CmpEq,
		Left:  tagspec.ElemExpr{Ref: tagspec.TokenRef{Index: -2}},
		Right: tagspec.StrLit{Value: "as"},
	}
	cr := tagspec.ContextualRule{
		Rule: &tagspec.ExtractedRule{Kind: tagspec.RuleExactCount, Var: "args", Count: 3},
		Env: tagspec.TokenEnv{
			"args": tagspec.TokenView{Ops: []tagspec.ConditionalOp{
				{Kind: tagspec.OpSlice, Lo: tagspec.IntPtr(1)},
				{Guard: asGuard, Kind: tagspec.OpSlice, Hi: tagspec.IntPtr(-2)},
			}},
		},
	}
	v := ruleOnly(cr)

	// Without "as": window is bits[1:], needs 3 args.
	if got := ValidateTag(tag(1, "t", "a", "b", "c"), v); len(got) != 0 {
		t.Errorf("plain: %v", got)
	}
	// With "as x": the guarded slice drops the capture clause.
	if got := ValidateTag(tag(1, "t", "a", "b", "c", "as", "x"), v); len(got) != 0 {
		t.Errorf("with capture: %v", got)
	}
	if got := ValidateTag(tag(1, "t", "a", "b", "as", "x"), v); len(got) != 1 {
		t.Errorf("short with capture: %v", got)
	}
}

func TestPySliceSemantics(t *testing.T) {
	words := []string{"a", "b", "c", "d"}
	tests := []struct {
		lo, hi *int
		want   []string
	}{
		{tagspec.IntPtr(1), nil, []string{"b", "c", "d"}},
		{nil, tagspec.IntPtr(-1), []string{"a", "b", "c"}},
		{tagspec.IntPtr(-2), nil, []string{"c", "d"}},
		{tagspec.IntPtr(3), tagspec.IntPtr(1), nil},
		{tagspec.IntPtr(0), tagspec.IntPtr(99), []string{"a", "b", "c", "d"}},
		{tagspec.IntPtr(-99), nil, []string{"a", "b", "c", "d"}},
	}
	for _, tt := range tests {
		got := pySlice(words, tt.lo, tt.hi)
		if len(got) != len(tt.want) {
			t.Errorf("pySlice(%v, %v) = %v, want %v", tt.lo, tt.hi, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("pySlice(%v, %v) = %v, want %v", tt.lo, tt.hi, got, tt.want)
				break
			}
		}
	}
}

func TestOptionValidation(t *testing.T) {
	includeOpts := &tagspec.OptionSpec{
		Region:       tagspec.TokenView{Ops: []tagspec.ConditionalOp{{Kind: tagspec.OpSlice, Lo: tagspec.IntPtr(2)}}},
		Valid:        []string{"with", "only"},
		NoDuplicates: true,
		Constraints: map[string]tagspec.OptionConstraint{
			"with": {Kind: tagspec.OptionKwargs, SupportLegacy: true, MinKwargs: 1},
			"only": {Kind: tagspec.OptionBoolean},
		},
	}
	v := &tagspec.TagValidation{Options: includeOpts}

	tests := []struct {
		name string
		bits []string
		want int
	}{
		{"plain", []string{"include", "tpl"}, 0},
		{"with kwargs", []string{"include", "tpl", "with", "a=1", "b=2"}, 0},
		{"with legacy", []string{"include", "tpl", "with", "x", "as", "a", "and", "y", "as", "b"}, 0},
		{"with nothing", []string{"include", "tpl", "with"}, 1},
		{"with only", []string{"include", "tpl", "with", "a=1", "only"}, 0},
		{"unknown option", []string{"include", "tpl", "bogus"}, 1},
		{"duplicate only", []string{"include", "tpl", "only", "only"}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateTag(tag(1, tt.bits...), v)
			if len(got) != tt.want {
				t.Errorf("diags = %v, want %d", got, tt.want)
			}
		})
	}
}

func TestSingleArgOption(t *testing.T) {
	opts := &tagspec.OptionSpec{
		Region: tagspec.TokenView{Ops: []tagspec.ConditionalOp{{Kind: tagspec.OpSlice, Lo: tagspec.IntPtr(1)}}},
		Constraints: map[string]tagspec.OptionConstraint{
			"as":     {Kind: tagspec.OptionSingleArg, ArgDisallow: []string{"silent"}},
			"silent": {Kind: tagspec.OptionBoolean},
		},
	}
	v := &tagspec.TagValidation{Options: opts}

	if got := ValidateTag(tag(1, "cycle", "'a'", "'b'", "as", "nm", "silent"), v); len(got) != 0 {
		t.Errorf("valid cycle: %v", got)
	}
	if got := ValidateTag(tag(1, "cycle", "'a'", "as"), v); len(got) != 1 {
		t.Errorf("as without name: %v", got)
	}
	if got := ValidateTag(tag(1, "cycle", "'a'", "as", "silent"), v); len(got) != 1 {
		t.Errorf("disallowed arg: %v", got)
	}
	// Unknown names pass: the set is open.
	if got := ValidateTag(tag(1, "cycle", "'a'", "'b'", "'c'"), v); len(got) != 0 {
		t.Errorf("open set: %v", got)
	}
}

func TestSignatureValidation(t *testing.T) {
	sig := &tagspec.SignatureSpec{
		FuncName:   "render_now",
		Params:     []string{"format"},
		Defaults:   []string{"tz"},
		AllowAsVar: true,
	}
	v := &tagspec.TagValidation{Signature: sig}

	tests := []struct {
		name    string
		bits    []string
		wantMsg string
	}{
		{"minimal", []string{"now", "'Y-m-d'"}, ""},
		{"with default", []string{"now", "'Y-m-d'", "'UTC'"}, ""},
		{"kwarg", []string{"now", "format='Y'"}, ""},
		{"as var", []string{"now", "'Y'", "as", "stamp"}, ""},
		{"missing", []string{"now"}, "'render_now' did not receive value(s) for the argument(s): 'format'"},
		{"unexpected kwarg", []string{"now", "'Y'", "bogus=1"}, "'render_now' received unexpected keyword argument 'bogus'"},
		{"too many", []string{"now", "'Y'", "'UTC'", "extra"}, "'render_now' received too many positional arguments"},
		{"dup kwarg", []string{"now", "format='Y'", "format='Z'"}, "'render_now' received multiple values for keyword argument 'format'"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateTag(tag(1, tt.bits...), v)
			if tt.wantMsg == "" {
				if len(got) != 0 {
					t.Errorf("diags = %v", got)
				}
				return
			}
			if len(got) != 1 || got[0].Message != tt.wantMsg {
				t.Errorf("diags = %v, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestSignatureKeywordOnly(t *testing.T) {
	// Keyword-only parameters reach us through ingested registries,
	// never from Go handler signatures.
	sig := &tagspec.SignatureSpec{
		FuncName:       "blocktrans",
		Params:         []string{"count"},
		KwOnly:         []string{"context", "trimmed"},
		KwOnlyDefaults: []string{"trimmed"},
	}
	v := &tagspec.TagValidation{Signature: sig}

	if got := ValidateTag(tag(1, "bt", "5", "context='x'"), v); len(got) != 0 {
		t.Errorf("satisfied: %v", got)
	}
	if got := ValidateTag(tag(1, "bt", "5", "context='x'", "trimmed='y'"), v); len(got) != 0 {
		t.Errorf("with default override: %v", got)
	}
	got := ValidateTag(tag(1, "bt", "5"), v)
	if len(got) != 1 || got[0].Message != "'blocktrans' did not receive value(s) for the argument(s): 'context'" {
		t.Errorf("diags = %v", got)
	}
	got = ValidateTag(tag(1, "bt", "5", "'x'"), v)
	if len(got) != 2 ||
		got[0].Message != "'blocktrans' received too many positional arguments" ||
		got[1].Message != "'blocktrans' did not receive value(s) for the argument(s): 'context'" {
		t.Errorf("positional for kw-only: %v", got)
	}
}

func TestUnrestrictedTagPassesEverything(t *testing.T) {
	v := &tagspec.TagValidation{Unrestricted: true, Rules: []tagspec.ContextualRule{
		plain(&tagspec.ExtractedRule{Kind: tagspec.RuleMinCount, Count: 99}),
	}}
	if got := ValidateTag(tag(1, "x"), v); len(got) != 0 {
		t.Errorf("diags = %v", got)
	}
}

func TestIfExpression(t *testing.T) {
	tests := []struct {
		name    string
		bits    []string
		wantMsg string
	}{
		{"simple", []string{"if", "a"}, ""},
		{"boolean", []string{"if", "a", "and", "not", "b", "or", "c"}, ""},
		{"comparison", []string{"if", "a", "==", "b"}, ""},
		{"membership", []string{"if", "a", "not", "in", "b"}, ""},
		{"identity", []string{"if", "a", "is", "not", "None"}, ""},
		{"empty", []string{"if"}, "Unexpected end of expression in if tag."},
		{"trailing operator", []string{"if", "a", "and"}, "Unexpected end of expression in if tag."},
		{"infix as value", []string{"if", "==", "a"}, "Not expecting '==' as infix operator in if tag."},
		{"not as infix", []string{"if", "a", "not", "b"}, "Not expecting 'not' in this position in if tag."},
		{"unused", []string{"if", "a", "b"}, "Unused 'b' at end of if expression."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			diags, _ := ValidateIfExpression(tag(1, tt.bits...))
			if tt.wantMsg == "" {
				if len(diags) != 0 {
					t.Errorf("diags = %v", diags)
				}
				return
			}
			if len(diags) != 1 || diags[0].Message != tt.wantMsg {
				t.Errorf("diags = %v, want %q", diags, tt.wantMsg)
			}
		})
	}
}

func TestFilterValidation(t *testing.T) {
	filters := map[string]*tagspec.FilterSpec{
		"add":     {Name: "add", Args: 2},
		"default": {Name: "default", Args: 2, Defaults: 1},
		"title":   {Name: "title", Args: 1},
		"any":     {Name: "any", Unrestricted: true},
	}

	tests := []struct {
		name    string
		expr    string
		wantMsg string
	}{
		{"ok with arg", "x|add:1", ""},
		{"missing required arg", "x|add", "add requires 2 arguments, 1 provided"},
		{"default covers", "x|default", ""},
		{"no filters", "x", ""},
		{"unknown", "x|bogus", "Invalid filter: 'bogus'"},
		{"pipe in quotes", `x|default:"a|b"`, ""},
		{"arg to unary", "x|title:1", "title takes no argument"},
		{"unrestricted", "x|any:1:2", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateFilterExpression(1, tt.expr, tt.expr, filters)
			if tt.wantMsg == "" {
				if len(got) != 0 {
					t.Errorf("diags = %v", got)
				}
				return
			}
			if len(got) != 1 || got[0].Message != tt.wantMsg {
				t.Errorf("diags = %v, want %q", got, tt.wantMsg)
			}
		})
	}
}
