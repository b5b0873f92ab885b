// Package validator checks concrete template invocations against the
// contracts recovered by extract. Every answer is three-valued: a rule
// whose outcome depends on information the analysis does not model
// stays unknown and is never reported.
package validator

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/abiiranathan/tagcheck/tagspec"
)

// evalCtx evaluates symbolic views and conditions against one concrete
// invocation's word list.
type evalCtx struct {
	words []string
	env   tagspec.TokenEnv
}

func newEvalCtx(words []string, env tagspec.TokenEnv) *evalCtx {
	return &evalCtx{words: words, env: env}
}

// resolveVar replays a tracked variable's view against the invocation.
// The empty name resolves to the full word list.
func (ev *evalCtx) resolveVar(name string) ([]string, tagspec.Verdict) {
	if name == "" {
		return ev.words, tagspec.VerdictTrue
	}
	view, ok := ev.env[name]
	if !ok {
		// Handlers derive every view from the split call; a name the
		// env never saw is still the base list.
		return ev.words, tagspec.VerdictTrue
	}
	return ev.resolveView(view)
}

// resolveView replays the recorded slice and pop operations. A guard
// that cannot be decided makes the whole window unknown: applying or
// skipping the op would fabricate a window the handler may never build.
func (ev *evalCtx) resolveView(view tagspec.TokenView) ([]string, tagspec.Verdict) {
	if view.Unknown {
		return nil, tagspec.VerdictUnknown
	}
	cur := ev.words
	if view.Start != nil || view.End != nil {
		cur = pySlice(cur, view.Start, view.End)
	}
	for _, op := range view.Ops {
		if op.Guard != nil {
			switch ev.evalExpr(op.Guard) {
			case tagspec.VerdictFalse:
				continue
			case tagspec.VerdictUnknown:
				return nil, tagspec.VerdictUnknown
			}
		}
		switch op.Kind {
		case tagspec.OpSlice:
			cur = pySlice(cur, op.Lo, op.Hi)
		case tagspec.OpPop:
			cur = pyPop(cur, op.Pop)
		}
	}
	return cur, tagspec.VerdictTrue
}

// pySlice mirrors Python slice semantics: negative bounds count from
// the end, everything clamps into range, and an inverted window is
// empty.
func pySlice(s []string, lo, hi *int) []string {
	n := len(s)
	start, end := 0, n
	if lo != nil {
		start = clampIndex(*lo, n)
	}
	if hi != nil {
		end = clampIndex(*hi, n)
	}
	if start >= end {
		return nil
	}
	return s[start:end]
}

func clampIndex(i, n int) int {
	if i < 0 {
		i += n
	}
	if i < 0 {
		return 0
	}
	if i > n {
		return n
	}
	return i
}

// pyPop removes the element at i, counting from the end when negative.
// Out-of-range pops leave the list unchanged rather than guessing.
func pyPop(s []string, i int) []string {
	n := len(s)
	if i < 0 {
		i += n
	}
	if i < 0 || i >= n {
		return s
	}
	out := make([]string, 0, n-1)
	out = append(out, s[:i]...)
	return append(out, s[i+1:]...)
}

// elemAt resolves a token reference to the concrete word it names.
func (ev *evalCtx) elemAt(ref tagspec.TokenRef) (string, tagspec.Verdict) {
	words, v := ev.resolveVar(ref.Var)
	if v != tagspec.VerdictTrue {
		return "", v
	}
	i := ref.Index
	if i < 0 {
		i += len(words)
	}
	if i < 0 || i >= len(words) {
		return "", tagspec.VerdictFalse
	}
	return words[i], tagspec.VerdictTrue
}

// evalExpr decides a recorded condition against the invocation.
func (ev *evalCtx) evalExpr(e tagspec.Expr) tagspec.Verdict {
	switch n := e.(type) {
	case nil:
		return tagspec.VerdictUnknown
	case tagspec.BoolExpr:
		var acc tagspec.Verdict
		if n.Op == tagspec.LogicAnd {
			acc = tagspec.VerdictTrue
			for _, t := range n.Terms {
				acc = acc.And(ev.evalExpr(t))
			}
		} else {
			acc = tagspec.VerdictFalse
			for _, t := range n.Terms {
				acc = acc.Or(ev.evalExpr(t))
			}
		}
		return acc
	case tagspec.NotExpr:
		return ev.evalExpr(n.X).Not()
	case tagspec.CompareExpr:
		return ev.evalCompare(n)
	case tagspec.TruthExpr:
		words, v := ev.resolveVar(n.Var)
		if v != tagspec.VerdictTrue {
			return tagspec.VerdictUnknown
		}
		return tagspec.VerdictOf(len(words) > 0)
	case tagspec.ViewExpr:
		words, v := ev.resolveVar(n.Var)
		if v != tagspec.VerdictTrue {
			return tagspec.VerdictUnknown
		}
		return tagspec.VerdictOf(len(words) > 0)
	case tagspec.PredicateExpr:
		return ev.evalPredicate(n)
	case tagspec.OpaqueExpr:
		return tagspec.VerdictUnknown
	}
	return tagspec.VerdictUnknown
}

func (ev *evalCtx) evalCompare(c tagspec.CompareExpr) tagspec.Verdict {
	switch c.Op {
	case tagspec.CmpIn, tagspec.CmpNotIn:
		return ev.evalMembership(c)
	}

	if li, lok := ev.evalInt(c.Left); lok {
		ri, rok := ev.evalInt(c.Right)
		if !rok {
			return tagspec.VerdictUnknown
		}
		return intCompare(c.Op, li, ri)
	}

	ls, lv := ev.evalString(c.Left)
	if lv == tagspec.VerdictUnknown {
		return tagspec.VerdictUnknown
	}
	if lv == tagspec.VerdictFalse {
		// The position is definitely absent: no literal equals it.
		switch c.Op {
		case tagspec.CmpEq:
			return tagspec.VerdictFalse
		case tagspec.CmpNe:
			return tagspec.VerdictTrue
		}
		return tagspec.VerdictUnknown
	}
	rs, rv := ev.evalString(c.Right)
	if rv != tagspec.VerdictTrue {
		return tagspec.VerdictUnknown
	}
	switch c.Op {
	case tagspec.CmpEq:
		return tagspec.VerdictOf(ls == rs)
	case tagspec.CmpNe:
		return tagspec.VerdictOf(ls != rs)
	}
	return tagspec.VerdictUnknown
}

func (ev *evalCtx) evalMembership(c tagspec.CompareExpr) tagspec.Verdict {
	item, v := ev.evalString(c.Left)
	if v == tagspec.VerdictUnknown {
		return tagspec.VerdictUnknown
	}
	var member tagspec.Verdict
	switch right := c.Right.(type) {
	case tagspec.StrSet:
		if v == tagspec.VerdictFalse {
			// The referenced position does not exist, so no value of
			// the set can be there.
			member = tagspec.VerdictFalse
		} else {
			member = tagspec.VerdictOf(setContains(right.Values, item))
		}
	case tagspec.ViewExpr:
		words, wv := ev.resolveVar(right.Var)
		if wv != tagspec.VerdictTrue {
			return tagspec.VerdictUnknown
		}
		member = tagspec.VerdictOf(setContains(words, item))
	default:
		return tagspec.VerdictUnknown
	}
	if c.Op == tagspec.CmpNotIn {
		return member.Not()
	}
	return member
}

// setContains compares raw words against set values, additionally
// unquoting quoted set literals so 'only' and "only" match the word
// only.
func setContains(set []string, item string) bool {
	for _, s := range set {
		if s == item || unquote(s) == item || s == unquote(item) {
			return true
		}
	}
	return false
}

func intCompare(op tagspec.CmpOp, a, b int) tagspec.Verdict {
	switch op {
	case tagspec.CmpEq:
		return tagspec.VerdictOf(a == b)
	case tagspec.CmpNe:
		return tagspec.VerdictOf(a != b)
	case tagspec.CmpLt:
		return tagspec.VerdictOf(a < b)
	case tagspec.CmpLe:
		return tagspec.VerdictOf(a <= b)
	case tagspec.CmpGt:
		return tagspec.VerdictOf(a > b)
	case tagspec.CmpGe:
		return tagspec.VerdictOf(a >= b)
	}
	return tagspec.VerdictUnknown
}

// evalInt resolves integer-valued expressions (literals and view
// lengths).
func (ev *evalCtx) evalInt(e tagspec.Expr) (int, bool) {
	switch n := e.(type) {
	case tagspec.IntLit:
		return n.Value, true
	case tagspec.LenExpr:
		words, v := ev.resolveVar(n.Var)
		if v != tagspec.VerdictTrue {
			return 0, false
		}
		return len(words), true
	}
	return 0, false
}

// evalString resolves string-valued expressions. The verdict reports
// whether the value exists: false means the referenced position is
// definitely out of range.
func (ev *evalCtx) evalString(e tagspec.Expr) (string, tagspec.Verdict) {
	switch n := e.(type) {
	case tagspec.StrLit:
		return n.Value, tagspec.VerdictTrue
	case tagspec.ElemExpr:
		return ev.elemAt(n.Ref)
	}
	return "", tagspec.VerdictUnknown
}

func (ev *evalCtx) evalPredicate(p tagspec.PredicateExpr) tagspec.Verdict {
	arg, v := ev.evalString(p.Arg)
	if v != tagspec.VerdictTrue {
		return v
	}
	switch {
	case strings.HasPrefix(p.Name, "re:"):
		re, err := compiledPattern(p.Name[len("re:"):])
		if err != nil {
			return tagspec.VerdictUnknown
		}
		return tagspec.VerdictOf(re.MatchString(arg))
	case strings.HasPrefix(p.Name, "hasprefix:"):
		return tagspec.VerdictOf(strings.HasPrefix(arg, p.Name[len("hasprefix:"):]))
	}
	switch p.Name {
	case "IsNumeric":
		return tagspec.VerdictOf(isNumeric(arg))
	case "IsIdentifier":
		return tagspec.VerdictOf(isIdentifier(arg))
	case "IsQuoted":
		return tagspec.VerdictOf(isQuoted(arg))
	}
	return tagspec.VerdictUnknown
}

var (
	patternMu    sync.Mutex
	patternCache = map[string]*regexp.Regexp{}
)

func compiledPattern(pat string) (*regexp.Regexp, error) {
	patternMu.Lock()
	defer patternMu.Unlock()
	if re, ok := patternCache[pat]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pat)
	if err != nil {
		return nil, err
	}
	patternCache[pat] = re
	return re, nil
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	rest := strings.TrimPrefix(strings.TrimPrefix(s, "-"), "+")
	if rest == "" {
		return false
	}
	dot := false
	for _, r := range rest {
		if r == '.' {
			if dot {
				return false
			}
			dot = true
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isIdentifier(s string) bool {
	for i, r := range s {
		alpha := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		if i == 0 && !alpha {
			return false
		}
		if !alpha && (r < '0' || r > '9') {
			return false
		}
	}
	return s != ""
}

func isQuoted(s string) bool {
	if len(s) < 2 {
		return false
	}
	q := s[0]
	return (q == '"' || q == '\'') && s[len(s)-1] == q
}

// isQuoteSet reports whether values holds only quote characters.
func isQuoteSet(values []string) bool {
	if len(values) == 0 {
		return false
	}
	for _, v := range values {
		if v != `"` && v != "'" {
			return false
		}
	}
	return true
}

// quotedWith reports whether word is wrapped in one of the given
// quote characters, the same character on both ends.
func quotedWith(word string, quotes []string) bool {
	if len(word) < 2 {
		return false
	}
	q := word[:1]
	return containsWord(quotes, q) && word[len(word)-1:] == q
}

func unquote(s string) string {
	if isQuoted(s) {
		return s[1 : len(s)-1]
	}
	return s
}

// checkRule decides one extracted rule against the invocation. The
// returned message is meaningful only for a false verdict.
func (ev *evalCtx) checkRule(r *tagspec.ExtractedRule) (tagspec.Verdict, string) {
	verdict, msg := ev.checkRuleBase(r)
	if r.Inverted && r.Kind != tagspec.RuleCompound {
		verdict = verdict.Not()
	}
	if verdict == tagspec.VerdictFalse && msg == "" {
		msg = r.Message
		if msg == "" {
			msg = genericMessage(r, ev)
		}
	}
	return verdict, msg
}

func (ev *evalCtx) checkRuleBase(r *tagspec.ExtractedRule) (tagspec.Verdict, string) {
	switch r.Kind {
	case tagspec.RuleExactCount, tagspec.RuleMinCount, tagspec.RuleMaxCount:
		words, v := ev.resolveVar(r.Var)
		if v != tagspec.VerdictTrue {
			return tagspec.VerdictUnknown, ""
		}
		n := len(words)
		switch r.Kind {
		case tagspec.RuleExactCount:
			return tagspec.VerdictOf(n == r.Count), ""
		case tagspec.RuleMinCount:
			return tagspec.VerdictOf(n >= r.Count), ""
		default:
			return tagspec.VerdictOf(n <= r.Count), ""
		}

	case tagspec.RuleKeywordAtPos:
		word, v := ev.posWord(r)
		if v == tagspec.VerdictUnknown {
			return tagspec.VerdictUnknown, ""
		}
		// A definitely-absent position cannot hold the keyword.
		if v == tagspec.VerdictFalse {
			return tagspec.VerdictFalse, ""
		}
		return tagspec.VerdictOf(word == r.Keyword), ""

	case tagspec.RuleValueInSet:
		word, v := ev.posWord(r)
		if v == tagspec.VerdictUnknown {
			return tagspec.VerdictUnknown, ""
		}
		if v == tagspec.VerdictFalse {
			return tagspec.VerdictFalse, ""
		}
		// An allowed set of nothing but quote characters is the
		// handler testing arg[0]: the argument must be a quoted
		// string using one of those quotes.
		if isQuoteSet(r.Values) {
			if quotedWith(word, r.Values) {
				return tagspec.VerdictTrue, ""
			}
			return tagspec.VerdictFalse, fmt.Sprintf("Expected a quoted string, got '%s'", word)
		}
		return tagspec.VerdictOf(setContains(r.Values, word)), ""

	case tagspec.RuleValueNotInSet:
		word, v := ev.posWord(r)
		if v == tagspec.VerdictUnknown {
			return tagspec.VerdictUnknown, ""
		}
		if v == tagspec.VerdictFalse {
			// Nothing is there, so the forbidden values are not.
			return tagspec.VerdictTrue, ""
		}
		return tagspec.VerdictOf(!setContains(r.Values, word)), ""

	case tagspec.RuleBooleanCheck:
		words, v := ev.resolveVar(r.Var)
		if v != tagspec.VerdictTrue {
			return tagspec.VerdictUnknown, ""
		}
		return tagspec.VerdictOf(len(words) > 0), ""

	case tagspec.RuleRegexMatch:
		word, v := ev.posWord(r)
		if v == tagspec.VerdictUnknown {
			return tagspec.VerdictUnknown, ""
		}
		if v == tagspec.VerdictFalse {
			return tagspec.VerdictFalse, ""
		}
		re, err := compiledPattern(r.Pattern)
		if err != nil {
			return tagspec.VerdictUnknown, ""
		}
		return tagspec.VerdictOf(re.MatchString(word)), ""

	case tagspec.RuleMethodCheck:
		word, v := ev.posWord(r)
		if v == tagspec.VerdictUnknown {
			return tagspec.VerdictUnknown, ""
		}
		if v == tagspec.VerdictFalse {
			return tagspec.VerdictFalse, ""
		}
		return ev.evalPredicate(tagspec.PredicateExpr{Name: r.Method, Arg: tagspec.StrLit{Value: word}}), ""

	case tagspec.RuleComparison:
		return ev.evalExpr(r.Cond), ""

	case tagspec.RuleCompound:
		return ev.checkCompound(r)

	case tagspec.RuleParserState, tagspec.RuleUnknown:
		return tagspec.VerdictUnknown, ""
	}
	return tagspec.VerdictUnknown, ""
}

func (ev *evalCtx) posWord(r *tagspec.ExtractedRule) (string, tagspec.Verdict) {
	if r.Pos == nil {
		return "", tagspec.VerdictUnknown
	}
	return ev.elemAt(*r.Pos)
}

// checkCompound folds subrule verdicts. An "and" fails on its first
// failing sub and carries that sub's message; an "or" fails only when
// every sub fails, reporting the first sub's message.
func (ev *evalCtx) checkCompound(r *tagspec.ExtractedRule) (tagspec.Verdict, string) {
	if r.Op == "and" {
		acc := tagspec.VerdictTrue
		for _, sub := range r.Subrules {
			v, msg := ev.checkRule(sub)
			if v == tagspec.VerdictFalse {
				return tagspec.VerdictFalse, msg
			}
			acc = acc.And(v)
		}
		return acc, ""
	}
	acc := tagspec.VerdictFalse
	var firstMsg string
	for i, sub := range r.Subrules {
		v, msg := ev.checkRule(sub)
		if i == 0 {
			firstMsg = msg
		}
		acc = acc.Or(v)
		if acc == tagspec.VerdictTrue {
			return acc, ""
		}
	}
	if acc == tagspec.VerdictFalse {
		return acc, firstMsg
	}
	return acc, ""
}

// genericMessage synthesizes a diagnostic for rules whose raise site
// carried no literal text.
func genericMessage(r *tagspec.ExtractedRule, ev *evalCtx) string {
	words, v := ev.resolveVar(r.Var)
	got := -1
	if v == tagspec.VerdictTrue {
		got = len(words)
	}
	switch r.Kind {
	case tagspec.RuleExactCount:
		if r.Inverted {
			return fmt.Sprintf("Expected anything but %d tokens", r.Count)
		}
		if got >= 0 {
			return fmt.Sprintf("Expected exactly %d tokens, got %d", r.Count, got)
		}
		return fmt.Sprintf("Expected exactly %d tokens", r.Count)
	case tagspec.RuleMinCount:
		if got >= 0 {
			return fmt.Sprintf("Expected at least %d tokens, got %d", r.Count, got)
		}
		return fmt.Sprintf("Expected at least %d tokens", r.Count)
	case tagspec.RuleMaxCount:
		if got >= 0 {
			return fmt.Sprintf("Expected at most %d tokens, got %d", r.Count, got)
		}
		return fmt.Sprintf("Expected at most %d tokens", r.Count)
	case tagspec.RuleKeywordAtPos:
		return fmt.Sprintf("Expected keyword %q", r.Keyword)
	case tagspec.RuleValueInSet:
		return fmt.Sprintf("Expected one of: %s", strings.Join(r.Values, ", "))
	case tagspec.RuleValueNotInSet:
		return fmt.Sprintf("Value may not be one of: %s", strings.Join(r.Values, ", "))
	case tagspec.RuleRegexMatch:
		return "Argument has an invalid format"
	case tagspec.RuleMethodCheck:
		return "Argument has an invalid format"
	}
	return "Invalid tag arguments"
}
