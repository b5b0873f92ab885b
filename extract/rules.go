package extract

import (
	"go/ast"
	"strconv"
	"strings"

	"github.com/abiiranathan/tagcheck/tagspec"
)

// ruleExtractor walks one handler body, maintaining the branch
// condition stack and the symbolic token environment, and records one
// ContextualRule per syntax-rejection return.
type ruleExtractor struct {
	idx     *unitIndex
	tagName string

	parserVar string
	tokenVar  string

	env     tagspec.TokenEnv
	scalars map[string]tagspec.Expr

	condStack []tagspec.Expr

	rules   []tagspec.ContextualRule
	options *tagspec.OptionSpec
	raised  bool
	baseVar string
}

func newRuleExtractor(idx *unitIndex, tagName, parserVar, tokenVar string) *ruleExtractor {
	return &ruleExtractor{
		idx:       idx,
		tagName:   tagName,
		parserVar: parserVar,
		tokenVar:  tokenVar,
		env:       make(tagspec.TokenEnv),
		scalars:   make(map[string]tagspec.Expr),
	}
}

func (ex *ruleExtractor) push(e tagspec.Expr) { ex.condStack = append(ex.condStack, e) }
func (ex *ruleExtractor) pop(n int)           { ex.condStack = ex.condStack[:len(ex.condStack)-n] }

// guard returns the conjunction of the live condition stack, nil when
// the stack is empty.
func (ex *ruleExtractor) guard() tagspec.Expr {
	switch len(ex.condStack) {
	case 0:
		return nil
	case 1:
		return ex.condStack[0]
	}
	terms := make([]tagspec.Expr, len(ex.condStack))
	copy(terms, ex.condStack)
	return tagspec.BoolExpr{Op: tagspec.LogicAnd, Terms: terms}
}

func (ex *ruleExtractor) walkStmts(stmts []ast.Stmt) {
	for _, s := range stmts {
		ex.walkStmt(s)
	}
}

func (ex *ruleExtractor) walkStmt(s ast.Stmt) {
	switch n := s.(type) {
	case *ast.AssignStmt:
		ex.handleAssign(n)
	case *ast.DeclStmt:
		ex.handleDecl(n)
	case *ast.IfStmt:
		ex.walkIf(n)
	case *ast.SwitchStmt:
		ex.walkSwitch(n)
	case *ast.TypeSwitchStmt:
		ex.push(tagspec.OpaqueExpr{Reason: "type-switch"})
		for _, clause := range n.Body.List {
			if cc, ok := clause.(*ast.CaseClause); ok {
				ex.walkStmts(cc.Body)
			}
		}
		ex.pop(1)
	case *ast.ForStmt:
		ex.walkLoop(n.Body, n)
	case *ast.RangeStmt:
		ex.walkLoop(n.Body, n)
	case *ast.ReturnStmt:
		ex.checkRaise(n)
	case *ast.BlockStmt:
		ex.walkStmts(n.List)
	}
}

func (ex *ruleExtractor) handleDecl(d *ast.DeclStmt) {
	gen, ok := d.Decl.(*ast.GenDecl)
	if !ok {
		return
	}
	for _, spec := range gen.Specs {
		vs, ok := spec.(*ast.ValueSpec)
		if !ok {
			continue
		}
		for i, name := range vs.Names {
			if i < len(vs.Values) {
				ex.assign(name, vs.Values[i])
			}
		}
	}
}

func (ex *ruleExtractor) handleAssign(a *ast.AssignStmt) {
	if len(a.Lhs) == len(a.Rhs) {
		for i := range a.Lhs {
			if id, ok := a.Lhs[i].(*ast.Ident); ok {
				ex.assign(id, a.Rhs[i])
			}
		}
		return
	}
	// Multi-value call assignments carry nothing we track; a tracked
	// destination is downgraded rather than guessed at.
	for _, lhs := range a.Lhs {
		if id, ok := lhs.(*ast.Ident); ok {
			ex.downgrade(id.Name)
		}
	}
}

func (ex *ruleExtractor) assign(lhs *ast.Ident, rhs ast.Expr) {
	if lhs.Name == "_" {
		return
	}
	switch r := rhs.(type) {
	case *ast.CallExpr:
		if ex.isSplitCall(r) {
			ex.env[lhs.Name] = tagspec.TokenView{}
			if ex.baseVar == "" {
				ex.baseVar = lhs.Name
			}
			return
		}
		if conv := ex.convertCall(r); conv != nil {
			ex.scalars[lhs.Name] = conv
			return
		}
	case *ast.SliceExpr:
		if ex.assignSlice(lhs.Name, r) {
			return
		}
	case *ast.IndexExpr:
		if ref, ok := ex.elemRef(r); ok {
			ex.scalars[lhs.Name] = tagspec.ElemExpr{Ref: ref}
			return
		}
	case *ast.Ident:
		if src, ok := ex.env[r.Name]; ok {
			ex.env[lhs.Name] = src.Clone()
			return
		}
		if src, ok := ex.scalars[r.Name]; ok {
			ex.scalars[lhs.Name] = src
			return
		}
	}
	ex.downgrade(lhs.Name)
}

// assignSlice records v2 = v[lo:hi] as a guarded ConditionalOp on a
// clone of the source view (or the view itself when reassigned).
func (ex *ruleExtractor) assignSlice(target string, se *ast.SliceExpr) bool {
	src, ok := se.X.(*ast.Ident)
	if !ok {
		return false
	}
	view, tracked := ex.env[src.Name]
	if !tracked {
		return false
	}
	if se.Slice3 {
		ex.downgrade(target)
		return true
	}

	var lo, hi *int
	if se.Low != nil {
		v, ok := ex.indexValue(se.Low, src.Name)
		if !ok {
			ex.downgrade(target)
			return true
		}
		lo = tagspec.IntPtr(v)
	}
	if se.High != nil {
		v, ok := ex.indexValue(se.High, src.Name)
		if !ok {
			ex.downgrade(target)
			return true
		}
		hi = tagspec.IntPtr(v)
	}

	guard := ex.guard()
	if containsOpaque(guard) {
		// Mutation under a condition we cannot evaluate: the view can
		// no longer be resolved deterministically.
		ex.downgrade(target)
		if target != src.Name {
			ex.env[target] = tagspec.TokenView{Unknown: true}
		}
		return true
	}

	next := view.Clone()
	next.Ops = append(next.Ops, tagspec.ConditionalOp{
		Guard: guard,
		Kind:  tagspec.OpSlice,
		Lo:    lo,
		Hi:    hi,
	})
	ex.env[target] = next
	return true
}

func (ex *ruleExtractor) downgrade(name string) {
	if v, ok := ex.env[name]; ok {
		v.Unknown = true
		ex.env[name] = v
	}
	delete(ex.scalars, name)
}

// isSplitCall recognizes the canonical base-view construction:
// token.SplitContents() or a package split helper over the token text.
func (ex *ruleExtractor) isSplitCall(call *ast.CallExpr) bool {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok {
		return false
	}
	if recv, ok := sel.X.(*ast.Ident); ok {
		if recv.Name == ex.tokenVar && contains(ex.idx.cfg.SplitMethods, sel.Sel.Name) {
			return true
		}
		if contains(ex.idx.cfg.SplitFuncs, sel.Sel.Name) && len(call.Args) == 1 {
			return mentionsIdent(call.Args[0], ex.tokenVar)
		}
	}
	return false
}

func (ex *ruleExtractor) walkIf(s *ast.IfStmt) {
	if s.Init != nil {
		ex.walkStmt(s.Init)
	}
	g := ex.convertCond(s.Cond)
	ex.push(g)
	ex.walkStmts(s.Body.List)
	ex.pop(1)

	if s.Else == nil {
		return
	}
	ex.push(tagspec.NegateExpr(g))
	switch e := s.Else.(type) {
	case *ast.BlockStmt:
		ex.walkStmts(e.List)
	case *ast.IfStmt:
		ex.walkIf(e)
	}
	ex.pop(1)
}

// walkSwitch handles both forms: a tagless switch is an if/else-if
// chain, a tagged switch synthesizes membership guards per case with
// the default arm negating them all.
func (ex *ruleExtractor) walkSwitch(s *ast.SwitchStmt) {
	if s.Init != nil {
		ex.walkStmt(s.Init)
	}

	if s.Tag == nil {
		var prior []tagspec.Expr
		for _, clause := range s.Body.List {
			cc, ok := clause.(*ast.CaseClause)
			if !ok {
				continue
			}
			pushed := 0
			for _, p := range prior {
				ex.push(tagspec.NegateExpr(p))
				pushed++
			}
			if len(cc.List) > 0 {
				g := ex.convertCond(cc.List[0])
				for _, alt := range cc.List[1:] {
					g = tagspec.BoolExpr{Op: tagspec.LogicOr, Terms: []tagspec.Expr{g, ex.convertCond(alt)}}
				}
				ex.push(g)
				pushed++
				prior = append(prior, g)
			}
			ex.walkStmts(cc.Body)
			ex.pop(pushed)
		}
		return
	}

	tag := ex.convertOperand(s.Tag)
	var caseGuards []tagspec.Expr
	var defaultBody []ast.Stmt
	for _, clause := range s.Body.List {
		cc, ok := clause.(*ast.CaseClause)
		if !ok {
			continue
		}
		if len(cc.List) == 0 {
			defaultBody = cc.Body
			continue
		}
		g := ex.caseGuard(tag, cc.List)
		caseGuards = append(caseGuards, g)
		ex.push(g)
		ex.walkStmts(cc.Body)
		ex.pop(1)
	}
	if defaultBody != nil {
		pushed := 0
		for _, g := range caseGuards {
			ex.push(tagspec.NegateExpr(g))
			pushed++
		}
		if pushed == 0 {
			ex.push(tagspec.OpaqueExpr{Reason: "empty-switch"})
			pushed = 1
		}
		ex.walkStmts(defaultBody)
		ex.pop(pushed)
	}
}

// caseGuard builds the membership guard for one case arm. All-string
// arms collapse to a single in-set test so negation swaps cleanly.
func (ex *ruleExtractor) caseGuard(tag tagspec.Expr, values []ast.Expr) tagspec.Expr {
	var strs []string
	allStrings := true
	for _, v := range values {
		s, ok := ex.idx.stringValue(v)
		if !ok {
			allStrings = false
			break
		}
		strs = append(strs, s)
	}
	if allStrings {
		return tagspec.CompareExpr{Op: tagspec.CmpIn, Left: tag, Right: tagspec.StrSet{Values: strs}}
	}
	g := tagspec.CompareExpr{Op: tagspec.CmpEq, Left: tag, Right: ex.convertOperand(values[0])}
	out := tagspec.Expr(g)
	for _, v := range values[1:] {
		out = tagspec.BoolExpr{Op: tagspec.LogicOr, Terms: []tagspec.Expr{
			out,
			tagspec.CompareExpr{Op: tagspec.CmpEq, Left: tag, Right: ex.convertOperand(v)},
		}}
	}
	return out
}

// walkLoop first tries the option-loop recognizer; anything else walks
// under an opaque guard so interior raises are recorded but can never
// fire against a concrete invocation.
func (ex *ruleExtractor) walkLoop(body *ast.BlockStmt, stmt ast.Stmt) {
	if ex.recognizeOptionLoop(stmt) {
		return
	}
	ex.push(tagspec.OpaqueExpr{Reason: "loop"})
	ex.walkStmts(body.List)
	ex.pop(1)
}

// checkRaise classifies a return whose results include a syntax-error
// construction.
func (ex *ruleExtractor) checkRaise(ret *ast.ReturnStmt) {
	call := ex.syntaxErrorCall(ret)
	if call == nil {
		return
	}
	ex.raised = true

	var msg string
	if len(call.Args) > 0 {
		if s, ok := ex.idx.stringValue(call.Args[0]); ok {
			msg = s
		}
	}

	if len(ex.condStack) == 0 {
		// An unconditional rejection only makes sense on a path we
		// failed to model; record it un-checkable.
		ex.rules = append(ex.rules, tagspec.ContextualRule{
			Rule: &tagspec.ExtractedRule{Kind: tagspec.RuleUnknown, Message: msg},
			Env:  ex.env.Clone(),
		})
		return
	}

	trigger := ex.condStack[len(ex.condStack)-1]
	pre := make([]tagspec.Expr, len(ex.condStack)-1)
	copy(pre, ex.condStack[:len(ex.condStack)-1])

	rule := ex.validityRule(trigger)
	rule.Message = msg
	ex.rules = append(ex.rules, tagspec.ContextualRule{
		Rule:          rule,
		Preconditions: pre,
		Env:           ex.env.Clone(),
	})
}

func (ex *ruleExtractor) syntaxErrorCall(ret *ast.ReturnStmt) *ast.CallExpr {
	for _, res := range ret.Results {
		call, ok := res.(*ast.CallExpr)
		if !ok {
			continue
		}
		var name string
		switch fn := call.Fun.(type) {
		case *ast.Ident:
			name = fn.Name
		case *ast.SelectorExpr:
			name = fn.Sel.Name
		}
		if contains(ex.idx.cfg.SyntaxErrorFuncs, name) {
			return call
		}
	}
	return nil
}

// validityRule turns the condition under which the handler REJECTS
// into the rule a VALID invocation must satisfy. De Morgan applies
// through compounds: raise-if-any becomes all-must-hold and vice
// versa.
func (ex *ruleExtractor) validityRule(raiseCond tagspec.Expr) *tagspec.ExtractedRule {
	switch c := raiseCond.(type) {
	case tagspec.BoolExpr:
		op := "and"
		if c.Op == tagspec.LogicAnd {
			op = "or"
		}
		subs := make([]*tagspec.ExtractedRule, len(c.Terms))
		for i, t := range c.Terms {
			subs[i] = ex.validityRule(t)
		}
		return &tagspec.ExtractedRule{Kind: tagspec.RuleCompound, Op: op, Subrules: subs}

	case tagspec.NotExpr:
		return tagspec.Negate(ex.validityRule(c.X))

	case tagspec.CompareExpr:
		if r := ex.compareValidity(c); r != nil {
			return r
		}
		if containsOpaque(c) {
			return ex.opaqueRule(c)
		}
		return &tagspec.ExtractedRule{Kind: tagspec.RuleComparison, Cond: tagspec.NegateExpr(c)}

	case tagspec.PredicateExpr:
		// Rejecting when the predicate holds: a valid invocation must
		// fail it.
		return tagspec.Negate(predicateRule(c))

	case tagspec.TruthExpr:
		return &tagspec.ExtractedRule{Kind: tagspec.RuleBooleanCheck, Var: c.Var, Inverted: true}

	case tagspec.OpaqueExpr:
		return ex.opaqueRule(c)
	}
	return &tagspec.ExtractedRule{Kind: tagspec.RuleUnknown}
}

func (ex *ruleExtractor) opaqueRule(e tagspec.Expr) *tagspec.ExtractedRule {
	if o, ok := e.(tagspec.OpaqueExpr); ok && o.Reason == "parser-state" {
		return &tagspec.ExtractedRule{Kind: tagspec.RuleParserState}
	}
	if containsParserState(e) {
		return &tagspec.ExtractedRule{Kind: tagspec.RuleParserState}
	}
	return &tagspec.ExtractedRule{Kind: tagspec.RuleUnknown}
}

// predicateRule maps a predicate in raise-position onto its rule form
// before inversion.
func predicateRule(p tagspec.PredicateExpr) *tagspec.ExtractedRule {
	pos := refOf(p.Arg)
	if strings.HasPrefix(p.Name, "re:") {
		return &tagspec.ExtractedRule{Kind: tagspec.RuleRegexMatch, Pattern: p.Name[len("re:"):], Pos: pos, Var: varOfRef(pos)}
	}
	return &tagspec.ExtractedRule{Kind: tagspec.RuleMethodCheck, Method: p.Name, Pos: pos, Var: varOfRef(pos)}
}

// compareValidity classifies the comparison forms with dedicated rule
// kinds; nil falls through to the generic comparison rule.
func (ex *ruleExtractor) compareValidity(c tagspec.CompareExpr) *tagspec.ExtractedRule {
	// Count rules: len(v) <op> N, rejecting side inverted into the
	// closed valid range.
	if l, ok := c.Left.(tagspec.LenExpr); ok {
		if n, ok := c.Right.(tagspec.IntLit); ok {
			switch c.Op {
			case tagspec.CmpLt: // raise if len < N  =>  at least N
				return &tagspec.ExtractedRule{Kind: tagspec.RuleMinCount, Var: l.Var, Count: n.Value}
			case tagspec.CmpLe: // raise if len <= N  =>  at least N+1
				return &tagspec.ExtractedRule{Kind: tagspec.RuleMinCount, Var: l.Var, Count: n.Value + 1}
			case tagspec.CmpGt: // raise if len > N  =>  at most N
				return &tagspec.ExtractedRule{Kind: tagspec.RuleMaxCount, Var: l.Var, Count: n.Value}
			case tagspec.CmpGe: // raise if len >= N  =>  at most N-1
				return &tagspec.ExtractedRule{Kind: tagspec.RuleMaxCount, Var: l.Var, Count: n.Value - 1}
			case tagspec.CmpNe: // raise if len != N  =>  exactly N
				return &tagspec.ExtractedRule{Kind: tagspec.RuleExactCount, Var: l.Var, Count: n.Value}
			case tagspec.CmpEq: // raise if len == N  =>  anything but N
				return &tagspec.ExtractedRule{Kind: tagspec.RuleExactCount, Var: l.Var, Count: n.Value, Inverted: true}
			}
		}
		return nil
	}

	elem, isElem := c.Left.(tagspec.ElemExpr)

	switch c.Op {
	case tagspec.CmpEq, tagspec.CmpNe:
		lit, isLit := c.Right.(tagspec.StrLit)
		if !isElem || !isLit {
			return nil
		}
		if c.Op == tagspec.CmpNe {
			// raise if v[i] != "kw"  =>  keyword required there
			return &tagspec.ExtractedRule{Kind: tagspec.RuleKeywordAtPos, Var: elem.Ref.Var, Pos: &elem.Ref, Keyword: lit.Value}
		}
		// raise if v[i] == "x"  =>  that value is forbidden there
		return &tagspec.ExtractedRule{Kind: tagspec.RuleValueNotInSet, Var: elem.Ref.Var, Pos: &elem.Ref, Values: []string{lit.Value}}

	case tagspec.CmpIn, tagspec.CmpNotIn:
		set, isSet := c.Right.(tagspec.StrSet)
		if !isElem || !isSet {
			return nil
		}
		if c.Op == tagspec.CmpIn {
			return &tagspec.ExtractedRule{Kind: tagspec.RuleValueNotInSet, Var: elem.Ref.Var, Pos: &elem.Ref, Values: set.Values}
		}
		return &tagspec.ExtractedRule{Kind: tagspec.RuleValueInSet, Var: elem.Ref.Var, Pos: &elem.Ref, Values: set.Values}
	}
	return nil
}

func refOf(e tagspec.Expr) *tagspec.TokenRef {
	if el, ok := e.(tagspec.ElemExpr); ok {
		ref := el.Ref
		return &ref
	}
	return nil
}

func varOfRef(r *tagspec.TokenRef) string {
	if r == nil {
		return ""
	}
	return r.Var
}

func containsOpaque(e tagspec.Expr) bool {
	switch c := e.(type) {
	case nil:
		return false
	case tagspec.OpaqueExpr:
		return true
	case tagspec.BoolExpr:
		for _, t := range c.Terms {
			if containsOpaque(t) {
				return true
			}
		}
	case tagspec.NotExpr:
		return containsOpaque(c.X)
	case tagspec.CompareExpr:
		return containsOpaque(c.Left) || containsOpaque(c.Right)
	case tagspec.PredicateExpr:
		return containsOpaque(c.Arg)
	}
	return false
}

func containsParserState(e tagspec.Expr) bool {
	switch c := e.(type) {
	case nil:
		return false
	case tagspec.OpaqueExpr:
		return c.Reason == "parser-state"
	case tagspec.BoolExpr:
		for _, t := range c.Terms {
			if containsParserState(t) {
				return true
			}
		}
	case tagspec.NotExpr:
		return containsParserState(c.X)
	case tagspec.CompareExpr:
		return containsParserState(c.Left) || containsParserState(c.Right)
	case tagspec.PredicateExpr:
		return containsParserState(c.Arg)
	}
	return false
}

func mentionsIdent(e ast.Expr, name string) bool {
	if name == "" {
		return false
	}
	found := false
	ast.Inspect(e, func(n ast.Node) bool {
		if id, ok := n.(*ast.Ident); ok && id.Name == name {
			found = true
			return false
		}
		return true
	})
	return found
}

// unquoteMaybe strips one level of matched quotes; used by option
// extraction on literal allow-lists.
func unquoteMaybe(s string) string {
	if len(s) >= 2 && (s[0] == '"' || s[0] == '\'') && s[len(s)-1] == s[0] {
		if u, err := strconv.Unquote(s); err == nil {
			return u
		}
		return s[1 : len(s)-1]
	}
	return s
}
