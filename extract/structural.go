package extract

import (
	"go/ast"
	"go/token"
	"strings"

	"github.com/abiiranathan/tagcheck/tagspec"
)

// stopTag is one resolved stop-tag argument of a Parse call.
type stopTag struct {
	name string
	// suffixVar names the handler variable whose value the end tag
	// repeats as a suffix ("endblock name"), empty otherwise.
	suffixVar string
}

// structural recovers the block grammar a handler drives: Parse calls
// with literal stop tags (directly or through one level of local
// indirection), repeatable and terminal middle-tag shapes, end-tag
// suffix requirements, and conditional inner-tag rules. Best effort
// throughout: an unrecognized shape contributes nothing.
func (idx *unitIndex) structural(tagName string, body *ast.BlockStmt, parserVar, tokenVar string, ex *ruleExtractor, bundle *tagspec.Bundle) {
	sets := idx.parseStopSets(tagName, body, parserVar, 0)
	if len(sets) > 0 {
		if spec, ok := buildBlockSpec(tagName, sets, body, ex); ok {
			bundle.BlockSpecs = append(bundle.BlockSpecs, spec)
		}
	}

	idx.manualStructuralLoop(tagName, body, parserVar, bundle, ex)
}

// parseStopSets collects the stop-tag set of every Parse call reachable
// from body, following calls into local functions that receive the
// parser one level deep.
func (idx *unitIndex) parseStopSets(tagName string, body *ast.BlockStmt, parserVar string, depth int) [][]stopTag {
	var sets [][]stopTag
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}

		if set, ok := idx.stopTagsOf(tagName, call, parserVar); ok {
			sets = append(sets, set)
			return true
		}

		// One-hop indirection: a node constructor or local helper
		// holding the Parse call.
		if depth > 0 {
			return true
		}
		fn, ok := call.Fun.(*ast.Ident)
		if !ok {
			return true
		}
		decl := idx.funcs[fn.Name]
		if decl == nil || decl.Body == nil || !passesIdent(call.Args, parserVar) {
			return true
		}
		innerParser, _ := handlerParams(decl.Type)
		sets = append(sets, idx.parseStopSets(tagName, decl.Body, innerParser, depth+1)...)
		return true
	})
	return sets
}

// stopTagsOf resolves one Parse call's arguments. The whole call is
// dropped when any argument stays unreadable, so a partially resolved
// stop set never fabricates a grammar.
func (idx *unitIndex) stopTagsOf(tagName string, call *ast.CallExpr, parserVar string) ([]stopTag, bool) {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || !contains(idx.cfg.ParseMethods, sel.Sel.Name) {
		return nil, false
	}
	if recv, ok := sel.X.(*ast.Ident); !ok || (parserVar != "" && recv.Name != parserVar) {
		return nil, false
	}

	args := call.Args
	if len(args) == 1 {
		if comp, ok := args[0].(*ast.CompositeLit); ok {
			args = comp.Elts
		}
	}

	var set []stopTag
	for _, arg := range args {
		st, ok := idx.resolveStopArg(tagName, arg)
		if !ok {
			return nil, false
		}
		set = append(set, st)
	}
	return set, len(set) > 0
}

func (idx *unitIndex) resolveStopArg(tagName string, arg ast.Expr) (stopTag, bool) {
	if s, ok := idx.stringValue(arg); ok {
		return stopTag{name: s}, true
	}
	switch n := arg.(type) {
	case *ast.BinaryExpr:
		if n.Op != token.ADD {
			return stopTag{}, false
		}
		lit, ok := idx.stringValue(n.X)
		if !ok {
			return stopTag{}, false
		}
		if strings.HasSuffix(lit, " ") {
			// "endblock " + name: a suffixed end-tag variant.
			if id, ok := n.Y.(*ast.Ident); ok {
				return stopTag{name: strings.TrimSpace(lit), suffixVar: id.Name}, true
			}
			return stopTag{}, false
		}
		if lit == "end" {
			// "end" + name: the dynamic end tag of an aliased block.
			return stopTag{name: "end" + tagName}, true
		}
	case *ast.CallExpr:
		// fmt.Sprintf("endblock %s", name)
		sel, ok := n.Fun.(*ast.SelectorExpr)
		if !ok || sel.Sel.Name != "Sprintf" || len(n.Args) != 2 {
			return stopTag{}, false
		}
		format, ok := idx.stringValue(n.Args[0])
		if !ok || !strings.HasSuffix(format, " %s") {
			return stopTag{}, false
		}
		if id, ok := n.Args[1].(*ast.Ident); ok {
			return stopTag{name: strings.TrimSuffix(format, " %s"), suffixVar: id.Name}, true
		}
	}
	return stopTag{}, false
}

// buildBlockSpec classifies the collected stop tags into end and middle
// sets and infers middle-tag behavior from the loop and branch shapes
// around the Parse calls.
func buildBlockSpec(tagName string, sets [][]stopTag, body *ast.BlockStmt, ex *ruleExtractor) (tagspec.BlockTagSpec, bool) {
	spec := tagspec.BlockTagSpec{Start: []string{tagName}, EndSuffixIndex: -1}

	seen := make(map[string]bool)
	for _, set := range sets {
		for _, st := range set {
			if st.suffixVar != "" {
				spec.EndSuffixIndex = ex.suffixIndexOf(st.suffixVar)
				if !seen[st.name] {
					seen[st.name] = true
					spec.End = append(spec.End, st.name)
				}
				continue
			}
			if seen[st.name] {
				continue
			}
			seen[st.name] = true
			if strings.HasPrefix(st.name, "end") || isSingleton(st.name, sets) {
				spec.End = append(spec.End, st.name)
			} else {
				spec.Middle = append(spec.Middle, st.name)
			}
		}
	}
	if len(spec.End) == 0 {
		return spec, false
	}

	for _, m := range spec.Middle {
		if middleInLoopGuard(body, m) {
			spec.Repeatable = append(spec.Repeatable, m)
		}
		if middleIsTerminal(body, m, spec.End, ex) {
			spec.Terminal = append(spec.Terminal, m)
		}
	}
	return spec, true
}

// suffixIndexOf maps the suffix variable back to the opening-tag word
// feeding it; position 1 is the conventional fallback when the binding
// is not a tracked element.
func (ex *ruleExtractor) suffixIndexOf(varName string) int {
	if el, ok := ex.scalars[varName].(tagspec.ElemExpr); ok && el.Ref.Index > 0 {
		return el.Ref.Index
	}
	return 1
}

func isSingleton(name string, sets [][]stopTag) bool {
	for _, set := range sets {
		if len(set) == 1 && set[0].name == name {
			return true
		}
	}
	return false
}

// middleInLoopGuard reports a for-loop re-parsing while the next tag
// still starts with m, the repeatable-middle idiom.
func middleInLoopGuard(body *ast.BlockStmt, m string) bool {
	found := false
	ast.Inspect(body, func(n ast.Node) bool {
		loop, ok := n.(*ast.ForStmt)
		if !ok || loop.Cond == nil {
			return true
		}
		ast.Inspect(loop.Cond, func(c ast.Node) bool {
			call, ok := c.(*ast.CallExpr)
			if !ok {
				return true
			}
			sel, ok := call.Fun.(*ast.SelectorExpr)
			if !ok || sel.Sel.Name != "HasPrefix" || len(call.Args) != 2 {
				return true
			}
			if lit, ok := call.Args[1].(*ast.BasicLit); ok {
				if s := strings.Trim(lit.Value, "`\""); s == m || strings.HasPrefix(s, m) {
					found = true
					return false
				}
			}
			return true
		})
		return !found
	})
	return found
}

// middleIsTerminal reports an equality branch on m whose body parses
// forward with end tags only.
func middleIsTerminal(body *ast.BlockStmt, m string, ends []string, ex *ruleExtractor) bool {
	found := false
	ast.Inspect(body, func(n ast.Node) bool {
		ifStmt, ok := n.(*ast.IfStmt)
		if !ok {
			return true
		}
		if !equalsLiteral(ifStmt.Cond, m) {
			return true
		}
		ast.Inspect(ifStmt.Body, func(c ast.Node) bool {
			call, ok := c.(*ast.CallExpr)
			if !ok {
				return true
			}
			set, ok := ex.idx.stopTagsOf("", call, "")
			if !ok {
				return true
			}
			for _, st := range set {
				if !contains(ends, st.name) {
					return true
				}
			}
			found = true
			return false
		})
		return !found
	})
	return found
}

// equalsLiteral matches <something>.Contents == "m" (either side, and
// through Name() calls).
func equalsLiteral(cond ast.Expr, m string) bool {
	bin, ok := cond.(*ast.BinaryExpr)
	if !ok || bin.Op != token.EQL {
		return false
	}
	for _, pair := range [][2]ast.Expr{{bin.X, bin.Y}, {bin.Y, bin.X}} {
		if lit, ok := pair[1].(*ast.BasicLit); ok && strings.Trim(lit.Value, "`\"") == m {
			if isContentRead(pair[0]) {
				return true
			}
		}
	}
	return false
}

func isContentRead(e ast.Expr) bool {
	switch n := e.(type) {
	case *ast.SelectorExpr:
		return n.Sel.Name == "Contents" || n.Sel.Name == "Content"
	case *ast.CallExpr:
		if sel, ok := n.Fun.(*ast.SelectorExpr); ok {
			return sel.Sel.Name == "Name" || sel.Sel.Name == "Contents"
		}
	}
	return false
}

// manualStructuralLoop handles block tags that read their body token
// by token (the translation-block idiom): end checks close the block,
// a hard-coded inner-delimiter rejection marks the middle tag, and an
// option-membership test on the opening words flips whether that inner
// tag is required or forbidden.
func (idx *unitIndex) manualStructuralLoop(tagName string, body *ast.BlockStmt, parserVar string, bundle *tagspec.Bundle, ex *ruleExtractor) {
	ast.Inspect(body, func(n ast.Node) bool {
		loop, ok := n.(*ast.ForStmt)
		if !ok || loop.Cond != nil || loop.Init != nil {
			return true
		}
		tokenVar := idx.nextTokenVar(loop.Body, parserVar)
		if tokenVar == "" {
			return true
		}
		if _, clean := idx.endTagChecks(loop.Body, tokenVar); clean {
			// A clean loop is an opaque block, not a structural one.
			return true
		}

		ends, inner := idx.manualLoopDelimiters(loop.Body, tokenVar, tagName)
		if len(ends) == 0 {
			return true
		}

		spec := tagspec.BlockTagSpec{
			Start:          []string{tagName},
			End:            ends,
			EndSuffixIndex: -1,
		}
		if inner != "" {
			spec.Middle = []string{inner}
			spec.Terminal = []string{inner}
		}
		bundle.BlockSpecs = append(bundle.BlockSpecs, spec)

		if inner != "" {
			if opt := idx.optionMembershipToken(body, ex); opt != "" {
				bundle.InnerTagRules = append(bundle.InnerTagRules,
					tagspec.ConditionalInnerTagRule{
						StartTag: tagName, EndTags: ends, InnerTag: inner,
						OptionToken: opt, WhenPresent: true, Require: true,
					},
					tagspec.ConditionalInnerTagRule{
						StartTag: tagName, EndTags: ends, InnerTag: inner,
						OptionToken: opt, WhenPresent: false, Require: false,
					},
				)
			}
		}
		return false
	})
}

// manualLoopDelimiters separates the literals a manual loop's token is
// compared against into end tags and the inner delimiter guarded by a
// rejection.
func (idx *unitIndex) manualLoopDelimiters(body *ast.BlockStmt, tokenVar, tagName string) (ends []string, inner string) {
	ast.Inspect(body, func(n ast.Node) bool {
		ifStmt, ok := n.(*ast.IfStmt)
		if !ok {
			return true
		}
		lits := comparedLiterals(ifStmt.Cond, tokenVar, idx)
		raises := containsRaise([]ast.Stmt{ifStmt.Body}, idx.cfg)
		for _, l := range lits {
			if strings.HasPrefix(l.value, "end") {
				if terminatesLoop(ifStmt.Body) || !raises {
					ends = appendUnique(ends, l.value)
				}
				continue
			}
			// "!= inner" guarding a raise is the required-delimiter
			// check.
			if l.negated && raises {
				inner = l.value
			}
		}
		return true
	})
	// The dynamic end+name form resolves against this tag's name.
	for i, e := range ends {
		if e == "end" {
			ends[i] = "end" + tagName
		}
	}
	return ends, inner
}

type comparedLit struct {
	value   string
	negated bool
}

func comparedLiterals(cond ast.Expr, tokenVar string, idx *unitIndex) []comparedLit {
	switch n := cond.(type) {
	case *ast.ParenExpr:
		return comparedLiterals(n.X, tokenVar, idx)
	case *ast.BinaryExpr:
		switch n.Op {
		case token.LAND, token.LOR:
			left := comparedLiterals(n.X, tokenVar, idx)
			return append(left, comparedLiterals(n.Y, tokenVar, idx)...)
		case token.EQL, token.NEQ:
			for _, pair := range [][2]ast.Expr{{n.X, n.Y}, {n.Y, n.X}} {
				if !tokenContentExpr(pair[0], tokenVar) {
					continue
				}
				if s, ok := idx.stringValue(pair[1]); ok {
					return []comparedLit{{value: s, negated: n.Op == token.NEQ}}
				}
				// "end" + name concatenation.
				if bin, ok := pair[1].(*ast.BinaryExpr); ok && bin.Op == token.ADD {
					if lit, ok := idx.stringValue(bin.X); ok && lit == "end" {
						return []comparedLit{{value: "end", negated: n.Op == token.NEQ}}
					}
				}
			}
		}
	}
	return nil
}

// optionMembershipToken finds a slices.Contains(bits, "option") test
// over the opening words.
func (idx *unitIndex) optionMembershipToken(body *ast.BlockStmt, ex *ruleExtractor) string {
	var opt string
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok || sel.Sel.Name != "Contains" || len(call.Args) != 2 {
			return true
		}
		id, ok := call.Args[0].(*ast.Ident)
		if !ok {
			return true
		}
		if _, tracked := ex.env[id.Name]; !tracked {
			return true
		}
		if s, ok := idx.stringValue(call.Args[1]); ok {
			opt = s
			return false
		}
		return true
	})
	return opt
}

func appendUnique(list []string, s string) []string {
	for _, v := range list {
		if v == s {
			return list
		}
	}
	return append(list, s)
}

func passesIdent(args []ast.Expr, name string) bool {
	if name == "" {
		return false
	}
	for _, arg := range args {
		if id, ok := arg.(*ast.Ident); ok && id.Name == name {
			return true
		}
	}
	return false
}
