package extract

import (
	"go/ast"
	"go/token"
	"sort"
	"strings"

	"github.com/abiiranathan/tagcheck/tagspec"
)

// opaqueBlocks recognizes the two handler-level "skip raw content"
// idioms for one tag: an explicit SkipPast call, and a manual
// NextToken loop whose token escapes only through the end-tag check.
func (idx *unitIndex) opaqueBlocks(tagName string, body *ast.BlockStmt, parserVar, tokenVar string) []tagspec.OpaqueBlockSpec {
	var specs []tagspec.OpaqueBlockSpec

	ast.Inspect(body, func(n ast.Node) bool {
		switch stmt := n.(type) {
		case *ast.CallExpr:
			if ends := idx.skipPastEndTags(stmt, parserVar); len(ends) > 0 {
				specs = append(specs, tagspec.OpaqueBlockSpec{
					Name:    tagName,
					EndTags: ends,
					Source:  "skip_past",
				})
			}
		case *ast.ForStmt:
			if ends := idx.manualLoopEndTags(stmt, parserVar); len(ends) > 0 {
				specs = append(specs, tagspec.OpaqueBlockSpec{
					Name:    tagName,
					EndTags: ends,
					Source:  "manual_loop",
				})
			}
		}
		return true
	})

	return specs
}

// skipPastEndTags matches p.SkipPast("endtag", ...) with literal
// arguments only; a computed end tag is dynamic and yields nothing.
func (idx *unitIndex) skipPastEndTags(call *ast.CallExpr, parserVar string) []string {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || !contains(idx.cfg.SkipPastMethods, sel.Sel.Name) {
		return nil
	}
	if recv, ok := sel.X.(*ast.Ident); !ok || (parserVar != "" && recv.Name != parserVar) {
		return nil
	}
	var ends []string
	for _, arg := range call.Args {
		s, ok := idx.stringValue(arg)
		if !ok {
			return nil
		}
		ends = append(ends, s)
	}
	return ends
}

// manualLoopEndTags matches:
//
//	for {
//	    t := p.NextToken()
//	    if t.Contents == "endcomment" { break }
//	}
//
// The loop only counts as opaque when the token variable is used
// nowhere except the end-tag checks: a loop that also stores or
// inspects the token is consuming content, not skipping it.
func (idx *unitIndex) manualLoopEndTags(loop *ast.ForStmt, parserVar string) []string {
	if loop.Cond != nil || loop.Init != nil || loop.Post != nil {
		return nil
	}
	tokenVar := idx.nextTokenVar(loop.Body, parserVar)
	if tokenVar == "" {
		return nil
	}

	ends, clean := idx.endTagChecks(loop.Body, tokenVar)
	if !clean || len(ends) == 0 {
		return nil
	}
	return ends
}

// nextTokenVar finds t := p.NextToken() (or t, err := ...) at the top
// of the loop body.
func (idx *unitIndex) nextTokenVar(body *ast.BlockStmt, parserVar string) string {
	for _, s := range body.List {
		assign, ok := s.(*ast.AssignStmt)
		if !ok || len(assign.Rhs) != 1 {
			continue
		}
		call, ok := assign.Rhs[0].(*ast.CallExpr)
		if !ok {
			continue
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok || !contains(idx.cfg.NextTokenMethods, sel.Sel.Name) {
			continue
		}
		if recv, ok := sel.X.(*ast.Ident); !ok || (parserVar != "" && recv.Name != parserVar) {
			continue
		}
		if id, ok := assign.Lhs[0].(*ast.Ident); ok && id.Name != "_" {
			return id.Name
		}
	}
	return ""
}

// endTagChecks collects the literals the token's contents are compared
// against in break/return guards, and verifies the token has no other
// use.
func (idx *unitIndex) endTagChecks(body *ast.BlockStmt, tokenVar string) (ends []string, clean bool) {
	sanctioned := make(map[ast.Node]bool)

	ast.Inspect(body, func(n ast.Node) bool {
		ifStmt, ok := n.(*ast.IfStmt)
		if !ok {
			return true
		}
		if !terminatesLoop(ifStmt.Body) {
			return true
		}
		lits := contentEqualities(ifStmt.Cond, tokenVar, idx, sanctioned)
		ends = append(ends, lits...)
		return true
	})

	// Any token use outside the sanctioned comparisons disqualifies
	// the loop.
	clean = true
	ast.Inspect(body, func(n ast.Node) bool {
		if sanctioned[n] {
			return false
		}
		if id, ok := n.(*ast.Ident); ok && id.Name == tokenVar {
			clean = false
			return false
		}
		// Skip the binding assignment itself.
		if assign, ok := n.(*ast.AssignStmt); ok {
			if lhs, isIdent := assign.Lhs[0].(*ast.Ident); isIdent && lhs.Name == tokenVar {
				for _, rhs := range assign.Rhs {
					ast.Inspect(rhs, func(m ast.Node) bool {
						if id, ok := m.(*ast.Ident); ok && id.Name == tokenVar {
							clean = false
						}
						return true
					})
				}
				return false
			}
		}
		return true
	})
	return ends, clean
}

// contentEqualities pulls "t.Contents == lit" / "t.Name() == lit"
// terms out of a (possibly conjunctive) condition, marking the token
// references it accounts for.
func contentEqualities(cond ast.Expr, tokenVar string, idx *unitIndex, sanctioned map[ast.Node]bool) []string {
	switch n := cond.(type) {
	case *ast.ParenExpr:
		return contentEqualities(n.X, tokenVar, idx, sanctioned)
	case *ast.BinaryExpr:
		switch n.Op {
		case token.LAND, token.LOR:
			left := contentEqualities(n.X, tokenVar, idx, sanctioned)
			return append(left, contentEqualities(n.Y, tokenVar, idx, sanctioned)...)
		case token.EQL:
			if tokenContentExpr(n.X, tokenVar) {
				if s, ok := idx.stringValue(n.Y); ok {
					sanctioned[n.X] = true
					return []string{s}
				}
			}
			if tokenContentExpr(n.Y, tokenVar) {
				if s, ok := idx.stringValue(n.X); ok {
					sanctioned[n.Y] = true
					return []string{s}
				}
			}
		}
	}
	return nil
}

// tokenContentExpr reports whether e reads the token's textual
// content: t.Contents or t.Name().
func tokenContentExpr(e ast.Expr, tokenVar string) bool {
	switch n := e.(type) {
	case *ast.SelectorExpr:
		id, ok := n.X.(*ast.Ident)
		return ok && id.Name == tokenVar && (n.Sel.Name == "Contents" || n.Sel.Name == "Content")
	case *ast.CallExpr:
		sel, ok := n.Fun.(*ast.SelectorExpr)
		if !ok || len(n.Args) != 0 {
			return false
		}
		id, ok := sel.X.(*ast.Ident)
		return ok && id.Name == tokenVar && sel.Sel.Name == "Name"
	}
	return false
}

func terminatesLoop(body *ast.BlockStmt) bool {
	for _, s := range body.List {
		switch s.(type) {
		case *ast.BranchStmt:
			if s.(*ast.BranchStmt).Tok == token.BREAK {
				return true
			}
		case *ast.ReturnStmt:
			return true
		}
	}
	return false
}

// lexerOpaqueBlocks recognizes the engine-lexer verbatim idiom: a
// prefix slice of the raw content compared against "{% tag %}" style
// literals. The resulting spec closes on end<tag> with suffix matching,
// which is how the real lexer pairs named verbatim blocks.
func (idx *unitIndex) lexerOpaqueBlocks() []tagspec.OpaqueBlockSpec {
	names := make(map[string]bool)

	ast.Inspect(idx.file, func(n ast.Node) bool {
		switch node := n.(type) {
		case *ast.BinaryExpr:
			if node.Op != token.EQL {
				return true
			}
			if isStringPrefixSlice(node.X) {
				if s, ok := idx.stringValue(node.Y); ok {
					if name := tagNameFromDelimiterLit(s); name != "" {
						names[name] = true
					}
				}
			}
		case *ast.SwitchStmt:
			if node.Tag == nil || !isStringPrefixSlice(node.Tag) {
				return true
			}
			for _, clause := range node.Body.List {
				cc, ok := clause.(*ast.CaseClause)
				if !ok {
					continue
				}
				for _, v := range cc.List {
					if s, ok := idx.stringValue(v); ok {
						if name := tagNameFromDelimiterLit(s); name != "" {
							names[name] = true
						}
					}
				}
			}
		}
		return true
	})

	ordered := make([]string, 0, len(names))
	for name := range names {
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)

	var specs []tagspec.OpaqueBlockSpec
	for _, name := range ordered {
		specs = append(specs, tagspec.OpaqueBlockSpec{
			Name:        name,
			EndTags:     []string{"end" + name},
			MatchSuffix: true,
			Source:      "lexer",
		})
	}
	return specs
}

// isStringPrefixSlice matches content[:N].
func isStringPrefixSlice(e ast.Expr) bool {
	se, ok := e.(*ast.SliceExpr)
	if !ok || se.Low != nil || se.High == nil {
		return false
	}
	lit, ok := se.High.(*ast.BasicLit)
	return ok && lit.Kind == token.INT
}

// tagNameFromDelimiterLit extracts "verbatim" from "{% verbatim %}" or
// "{% verbatim ".
func tagNameFromDelimiterLit(s string) string {
	if !strings.HasPrefix(s, "{%") {
		return ""
	}
	s = strings.TrimPrefix(s, "{%")
	s = strings.TrimSuffix(strings.TrimSpace(s), "%}")
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}
