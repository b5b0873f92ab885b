package extract

import (
	"go/ast"
	"go/token"
	"strconv"

	"github.com/abiiranathan/tagcheck/tagspec"
)

// convertCond lowers a Go condition into the shared expression IR.
// Anything outside the modeled language becomes OpaqueExpr, which the
// evaluator treats as indeterminate.
func (ex *ruleExtractor) convertCond(e ast.Expr) tagspec.Expr {
	switch n := e.(type) {
	case *ast.ParenExpr:
		return ex.convertCond(n.X)
	case *ast.BinaryExpr:
		switch n.Op {
		case token.LAND:
			return tagspec.BoolExpr{Op: tagspec.LogicAnd, Terms: []tagspec.Expr{
				ex.convertCond(n.X), ex.convertCond(n.Y),
			}}
		case token.LOR:
			return tagspec.BoolExpr{Op: tagspec.LogicOr, Terms: []tagspec.Expr{
				ex.convertCond(n.X), ex.convertCond(n.Y),
			}}
		case token.EQL, token.NEQ, token.LSS, token.LEQ, token.GTR, token.GEQ:
			return ex.convertCompare(n)
		}
	case *ast.UnaryExpr:
		if n.Op == token.NOT {
			return tagspec.NegateExpr(ex.convertCond(n.X))
		}
	case *ast.Ident:
		if _, ok := ex.env[n.Name]; ok {
			return tagspec.TruthExpr{Var: n.Name}
		}
		if s, ok := ex.scalars[n.Name]; ok {
			return s
		}
	case *ast.CallExpr:
		if conv := ex.convertCall(n); conv != nil {
			return conv
		}
	}
	return tagspec.OpaqueExpr{Reason: ex.opaqueReason(e)}
}

// convertCompare lowers one comparison, flipping operands so tracked
// values end up on the left, and folding nil comparisons against a
// regexp-match binding into the match predicate itself.
func (ex *ruleExtractor) convertCompare(n *ast.BinaryExpr) tagspec.Expr {
	op, ok := cmpOpOf(n.Op)
	if !ok {
		return tagspec.OpaqueExpr{Reason: "operator"}
	}

	// m == nil / m != nil where m binds a FindStringSubmatch result.
	if isNil(n.Y) || isNil(n.X) {
		other := n.X
		if isNil(other) {
			other = n.Y
		}
		if id, ok := other.(*ast.Ident); ok {
			if pred, ok := ex.scalars[id.Name].(tagspec.PredicateExpr); ok {
				if op == tagspec.CmpEq {
					return tagspec.NegateExpr(pred)
				}
				return pred
			}
		}
		return tagspec.OpaqueExpr{Reason: "nil-compare"}
	}

	left := ex.convertOperand(n.X)
	right := ex.convertOperand(n.Y)

	// Keep len/element on the left for the classifier.
	if isAnchored(right) && !isAnchored(left) {
		left, right = right, left
		op = flipCmp(op)
	}
	return tagspec.CompareExpr{Op: op, Left: left, Right: right}
}

// convertOperand lowers a value-position expression.
func (ex *ruleExtractor) convertOperand(e ast.Expr) tagspec.Expr {
	switch n := e.(type) {
	case *ast.ParenExpr:
		return ex.convertOperand(n.X)
	case *ast.BasicLit:
		switch n.Kind {
		case token.INT:
			if v, err := strconv.Atoi(n.Value); err == nil {
				return tagspec.IntLit{Value: v}
			}
		case token.STRING:
			if s, err := strconv.Unquote(n.Value); err == nil {
				return tagspec.StrLit{Value: s}
			}
		}
	case *ast.Ident:
		if s, ok := ex.idx.consts[n.Name]; ok {
			return tagspec.StrLit{Value: s}
		}
		if s, ok := ex.scalars[n.Name]; ok {
			return s
		}
		if _, ok := ex.env[n.Name]; ok {
			return tagspec.ViewExpr{Var: n.Name}
		}
	case *ast.IndexExpr:
		if ref, ok := ex.elemRef(n); ok {
			return tagspec.ElemExpr{Ref: ref}
		}
	case *ast.CompositeLit:
		if set, ok := ex.stringSet(n); ok {
			return tagspec.StrSet{Values: set}
		}
	case *ast.CallExpr:
		if conv := ex.convertCall(n); conv != nil {
			return conv
		}
	}
	return tagspec.OpaqueExpr{Reason: ex.opaqueReason(e)}
}

// convertCall recognizes the call shapes worth modeling; nil means
// unrecognized.
func (ex *ruleExtractor) convertCall(call *ast.CallExpr) tagspec.Expr {
	switch fn := call.Fun.(type) {
	case *ast.Ident:
		if fn.Name == "len" && len(call.Args) == 1 {
			if id, ok := call.Args[0].(*ast.Ident); ok {
				if _, tracked := ex.env[id.Name]; tracked {
					return tagspec.LenExpr{Var: id.Name}
				}
			}
			return nil
		}
		if contains(ex.idx.cfg.Predicates, fn.Name) && len(call.Args) == 1 {
			return tagspec.PredicateExpr{Name: fn.Name, Arg: ex.convertOperand(call.Args[0])}
		}
	case *ast.SelectorExpr:
		if contains(ex.idx.cfg.Predicates, fn.Sel.Name) && len(call.Args) == 1 {
			return tagspec.PredicateExpr{Name: fn.Sel.Name, Arg: ex.convertOperand(call.Args[0])}
		}
		// kwargRe.MatchString(x) / kwargRe.FindStringSubmatch(x)
		if recv, ok := fn.X.(*ast.Ident); ok {
			if pat, ok := ex.idx.regexps[recv.Name]; ok && len(call.Args) == 1 {
				return tagspec.PredicateExpr{Name: "re:" + pat, Arg: ex.convertOperand(call.Args[0])}
			}
			// strings.HasPrefix(x, "lit")
			if recv.Name == "strings" && fn.Sel.Name == "HasPrefix" && len(call.Args) == 2 {
				if lit, ok := ex.idx.stringValue(call.Args[1]); ok {
					return tagspec.PredicateExpr{Name: "hasprefix:" + lit, Arg: ex.convertOperand(call.Args[0])}
				}
			}
			// slices.Contains(collection, x)
			if recv.Name == "slices" && fn.Sel.Name == "Contains" && len(call.Args) == 2 {
				item := ex.convertOperand(call.Args[1])
				if comp, ok := call.Args[0].(*ast.CompositeLit); ok {
					if set, ok := ex.stringSet(comp); ok {
						return tagspec.CompareExpr{Op: tagspec.CmpIn, Left: item, Right: tagspec.StrSet{Values: set}}
					}
				}
				if id, ok := call.Args[0].(*ast.Ident); ok {
					if _, tracked := ex.env[id.Name]; tracked {
						return tagspec.CompareExpr{Op: tagspec.CmpIn, Left: item, Right: tagspec.ViewExpr{Var: id.Name}}
					}
				}
			}
		}
	}
	return nil
}

// elemRef resolves v[i] for a tracked view, supporting literal and
// len(v)-k indexes.
func (ex *ruleExtractor) elemRef(n *ast.IndexExpr) (tagspec.TokenRef, bool) {
	id, ok := n.X.(*ast.Ident)
	if !ok {
		return tagspec.TokenRef{}, false
	}
	if _, tracked := ex.env[id.Name]; !tracked {
		return tagspec.TokenRef{}, false
	}
	i, ok := ex.indexValue(n.Index, id.Name)
	if !ok {
		return tagspec.TokenRef{}, false
	}
	return tagspec.TokenRef{Var: id.Name, Index: i}, true
}

// indexValue evaluates an index or slice-bound expression to a
// possibly negative position: len(v)-k maps to -k.
func (ex *ruleExtractor) indexValue(e ast.Expr, viewVar string) (int, bool) {
	switch n := e.(type) {
	case *ast.BasicLit:
		if n.Kind == token.INT {
			if v, err := strconv.Atoi(n.Value); err == nil {
				return v, true
			}
		}
	case *ast.BinaryExpr:
		if n.Op != token.SUB {
			return 0, false
		}
		lenCall, ok := n.X.(*ast.CallExpr)
		if !ok {
			return 0, false
		}
		fn, ok := lenCall.Fun.(*ast.Ident)
		if !ok || fn.Name != "len" || len(lenCall.Args) != 1 {
			return 0, false
		}
		arg, ok := lenCall.Args[0].(*ast.Ident)
		if !ok || arg.Name != viewVar {
			return 0, false
		}
		if lit, ok := n.Y.(*ast.BasicLit); ok && lit.Kind == token.INT {
			if v, err := strconv.Atoi(lit.Value); err == nil {
				return -v, true
			}
		}
	}
	return 0, false
}

func (ex *ruleExtractor) stringSet(comp *ast.CompositeLit) ([]string, bool) {
	var out []string
	for _, elt := range comp.Elts {
		s, ok := ex.idx.stringValue(elt)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, len(out) > 0
}

// opaqueReason distinguishes parser-state conditions (compiler
// internals we deliberately do not model) from plain unknowns.
func (ex *ruleExtractor) opaqueReason(e ast.Expr) string {
	found := "unknown"
	ast.Inspect(e, func(n ast.Node) bool {
		if sel, ok := n.(*ast.SelectorExpr); ok {
			if id, ok := sel.X.(*ast.Ident); ok && id.Name == ex.parserVar && ex.parserVar != "" {
				found = "parser-state"
				return false
			}
		}
		return true
	})
	return found
}

func cmpOpOf(op token.Token) (tagspec.CmpOp, bool) {
	switch op {
	case token.EQL:
		return tagspec.CmpEq, true
	case token.NEQ:
		return tagspec.CmpNe, true
	case token.LSS:
		return tagspec.CmpLt, true
	case token.LEQ:
		return tagspec.CmpLe, true
	case token.GTR:
		return tagspec.CmpGt, true
	case token.GEQ:
		return tagspec.CmpGe, true
	}
	return 0, false
}

func flipCmp(op tagspec.CmpOp) tagspec.CmpOp {
	switch op {
	case tagspec.CmpLt:
		return tagspec.CmpGt
	case tagspec.CmpLe:
		return tagspec.CmpGe
	case tagspec.CmpGt:
		return tagspec.CmpLt
	case tagspec.CmpGe:
		return tagspec.CmpLe
	}
	return op // ==, != are symmetric
}

// isAnchored reports whether an operand is a tracked-view value.
func isAnchored(e tagspec.Expr) bool {
	switch e.(type) {
	case tagspec.LenExpr, tagspec.ElemExpr, tagspec.TruthExpr, tagspec.PredicateExpr:
		return true
	}
	return false
}

func isNil(e ast.Expr) bool {
	id, ok := e.(*ast.Ident)
	return ok && id.Name == "nil"
}
