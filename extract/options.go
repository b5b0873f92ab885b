package extract

import (
	"go/ast"
	"go/token"
	"strconv"

	"github.com/abiiranathan/tagcheck/tagspec"
)

// recognizeOptionLoop matches the trailing-option idiom: a loop over
// the remaining words dispatching on each word, with unknown names
// rejected in the default arm. Recognition is all-or-nothing; loops
// that dispatch some other way fall back to the generic opaque walk.
func (ex *ruleExtractor) recognizeOptionLoop(stmt ast.Stmt) bool {
	var body *ast.BlockStmt
	var optVar, idxVar string
	var region tagspec.TokenView
	var viewVar string

	switch loop := stmt.(type) {
	case *ast.RangeStmt:
		val, ok := loop.Value.(*ast.Ident)
		if !ok || val.Name == "_" {
			return false
		}
		optVar = val.Name
		if key, ok := loop.Key.(*ast.Ident); ok && key.Name != "_" {
			idxVar = key.Name
		}
		viewVar, region, ok = ex.loopRegion(loop.X)
		if !ok {
			return false
		}
		body = loop.Body

	case *ast.ForStmt:
		// for i := lo; i < len(v); i++ { opt := v[i]; ... }
		var ok bool
		idxVar, viewVar, region, ok = ex.indexLoopHeader(loop)
		if !ok {
			return false
		}
		body = loop.Body
		optVar = ex.indexLoopOptVar(body, viewVar, idxVar)
		if optVar == "" {
			return false
		}

	default:
		return false
	}

	sw := findSwitchOn(body, optVar)
	if sw == nil {
		return false
	}

	spec := &tagspec.OptionSpec{
		Var:         viewVar,
		Region:      region,
		Constraints: make(map[string]tagspec.OptionConstraint),
	}

	closed := false
	for _, clause := range sw.Body.List {
		cc, ok := clause.(*ast.CaseClause)
		if !ok {
			continue
		}
		if len(cc.List) == 0 {
			if containsRaise(cc.Body, ex.idx.cfg) {
				closed = true
			}
			continue
		}
		var names []string
		for _, v := range cc.List {
			s, ok := ex.idx.stringValue(v)
			if !ok {
				return false
			}
			names = append(names, s)
		}
		constraint := ex.classifyOptionCase(cc.Body, viewVar, idxVar)
		for _, name := range names {
			spec.Valid = append(spec.Valid, name)
			spec.Constraints[name] = constraint
		}
	}
	if len(spec.Valid) == 0 {
		return false
	}
	if !closed {
		// Unknown names pass through; only per-option constraints and
		// duplicate policy remain meaningful.
		spec.Valid = nil
	}

	spec.NoDuplicates = ex.detectDuplicateGuard(body, optVar)

	if containsRaise(body.List, ex.idx.cfg) {
		ex.raised = true
	}

	if ex.options == nil {
		ex.options = spec
	}
	return true
}

// loopRegion maps a range expression onto the symbolic window it
// iterates: a tracked view, or a literal-bounded slice of one.
func (ex *ruleExtractor) loopRegion(x ast.Expr) (string, tagspec.TokenView, bool) {
	switch n := x.(type) {
	case *ast.Ident:
		if view, ok := ex.env[n.Name]; ok && !view.Unknown {
			return n.Name, view.Clone(), true
		}
	case *ast.SliceExpr:
		src, ok := n.X.(*ast.Ident)
		if !ok {
			return "", tagspec.TokenView{}, false
		}
		view, tracked := ex.env[src.Name]
		if !tracked || view.Unknown || n.Slice3 {
			return "", tagspec.TokenView{}, false
		}
		var lo, hi *int
		if n.Low != nil {
			v, ok := ex.indexValue(n.Low, src.Name)
			if !ok {
				return "", tagspec.TokenView{}, false
			}
			lo = tagspec.IntPtr(v)
		}
		if n.High != nil {
			v, ok := ex.indexValue(n.High, src.Name)
			if !ok {
				return "", tagspec.TokenView{}, false
			}
			hi = tagspec.IntPtr(v)
		}
		region := view.Clone()
		region.Ops = append(region.Ops, tagspec.ConditionalOp{Kind: tagspec.OpSlice, Lo: lo, Hi: hi})
		return src.Name, region, true
	}
	return "", tagspec.TokenView{}, false
}

// indexLoopHeader matches for i := lo; i < len(v); i++ over a tracked
// view.
func (ex *ruleExtractor) indexLoopHeader(loop *ast.ForStmt) (idxVar, viewVar string, region tagspec.TokenView, ok bool) {
	assign, isAssign := loop.Init.(*ast.AssignStmt)
	if !isAssign || len(assign.Lhs) != 1 || len(assign.Rhs) != 1 {
		return
	}
	idx, isIdent := assign.Lhs[0].(*ast.Ident)
	if !isIdent {
		return
	}
	lit, isLit := assign.Rhs[0].(*ast.BasicLit)
	if !isLit || lit.Kind != token.INT {
		return
	}
	lo, err := strconv.Atoi(lit.Value)
	if err != nil {
		return
	}

	cond, isCmp := loop.Cond.(*ast.BinaryExpr)
	if !isCmp || cond.Op != token.LSS {
		return
	}
	lenCall, isCall := cond.Y.(*ast.CallExpr)
	if !isCall {
		return
	}
	fn, isIdent := lenCall.Fun.(*ast.Ident)
	if !isIdent || fn.Name != "len" || len(lenCall.Args) != 1 {
		return
	}
	viewIdent, isIdent := lenCall.Args[0].(*ast.Ident)
	if !isIdent {
		return
	}
	view, tracked := ex.env[viewIdent.Name]
	if !tracked || view.Unknown {
		return
	}

	region = view.Clone()
	if lo > 0 {
		region.Ops = append(region.Ops, tagspec.ConditionalOp{Kind: tagspec.OpSlice, Lo: tagspec.IntPtr(lo)})
	}
	return idx.Name, viewIdent.Name, region, true
}

// indexLoopOptVar finds opt := v[i] at the top of the loop body.
func (ex *ruleExtractor) indexLoopOptVar(body *ast.BlockStmt, viewVar, idxVar string) string {
	for _, s := range body.List {
		assign, ok := s.(*ast.AssignStmt)
		if !ok || len(assign.Lhs) != 1 || len(assign.Rhs) != 1 {
			continue
		}
		lhs, ok := assign.Lhs[0].(*ast.Ident)
		if !ok {
			continue
		}
		if isViewIndex(assign.Rhs[0], viewVar, idxVar) {
			return lhs.Name
		}
	}
	return ""
}

// classifyOptionCase decides what one option consumes after its name.
func (ex *ruleExtractor) classifyOptionCase(body []ast.Stmt, viewVar, idxVar string) tagspec.OptionConstraint {
	// kwargs: the case hands the rest of the words to a kwarg parser.
	if kw := ex.findKwargCall(body); kw != nil {
		c := tagspec.OptionConstraint{Kind: tagspec.OptionKwargs}
		for _, arg := range kw.call.Args {
			if id, ok := arg.(*ast.Ident); ok && id.Name == "true" {
				c.SupportLegacy = true
			}
		}
		min, exact := kwargCountChecks(body, kw.resultVar)
		c.MinKwargs = min
		c.ExactCount = exact
		return c
	}

	// single_arg: the case advances the cursor and reads the next
	// word.
	if argVar, ok := ex.singleArgRead(body, viewVar, idxVar); ok {
		c := tagspec.OptionConstraint{Kind: tagspec.OptionSingleArg}
		c.ArgAllow, c.ArgDisallow = ex.argValueChecks(body, argVar)
		return c
	}

	return tagspec.OptionConstraint{Kind: tagspec.OptionBoolean}
}

type kwargCall struct {
	call      *ast.CallExpr
	resultVar string
}

func (ex *ruleExtractor) findKwargCall(body []ast.Stmt) *kwargCall {
	var found *kwargCall
	for _, s := range body {
		ast.Inspect(s, func(n ast.Node) bool {
			assign, ok := n.(*ast.AssignStmt)
			if !ok || len(assign.Rhs) != 1 {
				return true
			}
			call, ok := assign.Rhs[0].(*ast.CallExpr)
			if !ok {
				return true
			}
			var name string
			switch fn := call.Fun.(type) {
			case *ast.Ident:
				name = fn.Name
			case *ast.SelectorExpr:
				name = fn.Sel.Name
			}
			if !contains(ex.idx.cfg.KwargFuncs, name) {
				return true
			}
			kc := &kwargCall{call: call}
			if id, ok := assign.Lhs[0].(*ast.Ident); ok {
				kc.resultVar = id.Name
			}
			found = kc
			return false
		})
		if found != nil {
			return found
		}
	}
	return nil
}

// kwargCountChecks scans for len(kw)==0 and len(kw)!=1 rejections
// following the kwarg call.
func kwargCountChecks(body []ast.Stmt, kwVar string) (min, exact int) {
	if kwVar == "" {
		return 0, 0
	}
	for _, s := range body {
		ast.Inspect(s, func(n ast.Node) bool {
			cmp, ok := n.(*ast.BinaryExpr)
			if !ok {
				return true
			}
			lenCall, ok := cmp.X.(*ast.CallExpr)
			if !ok {
				return true
			}
			fn, ok := lenCall.Fun.(*ast.Ident)
			if !ok || fn.Name != "len" || len(lenCall.Args) != 1 {
				return true
			}
			arg, ok := lenCall.Args[0].(*ast.Ident)
			if !ok || arg.Name != kwVar {
				return true
			}
			lit, ok := cmp.Y.(*ast.BasicLit)
			if !ok || lit.Kind != token.INT {
				return true
			}
			v, err := strconv.Atoi(lit.Value)
			if err != nil {
				return true
			}
			switch {
			case cmp.Op == token.EQL && v == 0:
				min = 1
			case cmp.Op == token.NEQ:
				exact = v
			case cmp.Op == token.LSS:
				min = v
			}
			return true
		})
	}
	return min, exact
}

// singleArgRead detects i++ followed by a read of view[i], or a direct
// view[i+1] read, returning the variable the argument is bound to.
func (ex *ruleExtractor) singleArgRead(body []ast.Stmt, viewVar, idxVar string) (string, bool) {
	if idxVar == "" {
		return "", false
	}
	advanced := false
	for _, s := range body {
		if inc, ok := s.(*ast.IncDecStmt); ok && inc.Tok == token.INC {
			if id, ok := inc.X.(*ast.Ident); ok && id.Name == idxVar {
				advanced = true
				continue
			}
		}
		assign, ok := s.(*ast.AssignStmt)
		if !ok || len(assign.Lhs) != 1 || len(assign.Rhs) != 1 {
			continue
		}
		lhs, ok := assign.Lhs[0].(*ast.Ident)
		if !ok {
			continue
		}
		if advanced && isViewIndex(assign.Rhs[0], viewVar, idxVar) {
			return lhs.Name, true
		}
		if isViewIndexPlusOne(assign.Rhs[0], viewVar, idxVar) {
			return lhs.Name, true
		}
	}
	if advanced {
		// Consumed without binding: still a single-argument option.
		return "", true
	}
	return "", false
}

// argValueChecks recovers the allow/deny lists applied to an option's
// argument inside its case body.
func (ex *ruleExtractor) argValueChecks(body []ast.Stmt, argVar string) (allow, disallow []string) {
	if argVar == "" {
		return nil, nil
	}
	for _, s := range body {
		ifStmt, ok := s.(*ast.IfStmt)
		if !ok || !containsRaise([]ast.Stmt{ifStmt.Body}, ex.idx.cfg) {
			continue
		}
		eq, ne := collectEqualities(ifStmt.Cond, argVar, ex.idx)
		// if arg != "a" && arg != "b" { raise }  =>  allow list
		allow = append(allow, ne...)
		// if arg == "bad" { raise }  =>  deny list
		disallow = append(disallow, eq...)
	}
	return allow, disallow
}

// collectEqualities splits a condition over argVar into its ==
// literals and its != literals (conjunctions and disjunctions alike;
// the raise polarity decides which list matters).
func collectEqualities(cond ast.Expr, argVar string, idx *unitIndex) (eq, ne []string) {
	switch n := cond.(type) {
	case *ast.ParenExpr:
		return collectEqualities(n.X, argVar, idx)
	case *ast.BinaryExpr:
		switch n.Op {
		case token.LAND, token.LOR:
			e1, n1 := collectEqualities(n.X, argVar, idx)
			e2, n2 := collectEqualities(n.Y, argVar, idx)
			return append(e1, e2...), append(n1, n2...)
		case token.EQL, token.NEQ:
			id, lit := identAndString(n.X, n.Y, idx)
			if id != argVar || lit == "" {
				return nil, nil
			}
			if n.Op == token.EQL {
				return []string{unquoteMaybe(lit)}, nil
			}
			return nil, []string{unquoteMaybe(lit)}
		}
	}
	return nil, nil
}

func identAndString(a, b ast.Expr, idx *unitIndex) (ident, lit string) {
	if id, ok := a.(*ast.Ident); ok {
		if s, ok := idx.stringValue(b); ok {
			return id.Name, s
		}
	}
	if id, ok := b.(*ast.Ident); ok {
		if s, ok := idx.stringValue(a); ok {
			return id.Name, s
		}
	}
	return "", ""
}

// detectDuplicateGuard matches the seen-map idiom: if seen[opt] raise,
// or slices.Contains over an accumulator.
func (ex *ruleExtractor) detectDuplicateGuard(body *ast.BlockStmt, optVar string) bool {
	found := false
	ast.Inspect(body, func(n ast.Node) bool {
		ifStmt, ok := n.(*ast.IfStmt)
		if !ok || !containsRaise([]ast.Stmt{ifStmt.Body}, ex.idx.cfg) {
			return true
		}
		switch cond := ifStmt.Cond.(type) {
		case *ast.IndexExpr:
			if id, ok := cond.Index.(*ast.Ident); ok && id.Name == optVar {
				if x, ok := cond.X.(*ast.Ident); ok {
					if _, tracked := ex.env[x.Name]; !tracked {
						found = true
						return false
					}
				}
			}
		case *ast.CallExpr:
			if sel, ok := cond.Fun.(*ast.SelectorExpr); ok && sel.Sel.Name == "Contains" {
				if len(cond.Args) == 2 {
					if id, ok := cond.Args[1].(*ast.Ident); ok && id.Name == optVar {
						found = true
						return false
					}
				}
			}
		}
		return true
	})
	return found
}

func findSwitchOn(body *ast.BlockStmt, varName string) *ast.SwitchStmt {
	var found *ast.SwitchStmt
	ast.Inspect(body, func(n ast.Node) bool {
		sw, ok := n.(*ast.SwitchStmt)
		if !ok || sw.Tag == nil {
			return true
		}
		if id, ok := sw.Tag.(*ast.Ident); ok && id.Name == varName {
			found = sw
			return false
		}
		return true
	})
	return found
}

func containsRaise(stmts []ast.Stmt, cfg *Config) bool {
	found := false
	for _, s := range stmts {
		ast.Inspect(s, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok {
				return true
			}
			var name string
			switch fn := call.Fun.(type) {
			case *ast.Ident:
				name = fn.Name
			case *ast.SelectorExpr:
				name = fn.Sel.Name
			}
			if contains(cfg.SyntaxErrorFuncs, name) {
				found = true
				return false
			}
			return true
		})
		if found {
			return true
		}
	}
	return false
}

func isViewIndex(e ast.Expr, viewVar, idxVar string) bool {
	idxExpr, ok := e.(*ast.IndexExpr)
	if !ok {
		return false
	}
	x, ok := idxExpr.X.(*ast.Ident)
	if !ok || x.Name != viewVar {
		return false
	}
	i, ok := idxExpr.Index.(*ast.Ident)
	return ok && i.Name == idxVar
}

func isViewIndexPlusOne(e ast.Expr, viewVar, idxVar string) bool {
	idxExpr, ok := e.(*ast.IndexExpr)
	if !ok {
		return false
	}
	x, ok := idxExpr.X.(*ast.Ident)
	if !ok || x.Name != viewVar {
		return false
	}
	bin, ok := idxExpr.Index.(*ast.BinaryExpr)
	if !ok || bin.Op != token.ADD {
		return false
	}
	id, ok := bin.X.(*ast.Ident)
	if !ok || id.Name != idxVar {
		return false
	}
	lit, ok := bin.Y.(*ast.BasicLit)
	return ok && lit.Kind == token.INT && lit.Value == "1"
}
