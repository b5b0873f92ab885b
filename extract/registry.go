package extract

import (
	"go/ast"
)

// regKind is the closed set of registration shapes the scanner
// recognizes. Anything else is regNone and contributes nothing.
type regKind int

const (
	regNone regKind = iota
	regTag
	regSimple
	regInclusion
	regBlock
	regFilter
)

// registration is one resolved registration call site.
type registration struct {
	kind regKind
	name string

	// Exactly one of decl/lit is set for resolvable handlers; both nil
	// means the handler expression was dynamic.
	decl *ast.FuncDecl
	lit  *ast.FuncLit
}

// body returns the handler's body and type, whichever form it has.
func (r registration) body() (*ast.BlockStmt, *ast.FuncType) {
	if r.decl != nil {
		return r.decl.Body, r.decl.Type
	}
	if r.lit != nil {
		return r.lit.Body, r.lit.Type
	}
	return nil, nil
}

// registrations scans every function body in the unit for registration
// calls. Registration conventionally happens in init or a Register
// function, but the scanner does not care where.
func (idx *unitIndex) registrations() []registration {
	var regs []registration
	ast.Inspect(idx.file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		if reg := idx.classifyRegistration(call); reg.kind != regNone {
			regs = append(regs, reg)
		}
		return true
	})
	return regs
}

// classifyRegistration maps one call expression onto a registration
// variant.
func (idx *unitIndex) classifyRegistration(call *ast.CallExpr) registration {
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || len(call.Args) < 2 {
		return registration{}
	}

	var kind regKind
	switch {
	case contains(idx.cfg.TagMethods, sel.Sel.Name):
		kind = regTag
	case contains(idx.cfg.SimpleTagMethods, sel.Sel.Name):
		kind = regSimple
	case contains(idx.cfg.InclusionTagMethods, sel.Sel.Name):
		kind = regInclusion
	case contains(idx.cfg.BlockTagMethods, sel.Sel.Name):
		kind = regBlock
	case contains(idx.cfg.FilterMethods, sel.Sel.Name):
		kind = regFilter
	default:
		return registration{}
	}

	name, ok := idx.stringValue(call.Args[0])
	if !ok {
		// A computed name is dynamic registration; degrading here is
		// what keeps the scanner from guessing.
		return registration{}
	}

	reg := registration{kind: kind, name: name}
	switch handler := call.Args[1].(type) {
	case *ast.Ident:
		reg.decl = idx.funcs[handler.Name]
	case *ast.FuncLit:
		reg.lit = handler
	case *ast.SelectorExpr:
		// Method-value handler: (Type).Method or value.Method. Only
		// the type-qualified form resolves without type information.
		if recv, ok := handler.X.(*ast.Ident); ok {
			if methods := idx.methods[recv.Name]; methods != nil {
				reg.decl = methods[handler.Sel.Name]
			}
		}
	case *ast.ParenExpr:
		// ((*Node)(nil)).Compile style stays unresolved.
	}
	return reg
}

// delegation is a helper the handler hands its parser/token pair to.
type delegation struct {
	decl *ast.FuncDecl

	// wrapper is set instead when the call is an inclusion-node
	// constructor; validation then follows the render function's
	// signature.
	wrapper *ast.FuncDecl
}

// delegations finds calls inside body that forward both the parser and
// the token to a function declared in this unit.
func (idx *unitIndex) delegations(body *ast.BlockStmt, parserVar, tokenVar string) []delegation {
	if parserVar == "" || tokenVar == "" {
		return nil
	}
	var out []delegation
	seen := make(map[*ast.FuncDecl]bool)
	ast.Inspect(body, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		if !passesBoth(call.Args, parserVar, tokenVar) {
			return true
		}
		switch fn := call.Fun.(type) {
		case *ast.Ident:
			if contains(idx.cfg.InclusionWrapperFuncs, fn.Name) {
				if render := idx.renderFuncArg(call); render != nil {
					out = append(out, delegation{wrapper: render})
				}
				return true
			}
			if decl := idx.funcs[fn.Name]; decl != nil && !seen[decl] {
				seen[decl] = true
				out = append(out, delegation{decl: decl})
			}
		case *ast.SelectorExpr:
			if contains(idx.cfg.InclusionWrapperFuncs, fn.Sel.Name) {
				if render := idx.renderFuncArg(call); render != nil {
					out = append(out, delegation{wrapper: render})
				}
			}
		}
		return true
	})
	return out
}

// renderFuncArg resolves the first function-typed argument after the
// parser/token pair of a wrapper call.
func (idx *unitIndex) renderFuncArg(call *ast.CallExpr) *ast.FuncDecl {
	for _, arg := range call.Args[2:] {
		if id, ok := arg.(*ast.Ident); ok {
			if decl := idx.funcs[id.Name]; decl != nil {
				return decl
			}
		}
	}
	return nil
}

func passesBoth(args []ast.Expr, parserVar, tokenVar string) bool {
	var hasParser, hasToken bool
	for _, arg := range args {
		if id, ok := arg.(*ast.Ident); ok {
			if id.Name == parserVar {
				hasParser = true
			}
			if id.Name == tokenVar {
				hasToken = true
			}
		}
	}
	return hasParser && hasToken
}
