package extract

import (
	"fmt"
	"go/ast"

	"github.com/abiiranathan/tagcheck/tagspec"
)

// signatureSpec derives the calling convention of a signature-style
// handler from its declared parameters: required, defaulted (pointer),
// variadic and kwarg-map parameters, with the hidden context (and, for
// block tags, content) parameters stripped.
func (idx *unitIndex) signatureSpec(reg registration) *tagspec.SignatureSpec {
	if reg.decl != nil {
		return idx.signatureSpecFor(reg.decl, reg.kind)
	}
	if reg.lit != nil {
		return idx.specFromType(reg.name, reg.lit.Type, reg.kind)
	}
	return nil
}

func (idx *unitIndex) signatureSpecFor(decl *ast.FuncDecl, kind regKind) *tagspec.SignatureSpec {
	if decl == nil {
		return nil
	}
	return idx.specFromType(decl.Name.Name, decl.Type, kind)
}

func (idx *unitIndex) specFromType(funcName string, ftype *ast.FuncType, kind regKind) *tagspec.SignatureSpec {
	spec := &tagspec.SignatureSpec{
		FuncName:   funcName,
		AllowAsVar: kind != regBlock,
	}
	if ftype.Params == nil {
		return spec
	}

	params := flattenParams(ftype.Params)
	i := 0
	if len(params) > 0 && idx.isContextType(params[0].typ) {
		spec.TakesContext = true
		i++
	}
	if kind == regBlock && i < len(params) {
		// The rendered body content is supplied by the engine, not by
		// the template author.
		i++
	}

	for n := 0; i < len(params); i, n = i+1, n+1 {
		p := params[i]
		name := p.name
		if name == "" {
			name = fmt.Sprintf("arg%d", n+1)
		}
		switch p.typ.(type) {
		case *ast.Ellipsis:
			spec.Varargs = true
		case *ast.MapType:
			spec.Varkw = true
		case *ast.StarExpr:
			spec.Defaults = append(spec.Defaults, name)
		default:
			spec.Params = append(spec.Params, name)
		}
	}
	return spec
}

type param struct {
	name string
	typ  ast.Expr
}

func flattenParams(fields *ast.FieldList) []param {
	var out []param
	for _, f := range fields.List {
		if len(f.Names) == 0 {
			out = append(out, param{typ: f.Type})
			continue
		}
		for _, n := range f.Names {
			out = append(out, param{name: n.Name, typ: f.Type})
		}
	}
	return out
}

func (idx *unitIndex) isContextType(t ast.Expr) bool {
	switch n := t.(type) {
	case *ast.StarExpr:
		return idx.isContextType(n.X)
	case *ast.Ident:
		return contains(idx.cfg.ContextTypes, n.Name)
	case *ast.SelectorExpr:
		return contains(idx.cfg.ContextTypes, n.Sel.Name)
	}
	return false
}
