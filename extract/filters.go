package extract

import (
	"go/ast"

	"github.com/abiiranathan/tagcheck/tagspec"
)

// filterSpec derives one filter's arity contract from its handler
// signature. The piped value counts as the first argument, matching
// how invocations are counted at validation time. An unresolvable
// handler yields an unrestricted stub so the filter name still
// resolves without inventing an arity.
func (idx *unitIndex) filterSpec(reg registration) *tagspec.FilterSpec {
	var ftype *ast.FuncType
	switch {
	case reg.decl != nil:
		ftype = reg.decl.Type
	case reg.lit != nil:
		ftype = reg.lit.Type
	default:
		return &tagspec.FilterSpec{Name: reg.name, Unrestricted: true}
	}

	spec := &tagspec.FilterSpec{Name: reg.name}
	if ftype.Params == nil {
		spec.Unrestricted = true
		return spec
	}
	for _, p := range flattenParams(ftype.Params) {
		switch p.typ.(type) {
		case *ast.StarExpr:
			spec.Args++
			spec.Defaults++
		case *ast.Ellipsis:
			// Variadic filters accept anything beyond the fixed part.
			spec.Unrestricted = true
		default:
			spec.Args++
		}
	}
	return spec
}
