package extract

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"github.com/abiiranathan/tagcheck/tagspec"
)

// UnitError reports a source unit that could not be analyzed. The
// caller skips the unit and continues with the rest of the batch.
type UnitError struct {
	Path string
	Err  error
}

func (e *UnitError) Error() string {
	return fmt.Sprintf("extract %s: %v", e.Path, e.Err)
}

func (e *UnitError) Unwrap() error { return e.Err }

// unitIndex is the per-file symbol table the extractors consult:
// declared functions and methods, string constants, and compiled
// regexp variables.
type unitIndex struct {
	cfg     *Config
	fset    *token.FileSet
	file    *ast.File
	funcs   map[string]*ast.FuncDecl
	methods map[string]map[string]*ast.FuncDecl
	consts  map[string]string
	regexps map[string]string
}

// Unit analyzes one source unit under the default conventions.
func Unit(path, src string) (*tagspec.Bundle, error) {
	return UnitWithConfig(path, src, DefaultConfig())
}

// UnitWithConfig parses and analyzes one source unit, returning the
// bundle of every contract it registers. The function is pure: no
// filesystem access, no execution of analyzed code.
func UnitWithConfig(path, src string, cfg *Config) (*tagspec.Bundle, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, src, parser.ParseComments)
	if err != nil {
		return nil, &UnitError{Path: path, Err: err}
	}

	idx := buildIndex(cfg, fset, file)
	bundle := tagspec.NewBundle()

	regs := idx.registrations()

	// Handlers registered under several names share one extraction;
	// group first so aliases clone rather than re-extract.
	byHandler := make(map[*ast.FuncDecl][]registration)
	var order []*ast.FuncDecl
	for _, reg := range regs {
		switch reg.kind {
		case regFilter:
			bundle.Filters[reg.name] = idx.filterSpec(reg)
			continue
		case regNone:
			continue
		}
		if reg.decl == nil && reg.lit == nil {
			// Dynamic registration we cannot resolve: fail open.
			bundle.Tags[reg.name] = &tagspec.TagValidation{Name: reg.name, Unrestricted: true}
			continue
		}
		if reg.decl != nil {
			if _, seen := byHandler[reg.decl]; !seen {
				order = append(order, reg.decl)
			}
			byHandler[reg.decl] = append(byHandler[reg.decl], reg)
			continue
		}
		// Function literals are never shared.
		v := idx.extractHandler(reg, bundle)
		bundle.Tags[reg.name] = v
	}

	for _, decl := range order {
		group := byHandler[decl]
		first := idx.extractHandler(group[0], bundle)
		bundle.Tags[group[0].name] = first
		for _, alias := range group[1:] {
			clone := *first
			clone.Name = alias.name
			bundle.Tags[alias.name] = &clone
		}
	}

	// Engine-lexer verbatim idiom lives outside any handler.
	bundle.OpaqueBlocks = tagspec.MergeOpaqueBlocks(bundle.OpaqueBlocks, idx.lexerOpaqueBlocks())

	return bundle, nil
}

// extractHandler runs every per-handler extractor and folds the results
// into one TagValidation, appending structural findings to the bundle.
func (idx *unitIndex) extractHandler(reg registration, bundle *tagspec.Bundle) *tagspec.TagValidation {
	v := &tagspec.TagValidation{Name: reg.name}

	switch reg.kind {
	case regSimple, regInclusion, regBlock:
		v.Signature = idx.signatureSpec(reg)
		return v
	}

	body, ftype := reg.body()
	if body == nil {
		v.Unrestricted = true
		return v
	}

	parserVar, tokenVar := handlerParams(ftype)

	ex := newRuleExtractor(idx, reg.name, parserVar, tokenVar)
	ex.walkStmts(body.List)
	v.Rules = ex.rules
	v.Options = ex.options

	// Delegation: a call handing our parser/token pair to a local
	// function is the same handler continued elsewhere.
	for _, helper := range idx.delegations(body, parserVar, tokenVar) {
		if helper.wrapper != nil {
			v.Signature = idx.signatureSpecFor(helper.wrapper, reg.kind)
			continue
		}
		hBody := helper.decl.Body
		if hBody == nil {
			continue
		}
		hp, ht := handlerParams(helper.decl.Type)
		hex := newRuleExtractor(idx, reg.name, hp, ht)
		hex.walkStmts(hBody.List)
		v.Rules = append(v.Rules, hex.rules...)
		if v.Options == nil {
			v.Options = hex.options
		}
		if ob := idx.opaqueBlocks(reg.name, hBody, hp, ht); len(ob) > 0 {
			bundle.OpaqueBlocks = tagspec.MergeOpaqueBlocks(bundle.OpaqueBlocks, ob)
		}
		idx.structural(reg.name, hBody, hp, ht, hex, bundle)
	}

	if ob := idx.opaqueBlocks(reg.name, body, parserVar, tokenVar); len(ob) > 0 {
		bundle.OpaqueBlocks = tagspec.MergeOpaqueBlocks(bundle.OpaqueBlocks, ob)
	}
	idx.structural(reg.name, body, parserVar, tokenVar, ex, bundle)

	if len(v.Rules) == 0 && v.Options == nil && v.Signature == nil && !ex.raised {
		v.Unrestricted = true
	}
	return v
}

// buildIndex collects the file's declarations.
func buildIndex(cfg *Config, fset *token.FileSet, file *ast.File) *unitIndex {
	idx := &unitIndex{
		cfg:     cfg,
		fset:    fset,
		file:    file,
		funcs:   make(map[string]*ast.FuncDecl),
		methods: make(map[string]map[string]*ast.FuncDecl),
		consts:  make(map[string]string),
		regexps: make(map[string]string),
	}
	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			if d.Recv == nil || len(d.Recv.List) == 0 {
				idx.funcs[d.Name.Name] = d
				continue
			}
			recv := receiverTypeName(d.Recv.List[0].Type)
			if recv == "" {
				continue
			}
			if idx.methods[recv] == nil {
				idx.methods[recv] = make(map[string]*ast.FuncDecl)
			}
			idx.methods[recv][d.Name.Name] = d
		case *ast.GenDecl:
			idx.indexGenDecl(d)
		}
	}
	return idx
}

func (idx *unitIndex) indexGenDecl(d *ast.GenDecl) {
	for _, spec := range d.Specs {
		vs, ok := spec.(*ast.ValueSpec)
		if !ok {
			continue
		}
		for i, name := range vs.Names {
			if i >= len(vs.Values) {
				continue
			}
			switch val := vs.Values[i].(type) {
			case *ast.BasicLit:
				if val.Kind == token.STRING {
					if s, err := strconv.Unquote(val.Value); err == nil {
						idx.consts[name.Name] = s
					}
				}
			case *ast.CallExpr:
				// regexp.MustCompile / regexp.Compile at package level.
				if fn, ok := val.Fun.(*ast.SelectorExpr); ok &&
					strings.HasPrefix(fn.Sel.Name, "MustCompile") && len(val.Args) == 1 {
					if lit, ok := val.Args[0].(*ast.BasicLit); ok && lit.Kind == token.STRING {
						if s, err := strconv.Unquote(lit.Value); err == nil {
							idx.regexps[name.Name] = s
						}
					}
				}
			}
		}
	}
}

// stringValue resolves a literal or an indexed constant to its value.
func (idx *unitIndex) stringValue(e ast.Expr) (string, bool) {
	switch v := e.(type) {
	case *ast.BasicLit:
		if v.Kind == token.STRING {
			if s, err := strconv.Unquote(v.Value); err == nil {
				return s, true
			}
		}
	case *ast.Ident:
		if s, ok := idx.consts[v.Name]; ok {
			return s, true
		}
	case *ast.SelectorExpr:
		// pkg.ConstName from the same file's dot-less view is out of
		// reach; only same-file constants resolve.
	}
	return "", false
}

func receiverTypeName(e ast.Expr) string {
	switch t := e.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return receiverTypeName(t.X)
	}
	return ""
}

// handlerParams returns the names of the parser and token parameters of
// a compile-function signature, empty when absent.
func handlerParams(ftype *ast.FuncType) (parserVar, tokenVar string) {
	if ftype == nil || ftype.Params == nil {
		return "", ""
	}
	var names []string
	for _, field := range ftype.Params.List {
		for _, n := range field.Names {
			names = append(names, n.Name)
		}
		if len(field.Names) == 0 {
			names = append(names, "")
		}
	}
	if len(names) > 0 {
		parserVar = names[0]
	}
	if len(names) > 1 {
		tokenVar = names[1]
	}
	return parserVar, tokenVar
}
