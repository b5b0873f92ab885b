package validator

import (
	"fmt"
	"sort"
	"strings"

	"github.com/abiiranathan/tagcheck/tagspec"
	"github.com/abiiranathan/tagcheck/tokenizer"
)

// LibraryLoader resolves one {% load %} invocation into the bundle of
// contracts it brings into scope. The bits are the tag's words after
// "load". Implementations must never execute the library's code.
type LibraryLoader interface {
	Load(bits []string) (*tagspec.Bundle, error)
}

// Options configures a template validation run.
type Options struct {
	// Builtins are in scope from the first token.
	Builtins *tagspec.Bundle

	// Loader resolves load tags; nil reports every load as unknown
	// libraries silently (their tags simply stay unknown).
	Loader LibraryLoader
}

// ValidateTemplate runs every check over one template source: tag
// invocations against the scope active at their position, filter
// chains, if-expressions and block structure. Load tags update the
// scope as they are encountered; a name loaded twice resolves to the
// later library.
func ValidateTemplate(src string, opts Options) []tagspec.Diagnostic {
	scope := tagspec.NewBundle()
	if opts.Builtins != nil {
		scope = opts.Builtins.Clone()
	}

	tokens := tokenizer.Tokenize(src)

	// Opaque regions must be known before the walk: a verbatim body
	// may not be interpreted even when its opening tag comes from a
	// library loaded on the line above.
	loaded := resolveLoads(tokens, opts.Loader)
	opaque := scope.OpaqueBlocks
	for _, lr := range loaded {
		if lr.bundle != nil {
			opaque = tagspec.MergeOpaqueBlocks(opaque, lr.bundle.OpaqueBlocks)
		}
	}
	tokens = tokenizer.ApplyOpaque(tokens, opaque)

	var diags []tagspec.Diagnostic
	var allTags []tagspec.TemplateTag
	var unknown []tagspec.TemplateTag

	type filterSite struct {
		line int
		raw  string
		expr string
	}
	var filterSites []filterSite
	addFilterSite := func(line int, raw, expr string) {
		if strings.Contains(expr, "|") {
			filterSites = append(filterSites, filterSite{line: line, raw: raw, expr: expr})
		}
	}

	loadIdx := 0
	for _, tok := range tokens {
		switch tok.Kind {
		case tokenizer.Var:
			addFilterSite(tok.Line, "{{ "+tok.Contents+" }}", tok.Contents)

		case tokenizer.Block:
			bits := tok.SplitContents()
			if len(bits) == 0 {
				diags = append(diags, tagspec.Diagnostic{
					Line:    tok.Line,
					Raw:     "{% %}",
					Message: fmt.Sprintf("Empty block tag on line %d", tok.Line),
				})
				continue
			}
			tag := tagspec.TemplateTag{Name: bits[0], Bits: bits, Line: tok.Line}
			allTags = append(allTags, tag)

			if tag.Name == "load" {
				if loadIdx < len(loaded) {
					lr := loaded[loadIdx]
					loadIdx++
					if lr.err != nil {
						diags = append(diags, tagspec.Diagnostic{
							Line:    tag.Line,
							Name:    "load",
							Raw:     joinBits(tag.Bits),
							Message: lr.err.Error(),
						})
					} else if lr.bundle != nil {
						// Override never errors.
						scope, _ = tagspec.Merge(scope, lr.bundle, tagspec.PolicyOverride)
					}
				}
				continue
			}

			v, known := scope.Tags[tag.Name]
			if known {
				diags = append(diags, ValidateTag(tag, v)...)
			} else {
				unknown = append(unknown, tag)
			}

			if tag.Name == "if" || tag.Name == "elif" {
				ifDiags, operands := ValidateIfExpression(tag)
				diags = append(diags, ifDiags...)
				for _, op := range operands {
					addFilterSite(tag.Line, joinBits(tag.Bits), op)
				}
			} else {
				for _, bit := range tag.Bits[1:] {
					addFilterSite(tag.Line, joinBits(tag.Bits), bit)
				}
			}
		}
	}

	// Structure and unknown-tag reporting both use the final scope:
	// libraries loaded anywhere in the template contribute their block
	// grammars.
	diags = append(diags, CheckStructure(allTags, scope.BlockSpecs, scope.InnerTagRules, opaque)...)
	diags = append(diags, unknownTagDiagnostics(unknown, allTags, scope)...)

	for _, site := range filterSites {
		diags = append(diags, ValidateFilterExpression(site.line, site.raw, site.expr, scope.Filters)...)
	}

	sort.SliceStable(diags, func(i, j int) bool { return diags[i].Line < diags[j].Line })
	return diags
}

type loadResult struct {
	bundle *tagspec.Bundle
	err    error
}

// resolveLoads resolves every load tag up front, in template order.
func resolveLoads(tokens []tokenizer.Token, loader LibraryLoader) []loadResult {
	var out []loadResult
	for _, tok := range tokens {
		if tok.Kind != tokenizer.Block {
			continue
		}
		bits := tok.SplitContents()
		if len(bits) == 0 || bits[0] != "load" {
			continue
		}
		if loader == nil {
			out = append(out, loadResult{})
			continue
		}
		b, err := loader.Load(bits[1:])
		out = append(out, loadResult{bundle: b, err: err})
	}
	return out
}

// unknownTagDiagnostics reports tags that resolved nowhere: not a
// known tag, not a structural member of any known block and not half
// of an implicit start/end pair.
func unknownTagDiagnostics(unknown, all []tagspec.TemplateTag, scope *tagspec.Bundle) []tagspec.Diagnostic {
	specs := append(append([]tagspec.BlockTagSpec(nil), scope.BlockSpecs...),
		opaqueDelimiterSpecs(scope.OpaqueBlocks)...)
	g := buildGrammar(specs)
	if synth := synthesizeImplicitBlocks(all, g); len(synth) > 0 {
		combined := append(specs, synth...)
		g = buildGrammar(combined)
	}

	var diags []tagspec.Diagnostic
	for _, t := range unknown {
		if g.starts[t.Name] != nil || g.middles[t.Name] || len(g.ends[t.Name]) > 0 {
			continue
		}
		if _, nowKnown := scope.Tags[t.Name]; nowKnown {
			// Loaded after use: the structural pass accepts it, but the
			// invocation itself was out of scope.
			continue
		}
		diags = append(diags, tagspec.Diagnostic{
			Line:    t.Line,
			Name:    t.Name,
			Raw:     joinBits(t.Bits),
			Message: fmt.Sprintf("Invalid block tag on line %d: '%s'. Did you forget to register or load this tag?", t.Line, t.Name),
		})
	}
	return diags
}
