package validator

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abiiranathan/tagcheck/tagspec"
)

// testBuiltins assembles the scope used by the template-level tests:
// an if/elif/else grammar, a name-suffixed block tag, a verbatim
// region, a cycle tag with a count rule plus options, and one filter.
func testBuiltins() *tagspec.Bundle {
	b := tagspec.NewBundle()
	b.BlockSpecs = []tagspec.BlockTagSpec{
		{
			Start:          []string{"if"},
			End:            []string{"endif"},
			Middle:         []string{"elif", "else"},
			Repeatable:     []string{"elif"},
			Terminal:       []string{"else"},
			EndSuffixIndex: -1,
		},
		{
			Start:          []string{"block"},
			End:            []string{"endblock"},
			EndSuffixIndex: 1,
		},
	}
	b.OpaqueBlocks = []tagspec.OpaqueBlockSpec{
		{Name: "verbatim", EndTags: []string{"endverbatim"}, MatchSuffix: true, Source: "lexer"},
	}
	b.Tags["if"] = &tagspec.TagValidation{Name: "if", Unrestricted: true}
	b.Tags["block"] = &tagspec.TagValidation{Name: "block", Rules: []tagspec.ContextualRule{
		{Rule: &tagspec.ExtractedRule{Kind: tagspec.RuleExactCount, Count: 2, Message: "'block' tag takes only one argument"}},
	}}
	b.Tags["cycle"] = &tagspec.TagValidation{
		Name: "cycle",
		Rules: []tagspec.ContextualRule{
			{Rule: &tagspec.ExtractedRule{Kind: tagspec.RuleMinCount, Count: 2, Message: "'cycle' tag requires at least one argument"}},
		},
		Options: &tagspec.OptionSpec{
			Region: tagspec.TokenView{Ops: []tagspec.ConditionalOp{{Kind: tagspec.OpSlice, Lo: tagspec.IntPtr(1)}}},
			Constraints: map[string]tagspec.OptionConstraint{
				"as":     {Kind: tagspec.OptionSingleArg},
				"silent": {Kind: tagspec.OptionBoolean},
			},
		},
	}
	b.Filters["title"] = &tagspec.FilterSpec{Name: "title", Args: 1}
	b.Filters["default"] = &tagspec.FilterSpec{Name: "default", Args: 2, Defaults: 1}
	return b
}

type mapLoader map[string]*tagspec.Bundle

func (m mapLoader) Load(bits []string) (*tagspec.Bundle, error) {
	out := tagspec.NewBundle()
	for _, name := range bits {
		lib, ok := m[name]
		if !ok {
			return nil, fmt.Errorf("'%s' is not a registered tag library.", name)
		}
		out, _ = tagspec.Merge(out, lib, tagspec.PolicyOverride)
	}
	return out, nil
}

func validate(t *testing.T, src string, loader LibraryLoader) []tagspec.Diagnostic {
	t.Helper()
	return ValidateTemplate(src, Options{Builtins: testBuiltins(), Loader: loader})
}

func TestValidTemplateIsQuiet(t *testing.T) {
	src := `{% if a %}one{% elif b %}two{% elif c %}three{% else %}last{% endif %}
{% block head %}{{ x|title }}{% endblock head %}
{% cycle 'a' 'b' 'c' as nm silent %}`
	diags := validate(t, src, nil)
	assert.Empty(t, diags)
}

func TestCycleDiagnostics(t *testing.T) {
	diags := validate(t, "{% cycle %}", nil)
	require.Len(t, diags, 1)
	assert.Equal(t, "'cycle' tag requires at least one argument", diags[0].Message)
	assert.Equal(t, 1, diags[0].Line)
	assert.Equal(t, "cycle", diags[0].Name)
}

func TestStructuralDiagnostics(t *testing.T) {
	t.Run("unclosed at eof", func(t *testing.T) {
		diags := validate(t, "text\n{% if a %}body", nil)
		require.Len(t, diags, 1)
		assert.Equal(t, "Unclosed tag on line 2: 'if'. Looking for one of: elif, else, endif.", diags[0].Message)
	})

	t.Run("mismatched end", func(t *testing.T) {
		diags := validate(t, "{% if a %}{% endblock %}", nil)
		require.Len(t, diags, 2)
		assert.Contains(t, diags[0].Message, "Invalid block tag on line 1: 'endblock', expected")
		assert.Contains(t, diags[1].Message, "Unclosed tag on line 1: 'if'")
	})

	t.Run("else twice", func(t *testing.T) {
		diags := validate(t, "{% if a %}{% else %}{% else %}{% endif %}", nil)
		require.Len(t, diags, 1)
		assert.Equal(t, "'else' may not appear after the final clause of 'if'", diags[0].Message)
	})

	t.Run("elif after else", func(t *testing.T) {
		diags := validate(t, "{% if a %}{% else %}{% elif b %}{% endif %}", nil)
		require.Len(t, diags, 1)
		assert.Equal(t, "'elif' may not appear after the final clause of 'if'", diags[0].Message)
	})

	t.Run("stray middle", func(t *testing.T) {
		diags := validate(t, "{% else %}", nil)
		require.Len(t, diags, 1)
		assert.Equal(t, "Invalid block tag on line 1: 'else'", diags[0].Message)
	})

	t.Run("pop recovery", func(t *testing.T) {
		// The inner if never closes; endblock still matches the outer
		// block, reporting exactly one unclosed tag.
		diags := validate(t, "{% block b %}{% if a %}{% endblock b %}", nil)
		require.Len(t, diags, 1)
		assert.Contains(t, diags[0].Message, "Unclosed tag on line 1: 'if'")
	})
}

func TestEndSuffixValidation(t *testing.T) {
	t.Run("matching name", func(t *testing.T) {
		assert.Empty(t, validate(t, "{% block head %}{% endblock head %}", nil))
	})
	t.Run("bare end", func(t *testing.T) {
		assert.Empty(t, validate(t, "{% block head %}{% endblock %}", nil))
	})
	t.Run("wrong name", func(t *testing.T) {
		diags := validate(t, "{% block head %}{% endblock foot %}", nil)
		require.Len(t, diags, 1)
		assert.Equal(t, "'endblock foot' does not match 'block head'", diags[0].Message)
	})
	t.Run("excess args", func(t *testing.T) {
		diags := validate(t, "{% block head %}{% endblock head extra %}", nil)
		require.Len(t, diags, 1)
		assert.Contains(t, diags[0].Message, "at most one argument")
	})
}

func TestVerbatimSuppressesValidation(t *testing.T) {
	t.Run("body ignored", func(t *testing.T) {
		src := "{% verbatim %}{% cycle %}{% bogus %}{{ x|nope }}{% endverbatim %}"
		assert.Empty(t, validate(t, src, nil))
	})

	t.Run("suffixed closer required", func(t *testing.T) {
		// The unsuffixed endverbatim stays inside the region; only the
		// matching suffixed one closes it.
		src := "{% verbatim x %}{% endverbatim %}{% cycle %}{% endverbatim x %}"
		assert.Empty(t, validate(t, src, nil))
	})

	t.Run("after close validation resumes", func(t *testing.T) {
		src := "{% verbatim %}{% cycle %}{% endverbatim %}{% cycle %}"
		diags := validate(t, src, nil)
		require.Len(t, diags, 1)
		assert.Equal(t, "cycle", diags[0].Name)
	})

	t.Run("suffixed closer draws no argument diagnostic", func(t *testing.T) {
		src := "{% verbatim x %}{{ raw }}{% endverbatim x %}"
		assert.Empty(t, validate(t, src, nil))
	})

	t.Run("closer without end prefix", func(t *testing.T) {
		b := tagspec.NewBundle()
		b.OpaqueBlocks = []tagspec.OpaqueBlockSpec{
			{Name: "raw", EndTags: []string{"stopraw"}, Source: "skip_past"},
		}
		diags := ValidateTemplate("{% raw %}{% junk %}{% stopraw %}", Options{Builtins: b})
		assert.Empty(t, diags)
	})
}

func TestUnknownTag(t *testing.T) {
	diags := validate(t, "{% bogus a b %}", nil)
	require.Len(t, diags, 1)
	assert.Equal(t, "Invalid block tag on line 1: 'bogus'. Did you forget to register or load this tag?", diags[0].Message)
}

func TestImplicitBlockPairing(t *testing.T) {
	t.Run("balanced pair passes", func(t *testing.T) {
		assert.Empty(t, validate(t, "{% spam %}x{% endspam %}", nil))
	})
	t.Run("unbalanced pair reports", func(t *testing.T) {
		diags := validate(t, "{% spam %}{% endspam %}{% spam %}", nil)
		require.Len(t, diags, 1)
		assert.Contains(t, diags[0].Message, "Unclosed tag")
	})
}

func TestLoadScoping(t *testing.T) {
	strictCycle := tagspec.NewBundle()
	strictCycle.Tags["cycle"] = &tagspec.TagValidation{Name: "cycle", Rules: []tagspec.ContextualRule{
		{Rule: &tagspec.ExtractedRule{Kind: tagspec.RuleMinCount, Count: 3, Message: "strict cycle needs two arguments"}},
	}}
	looseCycle := tagspec.NewBundle()
	looseCycle.Tags["cycle"] = &tagspec.TagValidation{Name: "cycle", Unrestricted: true}

	loader := mapLoader{"strict": strictCycle, "loose": looseCycle}

	t.Run("load overrides builtin", func(t *testing.T) {
		diags := validate(t, "{% load loose %}{% cycle %}", loader)
		assert.Empty(t, diags)
	})

	t.Run("last load wins", func(t *testing.T) {
		diags := validate(t, "{% load loose %}{% load strict %}{% cycle 'a' %}", loader)
		require.Len(t, diags, 1)
		assert.Equal(t, "strict cycle needs two arguments", diags[0].Message)
	})

	t.Run("reversed order", func(t *testing.T) {
		diags := validate(t, "{% load strict %}{% load loose %}{% cycle 'a' %}", loader)
		assert.Empty(t, diags)
	})

	t.Run("scope starts at the load tag", func(t *testing.T) {
		diags := validate(t, "{% cycle %}{% load loose %}{% cycle %}", loader)
		require.Len(t, diags, 1)
		assert.Equal(t, 1, diags[0].Line)
	})

	t.Run("missing library", func(t *testing.T) {
		diags := validate(t, "{% load nonesuch %}", loader)
		require.Len(t, diags, 1)
		assert.Equal(t, "'nonesuch' is not a registered tag library.", diags[0].Message)
	})
}

func TestFilterSites(t *testing.T) {
	t.Run("var token", func(t *testing.T) {
		diags := validate(t, "{{ x|nope }}", nil)
		require.Len(t, diags, 1)
		assert.Equal(t, "Invalid filter: 'nope'", diags[0].Message)
	})

	t.Run("tag argument", func(t *testing.T) {
		diags := validate(t, "{% cycle x|nope y %}", nil)
		require.Len(t, diags, 1)
		assert.Equal(t, "Invalid filter: 'nope'", diags[0].Message)
	})

	t.Run("if operand", func(t *testing.T) {
		diags := validate(t, "{% if x|nope %}{% endif %}", nil)
		require.Len(t, diags, 1)
		assert.Equal(t, "Invalid filter: 'nope'", diags[0].Message)
	})

	t.Run("filters from loaded library", func(t *testing.T) {
		lib := tagspec.NewBundle()
		lib.Filters["shout"] = &tagspec.FilterSpec{Name: "shout", Args: 1}
		loader := mapLoader{"noise": lib}
		// Filter scope is resolved template-wide, so use before load
		// still passes.
		diags := validate(t, "{{ x|shout }}{% load noise %}", loader)
		assert.Empty(t, diags)
	})
}

func TestIfExpressionInTemplate(t *testing.T) {
	diags := validate(t, "{% if a and %}{% endif %}", nil)
	require.Len(t, diags, 1)
	assert.Equal(t, "Unexpected end of expression in if tag.", diags[0].Message)
}

func TestEmptyBlockTag(t *testing.T) {
	diags := validate(t, "a {%  %} b", nil)
	require.Len(t, diags, 1)
	assert.Equal(t, "Empty block tag on line 1", diags[0].Message)
}

func TestDiagnosticsSortedByLine(t *testing.T) {
	src := "{{ x|nope }}\n{% cycle %}\n{% bogus %}"
	diags := validate(t, src, nil)
	require.Len(t, diags, 3)
	for i := 1; i < len(diags); i++ {
		assert.LessOrEqual(t, diags[i-1].Line, diags[i].Line)
	}
}
