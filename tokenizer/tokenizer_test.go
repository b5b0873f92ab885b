package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abiiranathan/tagcheck/tagspec"
)

func TestTokenizeKindsAndLines(t *testing.T) {
	src := "hello\n{% if x %}{{ name }}\n{# note #}tail"
	got := Tokenize(src)
	want := []Token{
		{Kind: Text, Contents: "hello\n", Line: 1},
		{Kind: Block, Contents: "if x", Line: 2},
		{Kind: Var, Contents: "name", Line: 2},
		{Kind: Text, Contents: "\n", Line: 2},
		{Kind: Comment, Contents: "note", Line: 3},
		{Kind: Text, Contents: "tail", Line: 3},
	}
	assert.Equal(t, want, got)
}

func TestTokenizeUnterminatedOpenerIsText(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want []Token
	}{
		{
			"no closer at all",
			"a {% b",
			[]Token{{Kind: Text, Contents: "a {% b", Line: 1}},
		},
		{
			"closer on next line",
			"{% a\n%}{% b %}",
			[]Token{
				{Kind: Text, Contents: "{% a\n%}", Line: 1},
				{Kind: Block, Contents: "b", Line: 2},
			},
		},
		{
			"triple brace belongs to the first opener",
			"{{{ x }}",
			[]Token{{Kind: Var, Contents: "{ x", Line: 1}},
		},
		{
			"failed opener rescans from the next byte",
			"{%x\n{% y %}",
			[]Token{
				{Kind: Text, Contents: "{%x\n", Line: 1},
				{Kind: Block, Contents: "y", Line: 2},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Tokenize(tt.src))
		})
	}
}

func TestTokenizerParity(t *testing.T) {
	inputs := []string{
		"",
		"plain text only",
		"{% if x %}a{% endif %}",
		"{{ a }}{{b}}{#c#}",
		"broken {% tag\nacross lines %} {% ok %}",
		"{%%}{{}}",
		"{{{ nested }} }}",
		"line1\nline2 {% a %}\n{% b %}\n\n{{ c }}",
		"{% verbatim %}{{ raw }}{% endverbatim %}",
		"unclosed {{ var",
		"{# comment {% not a tag %} #}",
	}
	for _, src := range inputs {
		assert.Equal(t, Tokenize(src), TokenizeRegexp(src), "input: %q", src)
	}
}

func TestApplyOpaqueVerbatim(t *testing.T) {
	specs := []tagspec.OpaqueBlockSpec{
		{Name: "verbatim", EndTags: []string{"endverbatim"}, MatchSuffix: true, Source: "lexer"},
		{Name: "comment", EndTags: []string{"endcomment"}, Source: "skip_past"},
	}

	t.Run("interior suppressed", func(t *testing.T) {
		toks := Tokenize("{% verbatim %}{% anything %}{{ x }}{% endverbatim %}")
		got := ApplyOpaque(toks, specs)
		require.Len(t, got, 2)
		assert.Equal(t, "verbatim", got[0].Name())
		assert.Equal(t, "endverbatim", got[1].Name())
		for _, tok := range got {
			assert.Equal(t, Block, tok.Kind)
		}
	})

	t.Run("suffix must match to close", func(t *testing.T) {
		toks := Tokenize("{% verbatim foo %}{% endverbatim bar %}{% endverbatim foo %}")
		got := ApplyOpaque(toks, specs)
		require.Len(t, got, 2)
		assert.Equal(t, "endverbatim foo", got[1].Contents)
	})

	t.Run("unsuffixed opener ignores suffixed closer", func(t *testing.T) {
		toks := Tokenize("{% verbatim %}{% endverbatim bar %}{% endverbatim %}")
		got := ApplyOpaque(toks, specs)
		require.Len(t, got, 2)
		assert.Equal(t, "endverbatim", got[1].Contents)
	})

	t.Run("regions do not nest", func(t *testing.T) {
		toks := Tokenize("{% comment %}{% comment %}{% endcomment %}after{% endcomment %}")
		got := ApplyOpaque(toks, specs)
		// The inner opener is raw content; the first endcomment closes.
		require.Len(t, got, 4)
		assert.Equal(t, "endcomment", got[1].Name())
		assert.Equal(t, Text, got[2].Kind)
	})

	t.Run("unclosed region suppresses to end", func(t *testing.T) {
		toks := Tokenize("{% comment %}{{ x }}{% if y %}")
		got := ApplyOpaque(toks, specs)
		require.Len(t, got, 1)
	})
}

func TestSplitWords(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"simple", "cycle a b", []string{"cycle", "a", "b"}},
		{"double quotes", `cycle "a b" c`, []string{"cycle", `"a b"`, "c"}},
		{"single quotes", "trans 'x y'", []string{"trans", "'x y'"}},
		{"attached kwarg", `include t with a="b c"`, []string{"include", "t", "with", `a="b c"`}},
		{"escaped quote", `tag "a \" b"`, []string{"tag", `"a \" b"`}},
		{"mixed quotes inside", `tag "it's"`, []string{"tag", `"it's"`}},
		{"tabs and newlines", "a\tb\nc", []string{"a", "b", "c"}},
		{"empty", "", nil},
		{"unterminated quote", `tag "a b`, []string{"tag", `"a b`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SplitWords(tt.in))
		})
	}
}
