package tokenizer

import (
	"regexp"
	"strings"
)

// tokenRe matches any single delimiter pair. Dot does not cross
// newlines, which is what keeps an unterminated opener literal text.
var tokenRe = regexp.MustCompile(`\{%.*?%\}|\{\{.*?\}\}|\{#.*?#\}`)

// TokenizeRegexp is the self-contained fallback lexer. It must produce
// the identical stream to Tokenize for any input; the scanner exists
// because it is what the engine itself does, the regexp because it is
// trivially auditable.
func TokenizeRegexp(src string) []Token {
	var tokens []Token
	line := 1
	last := 0

	for _, loc := range tokenRe.FindAllStringIndex(src, -1) {
		if loc[0] > last {
			text := src[last:loc[0]]
			tokens = append(tokens, Token{Kind: Text, Contents: text, Line: line})
			line += strings.Count(text, "\n")
		}
		raw := src[loc[0]:loc[1]]
		tokens = append(tokens, Token{
			Kind:     kindFor(raw[:2]),
			Contents: strings.TrimSpace(raw[2 : len(raw)-2]),
			Line:     line,
		})
		last = loc[1]
	}

	if last < len(src) {
		tokens = append(tokens, Token{Kind: Text, Contents: src[last:], Line: line})
	}
	return tokens
}
