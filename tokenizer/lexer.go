package tokenizer

import "strings"

// Delimiter pairs recognized by the engine lexer.
const (
	blockStart   = "{%"
	blockEnd     = "%}"
	varStart     = "{{"
	varEnd       = "}}"
	commentStart = "{#"
	commentEnd   = "#}"
)

// Tokenize scans template source into the full token stream, opaque
// regions not yet applied. A delimiter pair never spans a newline: an
// opener with no closer on its line is literal text, mirroring the
// engine's own lexer.
func Tokenize(src string) []Token {
	var tokens []Token

	textStart := 0 // beginning of the pending text run
	search := 0    // where to look for the next opening delimiter
	line := 1      // line number at textStart

	for search < len(src) {
		j := nextOpener(src, search)
		if j < 0 {
			break
		}

		closer := closerFor(src[j : j+2])
		end := findCloser(src, j+2, closer)
		if end < 0 {
			// Not a token. The next candidate may start one byte
			// later ("{{{" opens at offset 1).
			search = j + 1
			continue
		}

		if j > textStart {
			tokens = append(tokens, Token{Kind: Text, Contents: src[textStart:j], Line: line})
			line += strings.Count(src[textStart:j], "\n")
		}

		tokens = append(tokens, Token{
			Kind:     kindFor(src[j : j+2]),
			Contents: strings.TrimSpace(src[j+2 : end]),
			Line:     line,
		})

		textStart = end + 2
		search = textStart
	}

	if textStart < len(src) {
		tokens = append(tokens, Token{Kind: Text, Contents: src[textStart:], Line: line})
	}
	return tokens
}

// nextOpener returns the earliest index >= from of any opening
// delimiter, or -1.
func nextOpener(src string, from int) int {
	best := -1
	for _, open := range []string{blockStart, varStart, commentStart} {
		if i := strings.Index(src[from:], open); i >= 0 {
			if best < 0 || from+i < best {
				best = from + i
			}
		}
	}
	return best
}

// findCloser locates the closing delimiter at or after from, failing
// if a newline intervenes.
func findCloser(src string, from int, closer string) int {
	i := strings.Index(src[from:], closer)
	if i < 0 {
		return -1
	}
	if nl := strings.IndexByte(src[from:from+i], '\n'); nl >= 0 {
		return -1
	}
	return from + i
}

func closerFor(open string) string {
	switch open {
	case blockStart:
		return blockEnd
	case varStart:
		return varEnd
	default:
		return commentEnd
	}
}

func kindFor(open string) Kind {
	switch open {
	case blockStart:
		return Block
	case varStart:
		return Var
	default:
		return Comment
	}
}
