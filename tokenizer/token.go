// Package tokenizer turns template text into the canonical token
// stream the validators consume. Two independent implementations are
// provided, a scanner and a regexp-driven fallback, which must agree
// bit-for-bit on kind, line and contents for any input.
package tokenizer

// Kind is the lexical class of one template token.
type Kind int

const (
	// Text is literal output between delimiters.
	Text Kind = iota
	// Var is a {{ ... }} variable token.
	Var
	// Block is a {% ... %} tag token.
	Block
	// Comment is a {# ... #} token.
	Comment
)

func (k Kind) String() string {
	switch k {
	case Text:
		return "text"
	case Var:
		return "var"
	case Block:
		return "block"
	case Comment:
		return "comment"
	}
	return "invalid"
}

// Token is one lexical unit of a template. Contents holds the inner
// text with surrounding whitespace stripped for Var/Block/Comment
// tokens, and the raw text for Text tokens. Line is 1-based and refers
// to the line the token's opening delimiter appears on.
type Token struct {
	Kind     Kind
	Contents string
	Line     int
}

// Name returns the first word of a Block token's contents, the tag
// name. Empty for an empty block.
func (t Token) Name() string {
	words := SplitWords(t.Contents)
	if len(words) == 0 {
		return ""
	}
	return words[0]
}

// SplitContents returns the quote-aware word split of the token's
// contents, tag name included.
func (t Token) SplitContents() []string {
	return SplitWords(t.Contents)
}
