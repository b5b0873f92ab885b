package tokenizer

// SplitWords splits tag contents on whitespace while keeping quoted
// spans atomic, so {% cycle "a b" c %} yields ["cycle", `"a b"`, "c"].
// Quotes stay attached to their word (including a key="v a l" prefix),
// and a backslash inside a quoted span escapes the next character.
func SplitWords(s string) []string {
	var words []string
	var cur []byte
	var quote byte

	flush := func() {
		if len(cur) > 0 {
			words = append(words, string(cur))
			cur = cur[:0]
		}
	}

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			cur = append(cur, c)
			if c == '\\' && i+1 < len(s) {
				i++
				cur = append(cur, s[i])
			} else if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
			cur = append(cur, c)
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			flush()
		default:
			cur = append(cur, c)
		}
	}
	flush()
	return words
}
