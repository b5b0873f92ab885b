package tokenizer

import (
	"strings"

	"github.com/abiiranathan/tagcheck/tagspec"
)

// ApplyOpaque suppresses every token between an opaque start tag and
// its matching end tag, keeping the two delimiter tokens themselves.
// Regions do not nest: once inside, only the innermost region's end
// tags are considered, so a stray opener in raw content cannot extend
// the region.
func ApplyOpaque(tokens []Token, specs []tagspec.OpaqueBlockSpec) []Token {
	byName := make(map[string]tagspec.OpaqueBlockSpec, len(specs))
	for _, s := range specs {
		byName[s.Name] = s
	}

	var out []Token
	var inRegion bool
	var region tagspec.OpaqueBlockSpec
	var suffix string // opener's trailing words, for suffix matching

	for _, tok := range tokens {
		if inRegion {
			if tok.Kind == Block && closesRegion(tok, region, suffix) {
				inRegion = false
				out = append(out, tok)
			}
			continue
		}

		out = append(out, tok)
		if tok.Kind != Block {
			continue
		}
		name := tok.Name()
		if spec, ok := byName[name]; ok {
			inRegion = true
			region = spec
			suffix = strings.TrimSpace(tok.Contents[len(name):])
		}
	}
	return out
}

func closesRegion(tok Token, spec tagspec.OpaqueBlockSpec, suffix string) bool {
	name := tok.Name()
	for _, end := range spec.EndTags {
		if spec.MatchSuffix {
			if name == end && strings.TrimSpace(tok.Contents[len(name):]) == suffix {
				return true
			}
			continue
		}
		if tok.Contents == end || name == end {
			return true
		}
	}
	return false
}
