package tagspec

import (
	"fmt"
	"sort"
)

// MergePolicy selects how two bundles resolve name collisions.
type MergePolicy int

const (
	// PolicyOmit drops every colliding name from the result. The safe
	// default when two unordered providers register the same symbol:
	// guessing the winner would produce false diagnostics.
	PolicyOmit MergePolicy = iota
	// PolicyOverride lets the second bundle win, matching the
	// engine's own last-registration-wins behavior.
	PolicyOverride
	// PolicyError rejects the merge, naming the colliding symbols.
	PolicyError
)

// Bundle is the immutable extraction result of one source unit (or a
// merge of several). Maps are name-keyed; slices are positional specs
// that accumulate additively.
type Bundle struct {
	Tags          map[string]*TagValidation    `json:"tags,omitempty"`
	Filters       map[string]*FilterSpec       `json:"filters,omitempty"`
	OpaqueBlocks  []OpaqueBlockSpec            `json:"opaque_blocks,omitempty"`
	BlockSpecs    []BlockTagSpec               `json:"block_specs,omitempty"`
	InnerTagRules []ConditionalInnerTagRule    `json:"inner_tag_rules,omitempty"`
}

// NewBundle returns an empty bundle with initialized maps.
func NewBundle() *Bundle {
	return &Bundle{
		Tags:    make(map[string]*TagValidation),
		Filters: make(map[string]*FilterSpec),
	}
}

// Clone returns a shallow-per-entry copy: maps and slices are fresh,
// the immutable specs inside them are shared.
func (b *Bundle) Clone() *Bundle {
	out := NewBundle()
	for k, v := range b.Tags {
		out.Tags[k] = v
	}
	for k, v := range b.Filters {
		out.Filters[k] = v
	}
	out.OpaqueBlocks = append(out.OpaqueBlocks, b.OpaqueBlocks...)
	out.BlockSpecs = append(out.BlockSpecs, b.BlockSpecs...)
	out.InnerTagRules = append(out.InnerTagRules, b.InnerTagRules...)
	return out
}

// Select returns a copy keeping only the named tags and filters.
// Structural specs are kept whole: they describe delimiter grammar, not
// loadable symbols.
func (b *Bundle) Select(names []string) *Bundle {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}
	out := NewBundle()
	for k, v := range b.Tags {
		if keep[k] {
			out.Tags[k] = v
		}
	}
	for k, v := range b.Filters {
		if keep[k] {
			out.Filters[k] = v
		}
	}
	out.OpaqueBlocks = append(out.OpaqueBlocks, b.OpaqueBlocks...)
	out.BlockSpecs = append(out.BlockSpecs, b.BlockSpecs...)
	out.InnerTagRules = append(out.InnerTagRules, b.InnerTagRules...)
	return out
}

// Has reports whether the bundle provides a tag or filter by name.
func (b *Bundle) Has(name string) bool {
	if _, ok := b.Tags[name]; ok {
		return true
	}
	_, ok := b.Filters[name]
	return ok
}

// Merge combines a then b under the given collision policy. The inputs
// are not modified. With PolicyError, the error lists every colliding
// symbol and nothing is merged.
func Merge(a, b *Bundle, policy MergePolicy) (*Bundle, error) {
	if policy == PolicyError {
		var collisions []string
		for k := range b.Tags {
			if _, ok := a.Tags[k]; ok {
				collisions = append(collisions, "tag "+k)
			}
		}
		for k := range b.Filters {
			if _, ok := a.Filters[k]; ok {
				collisions = append(collisions, "filter "+k)
			}
		}
		if len(collisions) > 0 {
			sort.Strings(collisions)
			return nil, fmt.Errorf("bundle merge collision: %v", collisions)
		}
	}

	out := a.Clone()
	mergeNamed(out.Tags, b.Tags, policy)
	mergeNamed(out.Filters, b.Filters, policy)
	out.OpaqueBlocks = MergeOpaqueBlocks(out.OpaqueBlocks, b.OpaqueBlocks)
	out.BlockSpecs = dedupeBlockSpecs(append(out.BlockSpecs, b.BlockSpecs...))
	out.InnerTagRules = append(out.InnerTagRules, b.InnerTagRules...)
	return out, nil
}

// mergeNamed folds src into dst. PolicyOmit removes colliding keys
// entirely so neither provider's contract is applied; PolicyOverride
// and PolicyError (pre-checked) take src's entry.
func mergeNamed[V any](dst, src map[string]V, policy MergePolicy) {
	for k, v := range src {
		if _, exists := dst[k]; exists && policy == PolicyOmit {
			delete(dst, k)
			continue
		}
		dst[k] = v
	}
}

// dedupeBlockSpecs drops exact duplicate grammars, which accumulate
// when built-ins are merged into every library bundle.
func dedupeBlockSpecs(specs []BlockTagSpec) []BlockTagSpec {
	seen := make(map[string]bool, len(specs))
	out := specs[:0]
	for _, s := range specs {
		key := fmt.Sprintf("%v|%v|%v|%v|%v|%d",
			s.Start, s.End, s.Middle, s.Repeatable, s.Terminal, s.EndSuffixIndex)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, s)
	}
	return out
}
