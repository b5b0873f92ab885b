package resolve

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/abiiranathan/tagcheck/tagspec"
)

// Registry is a pre-extracted contract corpus, typically produced by
// running extract over an engine's tag libraries once and serializing
// the result. It serves load tags without any source on disk.
type Registry struct {
	Libraries map[string]*tagspec.Bundle `json:"libraries"`
	Builtins  *tagspec.Bundle            `json:"builtins,omitempty"`
}

// ReadRegistry decodes a serialized registry. Guards, preconditions
// and comparison conditions round-trip through the expression
// envelope, so a re-read bundle validates exactly like the live one.
func ReadRegistry(r io.Reader) (*Registry, error) {
	var reg Registry
	dec := json.NewDecoder(r)
	if err := dec.Decode(&reg); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	if reg.Libraries == nil {
		reg.Libraries = map[string]*tagspec.Bundle{}
	}
	return &reg, nil
}

// WriteRegistry serializes a registry for later ReadRegistry calls.
func WriteRegistry(w io.Writer, reg *Registry) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(reg); err != nil {
		return fmt.Errorf("encode registry: %w", err)
	}
	return nil
}

// Load serves load tags from the registry, supporting the same two
// forms as Loader.
func (reg *Registry) Load(bits []string) (*tagspec.Bundle, error) {
	names, from := splitLoadBits(bits)

	if from != "" {
		lib, ok := reg.Libraries[from]
		if !ok {
			return nil, reg.unknownError(from)
		}
		var missing []string
		for _, n := range names {
			if !lib.Has(n) {
				missing = append(missing, n)
			}
		}
		if len(missing) > 0 {
			return nil, missingSymbolsError(missing, from)
		}
		return lib.Select(names), nil
	}

	out := tagspec.NewBundle()
	for _, name := range names {
		lib, ok := reg.Libraries[name]
		if !ok {
			return nil, reg.unknownError(name)
		}
		out, _ = tagspec.Merge(out, lib, tagspec.PolicyOverride)
	}
	return out, nil
}

func (reg *Registry) unknownError(name string) error {
	names := make([]string, 0, len(reg.Libraries))
	for n := range reg.Libraries {
		names = append(names, n)
	}
	if len(names) == 0 {
		return fmt.Errorf("'%s' is not a registered tag library.", name)
	}
	return listedUnknownError(name, names)
}
