package resolve

import (
	"fmt"
	"go/parser"
	"go/token"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/abiiranathan/tagcheck/extract"
	"github.com/abiiranathan/tagcheck/tagspec"
)

// Loader resolves load invocations against a SourceProvider, caching
// per-library extraction results. It satisfies the validator's
// LibraryLoader interface.
type Loader struct {
	Provider SourceProvider
	Config   *extract.Config

	mu    sync.Mutex
	cache map[string]*tagspec.Bundle
}

func NewLoader(p SourceProvider) *Loader {
	return &Loader{Provider: p, Config: extract.DefaultConfig()}
}

// Load handles both forms of the load tag: "load lib1 lib2" brings in
// whole libraries in order with later names overriding earlier ones,
// and "load sym1 sym2 from lib" brings in just the named symbols.
func (l *Loader) Load(bits []string) (*tagspec.Bundle, error) {
	names, from := splitLoadBits(bits)

	if from != "" {
		lib, err := l.Library(from)
		if err != nil {
			return nil, err
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
		lib, err := l.Library(name)
		if err != nil {
			return nil, err
		}
		out, _ = tagspec.Merge(out, lib, tagspec.PolicyOverride)
	}
	return out, nil
}

// missingSymbolsError names every requested symbol the library does
// not export, not just the first.
func missingSymbolsError(missing []string, from string) error {
	sort.Strings(missing)
	if len(missing) == 1 {
		return fmt.Errorf("'%s' is not a valid tag or filter in tag library '%s'", missing[0], from)
	}
	return fmt.Errorf("'%s' are not valid tags or filters in tag library '%s'", strings.Join(missing, "', '"), from)
}

// splitLoadBits recognizes the trailing "from <lib>" form.
func splitLoadBits(bits []string) (names []string, from string) {
	if len(bits) >= 2 && bits[len(bits)-2] == "from" {
		return bits[:len(bits)-2], bits[len(bits)-1]
	}
	return bits, ""
}

// Library resolves one library name to its merged contract bundle.
func (l *Loader) Library(name string) (*tagspec.Bundle, error) {
	l.mu.Lock()
	if b, ok := l.cache[name]; ok {
		l.mu.Unlock()
		return b, nil
	}
	l.mu.Unlock()

	b, err := l.extractLibrary(name)
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	if l.cache == nil {
		l.cache = map[string]*tagspec.Bundle{}
	}
	l.cache[name] = b
	l.mu.Unlock()
	return b, nil
}

func (l *Loader) extractLibrary(name string) (*tagspec.Bundle, error) {
	sources, err := l.Provider.Sources(name)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, l.unknownLibraryError(name)
	}

	own, err := l.extractUnion(sources)
	if err != nil {
		return nil, err
	}

	// One-hop re-export: a library may pull in a sibling wholesale via
	// a blank import. Re-exported names sit underneath the library's
	// own registrations and are never chased further.
	base, err := l.reexportBase(sources)
	if err != nil {
		return nil, err
	}
	if base != nil {
		merged, _ := tagspec.Merge(base, own, tagspec.PolicyOverride)
		return merged, nil
	}
	return own, nil
}

// extractUnion extracts every source file and combines them
// conservatively: a name two files both claim is dropped, since we
// cannot know which definition the engine would end up with.
func (l *Loader) extractUnion(sources []Source) (*tagspec.Bundle, error) {
	cfg := l.Config
	if cfg == nil {
		cfg = extract.DefaultConfig()
	}
	out := tagspec.NewBundle()
	for _, src := range sources {
		b, err := extract.UnitWithConfig(src.Path, src.Code, cfg)
		if err != nil {
			return nil, err
		}
		out, _ = tagspec.Merge(out, b, tagspec.PolicyOmit)
	}
	return out, nil
}

func (l *Loader) reexportBase(sources []Source) (*tagspec.Bundle, error) {
	known, err := l.Provider.Libraries()
	if err != nil {
		return nil, err
	}
	knownSet := map[string]bool{}
	for _, n := range known {
		knownSet[n] = true
	}

	var base *tagspec.Bundle
	for _, src := range sources {
		for _, imp := range blankImports(src.Path, src.Code) {
			lib := libraryOfImport(imp)
			if !knownSet[lib] {
				continue
			}
			reSources, err := l.Provider.Sources(lib)
			if err != nil {
				return nil, err
			}
			re, err := l.extractUnion(reSources)
			if err != nil {
				return nil, err
			}
			if base == nil {
				base = re
			} else {
				base, _ = tagspec.Merge(base, re, tagspec.PolicyOmit)
			}
		}
	}
	return base, nil
}

// blankImports lists the import paths a file imports for effect only.
func blankImports(path, code string) []string {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, code, parser.ImportsOnly)
	if err != nil {
		return nil
	}
	var out []string
	for _, imp := range file.Imports {
		if imp.Name == nil || imp.Name.Name != "_" {
			continue
		}
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (l *Loader) unknownLibraryError(name string) error {
	known, err := l.Provider.Libraries()
	if err != nil || len(known) == 0 {
		return fmt.Errorf("'%s' is not a registered tag library.", name)
	}
	return listedUnknownError(name, known)
}

func listedUnknownError(name string, known []string) error {
	sort.Strings(known)
	return fmt.Errorf("'%s' is not a registered tag library. Must be one of:\n%s",
		name, strings.Join(known, "\n"))
}

var _ interface {
	Load(bits []string) (*tagspec.Bundle, error)
} = (*Loader)(nil)
