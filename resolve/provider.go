// Package resolve turns {% load %} invocations into contract bundles.
// Libraries are located as Go source files and analyzed statically
// through extract; nothing here ever compiles, imports or executes the
// code being resolved.
package resolve

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source is one Go file contributing registrations to a library.
type Source struct {
	Path string
	Code string
}

// SourceProvider locates the source of loadable tag libraries.
type SourceProvider interface {
	// Libraries lists every loadable library name, sorted.
	Libraries() ([]string, error)

	// Sources returns the files registering the named library, in a
	// stable order. An unknown name returns an empty slice, not an
	// error.
	Sources(name string) ([]Source, error)
}

// DirProvider resolves libraries under a directory root: lib "foo" is
// <root>/foo.go, every file of <root>/foo/, or both. When both exist
// they are treated as independent providers of the same name.
type DirProvider struct {
	Root string
}

func (d DirProvider) Libraries() ([]string, error) {
	entries, err := os.ReadDir(d.Root)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var names []string
	add := func(name string) {
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			if hasGoFiles(filepath.Join(d.Root, name)) {
				add(name)
			}
			continue
		}
		if isLibraryFile(name) {
			add(strings.TrimSuffix(name, ".go"))
		}
	}
	sort.Strings(names)
	return names, nil
}

func (d DirProvider) Sources(name string) ([]Source, error) {
	var out []Source

	single := filepath.Join(d.Root, name+".go")
	if code, err := os.ReadFile(single); err == nil {
		out = append(out, Source{Path: single, Code: string(code)})
	}

	dir := filepath.Join(d.Root, name)
	entries, err := os.ReadDir(dir)
	if err == nil {
		var files []string
		for _, e := range entries {
			if !e.IsDir() && isLibraryFile(e.Name()) {
				files = append(files, e.Name())
			}
		}
		sort.Strings(files)
		for _, f := range files {
			p := filepath.Join(dir, f)
			code, err := os.ReadFile(p)
			if err != nil {
				return nil, err
			}
			out = append(out, Source{Path: p, Code: string(code)})
		}
	}
	return out, nil
}

func isLibraryFile(name string) bool {
	return strings.HasSuffix(name, ".go") && !strings.HasSuffix(name, "_test.go")
}

func hasGoFiles(dir string) bool {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false
	}
	for _, e := range entries {
		if !e.IsDir() && isLibraryFile(e.Name()) {
			return true
		}
	}
	return false
}

// libraryOfImport maps an import path onto the library name it would
// provide: the final path segment.
func libraryOfImport(path string) string {
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}
