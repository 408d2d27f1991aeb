package render

import (
	"strconv"

	"github.com/iVampireSP/weave/internal/backend"
	"github.com/iVampireSP/weave/internal/model"
)

// Imports assigns local names to the packages a generated file refers to.
// Only packages that are actually referenced end up in the import block.
type Imports struct {
	pkg    string
	byPath map[string]string
	taken  map[string]bool
	order  []string
}

// NewImports creates an import set for a file in package pkg.
func NewImports(pkg string) *Imports {
	return &Imports{pkg: pkg, byPath: make(map[string]string), taken: make(map[string]bool)}
}

// Reserve keeps name from being used as an import alias, e.g. because a
// generated declaration carries it.
func (im *Imports) Reserve(name string) { im.taken[name] = true }

// Add imports path, preferring name as its local name, and returns the name
// that was assigned.
func (im *Imports) Add(path, name string) string {
	if path == im.pkg {
		return ""
	}
	if local, ok := im.byPath[path]; ok {
		return local
	}
	if name == "" || name == "_" || name == "." {
		name = backend.DefaultImportName(path)
	}
	local := name
	for i := 2; im.taken[local]; i++ {
		local = name + strconv.Itoa(i)
	}
	im.taken[local] = true
	im.byPath[path] = local
	im.order = append(im.order, path)
	return local
}

// Ref renders t as seen from the generated file.
func (im *Imports) Ref(t model.TypeID) string {
	if local := im.Add(t.Pkg, ""); local != "" {
		return local + "." + t.Name
	}
	return t.Name
}

// List returns the imports in the order they were added.
func (im *Imports) List() []backend.Import {
	out := make([]backend.Import, 0, len(im.order))
	for _, p := range im.order {
		out = append(out, backend.Import{Name: im.byPath[p], Path: p})
	}
	return out
}
