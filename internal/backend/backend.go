// Package backend defines the declaration view weave extracts facts from
// and the interface the three front ends implement: go/ast, go/packages
// with full type information, and tree-sitter.
package backend

import (
	"context"
	"go/token"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/iVampireSP/weave/internal/directive"
	"github.com/iVampireSP/weave/internal/model"
	"github.com/iVampireSP/weave/internal/source"
)

// WirePath is the import path of the provider-set framework generated code
// targets. A var initialised with wire.NewSet is a module.
const WirePath = "github.com/google/wire"

// Backend turns a unit into a universe of declarations.
type Backend interface {
	Name() string
	Load(ctx context.Context, unit *source.Unit) (*Universe, error)
}

// DeclKind classifies a top-level declaration.
type DeclKind int

const (
	DeclInterface DeclKind = iota
	DeclStruct
	DeclType
	DeclVar
	DeclFunc
)

func (k DeclKind) String() string {
	switch k {
	case DeclInterface:
		return "interface"
	case DeclStruct:
		return "struct"
	case DeclType:
		return "type"
	case DeclVar:
		return "var"
	default:
		return "func"
	}
}

// Field is a struct field. Embedded fields are named after their type.
type Field struct {
	Name     string
	Type     string
	Embedded bool
}

// Declaration is a top-level type, var or func of the unit.
type Declaration struct {
	ID         model.TypeID
	Kind       DeclKind
	PkgName    string
	File       string
	Pos        token.Position
	Generated  bool
	Directives []directive.Directive

	// Supertypes are unresolved references to the interfaces the
	// declaration is known to implement, in source order.
	Supertypes []string
	Module     bool
	Fields     []Field
}

// Exported reports whether the declaration is visible outside its package.
func (d *Declaration) Exported() bool { return token.IsExported(d.ID.Name) }

// Has reports whether the declaration carries a directive.
func (d *Declaration) Has(name string) bool { return directive.Has(d.Directives, name) }

// Find returns the declaration's directives with the given name.
func (d *Declaration) Find(name string) []directive.Directive {
	return directive.Find(d.Directives, name)
}

// IsModule reports whether the declaration is a module: a wire set or a
// declaration marked //weave:module or //weave:binding-module.
func (d *Declaration) IsModule() bool {
	return d.Module || d.Has(directive.Module) || d.Has(directive.BindingModule)
}

// Import is one import spec of a file. Name is the local name.
type Import struct {
	Name string
	Path string
}

// Assertion records `var _ Super = <value of Type>` in package Pkg.
type Assertion struct {
	Pkg   string
	Type  string
	Super string
}

// Resolver maps a reference written in a declaration's directives to a
// type identity. It reports false when the reference names something
// that does not exist (yet) in the universe.
type Resolver interface {
	Resolve(d *Declaration, ref string) (model.TypeID, bool)
}

// Universe is everything a round can see.
type Universe struct {
	Module   string
	Decls    []*Declaration
	Imports  map[string][]Import
	packages map[string]bool
	byID     map[model.TypeID]*Declaration
	resolver Resolver
}

// Assemble builds a universe. Assertions are attached to the declarations
// they are about. A nil resolver resolves through file imports.
func Assemble(module string, decls []*Declaration, asserts []Assertion, imports map[string][]Import, packages []string, r Resolver) *Universe {
	sort.SliceStable(decls, func(i, j int) bool {
		if decls[i].ID != decls[j].ID {
			return decls[i].ID.Less(decls[j].ID)
		}
		return decls[i].File < decls[j].File
	})
	u := &Universe{
		Module:   module,
		Imports:  imports,
		packages: make(map[string]bool, len(packages)),
		byID:     make(map[model.TypeID]*Declaration, len(decls)),
	}
	for _, p := range packages {
		u.packages[p] = true
	}
	for _, d := range decls {
		if _, dup := u.byID[d.ID]; dup {
			continue
		}
		u.byID[d.ID] = d
		u.Decls = append(u.Decls, d)
	}
	for _, a := range asserts {
		if d, ok := u.byID[model.TypeID{Pkg: a.Pkg, Name: a.Type}]; ok && !IsTop(a.Super) {
			d.Supertypes = appendUnique(d.Supertypes, a.Super)
		}
	}
	u.resolver = r
	if u.resolver == nil {
		u.resolver = importResolver{u}
	}
	return u
}

func appendUnique(list []string, s string) []string {
	for _, x := range list {
		if x == s {
			return list
		}
	}
	return append(list, s)
}

// Lookup finds a declaration by identity.
func (u *Universe) Lookup(id model.TypeID) (*Declaration, bool) {
	d, ok := u.byID[id]
	return d, ok
}

// Contains reports whether pkg belongs to the scanned universe.
func (u *Universe) Contains(pkg string) bool { return u.packages[pkg] }

// Known reports whether id may be referenced: it is declared in the
// universe, or it lives in a package outside it, which is trusted.
func (u *Universe) Known(id model.TypeID) bool {
	if !u.packages[id.Pkg] {
		return true
	}
	_, ok := u.byID[id]
	return ok
}

// Resolve maps ref as written on d to a type identity.
func (u *Universe) Resolve(d *Declaration, ref string) (model.TypeID, bool) {
	return u.resolver.Resolve(d, ref)
}

// Packages returns the sorted packages of the universe.
func (u *Universe) Packages() []string {
	out := make([]string, 0, len(u.packages))
	for p := range u.packages {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

type importResolver struct{ u *Universe }

// Resolve handles the three reference forms: a fully qualified
// "example.com/p.Name", "alias.Name" through the declaring file's imports,
// and a bare "Name" in the declaring package.
func (r importResolver) Resolve(d *Declaration, ref string) (model.TypeID, bool) {
	ref = NormalizeRef(ref)
	if ref == "" || IsTop(ref) {
		return model.TypeID{}, false
	}
	var id model.TypeID
	switch {
	case strings.Contains(ref, "/"):
		var ok bool
		if id, ok = model.ParseTypeID(ref); !ok {
			return model.TypeID{}, false
		}
	case strings.Contains(ref, "."):
		alias, name, _ := strings.Cut(ref, ".")
		pkg, ok := r.importPath(d.File, alias)
		if !ok {
			return model.TypeID{}, false
		}
		id = model.TypeID{Pkg: pkg, Name: name}
	default:
		id = model.TypeID{Pkg: d.ID.Pkg, Name: ref}
	}
	return id, r.u.Known(id)
}

func (r importResolver) importPath(file, alias string) (string, bool) {
	for _, imp := range r.u.Imports[file] {
		if imp.Name == alias {
			return imp.Path, true
		}
	}
	return "", false
}

// NormalizeRef strips a pointer star and whitespace from a reference.
func NormalizeRef(ref string) string {
	ref = strings.TrimSpace(ref)
	ref = strings.TrimPrefix(ref, "*")
	return strings.Join(strings.Fields(ref), "")
}

// IsTop reports whether ref names the universal top type, which never
// counts as a supertype.
func IsTop(ref string) bool {
	switch NormalizeRef(ref) {
	case "any", "interface{}":
		return true
	}
	return false
}

var majorVersion = regexp.MustCompile(`^v[0-9]+$`)

// DefaultImportName guesses the package name of an import path that has
// no explicit local name.
func DefaultImportName(importPath string) string {
	name := path.Base(importPath)
	if majorVersion.MatchString(name) {
		name = path.Base(path.Dir(importPath))
	}
	if i := strings.Index(name, ".v"); i > 0 && majorVersion.MatchString(name[i+1:]) {
		name = name[:i]
	}
	name = strings.TrimPrefix(name, "go-")
	name = strings.TrimSuffix(name, "-go")
	return strings.NewReplacer("-", "", ".", "").Replace(name)
}
