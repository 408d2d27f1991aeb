// Package typescan is the type-checked front end. It loads the module with
// go/packages, feeding files generated by earlier rounds in as an overlay,
// and resolves references through go/types scopes.
package typescan

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/tools/go/packages"

	"github.com/iVampireSP/weave/internal/backend"
	"github.com/iVampireSP/weave/internal/model"
	"github.com/iVampireSP/weave/internal/source"
)

const loadMode = packages.NeedName | packages.NeedFiles | packages.NeedCompiledGoFiles |
	packages.NeedSyntax | packages.NeedTypes | packages.NeedTypesInfo | packages.NeedImports

// Backend loads packages with full type information.
type Backend struct {
	log *zap.Logger
}

// New creates the go/packages backend.
func New(log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	return &Backend{log: log.Named("types")}
}

func (b *Backend) Name() string { return "types" }

// Load type-checks the module. Type errors are expected while generated
// code is still missing, so they are logged rather than returned.
func (b *Backend) Load(ctx context.Context, unit *source.Unit) (*backend.Universe, error) {
	cfg := &packages.Config{
		Context: ctx,
		Mode:    loadMode,
		Dir:     unit.Root,
		Overlay: overlay(unit),
	}
	pkgs, err := packages.Load(cfg, "./...")
	if err != nil {
		return nil, fmt.Errorf("load packages: %w", err)
	}

	inUnit := make(map[string]*source.File, len(unit.Files))
	for _, f := range unit.Files {
		inUnit[f.Path] = f
	}

	res := &resolver{
		packages: make(map[string]*packages.Package),
		files:    make(map[string]fileScope),
		universe: make(map[string]bool),
	}
	for _, p := range unit.Packages() {
		res.universe[p] = true
	}

	var (
		decls   []*backend.Declaration
		asserts []backend.Assertion
		imports = make(map[string][]backend.Import)
	)
	for _, pkg := range pkgs {
		for _, e := range pkg.Errors {
			b.log.Debug("package error", zap.String("pkg", pkg.PkgPath), zap.String("error", e.Error()))
		}
		if pkg.Types == nil || pkg.TypesInfo == nil {
			continue
		}
		res.packages[pkg.PkgPath] = pkg
		syn := typedSyntax{pkg: pkg}
		for i, file := range pkg.Syntax {
			if i >= len(pkg.CompiledGoFiles) {
				break
			}
			f, ok := inUnit[pkg.CompiledGoFiles[i]]
			if !ok {
				continue
			}
			r := backend.WalkFile(pkg.Fset, file, f, syn)
			decls = append(decls, r.Decls...)
			asserts = append(asserts, r.Asserts...)
			imports[f.Path] = r.Imports
			res.files[f.Path] = fileScope{pkg: pkg, file: file}
		}
	}
	b.log.Debug("loaded packages", zap.Int("packages", len(pkgs)), zap.Int("decls", len(decls)))
	return backend.Assemble(unit.Module, decls, asserts, imports, unit.Packages(), res), nil
}

// overlay hands go/packages this run's generated files and blanks out
// stale generated files on disk so they cannot redeclare anything.
func overlay(unit *source.Unit) map[string][]byte {
	out := make(map[string][]byte)
	for _, f := range unit.Stale {
		out[f.Path] = blank(f.Content)
	}
	for p, content := range unit.Overlay() {
		out[p] = content
	}
	return out
}

func blank(content []byte) []byte {
	file, err := parser.ParseFile(token.NewFileSet(), "", content, parser.PackageClauseOnly)
	if err != nil {
		return content
	}
	return []byte(source.GeneratedHeader + "\n\npackage " + file.Name.Name + "\n")
}

type fileScope struct {
	pkg  *packages.Package
	file *ast.File
}

type resolver struct {
	packages map[string]*packages.Package
	files    map[string]fileScope
	universe map[string]bool
}

// Resolve looks references up in the declaring file's scope: imported
// package names for "alias.Name", the package scope for a bare "Name".
func (r *resolver) Resolve(d *backend.Declaration, ref string) (model.TypeID, bool) {
	ref = backend.NormalizeRef(ref)
	if ref == "" || backend.IsTop(ref) {
		return model.TypeID{}, false
	}
	fs, ok := r.files[d.File]
	if !ok {
		return model.TypeID{}, false
	}

	var id model.TypeID
	switch {
	case strings.Contains(ref, "/"):
		if id, ok = model.ParseTypeID(ref); !ok {
			return model.TypeID{}, false
		}
	case strings.Contains(ref, "."):
		alias, name, _ := strings.Cut(ref, ".")
		scope := fs.pkg.TypesInfo.Scopes[fs.file]
		if scope == nil {
			return model.TypeID{}, false
		}
		pn, ok := scope.Lookup(alias).(*types.PkgName)
		if !ok {
			return model.TypeID{}, false
		}
		id = model.TypeID{Pkg: pn.Imported().Path(), Name: name}
	default:
		id = model.TypeID{Pkg: fs.pkg.PkgPath, Name: ref}
	}
	return id, r.exists(id)
}

func (r *resolver) exists(id model.TypeID) bool {
	if !r.universe[id.Pkg] {
		return true
	}
	pkg, ok := r.packages[id.Pkg]
	if !ok {
		return false
	}
	switch pkg.Types.Scope().Lookup(id.Name).(type) {
	case *types.TypeName, *types.Var, *types.Func:
		return true
	}
	return false
}

type typedSyntax struct {
	pkg *packages.Package
}

// SuperRef renders named types as fully qualified references.
func (s typedSyntax) SuperRef(file *ast.File, expr ast.Expr) string {
	t := s.pkg.TypesInfo.TypeOf(expr)
	if t == nil {
		return backend.Syntactic{}.SuperRef(file, expr)
	}
	t = types.Unalias(t)
	if ptr, ok := t.(*types.Pointer); ok {
		t = types.Unalias(ptr.Elem())
	}
	switch t := t.(type) {
	case *types.Named:
		obj := t.Obj()
		if obj.Pkg() == nil {
			return obj.Name()
		}
		return obj.Pkg().Path() + "." + obj.Name()
	case *types.Interface:
		if t.Empty() {
			return "any"
		}
	}
	return backend.Syntactic{}.SuperRef(file, expr)
}

// Asserted accepts the same assertion shapes as the syntactic front end
// and checks the asserted name is a type of this package.
func (s typedSyntax) Asserted(file *ast.File, value ast.Expr) (string, bool) {
	name, ok := backend.Syntactic{}.Asserted(file, value)
	if !ok {
		return "", false
	}
	_, isType := s.pkg.Types.Scope().Lookup(name).(*types.TypeName)
	return name, isType
}

func (s typedSyntax) IsWireSet(file *ast.File, imports []backend.Import, value ast.Expr) bool {
	call, ok := value.(*ast.CallExpr)
	if !ok {
		return false
	}
	sel, ok := call.Fun.(*ast.SelectorExpr)
	if !ok || sel.Sel.Name != "NewSet" {
		return false
	}
	x, ok := sel.X.(*ast.Ident)
	if !ok {
		return false
	}
	if pn, ok := s.pkg.TypesInfo.Uses[x].(*types.PkgName); ok {
		return pn.Imported().Path() == backend.WirePath
	}
	return backend.Syntactic{}.IsWireSet(file, imports, value)
}
